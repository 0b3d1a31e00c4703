// Package merchant manages merchant accounts and their API credentials.
package merchant

import (
	"time"
)

// Merchant is a registered merchant account. Merchants authenticate with API
// keys and may issue pre-verified proofs for purchases they processed.
type Merchant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// APIKey is a credential record. Only the SHA-256 digest of the secret is
// stored; the plaintext exists exactly once, in the issuance response.
type APIKey struct {
	ID         string     `json:"id"`
	MerchantID string     `json:"merchantId"`
	KeyHash    string     `json:"-"`
	Label      string     `json:"label,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	RevokedAt  *time.Time `json:"revokedAt,omitempty"`
}

// Active reports whether the key can still authenticate requests.
func (k *APIKey) Active() bool {
	return k.RevokedAt == nil
}
