package merchant

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SecretPrefix marks issued secrets so leaked values are recognizable in
// scanners and logs.
const SecretPrefix = "rl_"

// secretEntropyBytes is the random payload per secret: 24 bytes, 48 hex chars.
const secretEntropyBytes = 24

// ErrInvalidCredential is returned for any secret that does not resolve to an
// active key. Unknown and revoked secrets are deliberately indistinguishable
// to the caller.
var ErrInvalidCredential = errors.New("invalid API credential")

// ErrNameRequired is returned when registering a merchant without a name.
var ErrNameRequired = errors.New("merchant name is required")

// IssuedKey is the one-time issuance result. Secret is never persisted and
// never retrievable again.
type IssuedKey struct {
	Key    *APIKey
	Secret string
}

// RevocationResult reports a revocation outcome. AlreadyRevoked
// distinguishes a repeat call from the first, both of which succeed.
type RevocationResult struct {
	Key            *APIKey
	AlreadyRevoked bool
}

// Authority issues, revokes and resolves merchant API credentials.
type Authority struct {
	repo    Repository
	logger  *slog.Logger
	timeNow func() time.Time
}

// NewAuthority creates a credential authority over the given store.
func NewAuthority(repo Repository, logger *slog.Logger) *Authority {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authority{repo: repo, logger: logger, timeNow: time.Now}
}

// GenerateSecret produces a new plaintext API secret.
func GenerateSecret() (string, error) {
	buf := make([]byte, secretEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return SecretPrefix + hex.EncodeToString(buf), nil
}

// DigestSecret computes the stored digest of a plaintext secret. One-way:
// the store never holds enough to reconstruct the secret.
func DigestSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// RegisterMerchant creates a new merchant account.
func (a *Authority) RegisterMerchant(ctx context.Context, name string) (*Merchant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNameRequired
	}

	m := &Merchant{
		ID:        "merch_" + uuid.New().String(),
		Name:      name,
		CreatedAt: a.timeNow().UTC(),
	}
	if err := a.repo.CreateMerchant(ctx, m); err != nil {
		return nil, err
	}

	a.logger.Info("merchant registered", slog.String("merchant_id", m.ID), slog.String("name", name))
	return m, nil
}

// IssueKey mints a credential for an existing merchant. The plaintext secret
// appears only in the returned IssuedKey.
func (a *Authority) IssueKey(ctx context.Context, merchantID, label string) (*IssuedKey, error) {
	if _, err := a.repo.GetMerchant(ctx, merchantID); err != nil {
		return nil, err
	}

	secret, err := GenerateSecret()
	if err != nil {
		return nil, err
	}

	key := &APIKey{
		ID:         "key_" + uuid.New().String(),
		MerchantID: merchantID,
		KeyHash:    DigestSecret(secret),
		Label:      strings.TrimSpace(label),
		CreatedAt:  a.timeNow().UTC(),
	}
	if err := a.repo.CreateKey(ctx, key); err != nil {
		return nil, err
	}

	a.logger.Info("API key issued",
		slog.String("merchant_id", merchantID),
		slog.String("key_id", key.ID),
	)
	return &IssuedKey{Key: key, Secret: secret}, nil
}

// RevokeKey revokes a credential. Idempotent: revoking an already-revoked
// key succeeds, reports AlreadyRevoked and keeps the original timestamp.
func (a *Authority) RevokeKey(ctx context.Context, keyID string) (*RevocationResult, error) {
	key, alreadyRevoked, err := a.repo.RevokeKey(ctx, keyID, a.timeNow().UTC())
	if err != nil {
		return nil, err
	}

	if !alreadyRevoked {
		a.logger.Info("API key revoked",
			slog.String("merchant_id", key.MerchantID),
			slog.String("key_id", key.ID),
		)
	}
	return &RevocationResult{Key: key, AlreadyRevoked: alreadyRevoked}, nil
}

// Resolve authenticates a plaintext secret and returns the owning merchant.
// Missing, unknown and revoked credentials all yield ErrInvalidCredential.
func (a *Authority) Resolve(ctx context.Context, secret string) (*Merchant, error) {
	if secret == "" {
		return nil, ErrInvalidCredential
	}

	key, err := a.repo.GetKeyByHash(ctx, DigestSecret(secret))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, ErrInvalidCredential
	}
	if err != nil {
		return nil, err
	}
	if !key.Active() {
		return nil, ErrInvalidCredential
	}

	m, err := a.repo.GetMerchant(ctx, key.MerchantID)
	if errors.Is(err, ErrMerchantNotFound) {
		return nil, ErrInvalidCredential
	}
	return m, err
}

// ListMerchants returns all merchants.
func (a *Authority) ListMerchants(ctx context.Context) ([]*Merchant, error) {
	return a.repo.ListMerchants(ctx)
}

// ListKeys returns all keys for a merchant, the merchant must exist.
func (a *Authority) ListKeys(ctx context.Context, merchantID string) ([]*APIKey, error) {
	if _, err := a.repo.GetMerchant(ctx, merchantID); err != nil {
		return nil, err
	}
	return a.repo.ListKeys(ctx, merchantID)
}
