package proof

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"
)

// fingerprintTimeLayout keeps millisecond precision so creations with
// identical merchant and reference still diverge within the same second.
const fingerprintTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Fingerprint derives the proofHash recorded at creation. The reference is
// hashed before being folded in, so the raw value is never persisted and the
// result is a one-way display label, not a re-verifiable commitment.
//
// Layout: sha256(merchant + hex(sha256(reference)) + createdAt UTC with
// millisecond precision).
func Fingerprint(merchant, reference string, createdAt time.Time) string {
	referenceDigest := sha256Hex(reference)
	return sha256Hex(merchant + referenceDigest + createdAt.UTC().Format(fingerprintTimeLayout))
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// publicIDAlphabet excludes nothing: public IDs are case-sensitive
// alphanumerics, URL-safe without escaping.
const publicIDAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// NewPublicID generates a random public identifier of the given length using
// crypto/rand. Uniqueness is enforced by the storage layer's UNIQUE
// constraint; at the default length of 6 the space is 62^6 (~57 billion).
func NewPublicID(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("public ID length must be positive, got %d", length)
	}

	alphabetSize := big.NewInt(int64(len(publicIDAlphabet)))
	id := make([]byte, length)
	for i := range id {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		id[i] = publicIDAlphabet[n.Int64()]
	}
	return string(id), nil
}
