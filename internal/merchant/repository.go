package merchant

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// Storage errors.
var (
	ErrMerchantNotFound = errors.New("merchant not found")
	ErrKeyNotFound      = errors.New("API key not found")
	ErrDuplicateKeyHash = errors.New("key hash already exists")
)

// Repository persists merchants and their API keys.
type Repository interface {
	// CreateMerchant stores a new merchant.
	CreateMerchant(ctx context.Context, m *Merchant) error

	// GetMerchant returns the merchant or ErrMerchantNotFound.
	GetMerchant(ctx context.Context, id string) (*Merchant, error)

	// ListMerchants returns all merchants ordered by creation time.
	ListMerchants(ctx context.Context) ([]*Merchant, error)

	// CreateKey stores a new API key record.
	CreateKey(ctx context.Context, k *APIKey) error

	// GetKeyByHash returns the key matching the digest, revoked or not.
	// Returns ErrKeyNotFound when no key has that digest.
	GetKeyByHash(ctx context.Context, keyHash string) (*APIKey, error)

	// ListKeys returns all keys for a merchant ordered by creation time.
	ListKeys(ctx context.Context, merchantID string) ([]*APIKey, error)

	// RevokeKey marks the key revoked at the given time if it is not already.
	// Returns the up-to-date record and whether it was already revoked.
	// Revoking an already-revoked key does not move its RevokedAt.
	RevokeKey(ctx context.Context, keyID string, at time.Time) (*APIKey, bool, error)
}

// InMemoryRepository implements Repository with in-memory storage.
// Used for testing and development. Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu        sync.RWMutex
	merchants map[string]*Merchant
	keys      map[string]*APIKey // by key ID
	keyHashes map[string]string  // digest -> key ID
}

// NewInMemoryRepository creates an empty in-memory merchant store.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		merchants: make(map[string]*Merchant),
		keys:      make(map[string]*APIKey),
		keyHashes: make(map[string]string),
	}
}

// CreateMerchant stores a new merchant.
func (r *InMemoryRepository) CreateMerchant(ctx context.Context, m *Merchant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *m
	r.merchants[m.ID] = &copied
	return nil
}

// GetMerchant returns the merchant or ErrMerchantNotFound.
func (r *InMemoryRepository) GetMerchant(ctx context.Context, id string) (*Merchant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.merchants[id]
	if !ok {
		return nil, ErrMerchantNotFound
	}
	copied := *m
	return &copied, nil
}

// ListMerchants returns all merchants ordered by creation time.
func (r *InMemoryRepository) ListMerchants(ctx context.Context) ([]*Merchant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	results := make([]*Merchant, 0, len(r.merchants))
	for _, m := range r.merchants {
		copied := *m
		results = append(results, &copied)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].ID < results[j].ID
		}
		return results[i].CreatedAt.Before(results[j].CreatedAt)
	})
	return results, nil
}

// CreateKey stores a new API key record.
func (r *InMemoryRepository) CreateKey(ctx context.Context, k *APIKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.keyHashes[k.KeyHash]; exists {
		return ErrDuplicateKeyHash
	}

	copied := *k
	r.keys[k.ID] = &copied
	r.keyHashes[k.KeyHash] = k.ID
	return nil
}

// GetKeyByHash returns the key matching the digest, revoked or not.
func (r *InMemoryRepository) GetKeyByHash(ctx context.Context, keyHash string) (*APIKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.keyHashes[keyHash]
	if !ok {
		return nil, ErrKeyNotFound
	}
	copied := *r.keys[id]
	return &copied, nil
}

// ListKeys returns all keys for a merchant ordered by creation time.
func (r *InMemoryRepository) ListKeys(ctx context.Context, merchantID string) ([]*APIKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*APIKey
	for _, k := range r.keys {
		if k.MerchantID == merchantID {
			copied := *k
			results = append(results, &copied)
		}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].ID < results[j].ID
		}
		return results[i].CreatedAt.Before(results[j].CreatedAt)
	})
	return results, nil
}

// RevokeKey marks the key revoked if it is not already.
func (r *InMemoryRepository) RevokeKey(ctx context.Context, keyID string, at time.Time) (*APIKey, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k, ok := r.keys[keyID]
	if !ok {
		return nil, false, ErrKeyNotFound
	}
	if k.RevokedAt != nil {
		copied := *k
		return &copied, true, nil
	}

	revokedAt := at
	k.RevokedAt = &revokedAt
	copied := *k
	return &copied, false, nil
}
