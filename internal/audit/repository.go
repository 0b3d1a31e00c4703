package audit

import (
	"context"
	"sync"
	"time"
)

// Repository defines read and append access to the journal. There is no
// update or delete operation; entries are immutable once written.
//
// Proof state transitions do NOT go through Append: the proof repository
// writes their events inside the same transaction as the state mutation so
// the two commit or fail as one unit. Append exists for events that have no
// accompanying proof mutation.
type Repository interface {
	// Append records a single event and returns the stored entry.
	Append(ctx context.Context, entry Entry) (*Event, error)

	// ListForProof returns all events for a proof in ascending insertion order.
	ListForProof(ctx context.Context, proofID string) ([]*Event, error)

	// Recent returns the newest events across all proofs, newest first.
	// Limit must be > 0.
	Recent(ctx context.Context, limit int) ([]*Event, error)
}

// InMemoryRepository is an in-memory implementation of Repository.
// Used for testing and development. Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu     sync.RWMutex
	events []*Event
	nextID int64
}

// NewInMemoryRepository creates a new in-memory journal.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{nextID: 1}
}

// Append records a single event.
func (r *InMemoryRepository) Append(ctx context.Context, entry Entry) (*Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.appendLocked(entry, time.Now().UTC()), nil
}

func (r *InMemoryRepository) appendLocked(entry Entry, at time.Time) *Event {
	event := &Event{
		ID:        r.nextID,
		ProofID:   entry.ProofID,
		Kind:      entry.Kind,
		Meta:      copyMeta(entry.Meta),
		CreatedAt: at,
	}
	r.nextID++
	r.events = append(r.events, event)
	return event
}

// ListForProof returns all events for a proof in ascending insertion order.
func (r *InMemoryRepository) ListForProof(ctx context.Context, proofID string) ([]*Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*Event
	for _, e := range r.events {
		if e.ProofID == proofID {
			copied := *e
			copied.Meta = copyMeta(e.Meta)
			results = append(results, &copied)
		}
	}
	return results, nil
}

// Recent returns the newest events across all proofs, newest first.
func (r *InMemoryRepository) Recent(ctx context.Context, limit int) ([]*Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*Event
	for i := len(r.events) - 1; i >= 0 && len(results) < limit; i-- {
		copied := *r.events[i]
		copied.Meta = copyMeta(r.events[i].Meta)
		results = append(results, &copied)
	}
	return results, nil
}

func copyMeta(meta map[string]string) map[string]string {
	if meta == nil {
		return nil
	}
	copied := make(map[string]string, len(meta))
	for k, v := range meta {
		copied[k] = v
	}
	return copied
}
