package proof

import (
	"context"
	"sync"
	"time"

	"github.com/receiptless/receiptless/internal/audit"
)

// Repository persists proof records together with their audit events.
//
// Every method that mutates a proof takes the audit entries for that mutation
// and commits both as one failure-atomic unit: if the event write fails the
// state change must not become visible, and vice versa. Transition guards
// (Verify, Reject) are a single atomic conditional update, never a read
// followed by a separate write.
type Repository interface {
	// Insert stores a new proof and its creation events. The public ID must
	// be unique.
	Insert(ctx context.Context, p *Proof, events []audit.Entry) error

	// GetByPublicID returns the proof or ErrNotFound.
	GetByPublicID(ctx context.Context, publicID string) (*Proof, error)

	// AttachEvidence moves the proof to pending unconditionally, records the
	// evidence reference, and voids any prior verdict. The first upload
	// timestamp is preserved across re-submissions.
	AttachEvidence(ctx context.Context, publicID string, ev Evidence, now time.Time, event audit.Entry) (*Proof, error)

	// Verify transitions pending -> verified. Returns ErrNotFound for an
	// unknown ID and IllegalTransitionError when the proof is not pending.
	Verify(ctx context.Context, publicID string, now time.Time, event audit.Entry) (*Proof, error)

	// Reject transitions pending -> rejected with the given reason. Guards
	// as Verify.
	Reject(ctx context.Context, publicID, reason string, now time.Time, event audit.Entry) (*Proof, error)
}

// journalAppender is the slice of the audit repository the proof store
// needs. Narrowed to an interface so append failures can be exercised.
type journalAppender interface {
	Append(ctx context.Context, entry audit.Entry) (*audit.Event, error)
}

// InMemoryRepository implements Repository with in-memory storage. Used for
// testing and development. A single mutex covers the guard check, the
// mutation and the journal append, so transitions on one proof are
// linearizable exactly as in the Postgres implementation. Mutations are
// applied to a copy and swapped in only after the journal append succeeds,
// keeping the failure-atomicity contract.
type InMemoryRepository struct {
	mu      sync.Mutex
	proofs  map[string]*Proof
	journal journalAppender
}

// NewInMemoryRepository creates an in-memory proof repository writing events
// to the given journal.
func NewInMemoryRepository(journal *audit.InMemoryRepository) *InMemoryRepository {
	return &InMemoryRepository{
		proofs:  make(map[string]*Proof),
		journal: journal,
	}
}

// Insert stores a new proof and its creation events.
func (r *InMemoryRepository) Insert(ctx context.Context, p *Proof, events []audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.proofs[p.PublicID]; exists {
		return ErrDuplicatePublicID
	}

	copied := *p
	r.proofs[p.PublicID] = &copied

	for _, e := range events {
		if _, err := r.journal.Append(ctx, e); err != nil {
			delete(r.proofs, p.PublicID)
			return err
		}
	}
	return nil
}

// GetByPublicID returns the proof or ErrNotFound.
func (r *InMemoryRepository) GetByPublicID(ctx context.Context, publicID string) (*Proof, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.proofs[publicID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *p
	return &copied, nil
}

// AttachEvidence moves the proof to pending and voids any prior verdict.
func (r *InMemoryRepository) AttachEvidence(ctx context.Context, publicID string, ev Evidence, now time.Time, event audit.Entry) (*Proof, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.proofs[publicID]
	if !ok {
		return nil, ErrNotFound
	}

	updated := *p
	updated.Status = StatusPending
	updated.EvidencePath = ev.Path
	updated.EvidenceMIME = ev.MIME
	if updated.EvidenceUploadedAt == nil {
		uploadedAt := now
		updated.EvidenceUploadedAt = &uploadedAt
	}
	// A re-review starts from a clean slate
	updated.VerifiedAt = nil
	updated.RejectedAt = nil
	updated.RejectionReason = ""

	if _, err := r.journal.Append(ctx, event); err != nil {
		return nil, err
	}
	r.proofs[publicID] = &updated

	copied := updated
	return &copied, nil
}

// Verify transitions pending -> verified.
func (r *InMemoryRepository) Verify(ctx context.Context, publicID string, now time.Time, event audit.Entry) (*Proof, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.proofs[publicID]
	if !ok {
		return nil, ErrNotFound
	}
	if p.Status != StatusPending {
		return nil, &IllegalTransitionError{Action: "verify", Current: p.Status}
	}

	verifiedAt := now
	updated := *p
	updated.Status = StatusVerified
	updated.VerifiedAt = &verifiedAt
	updated.RejectedAt = nil
	updated.RejectionReason = ""

	if _, err := r.journal.Append(ctx, event); err != nil {
		return nil, err
	}
	r.proofs[publicID] = &updated

	copied := updated
	return &copied, nil
}

// Reject transitions pending -> rejected.
func (r *InMemoryRepository) Reject(ctx context.Context, publicID, reason string, now time.Time, event audit.Entry) (*Proof, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.proofs[publicID]
	if !ok {
		return nil, ErrNotFound
	}
	if p.Status != StatusPending {
		return nil, &IllegalTransitionError{Action: "reject", Current: p.Status}
	}

	rejectedAt := now
	updated := *p
	updated.Status = StatusRejected
	updated.RejectedAt = &rejectedAt
	updated.RejectionReason = reason
	updated.VerifiedAt = nil

	if _, err := r.journal.Append(ctx, event); err != nil {
		return nil, err
	}
	r.proofs[publicID] = &updated

	copied := updated
	return &copied, nil
}
