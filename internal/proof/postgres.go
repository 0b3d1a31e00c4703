package proof

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/receiptless/receiptless/internal/audit"
	"github.com/receiptless/receiptless/internal/tracing"
)

// proofColumns is the canonical column list scanned by every read.
const proofColumns = `public_id, merchant, item, proof_hash, status,
	evidence_path, evidence_mime, evidence_uploaded_at,
	verified_at, rejected_at, rejection_reason,
	issuer_type, merchant_id, created_at`

// PostgresRepository implements Repository against the proofs and
// audit_events tables. Each mutating method runs one transaction covering
// both the proof row and its audit events.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRepository creates a Postgres-backed proof repository.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{db: db, logger: logger}
}

// Insert stores a new proof and its creation events in one transaction.
func (r *PostgresRepository) Insert(ctx context.Context, p *Proof, events []audit.Entry) error {
	ctx, endSpan := tracing.StartDBSpan(ctx, "proofs", tracing.DBOperationInsert)
	err := r.insert(ctx, p, events)
	endSpan(err)
	return err
}

func (r *PostgresRepository) insert(ctx context.Context, p *Proof, events []audit.Entry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx, r.logger)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO proofs (public_id, merchant, item, proof_hash, status,
			verified_at, issuer_type, merchant_id, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, NULLIF($8, ''), $9)`,
		p.PublicID, p.Merchant, p.Item, p.ProofHash, string(p.Status),
		p.VerifiedAt, string(p.IssuerType), p.MerchantID, p.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return ErrDuplicatePublicID
		}
		return fmt.Errorf("failed to insert proof: %w", err)
	}

	for _, e := range events {
		if _, err := audit.InsertEvent(ctx, tx, e); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// GetByPublicID returns the proof or ErrNotFound.
func (r *PostgresRepository) GetByPublicID(ctx context.Context, publicID string) (*Proof, error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "proofs", tracing.DBOperationQuery)
	p, err := scanProof(r.db.QueryRowContext(ctx,
		`SELECT `+proofColumns+` FROM proofs WHERE public_id = $1`, publicID))
	endSpan(err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// AttachEvidence moves the proof to pending unconditionally and voids any
// prior verdict. COALESCE keeps the first upload timestamp across
// re-submissions.
func (r *PostgresRepository) AttachEvidence(ctx context.Context, publicID string, ev Evidence, now time.Time, event audit.Entry) (*Proof, error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "proofs", tracing.DBOperationUpdate)
	p, err := r.mutate(ctx, event, func(tx *sql.Tx) (*Proof, error) {
		p, err := scanProof(tx.QueryRowContext(ctx, `
			UPDATE proofs
			SET status = 'pending',
				evidence_path = $2,
				evidence_mime = $3,
				evidence_uploaded_at = COALESCE(evidence_uploaded_at, $4),
				verified_at = NULL,
				rejected_at = NULL,
				rejection_reason = NULL
			WHERE public_id = $1
			RETURNING `+proofColumns,
			publicID, ev.Path, ev.MIME, now))
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return p, err
	})
	endSpan(err)
	return p, err
}

// Verify transitions pending -> verified. The guard and the mutation are one
// conditional UPDATE: a row is changed only when the stored status is still
// pending, so concurrent reviewers cannot both win.
func (r *PostgresRepository) Verify(ctx context.Context, publicID string, now time.Time, event audit.Entry) (*Proof, error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "proofs", tracing.DBOperationUpdate)
	p, err := r.mutate(ctx, event, func(tx *sql.Tx) (*Proof, error) {
		p, err := scanProof(tx.QueryRowContext(ctx, `
			UPDATE proofs
			SET status = 'verified',
				verified_at = $2,
				rejected_at = NULL,
				rejection_reason = NULL
			WHERE public_id = $1 AND status = 'pending'
			RETURNING `+proofColumns,
			publicID, now))
		if errors.Is(err, sql.ErrNoRows) {
			return nil, r.transitionFailure(ctx, tx, publicID, "verify")
		}
		return p, err
	})
	endSpan(err)
	return p, err
}

// Reject transitions pending -> rejected. Guarded as Verify.
func (r *PostgresRepository) Reject(ctx context.Context, publicID, reason string, now time.Time, event audit.Entry) (*Proof, error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "proofs", tracing.DBOperationUpdate)
	p, err := r.mutate(ctx, event, func(tx *sql.Tx) (*Proof, error) {
		p, err := scanProof(tx.QueryRowContext(ctx, `
			UPDATE proofs
			SET status = 'rejected',
				rejected_at = $2,
				rejection_reason = $3,
				verified_at = NULL
			WHERE public_id = $1 AND status = 'pending'
			RETURNING `+proofColumns,
			publicID, now, reason))
		if errors.Is(err, sql.ErrNoRows) {
			return nil, r.transitionFailure(ctx, tx, publicID, "reject")
		}
		return p, err
	})
	endSpan(err)
	return p, err
}

// mutate runs fn and the audit append in one transaction. A failure in
// either rolls back both.
func (r *PostgresRepository) mutate(ctx context.Context, event audit.Entry, fn func(tx *sql.Tx) (*Proof, error)) (*Proof, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx, r.logger)

	p, err := fn(tx)
	if err != nil {
		return nil, err
	}

	if _, err := audit.InsertEvent(ctx, tx, event); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return p, nil
}

// transitionFailure distinguishes an unknown proof from a guard miss after a
// conditional update changed no rows.
func (r *PostgresRepository) transitionFailure(ctx context.Context, tx *sql.Tx, publicID, action string) error {
	var current string
	err := tx.QueryRowContext(ctx, `SELECT status FROM proofs WHERE public_id = $1`, publicID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read current status: %w", err)
	}
	return &IllegalTransitionError{Action: action, Current: Status(current)}
}

func rollback(tx *sql.Tx, logger *slog.Logger) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		logger.Warn("failed to rollback transaction", slog.String("error", err.Error()))
	}
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanProof(row rowScanner) (*Proof, error) {
	var (
		p                  Proof
		item               sql.NullString
		evidencePath       sql.NullString
		evidenceMIME       sql.NullString
		evidenceUploadedAt sql.NullTime
		verifiedAt         sql.NullTime
		rejectedAt         sql.NullTime
		rejectionReason    sql.NullString
		merchantID         sql.NullString
		status             string
		issuerType         string
	)

	err := row.Scan(&p.PublicID, &p.Merchant, &item, &p.ProofHash, &status,
		&evidencePath, &evidenceMIME, &evidenceUploadedAt,
		&verifiedAt, &rejectedAt, &rejectionReason,
		&issuerType, &merchantID, &p.CreatedAt)
	if err != nil {
		return nil, err
	}

	p.Status = Status(status)
	p.IssuerType = IssuerType(issuerType)
	p.Item = item.String
	p.EvidencePath = evidencePath.String
	p.EvidenceMIME = evidenceMIME.String
	p.RejectionReason = rejectionReason.String
	p.MerchantID = merchantID.String
	if evidenceUploadedAt.Valid {
		t := evidenceUploadedAt.Time
		p.EvidenceUploadedAt = &t
	}
	if verifiedAt.Valid {
		t := verifiedAt.Time
		p.VerifiedAt = &t
	}
	if rejectedAt.Valid {
		t := rejectedAt.Time
		p.RejectedAt = &t
	}
	return &p, nil
}
