package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/receiptless/receiptless/internal/tracing"
)

// PostgresRepository implements Repository against the audit_events table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a Postgres-backed journal.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Append records a single event.
func (r *PostgresRepository) Append(ctx context.Context, entry Entry) (*Event, error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "audit_events", tracing.DBOperationInsert)
	event, err := InsertEvent(ctx, r.db, entry)
	endSpan(err)
	return event, err
}

// ListForProof returns all events for a proof in ascending insertion order.
func (r *PostgresRepository) ListForProof(ctx context.Context, proofID string) ([]*Event, error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "audit_events", tracing.DBOperationQuery)
	defer func() { endSpan(nil) }()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, proof_id, kind, meta, created_at
		FROM audit_events
		WHERE proof_id = $1
		ORDER BY id ASC`, proofID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// Recent returns the newest events across all proofs, newest first.
func (r *PostgresRepository) Recent(ctx context.Context, limit int) ([]*Event, error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "audit_events", tracing.DBOperationQuery)
	defer func() { endSpan(nil) }()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, proof_id, kind, meta, created_at
		FROM audit_events
		ORDER BY id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent audit events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// execer covers *sql.DB and *sql.Tx so event inserts can join an enclosing
// transaction.
type execer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// InsertEvent appends one event using the given DB handle or transaction.
// The proof repository calls this with its own *sql.Tx so the audit write
// shares the state mutation's commit boundary.
func InsertEvent(ctx context.Context, q execer, entry Entry) (*Event, error) {
	var metaJSON any
	if entry.Meta != nil {
		data, err := json.Marshal(entry.Meta)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal event meta: %w", err)
		}
		metaJSON = data
	}

	event := &Event{
		ProofID: entry.ProofID,
		Kind:    entry.Kind,
		Meta:    entry.Meta,
	}
	err := q.QueryRowContext(ctx, `
		INSERT INTO audit_events (proof_id, kind, meta)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		entry.ProofID, entry.Kind, metaJSON,
	).Scan(&event.ID, &event.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert audit event: %w", err)
	}
	return event, nil
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var results []*Event
	for rows.Next() {
		var (
			event    Event
			metaJSON sql.NullString
		)
		if err := rows.Scan(&event.ID, &event.ProofID, &event.Kind, &metaJSON, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		if metaJSON.Valid && metaJSON.String != "" {
			if err := json.Unmarshal([]byte(metaJSON.String), &event.Meta); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event meta: %w", err)
			}
		}
		results = append(results, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit events: %w", err)
	}
	return results, nil
}
