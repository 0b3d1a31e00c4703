package merchant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/receiptless/receiptless/internal/tracing"
)

// PostgresRepository implements Repository against the merchants and
// merchant_api_keys tables.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a Postgres-backed merchant repository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateMerchant stores a new merchant.
func (r *PostgresRepository) CreateMerchant(ctx context.Context, m *Merchant) error {
	ctx, endSpan := tracing.StartDBSpan(ctx, "merchants", tracing.DBOperationInsert)
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO merchants (id, name, created_at) VALUES ($1, $2, $3)`,
		m.ID, m.Name, m.CreatedAt)
	endSpan(err)
	if err != nil {
		return fmt.Errorf("failed to insert merchant: %w", err)
	}
	return nil
}

// GetMerchant returns the merchant or ErrMerchantNotFound.
func (r *PostgresRepository) GetMerchant(ctx context.Context, id string) (*Merchant, error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "merchants", tracing.DBOperationQuery)
	var m Merchant
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM merchants WHERE id = $1`, id).
		Scan(&m.ID, &m.Name, &m.CreatedAt)
	endSpan(err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMerchantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query merchant: %w", err)
	}
	return &m, nil
}

// ListMerchants returns all merchants ordered by creation time.
func (r *PostgresRepository) ListMerchants(ctx context.Context) ([]*Merchant, error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "merchants", tracing.DBOperationQuery)
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, created_at FROM merchants ORDER BY created_at, id`)
	endSpan(err)
	if err != nil {
		return nil, fmt.Errorf("failed to list merchants: %w", err)
	}
	defer rows.Close()

	var results []*Merchant
	for rows.Next() {
		var m Merchant
		if err := rows.Scan(&m.ID, &m.Name, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan merchant: %w", err)
		}
		results = append(results, &m)
	}
	return results, rows.Err()
}

// CreateKey stores a new API key record.
func (r *PostgresRepository) CreateKey(ctx context.Context, k *APIKey) error {
	ctx, endSpan := tracing.StartDBSpan(ctx, "merchant_api_keys", tracing.DBOperationInsert)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO merchant_api_keys (id, merchant_id, key_hash, label, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)`,
		k.ID, k.MerchantID, k.KeyHash, k.Label, k.CreatedAt)
	endSpan(err)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return ErrDuplicateKeyHash
		}
		return fmt.Errorf("failed to insert API key: %w", err)
	}
	return nil
}

// GetKeyByHash returns the key matching the digest, revoked or not.
func (r *PostgresRepository) GetKeyByHash(ctx context.Context, keyHash string) (*APIKey, error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "merchant_api_keys", tracing.DBOperationQuery)
	k, err := scanKey(r.db.QueryRowContext(ctx, `
		SELECT id, merchant_id, key_hash, label, created_at, revoked_at
		FROM merchant_api_keys WHERE key_hash = $1`, keyHash))
	endSpan(err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	return k, err
}

// ListKeys returns all keys for a merchant ordered by creation time.
func (r *PostgresRepository) ListKeys(ctx context.Context, merchantID string) ([]*APIKey, error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "merchant_api_keys", tracing.DBOperationQuery)
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, merchant_id, key_hash, label, created_at, revoked_at
		FROM merchant_api_keys WHERE merchant_id = $1
		ORDER BY created_at, id`, merchantID)
	endSpan(err)
	if err != nil {
		return nil, fmt.Errorf("failed to list API keys: %w", err)
	}
	defer rows.Close()

	var results []*APIKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan API key: %w", err)
		}
		results = append(results, k)
	}
	return results, rows.Err()
}

// RevokeKey marks the key revoked if it is not already. The conditional
// UPDATE makes repeat revocations no-ops that keep the original timestamp.
func (r *PostgresRepository) RevokeKey(ctx context.Context, keyID string, at time.Time) (*APIKey, bool, error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "merchant_api_keys", tracing.DBOperationUpdate)
	k, alreadyRevoked, err := r.revokeKey(ctx, keyID, at)
	endSpan(err)
	return k, alreadyRevoked, err
}

func (r *PostgresRepository) revokeKey(ctx context.Context, keyID string, at time.Time) (*APIKey, bool, error) {
	k, err := scanKey(r.db.QueryRowContext(ctx, `
		UPDATE merchant_api_keys SET revoked_at = $2
		WHERE id = $1 AND revoked_at IS NULL
		RETURNING id, merchant_id, key_hash, label, created_at, revoked_at`,
		keyID, at))
	if err == nil {
		return k, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to revoke API key: %w", err)
	}

	// No row changed: either unknown or already revoked.
	k, err = scanKey(r.db.QueryRowContext(ctx, `
		SELECT id, merchant_id, key_hash, label, created_at, revoked_at
		FROM merchant_api_keys WHERE id = $1`, keyID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, ErrKeyNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to query API key: %w", err)
	}
	return k, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKey(row rowScanner) (*APIKey, error) {
	var (
		k         APIKey
		label     sql.NullString
		revokedAt sql.NullTime
	)
	if err := row.Scan(&k.ID, &k.MerchantID, &k.KeyHash, &label, &k.CreatedAt, &revokedAt); err != nil {
		return nil, err
	}
	k.Label = label.String
	if revokedAt.Valid {
		t := revokedAt.Time
		k.RevokedAt = &t
	}
	return &k, nil
}
