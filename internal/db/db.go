// Package db provides database connection handling and schema migrations.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq" // postgres driver
)

// Connection pool settings.
const (
	MaxOpenConns    = 25
	MaxIdleConns    = 5
	ConnMaxLifetime = 5 * time.Minute
)

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(MaxOpenConns)
	conn.SetMaxIdleConns(MaxIdleConns)
	conn.SetConnMaxLifetime(ConnMaxLifetime)

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return conn, nil
}

// Migration is a single schema change applied exactly once, in order.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Migrations is the ordered, append-only list of schema changes.
// Never edit or reorder an applied entry; add a new one instead.
var Migrations = []Migration{
	{
		Version: 1,
		Name:    "create_proofs",
		SQL: `CREATE TABLE IF NOT EXISTS proofs (
			id BIGSERIAL PRIMARY KEY,
			public_id TEXT UNIQUE NOT NULL,
			merchant TEXT NOT NULL,
			item TEXT,
			proof_hash TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'issued',
			evidence_path TEXT,
			evidence_mime TEXT,
			evidence_uploaded_at TIMESTAMPTZ,
			verified_at TIMESTAMPTZ,
			rejected_at TIMESTAMPTZ,
			rejection_reason TEXT,
			issuer_type TEXT NOT NULL DEFAULT 'user',
			merchant_id TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	},
	{
		Version: 2,
		Name:    "create_audit_events",
		SQL: `CREATE TABLE IF NOT EXISTS audit_events (
			id BIGSERIAL PRIMARY KEY,
			proof_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			meta JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	},
	{
		Version: 3,
		Name:    "create_merchants",
		SQL: `CREATE TABLE IF NOT EXISTS merchants (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	},
	{
		Version: 4,
		Name:    "create_merchant_api_keys",
		SQL: `CREATE TABLE IF NOT EXISTS merchant_api_keys (
			id TEXT PRIMARY KEY,
			merchant_id TEXT NOT NULL REFERENCES merchants(id),
			key_hash TEXT UNIQUE NOT NULL,
			label TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			revoked_at TIMESTAMPTZ
		)`,
	},
	{
		Version: 5,
		Name:    "index_audit_events_proof_id",
		SQL:     `CREATE INDEX IF NOT EXISTS idx_audit_events_proof_id ON audit_events (proof_id, id)`,
	},
	{
		Version: 6,
		Name:    "index_merchant_api_keys_merchant_id",
		SQL:     `CREATE INDEX IF NOT EXISTS idx_merchant_api_keys_merchant_id ON merchant_api_keys (merchant_id)`,
	},
}

// Migrate applies all pending migrations in order. Each migration runs in its
// own transaction together with the schema_migrations bookkeeping row, so a
// failed migration leaves the recorded version consistent with the schema.
func Migrate(ctx context.Context, conn *sql.DB, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	_, err := conn.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	var current int
	err = conn.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, m := range Migrations {
		if m.Version <= current {
			continue
		}
		if err := applyMigration(ctx, conn, m); err != nil {
			return err
		}
		logger.Info("applied migration",
			slog.Int("version", m.Version),
			slog.String("name", m.Name))
	}

	return nil
}

func applyMigration(ctx context.Context, conn *sql.DB, m Migration) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration %d: %w", m.Version, err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			slog.Warn("failed to rollback migration transaction",
				slog.Int("version", m.Version),
				slog.String("error", err.Error()))
		}
	}()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Name, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name); err != nil {
		return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
	}
	return nil
}
