package service

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// SchemaBootstrap creates the ledger tables on startup so a fresh
// database comes up without a separate migration step. Every statement
// is idempotent; running it against an initialized database is a no-op.
type SchemaBootstrap struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewSchemaBootstrap(db *pgxpool.Pool, logger *zap.Logger) *SchemaBootstrap {
	return &SchemaBootstrap{db: db, logger: logger}
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS wallets (
		id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		user_id     TEXT NOT NULL,
		role        TEXT NOT NULL,
		balance     NUMERIC(20,2) NOT NULL DEFAULT 0,
		currency    TEXT NOT NULL,
		status      TEXT NOT NULL DEFAULT 'active',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (user_id, role)
	)`,

	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id              UUID PRIMARY KEY,
		wallet_id       UUID NOT NULL REFERENCES wallets(id),
		user_id         TEXT NOT NULL,
		direction       TEXT NOT NULL,
		category        TEXT NOT NULL,
		amount          NUMERIC(20,2) NOT NULL,
		balance_before  NUMERIC(20,2) NOT NULL,
		balance_after   NUMERIC(20,2) NOT NULL,
		status          TEXT NOT NULL,
		reference       TEXT NOT NULL UNIQUE,
		narration       TEXT,
		metadata        JSONB,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		completed_at    TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_entries_wallet ON ledger_entries (wallet_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_entries_user_created ON ledger_entries (user_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_entries_user_category ON ledger_entries (user_id, category, created_at)`,

	`CREATE TABLE IF NOT EXISTS transfers (
		id              UUID PRIMARY KEY,
		reference       TEXT NOT NULL UNIQUE,
		sender_id       TEXT NOT NULL,
		recipient_id    TEXT NOT NULL,
		debit_entry_id  UUID NOT NULL REFERENCES ledger_entries(id),
		credit_entry_id UUID NOT NULL REFERENCES ledger_entries(id),
		fee_entry_id    UUID REFERENCES ledger_entries(id),
		amount          NUMERIC(20,2) NOT NULL,
		fee             NUMERIC(20,2) NOT NULL DEFAULT 0,
		status          TEXT NOT NULL,
		narration       TEXT,
		completed_at    TIMESTAMPTZ,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transfers_sender_created ON transfers (sender_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS vas_purchases (
		id                 UUID PRIMARY KEY,
		user_id            TEXT NOT NULL,
		ledger_entry_id    UUID NOT NULL REFERENCES ledger_entries(id),
		service_type       TEXT NOT NULL,
		service_id         TEXT NOT NULL,
		target             TEXT NOT NULL,
		variation_code     TEXT,
		amount             NUMERIC(20,2) NOT NULL,
		provider_reference TEXT NOT NULL,
		provider_response  JSONB,
		status             TEXT NOT NULL,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_vas_purchases_provider_ref ON vas_purchases (provider_reference)`,

	`CREATE TABLE IF NOT EXISTS idempotency_records (
		key          TEXT PRIMARY KEY,
		user_id      TEXT NOT NULL,
		operation    TEXT NOT NULL,
		request_hash TEXT NOT NULL,
		status       TEXT NOT NULL,
		response     BYTEA,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		expires_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_idempotency_expires ON idempotency_records (expires_at)`,

	`CREATE TABLE IF NOT EXISTS balance_snapshots (
		id                  UUID PRIMARY KEY,
		wallet_id           UUID NOT NULL REFERENCES wallets(id),
		stored_balance      NUMERIC(20,2) NOT NULL,
		computed_balance    NUMERIC(20,2) NOT NULL,
		drift               NUMERIC(20,2) NOT NULL,
		reconciled          BOOLEAN NOT NULL,
		pending_entry_count INT NOT NULL,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_balance_snapshots_wallet ON balance_snapshots (wallet_id, created_at DESC)`,
}

func (s *SchemaBootstrap) EnsureSchema(ctx context.Context) error {
	s.logger.Info("Ensuring ledger schema")

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, stmt := range schemaStatements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit schema: %w", err)
	}

	s.logger.Info("Ledger schema ready")
	return nil
}
