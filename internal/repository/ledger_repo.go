package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"ledger-service/internal/domain"
	"ledger-service/internal/pkg/xerrors"
)

type LedgerRepository interface {
	CreateTx(ctx context.Context, tx pgx.Tx, entry *domain.LedgerEntry) error
	UpdateStatusTx(ctx context.Context, tx pgx.Tx, entryID string, status domain.EntryStatus, meta *domain.EntryMetadata) error
	GetByReference(ctx context.Context, reference string) (*domain.LedgerEntry, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.LedgerEntry, error)
	// SumSuccessByDirection folds all SUCCESS entries of a wallet into
	// credit and debit totals. Used by reconciliation only.
	SumSuccessByDirection(ctx context.Context, walletID string) (credit, debit decimal.Decimal, err error)
	CountNonTerminal(ctx context.Context, walletID string) (int, error)
	// DailyDebitTotals recomputes a user's debit volume and count for one
	// category since midnight UTC. PROCESSING debits count toward the cap:
	// an in-flight withdrawal has already moved money.
	DailyDebitTotals(ctx context.Context, userID string, category domain.EntryCategory, day time.Time) (total decimal.Decimal, count int, err error)
}

type ledgerRepo struct {
	db *pgxpool.Pool
}

func NewLedgerRepo(db *pgxpool.Pool) LedgerRepository {
	return &ledgerRepo{db: db}
}

const entryColumns = `id, wallet_id, user_id, direction, category, amount,
	balance_before, balance_after, status, reference, narration, metadata,
	created_at, completed_at`

func scanEntry(row pgx.Row) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	var metaRaw []byte
	err := row.Scan(&e.ID, &e.WalletID, &e.UserID, &e.Direction, &e.Category,
		&e.Amount, &e.BalanceBefore, &e.BalanceAfter, &e.Status, &e.Reference,
		&e.Narration, &metaRaw, &e.CreatedAt, &e.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrEntryNotFound
		}
		return nil, fmt.Errorf("scan ledger entry: %w", err)
	}
	if len(metaRaw) > 0 {
		var meta domain.EntryMetadata
		if err := json.Unmarshal(metaRaw, &meta); err == nil {
			e.Metadata = &meta
		}
	}
	return &e, nil
}

func (r *ledgerRepo) CreateTx(ctx context.Context, tx pgx.Tx, entry *domain.LedgerEntry) error {
	var metaRaw []byte
	if entry.Metadata != nil {
		b, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("marshal entry metadata: %w", err)
		}
		metaRaw = b
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO ledger_entries
			(id, wallet_id, user_id, direction, category, amount,
			 balance_before, balance_after, status, reference, narration,
			 metadata, created_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		entry.ID, entry.WalletID, entry.UserID, entry.Direction, entry.Category,
		entry.Amount, entry.BalanceBefore, entry.BalanceAfter, entry.Status,
		entry.Reference, entry.Narration, metaRaw, entry.CreatedAt, entry.CompletedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return xerrors.ErrDuplicateReference
		}
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

func (r *ledgerRepo) UpdateStatusTx(ctx context.Context, tx pgx.Tx, entryID string, status domain.EntryStatus, meta *domain.EntryMetadata) error {
	now := time.Now().UTC()

	var metaRaw []byte
	if meta != nil {
		b, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("marshal entry metadata: %w", err)
		}
		metaRaw = b
	}

	var tag pgconn.CommandTag
	var err error
	if metaRaw != nil {
		tag, err = tx.Exec(ctx, `
			UPDATE ledger_entries SET status = $1, metadata = $2, completed_at = $3
			WHERE id = $4 AND status NOT IN ('SUCCESS','FAILED')`,
			status, metaRaw, now, entryID)
	} else {
		tag, err = tx.Exec(ctx, `
			UPDATE ledger_entries SET status = $1, completed_at = $2
			WHERE id = $3 AND status NOT IN ('SUCCESS','FAILED')`,
			status, now, entryID)
	}
	if err != nil {
		return fmt.Errorf("update entry status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrEntryAlreadyTerminal
	}
	return nil
}

func (r *ledgerRepo) GetByReference(ctx context.Context, reference string) (*domain.LedgerEntry, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE reference = $1`, reference)
	return scanEntry(row)
}

func (r *ledgerRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.LedgerEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries
		 WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var entries []*domain.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *ledgerRepo) SumSuccessByDirection(ctx context.Context, walletID string) (decimal.Decimal, decimal.Decimal, error) {
	var credit, debit decimal.Decimal
	err := r.db.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE direction = 'CREDIT'), 0),
			COALESCE(SUM(amount) FILTER (WHERE direction = 'DEBIT'), 0)
		FROM ledger_entries
		WHERE wallet_id = $1 AND status = 'SUCCESS'`, walletID).Scan(&credit, &debit)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("sum entries: %w", err)
	}
	return credit, debit, nil
}

func (r *ledgerRepo) DailyDebitTotals(ctx context.Context, userID string, category domain.EntryCategory, day time.Time) (decimal.Decimal, int, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)

	var total decimal.Decimal
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0), COUNT(*)
		FROM ledger_entries
		WHERE user_id = $1 AND category = $2 AND direction = 'DEBIT'
		  AND status IN ('PROCESSING','SUCCESS') AND created_at >= $3`,
		userID, category, dayStart).Scan(&total, &count)
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("daily debit totals: %w", err)
	}
	return total, count, nil
}

func (r *ledgerRepo) CountNonTerminal(ctx context.Context, walletID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM ledger_entries
		WHERE wallet_id = $1 AND status IN ('PENDING','PROCESSING')`, walletID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count non-terminal entries: %w", err)
	}
	return n, nil
}
