package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"ledger-service/internal/domain"
)

type SnapshotRepository interface {
	Create(ctx context.Context, s *domain.BalanceSnapshot) error
	ListByWallet(ctx context.Context, walletID string, limit int) ([]*domain.BalanceSnapshot, error)
	ListDrifted(ctx context.Context, limit int) ([]*domain.BalanceSnapshot, error)
}

type snapshotRepo struct {
	db *pgxpool.Pool
}

func NewSnapshotRepo(db *pgxpool.Pool) SnapshotRepository {
	return &snapshotRepo{db: db}
}

func (r *snapshotRepo) Create(ctx context.Context, s *domain.BalanceSnapshot) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO balance_snapshots
			(id, wallet_id, stored_balance, computed_balance, drift,
			 reconciled, pending_entry_count, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		s.ID, s.WalletID, s.StoredBalance, s.ComputedBalance, s.Drift,
		s.Reconciled, s.PendingEntryCount, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert balance snapshot: %w", err)
	}
	return nil
}

func (r *snapshotRepo) ListByWallet(ctx context.Context, walletID string, limit int) ([]*domain.BalanceSnapshot, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, wallet_id, stored_balance, computed_balance, drift,
		       reconciled, pending_entry_count, created_at
		FROM balance_snapshots
		WHERE wallet_id = $1 ORDER BY created_at DESC LIMIT $2`, walletID, limit)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()
	return scanSnapshots(rows)
}

// ListDrifted returns the latest unreconciled observations for operator
// review.
func (r *snapshotRepo) ListDrifted(ctx context.Context, limit int) ([]*domain.BalanceSnapshot, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT ON (wallet_id)
		       id, wallet_id, stored_balance, computed_balance, drift,
		       reconciled, pending_entry_count, created_at
		FROM balance_snapshots
		WHERE reconciled = false
		ORDER BY wallet_id, created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list drifted snapshots: %w", err)
	}
	defer rows.Close()
	return scanSnapshots(rows)
}

func scanSnapshots(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]*domain.BalanceSnapshot, error) {
	var out []*domain.BalanceSnapshot
	for rows.Next() {
		var s domain.BalanceSnapshot
		if err := rows.Scan(&s.ID, &s.WalletID, &s.StoredBalance, &s.ComputedBalance,
			&s.Drift, &s.Reconciled, &s.PendingEntryCount, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}
