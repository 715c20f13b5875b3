package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"ledger-service/internal/domain"
	"ledger-service/internal/pkg/xerrors"
)

type WalletRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Wallet, error)
	GetByUserRole(ctx context.Context, userID string, role domain.WalletRole) (*domain.Wallet, error)
	// GetByIDWithLock reads the wallet row FOR UPDATE inside an open
	// transaction. The caller holds the row lock until commit/rollback.
	GetByIDWithLock(ctx context.Context, tx pgx.Tx, id string) (*domain.Wallet, error)
	// UpdateBalanceTx is a compare-and-set: the write lands only if the
	// stored balance still equals expected (the value read under lock in
	// the same transaction). Zero rows updated means something bypassed
	// the lock; the caller must abort the whole write.
	UpdateBalanceTx(ctx context.Context, tx pgx.Tx, walletID string, expected, newBalance decimal.Decimal) error
	EnsureWallet(ctx context.Context, userID string, role domain.WalletRole, currency string) (*domain.Wallet, error)
	ListIDs(ctx context.Context, afterID string, limit int) ([]string, error)
}

type walletRepo struct {
	db *pgxpool.Pool
}

func NewWalletRepo(db *pgxpool.Pool) WalletRepository {
	return &walletRepo{db: db}
}

const walletColumns = `id, user_id, role, balance, currency, status, created_at, updated_at`

func scanWallet(row pgx.Row) (*domain.Wallet, error) {
	var w domain.Wallet
	err := row.Scan(&w.ID, &w.UserID, &w.Role, &w.Balance, &w.Currency, &w.Status, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrWalletNotFound
		}
		return nil, fmt.Errorf("scan wallet: %w", err)
	}
	return &w, nil
}

func (r *walletRepo) GetByID(ctx context.Context, id string) (*domain.Wallet, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE id = $1`, id)
	return scanWallet(row)
}

func (r *walletRepo) GetByUserRole(ctx context.Context, userID string, role domain.WalletRole) (*domain.Wallet, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE user_id = $1 AND role = $2`, userID, role)
	return scanWallet(row)
}

func (r *walletRepo) GetByIDWithLock(ctx context.Context, tx pgx.Tx, id string) (*domain.Wallet, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE id = $1 FOR UPDATE`, id)
	return scanWallet(row)
}

func (r *walletRepo) UpdateBalanceTx(ctx context.Context, tx pgx.Tx, walletID string, expected, newBalance decimal.Decimal) error {
	tag, err := tx.Exec(ctx,
		`UPDATE wallets SET balance = $1, updated_at = $2 WHERE id = $3 AND balance = $4`,
		newBalance, time.Now().UTC(), walletID, expected)
	if err != nil {
		return fmt.Errorf("update wallet balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("wallet %s: expected balance %s no longer live: %w",
			walletID, expected.String(), xerrors.ErrLedgerInvariantViolation)
	}
	return nil
}

func (r *walletRepo) EnsureWallet(ctx context.Context, userID string, role domain.WalletRole, currency string) (*domain.Wallet, error) {
	_, err := r.db.Exec(ctx, `
		INSERT INTO wallets (id, user_id, role, balance, currency, status, created_at, updated_at)
		VALUES (gen_random_uuid(), $1, $2, 0, $3, 'active', NOW(), NOW())
		ON CONFLICT (user_id, role) DO NOTHING`,
		userID, role, currency)
	if err != nil {
		return nil, fmt.Errorf("ensure wallet: %w", err)
	}
	return r.GetByUserRole(ctx, userID, role)
}

func (r *walletRepo) ListIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id FROM wallets WHERE id > $1 ORDER BY id LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list wallet ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
