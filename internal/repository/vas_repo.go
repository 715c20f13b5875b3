package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ledger-service/internal/domain"
	"ledger-service/internal/pkg/xerrors"
)

type VASPurchaseRepository interface {
	CreateTx(ctx context.Context, tx pgx.Tx, p *domain.VASPurchase) error
	GetByProviderReference(ctx context.Context, providerRef string) (*domain.VASPurchase, error)
	GetByLedgerEntryID(ctx context.Context, entryID string) (*domain.VASPurchase, error)
}

type vasRepo struct {
	db *pgxpool.Pool
}

func NewVASPurchaseRepo(db *pgxpool.Pool) VASPurchaseRepository {
	return &vasRepo{db: db}
}

const vasColumns = `id, user_id, ledger_entry_id, service_type, service_id,
	target, variation_code, amount, provider_reference, provider_response,
	status, created_at, updated_at`

func scanVASPurchase(row pgx.Row) (*domain.VASPurchase, error) {
	var p domain.VASPurchase
	err := row.Scan(&p.ID, &p.UserID, &p.LedgerEntryID, &p.ServiceType,
		&p.ServiceID, &p.Target, &p.VariationCode, &p.Amount,
		&p.ProviderReference, &p.ProviderResponse, &p.Status,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan vas purchase: %w", err)
	}
	return &p, nil
}

func (r *vasRepo) CreateTx(ctx context.Context, tx pgx.Tx, p *domain.VASPurchase) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	_, err := tx.Exec(ctx, `
		INSERT INTO vas_purchases
			(id, user_id, ledger_entry_id, service_type, service_id, target,
			 variation_code, amount, provider_reference, provider_response,
			 status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		p.ID, p.UserID, p.LedgerEntryID, p.ServiceType, p.ServiceID, p.Target,
		p.VariationCode, p.Amount, p.ProviderReference, p.ProviderResponse,
		p.Status, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// provider_reference carries a unique index: two concurrent
			// settles of the same provider attempt collapse to one row.
			return xerrors.ErrDuplicateReference
		}
		return fmt.Errorf("insert vas purchase: %w", err)
	}
	return nil
}

func (r *vasRepo) GetByProviderReference(ctx context.Context, providerRef string) (*domain.VASPurchase, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+vasColumns+` FROM vas_purchases WHERE provider_reference = $1`, providerRef)
	return scanVASPurchase(row)
}

func (r *vasRepo) GetByLedgerEntryID(ctx context.Context, entryID string) (*domain.VASPurchase, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+vasColumns+` FROM vas_purchases WHERE ledger_entry_id = $1`, entryID)
	return scanVASPurchase(row)
}
