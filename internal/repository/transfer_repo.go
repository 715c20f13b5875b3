package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"ledger-service/internal/domain"
)

type TransferRepository interface {
	CreateTx(ctx context.Context, tx pgx.Tx, transfer *domain.Transfer) error
	GetByReference(ctx context.Context, reference string) (*domain.Transfer, error)
	// DailyOutboundTotals recomputes the sender's successful outbound
	// volume and count since midnight UTC. Always read fresh, never
	// cached: limit enforcement must see committed transfers.
	DailyOutboundTotals(ctx context.Context, senderID string, day time.Time) (total decimal.Decimal, count int, err error)
}

type transferRepo struct {
	db *pgxpool.Pool
}

func NewTransferRepo(db *pgxpool.Pool) TransferRepository {
	return &transferRepo{db: db}
}

func (r *transferRepo) CreateTx(ctx context.Context, tx pgx.Tx, t *domain.Transfer) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO transfers
			(id, reference, sender_id, recipient_id, debit_entry_id,
			 credit_entry_id, fee_entry_id, amount, fee, status, narration,
			 completed_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		t.ID, t.Reference, t.SenderID, t.RecipientID, t.DebitEntryID,
		t.CreditEntryID, t.FeeEntryID, t.Amount, t.Fee, t.Status, t.Narration,
		t.CompletedAt, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert transfer: %w", err)
	}
	return nil
}

func (r *transferRepo) GetByReference(ctx context.Context, reference string) (*domain.Transfer, error) {
	var t domain.Transfer
	err := r.db.QueryRow(ctx, `
		SELECT id, reference, sender_id, recipient_id, debit_entry_id,
		       credit_entry_id, fee_entry_id, amount, fee, status, narration,
		       completed_at, created_at
		FROM transfers WHERE reference = $1`, reference).Scan(
		&t.ID, &t.Reference, &t.SenderID, &t.RecipientID, &t.DebitEntryID,
		&t.CreditEntryID, &t.FeeEntryID, &t.Amount, &t.Fee, &t.Status,
		&t.Narration, &t.CompletedAt, &t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get transfer: %w", err)
	}
	return &t, nil
}

func (r *transferRepo) DailyOutboundTotals(ctx context.Context, senderID string, day time.Time) (decimal.Decimal, int, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)

	var total decimal.Decimal
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0), COUNT(*)
		FROM transfers
		WHERE sender_id = $1 AND status = 'SUCCESS' AND completed_at >= $2`,
		senderID, dayStart).Scan(&total, &count)
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("daily outbound totals: %w", err)
	}
	return total, count, nil
}
