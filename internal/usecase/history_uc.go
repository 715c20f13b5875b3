package usecase

import (
	"context"

	"ledger-service/internal/domain"
	"ledger-service/internal/repository"
)

// HistoryReader serves transaction history to clients and analytics.
type HistoryReader struct {
	ledger    repository.LedgerRepository
	snapshots repository.SnapshotRepository
}

func NewHistoryReader(ledger repository.LedgerRepository, snapshots repository.SnapshotRepository) *HistoryReader {
	return &HistoryReader{ledger: ledger, snapshots: snapshots}
}

func (h *HistoryReader) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.LedgerEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return h.ledger.ListByUser(ctx, userID, limit, offset)
}

func (h *HistoryReader) GetByReference(ctx context.Context, reference string) (*domain.LedgerEntry, error) {
	return h.ledger.GetByReference(ctx, reference)
}

func (h *HistoryReader) ListDriftedSnapshots(ctx context.Context, limit int) ([]*domain.BalanceSnapshot, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return h.snapshots.ListDrifted(ctx, limit)
}
