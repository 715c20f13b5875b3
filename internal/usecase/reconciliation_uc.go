package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ledger-service/internal/domain"
	"ledger-service/internal/pub"
	"ledger-service/internal/repository"
)

type ReconciliationSummary struct {
	WalletsChecked int `json:"wallets_checked"`
	Drifted        int `json:"drifted"`
	Errors         int `json:"errors"`
}

// ReconciliationAuditor independently recomputes wallet balances from
// SUCCESS ledger entries and records the drift against the stored
// balance. It only ever observes: drift is surfaced for operator
// investigation, never auto-corrected.
type ReconciliationAuditor struct {
	wallets   repository.WalletRepository
	ledger    repository.LedgerRepository
	snapshots repository.SnapshotRepository
	events    *pub.EventPublisher
	batchSize int
	logger    *zap.Logger
}

func NewReconciliationAuditor(
	wallets repository.WalletRepository,
	ledger repository.LedgerRepository,
	snapshots repository.SnapshotRepository,
	events *pub.EventPublisher,
	batchSize int,
	logger *zap.Logger,
) *ReconciliationAuditor {
	if batchSize <= 0 {
		batchSize = 200
	}
	return &ReconciliationAuditor{
		wallets:   wallets,
		ledger:    ledger,
		snapshots: snapshots,
		events:    events,
		batchSize: batchSize,
		logger:    logger,
	}
}

func (a *ReconciliationAuditor) ReconcileWallet(ctx context.Context, walletID string) (*domain.BalanceSnapshot, error) {
	wallet, err := a.wallets.GetByID(ctx, walletID)
	if err != nil {
		return nil, err
	}

	credit, debit, err := a.ledger.SumSuccessByDirection(ctx, walletID)
	if err != nil {
		return nil, err
	}
	pending, err := a.ledger.CountNonTerminal(ctx, walletID)
	if err != nil {
		return nil, err
	}

	computed := credit.Sub(debit)
	drift := wallet.Balance.Sub(computed)

	// A wallet with in-flight PROCESSING debits legitimately diverges
	// from its SUCCESS-entry sum; it is only reconciled once quiet.
	reconciled := pending == 0 && drift.Abs().LessThanOrEqual(domain.DriftTolerance)

	snapshot := &domain.BalanceSnapshot{
		ID:                uuid.NewString(),
		WalletID:          walletID,
		StoredBalance:     wallet.Balance,
		ComputedBalance:   computed,
		Drift:             drift,
		Reconciled:        reconciled,
		PendingEntryCount: pending,
		CreatedAt:         time.Now().UTC(),
	}
	if err := a.snapshots.Create(ctx, snapshot); err != nil {
		return nil, err
	}

	if !reconciled && pending == 0 {
		a.logger.Warn("balance drift detected",
			zap.String("wallet_id", walletID),
			zap.String("stored", wallet.Balance.String()),
			zap.String("computed", computed.String()),
			zap.String("drift", drift.String()))
		a.events.PublishOperatorAlert(ctx, &domain.OperatorAlert{
			Kind:     "reconciliation_drift",
			UserID:   wallet.UserID,
			WalletID: walletID,
			Detail:   fmt.Sprintf("stored %s, computed %s, drift %s", wallet.Balance, computed, drift),
		})
	}

	return snapshot, nil
}

func (a *ReconciliationAuditor) ReconcileUser(ctx context.Context, userID string, role domain.WalletRole) (*domain.BalanceSnapshot, error) {
	wallet, err := a.wallets.GetByUserRole(ctx, userID, role)
	if err != nil {
		return nil, err
	}
	return a.ReconcileWallet(ctx, wallet.ID)
}

// ReconcileAll walks every wallet in bounded batches. Per-wallet
// failures are counted and logged, never abort the run.
func (a *ReconciliationAuditor) ReconcileAll(ctx context.Context) (*ReconciliationSummary, error) {
	summary := &ReconciliationSummary{}
	afterID := ""

	for {
		ids, err := a.wallets.ListIDs(ctx, afterID, a.batchSize)
		if err != nil {
			return summary, err
		}
		if len(ids) == 0 {
			break
		}

		for _, id := range ids {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			snapshot, err := a.ReconcileWallet(ctx, id)
			if err != nil {
				summary.Errors++
				a.logger.Error("wallet reconciliation failed",
					zap.String("wallet_id", id), zap.Error(err))
				continue
			}
			summary.WalletsChecked++
			if !snapshot.Reconciled && snapshot.PendingEntryCount == 0 {
				summary.Drifted++
			}
		}
		afterID = ids[len(ids)-1]
	}

	a.logger.Info("reconciliation run finished",
		zap.Int("wallets", summary.WalletsChecked),
		zap.Int("drifted", summary.Drifted),
		zap.Int("errors", summary.Errors))
	return summary, nil
}
