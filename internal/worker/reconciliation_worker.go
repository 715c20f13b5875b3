package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"ledger-service/internal/usecase"
)

// ReconciliationWorker periodically sweeps every wallet and snapshots
// the drift between stored and recomputed balances.
type ReconciliationWorker struct {
	auditor  *usecase.ReconciliationAuditor
	interval time.Duration
	logger   *zap.Logger
	stopChan chan bool
}

func NewReconciliationWorker(auditor *usecase.ReconciliationAuditor, interval time.Duration, logger *zap.Logger) *ReconciliationWorker {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	return &ReconciliationWorker{
		auditor:  auditor,
		interval: interval,
		logger:   logger,
		stopChan: make(chan bool),
	}
}

func (rw *ReconciliationWorker) Start(ctx context.Context) {
	rw.logger.Info("Starting reconciliation worker",
		zap.Duration("interval", rw.interval))

	ticker := time.NewTicker(rw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rw.runOnce(ctx)

		case <-rw.stopChan:
			rw.logger.Info("Stopping reconciliation worker")
			return

		case <-ctx.Done():
			rw.logger.Info("Context cancelled, stopping reconciliation worker")
			return
		}
	}
}

func (rw *ReconciliationWorker) runOnce(ctx context.Context) {
	summary, err := rw.auditor.ReconcileAll(ctx)
	if err != nil {
		rw.logger.Error("Reconciliation sweep failed",
			zap.Error(err),
			zap.Int("wallets_checked", summary.WalletsChecked))
	}
}

func (rw *ReconciliationWorker) Stop() {
	close(rw.stopChan)
}
