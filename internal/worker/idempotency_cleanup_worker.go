package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"ledger-service/internal/usecase"
)

// IdempotencyCleanupWorker evicts expired idempotency records in small
// batches so the table never needs a blocking bulk delete.
type IdempotencyCleanupWorker struct {
	guard     *usecase.IdempotencyGuard
	interval  time.Duration
	batchSize int
	logger    *zap.Logger
	stopChan  chan bool
}

func NewIdempotencyCleanupWorker(guard *usecase.IdempotencyGuard, interval time.Duration, batchSize int, logger *zap.Logger) *IdempotencyCleanupWorker {
	if interval <= 0 {
		interval = time.Hour
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	return &IdempotencyCleanupWorker{
		guard:     guard,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger,
		stopChan:  make(chan bool),
	}
}

func (cw *IdempotencyCleanupWorker) Start(ctx context.Context) {
	cw.logger.Info("Starting idempotency cleanup worker",
		zap.Duration("interval", cw.interval))

	ticker := time.NewTicker(cw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cw.purge(ctx)

		case <-cw.stopChan:
			cw.logger.Info("Stopping idempotency cleanup worker")
			return

		case <-ctx.Done():
			cw.logger.Info("Context cancelled, stopping idempotency cleanup worker")
			return
		}
	}
}

func (cw *IdempotencyCleanupWorker) purge(ctx context.Context) {
	total := 0
	for {
		deleted, err := cw.guard.PurgeExpired(ctx, cw.batchSize)
		if err != nil {
			cw.logger.Error("Idempotency purge failed", zap.Error(err))
			return
		}
		total += int(deleted)
		if deleted < int64(cw.batchSize) {
			break
		}
	}
	if total > 0 {
		cw.logger.Info("Purged expired idempotency records", zap.Int("count", total))
	}
}

func (cw *IdempotencyCleanupWorker) Stop() {
	close(cw.stopChan)
}
