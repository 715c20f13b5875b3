package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ledger-service/internal/client"
	"ledger-service/internal/config"
	"ledger-service/internal/domain"
	"ledger-service/internal/gateway"
	"ledger-service/internal/handler"
	"ledger-service/internal/middleware"
	"ledger-service/internal/pkg/fees"
	"ledger-service/internal/pub"
	"ledger-service/internal/repository"
	"ledger-service/internal/router"
	"ledger-service/internal/service"
	"ledger-service/internal/usecase"
	"ledger-service/internal/worker"
	"ledger-service/internal/ws"
	"ledger-service/pkg/utils"
)

// Server owns every long-lived component of the ledger service and
// tears them down in reverse order on shutdown.
type Server struct {
	cfg        config.AppConfig
	httpServer *http.Server
	schema     *service.SchemaBootstrap
	events     *pub.EventPublisher
	notifier   *usecase.Notifier

	reconWorker   *worker.ReconciliationWorker
	cleanupWorker *worker.IdempotencyCleanupWorker

	logger *zap.Logger
}

func NewLedgerServer(cfg config.AppConfig, logger *zap.Logger) (*Server, error) {
	// --- DB connection ---
	dbpool, err := config.ConnectDB()
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	// --- Redis client ---
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       0,
	})

	// --- Repositories ---
	walletRepo := repository.NewWalletRepo(dbpool)
	ledgerRepo := repository.NewLedgerRepo(dbpool)
	transferRepo := repository.NewTransferRepo(dbpool)
	vasRepo := repository.NewVASPurchaseRepo(dbpool)
	idemRepo := repository.NewIdempotencyRepo(dbpool)
	snapshotRepo := repository.NewSnapshotRepo(dbpool)

	store := repository.NewLedgerStore(dbpool, walletRepo, ledgerRepo, vasRepo, transferRepo)

	// --- External clients and gateways ---
	pinClient := client.NewPinClient(cfg.AuthServiceURL)
	gw := gateway.NewHTTPGateway(gateway.HTTPGatewayConfig{
		VASURL:   cfg.VASProviderURL,
		VASKey:   cfg.VASProviderKey,
		BankURL:  cfg.BankProviderURL,
		BankKey:  cfg.BankProviderKey,
		TopUpURL: cfg.TopUpProviderURL,
		TopUpKey: cfg.TopUpProviderKey,
		Timeout:  cfg.ProviderTimeout,
	}, gateway.NewStrategyRegistry(), logger)

	// --- Messaging ---
	events := pub.NewEventPublisher(rdb, cfg.KafkaBrokers, cfg.KafkaTopic, logger)
	hub := ws.NewHub(logger)
	notifier := usecase.NewNotifier(hub, logger)

	// --- Fees ---
	feeCalc := fees.NewCalculator()
	if err := feeCalc.SetPolicy(domain.CategoryTransfer, fees.Policy{
		BasisPoints: cfg.TransferFeeBps,
	}); err != nil {
		return nil, fmt.Errorf("transfer fee policy: %w", err)
	}
	if err := feeCalc.SetPolicy(domain.CategoryWithdrawal, fees.Policy{
		FixedFee: cfg.WithdrawalFeeFixed,
	}); err != nil {
		return nil, fmt.Errorf("withdrawal fee policy: %w", err)
	}

	refs := utils.NewReferenceGenerator()

	// --- Usecases ---
	guard := usecase.NewIdempotencyGuard(idemRepo, usecase.NewRedisResponseCache(rdb), cfg.IdempotencyTTL, logger)

	purchaseUC := usecase.NewPurchaseEngine(guard, store, walletRepo, vasRepo, gw, refs, notifier, events, logger)
	transferUC := usecase.NewTransferEngine(guard, store, walletRepo, transferRepo, pinClient, feeCalc, usecase.Limits{
		Min:        cfg.TransferMin,
		Max:        cfg.TransferMax,
		DailyCap:   cfg.TransferDailyCap,
		DailyCount: cfg.TransferDailyCount,
	}, refs, notifier, events, logger)
	withdrawalUC := usecase.NewWithdrawalEngine(guard, store, walletRepo, ledgerRepo, gw, pinClient, feeCalc, usecase.Limits{
		Min:        cfg.WithdrawalMin,
		Max:        cfg.WithdrawalMax,
		DailyCap:   cfg.WithdrawalDailyCap,
		DailyCount: cfg.WithdrawalDailyCount,
	}, refs, notifier, events, logger)
	topupUC := usecase.NewTopUpEngine(guard, store, walletRepo, gw, cfg.Currency, notifier, events, logger)
	historyUC := usecase.NewHistoryReader(ledgerRepo, snapshotRepo)
	auditorUC := usecase.NewReconciliationAuditor(walletRepo, ledgerRepo, snapshotRepo, events, cfg.ReconcileBatchSize, logger)

	// --- Workers ---
	reconWorker := worker.NewReconciliationWorker(auditorUC, cfg.ReconcileInterval, logger)
	cleanupWorker := worker.NewIdempotencyCleanupWorker(guard, cfg.IdempotencyTTL/4, 500, logger)

	// --- HTTP ---
	ledgerHandler := handler.NewLedgerHandler(purchaseUC, transferUC, withdrawalUC, topupUC, historyUC, auditorUC, logger)
	wsHandler := handler.NewWSHandler(hub, logger)
	auth := middleware.NewAuthMiddleware(cfg.JWTSecret)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router.SetupRoutes(ledgerHandler, wsHandler, auth, logger),
	}

	return &Server{
		cfg:           cfg,
		httpServer:    httpServer,
		schema:        service.NewSchemaBootstrap(dbpool, logger),
		events:        events,
		notifier:      notifier,
		reconWorker:   reconWorker,
		cleanupWorker: cleanupWorker,
		logger:        logger,
	}, nil
}

// Run starts the background workers and blocks serving HTTP until
// Shutdown is called or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	if err := s.schema.EnsureSchema(ctx); err != nil {
		return err
	}

	s.notifier.Start()
	go s.reconWorker.Start(ctx)
	go s.cleanupWorker.Start(ctx)

	s.logger.Info("ledger service listening", zap.String("addr", s.cfg.HTTPAddr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("http shutdown", zap.Error(err))
	}

	s.reconWorker.Stop()
	s.cleanupWorker.Stop()
	s.notifier.Stop()

	if err := s.events.Close(); err != nil {
		s.logger.Warn("event publisher close", zap.Error(err))
	}
}
