package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"ledger-service/internal/handler"
	authmw "ledger-service/internal/middleware"
)

func SetupRoutes(
	ledgerHandler *handler.LedgerHandler,
	wsHandler *handler.WSHandler,
	auth *authmw.AuthMiddleware,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggerMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/api/v1/ledger/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(auth.Require)

			r.Route("/wallet", func(r chi.Router) {
				r.Post("/topup/verify", ledgerHandler.TopUp)
				r.Post("/transfer", ledgerHandler.Transfer)
				r.Post("/withdraw", ledgerHandler.Withdraw)
				r.Get("/history", ledgerHandler.ListHistory)
				r.Get("/history/{reference}", ledgerHandler.GetEntry)
				r.Post("/reconcile", ledgerHandler.ReconcileMe)
			})

			r.Route("/vas", func(r chi.Router) {
				r.Post("/purchase", ledgerHandler.Purchase)
				r.Post("/requery", ledgerHandler.Requery)
			})

			r.Get("/ws/balance", wsHandler.HandleBalanceStream)
		})

		// Operator endpoints
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole("admin", "ops"))

			r.Route("/admin/reconciliation", func(r chi.Router) {
				r.Post("/run", ledgerHandler.ReconcileAll)
				r.Get("/drifted", ledgerHandler.ListDrifted)
			})
		})
	})

	return r
}

// LoggerMiddleware logs HTTP requests
func LoggerMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr))
		})
	}
}
