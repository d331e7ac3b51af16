// Package main provides the adherence API service entry point.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/carelink/pillwise/internal/api/handlers"
	"github.com/carelink/pillwise/internal/api/middleware"
	"github.com/carelink/pillwise/internal/bootstrap"
	"github.com/carelink/pillwise/internal/config"
	"github.com/carelink/pillwise/internal/domain/adherence"
	"github.com/carelink/pillwise/internal/domain/inventory"
	"github.com/carelink/pillwise/internal/observability/logging"
	"github.com/carelink/pillwise/internal/observability/metrics"
	"github.com/carelink/pillwise/internal/observability/tracing"
	"github.com/carelink/pillwise/pkg/circuitbreaker"
)

const serviceName = "adherence-api"

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("invalid configuration", zap.Error(err))
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		zap.NewExample().Fatal("logger setup failed", zap.Error(err))
	}
	defer logger.Sync()
	logger = logger.With(zap.String("service", serviceName))

	ctx := context.Background()

	traceCfg := tracing.DefaultConfig(serviceName)
	traceCfg.Environment = cfg.Env
	traceCfg.OTLPEndpoint = cfg.OTLPEndpoint
	traceCfg.SampleRate = cfg.TraceSampleRate
	tp, err := tracing.Init(ctx, traceCfg)
	if err != nil {
		logger.Fatal("tracing setup failed", zap.Error(err))
	}
	defer tp.Shutdown(context.Background())

	m := metrics.New(nil)
	breakers := circuitbreaker.NewManager(logger, func(name string, _, to circuitbreaker.State) {
		m.SetBreakerState(name, string(to))
	})

	stores, err := bootstrap.OpenStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("store setup failed", zap.Error(err))
	}
	defer stores.Close()

	stockBreaker, err := breakers.GetOrCreate(circuitbreaker.StockPersistence,
		circuitbreaker.DefaultConfig(circuitbreaker.StockPersistence))
	if err != nil {
		logger.Fatal("breaker setup failed", zap.Error(err))
	}
	ledgerCfg := inventory.DefaultConfig()
	ledgerCfg.Timeout = cfg.RepositoryTimeout
	ledger, err := inventory.NewLedger(ledgerCfg, stores.Medications, stockBreaker, m, logger.Named("stock"))
	if err != nil {
		logger.Fatal("ledger setup failed", zap.Error(err))
	}
	ledger.Start()

	tracker, err := bootstrap.NewTracker(cfg, stores, logger, adherence.WithLedger(ledger))
	if err != nil {
		logger.Fatal("tracker setup failed", zap.Error(err))
	}

	adherenceHandler := handlers.NewAdherenceHandler(tracker, m, logger)
	healthHandler := handlers.NewHealthHandler(map[string]handlers.Check{
		cfg.StoreBackend: stores.Ping,
		"stock-sync":     ledger.Healthy,
	}, breakers)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing(serviceName))

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", m.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Validate only allows an empty key set in development
		if len(cfg.APIKeys) > 0 || !cfg.IsDev() {
			r.Use(middleware.APIKeyAuth(cfg.APIKeys))
		} else {
			logger.Warn("API key authentication disabled in development")
		}
		r.Mount("/users/{userID}", adherenceHandler.Routes())
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting adherence API",
		zap.String("port", cfg.Port),
		zap.String("store", cfg.StoreBackend),
		zap.Bool("auth", len(cfg.APIKeys) > 0))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}

	// queued stock writes finish before the store closes
	if err := ledger.Stop(); err != nil {
		logger.Warn("stock ledger stop", zap.Error(err))
	}
	logger.Info("server stopped", zap.Int("unsynced_stock", ledger.Pending()))
}
