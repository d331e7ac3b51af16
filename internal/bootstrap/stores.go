// Package bootstrap wires the storage backend and the adherence tracker
// shared by the API and the alert worker.
package bootstrap

import (
	"context"
	"fmt"

	gcfirestore "cloud.google.com/go/firestore"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/carelink/pillwise/internal/config"
	"github.com/carelink/pillwise/internal/domain/adherence"
	"github.com/carelink/pillwise/internal/domain/alert"
	"github.com/carelink/pillwise/internal/domain/dose"
	"github.com/carelink/pillwise/internal/domain/interaction"
	"github.com/carelink/pillwise/internal/domain/medication"
	"github.com/carelink/pillwise/internal/infrastructure/firestore"
)

// Stores holds the repositories selected by STORE_BACKEND
type Stores struct {
	Medications medication.Store
	Overrides   dose.OverrideRepository
	// Pool is set for the postgres backend only
	Pool *pgxpool.Pool
	// Ping checks the backend for readiness
	Ping func(ctx context.Context) error

	closers []func()
}

// Close releases backend connections
func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// OpenStores connects to the configured backend
func OpenStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Stores, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("database ping: %w", err)
		}
		logger.Info("connected to database")
		return &Stores{
			Medications: medication.NewRepository(pool, logger.Named("medications")),
			Overrides:   dose.NewPostgresRepository(pool, logger.Named("overrides")),
			Pool:        pool,
			Ping:        pool.Ping,
			closers:     []func(){pool.Close},
		}, nil

	case config.BackendFirestore:
		client, err := gcfirestore.NewClient(ctx, cfg.FirestoreProjectID)
		if err != nil {
			return nil, fmt.Errorf("connect to firestore: %w", err)
		}
		logger.Info("connected to firestore", zap.String("project", cfg.FirestoreProjectID))
		store := firestore.New(client, logger.Named("firestore"))
		return &Stores{
			Medications: store,
			Overrides:   store,
			Ping: func(ctx context.Context) error {
				_, err := client.Collection(firestore.MedicationsCollection).Limit(1).Documents(ctx).GetAll()
				return err
			},
			closers: []func(){func() { client.Close() }},
		}, nil

	case config.BackendMemory:
		logger.Warn("using in-memory store, data is lost on restart")
		return &Stores{
			Medications: medication.NewMemoryStore(),
			Overrides:   dose.NewMemoryRepository(),
			Ping:        func(context.Context) error { return nil },
		}, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

// NewTracker builds the tracker and its rule engines from configuration
func NewTracker(cfg *config.Config, stores *Stores, logger *zap.Logger, opts ...adherence.Option) (*adherence.Tracker, error) {
	rules, err := interaction.LoadRules(cfg.InteractionRules)
	if err != nil {
		return nil, fmt.Errorf("load interaction rules: %w", err)
	}
	checker := interaction.NewChecker(rules)

	evaluator := alert.NewEvaluator(alert.Config{
		MissedAfter:       cfg.MissedAlertAfter,
		LowStockThreshold: cfg.LowStockThreshold,
		ExpiryWarningDays: cfg.ExpiryWarningDays,
	}, checker, logger.Named("alerts"))

	trackerCfg := adherence.Config{
		Location:    cfg.Location,
		GraceWindow: cfg.GraceWindow,
		Timeout:     cfg.RepositoryTimeout,
	}
	return adherence.New(trackerCfg, stores.Medications, stores.Overrides, checker, evaluator, logger, opts...), nil
}
