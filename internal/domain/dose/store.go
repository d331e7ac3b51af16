package dose

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrPersistence wraps failures of the override repository
var ErrPersistence = errors.New("dose override persistence failed")

// StoreConfig holds configuration for the status store
type StoreConfig struct {
	// Timeout bounds every repository call; zero disables the deadline
	Timeout time.Duration
}

// DefaultStoreConfig returns sensible defaults
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{Timeout: 10 * time.Second}
}

// Store caches dose overrides in memory in front of an OverrideRepository.
// The cache lives as long as the Store; it is empty until Preload runs.
type Store struct {
	repo   OverrideRepository
	config StoreConfig
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time

	mu    sync.RWMutex
	cache map[string]Override
}

// NewStore creates a status store over repo
func NewStore(repo OverrideRepository, cfg StoreConfig, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := applyOptions(opts)
	return &Store{
		repo:   repo,
		config: cfg,
		logger: logger,
		tracer: otel.Tracer("dose-store"),
		now:    o.now,
		cache:  make(map[string]Override),
	}
}

// Preload fetches a user's overrides and caches those scheduled within
// [start, end]. It must complete before doses in that range are generated.
// On failure the cache keeps whatever it held before and the error is logged
// and returned; generation falls back to time-based inference.
func (s *Store) Preload(ctx context.Context, userID string, start, end time.Time) error {
	ctx, span := s.tracer.Start(ctx, "dose_store_preload",
		trace.WithAttributes(attribute.String("user_id", userID)))
	defer span.End()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	records, err := s.repo.ListOverridesByUser(ctx, userID)
	if err != nil {
		s.logger.Error("failed to load dose overrides",
			zap.String("user_id", userID),
			zap.Error(err))
		span.RecordError(err)
		return fmt.Errorf("%w: list overrides: %v", ErrPersistence, err)
	}

	loaded := 0
	s.mu.Lock()
	for _, rec := range records {
		if rec.ScheduledTime.Before(start) || rec.ScheduledTime.After(end) {
			continue
		}
		s.cache[rec.Key] = Override{Status: rec.Status, TakenAt: rec.TakenAt}
		loaded++
	}
	s.mu.Unlock()

	span.SetAttributes(attribute.Int("loaded", loaded))
	s.logger.Debug("dose overrides loaded",
		zap.String("user_id", userID),
		zap.Int("loaded", loaded),
		zap.Int("scanned", len(records)))
	return nil
}

// RecordTaken marks a dose taken now. The cache is updated before the write,
// so a failed write is logged and reported but never undoes the local status.
func (s *Store) RecordTaken(ctx context.Context, d Dose) (Override, error) {
	takenAt := s.now()
	return s.record(ctx, d, Override{Status: StatusTaken, TakenAt: &takenAt})
}

// RecordSkipped marks a dose skipped
func (s *Store) RecordSkipped(ctx context.Context, d Dose) (Override, error) {
	return s.record(ctx, d, Override{Status: StatusSkipped})
}

func (s *Store) record(ctx context.Context, d Dose, o Override) (Override, error) {
	ctx, span := s.tracer.Start(ctx, "dose_store_record",
		trace.WithAttributes(
			attribute.String("dose_key", d.ID),
			attribute.String("status", string(o.Status)),
		))
	defer span.End()

	s.mu.Lock()
	s.cache[d.ID] = o
	s.mu.Unlock()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rec := OverrideRecord{
		Key:           d.ID,
		UserID:        d.UserID,
		ScheduleID:    d.ScheduleID,
		MedicationID:  d.MedicationID,
		ScheduledTime: d.ScheduledTime,
		Status:        o.Status,
		TakenAt:       o.TakenAt,
		UpdatedAt:     s.now(),
	}
	if err := s.repo.PutOverride(ctx, rec); err != nil {
		s.logger.Error("failed to persist dose override",
			zap.String("dose_key", d.ID),
			zap.String("user_id", d.UserID),
			zap.String("status", string(o.Status)),
			zap.Error(err))
		span.RecordError(err)
		return o, fmt.Errorf("%w: %s: %v", ErrPersistence, d.ID, err)
	}

	s.logger.Info("dose override saved",
		zap.String("dose_key", d.ID),
		zap.String("status", string(o.Status)))
	return o, nil
}

// Lookup returns the cached override for a dose key
func (s *Store) Lookup(key string) (Override, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.cache[key]
	return o, ok
}

// Len returns the number of cached overrides
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}

// Clear drops every cached override
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]Override)
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.config.Timeout)
}
