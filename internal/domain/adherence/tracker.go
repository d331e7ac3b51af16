// Package adherence ties schedules, dose overrides, stock and interaction
// checks together for one user at a time. It backs the HTTP API and the
// alert worker.
package adherence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/carelink/pillwise/internal/domain/alert"
	"github.com/carelink/pillwise/internal/domain/dose"
	"github.com/carelink/pillwise/internal/domain/interaction"
	"github.com/carelink/pillwise/internal/domain/inventory"
	"github.com/carelink/pillwise/internal/domain/medication"
	"github.com/carelink/pillwise/internal/domain/schedule"
)

// ErrDoseNotFound means the key names no dose the schedule produces on that day
var ErrDoseNotFound = errors.New("dose not found")

// Config holds tracker configuration
type Config struct {
	// Location defines calendar days
	Location    *time.Location
	GraceWindow time.Duration
	// Timeout bounds every repository call
	Timeout time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Location:    time.Local,
		GraceWindow: dose.DefaultGraceWindow,
		Timeout:     10 * time.Second,
	}
}

// Option configures a Tracker
type Option func(*Tracker)

// WithClock overrides the wall clock
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithLedger enables stock decrements on taken doses
func WithLedger(l *inventory.Ledger) Option {
	return func(t *Tracker) { t.ledger = l }
}

// Tracker answers per-user adherence queries
type Tracker struct {
	meds      medication.Store
	store     *dose.Store
	ledger    *inventory.Ledger
	checker   *interaction.Checker
	evaluator *alert.Evaluator
	config    Config
	now       func() time.Time
	logger    *zap.Logger
	tracer    trace.Tracer
}

// New creates a tracker. A nil checker or evaluator uses the defaults.
func New(cfg Config, meds medication.Store, overrides dose.OverrideRepository, checker *interaction.Checker, evaluator *alert.Evaluator, logger *zap.Logger, opts ...Option) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if checker == nil {
		checker = interaction.NewChecker(nil)
	}
	if evaluator == nil {
		evaluator = alert.NewEvaluator(alert.DefaultConfig(), checker, logger)
	}

	t := &Tracker{
		meds:      meds,
		checker:   checker,
		evaluator: evaluator,
		config:    cfg,
		now:       time.Now,
		logger:    logger,
		tracer:    otel.Tracer("adherence-tracker"),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.store = dose.NewStore(overrides, dose.StoreConfig{Timeout: cfg.Timeout}, logger.Named("dose-store"), dose.WithClock(t.now))
	return t
}

// Now returns the current time in the tracker's location
func (t *Tracker) Now() time.Time {
	return t.now().In(t.config.Location)
}

// Location returns the location calendar days are evaluated in
func (t *Tracker) Location() *time.Location {
	return t.config.Location
}

type snapshot struct {
	meds      []medication.Medication
	schedules []schedule.Schedule
}

func (t *Tracker) load(ctx context.Context, userID string) (snapshot, error) {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()

	meds, err := t.meds.ListMedicationsByUser(ctx, userID)
	if err != nil {
		return snapshot{}, fmt.Errorf("list medications: %w", err)
	}
	schedules, err := t.meds.ListSchedulesByUser(ctx, userID)
	if err != nil {
		return snapshot{}, fmt.Errorf("list schedules: %w", err)
	}
	if t.ledger != nil {
		meds = t.ledger.Overlay(meds)
	}
	return snapshot{meds: meds, schedules: schedule.ActiveOnly(schedules)}, nil
}

// preload warms the override cache for [from, from+days). A failure degrades
// to time-based inference and is not returned.
func (t *Tracker) preload(ctx context.Context, userID string, from time.Time, days int) {
	start := schedule.DayStart(from, t.config.Location)
	end := start.AddDate(0, 0, days).Add(-time.Nanosecond)
	_ = t.store.Preload(ctx, userID, start, end)
}

func (t *Tracker) generator() *dose.Generator {
	return dose.NewGenerator(t.store, dose.WithClock(t.now), dose.WithGraceWindow(t.config.GraceWindow))
}

// Doses returns the doses of date's calendar day
func (t *Tracker) Doses(ctx context.Context, userID string, date time.Time) ([]dose.Dose, error) {
	ctx, span := t.tracer.Start(ctx, "adherence_doses",
		trace.WithAttributes(attribute.String("user_id", userID)))
	defer span.End()

	snap, err := t.load(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	date = date.In(t.config.Location)
	t.preload(ctx, userID, date, 1)
	return t.generator().ForDate(snap.schedules, snap.meds, date, userID), nil
}

// Week returns seven days of doses starting today, keyed by yyyy-MM-dd
func (t *Tracker) Week(ctx context.Context, userID string) (map[string][]dose.Dose, error) {
	ctx, span := t.tracer.Start(ctx, "adherence_week",
		trace.WithAttributes(attribute.String("user_id", userID)))
	defer span.End()

	snap, err := t.load(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	today := t.Now()
	t.preload(ctx, userID, today, dose.WeekLength)

	week := make(map[string][]dose.Dose, dose.WeekLength)
	for _, day := range t.generator().WeekFrom(snap.schedules, snap.meds, today, userID) {
		week[day.Date] = day.Doses
	}
	return week, nil
}

// Progress aggregates date's doses
func (t *Tracker) Progress(ctx context.Context, userID string, date time.Time) (dose.Progress, error) {
	doses, err := t.Doses(ctx, userID, date)
	if err != nil {
		return dose.Progress{}, err
	}
	return dose.CalculateProgress(doses), nil
}

// RecordResult describes an explicit dose action
type RecordResult struct {
	Dose dose.Dose `json:"dose"`
	// Persisted is false when the override only reached the local cache
	Persisted bool `json:"persisted"`
	// Quantity is the remaining stock after a take, when it changed
	Quantity *int `json:"quantity,omitempty"`
}

// Record applies a taken or skipped action to the dose with the given key
func (t *Tracker) Record(ctx context.Context, userID, key string, status dose.Status) (*RecordResult, error) {
	ctx, span := t.tracer.Start(ctx, "adherence_record",
		trace.WithAttributes(
			attribute.String("user_id", userID),
			attribute.String("dose_key", key),
			attribute.String("status", string(status)),
		))
	defer span.End()

	parts, err := dose.ParseKey(key)
	if err != nil {
		return nil, err
	}
	snap, err := t.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	found := false
	for _, s := range snap.schedules {
		if s.ID == parts.ScheduleID {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", dose.ErrScheduleNotFound, parts.ScheduleID)
	}

	date := parts.DateIn(t.config.Location)
	t.preload(ctx, userID, date, 1)
	d := dose.Find(t.generator().ForDate(snap.schedules, snap.meds, date, userID), key)
	if d == nil {
		return nil, fmt.Errorf("%w: %s", ErrDoseNotFound, key)
	}
	if err := dose.Transition(d.Status, status); err != nil {
		return nil, err
	}

	var o dose.Override
	if status == dose.StatusTaken {
		o, err = t.store.RecordTaken(ctx, *d)
	} else {
		o, err = t.store.RecordSkipped(ctx, *d)
	}
	result := &RecordResult{Persisted: err == nil}
	if err != nil {
		span.RecordError(err)
	}
	d.Status, d.TakenAt = o.Status, o.TakenAt
	result.Dose = *d

	if status == dose.StatusTaken && t.ledger != nil && d.Medication != nil {
		qty, changed, err := t.ledger.Decrement(*d.Medication)
		if err != nil {
			t.logger.Warn("stock decrement not scheduled",
				zap.String("medication_id", d.MedicationID),
				zap.Error(err))
		} else if changed {
			result.Quantity = &qty
		}
	}
	return result, nil
}

// AddMedication stores a new medication owned by userID
func (t *Tracker) AddMedication(ctx context.Context, userID string, m *medication.Medication) error {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	m.UserID = userID
	if err := t.meds.CreateMedication(ctx, m); err != nil {
		return fmt.Errorf("create medication: %w", err)
	}
	t.logger.Info("medication added",
		zap.String("user_id", userID),
		zap.String("medication_id", m.ID))
	return nil
}

// AddSchedule stores a new schedule for one of the user's medications.
// A zero start date means today.
func (t *Tracker) AddSchedule(ctx context.Context, userID string, s *schedule.Schedule) error {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	s.UserID = userID
	if s.MedicationID == "" {
		return schedule.ErrMissingMedicine
	}
	meds, err := t.meds.ListMedicationsByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("list medications: %w", err)
	}
	owned := false
	for _, m := range meds {
		if m.ID == s.MedicationID {
			owned = true
			break
		}
	}
	if !owned {
		return fmt.Errorf("%w: %s", medication.ErrNotFound, s.MedicationID)
	}
	if s.StartDate.IsZero() {
		now := t.Now()
		s.StartDate = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, t.config.Location)
	}
	if err := t.meds.CreateSchedule(ctx, s); err != nil {
		return fmt.Errorf("create schedule: %w", err)
	}
	t.logger.Info("schedule added",
		zap.String("user_id", userID),
		zap.String("medication_id", s.MedicationID),
		zap.String("schedule_id", s.ID))
	return nil
}

// Interactions returns every interaction among the user's medications
func (t *Tracker) Interactions(ctx context.Context, userID string) ([]interaction.Rule, error) {
	snap, err := t.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return t.checker.CheckAll(snap.meds), nil
}

// CheckSubstance checks a candidate active substance against the user's medications
func (t *Tracker) CheckSubstance(ctx context.Context, userID, substance string) (interaction.Result, error) {
	snap, err := t.load(ctx, userID)
	if err != nil {
		return interaction.Result{}, err
	}
	existing := make([]string, len(snap.meds))
	for i, m := range snap.meds {
		existing[i] = m.ActiveSubstance
	}
	return t.checker.CheckSubstances(substance, existing), nil
}

// Alerts evaluates caregiver alerts over the user's medications and today's doses
func (t *Tracker) Alerts(ctx context.Context, senior alert.Senior) ([]alert.Alert, error) {
	ctx, span := t.tracer.Start(ctx, "adherence_alerts",
		trace.WithAttributes(attribute.String("user_id", senior.ID)))
	defer span.End()

	snap, err := t.load(ctx, senior.ID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	now := t.Now()
	t.preload(ctx, senior.ID, now, 1)
	doses := t.generator().ForDate(snap.schedules, snap.meds, now, senior.ID)
	return t.evaluator.Evaluate(senior, snap.meds, doses, now), nil
}

func (t *Tracker) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.config.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, t.config.Timeout)
}
