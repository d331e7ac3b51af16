package medication

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/carelink/pillwise/internal/domain/schedule"
	"github.com/carelink/pillwise/internal/infrastructure/postgres"
)

// Store is the medication/schedule persistence collaborator
type Store interface {
	ListMedicationsByUser(ctx context.Context, userID string) ([]Medication, error)
	// ListSchedulesByUser returns only active schedules.
	ListSchedulesByUser(ctx context.Context, userID string) ([]schedule.Schedule, error)
	UpdateMedicationQuantity(ctx context.Context, id string, qty int) error
	// CreateMedication and CreateSchedule validate, then store under a new id
	CreateMedication(ctx context.Context, m *Medication) error
	CreateSchedule(ctx context.Context, s *schedule.Schedule) error
}

// Repository is the Postgres implementation of Store
type Repository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{pool: pool, logger: logger}
}

// ListMedicationsByUser returns a user's medications, newest first
func (r *Repository) ListMedicationsByUser(ctx context.Context, userID string) ([]Medication, error) {
	query := `
		SELECT id, user_id, barcode, name, active_substance, dosage, form,
		       package_size, current_quantity, manufacturer, expiration_date, added_at
		FROM medications
		WHERE user_id = $1
		ORDER BY added_at DESC
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query medications: %w", err)
	}
	defer rows.Close()

	var meds []Medication
	for rows.Next() {
		var m Medication
		err := rows.Scan(
			&m.ID, &m.UserID, &m.Barcode, &m.Name, &m.ActiveSubstance, &m.Dosage, &m.Form,
			&m.PackageSize, &m.CurrentQuantity, &m.Manufacturer, &m.ExpirationDate, &m.AddedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan medication: %w", err)
		}
		meds = append(meds, m)
	}
	return meds, rows.Err()
}

// ListSchedulesByUser returns a user's active schedules
func (r *Repository) ListSchedulesByUser(ctx context.Context, userID string) ([]schedule.Schedule, error) {
	query := `
		SELECT id, medication_id, user_id, times, days_of_week, dosage_amount,
		       start_date, end_date, reminder_minutes_before, is_active
		FROM schedules
		WHERE user_id = $1 AND is_active
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query schedules: %w", err)
	}
	defer rows.Close()

	var schedules []schedule.Schedule
	for rows.Next() {
		var s schedule.Schedule
		var days []int32
		err := rows.Scan(
			&s.ID, &s.MedicationID, &s.UserID, &s.Times, &days, &s.DosageAmount,
			&s.StartDate, &s.EndDate, &s.ReminderMinutes, &s.IsActive,
		)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		for _, d := range days {
			s.DaysOfWeek = append(s.DaysOfWeek, int(d))
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

// UpdateMedicationQuantity sets the remaining quantity of a medication and
// records a StockAdjusted event in the outbox within the same transaction.
func (r *Repository) UpdateMedicationQuantity(ctx context.Context, id string, qty int) error {
	if qty < 0 {
		return ErrNegativeQuantity
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// the self join exposes the row as it was before the update
	query := `
		UPDATE medications m
		SET current_quantity = $1, updated_at = NOW()
		FROM medications old
		WHERE m.id = $2 AND old.id = m.id
		RETURNING m.user_id, old.current_quantity
	`
	var userID string
	var previous int
	err = tx.QueryRow(ctx, query, qty, id).Scan(&userID, &previous)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("update quantity: %w", err)
	}

	payload, err := json.Marshal(&StockAdjustedEvent{
		ID:           uuid.New().String(),
		MedicationID: id,
		UserID:       userID,
		EventType:    EventStockAdjusted,
		Quantity:     qty,
		Delta:        qty - previous,
		Timestamp:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	entry := &postgres.OutboxEntry{
		AggregateID:   id,
		AggregateType: "Medication",
		EventType:     EventStockAdjusted,
		Payload:       payload,
		KafkaTopic:    StockEventsTopic,
		KafkaKey:      userID,
	}
	if err := postgres.WriteEntry(ctx, tx, entry); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// CreateMedication validates and inserts a medication
func (r *Repository) CreateMedication(ctx context.Context, m *Medication) error {
	if err := Validate(m); err != nil {
		return err
	}
	query := `
		INSERT INTO medications
		(user_id, barcode, name, active_substance, dosage, form, package_size,
		 current_quantity, manufacturer, expiration_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, added_at
	`
	err := r.pool.QueryRow(ctx, query,
		m.UserID, m.Barcode, m.Name, m.ActiveSubstance, m.Dosage, m.Form, m.PackageSize,
		m.CurrentQuantity, m.Manufacturer, m.ExpirationDate,
	).Scan(&m.ID, &m.AddedAt)
	if err != nil {
		return fmt.Errorf("insert medication: %w", err)
	}
	r.logger.Info("medication created", zap.String("id", m.ID), zap.String("user_id", m.UserID))
	return nil
}

// CreateSchedule validates and inserts a schedule
func (r *Repository) CreateSchedule(ctx context.Context, s *schedule.Schedule) error {
	if err := schedule.Validate(s); err != nil {
		return err
	}
	days := make([]int32, len(s.DaysOfWeek))
	for i, d := range s.DaysOfWeek {
		days[i] = int32(d)
	}
	query := `
		INSERT INTO schedules
		(medication_id, user_id, times, days_of_week, dosage_amount, start_date,
		 end_date, reminder_minutes_before, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	err := r.pool.QueryRow(ctx, query,
		s.MedicationID, s.UserID, s.SortedTimes(), days, s.DosageAmount, s.StartDate,
		s.EndDate, s.ReminderMinutes, s.IsActive,
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

var (
	_ Store = (*Repository)(nil)
	_ Store = (*MemoryStore)(nil)
)
