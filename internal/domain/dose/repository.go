package dose

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/carelink/pillwise/internal/infrastructure/postgres"
)

// PostgresRepository persists overrides and publishes dose events through the outbox
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresRepository creates a new repository
func NewPostgresRepository(pool *pgxpool.Pool, logger *zap.Logger) *PostgresRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresRepository{pool: pool, logger: logger}
}

// ListOverridesByUser returns every override recorded by a user
func (r *PostgresRepository) ListOverridesByUser(ctx context.Context, userID string) ([]OverrideRecord, error) {
	query := `
		SELECT dose_key, user_id, schedule_id, medication_id, scheduled_time,
		       status, taken_at, updated_at
		FROM dose_overrides
		WHERE user_id = $1
		ORDER BY scheduled_time ASC
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query overrides: %w", err)
	}
	defer rows.Close()

	var records []OverrideRecord
	for rows.Next() {
		var rec OverrideRecord
		err := rows.Scan(
			&rec.Key, &rec.UserID, &rec.ScheduleID, &rec.MedicationID,
			&rec.ScheduledTime, &rec.Status, &rec.TakenAt, &rec.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan override: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// PutOverride upserts an override and writes its event to the outbox in the same transaction
func (r *PostgresRepository) PutOverride(ctx context.Context, rec OverrideRecord) error {
	event, err := EventForOverride(rec)
	if err != nil {
		return fmt.Errorf("build event: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO dose_overrides
		(dose_key, user_id, schedule_id, medication_id, scheduled_time, status, taken_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (dose_key) DO UPDATE
		SET status = EXCLUDED.status, taken_at = EXCLUDED.taken_at, updated_at = EXCLUDED.updated_at
	`
	_, err = tx.Exec(ctx, query,
		rec.Key, rec.UserID, rec.ScheduleID, rec.MedicationID,
		rec.ScheduledTime, rec.Status, rec.TakenAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert override: %w", err)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	entry := &postgres.OutboxEntry{
		AggregateID:   event.AggregateID,
		AggregateType: event.AggregateType,
		EventType:     string(event.EventType),
		Payload:       payload,
		KafkaTopic:    EventsTopic,
		KafkaKey:      rec.UserID,
	}
	if err := postgres.WriteEntry(ctx, tx, entry); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	r.logger.Debug("override persisted",
		zap.String("dose_key", rec.Key),
		zap.Int64("outbox_id", entry.ID))
	return nil
}
