// Package firestore implements the medication, schedule and dose override
// repositories on Cloud Firestore.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/carelink/pillwise/internal/domain/dose"
	"github.com/carelink/pillwise/internal/domain/medication"
	"github.com/carelink/pillwise/internal/domain/schedule"
)

// Collection names
const (
	MedicationsCollection  = "medications"
	SchedulesCollection    = "schedules"
	DoseStatusesCollection = "doseStatuses"
)

// Store reads and writes the adherence documents of every user
type Store struct {
	client *firestore.Client
	logger *zap.Logger
}

// New wraps an existing client
func New(client *firestore.Client, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{client: client, logger: logger}
}

// ListMedicationsByUser returns a user's medications, newest first
func (s *Store) ListMedicationsByUser(ctx context.Context, userID string) ([]medication.Medication, error) {
	iter := s.client.Collection(MedicationsCollection).Where("userId", "==", userID).Documents(ctx)
	defer iter.Stop()

	var meds []medication.Medication
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("while listing medications of %q: %w", userID, err)
		}
		var m medication.Medication
		if err := snap.DataTo(&m); err != nil {
			return nil, fmt.Errorf("while decoding medication %q: %w", snap.Ref.ID, err)
		}
		m.ID = snap.Ref.ID
		meds = append(meds, m)
	}

	// ordering server side would need a composite index
	sort.SliceStable(meds, func(i, j int) bool { return meds[i].AddedAt.After(meds[j].AddedAt) })
	return meds, nil
}

// ListSchedulesByUser returns a user's active schedules
func (s *Store) ListSchedulesByUser(ctx context.Context, userID string) ([]schedule.Schedule, error) {
	iter := s.client.Collection(SchedulesCollection).
		Where("userId", "==", userID).
		Where("isActive", "==", true).
		Documents(ctx)
	defer iter.Stop()

	var schedules []schedule.Schedule
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("while listing schedules of %q: %w", userID, err)
		}
		var sc schedule.Schedule
		if err := snap.DataTo(&sc); err != nil {
			return nil, fmt.Errorf("while decoding schedule %q: %w", snap.Ref.ID, err)
		}
		sc.ID = snap.Ref.ID
		schedules = append(schedules, sc)
	}
	return schedules, nil
}

// UpdateMedicationQuantity sets the remaining quantity of a medication
func (s *Store) UpdateMedicationQuantity(ctx context.Context, id string, qty int) error {
	if qty < 0 {
		return medication.ErrNegativeQuantity
	}
	_, err := s.client.Collection(MedicationsCollection).Doc(id).Update(ctx, []firestore.Update{
		{Path: "currentQuantity", Value: qty},
	})
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%w: %s", medication.ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("while updating quantity of %q: %w", id, err)
	}
	return nil
}

// CreateMedication validates and stores a medication under a generated id
func (s *Store) CreateMedication(ctx context.Context, m *medication.Medication) error {
	if err := medication.Validate(m); err != nil {
		return err
	}
	if m.AddedAt.IsZero() {
		m.AddedAt = time.Now().UTC()
	}
	ref, _, err := s.client.Collection(MedicationsCollection).Add(ctx, m)
	if err != nil {
		return fmt.Errorf("while storing medication: %w", err)
	}
	m.ID = ref.ID
	s.logger.Info("medication created", zap.String("id", m.ID), zap.String("user_id", m.UserID))
	return nil
}

// CreateSchedule validates and stores a schedule under a generated id
func (s *Store) CreateSchedule(ctx context.Context, sc *schedule.Schedule) error {
	if err := schedule.Validate(sc); err != nil {
		return err
	}
	sc.Times = sc.SortedTimes()
	ref, _, err := s.client.Collection(SchedulesCollection).Add(ctx, sc)
	if err != nil {
		return fmt.Errorf("while storing schedule: %w", err)
	}
	sc.ID = ref.ID
	return nil
}

// doseStatusDoc is the stored form of an override; the document id is the dose key
type doseStatusDoc struct {
	UserID        string     `firestore:"userId"`
	ScheduleID    string     `firestore:"scheduleId"`
	MedicationID  string     `firestore:"medicationId"`
	ScheduledTime time.Time  `firestore:"scheduledTime"`
	Status        string     `firestore:"status"`
	TakenAt       *time.Time `firestore:"takenAt"`
	UpdatedAt     time.Time  `firestore:"updatedAt"`
}

// ListOverridesByUser returns every override of a user ordered by scheduled time
func (s *Store) ListOverridesByUser(ctx context.Context, userID string) ([]dose.OverrideRecord, error) {
	iter := s.client.Collection(DoseStatusesCollection).Where("userId", "==", userID).Documents(ctx)
	defer iter.Stop()

	var records []dose.OverrideRecord
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("while listing dose statuses of %q: %w", userID, err)
		}
		var doc doseStatusDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("while decoding dose status %q: %w", snap.Ref.ID, err)
		}
		records = append(records, dose.OverrideRecord{
			Key:           snap.Ref.ID,
			UserID:        doc.UserID,
			ScheduleID:    doc.ScheduleID,
			MedicationID:  doc.MedicationID,
			ScheduledTime: doc.ScheduledTime,
			Status:        dose.Status(doc.Status),
			TakenAt:       doc.TakenAt,
			UpdatedAt:     doc.UpdatedAt,
		})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ScheduledTime.Before(records[j].ScheduledTime) })
	return records, nil
}

// PutOverride writes an override document keyed by its dose key
func (s *Store) PutOverride(ctx context.Context, rec dose.OverrideRecord) error {
	if rec.Key == "" {
		return errors.New("override has no dose key")
	}
	doc := doseStatusDoc{
		UserID:        rec.UserID,
		ScheduleID:    rec.ScheduleID,
		MedicationID:  rec.MedicationID,
		ScheduledTime: rec.ScheduledTime,
		Status:        string(rec.Status),
		TakenAt:       rec.TakenAt,
		UpdatedAt:     rec.UpdatedAt,
	}
	if _, err := s.client.Collection(DoseStatusesCollection).Doc(rec.Key).Set(ctx, doc); err != nil {
		return fmt.Errorf("while storing dose status %q: %w", rec.Key, err)
	}
	return nil
}

var (
	_ medication.Store        = (*Store)(nil)
	_ dose.OverrideRepository = (*Store)(nil)
)
