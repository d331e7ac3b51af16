package dose

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type failingRepository struct {
	listErr error
	putErr  error
	puts    []OverrideRecord
}

func (f *failingRepository) ListOverridesByUser(context.Context, string) ([]OverrideRecord, error) {
	return nil, f.listErr
}

func (f *failingRepository) PutOverride(_ context.Context, rec OverrideRecord) error {
	f.puts = append(f.puts, rec)
	return f.putErr
}

func seed(t *testing.T, repo *MemoryRepository, key string, at time.Time, status Status) {
	t.Helper()
	err := repo.PutOverride(context.Background(), OverrideRecord{
		Key:           key,
		UserID:        "user-1",
		ScheduleID:    "s",
		ScheduledTime: at,
		Status:        status,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestPreloadFiltersRangeInclusive(t *testing.T) {
	repo := NewMemoryRepository()
	start := time.Date(2024, time.May, 13, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, time.May, 19, 23, 59, 59, 0, time.UTC)

	seed(t, repo, "s_2024-05-12_08:00", start.Add(-time.Minute), StatusTaken)
	seed(t, repo, "s_2024-05-13_00:00", start, StatusTaken)
	seed(t, repo, "s_2024-05-16_08:00", start.AddDate(0, 0, 3).Add(8*time.Hour), StatusSkipped)
	seed(t, repo, "s_2024-05-19_23:59", end, StatusTaken)
	seed(t, repo, "s_2024-05-20_08:00", end.Add(time.Hour), StatusTaken)

	store := NewStore(repo, DefaultStoreConfig(), nil)
	if err := store.Preload(context.Background(), "user-1", start, end); err != nil {
		t.Fatalf("Preload: %v", err)
	}

	if store.Len() != 3 {
		t.Errorf("expected 3 cached overrides, got %d", store.Len())
	}
	for _, key := range []string{"s_2024-05-12_08:00", "s_2024-05-20_08:00"} {
		if _, ok := store.Lookup(key); ok {
			t.Errorf("override %s outside range was cached", key)
		}
	}
	if o, ok := store.Lookup("s_2024-05-16_08:00"); !ok || o.Status != StatusSkipped {
		t.Errorf("expected skipped override, got %+v (found=%v)", o, ok)
	}
}

func TestPreloadIgnoresOtherUsers(t *testing.T) {
	repo := NewMemoryRepository()
	at := time.Date(2024, time.May, 14, 8, 0, 0, 0, time.UTC)
	_ = repo.PutOverride(context.Background(), OverrideRecord{Key: "k", UserID: "someone-else", ScheduledTime: at, Status: StatusTaken})

	store := NewStore(repo, DefaultStoreConfig(), nil)
	if err := store.Preload(context.Background(), "user-1", at.AddDate(0, 0, -1), at.AddDate(0, 0, 1)); err != nil {
		t.Fatalf("Preload: %v", err)
	}
	if store.Len() != 0 {
		t.Errorf("expected empty cache, got %d", store.Len())
	}
}

func TestPreloadFailureKeepsCache(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	repo := &failingRepository{listErr: errors.New("unavailable")}
	store := NewStore(repo, DefaultStoreConfig(), zap.New(core))

	store.cache["existing"] = Override{Status: StatusTaken}

	err := store.Preload(context.Background(), "user-1", time.Now().Add(-time.Hour), time.Now())
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if _, ok := store.Lookup("existing"); !ok {
		t.Error("failed preload dropped existing cache entries")
	}
	if logs.FilterMessage("failed to load dose overrides").Len() != 1 {
		t.Errorf("expected one error log, got %v", logs.All())
	}
}

func TestRecordTakenPersists(t *testing.T) {
	now := time.Date(2024, time.May, 15, 8, 17, 0, 0, time.UTC)
	repo := NewMemoryRepository()
	store := NewStore(repo, DefaultStoreConfig(), nil, WithClock(fixedClock(now)))

	d := Dose{
		ID:            "sched-1_2024-05-15_08:00",
		ScheduleID:    "sched-1",
		MedicationID:  "med-1",
		UserID:        "user-1",
		ScheduledTime: time.Date(2024, time.May, 15, 8, 0, 0, 0, time.UTC),
	}
	o, err := store.RecordTaken(context.Background(), d)
	if err != nil {
		t.Fatalf("RecordTaken: %v", err)
	}
	if o.Status != StatusTaken || o.TakenAt == nil || !o.TakenAt.Equal(now) {
		t.Errorf("unexpected override %+v", o)
	}

	records, _ := repo.ListOverridesByUser(context.Background(), "user-1")
	want := []OverrideRecord{{
		Key:           d.ID,
		UserID:        "user-1",
		ScheduleID:    "sched-1",
		MedicationID:  "med-1",
		ScheduledTime: d.ScheduledTime,
		Status:        StatusTaken,
		TakenAt:       &now,
		UpdatedAt:     now,
	}}
	if diff := cmp.Diff(want, records); diff != "" {
		t.Errorf("persisted record mismatch (-want +got):\n%s", diff)
	}
}

func TestRecordSkippedHasNoTakenAt(t *testing.T) {
	store := NewStore(NewMemoryRepository(), DefaultStoreConfig(), nil)
	o, err := store.RecordSkipped(context.Background(), Dose{ID: "k", UserID: "user-1"})
	if err != nil {
		t.Fatalf("RecordSkipped: %v", err)
	}
	if o.Status != StatusSkipped || o.TakenAt != nil {
		t.Errorf("unexpected override %+v", o)
	}
}

func TestRecordFailureKeepsLocalStatus(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	repo := &failingRepository{putErr: errors.New("write timeout")}
	store := NewStore(repo, DefaultStoreConfig(), zap.New(core))

	_, err := store.RecordTaken(context.Background(), Dose{ID: "k", UserID: "user-1"})
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if o, ok := store.Lookup("k"); !ok || o.Status != StatusTaken {
		t.Errorf("local status not kept after failed write: %+v", o)
	}

	entries := logs.FilterMessage("failed to persist dose override").All()
	if len(entries) != 1 {
		t.Fatalf("expected one error log, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["dose_key"]; got != "k" {
		t.Errorf("dose_key field = %v", got)
	}
}

func TestRecordAppliesTimeout(t *testing.T) {
	var deadline bool
	repo := &deadlineRepository{seen: &deadline}
	store := NewStore(repo, StoreConfig{Timeout: time.Second}, nil)

	if _, err := store.RecordSkipped(context.Background(), Dose{ID: "k"}); err != nil {
		t.Fatalf("RecordSkipped: %v", err)
	}
	if !deadline {
		t.Error("repository call had no deadline")
	}
}

type deadlineRepository struct {
	seen *bool
}

func (d *deadlineRepository) ListOverridesByUser(context.Context, string) ([]OverrideRecord, error) {
	return nil, nil
}

func (d *deadlineRepository) PutOverride(ctx context.Context, _ OverrideRecord) error {
	_, *d.seen = ctx.Deadline()
	return nil
}

func TestClear(t *testing.T) {
	store := NewStore(NewMemoryRepository(), DefaultStoreConfig(), nil)
	_, _ = store.RecordSkipped(context.Background(), Dose{ID: "k"})
	store.Clear()
	if store.Len() != 0 {
		t.Errorf("expected empty cache after Clear, got %d", store.Len())
	}
}
