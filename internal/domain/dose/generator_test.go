package dose

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/carelink/pillwise/internal/domain/medication"
	"github.com/carelink/pillwise/internal/domain/schedule"
)

var warsaw = mustLoad("Europe/Warsaw")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone(name, 3600)
	}
	return loc
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func everyDay(id, medID string, start time.Time, times ...string) schedule.Schedule {
	return schedule.Schedule{
		ID:           id,
		MedicationID: medID,
		UserID:       "user-1",
		Times:        times,
		DosageAmount: "1 tablet",
		StartDate:    start,
		IsActive:     true,
	}
}

func TestForDateEndToEndGraceBoundary(t *testing.T) {
	now := time.Date(2024, time.May, 15, 9, 0, 0, 0, warsaw)
	yesterday := now.AddDate(0, 0, -1)

	schedules := []schedule.Schedule{everyDay("sched-1", "med-1", yesterday, "08:00", "20:00")}
	meds := []medication.Medication{{ID: "med-1", Name: "Apap", ActiveSubstance: "Paracetamol"}}

	g := NewGenerator(nil, WithClock(fixedClock(now)))
	doses := g.ForDate(schedules, meds, now, "user-1")

	if len(doses) != 2 {
		t.Fatalf("expected 2 doses, got %d", len(doses))
	}
	if doses[0].ID != "sched-1_2024-05-15_08:00" {
		t.Errorf("first dose key = %s", doses[0].ID)
	}
	if doses[0].Status != StatusPending {
		t.Errorf("08:00 dose one hour late should be pending, got %s", doses[0].Status)
	}
	if doses[1].Status != StatusPending {
		t.Errorf("20:00 dose should be pending, got %s", doses[1].Status)
	}
	if doses[0].Medication == nil || doses[0].Medication.Name != "Apap" {
		t.Errorf("medication not attached: %+v", doses[0].Medication)
	}
	if doses[0].DosageAmount != "1 tablet" {
		t.Errorf("dosage not copied: %q", doses[0].DosageAmount)
	}
}

func TestForDateGraceWindow(t *testing.T) {
	now := time.Date(2024, time.May, 15, 14, 0, 0, 0, time.UTC)
	start := now.AddDate(0, 0, -3)

	// 12:30 is 90 minutes ago, 11:30 is 150 minutes ago
	schedules := []schedule.Schedule{everyDay("s", "m", start, "12:30", "11:30")}
	g := NewGenerator(nil, WithClock(fixedClock(now)))
	doses := g.ForDate(schedules, nil, now, "user-1")

	got := map[string]Status{}
	for _, d := range doses {
		got[d.ScheduledTime.Format("15:04")] = d.Status
	}
	want := map[string]Status{"11:30": StatusMissed, "12:30": StatusPending}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}
}

func TestForDateExactlyAtGraceBoundaryIsPending(t *testing.T) {
	now := time.Date(2024, time.May, 15, 10, 0, 0, 0, time.UTC)
	schedules := []schedule.Schedule{everyDay("s", "m", now.AddDate(0, 0, -1), "08:00")}
	g := NewGenerator(nil, WithClock(fixedClock(now)))

	doses := g.ForDate(schedules, nil, now, "user-1")
	if doses[0].Status != StatusPending {
		t.Errorf("dose exactly two hours old should still be pending, got %s", doses[0].Status)
	}
}

func TestForDatePastDayIsMissed(t *testing.T) {
	now := time.Date(2024, time.May, 15, 0, 10, 0, 0, time.UTC)
	yesterday := now.AddDate(0, 0, -1)
	schedules := []schedule.Schedule{everyDay("s", "m", yesterday.AddDate(0, 0, -5), "23:30")}
	g := NewGenerator(nil, WithClock(fixedClock(now)))

	doses := g.ForDate(schedules, nil, yesterday, "user-1")
	if len(doses) != 1 || doses[0].Status != StatusMissed {
		t.Fatalf("yesterday's dose should be missed regardless of grace, got %+v", doses)
	}
}

func TestForDateFutureDayIsPending(t *testing.T) {
	now := time.Date(2024, time.May, 15, 22, 0, 0, 0, time.UTC)
	schedules := []schedule.Schedule{everyDay("s", "m", now, "06:00")}
	g := NewGenerator(nil, WithClock(fixedClock(now)))

	doses := g.ForDate(schedules, nil, now.AddDate(0, 0, 1), "user-1")
	if len(doses) != 1 || doses[0].Status != StatusPending {
		t.Fatalf("tomorrow's dose should be pending, got %+v", doses)
	}
}

func TestForDateIdempotent(t *testing.T) {
	now := time.Date(2024, time.May, 15, 13, 0, 0, 0, time.UTC)
	schedules := []schedule.Schedule{
		everyDay("b", "m2", now.AddDate(0, 0, -2), "21:00", "07:00"),
		everyDay("a", "m1", now.AddDate(0, 0, -2), "12:00"),
	}
	meds := []medication.Medication{{ID: "m1", Name: "One"}, {ID: "m2", Name: "Two"}}

	g := NewGenerator(nil, WithClock(fixedClock(now)))
	first := g.ForDate(schedules, meds, now, "user-1")
	second := g.ForDate(schedules, meds, now, "user-1")

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("generation not idempotent (-first +second):\n%s", diff)
	}
}

func TestForDateSortedAndDoesNotMutateInput(t *testing.T) {
	now := time.Date(2024, time.May, 15, 5, 0, 0, 0, time.UTC)
	schedules := []schedule.Schedule{
		everyDay("b", "m", now.AddDate(0, 0, -1), "21:00", "07:00"),
		everyDay("a", "m", now.AddDate(0, 0, -1), "12:00"),
	}
	meds := []medication.Medication{{ID: "m", Name: "Med", CurrentQuantity: 10}}
	before := append([]schedule.Schedule(nil), schedules...)

	g := NewGenerator(nil, WithClock(fixedClock(now)))
	doses := g.ForDate(schedules, meds, now, "user-1")

	var order []string
	for _, d := range doses {
		order = append(order, d.ScheduledTime.Format("15:04"))
	}
	if diff := cmp.Diff([]string{"07:00", "12:00", "21:00"}, order); diff != "" {
		t.Errorf("doses not sorted (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(before, schedules); diff != "" {
		t.Errorf("input schedules mutated:\n%s", diff)
	}

	doses[0].Medication.CurrentQuantity = 0
	if meds[0].CurrentQuantity != 10 {
		t.Error("dose medication aliases the input slice")
	}
}

func TestForDateMissingMedication(t *testing.T) {
	now := time.Date(2024, time.May, 15, 5, 0, 0, 0, time.UTC)
	schedules := []schedule.Schedule{everyDay("s", "deleted-med", now, "08:00")}
	g := NewGenerator(nil, WithClock(fixedClock(now)))

	doses := g.ForDate(schedules, nil, now, "user-1")
	if len(doses) != 1 {
		t.Fatalf("expected a dose for a dangling medication reference, got %d", len(doses))
	}
	if doses[0].Medication != nil {
		t.Error("expected nil medication")
	}
	if doses[0].MedicationID != "deleted-med" {
		t.Errorf("medication id = %q", doses[0].MedicationID)
	}
}

func TestForDateSkipsInactiveDays(t *testing.T) {
	now := time.Date(2024, time.May, 15, 5, 0, 0, 0, time.UTC) // Wednesday
	s := everyDay("s", "m", now.AddDate(0, 0, -10), "08:00")
	s.DaysOfWeek = []int{6, 7}

	g := NewGenerator(nil, WithClock(fixedClock(now)))
	if doses := g.ForDate([]schedule.Schedule{s}, nil, now, "user-1"); len(doses) != 0 {
		t.Errorf("weekend schedule generated %d doses on Wednesday", len(doses))
	}
}

func TestOverridePrecedence(t *testing.T) {
	ctx := context.Background()
	takenClock := time.Date(2024, time.May, 10, 8, 30, 0, 0, time.UTC)
	now := time.Date(2024, time.May, 15, 20, 0, 0, 0, time.UTC)

	schedules := []schedule.Schedule{everyDay("s", "m", takenClock.AddDate(0, 0, -1), "08:00")}
	repo := NewMemoryRepository()
	store := NewStore(repo, DefaultStoreConfig(), nil, WithClock(fixedClock(takenClock)))
	g := NewGenerator(store, WithClock(fixedClock(now)))

	day := time.Date(2024, time.May, 10, 0, 0, 0, 0, time.UTC)
	doses := g.ForDate(schedules, nil, day, "user-1")
	if doses[0].Status != StatusMissed {
		t.Fatalf("precondition: expected missed, got %s", doses[0].Status)
	}

	if _, err := store.RecordTaken(ctx, doses[0]); err != nil {
		t.Fatalf("RecordTaken: %v", err)
	}

	doses = g.ForDate(schedules, nil, day, "user-1")
	if doses[0].Status != StatusTaken {
		t.Errorf("expected taken after override, got %s", doses[0].Status)
	}
	if doses[0].TakenAt == nil || !doses[0].TakenAt.Equal(takenClock) {
		t.Errorf("takenAt = %v, want %v", doses[0].TakenAt, takenClock)
	}
}

func TestWeekFrom(t *testing.T) {
	now := time.Date(2024, time.May, 13, 6, 0, 0, 0, time.UTC) // Monday
	s := everyDay("s", "m", now, "08:00")
	s.DaysOfWeek = []int{1, 3}

	g := NewGenerator(nil, WithClock(fixedClock(now)))
	days := g.Week([]schedule.Schedule{s}, nil, "user-1")

	if len(days) != WeekLength {
		t.Fatalf("expected %d days, got %d", WeekLength, len(days))
	}
	counts := map[string]int{}
	for _, d := range days {
		counts[d.Date] = len(d.Doses)
	}
	want := map[string]int{
		"2024-05-13": 1, "2024-05-14": 0, "2024-05-15": 1, "2024-05-16": 0,
		"2024-05-17": 0, "2024-05-18": 0, "2024-05-19": 0,
	}
	if diff := cmp.Diff(want, counts); diff != "" {
		t.Errorf("week counts (-want +got):\n%s", diff)
	}
}
