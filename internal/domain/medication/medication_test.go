package medication

import (
	"context"
	"errors"
	"testing"

	"github.com/carelink/pillwise/internal/domain/schedule"
)

func TestValidateDefaults(t *testing.T) {
	m := Medication{UserID: "u", Name: "Apap", ActiveSubstance: "Paracetamol"}
	if err := Validate(&m); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if m.Form != FormTablet {
		t.Errorf("form = %s, want tablet", m.Form)
	}
	if m.PackageSize != DefaultPackageSize {
		t.Errorf("package size = %d, want %d", m.PackageSize, DefaultPackageSize)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		med  Medication
		want error
	}{
		{"no user", Medication{Name: "a", ActiveSubstance: "b"}, ErrMissingUser},
		{"no name", Medication{UserID: "u", ActiveSubstance: "b"}, ErrMissingName},
		{"no substance", Medication{UserID: "u", Name: "a"}, ErrMissingSubstance},
		{"blank substance", Medication{UserID: "u", Name: "a", ActiveSubstance: "  \t"}, ErrMissingSubstance},
		{"blank name", Medication{UserID: "u", Name: " ", ActiveSubstance: "b"}, ErrMissingName},
		{"bad form", Medication{UserID: "u", Name: "a", ActiveSubstance: "b", Form: "powder"}, ErrInvalidForm},
		{"negative", Medication{UserID: "u", Name: "a", ActiveSubstance: "b", CurrentQuantity: -1}, ErrNegativeQuantity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := tt.med
			if err := Validate(&m); !errors.Is(err, tt.want) {
				t.Errorf("Validate err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestValidateAllowsQuantityAbovePackage(t *testing.T) {
	m := Medication{UserID: "u", Name: "a", ActiveSubstance: "b", PackageSize: 10, CurrentQuantity: 25}
	if err := Validate(&m); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	med, err := store.AddMedication(Medication{UserID: "u", Name: "Apap", ActiveSubstance: "Paracetamol", CurrentQuantity: 4})
	if err != nil {
		t.Fatalf("AddMedication: %v", err)
	}
	active, err := store.AddSchedule(schedule.Schedule{MedicationID: med.ID, UserID: "u", Times: []string{"20:00", "08:00"}, IsActive: true})
	if err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}
	if _, err := store.AddSchedule(schedule.Schedule{MedicationID: med.ID, UserID: "u", Times: []string{"12:00"}}); err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}

	schedules, _ := store.ListSchedulesByUser(ctx, "u")
	if len(schedules) != 1 || schedules[0].ID != active.ID {
		t.Fatalf("expected only the active schedule, got %+v", schedules)
	}
	if schedules[0].Times[0] != "08:00" {
		t.Errorf("times not sorted: %v", schedules[0].Times)
	}

	if err := store.UpdateMedicationQuantity(ctx, med.ID, 3); err != nil {
		t.Fatalf("UpdateMedicationQuantity: %v", err)
	}
	meds, _ := store.ListMedicationsByUser(ctx, "u")
	if len(meds) != 1 || meds[0].CurrentQuantity != 3 {
		t.Errorf("unexpected medications %+v", meds)
	}

	if err := store.UpdateMedicationQuantity(ctx, "missing", 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreCreate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	med := &Medication{UserID: "u", Name: "Apap", ActiveSubstance: "Paracetamol"}
	if err := store.CreateMedication(ctx, med); err != nil {
		t.Fatalf("CreateMedication: %v", err)
	}
	if med.ID == "" || med.AddedAt.IsZero() || med.Form != FormTablet {
		t.Errorf("created medication not filled in: %+v", med)
	}

	sc := &schedule.Schedule{MedicationID: med.ID, UserID: "u", Times: []string{"20:00", "08:00"}, IsActive: true}
	if err := store.CreateSchedule(ctx, sc); err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}
	if sc.ID == "" || sc.Times[0] != "08:00" {
		t.Errorf("created schedule = %+v", sc)
	}

	bad := &schedule.Schedule{MedicationID: med.ID, UserID: "u", Times: []string{"8am"}}
	if err := store.CreateSchedule(ctx, bad); !errors.Is(err, schedule.ErrInvalidTime) {
		t.Errorf("CreateSchedule err = %v, want ErrInvalidTime", err)
	}
}
