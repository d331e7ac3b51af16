package schedule

import (
	"errors"
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

func TestIsActiveForDayWeekendOnly(t *testing.T) {
	s := &Schedule{
		Times:      []string{"08:00"},
		DaysOfWeek: []int{6, 7},
		StartDate:  date(2024, time.January, 1),
		IsActive:   true,
	}

	wednesday := date(2024, time.May, 15)
	saturday := date(2024, time.May, 18)
	sunday := date(2024, time.May, 19)

	if IsActiveForDay(s, wednesday) {
		t.Error("weekend schedule should not fire on Wednesday")
	}
	if !IsActiveForDay(s, saturday) {
		t.Error("weekend schedule should fire on Saturday")
	}
	if !IsActiveForDay(s, sunday) {
		t.Error("weekend schedule should fire on Sunday (day 7)")
	}
}

func TestIsActiveForDayEmptyDaysMeansEveryDay(t *testing.T) {
	s := &Schedule{Times: []string{"08:00"}, StartDate: date(2024, time.May, 1), IsActive: true}
	for d := 1; d <= 7; d++ {
		if !IsActiveForDay(s, date(2024, time.May, 12+d)) {
			t.Errorf("expected schedule to fire on May %d", 12+d)
		}
	}
}

func TestIsActiveForDayInactive(t *testing.T) {
	s := &Schedule{Times: []string{"08:00"}, StartDate: date(2024, time.May, 1), IsActive: false}
	if IsActiveForDay(s, date(2024, time.May, 10)) {
		t.Error("inactive schedule must never fire")
	}
}

func TestIsActiveForDayDateRange(t *testing.T) {
	end := time.Date(2024, time.May, 20, 6, 0, 0, 0, time.UTC)
	s := &Schedule{
		Times:     []string{"08:00"},
		StartDate: time.Date(2024, time.May, 10, 18, 30, 0, 0, time.UTC),
		EndDate:   &end,
		IsActive:  true,
	}

	cases := []struct {
		day  time.Time
		want bool
	}{
		{date(2024, time.May, 9), false},
		{time.Date(2024, time.May, 10, 0, 5, 0, 0, time.UTC), true},
		{date(2024, time.May, 15), true},
		{time.Date(2024, time.May, 20, 23, 59, 0, 0, time.UTC), true},
		{date(2024, time.May, 21), false},
	}
	for _, c := range cases {
		if got := IsActiveForDay(s, c.day); got != c.want {
			t.Errorf("IsActiveForDay(%s) = %v, want %v", c.day.Format(time.RFC3339), got, c.want)
		}
	}
}

func TestISOWeekday(t *testing.T) {
	if got := ISOWeekday(date(2024, time.May, 19)); got != 7 {
		t.Errorf("Sunday = %d, want 7", got)
	}
	if got := ISOWeekday(date(2024, time.May, 13)); got != 1 {
		t.Errorf("Monday = %d, want 1", got)
	}
}

func TestTimeToInstant(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	d := time.Date(2024, time.March, 3, 17, 45, 12, 500, loc)
	got := TimeToInstant(d, "08:05")
	want := time.Date(2024, time.March, 3, 8, 5, 0, 0, loc)
	if !got.Equal(want) {
		t.Errorf("TimeToInstant = %v, want %v", got, want)
	}
	if got.Location() != loc {
		t.Errorf("location not preserved: %v", got.Location())
	}
}

func TestTimeToInstantPanicsOnMalformed(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for malformed time")
		}
	}()
	TimeToInstant(date(2024, time.May, 1), "8am")
}

func TestParseTimeOfDay(t *testing.T) {
	valid := []string{"00:00", "08:30", "23:59"}
	for _, v := range valid {
		tod, err := ParseTimeOfDay(v)
		if err != nil {
			t.Errorf("ParseTimeOfDay(%q) error: %v", v, err)
			continue
		}
		if tod.String() != v {
			t.Errorf("round trip %q -> %q", v, tod.String())
		}
	}

	invalid := []string{"", "8:30", "24:00", "12:60", "ab:cd", "12-30", "12:300"}
	for _, v := range invalid {
		if _, err := ParseTimeOfDay(v); !errors.Is(err, ErrInvalidTime) {
			t.Errorf("ParseTimeOfDay(%q) err = %v, want ErrInvalidTime", v, err)
		}
	}
}

func TestValidate(t *testing.T) {
	base := func() *Schedule {
		return &Schedule{
			MedicationID: "med-1",
			Times:        []string{"08:00", "20:00"},
			DaysOfWeek:   []int{1, 3, 5},
			StartDate:    date(2024, time.May, 1),
			IsActive:     true,
		}
	}

	if err := Validate(base()); err != nil {
		t.Fatalf("valid schedule rejected: %v", err)
	}

	s := base()
	s.Times = nil
	if err := Validate(s); !errors.Is(err, ErrNoTimes) {
		t.Errorf("empty times: got %v", err)
	}

	s = base()
	s.Times = []string{"08:00", "08:00"}
	if err := Validate(s); !errors.Is(err, ErrDuplicateTime) {
		t.Errorf("duplicate times: got %v", err)
	}

	s = base()
	s.DaysOfWeek = []int{0}
	if err := Validate(s); !errors.Is(err, ErrInvalidDay) {
		t.Errorf("day 0: got %v", err)
	}

	s = base()
	end := date(2024, time.April, 1)
	s.EndDate = &end
	if err := Validate(s); !errors.Is(err, ErrEndBeforeStart) {
		t.Errorf("end before start: got %v", err)
	}

	s = base()
	s.Times = []string{"25:00"}
	if err := Validate(s); !errors.Is(err, ErrInvalidTime) {
		t.Errorf("bad time: got %v", err)
	}
}

func TestReminderAt(t *testing.T) {
	s := &Schedule{ReminderMinutes: 15}
	got := ReminderAt(s, date(2024, time.May, 1), "08:00")
	want := time.Date(2024, time.May, 1, 7, 45, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("ReminderAt = %v, want %v", got, want)
	}
}
