package schedule

import (
	"fmt"
	"slices"
	"time"
)

// TimeOfDay is a parsed "HH:mm" value
type TimeOfDay struct {
	Hour   int
	Minute int
}

// String formats the value back to "HH:mm"
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// ParseTimeOfDay parses a strict "HH:mm" string.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	if len(s) != 5 || s[2] != ':' {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	h, okH := twoDigits(s[0], s[1])
	m, okM := twoDigits(s[3], s[4])
	if !okH || !okM || h > 23 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

func twoDigits(a, b byte) (int, bool) {
	if a < '0' || a > '9' || b < '0' || b > '9' {
		return 0, false
	}
	return int(a-'0')*10 + int(b-'0'), true
}

// ISOWeekday maps Go's weekday (Sunday=0) to Monday=1..Sunday=7.
func ISOWeekday(t time.Time) int {
	d := int(t.Weekday())
	if d == 0 {
		return 7
	}
	return d
}

// DayStart returns midnight of t's calendar day in loc.
func DayStart(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// SameDay reports whether a and b fall on the same calendar day in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	return DayStart(a, loc).Equal(DayStart(b, loc))
}

// IsActiveForDay reports whether the schedule fires on date's calendar day.
// Day boundaries are evaluated in date's own location; the end date is inclusive.
func IsActiveForDay(s *Schedule, date time.Time) bool {
	if !s.IsActive {
		return false
	}

	loc := date.Location()
	day := DayStart(date, loc)
	if day.Before(DayStart(s.StartDate, loc)) {
		return false
	}
	if s.EndDate != nil && day.After(DayStart(*s.EndDate, loc)) {
		return false
	}

	if len(s.DaysOfWeek) == 0 {
		return true
	}
	return slices.Contains(s.DaysOfWeek, ISOWeekday(date))
}

// TimeToInstant combines date's calendar day with an "HH:mm" time at zero seconds.
// Times are validated on write, so a malformed value is a programming error and panics.
func TimeToInstant(date time.Time, hhmm string) time.Time {
	tod, err := ParseTimeOfDay(hhmm)
	if err != nil {
		panic(err)
	}
	y, m, d := date.Date()
	return time.Date(y, m, d, tod.Hour, tod.Minute, 0, 0, date.Location())
}

// ReminderAt is the instant a reminder for the given dose time should fire.
// Consumed by the external reminder scheduler.
func ReminderAt(s *Schedule, date time.Time, hhmm string) time.Time {
	return TimeToInstant(date, hhmm).Add(-time.Duration(s.ReminderMinutes) * time.Minute)
}
