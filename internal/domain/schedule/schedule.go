// Package schedule implements recurring dosing rules and the day/time rule engine.
package schedule

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// DefaultReminderMinutes is applied when a stored schedule has no reminder lead
const DefaultReminderMinutes = 10

var (
	ErrInvalidTime      = errors.New("invalid time of day, expected HH:mm")
	ErrNoTimes          = errors.New("schedule has no times of day")
	ErrDuplicateTime    = errors.New("duplicate time of day")
	ErrInvalidDay       = errors.New("day of week must be between 1 (Monday) and 7 (Sunday)")
	ErrMissingMedicine  = errors.New("schedule has no medication reference")
	ErrEndBeforeStart   = errors.New("schedule end date precedes start date")
	ErrNegativeReminder = errors.New("reminder lead minutes must not be negative")
)

// Schedule is a recurring dosing rule for one medication
type Schedule struct {
	ID              string     `json:"id" firestore:"-"`
	MedicationID    string     `json:"medicationId" firestore:"medicationId"`
	UserID          string     `json:"userId" firestore:"userId"`
	Times           []string   `json:"times" firestore:"times"`
	DaysOfWeek      []int      `json:"daysOfWeek" firestore:"daysOfWeek"`
	DosageAmount    string     `json:"dosageAmount" firestore:"dosageAmount"`
	StartDate       time.Time  `json:"startDate" firestore:"startDate"`
	EndDate         *time.Time `json:"endDate,omitempty" firestore:"endDate"`
	ReminderMinutes int        `json:"reminderMinutesBefore" firestore:"reminderMinutesBefore"`
	IsActive        bool       `json:"isActive" firestore:"isActive"`
}

// SortedTimes returns a sorted copy of the schedule's times of day.
// "HH:mm" strings order lexically the same as chronologically.
func (s *Schedule) SortedTimes() []string {
	out := append([]string(nil), s.Times...)
	sort.Strings(out)
	return out
}

// Validate checks a schedule at the write boundary. The rule engine and the
// dose materializer assume schedules that passed this check.
func Validate(s *Schedule) error {
	if s.MedicationID == "" {
		return ErrMissingMedicine
	}
	if len(s.Times) == 0 {
		return ErrNoTimes
	}
	seen := make(map[string]bool, len(s.Times))
	for _, t := range s.Times {
		if _, err := ParseTimeOfDay(t); err != nil {
			return err
		}
		if seen[t] {
			return fmt.Errorf("%w: %s", ErrDuplicateTime, t)
		}
		seen[t] = true
	}
	for _, d := range s.DaysOfWeek {
		if d < 1 || d > 7 {
			return fmt.Errorf("%w: %d", ErrInvalidDay, d)
		}
	}
	if s.EndDate != nil && s.EndDate.Before(s.StartDate) {
		return ErrEndBeforeStart
	}
	if s.ReminderMinutes < 0 {
		return ErrNegativeReminder
	}
	return nil
}

// ActiveOnly filters out schedules whose active flag is off
func ActiveOnly(schedules []Schedule) []Schedule {
	out := make([]Schedule, 0, len(schedules))
	for _, s := range schedules {
		if s.IsActive {
			out = append(out, s)
		}
	}
	return out
}
