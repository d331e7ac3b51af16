// Package dose derives scheduled dose occurrences and tracks adherence.
//
// Doses are never stored as rows. A dose is identified by the composite key
// {scheduleId}_{yyyy-MM-dd}_{HH:mm}; the only persisted per-dose fact is an
// Override recording an explicit taken or skipped action.
package dose

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/carelink/pillwise/internal/domain/medication"
	"github.com/carelink/pillwise/internal/domain/schedule"
)

// Status represents dose status
type Status string

const (
	StatusPending Status = "pending"
	StatusTaken   Status = "taken"
	StatusMissed  Status = "missed"
	StatusSkipped Status = "skipped"
)

// KeyDateLayout is the date component of a dose key
const KeyDateLayout = "2006-01-02"

var (
	ErrInvalidKey        = errors.New("invalid dose key")
	ErrInvalidTransition = errors.New("invalid dose status transition")
	ErrScheduleNotFound  = errors.New("schedule not found for dose")
)

// IsTerminal reports whether the status can only be left by deleting its override
func (s Status) IsTerminal() bool {
	return s == StatusTaken || s == StatusSkipped
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusTaken, StatusMissed, StatusSkipped:
		return true
	}
	return false
}

// Transition validates an explicit user action against the current status.
// pending and missed doses may be taken or skipped; taken and skipped are final.
func Transition(from, to Status) error {
	if from.IsTerminal() {
		return fmt.Errorf("%w: dose already %s", ErrInvalidTransition, from)
	}
	if to != StatusTaken && to != StatusSkipped {
		return fmt.Errorf("%w: %s cannot be recorded explicitly", ErrInvalidTransition, to)
	}
	return nil
}

// Dose is a materialized occurrence of a schedule at a date and time
type Dose struct {
	ID            string                 `json:"id"`
	ScheduleID    string                 `json:"scheduleId"`
	MedicationID  string                 `json:"medicationId"`
	UserID        string                 `json:"userId"`
	ScheduledTime time.Time              `json:"scheduledTime"`
	Status        Status                 `json:"status"`
	DosageAmount  string                 `json:"dosageAmount"`
	TakenAt       *time.Time             `json:"takenAt,omitempty"`
	Medication    *medication.Medication `json:"medication,omitempty"`
}

// Key builds the identity key of a dose. The date is formatted in its own location.
func Key(scheduleID string, date time.Time, hhmm string) string {
	return scheduleID + "_" + date.Format(KeyDateLayout) + "_" + hhmm
}

// KeyParts is a decoded dose key
type KeyParts struct {
	ScheduleID string
	Date       string
	Time       string
}

// ParseKey splits a dose key. Schedule ids may themselves contain underscores,
// so the key is split from the right.
func ParseKey(key string) (KeyParts, error) {
	i := strings.LastIndexByte(key, '_')
	if i <= 0 {
		return KeyParts{}, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	rest, hhmm := key[:i], key[i+1:]
	j := strings.LastIndexByte(rest, '_')
	if j <= 0 {
		return KeyParts{}, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	parts := KeyParts{ScheduleID: rest[:j], Date: rest[j+1:], Time: hhmm}

	if _, err := time.Parse(KeyDateLayout, parts.Date); err != nil {
		return KeyParts{}, fmt.Errorf("%w: %q: %v", ErrInvalidKey, key, err)
	}
	if _, err := schedule.ParseTimeOfDay(parts.Time); err != nil {
		return KeyParts{}, fmt.Errorf("%w: %q: %v", ErrInvalidKey, key, err)
	}
	return parts, nil
}

// DateIn returns the key's calendar date as midnight in loc
func (k KeyParts) DateIn(loc *time.Location) time.Time {
	d, _ := time.ParseInLocation(KeyDateLayout, k.Date, loc)
	return d
}
