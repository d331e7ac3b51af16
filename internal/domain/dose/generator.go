package dose

import (
	"sort"
	"time"

	"github.com/carelink/pillwise/internal/domain/medication"
	"github.com/carelink/pillwise/internal/domain/schedule"
)

// DefaultGraceWindow is how long an un-acted dose scheduled earlier today
// stays pending before it is inferred missed.
const DefaultGraceWindow = 2 * time.Hour

// WeekLength is the number of days in a weekly view
const WeekLength = 7

// Option configures a Generator or Store
type Option func(*options)

type options struct {
	now   func() time.Time
	grace time.Duration
}

// WithClock overrides the wall clock
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithGraceWindow overrides DefaultGraceWindow
func WithGraceWindow(d time.Duration) Option {
	return func(o *options) { o.grace = d }
}

func applyOptions(opts []Option) options {
	o := options{now: time.Now, grace: DefaultGraceWindow}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Generator materializes doses from schedules. It reads overrides and the
// clock and nothing else, so repeated calls with the same inputs and the same
// "now" return identical doses.
type Generator struct {
	overrides OverrideLookup
	now       func() time.Time
	grace     time.Duration
}

// NewGenerator creates a generator; a nil lookup means no overrides exist
func NewGenerator(overrides OverrideLookup, opts ...Option) *Generator {
	o := applyOptions(opts)
	return &Generator{overrides: overrides, now: o.now, grace: o.grace}
}

// Day groups the doses of one calendar date
type Day struct {
	Date  string `json:"date"`
	Doses []Dose `json:"doses"`
}

// ForDate returns the doses due on date's calendar day, sorted by scheduled time.
// A schedule whose medication is missing still yields doses with a nil Medication.
func (g *Generator) ForDate(schedules []schedule.Schedule, meds []medication.Medication, date time.Time, userID string) []Dose {
	now := g.now()
	var doses []Dose

	for i := range schedules {
		s := &schedules[i]
		if !schedule.IsActiveForDay(s, date) {
			continue
		}

		var med *medication.Medication
		if found := medication.Find(meds, s.MedicationID); found != nil {
			m := *found
			med = &m
		}

		for _, hhmm := range s.Times {
			at := schedule.TimeToInstant(date, hhmm)
			key := Key(s.ID, date, hhmm)
			status, takenAt := g.resolve(key, at, date, now)

			doses = append(doses, Dose{
				ID:            key,
				ScheduleID:    s.ID,
				MedicationID:  s.MedicationID,
				UserID:        userID,
				ScheduledTime: at,
				Status:        status,
				DosageAmount:  s.DosageAmount,
				TakenAt:       takenAt,
				Medication:    med,
			})
		}
	}

	sort.SliceStable(doses, func(i, j int) bool {
		if doses[i].ScheduledTime.Equal(doses[j].ScheduledTime) {
			return doses[i].ID < doses[j].ID
		}
		return doses[i].ScheduledTime.Before(doses[j].ScheduledTime)
	})
	return doses
}

// Today returns the doses for the current calendar day
func (g *Generator) Today(schedules []schedule.Schedule, meds []medication.Medication, userID string) []Dose {
	return g.ForDate(schedules, meds, g.now(), userID)
}

// Week returns seven consecutive days of doses starting today
func (g *Generator) Week(schedules []schedule.Schedule, meds []medication.Medication, userID string) []Day {
	return g.WeekFrom(schedules, meds, g.now(), userID)
}

// WeekFrom returns seven consecutive days of doses starting at start
func (g *Generator) WeekFrom(schedules []schedule.Schedule, meds []medication.Medication, start time.Time, userID string) []Day {
	days := make([]Day, 0, WeekLength)
	for i := 0; i < WeekLength; i++ {
		date := start.AddDate(0, 0, i)
		days = append(days, Day{
			Date:  date.Format(KeyDateLayout),
			Doses: g.ForDate(schedules, meds, date, userID),
		})
	}
	return days
}

// resolve applies override precedence, then time-based inference
func (g *Generator) resolve(key string, at, date, now time.Time) (Status, *time.Time) {
	if g.overrides != nil {
		if o, ok := g.overrides.Lookup(key); ok {
			var takenAt *time.Time
			if o.TakenAt != nil {
				t := *o.TakenAt
				takenAt = &t
			}
			return o.Status, takenAt
		}
	}

	if !at.Before(now) {
		return StatusPending, nil
	}
	if !schedule.SameDay(date, now, date.Location()) {
		return StatusMissed, nil
	}
	if at.Before(now.Add(-g.grace)) {
		return StatusMissed, nil
	}
	return StatusPending, nil
}

// Find returns the dose with the given key, or nil
func Find(doses []Dose, key string) *Dose {
	for i := range doses {
		if doses[i].ID == key {
			return &doses[i]
		}
	}
	return nil
}
