// Package alert derives caregiver alerts from a senior's doses and medications.
package alert

import (
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/carelink/pillwise/internal/domain/dose"
	"github.com/carelink/pillwise/internal/domain/interaction"
	"github.com/carelink/pillwise/internal/domain/medication"
)

// Type classifies a caregiver alert
type Type string

const (
	TypeMissedDose  Type = "missed_dose"
	TypeLowStock    Type = "low_stock"
	TypeExpiring    Type = "expiring"
	TypeInteraction Type = "interaction"
)

// UnknownMedication names a dose whose medication no longer exists
const UnknownMedication = "Unknown medication"

// Senior identifies the person an alert is about
type Senior struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Alert is a caregiver-facing notice. Ids are deterministic so that
// recomputing alerts yields the same ids for the same conditions.
type Alert struct {
	ID             string               `json:"id"`
	SeniorID       string               `json:"seniorId"`
	SeniorName     string               `json:"seniorName"`
	Type           Type                 `json:"type"`
	MedicationID   string               `json:"medicationId"`
	MedicationName string               `json:"medicationName"`
	Message        string               `json:"message"`
	Severity       interaction.Severity `json:"severity,omitempty"`
	CreatedAt      time.Time            `json:"createdAt"`
	IsRead         bool                 `json:"isRead"`
}

// Config holds alert thresholds
type Config struct {
	MissedAfter       time.Duration
	LowStockThreshold int
	ExpiryWarningDays int
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		MissedAfter:       30 * time.Minute,
		LowStockThreshold: 5,
		ExpiryWarningDays: 30,
	}
}

// Evaluator computes alerts
type Evaluator struct {
	config  Config
	checker *interaction.Checker
	logger  *zap.Logger
}

// NewEvaluator creates an evaluator; a nil checker uses the built-in rule table
func NewEvaluator(cfg Config, checker *interaction.Checker, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if checker == nil {
		checker = interaction.NewChecker(nil)
	}
	return &Evaluator{config: cfg, checker: checker, logger: logger}
}

// Evaluate returns every alert for a senior, newest first
func (e *Evaluator) Evaluate(senior Senior, meds []medication.Medication, doses []dose.Dose, now time.Time) []Alert {
	var alerts []Alert
	alerts = append(alerts, e.missedDoses(senior, meds, doses, now)...)
	alerts = append(alerts, e.lowStock(senior, meds, now)...)
	alerts = append(alerts, e.expiring(senior, meds, now)...)
	alerts = append(alerts, e.interactions(senior, meds, now)...)

	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].CreatedAt.After(alerts[j].CreatedAt)
	})

	e.logger.Debug("alerts evaluated",
		zap.String("senior_id", senior.ID),
		zap.Int("alerts", len(alerts)))
	return alerts
}

func (e *Evaluator) missedDoses(senior Senior, meds []medication.Medication, doses []dose.Dose, now time.Time) []Alert {
	var out []Alert
	for _, d := range doses {
		overdue := now.Sub(d.ScheduledTime) > e.config.MissedAfter
		if d.Status != dose.StatusMissed && !(d.Status == dose.StatusPending && overdue) {
			continue
		}

		name := UnknownMedication
		if d.Medication != nil {
			name = d.Medication.Name
		} else if m := medication.Find(meds, d.MedicationID); m != nil {
			name = m.Name
		}

		out = append(out, Alert{
			ID:             "missed-" + d.ID,
			SeniorID:       senior.ID,
			SeniorName:     senior.Name,
			Type:           TypeMissedDose,
			MedicationID:   d.MedicationID,
			MedicationName: name,
			Message:        fmt.Sprintf("Missed dose at %s", d.ScheduledTime.Format("15:04")),
			CreatedAt:      d.ScheduledTime,
		})
	}
	return out
}

func (e *Evaluator) lowStock(senior Senior, meds []medication.Medication, now time.Time) []Alert {
	var out []Alert
	for _, m := range meds {
		if m.CurrentQuantity >= e.config.LowStockThreshold {
			continue
		}
		out = append(out, Alert{
			ID:             "low-" + m.ID,
			SeniorID:       senior.ID,
			SeniorName:     senior.Name,
			Type:           TypeLowStock,
			MedicationID:   m.ID,
			MedicationName: m.Name,
			Message:        fmt.Sprintf("Only %d units left", m.CurrentQuantity),
			CreatedAt:      now,
		})
	}
	return out
}

func (e *Evaluator) expiring(senior Senior, meds []medication.Medication, now time.Time) []Alert {
	var out []Alert
	for _, m := range meds {
		if m.ExpirationDate == nil {
			continue
		}
		days := DaysUntil(now, *m.ExpirationDate)
		if days <= 0 || days > e.config.ExpiryWarningDays {
			continue
		}
		out = append(out, Alert{
			ID:             "expiring-" + m.ID,
			SeniorID:       senior.ID,
			SeniorName:     senior.Name,
			Type:           TypeExpiring,
			MedicationID:   m.ID,
			MedicationName: m.Name,
			Message:        fmt.Sprintf("Expires in %d days", days),
			CreatedAt:      now,
		})
	}
	return out
}

func (e *Evaluator) interactions(senior Senior, meds []medication.Medication, now time.Time) []Alert {
	var out []Alert
	for _, r := range e.checker.CheckAll(meds) {
		out = append(out, Alert{
			ID:             fmt.Sprintf("interaction-%s-%s", senior.ID, r.ID),
			SeniorID:       senior.ID,
			SeniorName:     senior.Name,
			Type:           TypeInteraction,
			MedicationName: r.Substance1 + " + " + r.Substance2,
			Message:        r.Severity.Label() + ": " + r.Description,
			Severity:       r.Severity,
			CreatedAt:      now,
		})
	}
	return out
}

// DaysUntil returns the whole days from now until t, rounded up
func DaysUntil(now, t time.Time) int {
	return int(math.Ceil(t.Sub(now).Hours() / 24))
}

// CountByType tallies alerts per type
func CountByType(alerts []Alert) map[Type]int {
	counts := make(map[Type]int)
	for _, a := range alerts {
		counts[a.Type]++
	}
	return counts
}
