package interaction

import "fmt"

// Severity ranks how dangerous an interaction is
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities low < medium < high < critical. Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// Valid reports whether s is one of the four known severities
func (s Severity) Valid() bool { return s.Rank() > 0 }

// Label is the caregiver-facing wording of a severity
func (s Severity) Label() string {
	switch s {
	case SeverityLow:
		return "Low risk"
	case SeverityMedium:
		return "Moderate risk"
	case SeverityHigh:
		return "High risk"
	case SeverityCritical:
		return "Critical risk"
	}
	return fmt.Sprintf("Unknown risk (%s)", string(s))
}

// Max returns the higher of two severities
func Max(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}
