package dose

import "math"

// Progress summarizes adherence over a set of doses
type Progress struct {
	Total      int `json:"total"`
	Taken      int `json:"taken"`
	Pending    int `json:"pending"`
	Missed     int `json:"missed"`
	Skipped    int `json:"skipped"`
	Percentage int `json:"percentage"`
}

// CalculateProgress counts doses per status. Percentage is taken/total
// rounded to the nearest integer, and 0 when there are no doses.
func CalculateProgress(doses []Dose) Progress {
	p := Progress{Total: len(doses)}
	for _, d := range doses {
		switch d.Status {
		case StatusTaken:
			p.Taken++
		case StatusPending:
			p.Pending++
		case StatusMissed:
			p.Missed++
		case StatusSkipped:
			p.Skipped++
		}
	}
	if p.Total > 0 {
		p.Percentage = int(math.Round(float64(p.Taken) / float64(p.Total) * 100))
	}
	return p
}
