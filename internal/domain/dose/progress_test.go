package dose

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCalculateProgress(t *testing.T) {
	tests := []struct {
		name     string
		statuses []Status
		want     Progress
	}{
		{
			name: "empty",
			want: Progress{},
		},
		{
			name:     "mixed",
			statuses: []Status{StatusTaken, StatusTaken, StatusPending, StatusMissed},
			want:     Progress{Total: 4, Taken: 2, Pending: 1, Missed: 1, Percentage: 50},
		},
		{
			name:     "rounds to nearest",
			statuses: []Status{StatusTaken, StatusTaken, StatusSkipped},
			want:     Progress{Total: 3, Taken: 2, Skipped: 1, Percentage: 67},
		},
		{
			name:     "one third",
			statuses: []Status{StatusTaken, StatusMissed, StatusMissed},
			want:     Progress{Total: 3, Taken: 1, Missed: 2, Percentage: 33},
		},
		{
			name:     "all taken",
			statuses: []Status{StatusTaken, StatusTaken},
			want:     Progress{Total: 2, Taken: 2, Percentage: 100},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doses := make([]Dose, len(tt.statuses))
			for i, s := range tt.statuses {
				doses[i].Status = s
			}
			got := CalculateProgress(doses)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("progress mismatch (-want +got):\n%s", diff)
			}
			if got.Taken+got.Pending+got.Missed+got.Skipped != got.Total {
				t.Errorf("counts do not sum to total: %+v", got)
			}
		})
	}
}
