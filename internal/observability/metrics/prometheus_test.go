package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSetBreakerState(t *testing.T) {
	m := New(prometheus.NewRegistry())

	tests := []struct {
		state string
		want  float64
	}{
		{"closed", 0},
		{"open", 1},
		{"half-open", 2},
		{"unknown", 0},
	}
	for _, tt := range tests {
		m.SetBreakerState("stock-persistence", tt.state)
		if got := testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("stock-persistence")); got != tt.want {
			t.Errorf("state %q exported as %v, want %v", tt.state, got, tt.want)
		}
	}
}

func TestStockObserver(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.StockSyncFailed("med-1")
	m.StockSyncFailed("med-2")
	m.StockPending(3)

	if got := testutil.ToFloat64(m.StockSyncFailures); got != 2 {
		t.Errorf("sync failures = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.StockPendingSync); got != 3 {
		t.Errorf("pending = %v, want 3", got)
	}
}

func TestAlertsPublished(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.AlertsPublished("low_stock", 2)
	m.AlertsPublished("low_stock", 1)
	m.AlertsPublished("missed_dose", 1)

	if got := testutil.ToFloat64(m.AlertsEmitted.WithLabelValues("low_stock")); got != 3 {
		t.Errorf("low_stock = %v, want 3", got)
	}
	if got := testutil.CollectAndCount(m.AlertsEmitted); got != 2 {
		t.Errorf("label sets = %d, want 2", got)
	}
}

func TestHandlerServesOwnRegistry(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.DosesGenerated.Add(4)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "doses_generated_total 4") {
		t.Errorf("doses_generated_total missing from scrape:\n%s", rec.Body.String())
	}
}
