// Package metrics provides Prometheus metrics for the adherence service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	DoseStatusRecorded    *prometheus.CounterVec
	PersistenceFailures   *prometheus.CounterVec
	PreloadDuration       prometheus.Histogram
	DosesGenerated        prometheus.Counter
	InteractionsFound     *prometheus.CounterVec
	AlertsEmitted         *prometheus.CounterVec
	StockSyncFailures     prometheus.Counter
	StockPendingSync      prometheus.Gauge
	KafkaMessagesProduced prometheus.Counter
	KafkaMessagesConsumed prometheus.Counter
	OutboxPending         prometheus.Gauge
	CircuitBreakerState   *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// New creates metrics registered on reg; nil uses the default registry
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		DoseStatusRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dose_status_recorded_total",
			Help: "Explicit dose actions recorded, by status",
		}, []string{"status"}),
		PersistenceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dose_persistence_failures_total",
			Help: "Failed repository calls, by operation",
		}, []string{"operation"}),
		PreloadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dose_override_preload_duration_seconds",
			Help:    "Time spent preloading dose overrides",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		DosesGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "doses_generated_total",
			Help: "Doses materialized from schedules",
		}),
		InteractionsFound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "drug_interactions_found_total",
			Help: "Interaction findings returned, by severity",
		}, []string{"severity"}),
		AlertsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caregiver_alerts_emitted_total",
			Help: "Caregiver alerts computed, by type",
		}, []string{"type"}),
		StockSyncFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stock_sync_failures_total",
			Help: "Quantity decrements dropped after exhausting retries",
		}),
		StockPendingSync: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stock_pending_sync",
			Help: "Local quantity decrements not yet persisted",
		}),
		KafkaMessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_produced_total",
			Help: "Total Kafka messages produced",
		}),
		KafkaMessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_consumed_total",
			Help: "Total Kafka messages consumed",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	reg.MustRegister(
		m.DoseStatusRecorded,
		m.PersistenceFailures,
		m.PreloadDuration,
		m.DosesGenerated,
		m.InteractionsFound,
		m.AlertsEmitted,
		m.StockSyncFailures,
		m.StockPendingSync,
		m.KafkaMessagesProduced,
		m.KafkaMessagesConsumed,
		m.OutboxPending,
		m.CircuitBreakerState,
	)

	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	} else {
		m.gatherer = prometheus.DefaultGatherer
	}
	return m
}

// ObservePreload records how long a preload took
func (m *Metrics) ObservePreload(start time.Time) {
	m.PreloadDuration.Observe(time.Since(start).Seconds())
}

// SetBreakerState exports a breaker state by name
func (m *Metrics) SetBreakerState(name, state string) {
	var v float64
	switch state {
	case "open":
		v = 1
	case "half-open":
		v = 2
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(v)
}

// StockSyncFailed counts a decrement dropped after its write failed
func (m *Metrics) StockSyncFailed(string) {
	m.StockSyncFailures.Inc()
}

// StockPending exports the number of unsynced local quantities
func (m *Metrics) StockPending(n int) {
	m.StockPendingSync.Set(float64(n))
}

// AlertsPublished counts alerts of one type sent to caregivers
func (m *Metrics) AlertsPublished(alertType string, n int) {
	m.AlertsEmitted.WithLabelValues(alertType).Add(float64(n))
}

// Handler returns the Prometheus HTTP handler for the registry metrics were created on
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
