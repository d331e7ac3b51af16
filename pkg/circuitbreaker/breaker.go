// Package circuitbreaker wraps sony/gobreaker with tracing, state listeners
// and a registry used by readiness checks.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// State represents the circuit breaker state
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Breaker names used across the service
const (
	StockPersistence = "stock-persistence"
	AlertPublishing  = "alert-publishing"
)

// ErrOpen is returned when a call is rejected without being attempted
var ErrOpen = errors.New("circuit breaker rejected call")

// Listener is notified of every state transition
type Listener func(name string, from, to State)

// Config holds circuit breaker configuration
type Config struct {
	Name string
	// MaxRequests is max requests allowed in half-open state
	MaxRequests uint32
	// Interval is the cyclic period for clearing counts in closed state
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing
	Timeout time.Duration
	// FailureThreshold is the consecutive failures that open the breaker
	// while fewer than MinRequests have been seen
	FailureThreshold uint32
	FailureRatio     float64
	MinRequests      uint32
}

// DefaultConfig returns defaults for calls to the medication store and broker
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      2,
		Interval:         60 * time.Second,
		Timeout:          20 * time.Second,
		FailureThreshold: 5,
		FailureRatio:     0.5,
		MinRequests:      10,
	}
}

// CircuitBreaker wraps gobreaker with observability
type CircuitBreaker struct {
	cb       *gobreaker.CircuitBreaker
	name     string
	logger   *zap.Logger
	tracer   trace.Tracer
	rejected metric.Int64Counter

	mu        sync.RWMutex
	state     State
	listeners []Listener
}

// New creates a new circuit breaker
func New(cfg Config, logger *zap.Logger, listeners ...Listener) (*CircuitBreaker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("circuit breaker name is required")
	}

	c := &CircuitBreaker{
		name:      cfg.Name,
		logger:    logger,
		tracer:    otel.Tracer("circuit-breaker"),
		state:     StateClosed,
		listeners: listeners,
	}

	var err error
	c.rejected, err = otel.Meter("circuit-breaker").Int64Counter("circuit_breaker_rejections_total",
		metric.WithDescription("Calls rejected while the breaker was open or half-open"))
	if err != nil {
		return nil, fmt.Errorf("failed to create rejection counter: %w", err)
	}

	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return counts.ConsecutiveFailures >= cfg.FailureThreshold
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			c.onStateChange(mapState(from), mapState(to))
		},
		IsSuccessful: func(err error) bool {
			// a caller giving up is not a fault of the dependency
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return c, nil
}

// Name returns the breaker name
func (c *CircuitBreaker) Name() string { return c.name }

// Execute runs fn through the breaker. Rejections wrap ErrOpen.
func (c *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, span := c.tracer.Start(ctx, "circuit_breaker_execute",
		trace.WithAttributes(
			attribute.String("breaker_name", c.name),
			attribute.String("state", string(c.State())),
		))
	defer span.End()

	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	if err == nil {
		return nil
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		c.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("name", c.name)))
		span.SetAttributes(attribute.Bool("circuit_open", true))
		err = fmt.Errorf("%w: %s: %v", ErrOpen, c.name, err)
	}
	span.RecordError(err)
	return err
}

// State returns the current circuit breaker state
func (c *CircuitBreaker) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsClosed returns true if the circuit is closed
func (c *CircuitBreaker) IsClosed() bool {
	return c.State() == StateClosed
}

// Counts returns the current counts from the circuit breaker
func (c *CircuitBreaker) Counts() gobreaker.Counts {
	return c.cb.Counts()
}

func (c *CircuitBreaker) onStateChange(from, to State) {
	c.mu.Lock()
	c.state = to
	listeners := c.listeners
	c.mu.Unlock()

	c.logger.Warn("circuit breaker state changed",
		zap.String("breaker", c.name),
		zap.String("from", string(from)),
		zap.String("to", string(to)))

	for _, l := range listeners {
		l(c.name, from, to)
	}
}

func mapState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Manager owns the breakers of a process
type Manager struct {
	mu        sync.RWMutex
	breakers  map[string]*CircuitBreaker
	logger    *zap.Logger
	listeners []Listener
}

// NewManager creates a manager whose breakers all notify listeners
func NewManager(logger *zap.Logger, listeners ...Listener) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		breakers:  make(map[string]*CircuitBreaker),
		logger:    logger,
		listeners: listeners,
	}
}

// GetOrCreate returns an existing breaker or creates a new one
func (m *Manager) GetOrCreate(name string, cfg Config) (*CircuitBreaker, error) {
	m.mu.RLock()
	if cb, ok := m.breakers[name]; ok {
		m.mu.RUnlock()
		return cb, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[name]; ok {
		return cb, nil
	}

	cfg.Name = name
	cb, err := New(cfg, m.logger, m.listeners...)
	if err != nil {
		return nil, err
	}
	m.breakers[name] = cb
	return cb, nil
}

// HealthStatus describes one breaker for readiness reporting
type HealthStatus struct {
	Name     string `json:"name"`
	State    State  `json:"state"`
	Requests uint32 `json:"requests"`
	Failures uint32 `json:"failures"`
	Healthy  bool   `json:"healthy"`
}

// HealthStatus returns every breaker's status ordered by name
func (m *Manager) HealthStatus() []HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make([]HealthStatus, 0, len(m.breakers))
	for name, cb := range m.breakers {
		counts := cb.Counts()
		statuses = append(statuses, HealthStatus{
			Name:     name,
			State:    cb.State(),
			Requests: counts.Requests,
			Failures: counts.TotalFailures,
			Healthy:  cb.State() != StateOpen,
		})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}
