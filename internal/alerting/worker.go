// Package alerting recomputes caregiver alerts when dose or stock events
// arrive and publishes the result for the notification dispatcher.
package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/carelink/pillwise/internal/domain/alert"
	"github.com/carelink/pillwise/internal/infrastructure/redpanda"
	"github.com/carelink/pillwise/pkg/circuitbreaker"
	"github.com/carelink/pillwise/pkg/idempotency"
	"github.com/carelink/pillwise/pkg/workerpool"
)

// HandlerName identifies this consumer in the idempotency inbox
const HandlerName = "alert-worker"

// AlertSource evaluates the current alerts of one senior
type AlertSource interface {
	Alerts(ctx context.Context, senior alert.Senior) ([]alert.Alert, error)
}

// Publisher sends records to the broker
type Publisher interface {
	ProduceBatch(ctx context.Context, records []*redpanda.Record) error
}

// Deduplicator runs fn at most once per key
type Deduplicator interface {
	Process(ctx context.Context, key, handlerName string, payload json.RawMessage, fn idempotency.ProcessFunc) (*idempotency.ProcessResult, error)
}

// Observer receives per-type alert counts; metrics implement it
type Observer interface {
	AlertsPublished(alertType string, n int)
}

// Envelope holds the fields shared by every event on the dose topic
type Envelope struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is the message published per senior. The alerts topic is
// compacted, so the latest snapshot per key is the current alert set.
type Snapshot struct {
	SeniorID    string        `json:"seniorId"`
	TriggeredBy string        `json:"triggeredBy"`
	GeneratedAt time.Time     `json:"generatedAt"`
	Alerts      []alert.Alert `json:"alerts"`
}

// Worker turns consumed events into alert snapshots
type Worker struct {
	source    AlertSource
	publisher Publisher
	inbox     Deduplicator
	breaker   *circuitbreaker.CircuitBreaker
	observer  Observer
	pool      *workerpool.Pool
	topic     string
	logger    *zap.Logger
}

// Config holds worker configuration
type Config struct {
	Pool  workerpool.Config
	Topic string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{Pool: workerpool.DefaultConfig(), Topic: redpanda.TopicCaregiverAlerts}
}

// New creates a worker. inbox, breaker and observer may be nil.
func New(cfg Config, source AlertSource, publisher Publisher, inbox Deduplicator, breaker *circuitbreaker.CircuitBreaker, observer Observer, logger *zap.Logger) (*Worker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if source == nil || publisher == nil {
		return nil, errors.New("alert source and publisher are required")
	}
	w := &Worker{
		source:    source,
		publisher: publisher,
		inbox:     inbox,
		breaker:   breaker,
		observer:  observer,
		topic:     cfg.Topic,
		logger:    logger,
	}
	pool, err := workerpool.New(cfg.Pool, w.process, nil, logger.Named("alert-pool"))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	w.pool = pool
	return w, nil
}

// Start launches the workers
func (w *Worker) Start() { w.pool.Start() }

// Stop drains queued events
func (w *Worker) Stop() error { return w.pool.Stop() }

// Handle is a redpanda.MessageHandler. It blocks until the event is handled
// so the consumer commits only finished offsets.
func (w *Worker) Handle(ctx context.Context, msg *redpanda.ConsumedMessage) error {
	var env Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil || env.UserID == "" || env.ID == "" {
		w.logger.Warn("dropping malformed event",
			zap.String("topic", msg.Topic),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return nil
	}

	task := &workerpool.Task{
		ID:      env.ID,
		Payload: eventTask{envelope: env, raw: msg.Value},
		Context: ctx,
	}
	result, err := w.pool.SubmitWait(ctx, task)
	if err != nil {
		return fmt.Errorf("submit event %s: %w", env.ID, err)
	}
	if !result.Success {
		return result.Error
	}
	return nil
}

type eventTask struct {
	envelope Envelope
	raw      json.RawMessage
}

func (w *Worker) process(ctx context.Context, task *workerpool.Task) *workerpool.Result {
	et, ok := task.Payload.(eventTask)
	if !ok {
		return &workerpool.Result{Success: true, Error: fmt.Errorf("unexpected payload %T", task.Payload)}
	}

	run := func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		return w.publish(ctx, et.envelope)
	}

	var err error
	if w.inbox != nil {
		key := idempotency.GenerateKey(HandlerName, et.envelope.ID)
		var res *idempotency.ProcessResult
		res, err = w.inbox.Process(ctx, key, HandlerName, et.raw, run)
		if err == nil && !res.IsNew && !res.WasRecovered {
			w.logger.Debug("event already handled", zap.String("event_id", et.envelope.ID))
		}
	} else {
		_, err = run(ctx, et.raw)
	}

	switch {
	case err == nil:
		return &workerpool.Result{Success: true}
	case errors.Is(err, idempotency.ErrPreviouslyFailed), errors.Is(err, idempotency.ErrDuplicateMessage):
		return &workerpool.Result{Success: true}
	case idempotency.IsPermanent(err):
		w.logger.Error("dropping event", zap.String("event_id", et.envelope.ID), zap.Error(err))
		return &workerpool.Result{Success: true}
	default:
		return &workerpool.Result{Error: err}
	}
}

func (w *Worker) publish(ctx context.Context, env Envelope) (json.RawMessage, error) {
	alerts, err := w.source.Alerts(ctx, alert.Senior{ID: env.UserID})
	if err != nil {
		return nil, fmt.Errorf("evaluate alerts for %s: %w", env.UserID, err)
	}
	if alerts == nil {
		alerts = []alert.Alert{}
	}

	snap := Snapshot{
		SeniorID:    env.UserID,
		TriggeredBy: env.ID,
		GeneratedAt: time.Now().UTC(),
		Alerts:      alerts,
	}
	value, err := json.Marshal(snap)
	if err != nil {
		return nil, idempotency.Permanent(fmt.Errorf("marshal snapshot: %w", err))
	}

	record := &redpanda.Record{
		Topic:   w.topic,
		Key:     env.UserID,
		Value:   value,
		Headers: map[string]string{"event_type": env.EventType, "event_id": env.ID},
	}
	send := func(ctx context.Context) error {
		return w.publisher.ProduceBatch(ctx, []*redpanda.Record{record})
	}
	if w.breaker != nil {
		err = w.breaker.Execute(ctx, send)
	} else {
		err = send(ctx)
	}
	if err != nil {
		return nil, err
	}

	if w.observer != nil {
		for t, n := range alert.CountByType(alerts) {
			w.observer.AlertsPublished(string(t), n)
		}
	}
	w.logger.Info("alerts published",
		zap.String("senior_id", env.UserID),
		zap.String("event_id", env.ID),
		zap.Int("alerts", len(alerts)))

	summary, _ := json.Marshal(map[string]int{"alerts": len(alerts)})
	return summary, nil
}
