// Package inventory tracks medication stock as doses are taken.
//
// A decrement is applied in two phases. The local view changes immediately so
// the caller sees the new quantity, then a worker persists it. When the write
// keeps failing the local entry is dropped and the persisted quantity wins.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/carelink/pillwise/internal/domain/medication"
	"github.com/carelink/pillwise/pkg/circuitbreaker"
	"github.com/carelink/pillwise/pkg/workerpool"
)

// QuantityWriter persists a medication's remaining quantity
type QuantityWriter interface {
	UpdateMedicationQuantity(ctx context.Context, id string, qty int) error
}

// Observer receives ledger outcomes; metrics implement it
type Observer interface {
	StockSyncFailed(medicationID string)
	StockPending(n int)
}

// Config holds ledger configuration
type Config struct {
	Pool workerpool.Config
	// Timeout bounds a single persistence attempt
	Timeout time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	pool := workerpool.DefaultConfig()
	// writes for one medication must land in submission order
	pool.Workers = 1
	return Config{Pool: pool, Timeout: 10 * time.Second}
}

type pendingEntry struct {
	qty int
	seq uint64
}

type syncJob struct {
	medicationID string
	qty          int
	seq          uint64
}

// Ledger is the optimistic stock view in front of a QuantityWriter
type Ledger struct {
	writer   QuantityWriter
	breaker  *circuitbreaker.CircuitBreaker
	pool     *workerpool.Pool
	observer Observer
	config   Config
	logger   *zap.Logger

	mu      sync.Mutex
	seq     uint64
	pending map[string]pendingEntry
}

// NewLedger creates a ledger. breaker and observer may be nil.
func NewLedger(cfg Config, writer QuantityWriter, breaker *circuitbreaker.CircuitBreaker, observer Observer, logger *zap.Logger) (*Ledger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if writer == nil {
		return nil, fmt.Errorf("quantity writer is required")
	}

	l := &Ledger{
		writer:   writer,
		breaker:  breaker,
		observer: observer,
		config:   cfg,
		logger:   logger,
		pending:  make(map[string]pendingEntry),
	}

	pool, err := workerpool.New(cfg.Pool, l.persist, l.settle, logger.Named("stock-sync"))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	l.pool = pool
	return l, nil
}

// Start launches the persistence workers
func (l *Ledger) Start() { l.pool.Start() }

// Stop waits for queued writes to finish
func (l *Ledger) Stop() error { return l.pool.Stop() }

// ErrSyncBacklog means queued stock writes are close to the queue capacity
var ErrSyncBacklog = errors.New("stock sync queue near capacity")

// Healthy returns ErrSyncBacklog when the write queue is at least 90% full
func (l *Ledger) Healthy(context.Context) error {
	if !l.pool.IsHealthy() {
		return ErrSyncBacklog
	}
	return nil
}

// Decrement removes one unit from med's stock and schedules the write.
// A medication already at zero is left unchanged and reported with changed=false.
func (l *Ledger) Decrement(med medication.Medication) (qty int, changed bool, err error) {
	l.mu.Lock()
	current := med.CurrentQuantity
	prev, hadPrev := l.pending[med.ID]
	if hadPrev {
		current = prev.qty
	}
	if current <= 0 {
		l.mu.Unlock()
		return current, false, nil
	}

	l.seq++
	entry := pendingEntry{qty: current - 1, seq: l.seq}
	l.pending[med.ID] = entry
	n := len(l.pending)
	l.mu.Unlock()
	l.reportPending(n)

	task := &workerpool.Task{
		ID:      fmt.Sprintf("%s#%d", med.ID, entry.seq),
		Payload: syncJob{medicationID: med.ID, qty: entry.qty, seq: entry.seq},
	}
	if err := l.pool.Submit(task); err != nil {
		// earlier writes may still be queued; their value stays visible
		l.restore(med.ID, entry.seq, prev, hadPrev)
		return current, false, fmt.Errorf("schedule stock write: %w", err)
	}

	l.logger.Debug("stock decremented locally",
		zap.String("medication_id", med.ID),
		zap.Int("quantity", entry.qty))
	return entry.qty, true, nil
}

// Overlay returns copies of meds with unsynced local quantities applied
func (l *Ledger) Overlay(meds []medication.Medication) []medication.Medication {
	out := make([]medication.Medication, len(meds))
	copy(out, meds)

	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range out {
		if p, ok := l.pending[out[i].ID]; ok {
			out[i].CurrentQuantity = p.qty
		}
	}
	return out
}

// Pending returns the number of medications with unsynced quantities
func (l *Ledger) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

func (l *Ledger) persist(ctx context.Context, task *workerpool.Task) *workerpool.Result {
	job, ok := task.Payload.(syncJob)
	if !ok {
		return &workerpool.Result{Error: fmt.Errorf("unexpected payload %T", task.Payload)}
	}

	write := func(ctx context.Context) error {
		if l.config.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, l.config.Timeout)
			defer cancel()
		}
		return l.writer.UpdateMedicationQuantity(ctx, job.medicationID, job.qty)
	}

	var err error
	if l.breaker != nil {
		err = l.breaker.Execute(ctx, write)
	} else {
		err = write(ctx)
	}
	if errors.Is(err, medication.ErrNotFound) {
		// nothing to reconcile against; retrying cannot help
		return &workerpool.Result{Success: true, Data: job}
	}
	return &workerpool.Result{Success: err == nil, Error: err, Data: job}
}

// settle clears the local entry once its write finished either way.
// A newer decrement for the same medication keeps its own entry.
func (l *Ledger) settle(task *workerpool.Task, result *workerpool.Result) {
	job, ok := task.Payload.(syncJob)
	if !ok {
		return
	}
	l.drop(job.medicationID, job.seq)

	if !result.Success {
		l.logger.Error("stock write abandoned, keeping stored quantity",
			zap.String("medication_id", job.medicationID),
			zap.Int("quantity", job.qty),
			zap.Int("attempts", result.Attempts),
			zap.Error(result.Error))
		if l.observer != nil {
			l.observer.StockSyncFailed(job.medicationID)
		}
	}
}

func (l *Ledger) drop(medicationID string, seq uint64) {
	l.mu.Lock()
	if p, ok := l.pending[medicationID]; ok && p.seq == seq {
		delete(l.pending, medicationID)
	}
	n := len(l.pending)
	l.mu.Unlock()
	l.reportPending(n)
}

// restore undoes an unscheduled decrement unless a newer one replaced it
func (l *Ledger) restore(medicationID string, seq uint64, prev pendingEntry, hadPrev bool) {
	l.mu.Lock()
	if p, ok := l.pending[medicationID]; ok && p.seq == seq {
		if hadPrev {
			l.pending[medicationID] = prev
		} else {
			delete(l.pending, medicationID)
		}
	}
	n := len(l.pending)
	l.mu.Unlock()
	l.reportPending(n)
}

func (l *Ledger) reportPending(n int) {
	if l.observer != nil {
		l.observer.StockPending(n)
	}
}
