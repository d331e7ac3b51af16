package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{Workers: 2, QueueSize: 8, MaxRetries: 2, RetryDelay: time.Millisecond, GracefulShutdownTimeout: time.Second}
}

func TestSubmitWaitSucceedsAfterRetry(t *testing.T) {
	var calls int32
	fn := func(ctx context.Context, task *Task) *Result {
		if atomic.AddInt32(&calls, 1) < 2 {
			return &Result{Error: errors.New("transient")}
		}
		return &Result{Success: true, Data: task.Payload}
	}

	pool, err := New(testConfig(), fn, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pool.Start()
	defer pool.Stop()

	res, err := pool.SubmitWait(context.Background(), &Task{ID: "t1", Payload: 7})
	if err != nil {
		t.Fatalf("SubmitWait: %v", err)
	}
	if !res.Success || res.Attempts != 2 || res.Data != 7 {
		t.Errorf("unexpected result %+v", res)
	}
	if got := pool.Stats().TasksRetried; got != 1 {
		t.Errorf("retried = %d, want 1", got)
	}
}

func TestRetriesExhausted(t *testing.T) {
	boom := errors.New("boom")
	final := make(chan *Result, 1)
	fn := func(context.Context, *Task) *Result { return &Result{Error: boom} }
	onResult := func(_ *Task, r *Result) { final <- r }

	pool, _ := New(testConfig(), fn, onResult, nil)
	pool.Start()
	defer pool.Stop()

	if err := pool.Submit(&Task{ID: "t"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case r := <-final:
		if r.Success || !errors.Is(r.Error, boom) || r.Attempts != 3 {
			t.Errorf("unexpected result %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no result observed")
	}
}

func TestSubmitAfterStop(t *testing.T) {
	pool, _ := New(testConfig(), func(context.Context, *Task) *Result { return &Result{Success: true} }, nil, nil)
	pool.Start()
	if err := pool.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := pool.Submit(&Task{ID: "late"}); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}
	if err := pool.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestNewRequiresWorkerFunc(t *testing.T) {
	if _, err := New(testConfig(), nil, nil, nil); err == nil {
		t.Error("expected error for nil worker func")
	}
}

func TestIsHealthy(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSize = 10
	pool, err := New(cfg, func(context.Context, *Task) *Result { return &Result{Success: true} }, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 0; i < 8; i++ {
		if err := pool.Submit(&Task{ID: "t"}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	if !pool.IsHealthy() {
		t.Errorf("8/10 queued reported unhealthy")
	}
	if err := pool.Submit(&Task{ID: "t"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if pool.IsHealthy() {
		t.Errorf("9/10 queued reported healthy")
	}

	pool.Start()
	if err := pool.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !pool.IsHealthy() {
		t.Errorf("drained pool reported unhealthy, depth %d", pool.Stats().QueueDepth)
	}
}
