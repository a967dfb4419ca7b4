package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/c360/lgraccess/metric"
)

type testQuery struct {
	table string
	fail  bool
	panic bool
	block chan struct{}
}

func TestNewPool_Defaults(t *testing.T) {
	processor := func(context.Context, testQuery) error { return nil }

	pool := NewPool(3, 16, processor)
	if pool.workers != 3 || pool.queueSize != 16 {
		t.Errorf("unexpected sizes: workers=%d queue=%d", pool.workers, pool.queueSize)
	}

	pool = NewPool(0, 0, processor)
	if pool.workers != 2 {
		t.Errorf("expected default 2 workers, got %d", pool.workers)
	}
	if pool.queueSize != 64 {
		t.Errorf("expected default queue size 64, got %d", pool.queueSize)
	}
}

func TestNewPool_NilProcessor(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("expected panic for nil processor")
		}
	}()
	NewPool[testQuery](1, 1, nil)
}

func TestPool_Lifecycle(t *testing.T) {
	pool := NewPool(1, 4, func(context.Context, testQuery) error { return nil })

	if err := pool.Submit(testQuery{}); !errors.Is(err, ErrPoolNotStarted) {
		t.Fatalf("expected ErrPoolNotStarted, got %v", err)
	}

	ctx := context.Background()
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := pool.Start(ctx); !errors.Is(err, ErrPoolAlreadyStarted) {
		t.Errorf("expected ErrPoolAlreadyStarted, got %v", err)
	}
	if err := pool.Stop(time.Second); err != nil {
		t.Errorf("stop failed: %v", err)
	}
	if err := pool.Submit(testQuery{}); !errors.Is(err, ErrPoolStopped) {
		t.Errorf("expected ErrPoolStopped, got %v", err)
	}
	if err := pool.Stop(time.Second); err != nil {
		t.Errorf("second stop should be a no-op, got %v", err)
	}
}

func TestPool_ProcessesAndCountsFailures(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]bool)
	processor := func(_ context.Context, q testQuery) error {
		if q.panic {
			panic("bad row")
		}
		mu.Lock()
		seen[q.table] = true
		mu.Unlock()
		if q.fail {
			return errors.New("query failed")
		}
		return nil
	}

	pool := NewPool(2, 10, processor)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	for _, q := range []testQuery{{table: "a"}, {table: "b", fail: true}, {table: "c"}, {panic: true}} {
		if err := pool.Submit(q); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}
	if err := pool.Stop(2 * time.Second); err != nil {
		t.Fatal(err)
	}

	stats := pool.Stats()
	if stats.Processed != 4 {
		t.Errorf("expected 4 processed, got %d", stats.Processed)
	}
	if stats.Failed != 2 {
		t.Errorf("expected 2 failed (error + panic), got %d", stats.Failed)
	}
	if len(seen) != 3 {
		t.Errorf("expected 3 tables seen, got %v", seen)
	}
}

func TestPool_QueueFull(t *testing.T) {
	block := make(chan struct{})
	var started atomic.Int32
	processor := func(_ context.Context, q testQuery) error {
		started.Add(1)
		<-q.block
		return nil
	}

	pool := NewPool(1, 1, processor)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	// First item occupies the worker, second fills the queue
	if err := pool.Submit(testQuery{block: block}); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(time.Second)
	for started.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := pool.Submit(testQuery{block: block}); err != nil {
		t.Fatal(err)
	}
	if err := pool.Submit(testQuery{block: block}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}
	if pool.Stats().Dropped != 1 {
		t.Errorf("expected 1 dropped, got %d", pool.Stats().Dropped)
	}

	close(block)
	if err := pool.Stop(time.Second); err != nil {
		t.Fatal(err)
	}
}

func TestPool_ContextCancelStopsWorkers(t *testing.T) {
	pool := NewPool(2, 4, func(context.Context, testQuery) error { return nil })
	ctx, cancel := context.WithCancel(context.Background())
	if err := pool.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := pool.Stop(time.Second); err != nil {
		t.Errorf("stop after cancel failed: %v", err)
	}
}

func TestPool_MetricsRegistration(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	processor := func(context.Context, testQuery) error { return nil }

	first := NewPool(1, 1, processor, WithMetricsRegistry[testQuery](registry, "db_query"))
	if first.metrics == nil {
		t.Fatal("expected metrics to be registered")
	}

	// Same prefix again must not panic and runs without metrics
	second := NewPool(1, 1, processor, WithMetricsRegistry[testQuery](registry, "db_query"))
	if second.metrics != nil {
		t.Error("expected duplicate prefix to disable metrics")
	}
}
