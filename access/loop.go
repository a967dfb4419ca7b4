package access

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/lgraccess/errors"
	"github.com/c360/lgraccess/metric"
)

// Loop is the single goroutine that runs every Manager, Source and Browser
// operation. Work from other goroutines enters through Post; tasks run one at
// a time in post order. A task that panics is logged and the loop continues.
type Loop struct {
	mu     sync.Mutex
	tasks  []func()
	notify chan struct{}

	running atomic.Bool
	logger  *slog.Logger
	metrics *metric.Metrics
}

// LoopOption configures a Loop
type LoopOption func(*Loop)

// WithLoopLogger sets the loop logger
func WithLoopLogger(logger *slog.Logger) LoopOption {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithLoopMetrics counts tasks and panics in m
func WithLoopMetrics(m *metric.Metrics) LoopOption {
	return func(l *Loop) { l.metrics = m }
}

// NewLoop creates an idle loop
func NewLoop(opts ...LoopOption) *Loop {
	l := &Loop{
		notify: make(chan struct{}, 1),
		logger: slog.Default().With("component", "loop"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Post queues task. Safe from any goroutine.
func (l *Loop) Post(task func()) {
	if task == nil {
		return
	}
	l.mu.Lock()
	l.tasks = append(l.tasks, task)
	l.mu.Unlock()
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// AfterFunc posts task once d has elapsed
func (l *Loop) AfterFunc(d time.Duration, task func()) *time.Timer {
	return time.AfterFunc(d, func() { l.Post(task) })
}

// Run processes tasks until ctx is done
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Loop", "Run", "loop start")
	}
	defer l.running.Store(false)

	for {
		l.Drain()
		select {
		case <-ctx.Done():
			return nil
		case <-l.notify:
		}
	}
}

// Drain runs queued tasks, including tasks they post, until the queue is
// empty. It returns the number of tasks run. Tests use it to drive a loop
// deterministically; it must not be called while Run is active.
func (l *Loop) Drain() int {
	n := 0
	for {
		l.mu.Lock()
		if len(l.tasks) == 0 {
			l.mu.Unlock()
			return n
		}
		task := l.tasks[0]
		l.tasks[0] = nil
		l.tasks = l.tasks[1:]
		l.mu.Unlock()

		l.run(task)
		n++
	}
}

// Pending returns the number of queued tasks
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks)
}

// Sync waits until every task posted before the call has run
func (l *Loop) Sync(ctx context.Context) error {
	done := make(chan struct{})
	l.Post(func() { close(done) })
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "Loop", "Sync", "barrier wait")
	}
}

// Call runs fn on the loop and waits for it
func (l *Loop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	l.Post(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "Loop", "Call", "task wait")
	}
}

func (l *Loop) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			if l.metrics != nil {
				l.metrics.LoopPanics.Inc()
			}
			l.logger.Error("Loop task panicked",
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()
	if l.metrics != nil {
		l.metrics.LoopTasks.Inc()
	}
	task()
}

// OneShot is a re-armable timer whose callback runs on a Loop. Arming an
// armed timer replaces the pending callback. Use only from the loop.
type OneShot struct {
	loop  *Loop
	timer *time.Timer
	gen   uint64
}

// NewOneShot creates a disarmed timer bound to loop
func NewOneShot(loop *Loop) *OneShot {
	return &OneShot{loop: loop}
}

// Arm schedules fn after d, replacing any pending callback
func (o *OneShot) Arm(d time.Duration, fn func()) {
	o.Disarm()
	gen := o.gen
	o.timer = time.AfterFunc(d, func() {
		o.loop.Post(func() {
			if o.gen != gen || o.timer == nil {
				return
			}
			o.timer = nil
			fn()
		})
	})
}

// Disarm cancels the pending callback, if any
func (o *OneShot) Disarm() {
	o.gen++
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
}

// Armed reports whether a callback is pending
func (o *OneShot) Armed() bool {
	return o.timer != nil
}
