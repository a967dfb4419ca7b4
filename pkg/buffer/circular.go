package buffer

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/c360/lgraccess/errors"
)

// Stats is a snapshot of buffer counters
type Stats struct {
	Writes  int64 `json:"writes"`
	Reads   int64 `json:"reads"`
	Drops   int64 `json:"drops"`
	MaxSize int64 `json:"max_size"`
}

type circularBuffer[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // next read position
	opts     *bufferOptions[T]
	metrics  *bufferMetrics
	notEmpty *sync.Cond
	notFull  *sync.Cond
	closed   bool

	writes  atomic.Int64
	reads   atomic.Int64
	drops   atomic.Int64
	maxSize atomic.Int64
}

func newCircularBuffer[T any](capacity int, opts *bufferOptions[T]) (*circularBuffer[T], error) {
	if capacity <= 0 {
		capacity = 1
	}

	var metrics *bufferMetrics
	if opts.metricsReg != nil {
		var err error
		metrics, err = newBufferMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "buffer", "newCircularBuffer", "metrics registration")
		}
	}

	cb := &circularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		opts:     opts,
		metrics:  metrics,
	}
	cb.notEmpty = sync.NewCond(&cb.mu)
	cb.notFull = sync.NewCond(&cb.mu)
	return cb, nil
}

func (cb *circularBuffer[T]) Write(item T) error {
	cb.mu.Lock()

	if cb.closed {
		cb.mu.Unlock()
		return errors.WrapInvalid(errors.ErrShuttingDown, "Buffer", "Write", "buffer closed")
	}

	var dropped T
	hasDropped := false

	if cb.size == cb.capacity {
		switch cb.opts.overflowPolicy {
		case DropNewest:
			cb.recordDrop()
			cb.mu.Unlock()
			if cb.opts.dropCallback != nil {
				cb.opts.dropCallback(item)
			}
			return nil

		case Block:
			for cb.size == cb.capacity && !cb.closed {
				cb.notFull.Wait()
			}
			if cb.closed {
				cb.mu.Unlock()
				return errors.WrapInvalid(errors.ErrShuttingDown, "Buffer", "Write", "buffer closed while blocked")
			}

		default:
			dropped, hasDropped = cb.popLocked()
			cb.recordDrop()
		}
	}

	cb.items[cb.head] = item
	cb.head = (cb.head + 1) % cb.capacity
	cb.size++
	cb.writes.Add(1)
	if int64(cb.size) > cb.maxSize.Load() {
		cb.maxSize.Store(int64(cb.size))
	}
	cb.updateSize()
	cb.notEmpty.Signal()
	cb.mu.Unlock()

	if hasDropped && cb.opts.dropCallback != nil {
		cb.opts.dropCallback(dropped)
	}
	return nil
}

func (cb *circularBuffer[T]) popLocked() (T, bool) {
	var zero T
	if cb.size == 0 {
		return zero, false
	}
	item := cb.items[cb.tail]
	cb.items[cb.tail] = zero
	cb.tail = (cb.tail + 1) % cb.capacity
	cb.size--
	return item, true
}

func (cb *circularBuffer[T]) recordDrop() {
	cb.drops.Add(1)
	if cb.metrics != nil {
		cb.metrics.drops.Inc()
	}
}

func (cb *circularBuffer[T]) updateSize() {
	if cb.metrics != nil {
		cb.metrics.size.Set(float64(cb.size))
	}
}

func (cb *circularBuffer[T]) Read() (T, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	item, ok := cb.popLocked()
	if ok {
		cb.reads.Add(1)
		cb.updateSize()
		cb.notFull.Signal()
	}
	return item, ok
}

func (cb *circularBuffer[T]) ReadWait(ctx context.Context) (T, error) {
	stop := context.AfterFunc(ctx, func() {
		cb.mu.Lock()
		cb.notEmpty.Broadcast()
		cb.mu.Unlock()
	})
	defer stop()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	var zero T
	for cb.size == 0 {
		if cb.closed {
			return zero, errors.WrapInvalid(errors.ErrShuttingDown, "Buffer", "ReadWait", "buffer closed")
		}
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		cb.notEmpty.Wait()
	}

	item, _ := cb.popLocked()
	cb.reads.Add(1)
	cb.updateSize()
	cb.notFull.Signal()
	return item, nil
}

func (cb *circularBuffer[T]) ReadBatch(max int) []T {
	if max <= 0 {
		return nil
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.size == 0 {
		return nil
	}
	if max > cb.size {
		max = cb.size
	}

	result := make([]T, 0, max)
	for i := 0; i < max; i++ {
		item, _ := cb.popLocked()
		result = append(result, item)
	}
	cb.reads.Add(int64(max))
	cb.updateSize()
	cb.notFull.Broadcast()
	return result
}

func (cb *circularBuffer[T]) Size() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.size
}

func (cb *circularBuffer[T]) Capacity() int {
	return cb.capacity
}

func (cb *circularBuffer[T]) Clear() {
	cb.mu.Lock()
	var dropped []T
	for {
		item, ok := cb.popLocked()
		if !ok {
			break
		}
		if cb.opts.dropCallback != nil {
			dropped = append(dropped, item)
		}
	}
	cb.head, cb.tail = 0, 0
	cb.updateSize()
	cb.notFull.Broadcast()
	cb.mu.Unlock()

	for _, item := range dropped {
		cb.opts.dropCallback(item)
	}
}

func (cb *circularBuffer[T]) Stats() Stats {
	return Stats{
		Writes:  cb.writes.Load(),
		Reads:   cb.reads.Load(),
		Drops:   cb.drops.Load(),
		MaxSize: cb.maxSize.Load(),
	}
}

// Close wakes every blocked reader and writer. Items already buffered can still be read.
func (cb *circularBuffer[T]) Close() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.closed {
		return nil
	}
	cb.closed = true
	cb.notEmpty.Broadcast()
	cb.notFull.Broadcast()
	return nil
}
