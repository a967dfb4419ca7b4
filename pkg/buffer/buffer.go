// Package buffer provides a generic, thread-safe circular buffer with
// configurable overflow policies.
//
// lgraccess uses it in three places: the file source recycles decoded
// records through a DropNewest buffer, the file sink queues encoded lines
// for its flush loop and the websocket sink keeps a DropOldest outbound
// queue per client so that a slow browser only loses its own backlog.
package buffer

import (
	"context"
)

// Buffer is a bounded FIFO of items of type T
type Buffer[T any] interface {
	// Write adds an item. Behavior when full depends on the overflow policy.
	Write(item T) error

	// Read removes the oldest item, false if the buffer is empty.
	Read() (T, bool)

	// ReadWait blocks until an item is available, the buffer is closed or ctx ends.
	ReadWait(ctx context.Context) (T, error)

	// ReadBatch removes up to max items.
	ReadBatch(max int) []T

	Size() int
	Capacity() int
	Clear()
	Stats() Stats
	Close() error
}

// OverflowPolicy defines how the buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest removes the oldest item to make room for new items.
	DropOldest OverflowPolicy = iota

	// DropNewest drops new items when the buffer is full.
	DropNewest

	// Block causes Write to wait until space is available.
	Block
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	case Block:
		return "Block"
	default:
		return "Unknown"
	}
}

// DropCallback is called, outside the buffer lock, with every dropped item.
type DropCallback[T any] func(item T)

// NewCircularBuffer creates a circular buffer. It fails only when metrics
// were requested and could not be registered.
func NewCircularBuffer[T any](capacity int, options ...Option[T]) (Buffer[T], error) {
	opts := applyOptions(options...)
	return newCircularBuffer(capacity, opts)
}
