// Package cache provides a generic, thread-safe LRU cache.
//
// Sources use it to remember table layouts (column descriptors keyed by
// "station.table") so that repeated URI breakdowns and record templates do
// not round-trip to the backend. Entries are invalidated explicitly when the
// backend reports a schema change.
package cache

import (
	"github.com/c360/lgraccess/errors"
)

// Cache is a string-keyed cache of values of type V
type Cache[V any] interface {
	// Get returns the value and marks it recently used.
	Get(key string) (V, bool)

	// Set stores a value. It reports true when a new entry was created.
	Set(key string, value V) (bool, error)

	// Delete removes an entry, reporting whether it existed.
	Delete(key string) bool

	// DeletePrefix removes every entry whose key starts with prefix.
	DeletePrefix(prefix string) int

	Clear()
	Size() int
	Keys() []string
	Stats() Stats
}

// EvictCallback is called, outside the cache lock, when an entry is evicted for size.
type EvictCallback[V any] func(key string, value V)

// Stats is a snapshot of cache counters
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// HitRatio returns hits over lookups, zero before the first lookup
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// NewLRU creates an LRU cache holding at most maxSize entries
func NewLRU[V any](maxSize int, options ...Option[V]) (Cache[V], error) {
	if maxSize <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "NewLRU", "maxSize must be positive")
	}
	return newLRUCache(maxSize, applyOptions(options...))
}

func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "validateKey", "key cannot be empty")
	}
	return nil
}
