package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/lgraccess/errors"
	"github.com/c360/lgraccess/metric"
)

func TestNewLRU_InvalidSize(t *testing.T) {
	_, err := NewLRU[int](0)
	assert.True(t, errors.IsInvalid(err))
}

func TestLRU_SetGet(t *testing.T) {
	c, err := NewLRU[[]string](4)
	require.NoError(t, err)

	created, err := c.Set("CR1000.Hourly", []string{"Temp", "RH"})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = c.Set("CR1000.Hourly", []string{"Temp"})
	require.NoError(t, err)
	assert.False(t, created)

	v, ok := c.Get("CR1000.Hourly")
	require.True(t, ok)
	assert.Equal(t, []string{"Temp"}, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRatio(), 0.001)

	_, err = c.Set("", nil)
	assert.Error(t, err)
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	var evicted []string
	c, err := NewLRU(2, WithEvictionCallback(func(key string, _ int) { evicted = append(evicted, key) }))
	require.NoError(t, err)

	_, _ = c.Set("a", 1)
	_, _ = c.Set("b", 2)
	_, _ = c.Get("a")
	_, _ = c.Set("c", 3)

	assert.Equal(t, []string{"b"}, evicted)
	assert.Equal(t, []string{"c", "a"}, c.Keys())
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestLRU_DeleteAndPrefix(t *testing.T) {
	c, err := NewLRU[int](10)
	require.NoError(t, err)

	_, _ = c.Set("stn1.Hourly", 1)
	_, _ = c.Set("stn1.Daily", 2)
	_, _ = c.Set("stn2.Hourly", 3)

	assert.True(t, c.Delete("stn2.Hourly"))
	assert.False(t, c.Delete("stn2.Hourly"))
	assert.Equal(t, 2, c.DeletePrefix("stn1."))
	assert.Equal(t, 0, c.Size())

	_, _ = c.Set("x", 1)
	c.Clear()
	assert.Empty(t, c.Keys())
}

func TestLRU_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()

	c, err := NewLRU(2, WithMetrics[int](registry, "table_defs"))
	require.NoError(t, err)
	_, _ = c.Get("x")

	_, err = NewLRU(2, WithMetrics[int](registry, "table_defs"))
	assert.Error(t, err)
}
