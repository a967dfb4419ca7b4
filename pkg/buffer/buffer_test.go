package buffer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/lgraccess/errors"
	"github.com/c360/lgraccess/metric"
)

func TestOverflowPolicy_String(t *testing.T) {
	assert.Equal(t, "DropOldest", DropOldest.String())
	assert.Equal(t, "DropNewest", DropNewest.String())
	assert.Equal(t, "Block", Block.String())
	assert.Equal(t, "Unknown", OverflowPolicy(42).String())
}

func TestCircularBuffer_FIFO(t *testing.T) {
	buf, err := NewCircularBuffer[int](3)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		require.NoError(t, buf.Write(i))
	}
	assert.Equal(t, 3, buf.Size())

	v, ok := buf.Read()
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, []int{2, 3}, buf.ReadBatch(10))

	_, ok = buf.Read()
	assert.False(t, ok)
	assert.Nil(t, buf.ReadBatch(0))
}

func TestCircularBuffer_DropOldest(t *testing.T) {
	var dropped []int
	buf, err := NewCircularBuffer(2, WithDropCallback(func(v int) { dropped = append(dropped, v) }))
	require.NoError(t, err)

	for i := 1; i <= 4; i++ {
		require.NoError(t, buf.Write(i))
	}

	assert.Equal(t, []int{3, 4}, buf.ReadBatch(2))
	assert.Equal(t, []int{1, 2}, dropped)
	assert.Equal(t, int64(2), buf.Stats().Drops)
}

func TestCircularBuffer_DropNewest(t *testing.T) {
	var dropped []string
	buf, err := NewCircularBuffer(1,
		WithOverflowPolicy[string](DropNewest),
		WithDropCallback(func(v string) { dropped = append(dropped, v) }))
	require.NoError(t, err)

	require.NoError(t, buf.Write("kept"))
	require.NoError(t, buf.Write("lost"))

	v, _ := buf.Read()
	assert.Equal(t, "kept", v)
	assert.Equal(t, []string{"lost"}, dropped)
}

func TestCircularBuffer_BlockUntilRead(t *testing.T) {
	buf, err := NewCircularBuffer(1, WithOverflowPolicy[int](Block))
	require.NoError(t, err)
	require.NoError(t, buf.Write(1))

	done := make(chan error, 1)
	go func() { done <- buf.Write(2) }()

	select {
	case <-done:
		t.Fatal("write should block while full")
	case <-time.After(50 * time.Millisecond):
	}

	v, _ := buf.Read()
	assert.Equal(t, 1, v)
	require.NoError(t, <-done)
	v, _ = buf.Read()
	assert.Equal(t, 2, v)
}

func TestCircularBuffer_ReadWait(t *testing.T) {
	buf, err := NewCircularBuffer[int](4)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	var got int
	var readErr error
	go func() {
		defer wg.Done()
		got, readErr = buf.ReadWait(context.Background())
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, buf.Write(7))
	wg.Wait()
	require.NoError(t, readErr)
	assert.Equal(t, 7, got)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = buf.ReadWait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCircularBuffer_CloseWakesReaders(t *testing.T) {
	buf, err := NewCircularBuffer[int](1)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := buf.ReadWait(context.Background())
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, buf.Close())

	err = <-done
	assert.True(t, errors.Is(err, errors.ErrShuttingDown))
	assert.Error(t, buf.Write(1))
}

func TestCircularBuffer_Clear(t *testing.T) {
	var dropped int
	buf, err := NewCircularBuffer(3, WithDropCallback(func(int) { dropped++ }))
	require.NoError(t, err)
	_ = buf.Write(1)
	_ = buf.Write(2)

	buf.Clear()
	assert.Equal(t, 0, buf.Size())
	assert.Equal(t, 2, dropped)

	require.NoError(t, buf.Write(3))
	v, _ := buf.Read()
	assert.Equal(t, 3, v)
}

func TestCircularBuffer_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()

	_, err := NewCircularBuffer(2, WithMetrics[int](registry, "ws_client"))
	require.NoError(t, err)

	_, err = NewCircularBuffer(2, WithMetrics[int](registry, "ws_client"))
	assert.Error(t, err, "duplicate component prefix must fail")

	_, err = NewCircularBuffer(2, WithMetrics[int](nil, "ignored"))
	assert.NoError(t, err)
}
