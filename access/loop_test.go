package access

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoop_DrainRunsInOrder(t *testing.T) {
	loop := NewLoop()
	var got []int
	loop.Post(func() {
		got = append(got, 1)
		loop.Post(func() { got = append(got, 3) })
	})
	loop.Post(func() { got = append(got, 2) })

	assert.Equal(t, 3, loop.Drain())
	assert.Equal(t, []int{1, 2, 3}, got)
	assert.Equal(t, 0, loop.Pending())
}

func TestLoop_PanicDoesNotStopLoop(t *testing.T) {
	loop := NewLoop()
	ran := false
	loop.Post(func() { panic("boom") })
	loop.Post(func() { ran = true })
	loop.Drain()
	assert.True(t, ran)
}

func TestLoop_RunAndSync(t *testing.T) {
	loop := NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	var n atomic.Int32
	for i := 0; i < 10; i++ {
		loop.Post(func() { n.Add(1) })
	}
	syncCtx, syncCancel := context.WithTimeout(context.Background(), time.Second)
	defer syncCancel()
	require.NoError(t, loop.Sync(syncCtx))
	assert.Equal(t, int32(10), n.Load())

	called := false
	require.NoError(t, loop.Call(syncCtx, func() { called = true }))
	assert.True(t, called)

	cancel()
	require.NoError(t, <-done)
}

func TestLoop_RunTwice(t *testing.T) {
	loop := NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx) }()
	require.Eventually(t, func() bool { return loop.running.Load() }, time.Second, time.Millisecond)
	assert.Error(t, loop.Run(ctx))
}

func TestOneShot_ReplacesNeverStacks(t *testing.T) {
	loop := NewLoop()
	shot := NewOneShot(loop)

	var fired []string
	shot.Arm(10*time.Millisecond, func() { fired = append(fired, "first") })
	shot.Arm(10*time.Millisecond, func() { fired = append(fired, "second") })
	assert.True(t, shot.Armed())

	require.Eventually(t, func() bool {
		loop.Drain()
		return len(fired) > 0
	}, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	loop.Drain()

	assert.Equal(t, []string{"second"}, fired)
	assert.False(t, shot.Armed())
}

func TestOneShot_Disarm(t *testing.T) {
	loop := NewLoop()
	shot := NewOneShot(loop)
	fired := false
	shot.Arm(5*time.Millisecond, func() { fired = true })
	shot.Disarm()
	time.Sleep(20 * time.Millisecond)
	loop.Drain()
	assert.False(t, fired)
	assert.False(t, shot.Armed())
}
