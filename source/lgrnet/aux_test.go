package lgrnet_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/lgraccess/access"
	"github.com/c360/lgraccess/source/lgrnet/lgrnettest"
)

func TestAux_SetVariable(t *testing.T) {
	f := newFixture(t, nil)
	f.connected()

	got := access.Failure(-1)
	f.m.SetVariable("lgr:stn.Hourly.RH", "55", func(fl access.Failure) { got = fl })
	f.drainUntil(func() bool { return got >= 0 })
	assert.Equal(t, access.FailureUnknown, got)
	v, ok := f.srv.Variable("stn", "Hourly", "RH")
	require.True(t, ok)
	assert.Equal(t, "55", v)

	got = -1
	f.m.SetVariable("lgr:stn.Hourly", "55", func(fl access.Failure) { got = fl })
	f.drainUntil(func() bool { return got >= 0 })
	assert.Equal(t, access.FailureInvalidColumnName, got)

	got = -1
	f.m.SetVariable("lgr:nope.Hourly.RH", "55", func(fl access.Failure) { got = fl })
	f.drainUntil(func() bool { return got >= 0 })
	assert.Equal(t, access.FailureInvalidStationName, got)
}

func TestAux_CheckClock(t *testing.T) {
	logger := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, func(srv *lgrnettest.Server) { srv.Clock = logger })
	f.connected()

	var res access.ClockResult
	done := false
	f.m.CheckClock("lgr:stn", true, func(r access.ClockResult, fl access.Failure) {
		res = r
		assert.Equal(t, access.FailureUnknown, fl)
		done = true
	})
	f.drainUntil(func() bool { return done })
	assert.True(t, res.LoggerTime.Equal(logger))
	assert.True(t, res.Adjusted)
	assert.False(t, res.ServerTime.IsZero())
}

func TestAux_SendAndReceiveFile(t *testing.T) {
	f := newFixture(t, nil)
	f.connected()

	sent := access.Failure(-1)
	f.m.SendFile("lgr:stn", "prog.cr1", []byte("BeginProg"), func(fl access.Failure) { sent = fl })
	f.drainUntil(func() bool { return sent >= 0 })
	assert.Equal(t, access.FailureUnknown, sent)

	var data []byte
	received := access.Failure(-1)
	f.m.ReceiveFile("lgr:stn", "prog.cr1", func(d []byte, fl access.Failure) {
		data, received = d, fl
	})
	f.drainUntil(func() bool { return received >= 0 })
	assert.Equal(t, access.FailureUnknown, received)
	assert.Equal(t, "BeginProg", string(data))

	received = -1
	f.m.ReceiveFile("lgr:stn", "missing.cr1", func(_ []byte, fl access.Failure) { received = fl })
	f.drainUntil(func() bool { return received >= 0 })
	assert.NotEqual(t, access.FailureUnknown, received)
}

func TestAux_TableRange(t *testing.T) {
	f := newFixture(t, func(srv *lgrnettest.Server) {
		srv.SetTableRange("stn", "Hourly",
			access.RecordPosition{RecordNo: 10, Stamp: t0},
			access.RecordPosition{RecordNo: 20, Stamp: t0.Add(10 * time.Hour)})
	})
	f.connected()

	var rng access.TableRange
	got := access.Failure(-1)
	f.m.TableRange("lgr:stn.Hourly", func(r access.TableRange, fl access.Failure) { rng, got = r, fl })
	f.drainUntil(func() bool { return got >= 0 })
	assert.Equal(t, access.FailureUnknown, got)
	assert.Equal(t, uint32(10), rng.Begin.RecordNo)
	assert.Equal(t, uint32(20), rng.End.RecordNo)
}

func TestAux_NotConnected(t *testing.T) {
	f := newFixture(t, func(srv *lgrnettest.Server) {
		srv.ConnectErr = assert.AnError
	})

	got := access.Failure(-1)
	f.m.CheckClock("lgr:stn", false, func(_ access.ClockResult, fl access.Failure) { got = fl })
	f.drainUntil(func() bool { return got >= 0 })
	assert.Equal(t, access.FailureConnectionFailed, got)

	_, err := f.m.OpenTerminal("lgr:stn", &terminalRecorder{})
	assert.Error(t, err)
}

type terminalRecorder struct {
	mu     sync.Mutex
	data   []byte
	closed bool
}

func (r *terminalRecorder) OnTerminalData(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = append(r.data, data...)
}

func (r *terminalRecorder) OnTerminalClosed(access.Failure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

func (r *terminalRecorder) snapshot() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return string(r.data), r.closed
}

func TestAux_TerminalEchoesOnLoop(t *testing.T) {
	f := newFixture(t, nil)
	f.connected()

	h := &terminalRecorder{}
	term, err := f.m.OpenTerminal("lgr:stn", h)
	require.NoError(t, err)

	require.NoError(t, term.Send([]byte("\r")))
	data, _ := h.snapshot()
	assert.Empty(t, data, "terminal data is delivered on the loop")

	f.drainUntil(func() bool { d, _ := h.snapshot(); return d == "\r" })
	term.Close()
	f.drainUntil(func() bool { _, closed := h.snapshot(); return closed })
}
