package access_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/lgraccess/access"
	"github.com/c360/lgraccess/errors"
	"github.com/c360/lgraccess/metric"
	"github.com/c360/lgraccess/testutil"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newManager(t *testing.T) (*access.Manager, *access.Loop, *testutil.FakeSource) {
	t.Helper()
	loop := access.NewLoop()
	m := access.NewManager(loop, access.WithMetrics(metric.NewMetricsRegistry()))
	src := testutil.NewFakeSource("src", testutil.Template("stn", "Hourly"))
	require.NoError(t, m.AddSource(src))
	require.NoError(t, m.Start())
	loop.Drain()
	return m, loop, src
}

func TestManager_AddSourceDuplicateName(t *testing.T) {
	m, _, _ := newManager(t)
	err := m.AddSource(testutil.NewFakeSource("src", nil))
	assert.True(t, errors.IsInvalid(err))
	assert.Equal(t, "src_2", m.UniqueSourceName("src"))
	assert.Equal(t, "my_src", m.UniqueSourceName("my src"))
}

func TestManager_StartTwice(t *testing.T) {
	m, _, src := newManager(t)
	assert.Error(t, m.Start())
	assert.Equal(t, 1, src.Connects)
	require.NoError(t, m.Stop())
	assert.False(t, src.IsConnected())
	assert.Error(t, m.Stop())
}

func TestManager_CompatibleRequestsShareOneCursor(t *testing.T) {
	m, loop, src := newManager(t)
	sink := testutil.NewRecordingSink()
	defer sink.Close()

	for _, col := range []string{"Temp", "RH", "Batt"} {
		r := access.NewRequest("src:stn.Hourly."+col, sink)
		require.NoError(t, r.SetOrder(access.OrderRealTime))
		require.NoError(t, m.AddRequest(r, true))
	}
	m.ActivateRequests()
	loop.Drain()

	assert.Equal(t, 1, src.CursorsOpened)
	assert.Len(t, sink.Ready(), 3)
	for _, r := range m.Requests() {
		assert.Equal(t, access.StateStarted, r.State())
	}

	src.Push(testutil.Records(src.Template, 1, 2, t0)...)
	batches := sink.Batches()
	require.Len(t, batches, 1, "one call per sink")
	assert.Len(t, batches[0].Requests, 3)
	assert.Len(t, batches[0].Records, 2)
}

func TestManager_IncompatibleRequestsSplit(t *testing.T) {
	m, loop, src := newManager(t)
	sink := testutil.NewRecordingSink()
	defer sink.Close()

	a := access.NewRequest("src:stn.Hourly", sink)
	b := access.NewRequest("src:stn.Hourly", sink)
	require.NoError(t, b.SetStartAtOffsetFromNewest(5))
	require.NoError(t, m.AddRequest(a, true))
	require.NoError(t, m.AddRequest(b, true))
	m.ActivateRequests()
	loop.Drain()

	assert.Equal(t, 2, src.CursorsOpened)
}

func TestManager_UnknownSourceFails(t *testing.T) {
	m, loop, _ := newManager(t)
	sink := testutil.NewRecordingSink()
	defer sink.Close()

	r := access.NewRequest("nope:stn.Hourly", sink)
	require.NoError(t, m.AddRequest(r, false))
	loop.Drain()

	failures := sink.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, access.FailureInvalidSource, failures[0].Failure)
	assert.Equal(t, access.StateError, r.State())
}

func TestManager_InvalidColumnFailsOnlyThatRequest(t *testing.T) {
	m, loop, src := newManager(t)
	sink := testutil.NewRecordingSink()
	defer sink.Close()

	good := access.NewRequest("src:stn.Hourly.RH", sink)
	bad := access.NewRequest("src:stn.Hourly.Missing", sink)
	require.NoError(t, m.AddRequest(good, true))
	require.NoError(t, m.AddRequest(bad, true))
	m.ActivateRequests()
	loop.Drain()

	assert.Equal(t, access.StateStarted, good.State())
	assert.Equal(t, access.StateError, bad.State())
	require.Len(t, sink.Failures(), 1)
	assert.Equal(t, access.FailureInvalidColumnName, sink.Failures()[0].Failure)

	src.Push(testutil.Records(src.Template, 1, 1, t0)...)
	require.Len(t, sink.Batches(), 1)
	assert.Equal(t, []*access.Request{good}, sink.Batches()[0].Requests)
}

func TestManager_ContractViolations(t *testing.T) {
	m, loop, _ := newManager(t)

	untracked := &testutil.RecordingSink{}
	assert.True(t, errors.IsInvalid(m.AddRequest(access.NewRequest("src:x", untracked), false)))
	assert.Error(t, m.AddRequest(nil, false))

	sink := testutil.NewRecordingSink()
	defer sink.Close()
	r := access.NewRequest("src:stn.Hourly", sink)
	require.NoError(t, m.AddRequest(r, false))
	loop.Drain()
	assert.True(t, errors.IsInvalid(m.AddRequest(r, false)), "started request cannot be re-added")
}

func TestManager_RemoveRequestDuringDelivery(t *testing.T) {
	m, loop, src := newManager(t)
	sink := testutil.NewRecordingSink()
	defer sink.Close()

	r := access.NewRequest("src:stn.Hourly", sink)
	require.NoError(t, m.AddRequest(r, false))
	loop.Drain()

	sink.OnRecords = func(m *access.Manager, reqs []*access.Request) {
		for _, req := range reqs {
			m.RemoveRequest(req)
		}
	}
	src.Push(testutil.Records(src.Template, 1, 1, t0)...)
	assert.Equal(t, access.StateRemovePending, r.State())

	src.Push(testutil.Records(src.Template, 2, 1, t0)...)
	assert.Len(t, sink.Batches(), 1, "remove-pending request is skipped")

	loop.Drain()
	assert.Empty(t, m.Requests())
	assert.Equal(t, 0, src.Cursors())

	require.NoError(t, m.AddRequest(r, false), "removed request may be added again")
	loop.Drain()
	assert.Equal(t, access.StateStarted, r.State())
}

func TestManager_ReleasedSinkRequestsAreRemoved(t *testing.T) {
	m, loop, src := newManager(t)
	sink := testutil.NewRecordingSink()

	require.NoError(t, m.AddRequest(access.NewRequest("src:stn.Hourly", sink), false))
	loop.Drain()
	sink.Close()

	src.Push(testutil.Records(src.Template, 1, 1, t0)...)
	loop.Drain()
	assert.Empty(t, sink.Batches())
	assert.Empty(t, m.Requests())
}

func TestManager_RemoveAllRequests(t *testing.T) {
	m, loop, _ := newManager(t)
	a, b := testutil.NewRecordingSink(), testutil.NewRecordingSink()
	defer a.Close()
	defer b.Close()

	require.NoError(t, m.AddRequest(access.NewRequest("src:stn.Hourly", a), true))
	require.NoError(t, m.AddRequest(access.NewRequest("src:stn.Hourly", a), true))
	require.NoError(t, m.AddRequest(access.NewRequest("src:stn.Hourly", b), true))
	loop.Drain()

	m.RemoveAllRequests(a)
	loop.Drain()
	require.Len(t, m.Requests(), 1)
	assert.Same(t, b, m.Requests()[0].Sink())
}

func TestManager_RetryFailedRequests(t *testing.T) {
	m, loop, src := newManager(t)
	src.SetTimerIntervals(10*time.Millisecond, 10*time.Millisecond)
	sink := testutil.NewRecordingSink()
	defer sink.Close()

	r := access.NewRequest("src:stn.Hourly", sink)
	require.NoError(t, m.AddRequest(r, false))
	loop.Drain()

	src.Fail(access.FailureInvalidTableName)
	assert.Equal(t, access.StateError, r.State())
	assert.True(t, src.RetryArmed())

	testutil.DrainUntil(t, loop, time.Second, func() bool {
		return r.State() == access.StateStarted
	})
	assert.Equal(t, 1, src.Cursors())
}

func TestManager_ReAddRacingRetryJoinsOneCursor(t *testing.T) {
	m, loop, src := newManager(t)
	sink := testutil.NewRecordingSink()
	defer sink.Close()

	r := access.NewRequest("src:stn.Hourly", sink)
	require.NoError(t, m.AddRequest(r, false))
	loop.Drain()

	src.Fail(access.FailureTableDeleted)
	require.Equal(t, access.StateError, r.State())

	// the caller re-adds while the retry sweep runs before its dispatch
	require.NoError(t, m.AddRequest(r, false))
	m.RetryFailedRequests(src)
	loop.Drain()

	assert.Equal(t, 1, src.Cursors())
	src.Push(testutil.Records(src.Template, 1, 1, t0)...)
	require.Len(t, sink.Batches(), 1)
	assert.Len(t, sink.Batches()[0].Records, 1)
}

func TestManager_ClientNotifications(t *testing.T) {
	loop := access.NewLoop()
	m := access.NewManager(loop)
	client := testutil.NewRecordingClient()
	defer client.Close()
	require.NoError(t, m.AddClient(client))

	src := testutil.NewFakeSource("src", testutil.Template("stn", "Hourly"))
	require.NoError(t, m.AddSource(src))
	require.NoError(t, m.Start())
	src.Log(src, "hello")
	require.NoError(t, m.RemoveSource("src"))

	assert.Equal(t, []string{
		"added src",
		"connecting src",
		"connected src",
		"log src hello",
		"disconnected src by_application",
		"removed src",
	}, client.Events())

	assert.Error(t, m.RemoveSource("src"))
	assert.Error(t, m.AddClient(&testutil.RecordingClient{}))
}

func TestManager_RemoveSourceFailsRequests(t *testing.T) {
	m, loop, _ := newManager(t)
	sink := testutil.NewRecordingSink()
	defer sink.Close()

	r := access.NewRequest("src:stn.Hourly", sink)
	require.NoError(t, m.AddRequest(r, false))
	loop.Drain()

	require.NoError(t, m.RemoveSource("src"))
	assert.Equal(t, access.StateError, r.State())
	assert.Equal(t, access.FailureInvalidSource, sink.Failures()[0].Failure)
	assert.Empty(t, m.Requests())
}

func TestManager_HealthFollowsConnection(t *testing.T) {
	m, _, src := newManager(t)
	assert.True(t, m.Health().IsHealthy())

	src.Disconnect()
	assert.False(t, m.Health().IsHealthy())
}

func TestManager_BreakdownAndAuxOps(t *testing.T) {
	m, loop, src := newManager(t)

	segs, err := m.BreakdownURI("src:stn.Hourly.RH")
	require.NoError(t, err)
	require.Len(t, segs, 4)
	assert.Equal(t, "RH", segs[3].Name)

	_, err = m.BreakdownURI("nope:x")
	assert.Error(t, err)

	src.Range = access.TableRange{End: access.RecordPosition{RecordNo: 42}}
	var got access.TableRange
	m.TableRange("src:stn.Hourly", func(r access.TableRange, _ access.Failure) { got = r })

	var setResult, clockResult access.Failure = -1, -1
	m.SetVariable("src:stn.Public.Flag", "1", func(f access.Failure) { setResult = f })
	m.CheckClock("nope:stn", false, func(_ access.ClockResult, f access.Failure) { clockResult = f })
	loop.Drain()

	assert.Equal(t, uint32(42), got.End.RecordNo)
	assert.Equal(t, access.FailureUnsupported, setResult)
	assert.Equal(t, access.FailureInvalidSource, clockResult)

	_, err = m.OpenTerminal("src:stn", nil)
	assert.True(t, errors.Is(err, errors.ErrUnsupported))
}
