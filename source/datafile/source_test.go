package datafile_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/lgraccess/access"
	"github.com/c360/lgraccess/source/datafile"
	"github.com/c360/lgraccess/symbol"
	"github.com/c360/lgraccess/testutil"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

const wait = 5 * time.Second

type fixture struct {
	t    *testing.T
	path string
	loop *access.Loop
	m    *access.Manager
	src  *datafile.Source
	sink *testutil.RecordingSink
}

// newFixture writes a TOA5 file holding rows and starts a manager with a
// source named db1 on it
func newFixture(t *testing.T, rows ...testutil.Row) *fixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "a.dat")
	if rows != nil {
		require.NoError(t, os.WriteFile(path, []byte(testutil.TOA5("stn", "Hourly", rows...)), 0o644))
	}
	loop := access.NewLoop()
	m := access.NewManager(loop)
	src := datafile.NewWithPath("db1", path, "", nil)
	src.SetTimerIntervals(50*time.Millisecond, 50*time.Millisecond)
	require.NoError(t, m.AddSource(src))
	require.NoError(t, m.Start())

	f := &fixture{t: t, path: path, loop: loop, m: m, src: src, sink: testutil.NewRecordingSink()}
	t.Cleanup(func() {
		f.sink.Close()
		_ = m.Stop()
		loop.Drain()
		assert.True(t, src.Wait(wait))
	})
	return f
}

func (f *fixture) connected() {
	f.t.Helper()
	testutil.DrainUntil(f.t, f.loop, wait, f.src.IsConnected)
}

func (f *fixture) add(u string, configure func(r *access.Request)) *access.Request {
	f.t.Helper()
	r := access.NewRequest(u, f.sink)
	if configure != nil {
		configure(r)
	}
	require.NoError(f.t, f.m.AddRequest(r, false))
	return r
}

func (f *fixture) waitRecords(n int) {
	f.t.Helper()
	testutil.DrainUntil(f.t, f.loop, wait, func() bool { return len(f.sink.RecordNos()) >= n })
}

func (f *fixture) append(rows ...testutil.Row) {
	f.t.Helper()
	fh, err := os.OpenFile(f.path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(f.t, err)
	_, err = fh.WriteString(testutil.TOA5Rows(rows...))
	require.NoError(f.t, err)
	require.NoError(f.t, fh.Close())
}

func threeRows() []testutil.Row {
	return testutil.Rows(1, 3, t0.Add(100*time.Second), 10*time.Second)
}

func TestSource_AtRecordStartsAtRequestedRecord(t *testing.T) {
	f := newFixture(t, threeRows()...)
	f.connected()

	r := f.add("db1:Hourly", func(r *access.Request) {
		require.NoError(t, r.SetStartAtRecord(0, 2, time.Time{}))
	})
	f.waitRecords(2)

	assert.Equal(t, []uint32{2, 3}, f.sink.RecordNos())
	assert.True(t, f.sink.Records()[0].Stamp.Equal(t0.Add(110*time.Second)))
	assert.Equal(t, access.StateStarted, r.State())
	assert.False(t, r.ExpectMoreData())
}

func TestSource_ColumnRequestResolvesIndices(t *testing.T) {
	f := newFixture(t, threeRows()...)
	f.connected()

	r := f.add("db1:Hourly.Temp", func(r *access.Request) {
		require.NoError(t, r.SetStartAtNewest())
	})
	f.waitRecords(1)

	require.Len(t, f.sink.Ready(), 1)
	assert.Equal(t, 1, r.BeginIndex())
	assert.Equal(t, 3, r.EndIndex())
	vals := r.Values(f.sink.Records()[0])
	require.Len(t, vals, 2)
	assert.Equal(t, 3.0, vals[0].Data)
	assert.Equal(t, 3.5, vals[1].Data)
}

func TestSource_UnknownTableAndColumnFail(t *testing.T) {
	f := newFixture(t, threeRows()...)
	f.connected()

	table := f.add("db1:Daily", nil)
	column := f.add("db1:Hourly.Nope", nil)
	testutil.DrainUntil(t, f.loop, wait, func() bool { return len(f.sink.Failures()) >= 2 })

	byReq := map[*access.Request]access.Failure{}
	for _, ev := range f.sink.Failures() {
		byReq[ev.Request] = ev.Failure
	}
	assert.Equal(t, access.FailureInvalidTableName, byReq[table])
	assert.Equal(t, access.FailureInvalidColumnName, byReq[column])
	assert.Equal(t, access.StateError, table.State())
	assert.True(t, f.src.RetryArmed())
}

func TestSource_CompatibleRequestsShareACursor(t *testing.T) {
	f := newFixture(t, threeRows()...)
	f.connected()

	for _, col := range []string{"Batt", "RH"} {
		r := access.NewRequest("db1:Hourly."+col, f.sink)
		require.NoError(t, f.m.AddRequest(r, true))
	}
	f.m.ActivateRequests()
	f.waitRecords(3)

	batches := f.sink.Batches()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0].Requests, 2)
	assert.Equal(t, []uint32{1, 2, 3}, f.sink.RecordNos())
}

func TestSource_DeliversGrowthWithoutGapsOrRepeats(t *testing.T) {
	f := newFixture(t, threeRows()...)
	f.connected()

	f.add("db1:Hourly", func(r *access.Request) {
		require.NoError(t, r.SetStartAtRecord(0, 1, time.Time{}))
		require.NoError(t, r.SetCacheSize(2))
	})
	f.waitRecords(3)
	assert.Equal(t, []uint32{1, 2, 3}, f.sink.RecordNos())

	more := testutil.Rows(4, 3, t0.Add(130*time.Second), 10*time.Second)
	f.append(more...)
	f.waitRecords(6)

	assert.Equal(t, []uint32{1, 2, 3, 4, 5, 6}, f.sink.RecordNos())
	for _, b := range f.sink.Batches() {
		assert.LessOrEqual(t, len(b.Records), 2, "cache size bounds every batch")
	}
}

func TestSource_RealTimeSkipsBacklog(t *testing.T) {
	f := newFixture(t, threeRows()...)
	f.connected()

	f.add("db1:Hourly", func(r *access.Request) {
		require.NoError(t, r.SetStartAtNewest())
		require.NoError(t, r.SetOrder(access.OrderRealTime))
	})
	f.waitRecords(1)
	assert.Equal(t, []uint32{3}, f.sink.RecordNos())

	f.append(testutil.Rows(4, 3, t0.Add(130*time.Second), 10*time.Second)...)
	f.waitRecords(2)
	assert.Equal(t, []uint32{3, 6}, f.sink.RecordNos())
}

// drainFor keeps the loop turning so the worker completes a few polls
func (f *fixture) drainFor(d time.Duration) {
	f.t.Helper()
	deadline := time.Now().Add(d)
	testutil.DrainUntil(f.t, f.loop, wait, func() bool { return time.Now().After(deadline) })
}

func TestSource_AfterNewestSkipsExistingRows(t *testing.T) {
	f := newFixture(t, threeRows()...)
	f.connected()

	f.add("db1:Hourly", func(r *access.Request) {
		require.NoError(t, r.SetStartAfterNewest())
	})
	f.drainFor(300 * time.Millisecond)
	assert.Empty(t, f.sink.RecordNos())

	f.append(testutil.Rows(4, 3, t0.Add(130*time.Second), 10*time.Second)...)
	f.waitRecords(3)
	assert.Equal(t, []uint32{4, 5, 6}, f.sink.RecordNos())
}

func TestSource_AfterNewestOnEmptyFileDeliversFirstRows(t *testing.T) {
	f := newFixture(t, []testutil.Row{}...)
	f.connected()

	f.add("db1:Hourly", func(r *access.Request) {
		require.NoError(t, r.SetStartAfterNewest())
	})
	f.drainFor(300 * time.Millisecond)
	assert.Empty(t, f.sink.RecordNos())

	f.append(threeRows()...)
	f.waitRecords(3)
	assert.Equal(t, []uint32{1, 2, 3}, f.sink.RecordNos())
}

func TestSource_DateQueryIsSatisfied(t *testing.T) {
	f := newFixture(t, threeRows()...)
	f.connected()

	r := f.add("db1:Hourly", func(r *access.Request) {
		require.NoError(t, r.SetStartDateQuery(t0.Add(105*time.Second), t0.Add(115*time.Second)))
	})
	testutil.DrainUntil(t, f.loop, wait, func() bool { return r.State() == access.StateSatisfied })
	assert.Equal(t, []uint32{2}, f.sink.RecordNos())
}

func TestSource_RotationRebuildsIndex(t *testing.T) {
	f := newFixture(t, threeRows()...)
	f.connected()

	f.add("db1:Hourly", func(r *access.Request) {
		require.NoError(t, r.SetStartAtRecord(0, 1, time.Time{}))
	})
	f.waitRecords(3)

	next := testutil.Rows(4, 2, t0.Add(130*time.Second), 10*time.Second)
	tmp := f.path + ".new"
	require.NoError(t, os.WriteFile(tmp, []byte(testutil.TOA5("stn", "Hourly", next...)), 0o644))
	require.NoError(t, os.Rename(tmp, f.path))

	f.waitRecords(5)
	assert.Equal(t, []uint32{1, 2, 3, 4, 5}, f.sink.RecordNos())
}

func TestSource_MissingFileFailsThenRecovers(t *testing.T) {
	f := newFixture(t)
	r := f.add("db1:Hourly", nil)

	testutil.DrainUntil(t, f.loop, wait, func() bool { return len(f.sink.Failures()) > 0 })
	assert.Equal(t, access.FailureConnectionFailed, f.sink.Failures()[0].Failure)
	assert.Equal(t, access.StateError, r.State())
	assert.False(t, f.src.IsConnected())
	assert.NotEmpty(t, f.src.LastError())

	require.NoError(t, os.WriteFile(f.path, []byte(testutil.TOA5("stn", "Hourly", threeRows()...)), 0o644))
	f.waitRecords(3)
	assert.True(t, f.src.IsConnected())
	assert.Equal(t, access.StateStarted, r.State())
}

func TestSource_Symbols(t *testing.T) {
	f := newFixture(t, threeRows()...)
	f.connected()

	root := f.src.SourceSymbol()
	assert.Equal(t, symbol.TypeDataFileSource, root.Type())
	assert.True(t, root.Connected())
	require.Equal(t, 1, root.ChildCount())
	table := root.FindChild("Hourly")
	require.NotNil(t, table)
	cols := table.Children()
	require.Len(t, cols, 3)
	assert.Equal(t, "Batt", cols[0].Name())
	assert.Equal(t, symbol.TypeArray, cols[1].Type())
	assert.Equal(t, "Deg C", cols[1].Info().Units)
	assert.Equal(t, "db1:Hourly.Temp", cols[1].URI())

	segs, err := f.src.BreakdownURI("db1:Hourly.Temp")
	require.NoError(t, err)
	assert.Equal(t, []symbol.Segment{
		{Name: "db1", Type: symbol.TypeDataFileSource},
		{Name: "Hourly", Type: symbol.TypeTable},
		{Name: "Temp", Type: symbol.TypeArray},
	}, segs)
	assert.Equal(t, "db1:Hourly.Temp", symbol.FormatURI(segs))

	segs, err = f.src.BreakdownURI("db1:Hourly.Temp(2)")
	require.NoError(t, err)
	assert.Equal(t, symbol.TypeScalar, segs[2].Type)

	_, err = f.src.BreakdownURI("db1:a.b.c")
	assert.Error(t, err)
}

func TestSource_TableRange(t *testing.T) {
	f := newFixture(t, threeRows()...)
	f.connected()

	var got access.TableRange
	failure := access.Failure(-1)
	f.m.TableRange("db1:Hourly", func(rng access.TableRange, fl access.Failure) {
		got, failure = rng, fl
	})
	testutil.DrainUntil(t, f.loop, wait, func() bool { return failure != access.Failure(-1) })
	assert.Equal(t, access.FailureUnknown, failure)
	assert.Equal(t, uint32(1), got.Begin.RecordNo)
	assert.Equal(t, uint32(3), got.End.RecordNo)

	failure = access.Failure(-1)
	f.m.TableRange("db1:Daily", func(_ access.TableRange, fl access.Failure) { failure = fl })
	testutil.DrainUntil(t, f.loop, wait, func() bool { return failure != access.Failure(-1) })
	assert.Equal(t, access.FailureInvalidTableName, failure)
}

func TestSource_Properties(t *testing.T) {
	src := datafile.New("db1", nil)
	p := access.PropertiesFromMap(map[string]string{
		datafile.PropPath:          "/data/a.dat",
		datafile.PropPollInterval:  "250",
		datafile.PropBackfillBytes: "4096",
		datafile.PropPollBase:      "2024-01-01T00:00:00Z",
	})
	require.NoError(t, src.ReadProperties(p))
	assert.Equal(t, "/data/a.dat", src.Path())

	out := access.NewProperties()
	src.WriteProperties(out)
	assert.Equal(t, "1000", out.String(datafile.PropPollInterval, ""), "interval clamped to one second")
	assert.Equal(t, "4096", out.String(datafile.PropBackfillBytes, ""))
	assert.Equal(t, "2024-01-01T00:00:00Z", out.String(datafile.PropPollBase, ""))
	assert.False(t, out.Has(datafile.PropLabelsPath))

	assert.Error(t, src.ReadProperties(access.PropertiesFromMap(map[string]string{datafile.PropBackfillBytes: "-1"})))
	assert.Error(t, datafile.New("x", nil).ReadProperties(access.NewProperties()), "path is required")
}
