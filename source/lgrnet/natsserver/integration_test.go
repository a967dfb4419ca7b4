//go:build integration

package natsserver_test

import (
	"context"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/lgraccess/access"
	"github.com/c360/lgraccess/natsclient"
	"github.com/c360/lgraccess/source/lgrnet"
	"github.com/c360/lgraccess/source/lgrnet/lgrnettest"
	"github.com/c360/lgraccess/source/lgrnet/natsserver"
	"github.com/c360/lgraccess/testutil"
)

const wait = 10 * time.Second

func settingsFor(t *testing.T, rawURL string) lgrnet.Settings {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	port, err := strconv.ParseUint(u.Port(), 10, 16)
	require.NoError(t, err)
	s := lgrnet.DefaultSettings()
	s.Address = u.Hostname()
	s.Port = uint16(port)
	s.SubjectPrefix = "lgrtest"
	s.LogonName = "admin"
	return s
}

type env struct {
	backend *lgrnettest.Server
	loop    *access.Loop
	m       *access.Manager
	src     *lgrnet.Source
	sink    *testutil.RecordingSink
}

func newEnv(t *testing.T) *env {
	t.Helper()
	tc := natsclient.NewTestClient(t)
	ctx := context.Background()

	backend := lgrnettest.New()
	backend.AddStation(lgrnet.Station{Name: "stn"}, lgrnet.TableDef{Name: "Hourly", Descs: testutil.Descs()})

	gw := natsserver.NewGateway(tc.Client, backend, "lgrtest", nil)
	require.NoError(t, gw.Start(ctx))
	t.Cleanup(gw.Stop)

	loop := access.NewLoop()
	m := access.NewManager(loop)
	src := lgrnet.New("lgr", natsserver.Factory(nil), nil, lgrnet.WithSettings(settingsFor(t, tc.URL)))
	require.NoError(t, m.AddSource(src))
	require.NoError(t, m.Start())

	e := &env{backend: backend, loop: loop, m: m, src: src, sink: testutil.NewRecordingSink()}
	t.Cleanup(func() {
		e.sink.Close()
		_ = m.Stop()
		loop.Drain()
	})
	testutil.DrainUntil(t, loop, wait, src.IsConnected)
	return e
}

func TestIntegration_FeedOverNATS(t *testing.T) {
	e := newEnv(t)
	assert.Equal(t, "admin", e.backend.Logon().Name)

	r := access.NewRequest("lgr:stn.Hourly.Temp", e.sink)
	require.NoError(t, r.SetOrder(access.OrderRealTime))
	require.NoError(t, e.m.AddRequest(r, false))
	testutil.DrainUntil(t, e.loop, wait, func() bool { return r.State() == access.StateStarted })

	feeds := e.backend.Feeds()
	require.Len(t, feeds, 1)
	assert.Equal(t, []string{"Temp"}, feeds[0].Params().Columns)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	feeds[0].Push(testutil.Records(feeds[0].Template(), 1, 2, start)...)
	feeds[0].Push(testutil.Records(feeds[0].Template(), 3, 1, start)...)
	testutil.DrainUntil(t, e.loop, wait, func() bool { return len(e.sink.RecordNos()) == 3 })
	assert.Equal(t, []uint32{1, 2, 3}, e.sink.RecordNos())

	vals := r.Values(e.sink.Records()[0])
	require.Len(t, vals, 2)
	assert.Equal(t, 1.0, vals[0].Data)
}

func TestIntegration_SymbolsAndAux(t *testing.T) {
	e := newEnv(t)

	root := e.src.SourceSymbol()
	root.Expand()
	testutil.DrainUntil(t, e.loop, wait, root.IsExpanded)
	stn := root.FindChild("stn")
	require.NotNil(t, stn)
	stn.Expand()
	testutil.DrainUntil(t, e.loop, wait, stn.IsExpanded)
	require.NotNil(t, stn.FindChild("Hourly"))
	assert.Equal(t, 3, stn.FindChild("Hourly").ChildCount())

	got := access.Failure(-1)
	e.m.SetVariable("lgr:stn.Hourly.RH", "42", func(f access.Failure) { got = f })
	testutil.DrainUntil(t, e.loop, wait, func() bool { return got >= 0 })
	assert.Equal(t, access.FailureUnknown, got)
	v, _ := e.backend.Variable("stn", "Hourly", "RH")
	assert.Equal(t, "42", v)

	got = -1
	e.m.SetVariable("lgr:stn.Daily.RH", "42", func(f access.Failure) { got = f })
	testutil.DrainUntil(t, e.loop, wait, func() bool { return got >= 0 })
	assert.Equal(t, access.FailureInvalidTableName, got)
}

func TestIntegration_BackendLossReachesSource(t *testing.T) {
	e := newEnv(t)

	e.backend.Drop(assert.AnError)
	testutil.DrainUntil(t, e.loop, wait, func() bool { return !e.src.IsConnected() })
}
