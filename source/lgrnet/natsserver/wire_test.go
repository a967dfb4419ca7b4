package natsserver

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/lgraccess/access"
	"github.com/c360/lgraccess/errors"
	"github.com/c360/lgraccess/record"
	"github.com/c360/lgraccess/source/lgrnet"
)

func TestAdviseRequest_SurvivesTheWire(t *testing.T) {
	begin := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p := lgrnet.AdviseParams{
		Station: "stn",
		Table:   "Hourly",
		Columns: []string{"Temp", "RH"},
		Start: access.StartOption{
			Kind:  access.StartDateQuery,
			Begin: begin,
			End:   begin.Add(time.Hour),
		},
		Order:     access.OrderLogReported,
		CacheSize: 25,
	}

	data, err := json.Marshal(toAdviseReq("id-1", "_INBOX.x", p))
	require.NoError(t, err)
	var req adviseReq
	require.NoError(t, json.Unmarshal(data, &req))

	got, err := req.params()
	require.NoError(t, err)
	if diff := cmp.Diff(p, got); diff != "" {
		t.Errorf("params mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "id-1", req.ID)
	assert.Equal(t, "_INBOX.x", req.Inbox)
}

func TestAdviseRequest_RejectsUnknownOptions(t *testing.T) {
	req := adviseReq{Start: wireStart{Kind: "sometime"}, Order: "collected"}
	_, err := req.params()
	assert.Equal(t, access.FailureInvalidStartOption, lgrnet.FailureOf(err))

	req = adviseReq{Start: wireStart{Kind: "at-newest"}, Order: "sideways"}
	_, err = req.params()
	assert.Equal(t, access.FailureInvalidOrderOption, lgrnet.FailureOf(err))
}

func TestWireError_KeepsFailureCode(t *testing.T) {
	we := toWireError(lgrnet.NewFailureError(access.FailureInvalidTableName, "Daily"))
	assert.Equal(t, "invalid_table_name", we.Failure)
	assert.Equal(t, access.FailureInvalidTableName, lgrnet.FailureOf(we.err()))

	unknown := &wireError{Failure: "martian", Message: "?"}
	assert.Equal(t, access.FailureConnectionFailed, lgrnet.FailureOf(unknown.err()))

	assert.Nil(t, toWireError(nil))
	var none *wireError
	assert.NoError(t, none.err())
}

func TestFillRecords(t *testing.T) {
	tmpl := record.NewTemplate("stn", "Hourly", []*record.ValueDesc{
		{Name: "Batt", Type: "float"},
		{Name: "Temp", Type: "float", Dims: []uint32{2}},
	})
	stamp := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	src := tmpl.Clone()
	src.RecordNo = 9
	src.Stamp = stamp
	src.Values[0].Data = 12.5
	src.Values[1].Data = 20.0
	src.Values[2].Data = "NAN"

	data, err := json.Marshal(toWireRecords([]*record.Record{src}))
	require.NoError(t, err)
	var wire []wireRecord
	require.NoError(t, json.Unmarshal(data, &wire))

	recs, err := fillRecords(tmpl, wire)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, uint32(9), recs[0].RecordNo)
	assert.True(t, recs[0].Stamp.Equal(stamp))
	assert.Equal(t, 12.5, recs[0].Values[0].Data)
	assert.Equal(t, "NAN", recs[0].Values[2].Data)
	assert.Equal(t, []uint32{2}, recs[0].Values[2].Subscripts)

	wire[0].Values = wire[0].Values[:1]
	_, err = fillRecords(tmpl, wire)
	assert.True(t, errors.IsInvalid(err))
}

func TestCatalogMessage_RoundTrip(t *testing.T) {
	ev := lgrnet.CatalogEvent{Kind: lgrnet.CatalogShutDown, Station: lgrnet.Station{Name: "stn", Statistics: true}}
	got, ok := toCatalogMsg(ev).event()
	require.True(t, ok)
	assert.Equal(t, lgrnet.CatalogShutDown, got.Kind)
	assert.Equal(t, ev.Station, got.Station)
	assert.NoError(t, got.Err)

	_, ok = catalogMsg{Kind: "renamed"}.event()
	assert.False(t, ok)
}

func TestURL(t *testing.T) {
	s := lgrnet.DefaultSettings()
	assert.Equal(t, "nats://localhost:6789", URL(s))
}
