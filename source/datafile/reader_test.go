package datafile

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/lgraccess/errors"
	"github.com/c360/lgraccess/record"
	"github.com/c360/lgraccess/testutil"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func appendFile(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func scanAll(t *testing.T, r Reader, from int64) ([]IndexEntry, int64) {
	t.Helper()
	var got []IndexEntry
	end, err := r.Scan(from, func(e IndexEntry) { got = append(got, e) })
	require.NoError(t, err)
	return got, end
}

func TestTOA5Reader_OpenParsesHeader(t *testing.T) {
	path := writeFile(t, t.TempDir(), "a.dat", testutil.TOA5("CR1000_1", "Hourly"))
	r := NewTOA5Reader(path)
	defer r.Close()

	h, err := r.Open()
	require.NoError(t, err)
	assert.Equal(t, "TOA5", h.Format)
	assert.Equal(t, "CR1000_1", h.Station)
	assert.Equal(t, "CR1000", h.Model)
	tbl, ok := h.Table("Hourly")
	require.True(t, ok)
	require.Len(t, tbl.Descs, 3)
	assert.Equal(t, "Batt", tbl.Descs[0].Name)
	assert.Equal(t, "V", tbl.Descs[0].Units)
	assert.Equal(t, "Temp", tbl.Descs[1].Name)
	assert.Equal(t, []uint32{2}, tbl.Descs[1].Dims)
	assert.Equal(t, "Avg", tbl.Descs[1].Process)
	assert.Equal(t, int64(len(testutil.TOA5Header("CR1000_1", "Hourly"))), r.DataStart())
}

func TestTOA5Reader_RejectsOtherFormats(t *testing.T) {
	path := writeFile(t, t.TempDir(), "a.dat", strings.Replace(testutil.TOA5Header("s", "t"), "TOA5", "TOB1", 1))
	_, err := NewTOA5Reader(path).Open()
	assert.True(t, errors.IsInvalid(err))
}

func TestTOA5Reader_MissingFileIsInvalid(t *testing.T) {
	_, err := NewTOA5Reader(filepath.Join(t.TempDir(), "none.dat")).Open()
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestTOA5Reader_ScanAndRead(t *testing.T) {
	rows := testutil.Rows(1, 3, at(100), 10*time.Second)
	path := writeFile(t, t.TempDir(), "a.dat", testutil.TOA5("stn", "Hourly", rows...))
	r := NewTOA5Reader(path)
	defer r.Close()
	h, err := r.Open()
	require.NoError(t, err)

	got, end := scanAll(t, r, r.DataStart())
	require.Len(t, got, 3)
	for i, e := range got {
		assert.Equal(t, rows[i].RecordNo, e.Key.RecordNo)
		assert.True(t, rows[i].Stamp.Equal(e.Key.Stamp))
		assert.Equal(t, uint32(TOA5ArrayID), e.Key.ArrayID)
	}
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), end)

	tmpl := record.NewTemplate(h.Station, "Hourly", h.Tables[0].Descs)
	rec := tmpl.Clone()
	require.NoError(t, r.Read(got[1], rec))
	assert.Equal(t, uint32(2), rec.RecordNo)
	require.Equal(t, 4, rec.Len())
	assert.Equal(t, 12.5, rec.Values[0].Data)
	assert.Equal(t, 2.0, rec.Values[1].Data)
	assert.Equal(t, 2.5, rec.Values[2].Data)
	assert.Equal(t, "Temp(2)", rec.Values[2].Name())
}

func TestTOA5Reader_IncompleteLineWaitsForNextScan(t *testing.T) {
	dir := t.TempDir()
	rows := testutil.Rows(1, 3, at(100), 10*time.Second)
	full := testutil.TOA5Rows(rows[2])
	path := writeFile(t, dir, "a.dat", testutil.TOA5("stn", "Hourly", rows[:2]...)+full[:10])
	r := NewTOA5Reader(path)
	defer r.Close()
	_, err := r.Open()
	require.NoError(t, err)

	got, end := scanAll(t, r, r.DataStart())
	require.Len(t, got, 2)

	appendFile(t, path, full[10:])
	more, _ := scanAll(t, r, end)
	require.Len(t, more, 1)
	assert.Equal(t, uint32(3), more[0].Key.RecordNo)
	assert.Equal(t, end, more[0].Offset)
}

func TestTOA5Reader_ScanResyncsInsideALine(t *testing.T) {
	rows := testutil.Rows(1, 3, at(100), 10*time.Second)
	path := writeFile(t, t.TempDir(), "a.dat", testutil.TOA5("stn", "Hourly", rows...))
	r := NewTOA5Reader(path)
	defer r.Close()
	_, err := r.Open()
	require.NoError(t, err)

	got, _ := scanAll(t, r, r.DataStart()+3)
	require.Len(t, got, 2)
	assert.Equal(t, uint32(2), got[0].Key.RecordNo)
}

func TestTOA5Reader_HibernateAndWake(t *testing.T) {
	path := writeFile(t, t.TempDir(), "a.dat", testutil.TOA5("stn", "Hourly", testutil.Rows(1, 1, at(0), time.Second)...))
	r := NewTOA5Reader(path)
	_, err := r.Open()
	require.NoError(t, err)
	require.NoError(t, r.Hibernate())
	assert.Nil(t, r.f)
	require.NoError(t, r.Wake())
	got, _ := scanAll(t, r, r.DataStart())
	assert.Len(t, got, 1)
	require.NoError(t, r.Close())
}

func TestParseValue(t *testing.T) {
	assert.Equal(t, 1.5, parseValue(" 1.5 "))
	assert.True(t, math.IsNaN(parseValue("NAN").(float64)))
	assert.True(t, math.IsInf(parseValue("-INF").(float64), -1))
	assert.Equal(t, "text", parseValue("text"))
}

const labels = `101 Hourly
Year_RTM
Day_RTM
Hour_Minute_RTM
Batt
Temp(1)
Temp(2)

102 Daily
Year_RTM
Day_RTM
Hour_Minute_RTM
Seconds
BattMin
`

func TestMixedArrayReader(t *testing.T) {
	dir := t.TempDir()
	labelsPath := writeFile(t, dir, "labels.fsl", labels)
	data := strings.Join([]string{
		"101,2024,32,1230,12.5,20.1,20.2",
		"102,2024,32,0,15,11.9",
		"101,2024,32,1330,12.6,21.1,21.2",
		"999,2024,32,1330,1",
		"",
	}, "\n")
	path := writeFile(t, dir, "mixed.dat", data)

	r := NewMixedArrayReader(path, labelsPath)
	defer r.Close()
	h, err := r.Open()
	require.NoError(t, err)
	require.Len(t, h.Tables, 2)
	hourly, ok := h.Table("Hourly")
	require.True(t, ok)
	assert.Equal(t, uint32(101), hourly.ArrayID)
	require.Len(t, hourly.Descs, 2)
	assert.Equal(t, []uint32{2}, hourly.Descs[1].Dims)

	got, _ := scanAll(t, r, 0)
	require.Len(t, got, 3, "unknown array ids are skipped")
	assert.Equal(t, uint32(101), got[0].Key.ArrayID)
	assert.Equal(t, uint32(1), got[0].Key.RecordNo)
	assert.Equal(t, time.Date(2024, 2, 1, 12, 30, 0, 0, time.UTC), got[0].Key.Stamp)
	assert.Equal(t, uint32(102), got[1].Key.ArrayID)
	assert.Equal(t, uint32(1), got[1].Key.RecordNo)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 15, 0, time.UTC), got[1].Key.Stamp)
	assert.Equal(t, uint32(2), got[2].Key.RecordNo, "record numbers count per array")

	rec := record.NewTemplate(h.Station, "Hourly", hourly.Descs)
	require.NoError(t, r.Read(got[2], rec))
	assert.Equal(t, []any{12.6, 21.1, 21.2}, []any{rec.Values[0].Data, rec.Values[1].Data, rec.Values[2].Data})
}

func TestMixedArrayReader_MissingLabels(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "mixed.dat", "")
	_, err := NewMixedArrayReader(path, filepath.Join(dir, "none.fsl")).Open()
	assert.True(t, errors.IsInvalid(err))
}
