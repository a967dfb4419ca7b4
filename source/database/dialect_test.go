package database

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/lgraccess/errors"
	"github.com/c360/lgraccess/record"
)

func TestDialect_Rebind(t *testing.T) {
	pg, err := DialectFor("Postgres")
	require.NoError(t, err)
	assert.Equal(t, `a = $1 AND "b?" = $2 AND c = '?'`, pg.Rebind(`a = ? AND "b?" = ? AND c = '?'`))

	lite, err := DialectFor(DriverSQLite3)
	require.NoError(t, err)
	assert.Equal(t, `a = ?`, lite.Rebind(`a = ?`))

	_, err = DialectFor("oracle")
	assert.True(t, errors.IsInvalid(err))
}

func TestDialect_Quote(t *testing.T) {
	my, err := DialectFor(DriverMySQL)
	require.NoError(t, err)
	assert.Equal(t, "`Temp(1)`", my.Quote("Temp(1)"))
	assert.Equal(t, "`a``b`", my.Quote("a`b"))

	pg, err := DialectFor(DriverPostgres)
	require.NoError(t, err)
	assert.Equal(t, `"say ""hi"""`, pg.Quote(`say "hi"`))
}

func TestBuildLayout_FoldsArrays(t *testing.T) {
	l, err := buildLayout([]columnType{
		{name: "TmStamp", dbType: "TIMESTAMP"},
		{name: "RecNum", dbType: "INTEGER"},
		{name: "Batt", dbType: "REAL"},
		{name: "Temp(1)", dbType: "REAL"},
		{name: "Temp(3)", dbType: "REAL"},
		{name: "Flux(1,2)", dbType: "DOUBLE"},
		{name: "Note", dbType: "VARCHAR(20)"},
	})
	require.NoError(t, err)

	want := []*record.ValueDesc{
		{Name: "Batt", Type: "float"},
		{Name: "Temp", Type: "float", Dims: []uint32{3}},
		{Name: "Flux", Type: "float", Dims: []uint32{1, 2}},
		{Name: "Note", Type: "string"},
	}
	if diff := cmp.Diff(want, l.descs); diff != "" {
		t.Errorf("descs mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"Batt", "Temp(1)", "", "Temp(3)", "", "Flux(1,2)", "Note"}, l.columns)
}

func TestBuildLayout_RequiresKeyColumns(t *testing.T) {
	_, err := buildLayout([]columnType{{name: "TmStamp"}, {name: "Batt"}})
	assert.True(t, errors.IsInvalid(err))
}

func TestConvert(t *testing.T) {
	assert.Equal(t, 1.5, convertValue("float", []byte("1.5")))
	assert.Equal(t, int64(7), convertValue("int", []byte("7")))
	assert.Equal(t, "abc", convertValue("string", []byte("abc")))
	assert.Equal(t, 2.0, convertValue("float", 2.0))

	stamp := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	got, err := toTime([]byte("2024-01-01 12:00:00"))
	require.NoError(t, err)
	assert.True(t, got.Equal(stamp))
	_, err = toTime(nil)
	assert.Error(t, err)

	n, err := toRecordNo(int64(42))
	require.NoError(t, err)
	assert.Equal(t, uint32(42), n)
	_, err = toRecordNo("x")
	assert.Error(t, err)
}
