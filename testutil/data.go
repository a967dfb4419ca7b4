package testutil

import (
	"fmt"
	"strings"
	"time"

	"github.com/c360/lgraccess/pkg/timestamp"
	"github.com/c360/lgraccess/record"
)

// Descs returns a small table shape: a scalar, a 2-element array and a scalar
func Descs() []*record.ValueDesc {
	return []*record.ValueDesc{
		{Name: "Batt", Type: "float", Units: "V", Process: "Smp"},
		{Name: "Temp", Type: "float", Units: "Deg C", Process: "Avg", Dims: []uint32{2}},
		{Name: "RH", Type: "float", Units: "%", Process: "Smp"},
	}
}

// Template returns a record template for station.table shaped by Descs
func Template(station, table string) *record.Record {
	return record.NewTemplate(station, table, Descs())
}

// Records builds n records numbered from first, one minute apart from start
func Records(tmpl *record.Record, first uint32, n int, start time.Time) []*record.Record {
	recs := make([]*record.Record, 0, n)
	for i := 0; i < n; i++ {
		rec := tmpl.Clone()
		rec.RecordNo = first + uint32(i)
		rec.Stamp = start.Add(time.Duration(i) * time.Minute)
		for j := range rec.Values {
			rec.Values[j].Data = float64(rec.RecordNo) + float64(j)/10
		}
		recs = append(recs, rec)
	}
	return recs
}

// Row is one TOA5 data line
type Row struct {
	Stamp    time.Time
	RecordNo uint32
	Values   []float64
}

// TOA5Header renders the four header lines for a table with columns
// Batt, Temp(1), Temp(2), RH
func TOA5Header(station, table string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\"TOA5\",\"%s\",\"CR1000\",\"1234\",\"CR1000.Std.32\",\"CPU:test.CR1\",\"4321\",\"%s\"\r\n", station, table)
	b.WriteString("\"TIMESTAMP\",\"RECORD\",\"Batt\",\"Temp(1)\",\"Temp(2)\",\"RH\"\r\n")
	b.WriteString("\"TS\",\"RN\",\"V\",\"Deg C\",\"Deg C\",\"%\"\r\n")
	b.WriteString("\"\",\"\",\"Smp\",\"Avg\",\"Avg\",\"Smp\"\r\n")
	return b.String()
}

// TOA5Rows renders data lines
func TOA5Rows(rows ...Row) string {
	var b strings.Builder
	for _, r := range rows {
		fmt.Fprintf(&b, "\"%s\",%d", timestamp.FormatTOA5(r.Stamp), r.RecordNo)
		for _, v := range r.Values {
			fmt.Fprintf(&b, ",%g", v)
		}
		b.WriteString("\r\n")
	}
	return b.String()
}

// TOA5 renders a complete file
func TOA5(station, table string, rows ...Row) string {
	return TOA5Header(station, table) + TOA5Rows(rows...)
}

// Rows builds n rows numbered from first, spaced by step from start
func Rows(first uint32, n int, start time.Time, step time.Duration) []Row {
	rows := make([]Row, 0, n)
	for i := 0; i < n; i++ {
		no := first + uint32(i)
		rows = append(rows, Row{
			Stamp:    start.Add(time.Duration(i) * step),
			RecordNo: no,
			Values:   []float64{12.5, float64(no), float64(no) + 0.5, 40},
		})
	}
	return rows
}
