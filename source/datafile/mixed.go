package datafile

import (
	"bufio"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/c360/lgraccess/errors"
	"github.com/c360/lgraccess/record"
	"github.com/c360/lgraccess/uri"
)

// timeField marks a mixed-array field that carries part of the timestamp
type timeField int

const (
	fieldData timeField = iota
	fieldYear
	fieldDay
	fieldHourMinute
	fieldSecond
)

func classifyLabel(label string) timeField {
	l := strings.ToLower(label)
	switch {
	case strings.HasPrefix(l, "year"):
		return fieldYear
	case strings.HasPrefix(l, "day"):
		return fieldDay
	case strings.HasPrefix(l, "hour_minute"), strings.HasPrefix(l, "hourminute"), strings.HasPrefix(l, "hour_min"):
		return fieldHourMinute
	case strings.HasPrefix(l, "second"):
		return fieldSecond
	}
	return fieldData
}

type mixedLayout struct {
	table  Table
	fields []timeField
}

// MixedArrayReader reads array-id prefixed CSV output. Each line starts with
// the array id; the labels file names the fields of every array:
//
//	101 Hourly
//	Year_RTM
//	Day_RTM
//	Hour_Minute_RTM
//	Batt
//	Temp(1)
//	Temp(2)
//
// Lines carry no record numbers, so each array's records are numbered in
// file order.
type MixedArrayReader struct {
	lineFile
	labelsPath string
	header     Header
	layouts    map[uint32]*mixedLayout
	counters   map[uint32]uint32
}

// NewMixedArrayReader creates a reader for path described by labelsPath
func NewMixedArrayReader(path, labelsPath string) *MixedArrayReader {
	return &MixedArrayReader{lineFile: lineFile{path: path}, labelsPath: labelsPath}
}

// Open implements Reader
func (m *MixedArrayReader) Open() (Header, error) {
	_ = m.close()
	layouts, err := readLabels(m.labelsPath)
	if err != nil {
		return Header{}, err
	}
	if err := m.open(); err != nil {
		return Header{}, err
	}
	m.layouts = layouts
	m.counters = make(map[uint32]uint32)

	ids := make([]uint32, 0, len(layouts))
	for id := range layouts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	m.header = Header{Format: "MixedArray"}
	for _, id := range ids {
		m.header.Tables = append(m.header.Tables, layouts[id].table)
	}
	return m.header, nil
}

func readLabels(path string) (map[uint32]*mixedLayout, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WrapInvalid(errors.ErrNotFound, "MixedArrayReader", "readLabels", "labels "+path+" lookup")
		}
		return nil, errors.WrapTransient(err, "MixedArrayReader", "readLabels", "labels open")
	}
	defer f.Close()

	layouts := make(map[uint32]*mixedLayout)
	var cur *mixedLayout
	var lastDesc *record.ValueDesc
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if parts := strings.Fields(line); len(parts) == 2 {
			if id, err := strconv.ParseUint(parts[0], 10, 32); err == nil {
				cur = &mixedLayout{table: Table{Name: parts[1], ArrayID: uint32(id)}}
				layouts[uint32(id)] = cur
				lastDesc = nil
				continue
			}
		}
		if cur == nil {
			return nil, errors.WrapInvalid(errors.ErrParsingFailed, "MixedArrayReader", "readLabels", "label before array header")
		}
		kind := classifyLabel(line)
		cur.fields = append(cur.fields, kind)
		if kind != fieldData {
			continue
		}
		base, subs, err := uri.ParseSubscripts(line)
		if err != nil {
			base, subs = line, nil
		}
		if subs != nil && lastDesc != nil && lastDesc.Name == base && len(lastDesc.Dims) == len(subs) {
			for j, s := range subs {
				if s > lastDesc.Dims[j] {
					lastDesc.Dims[j] = s
				}
			}
			continue
		}
		d := &record.ValueDesc{Name: base, Type: "float"}
		if subs != nil {
			d.Dims = append([]uint32(nil), subs...)
		}
		cur.table.Descs = append(cur.table.Descs, d)
		lastDesc = d
	}
	if err := sc.Err(); err != nil {
		return nil, errors.WrapTransient(err, "MixedArrayReader", "readLabels", "labels read")
	}
	if len(layouts) == 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "MixedArrayReader", "readLabels", "array definitions")
	}
	return layouts, nil
}

// DataStart implements Reader
func (m *MixedArrayReader) DataStart() int64 { return 0 }

func splitFields(line []byte) []string {
	parts := strings.Split(strings.TrimRight(string(line), "\r\n"), ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func (m *MixedArrayReader) stamp(layout *mixedLayout, fields []string) (time.Time, bool) {
	year, day, hm := 0, 1, 0
	var sec float64
	seen := false
	for i, kind := range layout.fields {
		if i+1 >= len(fields) {
			return time.Time{}, false
		}
		v := fields[i+1]
		var err error
		switch kind {
		case fieldYear:
			year, err = strconv.Atoi(v)
			seen = true
		case fieldDay:
			day, err = strconv.Atoi(v)
		case fieldHourMinute:
			hm, err = strconv.Atoi(v)
		case fieldSecond:
			sec, err = strconv.ParseFloat(v, 64)
		}
		if err != nil {
			return time.Time{}, false
		}
	}
	if !seen {
		return time.Time{}, false
	}
	t := time.Date(year, 1, 1, hm/100, hm%100, 0, 0, time.UTC).AddDate(0, 0, day-1)
	return t.Add(time.Duration(sec * float64(time.Second))), true
}

// Scan implements Reader
func (m *MixedArrayReader) Scan(from int64, emit func(IndexEntry)) (int64, error) {
	return m.scanLines(from, 0, func(offset int64, line []byte) {
		fields := splitFields(line)
		id, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			return
		}
		layout, ok := m.layouts[uint32(id)]
		if !ok {
			return
		}
		stamp, ok := m.stamp(layout, fields)
		if !ok {
			return
		}
		m.counters[uint32(id)]++
		emit(IndexEntry{
			Key:    record.Key{Stamp: stamp, RecordNo: m.counters[uint32(id)], ArrayID: uint32(id)},
			Offset: offset,
		})
	})
}

// Read implements Reader
func (m *MixedArrayReader) Read(e IndexEntry, rec *record.Record) error {
	line, err := m.readLine(e.Offset)
	if err != nil {
		return err
	}
	fields := splitFields(line)
	layout, ok := m.layouts[e.Key.ArrayID]
	if !ok || len(fields) < len(layout.fields)+1 {
		return errors.WrapInvalid(errors.ErrInvalidData, "MixedArrayReader", "Read", "field count")
	}
	rec.Stamp = e.Key.Stamp
	rec.RecordNo = e.Key.RecordNo
	rec.ArrayID = e.Key.ArrayID
	n := 0
	for i, kind := range layout.fields {
		if kind != fieldData {
			continue
		}
		if n >= rec.Len() {
			break
		}
		rec.Values[n].Data = parseValue(fields[i+1])
		n++
	}
	if n != rec.Len() {
		return errors.WrapInvalid(errors.ErrInvalidData, "MixedArrayReader", "Read", "value count")
	}
	return nil
}

// Hibernate implements Reader
func (m *MixedArrayReader) Hibernate() error { return m.close() }

// Wake implements Reader
func (m *MixedArrayReader) Wake() error { return m.open() }

// Close implements Reader
func (m *MixedArrayReader) Close() error { return m.close() }
