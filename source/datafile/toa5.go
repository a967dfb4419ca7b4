package datafile

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/c360/lgraccess/errors"
	"github.com/c360/lgraccess/pkg/timestamp"
	"github.com/c360/lgraccess/record"
	"github.com/c360/lgraccess/uri"
)

// TOA5ArrayID is the array id given to the single table of a TOA5 file
const TOA5ArrayID = 1

// TOA5Reader reads Campbell TOA5 text files: four quoted header lines
// followed by one CSV line per record, TIMESTAMP and RECORD first.
type TOA5Reader struct {
	lineFile
	header    Header
	dataStart int64
	hasRecNo  bool
}

// NewTOA5Reader creates a reader for path
func NewTOA5Reader(path string) *TOA5Reader {
	return &TOA5Reader{lineFile: lineFile{path: path}}
}

func parseCSVLine(line []byte) ([]string, error) {
	r := csv.NewReader(bytes.NewReader(line))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	fields, err := r.Read()
	if err != nil {
		return nil, errors.WrapInvalid(errors.ErrParsingFailed, "TOA5Reader", "parseCSVLine", "csv decode")
	}
	return fields, nil
}

// Open implements Reader
func (t *TOA5Reader) Open() (Header, error) {
	_ = t.close()
	if err := t.open(); err != nil {
		return Header{}, err
	}
	br := bufio.NewReader(t.f)
	var lines [4][]string
	var consumed int64
	for i := range lines {
		raw, err := br.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				return Header{}, errors.WrapTransient(errors.ErrInvalidData, "TOA5Reader", "Open", "header read")
			}
			return Header{}, errors.WrapTransient(err, "TOA5Reader", "Open", "header read")
		}
		consumed += int64(len(raw))
		fields, err := parseCSVLine(raw)
		if err != nil {
			return Header{}, err
		}
		lines[i] = fields
	}
	env := lines[0]
	if len(env) < 8 || env[0] != "TOA5" {
		return Header{}, errors.WrapInvalid(errors.ErrInvalidData, "TOA5Reader", "Open", "environment line")
	}

	descs, hasRecNo, err := toa5Columns(lines[1], lines[2], lines[3])
	if err != nil {
		return Header{}, err
	}
	t.hasRecNo = hasRecNo
	t.dataStart = consumed
	t.header = Header{
		Format:    "TOA5",
		Station:   env[1],
		Model:     env[2],
		Serial:    env[3],
		OS:        env[4],
		Program:   env[5],
		Signature: env[6],
		Tables:    []Table{{Name: env[7], ArrayID: TOA5ArrayID, Descs: descs}},
	}
	return t.header, nil
}

// toa5Columns groups the field names after TIMESTAMP and RECORD into value
// descriptors. Consecutive subscripted fields with one base name form an
// array whose dimensions are the largest subscripts seen.
func toa5Columns(names, units, processes []string) ([]*record.ValueDesc, bool, error) {
	if len(names) == 0 || !strings.EqualFold(names[0], "TIMESTAMP") {
		return nil, false, errors.WrapInvalid(errors.ErrInvalidData, "TOA5Reader", "toa5Columns", "timestamp column")
	}
	first := 1
	hasRecNo := len(names) > 1 && strings.EqualFold(names[1], "RECORD")
	if hasRecNo {
		first = 2
	}
	at := func(s []string, i int) string {
		if i < len(s) {
			return s[i]
		}
		return ""
	}

	var descs []*record.ValueDesc
	var last *record.ValueDesc
	for i := first; i < len(names); i++ {
		base, subs, err := uri.ParseSubscripts(names[i])
		if err != nil {
			base, subs = names[i], nil
		}
		if subs != nil && last != nil && last.Name == base && len(last.Dims) == len(subs) {
			for j, s := range subs {
				if s > last.Dims[j] {
					last.Dims[j] = s
				}
			}
			continue
		}
		d := &record.ValueDesc{
			Name:    base,
			Type:    "float",
			Units:   at(units, i),
			Process: at(processes, i),
		}
		if subs != nil {
			d.Dims = append([]uint32(nil), subs...)
		}
		descs = append(descs, d)
		last = d
	}
	return descs, hasRecNo, nil
}

// DataStart implements Reader
func (t *TOA5Reader) DataStart() int64 { return t.dataStart }

// Scan implements Reader
func (t *TOA5Reader) Scan(from int64, emit func(IndexEntry)) (int64, error) {
	var ordinal uint32
	return t.scanLines(from, t.dataStart, func(offset int64, line []byte) {
		fields, err := parseCSVLine(line)
		if err != nil || len(fields) == 0 {
			return
		}
		stamp, err := timestamp.ParseTOA5(fields[0])
		if err != nil {
			return
		}
		ordinal++
		recNo := ordinal
		if t.hasRecNo && len(fields) > 1 {
			n, err := strconv.ParseUint(strings.TrimSpace(fields[1]), 10, 32)
			if err != nil {
				return
			}
			recNo = uint32(n)
		}
		emit(IndexEntry{
			Key:    record.Key{Stamp: stamp, RecordNo: recNo, ArrayID: TOA5ArrayID},
			Offset: offset,
		})
	})
}

// Read implements Reader
func (t *TOA5Reader) Read(e IndexEntry, rec *record.Record) error {
	line, err := t.readLine(e.Offset)
	if err != nil {
		return err
	}
	fields, err := parseCSVLine(line)
	if err != nil {
		return err
	}
	first := 1
	if t.hasRecNo {
		first = 2
	}
	if len(fields)-first < rec.Len() {
		return errors.WrapInvalid(errors.ErrInvalidData, "TOA5Reader", "Read", "field count")
	}
	rec.Stamp = e.Key.Stamp
	rec.RecordNo = e.Key.RecordNo
	rec.ArrayID = e.Key.ArrayID
	for i := range rec.Values {
		rec.Values[i].Data = parseValue(fields[first+i])
	}
	return nil
}

// parseValue keeps numbers as float64, logger NAN and INF tokens included,
// and anything else as text
func parseValue(s string) any {
	s = strings.TrimSpace(s)
	switch strings.ToUpper(s) {
	case "NAN":
		return math.NaN()
	case "INF", "+INF":
		return math.Inf(1)
	case "-INF":
		return math.Inf(-1)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// Hibernate implements Reader
func (t *TOA5Reader) Hibernate() error { return t.close() }

// Wake implements Reader
func (t *TOA5Reader) Wake() error { return t.open() }

// Close implements Reader
func (t *TOA5Reader) Close() error { return t.close() }
