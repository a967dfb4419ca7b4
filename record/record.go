// Package record holds the positional, named and typed value sequences that
// sources deliver to sinks.
//
// A Record is shaped by a template: every array descriptor is expanded into
// one Value per element, in row-major order with 1-based subscripts, so a
// request can select a contiguous [begin, end) slice by column name.
package record

import (
	"strconv"
	"strings"
	"time"
)

// ValueDesc describes one column of a table
type ValueDesc struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Units       string   `json:"units,omitempty"`
	Process     string   `json:"process,omitempty"`
	Description string   `json:"description,omitempty"`
	Dims        []uint32 `json:"dims,omitempty"`
}

// Size returns the number of scalar elements the descriptor expands into
func (d *ValueDesc) Size() int {
	n := 1
	for _, dim := range d.Dims {
		n *= int(dim)
	}
	return n
}

// IsArray reports whether the descriptor has dimensions
func (d *ValueDesc) IsArray() bool {
	return len(d.Dims) > 0
}

// Value is one scalar element of a record
type Value struct {
	Desc       *ValueDesc
	Subscripts []uint32
	Data       any
}

// Name returns the descriptor name with subscripts, for example "Temp(2,1)"
func (v Value) Name() string {
	if len(v.Subscripts) == 0 {
		return v.Desc.Name
	}
	return FormatSubscripts(v.Desc.Name, v.Subscripts)
}

// IsPartial reports whether the value is one element of an array column
func (v Value) IsPartial() bool {
	return len(v.Subscripts) > 0
}

// FormatSubscripts renders name(i,j,...)
func FormatSubscripts(name string, subscripts []uint32) string {
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('(')
	for i, s := range subscripts {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatUint(uint64(s), 10))
	}
	b.WriteByte(')')
	return b.String()
}

// Key orders records within an index: time, then record number, then array id
type Key struct {
	Stamp    time.Time
	RecordNo uint32
	ArrayID  uint32
}

// Compare returns -1, 0 or +1
func (k Key) Compare(o Key) int {
	if c := k.Stamp.Compare(o.Stamp); c != 0 {
		return c
	}
	switch {
	case k.RecordNo < o.RecordNo:
		return -1
	case k.RecordNo > o.RecordNo:
		return 1
	case k.ArrayID < o.ArrayID:
		return -1
	case k.ArrayID > o.ArrayID:
		return 1
	}
	return 0
}

// Less reports whether k sorts before o
func (k Key) Less(o Key) bool {
	return k.Compare(o) < 0
}

// Record is one row of a table
type Record struct {
	StationName string
	TableName   string
	ArrayID     uint32
	FileMark    uint32
	RecordNo    uint32
	Stamp       time.Time
	Values      []Value
}

// NewTemplate builds an empty record shaped by descs
func NewTemplate(station, table string, descs []*ValueDesc) *Record {
	size := 0
	for _, d := range descs {
		size += d.Size()
	}
	rec := &Record{
		StationName: station,
		TableName:   table,
		Values:      make([]Value, 0, size),
	}
	for _, d := range descs {
		if !d.IsArray() {
			rec.Values = append(rec.Values, Value{Desc: d})
			continue
		}
		subs := make([]uint32, len(d.Dims))
		for i := range subs {
			subs[i] = 1
		}
		for n := 0; n < d.Size(); n++ {
			rec.Values = append(rec.Values, Value{Desc: d, Subscripts: append([]uint32(nil), subs...)})
			// row-major increment, last subscript fastest
			for i := len(subs) - 1; i >= 0; i-- {
				subs[i]++
				if subs[i] <= d.Dims[i] {
					break
				}
				subs[i] = 1
			}
		}
	}
	return rec
}

// Len returns the number of values
func (r *Record) Len() int {
	return len(r.Values)
}

// Key returns the record's index key
func (r *Record) Key() Key {
	return Key{Stamp: r.Stamp, RecordNo: r.RecordNo, ArrayID: r.ArrayID}
}

// Descs returns the distinct descriptors in column order
func (r *Record) Descs() []*ValueDesc {
	var descs []*ValueDesc
	var last *ValueDesc
	for _, v := range r.Values {
		if v.Desc != last {
			descs = append(descs, v.Desc)
			last = v.Desc
		}
	}
	return descs
}

// Clone returns a copy sharing descriptors and subscripts but not data
func (r *Record) Clone() *Record {
	c := *r
	c.Values = append([]Value(nil), r.Values...)
	return &c
}

// CopyFrom makes r an exact copy of o, reusing r's value storage
func (r *Record) CopyFrom(o *Record) {
	values := r.Values[:0]
	*r = *o
	r.Values = append(values, o.Values...)
}

// Reset clears the header and data, keeping the shape
func (r *Record) Reset() {
	r.FileMark = 0
	r.RecordNo = 0
	r.Stamp = time.Time{}
	for i := range r.Values {
		r.Values[i].Data = nil
	}
}

// Slice returns the values in [begin, end), clamped to the record
func (r *Record) Slice(begin, end int) []Value {
	if begin < 0 {
		begin = 0
	}
	if end > len(r.Values) {
		end = len(r.Values)
	}
	if begin >= end {
		return nil
	}
	return r.Values[begin:end]
}
