package record

import (
	"time"
)

// Field is one named value in an Envelope
type Field struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Envelope is the JSON form of a record slice written by output sinks
type Envelope struct {
	URI      string    `json:"uri,omitempty"`
	Station  string    `json:"station,omitempty"`
	Table    string    `json:"table"`
	FileMark uint32    `json:"file_mark"`
	RecordNo uint32    `json:"record_no"`
	Stamp    time.Time `json:"stamp"`
	Fields   []Field   `json:"fields"`
}

// NewEnvelope captures the values of r in [begin, end)
func NewEnvelope(uri string, r *Record, begin, end int) Envelope {
	values := r.Slice(begin, end)
	env := Envelope{
		URI:      uri,
		Station:  r.StationName,
		Table:    r.TableName,
		FileMark: r.FileMark,
		RecordNo: r.RecordNo,
		Stamp:    r.Stamp,
		Fields:   make([]Field, 0, len(values)),
	}
	for _, v := range values {
		env.Fields = append(env.Fields, Field{Name: v.Name(), Value: v.Data})
	}
	return env
}
