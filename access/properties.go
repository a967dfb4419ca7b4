package access

import (
	"sort"
	"strconv"
	"time"

	"github.com/c360/lgraccess/errors"
)

// Properties is the named-attribute container sources read their settings
// from and write them back to. Values are stored as strings; typed getters
// parse on access and fall back to a default when the attribute is missing.
type Properties struct {
	attrs map[string]string
}

// NewProperties creates an empty container
func NewProperties() *Properties {
	return &Properties{attrs: make(map[string]string)}
}

// PropertiesFromMap copies m into a new container
func PropertiesFromMap(m map[string]string) *Properties {
	p := NewProperties()
	for k, v := range m {
		p.attrs[k] = v
	}
	return p
}

// Map returns a copy of the attributes
func (p *Properties) Map() map[string]string {
	m := make(map[string]string, len(p.attrs))
	for k, v := range p.attrs {
		m[k] = v
	}
	return m
}

// Names returns the attribute names in sorted order
func (p *Properties) Names() []string {
	names := make([]string, 0, len(p.attrs))
	for k := range p.attrs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Has reports whether name is set
func (p *Properties) Has(name string) bool {
	_, ok := p.attrs[name]
	return ok
}

// Delete removes name
func (p *Properties) Delete(name string) {
	delete(p.attrs, name)
}

// Set stores a string attribute
func (p *Properties) Set(name, value string) {
	p.attrs[name] = value
}

// SetInt64 stores an integer attribute
func (p *Properties) SetInt64(name string, v int64) {
	p.attrs[name] = strconv.FormatInt(v, 10)
}

// SetUint16 stores a port-sized attribute
func (p *Properties) SetUint16(name string, v uint16) {
	p.attrs[name] = strconv.FormatUint(uint64(v), 10)
}

// SetBool stores a boolean attribute
func (p *Properties) SetBool(name string, v bool) {
	p.attrs[name] = strconv.FormatBool(v)
}

// SetMillis stores a duration as whole milliseconds
func (p *Properties) SetMillis(name string, d time.Duration) {
	p.attrs[name] = strconv.FormatInt(d.Milliseconds(), 10)
}

// SetTime stores an RFC3339 timestamp
func (p *Properties) SetTime(name string, t time.Time) {
	p.attrs[name] = t.UTC().Format(time.RFC3339Nano)
}

// String returns name or def when missing
func (p *Properties) String(name, def string) string {
	if v, ok := p.attrs[name]; ok {
		return v
	}
	return def
}

// Int64 parses name as an integer
func (p *Properties) Int64(name string, def int64) (int64, error) {
	v, ok := p.attrs[name]
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def, errors.WrapInvalid(err, "Properties", "Int64", "parse "+name)
	}
	return n, nil
}

// Uint16 parses name as an unsigned 16-bit integer
func (p *Properties) Uint16(name string, def uint16) (uint16, error) {
	v, ok := p.attrs[name]
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 10, 16)
	if err != nil {
		return def, errors.WrapInvalid(err, "Properties", "Uint16", "parse "+name)
	}
	return uint16(n), nil
}

// Bool parses name as a boolean
func (p *Properties) Bool(name string, def bool) (bool, error) {
	v, ok := p.attrs[name]
	if !ok || v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, errors.WrapInvalid(err, "Properties", "Bool", "parse "+name)
	}
	return b, nil
}

// Millis parses name as a millisecond count
func (p *Properties) Millis(name string, def time.Duration) (time.Duration, error) {
	v, ok := p.attrs[name]
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def, errors.WrapInvalid(err, "Properties", "Millis", "parse "+name)
	}
	return time.Duration(n) * time.Millisecond, nil
}

// Time parses name as an RFC3339 timestamp
func (p *Properties) Time(name string, def time.Time) (time.Time, error) {
	v, ok := p.attrs[name]
	if !ok || v == "" {
		return def, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return def, errors.WrapInvalid(err, "Properties", "Time", "parse "+name)
	}
	return t, nil
}
