// Package timestamp converts between time.Time and the time representations
// used by dataloggers.
//
// The live server counts time in nanoseconds since the logger epoch,
// 1990-01-01 00:00:00 with no time zone, and data files store stamps as
// "2006-01-02 15:04:05[.fff]" text. Both carry logger local time; this
// package treats them as UTC so that arithmetic never shifts across DST.
//
// A zero int64 or a zero time.Time means "not set" throughout.
package timestamp

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Epoch is the logger epoch
var Epoch = time.Date(1990, time.January, 1, 0, 0, 0, 0, time.UTC)

// TOA5Layout is the stamp layout written by loggers into text data files
const TOA5Layout = "2006-01-02 15:04:05"

// ToLgrNsec converts t to nanoseconds since the logger epoch
func ToLgrNsec(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return int64(t.Sub(Epoch))
}

// FromLgrNsec converts nanoseconds since the logger epoch to a time
func FromLgrNsec(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return Epoch.Add(time.Duration(ns))
}

// FormatTOA5 formats t the way loggers write stamps, with fractional seconds only when present
func FormatTOA5(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	s := t.UTC().Format(TOA5Layout)
	if ns := t.Nanosecond(); ns != 0 {
		frac := strings.TrimRight(fmt.Sprintf("%09d", ns), "0")
		s += "." + frac
	}
	return s
}

// ParseTOA5 parses a logger stamp, optionally quoted and with fractional seconds
func ParseTOA5(s string) (time.Time, error) {
	s = strings.Trim(strings.TrimSpace(s), `"`)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	layout := TOA5Layout
	if i := strings.IndexByte(s, '.'); i >= 0 {
		layout += "." + strings.Repeat("9", len(s)-i-1)
	}
	t, err := time.ParseInLocation(layout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

// Parse converts a property or query value to a time. It accepts RFC3339,
// the TOA5 layout, logger-epoch nanoseconds and time.Time. Invalid input
// yields the zero time.
func Parse(input any) time.Time {
	switch v := input.(type) {
	case nil:
		return time.Time{}
	case time.Time:
		return v
	case int64:
		return FromLgrNsec(v)
	case int:
		return FromLgrNsec(int64(v))
	case string:
		v = strings.TrimSpace(v)
		if v == "" {
			return time.Time{}
		}
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t.UTC()
		}
		if t, err := ParseTOA5(v); err == nil {
			return t
		}
		if ns, err := strconv.ParseInt(v, 10, 64); err == nil {
			return FromLgrNsec(ns)
		}
		return time.Time{}
	default:
		return time.Time{}
	}
}

// Format renders t as RFC3339 with nanoseconds, empty for the zero time
func Format(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// Max returns the later of two times, treating zero as earlier than any other time
func Max(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
