package access

import (
	"strconv"
	"time"

	"github.com/c360/lgraccess/errors"
	"github.com/c360/lgraccess/pkg/timestamp"
)

// StartKind selects where a request begins returning data
type StartKind int

// Start options
const (
	StartAtNewest StartKind = iota
	StartAfterNewest
	StartAtRecord
	StartAtTime
	StartRelativeToNewest
	StartAtOffsetFromNewest
	StartDateQuery
)

var startNames = [...]string{
	StartAtNewest:           "at-newest",
	StartAfterNewest:        "after-newest",
	StartAtRecord:           "at-record",
	StartAtTime:             "at-time",
	StartRelativeToNewest:   "relative-to-newest",
	StartAtOffsetFromNewest: "at-offset-from-newest",
	StartDateQuery:          "date-query",
}

func (k StartKind) String() string {
	if k >= 0 && int(k) < len(startNames) {
		return startNames[k]
	}
	return "unknown"
}

// ParseStartKind maps a start option name to its kind
func ParseStartKind(s string) (StartKind, bool) {
	for i, name := range startNames {
		if name == s {
			return StartKind(i), true
		}
	}
	return StartAtNewest, false
}

// StartOption is the start option and its family specific parameters
type StartOption struct {
	Kind StartKind

	// StartAtRecord
	FileMark uint32
	RecordNo uint32

	// StartAtRecord stamp hint and StartAtTime
	Stamp time.Time

	// StartRelativeToNewest, always zero or negative
	Backfill time.Duration

	// StartAtOffsetFromNewest
	Offset uint32

	// StartDateQuery, half open
	Begin time.Time
	End   time.Time
}

// Matches reports whether two start options would produce the same stream
func (o StartOption) Matches(other StartOption) bool {
	if o.Kind != other.Kind {
		return false
	}
	switch o.Kind {
	case StartAtRecord:
		if o.FileMark != other.FileMark || o.RecordNo != other.RecordNo {
			return false
		}
		if !o.Stamp.IsZero() && !other.Stamp.IsZero() {
			return o.Stamp.Equal(other.Stamp)
		}
		return true
	case StartAtTime:
		return o.Stamp.Equal(other.Stamp)
	case StartRelativeToNewest:
		return o.Backfill == other.Backfill
	case StartAtOffsetFromNewest:
		return o.Offset == other.Offset
	case StartDateQuery:
		return o.Begin.Equal(other.Begin) && o.End.Equal(other.End)
	}
	return true
}

// Start option parameter names used by ParseStartOption
const (
	ParamFileMark = "file-mark"
	ParamRecordNo = "record"
	ParamStamp    = "stamp"
	ParamBackfill = "backfill"
	ParamOffset   = "offset"
	ParamBegin    = "begin"
	ParamEnd      = "end"
)

// ParseStartOption builds a start option from its name and the parameters
// returned by get, which yields "" for parameters that are absent. Times
// accept anything timestamp.Parse does; backfill is a Go duration.
func ParseStartOption(kind string, get func(string) string) (StartOption, error) {
	if kind == "" {
		return StartOption{Kind: StartAtNewest}, nil
	}
	k, ok := ParseStartKind(kind)
	if !ok {
		return StartOption{}, errors.WrapInvalid(errors.ErrInvalidData, "StartOption", "Parse", "start kind "+kind)
	}
	opt := StartOption{Kind: k}

	uintParam := func(name string, required bool) (uint32, error) {
		v := get(name)
		if v == "" {
			if required {
				return 0, errors.WrapInvalid(errors.ErrInvalidData, "StartOption", "Parse", name+" required")
			}
			return 0, nil
		}
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return 0, errors.WrapInvalid(errors.ErrInvalidData, "StartOption", "Parse", "parse "+name)
		}
		return uint32(n), nil
	}
	timeParam := func(name string, required bool) (time.Time, error) {
		v := get(name)
		t := timestamp.Parse(v)
		if (v != "" && t.IsZero()) || (required && t.IsZero()) {
			return t, errors.WrapInvalid(errors.ErrInvalidData, "StartOption", "Parse", "parse "+name)
		}
		return t, nil
	}

	var err error
	switch k {
	case StartAtRecord:
		if opt.FileMark, err = uintParam(ParamFileMark, false); err != nil {
			return opt, err
		}
		if opt.RecordNo, err = uintParam(ParamRecordNo, true); err != nil {
			return opt, err
		}
		opt.Stamp, err = timeParam(ParamStamp, false)
	case StartAtTime:
		opt.Stamp, err = timeParam(ParamStamp, true)
	case StartRelativeToNewest:
		d, perr := time.ParseDuration(get(ParamBackfill))
		if perr != nil {
			return opt, errors.WrapInvalid(errors.ErrInvalidData, "StartOption", "Parse", "parse "+ParamBackfill)
		}
		if d > 0 {
			d = -d
		}
		opt.Backfill = d
	case StartAtOffsetFromNewest:
		opt.Offset, err = uintParam(ParamOffset, true)
	case StartDateQuery:
		if opt.Begin, err = timeParam(ParamBegin, true); err != nil {
			return opt, err
		}
		if opt.End, err = timeParam(ParamEnd, true); err != nil {
			return opt, err
		}
		if !opt.End.After(opt.Begin) {
			err = errors.WrapInvalid(errors.ErrInvalidData, "StartOption", "Parse", "range check")
		}
	}
	return opt, err
}

// IsBackfill reports whether the option reaches back before the newest record
func (o StartOption) IsBackfill() bool {
	switch o.Kind {
	case StartAtNewest, StartAfterNewest:
		return false
	}
	return true
}

// Order selects how records are sequenced
type Order int

// Order options
const (
	OrderCollected Order = iota
	OrderLogReported
	OrderRealTime
)

func (o Order) String() string {
	switch o {
	case OrderCollected:
		return "collected"
	case OrderLogReported:
		return "log-reported"
	case OrderRealTime:
		return "real-time"
	default:
		return "unknown"
	}
}

// ParseOrder maps an order option name to its value
func ParseOrder(s string) (Order, bool) {
	for _, o := range []Order{OrderCollected, OrderLogReported, OrderRealTime} {
		if o.String() == s {
			return o, true
		}
	}
	return OrderCollected, false
}
