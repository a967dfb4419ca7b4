package access

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/c360/lgraccess/errors"
	"github.com/c360/lgraccess/record"
	"github.com/c360/lgraccess/uri"
)

// DefaultCacheSize bounds the records buffered per delivery batch
const DefaultCacheSize = 1024

// State is the lifecycle state of a Request
type State int

// Request states
const (
	StateInactive State = iota
	StatePending
	StateStarted
	StateSatisfied
	StateError
	StateRemovePending
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StatePending:
		return "pending"
	case StateStarted:
		return "started"
	case StateSatisfied:
		return "satisfied"
	case StateError:
		return "error"
	case StateRemovePending:
		return "remove_pending"
	default:
		return "unknown"
	}
}

// Request describes what data a caller wants, from when and in what order,
// plus the runtime state the owning Source maintains for it.
//
// Start options are frozen once the request leaves Inactive or RemovePending
// unless Unfreeze was called.
type Request struct {
	id   uuid.UUID
	uri  string
	sink Sink

	source  Source
	manager *Manager

	start         StartOption
	order         Order
	cacheSize     uint32
	useTableIndex bool
	cacheable     bool
	unfrozen      bool

	wart any

	beginIndex int
	endIndex   int

	state          State
	expectMoreData bool
}

// NewRequest creates an inactive request for uri delivering to sink
func NewRequest(u string, sink Sink) *Request {
	return &Request{
		id:        uuid.New(),
		uri:       u,
		sink:      sink,
		cacheSize: DefaultCacheSize,
		cacheable: true,
	}
}

// ID returns the request identifier
func (r *Request) ID() uuid.UUID { return r.id }

// URI returns the data-item URI
func (r *Request) URI() string { return r.uri }

// Sink returns the delivery target
func (r *Request) Sink() Sink { return r.sink }

// Source returns the resolved source, nil until added
func (r *Request) Source() Source { return r.source }

// Manager returns the owning manager, nil until added
func (r *Request) Manager() *Manager { return r.manager }

// State returns the lifecycle state
func (r *Request) State() State { return r.state }

// Start returns the start option
func (r *Request) Start() StartOption { return r.start }

// Order returns the order option
func (r *Request) Order() Order { return r.order }

// CacheSize returns the per-batch record limit
func (r *Request) CacheSize() uint32 { return r.cacheSize }

// UseTableIndex reports whether the table index may be used
func (r *Request) UseTableIndex() bool { return r.useTableIndex }

// Cacheable reports whether the source may serve cached records
func (r *Request) Cacheable() bool { return r.cacheable }

// Wart returns the source specific parsed URI
func (r *Request) Wart() any { return r.wart }

// SetWart attaches the source specific parsed URI
func (r *Request) SetWart(w any) { r.wart = w }

// BeginIndex returns the first selected value position
func (r *Request) BeginIndex() int { return r.beginIndex }

// EndIndex returns one past the last selected value position
func (r *Request) EndIndex() int { return r.endIndex }

// ExpectMoreData reports whether the current delivery is part of a backlog
func (r *Request) ExpectMoreData() bool { return r.expectMoreData }

// SetExpectMoreData is set by cursors before each fan-out
func (r *Request) SetExpectMoreData(more bool) { r.expectMoreData = more }

// Frozen reports whether option setters are rejected
func (r *Request) Frozen() bool {
	if r.unfrozen {
		return false
	}
	return r.state != StateInactive && r.state != StateRemovePending
}

// Unfreeze allows option changes on an active request
func (r *Request) Unfreeze() { r.unfrozen = true }

// Freeze reverses Unfreeze
func (r *Request) Freeze() { r.unfrozen = false }

func (r *Request) checkFrozen(method string) error {
	if r.Frozen() {
		return errors.WrapInvalid(errors.ErrRequestFrozen, "Request", method, "option update")
	}
	return nil
}

func (r *Request) setStart(method string, opt StartOption) error {
	if err := r.checkFrozen(method); err != nil {
		return err
	}
	r.start = opt
	return nil
}

// SetStartAtNewest starts with the newest record
func (r *Request) SetStartAtNewest() error {
	return r.setStart("SetStartAtNewest", StartOption{Kind: StartAtNewest})
}

// SetStartAfterNewest starts with the first record stored after the newest
func (r *Request) SetStartAfterNewest() error {
	return r.setStart("SetStartAfterNewest", StartOption{Kind: StartAfterNewest})
}

// SetStartAtRecord starts at a file mark and record number; stamp is an
// optional hint
func (r *Request) SetStartAtRecord(fileMark, recordNo uint32, stamp time.Time) error {
	return r.setStart("SetStartAtRecord", StartOption{
		Kind: StartAtRecord, FileMark: fileMark, RecordNo: recordNo, Stamp: stamp,
	})
}

// SetStartAtTime starts at the first record stamped at or after stamp
func (r *Request) SetStartAtTime(stamp time.Time) error {
	return r.setStart("SetStartAtTime", StartOption{Kind: StartAtTime, Stamp: stamp})
}

// SetStartRelativeToNewest starts backfill before the newest record. The sign
// of backfill is ignored.
func (r *Request) SetStartRelativeToNewest(backfill time.Duration) error {
	if backfill > 0 {
		backfill = -backfill
	}
	return r.setStart("SetStartRelativeToNewest", StartOption{Kind: StartRelativeToNewest, Backfill: backfill})
}

// SetStartAtOffsetFromNewest starts offset records before the newest
func (r *Request) SetStartAtOffsetFromNewest(offset uint32) error {
	return r.setStart("SetStartAtOffsetFromNewest", StartOption{Kind: StartAtOffsetFromNewest, Offset: offset})
}

// SetStartDateQuery returns records in [begin, end) and then is satisfied
func (r *Request) SetStartDateQuery(begin, end time.Time) error {
	if !end.After(begin) {
		return errors.WrapInvalid(errors.ErrInvalidData, "Request", "SetStartDateQuery", "range check")
	}
	return r.setStart("SetStartDateQuery", StartOption{Kind: StartDateQuery, Begin: begin, End: end})
}

// SetStart replaces the whole start option
func (r *Request) SetStart(opt StartOption) error {
	if opt.Kind == StartRelativeToNewest && opt.Backfill > 0 {
		opt.Backfill = -opt.Backfill
	}
	return r.setStart("SetStart", opt)
}

// SetOrder selects the record order
func (r *Request) SetOrder(o Order) error {
	if err := r.checkFrozen("SetOrder"); err != nil {
		return err
	}
	r.order = o
	return nil
}

// SetCacheSize bounds records per delivery batch; zero selects the default
func (r *Request) SetCacheSize(n uint32) error {
	if err := r.checkFrozen("SetCacheSize"); err != nil {
		return err
	}
	if n == 0 {
		n = DefaultCacheSize
	}
	r.cacheSize = n
	return nil
}

// SetUseTableIndex allows the source to consult the table index
func (r *Request) SetUseTableIndex(use bool) error {
	if err := r.checkFrozen("SetUseTableIndex"); err != nil {
		return err
	}
	r.useTableIndex = use
	return nil
}

// SetCacheable allows the source to serve cached records
func (r *Request) SetCacheable(cacheable bool) error {
	if err := r.checkFrozen("SetCacheable"); err != nil {
		return err
	}
	r.cacheable = cacheable
	return nil
}

// SetState transitions the request and tells a live sink about it
func (r *Request) SetState(source Source, state State) {
	if source != nil {
		r.source = source
	}
	if r.state == state {
		return
	}
	r.state = state
	if r.sink != nil && IsLive(r.sink) {
		r.sink.OnRequestStateChange(r.manager, r)
	}
}

// IsCompatible reports whether r and other may share one cursor
func (r *Request) IsCompatible(other *Request) bool {
	return r.order == other.order && r.start.Matches(other.start)
}

// SetValueIndices resolves [begin, end) for column against a record shape.
// An empty column selects the whole record. It returns false when nothing
// matched.
func (r *Request) SetValueIndices(rec *record.Record, column string) bool {
	if column == "" {
		r.beginIndex, r.endIndex = 0, rec.Len()
		return rec.Len() > 0
	}
	r.beginIndex, r.endIndex = 0, 0
	_, subs, err := uri.ParseSubscripts(column)
	if err != nil {
		return false
	}
	for i, v := range rec.Values {
		name := v.Desc.Name
		if subs != nil {
			name = v.Name()
		}
		if !strings.EqualFold(name, column) {
			continue
		}
		r.beginIndex = i
		r.endIndex = i + 1
		if subs == nil && v.IsPartial() {
			for r.endIndex < rec.Len() && rec.Values[r.endIndex].Desc == v.Desc {
				r.endIndex++
			}
		}
		return true
	}
	return false
}

// Values returns the slice of rec this request selected
func (r *Request) Values(rec *record.Record) []record.Value {
	return rec.Slice(r.beginIndex, r.endIndex)
}
