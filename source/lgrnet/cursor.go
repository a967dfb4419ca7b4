package lgrnet

import (
	"github.com/c360/lgraccess/access"
	"github.com/c360/lgraccess/record"
)

// target is the parsed form of a LoggerNet URI, cached on the request
type target struct {
	station string
	table   string
	column  string
}

func (t target) tableKey() string { return t.station + "." + t.table }

type cursorState int

const (
	cursorEmpty cursorState = iota
	cursorAwaitingReady
	cursorReady
	cursorClosed
)

// adviseCursor batches compatible requests on one table into a single data
// advise. Requests may join only until the feed is requested.
type adviseCursor struct {
	src      *Source
	station  string
	table    string
	requests []*access.Request
	state    cursorState
	feed     Feed
	template *record.Record

	endMark access.RecordPosition
	hasEnd  bool

	// a block arrived before the feed handle did
	pendingAck bool
}

func newAdviseCursor(src *Source, t target) *adviseCursor {
	return &adviseCursor{src: src, station: t.station, table: t.table}
}

func (c *adviseCursor) key() string { return c.station + "." + c.table }

// admit adds r when the cursor is empty, or when no feed was requested yet and
// r is compatible with the first member
func (c *adviseCursor) admit(r *access.Request, t target) bool {
	if c.state == cursorClosed {
		return false
	}
	if len(c.requests) > 0 {
		if c.state != cursorEmpty || t.station != c.station || t.table != c.table {
			return false
		}
		if !c.requests[0].IsCompatible(r) {
			return false
		}
	}
	c.requests = append(c.requests, r)
	return true
}

func (c *adviseCursor) remove(r *access.Request) bool {
	for i, member := range c.requests {
		if member == r {
			c.requests = append(c.requests[:i], c.requests[i+1:]...)
			return true
		}
	}
	return false
}

func (c *adviseCursor) members() []*access.Request {
	return append([]*access.Request(nil), c.requests...)
}

// start opens the feed with the first member's options. A bounded backfill
// first looks up the table's end marker.
func (c *adviseCursor) start() {
	if c.state != cursorEmpty || len(c.requests) == 0 {
		return
	}
	c.state = cursorAwaitingReady
	first := c.requests[0]
	opt := first.Start()
	if opt.IsBackfill() && opt.Kind != access.StartDateQuery {
		c.src.lookupTableEnd(c, c.openFeed)
		return
	}
	c.openFeed()
}

// columns returns the union of the members' columns, or nil when any member
// wants the whole record or restriction was disabled for this table
func (c *adviseCursor) columns() []string {
	if c.src.unrestricted[c.key()] {
		return nil
	}
	seen := make(map[string]bool)
	var cols []string
	for _, r := range c.requests {
		t, _ := c.src.targetOf(r)
		if t.column == "" {
			return nil
		}
		if !seen[t.column] {
			seen[t.column] = true
			cols = append(cols, t.column)
		}
	}
	return cols
}

func (c *adviseCursor) openFeed() {
	if c.state != cursorAwaitingReady || len(c.requests) == 0 {
		return
	}
	first := c.requests[0]
	params := AdviseParams{
		Station:   c.station,
		Table:     c.table,
		Columns:   c.columns(),
		Start:     first.Start(),
		Order:     first.Order(),
		CacheSize: first.CacheSize(),
	}
	c.src.openAdvise(c, params)
}

// feedOpened attaches the feed once the server accepted the advise
func (c *adviseCursor) feedOpened(feed Feed) {
	if c.state == cursorClosed {
		_ = feed.Close()
		return
	}
	c.feed = feed
	if c.pendingAck {
		c.pendingAck = false
		if err := feed.Next(); err != nil {
			c.onFailed(err)
		}
	}
}

// onReady resolves every member against the feed's record shape
func (c *adviseCursor) onReady(tmpl *record.Record) {
	if c.state == cursorClosed {
		return
	}
	m := c.src.Manager()
	c.template = tmpl
	var kept []*access.Request
	for _, r := range c.requests {
		t, _ := c.src.targetOf(r)
		if !r.SetValueIndices(tmpl, t.column) {
			c.src.failRequest(r, access.FailureInvalidColumnName)
			continue
		}
		kept = append(kept, r)
	}
	c.requests = kept
	if len(kept) == 0 {
		c.src.dropCursor(c)
		return
	}
	c.state = cursorReady
	for _, r := range kept {
		r.SetState(c.src, access.StateStarted)
		access.ReportSinkReady(m, r, tmpl)
	}
}

// expectMore compares the newest delivered record with the end marker
func (c *adviseCursor) expectMore(records []*record.Record) bool {
	if len(c.requests) > 0 && c.requests[0].Order() == access.OrderRealTime {
		return false
	}
	if !c.hasEnd || len(records) == 0 {
		return false
	}
	last := records[len(records)-1]
	if last.FileMark != c.endMark.FileMark {
		return last.FileMark < c.endMark.FileMark
	}
	return last.RecordNo < c.endMark.RecordNo
}

func (c *adviseCursor) onRecords(records []*record.Record) {
	if c.state != cursorReady {
		return
	}
	more := c.expectMore(records)
	members := c.members()
	for _, r := range members {
		r.SetExpectMoreData(more)
	}
	access.ReportSinkRecords(c.src.Manager(), members, records)
	if c.state != cursorReady {
		return
	}
	if c.feed == nil {
		c.pendingAck = true
		return
	}
	if err := c.feed.Next(); err != nil {
		c.onFailed(err)
	}
}

// onFailed fails every member and lets the source schedule recovery
func (c *adviseCursor) onFailed(err error) {
	if c.state == cursorClosed {
		return
	}
	f := FailureOf(err)
	members := c.members()
	c.src.dropCursor(c)
	for _, r := range members {
		access.FailRequest(c.src.Manager(), c.src, r, f)
	}
	c.src.cursorFailed(c, f, err)
}

func (c *adviseCursor) close() {
	if c.state == cursorClosed {
		return
	}
	c.state = cursorClosed
	if c.feed != nil {
		_ = c.feed.Close()
		c.feed = nil
	}
}
