// Package datafile implements an access.Source over logger data files on
// disk. A worker goroutine owns the file reader and its record index;
// read cursors are polled on a schedule and whenever requests are activated.
package datafile

import (
	"log/slog"
	"os"
	"time"

	"github.com/c360/lgraccess/access"
	"github.com/c360/lgraccess/errors"
	"github.com/c360/lgraccess/record"
	"github.com/c360/lgraccess/symbol"
	"github.com/c360/lgraccess/uri"
)

// MinPollInterval is the shortest schedule the source accepts
const MinPollInterval = time.Second

// Source serves requests from one data file
type Source struct {
	access.SourceBase

	path         string
	labelsPath   string
	pollBase     time.Time
	pollInterval time.Duration
	backfill     int64

	engine  *engine
	retired *engine
	header  Header
	opened  bool
	cursors []*readCursor
	probes  map[*pollJob]func(access.TableRange, access.Failure)
	poll    *access.OneShot
	root    *symbol.Node
}

// New creates an unconfigured data file source
func New(name string, logger *slog.Logger) *Source {
	return &Source{
		SourceBase:   access.NewSourceBase(name, access.KindDataFile, logger),
		pollInterval: MinPollInterval,
		backfill:     UnboundedBackfill,
		probes:       make(map[*pollJob]func(access.TableRange, access.Failure)),
	}
}

// NewWithPath creates a source reading path. labelsPath selects the
// mixed-array format when not empty.
func NewWithPath(name, path, labelsPath string, logger *slog.Logger) *Source {
	s := New(name, logger)
	s.path = path
	s.labelsPath = labelsPath
	return s
}

// Path returns the data file path
func (s *Source) Path() string { return s.path }

// Header returns the header read when the file was last opened
func (s *Source) Header() (Header, bool) { return s.header, s.opened }

// SetManager implements access.Source
func (s *Source) SetManager(m *access.Manager) {
	if s.poll != nil {
		s.poll.Disarm()
	}
	s.SourceBase.SetManager(m)
	s.poll = nil
	if m != nil {
		s.poll = access.NewOneShot(m.Loop())
	}
}

func (s *Source) newReader() Reader {
	if s.labelsPath != "" {
		return NewMixedArrayReader(s.path, s.labelsPath)
	}
	return NewTOA5Reader(s.path)
}

// Connect implements access.Source by launching the worker
func (s *Source) Connect() {
	if s.engine != nil || s.Manager() == nil {
		return
	}
	if s.path == "" {
		err := errors.WrapInvalid(errors.ErrMissingConfig, "datafile.Source", "Connect", "path check")
		s.SetConnectionState(s, access.Disconnected, access.DisconnectConnectionFailed, err)
		return
	}
	s.SetConnectionState(s, access.Connecting, 0, nil)
	s.engine = newEngine(s.newReader(), s.path, s.backfill, s.Loop(), s, s.Logger())
	s.engine.start()
}

// Disconnect implements access.Source
func (s *Source) Disconnect() {
	s.disconnect(access.DisconnectByApplication, nil)
}

func (s *Source) disconnect(reason access.DisconnectReason, cause error) {
	if s.engine == nil && s.ConnectionState() == access.Disconnected {
		return
	}
	s.teardown()
	s.SetConnectionState(s, access.Disconnected, reason, cause)
	if s.root != nil {
		s.root.SetConnected(false)
	}
}

// teardown stops the worker and fails every cursor member
func (s *Source) teardown() {
	if s.engine != nil {
		s.engine.stop()
		s.retired = s.engine
		s.engine = nil
	}
	if s.poll != nil {
		s.poll.Disarm()
	}
	s.opened = false
	cursors := s.cursors
	s.cursors = nil
	for _, c := range cursors {
		for _, r := range c.requests {
			access.FailRequest(s.Manager(), s, r, access.FailureConnectionFailed)
		}
	}
	probes := s.probes
	s.probes = make(map[*pollJob]func(access.TableRange, access.Failure))
	for _, done := range probes {
		done(access.TableRange{}, access.FailureConnectionFailed)
	}
	s.SetCursorCount(0)
}

// Start implements access.Source
func (s *Source) Start() {
	s.SetStarted(true)
	s.Connect()
}

// Stop implements access.Source
func (s *Source) Stop() {
	s.SetStarted(false)
	s.CancelTimers()
	s.Disconnect()
}

// Wait blocks until the last stopped worker has exited
func (s *Source) Wait(timeout time.Duration) bool {
	if s.retired == nil {
		return true
	}
	return s.retired.wait(timeout)
}

func (s *Source) engineOpened(e *engine, h Header) {
	if e != s.engine {
		return
	}
	previous, reopened := s.header, s.opened
	if h.Station == "" {
		h.Station = s.Name()
	}
	s.header = h
	s.opened = true
	s.SetConnectionState(s, access.Connected, 0, nil)
	s.syncSymbols(h)
	if reopened {
		s.dropChangedCursors(previous, h)
		s.Log(s, "data file "+s.path+" reopened")
	}
	s.ActivateRequests()
	s.armPoll()
}

// dropChangedCursors fails cursors whose table vanished or changed shape
func (s *Source) dropChangedCursors(previous, current Header) {
	for _, c := range append([]*readCursor(nil), s.cursors...) {
		if !c.polled {
			continue
		}
		old, _ := previous.Table(c.table)
		now, ok := current.Table(c.table)
		if ok && sameDescs(old.Descs, now.Descs) {
			continue
		}
		s.removeCursor(c)
		for _, r := range c.requests {
			access.FailRequest(s.Manager(), s, r, access.FailureTableDeleted)
		}
		s.ScheduleRetry(s)
	}
}

func sameDescs(a, b []*record.ValueDesc) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name || a[i].Size() != b[i].Size() {
			return false
		}
	}
	return true
}

func (s *Source) engineFailed(e *engine, err error) {
	if e != s.engine {
		return
	}
	s.Log(s, "data file "+s.path+" failed: "+err.Error())
	s.disconnect(access.DisconnectConnectionFailed, err)
	if s.IsStarted() {
		s.ScheduleRetry(s)
		s.ScheduleReconnect(s.Connect)
	}
}

func (s *Source) engineReadComplete(e *engine, j *pollJob) {
	if e != s.engine {
		return
	}
	if j.probe {
		done := s.probes[j]
		delete(s.probes, j)
		if done == nil {
			return
		}
		if !j.found {
			done(access.TableRange{}, access.FailureInvalidTableName)
			return
		}
		done(j.rng, access.FailureUnknown)
		return
	}

	c := s.cursorFor(j)
	if c == nil {
		j.recycle()
		return
	}
	c.inFlight = false
	full := len(j.records) >= j.cacheSize
	if len(j.records) > 0 {
		members := c.members()
		for _, r := range members {
			r.SetExpectMoreData(full)
		}
		access.ReportSinkRecords(s.Manager(), members, j.records)
	}
	j.recycle()

	if j.satisfied && !c.satisfied {
		c.satisfied = true
		for _, r := range c.members() {
			if r.State() == access.StateStarted {
				r.SetState(s, access.StateSatisfied)
			}
		}
	}
	if full && !c.satisfied && len(c.requests) > 0 {
		s.queue(c)
	}
}

func (s *Source) cursorFor(j *pollJob) *readCursor {
	for _, c := range s.cursors {
		if c.job == j {
			return c
		}
	}
	return nil
}

func (s *Source) removeCursor(c *readCursor) {
	for i, existing := range s.cursors {
		if existing == c {
			s.cursors = append(s.cursors[:i], s.cursors[i+1:]...)
			break
		}
	}
	s.SetCursorCount(len(s.cursors))
}

// parseTarget splits source:table.column
func parseTarget(u string) (target, bool) {
	_, path, err := uri.Split(u)
	if err != nil {
		return target{}, false
	}
	segs := uri.SplitPath(path)
	if len(segs) == 0 || len(segs) > 2 || segs[0] == "" {
		return target{}, false
	}
	t := target{table: segs[0]}
	if len(segs) == 2 {
		t.column = segs[1]
	}
	return t, true
}

// targetOf parses and caches the table and column named by r's URI
func (s *Source) targetOf(r *access.Request) (target, bool) {
	if t, ok := r.Wart().(target); ok {
		return t, true
	}
	t, ok := parseTarget(r.URI())
	if ok {
		r.SetWart(t)
	}
	return t, ok
}

func (s *Source) failRequest(r *access.Request, f access.Failure) {
	access.FailRequest(s.Manager(), s, r, f)
	s.ScheduleRetry(s)
}

// AddRequest implements access.Source. The request joins a cursor that has
// not been polled yet when compatible.
func (s *Source) AddRequest(r *access.Request, moreToFollow bool) {
	t, ok := s.targetOf(r)
	if !ok {
		s.failRequest(r, access.FailureInvalidTableName)
		return
	}
	if s.opened {
		if _, ok := s.header.Table(t.table); !ok {
			s.failRequest(r, access.FailureInvalidTableName)
			return
		}
	}
	r.SetState(s, access.StatePending)

	var joined bool
	for _, c := range s.cursors {
		if c.accepts(r, t) {
			c.requests = append(c.requests, r)
			joined = true
			break
		}
	}
	if !joined {
		s.cursors = append(s.cursors, &readCursor{table: t.table, requests: []*access.Request{r}})
		s.SetCursorCount(len(s.cursors))
	}
	if !moreToFollow {
		s.ActivateRequests()
	}
}

// RemoveRequest implements access.Source
func (s *Source) RemoveRequest(r *access.Request) {
	for _, c := range s.cursors {
		if !c.remove(r) {
			continue
		}
		if len(c.requests) == 0 {
			s.removeCursor(c)
		}
		return
	}
}

// RemoveAllRequests implements access.Source
func (s *Source) RemoveAllRequests() {
	s.cursors = nil
	s.SetCursorCount(0)
}

// ActivateRequests implements access.Source by queueing every cursor that
// was never polled
func (s *Source) ActivateRequests() {
	if !s.opened {
		return
	}
	for _, c := range append([]*readCursor(nil), s.cursors...) {
		if !c.polled {
			s.startCursor(c)
		}
	}
}

// startCursor resolves the cursor's columns, reports ready and queues its
// first poll
func (s *Source) startCursor(c *readCursor) {
	m := s.Manager()
	tbl, ok := s.header.Table(c.table)
	if !ok {
		s.removeCursor(c)
		for _, r := range c.requests {
			s.failRequest(r, access.FailureInvalidTableName)
		}
		return
	}
	c.template = record.NewTemplate(s.header.Station, tbl.Name, tbl.Descs)
	var kept []*access.Request
	for _, r := range c.requests {
		t, _ := s.targetOf(r)
		if !r.SetValueIndices(c.template, t.column) {
			s.failRequest(r, access.FailureInvalidColumnName)
			continue
		}
		kept = append(kept, r)
	}
	c.requests = kept
	if len(kept) == 0 {
		s.removeCursor(c)
		return
	}
	for _, r := range kept {
		r.SetState(s, access.StateStarted)
		access.ReportSinkReady(m, r, c.template)
	}
	c.job = newPollJob(tbl.ArrayID, kept[0], c.template, s.Logger())
	s.queue(c)
}

func (s *Source) queue(c *readCursor) {
	c.polled = true
	c.inFlight = true
	c.lastMod = s.modTime()
	s.engine.addRead(c.job)
}

func (s *Source) modTime() time.Time {
	info, err := os.Stat(s.path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

// nextPollDelay returns the time until the next schedule point of
// base + k*interval after now
func nextPollDelay(now, base time.Time, interval time.Duration) time.Duration {
	if interval < MinPollInterval {
		interval = MinPollInterval
	}
	if base.IsZero() {
		return interval
	}
	elapsed := now.Sub(base) % interval
	if elapsed < 0 {
		elapsed += interval
	}
	return interval - elapsed
}

func (s *Source) armPoll() {
	if s.poll == nil || !s.opened {
		return
	}
	s.poll.Arm(nextPollDelay(time.Now(), s.pollBase, s.pollInterval), s.onPoll)
}

// onPoll queues every idle cursor when the file changed since its last poll
func (s *Source) onPoll() {
	if !s.opened {
		return
	}
	mod := s.modTime()
	for _, c := range append([]*readCursor(nil), s.cursors...) {
		switch {
		case !c.polled:
			s.startCursor(c)
		case c.inFlight, c.satisfied:
		case !mod.Equal(c.lastMod):
			s.queue(c)
		}
	}
	s.armPoll()
}

// TableRange implements access.Source
func (s *Source) TableRange(u string, done func(access.TableRange, access.Failure)) {
	loop := s.Loop()
	t, ok := parseTarget(u)
	var f access.Failure
	var tbl Table
	switch {
	case !ok:
		f = access.FailureInvalidTableName
	case !s.opened:
		f = access.FailureConnectionFailed
	default:
		if tbl, ok = s.header.Table(t.table); !ok {
			f = access.FailureInvalidTableName
		}
	}
	if f != access.FailureUnknown {
		loop.Post(func() { done(access.TableRange{}, f) })
		return
	}
	j := &pollJob{arrayID: tbl.ArrayID, probe: true}
	s.probes[j] = done
	s.engine.addRead(j)
}
