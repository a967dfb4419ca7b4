// Package database implements an access.Source over logger tables stored in
// a SQL database. A metadata table names the station, logger table and SQL
// table of every stored table; queries run on a worker pool and their
// results are posted back to the manager's loop.
package database

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/c360/lgraccess/access"
	"github.com/c360/lgraccess/errors"
	"github.com/c360/lgraccess/pkg/cache"
	"github.com/c360/lgraccess/record"
	"github.com/c360/lgraccess/symbol"
	"github.com/c360/lgraccess/uri"
)

const (
	// MinPollInterval is the shortest schedule the source accepts
	MinPollInterval = time.Second

	// DefaultWorkers is the default query pool size
	DefaultWorkers = 2

	// layoutCacheSize bounds the probed table layouts kept across reconnects
	layoutCacheSize = 512
)

// target is the parsed form of a database URI, cached on the request
type target struct {
	station string
	table   string
	column  string
}

// queryCursor groups compatible requests on one table. Requests may join
// until the first poll is submitted.
type queryCursor struct {
	station  string
	table    string
	info     *tableInfo
	requests []*access.Request
	template *record.Record
	state    *pollState
	job      *job

	polled    bool
	inFlight  bool
	satisfied bool
}

func (c *queryCursor) accepts(r *access.Request, t target) bool {
	return !c.polled && c.station == t.station && c.table == t.table && c.requests[0].IsCompatible(r)
}

func (c *queryCursor) remove(r *access.Request) bool {
	for i, member := range c.requests {
		if member == r {
			c.requests = append(c.requests[:i], c.requests[i+1:]...)
			return true
		}
	}
	return false
}

func (c *queryCursor) members() []*access.Request {
	return append([]*access.Request(nil), c.requests...)
}

// Source serves requests from the tables of one database
type Source struct {
	access.SourceBase

	driver       string
	dsn          string
	pollInterval time.Duration
	workers      int

	layouts    cache.Cache[*layout]
	sess       *session
	retired    *session
	cat        *catalog
	refreshing bool
	cursors    []*queryCursor
	probes     map[*job]func(access.TableRange, access.Failure)
	poll       *access.OneShot
	root       *symbol.Node
}

// New creates an unconfigured database source
func New(name string, logger *slog.Logger) *Source {
	return &Source{
		SourceBase:   access.NewSourceBase(name, access.KindDatabase, logger),
		driver:       DriverSQLite3,
		pollInterval: MinPollInterval,
		workers:      DefaultWorkers,
		probes:       make(map[*job]func(access.TableRange, access.Failure)),
	}
}

// NewWithDSN creates a source opening dsn with driver
func NewWithDSN(name, driver, dsn string, logger *slog.Logger) *Source {
	s := New(name, logger)
	s.driver = driver
	s.dsn = dsn
	return s
}

// Driver returns the database/sql driver name
func (s *Source) Driver() string { return s.driver }

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

// Connect implements access.Source by opening the database and loading the
// catalog
func (s *Source) Connect() {
	if s.sess != nil || s.Manager() == nil {
		return
	}
	if s.dsn == "" {
		err := errors.WrapInvalid(errors.ErrMissingConfig, "database.Source", "Connect", PropDSN+" check")
		s.SetConnectionState(s, access.Disconnected, access.DisconnectConnectionFailed, err)
		return
	}
	d, err := DialectFor(s.driver)
	if err != nil {
		s.SetConnectionState(s, access.Disconnected, access.DisconnectConnectionFailed, err)
		return
	}
	if s.layouts == nil {
		if s.layouts, err = cache.NewLRU[*layout](layoutCacheSize); err != nil {
			s.SetConnectionState(s, access.Disconnected, access.DisconnectConnectionFailed, err)
			return
		}
	}
	db, err := sql.Open(s.driver, s.dsn)
	if err != nil {
		err = errors.WrapInvalid(err, "database.Source", "Connect", "open "+s.driver)
		s.SetConnectionState(s, access.Disconnected, access.DisconnectConnectionFailed, err)
		return
	}
	s.SetConnectionState(s, access.Connecting, 0, nil)
	s.sess = newSession(db, d, s.workers, s.layouts, s.Loop(), s.Logger(), s.jobDone)
	s.refresh()
}

// Disconnect implements access.Source
func (s *Source) Disconnect() {
	s.disconnect(access.DisconnectByApplication, nil)
}

func (s *Source) disconnect(reason access.DisconnectReason, cause error) {
	if s.sess == nil && s.ConnectionState() == access.Disconnected {
		return
	}
	s.teardown()
	s.SetConnectionState(s, access.Disconnected, reason, cause)
	if s.root != nil {
		s.root.RemoveChildren(symbol.ReasonConnectionLost)
		s.root.SetConnected(false)
	}
}

// teardown closes the session and fails every cursor member
func (s *Source) teardown() {
	if s.sess != nil {
		s.sess.close()
		s.retired = s.sess
		s.sess = nil
	}
	if s.poll != nil {
		s.poll.Disarm()
	}
	s.cat = nil
	s.refreshing = false
	cursors := s.cursors
	s.cursors = nil
	for _, c := range cursors {
		for _, r := range c.requests {
			access.FailRequest(s.Manager(), s, r, access.FailureConnectionFailed)
		}
	}
	probes := s.probes
	s.probes = make(map[*job]func(access.TableRange, access.Failure))
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

// Wait blocks until the last closed session has released its handle
func (s *Source) Wait(timeout time.Duration) bool {
	if s.retired == nil {
		return true
	}
	return s.retired.wait(timeout)
}

// refresh queues a catalog load unless one is in flight
func (s *Source) refresh() {
	if s.sess == nil || s.refreshing {
		return
	}
	if err := s.sess.submit(&job{kind: jobCatalog}); err != nil {
		s.Logger().Debug("Catalog refresh deferred", "source", s.Name(), "error", err)
		return
	}
	s.refreshing = true
}

func (s *Source) jobDone(j *job) {
	if j.sess != s.sess || s.sess == nil {
		return
	}
	switch j.kind {
	case jobCatalog:
		s.catalogLoaded(j)
	case jobPoll:
		s.pollComplete(j)
	case jobRange:
		done := s.probes[j]
		delete(s.probes, j)
		if done == nil {
			return
		}
		if j.err != nil {
			done(access.TableRange{}, access.FailureConnectionFailed)
			return
		}
		done(j.rng, access.FailureUnknown)
	}
}

func (s *Source) catalogLoaded(j *job) {
	s.refreshing = false
	if j.err != nil {
		s.Log(s, "catalog load failed: "+j.err.Error())
		s.disconnect(access.DisconnectConnectionFailed, j.err)
		if s.IsStarted() {
			s.ScheduleRetry(s)
			s.ScheduleReconnect(s.Connect)
		}
		return
	}
	previous := s.cat
	s.cat = j.catalog
	if previous != nil {
		s.forgetLayouts(previous, s.cat)
	} else {
		for _, msg := range s.cat.skipped {
			s.Log(s, "table skipped: "+msg)
		}
	}
	if s.ConnectionState() != access.Connected {
		s.SetConnectionState(s, access.Connected, 0, nil)
	}
	s.syncSymbols(s.cat)
	s.dropChangedCursors()
	s.ActivateRequests()
	s.queueIdle()
	s.armPoll()
}

// forgetLayouts evicts cached layouts of SQL tables no longer listed
func (s *Source) forgetLayouts(previous, current *catalog) {
	listed := make(map[string]bool, len(current.tables))
	for _, t := range current.tables {
		listed[t.DBTable] = true
	}
	for _, t := range previous.tables {
		if !listed[t.DBTable] {
			s.layouts.Delete(t.DBTable)
		}
	}
}

// dropChangedCursors fails cursors whose table vanished or changed shape
func (s *Source) dropChangedCursors() {
	for _, c := range append([]*queryCursor(nil), s.cursors...) {
		if !c.polled {
			continue
		}
		now, ok := s.cat.table(c.station, c.table)
		if ok && now.DBTable == c.info.DBTable && sameDescs(c.info.Descs, now.Descs) {
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

func (s *Source) pollComplete(j *job) {
	c := s.cursorFor(j)
	if c == nil {
		return
	}
	c.inFlight = false
	p := j.poll
	if j.err != nil {
		s.Logger().Warn("Poll failed", "source", s.Name(), "table", c.station+"."+c.table, "error", j.err)
		return
	}
	full := len(p.records) >= p.cacheSize
	if len(p.records) > 0 {
		members := c.members()
		for _, r := range members {
			r.SetExpectMoreData(full)
		}
		access.ReportSinkRecords(s.Manager(), members, p.records)
		p.records = nil
	}
	if p.satisfied && !c.satisfied {
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

func (s *Source) cursorFor(j *job) *queryCursor {
	for _, c := range s.cursors {
		if c.job == j {
			return c
		}
	}
	return nil
}

func (s *Source) removeCursor(c *queryCursor) {
	for i, existing := range s.cursors {
		if existing == c {
			s.cursors = append(s.cursors[:i], s.cursors[i+1:]...)
			break
		}
	}
	s.SetCursorCount(len(s.cursors))
}

// parseTarget splits source:station.table.column
func parseTarget(u string) (target, access.Failure) {
	_, path, err := uri.Split(u)
	if err != nil {
		return target{}, access.FailureInvalidSource
	}
	segs := uri.SplitPath(path)
	switch {
	case len(segs) == 0 || segs[0] == "":
		return target{}, access.FailureInvalidStationName
	case len(segs) == 1 || segs[1] == "":
		return target{}, access.FailureInvalidTableName
	case len(segs) > 3:
		return target{}, access.FailureInvalidColumnName
	}
	t := target{station: segs[0], table: segs[1]}
	if len(segs) == 3 {
		t.column = segs[2]
	}
	return t, access.FailureUnknown
}

// targetOf parses and caches the station, table and column named by r's URI
func (s *Source) targetOf(r *access.Request) (target, access.Failure) {
	if t, ok := r.Wart().(target); ok {
		return t, access.FailureUnknown
	}
	t, f := parseTarget(r.URI())
	if f == access.FailureUnknown {
		r.SetWart(t)
	}
	return t, f
}

// lookup checks a target against the loaded catalog
func (s *Source) lookup(t target) (*tableInfo, access.Failure) {
	if info, ok := s.cat.table(t.station, t.table); ok {
		return info, access.FailureUnknown
	}
	if !s.cat.hasStation(t.station) {
		return nil, access.FailureInvalidStationName
	}
	return nil, access.FailureInvalidTableName
}

func (s *Source) failRequest(r *access.Request, f access.Failure) {
	access.FailRequest(s.Manager(), s, r, f)
	s.ScheduleRetry(s)
}

// AddRequest implements access.Source. The request joins a cursor that has
// not been polled yet when compatible.
func (s *Source) AddRequest(r *access.Request, moreToFollow bool) {
	t, f := s.targetOf(r)
	if f == access.FailureUnknown && s.cat != nil {
		_, f = s.lookup(t)
	}
	if f != access.FailureUnknown {
		s.failRequest(r, f)
		return
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
		s.cursors = append(s.cursors, &queryCursor{station: t.station, table: t.table, requests: []*access.Request{r}})
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

// ActivateRequests implements access.Source by starting every cursor that
// was never polled
func (s *Source) ActivateRequests() {
	if s.cat == nil {
		return
	}
	for _, c := range append([]*queryCursor(nil), s.cursors...) {
		if !c.polled {
			s.startCursor(c)
		}
	}
}

// startCursor resolves the cursor's columns, reports ready and submits its
// first poll
func (s *Source) startCursor(c *queryCursor) {
	info, f := s.lookup(target{station: c.station, table: c.table})
	if f != access.FailureUnknown {
		s.removeCursor(c)
		for _, r := range c.requests {
			s.failRequest(r, f)
		}
		return
	}
	c.info = info
	c.template = record.NewTemplate(info.Station, info.Name, info.Descs)
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
		access.ReportSinkReady(s.Manager(), r, c.template)
	}
	c.state = newPollState(info, kept[0], c.template)
	c.polled = true
	s.queue(c)
}

// queue submits the cursor's next poll. A full queue leaves the cursor idle
// until the next scheduled poll.
func (s *Source) queue(c *queryCursor) {
	j := &job{kind: jobPoll, poll: c.state}
	if err := s.sess.submit(j); err != nil {
		s.Logger().Debug("Poll deferred", "source", s.Name(), "error", err)
		return
	}
	c.job = j
	c.inFlight = true
}

// queueIdle submits a poll for every started cursor that is waiting
func (s *Source) queueIdle() {
	for _, c := range s.cursors {
		if c.polled && !c.inFlight && !c.satisfied {
			s.queue(c)
		}
	}
}

func (s *Source) armPoll() {
	if s.poll == nil || s.cat == nil {
		return
	}
	s.poll.Arm(s.pollInterval, s.refresh)
}

// TableRange implements access.Source
func (s *Source) TableRange(u string, done func(access.TableRange, access.Failure)) {
	loop := s.Loop()
	t, f := parseTarget(u)
	var info *tableInfo
	switch {
	case f != access.FailureUnknown:
	case s.cat == nil:
		f = access.FailureConnectionFailed
	default:
		info, f = s.lookup(t)
	}
	if f != access.FailureUnknown {
		loop.Post(func() { done(access.TableRange{}, f) })
		return
	}
	j := &job{kind: jobRange, table: info}
	if err := s.sess.submit(j); err != nil {
		loop.Post(func() { done(access.TableRange{}, access.FailureConnectionFailed) })
		return
	}
	s.probes[j] = done
}
