// Package lgrnettest provides an in-memory lgrnet.Server for tests. Tests
// drive it from their own goroutine; callbacks run synchronously on the
// caller of the fake's method.
package lgrnettest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/c360/lgraccess/access"
	"github.com/c360/lgraccess/record"
	"github.com/c360/lgraccess/source/lgrnet"
)

type stationEntry struct {
	station lgrnet.Station
	tables  map[string]lgrnet.TableDef
	ends    map[string]access.RecordPosition
	begins  map[string]access.RecordPosition
}

// Server is a scriptable lgrnet.Server
type Server struct {
	mu sync.Mutex

	// ConnectErr, when set, fails every Connect
	ConnectErr error
	// Clock is the logger time reported by CheckClock
	Clock time.Time

	connects  int
	connected bool
	logon     lgrnet.Logon
	onLost    func(error)

	stations map[string]*stationEntry
	feeds    []*Feed

	stationWatchers map[*watch]func(lgrnet.CatalogEvent)
	tableWatchers   map[*watch]tableWatcher

	variables map[string]string
	files     map[string][]byte
	terminals []*Terminal
}

type tableWatcher struct {
	station string
	fn      func(lgrnet.CatalogEvent)
}

// New creates an empty server
func New() *Server {
	return &Server{
		stations:        make(map[string]*stationEntry),
		stationWatchers: make(map[*watch]func(lgrnet.CatalogEvent)),
		tableWatchers:   make(map[*watch]tableWatcher),
		variables:       make(map[string]string),
		files:           make(map[string][]byte),
	}
}

// Factory returns a factory that always hands out s
func (s *Server) Factory() lgrnet.Factory {
	return func(lgrnet.Settings) (lgrnet.Server, error) { return s, nil }
}

// Connect implements lgrnet.Server
func (s *Server) Connect(_ context.Context, logon lgrnet.Logon, onLost func(error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	s.logon = logon
	if s.ConnectErr != nil {
		return s.ConnectErr
	}
	s.connected = true
	s.onLost = onLost
	return nil
}

// Close implements lgrnet.Server
func (s *Server) Close() error {
	s.mu.Lock()
	s.connected = false
	feeds := append([]*Feed(nil), s.feeds...)
	s.stationWatchers = make(map[*watch]func(lgrnet.CatalogEvent))
	s.tableWatchers = make(map[*watch]tableWatcher)
	s.mu.Unlock()
	for _, f := range feeds {
		_ = f.Close()
	}
	return nil
}

// Connects returns the number of Connect calls
func (s *Server) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

// Connected reports whether a client is logged on
func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Logon returns the credentials of the last Connect
func (s *Server) Logon() lgrnet.Logon {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logon
}

// Drop severs the link as if the network failed
func (s *Server) Drop(err error) {
	s.mu.Lock()
	lost := s.onLost
	s.connected = false
	s.onLost = nil
	s.mu.Unlock()
	if lost != nil {
		lost(err)
	}
}

// AddStation adds or replaces a station and notifies station watchers
func (s *Server) AddStation(st lgrnet.Station, tables ...lgrnet.TableDef) {
	s.mu.Lock()
	e := &stationEntry{
		station: st,
		tables:  make(map[string]lgrnet.TableDef),
		ends:    make(map[string]access.RecordPosition),
		begins:  make(map[string]access.RecordPosition),
	}
	for _, t := range tables {
		e.tables[t.Name] = t
	}
	s.stations[st.Name] = e
	fns := s.stationFns()
	s.mu.Unlock()
	for _, fn := range fns {
		fn(lgrnet.CatalogEvent{Kind: lgrnet.CatalogAdded, Station: st})
	}
}

// RemoveStation deletes a station. shutDown reports it as a server shutdown
// instead of a deletion.
func (s *Server) RemoveStation(name string, shutDown bool) {
	s.mu.Lock()
	e, ok := s.stations[name]
	delete(s.stations, name)
	fns := s.stationFns()
	s.mu.Unlock()
	if !ok {
		return
	}
	kind := lgrnet.CatalogDeleted
	if shutDown {
		kind = lgrnet.CatalogShutDown
	}
	for _, fn := range fns {
		fn(lgrnet.CatalogEvent{Kind: kind, Station: e.station})
	}
}

// SetTable adds or changes a table and notifies its station's table watchers
func (s *Server) SetTable(station string, def lgrnet.TableDef) {
	s.mu.Lock()
	e, ok := s.stations[station]
	if !ok {
		s.mu.Unlock()
		return
	}
	kind := lgrnet.CatalogAdded
	if _, exists := e.tables[def.Name]; exists {
		kind = lgrnet.CatalogChanged
	}
	e.tables[def.Name] = def
	fns := s.tableFns(station)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(lgrnet.CatalogEvent{Kind: kind, Table: def})
	}
}

// DeleteTable removes a table and notifies its station's table watchers
func (s *Server) DeleteTable(station, table string) {
	s.mu.Lock()
	e, ok := s.stations[station]
	if !ok {
		s.mu.Unlock()
		return
	}
	def, ok := e.tables[table]
	delete(e.tables, table)
	fns := s.tableFns(station)
	s.mu.Unlock()
	if !ok {
		return
	}
	for _, fn := range fns {
		fn(lgrnet.CatalogEvent{Kind: lgrnet.CatalogDeleted, Table: def})
	}
}

// SetTableRange sets the positions reported by TableEnd and TableRange
func (s *Server) SetTableRange(station, table string, begin, end access.RecordPosition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.stations[station]; ok {
		e.begins[table] = begin
		e.ends[table] = end
	}
}

func (s *Server) stationFns() []func(lgrnet.CatalogEvent) {
	fns := make([]func(lgrnet.CatalogEvent), 0, len(s.stationWatchers))
	for _, fn := range s.stationWatchers {
		fns = append(fns, fn)
	}
	return fns
}

func (s *Server) tableFns(station string) []func(lgrnet.CatalogEvent) {
	var fns []func(lgrnet.CatalogEvent)
	for _, tw := range s.tableWatchers {
		if tw.station == station {
			fns = append(fns, tw.fn)
		}
	}
	return fns
}

func (s *Server) lookup(station, table string) (*stationEntry, lgrnet.TableDef, error) {
	e, ok := s.stations[station]
	if !ok {
		return nil, lgrnet.TableDef{}, lgrnet.NewFailureError(access.FailureInvalidStationName, station)
	}
	if table == "" {
		return e, lgrnet.TableDef{}, nil
	}
	def, ok := e.tables[table]
	if !ok {
		return nil, lgrnet.TableDef{}, lgrnet.NewFailureError(access.FailureInvalidTableName, table)
	}
	return e, def, nil
}

func (s *Server) checkConnected() error {
	if !s.connected {
		return lgrnet.NewFailureError(access.FailureConnectionFailed, "not connected")
	}
	return nil
}

// restrict returns the descriptors named by columns, or all of them. A
// subscripted column selects its whole array.
func restrict(descs []*record.ValueDesc, columns []string) ([]*record.ValueDesc, error) {
	if len(columns) == 0 {
		return descs, nil
	}
	want := make(map[string]bool, len(columns))
	for _, c := range columns {
		if i := strings.IndexByte(c, '('); i >= 0 {
			c = c[:i]
		}
		want[c] = true
	}
	var out []*record.ValueDesc
	for _, d := range descs {
		if want[d.Name] {
			out = append(out, d)
			delete(want, d.Name)
		}
	}
	for c := range want {
		return nil, lgrnet.NewFailureError(access.FailureInvalidColumnName, c)
	}
	return out, nil
}

// OpenAdvise implements lgrnet.Server. Ready is delivered before it returns.
func (s *Server) OpenAdvise(_ context.Context, p lgrnet.AdviseParams, h lgrnet.AdviseHandler) (lgrnet.Feed, error) {
	s.mu.Lock()
	if err := s.checkConnected(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	_, def, err := s.lookup(p.Station, p.Table)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	descs, err := restrict(def.Descs, p.Columns)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	f := &Feed{
		srv:      s,
		params:   p,
		handler:  h,
		template: record.NewTemplate(p.Station, p.Table, descs),
		acked:    true,
	}
	s.feeds = append(s.feeds, f)
	s.mu.Unlock()

	h.OnAdviseReady(f.template)
	return f, nil
}

// Feeds returns every advise opened so far
func (s *Server) Feeds() []*Feed {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Feed(nil), s.feeds...)
}

// OpenFeeds returns the advises that were not closed
func (s *Server) OpenFeeds() []*Feed {
	var open []*Feed
	for _, f := range s.Feeds() {
		if !f.Closed() {
			open = append(open, f)
		}
	}
	return open
}

// TableEnd implements lgrnet.Server
func (s *Server) TableEnd(_ context.Context, station, table string) (access.RecordPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkConnected(); err != nil {
		return access.RecordPosition{}, err
	}
	e, _, err := s.lookup(station, table)
	if err != nil {
		return access.RecordPosition{}, err
	}
	return e.ends[table], nil
}

// TableRange implements lgrnet.Server
func (s *Server) TableRange(_ context.Context, station, table string) (access.TableRange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkConnected(); err != nil {
		return access.TableRange{}, err
	}
	e, _, err := s.lookup(station, table)
	if err != nil {
		return access.TableRange{}, err
	}
	return access.TableRange{Begin: e.begins[table], End: e.ends[table]}, nil
}

// WatchStations implements lgrnet.Server. The snapshot and the synced event
// are delivered before it returns.
func (s *Server) WatchStations(_ context.Context, fn func(lgrnet.CatalogEvent)) (lgrnet.Watch, error) {
	s.mu.Lock()
	if err := s.checkConnected(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	names := make([]string, 0, len(s.stations))
	for name := range s.stations {
		names = append(names, name)
	}
	sort.Strings(names)
	snapshot := make([]lgrnet.Station, 0, len(names))
	for _, name := range names {
		snapshot = append(snapshot, s.stations[name].station)
	}
	w := &watch{srv: s}
	s.stationWatchers[w] = fn
	s.mu.Unlock()

	for _, st := range snapshot {
		fn(lgrnet.CatalogEvent{Kind: lgrnet.CatalogAdded, Station: st})
	}
	fn(lgrnet.CatalogEvent{Kind: lgrnet.CatalogSynced})
	return w, nil
}

// WatchTables implements lgrnet.Server
func (s *Server) WatchTables(_ context.Context, station string, fn func(lgrnet.CatalogEvent)) (lgrnet.Watch, error) {
	s.mu.Lock()
	if err := s.checkConnected(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	e, _, err := s.lookup(station, "")
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	names := make([]string, 0, len(e.tables))
	for name := range e.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	snapshot := make([]lgrnet.TableDef, 0, len(names))
	for _, name := range names {
		snapshot = append(snapshot, e.tables[name])
	}
	w := &watch{srv: s}
	s.tableWatchers[w] = tableWatcher{station: station, fn: fn}
	s.mu.Unlock()

	for _, def := range snapshot {
		fn(lgrnet.CatalogEvent{Kind: lgrnet.CatalogAdded, Table: def})
	}
	fn(lgrnet.CatalogEvent{Kind: lgrnet.CatalogSynced})
	return w, nil
}

// SetVariable implements lgrnet.Server
func (s *Server) SetVariable(_ context.Context, station, table, column, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkConnected(); err != nil {
		return err
	}
	_, def, err := s.lookup(station, table)
	if err != nil {
		return err
	}
	if _, err := restrict(def.Descs, []string{column}); err != nil {
		return err
	}
	s.variables[station+"."+table+"."+column] = value
	return nil
}

// Variable returns a value written by SetVariable
func (s *Server) Variable(station, table, column string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variables[station+"."+table+"."+column]
	return v, ok
}

// CheckClock implements lgrnet.Server
func (s *Server) CheckClock(_ context.Context, station string, set bool) (access.ClockResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkConnected(); err != nil {
		return access.ClockResult{}, err
	}
	if _, _, err := s.lookup(station, ""); err != nil {
		return access.ClockResult{}, err
	}
	now := time.Now().UTC()
	res := access.ClockResult{LoggerTime: s.Clock, ServerTime: now, Adjusted: set}
	if set {
		s.Clock = now
	}
	return res, nil
}

// SendFile implements lgrnet.Server
func (s *Server) SendFile(_ context.Context, station, name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkConnected(); err != nil {
		return err
	}
	if _, _, err := s.lookup(station, ""); err != nil {
		return err
	}
	s.files[station+"/"+name] = append([]byte(nil), data...)
	return nil
}

// ReceiveFile implements lgrnet.Server
func (s *Server) ReceiveFile(_ context.Context, station, name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if _, _, err := s.lookup(station, ""); err != nil {
		return nil, err
	}
	data, ok := s.files[station+"/"+name]
	if !ok {
		return nil, lgrnet.NewFailureError(access.FailureUnsupported, "no file "+name)
	}
	return append([]byte(nil), data...), nil
}

// OpenTerminal implements lgrnet.Server with a terminal that echoes
func (s *Server) OpenTerminal(_ context.Context, station string, h access.TerminalHandler) (access.Terminal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if _, _, err := s.lookup(station, ""); err != nil {
		return nil, err
	}
	t := &Terminal{handler: h}
	s.terminals = append(s.terminals, t)
	return t, nil
}

// Feed is one advise opened on the fake
type Feed struct {
	srv      *Server
	params   lgrnet.AdviseParams
	handler  lgrnet.AdviseHandler
	template *record.Record

	mu      sync.Mutex
	acked   bool
	closed  bool
	pending [][]*record.Record
	acks    int
}

// Params returns the options the advise was opened with
func (f *Feed) Params() lgrnet.AdviseParams { return f.params }

// Template returns the record shape delivered on ready
func (f *Feed) Template() *record.Record { return f.template }

// Push delivers a block now, or queues it until the previous one is acked
func (f *Feed) Push(records ...*record.Record) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	if !f.acked {
		f.pending = append(f.pending, records)
		f.mu.Unlock()
		return
	}
	f.acked = false
	f.mu.Unlock()
	f.handler.OnAdviseRecords(records)
}

// Fail reports an advise failure with code
func (f *Feed) Fail(code access.Failure) {
	f.mu.Lock()
	closed := f.closed
	f.closed = true
	f.mu.Unlock()
	if !closed {
		f.handler.OnAdviseFailed(lgrnet.NewFailureError(code, "advise failed"))
	}
}

// Next implements lgrnet.Feed
func (f *Feed) Next() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return lgrnet.NewFailureError(access.FailureConnectionFailed, "feed closed")
	}
	f.acks++
	if len(f.pending) == 0 {
		f.acked = true
		f.mu.Unlock()
		return nil
	}
	next := f.pending[0]
	f.pending = f.pending[1:]
	f.mu.Unlock()
	go f.handler.OnAdviseRecords(next)
	return nil
}

// Close implements lgrnet.Feed
func (f *Feed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.pending = nil
	return nil
}

// Closed reports whether the client closed the advise
func (f *Feed) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Acks returns the number of Next calls
func (f *Feed) Acks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acks
}

// Terminal echoes everything sent to it
type Terminal struct {
	mu      sync.Mutex
	handler access.TerminalHandler
	closed  bool
}

// Send implements access.Terminal
func (t *Terminal) Send(data []byte) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return lgrnet.NewFailureError(access.FailureConnectionFailed, "terminal closed")
	}
	t.handler.OnTerminalData(append([]byte(nil), data...))
	return nil
}

// Close implements access.Terminal
func (t *Terminal) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()
	t.handler.OnTerminalClosed(access.FailureUnknown)
}

type watch struct {
	srv *Server
}

func (w *watch) Close() error {
	w.srv.mu.Lock()
	defer w.srv.mu.Unlock()
	delete(w.srv.stationWatchers, w)
	delete(w.srv.tableWatchers, w)
	return nil
}
