// Package lgrnet implements an access.Source over a LoggerNet server. Each
// group of compatible requests shares one data advise; stations and tables
// are discovered lazily through catalog watches.
package lgrnet

import (
	"context"
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
	// DefaultRequestTimeout bounds one server round trip
	DefaultRequestTimeout = 30 * time.Second

	tableCacheSize = 256
)

// session is one connection attempt and everything opened through it
type session struct {
	server Server
	ctx    context.Context
	cancel context.CancelFunc
}

// Source serves requests from a LoggerNet server
type Source struct {
	access.SourceBase

	settings Settings
	factory  Factory
	timeout  time.Duration

	sess    *session
	cursors []*adviseCursor

	// tables whose feeds no longer restrict columns
	unrestricted map[string]bool

	tables       cache.Cache[TableDef]
	root         *symbol.Node
	stationWatch Watch
	tableWatches map[string]Watch
	// stations stay watched across reconnects once expanded
	wantStations bool
}

// Option configures a Source
type Option func(*Source)

// WithSettings sets the initial connection settings
func WithSettings(s Settings) Option {
	return func(src *Source) { src.settings = s }
}

// WithRequestTimeout bounds each server round trip
func WithRequestTimeout(d time.Duration) Option {
	return func(src *Source) {
		if d > 0 {
			src.timeout = d
		}
	}
}

// New creates a source that builds its transport with factory
func New(name string, factory Factory, logger *slog.Logger, opts ...Option) *Source {
	s := &Source{
		SourceBase:   access.NewSourceBase(name, access.KindLgrNet, logger),
		settings:     DefaultSettings(),
		factory:      factory,
		timeout:      DefaultRequestTimeout,
		unrestricted: make(map[string]bool),
		tableWatches: make(map[string]Watch),
	}
	// a positive size never fails
	s.tables, _ = cache.NewLRU[TableDef](tableCacheSize)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Settings returns the connection settings
func (s *Source) Settings() Settings { return s.settings }

// server returns the connected transport, or nil
func (s *Source) server() Server {
	if s.sess == nil || !s.IsConnected() {
		return nil
	}
	return s.sess.server
}

// async runs call off the loop and posts done with its error. done is
// dropped when the session ended meanwhile.
func (s *Source) async(call func(ctx context.Context, srv Server) error, done func(error)) {
	sess := s.sess
	if sess == nil || !s.IsConnected() {
		s.Loop().Post(func() { done(NewFailureError(access.FailureConnectionFailed, "not connected")) })
		return
	}
	loop := s.Loop()
	go func() {
		ctx, cancel := context.WithTimeout(sess.ctx, s.timeout)
		err := call(ctx, sess.server)
		cancel()
		loop.Post(func() {
			if sess != s.sess {
				done(NewFailureError(access.FailureConnectionFailed, "session closed"))
				return
			}
			done(err)
		})
	}()
}

// Connect implements access.Source
func (s *Source) Connect() {
	if s.sess != nil || s.Manager() == nil {
		return
	}
	srv, err := s.factory(s.settings)
	if err != nil {
		s.SetConnectionState(s, access.Disconnected, access.DisconnectConnectionFailed, err)
		s.scheduleReconnect()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{server: srv, ctx: ctx, cancel: cancel}
	s.sess = sess
	s.SetConnectionState(s, access.Connecting, 0, nil)

	loop := s.Loop()
	logon := s.settings.Logon()
	onLost := func(err error) {
		loop.Post(func() {
			if sess == s.sess {
				s.connectionLost(err)
			}
		})
	}
	go func() {
		cctx, ccancel := context.WithTimeout(ctx, s.timeout)
		err := srv.Connect(cctx, logon, onLost)
		ccancel()
		loop.Post(func() {
			if sess != s.sess {
				_ = srv.Close()
				return
			}
			if err != nil {
				s.connectFailed(err)
				return
			}
			s.connected()
		})
	}()
}

func (s *Source) connected() {
	s.SetConnectionState(s, access.Connected, 0, nil)
	s.Logger().Info("Connected to LoggerNet", "address", s.settings.Address, "port", s.settings.Port)
	if s.root != nil {
		s.root.SetConnected(true)
		if s.wantStations {
			s.watchStations()
		}
	}
	s.ActivateRequests()
}

func (s *Source) connectFailed(err error) {
	reason := access.DisconnectConnectionFailed
	if FailureOf(err) == access.FailureInvalidLogon {
		reason = access.DisconnectInvalidLogon
	}
	s.closeSession()
	s.SetConnectionState(s, access.Disconnected, reason, err)
	s.Log(s, "connect failed: "+err.Error())
	s.scheduleReconnect()
}

func (s *Source) scheduleReconnect() {
	if s.IsStarted() {
		s.ScheduleReconnect(s.Connect)
	}
}

// connectionLost tears everything down and arms the reconnect timer
func (s *Source) connectionLost(err error) {
	if s.sess == nil {
		return
	}
	if err == nil {
		err = errors.WrapTransient(errors.ErrConnectionLost, "lgrnet.Source", "connectionLost", "server link")
	}
	s.Log(s, "connection lost: "+err.Error())
	s.teardown(access.FailureConnectionFailed)
	s.SetConnectionState(s, access.Disconnected, access.DisconnectConnectionFailed, err)
	if s.IsStarted() {
		s.ScheduleRetry(s)
	}
	s.scheduleReconnect()
}

// teardown closes every cursor and watch and fails the cursors' members
func (s *Source) teardown(f access.Failure) {
	cursors := s.cursors
	s.cursors = nil
	for _, c := range cursors {
		c.close()
		for _, r := range c.requests {
			access.FailRequest(s.Manager(), s, r, f)
		}
	}
	s.SetCursorCount(0)
	s.closeWatches()
	if s.root != nil {
		s.root.RemoveChildren(symbol.ReasonConnectionLost)
		s.root.SetConnected(false)
	}
	s.closeSession()
}

func (s *Source) closeSession() {
	if s.sess == nil {
		return
	}
	sess := s.sess
	s.sess = nil
	sess.cancel()
	go func() { _ = sess.server.Close() }()
}

// Disconnect implements access.Source
func (s *Source) Disconnect() {
	s.disconnect(access.DisconnectByApplication)
}

func (s *Source) disconnect(reason access.DisconnectReason) {
	if s.sess == nil && s.ConnectionState() == access.Disconnected {
		return
	}
	s.teardown(access.FailureConnectionFailed)
	s.SetConnectionState(s, access.Disconnected, reason, nil)
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

// parseTarget splits source:station.table[.column]
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

func (s *Source) failRequest(r *access.Request, f access.Failure) {
	access.FailRequest(s.Manager(), s, r, f)
	s.ScheduleRetry(s)
}

// AddRequest implements access.Source
func (s *Source) AddRequest(r *access.Request, moreToFollow bool) {
	t, f := s.targetOf(r)
	if f != access.FailureUnknown {
		s.failRequest(r, f)
		return
	}
	r.SetState(s, access.StatePending)

	var cursor *adviseCursor
	for _, c := range s.cursors {
		if c.admit(r, t) {
			cursor = c
			break
		}
	}
	if cursor == nil {
		cursor = newAdviseCursor(s, t)
		cursor.admit(r, t)
		s.cursors = append(s.cursors, cursor)
		s.SetCursorCount(len(s.cursors))
	}
	if !moreToFollow && s.IsConnected() {
		cursor.start()
	}
}

// RemoveRequest implements access.Source
func (s *Source) RemoveRequest(r *access.Request) {
	for _, c := range s.cursors {
		if !c.remove(r) {
			continue
		}
		if len(c.requests) == 0 {
			s.dropCursor(c)
		}
		return
	}
}

// RemoveAllRequests implements access.Source
func (s *Source) RemoveAllRequests() {
	for _, c := range s.cursors {
		c.close()
	}
	s.cursors = nil
	s.SetCursorCount(0)
}

// ActivateRequests implements access.Source by starting every cursor whose
// feed was not requested yet
func (s *Source) ActivateRequests() {
	if !s.IsConnected() {
		return
	}
	for _, c := range append([]*adviseCursor(nil), s.cursors...) {
		if c.state == cursorEmpty {
			c.start()
		}
	}
}

// dropCursor closes c and forgets it
func (s *Source) dropCursor(c *adviseCursor) {
	c.close()
	for i, existing := range s.cursors {
		if existing == c {
			s.cursors = append(s.cursors[:i], s.cursors[i+1:]...)
			break
		}
	}
	s.SetCursorCount(len(s.cursors))
}

// cursorFailed schedules recovery after a feed failure
func (s *Source) cursorFailed(c *adviseCursor, f access.Failure, err error) {
	if f.DisablesColumnRestriction() {
		s.unrestricted[c.key()] = true
	}
	s.Logger().Debug("Advise failed", "table", c.key(), "failure", f.String(), "error", err)
	s.ScheduleRetry(s)
	if f.IsConnectionLevel() {
		s.connectionLost(err)
	}
}

func (s *Source) lookupTableEnd(c *adviseCursor, then func()) {
	var end access.RecordPosition
	s.async(func(ctx context.Context, srv Server) error {
		var err error
		end, err = srv.TableEnd(ctx, c.station, c.table)
		return err
	}, func(err error) {
		if err != nil {
			c.onFailed(err)
			return
		}
		c.endMark, c.hasEnd = end, true
		then()
	})
}

func (s *Source) openAdvise(c *adviseCursor, p AdviseParams) {
	h := &adviseHandler{loop: s.Loop(), cursor: c}
	var feed Feed
	s.async(func(ctx context.Context, srv Server) error {
		var err error
		feed, err = srv.OpenAdvise(ctx, p, h)
		return err
	}, func(err error) {
		if err != nil {
			c.onFailed(err)
			return
		}
		c.feedOpened(feed)
	})
}

// adviseHandler moves feed callbacks onto the loop
type adviseHandler struct {
	loop   *access.Loop
	cursor *adviseCursor
}

func (h *adviseHandler) OnAdviseReady(tmpl *record.Record) {
	h.loop.Post(func() { h.cursor.onReady(tmpl) })
}

func (h *adviseHandler) OnAdviseRecords(records []*record.Record) {
	h.loop.Post(func() { h.cursor.onRecords(records) })
}

func (h *adviseHandler) OnAdviseFailed(err error) {
	h.loop.Post(func() { h.cursor.onFailed(err) })
}

// ReadProperties implements access.Source. Changing the endpoint or the
// credentials of a connected source reconnects it.
func (s *Source) ReadProperties(p *access.Properties) error {
	next, err := ReadSettings(p, s.settings)
	if err != nil {
		return err
	}
	reconnect := !next.sameEndpoint(s.settings) && s.sess != nil
	s.settings = next
	if reconnect {
		s.disconnect(access.DisconnectPropertiesChanged)
		if s.IsStarted() {
			s.ScheduleRetry(s)
			s.Connect()
		}
	}
	return nil
}

// WriteProperties implements access.Source
func (s *Source) WriteProperties(p *access.Properties) {
	if err := WriteSettings(p, s.settings); err != nil {
		s.Logger().Warn("Write properties failed", "error", err)
	}
}
