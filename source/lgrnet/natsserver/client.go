// Package natsserver carries lgrnet.Server over NATS. Server is the client
// half a lgrnet.Source connects through; Gateway answers the same subjects on
// behalf of a backend Server.
//
// Calls are JSON request/reply on <prefix>.rpc.<op>. Feeds, watches and
// terminals stream on a private inbox the client subscribes before asking the
// gateway to open them; acknowledgements and closes are plain publishes.
package natsserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/lgraccess/access"
	"github.com/c360/lgraccess/errors"
	"github.com/c360/lgraccess/natsclient"
	"github.com/c360/lgraccess/record"
	"github.com/c360/lgraccess/source/lgrnet"
)

const closeTimeout = 5 * time.Second

// URL returns the NATS address for settings
func URL(s lgrnet.Settings) string {
	return fmt.Sprintf("nats://%s:%d", s.Address, s.Port)
}

// Server implements lgrnet.Server as a NATS client of a Gateway
type Server struct {
	settings lgrnet.Settings
	prefix   string
	logger   *slog.Logger
	opts     []natsclient.ClientOption

	mu      sync.Mutex
	client  *natsclient.Client
	lostSub *natsclient.Subscription
}

// New creates an unconnected server for settings. opts are applied after the
// defaults when the NATS client is built.
func New(settings lgrnet.Settings, logger *slog.Logger, opts ...natsclient.ClientOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	prefix := settings.SubjectPrefix
	if prefix == "" {
		prefix = lgrnet.DefaultSubjectPrefix
	}
	return &Server{
		settings: settings,
		prefix:   prefix,
		logger:   logger.With("component", "natsserver"),
		opts:     opts,
	}
}

// Factory builds a fresh Server for every connect
func Factory(logger *slog.Logger, opts ...natsclient.ClientOption) lgrnet.Factory {
	return func(s lgrnet.Settings) (lgrnet.Server, error) {
		return New(s, logger, opts...), nil
	}
}

func (s *Server) conn() *natsclient.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// Connect implements lgrnet.Server. The link is not re-established by NATS;
// onLost reports the drop and the source reconnects.
func (s *Server) Connect(ctx context.Context, logon lgrnet.Logon, onLost func(error)) error {
	lost := func(err error) {
		if onLost != nil {
			onLost(errors.WrapTransient(err, "natsserver.Server", "Connect", "link lost"))
		}
	}
	opts := append([]natsclient.ClientOption{
		natsclient.WithName("lgraccess"),
		natsclient.WithSlog(s.logger),
		natsclient.WithMaxReconnects(0),
		natsclient.WithDisconnectCallback(lost),
	}, s.opts...)
	c, err := natsclient.NewClient(URL(s.settings), opts...)
	if err != nil {
		return err
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.client = c
	s.mu.Unlock()

	sub, err := c.Subscribe(context.Background(), lostSubject(s.prefix), func(_ context.Context, data []byte) {
		var msg wireError
		if json.Unmarshal(data, &msg) != nil {
			msg = wireError{Failure: access.FailureConnectionFailed.String()}
		}
		if onLost != nil {
			onLost(msg.err())
		}
	})
	if err != nil {
		_ = s.Close()
		return err
	}
	s.mu.Lock()
	s.lostSub = sub
	s.mu.Unlock()

	req := logonReq{
		Name:         logon.Name,
		Password:     logon.Password,
		AccessToken:  logon.AccessToken,
		RefreshToken: logon.RefreshToken,
	}
	if err := s.call(ctx, opLogon, req, nil); err != nil {
		_ = s.Close()
		return err
	}
	s.logger.Debug("Logged on", "url", URL(s.settings), "prefix", s.prefix)
	return nil
}

// Close implements lgrnet.Server
func (s *Server) Close() error {
	s.mu.Lock()
	c, sub := s.client, s.lostSub
	s.client, s.lostSub = nil, nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	_ = sub.Unsubscribe()
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	return c.Close(ctx)
}

// call sends one request and decodes the result into out
func (s *Server) call(ctx context.Context, op string, req, out any) error {
	c := s.conn()
	if c == nil {
		return lgrnet.NewFailureError(access.FailureConnectionFailed, "not connected")
	}
	data, err := json.Marshal(req)
	if err != nil {
		return errors.WrapInvalid(err, "natsserver.Server", "call", "encode "+op)
	}
	raw, err := c.Request(ctx, rpcSubject(s.prefix, op), data)
	if err != nil {
		return err
	}
	var rep reply
	if err := json.Unmarshal(raw, &rep); err != nil {
		return errors.WrapInvalid(err, "natsserver.Server", "call", "decode "+op)
	}
	if rep.Error != nil {
		return rep.Error.err()
	}
	if out != nil && len(rep.Result) > 0 {
		if err := json.Unmarshal(rep.Result, out); err != nil {
			return errors.WrapInvalid(err, "natsserver.Server", "call", "decode "+op+" result")
		}
	}
	return nil
}

// notify publishes a request that expects no reply
func (s *Server) notify(op string, req any) error {
	c := s.conn()
	if c == nil {
		return lgrnet.NewFailureError(access.FailureConnectionFailed, "not connected")
	}
	data, err := json.Marshal(req)
	if err != nil {
		return errors.WrapInvalid(err, "natsserver.Server", "notify", "encode "+op)
	}
	return c.Publish(context.Background(), rpcSubject(s.prefix, op), data)
}

// stream subscribes a fresh inbox and asks the gateway to feed it
func (s *Server) stream(ctx context.Context, op string, req func(id, inbox string) any, handler func([]byte)) (string, *natsclient.Subscription, error) {
	c := s.conn()
	if c == nil {
		return "", nil, lgrnet.NewFailureError(access.FailureConnectionFailed, "not connected")
	}
	id := uuid.NewString()
	inbox := c.NewInbox()
	sub, err := c.Subscribe(context.Background(), inbox, func(_ context.Context, data []byte) { handler(data) })
	if err != nil {
		return "", nil, err
	}
	if err := s.call(ctx, op, req(id, inbox), nil); err != nil {
		_ = sub.Unsubscribe()
		return "", nil, err
	}
	return id, sub, nil
}

// OpenAdvise implements lgrnet.Server
func (s *Server) OpenAdvise(ctx context.Context, p lgrnet.AdviseParams, h lgrnet.AdviseHandler) (lgrnet.Feed, error) {
	f := &feed{srv: s, station: p.Station, table: p.Table, handler: h}
	id, sub, err := s.stream(ctx, opAdviseOpen, func(id, inbox string) any {
		return toAdviseReq(id, inbox, p)
	}, f.onMessage)
	if err != nil {
		return nil, err
	}
	f.id, f.sub = id, sub
	return f, nil
}

// TableEnd implements lgrnet.Server
func (s *Server) TableEnd(ctx context.Context, station, table string) (access.RecordPosition, error) {
	var pos wirePosition
	if err := s.call(ctx, opTableEnd, tableReq{Station: station, Table: table}, &pos); err != nil {
		return access.RecordPosition{}, err
	}
	return pos.position(), nil
}

// TableRange implements lgrnet.Server
func (s *Server) TableRange(ctx context.Context, station, table string) (access.TableRange, error) {
	var rng wireRange
	if err := s.call(ctx, opTableRange, tableReq{Station: station, Table: table}, &rng); err != nil {
		return access.TableRange{}, err
	}
	return access.TableRange{Begin: rng.Begin.position(), End: rng.End.position()}, nil
}

// WatchStations implements lgrnet.Server
func (s *Server) WatchStations(ctx context.Context, fn func(lgrnet.CatalogEvent)) (lgrnet.Watch, error) {
	return s.watch(ctx, opWatchStations, "", fn)
}

// WatchTables implements lgrnet.Server
func (s *Server) WatchTables(ctx context.Context, station string, fn func(lgrnet.CatalogEvent)) (lgrnet.Watch, error) {
	return s.watch(ctx, opWatchTables, station, fn)
}

func (s *Server) watch(ctx context.Context, op, station string, fn func(lgrnet.CatalogEvent)) (lgrnet.Watch, error) {
	id, sub, err := s.stream(ctx, op, func(id, inbox string) any {
		return streamReq{ID: id, Inbox: inbox, Station: station}
	}, func(data []byte) {
		var msg catalogMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("Bad catalog message", "error", err)
			return
		}
		if ev, ok := msg.event(); ok {
			fn(ev)
		}
	})
	if err != nil {
		return nil, err
	}
	return &remoteWatch{srv: s, id: id, sub: sub}, nil
}

// SetVariable implements lgrnet.Server
func (s *Server) SetVariable(ctx context.Context, station, table, column, value string) error {
	return s.call(ctx, opSetVariable, tableReq{Station: station, Table: table, Column: column, Value: value}, nil)
}

// CheckClock implements lgrnet.Server
func (s *Server) CheckClock(ctx context.Context, station string, set bool) (access.ClockResult, error) {
	var res wireClock
	if err := s.call(ctx, opCheckClock, clockReq{Station: station, Set: set}, &res); err != nil {
		return access.ClockResult{}, err
	}
	return access.ClockResult{LoggerTime: res.LoggerTime, ServerTime: res.ServerTime, Adjusted: res.Adjusted}, nil
}

// SendFile implements lgrnet.Server
func (s *Server) SendFile(ctx context.Context, station, name string, data []byte) error {
	return s.call(ctx, opSendFile, fileReq{Station: station, Name: name, Data: data}, nil)
}

// ReceiveFile implements lgrnet.Server
func (s *Server) ReceiveFile(ctx context.Context, station, name string) ([]byte, error) {
	var res fileReq
	if err := s.call(ctx, opReceiveFile, fileReq{Station: station, Name: name}, &res); err != nil {
		return nil, err
	}
	return res.Data, nil
}

// OpenTerminal implements lgrnet.Server
func (s *Server) OpenTerminal(ctx context.Context, station string, h access.TerminalHandler) (access.Terminal, error) {
	t := &terminal{srv: s}
	id, sub, err := s.stream(ctx, opTerminalOpen, func(id, inbox string) any {
		return streamReq{ID: id, Inbox: inbox, Station: station}
	}, func(data []byte) {
		var msg terminalMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("Bad terminal message", "error", err)
			return
		}
		switch msg.Kind {
		case kindData:
			h.OnTerminalData(msg.Data)
		case kindClosed:
			t.release()
			h.OnTerminalClosed(access.ParseFailure(msg.Failure))
		}
	})
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.id, t.sub = id, sub
	t.mu.Unlock()
	return t, nil
}

// feed is the client side of one advise
type feed struct {
	srv     *Server
	id      string
	sub     *natsclient.Subscription
	station string
	table   string
	handler lgrnet.AdviseHandler

	mu       sync.Mutex
	template *record.Record
}

func (f *feed) onMessage(data []byte) {
	var msg feedMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		f.handler.OnAdviseFailed(errors.WrapInvalid(err, "natsserver.feed", "onMessage", "decode"))
		return
	}
	switch msg.Kind {
	case kindReady:
		tmpl := record.NewTemplate(f.station, f.table, msg.Descs)
		f.mu.Lock()
		f.template = tmpl
		f.mu.Unlock()
		f.handler.OnAdviseReady(tmpl)
	case kindRecords:
		f.mu.Lock()
		tmpl := f.template
		f.mu.Unlock()
		if tmpl == nil {
			f.handler.OnAdviseFailed(errors.WrapInvalid(errors.ErrInvalidState, "natsserver.feed", "onMessage", "records before ready"))
			return
		}
		recs, err := fillRecords(tmpl, msg.Records)
		if err != nil {
			f.handler.OnAdviseFailed(err)
			return
		}
		f.handler.OnAdviseRecords(recs)
	case kindFailed:
		err := msg.Error.err()
		if err == nil {
			err = lgrnet.NewFailureError(access.FailureConnectionFailed, "advise failed")
		}
		f.handler.OnAdviseFailed(err)
	}
}

// Next implements lgrnet.Feed
func (f *feed) Next() error {
	return f.srv.notify(opAdviseNext, streamReq{ID: f.id})
}

// Close implements lgrnet.Feed
func (f *feed) Close() error {
	_ = f.sub.Unsubscribe()
	return f.srv.notify(opAdviseClose, streamReq{ID: f.id})
}

type remoteWatch struct {
	srv *Server
	id  string
	sub *natsclient.Subscription
}

func (w *remoteWatch) Close() error {
	_ = w.sub.Unsubscribe()
	return w.srv.notify(opWatchClose, streamReq{ID: w.id})
}

// terminal keeps its inbox until the gateway reports the session closed
type terminal struct {
	srv *Server

	mu  sync.Mutex
	id  string
	sub *natsclient.Subscription
}

func (t *terminal) release() {
	t.mu.Lock()
	sub := t.sub
	t.sub = nil
	t.mu.Unlock()
	_ = sub.Unsubscribe()
}

func (t *terminal) Send(data []byte) error {
	t.mu.Lock()
	id := t.id
	t.mu.Unlock()
	return t.srv.notify(opTerminalSend, terminalSendReq{ID: id, Data: data})
}

func (t *terminal) Close() {
	t.mu.Lock()
	id := t.id
	t.mu.Unlock()
	if err := t.srv.notify(opTerminalClose, streamReq{ID: id}); err != nil {
		t.srv.logger.Debug("Terminal close not delivered", "error", err)
		t.release()
	}
}
