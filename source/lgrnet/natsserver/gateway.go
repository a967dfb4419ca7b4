package natsserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/lgraccess/access"
	"github.com/c360/lgraccess/errors"
	"github.com/c360/lgraccess/natsclient"
	"github.com/c360/lgraccess/record"
	"github.com/c360/lgraccess/source/lgrnet"
)

// DefaultCallTimeout bounds one backend call made on behalf of a client
const DefaultCallTimeout = 30 * time.Second

// Gateway serves a backend lgrnet.Server on the subjects Server calls
type Gateway struct {
	client  *natsclient.Client
	backend lgrnet.Server
	prefix  string
	logger  *slog.Logger
	timeout time.Duration

	mu        sync.Mutex
	subs      []*natsclient.Subscription
	feeds     map[string]lgrnet.Feed
	watches   map[string]lgrnet.Watch
	terminals map[string]access.Terminal
}

// NewGateway creates a gateway publishing through client
func NewGateway(client *natsclient.Client, backend lgrnet.Server, prefix string, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if prefix == "" {
		prefix = lgrnet.DefaultSubjectPrefix
	}
	return &Gateway{
		client:    client,
		backend:   backend,
		prefix:    prefix,
		logger:    logger.With("component", "lgrnet-gateway"),
		timeout:   DefaultCallTimeout,
		feeds:     make(map[string]lgrnet.Feed),
		watches:   make(map[string]lgrnet.Watch),
		terminals: make(map[string]access.Terminal),
	}
}

// Start subscribes every operation subject
func (g *Gateway) Start(ctx context.Context) error {
	handlers := map[string]func(context.Context, []byte) []byte{
		opLogon:         serve(g, g.logon),
		opAdviseOpen:    serve(g, g.openAdvise),
		opAdviseNext:    serve(g, g.nextAdvise),
		opAdviseClose:   serve(g, g.closeAdvise),
		opTableEnd:      serve(g, g.tableEnd),
		opTableRange:    serve(g, g.tableRange),
		opWatchStations: serve(g, g.watchStations),
		opWatchTables:   serve(g, g.watchTables),
		opWatchClose:    serve(g, g.closeWatch),
		opSetVariable:   serve(g, g.setVariable),
		opCheckClock:    serve(g, g.checkClock),
		opSendFile:      serve(g, g.sendFile),
		opReceiveFile:   serve(g, g.receiveFile),
		opTerminalOpen:  serve(g, g.openTerminal),
		opTerminalSend:  serve(g, g.sendTerminal),
		opTerminalClose: serve(g, g.closeTerminal),
	}
	for op, h := range handlers {
		sub, err := g.client.Serve(ctx, rpcSubject(g.prefix, op), h)
		if err != nil {
			g.Stop()
			return err
		}
		g.mu.Lock()
		g.subs = append(g.subs, sub)
		g.mu.Unlock()
	}
	if err := g.client.Flush(ctx); err != nil {
		g.Stop()
		return err
	}
	g.logger.Info("Gateway started", "prefix", g.prefix)
	return nil
}

// Stop unsubscribes and closes every open feed, watch and terminal
func (g *Gateway) Stop() {
	g.mu.Lock()
	subs := g.subs
	feeds, watches, terminals := g.feeds, g.watches, g.terminals
	g.subs = nil
	g.feeds = make(map[string]lgrnet.Feed)
	g.watches = make(map[string]lgrnet.Watch)
	g.terminals = make(map[string]access.Terminal)
	g.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
	for _, f := range feeds {
		_ = f.Close()
	}
	for _, w := range watches {
		_ = w.Close()
	}
	for _, t := range terminals {
		t.Close()
	}
}

// serve decodes Req, runs fn with a bounded context and encodes the reply
func serve[Req any](g *Gateway, fn func(ctx context.Context, req Req) (any, error)) func(context.Context, []byte) []byte {
	return func(ctx context.Context, data []byte) []byte {
		var req Req
		var result any
		err := json.Unmarshal(data, &req)
		if err != nil {
			err = lgrnet.NewFailureError(access.FailureUnsupported, "malformed request")
		} else {
			cctx, cancel := context.WithTimeout(ctx, g.timeout)
			result, err = fn(cctx, req)
			cancel()
		}
		rep := reply{Error: toWireError(err)}
		if err == nil && result != nil {
			raw, merr := json.Marshal(result)
			if merr != nil {
				rep.Error = toWireError(errors.WrapInvalid(merr, "Gateway", "serve", "encode result"))
			} else {
				rep.Result = raw
			}
		}
		out, _ := json.Marshal(rep)
		return out
	}
}

func (g *Gateway) publish(subject string, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		g.logger.Warn("Encode failed", "subject", subject, "error", err)
		return
	}
	if err := g.client.Publish(context.Background(), subject, data); err != nil {
		g.logger.Debug("Publish failed", "subject", subject, "error", err)
	}
}

func (g *Gateway) logon(ctx context.Context, req logonReq) (any, error) {
	logon := lgrnet.Logon{
		Name:         req.Name,
		Password:     req.Password,
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
	}
	return nil, g.backend.Connect(ctx, logon, func(err error) {
		g.logger.Warn("Backend link lost", "error", err)
		g.publish(lostSubject(g.prefix), toWireError(err))
	})
}

// gatewayFeed relays one backend advise to a client inbox
type gatewayFeed struct {
	g     *Gateway
	inbox string
}

func (f *gatewayFeed) OnAdviseReady(tmpl *record.Record) {
	f.g.publish(f.inbox, feedMsg{Kind: kindReady, Descs: tmpl.Descs()})
}

func (f *gatewayFeed) OnAdviseRecords(recs []*record.Record) {
	f.g.publish(f.inbox, feedMsg{Kind: kindRecords, Records: toWireRecords(recs)})
}

func (f *gatewayFeed) OnAdviseFailed(err error) {
	f.g.publish(f.inbox, feedMsg{Kind: kindFailed, Error: toWireError(err)})
}

func (g *Gateway) openAdvise(ctx context.Context, req adviseReq) (any, error) {
	p, err := req.params()
	if err != nil {
		return nil, err
	}
	feed, err := g.backend.OpenAdvise(ctx, p, &gatewayFeed{g: g, inbox: req.Inbox})
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	g.feeds[req.ID] = feed
	g.mu.Unlock()
	return nil, nil
}

func (g *Gateway) nextAdvise(_ context.Context, req streamReq) (any, error) {
	g.mu.Lock()
	feed := g.feeds[req.ID]
	g.mu.Unlock()
	if feed == nil {
		return nil, nil
	}
	return nil, feed.Next()
}

func (g *Gateway) closeAdvise(_ context.Context, req streamReq) (any, error) {
	g.mu.Lock()
	feed := g.feeds[req.ID]
	delete(g.feeds, req.ID)
	g.mu.Unlock()
	if feed == nil {
		return nil, nil
	}
	return nil, feed.Close()
}

func (g *Gateway) tableEnd(ctx context.Context, req tableReq) (any, error) {
	pos, err := g.backend.TableEnd(ctx, req.Station, req.Table)
	if err != nil {
		return nil, err
	}
	return toWirePosition(pos), nil
}

func (g *Gateway) tableRange(ctx context.Context, req tableReq) (any, error) {
	rng, err := g.backend.TableRange(ctx, req.Station, req.Table)
	if err != nil {
		return nil, err
	}
	return wireRange{Begin: toWirePosition(rng.Begin), End: toWirePosition(rng.End)}, nil
}

func (g *Gateway) relayCatalog(inbox string) func(lgrnet.CatalogEvent) {
	return func(ev lgrnet.CatalogEvent) {
		g.publish(inbox, toCatalogMsg(ev))
	}
}

func (g *Gateway) watchStations(ctx context.Context, req streamReq) (any, error) {
	w, err := g.backend.WatchStations(ctx, g.relayCatalog(req.Inbox))
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	g.watches[req.ID] = w
	g.mu.Unlock()
	return nil, nil
}

func (g *Gateway) watchTables(ctx context.Context, req streamReq) (any, error) {
	w, err := g.backend.WatchTables(ctx, req.Station, g.relayCatalog(req.Inbox))
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	g.watches[req.ID] = w
	g.mu.Unlock()
	return nil, nil
}

func (g *Gateway) closeWatch(_ context.Context, req streamReq) (any, error) {
	g.mu.Lock()
	w := g.watches[req.ID]
	delete(g.watches, req.ID)
	g.mu.Unlock()
	if w == nil {
		return nil, nil
	}
	return nil, w.Close()
}

func (g *Gateway) setVariable(ctx context.Context, req tableReq) (any, error) {
	return nil, g.backend.SetVariable(ctx, req.Station, req.Table, req.Column, req.Value)
}

func (g *Gateway) checkClock(ctx context.Context, req clockReq) (any, error) {
	res, err := g.backend.CheckClock(ctx, req.Station, req.Set)
	if err != nil {
		return nil, err
	}
	return wireClock{LoggerTime: res.LoggerTime, ServerTime: res.ServerTime, Adjusted: res.Adjusted}, nil
}

func (g *Gateway) sendFile(ctx context.Context, req fileReq) (any, error) {
	return nil, g.backend.SendFile(ctx, req.Station, req.Name, req.Data)
}

func (g *Gateway) receiveFile(ctx context.Context, req fileReq) (any, error) {
	data, err := g.backend.ReceiveFile(ctx, req.Station, req.Name)
	if err != nil {
		return nil, err
	}
	return fileReq{Station: req.Station, Name: req.Name, Data: data}, nil
}

// gatewayTerminal relays terminal traffic to a client inbox
type gatewayTerminal struct {
	g     *Gateway
	id    string
	inbox string
}

func (t *gatewayTerminal) OnTerminalData(data []byte) {
	t.g.publish(t.inbox, terminalMsg{Kind: kindData, Data: data})
}

func (t *gatewayTerminal) OnTerminalClosed(f access.Failure) {
	t.g.mu.Lock()
	delete(t.g.terminals, t.id)
	t.g.mu.Unlock()
	t.g.publish(t.inbox, terminalMsg{Kind: kindClosed, Failure: f.String()})
}

func (g *Gateway) openTerminal(ctx context.Context, req streamReq) (any, error) {
	term, err := g.backend.OpenTerminal(ctx, req.Station, &gatewayTerminal{g: g, id: req.ID, inbox: req.Inbox})
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	g.terminals[req.ID] = term
	g.mu.Unlock()
	return nil, nil
}

func (g *Gateway) sendTerminal(_ context.Context, req terminalSendReq) (any, error) {
	g.mu.Lock()
	term := g.terminals[req.ID]
	g.mu.Unlock()
	if term == nil {
		return nil, lgrnet.NewFailureError(access.FailureConnectionFailed, "terminal closed")
	}
	return nil, term.Send(req.Data)
}

func (g *Gateway) closeTerminal(_ context.Context, req streamReq) (any, error) {
	g.mu.Lock()
	term := g.terminals[req.ID]
	g.mu.Unlock()
	if term != nil {
		term.Close()
	}
	return nil, nil
}
