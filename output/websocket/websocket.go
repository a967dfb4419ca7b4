package websocket

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/lgraccess/access"
	"github.com/c360/lgraccess/errors"
	"github.com/c360/lgraccess/health"
	"github.com/c360/lgraccess/metric"
	"github.com/c360/lgraccess/pkg/buffer"
	"github.com/c360/lgraccess/record"
)

// Message types sent to clients
const (
	MessageReady   = "ready"
	MessageRecord  = "record"
	MessageFailure = "failure"
	MessageState   = "state"
)

// Query parameters read from the connection URL. Start option parameters
// use the access.Param* names.
const (
	QueryURI       = "uri"
	QueryStart     = "start"
	QueryOrder     = "order"
	QueryCacheSize = "cache-size"
)

// Config holds configuration for the websocket server
type Config struct {
	// Addr is the listen address, ":0" picks a free port
	Addr string `json:"addr"          yaml:"addr"`
	// Path is the websocket endpoint path
	Path string `json:"path"          yaml:"path"`
	// QueueSize bounds the outbound messages held per client
	QueueSize int `json:"queue_size"    yaml:"queue_size"`
	// WriteTimeout bounds a single frame write
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	// PingInterval is the keepalive period; a client that stays silent for
	// two intervals is dropped
	PingInterval time.Duration `json:"ping_interval" yaml:"ping_interval"`
}

// DefaultConfig returns sensible defaults for the websocket server
func DefaultConfig() Config {
	return Config{
		Addr:         ":8081",
		Path:         "/ws",
		QueueSize:    256,
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "addr is required")
	}
	if c.Path == "" || c.Path[0] != '/' {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "path must start with /")
	}
	if c.QueueSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "queue_size cannot be negative")
	}
	return nil
}

// Message is the JSON frame sent to clients
type Message struct {
	Type    string           `json:"type"`
	URI     string           `json:"uri"`
	Values  []string         `json:"values,omitempty"`
	Record  *record.Envelope `json:"record,omitempty"`
	Failure string           `json:"failure,omitempty"`
	State   string           `json:"state,omitempty"`
}

// Server accepts websocket clients and gives each one its own request. The
// client picks the request with query parameters:
//
//	ws://host:8081/ws?uri=lgr:stn.Hourly&start=at-record&record=100&order=collected
type Server struct {
	name    string
	config  Config
	manager *access.Manager
	logger  *slog.Logger
	metrics *Metrics

	// HTTP server
	server    *http.Server
	listener  net.Listener
	upgrader  websocket.Upgrader
	tlsConfig *tls.Config

	clients   map[*client]struct{}
	clientsMu sync.RWMutex

	// Lifecycle management
	shutdown    chan struct{}
	running     bool
	startTime   time.Time
	mu          sync.RWMutex
	lifecycleMu sync.Mutex
	wg          sync.WaitGroup

	// Counters
	messagesSent int64
	bytesSent    int64
	dropped      int64
	errors       int64
	lastActivity atomic.Value
}

// Metrics holds Prometheus metrics for the websocket server
type Metrics struct {
	messagesSent       *prometheus.CounterVec
	bytesSent          prometheus.Counter
	messagesDropped    prometheus.Counter
	clientsConnected   prometheus.Gauge
	connectionTotal    prometheus.Counter
	disconnectionTotal *prometheus.CounterVec
	errorsTotal        *prometheus.CounterVec
}

// newMetrics creates and registers server metrics, nil without a registry
func newMetrics(registry *metric.MetricsRegistry) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &Metrics{
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lgraccess",
			Subsystem: "websocket",
			Name:      "messages_sent_total",
			Help:      "Total messages sent to websocket clients",
		}, []string{"type"}),

		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lgraccess",
			Subsystem: "websocket",
			Name:      "bytes_sent_total",
			Help:      "Total bytes sent to websocket clients",
		}),

		messagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lgraccess",
			Subsystem: "websocket",
			Name:      "messages_dropped_total",
			Help:      "Messages dropped from full client queues",
		}),

		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lgraccess",
			Subsystem: "websocket",
			Name:      "clients_connected",
			Help:      "Number of currently connected clients",
		}),

		connectionTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lgraccess",
			Subsystem: "websocket",
			Name:      "client_connections_total",
			Help:      "Total client connections (including disconnected)",
		}),

		disconnectionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lgraccess",
			Subsystem: "websocket",
			Name:      "client_disconnections_total",
			Help:      "Total client disconnections",
		}, []string{"disconnect_reason"}),

		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lgraccess",
			Subsystem: "websocket",
			Name:      "errors_total",
			Help:      "Websocket server errors",
		}, []string{"error_type"}),
	}

	collectors := map[string]prometheus.Collector{
		"messages_sent":         m.messagesSent,
		"bytes_sent":            m.bytesSent,
		"messages_dropped":      m.messagesDropped,
		"clients_connected":     m.clientsConnected,
		"client_connections":    m.connectionTotal,
		"client_disconnections": m.disconnectionTotal,
		"errors":                m.errorsTotal,
	}
	for name, c := range collectors {
		if err := registry.PrometheusRegistry().Register(c); err != nil {
			return nil, errors.WrapFatal(err, "Server", "newMetrics", "register "+name)
		}
	}
	return m, nil
}

// New creates a websocket server delivering requests through manager
func New(config Config, manager *access.Manager, registry *metric.MetricsRegistry, logger *slog.Logger) (*Server, error) {
	defaults := DefaultConfig()
	if config.Path == "" {
		config.Path = defaults.Path
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if manager == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Server", "New", "manager is required")
	}
	if config.QueueSize == 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.PingInterval <= 0 {
		config.PingInterval = defaults.PingInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	metrics, err := newMetrics(registry)
	if err != nil {
		return nil, err
	}

	return &Server{
		name:    "websocket-sink",
		config:  config,
		manager: manager,
		logger:  logger.With("component", "websocket-sink"),
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}, nil
}

// SetTLSConfig makes the next Start serve wss. A nil config serves plain ws.
func (s *Server) SetTLSConfig(cfg *tls.Config) {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	s.tlsConfig = cfg
}

// Start listens on the configured address and serves the websocket path
func (s *Server) Start() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.running {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Server", "Start", "check running state")
	}

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return errors.WrapFatal(err, "Server", "Start", "listen on "+s.config.Addr)
	}
	if s.tlsConfig != nil {
		ln = tls.NewListener(ln, s.tlsConfig)
	}

	mux := http.NewServeMux()
	mux.Handle(s.config.Path, s)
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.listener = ln
	s.server = server
	s.shutdown = make(chan struct{})
	s.running = true
	s.startTime = time.Now()
	s.mu.Unlock()

	s.wg.Add(2)
	go s.serve(server, ln)
	go s.maintainClients()

	s.logger.Info("Websocket sink started", "addr", ln.Addr().String(), "path", s.config.Path,
		"tls", s.tlsConfig != nil)
	return nil
}

func (s *Server) serve(server *http.Server, ln net.Listener) {
	defer s.wg.Done()
	if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
		atomic.AddInt64(&s.errors, 1)
		s.logger.Error("Websocket server failed", "error", err)
	}
}

// Addr returns the bound listen address, empty when stopped
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop closes every client, removing its request, and shuts the HTTP server
// down
func (s *Server) Stop(timeout time.Duration) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.shutdown)
	server := s.server
	s.mu.Unlock()

	s.clientsMu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.RUnlock()
	for _, c := range clients {
		c.close(websocket.CloseGoingAway, "server shutting down", "server_shutdown")
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	var shutdownErr error
	if err := server.Shutdown(ctx); err != nil {
		shutdownErr = errors.WrapTransient(err, "Server", "Stop", "http shutdown")
	}

	waitCh := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waitCh)
	}()
	select {
	case <-waitCh:
	case <-ctx.Done():
		return errors.WrapTransient(fmt.Errorf("shutdown timeout after %v", timeout), "Server", "Stop", "shutdown")
	}

	s.mu.Lock()
	s.listener = nil
	s.mu.Unlock()
	s.logger.Info("Websocket sink stopped", "messages_sent", atomic.LoadInt64(&s.messagesSent))
	return shutdownErr
}

// ServeHTTP validates the request parameters, upgrades the connection and
// adds the client's request to the manager
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := s.newClient(r.URL.Query())
	if err != nil {
		s.recordError("bad_request")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.recordError("connection_upgrade")
		return
	}
	c.conn = conn
	c.lastPong.Store(time.Now())

	// Registration happens under the read lock so Stop either sees the
	// client or the client sees the server stopped.
	s.mu.RLock()
	if !s.running {
		s.mu.RUnlock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(s.config.WriteTimeout))
		_ = conn.Close()
		return
	}
	s.clientsMu.Lock()
	s.clients[c] = struct{}{}
	count := len(s.clients)
	s.clientsMu.Unlock()
	s.wg.Add(2)
	s.mu.RUnlock()

	if s.metrics != nil {
		s.metrics.connectionTotal.Inc()
		s.metrics.clientsConnected.Set(float64(count))
	}
	go c.writePump()
	go c.readPump()

	access.Track(c)
	ctx, cancel := context.WithTimeout(r.Context(), s.config.WriteTimeout)
	defer cancel()
	var addErr error
	if err := s.manager.Loop().Call(ctx, func() { addErr = s.manager.AddRequest(c.request, false) }); err != nil {
		addErr = err
	}
	if addErr != nil {
		s.recordError("request_rejected")
		s.logger.Warn("Client request rejected", "uri", c.request.URI(), "error", addErr)
		c.close(websocket.ClosePolicyViolation, "request rejected", "request_rejected")
		return
	}
	s.logger.Debug("Client connected", "remote", conn.RemoteAddr().String(), "uri", c.request.URI())
}

// newClient builds the client and its request from the query parameters
func (s *Server) newClient(q url.Values) (*client, error) {
	u := q.Get(QueryURI)
	if u == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "Server", "newClient", "uri parameter required")
	}
	start, err := access.ParseStartOption(q.Get(QueryStart), q.Get)
	if err != nil {
		return nil, err
	}

	c := &client{server: s, connectedAt: time.Now()}
	c.queue, err = buffer.NewCircularBuffer(s.config.QueueSize,
		buffer.WithOverflowPolicy[[]byte](buffer.DropOldest),
		buffer.WithDropCallback[[]byte](func([]byte) { s.recordDrop() }))
	if err != nil {
		return nil, errors.WrapFatal(err, "Server", "newClient", "create client queue")
	}

	c.request = access.NewRequest(u, c)
	if err := c.request.SetStart(start); err != nil {
		return nil, err
	}
	if v := q.Get(QueryOrder); v != "" {
		order, ok := access.ParseOrder(v)
		if !ok {
			return nil, errors.WrapInvalid(errors.ErrInvalidData, "Server", "newClient", "order "+v)
		}
		if err := c.request.SetOrder(order); err != nil {
			return nil, err
		}
	}
	if v := q.Get(QueryCacheSize); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return nil, errors.WrapInvalid(errors.ErrInvalidData, "Server", "newClient", "parse cache-size")
		}
		if err := c.request.SetCacheSize(uint32(n)); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// removeClient forgets c and withdraws its request on the loop
func (s *Server) removeClient(c *client, reason string) {
	access.Release(c)
	s.manager.Loop().Post(func() { s.manager.RemoveRequest(c.request) })

	s.clientsMu.Lock()
	delete(s.clients, c)
	count := len(s.clients)
	s.clientsMu.Unlock()

	if s.metrics != nil {
		s.metrics.disconnectionTotal.WithLabelValues(reason).Inc()
		s.metrics.clientsConnected.Set(float64(count))
	}
	s.logger.Debug("Client disconnected", "uri", c.request.URI(), "reason", reason)
}

// maintainClients pings clients and drops the ones that stopped answering
func (s *Server) maintainClients() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			s.pingClients()
		}
	}
}

func (s *Server) pingClients() {
	s.clientsMu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.RUnlock()

	for _, c := range clients {
		last, _ := c.lastPong.Load().(time.Time)
		if time.Since(last) > 2*s.config.PingInterval {
			c.close(websocket.CloseGoingAway, "ping timeout", "ping_timeout")
			continue
		}
		if err := c.write(websocket.PingMessage, nil); err != nil {
			s.recordError("ping")
			c.close(websocket.CloseAbnormalClosure, "", "ping_failed")
		}
	}
}

// Clients returns the number of connected clients
func (s *Server) Clients() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Health returns the current health status
func (s *Server) Health() health.Status {
	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()

	var status health.Status
	switch {
	case !running:
		status = health.NewUnhealthy(s.name, "not started")
	case atomic.LoadInt64(&s.dropped) > 0:
		status = health.NewDegraded(s.name, fmt.Sprintf("%d messages dropped", atomic.LoadInt64(&s.dropped)))
	default:
		status = health.NewHealthy(s.name, fmt.Sprintf("%d clients", s.Clients()))
	}
	last, _ := s.lastActivity.Load().(time.Time)
	return status.WithMetrics(&health.Metrics{
		Requests:     s.Clients(),
		FailureCount: int(atomic.LoadInt64(&s.errors)),
		LastActivity: last,
	})
}

func (s *Server) recordSent(typ string, n int) {
	atomic.AddInt64(&s.messagesSent, 1)
	atomic.AddInt64(&s.bytesSent, int64(n))
	s.lastActivity.Store(time.Now())
	if s.metrics != nil {
		s.metrics.messagesSent.WithLabelValues(typ).Inc()
		s.metrics.bytesSent.Add(float64(n))
	}
}

func (s *Server) recordDrop() {
	atomic.AddInt64(&s.dropped, 1)
	if s.metrics != nil {
		s.metrics.messagesDropped.Inc()
	}
}

func (s *Server) recordError(kind string) {
	atomic.AddInt64(&s.errors, 1)
	if s.metrics != nil {
		s.metrics.errorsTotal.WithLabelValues(kind).Inc()
	}
}

// client is one websocket connection and the sink of its request. Sink
// callbacks run on the loop and only queue frames; writePump owns writes of
// data frames.
type client struct {
	server      *Server
	conn        *websocket.Conn
	request     *access.Request
	queue       buffer.Buffer[[]byte]
	connectedAt time.Time
	lastPong    atomic.Value

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (c *client) enqueue(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.server.recordError("encode")
		c.server.logger.Error("Failed to encode message", "uri", msg.URI, "error", err)
		return
	}
	_ = c.queue.Write(data)
}

// OnSinkReady implements access.Sink
func (c *client) OnSinkReady(_ *access.Manager, r *access.Request, template *record.Record) {
	msg := Message{Type: MessageReady, URI: r.URI()}
	for _, v := range r.Values(template) {
		msg.Values = append(msg.Values, v.Name())
	}
	c.enqueue(msg)
}

// OnSinkRecords implements access.Sink
func (c *client) OnSinkRecords(_ *access.Manager, requests []*access.Request, records []*record.Record) {
	for _, r := range requests {
		for _, rec := range records {
			env := record.NewEnvelope(r.URI(), rec, r.BeginIndex(), r.EndIndex())
			c.enqueue(Message{Type: MessageRecord, URI: r.URI(), Record: &env})
		}
	}
}

// OnSinkFailure implements access.Sink. Connection level failures are
// retried by the source so the client stays open; any other failure is
// final and closes it once the failure frame is written.
func (c *client) OnSinkFailure(_ *access.Manager, r *access.Request, f access.Failure) {
	c.enqueue(Message{Type: MessageFailure, URI: r.URI(), Failure: f.String()})
	if !f.IsConnectionLevel() {
		_ = c.queue.Close()
	}
}

// OnRequestStateChange implements access.Sink
func (c *client) OnRequestStateChange(_ *access.Manager, r *access.Request) {
	if r.State() == access.StateSatisfied {
		c.enqueue(Message{Type: MessageState, URI: r.URI(), State: r.State().String()})
	}
}

// write sends one frame under the write lock
func (c *client) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := time.Now().Add(c.server.config.WriteTimeout)
	if messageType == websocket.PingMessage {
		return c.conn.WriteControl(messageType, data, deadline)
	}
	_ = c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteMessage(messageType, data)
}

// writePump drains the queue to the connection. A closed queue ends the
// session with a normal close.
func (c *client) writePump() {
	defer c.server.wg.Done()
	for {
		data, err := c.queue.ReadWait(context.Background())
		if err != nil {
			c.close(websocket.CloseNormalClosure, "request ended", "request_ended")
			return
		}
		if err := c.write(websocket.TextMessage, data); err != nil {
			c.server.recordError("write")
			c.close(websocket.CloseAbnormalClosure, "", "write_failed")
			return
		}
		var msg struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(data, &msg)
		c.server.recordSent(msg.Type, len(data))
	}
}

// readPump discards client frames and notices the close
func (c *client) readPump() {
	defer c.server.wg.Done()
	c.conn.SetPongHandler(func(string) error {
		c.lastPong.Store(time.Now())
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			reason := "client_closed"
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				reason = "read_error"
			}
			c.close(websocket.CloseNormalClosure, "", reason)
			return
		}
	}
}

// close runs once: it releases the sink, withdraws the request and closes
// the connection
func (c *client) close(code int, text, reason string) {
	c.closeOnce.Do(func() {
		c.server.removeClient(c, reason)
		_ = c.queue.Close()
		if code != websocket.CloseAbnormalClosure {
			c.writeMu.Lock()
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(code, text),
				time.Now().Add(time.Second))
			c.writeMu.Unlock()
		}
		_ = c.conn.Close()
	})
}
