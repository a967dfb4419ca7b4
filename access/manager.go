package access

import (
	"log/slog"
	"strconv"

	"github.com/c360/lgraccess/errors"
	"github.com/c360/lgraccess/health"
	"github.com/c360/lgraccess/metric"
	"github.com/c360/lgraccess/symbol"
	"github.com/c360/lgraccess/uri"
)

// Manager is the registry of sources and outstanding requests. It routes
// request URIs to sources and serializes add, remove and activate through its
// Loop.
//
// Manager methods must be called on the loop goroutine. Other goroutines use
// Loop.Post or Loop.Call.
type Manager struct {
	loop    *Loop
	logger  *slog.Logger
	metrics *metric.Metrics
	monitor *health.Monitor

	sources    []Source
	requests   []*Request
	clients    []ManagerClient
	supervisor Supervisor
	started    bool
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the manager logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics publishes access metrics to registry. A nil registry disables
// metrics.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(m *Manager) {
		if registry != nil {
			m.metrics = registry.CoreMetrics()
		}
	}
}

// WithSupervisor installs a record delivery interceptor
func WithSupervisor(s Supervisor) Option {
	return func(m *Manager) { m.supervisor = s }
}

// NewManager creates a stopped manager driven by loop
func NewManager(loop *Loop, opts ...Option) *Manager {
	m := &Manager{
		loop:    loop,
		logger:  slog.Default().With("component", "manager"),
		monitor: health.NewMonitor(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Loop returns the event loop
func (m *Manager) Loop() *Loop { return m.loop }

// Logger returns the manager logger
func (m *Manager) Logger() *slog.Logger { return m.logger }

// Metrics returns the access metrics, nil when disabled
func (m *Manager) Metrics() *metric.Metrics {
	if m == nil {
		return nil
	}
	return m.metrics
}

// SetSupervisor replaces the record delivery interceptor
func (m *Manager) SetSupervisor(s Supervisor) { m.supervisor = s }

// IsStarted reports whether Start was called
func (m *Manager) IsStarted() bool { return m.started }

// Start starts every registered source
func (m *Manager) Start() error {
	if m.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Manager", "Start", "manager start")
	}
	m.started = true
	for _, s := range m.sources {
		s.Start()
	}
	m.logger.Info("Manager started", "sources", len(m.sources))
	return nil
}

// Stop stops every registered source
func (m *Manager) Stop() error {
	if !m.started {
		return errors.WrapInvalid(errors.ErrNotStarted, "Manager", "Stop", "manager stop")
	}
	m.started = false
	for _, s := range m.sources {
		s.Stop()
	}
	m.logger.Info("Manager stopped")
	return nil
}

// AddSource registers s. A started manager starts it immediately.
func (m *Manager) AddSource(s Source) error {
	if s == nil {
		return errors.WrapInvalid(errors.ErrInvalidData, "Manager", "AddSource", "nil source")
	}
	if m.Source(s.Name()) != nil {
		return errors.WrapInvalid(errors.ErrInvalidState, "Manager", "AddSource", "name "+s.Name()+" check")
	}
	m.sources = append(m.sources, s)
	s.SetManager(m)
	m.monitor.Update(s.Name(), health.FromConnection(s.Name(), s.ConnectionState().String(), ""))
	m.metrics.SetConnectionState(s.Name(), int(s.ConnectionState()))
	m.logger.Info("Source added", "source", s.Name(), "kind", s.Kind().String())

	m.eachClient(func(c ManagerClient) { c.OnSourceAdded(m, s) })
	if m.started {
		s.Start()
	}
	return nil
}

// RemoveSource unregisters the named source. Its requests fail with
// FailureInvalidSource and leave the manager.
func (m *Manager) RemoveSource(name string) error {
	idx := -1
	for i, s := range m.sources {
		if s.Name() == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return errors.WrapInvalid(errors.ErrNotFound, "Manager", "RemoveSource", "source "+name+" lookup")
	}
	s := m.sources[idx]
	m.sources = append(m.sources[:idx], m.sources[idx+1:]...)

	s.RemoveAllRequests()
	s.Stop()
	var kept []*Request
	for _, r := range m.requests {
		if r.source != s {
			kept = append(kept, r)
			continue
		}
		if r.state != StateRemovePending {
			FailRequest(m, s, r, FailureInvalidSource)
		}
	}
	m.requests = kept
	m.metrics.SetRequests(len(m.requests))

	m.eachClient(func(c ManagerClient) { c.OnSourceRemoved(m, s) })
	m.metrics.ForgetSource(name)
	m.monitor.Remove(name)
	s.SetManager(nil)
	m.logger.Info("Source removed", "source", name)
	return nil
}

// UniqueSourceName sanitizes base and appends a suffix until no registered
// source uses it
func (m *Manager) UniqueSourceName(base string) string {
	base = SanitizeName(base)
	name := base
	for i := 2; m.Source(name) != nil; i++ {
		name = base + "_" + strconv.Itoa(i)
	}
	return name
}

// Source finds a source by name
func (m *Manager) Source(name string) Source {
	for _, s := range m.sources {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

// Sources returns the registered sources in registration order
func (m *Manager) Sources() []Source {
	return append([]Source(nil), m.sources...)
}

// AddClient registers a tracked client
func (m *Manager) AddClient(c ManagerClient) error {
	if !IsLive(c) {
		return errors.WrapInvalid(errors.ErrInvalidState, "Manager", "AddClient", "client liveness check")
	}
	for _, existing := range m.clients {
		if existing == c {
			return nil
		}
	}
	m.clients = append(m.clients, c)
	return nil
}

// RemoveClient unregisters c
func (m *Manager) RemoveClient(c ManagerClient) {
	for i, existing := range m.clients {
		if existing == c {
			m.clients = append(m.clients[:i], m.clients[i+1:]...)
			return
		}
	}
}

func (m *Manager) eachClient(fn func(ManagerClient)) {
	for _, c := range append([]ManagerClient(nil), m.clients...) {
		if IsLive(c) {
			fn(c)
		}
	}
}

// Requests returns every request the manager holds
func (m *Manager) Requests() []*Request {
	return append([]*Request(nil), m.requests...)
}

func (m *Manager) indexOf(r *Request) int {
	for i, existing := range m.requests {
		if existing == r {
			return i
		}
	}
	return -1
}

// AddRequest takes ownership of r and routes it to its source on the loop.
// The request's sink must be tracked. A failed request may be added again.
func (m *Manager) AddRequest(r *Request, moreToFollow bool) error {
	if r == nil || r.sink == nil {
		return errors.WrapInvalid(errors.ErrInvalidData, "Manager", "AddRequest", "request check")
	}
	if !IsLive(r.sink) {
		return errors.WrapInvalid(errors.ErrInvalidState, "Manager", "AddRequest", "sink liveness check")
	}
	held := m.indexOf(r) >= 0
	switch {
	case held && r.state != StateError:
		return errors.WrapInvalid(errors.ErrInvalidState, "Manager", "AddRequest", "request "+r.state.String()+" check")
	case !held && r.state != StateInactive && r.state != StateError && r.state != StateRemovePending:
		return errors.WrapInvalid(errors.ErrInvalidState, "Manager", "AddRequest", "request "+r.state.String()+" check")
	}
	if !held {
		if r.state == StateRemovePending {
			r.state = StateInactive
		}
		m.requests = append(m.requests, r)
		m.metrics.SetRequests(len(m.requests))
	}
	r.manager = m
	m.loop.Post(func() { m.dispatch(r, moreToFollow) })
	return nil
}

// dispatch hands r to its source. A request the retry sweep re-admitted in
// the meantime is already with its source and is left alone.
func (m *Manager) dispatch(r *Request, moreToFollow bool) {
	if r.state != StateInactive && r.state != StateError {
		return
	}
	if m.indexOf(r) < 0 {
		return
	}
	name, _, err := uri.Split(r.uri)
	var src Source
	if err == nil {
		src = m.Source(name)
	}
	if src == nil {
		m.logger.Debug("Request source not found", "uri", r.uri)
		FailRequest(m, nil, r, FailureInvalidSource)
		return
	}
	r.source = src
	src.AddRequest(r, moreToFollow)
}

// RemoveRequest withdraws r. The request is marked RemovePending at once so
// in-flight deliveries skip it; the source lets go of it on the loop.
func (m *Manager) RemoveRequest(r *Request) {
	if m.indexOf(r) < 0 || r.state == StateRemovePending {
		return
	}
	r.SetState(nil, StateRemovePending)
	m.loop.Post(func() {
		if r.source != nil {
			r.source.RemoveRequest(r)
		}
		if i := m.indexOf(r); i >= 0 {
			m.requests = append(m.requests[:i], m.requests[i+1:]...)
		}
		m.metrics.SetRequests(len(m.requests))
	})
}

// RemoveAllRequests withdraws every request delivering to sink
func (m *Manager) RemoveAllRequests(sink Sink) {
	for _, r := range m.Requests() {
		if r.sink == sink {
			m.RemoveRequest(r)
		}
	}
}

// ActivateRequests asks every source to start the requests added with
// moreToFollow set
func (m *Manager) ActivateRequests() {
	m.loop.Post(func() {
		for _, s := range m.sources {
			s.ActivateRequests()
		}
	})
}

// RequestsFor returns the live requests routed to s
func (m *Manager) RequestsFor(s Source) []*Request {
	var out []*Request
	for _, r := range m.requests {
		if r.source == s && r.state != StateRemovePending {
			out = append(out, r)
		}
	}
	return out
}

// RetryFailedRequests re-adds every failed request of s and activates them
func (m *Manager) RetryFailedRequests(s Source) {
	retried := 0
	for _, r := range m.RequestsFor(s) {
		if r.state == StateError {
			s.AddRequest(r, true)
			retried++
		}
	}
	if retried > 0 {
		m.logger.Debug("Retrying failed requests", "source", s.Name(), "count", retried)
		s.ActivateRequests()
	}
}

func (m *Manager) sourceFor(u string) (Source, error) {
	name, _, err := uri.Split(u)
	if err != nil {
		return nil, err
	}
	s := m.Source(name)
	if s == nil {
		return nil, errors.WrapInvalid(errors.ErrNotFound, "Manager", "sourceFor", "source "+name+" lookup")
	}
	return s, nil
}

// BreakdownURI splits u into typed segments using its source
func (m *Manager) BreakdownURI(u string) ([]symbol.Segment, error) {
	s, err := m.sourceFor(u)
	if err != nil {
		return nil, err
	}
	return s.BreakdownURI(u)
}

// TableRange asks the source of u for the table's record span
func (m *Manager) TableRange(u string, done func(TableRange, Failure)) {
	s, err := m.sourceFor(u)
	if err != nil {
		m.loop.Post(func() { done(TableRange{}, FailureInvalidSource) })
		return
	}
	s.TableRange(u, done)
}

// SetVariable writes value to the variable addressed by u
func (m *Manager) SetVariable(u, value string, done func(Failure)) {
	s, err := m.sourceFor(u)
	if err != nil {
		m.loop.Post(func() { done(FailureInvalidSource) })
		return
	}
	setter, ok := s.(VariableSetter)
	if !ok {
		m.loop.Post(func() { done(FailureUnsupported) })
		return
	}
	setter.SetVariable(u, value, done)
}

// CheckClock checks, and optionally sets, the clock of the station at u
func (m *Manager) CheckClock(u string, set bool, done func(ClockResult, Failure)) {
	s, err := m.sourceFor(u)
	if err != nil {
		m.loop.Post(func() { done(ClockResult{}, FailureInvalidSource) })
		return
	}
	checker, ok := s.(ClockChecker)
	if !ok {
		m.loop.Post(func() { done(ClockResult{}, FailureUnsupported) })
		return
	}
	checker.CheckClock(u, set, done)
}

// SendFile sends data to the station at u under name
func (m *Manager) SendFile(u, name string, data []byte, done func(Failure)) {
	s, err := m.sourceFor(u)
	if err != nil {
		m.loop.Post(func() { done(FailureInvalidSource) })
		return
	}
	sender, ok := s.(FileSender)
	if !ok {
		m.loop.Post(func() { done(FailureUnsupported) })
		return
	}
	sender.SendFile(u, name, data, done)
}

// ReceiveFile fetches the named file from the station at u
func (m *Manager) ReceiveFile(u, name string, done func([]byte, Failure)) {
	s, err := m.sourceFor(u)
	if err != nil {
		m.loop.Post(func() { done(nil, FailureInvalidSource) })
		return
	}
	receiver, ok := s.(FileReceiver)
	if !ok {
		m.loop.Post(func() { done(nil, FailureUnsupported) })
		return
	}
	receiver.ReceiveFile(u, name, done)
}

// OpenTerminal opens a terminal session with the station at u
func (m *Manager) OpenTerminal(u string, h TerminalHandler) (Terminal, error) {
	s, err := m.sourceFor(u)
	if err != nil {
		return nil, err
	}
	opener, ok := s.(TerminalOpener)
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrUnsupported, "Manager", "OpenTerminal", "source "+s.Name()+" capability check")
	}
	return opener.OpenTerminal(u, h)
}

// ReportLog sends a free-text diagnostic to clients
func (m *Manager) ReportLog(s Source, msg string) {
	m.logger.Info("Source log", "source", s.Name(), "message", msg)
	m.eachClient(func(c ManagerClient) { c.OnSourceLog(m, s, msg) })
}

// Health aggregates the connectivity of every source. Safe from any goroutine.
func (m *Manager) Health() health.Status {
	return m.monitor.AggregateHealth("lgraccess")
}

func (m *Manager) sourceStateChanged(s Source, state ConnectionState, reason DisconnectReason) {
	lastError := ""
	if le, ok := s.(interface{ LastError() string }); ok {
		lastError = le.LastError()
	}
	m.monitor.Update(s.Name(), health.FromConnection(s.Name(), state.String(), lastError))
	m.metrics.SetConnectionState(s.Name(), int(state))

	switch state {
	case Connecting:
		m.eachClient(func(c ManagerClient) { c.OnSourceConnecting(m, s) })
	case Connected:
		m.logger.Info("Source connected", "source", s.Name())
		m.eachClient(func(c ManagerClient) { c.OnSourceConnected(m, s) })
	case Disconnected:
		m.logger.Info("Source disconnected", "source", s.Name(), "reason", reason.String())
		m.eachClient(func(c ManagerClient) { c.OnSourceDisconnected(m, s, reason) })
	}
}

func (m *Manager) supervisorOrNil() Supervisor {
	if m == nil {
		return nil
	}
	return m.supervisor
}

func (m *Manager) recordDelivered(s Source, n int) {
	if m == nil || s == nil {
		return
	}
	m.metrics.RecordDelivered(s.Name(), n)
}

func (m *Manager) recordFailure(s Source, f Failure) {
	if m == nil {
		return
	}
	name := "none"
	if s != nil {
		name = s.Name()
	}
	m.metrics.RecordFailure(name, f.String())
}
