package access

import (
	"log/slog"
	"strings"
	"time"

	"github.com/c360/lgraccess/health"
	"github.com/c360/lgraccess/symbol"
)

// Timer defaults shared by every source
const (
	DefaultRetryInterval     = 15 * time.Second
	DefaultReconnectInterval = 10 * time.Second
)

// Kind identifies a source variant
type Kind int

// Source kinds
const (
	KindLgrNet Kind = iota
	KindDataFile
	KindDatabase
)

func (k Kind) String() string {
	switch k {
	case KindLgrNet:
		return "lgrnet"
	case KindDataFile:
		return "datafile"
	case KindDatabase:
		return "database"
	default:
		return "unknown"
	}
}

// ParseKind maps a kind name to its value
func ParseKind(s string) (Kind, bool) {
	for _, k := range []Kind{KindLgrNet, KindDataFile, KindDatabase} {
		if strings.EqualFold(k.String(), s) {
			return k, true
		}
	}
	return KindLgrNet, false
}

// ConnectionState is a source's backend connectivity
type ConnectionState int

// Connection states
const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return health.StateConnecting
	case Connected:
		return health.StateConnected
	default:
		return health.StateDisconnected
	}
}

// RecordPosition locates one record of a table
type RecordPosition struct {
	FileMark uint32
	RecordNo uint32
	Stamp    time.Time
}

// TableRange is the span of records a table currently holds
type TableRange struct {
	Begin RecordPosition
	End   RecordPosition
}

// Source owns one backend connection and the batching of requests onto it.
// Every method runs on the manager's loop.
type Source interface {
	Name() string
	Kind() Kind
	SetManager(m *Manager)
	Manager() *Manager

	Connect()
	Disconnect()
	IsConnected() bool
	ConnectionState() ConnectionState
	Start()
	Stop()

	AddRequest(r *Request, moreToFollow bool)
	RemoveRequest(r *Request)
	RemoveAllRequests()
	ActivateRequests()

	SourceSymbol() *symbol.Node
	BreakdownURI(u string) ([]symbol.Segment, error)
	TableRange(u string, done func(TableRange, Failure))

	ReadProperties(p *Properties) error
	WriteProperties(p *Properties)
}

// ClockResult reports a logger clock check
type ClockResult struct {
	LoggerTime time.Time
	ServerTime time.Time
	Adjusted   bool
}

// VariableSetter is implemented by sources that can write a logger variable
type VariableSetter interface {
	SetVariable(u, value string, done func(Failure))
}

// ClockChecker is implemented by sources that can check or set logger clocks
type ClockChecker interface {
	CheckClock(stationURI string, set bool, done func(ClockResult, Failure))
}

// FileSender is implemented by sources that can send files to a logger
type FileSender interface {
	SendFile(stationURI, name string, data []byte, done func(Failure))
}

// FileReceiver is implemented by sources that can fetch files from a logger
type FileReceiver interface {
	ReceiveFile(stationURI, name string, done func([]byte, Failure))
}

// TerminalHandler receives terminal traffic on the loop
type TerminalHandler interface {
	OnTerminalData(data []byte)
	OnTerminalClosed(f Failure)
}

// Terminal is an open terminal session
type Terminal interface {
	Send(data []byte) error
	Close()
}

// TerminalOpener is implemented by sources that support terminal emulation
type TerminalOpener interface {
	OpenTerminal(stationURI string, h TerminalHandler) (Terminal, error)
}

// SanitizeName reduces s to letters, digits and underscores
func SanitizeName(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
			b.WriteRune(c)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "source"
	}
	return b.String()
}

// SourceBase carries the state every source variant shares: name, manager
// back-reference, connection state and the retry and reconnect timers.
// Variants embed it.
type SourceBase struct {
	name      string
	kind      Kind
	manager   *Manager
	state     ConnectionState
	lastError string
	started   bool
	logger    *slog.Logger

	retryInterval     time.Duration
	reconnectInterval time.Duration
	retry             *OneShot
	reconnect         *OneShot
}

// NewSourceBase creates the shared state for a source named name
func NewSourceBase(name string, kind Kind, logger *slog.Logger) SourceBase {
	name = SanitizeName(name)
	if logger == nil {
		logger = slog.Default()
	}
	return SourceBase{
		name:              name,
		kind:              kind,
		logger:            logger.With("component", "source", "source", name, "kind", kind.String()),
		retryInterval:     DefaultRetryInterval,
		reconnectInterval: DefaultReconnectInterval,
	}
}

// Name returns the sanitized source name
func (b *SourceBase) Name() string { return b.name }

// Kind returns the source variant
func (b *SourceBase) Kind() Kind { return b.kind }

// Manager returns the owning manager
func (b *SourceBase) Manager() *Manager { return b.manager }

// Logger returns the source logger
func (b *SourceBase) Logger() *slog.Logger { return b.logger }

// SetManager attaches the source to m
func (b *SourceBase) SetManager(m *Manager) {
	if b.retry != nil {
		b.retry.Disarm()
		b.reconnect.Disarm()
	}
	b.manager = m
	if m != nil {
		b.retry = NewOneShot(m.Loop())
		b.reconnect = NewOneShot(m.Loop())
	}
}

// Loop returns the manager loop
func (b *SourceBase) Loop() *Loop {
	if b.manager == nil {
		return nil
	}
	return b.manager.Loop()
}

// SetTimerIntervals overrides the retry and reconnect delays
func (b *SourceBase) SetTimerIntervals(retry, reconnect time.Duration) {
	b.retryInterval = retry
	b.reconnectInterval = reconnect
}

// ConnectionState returns the connectivity
func (b *SourceBase) ConnectionState() ConnectionState { return b.state }

// IsConnected reports whether the backend is connected
func (b *SourceBase) IsConnected() bool { return b.state == Connected }

// LastError returns the message of the last connection failure
func (b *SourceBase) LastError() string { return b.lastError }

// IsStarted reports whether Start was called without a later Stop
func (b *SourceBase) IsStarted() bool { return b.started }

// SetStarted records the start flag
func (b *SourceBase) SetStarted(started bool) { b.started = started }

// SetConnectionState records a transition and notifies the manager. reason
// and cause only matter for Disconnected.
func (b *SourceBase) SetConnectionState(self Source, state ConnectionState, reason DisconnectReason, cause error) {
	if cause != nil {
		b.lastError = cause.Error()
	} else if state == Connected {
		b.lastError = ""
	}
	if b.state == state {
		return
	}
	b.state = state
	b.logger.Debug("Source connection state changed", "state", state.String())
	if b.manager != nil {
		b.manager.sourceStateChanged(self, state, reason)
	}
}

// ScheduleRetry arms the retry sweep that re-adds the source's failed requests
func (b *SourceBase) ScheduleRetry(self Source) {
	if b.retry == nil {
		return
	}
	b.retry.Arm(b.retryInterval, func() {
		if b.manager != nil {
			b.manager.RetryFailedRequests(self)
		}
	})
}

// ScheduleReconnect arms the reconnect timer
func (b *SourceBase) ScheduleReconnect(fn func()) {
	if b.reconnect == nil {
		return
	}
	b.reconnect.Arm(b.reconnectInterval, fn)
}

// ReconnectArmed reports whether a reconnect is pending
func (b *SourceBase) ReconnectArmed() bool {
	return b.reconnect != nil && b.reconnect.Armed()
}

// RetryArmed reports whether a retry sweep is pending
func (b *SourceBase) RetryArmed() bool {
	return b.retry != nil && b.retry.Armed()
}

// CancelTimers disarms retry and reconnect
func (b *SourceBase) CancelTimers() {
	if b.retry != nil {
		b.retry.Disarm()
		b.reconnect.Disarm()
	}
}

// Log sends a diagnostic message to the manager's clients
func (b *SourceBase) Log(self Source, msg string) {
	if b.manager != nil {
		b.manager.ReportLog(self, msg)
		return
	}
	b.logger.Info(msg)
}

// SetCursorCount publishes the number of open cursors
func (b *SourceBase) SetCursorCount(n int) {
	if b.manager != nil {
		b.manager.metrics.SetCursors(b.name, n)
	}
}
