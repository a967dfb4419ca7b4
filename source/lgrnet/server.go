package lgrnet

import (
	"context"
	stderrors "errors"

	"github.com/c360/lgraccess/access"
	"github.com/c360/lgraccess/record"
)

// Logon carries the credentials presented when connecting
type Logon struct {
	Name         string
	Password     string
	AccessToken  string
	RefreshToken string
}

// AdviseParams describes the data feed a cursor opens. Columns restricts the
// feed; an empty list delivers whole records.
type AdviseParams struct {
	Station   string
	Table     string
	Columns   []string
	Start     access.StartOption
	Order     access.Order
	CacheSize uint32
}

// AdviseHandler receives feed traffic. Calls may arrive on any goroutine.
type AdviseHandler interface {
	OnAdviseReady(template *record.Record)
	OnAdviseRecords(records []*record.Record)
	OnAdviseFailed(err error)
}

// Feed is an open data advise. The server sends the next block only after
// Next acknowledges the previous one.
type Feed interface {
	Next() error
	Close() error
}

// Station describes one logger known to the server
type Station struct {
	Name       string
	Statistics bool
}

// TableDef describes one table of a station
type TableDef struct {
	Name  string
	Descs []*record.ValueDesc
}

// CatalogEventKind classifies catalog changes
type CatalogEventKind int

// Catalog event kinds
const (
	CatalogAdded CatalogEventKind = iota
	CatalogDeleted
	CatalogShutDown
	CatalogChanged
	// CatalogSynced follows the initial snapshot of a watch
	CatalogSynced
	CatalogFailed
)

// CatalogEvent is one station or table change. Station watches fill Station,
// table watches fill Table.
type CatalogEvent struct {
	Kind    CatalogEventKind
	Station Station
	Table   TableDef
	Err     error
}

// Watch is an open catalog subscription
type Watch interface {
	Close() error
}

// Server is the transport to a LoggerNet gateway. Blocking methods are never
// called from the event loop; callbacks may arrive on any goroutine.
type Server interface {
	Connect(ctx context.Context, logon Logon, onLost func(error)) error
	Close() error

	OpenAdvise(ctx context.Context, p AdviseParams, h AdviseHandler) (Feed, error)
	TableEnd(ctx context.Context, station, table string) (access.RecordPosition, error)
	TableRange(ctx context.Context, station, table string) (access.TableRange, error)

	WatchStations(ctx context.Context, fn func(CatalogEvent)) (Watch, error)
	WatchTables(ctx context.Context, station string, fn func(CatalogEvent)) (Watch, error)

	SetVariable(ctx context.Context, station, table, column, value string) error
	CheckClock(ctx context.Context, station string, set bool) (access.ClockResult, error)
	SendFile(ctx context.Context, station, name string, data []byte) error
	ReceiveFile(ctx context.Context, station, name string) ([]byte, error)
	OpenTerminal(ctx context.Context, station string, h access.TerminalHandler) (access.Terminal, error)
}

// Factory builds a Server for the current settings on every connect
type Factory func(Settings) (Server, error)

// FailureError carries a failure code reported by the server
type FailureError struct {
	Failure access.Failure
	Message string
}

func (e *FailureError) Error() string {
	if e.Message != "" {
		return e.Failure.String() + ": " + e.Message
	}
	return e.Failure.String()
}

// NewFailureError creates a FailureError
func NewFailureError(f access.Failure, msg string) error {
	return &FailureError{Failure: f, Message: msg}
}

// FailureOf maps err to a failure code. Errors without one count as a lost
// connection.
func FailureOf(err error) access.Failure {
	if err == nil {
		return access.FailureUnknown
	}
	var fe *FailureError
	if stderrors.As(err, &fe) {
		return fe.Failure
	}
	return access.FailureConnectionFailed
}
