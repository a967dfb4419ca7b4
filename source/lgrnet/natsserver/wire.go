package natsserver

import (
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/c360/lgraccess/access"
	"github.com/c360/lgraccess/errors"
	"github.com/c360/lgraccess/record"
	"github.com/c360/lgraccess/source/lgrnet"
)

// RPC operations, published on <prefix>.rpc.<op>
const (
	opLogon         = "logon"
	opAdviseOpen    = "advise.open"
	opAdviseNext    = "advise.next"
	opAdviseClose   = "advise.close"
	opTableEnd      = "table.end"
	opTableRange    = "table.range"
	opWatchStations = "watch.stations"
	opWatchTables   = "watch.tables"
	opWatchClose    = "watch.close"
	opSetVariable   = "variable.set"
	opCheckClock    = "clock.check"
	opSendFile      = "file.send"
	opReceiveFile   = "file.receive"
	opTerminalOpen  = "terminal.open"
	opTerminalSend  = "terminal.send"
	opTerminalClose = "terminal.close"
)

// Stream message kinds
const (
	kindReady   = "ready"
	kindRecords = "records"
	kindFailed  = "failed"
	kindData    = "data"
	kindClosed  = "closed"
)

func rpcSubject(prefix, op string) string { return prefix + ".rpc." + op }

// lostSubject carries a notice when the gateway loses its LoggerNet link
func lostSubject(prefix string) string { return prefix + ".session.lost" }

type wireError struct {
	Failure string `json:"failure"`
	Message string `json:"message,omitempty"`
}

func toWireError(err error) *wireError {
	if err == nil {
		return nil
	}
	return &wireError{Failure: lgrnet.FailureOf(err).String(), Message: err.Error()}
}

// err rebuilds the error. Codes this side does not know count as a lost
// connection.
func (e *wireError) err() error {
	if e == nil {
		return nil
	}
	f := access.ParseFailure(e.Failure)
	if f == access.FailureUnknown {
		return errors.WrapTransient(stderrors.New(e.Message), "natsserver", "reply", e.Failure)
	}
	return lgrnet.NewFailureError(f, e.Message)
}

type reply struct {
	Error  *wireError      `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

type logonReq struct {
	Name         string `json:"name,omitempty"`
	Password     string `json:"password,omitempty"`
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

type streamReq struct {
	ID      string `json:"id"`
	Inbox   string `json:"inbox,omitempty"`
	Station string `json:"station,omitempty"`
}

type adviseReq struct {
	ID        string    `json:"id"`
	Inbox     string    `json:"inbox"`
	Station   string    `json:"station"`
	Table     string    `json:"table"`
	Columns   []string  `json:"columns,omitempty"`
	Start     wireStart `json:"start"`
	Order     string    `json:"order"`
	CacheSize uint32    `json:"cache_size"`
}

type wireStart struct {
	Kind     string        `json:"kind"`
	FileMark uint32        `json:"file_mark,omitempty"`
	RecordNo uint32        `json:"record_no,omitempty"`
	Stamp    time.Time     `json:"stamp"`
	Backfill time.Duration `json:"backfill,omitempty"`
	Offset   uint32        `json:"offset,omitempty"`
	Begin    time.Time     `json:"begin"`
	End      time.Time     `json:"end"`
}

type tableReq struct {
	Station string `json:"station"`
	Table   string `json:"table,omitempty"`
	Column  string `json:"column,omitempty"`
	Value   string `json:"value,omitempty"`
}

type clockReq struct {
	Station string `json:"station"`
	Set     bool   `json:"set"`
}

type fileReq struct {
	Station string `json:"station"`
	Name    string `json:"name"`
	Data    []byte `json:"data,omitempty"`
}

type terminalSendReq struct {
	ID   string `json:"id"`
	Data []byte `json:"data"`
}

type wirePosition struct {
	FileMark uint32    `json:"file_mark"`
	RecordNo uint32    `json:"record_no"`
	Stamp    time.Time `json:"stamp"`
}

type wireRange struct {
	Begin wirePosition `json:"begin"`
	End   wirePosition `json:"end"`
}

type wireClock struct {
	LoggerTime time.Time `json:"logger_time"`
	ServerTime time.Time `json:"server_time"`
	Adjusted   bool      `json:"adjusted"`
}

type wireRecord struct {
	FileMark uint32    `json:"file_mark"`
	RecordNo uint32    `json:"record_no"`
	Stamp    time.Time `json:"stamp"`
	Values   []any     `json:"values"`
}

// feedMsg is one message on an advise inbox
type feedMsg struct {
	Kind    string              `json:"kind"`
	Descs   []*record.ValueDesc `json:"descs,omitempty"`
	Records []wireRecord        `json:"records,omitempty"`
	Error   *wireError          `json:"error,omitempty"`
}

// catalogMsg is one message on a watch inbox
type catalogMsg struct {
	Kind       string              `json:"kind"`
	Station    string              `json:"station,omitempty"`
	Statistics bool                `json:"statistics,omitempty"`
	Table      string              `json:"table,omitempty"`
	Descs      []*record.ValueDesc `json:"descs,omitempty"`
	Error      *wireError          `json:"error,omitempty"`
}

// terminalMsg is one message on a terminal inbox
type terminalMsg struct {
	Kind    string `json:"kind"`
	Data    []byte `json:"data,omitempty"`
	Failure string `json:"failure,omitempty"`
}

func toWireStart(o access.StartOption) wireStart {
	return wireStart{
		Kind:     o.Kind.String(),
		FileMark: o.FileMark,
		RecordNo: o.RecordNo,
		Stamp:    o.Stamp,
		Backfill: o.Backfill,
		Offset:   o.Offset,
		Begin:    o.Begin,
		End:      o.End,
	}
}

func (w wireStart) option() (access.StartOption, error) {
	kind, ok := access.ParseStartKind(w.Kind)
	if !ok {
		return access.StartOption{}, lgrnet.NewFailureError(access.FailureInvalidStartOption, w.Kind)
	}
	return access.StartOption{
		Kind:     kind,
		FileMark: w.FileMark,
		RecordNo: w.RecordNo,
		Stamp:    w.Stamp,
		Backfill: w.Backfill,
		Offset:   w.Offset,
		Begin:    w.Begin,
		End:      w.End,
	}, nil
}

func parseOrder(s string) (access.Order, error) {
	o, ok := access.ParseOrder(s)
	if !ok {
		return 0, lgrnet.NewFailureError(access.FailureInvalidOrderOption, s)
	}
	return o, nil
}

func toAdviseReq(id, inbox string, p lgrnet.AdviseParams) adviseReq {
	return adviseReq{
		ID:        id,
		Inbox:     inbox,
		Station:   p.Station,
		Table:     p.Table,
		Columns:   p.Columns,
		Start:     toWireStart(p.Start),
		Order:     p.Order.String(),
		CacheSize: p.CacheSize,
	}
}

func (r adviseReq) params() (lgrnet.AdviseParams, error) {
	start, err := r.Start.option()
	if err != nil {
		return lgrnet.AdviseParams{}, err
	}
	order, err := parseOrder(r.Order)
	if err != nil {
		return lgrnet.AdviseParams{}, err
	}
	return lgrnet.AdviseParams{
		Station:   r.Station,
		Table:     r.Table,
		Columns:   r.Columns,
		Start:     start,
		Order:     order,
		CacheSize: r.CacheSize,
	}, nil
}

func toWirePosition(p access.RecordPosition) wirePosition {
	return wirePosition{FileMark: p.FileMark, RecordNo: p.RecordNo, Stamp: p.Stamp}
}

func (w wirePosition) position() access.RecordPosition {
	return access.RecordPosition{FileMark: w.FileMark, RecordNo: w.RecordNo, Stamp: w.Stamp}
}

func toWireRecords(recs []*record.Record) []wireRecord {
	out := make([]wireRecord, 0, len(recs))
	for _, r := range recs {
		values := make([]any, len(r.Values))
		for i, v := range r.Values {
			values[i] = v.Data
		}
		out = append(out, wireRecord{FileMark: r.FileMark, RecordNo: r.RecordNo, Stamp: r.Stamp, Values: values})
	}
	return out
}

// fillRecords shapes wire records with tmpl. A record whose value count does
// not match the template is rejected.
func fillRecords(tmpl *record.Record, recs []wireRecord) ([]*record.Record, error) {
	out := make([]*record.Record, 0, len(recs))
	for _, w := range recs {
		if len(w.Values) != tmpl.Len() {
			return nil, errors.WrapInvalid(errors.ErrDataCorrupted, "natsserver", "fillRecords", "value count")
		}
		r := tmpl.Clone()
		r.FileMark = w.FileMark
		r.RecordNo = w.RecordNo
		r.Stamp = w.Stamp
		for i, v := range w.Values {
			r.Values[i].Data = v
		}
		out = append(out, r)
	}
	return out, nil
}

var catalogKinds = map[lgrnet.CatalogEventKind]string{
	lgrnet.CatalogAdded:    "added",
	lgrnet.CatalogDeleted:  "deleted",
	lgrnet.CatalogShutDown: "shut_down",
	lgrnet.CatalogChanged:  "changed",
	lgrnet.CatalogSynced:   "synced",
	lgrnet.CatalogFailed:   "failed",
}

func toCatalogMsg(ev lgrnet.CatalogEvent) catalogMsg {
	return catalogMsg{
		Kind:       catalogKinds[ev.Kind],
		Station:    ev.Station.Name,
		Statistics: ev.Station.Statistics,
		Table:      ev.Table.Name,
		Descs:      ev.Table.Descs,
		Error:      toWireError(ev.Err),
	}
}

func (m catalogMsg) event() (lgrnet.CatalogEvent, bool) {
	for kind, name := range catalogKinds {
		if name == m.Kind {
			return lgrnet.CatalogEvent{
				Kind:    kind,
				Station: lgrnet.Station{Name: m.Station, Statistics: m.Statistics},
				Table:   lgrnet.TableDef{Name: m.Table, Descs: m.Descs},
				Err:     m.Error.err(),
			}, true
		}
	}
	return lgrnet.CatalogEvent{}, false
}
