package access

import (
	"github.com/c360/lgraccess/record"
)

// Sink receives request notifications. Implementations call Track on
// construction and Release when they stop accepting calls.
//
// Records passed to OnSinkRecords belong to the source and may be reused once
// the call returns; sinks copy what they keep.
type Sink interface {
	OnSinkReady(m *Manager, r *Request, template *record.Record)
	OnSinkRecords(m *Manager, requests []*Request, records []*record.Record)
	OnSinkFailure(m *Manager, r *Request, f Failure)
	OnRequestStateChange(m *Manager, r *Request)
}

// Supervisor intercepts record deliveries. It sees each sink partition before
// the sink does, together with the requests still waiting for delivery, and
// returns the records to deliver and the remaining requests for the following
// partitions.
type Supervisor interface {
	SuperviseRecords(m *Manager, partition, remaining []*Request, records []*record.Record) ([]*Request, []*record.Record)
}

// ReportSinkRecords delivers records to every live sink referenced by
// requests, one OnSinkRecords call per sink carrying only that sink's
// requests. Requests pending removal are skipped.
func ReportSinkRecords(m *Manager, requests []*Request, records []*record.Record) {
	if len(records) == 0 {
		return
	}
	remaining := append([]*Request(nil), requests...)
	for len(remaining) > 0 {
		sink := remaining[0].Sink()
		var partition, rest []*Request
		for _, r := range remaining {
			switch {
			case r.Sink() != sink:
				rest = append(rest, r)
			case r.State() != StateRemovePending:
				partition = append(partition, r)
			}
		}
		remaining = rest
		if len(partition) == 0 {
			continue
		}
		if !IsLive(sink) {
			if m != nil {
				for _, r := range partition {
					m.RemoveRequest(r)
				}
			}
			continue
		}

		batch := records
		if sup := m.supervisorOrNil(); sup != nil {
			remaining, batch = sup.SuperviseRecords(m, partition, remaining, batch)
			records = batch
			if len(batch) == 0 {
				continue
			}
		}
		if IsLive(sink) {
			sink.OnSinkRecords(m, partition, batch)
			m.recordDelivered(partition[0].Source(), len(batch))
		}
	}
}

// ReportSinkReady tells a live sink that r has resolved its record shape
func ReportSinkReady(m *Manager, r *Request, template *record.Record) {
	if sink := r.Sink(); sink != nil && IsLive(sink) {
		sink.OnSinkReady(m, r, template)
	}
}

// ReportSinkFailure tells a live sink that r failed
func ReportSinkFailure(m *Manager, r *Request, f Failure) {
	m.recordFailure(r.Source(), f)
	if sink := r.Sink(); sink != nil && IsLive(sink) {
		sink.OnSinkFailure(m, r, f)
	}
}

// FailRequest moves r to Error and reports f to its sink
func FailRequest(m *Manager, source Source, r *Request, f Failure) {
	r.SetState(source, StateError)
	ReportSinkFailure(m, r, f)
}
