package testutil

import (
	"sync"

	"github.com/c360/lgraccess/access"
	"github.com/c360/lgraccess/record"
)

// Batch is one OnSinkRecords call
type Batch struct {
	Requests []*access.Request
	Records  []*record.Record
}

// FailureEvent is one OnSinkFailure call
type FailureEvent struct {
	Request *access.Request
	Failure access.Failure
}

// StateEvent is one OnRequestStateChange call
type StateEvent struct {
	Request *access.Request
	State   access.State
}

// RecordingSink records every sink callback. Records are cloned on receipt.
type RecordingSink struct {
	mu       sync.Mutex
	ready    []*access.Request
	batches  []Batch
	failures []FailureEvent
	states   []StateEvent

	// OnRecords, when set, runs inside OnSinkRecords after recording
	OnRecords func(m *access.Manager, requests []*access.Request)
}

// NewRecordingSink creates a tracked sink
func NewRecordingSink() *RecordingSink {
	s := &RecordingSink{}
	access.Track(s)
	return s
}

// Close releases the sink
func (s *RecordingSink) Close() {
	access.Release(s)
}

// OnSinkReady implements access.Sink
func (s *RecordingSink) OnSinkReady(_ *access.Manager, r *access.Request, _ *record.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = append(s.ready, r)
}

// OnSinkRecords implements access.Sink
func (s *RecordingSink) OnSinkRecords(m *access.Manager, requests []*access.Request, records []*record.Record) {
	b := Batch{Requests: append([]*access.Request(nil), requests...)}
	for _, rec := range records {
		b.Records = append(b.Records, rec.Clone())
	}
	s.mu.Lock()
	s.batches = append(s.batches, b)
	hook := s.OnRecords
	s.mu.Unlock()
	if hook != nil {
		hook(m, requests)
	}
}

// OnSinkFailure implements access.Sink
func (s *RecordingSink) OnSinkFailure(_ *access.Manager, r *access.Request, f access.Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, FailureEvent{Request: r, Failure: f})
}

// OnRequestStateChange implements access.Sink
func (s *RecordingSink) OnRequestStateChange(_ *access.Manager, r *access.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, StateEvent{Request: r, State: r.State()})
}

// Ready returns the requests that reported ready
func (s *RecordingSink) Ready() []*access.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*access.Request(nil), s.ready...)
}

// Batches returns every record batch received
func (s *RecordingSink) Batches() []Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Batch(nil), s.batches...)
}

// Failures returns every failure received
func (s *RecordingSink) Failures() []FailureEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]FailureEvent(nil), s.failures...)
}

// States returns every state change received
func (s *RecordingSink) States() []StateEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StateEvent(nil), s.states...)
}

// RecordNos flattens all batches into their record numbers
func (s *RecordingSink) RecordNos() []uint32 {
	var nos []uint32
	for _, b := range s.Batches() {
		for _, rec := range b.Records {
			nos = append(nos, rec.RecordNo)
		}
	}
	return nos
}

// Records flattens all batches
func (s *RecordingSink) Records() []*record.Record {
	var recs []*record.Record
	for _, b := range s.Batches() {
		recs = append(recs, b.Records...)
	}
	return recs
}

// Reset clears everything recorded so far
func (s *RecordingSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready, s.batches, s.failures, s.states = nil, nil, nil, nil
}
