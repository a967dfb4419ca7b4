package testutil

import (
	"github.com/c360/lgraccess/access"
	"github.com/c360/lgraccess/record"
	"github.com/c360/lgraccess/symbol"
	"github.com/c360/lgraccess/uri"
)

// FakeSource is an in-memory access.Source. Compatible requests share a
// cursor until it is started; Push delivers records to every started cursor.
type FakeSource struct {
	access.SourceBase

	Template *record.Record
	Range    access.TableRange

	// Connects and CursorsOpened count calls for assertions
	Connects      int
	CursorsOpened int

	cursors []*fakeCursor
	root    *symbol.Node
	props   map[string]string
}

type fakeCursor struct {
	requests []*access.Request
	started  bool
}

// NewFakeSource creates a source whose records are shaped by template
func NewFakeSource(name string, template *record.Record) *FakeSource {
	return &FakeSource{
		SourceBase: access.NewSourceBase(name, access.KindDatabase, nil),
		Template:   template,
		props:      map[string]string{},
	}
}

// Connect implements access.Source
func (s *FakeSource) Connect() {
	s.Connects++
	s.SetConnectionState(s, access.Connecting, 0, nil)
	s.SetConnectionState(s, access.Connected, 0, nil)
	if s.root != nil {
		s.root.SetConnected(true)
	}
}

// Disconnect implements access.Source
func (s *FakeSource) Disconnect() {
	s.SetConnectionState(s, access.Disconnected, access.DisconnectByApplication, nil)
	if s.root != nil {
		s.root.SetConnected(false)
	}
}

// Start implements access.Source
func (s *FakeSource) Start() {
	s.SetStarted(true)
	s.Connect()
}

// Stop implements access.Source
func (s *FakeSource) Stop() {
	s.SetStarted(false)
	s.CancelTimers()
	s.Disconnect()
}

// AddRequest implements access.Source
func (s *FakeSource) AddRequest(r *access.Request, moreToFollow bool) {
	r.SetState(s, access.StatePending)
	var target *fakeCursor
	for _, c := range s.cursors {
		if !c.started && c.requests[0].IsCompatible(r) {
			target = c
			break
		}
	}
	if target == nil {
		target = &fakeCursor{}
		s.cursors = append(s.cursors, target)
	}
	target.requests = append(target.requests, r)
	if !moreToFollow {
		s.start(target)
	}
}

// RemoveRequest implements access.Source
func (s *FakeSource) RemoveRequest(r *access.Request) {
	for i, c := range s.cursors {
		for j, member := range c.requests {
			if member != r {
				continue
			}
			c.requests = append(c.requests[:j], c.requests[j+1:]...)
			if len(c.requests) == 0 {
				s.cursors = append(s.cursors[:i], s.cursors[i+1:]...)
			}
			return
		}
	}
}

// RemoveAllRequests implements access.Source
func (s *FakeSource) RemoveAllRequests() {
	s.cursors = nil
}

// ActivateRequests implements access.Source
func (s *FakeSource) ActivateRequests() {
	for _, c := range s.cursors {
		if !c.started {
			s.start(c)
		}
	}
}

func (s *FakeSource) start(c *fakeCursor) {
	c.started = true
	s.CursorsOpened++
	m := s.Manager()
	var kept []*access.Request
	for _, r := range c.requests {
		_, path, _ := uri.Split(r.URI())
		segs := uri.SplitPath(path)
		column := ""
		if len(segs) > 1 {
			column = segs[len(segs)-1]
		}
		if !r.SetValueIndices(s.Template, column) {
			access.FailRequest(m, s, r, access.FailureInvalidColumnName)
			continue
		}
		kept = append(kept, r)
		r.SetState(s, access.StateStarted)
		access.ReportSinkReady(m, r, s.Template)
	}
	c.requests = kept
}

// Cursors returns the number of open cursors
func (s *FakeSource) Cursors() int {
	return len(s.cursors)
}

// Push fans records out to every started cursor
func (s *FakeSource) Push(records ...*record.Record) {
	for _, c := range s.cursors {
		if c.started && len(c.requests) > 0 {
			access.ReportSinkRecords(s.Manager(), c.requests, records)
		}
	}
}

// Fail fails every member of every cursor and schedules a retry
func (s *FakeSource) Fail(f access.Failure) {
	for _, c := range s.cursors {
		for _, r := range c.requests {
			access.FailRequest(s.Manager(), s, r, f)
		}
	}
	s.cursors = nil
	s.ScheduleRetry(s)
}

// SourceSymbol implements access.Source
func (s *FakeSource) SourceSymbol() *symbol.Node {
	if s.root == nil {
		s.root = symbol.New(s.Name(), symbol.TypeDatabaseSource)
		s.root.SetConnected(s.IsConnected())
	}
	return s.root
}

// BreakdownURI implements access.Source
func (s *FakeSource) BreakdownURI(u string) ([]symbol.Segment, error) {
	name, path, err := uri.Split(u)
	if err != nil {
		return nil, err
	}
	segs := []symbol.Segment{{Name: name, Type: symbol.TypeDatabaseSource}}
	names := uri.SplitPath(path)
	for i, n := range names {
		typ := symbol.TypeTable
		if i == len(names)-1 && i > 0 {
			typ = symbol.TypeScalar
		}
		segs = append(segs, symbol.Segment{Name: n, Type: typ})
	}
	return segs, nil
}

// TableRange implements access.Source
func (s *FakeSource) TableRange(_ string, done func(access.TableRange, access.Failure)) {
	rng := s.Range
	s.Loop().Post(func() { done(rng, access.FailureUnknown) })
}

// ReadProperties implements access.Source
func (s *FakeSource) ReadProperties(p *access.Properties) error {
	s.props = p.Map()
	return nil
}

// WriteProperties implements access.Source
func (s *FakeSource) WriteProperties(p *access.Properties) {
	for k, v := range s.props {
		p.Set(k, v)
	}
}
