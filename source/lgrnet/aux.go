package lgrnet

import (
	"context"

	"github.com/c360/lgraccess/access"
	"github.com/c360/lgraccess/uri"
)

func stationOf(u string) (string, access.Failure) {
	_, path, err := uri.Split(u)
	if err != nil {
		return "", access.FailureInvalidSource
	}
	segs := uri.SplitPath(path)
	if len(segs) == 0 || segs[0] == "" {
		return "", access.FailureInvalidStationName
	}
	return segs[0], access.FailureUnknown
}

func (s *Source) postFailure(f access.Failure, done func(access.Failure)) {
	s.Loop().Post(func() { done(f) })
}

// SetVariable implements access.VariableSetter
func (s *Source) SetVariable(u, value string, done func(access.Failure)) {
	t, f := parseTarget(u)
	if f == access.FailureUnknown && t.column == "" {
		f = access.FailureInvalidColumnName
	}
	if f != access.FailureUnknown {
		s.postFailure(f, done)
		return
	}
	s.async(func(ctx context.Context, srv Server) error {
		return srv.SetVariable(ctx, t.station, t.table, t.column, value)
	}, func(err error) { done(FailureOf(err)) })
}

// CheckClock implements access.ClockChecker
func (s *Source) CheckClock(stationURI string, set bool, done func(access.ClockResult, access.Failure)) {
	station, f := stationOf(stationURI)
	if f != access.FailureUnknown {
		s.Loop().Post(func() { done(access.ClockResult{}, f) })
		return
	}
	var res access.ClockResult
	s.async(func(ctx context.Context, srv Server) error {
		var err error
		res, err = srv.CheckClock(ctx, station, set)
		return err
	}, func(err error) { done(res, FailureOf(err)) })
}

// SendFile implements access.FileSender
func (s *Source) SendFile(stationURI, name string, data []byte, done func(access.Failure)) {
	station, f := stationOf(stationURI)
	if f != access.FailureUnknown {
		s.postFailure(f, done)
		return
	}
	s.async(func(ctx context.Context, srv Server) error {
		return srv.SendFile(ctx, station, name, data)
	}, func(err error) { done(FailureOf(err)) })
}

// ReceiveFile implements access.FileReceiver
func (s *Source) ReceiveFile(stationURI, name string, done func([]byte, access.Failure)) {
	station, f := stationOf(stationURI)
	if f != access.FailureUnknown {
		s.Loop().Post(func() { done(nil, f) })
		return
	}
	var data []byte
	s.async(func(ctx context.Context, srv Server) error {
		var err error
		data, err = srv.ReceiveFile(ctx, station, name)
		return err
	}, func(err error) { done(data, FailureOf(err)) })
}

// TableRange implements access.Source
func (s *Source) TableRange(u string, done func(access.TableRange, access.Failure)) {
	t, f := parseTarget(u)
	if f != access.FailureUnknown {
		s.Loop().Post(func() { done(access.TableRange{}, f) })
		return
	}
	var rng access.TableRange
	s.async(func(ctx context.Context, srv Server) error {
		var err error
		rng, err = srv.TableRange(ctx, t.station, t.table)
		return err
	}, func(err error) { done(rng, FailureOf(err)) })
}

// OpenTerminal implements access.TerminalOpener. Terminal traffic reaches h
// on the loop.
func (s *Source) OpenTerminal(stationURI string, h access.TerminalHandler) (access.Terminal, error) {
	station, f := stationOf(stationURI)
	if f != access.FailureUnknown {
		return nil, NewFailureError(f, stationURI)
	}
	srv := s.server()
	if srv == nil {
		return nil, NewFailureError(access.FailureConnectionFailed, "not connected")
	}
	ctx, cancel := context.WithTimeout(s.sess.ctx, s.timeout)
	defer cancel()
	return srv.OpenTerminal(ctx, station, &loopTerminalHandler{loop: s.Loop(), h: h})
}

type loopTerminalHandler struct {
	loop *access.Loop
	h    access.TerminalHandler
}

func (l *loopTerminalHandler) OnTerminalData(data []byte) {
	l.loop.Post(func() { l.h.OnTerminalData(data) })
}

func (l *loopTerminalHandler) OnTerminalClosed(f access.Failure) {
	l.loop.Post(func() { l.h.OnTerminalClosed(f) })
}
