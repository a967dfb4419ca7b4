package lgrnet

import (
	"context"

	"github.com/c360/lgraccess/errors"
	"github.com/c360/lgraccess/symbol"
	"github.com/c360/lgraccess/uri"
)

// SourceSymbol implements access.Source. Stations are watched from the first
// expansion on; each station watches its tables from its own first expansion.
func (s *Source) SourceSymbol() *symbol.Node {
	if s.root == nil {
		s.root = symbol.New(s.Name(), symbol.TypeLgrNetSource)
		s.root.SetConnected(s.IsConnected())
		s.root.SetExpander(symbol.ExpanderFunc(func(n *symbol.Node) {
			s.wantStations = true
			if !s.IsConnected() {
				n.ExpansionDone()
				return
			}
			s.watchStations()
		}))
	}
	return s.root
}

// openWatch runs open off the loop and routes its events back through fn.
// Events from a replaced session are dropped.
func (s *Source) openWatch(open func(ctx context.Context, srv Server, emit func(CatalogEvent)) (Watch, error), fn func(CatalogEvent), opened func(Watch, error)) {
	sess := s.sess
	loop := s.Loop()
	emit := func(ev CatalogEvent) {
		loop.Post(func() {
			if sess == s.sess {
				fn(ev)
			}
		})
	}
	var w Watch
	s.async(func(ctx context.Context, srv Server) error {
		var err error
		w, err = open(sess.ctx, srv, emit)
		return err
	}, func(err error) {
		if sess != s.sess {
			if w != nil {
				_ = w.Close()
			}
			return
		}
		opened(w, err)
	})
}

func (s *Source) watchStations() {
	if s.stationWatch != nil || s.root == nil {
		return
	}
	s.stationWatch = pendingWatch{}
	s.openWatch(func(ctx context.Context, srv Server, emit func(CatalogEvent)) (Watch, error) {
		return srv.WatchStations(ctx, emit)
	}, s.onStationEvent, func(w Watch, err error) {
		if err != nil {
			s.stationWatch = nil
			s.Log(s, "station watch failed: "+err.Error())
			s.root.ExpansionDone()
			return
		}
		s.stationWatch = w
	})
}

func (s *Source) onStationEvent(ev CatalogEvent) {
	root := s.root
	switch ev.Kind {
	case CatalogAdded:
		if root.FindChild(uri.Escape(ev.Station.Name)) != nil {
			return
		}
		typ := symbol.TypeStation
		if ev.Station.Statistics {
			typ = symbol.TypeStatisticsStation
		}
		n := symbol.New(ev.Station.Name, typ)
		n.SetConnected(true)
		n.SetExpander(symbol.ExpanderFunc(s.watchTables))
		root.AddChild(n)
	case CatalogDeleted, CatalogShutDown:
		n := root.FindChild(uri.Escape(ev.Station.Name))
		if n == nil {
			return
		}
		s.closeTableWatch(ev.Station.Name)
		s.tables.DeletePrefix(ev.Station.Name + ".")
		reason := symbol.ReasonStationDeleted
		if ev.Kind == CatalogShutDown {
			reason = symbol.ReasonStationShutDown
		}
		root.RemoveChild(n, reason)
	case CatalogSynced:
		root.ExpansionDone()
	case CatalogFailed:
		s.Log(s, "station watch failed: "+errString(ev.Err))
	}
}

// watchTables is the station expander
func (s *Source) watchTables(n *symbol.Node) {
	station := n.RawName()
	if _, ok := s.tableWatches[station]; ok {
		n.ExpansionDone()
		return
	}
	if !s.IsConnected() {
		n.ExpansionDone()
		return
	}
	s.tableWatches[station] = pendingWatch{}
	s.openWatch(func(ctx context.Context, srv Server, emit func(CatalogEvent)) (Watch, error) {
		return srv.WatchTables(ctx, station, emit)
	}, func(ev CatalogEvent) {
		s.onTableEvent(n, ev)
	}, func(w Watch, err error) {
		if err != nil {
			delete(s.tableWatches, station)
			s.Log(s, "table watch for "+station+" failed: "+err.Error())
			n.ExpansionDone()
			return
		}
		s.tableWatches[station] = w
	})
}

func (s *Source) onTableEvent(station *symbol.Node, ev CatalogEvent) {
	if station.IsRemoved() {
		return
	}
	key := station.RawName() + "." + ev.Table.Name
	switch ev.Kind {
	case CatalogAdded, CatalogChanged:
		_, _ = s.tables.Set(key, ev.Table)
		n := station.FindChild(uri.Escape(ev.Table.Name))
		if n == nil {
			n = symbol.New(ev.Table.Name, symbol.TypeTable)
			n.SetConnected(true)
			station.AddChild(n)
		} else {
			n.RemoveChildren(symbol.ReasonTableChanged)
		}
		addColumns(n, ev.Table)
	case CatalogDeleted:
		s.tables.Delete(key)
		if n := station.FindChild(uri.Escape(ev.Table.Name)); n != nil {
			station.RemoveChild(n, symbol.ReasonTableDeleted)
		}
	case CatalogSynced:
		station.ExpansionDone()
	case CatalogFailed:
		s.Log(s, "table watch for "+station.RawName()+" failed: "+errString(ev.Err))
	}
}

func addColumns(n *symbol.Node, t TableDef) {
	for _, d := range t.Descs {
		typ := symbol.TypeScalar
		if d.IsArray() {
			typ = symbol.TypeArray
		}
		c := symbol.New(d.Name, typ)
		c.SetInfo(symbol.Info{
			Units:       d.Units,
			Process:     d.Process,
			Description: d.Description,
			DataType:    d.Type,
		})
		c.SetConnected(true)
		c.Data = d
		n.AppendChild(c)
	}
}

func (s *Source) closeTableWatch(station string) {
	if w, ok := s.tableWatches[station]; ok {
		_ = w.Close()
		delete(s.tableWatches, station)
	}
}

func (s *Source) closeWatches() {
	if s.stationWatch != nil {
		_ = s.stationWatch.Close()
		s.stationWatch = nil
	}
	for station := range s.tableWatches {
		s.closeTableWatch(station)
	}
	s.tables.Clear()
}

// pendingWatch holds a watch slot while the server opens the real one
type pendingWatch struct{}

func (pendingWatch) Close() error { return nil }

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

// BreakdownURI implements access.Source
func (s *Source) BreakdownURI(u string) ([]symbol.Segment, error) {
	name, path, err := uri.Split(u)
	if err != nil {
		return nil, err
	}
	segs := []symbol.Segment{{Name: name, Type: symbol.TypeLgrNetSource}}
	names := uri.SplitPath(path)
	if len(names) > 3 {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "lgrnet.Source", "BreakdownURI", "path depth")
	}
	for i, n := range names {
		var typ symbol.Type
		switch i {
		case 0:
			typ = s.stationType(n)
		case 1:
			typ = symbol.TypeTable
		default:
			typ = s.columnType(names[0], names[1], n)
		}
		segs = append(segs, symbol.Segment{Name: n, Type: typ})
	}
	return segs, nil
}

func (s *Source) stationType(name string) symbol.Type {
	if s.root != nil {
		if n := s.root.FindChild(uri.Escape(name)); n != nil {
			return n.Type()
		}
	}
	return symbol.TypeStation
}

func (s *Source) columnType(station, table, column string) symbol.Type {
	base, subs, err := uri.ParseSubscripts(column)
	if err != nil || len(subs) > 0 {
		return symbol.TypeScalar
	}
	if def, ok := s.tables.Get(station + "." + table); ok {
		for _, d := range def.Descs {
			if d.Name == base && d.IsArray() {
				return symbol.TypeArray
			}
		}
	}
	return symbol.TypeScalar
}
