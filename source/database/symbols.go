package database

import (
	"github.com/c360/lgraccess/errors"
	"github.com/c360/lgraccess/record"
	"github.com/c360/lgraccess/symbol"
	"github.com/c360/lgraccess/uri"
)

// SourceSymbol implements access.Source. The tree is Source, Station, Table,
// Column and mirrors the catalog after every refresh.
func (s *Source) SourceSymbol() *symbol.Node {
	if s.root == nil {
		s.root = symbol.New(s.Name(), symbol.TypeDatabaseSource)
		s.root.SetConnected(s.IsConnected())
		if s.cat != nil {
			s.syncSymbols(s.cat)
		}
	}
	return s.root
}

func (s *Source) syncSymbols(c *catalog) {
	if s.root == nil {
		return
	}
	root := s.root
	for _, stn := range root.Children() {
		if !c.hasStation(stn.RawName()) {
			root.RemoveChild(stn, symbol.ReasonStationDeleted)
		}
	}
	for _, name := range c.stations {
		stn := root.FindChild(uri.Escape(name))
		if stn == nil {
			stn = symbol.New(name, symbol.TypeStation)
			root.AddChild(stn)
		}
		syncTables(stn, c)
	}
	root.SetConnected(true)
}

func syncTables(stn *symbol.Node, c *catalog) {
	station := stn.RawName()
	for _, n := range stn.Children() {
		if _, ok := c.table(station, n.RawName()); !ok {
			stn.RemoveChild(n, symbol.ReasonTableDeleted)
		}
	}
	for _, t := range c.stationTables(station) {
		n := stn.FindChild(uri.Escape(t.Name))
		if n == nil {
			n = symbol.New(t.Name, symbol.TypeTable)
			n.Data = t
			stn.AddChild(n)
			addColumns(n, t.Descs)
			continue
		}
		if old, ok := n.Data.(*tableInfo); ok && sameDescs(old.Descs, t.Descs) {
			n.Data = t
			continue
		}
		n.RemoveChildren(symbol.ReasonTableChanged)
		n.Data = t
		addColumns(n, t.Descs)
	}
}

func addColumns(n *symbol.Node, descs []*record.ValueDesc) {
	for _, d := range descs {
		typ := symbol.TypeScalar
		if d.IsArray() {
			typ = symbol.TypeArray
		}
		c := symbol.New(d.Name, typ)
		c.SetInfo(symbol.Info{DataType: d.Type, ReadOnly: true})
		c.Data = d
		n.AppendChild(c)
	}
}

// BreakdownURI implements access.Source
func (s *Source) BreakdownURI(u string) ([]symbol.Segment, error) {
	name, path, err := uri.Split(u)
	if err != nil {
		return nil, err
	}
	segs := []symbol.Segment{{Name: name, Type: symbol.TypeDatabaseSource}}
	names := uri.SplitPath(path)
	if len(names) > 3 {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "database.Source", "BreakdownURI", "path depth")
	}
	for i, n := range names {
		switch i {
		case 0:
			segs = append(segs, symbol.Segment{Name: n, Type: symbol.TypeStation})
		case 1:
			segs = append(segs, symbol.Segment{Name: n, Type: symbol.TypeTable})
		case 2:
			segs = append(segs, symbol.Segment{Name: n, Type: s.columnType(names[0], names[1], n)})
		}
	}
	return segs, nil
}

func (s *Source) columnType(station, table, column string) symbol.Type {
	base, subs, err := uri.ParseSubscripts(column)
	if err != nil || len(subs) > 0 {
		return symbol.TypeScalar
	}
	if t, ok := s.cat.table(station, table); ok {
		for _, d := range t.Descs {
			if d.Name == base && d.IsArray() {
				return symbol.TypeArray
			}
		}
	}
	return symbol.TypeScalar
}
