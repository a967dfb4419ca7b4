package datafile

import (
	"github.com/c360/lgraccess/errors"
	"github.com/c360/lgraccess/symbol"
	"github.com/c360/lgraccess/uri"
)

// SourceSymbol implements access.Source. The tree is Source, Table, Column.
func (s *Source) SourceSymbol() *symbol.Node {
	if s.root == nil {
		s.root = symbol.New(s.Name(), symbol.TypeDataFileSource)
		s.root.SetConnected(s.IsConnected())
		if s.opened {
			s.syncSymbols(s.header)
		}
	}
	return s.root
}

// syncSymbols reconciles the table nodes with h. Tables that changed shape
// have their columns replaced wholesale.
func (s *Source) syncSymbols(h Header) {
	if s.root == nil {
		return
	}
	root := s.root
	for _, n := range root.Children() {
		if _, ok := h.Table(n.RawName()); !ok {
			root.RemoveChild(n, symbol.ReasonTableDeleted)
		}
	}
	for _, t := range h.Tables {
		n := root.FindChild(uri.Escape(t.Name))
		if n == nil {
			n = symbol.New(t.Name, symbol.TypeTable)
			n.Data = t
			root.AppendChild(n)
			addColumns(n, t)
			continue
		}
		if old, ok := n.Data.(Table); ok && sameDescs(old.Descs, t.Descs) {
			continue
		}
		n.RemoveChildren(symbol.ReasonTableChanged)
		n.Data = t
		addColumns(n, t)
	}
	root.SetConnected(true)
}

func addColumns(n *symbol.Node, t Table) {
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
			ReadOnly:    true,
		})
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
	segs := []symbol.Segment{{Name: name, Type: symbol.TypeDataFileSource}}
	names := uri.SplitPath(path)
	if len(names) > 2 {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "datafile.Source", "BreakdownURI", "path depth")
	}
	if len(names) == 0 {
		return segs, nil
	}
	segs = append(segs, symbol.Segment{Name: names[0], Type: symbol.TypeTable})
	if len(names) == 2 {
		segs = append(segs, symbol.Segment{Name: names[1], Type: s.columnType(names[0], names[1])})
	}
	return segs, nil
}

func (s *Source) columnType(table, column string) symbol.Type {
	base, subs, err := uri.ParseSubscripts(column)
	if err != nil || len(subs) > 0 {
		return symbol.TypeScalar
	}
	if t, ok := s.header.Table(table); ok {
		for _, d := range t.Descs {
			if d.Name == base && d.IsArray() {
				return symbol.TypeArray
			}
		}
	}
	return symbol.TypeScalar
}
