package symbol

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	events []string
}

func (r *recorder) SymbolAdded(n *Node) { r.events = append(r.events, "added "+n.URI()) }
func (r *recorder) SymbolRemoved(n *Node, reason RemovalReason) {
	r.events = append(r.events, fmt.Sprintf("removed %s %s", n.URI(), reason))
}
func (r *recorder) SymbolConnectedChanged(n *Node) {
	r.events = append(r.events, fmt.Sprintf("connected %s %v", n.URI(), n.Connected()))
}
func (r *recorder) SymbolEnabledChanged(n *Node) {
	r.events = append(r.events, fmt.Sprintf("enabled %s %v", n.URI(), n.Enabled()))
}
func (r *recorder) ExpansionComplete(n *Node) { r.events = append(r.events, "expanded "+n.URI()) }

func TestNode_SortedInsertion(t *testing.T) {
	root := New("lgr", TypeLgrNetSource)
	for _, name := range []string{"Charlie", "Alpha", "Bravo"} {
		root.AddChild(New(name, TypeStation))
	}

	var names []string
	for _, c := range root.Children() {
		names = append(names, c.Name())
	}
	assert.Equal(t, []string{"Alpha", "Bravo", "Charlie"}, names)
}

func TestNode_AppendPreservesOrder(t *testing.T) {
	tbl := New("Hourly", TypeTable)
	for _, name := range []string{"TIMESTAMP", "RECORD", "Batt"} {
		tbl.AppendChild(New(name, TypeScalar))
	}
	assert.Equal(t, "TIMESTAMP", tbl.Children()[0].Name())
	assert.Equal(t, "Batt", tbl.Children()[2].Name())
}

func TestNode_EscapedNamesAndURI(t *testing.T) {
	root := New("lgr", TypeLgrNetSource)
	stn := New("CR1000", TypeStation)
	root.AddChild(stn)
	tbl := New("Hourly", TypeTable)
	stn.AppendChild(tbl)
	col := New("Temp.Avg", TypeScalar)
	tbl.AppendChild(col)

	assert.Equal(t, `Temp\.Avg`, col.Name())
	assert.Equal(t, "Temp.Avg", col.RawName())
	assert.Equal(t, `lgr:CR1000.Hourly.Temp\.Avg`, col.URI())
	assert.Same(t, col, tbl.FindChild(`Temp\.Avg`))
	assert.True(t, col.IsDescendantOf(root))
	assert.False(t, root.IsDescendantOf(col))
	assert.Same(t, root, col.Root())

	segs := col.Path()
	require.Len(t, segs, 4)
	assert.Equal(t, TypeStation, segs[1].Type)
	assert.Equal(t, col.URI(), FormatURI(segs))
}

func TestNode_ListenerEvents(t *testing.T) {
	rec := &recorder{}
	root := New("lgr", TypeLgrNetSource)
	root.SetListener(rec)

	stn := New("stn", TypeStation)
	root.AddChild(stn)
	tbl := New("Hourly", TypeTable)
	stn.AppendChild(tbl)
	stn.RemoveChild(tbl, ReasonTableDeleted)
	stn.AppendChild(New("Hourly", TypeTable))
	stn.SetConnected(true)
	stn.SetConnected(true)
	stn.SetEnabled(false)
	stn.Expand()

	assert.Equal(t, []string{
		"added lgr:stn",
		"added lgr:stn.Hourly",
		"removed lgr:stn.Hourly table_deleted",
		"added lgr:stn.Hourly",
		"connected lgr:stn true",
		"enabled lgr:stn false",
		"expanded lgr:stn",
	}, rec.events)
	assert.True(t, tbl.IsRemoved())
	assert.True(t, stn.IsExpanded())
}

func TestNode_RemoveChildrenWholesale(t *testing.T) {
	rec := &recorder{}
	tbl := New("Hourly", TypeTable)
	root := New("f", TypeDataFileSource)
	root.SetListener(rec)
	root.AppendChild(tbl)
	tbl.AppendChild(New("A", TypeScalar))
	tbl.AppendChild(New("B", TypeScalar))
	rec.events = nil

	tbl.RemoveChildren(ReasonTableChanged)
	assert.Equal(t, 0, tbl.ChildCount())
	assert.Equal(t, []string{
		"removed f:Hourly.A table_changed",
		"removed f:Hourly.B table_changed",
	}, rec.events)
	assert.True(t, ReasonTableChanged.Replaced())
	assert.False(t, ReasonTableDeleted.Replaced())
}

func TestNode_ExpanderFunc(t *testing.T) {
	n := New("stn", TypeStation)
	assert.False(t, n.CanExpand())

	called := false
	n.SetExpander(ExpanderFunc(func(n *Node) { called = true }))
	assert.True(t, n.CanExpand())
	n.Expand()
	assert.True(t, called)
	assert.False(t, n.IsExpanded())
}
