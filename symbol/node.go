package symbol

import (
	"sort"

	"github.com/c360/lgraccess/uri"
)

// Listener receives tree change notifications. It is installed on a root node
// and sees changes anywhere below it.
type Listener interface {
	SymbolAdded(n *Node)
	SymbolRemoved(n *Node, reason RemovalReason)
	SymbolConnectedChanged(n *Node)
	SymbolEnabledChanged(n *Node)
	ExpansionComplete(n *Node)
}

// Expander discovers the children of a node. Implementations add children and
// call Node.ExpansionDone when finished, possibly asynchronously.
type Expander interface {
	Expand(n *Node)
}

// ExpanderFunc adapts a function to Expander
type ExpanderFunc func(n *Node)

// Expand calls f(n)
func (f ExpanderFunc) Expand(n *Node) { f(n) }

// Info carries the optional descriptive attributes of a node
type Info struct {
	Units       string
	Process     string
	Description string
	DataType    string
	ReadOnly    bool
}

// Node is one entry of the symbol tree
type Node struct {
	name     string
	typ      Type
	parent   *Node
	children []*Node
	info     Info

	connected bool
	enabled   bool
	expanded  bool
	removed   bool

	expander Expander
	listener Listener

	// Data holds variant specific payload, for example the column descriptor
	Data any
}

// New creates a detached node. name is the unescaped name.
func New(name string, typ Type) *Node {
	return &Node{name: uri.Escape(name), typ: typ, enabled: true}
}

// Name returns the escaped name
func (n *Node) Name() string { return n.name }

// RawName returns the unescaped name
func (n *Node) RawName() string { return uri.Unescape(n.name) }

// Type returns the symbol type
func (n *Node) Type() Type { return n.typ }

// Parent returns the parent, or nil for a root
func (n *Node) Parent() *Node { return n.parent }

// Info returns the descriptive attributes
func (n *Node) Info() Info { return n.info }

// SetInfo replaces the descriptive attributes
func (n *Node) SetInfo(info Info) { n.info = info }

// HasUnits reports whether units are known
func (n *Node) HasUnits() bool { return n.info.Units != "" }

// HasProcess reports whether the process string is known
func (n *Node) HasProcess() bool { return n.info.Process != "" }

// HasDescription reports whether a description is known
func (n *Node) HasDescription() bool { return n.info.Description != "" }

// HasDataType reports whether the data type is known
func (n *Node) HasDataType() bool { return n.info.DataType != "" }

// SetExpander installs the expansion hook
func (n *Node) SetExpander(e Expander) { n.expander = e }

// CanExpand reports whether the node can discover children
func (n *Node) CanExpand() bool { return n.expander != nil }

// IsExpanded reports whether an expansion has completed at least once
func (n *Node) IsExpanded() bool { return n.expanded }

// IsRemoved reports whether the node was removed from its tree
func (n *Node) IsRemoved() bool { return n.removed }

// SetListener installs the change listener. Only meaningful on a root.
func (n *Node) SetListener(l Listener) { n.listener = l }

// Root walks up to the root of the tree
func (n *Node) Root() *Node {
	for n.parent != nil {
		n = n.parent
	}
	return n
}

func (n *Node) rootListener() Listener {
	if n.removed {
		return nil
	}
	return n.Root().listener
}

// Children returns a copy of the child list
func (n *Node) Children() []*Node {
	return append([]*Node(nil), n.children...)
}

// ChildCount returns the number of children
func (n *Node) ChildCount() int { return len(n.children) }

// FindChild looks up a child by escaped name
func (n *Node) FindChild(name string) *Node {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

// IsDescendantOf reports whether a is a proper ancestor of n
func (n *Node) IsDescendantOf(a *Node) bool {
	for p := n.parent; p != nil; p = p.parent {
		if p == a {
			return true
		}
	}
	return false
}

// Path returns the segments from the root down to n, root included
func (n *Node) Path() []Segment {
	var segs []Segment
	for p := n; p != nil; p = p.parent {
		segs = append(segs, Segment{Name: p.RawName(), Type: p.typ})
	}
	for i, j := 0, len(segs)-1; i < j; i, j = i+1, j-1 {
		segs[i], segs[j] = segs[j], segs[i]
	}
	return segs
}

// URI formats the node as a data-item URI
func (n *Node) URI() string {
	return FormatURI(n.Path())
}

// FormatURI joins broken-down segments back into a URI. The first segment
// names the source.
func FormatURI(segs []Segment) string {
	if len(segs) == 0 {
		return ""
	}
	names := make([]string, 0, len(segs)-1)
	for _, s := range segs[1:] {
		names = append(names, s.Name)
	}
	return uri.Format(segs[0].Name, names...)
}

// AddChild inserts child in name order
func (n *Node) AddChild(child *Node) {
	i := sort.Search(len(n.children), func(i int) bool {
		return n.children[i].name >= child.name
	})
	n.children = append(n.children, nil)
	copy(n.children[i+1:], n.children[i:])
	n.children[i] = child
	n.attach(child)
}

// AppendChild adds child after the existing children
func (n *Node) AppendChild(child *Node) {
	n.children = append(n.children, child)
	n.attach(child)
}

func (n *Node) attach(child *Node) {
	child.parent = n
	child.removed = false
	if l := n.rootListener(); l != nil {
		l.SymbolAdded(child)
	}
}

// RemoveChild detaches child and reports the reason. The removed node keeps
// its parent link so its URI can still be formatted.
func (n *Node) RemoveChild(child *Node, reason RemovalReason) bool {
	for i, c := range n.children {
		if c != child {
			continue
		}
		n.children = append(n.children[:i], n.children[i+1:]...)
		if l := n.rootListener(); l != nil {
			l.SymbolRemoved(child, reason)
		}
		child.removed = true
		return true
	}
	return false
}

// RemoveChildren removes every child in order with the same reason
func (n *Node) RemoveChildren(reason RemovalReason) {
	for len(n.children) > 0 {
		n.RemoveChild(n.children[0], reason)
	}
}

// Connected reports the connectivity flag
func (n *Node) Connected() bool { return n.connected }

// SetConnected updates connectivity, notifying on change
func (n *Node) SetConnected(connected bool) {
	if n.connected == connected {
		return
	}
	n.connected = connected
	if l := n.rootListener(); l != nil {
		l.SymbolConnectedChanged(n)
	}
}

// Enabled reports the enabled flag
func (n *Node) Enabled() bool { return n.enabled }

// SetEnabled updates the enabled flag, notifying on change
func (n *Node) SetEnabled(enabled bool) {
	if n.enabled == enabled {
		return
	}
	n.enabled = enabled
	if l := n.rootListener(); l != nil {
		l.SymbolEnabledChanged(n)
	}
}

// Expand starts discovery of the node's children. Nodes without an expander
// complete immediately.
func (n *Node) Expand() {
	if n.expander == nil {
		n.ExpansionDone()
		return
	}
	n.expander.Expand(n)
}

// ExpansionDone marks expansion complete and notifies the listener
func (n *Node) ExpansionDone() {
	n.expanded = true
	if l := n.rootListener(); l != nil {
		l.ExpansionComplete(n)
	}
}
