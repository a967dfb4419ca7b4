// Package browser maintains the forest of source symbol trees and relays
// every tree change to its clients as loop tasks.
//
// A Browser wraps the root symbol of every source registered with its
// Manager and follows sources as they are added and removed. Tree mutations
// are reported by the symbol package synchronously; the Browser turns each
// report into a posted event, so clients never run inside a mutation and a
// removed node stays valid in the event that carries it.
package browser

import (
	"log/slog"

	"github.com/c360/lgraccess/access"
	"github.com/c360/lgraccess/errors"
	"github.com/c360/lgraccess/symbol"
	"github.com/c360/lgraccess/uri"
)

// Client receives symbol notifications on the loop. Clients must be tracked
// with access.Track before AddClient.
type Client interface {
	OnSymbolAdded(b *Browser, n *symbol.Node)
	OnSymbolRemoved(b *Browser, n *symbol.Node, reason symbol.RemovalReason)
	OnSymbolConnectedChanged(b *Browser, n *symbol.Node)
	OnSymbolEnabledChanged(b *Browser, n *symbol.Node)
	OnExpansionComplete(b *Browser, n *symbol.Node)
}

// Browser is the symbol forest of one Manager. Use only from the loop.
type Browser struct {
	access.NopClient

	manager *access.Manager
	loop    *access.Loop
	logger  *slog.Logger

	roots   []*symbol.Node
	sources map[*symbol.Node]access.Source
	clients []Client
	closed  bool
}

var (
	_ access.ManagerClient = (*Browser)(nil)
	_ symbol.Listener      = (*Browser)(nil)
)

// New wraps every source of m and follows source additions and removals
func New(m *access.Manager, logger *slog.Logger) (*Browser, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Browser{
		manager: m,
		loop:    m.Loop(),
		logger:  logger.With("component", "browser"),
		sources: make(map[*symbol.Node]access.Source),
	}
	access.Track(b)
	if err := m.AddClient(b); err != nil {
		access.Release(b)
		return nil, errors.Wrap(err, "Browser", "New", "manager client registration")
	}
	for _, s := range m.Sources() {
		b.wrap(s)
	}
	return b, nil
}

// Close detaches the browser from its manager and source trees
func (b *Browser) Close() {
	if b.closed {
		return
	}
	b.closed = true
	b.manager.RemoveClient(b)
	for _, root := range b.roots {
		root.SetListener(nil)
	}
	b.roots = nil
	b.sources = make(map[*symbol.Node]access.Source)
	access.Release(b)
}

// Manager returns the manager the browser follows
func (b *Browser) Manager() *access.Manager { return b.manager }

// Roots returns the source symbols in registration order
func (b *Browser) Roots() []*symbol.Node {
	return append([]*symbol.Node(nil), b.roots...)
}

// SourceOf returns the source owning root
func (b *Browser) SourceOf(root *symbol.Node) access.Source {
	return b.sources[root]
}

// AddClient registers a tracked client
func (b *Browser) AddClient(c Client) error {
	if !access.IsLive(c) {
		return errors.WrapInvalid(errors.ErrInvalidState, "Browser", "AddClient", "client liveness check")
	}
	for _, existing := range b.clients {
		if existing == c {
			return nil
		}
	}
	b.clients = append(b.clients, c)
	return nil
}

// RemoveClient unregisters c
func (b *Browser) RemoveClient(c Client) {
	for i, existing := range b.clients {
		if existing == c {
			b.clients = append(b.clients[:i], b.clients[i+1:]...)
			return
		}
	}
}

func (b *Browser) wrap(s access.Source) {
	root := s.SourceSymbol()
	if root == nil {
		return
	}
	root.SetListener(b)
	b.roots = append(b.roots, root)
	b.sources[root] = s
	b.SymbolAdded(root)
}

// OnSourceAdded implements access.ManagerClient
func (b *Browser) OnSourceAdded(_ *access.Manager, s access.Source) {
	b.wrap(s)
}

// OnSourceRemoved implements access.ManagerClient
func (b *Browser) OnSourceRemoved(_ *access.Manager, s access.Source) {
	for i, root := range b.roots {
		if b.sources[root] != s {
			continue
		}
		b.roots = append(b.roots[:i], b.roots[i+1:]...)
		delete(b.sources, root)
		b.SymbolRemoved(root, symbol.ReasonSourceRemoved)
		root.SetListener(nil)
		return
	}
}

// OnSourceConnected implements access.ManagerClient
func (b *Browser) OnSourceConnected(_ *access.Manager, s access.Source) {
	if root := b.rootOf(s); root != nil {
		root.SetConnected(true)
	}
}

// OnSourceDisconnected implements access.ManagerClient
func (b *Browser) OnSourceDisconnected(_ *access.Manager, s access.Source, _ access.DisconnectReason) {
	if root := b.rootOf(s); root != nil {
		root.SetConnected(false)
	}
}

func (b *Browser) rootOf(s access.Source) *symbol.Node {
	for root, src := range b.sources {
		if src == s {
			return root
		}
	}
	return nil
}

// FindSymbol returns target if it is part of the forest. The search only
// descends into subtrees that contain target.
func (b *Browser) FindSymbol(target *symbol.Node) *symbol.Node {
	if target == nil {
		return nil
	}
	queue := append([]*symbol.Node(nil), b.roots...)
	for len(queue) > 0 {
		cand := queue[0]
		queue = queue[1:]
		if cand == target {
			return cand
		}
		if target.IsDescendantOf(cand) {
			queue = append(queue, cand.Children()...)
		}
	}
	return nil
}

// FindSymbolURI walks the forest along the segments of u. Any missing
// segment yields nil.
func (b *Browser) FindSymbolURI(u string) *symbol.Node {
	segs, err := b.manager.BreakdownURI(u)
	if err != nil || len(segs) == 0 {
		return nil
	}
	var node *symbol.Node
	for _, root := range b.roots {
		if root.RawName() == segs[0].Name {
			node = root
			break
		}
	}
	for _, seg := range segs[1:] {
		if node == nil {
			return nil
		}
		node = node.FindChild(uri.Escape(seg.Name))
	}
	return node
}

// StartExpansion asks n to discover its children
func (b *Browser) StartExpansion(n *symbol.Node) error {
	if b.FindSymbol(n) == nil {
		return errors.WrapInvalid(errors.ErrNotFound, "Browser", "StartExpansion", "symbol lookup")
	}
	n.Expand()
	return nil
}

func (b *Browser) post(fn func(c Client)) {
	b.loop.Post(func() {
		for _, c := range append([]Client(nil), b.clients...) {
			if access.IsLive(c) {
				fn(c)
			}
		}
	})
}

// SymbolAdded implements symbol.Listener
func (b *Browser) SymbolAdded(n *symbol.Node) {
	b.post(func(c Client) { c.OnSymbolAdded(b, n) })
}

// SymbolRemoved implements symbol.Listener
func (b *Browser) SymbolRemoved(n *symbol.Node, reason symbol.RemovalReason) {
	b.post(func(c Client) { c.OnSymbolRemoved(b, n, reason) })
}

// SymbolConnectedChanged implements symbol.Listener
func (b *Browser) SymbolConnectedChanged(n *symbol.Node) {
	b.post(func(c Client) { c.OnSymbolConnectedChanged(b, n) })
}

// SymbolEnabledChanged implements symbol.Listener
func (b *Browser) SymbolEnabledChanged(n *symbol.Node) {
	b.post(func(c Client) { c.OnSymbolEnabledChanged(b, n) })
}

// ExpansionComplete implements symbol.Listener
func (b *Browser) ExpansionComplete(n *symbol.Node) {
	b.post(func(c Client) { c.OnExpansionComplete(b, n) })
}
