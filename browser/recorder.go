package browser

import (
	"fmt"
	"sync"

	"github.com/c360/lgraccess/access"
	"github.com/c360/lgraccess/symbol"
)

// Recorder is a Client that keeps every notification as a line of text, for
// example "removed lgr:stn.Hourly table_deleted". The symbols command prints
// it and tests compare it.
type Recorder struct {
	mu     sync.Mutex
	events []string

	// OnEvent, when set, is called with each line as it is recorded
	OnEvent func(line string)
}

// NewRecorder creates a tracked recorder
func NewRecorder() *Recorder {
	r := &Recorder{}
	access.Track(r)
	return r
}

// Close releases the recorder
func (r *Recorder) Close() { access.Release(r) }

func (r *Recorder) add(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	r.mu.Lock()
	r.events = append(r.events, line)
	hook := r.OnEvent
	r.mu.Unlock()
	if hook != nil {
		hook(line)
	}
}

// Events returns the recorded lines
func (r *Recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// Reset drops the recorded lines
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func (r *Recorder) OnSymbolAdded(_ *Browser, n *symbol.Node) {
	r.add("added %s %s", n.URI(), n.Type())
}

func (r *Recorder) OnSymbolRemoved(_ *Browser, n *symbol.Node, reason symbol.RemovalReason) {
	r.add("removed %s %s", n.URI(), reason)
}

func (r *Recorder) OnSymbolConnectedChanged(_ *Browser, n *symbol.Node) {
	r.add("connected %s %v", n.URI(), n.Connected())
}

func (r *Recorder) OnSymbolEnabledChanged(_ *Browser, n *symbol.Node) {
	r.add("enabled %s %v", n.URI(), n.Enabled())
}

func (r *Recorder) OnExpansionComplete(_ *Browser, n *symbol.Node) {
	r.add("expanded %s", n.URI())
}
