package testutil

import (
	"fmt"
	"sync"

	"github.com/c360/lgraccess/access"
)

// RecordingClient records manager notifications as short strings such as
// "connected src" or "disconnected src connection_failed"
type RecordingClient struct {
	mu     sync.Mutex
	events []string
}

// NewRecordingClient creates a tracked client
func NewRecordingClient() *RecordingClient {
	c := &RecordingClient{}
	access.Track(c)
	return c
}

// Close releases the client
func (c *RecordingClient) Close() { access.Release(c) }

func (c *RecordingClient) add(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, fmt.Sprintf(format, args...))
}

// Events returns the recorded notifications
func (c *RecordingClient) Events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.events...)
}

func (c *RecordingClient) OnSourceAdded(_ *access.Manager, s access.Source) {
	c.add("added %s", s.Name())
}

func (c *RecordingClient) OnSourceRemoved(_ *access.Manager, s access.Source) {
	c.add("removed %s", s.Name())
}

func (c *RecordingClient) OnSourceConnecting(_ *access.Manager, s access.Source) {
	c.add("connecting %s", s.Name())
}

func (c *RecordingClient) OnSourceConnected(_ *access.Manager, s access.Source) {
	c.add("connected %s", s.Name())
}

func (c *RecordingClient) OnSourceDisconnected(_ *access.Manager, s access.Source, reason access.DisconnectReason) {
	c.add("disconnected %s %s", s.Name(), reason)
}

func (c *RecordingClient) OnSourceLog(_ *access.Manager, s access.Source, msg string) {
	c.add("log %s %s", s.Name(), msg)
}
