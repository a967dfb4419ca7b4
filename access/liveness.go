package access

import (
	"sync"
)

// The liveness registry records capability consumers (sinks, manager clients,
// browser clients) that are still valid. Every call path checks IsLive
// immediately before invoking a consumer and skips the call when the consumer
// was released, so a consumer may release itself from inside a callback.
var liveness = struct {
	sync.RWMutex
	live map[any]struct{}
}{live: make(map[any]struct{})}

// Track registers x as live. x must be a pointer.
func Track(x any) {
	if x == nil {
		return
	}
	liveness.Lock()
	liveness.live[x] = struct{}{}
	liveness.Unlock()
}

// Release removes x from the registry
func Release(x any) {
	if x == nil {
		return
	}
	liveness.Lock()
	delete(liveness.live, x)
	liveness.Unlock()
}

// IsLive reports whether x is tracked
func IsLive(x any) bool {
	if x == nil {
		return false
	}
	liveness.RLock()
	_, ok := liveness.live[x]
	liveness.RUnlock()
	return ok
}
