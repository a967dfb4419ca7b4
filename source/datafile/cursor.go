package datafile

import (
	"time"

	"github.com/c360/lgraccess/access"
	"github.com/c360/lgraccess/record"
)

// target is the parsed form of a data file URI, cached on the request
type target struct {
	table  string
	column string
}

// readCursor groups compatible requests on one table. Requests may join
// until the first poll is queued.
type readCursor struct {
	table    string
	requests []*access.Request
	template *record.Record
	job      *pollJob

	polled    bool
	inFlight  bool
	satisfied bool
	lastMod   time.Time
}

func (c *readCursor) accepts(r *access.Request, t target) bool {
	return !c.polled && c.table == t.table && c.requests[0].IsCompatible(r)
}

func (c *readCursor) remove(r *access.Request) bool {
	for i, member := range c.requests {
		if member == r {
			c.requests = append(c.requests[:i], c.requests[i+1:]...)
			return true
		}
	}
	return false
}

// members returns a snapshot safe against removal during fan-out
func (c *readCursor) members() []*access.Request {
	return append([]*access.Request(nil), c.requests...)
}
