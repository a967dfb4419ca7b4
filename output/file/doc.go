// Package file provides a sink that writes delivered records to a file.
//
// # Overview
//
// The file sink implements access.Sink. Every record delivered for a request
// becomes one record.Envelope holding the request URI and the values the
// request selected. Envelopes are queued and written by a flush loop.
//
// # Quick Start
//
//	sink, err := file.New(file.Config{
//	    Path:          "/var/lib/lgrkit/hourly.jsonl",
//	    Format:        "jsonl",
//	    Append:        true,
//	    FlushInterval: 5 * time.Second,
//	}, logger)
//	if err != nil {
//	    return err
//	}
//	if err := sink.Start(); err != nil {
//	    return err
//	}
//	defer sink.Stop(5 * time.Second)
//
//	r := access.NewRequest("lgr:stn.Hourly", sink)
//	err = manager.AddRequest(r, false)
//
// # File Formats
//
// **JSON Lines** (default):
//
//	{"uri":"lgr:stn.Hourly","station":"stn","table":"Hourly","record_no":7,...}
//
// **JSON** writes each envelope indented, separated by newlines.
//
// # Buffering and Flushing
//
// Lines wait in a bounded pkg/buffer queue. They are written when:
//  1. the flush interval elapses
//  2. the queue reaches BufferSize
//  3. the sink stops
//
// When the queue overflows the oldest lines are dropped and counted as write
// errors.
//
// # Error Handling
//
// Encoding and write errors are logged and counted but never stop the sink.
// Request failures reported by the manager are logged at warn level. Health
// reports degraded once any write error occurred.
//
// # Thread Safety
//
// Sink callbacks run on the manager's loop; the flush loop runs on its own
// goroutine. The file handle is guarded by a mutex held for a whole flush so
// lines keep their delivery order.
package file
