// Package lgraccess is a toolkit for reading datalogger records from several
// kinds of data sources through one request model.
//
// # Layers
//
// The module is split into a core and a set of sources and outputs:
//
//	uri         source URI parsing, splitting and composition
//	record      record descriptions, values and the JSON envelope
//	symbol      the symbol tree every source exposes
//	access      Request, Sink, Source, Manager and the event Loop
//	browser     SymbolBrowser, a client view over every source tree
//	source/...  datafile, database and LoggerNet (lgrnet) sources
//	output/...  file and websocket sinks
//	config      YAML/JSON configuration, source builders and snapshots
//	cmd/lgrkit  the command line front end
//
// Supporting packages carry the ambient concerns: errors for classified
// errors, health for status reports, metric for Prometheus metrics,
// natsclient for the LoggerNet transport and pkg/tlsutil for TLS setup.
//
// # Requests
//
// A Request names a source, station and table (optionally a column) by URI,
// a start option that positions its cursor, and a record order. The Manager
// hands each request to the source its URI names. Sources batch compatible
// requests onto shared cursors and report records to every distinct Sink.
//
//	req := access.NewRequest("db1:Hourly", sink)
//	_ = req.SetStartAtOffsetFromNewest(10)
//	loop.Post(func() {
//		_ = manager.AddRequest(req, false)
//		manager.ActivateRequests()
//	})
//
// All core objects run on the single access.Loop goroutine. Callers outside
// the loop use Loop.Call or Loop.Post.
//
// # Binary
//
// lgrkit serves configured sources to websocket clients and offers one-shot
// commands:
//
//	lgrkit serve --config lgrkit.yaml
//	lgrkit query "db1:Hourly" --start at-record --record 10 --limit 5
//	lgrkit browse db1 --depth 2
//	lgrkit symbols "db1:Hourly.Temp" --range
package lgraccess
