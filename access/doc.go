// Package access implements the request multiplexing core: Requests, the Sink
// capability, the Source contract, the Manager registry and the single
// goroutine event Loop that serializes all of them.
//
// # Flow
//
// A caller creates a Request for a URI, hands it to Manager.AddRequest and
// later calls Manager.ActivateRequests. The Manager resolves the URI's source
// name and passes the request to that Source, which batches it onto a cursor
// shared with every compatible request. When the backend delivers records the
// cursor calls ReportSinkRecords, which makes one OnSinkRecords call per
// distinct sink.
//
// # Threading
//
// Manager, Source, Request and symbol operations run on the Loop goroutine.
// Backend goroutines hand results back with Loop.Post. The file source worker
// is the only other goroutine that touches source data, and it does so through
// its own queue.
//
// # Liveness
//
// Sinks and clients are never owned by the core. They register with Track and
// deregister with Release, and every call site checks IsLive immediately
// before invoking them, so a sink may release itself inside a callback.
//
// # Failures
//
// Backend errors are mapped to the closed Failure enum before they reach a
// sink. Free-text diagnostics travel separately through ManagerClient.OnSourceLog.
// Contract violations are returned as errors classified invalid.
package access
