// Package health reports the connectivity of lgraccess sources.
//
// Each source maps onto one Status: connected sources are healthy,
// connecting sources are degraded and disconnected sources are unhealthy.
// The access manager keeps a Monitor updated on every connection state
// transition and exposes the aggregate:
//
//	monitor := health.NewMonitor()
//	monitor.Update("db1", health.FromConnection("db1", health.StateConnecting, ""))
//	status := monitor.AggregateHealth("lgraccess")
//
// Aggregation follows the usual rules: any unhealthy sub-status makes the
// aggregate unhealthy, otherwise any degraded one makes it degraded.
//
// Messages attached from source errors are sanitized so that server
// addresses, file paths and credentials do not leak through /health.
package health
