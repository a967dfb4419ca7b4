// Package metric provides Prometheus-based metrics for lgraccess.
//
// A MetricsRegistry owns a private Prometheus registry with the core access
// metrics (requests held by the manager, records delivered, request failures,
// open cursors and source connection state) plus the Go and process
// collectors. Components register their own collectors through the
// MetricsRegistrar interface:
//
//	registry := metric.NewMetricsRegistry()
//	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "polls_total"})
//	if err := registry.RegisterCounter("datafile", "polls_total", counter); err != nil {
//	    return err
//	}
//
// A nil *MetricsRegistry everywhere means metrics are disabled, and the
// helper methods on *Metrics accept a nil receiver for the same reason.
//
// Server exposes the registry over HTTP. Extra handlers such as /health are
// mounted on the same mux with Handle before Start:
//
//	server := metric.NewServer(":9090", "/metrics", registry)
//	server.Handle("/health", healthHandler)
//	go server.Start()
//	defer server.Stop(ctx)
package metric
