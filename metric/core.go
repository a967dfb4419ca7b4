package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the access-layer metrics shared by the manager and every source
type Metrics struct {
	RequestsActive   prometheus.Gauge
	RecordsDelivered *prometheus.CounterVec
	RequestFailures  *prometheus.CounterVec
	CursorsActive    *prometheus.GaugeVec
	SourceConnected  *prometheus.GaugeVec
	LoopTasks        prometheus.Counter
	LoopPanics       prometheus.Counter
}

// NewMetrics creates the access metrics without registering them
func NewMetrics() *Metrics {
	return &Metrics{
		RequestsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lgraccess",
			Subsystem: "manager",
			Name:      "requests_active",
			Help:      "Number of requests currently held by the manager",
		}),

		RecordsDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lgraccess",
				Subsystem: "sink",
				Name:      "records_delivered_total",
				Help:      "Total number of records delivered to sinks",
			},
			[]string{"source"},
		),

		RequestFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lgraccess",
				Subsystem: "sink",
				Name:      "request_failures_total",
				Help:      "Total number of request failures reported to sinks",
			},
			[]string{"source", "failure"},
		),

		CursorsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "lgraccess",
				Subsystem: "source",
				Name:      "cursors_active",
				Help:      "Number of open aggregation cursors per source",
			},
			[]string{"source"},
		),

		SourceConnected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "lgraccess",
				Subsystem: "source",
				Name:      "connected",
				Help:      "Source connection state (0=disconnected, 1=connecting, 2=connected)",
			},
			[]string{"source"},
		),

		LoopTasks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lgraccess",
			Subsystem: "loop",
			Name:      "tasks_total",
			Help:      "Total number of tasks run by the event loop",
		}),

		LoopPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lgraccess",
			Subsystem: "loop",
			Name:      "panics_total",
			Help:      "Total number of event loop tasks that panicked",
		}),
	}
}

func (m *Metrics) register(reg prometheus.Registerer) {
	reg.MustRegister(
		m.RequestsActive,
		m.RecordsDelivered,
		m.RequestFailures,
		m.CursorsActive,
		m.SourceConnected,
		m.LoopTasks,
		m.LoopPanics,
	)
}

// RecordDelivered counts n records delivered for a source. Safe on a nil receiver.
func (m *Metrics) RecordDelivered(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RecordsDelivered.WithLabelValues(source).Add(float64(n))
}

// RecordFailure counts a failure code reported for a source. Safe on a nil receiver.
func (m *Metrics) RecordFailure(source, failure string) {
	if m == nil {
		return
	}
	m.RequestFailures.WithLabelValues(source, failure).Inc()
}

// SetCursors records the open cursor count of a source. Safe on a nil receiver.
func (m *Metrics) SetCursors(source string, n int) {
	if m == nil {
		return
	}
	m.CursorsActive.WithLabelValues(source).Set(float64(n))
}

// SetConnectionState records a source's connection state. Safe on a nil receiver.
func (m *Metrics) SetConnectionState(source string, state int) {
	if m == nil {
		return
	}
	m.SourceConnected.WithLabelValues(source).Set(float64(state))
}

// SetRequests records the manager's request count. Safe on a nil receiver.
func (m *Metrics) SetRequests(n int) {
	if m == nil {
		return
	}
	m.RequestsActive.Set(float64(n))
}

// ForgetSource drops every per-source series for a removed source
func (m *Metrics) ForgetSource(source string) {
	if m == nil {
		return
	}
	m.RecordsDelivered.DeleteLabelValues(source)
	m.CursorsActive.DeleteLabelValues(source)
	m.SourceConnected.DeleteLabelValues(source)
	m.RequestFailures.DeletePartialMatch(prometheus.Labels{"source": source})
}
