package buffer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/lgraccess/metric"
)

type bufferMetrics struct {
	size  prometheus.Gauge
	drops prometheus.Counter
}

func newBufferMetrics(registry *metric.MetricsRegistry, prefix string) (*bufferMetrics, error) {
	m := &bufferMetrics{
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "lgraccess",
			Subsystem:   "buffer",
			Name:        "size",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Current number of items in buffer",
		}),
		drops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "lgraccess",
			Subsystem:   "buffer",
			Name:        "drops_total",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Total number of items dropped due to overflow",
		}),
	}

	if err := registry.RegisterGauge(prefix, "buffer_size", m.size); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "buffer_drops", m.drops); err != nil {
		registry.Unregister(prefix, "buffer_size")
		return nil, err
	}
	return m, nil
}
