package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes everything the scheduler measures. Register it with a prometheus.Registerer to publish it.
type Metrics struct {
	*cycleMetrics
	*clusterMetrics
}

func New() *Metrics {
	return &Metrics{
		cycleMetrics:   newCycleMetrics(),
		clusterMetrics: newClusterMetrics(),
	}
}

func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.cycleMetrics.describe(ch)
	m.clusterMetrics.describe(ch)
}

func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.cycleMetrics.collect(ch)
	m.clusterMetrics.collect(ch)
}
