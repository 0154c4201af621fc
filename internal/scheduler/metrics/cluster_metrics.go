package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var stateLabels = []string{stateLabel}

// clusterMetrics describe the cluster as seen at the end of a scheduling cycle.
type clusterMetrics struct {
	nodes             *prometheus.GaugeVec
	runningJobExes    prometheus.Gauge
	unrecordedJobExes prometheus.Gauge
	// Every state a node count has been reported for.
	knownNodeStates map[string]bool
}

func newClusterMetrics() *clusterMetrics {
	return &clusterMetrics{
		nodes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: prefix + "nodes",
				Help: "Number of nodes known to the scheduler, by state.",
			},
			stateLabels,
		),
		runningJobExes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: prefix + "running_job_executions",
				Help: "Number of job executions running.",
			},
		),
		unrecordedJobExes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: prefix + "unrecorded_job_executions",
				Help: "Number of finished job executions not yet recorded in the database.",
			},
		),
		knownNodeStates: make(map[string]bool),
	}
}

// ReportClusterState sets the node counts by state name along with the execution counts.
// States missing from nodesByState are reported as having no nodes.
func (m *clusterMetrics) ReportClusterState(nodesByState map[string]int, runningJobExes int, unrecordedJobExes int) {
	for state := range m.knownNodeStates {
		if _, ok := nodesByState[state]; !ok {
			m.nodes.WithLabelValues(state).Set(0)
		}
	}
	for state, count := range nodesByState {
		m.knownNodeStates[state] = true
		m.nodes.WithLabelValues(state).Set(float64(count))
	}
	m.runningJobExes.Set(float64(runningJobExes))
	m.unrecordedJobExes.Set(float64(unrecordedJobExes))
}

func (m *clusterMetrics) describe(ch chan<- *prometheus.Desc) {
	m.nodes.Describe(ch)
	m.runningJobExes.Describe(ch)
	m.unrecordedJobExes.Describe(ch)
}

func (m *clusterMetrics) collect(ch chan<- prometheus.Metric) {
	m.nodes.Collect(ch)
	m.runningJobExes.Collect(ch)
	m.unrecordedJobExes.Collect(ch)
}
