package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	phaseLabels  = []string{phaseLabel}
	reasonLabels = []string{reasonLabel}
	nodeLabels   = []string{nodeLabel}
)

type cycleMetrics struct {
	scheduleCycleTime  prometheus.Histogram
	phaseTime          *prometheus.HistogramVec
	slowPhases         *prometheus.CounterVec
	launchedTasks      prometheus.Counter
	scheduledJobExes   prometheus.Counter
	skippedJobExes     *prometheus.CounterVec
	lostJobExes        prometheus.Counter
	declinedOffers     prometheus.Counter
	launchFailures     *prometheus.CounterVec
	rollbacks          prometheus.Counter
	waitingTasks       prometheus.Gauge
	agentShortages     prometheus.Gauge
	waitingSystemTasks prometheus.Counter
}

func newCycleMetrics() *cycleMetrics {
	scheduleCycleTime := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    prefix + "schedule_cycle_times",
			Help:    "Cycle time when in a scheduling round, in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(10.0, 1.1, 110),
		},
	)

	phaseTime := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    prefix + "phase_times",
			Help:    "Time taken by each phase of a scheduling round, in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(1.0, 2, 14),
		},
		phaseLabels,
	)

	slowPhases := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "slow_phases",
			Help: "Number of times a phase took longer than its warning threshold",
		},
		phaseLabels,
	)

	launchedTasks := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: prefix + "launched_tasks",
			Help: "Number of tasks launched",
		},
	)

	scheduledJobExes := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: prefix + "scheduled_job_executions",
			Help: "Number of new job executions scheduled",
		},
	)

	skippedJobExes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "skipped_job_executions",
			Help: "Number of queued job executions skipped, by reason",
		},
		reasonLabels,
	)

	lostJobExes := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: prefix + "lost_job_executions",
			Help: "Number of running job executions whose node was lost",
		},
	)

	declinedOffers := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: prefix + "declined_offers",
			Help: "Number of offers declined",
		},
	)

	launchFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "launch_failures",
			Help: "Number of failed task launches, by node",
		},
		nodeLabels,
	)

	rollbacks := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: prefix + "scheduling_rollbacks",
			Help: "Number of times new job executions were rolled back because they could not be recorded",
		},
	)

	waitingTasks := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: prefix + "waiting_tasks",
			Help: "Number of tasks waiting for resources",
		},
	)

	agentShortages := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: prefix + "agent_shortages",
			Help: "Number of agents with a resource shortage",
		},
	)

	waitingSystemTasks := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: prefix + "waiting_system_task_cycles",
			Help: "Number of cycles in which no new jobs were scheduled due to waiting system tasks",
		},
	)

	return &cycleMetrics{
		scheduleCycleTime:  scheduleCycleTime,
		phaseTime:          phaseTime,
		slowPhases:         slowPhases,
		launchedTasks:      launchedTasks,
		scheduledJobExes:   scheduledJobExes,
		skippedJobExes:     skippedJobExes,
		lostJobExes:        lostJobExes,
		declinedOffers:     declinedOffers,
		launchFailures:     launchFailures,
		rollbacks:          rollbacks,
		waitingTasks:       waitingTasks,
		agentShortages:     agentShortages,
		waitingSystemTasks: waitingSystemTasks,
	}
}

func (m *cycleMetrics) ReportScheduleCycleTime(cycleTime time.Duration) {
	m.scheduleCycleTime.Observe(float64(cycleTime.Milliseconds()))
}

// ReportPhaseTime records how long a phase took and whether it exceeded its warning threshold.
func (m *cycleMetrics) ReportPhaseTime(phase string, duration time.Duration, slow bool) {
	m.phaseTime.WithLabelValues(phase).Observe(float64(duration.Milliseconds()))
	if slow {
		m.slowPhases.WithLabelValues(phase).Inc()
	}
}

func (m *cycleMetrics) ReportLaunchedTasks(count int) {
	m.launchedTasks.Add(float64(count))
}

func (m *cycleMetrics) ReportScheduledJobExes(count int) {
	m.scheduledJobExes.Add(float64(count))
}

func (m *cycleMetrics) ReportSkippedJobExe(reason string) {
	m.skippedJobExes.WithLabelValues(reason).Inc()
}

func (m *cycleMetrics) ReportLostJobExes(count int) {
	m.lostJobExes.Add(float64(count))
}

func (m *cycleMetrics) ReportDeclinedOffers(count int) {
	m.declinedOffers.Add(float64(count))
}

func (m *cycleMetrics) ReportLaunchFailure(node string) {
	m.launchFailures.WithLabelValues(node).Inc()
}

func (m *cycleMetrics) ReportRollback() {
	m.rollbacks.Inc()
}

func (m *cycleMetrics) ReportWaitingTasks(waitingTasks int, agentsWithShortages int) {
	m.waitingTasks.Set(float64(waitingTasks))
	m.agentShortages.Set(float64(agentsWithShortages))
}

func (m *cycleMetrics) ReportWaitingSystemTasks() {
	m.waitingSystemTasks.Inc()
}

func (m *cycleMetrics) describe(ch chan<- *prometheus.Desc) {
	m.scheduleCycleTime.Describe(ch)
	m.phaseTime.Describe(ch)
	m.slowPhases.Describe(ch)
	m.launchedTasks.Describe(ch)
	m.scheduledJobExes.Describe(ch)
	m.skippedJobExes.Describe(ch)
	m.lostJobExes.Describe(ch)
	m.declinedOffers.Describe(ch)
	m.launchFailures.Describe(ch)
	m.rollbacks.Describe(ch)
	m.waitingTasks.Describe(ch)
	m.agentShortages.Describe(ch)
	m.waitingSystemTasks.Describe(ch)
}

func (m *cycleMetrics) collect(ch chan<- prometheus.Metric) {
	m.scheduleCycleTime.Collect(ch)
	m.phaseTime.Collect(ch)
	m.slowPhases.Collect(ch)
	m.launchedTasks.Collect(ch)
	m.scheduledJobExes.Collect(ch)
	m.skippedJobExes.Collect(ch)
	m.lostJobExes.Collect(ch)
	m.declinedOffers.Collect(ch)
	m.launchFailures.Collect(ch)
	m.rollbacks.Collect(ch)
	m.waitingTasks.Collect(ch)
	m.agentShortages.Collect(ch)
	m.waitingSystemTasks.Collect(ch)
}
