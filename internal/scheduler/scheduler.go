package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/ngageoint/scale/internal/common/logging"
	"github.com/ngageoint/scale/internal/common/util"
	"github.com/ngageoint/scale/internal/scheduler/execution"
	"github.com/ngageoint/scale/internal/scheduler/metrics"
	"github.com/ngageoint/scale/internal/scheduler/node"
	"github.com/ngageoint/scale/internal/scheduler/offers"
)

// The scheduler is reported unhealthy if no cycle has completed in this many cycle periods.
const unhealthyCycleCount = 10

// ExecutionRecorder stores the outcome of finished executions.
type ExecutionRecorder interface {
	CompleteJobExecutions(ctx context.Context, jobExes []*execution.RunningJobExecution) error
	// GetNodesRunningJobExes returns the ids of the nodes with executions the database still considers running.
	GetNodesRunningJobExes(ctx context.Context) (map[int]bool, error)
	// GetCanceledJobExes returns the subset of the given running executions whose jobs have been canceled.
	GetCanceledJobExes(ctx context.Context, jobExeIds []int64) ([]int64, error)
}

// SettingsSource provides cached job types, workspaces, and scheduler settings.
type SettingsSource interface {
	Refresh(ctx context.Context) error
	IsSchedulerPaused() bool
}

type SchedulingCycle interface {
	PerformScheduling(ctx context.Context, now time.Time) (int, error)
}

// Scheduler runs the scheduling cycle periodically. Before each cycle it brings the nodes, executions, and settings
// up to date with the database; afterwards it publishes the resources agents are short of.
type Scheduler struct {
	scheduling SchedulingCycle
	nodes      *node.Manager
	offers     *offers.Manager
	jobExes    *execution.Index
	settings   SettingsSource
	nodeStore  node.Store
	executions ExecutionRecorder
	shortages  offers.ShortageRepository
	// Minimum duration between scheduling cycles.
	cyclePeriod time.Duration
	// Used for all timing decisions. Injected here so that we can mock out for testing
	clock       clock.WithTicker
	retryPolicy util.RetryPolicy
	metrics     *metrics.Metrics
	logger      *log.Entry

	// Finished executions that haven't yet been recorded in the database.
	unrecorded []*execution.RunningJobExecution

	mu                 sync.Mutex
	lastCycleCompleted time.Time
}

func NewScheduler(
	scheduling SchedulingCycle,
	nodes *node.Manager,
	offers *offers.Manager,
	jobExes *execution.Index,
	settings SettingsSource,
	nodeStore node.Store,
	executions ExecutionRecorder,
	shortages offers.ShortageRepository,
	cyclePeriod time.Duration,
	clock clock.WithTicker,
	retryPolicy util.RetryPolicy,
	schedulerMetrics *metrics.Metrics,
) *Scheduler {
	return &Scheduler{
		scheduling:         scheduling,
		nodes:              nodes,
		offers:             offers,
		jobExes:            jobExes,
		settings:           settings,
		nodeStore:          nodeStore,
		executions:         executions,
		shortages:          shortages,
		cyclePeriod:        cyclePeriod,
		clock:              clock,
		retryPolicy:        retryPolicy,
		metrics:            schedulerMetrics,
		logger:             logging.NewComponentLogger("scheduler"),
		lastCycleCompleted: clock.Now(),
	}
}

// Run performs a cycle every cycle period until ctx is cancelled. Cycle errors are logged and don't stop the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.cyclePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			start := s.clock.Now()
			if err := s.cycle(ctx, start); err != nil {
				logging.WithStacktrace(s.logger, err).Error("Error in scheduling cycle")
				continue
			}
			s.logger.Debugf("Completed scheduling cycle in %s", s.clock.Since(start))
		}
	}
}

func (s *Scheduler) cycle(ctx context.Context, now time.Time) error {
	if err := s.settings.Refresh(ctx); err != nil {
		logging.WithStacktrace(s.logger, err).Warn("Error refreshing job types, workspaces, and scheduler settings")
	}
	s.nodes.SetSchedulerPaused(s.settings.IsSchedulerPaused())
	s.nodes.HandleTaskTimeouts(now)
	s.jobExes.CheckForStarvation(now)
	if err := s.cancelJobExes(ctx, now); err != nil {
		logging.WithStacktrace(s.logger, err).Warn("Error checking for canceled job executions")
	}
	s.recordFinishedJobExes(ctx)
	if err := s.syncNodes(ctx, now); err != nil {
		logging.WithStacktrace(s.logger, err).Warn("Error syncing nodes with the database")
	}

	if _, err := s.scheduling.PerformScheduling(ctx, now); err != nil {
		return err
	}

	if err := s.shortages.StoreShortages(s.offers.GetAgentShortages()); err != nil {
		logging.WithStacktrace(s.logger, err).Warn("Error publishing agent shortages")
	}
	s.reportClusterState()
	s.metrics.ReportScheduleCycleTime(s.clock.Since(now))
	s.mu.Lock()
	s.lastCycleCompleted = s.clock.Now()
	s.mu.Unlock()
	return nil
}

// cancelJobExes cancels the running executions whose jobs have been canceled in the database.
func (s *Scheduler) cancelJobExes(ctx context.Context, now time.Time) error {
	running := s.jobExes.GetRunningJobExes()
	if len(running) == 0 {
		return nil
	}
	ids := make([]int64, len(running))
	for i, exe := range running {
		ids[i] = exe.Id
	}
	var canceled []int64
	err := s.retryPolicy.Do(ctx, func() error {
		var err error
		canceled, err = s.executions.GetCanceledJobExes(ctx, ids)
		return err
	})
	if err != nil {
		return err
	}
	if len(canceled) > 0 {
		s.logger.Infof("Canceling %d job execution(s)", len(canceled))
		s.jobExes.CancelJobExes(canceled, now)
	}
	return nil
}

// recordFinishedJobExes stores the executions that have finished and queues their nodes for cleanup.
// Executions that can't be stored are retried at the next cycle.
func (s *Scheduler) recordFinishedJobExes(ctx context.Context) {
	for _, exe := range s.jobExes.PopFinished() {
		s.nodes.AddJobExe(exe.AgentId, exe.Id, exe.Finished())
		s.unrecorded = append(s.unrecorded, exe)
	}
	if len(s.unrecorded) == 0 {
		return
	}
	err := s.retryPolicy.Do(ctx, func() error {
		return s.executions.CompleteJobExecutions(ctx, s.unrecorded)
	})
	if err != nil {
		logging.WithStacktrace(s.logger, err).Errorf("Error recording %d finished job execution(s)", len(s.unrecorded))
		return
	}
	s.logger.Infof("Recorded %d finished job execution(s)", len(s.unrecorded))
	s.unrecorded = nil
}

func (s *Scheduler) syncNodes(ctx context.Context, now time.Time) error {
	var nodesRunningJobExes map[int]bool
	err := s.retryPolicy.Do(ctx, func() error {
		var err error
		nodesRunningJobExes, err = s.executions.GetNodesRunningJobExes(ctx)
		return err
	})
	if err != nil {
		return err
	}
	if nodesRunningJobExes == nil {
		nodesRunningJobExes = make(map[int]bool)
	}
	// Executions the database hasn't caught up with yet.
	for _, exe := range s.jobExes.GetRunningJobExes() {
		nodesRunningJobExes[exe.NodeId] = true
	}
	for _, exe := range s.unrecorded {
		nodesRunningJobExes[exe.NodeId] = true
	}
	return s.nodes.SyncWithDatabase(ctx, s.nodeStore, nodesRunningJobExes, now)
}

func (s *Scheduler) reportClusterState() {
	s.metrics.ReportClusterState(s.nodes.CountByState(), len(s.jobExes.GetRunningJobExes()), len(s.unrecorded))
}

// Check reports the scheduler unhealthy if cycles have stopped completing.
func (s *Scheduler) Check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if since := s.clock.Since(s.lastCycleCompleted); since > unhealthyCycleCount*s.cyclePeriod {
		return errors.Errorf("no scheduling cycle has completed in %s", since)
	}
	return nil
}
