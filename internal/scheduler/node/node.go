package node

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/ngageoint/scale/internal/common/logging"
	"github.com/ngageoint/scale/internal/common/scaleerrors"
	"github.com/ngageoint/scale/internal/scheduler/schedulerobjects"
	"github.com/ngageoint/scale/internal/scheduler/tasks"
)

const (
	// How long to wait after a failed node task before trying it again.
	CleanupErrorThreshold   = 2 * time.Minute
	HealthErrorThreshold    = 2 * time.Minute
	ImagePullErrorThreshold = 5 * time.Minute
	// How often to check the health of a node that is behaving normally.
	NormalHealthThreshold = 5 * time.Minute
	// Nodes with no offers for this long are forgotten, unless they're running job executions.
	OfferTimeout = 5 * time.Minute
	// Node tasks running for longer than this are considered timed out.
	NodeTaskTimeout = 15 * time.Minute
)

// NodeTaskResources are the resources required by each cleanup, health check, and image pull task.
var NodeTaskResources = schedulerobjects.NewNodeResources(map[string]float64{
	schedulerobjects.Cpus: 0.1,
	schedulerobjects.Mem:  32,
})

// Model is the persisted record of a node.
type Model struct {
	Id                int
	Hostname          string
	IsActive          bool
	IsPaused          bool
	LastOfferReceived time.Time
}

type cleanupTask struct {
	task      *tasks.Task
	initial   bool
	jobExeIds []int64
}

// Node is the scheduler's view of a single cluster node: its state, conditions, and the node tasks that prepare
// and monitor it. Safe for concurrent use.
type Node struct {
	// Never change.
	id       int
	hostname string
	logger   *log.Entry

	mu                        sync.Mutex
	agentId                   string
	conditions                *Conditions
	// Job executions that have finished on the node and whose containers still need removing.
	jobExesToClean            map[int64]bool
	cleanupTask               *cleanupTask
	healthTask                *tasks.Task
	pullTask                  *tasks.Task
	isActive                  bool
	isImagePulled             bool
	isInitialCleanupCompleted bool
	isOnline                  bool
	isPaused                  bool
	isSchedulerPaused         bool
	lastHealthTask            time.Time
	lastOfferReceived         time.Time
	state                     State
}

func NewNode(agentId string, model *Model, isSchedulerPaused bool) *Node {
	n := &Node{
		id:                model.Id,
		hostname:          model.Hostname,
		logger:            logging.NewComponentLogger("node").WithField("hostname", model.Hostname),
		agentId:           agentId,
		conditions:        NewConditions(model.Hostname),
		jobExesToClean:    make(map[int64]bool),
		isActive:          model.IsActive,
		isOnline:          true,
		isPaused:          model.IsPaused,
		isSchedulerPaused: isSchedulerPaused,
		lastOfferReceived: model.LastOfferReceived,
	}
	n.updateState()
	return n
}

func (n *Node) Id() int {
	return n.id
}

func (n *Node) Hostname() string {
	return n.hostname
}

func (n *Node) AgentId() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.agentId
}

func (n *Node) IsActive() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.isActive
}

func (n *Node) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

func (n *Node) Errors() []ActiveError {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.conditions.Errors()
}

func (n *Node) Warnings() []ActiveWarning {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.conditions.Warnings()
}

func (n *Node) IsReadyForNewJob() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state == StateReady
}

func (n *Node) IsReadyForNextJobTask() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state != StateDeprecated && n.state != StateOffline && n.isImagePulled
}

func (n *Node) IsReadyForSystemTask() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state == StateReady
}

// AddJobExe records a job execution that ran on the node, so that a later cleanup task removes its containers.
func (n *Node) AddJobExe(jobExeId int64, when time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.jobExesToClean[jobExeId] = true
	n.conditions.UpdateCleanupCount(len(n.jobExesToClean), when)
}

// GetNextTasks returns the node tasks that should be launched now.
// The same task is returned by every call until it has been launched.
func (n *Node) GetNextTasks(now time.Time) []*tasks.Task {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.createNextTasks(now)

	var rv []*tasks.Task
	if n.cleanupTask != nil && !n.cleanupTask.task.HasBeenLaunched() && n.isReadyForCleanupTask(now) {
		rv = append(rv, n.cleanupTask.task)
	}
	if n.healthTask != nil && !n.healthTask.HasBeenLaunched() && n.isReadyForHealthTask(now) {
		rv = append(rv, n.healthTask)
	}
	if n.pullTask != nil && !n.pullTask.HasBeenLaunched() && n.isReadyForPullTask(now) {
		rv = append(rv, n.pullTask)
	}
	return rv
}

// HandleTaskUpdate applies a status update for one of the node's tasks. Updates for other tasks are ignored.
func (n *Node) HandleTaskUpdate(update tasks.Update) {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch {
	case n.cleanupTask != nil && n.cleanupTask.task.Id == update.TaskId:
		n.handleCleanupTaskUpdate(update)
	case n.healthTask != nil && n.healthTask.Id == update.TaskId:
		n.handleHealthTaskUpdate(update)
	case n.pullTask != nil && n.pullTask.Id == update.TaskId:
		n.handlePullTaskUpdate(update)
	default:
		return
	}
	n.updateState()
}

// HandleTaskTimeouts handles node tasks launched more than NodeTaskTimeout ago that haven't ended.
func (n *Node) HandleTaskTimeouts(now time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cleanupTask != nil && isTimedOut(n.cleanupTask.task, now) {
		n.logger.Warn("Cleanup task timed out")
		n.conditions.HandleCleanupTaskTimeout(n.cleanupTask.jobExeIds, now)
		n.cleanupTask = nil
	}
	if n.healthTask != nil && isTimedOut(n.healthTask, now) {
		n.logger.Warn("Health check task timed out")
		n.lastHealthTask = now
		n.conditions.HandleHealthTaskTimeout(now)
		n.healthTask = nil
	}
	if n.pullTask != nil && isTimedOut(n.pullTask, now) {
		n.logger.Warn("Image pull task timed out")
		n.conditions.HandlePullTaskFailed(now)
		n.pullTask = nil
	}
	n.updateState()
}

// ShouldBeRemoved returns true if the scheduler no longer needs to track the node.
func (n *Node) ShouldBeRemoved(now time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.isActive && !n.isOnline {
		return true
	}
	return n.lastOfferReceived.Before(now.Add(-OfferTimeout))
}

// SetAgentId records a new agent id for the node, e.g., after the agent restarted.
func (n *Node) SetAgentId(agentId string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.agentId = agentId
	n.updateState()
}

// SetOnline records whether the node's agent is connected. A node that goes offline starts over from initial cleanup.
func (n *Node) SetOnline(isOnline bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.isOnline = isOnline
	if isOnline {
		n.isActive = true
	} else {
		n.reset()
	}
	n.updateState()
}

func (n *Node) OfferReceived(when time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if when.After(n.lastOfferReceived) {
		n.lastOfferReceived = when
	}
}

// UpdateFromModel applies the persisted settings of the node.
func (n *Node) UpdateFromModel(model *Model, isSchedulerPaused bool) error {
	if model.Id != n.id {
		return errors.WithStack(&scaleerrors.ErrInvalidArgument{
			Name:    "model",
			Value:   model.Id,
			Message: fmt.Sprintf("expected node %d", n.id),
		})
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.isActive = model.IsActive
	n.isPaused = model.IsPaused
	if model.LastOfferReceived.After(n.lastOfferReceived) {
		n.lastOfferReceived = model.LastOfferReceived
	}
	n.isSchedulerPaused = isSchedulerPaused
	if !model.IsActive {
		n.reset()
	}
	n.updateState()
	return nil
}

// SetSchedulerPaused pauses or resumes scheduling of new jobs on the node.
func (n *Node) SetSchedulerPaused(isSchedulerPaused bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.isSchedulerPaused = isSchedulerPaused
	n.updateState()
}

// Tasks created for a previous agent id are discarded, since they can no longer be launched.
func (n *Node) createNextTasks(now time.Time) {
	if n.cleanupTask != nil && n.cleanupTask.task.AgentId() != n.agentId {
		n.cleanupTask = nil
	}
	if n.cleanupTask == nil && n.isReadyForCleanupTask(now) {
		n.cleanupTask = n.newCleanupTask()
	}

	if n.healthTask != nil && n.healthTask.AgentId() != n.agentId {
		n.healthTask = nil
	}
	if n.healthTask == nil && n.isReadyForHealthTask(now) {
		n.healthTask = tasks.NewTask(fmt.Sprintf("health check %s", n.hostname), tasks.HealthTaskType, n.agentId, NodeTaskResources)
	}

	if n.pullTask != nil && n.pullTask.AgentId() != n.agentId {
		n.pullTask = nil
	}
	if n.pullTask == nil && n.isReadyForPullTask(now) {
		n.pullTask = tasks.NewTask(fmt.Sprintf("image pull %s", n.hostname), tasks.PullTaskType, n.agentId, NodeTaskResources)
	}
}

// newCleanupTask returns nil if there's nothing to clean up.
func (n *Node) newCleanupTask() *cleanupTask {
	if !n.isInitialCleanupCompleted {
		return &cleanupTask{
			task:    tasks.NewTask(fmt.Sprintf("initial cleanup %s", n.hostname), tasks.CleanupTaskType, n.agentId, NodeTaskResources),
			initial: true,
		}
	}
	if len(n.jobExesToClean) == 0 {
		return nil
	}
	jobExeIds := maps.Keys(n.jobExesToClean)
	slices.Sort(jobExeIds)
	return &cleanupTask{
		task:      tasks.NewTask(fmt.Sprintf("cleanup %s", n.hostname), tasks.CleanupTaskType, n.agentId, NodeTaskResources),
		jobExeIds: jobExeIds,
	}
}

func (n *Node) isReadyForCleanupTask(now time.Time) bool {
	switch n.state {
	case StateInitialCleanup, StateImagePull, StateReady:
		return true
	case StateDegraded:
		// Cleanup can still run while degraded, as long as the container daemon works.
		if n.conditions.IsDaemonBad() {
			return false
		}
		if lastError, ok := n.conditions.LastCleanupError(); ok {
			return now.Sub(lastError) > CleanupErrorThreshold
		}
		return true
	}
	return false
}

func (n *Node) isReadyForHealthTask(now time.Time) bool {
	if n.state == StateDeprecated || n.state == StateOffline {
		return false
	}
	if n.lastHealthTask.IsZero() {
		return true
	}
	threshold := NormalHealthThreshold
	if !n.conditions.IsHealthCheckNormal() {
		threshold = HealthErrorThreshold
	}
	return now.Sub(n.lastHealthTask) > threshold
}

func (n *Node) isReadyForPullTask(now time.Time) bool {
	switch n.state {
	case StateImagePull:
		return true
	case StateDegraded:
		// Pull while degraded only if the node would otherwise be pulling and its errors don't affect pulls.
		if !n.isInitialCleanupCompleted || n.isImagePulled || n.conditions.IsPullBad() {
			return false
		}
		if lastError, ok := n.conditions.LastImagePullError(); ok {
			return now.Sub(lastError) > ImagePullErrorThreshold
		}
		return true
	}
	return false
}

func (n *Node) handleCleanupTaskUpdate(update tasks.Update) {
	switch update.Status {
	case tasks.StatusFinished:
		if n.cleanupTask.initial {
			n.logger.Info("Node has completed initial cleanup")
			n.isInitialCleanupCompleted = true
		} else {
			for _, jobExeId := range n.cleanupTask.jobExeIds {
				delete(n.jobExesToClean, jobExeId)
			}
			n.conditions.UpdateCleanupCount(len(n.jobExesToClean), update.When)
		}
		n.conditions.HandleCleanupTaskCompleted(update.When)
	case tasks.StatusFailed:
		n.logger.Warn("Cleanup task failed")
		n.conditions.HandleCleanupTaskFailed(n.cleanupTask.jobExeIds, update.When)
	case tasks.StatusKilled:
		n.logger.Warn("Cleanup task killed")
	case tasks.StatusLost:
		n.logger.Warn("Cleanup task lost")
	default:
		return
	}
	n.cleanupTask = nil
}

func (n *Node) handleHealthTaskUpdate(update tasks.Update) {
	switch update.Status {
	case tasks.StatusFinished:
		n.lastHealthTask = update.When
		n.conditions.HandleHealthTaskCompleted()
	case tasks.StatusFailed:
		n.logger.Warn("Health check task failed")
		n.lastHealthTask = update.When
		n.conditions.HandleHealthTaskFailed(update.ExitCode, update.When)
	case tasks.StatusKilled:
		n.logger.Warn("Health check task killed")
	case tasks.StatusLost:
		n.logger.Warn("Health check task lost")
	default:
		return
	}
	n.healthTask = nil
}

func (n *Node) handlePullTaskUpdate(update tasks.Update) {
	switch update.Status {
	case tasks.StatusFinished:
		n.logger.Info("Node has finished pulling the image")
		n.isImagePulled = true
		n.conditions.HandlePullTaskCompleted()
	case tasks.StatusFailed:
		n.logger.Warn("Image pull task failed")
		n.conditions.HandlePullTaskFailed(update.When)
	case tasks.StatusKilled:
		n.logger.Warn("Image pull task killed")
	case tasks.StatusLost:
		n.logger.Warn("Image pull task lost")
	default:
		return
	}
	n.pullTask = nil
}

// reset returns the node to its initial state, e.g., when it goes offline or is deprecated.
func (n *Node) reset() {
	n.jobExesToClean = make(map[int64]bool)
	n.cleanupTask = nil
	n.healthTask = nil
	n.pullTask = nil
	n.isImagePulled = false
	n.isInitialCleanupCompleted = false
	n.lastHealthTask = time.Time{}
}

func (n *Node) updateState() {
	oldState := n.state
	switch {
	case !n.isActive:
		n.state = StateDeprecated
	case !n.isOnline:
		n.state = StateOffline
	case n.isPaused:
		n.state = StatePaused
	case n.isSchedulerPaused:
		n.state = StateSchedulerStopped
	case n.conditions.HasActiveErrors():
		n.state = StateDegraded
	case !n.isInitialCleanupCompleted:
		n.state = StateInitialCleanup
	case !n.isImagePulled:
		n.state = StateImagePull
	default:
		n.state = StateReady
	}
	if oldState.Name == "" || oldState == n.state {
		return
	}
	if n.state == StateDegraded {
		n.logger.Warnf("Node is now in %s state", n.state)
	} else {
		n.logger.Infof("Node is now in %s state", n.state)
	}
}

func isTimedOut(task *tasks.Task, now time.Time) bool {
	return task.HasBeenLaunched() && !task.HasEnded() && now.Sub(task.Launched()) > NodeTaskTimeout
}
