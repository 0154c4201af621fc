package execution

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ngageoint/scale/internal/scheduler/schedulerobjects"
	"github.com/ngageoint/scale/internal/scheduler/tasks"
)

// A running execution fails if it waits this long between tasks without being given resources.
const ResourceStarvationThreshold = 10 * time.Minute

type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCanceled  Status = "CANCELED"
)

// Error names recorded for failed executions.
const (
	ErrorNodeLost           = "node-lost"
	ErrorResourceStarvation = "resource-starvation"
	ErrorTaskFailed         = "task-failed"
)

var DefaultTaskTypes = []tasks.Type{tasks.JobExePullTaskType, tasks.JobExeMainTaskType}

// RunningJobExecution is a job execution that has been scheduled on a node.
// Its tasks run one at a time, in order. Safe for concurrent use.
type RunningJobExecution struct {
	Id        int64
	JobId     int64
	ExeNum    int
	JobTypeId int
	NodeId    int
	AgentId   string
	// Lower values are more important.
	Priority int
	Started  time.Time

	mu               sync.Mutex
	allTasks         []*tasks.Task
	remainingTasks   []*tasks.Task
	currentTask      *tasks.Task
	status           Status
	errorName        string
	finished         time.Time
	lastTaskFinished time.Time
	hasBeenStarved   bool
}

type RunningJobExecutionParams struct {
	Id        int64
	JobId     int64
	ExeNum    int
	JobTypeId int
	NodeId    int
	AgentId   string
	Priority  int
	Started   time.Time
	Resources *schedulerobjects.NodeResources
	// Defaults to DefaultTaskTypes if empty.
	TaskTypes []tasks.Type
}

func NewRunningJobExecution(params RunningJobExecutionParams) *RunningJobExecution {
	taskTypes := params.TaskTypes
	if len(taskTypes) == 0 {
		taskTypes = DefaultTaskTypes
	}
	exe := &RunningJobExecution{
		Id:               params.Id,
		JobId:            params.JobId,
		ExeNum:           params.ExeNum,
		JobTypeId:        params.JobTypeId,
		NodeId:           params.NodeId,
		AgentId:          params.AgentId,
		Priority:         params.Priority,
		Started:          params.Started,
		status:           StatusRunning,
		lastTaskFinished: params.Started,
	}
	for _, taskType := range taskTypes {
		exe.allTasks = append(exe.allTasks, tasks.NewJobExeTask(params.Id, taskType, params.AgentId, params.Resources))
	}
	exe.remainingTasks = append(exe.remainingTasks, exe.allTasks...)
	return exe
}

func (e *RunningJobExecution) CurrentTask() *tasks.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentTask
}

// NextTask returns the task that will run next, or nil if there is none.
func (e *RunningJobExecution) NextTask() *tasks.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.remainingTasks) == 0 {
		return nil
	}
	return e.remainingTasks[0]
}

// StartNextTask makes the next task current and returns it.
// Returns nil if a task is already running or no tasks remain.
func (e *RunningJobExecution) StartNextTask() *tasks.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.currentTask != nil || len(e.remainingTasks) == 0 {
		return nil
	}
	e.currentTask = e.remainingTasks[0]
	e.remainingTasks = e.remainingTasks[1:]
	return e.currentTask
}

// IsNextTaskReady returns true if no task is running and at least one remains.
func (e *RunningJobExecution) IsNextTaskReady() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentTask == nil && len(e.remainingTasks) > 0
}

func (e *RunningJobExecution) IsFinished() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentTask == nil && len(e.remainingTasks) == 0
}

func (e *RunningJobExecution) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *RunningJobExecution) ErrorName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.errorName
}

func (e *RunningJobExecution) Finished() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.finished
}

// Cancel marks the execution as canceled. No further tasks are started.
func (e *RunningJobExecution) Cancel(when time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setFinalStatus(StatusCanceled, when, "")
}

// Lost marks the execution as failed because its node has gone away.
func (e *RunningJobExecution) Lost(when time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setFinalStatus(StatusFailed, when, ErrorNodeLost)
}

// CheckForStarvation fails the execution if it has waited too long for its next task to be scheduled.
// Returns true if the execution has been starved.
func (e *RunningJobExecution) CheckForStarvation(when time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.hasBeenStarved {
		return true
	}
	if e.currentTask != nil || len(e.remainingTasks) == 0 {
		return false
	}
	if !e.lastTaskFinished.IsZero() && when.After(e.lastTaskFinished.Add(ResourceStarvationThreshold)) {
		e.hasBeenStarved = true
		e.setFinalStatus(StatusFailed, when, ErrorResourceStarvation)
		log.Warnf("job execution %d has failed due to resource starvation", e.Id)
	}
	return e.hasBeenStarved
}

// TaskUpdate applies a status update for the current task.
// Lost tasks are retried under a new task id while the execution is still running.
func (e *RunningJobExecution) TaskUpdate(update tasks.Update) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.currentTask == nil || e.currentTask.Id != update.TaskId {
		return
	}
	switch update.Status {
	case tasks.StatusFinished:
		e.currentTask = nil
		e.lastTaskFinished = update.When
		if len(e.remainingTasks) == 0 {
			e.setFinalStatus(StatusCompleted, update.When, "")
		}
	case tasks.StatusFailed, tasks.StatusKilled:
		e.currentTask = nil
		e.lastTaskFinished = update.When
		e.setFinalStatus(StatusFailed, update.When, ErrorTaskFailed)
	case tasks.StatusLost:
		if e.status == StatusRunning {
			lost := e.currentTask
			retry := tasks.NewJobExeTask(e.Id, lost.Type, lost.AgentId(), lost.GetResources())
			e.remainingTasks = append([]*tasks.Task{retry}, e.remainingTasks...)
		}
		e.currentTask = nil
		e.lastTaskFinished = update.When
	}
}

func (e *RunningJobExecution) String() string {
	return fmt.Sprintf("job execution %d (job %d, node %d)", e.Id, e.JobId, e.NodeId)
}

func (e *RunningJobExecution) setFinalStatus(status Status, when time.Time, errorName string) {
	if e.status != StatusRunning {
		return
	}
	e.remainingTasks = nil
	e.status = status
	e.finished = when
	e.errorName = errorName
}
