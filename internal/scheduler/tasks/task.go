package tasks

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ngageoint/scale/internal/scheduler/schedulerobjects"
)

type Type string

const (
	// Node tasks, run by the scheduler to prepare or check an agent.
	CleanupTaskType Type = "cleanup"
	HealthTaskType  Type = "health-check"
	PullTaskType    Type = "image-pull"
	// One-off tasks the scheduler runs on behalf of the system, e.g., database updates.
	SystemTaskType Type = "system"
	// Tasks belonging to a job execution.
	JobExePullTaskType Type = "job-pull"
	JobExePreTaskType  Type = "job-pre"
	JobExeMainTaskType Type = "job-main"
	JobExePostTaskType Type = "job-post"
)

func (t Type) IsJobExeTask() bool {
	switch t {
	case JobExePullTaskType, JobExePreTaskType, JobExeMainTaskType, JobExePostTaskType:
		return true
	}
	return false
}

func (t Type) IsNodeTask() bool {
	switch t {
	case CleanupTaskType, HealthTaskType, PullTaskType:
		return true
	}
	return false
}

// Status of a task as last reported by the cluster.
type Status string

const (
	StatusStaging  Status = "staging"
	StatusRunning  Status = "running"
	StatusFinished Status = "finished"
	StatusFailed   Status = "failed"
	StatusKilled   Status = "killed"
	StatusLost     Status = "lost"
)

// Update is a status update for a task received from the cluster.
type Update struct {
	TaskId  string
	AgentId string
	Status  Status
	When    time.Time
	// Exit code of the task's process, if it has exited.
	ExitCode int
}

// Task is a single unit of work run on an agent.
// The id, name, type, job execution id, and resources never change after creation.
// The agent id and the launch and status fields are protected by a mutex.
type Task struct {
	Id       string
	Name     string
	Type     Type
	JobExeId int64
	// Resources required to run the task.
	resources *schedulerobjects.NodeResources

	mu              sync.Mutex
	agentId         string
	hasBeenLaunched bool
	launched        time.Time
	hasStarted      bool
	started         time.Time
	hasEnded        bool
	ended           time.Time
	lastStatus      Status
}

func NewTask(name string, taskType Type, agentId string, resources *schedulerobjects.NodeResources) *Task {
	return &Task{
		Id:        NewTaskId(taskType),
		Name:      name,
		Type:      taskType,
		resources: resources.DeepCopy(),
		agentId:   agentId,
	}
}

// NewJobExeTask returns a task belonging to the job execution with the given id.
func NewJobExeTask(jobExeId int64, taskType Type, agentId string, resources *schedulerobjects.NodeResources) *Task {
	t := NewTask(fmt.Sprintf("job execution %d %s", jobExeId, taskType), taskType, agentId, resources)
	t.JobExeId = jobExeId
	return t
}

// NewTaskId returns a unique id for a task of the given type.
func NewTaskId(taskType Type) string {
	return fmt.Sprintf("scale_%s_%s", taskType, uuid.New().String())
}

// GetResources returns a copy of the resources required by the task.
func (t *Task) GetResources() *schedulerobjects.NodeResources {
	return t.resources.DeepCopy()
}

func (t *Task) IsJobExeTask() bool {
	return t.Type.IsJobExeTask()
}

func (t *Task) AgentId() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.agentId
}

func (t *Task) SetAgentId(agentId string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.agentId = agentId
}

func (t *Task) HasBeenLaunched() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hasBeenLaunched
}

func (t *Task) Launched() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.launched
}

func (t *Task) HasStarted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hasStarted
}

func (t *Task) HasEnded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hasEnded
}

func (t *Task) LastStatus() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastStatus
}

// Launch marks the task as launched. Launching an already-launched task has no effect.
func (t *Task) Launch(when time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.hasBeenLaunched {
		return
	}
	t.hasBeenLaunched = true
	t.launched = when
	t.lastStatus = StatusStaging
}

// Update applies a status update and returns true if the task has ended as a result.
func (t *Task) Update(update Update) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if update.TaskId != t.Id || t.hasEnded {
		return t.hasEnded
	}
	t.lastStatus = update.Status
	switch update.Status {
	case StatusRunning:
		if !t.hasStarted {
			t.hasStarted = true
			t.started = update.When
		}
	case StatusFinished, StatusFailed, StatusKilled:
		t.hasEnded = true
		t.ended = update.When
	}
	return t.hasEnded
}

func (t *Task) String() string {
	return fmt.Sprintf("%s (%s)", t.Id, t.Name)
}
