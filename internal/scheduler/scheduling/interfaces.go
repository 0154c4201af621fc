package scheduling

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/ngageoint/scale/internal/common/scaleerrors"
	"github.com/ngageoint/scale/internal/scheduler/execution"
	"github.com/ngageoint/scale/internal/scheduler/schedulerobjects"
	"github.com/ngageoint/scale/internal/scheduler/tasks"
)

// QueueMode controls the order of queued executions of equal priority.
type QueueMode string

const (
	QueueModeFIFO QueueMode = "FIFO"
	QueueModeLIFO QueueMode = "LIFO"
)

func ParseQueueMode(s string) (QueueMode, error) {
	switch mode := QueueMode(strings.ToUpper(s)); mode {
	case QueueModeFIFO, QueueModeLIFO:
		return mode, nil
	}
	return "", errors.WithStack(&scaleerrors.ErrInvalidArgument{
		Name:    "queueMode",
		Value:   s,
		Message: "must be FIFO or LIFO",
	})
}

// QueueSource returns queued executions ordered by priority, most important first.
type QueueSource interface {
	GetQueue(ctx context.Context, mode QueueMode, ignoreJobTypeIds []int, limit int) ([]*execution.QueuedJobExecution, error)
}

type NodeRegistry interface {
	GetNodes() []Node
}

type Node interface {
	Id() int
	Hostname() string
	AgentId() string
	IsReadyForNewJob() bool
	IsReadyForNextJobTask() bool
	IsReadyForSystemTask() bool
	// GetNextTasks returns the node tasks that should be run now.
	GetNextTasks(now time.Time) []*tasks.Task
}

// ResourceAccountant tracks the resources offered by each agent.
type ResourceAccountant interface {
	RefreshAgentResources(tasks []*tasks.Task, now time.Time) map[string]*schedulerobjects.ResourceSet
	// AllocateOffers returns the offers granted to each agent, which may cover less than requested.
	AllocateOffers(requested map[string]*schedulerobjects.NodeResources, now time.Time) map[string][]*schedulerobjects.ResourceOffer
	// DeclineOffers returns the offers that should be given back to the cluster.
	DeclineOffers() []*schedulerobjects.ResourceOffer
	SetAgentShortages(shortages map[string]*schedulerobjects.NodeResources)
	// MaxAvailableResources returns, per resource, the largest quantity available on any single agent.
	MaxAvailableResources() *schedulerobjects.NodeResources
}

type TaskManager interface {
	GetAllTasks() []*tasks.Task
	LaunchTasks(tasks []*tasks.Task, startedAt time.Time)
}

type RunningExecutionIndex interface {
	GetRunningJobExes() []*execution.RunningJobExecution
	ScheduleJobExes(jobExes []*execution.RunningJobExecution)
	LostJobExes(jobExeIds []int64, now time.Time)
}

// ClusterDriver is the connection to the cluster manager.
type ClusterDriver interface {
	// FrameworkId returns the id assigned by the cluster manager, or the empty string if not connected.
	FrameworkId() string
	LaunchTasks(ctx context.Context, agentId string, offerIds []string, tasks []*tasks.Task) error
	DeclineOffers(ctx context.Context, offerIds []string) error
}

// ExecutionStore durably records scheduled executions and removes them from the queue.
// Either every execution in a call is recorded or none are.
type ExecutionStore interface {
	// ScheduleJobExecutions returns the new running executions, keyed by node id.
	// Canceled executions are removed from the queue without being returned.
	ScheduleJobExecutions(
		ctx context.Context,
		frameworkId string,
		queued []*execution.QueuedJobExecution,
		jobTypes map[int]*schedulerobjects.JobType,
		workspaces map[string]bool,
	) (map[int][]*execution.RunningJobExecution, error)
}

type JobTypeSource interface {
	GetJobTypes() map[int]*schedulerobjects.JobType
	// GetJobTypeResources returns the resources required by each job type.
	GetJobTypeResources() []*schedulerobjects.NodeResources
}

type WorkspaceSource interface {
	GetWorkspaces() map[string]bool
}

// SystemTaskSource yields the system tasks that should be scheduled now.
type SystemTaskSource interface {
	GetTasksToSchedule(now time.Time) []*tasks.Task
}
