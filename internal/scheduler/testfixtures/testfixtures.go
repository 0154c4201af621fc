package testfixtures

// This file contains test fixtures to be used throughout the tests for the scheduler packages.
import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ngageoint/scale/internal/scheduler/execution"
	"github.com/ngageoint/scale/internal/scheduler/schedulerobjects"
	"github.com/ngageoint/scale/internal/scheduler/tasks"
)

const (
	TestFrameworkId = "test-framework"
	TestWorkspace   = "test-workspace"
)

var (
	BaseTime, _ = time.Parse("2006-01-02T15:04:05.000Z", "2022-03-01T15:04:05.000Z")
	// Standard job type used by most tests.
	TestJobType = &schedulerobjects.JobType{
		Id:        1,
		Name:      "test-job",
		Version:   "1.0",
		Resources: Resources(1, 10),
	}
	idCounter int64
)

// Resources returns node resources with the given cpus and mem and nothing else.
func Resources(cpus, mem float64) *schedulerobjects.NodeResources {
	return schedulerobjects.NewNodeResources(map[string]float64{
		schedulerobjects.Cpus: cpus,
		schedulerobjects.Mem:  mem,
	})
}

// NewId returns an id unique within the test binary.
func NewId() int64 {
	return atomic.AddInt64(&idCounter, 1)
}

// AgentId returns the agent id used for the node with the given id.
func AgentId(nodeId int) string {
	return fmt.Sprintf("agent-%d", nodeId)
}

func Hostname(nodeId int) string {
	return fmt.Sprintf("host-%d.example.com", nodeId)
}

// ResourceSet returns a resource set offering the given resources with no running tasks.
func ResourceSet(offered *schedulerobjects.NodeResources) *schedulerobjects.ResourceSet {
	return schedulerobjects.NewResourceSet(offered, nil, offered)
}

func Offer(agentId string, resources *schedulerobjects.NodeResources) *schedulerobjects.ResourceOffer {
	return schedulerobjects.NewResourceOffer(fmt.Sprintf("offer-%d", NewId()), agentId, resources, BaseTime)
}

// QueuedJobExe returns a queued execution of TestJobType requiring the given resources.
func QueuedJobExe(priority int, resources *schedulerobjects.NodeResources) *execution.QueuedJobExecution {
	id := NewId()
	return &execution.QueuedJobExecution{
		Id:                id,
		JobId:             id,
		ExeNum:            1,
		JobTypeId:         TestJobType.Id,
		Priority:          priority,
		RequiredResources: resources.DeepCopy(),
		Queued:            BaseTime,
	}
}

// N1QueuedJobExes returns n identical queued executions.
func N1QueuedJobExes(n int, priority int, resources *schedulerobjects.NodeResources) []*execution.QueuedJobExecution {
	rv := make([]*execution.QueuedJobExecution, n)
	for i := range rv {
		rv[i] = QueuedJobExe(priority, resources)
	}
	return rv
}

// WithJobType sets the job type of every execution.
func WithJobType(jobTypeId int, jobExes []*execution.QueuedJobExecution) []*execution.QueuedJobExecution {
	for _, jobExe := range jobExes {
		jobExe.JobTypeId = jobTypeId
	}
	return jobExes
}

// RunningJobExe returns an execution of TestJobType running on the given node that has not yet started a task.
func RunningJobExe(nodeId int, priority int, resources *schedulerobjects.NodeResources) *execution.RunningJobExecution {
	id := NewId()
	return execution.NewRunningJobExecution(execution.RunningJobExecutionParams{
		Id:        id,
		JobId:     id,
		ExeNum:    1,
		JobTypeId: TestJobType.Id,
		NodeId:    nodeId,
		AgentId:   AgentId(nodeId),
		Priority:  priority,
		Started:   BaseTime,
		Resources: resources,
	})
}

// RunningJobExeFromQueued returns the execution that scheduling queued would create.
func RunningJobExeFromQueued(queued *execution.QueuedJobExecution) *execution.RunningJobExecution {
	return execution.NewRunningJobExecution(execution.RunningJobExecutionParams{
		Id:        queued.Id,
		JobId:     queued.JobId,
		ExeNum:    queued.ExeNum,
		JobTypeId: queued.JobTypeId,
		NodeId:    queued.ScheduledNodeId,
		AgentId:   queued.ScheduledAgentId,
		Priority:  queued.Priority,
		Started:   BaseTime,
		Resources: queued.ScheduledResources,
	})
}

func NodeTask(agentId string, resources *schedulerobjects.NodeResources) *tasks.Task {
	return tasks.NewTask("health check", tasks.HealthTaskType, agentId, resources)
}

func SystemTask(resources *schedulerobjects.NodeResources) *tasks.Task {
	return tasks.NewTask("database update", tasks.SystemTaskType, "", resources)
}
