package execution

import (
	"time"

	"github.com/ngageoint/scale/internal/scheduler/schedulerobjects"
)

// QueuedJobExecution is a job execution read from the queue that has not yet been scheduled.
type QueuedJobExecution struct {
	// Id of the queue entry.
	Id        int64
	JobId     int64
	ExeNum    int
	JobTypeId int
	// Lower values are more important.
	Priority          int
	RequiredResources *schedulerobjects.NodeResources
	InputWorkspaces   []string
	OutputWorkspaces  []string
	IsCanceled        bool
	Queued            time.Time

	// Set once the execution has been placed on a node.
	ScheduledAgentId   string
	ScheduledNodeId    int
	ScheduledResources *schedulerobjects.NodeResources
}

// Scheduled records the node the execution has been placed on.
func (q *QueuedJobExecution) Scheduled(agentId string, nodeId int, resources *schedulerobjects.NodeResources) {
	q.ScheduledAgentId = agentId
	q.ScheduledNodeId = nodeId
	q.ScheduledResources = resources.DeepCopy()
}

func (q *QueuedJobExecution) IsScheduled() bool {
	return q.ScheduledAgentId != ""
}

// WorkspaceNames returns the names of every workspace the execution reads from or writes to.
func (q *QueuedJobExecution) WorkspaceNames() []string {
	rv := make([]string, 0, len(q.InputWorkspaces)+len(q.OutputWorkspaces))
	rv = append(rv, q.InputWorkspaces...)
	return append(rv, q.OutputWorkspaces...)
}
