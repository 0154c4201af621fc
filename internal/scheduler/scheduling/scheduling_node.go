package scheduling

import (
	"time"

	"github.com/ngageoint/scale/internal/scheduler/execution"
	"github.com/ngageoint/scale/internal/scheduler/schedulerobjects"
	"github.com/ngageoint/scale/internal/scheduler/tasks"
)

// SchedulingNode tracks the resources of a single node for the duration of one scheduling cycle.
// Resources only move between remaining and allocated, so remaining + allocated always equals what was offered.
type SchedulingNode struct {
	// Read once at the start of the cycle since the node's agent may change while scheduling.
	AgentId  string
	Hostname string
	NodeId   int
	// Readiness is also read once so that it is consistent for the whole cycle.
	IsReadyForNewJob      bool
	IsReadyForNextJobTask bool
	IsReadyForSystemTask  bool

	AllocatedOffers    []*schedulerobjects.ResourceOffer
	AllocatedResources *schedulerobjects.NodeResources
	// Tasks that will be launched on this node at the end of the cycle.
	AllocatedTasks []*tasks.Task

	node Node
	// New executions from the queue that have been tentatively placed on this node.
	allocatedQueuedJobExes []*execution.QueuedJobExecution
	// Executions already running on this node whose next task has been given resources.
	allocatedRunningJobExes []*execution.RunningJobExecution
	// Executions placed on this node this cycle and recorded as scheduled.
	scheduledNewJobExes []*execution.RunningJobExecution
	// Resources held by allocatedQueuedJobExes and scheduledNewJobExes.
	newJobExeResources *schedulerobjects.NodeResources
	runningJobExes     []*execution.RunningJobExecution
	runningTasks       []*tasks.Task

	offeredResources   *schedulerobjects.NodeResources
	remainingResources *schedulerobjects.NodeResources
	taskResources      *schedulerobjects.NodeResources
	watermarkResources *schedulerobjects.NodeResources
}

func NewSchedulingNode(
	agentId string,
	node Node,
	runningTasks []*tasks.Task,
	runningJobExes []*execution.RunningJobExecution,
	resourceSet *schedulerobjects.ResourceSet,
) *SchedulingNode {
	if resourceSet == nil {
		resourceSet = schedulerobjects.EmptyResourceSet()
	}
	return &SchedulingNode{
		AgentId:               agentId,
		Hostname:              node.Hostname(),
		NodeId:                node.Id(),
		IsReadyForNewJob:      node.IsReadyForNewJob(),
		IsReadyForNextJobTask: node.IsReadyForNextJobTask(),
		IsReadyForSystemTask:  node.IsReadyForSystemTask(),
		AllocatedResources:    schedulerobjects.EmptyNodeResources(),
		node:                  node,
		newJobExeResources:    schedulerobjects.EmptyNodeResources(),
		runningJobExes:        runningJobExes,
		runningTasks:          runningTasks,
		offeredResources:      resourceSet.Offered.DeepCopy(),
		remainingResources:    resourceSet.Offered.DeepCopy(),
		taskResources:         resourceSet.TaskUsage.DeepCopy(),
		watermarkResources:    resourceSet.Watermark.DeepCopy(),
	}
}

// RemainingResources returns a copy of the resources not yet allocated this cycle.
func (n *SchedulingNode) RemainingResources() *schedulerobjects.NodeResources {
	return n.remainingResources.DeepCopy()
}

// OfferedResources returns a copy of the resources offered at the start of the cycle.
func (n *SchedulingNode) OfferedResources() *schedulerobjects.NodeResources {
	return n.offeredResources.DeepCopy()
}

// AcceptNodeTasks allocates resources to the node tasks due now.
// Tasks that do not fit are returned; they should be retried in a later cycle.
func (n *SchedulingNode) AcceptNodeTasks(now time.Time) []*tasks.Task {
	var waiting []*tasks.Task
	for _, task := range n.node.GetNextTasks(now) {
		if !n.allocate(task.GetResources()) {
			waiting = append(waiting, task)
			continue
		}
		n.AllocatedTasks = append(n.AllocatedTasks, task)
	}
	return waiting
}

// AcceptJobExeNextTask allocates resources to the next task of an execution already running on this node.
// If the task does not fit it is returned, otherwise nil is returned.
// Nothing happens if the node can't take job tasks or the execution has no next task.
func (n *SchedulingNode) AcceptJobExeNextTask(jobExe *execution.RunningJobExecution) *tasks.Task {
	if !n.IsReadyForNextJobTask {
		return nil
	}
	task := jobExe.NextTask()
	if task == nil {
		return nil
	}
	if !n.allocate(task.GetResources()) {
		return task
	}
	n.allocatedRunningJobExes = append(n.allocatedRunningJobExes, jobExe)
	return nil
}

// AcceptNewJobExe tentatively places a new execution on this node.
// On success the execution is marked as scheduled on this node.
func (n *SchedulingNode) AcceptNewJobExe(jobExe *execution.QueuedJobExecution) bool {
	if !n.IsReadyForNewJob {
		return false
	}
	resources := jobExe.RequiredResources
	if !n.allocate(resources) {
		return false
	}
	n.newJobExeResources.Add(resources)
	n.allocatedQueuedJobExes = append(n.allocatedQueuedJobExes, jobExe)
	jobExe.Scheduled(n.AgentId, n.NodeId, resources)
	return true
}

// AcceptSystemTask places a system task on this node, assigning it this node's agent.
func (n *SchedulingNode) AcceptSystemTask(task *tasks.Task) bool {
	if !n.IsReadyForSystemTask {
		return false
	}
	if !n.allocate(task.GetResources()) {
		return false
	}
	task.SetAgentId(n.AgentId)
	n.AllocatedTasks = append(n.AllocatedTasks, task)
	return true
}

// AddAllocatedOffers attaches the offers granted for this node.
// If they don't cover what was allocated, new executions are dropped first.
// If that is still not enough, every allocation is dropped.
func (n *SchedulingNode) AddAllocatedOffers(offers []*schedulerobjects.ResourceOffer) {
	offered := schedulerobjects.SumOfferResources(offers)
	n.AllocatedOffers = offers

	if !offered.IsSufficientToMeet(n.AllocatedResources) {
		n.dropNewJobExes()
	}
	if !offered.IsSufficientToMeet(n.AllocatedResources) {
		n.AllocatedTasks = nil
		n.allocatedRunningJobExes = nil
		n.AllocatedResources = schedulerobjects.EmptyNodeResources()
		n.remainingResources = n.offeredResources.DeepCopy()
	}
}

// AddScheduledJobExes records that the executions placed on this node have been scheduled.
// Placed executions missing from jobExes, e.g., because they were canceled, give their resources back.
func (n *SchedulingNode) AddScheduledJobExes(jobExes []*execution.RunningJobExecution) {
	scheduledJobIds := make(map[int64]bool, len(jobExes))
	for _, jobExe := range jobExes {
		scheduledJobIds[jobExe.JobId] = true
	}
	for _, queued := range n.allocatedQueuedJobExes {
		if !scheduledJobIds[queued.JobId] {
			n.release(queued.RequiredResources)
			n.newJobExeResources.Subtract(queued.RequiredResources)
		}
	}
	n.allocatedQueuedJobExes = nil
	n.scheduledNewJobExes = append(n.scheduledNewJobExes, jobExes...)
}

// ResetNewJobExes gives back the resources of every new execution not yet scheduled.
func (n *SchedulingNode) ResetNewJobExes() {
	if len(n.allocatedQueuedJobExes) == 0 {
		return
	}
	resources := schedulerobjects.EmptyNodeResources()
	for _, queued := range n.allocatedQueuedJobExes {
		resources.Add(queued.RequiredResources)
	}
	n.allocatedQueuedJobExes = nil
	n.release(resources)
	n.newJobExeResources.Subtract(resources)
}

// StartJobExeTasks starts the next task of every execution given resources this cycle.
func (n *SchedulingNode) StartJobExeTasks() {
	for _, jobExes := range [][]*execution.RunningJobExecution{n.allocatedRunningJobExes, n.scheduledNewJobExes} {
		for _, jobExe := range jobExes {
			if task := jobExe.StartNextTask(); task != nil {
				n.AllocatedTasks = append(n.AllocatedTasks, task)
			}
		}
	}
	n.allocatedRunningJobExes = nil
	n.scheduledNewJobExes = nil
}

// NumNewJobExes returns the number of new executions held by this node.
func (n *SchedulingNode) NumNewJobExes() int {
	return len(n.allocatedQueuedJobExes) + len(n.scheduledNewJobExes)
}

func (n *SchedulingNode) dropNewJobExes() {
	if n.NumNewJobExes() == 0 {
		return
	}
	n.release(n.newJobExeResources)
	n.newJobExeResources = schedulerobjects.EmptyNodeResources()
	n.allocatedQueuedJobExes = nil
	n.scheduledNewJobExes = nil
}

// allocate moves resources from remaining to allocated if there are enough remaining.
func (n *SchedulingNode) allocate(resources *schedulerobjects.NodeResources) bool {
	if !n.remainingResources.IsSufficientToMeet(resources) {
		return false
	}
	n.AllocatedResources.Add(resources)
	n.remainingResources.Subtract(resources)
	return true
}

func (n *SchedulingNode) release(resources *schedulerobjects.NodeResources) {
	n.AllocatedResources.Subtract(resources)
	n.remainingResources.Add(resources)
}
