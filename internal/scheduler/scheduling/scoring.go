package scheduling

import (
	"github.com/ngageoint/scale/internal/scheduler/execution"
	"github.com/ngageoint/scale/internal/scheduler/schedulerobjects"
)

// ScoreForScheduling scores how well the given resources fit on the node right now. Lower is better.
// Returns false if the node doesn't have enough remaining resources.
//
// The score is the number of job types that would still fit in the node's estimated free capacity
// after placing the resources, so nodes that end up fully used are preferred.
func ScoreForScheduling(node *SchedulingNode, required *schedulerobjects.NodeResources, jobTypeResources []*schedulerobjects.NodeResources) (int, bool) {
	if !node.remainingResources.IsSufficientToMeet(required) {
		return 0, false
	}
	available := node.watermarkResources.DeepCopy()
	available.Subtract(node.taskResources)
	available.Subtract(node.AllocatedResources)
	available.Subtract(required)
	return countFits(available, jobTypeResources), true
}

// ScoreForReservation scores how well the node could run the candidate once lower-priority work has finished.
// Lower is better. Returns false if the node could never run the candidate.
//
// Resources held by non-job tasks and by executions of equal or higher priority (lower or equal priority number)
// are assumed to stay in use; everything else on the node is assumed to free up eventually.
// Nothing is ever evicted to make this happen.
func ScoreForReservation(node *SchedulingNode, candidate *execution.QueuedJobExecution, jobTypeResources []*schedulerobjects.NodeResources) (int, bool) {
	available := node.watermarkResources.DeepCopy()
	for _, task := range node.runningTasks {
		if !task.IsJobExeTask() {
			available.Subtract(task.GetResources())
		}
	}
	for _, jobExe := range node.runningJobExes {
		if jobExe.Priority > candidate.Priority {
			continue
		}
		task := jobExe.CurrentTask()
		if task == nil {
			task = jobExe.NextTask()
		}
		if task != nil {
			available.Subtract(task.GetResources())
		}
	}
	for _, queued := range node.allocatedQueuedJobExes {
		if queued.Priority <= candidate.Priority {
			available.Subtract(queued.RequiredResources)
		}
	}
	if !available.IsSufficientToMeet(candidate.RequiredResources) {
		return 0, false
	}
	available.Subtract(candidate.RequiredResources)
	return countFits(available, jobTypeResources), true
}

func countFits(available *schedulerobjects.NodeResources, jobTypeResources []*schedulerobjects.NodeResources) int {
	score := 0
	for _, resources := range jobTypeResources {
		if available.IsSufficientToMeet(resources) {
			score++
		}
	}
	return score
}
