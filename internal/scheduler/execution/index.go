package execution

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/ngageoint/scale/internal/scheduler/tasks"
)

// Index holds every running job execution known to the scheduler.
// Executions that reach a final status are moved to a finished list until collected with PopFinished.
type Index struct {
	running  map[int64]*RunningJobExecution
	finished []*RunningJobExecution
	mu       sync.Mutex
}

func NewIndex() *Index {
	return &Index{running: make(map[int64]*RunningJobExecution)}
}

// GetRunningJobExes returns the running executions ordered by id.
func (idx *Index) GetRunningJobExes() []*RunningJobExecution {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	rv := maps.Values(idx.running)
	slices.SortFunc(rv, func(a, b *RunningJobExecution) bool {
		return a.Id < b.Id
	})
	return rv
}

func (idx *Index) GetRunningJobExe(id int64) (*RunningJobExecution, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	exe, ok := idx.running[id]
	return exe, ok
}

// ScheduleJobExes adds newly scheduled executions to the index.
func (idx *Index) ScheduleJobExes(jobExes []*RunningJobExecution) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, exe := range jobExes {
		idx.running[exe.Id] = exe
	}
}

// LostJobExes fails the executions with the given ids because their node has been lost.
func (idx *Index) LostJobExes(jobExeIds []int64, now time.Time) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, id := range jobExeIds {
		exe, ok := idx.running[id]
		if !ok {
			continue
		}
		log.Warnf("%s lost its node", exe)
		exe.Lost(now)
		idx.finish(exe)
	}
}

// CancelJobExes cancels the executions with the given ids.
func (idx *Index) CancelJobExes(jobExeIds []int64, now time.Time) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, id := range jobExeIds {
		if exe, ok := idx.running[id]; ok {
			exe.Cancel(now)
			if exe.CurrentTask() == nil {
				idx.finish(exe)
			}
		}
	}
}

// CheckForStarvation fails every execution that has waited too long for resources.
func (idx *Index) CheckForStarvation(now time.Time) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, exe := range idx.running {
		if exe.CheckForStarvation(now) {
			idx.finish(exe)
		}
	}
}

// HandleTaskUpdate forwards an update for a job execution task to its execution.
func (idx *Index) HandleTaskUpdate(task *tasks.Task, update tasks.Update) {
	if !task.IsJobExeTask() {
		return
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	exe, ok := idx.running[task.JobExeId]
	if !ok {
		return
	}
	exe.TaskUpdate(update)
	if exe.Status() != StatusRunning && exe.CurrentTask() == nil {
		idx.finish(exe)
	}
}

// PopFinished returns and forgets the executions that have finished since the last call.
func (idx *Index) PopFinished() []*RunningJobExecution {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	rv := idx.finished
	idx.finished = nil
	return rv
}

func (idx *Index) finish(exe *RunningJobExecution) {
	delete(idx.running, exe.Id)
	idx.finished = append(idx.finished, exe)
}
