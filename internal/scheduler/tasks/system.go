package tasks

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ngageoint/scale/internal/common/logging"
	"github.com/ngageoint/scale/internal/scheduler/schedulerobjects"
)

// A failed database update isn't retried until this long after the failure.
const DatabaseUpdateRetryDelay = 2 * time.Minute

// DatabaseUpdateResources are the resources required by the database update task.
var DatabaseUpdateResources = schedulerobjects.NewNodeResources(map[string]float64{
	schedulerobjects.Cpus: 0.5,
	schedulerobjects.Mem:  512,
})

// SystemTaskManager creates the tasks the scheduler runs on behalf of the system.
// Currently that's a single database update task, run once each time the scheduler starts.
type SystemTaskManager struct {
	dbUpdateTask          *Task
	isDbUpdateCompleted   bool
	dbUpdateCompleted     time.Time
	lastDbUpdateFailure   time.Time
	hasDbUpdateFailedOnce bool
	logger                *log.Entry
	mu                    sync.Mutex
}

func NewSystemTaskManager() *SystemTaskManager {
	return &SystemTaskManager{logger: logging.NewComponentLogger("system-tasks")}
}

// GetTasksToSchedule returns the system tasks that should be launched as soon as possible.
func (m *SystemTaskManager) GetTasksToSchedule(now time.Time) []*Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dbUpdateTask == nil && !m.isDbUpdateCompleted {
		if !m.hasDbUpdateFailedOnce || now.Sub(m.lastDbUpdateFailure) > DatabaseUpdateRetryDelay {
			m.dbUpdateTask = NewTask("database update", SystemTaskType, "", DatabaseUpdateResources)
		}
	}
	if m.dbUpdateTask != nil && !m.dbUpdateTask.HasBeenLaunched() {
		return []*Task{m.dbUpdateTask}
	}
	return nil
}

// HandleTaskUpdate applies an update for a system task. Returns false if the task isn't a current system task.
func (m *SystemTaskManager) HandleTaskUpdate(update Update) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dbUpdateTask == nil || m.dbUpdateTask.Id != update.TaskId {
		return false
	}
	ended := m.dbUpdateTask.Update(update)
	switch update.Status {
	case StatusFinished:
		m.logger.Info("Scale database update has completed")
		m.isDbUpdateCompleted = true
		m.dbUpdateCompleted = update.When
	case StatusFailed:
		m.logger.Warnf("Scale database update has failed with exit code %d", update.ExitCode)
		m.hasDbUpdateFailedOnce = true
		m.lastDbUpdateFailure = update.When
	case StatusKilled:
		m.logger.Warn("Scale database update was killed")
	case StatusLost:
		m.logger.Warn("Scale database update was lost")
		ended = true
	}
	if ended {
		m.dbUpdateTask = nil
	}
	return true
}

// IsDatabaseUpdateCompleted returns true, and when, if the database update has finished successfully.
func (m *SystemTaskManager) IsDatabaseUpdateCompleted() (bool, time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isDbUpdateCompleted, m.dbUpdateCompleted
}
