package tasks

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"

	"github.com/ngageoint/scale/internal/common/logging"
)

// Number of ended task ids remembered, so that repeated updates for them aren't reported as unknown.
const DefaultRecentlyEndedCacheSize = 10000

// Manager tracks every task the scheduler has launched and that has not yet ended.
// Safe for concurrent use; task updates arrive from outside the scheduling goroutine.
type Manager struct {
	tasks map[string]*Task
	// Ids of tasks that have recently stopped being tracked.
	recentlyEnded *lru.Cache
	logger        *log.Entry
	mu            sync.Mutex
}

func NewManager(recentlyEndedCacheSize int) (*Manager, error) {
	recentlyEnded, err := lru.New(recentlyEndedCacheSize)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &Manager{
		tasks:         make(map[string]*Task),
		recentlyEnded: recentlyEnded,
		logger:        logging.NewComponentLogger("tasks"),
	}, nil
}

// GetAllTasks returns the current tasks in no particular order.
func (m *Manager) GetAllTasks() []*Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Values(m.tasks)
}

func (m *Manager) GetTask(id string) (*Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	return task, ok
}

// GetTasksForAgent returns the current tasks running on the given agent.
func (m *Manager) GetTasksForAgent(agentId string) []*Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rv []*Task
	for _, task := range m.tasks {
		if task.AgentId() == agentId {
			rv = append(rv, task)
		}
	}
	return rv
}

// LaunchTasks marks the given tasks as launched and starts tracking them.
func (m *Manager) LaunchTasks(tasks []*Task, when time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, task := range tasks {
		task.Launch(when)
		m.tasks[task.Id] = task
	}
}

// HandleTaskUpdate applies an update to a tracked task.
// Tasks that have ended or been lost are no longer tracked.
// Returns the updated task, or nil if the task is unknown.
func (m *Manager) HandleTaskUpdate(update Update) *Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[update.TaskId]
	if !ok {
		if m.recentlyEnded.Contains(update.TaskId) {
			m.logger.Debugf("Ignoring update %s for ended task %s", update.Status, update.TaskId)
		} else {
			m.logger.Warnf("Ignoring update %s for unknown task %s", update.Status, update.TaskId)
		}
		return nil
	}
	if ended := task.Update(update); ended || update.Status == StatusLost {
		delete(m.tasks, task.Id)
		m.recentlyEnded.Add(task.Id, nil)
	}
	return task
}

// HasRecentlyEnded returns true if the task stopped being tracked recently.
func (m *Manager) HasRecentlyEnded(taskId string) bool {
	return m.recentlyEnded.Contains(taskId)
}
