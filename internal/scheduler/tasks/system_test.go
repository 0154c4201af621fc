package tasks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// launchDbUpdate returns the pending database update task after marking it launched on agent-1.
func launchDbUpdate(t *testing.T, m *SystemTaskManager, now time.Time) *Task {
	pending := m.GetTasksToSchedule(now)
	require.Len(t, pending, 1)
	task := pending[0]
	assert.Equal(t, SystemTaskType, task.Type)
	assert.True(t, DatabaseUpdateResources.IsEqual(task.GetResources()))
	task.SetAgentId("agent-1")
	task.Launch(now)
	return task
}

func TestSystemTaskManager_DatabaseUpdate(t *testing.T) {
	tests := map[string]struct {
		status Status
		// Time after the update at which the next task is requested.
		next              time.Duration
		expectCompleted   bool
		expectRescheduled bool
	}{
		"finished": {
			status:          StatusFinished,
			next:            time.Second,
			expectCompleted: true,
		},
		"failed waits before retrying": {
			status: StatusFailed,
			next:   time.Minute,
		},
		"failed retried after delay": {
			status:            StatusFailed,
			next:              DatabaseUpdateRetryDelay + time.Second,
			expectRescheduled: true,
		},
		"killed": {
			status:            StatusKilled,
			next:              time.Second,
			expectRescheduled: true,
		},
		"lost": {
			status:            StatusLost,
			next:              time.Second,
			expectRescheduled: true,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			m := NewSystemTaskManager()
			task := launchDbUpdate(t, m, testTime)

			// Launched tasks aren't handed out again.
			assert.Empty(t, m.GetTasksToSchedule(testTime))

			updated := testTime.Add(time.Minute)
			assert.True(t, m.HandleTaskUpdate(Update{TaskId: task.Id, AgentId: "agent-1", Status: tc.status, When: updated, ExitCode: 1}))

			isCompleted, when := m.IsDatabaseUpdateCompleted()
			assert.Equal(t, tc.expectCompleted, isCompleted)
			if tc.expectCompleted {
				assert.Equal(t, updated, when)
			}

			pending := m.GetTasksToSchedule(updated.Add(tc.next))
			if tc.expectRescheduled {
				require.Len(t, pending, 1)
				assert.NotEqual(t, task.Id, pending[0].Id)
			} else {
				assert.Empty(t, pending)
			}
		})
	}
}

func TestSystemTaskManager_RunningUpdate(t *testing.T) {
	m := NewSystemTaskManager()
	task := launchDbUpdate(t, m, testTime)

	assert.True(t, m.HandleTaskUpdate(Update{TaskId: task.Id, AgentId: "agent-1", Status: StatusRunning, When: testTime}))
	assert.True(t, task.HasStarted())
	assert.Empty(t, m.GetTasksToSchedule(testTime.Add(time.Hour)))
}

func TestSystemTaskManager_OtherTask(t *testing.T) {
	m := NewSystemTaskManager()
	launchDbUpdate(t, m, testTime)
	assert.False(t, m.HandleTaskUpdate(Update{TaskId: NewTaskId(SystemTaskType), Status: StatusFinished, When: testTime}))

	isCompleted, _ := m.IsDatabaseUpdateCompleted()
	assert.False(t, isCompleted)
}
