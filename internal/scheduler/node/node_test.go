package node

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slices"

	"github.com/ngageoint/scale/internal/scheduler/tasks"
	"github.com/ngageoint/scale/internal/scheduler/testfixtures"
)

const testAgentId = "agent-1"

func testModel() *Model {
	return &Model{Id: 1, Hostname: "host-1", IsActive: true, LastOfferReceived: testfixtures.BaseTime}
}

func taskOfType(t *testing.T, nodeTasks []*tasks.Task, taskType tasks.Type) *tasks.Task {
	for _, task := range nodeTasks {
		if task.Type == taskType {
			return task
		}
	}
	require.Failf(t, "missing task", "no %s task in %v", taskType, nodeTasks)
	return nil
}

func taskTypes(nodeTasks []*tasks.Task) []tasks.Type {
	rv := make([]tasks.Type, len(nodeTasks))
	for i, task := range nodeTasks {
		rv[i] = task.Type
	}
	return rv
}

func finish(n *Node, task *tasks.Task, when time.Time) {
	complete(n, task, tasks.StatusFinished, 0, when)
}

func complete(n *Node, task *tasks.Task, status tasks.Status, exitCode int, when time.Time) {
	update := tasks.Update{TaskId: task.Id, AgentId: task.AgentId(), Status: status, When: when, ExitCode: exitCode}
	task.Update(update)
	n.HandleTaskUpdate(update)
}

// readyNode returns a node that has completed initial cleanup and pulled the image.
func readyNode(t *testing.T) *Node {
	n := NewNode(testAgentId, testModel(), false)
	now := testfixtures.BaseTime
	nodeTasks := n.GetNextTasks(now)
	for _, task := range nodeTasks {
		task.Launch(now)
		finish(n, task, now)
	}
	pull := taskOfType(t, n.GetNextTasks(now), tasks.PullTaskType)
	pull.Launch(now)
	finish(n, pull, now)
	require.Equal(t, StateReady, n.State())
	return n
}

func TestNewNode_State(t *testing.T) {
	tests := map[string]struct {
		model             *Model
		isSchedulerPaused bool
		expected          State
	}{
		"new node": {
			model:    testModel(),
			expected: StateInitialCleanup,
		},
		"inactive": {
			model:    &Model{Id: 1, Hostname: "host-1"},
			expected: StateDeprecated,
		},
		"paused": {
			model:    &Model{Id: 1, Hostname: "host-1", IsActive: true, IsPaused: true},
			expected: StatePaused,
		},
		"scheduler paused": {
			model:             testModel(),
			isSchedulerPaused: true,
			expected:          StateSchedulerStopped,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			n := NewNode(testAgentId, tc.model, tc.isSchedulerPaused)
			assert.Equal(t, tc.expected, n.State())
			assert.False(t, n.IsReadyForNewJob())
			assert.False(t, n.IsReadyForNextJobTask())
			assert.False(t, n.IsReadyForSystemTask())
		})
	}
}

func TestNode_BecomesReady(t *testing.T) {
	n := NewNode(testAgentId, testModel(), false)
	now := testfixtures.BaseTime

	nodeTasks := n.GetNextTasks(now)
	assert.ElementsMatch(t, []tasks.Type{tasks.CleanupTaskType, tasks.HealthTaskType}, taskTypes(nodeTasks))
	// The same tasks are returned until they're launched.
	assert.Equal(t, nodeTasks, n.GetNextTasks(now))
	for _, task := range nodeTasks {
		assert.Equal(t, testAgentId, task.AgentId())
		assert.True(t, NodeTaskResources.IsEqual(task.GetResources()))
		task.Launch(now)
	}
	assert.Empty(t, n.GetNextTasks(now))

	finish(n, taskOfType(t, nodeTasks, tasks.CleanupTaskType), now)
	assert.Equal(t, StateImagePull, n.State())
	pull := taskOfType(t, n.GetNextTasks(now), tasks.PullTaskType)
	pull.Launch(now)
	assert.False(t, n.IsReadyForNextJobTask())

	finish(n, pull, now)
	assert.Equal(t, StateReady, n.State())
	assert.True(t, n.IsReadyForNewJob())
	assert.True(t, n.IsReadyForNextJobTask())
	assert.True(t, n.IsReadyForSystemTask())
	// The health check launched earlier is still running.
	assert.Empty(t, n.GetNextTasks(now))
}

func TestNode_HealthCheckSchedule(t *testing.T) {
	n := readyNode(t)
	now := testfixtures.BaseTime

	assert.Empty(t, n.GetNextTasks(now.Add(NormalHealthThreshold)))
	health := taskOfType(t, n.GetNextTasks(now.Add(NormalHealthThreshold+time.Second)), tasks.HealthTaskType)
	assert.Equal(t, tasks.HealthTaskType, health.Type)
}

func TestNode_HealthCheckFailure(t *testing.T) {
	tests := map[string]struct {
		exitCode            int
		expectedError       ErrorType
		expectedCleanupTask bool
	}{
		"bad daemon": {
			exitCode:      HealthBadDaemonCode,
			expectedError: ErrorBadDaemon,
		},
		"low docker space": {
			exitCode:            HealthLowDockerSpaceCode,
			expectedError:       ErrorLowDockerSpace,
			expectedCleanupTask: true,
		},
		"bad logstash": {
			exitCode:            HealthBadLogstashCode,
			expectedError:       ErrorBadLogstash,
			expectedCleanupTask: true,
		},
		"unknown exit code": {
			exitCode:            1,
			expectedError:       ErrorHealthFail,
			expectedCleanupTask: true,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			n := readyNode(t)
			now := testfixtures.BaseTime.Add(NormalHealthThreshold + time.Second)
			health := taskOfType(t, n.GetNextTasks(now), tasks.HealthTaskType)
			health.Launch(now)
			complete(n, health, tasks.StatusFailed, tc.exitCode, now)

			assert.Equal(t, StateDegraded, n.State())
			require.Len(t, n.Errors(), 1)
			assert.Equal(t, tc.expectedError, n.Errors()[0].Type)
			assert.False(t, n.IsReadyForNewJob())
			// Running executions can continue.
			assert.True(t, n.IsReadyForNextJobTask())

			// Failed health checks are retried sooner than normal ones.
			assert.Empty(t, n.GetNextTasks(now.Add(HealthErrorThreshold)))
			n.AddJobExe(1, now)
			nodeTasks := n.GetNextTasks(now.Add(HealthErrorThreshold + time.Second))
			assert.Contains(t, taskTypes(nodeTasks), tasks.HealthTaskType)
			assert.Equal(t, tc.expectedCleanupTask, slices.Contains(taskTypes(nodeTasks), tasks.CleanupTaskType))

			// A successful health check clears every health error.
			retry := taskOfType(t, nodeTasks, tasks.HealthTaskType)
			retry.Launch(now)
			finish(n, retry, now)
			assert.Empty(t, n.Errors())
			assert.Equal(t, StateReady, n.State())
		})
	}
}

func TestNode_ImagePullFailure(t *testing.T) {
	n := NewNode(testAgentId, testModel(), false)
	now := testfixtures.BaseTime
	for _, task := range n.GetNextTasks(now) {
		task.Launch(now)
		finish(n, task, now)
	}
	pull := taskOfType(t, n.GetNextTasks(now), tasks.PullTaskType)
	pull.Launch(now)
	complete(n, pull, tasks.StatusFailed, 1, now)

	assert.Equal(t, StateDegraded, n.State())
	assert.NotContains(t, taskTypes(n.GetNextTasks(now.Add(ImagePullErrorThreshold))), tasks.PullTaskType)
	retry := taskOfType(t, n.GetNextTasks(now.Add(ImagePullErrorThreshold+time.Second)), tasks.PullTaskType)
	retry.Launch(now)
	finish(n, retry, now)
	assert.Equal(t, StateReady, n.State())
}

func TestNode_JobExeCleanup(t *testing.T) {
	n := readyNode(t)
	now := testfixtures.BaseTime
	assert.Empty(t, n.GetNextTasks(now))

	n.AddJobExe(2, now)
	n.AddJobExe(1, now)
	cleanup := taskOfType(t, n.GetNextTasks(now), tasks.CleanupTaskType)
	cleanup.Launch(now)
	// Added while the cleanup task is running, so needs another.
	n.AddJobExe(3, now)
	finish(n, cleanup, now)

	cleanup = taskOfType(t, n.GetNextTasks(now), tasks.CleanupTaskType)
	cleanup.Launch(now)
	finish(n, cleanup, now)
	assert.Empty(t, n.GetNextTasks(now))
	assert.Equal(t, StateReady, n.State())
}

func TestNode_CleanupFailure(t *testing.T) {
	n := readyNode(t)
	now := testfixtures.BaseTime
	n.AddJobExe(1, now)
	cleanup := taskOfType(t, n.GetNextTasks(now), tasks.CleanupTaskType)
	cleanup.Launch(now)
	complete(n, cleanup, tasks.StatusFailed, 1, now)

	assert.Equal(t, StateDegraded, n.State())
	warnings := n.Warnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, "CLEANUP_FAILURE 1", warnings[0].Name)
	assert.Contains(t, warnings[0].Description, "[1]")

	assert.Empty(t, n.GetNextTasks(now.Add(CleanupErrorThreshold)))
	cleanup = taskOfType(t, n.GetNextTasks(now.Add(CleanupErrorThreshold+time.Second)), tasks.CleanupTaskType)
	cleanup.Launch(now)
	finish(n, cleanup, now.Add(CleanupErrorThreshold+time.Second))
	assert.Equal(t, StateReady, n.State())
	// The warning outlives the error until it's old enough.
	assert.Len(t, n.Warnings(), 1)
}

func TestNode_TaskTimeouts(t *testing.T) {
	n := readyNode(t)
	now := testfixtures.BaseTime.Add(NormalHealthThreshold + time.Second)
	health := taskOfType(t, n.GetNextTasks(now), tasks.HealthTaskType)
	health.Launch(now)

	n.HandleTaskTimeouts(now.Add(NodeTaskTimeout))
	assert.Equal(t, StateReady, n.State())

	n.HandleTaskTimeouts(now.Add(NodeTaskTimeout + time.Second))
	assert.Equal(t, StateDegraded, n.State())
	require.Len(t, n.Errors(), 1)
	assert.Equal(t, ErrorHealthTimeout, n.Errors()[0].Type)
}

func TestNode_AgentIdChange(t *testing.T) {
	n := NewNode(testAgentId, testModel(), false)
	now := testfixtures.BaseTime
	before := n.GetNextTasks(now)

	n.SetAgentId("agent-2")
	after := n.GetNextTasks(now)

	require.Len(t, after, len(before))
	for i := range after {
		assert.NotEqual(t, before[i].Id, after[i].Id)
		assert.Equal(t, "agent-2", after[i].AgentId())
	}
}

func TestNode_Offline(t *testing.T) {
	n := readyNode(t)

	n.SetOnline(false)
	assert.Equal(t, StateOffline, n.State())
	assert.False(t, n.IsReadyForNextJobTask())
	assert.Empty(t, n.GetNextTasks(testfixtures.BaseTime))

	// A node back online starts over.
	n.SetOnline(true)
	assert.Equal(t, StateInitialCleanup, n.State())
	assert.False(t, n.IsReadyForNextJobTask())
}

func TestNode_UpdateFromModel(t *testing.T) {
	n := readyNode(t)

	require.NoError(t, n.UpdateFromModel(&Model{Id: 1, Hostname: "host-1", IsActive: true, IsPaused: true}, false))
	assert.Equal(t, StatePaused, n.State())
	assert.True(t, n.IsReadyForNextJobTask())

	require.NoError(t, n.UpdateFromModel(&Model{Id: 1, Hostname: "host-1"}, false))
	assert.Equal(t, StateDeprecated, n.State())
	assert.False(t, n.IsReadyForNextJobTask())

	assert.Error(t, n.UpdateFromModel(&Model{Id: 2, Hostname: "host-2"}, false))
}

func TestNode_ShouldBeRemoved(t *testing.T) {
	n := NewNode(testAgentId, testModel(), false)
	assert.False(t, n.ShouldBeRemoved(testfixtures.BaseTime.Add(OfferTimeout)))
	assert.True(t, n.ShouldBeRemoved(testfixtures.BaseTime.Add(OfferTimeout+time.Second)))

	n.OfferReceived(testfixtures.BaseTime.Add(time.Minute))
	assert.False(t, n.ShouldBeRemoved(testfixtures.BaseTime.Add(OfferTimeout+time.Second)))

	n.SetOnline(false)
	require.NoError(t, n.UpdateFromModel(&Model{Id: 1, Hostname: "host-1"}, false))
	assert.True(t, n.ShouldBeRemoved(testfixtures.BaseTime))
}
