package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clock "k8s.io/utils/clock/testing"

	"github.com/ngageoint/scale/internal/scheduler/execution"
	"github.com/ngageoint/scale/internal/scheduler/node"
	"github.com/ngageoint/scale/internal/scheduler/offers"
	"github.com/ngageoint/scale/internal/scheduler/schedulerobjects"
	"github.com/ngageoint/scale/internal/scheduler/simulator"
	"github.com/ngageoint/scale/internal/scheduler/tasks"
	"github.com/ngageoint/scale/internal/scheduler/testfixtures"
)

func newTestRouter(t *testing.T) *eventRouter {
	offerManager, err := offers.NewManager(10*time.Second, time.Minute)
	require.NoError(t, err)
	taskManager, err := tasks.NewManager(tasks.DefaultRecentlyEndedCacheSize)
	require.NoError(t, err)
	return newEventRouter(
		node.NewManager(),
		offerManager,
		taskManager,
		tasks.NewSystemTaskManager(),
		execution.NewIndex(),
		clock.NewFakeClock(testfixtures.BaseTime),
	)
}

func TestEventRouter_Offers(t *testing.T) {
	r := newTestRouter(t)
	agent1 := testfixtures.AgentId(1)
	agent2 := testfixtures.AgentId(2)
	r.Registered(testfixtures.TestFrameworkId, []simulator.Agent{
		{AgentId: agent1, Hostname: testfixtures.Hostname(1), Resources: testfixtures.Resources(4, 400)},
		{AgentId: agent2, Hostname: testfixtures.Hostname(2), Resources: testfixtures.Resources(2, 200)},
	})
	assert.Equal(t, []string{agent1, agent2}, r.offers.AgentIds())

	offer := testfixtures.Offer(agent1, testfixtures.Resources(3, 300))
	r.OffersReceived([]*schedulerobjects.ResourceOffer{offer})
	resources := r.offers.RefreshAgentResources(nil, testfixtures.BaseTime)
	require.Contains(t, resources, agent1)
	assert.True(t, testfixtures.Resources(3, 300).IsEqual(resources[agent1].Offered))

	r.OffersRescinded([]string{offer.Id})
	resources = r.offers.RefreshAgentResources(nil, testfixtures.BaseTime)
	assert.True(t, resources[agent1].Offered.IsZero())

	r.AgentLost(agent1)
	assert.Equal(t, []string{agent2}, r.offers.AgentIds())
}

func TestEventRouter_JobExeTaskUpdates(t *testing.T) {
	tests := map[string]struct {
		status         tasks.Status
		expectFinished bool
		expectedStatus execution.Status
	}{
		"finished": {
			status:         tasks.StatusFinished,
			expectFinished: true,
			expectedStatus: execution.StatusCompleted,
		},
		"failed": {
			status:         tasks.StatusFailed,
			expectFinished: true,
			expectedStatus: execution.StatusFailed,
		},
		"lost": {
			status:         tasks.StatusLost,
			expectedStatus: execution.StatusRunning,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			r := newTestRouter(t)
			exe := execution.NewRunningJobExecution(execution.RunningJobExecutionParams{
				Id:        testfixtures.NewId(),
				NodeId:    1,
				AgentId:   testfixtures.AgentId(1),
				Started:   testfixtures.BaseTime,
				Resources: testfixtures.Resources(1, 10),
				TaskTypes: []tasks.Type{tasks.JobExeMainTaskType},
			})
			r.jobExes.ScheduleJobExes([]*execution.RunningJobExecution{exe})
			task := exe.StartNextTask()
			require.NotNil(t, task)
			r.tasks.LaunchTasks([]*tasks.Task{task}, testfixtures.BaseTime)

			r.TaskUpdated(tasks.Update{
				TaskId:  task.Id,
				AgentId: task.AgentId(),
				Status:  tc.status,
				When:    testfixtures.BaseTime.Add(time.Minute),
			})

			_, isTracked := r.tasks.GetTask(task.Id)
			assert.False(t, isTracked)
			assert.True(t, r.tasks.HasRecentlyEnded(task.Id))
			assert.Equal(t, tc.expectedStatus, exe.Status())
			finished := r.jobExes.PopFinished()
			if tc.expectFinished {
				require.Len(t, finished, 1)
				assert.Equal(t, exe.Id, finished[0].Id)
			} else {
				assert.Empty(t, finished)
				assert.True(t, exe.IsNextTaskReady())
			}
		})
	}
}

func TestEventRouter_UnknownTaskUpdate(t *testing.T) {
	r := newTestRouter(t)
	r.TaskUpdated(tasks.Update{
		TaskId:  tasks.NewTaskId(tasks.HealthTaskType),
		AgentId: testfixtures.AgentId(1),
		Status:  tasks.StatusFinished,
		When:    testfixtures.BaseTime,
	})
	assert.Empty(t, r.tasks.GetAllTasks())
	assert.Empty(t, r.jobExes.PopFinished())
}

func TestEventRouter_SystemTaskUpdate(t *testing.T) {
	r := newTestRouter(t)
	pending := r.systemTasks.GetTasksToSchedule(testfixtures.BaseTime)
	require.Len(t, pending, 1)
	task := pending[0]
	task.SetAgentId(testfixtures.AgentId(1))
	r.tasks.LaunchTasks([]*tasks.Task{task}, testfixtures.BaseTime)

	r.TaskUpdated(tasks.Update{
		TaskId:  task.Id,
		AgentId: testfixtures.AgentId(1),
		Status:  tasks.StatusFinished,
		When:    testfixtures.BaseTime.Add(time.Minute),
	})

	isCompleted, _ := r.systemTasks.IsDatabaseUpdateCompleted()
	assert.True(t, isCompleted)
	assert.Empty(t, r.tasks.GetAllTasks())
	assert.Empty(t, r.systemTasks.GetTasksToSchedule(testfixtures.BaseTime.Add(time.Hour)))
}
