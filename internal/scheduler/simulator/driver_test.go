package simulator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clock "k8s.io/utils/clock/testing"

	"github.com/ngageoint/scale/internal/common/scaleerrors"
	"github.com/ngageoint/scale/internal/scheduler/configuration"
	"github.com/ngageoint/scale/internal/scheduler/schedulerobjects"
	"github.com/ngageoint/scale/internal/scheduler/tasks"
	"github.com/ngageoint/scale/internal/scheduler/testfixtures"
)

const testTaskDuration = time.Minute

type recordingHandler struct {
	frameworkId string
	agents      []Agent
	offers      []*schedulerobjects.ResourceOffer
	rescinded   []string
	updates     []tasks.Update
	lostAgents  []string
}

func (h *recordingHandler) Registered(frameworkId string, agents []Agent) {
	h.frameworkId = frameworkId
	h.agents = agents
}

func (h *recordingHandler) OffersReceived(offers []*schedulerobjects.ResourceOffer) {
	h.offers = append(h.offers, offers...)
}

func (h *recordingHandler) OffersRescinded(offerIds []string) {
	h.rescinded = append(h.rescinded, offerIds...)
}

func (h *recordingHandler) TaskUpdated(update tasks.Update) {
	h.updates = append(h.updates, update)
}

func (h *recordingHandler) AgentLost(agentId string) {
	h.lostAgents = append(h.lostAgents, agentId)
}

// takeOffers returns and forgets the offers received so far.
func (h *recordingHandler) takeOffers() []*schedulerobjects.ResourceOffer {
	rv := h.offers
	h.offers = nil
	return rv
}

func (h *recordingHandler) takeUpdates() []tasks.Update {
	rv := h.updates
	h.updates = nil
	return rv
}

func newTestDriver(t *testing.T) (*Driver, *recordingHandler, *clock.FakeClock) {
	handler := &recordingHandler{}
	fakeClock := clock.NewFakeClock(testfixtures.BaseTime)
	d := NewDriver(configuration.SimulatorConfig{
		FrameworkId:  testfixtures.TestFrameworkId,
		TaskDuration: testTaskDuration,
		OfferPeriod:  time.Second,
		Agents: []configuration.AgentConfig{
			{AgentId: "agent-2", Hostname: "host-2", Resources: testfixtures.Resources(2, 200)},
			{AgentId: "agent-1", Hostname: "host-1", Resources: testfixtures.Resources(4, 400)},
		},
	}, fakeClock, handler)
	assert.Equal(t, "", d.FrameworkId())
	d.Connect()
	require.Equal(t, testfixtures.TestFrameworkId, d.FrameworkId())
	return d, handler, fakeClock
}

func TestDriver_Connect(t *testing.T) {
	_, handler, _ := newTestDriver(t)
	assert.Equal(t, testfixtures.TestFrameworkId, handler.frameworkId)
	require.Len(t, handler.agents, 2)
	assert.Equal(t, "agent-1", handler.agents[0].AgentId)
	assert.Equal(t, "host-1", handler.agents[0].Hostname)
	assert.True(t, testfixtures.Resources(4, 400).IsEqual(handler.agents[0].Resources))
}

func TestDriver_OffersUnusedResources(t *testing.T) {
	d, handler, fakeClock := newTestDriver(t)

	d.Tick(fakeClock.Now())
	offers := handler.takeOffers()
	require.Len(t, offers, 2)
	assert.Equal(t, "agent-1", offers[0].AgentId)
	assert.True(t, testfixtures.Resources(4, 400).IsEqual(offers[0].Resources))
	assert.Equal(t, testfixtures.BaseTime, offers[0].Received)

	// Everything is already offered.
	d.Tick(fakeClock.Now())
	assert.Empty(t, handler.takeOffers())

	// Declined offers are offered again.
	require.NoError(t, d.DeclineOffers(context.Background(), []string{offers[1].Id}))
	d.Tick(fakeClock.Now())
	offers = handler.takeOffers()
	require.Len(t, offers, 1)
	assert.Equal(t, "agent-2", offers[0].AgentId)
}

func TestDriver_LaunchTasks(t *testing.T) {
	d, handler, fakeClock := newTestDriver(t)
	d.Tick(fakeClock.Now())
	offer := handler.takeOffers()[0]

	task := tasks.NewTask("main", tasks.JobExeMainTaskType, "agent-1", testfixtures.Resources(1, 100))
	require.NoError(t, d.LaunchTasks(context.Background(), "agent-1", []string{offer.Id}, []*tasks.Task{task}))

	fakeClock.Step(time.Second)
	d.Tick(fakeClock.Now())
	updates := handler.takeUpdates()
	require.Len(t, updates, 1)
	assert.Equal(t, tasks.Update{TaskId: task.Id, AgentId: "agent-1", Status: tasks.StatusRunning, When: testfixtures.BaseTime}, updates[0])
	// The unused part of the accepted offer is offered again.
	offers := handler.takeOffers()
	require.Len(t, offers, 1)
	assert.True(t, testfixtures.Resources(3, 300).IsEqual(offers[0].Resources))

	fakeClock.Step(testTaskDuration)
	d.Tick(fakeClock.Now())
	updates = handler.takeUpdates()
	require.Len(t, updates, 1)
	assert.Equal(t, tasks.StatusFinished, updates[0].Status)
	assert.Equal(t, testfixtures.BaseTime.Add(testTaskDuration), updates[0].When)
	offers = handler.takeOffers()
	require.Len(t, offers, 1)
	assert.True(t, testfixtures.Resources(1, 100).IsEqual(offers[0].Resources))
}

func TestDriver_LaunchTasksRejected(t *testing.T) {
	tests := map[string]struct {
		agentId   string
		offerIds  func(offers []*schedulerobjects.ResourceOffer) []string
		resources *schedulerobjects.NodeResources
	}{
		"unknown agent": {
			agentId:   "agent-9",
			offerIds:  func(offers []*schedulerobjects.ResourceOffer) []string { return []string{offers[0].Id} },
			resources: testfixtures.Resources(1, 100),
		},
		"unknown offer": {
			agentId:   "agent-1",
			offerIds:  func(_ []*schedulerobjects.ResourceOffer) []string { return []string{"missing"} },
			resources: testfixtures.Resources(1, 100),
		},
		"offer from another agent": {
			agentId:   "agent-1",
			offerIds:  func(offers []*schedulerobjects.ResourceOffer) []string { return []string{offers[1].Id} },
			resources: testfixtures.Resources(1, 100),
		},
		"insufficient resources": {
			agentId:   "agent-1",
			offerIds:  func(offers []*schedulerobjects.ResourceOffer) []string { return []string{offers[0].Id} },
			resources: testfixtures.Resources(5, 100),
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			d, handler, fakeClock := newTestDriver(t)
			d.Tick(fakeClock.Now())
			offers := handler.takeOffers()

			task := tasks.NewTask("main", tasks.JobExeMainTaskType, tc.agentId, tc.resources)
			err := d.LaunchTasks(context.Background(), tc.agentId, tc.offerIds(offers), []*tasks.Task{task})
			require.Error(t, err)

			d.Tick(fakeClock.Now())
			updates := handler.takeUpdates()
			require.Len(t, updates, 1)
			assert.Equal(t, tasks.StatusLost, updates[0].Status)
			assert.Equal(t, task.Id, updates[0].TaskId)
			// Offers are untouched.
			assert.Empty(t, handler.takeOffers())
		})
	}
}

func TestDriver_LaunchTasksNotConnected(t *testing.T) {
	d, handler, fakeClock := newTestDriver(t)
	d.Tick(fakeClock.Now())
	offer := handler.takeOffers()[0]

	d.Disconnect()
	assert.Equal(t, "", d.FrameworkId())
	task := tasks.NewTask("main", tasks.JobExeMainTaskType, "agent-1", testfixtures.Resources(1, 100))
	err := d.LaunchTasks(context.Background(), "agent-1", []string{offer.Id}, []*tasks.Task{task})
	assert.True(t, scaleerrors.IsNotConnected(err))

	// No offers until reconnected.
	d.Tick(fakeClock.Now())
	assert.Empty(t, handler.takeOffers())
	d.Connect()
	d.Tick(fakeClock.Now())
	assert.Len(t, handler.takeOffers(), 2)
}

func TestDriver_ExitCode(t *testing.T) {
	d, handler, fakeClock := newTestDriver(t)
	d.SetExitCode(tasks.HealthTaskType, 2)
	d.Tick(fakeClock.Now())
	offer := handler.takeOffers()[0]

	task := tasks.NewTask("health", tasks.HealthTaskType, "agent-1", testfixtures.Resources(0.1, 32))
	require.NoError(t, d.LaunchTasks(context.Background(), "agent-1", []string{offer.Id}, []*tasks.Task{task}))
	fakeClock.Step(testTaskDuration)
	d.Tick(fakeClock.Now())

	updates := handler.takeUpdates()
	require.Len(t, updates, 2)
	assert.Equal(t, tasks.StatusFailed, updates[1].Status)
	assert.Equal(t, 2, updates[1].ExitCode)
}

func TestDriver_LoseAgent(t *testing.T) {
	d, handler, fakeClock := newTestDriver(t)
	d.Tick(fakeClock.Now())
	offer := handler.takeOffers()[0]
	task := tasks.NewTask("main", tasks.JobExeMainTaskType, "agent-1", testfixtures.Resources(1, 100))
	require.NoError(t, d.LaunchTasks(context.Background(), "agent-1", []string{offer.Id}, []*tasks.Task{task}))
	d.Tick(fakeClock.Now())
	handler.takeUpdates()
	handler.takeOffers()

	d.LoseAgent("agent-1")
	fakeClock.Step(testTaskDuration)
	d.Tick(fakeClock.Now())

	assert.Equal(t, []string{"agent-1"}, handler.lostAgents)
	updates := handler.takeUpdates()
	require.Len(t, updates, 1)
	assert.Equal(t, tasks.StatusLost, updates[0].Status)
	assert.Empty(t, handler.takeOffers())

	var e *scaleerrors.ErrNotFound
	assert.ErrorAs(t, d.LaunchTasks(context.Background(), "agent-1", nil, nil), &e)
}

func TestDriver_RescindOffer(t *testing.T) {
	d, handler, fakeClock := newTestDriver(t)
	d.Tick(fakeClock.Now())
	offer := handler.takeOffers()[0]

	d.RescindOffer(offer.Id)
	assert.Equal(t, []string{offer.Id}, handler.rescinded)
	d.RescindOffer(offer.Id)
	assert.Len(t, handler.rescinded, 1)

	d.Tick(fakeClock.Now())
	offers := handler.takeOffers()
	require.Len(t, offers, 1)
	assert.Equal(t, offer.AgentId, offers[0].AgentId)
}

func TestDriver_Run(t *testing.T) {
	handler := &recordingHandler{}
	fakeClock := clock.NewFakeClock(testfixtures.BaseTime)
	d := NewDriver(configuration.SimulatorConfig{
		FrameworkId:  testfixtures.TestFrameworkId,
		TaskDuration: testTaskDuration,
		OfferPeriod:  time.Second,
	}, fakeClock, handler)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- d.Run(ctx) }()
	require.Eventually(t, func() bool { return d.FrameworkId() != "" }, time.Second, time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}
