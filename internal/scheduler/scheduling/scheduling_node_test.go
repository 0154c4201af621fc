package scheduling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngageoint/scale/internal/scheduler/execution"
	"github.com/ngageoint/scale/internal/scheduler/schedulerobjects"
	"github.com/ngageoint/scale/internal/scheduler/tasks"
	"github.com/ngageoint/scale/internal/scheduler/testfixtures"
)

func newTestSchedulingNode(node *fakeNode, offered *schedulerobjects.NodeResources) *SchedulingNode {
	return NewSchedulingNode(node.AgentId(), node, nil, nil, testfixtures.ResourceSet(offered))
}

func assertResourcesEqual(t *testing.T, expected, actual *schedulerobjects.NodeResources) {
	assert.True(t, expected.IsEqual(actual), "expected %s, got %s", expected, actual)
}

// Resources can only move between remaining and allocated.
func assertConserved(t *testing.T, node *SchedulingNode) {
	total := node.RemainingResources()
	total.Add(node.AllocatedResources)
	assertResourcesEqual(t, node.OfferedResources(), total)
}

func TestSchedulingNode_AcceptNewJobExe(t *testing.T) {
	tests := map[string]struct {
		offered           *schedulerobjects.NodeResources
		required          *schedulerobjects.NodeResources
		readyForNewJob    bool
		expectAccepted    bool
		expectedRemaining *schedulerobjects.NodeResources
	}{
		"sufficient": {
			offered:           testfixtures.Resources(10, 50),
			required:          testfixtures.Resources(1, 10),
			readyForNewJob:    true,
			expectAccepted:    true,
			expectedRemaining: testfixtures.Resources(9, 40),
		},
		"exactly enough": {
			offered:           testfixtures.Resources(10, 50),
			required:          testfixtures.Resources(10, 50),
			readyForNewJob:    true,
			expectAccepted:    true,
			expectedRemaining: testfixtures.Resources(0, 0),
		},
		"insufficient cpus": {
			offered:           testfixtures.Resources(10, 50),
			required:          testfixtures.Resources(11, 10),
			readyForNewJob:    true,
			expectAccepted:    false,
			expectedRemaining: testfixtures.Resources(10, 50),
		},
		"not ready for new jobs": {
			offered:           testfixtures.Resources(10, 50),
			required:          testfixtures.Resources(1, 10),
			readyForNewJob:    false,
			expectAccepted:    false,
			expectedRemaining: testfixtures.Resources(10, 50),
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			fake := newFakeNode(1)
			fake.readyForNewJob = tc.readyForNewJob
			node := newTestSchedulingNode(fake, tc.offered)
			jobExe := testfixtures.QueuedJobExe(1, tc.required)

			assert.Equal(t, tc.expectAccepted, node.AcceptNewJobExe(jobExe))
			assertResourcesEqual(t, tc.expectedRemaining, node.RemainingResources())
			assertConserved(t, node)
			assert.Equal(t, tc.expectAccepted, jobExe.IsScheduled())
			if tc.expectAccepted {
				assert.Equal(t, fake.AgentId(), jobExe.ScheduledAgentId)
				assert.Equal(t, fake.Id(), jobExe.ScheduledNodeId)
				assert.Equal(t, 1, node.NumNewJobExes())
			}
		})
	}
}

func TestSchedulingNode_NoDoubleBooking(t *testing.T) {
	node := newTestSchedulingNode(newFakeNode(1), testfixtures.Resources(10, 50))
	accepted := 0
	for _, jobExe := range testfixtures.N1QueuedJobExes(10, 1, testfixtures.Resources(3, 10)) {
		if node.AcceptNewJobExe(jobExe) {
			accepted++
		}
		assertConserved(t, node)
	}
	assert.Equal(t, 3, accepted)
	assertResourcesEqual(t, testfixtures.Resources(1, 20), node.RemainingResources())
	assertResourcesEqual(t, testfixtures.Resources(9, 30), node.AllocatedResources)
}

func TestSchedulingNode_AcceptNodeTasks(t *testing.T) {
	fake := newFakeNode(1)
	fits := testfixtures.NodeTask(fake.AgentId(), testfixtures.Resources(1, 10))
	tooBig := testfixtures.NodeTask(fake.AgentId(), testfixtures.Resources(20, 10))
	fake.nodeTasks = []*tasks.Task{fits, tooBig}
	node := newTestSchedulingNode(fake, testfixtures.Resources(10, 50))

	waiting := node.AcceptNodeTasks(testfixtures.BaseTime)

	assert.Equal(t, []*tasks.Task{tooBig}, waiting)
	assert.Equal(t, []*tasks.Task{fits}, node.AllocatedTasks)
	assertResourcesEqual(t, testfixtures.Resources(9, 40), node.RemainingResources())
	assertConserved(t, node)
}

func TestSchedulingNode_AcceptJobExeNextTask(t *testing.T) {
	tests := map[string]struct {
		required          *schedulerobjects.NodeResources
		readyForNextTask  bool
		expectWaiting     bool
		expectedAllocated *schedulerobjects.NodeResources
	}{
		"fits": {
			required:          testfixtures.Resources(2, 20),
			readyForNextTask:  true,
			expectedAllocated: testfixtures.Resources(2, 20),
		},
		"doesn't fit": {
			required:          testfixtures.Resources(20, 20),
			readyForNextTask:  true,
			expectWaiting:     true,
			expectedAllocated: testfixtures.Resources(0, 0),
		},
		"node not ready": {
			required:          testfixtures.Resources(2, 20),
			readyForNextTask:  false,
			expectedAllocated: testfixtures.Resources(0, 0),
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			fake := newFakeNode(1)
			fake.readyForNextJobTask = tc.readyForNextTask
			node := newTestSchedulingNode(fake, testfixtures.Resources(10, 50))
			jobExe := testfixtures.RunningJobExe(fake.Id(), 1, tc.required)

			waiting := node.AcceptJobExeNextTask(jobExe)
			if tc.expectWaiting {
				assert.Equal(t, jobExe.NextTask(), waiting)
			} else {
				assert.Nil(t, waiting)
			}
			assertResourcesEqual(t, tc.expectedAllocated, node.AllocatedResources)
			assertConserved(t, node)
		})
	}
}

func TestSchedulingNode_AcceptSystemTask(t *testing.T) {
	fake := newFakeNode(1)
	node := newTestSchedulingNode(fake, testfixtures.Resources(10, 50))
	task := testfixtures.SystemTask(testfixtures.Resources(1, 1))

	assert.True(t, node.AcceptSystemTask(task))
	assert.Equal(t, fake.AgentId(), task.AgentId())
	assert.Equal(t, []*tasks.Task{task}, node.AllocatedTasks)

	fake.readyForSystemTask = false
	notReady := newTestSchedulingNode(fake, testfixtures.Resources(10, 50))
	assert.False(t, notReady.AcceptSystemTask(testfixtures.SystemTask(testfixtures.Resources(1, 1))))
}

func TestSchedulingNode_AddAllocatedOffers(t *testing.T) {
	tests := map[string]struct {
		offers                 *schedulerobjects.NodeResources
		expectedAllocated      *schedulerobjects.NodeResources
		expectedRemaining      *schedulerobjects.NodeResources
		expectedNumTasks       int
		expectedNumNewJobExes  int
		expectNodeTaskLaunched bool
	}{
		"offers cover everything": {
			offers:                 testfixtures.Resources(10, 50),
			expectedAllocated:      testfixtures.Resources(3, 20),
			expectedRemaining:      testfixtures.Resources(7, 30),
			expectedNumTasks:       1,
			expectedNumNewJobExes:  1,
			expectNodeTaskLaunched: true,
		},
		"offers shrunk, new work dropped first": {
			offers:                 testfixtures.Resources(2, 15),
			expectedAllocated:      testfixtures.Resources(1, 10),
			expectedRemaining:      testfixtures.Resources(9, 40),
			expectedNumTasks:       1,
			expectedNumNewJobExes:  0,
			expectNodeTaskLaunched: true,
		},
		"offers shrunk below everything": {
			offers:                testfixtures.Resources(0.1, 0),
			expectedAllocated:     testfixtures.Resources(0, 0),
			expectedRemaining:     testfixtures.Resources(10, 50),
			expectedNumTasks:      0,
			expectedNumNewJobExes: 0,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			fake := newFakeNode(1)
			fake.nodeTasks = []*tasks.Task{testfixtures.NodeTask(fake.AgentId(), testfixtures.Resources(1, 10))}
			node := newTestSchedulingNode(fake, testfixtures.Resources(10, 50))
			require.Empty(t, node.AcceptNodeTasks(testfixtures.BaseTime))
			require.True(t, node.AcceptNewJobExe(testfixtures.QueuedJobExe(1, testfixtures.Resources(2, 10))))

			offers := []*schedulerobjects.ResourceOffer{testfixtures.Offer(fake.AgentId(), tc.offers)}
			node.AddAllocatedOffers(offers)

			assertResourcesEqual(t, tc.expectedAllocated, node.AllocatedResources)
			assertResourcesEqual(t, tc.expectedRemaining, node.RemainingResources())
			assertConserved(t, node)
			assert.Len(t, node.AllocatedTasks, tc.expectedNumTasks)
			assert.Equal(t, tc.expectedNumNewJobExes, node.NumNewJobExes())
			assert.Equal(t, offers, node.AllocatedOffers)

			// Applying the same offers again changes nothing.
			node.AddAllocatedOffers(offers)
			assertResourcesEqual(t, tc.expectedAllocated, node.AllocatedResources)
			assertResourcesEqual(t, tc.expectedRemaining, node.RemainingResources())
			assert.Len(t, node.AllocatedTasks, tc.expectedNumTasks)
			assert.Equal(t, tc.expectedNumNewJobExes, node.NumNewJobExes())
		})
	}
}

func TestSchedulingNode_AddAllocatedOffers_DropsRunningJobExeTasks(t *testing.T) {
	fake := newFakeNode(1)
	node := newTestSchedulingNode(fake, testfixtures.Resources(10, 50))
	jobExe := testfixtures.RunningJobExe(fake.Id(), 1, testfixtures.Resources(2, 20))
	require.Nil(t, node.AcceptJobExeNextTask(jobExe))

	node.AddAllocatedOffers([]*schedulerobjects.ResourceOffer{testfixtures.Offer(fake.AgentId(), testfixtures.Resources(1, 10))})
	node.StartJobExeTasks()

	assert.Empty(t, node.AllocatedTasks)
	assert.True(t, jobExe.IsNextTaskReady())
	assertConserved(t, node)
}

func TestSchedulingNode_AddScheduledJobExes(t *testing.T) {
	fake := newFakeNode(1)
	node := newTestSchedulingNode(fake, testfixtures.Resources(10, 50))
	kept := testfixtures.QueuedJobExe(1, testfixtures.Resources(2, 10))
	canceled := testfixtures.QueuedJobExe(1, testfixtures.Resources(3, 10))
	require.True(t, node.AcceptNewJobExe(kept))
	require.True(t, node.AcceptNewJobExe(canceled))

	running := testfixtures.RunningJobExeFromQueued(kept)
	node.AddScheduledJobExes([]*execution.RunningJobExecution{running})

	assertResourcesEqual(t, testfixtures.Resources(2, 10), node.AllocatedResources)
	assertConserved(t, node)
	assert.Equal(t, 1, node.NumNewJobExes())

	node.StartJobExeTasks()
	require.Len(t, node.AllocatedTasks, 1)
	assert.Equal(t, running.CurrentTask(), node.AllocatedTasks[0])
	assert.Equal(t, 0, node.NumNewJobExes())
}

func TestSchedulingNode_ResetNewJobExes(t *testing.T) {
	fake := newFakeNode(1)
	fake.nodeTasks = []*tasks.Task{testfixtures.NodeTask(fake.AgentId(), testfixtures.Resources(1, 10))}
	node := newTestSchedulingNode(fake, testfixtures.Resources(10, 50))
	require.Empty(t, node.AcceptNodeTasks(testfixtures.BaseTime))
	for _, jobExe := range testfixtures.N1QueuedJobExes(3, 1, testfixtures.Resources(2, 10)) {
		require.True(t, node.AcceptNewJobExe(jobExe))
	}

	node.ResetNewJobExes()

	assertResourcesEqual(t, testfixtures.Resources(1, 10), node.AllocatedResources)
	assertResourcesEqual(t, testfixtures.Resources(9, 40), node.RemainingResources())
	assert.Equal(t, 0, node.NumNewJobExes())
	assert.Len(t, node.AllocatedTasks, 1)
}

func TestSchedulingNode_MissingResourceSet(t *testing.T) {
	fake := newFakeNode(1)
	node := NewSchedulingNode(fake.AgentId(), fake, nil, nil, nil)
	assert.True(t, node.RemainingResources().IsZero())
	assert.False(t, node.AcceptNewJobExe(testfixtures.QueuedJobExe(1, testfixtures.Resources(1, 1))))
}
