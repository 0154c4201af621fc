package scheduling

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/ngageoint/scale/internal/scheduler/execution"
	"github.com/ngageoint/scale/internal/scheduler/schedulerobjects"
	"github.com/ngageoint/scale/internal/scheduler/tasks"
	"github.com/ngageoint/scale/internal/scheduler/testfixtures"
)

type fakeNode struct {
	id                  int
	hostname            string
	agentId             string
	readyForNewJob      bool
	readyForNextJobTask bool
	readyForSystemTask  bool
	nodeTasks           []*tasks.Task
}

func newFakeNode(id int) *fakeNode {
	return &fakeNode{
		id:                  id,
		hostname:            testfixtures.Hostname(id),
		agentId:             testfixtures.AgentId(id),
		readyForNewJob:      true,
		readyForNextJobTask: true,
		readyForSystemTask:  true,
	}
}

func (n *fakeNode) Id() int                                { return n.id }
func (n *fakeNode) Hostname() string                       { return n.hostname }
func (n *fakeNode) AgentId() string                        { return n.agentId }
func (n *fakeNode) IsReadyForNewJob() bool                 { return n.readyForNewJob }
func (n *fakeNode) IsReadyForNextJobTask() bool            { return n.readyForNextJobTask }
func (n *fakeNode) IsReadyForSystemTask() bool             { return n.readyForSystemTask }
func (n *fakeNode) GetNextTasks(_ time.Time) []*tasks.Task { return n.nodeTasks }

type fakeNodeRegistry struct {
	nodes []*fakeNode
}

func (r *fakeNodeRegistry) GetNodes() []Node {
	rv := make([]Node, len(r.nodes))
	for i, node := range r.nodes {
		rv[i] = node
	}
	return rv
}

type fakeQueue struct {
	queue     []*execution.QueuedJobExecution
	err       error
	gotMode   QueueMode
	gotIgnore []int
	gotLimit  int
	numCalls  int
}

func (q *fakeQueue) GetQueue(_ context.Context, mode QueueMode, ignoreJobTypeIds []int, limit int) ([]*execution.QueuedJobExecution, error) {
	q.numCalls++
	q.gotMode = mode
	q.gotIgnore = ignoreJobTypeIds
	q.gotLimit = limit
	if q.err != nil {
		return nil, q.err
	}
	var rv []*execution.QueuedJobExecution
	for _, jobExe := range q.queue {
		if slices.Contains(ignoreJobTypeIds, jobExe.JobTypeId) {
			continue
		}
		rv = append(rv, jobExe)
		if len(rv) == limit {
			break
		}
	}
	return rv, nil
}

// fakeResources grants each agent all of its offers whenever anything is requested for it.
type fakeResources struct {
	resourceSets map[string]*schedulerobjects.ResourceSet
	offers       map[string][]*schedulerobjects.ResourceOffer
	toDecline    []*schedulerobjects.ResourceOffer
	maxAvailable *schedulerobjects.NodeResources
	shortages    map[string]*schedulerobjects.NodeResources
	requested    map[string]*schedulerobjects.NodeResources
}

func newFakeResources() *fakeResources {
	return &fakeResources{
		resourceSets: make(map[string]*schedulerobjects.ResourceSet),
		offers:       make(map[string][]*schedulerobjects.ResourceOffer),
	}
}

// withAgent offers resources on the agent as a single offer.
func (r *fakeResources) withAgent(agentId string, offered *schedulerobjects.NodeResources) *fakeResources {
	r.resourceSets[agentId] = testfixtures.ResourceSet(offered)
	r.offers[agentId] = []*schedulerobjects.ResourceOffer{testfixtures.Offer(agentId, offered)}
	if r.maxAvailable == nil {
		r.maxAvailable = offered.DeepCopy()
	} else {
		r.maxAvailable.IncreaseUpTo(offered)
	}
	return r
}

func (r *fakeResources) RefreshAgentResources(_ []*tasks.Task, _ time.Time) map[string]*schedulerobjects.ResourceSet {
	return r.resourceSets
}

func (r *fakeResources) AllocateOffers(requested map[string]*schedulerobjects.NodeResources, _ time.Time) map[string][]*schedulerobjects.ResourceOffer {
	r.requested = requested
	rv := make(map[string][]*schedulerobjects.ResourceOffer)
	for agentId, resources := range requested {
		if resources.IsZero() {
			continue
		}
		if offers, ok := r.offers[agentId]; ok {
			rv[agentId] = offers
			delete(r.offers, agentId)
		}
	}
	return rv
}

func (r *fakeResources) DeclineOffers() []*schedulerobjects.ResourceOffer {
	rv := r.toDecline
	r.toDecline = nil
	return rv
}

func (r *fakeResources) SetAgentShortages(shortages map[string]*schedulerobjects.NodeResources) {
	r.shortages = shortages
}

func (r *fakeResources) MaxAvailableResources() *schedulerobjects.NodeResources {
	return r.maxAvailable.DeepCopy()
}

type fakeTaskManager struct {
	tasks    []*tasks.Task
	launched []*tasks.Task
}

func (m *fakeTaskManager) GetAllTasks() []*tasks.Task {
	return m.tasks
}

func (m *fakeTaskManager) LaunchTasks(launched []*tasks.Task, startedAt time.Time) {
	for _, task := range launched {
		task.Launch(startedAt)
	}
	m.launched = append(m.launched, launched...)
}

type fakeExecutionIndex struct {
	running   []*execution.RunningJobExecution
	scheduled []*execution.RunningJobExecution
	lost      []int64
}

func (i *fakeExecutionIndex) GetRunningJobExes() []*execution.RunningJobExecution {
	return i.running
}

func (i *fakeExecutionIndex) ScheduleJobExes(jobExes []*execution.RunningJobExecution) {
	i.scheduled = append(i.scheduled, jobExes...)
}

func (i *fakeExecutionIndex) LostJobExes(jobExeIds []int64, _ time.Time) {
	i.lost = append(i.lost, jobExeIds...)
}

type fakeDriver struct {
	mu sync.Mutex
	// Returned by successive calls to FrameworkId; the last value repeats.
	frameworkIds []string
	launchErrors map[string]error
	launched     map[string][]*tasks.Task
	launchOffers map[string][]string
	declined     []string
	declineError error
}

func newFakeDriver(frameworkIds ...string) *fakeDriver {
	if len(frameworkIds) == 0 {
		frameworkIds = []string{testfixtures.TestFrameworkId}
	}
	return &fakeDriver{
		frameworkIds: frameworkIds,
		launchErrors: make(map[string]error),
		launched:     make(map[string][]*tasks.Task),
		launchOffers: make(map[string][]string),
	}
}

func (d *fakeDriver) FrameworkId() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	rv := d.frameworkIds[0]
	if len(d.frameworkIds) > 1 {
		d.frameworkIds = d.frameworkIds[1:]
	}
	return rv
}

func (d *fakeDriver) LaunchTasks(_ context.Context, agentId string, offerIds []string, launched []*tasks.Task) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.launchErrors[agentId]; err != nil {
		return err
	}
	d.launched[agentId] = append(d.launched[agentId], launched...)
	d.launchOffers[agentId] = append(d.launchOffers[agentId], offerIds...)
	return nil
}

func (d *fakeDriver) DeclineOffers(_ context.Context, offerIds []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.declineError != nil {
		return d.declineError
	}
	d.declined = append(d.declined, offerIds...)
	return nil
}

// fakeStore fails with each of errs in turn before succeeding.
type fakeStore struct {
	errs     []error
	numCalls int
	received []*execution.QueuedJobExecution
}

func (s *fakeStore) ScheduleJobExecutions(
	_ context.Context,
	frameworkId string,
	queued []*execution.QueuedJobExecution,
	_ map[int]*schedulerobjects.JobType,
	_ map[string]bool,
) (map[int][]*execution.RunningJobExecution, error) {
	s.numCalls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return nil, err
	}
	if frameworkId == "" {
		return nil, errors.New("no framework id")
	}
	s.received = queued
	rv := make(map[int][]*execution.RunningJobExecution)
	for _, jobExe := range queued {
		if jobExe.IsCanceled {
			continue
		}
		rv[jobExe.ScheduledNodeId] = append(rv[jobExe.ScheduledNodeId], testfixtures.RunningJobExeFromQueued(jobExe))
	}
	return rv, nil
}

type fakeJobTypes struct {
	jobTypes map[int]*schedulerobjects.JobType
}

func newFakeJobTypes(jobTypes ...*schedulerobjects.JobType) *fakeJobTypes {
	if len(jobTypes) == 0 {
		jobTypes = []*schedulerobjects.JobType{testfixtures.TestJobType}
	}
	rv := &fakeJobTypes{jobTypes: make(map[int]*schedulerobjects.JobType)}
	for _, jobType := range jobTypes {
		rv.jobTypes[jobType.Id] = jobType
	}
	return rv
}

func (s *fakeJobTypes) GetJobTypes() map[int]*schedulerobjects.JobType {
	return s.jobTypes
}

func (s *fakeJobTypes) GetJobTypeResources() []*schedulerobjects.NodeResources {
	var rv []*schedulerobjects.NodeResources
	for _, jobType := range s.jobTypes {
		rv = append(rv, jobType.Resources.DeepCopy())
	}
	return rv
}

type fakeWorkspaces map[string]bool

func (w fakeWorkspaces) GetWorkspaces() map[string]bool {
	return w
}

type fakeSystemTasks struct {
	tasks []*tasks.Task
}

func (s *fakeSystemTasks) GetTasksToSchedule(_ time.Time) []*tasks.Task {
	return s.tasks
}
