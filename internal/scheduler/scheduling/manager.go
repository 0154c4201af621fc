package scheduling

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"k8s.io/utils/clock"

	"github.com/ngageoint/scale/internal/common/logging"
	"github.com/ngageoint/scale/internal/common/util"
	"github.com/ngageoint/scale/internal/scheduler/configuration"
	"github.com/ngageoint/scale/internal/scheduler/execution"
	"github.com/ngageoint/scale/internal/scheduler/metrics"
	"github.com/ngageoint/scale/internal/scheduler/schedulerobjects"
	"github.com/ngageoint/scale/internal/scheduler/tasks"
)

const (
	// Maximum number of executions read from the queue per cycle.
	DefaultQueueLimit = 500
	// A task is considered short of resources if it waits this many cycles without being scheduled.
	DefaultTaskShortageWaitCount = 10
	// Phases taking longer than this are logged as warnings.
	DefaultPhaseWarnThreshold = 300 * time.Millisecond
)

// SchedulingManager runs scheduling cycles, each of which matches waiting tasks and queued executions
// against the resources offered by the cluster and launches the result.
// Not safe for concurrent use; cycles must run one at a time.
type SchedulingManager struct {
	config       configuration.SchedulingConfig
	queueMode    QueueMode
	queueSource  QueueSource
	nodeRegistry NodeRegistry
	resources    ResourceAccountant
	taskManager  TaskManager
	jobExes      RunningExecutionIndex
	driver       ClusterDriver
	store        ExecutionStore
	jobTypes     JobTypeSource
	workspaces   WorkspaceSource
	// May be nil.
	systemTasks SystemTaskSource
	retryPolicy util.RetryPolicy
	clock       clock.Clock
	metrics     *metrics.Metrics
	logger      *log.Entry
	// Number of consecutive cycles each waiting task has waited, by task id.
	waitingTasks map[string]int
}

func NewSchedulingManager(
	config configuration.SchedulingConfig,
	queueSource QueueSource,
	nodeRegistry NodeRegistry,
	resources ResourceAccountant,
	taskManager TaskManager,
	jobExes RunningExecutionIndex,
	driver ClusterDriver,
	store ExecutionStore,
	jobTypes JobTypeSource,
	workspaces WorkspaceSource,
	systemTasks SystemTaskSource,
	clock clock.Clock,
	schedulerMetrics *metrics.Metrics,
) (*SchedulingManager, error) {
	queueMode, err := ParseQueueMode(config.QueueMode)
	if err != nil {
		return nil, err
	}
	if config.QueueLimit <= 0 {
		config.QueueLimit = DefaultQueueLimit
	}
	if config.TaskShortageWaitCount <= 0 {
		config.TaskShortageWaitCount = DefaultTaskShortageWaitCount
	}
	for _, threshold := range []*time.Duration{
		&config.ProcessQueueWarnThreshold,
		&config.ScheduleQueryWarnThreshold,
		&config.LaunchTaskWarnThreshold,
	} {
		if *threshold <= 0 {
			*threshold = DefaultPhaseWarnThreshold
		}
	}
	logger := logging.NewComponentLogger("scheduling")
	retryPolicy := config.DatabaseRetry
	if retryPolicy.OnRetry == nil {
		retryPolicy.OnRetry = func(attempt uint, err error) {
			logging.WithStacktrace(logger, err).Warnf("attempt %d to schedule job executions failed", attempt)
		}
	}
	return &SchedulingManager{
		config:       config,
		queueMode:    queueMode,
		queueSource:  queueSource,
		nodeRegistry: nodeRegistry,
		resources:    resources,
		taskManager:  taskManager,
		jobExes:      jobExes,
		driver:       driver,
		store:        store,
		jobTypes:     jobTypes,
		workspaces:   workspaces,
		systemTasks:  systemTasks,
		retryPolicy:  retryPolicy,
		clock:        clock,
		metrics:      schedulerMetrics,
		logger:       logger,
		waitingTasks: make(map[string]int),
	}, nil
}

// PerformScheduling runs a single scheduling cycle and returns the number of tasks launched.
func (m *SchedulingManager) PerformScheduling(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, errors.WithStack(err)
	}
	// Read the framework id once so that it doesn't change part way through the cycle.
	frameworkId := m.driver.FrameworkId()
	if frameworkId == "" {
		m.logger.Warn("Scheduler not connected to the cluster manager. Scheduling delayed until connection established.")
		return 0, nil
	}

	jobTypes := m.jobTypes.GetJobTypes()
	jobTypeResources := m.jobTypes.GetJobTypeResources()
	allTasks := m.taskManager.GetAllTasks()
	runningJobExes := m.jobExes.GetRunningJobExes()
	workspaces := m.workspaces.GetWorkspaces()

	nodes := m.prepareNodes(allTasks, runningJobExes, now)
	fulfilledNodes := m.scheduleWaitingTasks(nodes, runningJobExes, now)

	jobExeCount := 0
	if m.scheduleSystemTasks(fulfilledNodes, jobTypeResources, now) {
		jobTypeLimits := calculateJobTypeLimits(jobTypes, runningJobExes)
		jobExeCount = m.scheduleNewJobExes(ctx, frameworkId, fulfilledNodes, jobTypes, jobTypeLimits, jobTypeResources, workspaces)
	} else {
		m.logger.Warn("No new jobs scheduled due to waiting system tasks")
		m.metrics.ReportWaitingSystemTasks()
	}

	if frameworkId != m.driver.FrameworkId() {
		m.logger.Warn("Scheduler framework id changed, skipping task launch")
		return 0, nil
	}

	m.allocateOffers(nodes)
	m.declineOffers(ctx)
	taskCount := m.launchTasks(ctx, nodes)
	m.metrics.ReportScheduledJobExes(jobExeCount)
	m.metrics.ReportLaunchedTasks(taskCount)
	return taskCount, nil
}

// prepareNodes creates a scheduling node for every registered node.
// Nodes without resources are included so that they can still run node tasks once resources arrive.
func (m *SchedulingManager) prepareNodes(allTasks []*tasks.Task, runningJobExes []*execution.RunningJobExecution, now time.Time) *nodeSet {
	tasksByAgentId := make(map[string][]*tasks.Task)
	for _, task := range allTasks {
		agentId := task.AgentId()
		tasksByAgentId[agentId] = append(tasksByAgentId[agentId], task)
	}
	runningJobExesByNodeId := make(map[int][]*execution.RunningJobExecution)
	for _, jobExe := range runningJobExes {
		runningJobExesByNodeId[jobExe.NodeId] = append(runningJobExesByNodeId[jobExe.NodeId], jobExe)
	}

	agentResources := m.resources.RefreshAgentResources(allTasks, now)
	nodes := newNodeSet()
	for _, node := range m.nodeRegistry.GetNodes() {
		// Read the agent id once since it can change while scheduling.
		agentId := node.AgentId()
		resourceSet, ok := agentResources[agentId]
		if !ok {
			resourceSet = schedulerobjects.EmptyResourceSet()
		}
		nodes.add(NewSchedulingNode(agentId, node, tasksByAgentId[agentId], runningJobExesByNodeId[node.Id()], resourceSet))
	}
	return nodes
}

// scheduleWaitingTasks gives resources to node tasks and to the next tasks of running executions.
// Returns the nodes that have no waiting tasks; only these may take on new work this cycle.
func (m *SchedulingManager) scheduleWaitingTasks(nodes *nodeSet, runningJobExes []*execution.RunningJobExecution, now time.Time) *nodeSet {
	fulfilledNodes := newNodeSet()
	var waitingTasks []*tasks.Task

	for _, node := range nodes.list() {
		waiting := node.AcceptNodeTasks(now)
		waitingTasks = append(waitingTasks, waiting...)
		if node.IsReadyForNextJobTask && len(waiting) == 0 {
			fulfilledNodes.add(node)
		}
	}

	var lostJobExeIds []int64
	for _, jobExe := range runningJobExes {
		node, ok := nodes.get(jobExe.NodeId)
		if !ok || !node.IsReadyForNextJobTask || node.AgentId != jobExe.AgentId {
			// The node is unknown, deprecated, offline, or has switched agents.
			lostJobExeIds = append(lostJobExeIds, jobExe.Id)
			continue
		}
		if !jobExe.IsNextTaskReady() {
			continue
		}
		if task := node.AcceptJobExeNextTask(jobExe); task != nil {
			// A node can't take new work while a running execution is waiting on it.
			waitingTasks = append(waitingTasks, task)
			fulfilledNodes.remove(node.NodeId)
		}
	}
	if len(lostJobExeIds) > 0 {
		m.logger.Warnf("%d running job execution(s) lost their node", len(lostJobExeIds))
		m.jobExes.LostJobExes(lostJobExeIds, now)
		m.metrics.ReportLostJobExes(len(lostJobExeIds))
	}

	m.updateShortages(waitingTasks)
	return fulfilledNodes
}

// updateShortages counts how many consecutive cycles each task has been waiting and reports agents with
// tasks that have waited too long. Tasks no longer waiting are forgotten.
func (m *SchedulingManager) updateShortages(waitingTasks []*tasks.Task) {
	agentShortages := make(map[string]*schedulerobjects.NodeResources)
	newWaitingTasks := make(map[string]int, len(waitingTasks))
	for _, task := range waitingTasks {
		count := m.waitingTasks[task.Id] + 1
		newWaitingTasks[task.Id] = count
		if count < m.config.TaskShortageWaitCount {
			continue
		}
		agentId := task.AgentId()
		if shortage, ok := agentShortages[agentId]; ok {
			shortage.Add(task.GetResources())
		} else {
			agentShortages[agentId] = task.GetResources()
		}
	}
	m.waitingTasks = newWaitingTasks
	m.resources.SetAgentShortages(agentShortages)
	m.metrics.ReportWaitingTasks(len(waitingTasks), len(agentShortages))
}

// scheduleSystemTasks places each system task due now on the best fitting fulfilled node.
// Returns false if any system task is left waiting.
func (m *SchedulingManager) scheduleSystemTasks(nodes *nodeSet, jobTypeResources []*schedulerobjects.NodeResources, now time.Time) bool {
	if m.systemTasks == nil {
		return true
	}
	nodeIds := make(map[int]bool)
	scheduledCount := 0
	scheduledResources := schedulerobjects.EmptyNodeResources()
	waitingCount := 0
	waitingResources := schedulerobjects.EmptyNodeResources()
	for _, task := range m.systemTasks.GetTasksToSchedule(now) {
		resources := task.GetResources()
		var bestNode *SchedulingNode
		bestScore := 0
		for _, node := range nodes.list() {
			if score, ok := ScoreForScheduling(node, resources, jobTypeResources); ok && (bestNode == nil || score < bestScore) {
				bestNode = node
				bestScore = score
			}
		}
		if bestNode != nil && bestNode.AcceptSystemTask(task) {
			scheduledCount++
			scheduledResources.Add(resources)
			nodeIds[bestNode.NodeId] = true
		} else {
			waitingCount++
			waitingResources.Add(resources)
		}
	}
	if scheduledCount > 0 {
		m.logger.Infof("Scheduled %d system task(s) with %s on %d node(s)", scheduledCount, scheduledResources, len(nodeIds))
	}
	if waitingCount > 0 {
		m.logger.Warnf("%d system task(s) with %s are waiting to be scheduled", waitingCount, waitingResources)
	}
	return waitingCount == 0
}

// calculateJobTypeLimits returns the number of further executions that may be scheduled for each job type with
// a limit. Counts may be negative if more executions are running than the limit allows.
func calculateJobTypeLimits(jobTypes map[int]*schedulerobjects.JobType, runningJobExes []*execution.RunningJobExecution) map[int]int {
	limits := make(map[int]int)
	for _, jobType := range jobTypes {
		if jobType.HasLimit() {
			limits[jobType.Id] = jobType.MaxScheduled
		}
	}
	for _, jobExe := range runningJobExes {
		if _, ok := limits[jobExe.JobTypeId]; ok {
			limits[jobExe.JobTypeId]--
		}
	}
	return limits
}

// jobTypesToIgnore returns the ids of job types that are paused or have reached their limit, in ascending order.
func jobTypesToIgnore(jobTypes map[int]*schedulerobjects.JobType, jobTypeLimits map[int]int) []int {
	ignore := make(map[int]bool)
	for _, jobType := range jobTypes {
		if jobType.IsPaused {
			ignore[jobType.Id] = true
		}
	}
	for jobTypeId, limit := range jobTypeLimits {
		if limit < 1 {
			ignore[jobTypeId] = true
		}
	}
	rv := maps.Keys(ignore)
	slices.Sort(rv)
	return rv
}

// scheduleNewJobExes places queued executions on the fulfilled nodes that are ready for new jobs and records them
// as scheduled. If they can't be recorded, every placement is rolled back.
// Returns the number of new executions scheduled.
func (m *SchedulingManager) scheduleNewJobExes(
	ctx context.Context,
	frameworkId string,
	nodes *nodeSet,
	jobTypes map[int]*schedulerobjects.JobType,
	jobTypeLimits map[int]int,
	jobTypeResources []*schedulerobjects.NodeResources,
	workspaces map[string]bool,
) int {
	availableNodes := newNodeSet()
	for _, node := range nodes.list() {
		if node.IsReadyForNewJob {
			availableNodes.add(node)
		}
	}

	queued := m.processQueue(ctx, availableNodes, jobTypes, jobTypeLimits, jobTypeResources, workspaces)
	if len(queued) == 0 {
		return 0
	}

	var runningJobExes map[int][]*execution.RunningJobExecution
	err := m.retryPolicy.Do(ctx, func() error {
		var err error
		runningJobExes, err = m.scheduleJobExecutions(ctx, frameworkId, queued, jobTypes, workspaces)
		return err
	})
	if err != nil {
		logging.WithStacktrace(m.logger, err).Error("Error occurred while scheduling new jobs from the queue")
		for _, node := range nodes.list() {
			node.ResetNewJobExes()
		}
		m.metrics.ReportRollback()
		return 0
	}

	nodeIds := maps.Keys(runningJobExes)
	slices.Sort(nodeIds)
	var allRunningJobExes []*execution.RunningJobExecution
	for _, nodeId := range nodeIds {
		allRunningJobExes = append(allRunningJobExes, runningJobExes[nodeId]...)
		if _, ok := nodes.get(nodeId); !ok {
			m.logger.Errorf("Scheduled %d job execution(s) on unknown node %d", len(runningJobExes[nodeId]), nodeId)
		}
	}
	m.jobExes.ScheduleJobExes(allRunningJobExes)

	jobExeCount := 0
	scheduledNodeCount := 0
	scheduledResources := schedulerobjects.EmptyNodeResources()
	for _, node := range nodes.list() {
		jobExes := runningJobExes[node.NodeId]
		node.AddScheduledJobExes(jobExes)
		nodeHasJobExes := false
		for _, jobExe := range jobExes {
			if firstTask := jobExe.NextTask(); firstTask != nil {
				nodeHasJobExes = true
				scheduledResources.Add(firstTask.GetResources())
				jobExeCount++
			}
		}
		if nodeHasJobExes {
			scheduledNodeCount++
		}
	}
	if jobExeCount > 0 {
		m.logger.Infof("Scheduled %d new job(s) with %s on %d node(s)", jobExeCount, scheduledResources, scheduledNodeCount)
	}
	return jobExeCount
}

func (m *SchedulingManager) scheduleJobExecutions(
	ctx context.Context,
	frameworkId string,
	queued []*execution.QueuedJobExecution,
	jobTypes map[int]*schedulerobjects.JobType,
	workspaces map[string]bool,
) (map[int][]*execution.RunningJobExecution, error) {
	started := m.clock.Now()
	defer m.reportPhase(metrics.ScheduleQueryPhase, "Queries to process scheduled jobs", started, m.config.ScheduleQueryWarnThreshold)
	return m.store.ScheduleJobExecutions(ctx, frameworkId, queued, jobTypes, workspaces)
}

// processQueue walks the queue in order, placing each execution that can run on one of nodes.
// Returns the placed executions plus any canceled ones, which only need removing from the queue.
func (m *SchedulingManager) processQueue(
	ctx context.Context,
	nodes *nodeSet,
	jobTypes map[int]*schedulerobjects.JobType,
	jobTypeLimits map[int]int,
	jobTypeResources []*schedulerobjects.NodeResources,
	workspaces map[string]bool,
) []*execution.QueuedJobExecution {
	started := m.clock.Now()
	defer m.reportPhase(metrics.ProcessQueuePhase, "Processing queue", started, m.config.ProcessQueueWarnThreshold)

	ignoreJobTypeIds := jobTypesToIgnore(jobTypes, jobTypeLimits)
	maxClusterResources := m.resources.MaxAvailableResources()
	queue, err := m.queueSource.GetQueue(ctx, m.queueMode, ignoreJobTypeIds, m.config.QueueLimit)
	if err != nil {
		logging.WithStacktrace(m.logger, err).Error("Error occurred while reading the queue")
		return nil
	}

	var scheduled []*execution.QueuedJobExecution
	for _, jobExe := range queue {
		// Canceled executions are passed on so that they are removed from the queue.
		if jobExe.IsCanceled {
			scheduled = append(scheduled, jobExe)
			continue
		}
		if nodes.len() == 0 {
			m.logger.Warn("There are no nodes available. Waiting to schedule until there are free resources...")
			break
		}

		jobType, ok := jobTypes[jobExe.JobTypeId]
		if !ok {
			m.logger.Warnf("A job is queued with job type %d which is unknown to the scheduler", jobExe.JobTypeId)
			m.metrics.ReportSkippedJobExe(metrics.UnknownJobTypeReason)
			continue
		}
		if jobExe.RequiredResources.Get(schedulerobjects.SharedMem) > 0 {
			m.logger.Warnf("Job type %s could not be scheduled due to required sharedmem resource", jobType.Name)
		}
		if invalid := missingResources(jobExe.RequiredResources, maxClusterResources); len(invalid) > 0 {
			m.logger.Warnf("Job type %s could not be scheduled; the cluster does not have resources %v", jobType.Name, invalid)
			m.metrics.ReportSkippedJobExe(metrics.InvalidResourcesReason)
			continue
		}
		if insufficient := insufficientResources(jobExe.RequiredResources, maxClusterResources); len(insufficient) > 0 {
			m.logger.Warnf("Job type %s could not be scheduled; no node has enough of resources %v", jobType.Name, insufficient)
			m.metrics.ReportSkippedJobExe(metrics.InsufficientResourcesReason)
			continue
		}
		if hasMissingWorkspace(jobExe, workspaces) {
			m.logger.Warnf("Job type %s could not be scheduled due to missing workspace", jobType.Name)
			m.metrics.ReportSkippedJobExe(metrics.MissingWorkspaceReason)
			continue
		}
		if limit, ok := jobTypeLimits[jobExe.JobTypeId]; ok && limit < 1 {
			m.logger.Debugf("Job type %s could not be scheduled due to type scheduling limit reached", jobType.Name)
			m.metrics.ReportSkippedJobExe(metrics.JobTypeLimitReason)
			continue
		}

		if m.scheduleNewJobExe(jobExe, nodes, jobTypeResources) {
			scheduled = append(scheduled, jobExe)
			if _, ok := jobTypeLimits[jobExe.JobTypeId]; ok {
				jobTypeLimits[jobExe.JobTypeId]--
			}
		}
		if len(scheduled) >= m.config.QueueLimit {
			m.logger.Infof("Schedule queue limit of %d reached; no more room for executions", m.config.QueueLimit)
			break
		}
	}
	return scheduled
}

// scheduleNewJobExe places the execution on the best fitting node.
// If it fits nowhere, the node best suited to run it later is reserved, i.e., removed from nodes for the rest of
// the cycle so that lower priority executions can't take it.
func (m *SchedulingManager) scheduleNewJobExe(jobExe *execution.QueuedJobExecution, nodes *nodeSet, jobTypeResources []*schedulerobjects.NodeResources) bool {
	var bestSchedulingNode, bestReservationNode *SchedulingNode
	bestSchedulingScore, bestReservationScore := 0, 0
	for _, node := range nodes.list() {
		if score, ok := ScoreForScheduling(node, jobExe.RequiredResources, jobTypeResources); ok {
			if bestSchedulingNode == nil || score < bestSchedulingScore {
				bestSchedulingNode = node
				bestSchedulingScore = score
				bestReservationNode = nil
			}
		}
		if bestSchedulingNode != nil {
			continue
		}
		if score, ok := ScoreForReservation(node, jobExe, jobTypeResources); ok {
			if bestReservationNode == nil || score < bestReservationScore {
				bestReservationNode = node
				bestReservationScore = score
			}
		}
	}

	if bestSchedulingNode != nil && bestSchedulingNode.AcceptNewJobExe(jobExe) {
		return true
	}
	if bestReservationNode != nil {
		m.logger.Debugf("Reserving node %s for job %d", bestReservationNode.Hostname, jobExe.JobId)
		nodes.remove(bestReservationNode.NodeId)
	}
	return false
}

// allocateOffers asks for offers covering what each node has allocated and hands the result to each node.
func (m *SchedulingManager) allocateOffers(nodes *nodeSet) {
	requested := make(map[string]*schedulerobjects.NodeResources, nodes.len())
	for _, node := range nodes.list() {
		requested[node.AgentId] = node.AllocatedResources.DeepCopy()
	}
	offers := m.resources.AllocateOffers(requested, m.clock.Now())
	for _, node := range nodes.list() {
		node.AddAllocatedOffers(offers[node.AgentId])
	}
}

func (m *SchedulingManager) declineOffers(ctx context.Context) {
	declined := m.resources.DeclineOffers()
	if len(declined) == 0 {
		return
	}
	offerIds := make([]string, len(declined))
	for i, offer := range declined {
		offerIds[i] = offer.Id
	}
	if err := m.driver.DeclineOffers(ctx, offerIds); err != nil {
		logging.WithStacktrace(m.logger, err).Errorf("Error occurred while declining %d offer(s)", len(offerIds))
		return
	}
	m.logger.Debugf("Declined %d offer(s)", len(offerIds))
	m.metrics.ReportDeclinedOffers(len(offerIds))
}

// launchTasks launches the allocated tasks of each node with a single call per node.
// A failure on one node doesn't affect the others. Returns the number of tasks launched.
func (m *SchedulingManager) launchTasks(ctx context.Context, nodes *nodeSet) int {
	started := m.clock.Now()

	var allTasks []*tasks.Task
	for _, node := range nodes.list() {
		node.StartJobExeTasks()
		allTasks = append(allTasks, node.AllocatedTasks...)
	}
	m.taskManager.LaunchTasks(allTasks, started)

	var launchErrors *multierror.Error
	nodeCount, offerNodeCount, offerCount, taskCount := 0, 0, 0, 0
	offerResources := schedulerobjects.EmptyNodeResources()
	taskResources := schedulerobjects.EmptyNodeResources()
	for _, node := range nodes.list() {
		if len(node.AllocatedOffers) == 0 {
			continue
		}
		offerIds := make([]string, len(node.AllocatedOffers))
		for i, offer := range node.AllocatedOffers {
			offerIds[i] = offer.Id
			offerResources.Add(offer.Resources)
		}
		offerCount += len(offerIds)
		offerNodeCount++

		if err := m.driver.LaunchTasks(ctx, node.AgentId, offerIds, node.AllocatedTasks); err != nil {
			logging.WithStacktrace(m.logger.WithField("node", node.Hostname), err).Error("Error occurred while launching tasks")
			launchErrors = multierror.Append(launchErrors, errors.Wrapf(err, "node %s", node.Hostname))
			m.metrics.ReportLaunchFailure(node.Hostname)
			continue
		}
		for _, task := range node.AllocatedTasks {
			taskResources.Add(task.GetResources())
		}
		if len(node.AllocatedTasks) > 0 {
			nodeCount++
			taskCount += len(node.AllocatedTasks)
		}
	}
	m.reportPhase(metrics.LaunchTasksPhase, "Launching tasks", started, m.config.LaunchTaskWarnThreshold)

	if launchErrors != nil {
		m.logger.Warnf("Failed to launch tasks on %d node(s): %s", len(launchErrors.Errors), launchErrors)
	}
	if offerCount > 0 {
		declinedResources := offerResources.DeepCopy()
		declinedResources.Subtract(taskResources)
		m.logger.Infof(
			"Accepted %d offer(s) from %d node(s), launched %d task(s) with %s on %d node(s), declined %s",
			offerCount, offerNodeCount, taskCount, taskResources, nodeCount, declinedResources,
		)
	}
	return taskCount
}

func (m *SchedulingManager) reportPhase(phase string, description string, started time.Time, warnThreshold time.Duration) {
	duration := m.clock.Since(started)
	slow := duration > warnThreshold
	if slow {
		m.logger.Warnf("%s took %.3f seconds", description, duration.Seconds())
	} else {
		m.logger.Debugf("%s took %.3f seconds", description, duration.Seconds())
	}
	m.metrics.ReportPhaseTime(phase, duration, slow)
}

// missingResources returns the names of required resources that no agent in the cluster has.
func missingResources(required, maxCluster *schedulerobjects.NodeResources) []string {
	var rv []string
	clusterResources := maxCluster.AsMap()
	for _, name := range required.Names() {
		if name == schedulerobjects.SharedMem {
			continue
		}
		if _, ok := clusterResources[name]; !ok && required.Get(name) > 0 {
			rv = append(rv, name)
		}
	}
	return rv
}

// insufficientResources returns the names of required resources that exceed what any single agent has.
func insufficientResources(required, maxCluster *schedulerobjects.NodeResources) []string {
	var rv []string
	clusterResources := maxCluster.AsMap()
	for _, name := range required.Names() {
		if name == schedulerobjects.SharedMem {
			continue
		}
		if available, ok := clusterResources[name]; ok && required.Get(name) > available {
			rv = append(rv, name)
		}
	}
	return rv
}

func hasMissingWorkspace(jobExe *execution.QueuedJobExecution, workspaces map[string]bool) bool {
	for _, name := range jobExe.WorkspaceNames() {
		if !workspaces[name] {
			return true
		}
	}
	return false
}
