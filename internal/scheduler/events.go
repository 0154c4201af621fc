package scheduler

import (
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/ngageoint/scale/internal/common/logging"
	"github.com/ngageoint/scale/internal/scheduler/execution"
	"github.com/ngageoint/scale/internal/scheduler/node"
	"github.com/ngageoint/scale/internal/scheduler/offers"
	"github.com/ngageoint/scale/internal/scheduler/schedulerobjects"
	"github.com/ngageoint/scale/internal/scheduler/simulator"
	"github.com/ngageoint/scale/internal/scheduler/tasks"
)

// eventRouter passes the messages received from the cluster manager to the components they concern.
type eventRouter struct {
	nodes   *node.Manager
	offers  *offers.Manager
	tasks       *tasks.Manager
	systemTasks *tasks.SystemTaskManager
	jobExes     *execution.Index
	clock       clock.Clock
	logger      *log.Entry
}

func newEventRouter(
	nodes *node.Manager,
	offers *offers.Manager,
	taskManager *tasks.Manager,
	systemTasks *tasks.SystemTaskManager,
	jobExes *execution.Index,
	clock clock.Clock,
) *eventRouter {
	return &eventRouter{
		nodes:       nodes,
		offers:      offers,
		tasks:       taskManager,
		systemTasks: systemTasks,
		jobExes:     jobExes,
		clock:       clock,
		logger:      logging.NewComponentLogger("events"),
	}
}

func (r *eventRouter) Registered(frameworkId string, agents []simulator.Agent) {
	r.logger.Infof("Registered as framework %s", frameworkId)
	nodeAgents := make([]node.Agent, len(agents))
	for i, agent := range agents {
		r.offers.SetAgentTotal(agent.AgentId, agent.Resources)
		nodeAgents[i] = node.Agent{AgentId: agent.AgentId, Hostname: agent.Hostname}
	}
	r.nodes.RegisterAgents(nodeAgents)
}

func (r *eventRouter) OffersReceived(resourceOffers []*schedulerobjects.ResourceOffer) {
	if err := r.offers.AddNewOffers(resourceOffers); err != nil {
		logging.WithStacktrace(r.logger, err).Errorf("Error adding %d offer(s)", len(resourceOffers))
		return
	}
	agentIds := make([]string, 0, len(resourceOffers))
	seen := make(map[string]bool)
	for _, offer := range resourceOffers {
		if !seen[offer.AgentId] {
			seen[offer.AgentId] = true
			agentIds = append(agentIds, offer.AgentId)
		}
	}
	r.nodes.OffersReceived(agentIds, r.clock.Now())
}

func (r *eventRouter) OffersRescinded(offerIds []string) {
	if err := r.offers.RescindOffers(offerIds); err != nil {
		logging.WithStacktrace(r.logger, err).Errorf("Error rescinding %d offer(s)", len(offerIds))
	}
}

// TaskUpdated applies the update to the task and then to the execution or node that owns it.
func (r *eventRouter) TaskUpdated(update tasks.Update) {
	task := r.tasks.HandleTaskUpdate(update)
	if task == nil {
		return
	}
	switch {
	case task.IsJobExeTask():
		r.jobExes.HandleTaskUpdate(task, update)
	case task.Type.IsNodeTask():
		r.nodes.HandleTaskUpdate(update)
	case task.Type == tasks.SystemTaskType:
		r.systemTasks.HandleTaskUpdate(update)
	}
}

func (r *eventRouter) AgentLost(agentId string) {
	r.logger.Warnf("Lost agent %s", agentId)
	if err := r.offers.LostAgent(agentId); err != nil {
		logging.WithStacktrace(r.logger, err).Errorf("Error removing offers of agent %s", agentId)
	}
	r.nodes.LostNode(agentId)
}
