package simulator

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"k8s.io/utils/clock"

	"github.com/ngageoint/scale/internal/common/logging"
	"github.com/ngageoint/scale/internal/common/scaleerrors"
	"github.com/ngageoint/scale/internal/common/util"
	"github.com/ngageoint/scale/internal/scheduler/configuration"
	"github.com/ngageoint/scale/internal/scheduler/schedulerobjects"
	"github.com/ngageoint/scale/internal/scheduler/tasks"
)

// EventHandler receives the messages a cluster manager sends to the scheduler.
// Handlers are called from the driver's goroutine, never while the driver holds its lock.
type EventHandler interface {
	Registered(frameworkId string, agents []Agent)
	OffersReceived(offers []*schedulerobjects.ResourceOffer)
	OffersRescinded(offerIds []string)
	TaskUpdated(update tasks.Update)
	AgentLost(agentId string)
}

type Agent struct {
	AgentId  string
	Hostname string
	// Total resources of the agent.
	Resources *schedulerobjects.NodeResources
}

type agentState struct {
	Agent
	// Resources used by running tasks.
	used *schedulerobjects.NodeResources
	// Resources offered to the scheduler and not yet used or declined.
	offered *schedulerobjects.NodeResources
	running map[string]*tasks.Task
}

func (a *agentState) available() *schedulerobjects.NodeResources {
	remaining := a.Resources.DeepCopy()
	remaining.Subtract(a.used)
	remaining.Subtract(a.offered)
	quantities := remaining.AsMap()
	hasResources := false
	for name, value := range quantities {
		if value > 0 {
			hasResources = true
		} else {
			quantities[name] = 0
		}
	}
	if !hasResources {
		return nil
	}
	return schedulerobjects.NewNodeResources(quantities)
}

// Driver simulates a cluster manager. Agents offer their unused resources each tick, and launched tasks run for a
// fixed duration before finishing. Every message to the scheduler is delivered by Tick.
type Driver struct {
	frameworkId  string
	taskDuration time.Duration
	offerPeriod  time.Duration
	clock        clock.WithTicker
	handler      EventHandler
	logger       *log.Entry

	mu             sync.Mutex
	connected      bool
	agents         map[string]*agentState
	offers         map[string]*schedulerobjects.ResourceOffer
	events         eventLog
	sequenceNumber int
	pendingUpdates []tasks.Update
	lostAgents     []string
	// Exit codes reported by tasks of each type. Tasks exiting non-zero fail.
	exitCodes map[tasks.Type]int
}

func NewDriver(config configuration.SimulatorConfig, clock clock.WithTicker, handler EventHandler) *Driver {
	d := &Driver{
		frameworkId:  config.FrameworkId,
		taskDuration: config.TaskDuration,
		offerPeriod:  config.OfferPeriod,
		clock:        clock,
		handler:      handler,
		logger:       logging.NewComponentLogger("simulator"),
		agents:       make(map[string]*agentState),
		offers:       make(map[string]*schedulerobjects.ResourceOffer),
		exitCodes:    make(map[tasks.Type]int),
	}
	for _, agentConfig := range config.Agents {
		d.agents[agentConfig.AgentId] = &agentState{
			Agent: Agent{
				AgentId:   agentConfig.AgentId,
				Hostname:  agentConfig.Hostname,
				Resources: agentConfig.Resources.DeepCopy(),
			},
			used:    schedulerobjects.EmptyNodeResources(),
			offered: schedulerobjects.EmptyNodeResources(),
			running: make(map[string]*tasks.Task),
		}
	}
	return d
}

// FrameworkId returns the framework id, or the empty string until Connect has been called.
func (d *Driver) FrameworkId() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return ""
	}
	return d.frameworkId
}

// Connect registers the scheduler with the simulated cluster manager and announces every agent.
func (d *Driver) Connect() {
	d.mu.Lock()
	d.connected = true
	agents := make([]Agent, 0, len(d.agents))
	for _, agentId := range d.sortedAgentIds() {
		agent := d.agents[agentId].Agent
		agent.Resources = agent.Resources.DeepCopy()
		agents = append(agents, agent)
	}
	d.mu.Unlock()
	d.logger.Infof("Registered framework %s with %d agent(s)", d.frameworkId, len(agents))
	d.handler.Registered(d.frameworkId, agents)
}

// Disconnect simulates losing the connection to the cluster manager. Outstanding offers are withdrawn.
func (d *Driver) Disconnect() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
	for _, offer := range d.offers {
		d.agents[offer.AgentId].offered.Subtract(offer.Resources)
	}
	d.offers = make(map[string]*schedulerobjects.ResourceOffer)
}

// SetExitCode makes every task of the given type exit with the given code from now on.
func (d *Driver) SetExitCode(taskType tasks.Type, exitCode int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.exitCodes[taskType] = exitCode
}

// LaunchTasks accepts the given offers and starts the tasks on the agent.
// If the launch is rejected, the tasks are reported lost at the next tick.
func (d *Driver) LaunchTasks(ctx context.Context, agentId string, offerIds []string, launched []*tasks.Task) error {
	if err := ctx.Err(); err != nil {
		return errors.WithStack(err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.clock.Now()
	if err := d.acceptOffers(agentId, offerIds, launched); err != nil {
		for _, task := range launched {
			d.pendingUpdates = append(d.pendingUpdates, tasks.Update{
				TaskId:  task.Id,
				AgentId: agentId,
				Status:  tasks.StatusLost,
				When:    now,
			})
		}
		return err
	}
	agent := d.agents[agentId]
	for _, task := range launched {
		agent.used.Add(task.GetResources())
		agent.running[task.Id] = task
		d.pendingUpdates = append(d.pendingUpdates, tasks.Update{
			TaskId:  task.Id,
			AgentId: agentId,
			Status:  tasks.StatusRunning,
			When:    now,
		})
		d.sequenceNumber++
		heap.Push(&d.events, &taskEnd{
			time:           now.Add(d.taskDuration),
			sequenceNumber: d.sequenceNumber,
			taskId:         task.Id,
			agentId:        agentId,
		})
	}
	return nil
}

func (d *Driver) acceptOffers(agentId string, offerIds []string, launched []*tasks.Task) error {
	if !d.connected {
		return errors.WithStack(&scaleerrors.ErrNotConnected{Operation: "launch tasks"})
	}
	agent, ok := d.agents[agentId]
	if !ok {
		return errors.WithStack(&scaleerrors.ErrNotFound{Type: "agent", Value: agentId})
	}
	offered := schedulerobjects.EmptyNodeResources()
	for _, offerId := range offerIds {
		offer, ok := d.offers[offerId]
		if !ok {
			return errors.WithStack(&scaleerrors.ErrNotFound{Type: "offer", Value: offerId})
		}
		if offer.AgentId != agentId {
			return errors.WithStack(&scaleerrors.ErrInvalidArgument{
				Name:    "offerIds",
				Value:   offerId,
				Message: "offer belongs to agent " + offer.AgentId,
			})
		}
		offered.Add(offer.Resources)
	}
	required := schedulerobjects.EmptyNodeResources()
	for _, task := range launched {
		required.Add(task.GetResources())
	}
	if !offered.IsSufficientToMeet(required) {
		return errors.WithStack(&scaleerrors.ErrInvalidArgument{
			Name:    "tasks",
			Value:   required.String(),
			Message: "tasks require more than offered " + offered.String(),
		})
	}
	// The resources of the accepted offers that the tasks don't use go back to the agent.
	for _, offerId := range offerIds {
		agent.offered.Subtract(d.offers[offerId].Resources)
		delete(d.offers, offerId)
	}
	return nil
}

// DeclineOffers gives the offers back to their agents. Unknown offers are ignored.
func (d *Driver) DeclineOffers(ctx context.Context, offerIds []string) error {
	if err := ctx.Err(); err != nil {
		return errors.WithStack(err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, offerId := range offerIds {
		if offer, ok := d.offers[offerId]; ok {
			d.agents[offer.AgentId].offered.Subtract(offer.Resources)
			delete(d.offers, offerId)
		}
	}
	return nil
}

// RescindOffer withdraws an outstanding offer from the scheduler.
func (d *Driver) RescindOffer(offerId string) {
	d.mu.Lock()
	offer, ok := d.offers[offerId]
	if ok {
		d.agents[offer.AgentId].offered.Subtract(offer.Resources)
		delete(d.offers, offerId)
	}
	d.mu.Unlock()
	if ok {
		d.handler.OffersRescinded([]string{offerId})
	}
}

// LoseAgent removes an agent from the cluster. Its tasks are reported lost at the next tick.
func (d *Driver) LoseAgent(agentId string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	agent, ok := d.agents[agentId]
	if !ok {
		return
	}
	now := d.clock.Now()
	for _, taskId := range sortedTaskIds(agent.running) {
		d.pendingUpdates = append(d.pendingUpdates, tasks.Update{
			TaskId:  taskId,
			AgentId: agentId,
			Status:  tasks.StatusLost,
			When:    now,
		})
	}
	for offerId, offer := range d.offers {
		if offer.AgentId == agentId {
			delete(d.offers, offerId)
		}
	}
	delete(d.agents, agentId)
	d.lostAgents = append(d.lostAgents, agentId)
}

// Tick ends the tasks that have run their course, offers every agent its unused resources, and delivers all
// pending messages to the scheduler.
func (d *Driver) Tick(now time.Time) {
	d.mu.Lock()
	updates := d.pendingUpdates
	d.pendingUpdates = nil
	lostAgents := d.lostAgents
	d.lostAgents = nil
	updates = append(updates, d.endTasks(now)...)
	var offers []*schedulerobjects.ResourceOffer
	if d.connected {
		offers = d.makeOffers(now)
	}
	d.mu.Unlock()

	for _, agentId := range lostAgents {
		d.handler.AgentLost(agentId)
	}
	for _, update := range updates {
		d.handler.TaskUpdated(update)
	}
	if len(offers) > 0 {
		d.handler.OffersReceived(offers)
	}
}

// Run ticks every offer period until ctx is cancelled.
func (d *Driver) Run(ctx context.Context) error {
	d.Connect()
	ticker := d.clock.NewTicker(d.offerPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			d.Tick(d.clock.Now())
		}
	}
}

func (d *Driver) endTasks(now time.Time) []tasks.Update {
	var updates []tasks.Update
	for next := d.events.peek(); next != nil && !next.time.After(now); next = d.events.peek() {
		heap.Pop(&d.events)
		agent, ok := d.agents[next.agentId]
		if !ok {
			continue
		}
		task, ok := agent.running[next.taskId]
		if !ok {
			continue
		}
		agent.used.Subtract(task.GetResources())
		delete(agent.running, task.Id)
		update := tasks.Update{
			TaskId:   task.Id,
			AgentId:  agent.AgentId,
			Status:   tasks.StatusFinished,
			When:     next.time,
			ExitCode: d.exitCodes[task.Type],
		}
		if update.ExitCode != 0 {
			update.Status = tasks.StatusFailed
		}
		updates = append(updates, update)
	}
	return updates
}

func (d *Driver) makeOffers(now time.Time) []*schedulerobjects.ResourceOffer {
	var offers []*schedulerobjects.ResourceOffer
	for _, agentId := range d.sortedAgentIds() {
		agent := d.agents[agentId]
		available := agent.available()
		if available == nil {
			continue
		}
		offer := schedulerobjects.NewResourceOffer(util.NewULID(), agentId, available, now)
		agent.offered.Add(available)
		d.offers[offer.Id] = offer
		offers = append(offers, offer)
	}
	return offers
}

func (d *Driver) sortedAgentIds() []string {
	agentIds := maps.Keys(d.agents)
	slices.Sort(agentIds)
	return agentIds
}

func sortedTaskIds(running map[string]*tasks.Task) []string {
	taskIds := maps.Keys(running)
	slices.Sort(taskIds)
	return taskIds
}
