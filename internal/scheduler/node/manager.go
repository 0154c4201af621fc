package node

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/ngageoint/scale/internal/common/logging"
	"github.com/ngageoint/scale/internal/scheduler/scheduling"
	"github.com/ngageoint/scale/internal/scheduler/tasks"
)

// Agent is a cluster agent running on a node.
type Agent struct {
	AgentId  string
	Hostname string
}

// Store persists nodes.
type Store interface {
	// GetSchedulerNodes returns the nodes with the given hostnames, plus every active node.
	GetSchedulerNodes(ctx context.Context, hostnames []string) ([]*Model, error)
	// CreateNodes creates active nodes with the given hostnames.
	CreateNodes(ctx context.Context, hostnames []string) ([]*Model, error)
	SetNodeActive(ctx context.Context, nodeId int, isActive bool) error
}

// Manager tracks every node known to the scheduler, keyed by hostname, and the agents running on them.
// Safe for concurrent use.
type Manager struct {
	logger *log.Entry

	mu sync.Mutex
	// Agents already matched to a node, by agent id.
	agents map[string]Agent
	// Agents registered since the last sync, by agent id.
	newAgents map[string]Agent
	nodes     map[string]*Node
	// Changes to the active flag of nodes not yet persisted, by node id.
	activeChanges     map[int]bool
	isSchedulerPaused bool
}

func NewManager() *Manager {
	return &Manager{
		logger:        logging.NewComponentLogger("nodes"),
		agents:        make(map[string]Agent),
		newAgents:     make(map[string]Agent),
		nodes:         make(map[string]*Node),
		activeChanges: make(map[int]bool),
	}
}

// GetNodes returns every node, ordered by id.
func (m *Manager) GetNodes() []scheduling.Node {
	nodes := m.getNodes()
	rv := make([]scheduling.Node, len(nodes))
	for i, node := range nodes {
		rv[i] = node
	}
	return rv
}

func (m *Manager) getNodes() []*Node {
	m.mu.Lock()
	defer m.mu.Unlock()
	nodes := maps.Values(m.nodes)
	slices.SortFunc(nodes, func(a, b *Node) bool {
		return a.Id() < b.Id()
	})
	return nodes
}

// CountByState returns the number of nodes in each state, by state name.
func (m *Manager) CountByState() map[string]int {
	rv := make(map[string]int)
	for _, node := range m.getNodes() {
		rv[node.State().Name]++
	}
	return rv
}

// GetNode returns the node the agent is running on.
func (m *Manager) GetNode(agentId string) (*Node, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getNodeForAgent(agentId)
}

// RegisterAgents records agents that have connected. Agents already known bring their node back online;
// new agents are matched to nodes at the next sync.
func (m *Manager) RegisterAgents(agents []Agent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, agent := range agents {
		if node, ok := m.getNodeForAgent(agent.AgentId); ok {
			m.setOnline(node, true)
		} else {
			m.newAgents[agent.AgentId] = agent
		}
	}
}

// LostNode takes the node of the agent offline.
func (m *Manager) LostNode(agentId string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if node, ok := m.getNodeForAgent(agentId); ok {
		m.setOnline(node, false)
		m.logger.Warnf("Node %s has gone offline", node.Hostname())
	}
	delete(m.newAgents, agentId)
}

// OffersReceived records that the given agents have offered resources.
func (m *Manager) OffersReceived(agentIds []string, when time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, agentId := range agentIds {
		if node, ok := m.getNodeForAgent(agentId); ok {
			node.OfferReceived(when)
		}
	}
}

// AddJobExe records a job execution that ran on the agent, so that its node cleans it up.
func (m *Manager) AddJobExe(agentId string, jobExeId int64, when time.Time) {
	if node, ok := m.GetNode(agentId); ok {
		node.AddJobExe(jobExeId, when)
	}
}

// HandleTaskUpdate passes a task update to the node of the task's agent.
func (m *Manager) HandleTaskUpdate(update tasks.Update) {
	if node, ok := m.GetNode(update.AgentId); ok {
		node.HandleTaskUpdate(update)
	}
}

func (m *Manager) HandleTaskTimeouts(now time.Time) {
	for _, node := range m.getNodes() {
		node.HandleTaskTimeouts(now)
	}
}

func (m *Manager) SetSchedulerPaused(isSchedulerPaused bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.isSchedulerPaused = isSchedulerPaused
	for _, node := range m.nodes {
		node.SetSchedulerPaused(isSchedulerPaused)
	}
}

// SyncWithDatabase matches new agents to nodes, creating any nodes never seen before, and refreshes every node from
// its persisted settings. Nodes that are gone and have no running job executions are forgotten.
func (m *Manager) SyncWithDatabase(ctx context.Context, store Store, nodesRunningJobExes map[int]bool, now time.Time) error {
	m.mu.Lock()
	hostnameSet := make(map[string]bool)
	for hostname := range m.nodes {
		hostnameSet[hostname] = true
	}
	newAgents := maps.Clone(m.newAgents)
	for _, agent := range newAgents {
		hostnameSet[agent.Hostname] = true
	}
	activeChanges := m.activeChanges
	m.activeChanges = make(map[int]bool)
	m.mu.Unlock()

	// Database calls are made without holding the lock.
	for nodeId, isActive := range activeChanges {
		if err := store.SetNodeActive(ctx, nodeId, isActive); err != nil {
			m.requeueActiveChanges(activeChanges)
			return err
		}
	}
	hostnames := maps.Keys(hostnameSet)
	slices.Sort(hostnames)
	models, err := store.GetSchedulerNodes(ctx, hostnames)
	if err != nil {
		return errors.WithMessage(err, "error retrieving nodes")
	}
	modelsByHostname := make(map[string]*Model, len(models))
	for _, model := range models {
		modelsByHostname[model.Hostname] = model
	}
	var newHostnames []string
	for _, agent := range newAgents {
		if _, ok := modelsByHostname[agent.Hostname]; !ok && !slices.Contains(newHostnames, agent.Hostname) {
			newHostnames = append(newHostnames, agent.Hostname)
		}
	}
	if len(newHostnames) > 0 {
		slices.Sort(newHostnames)
		m.logger.Infof("Creating %d new node(s) in the database", len(newHostnames))
		created, err := store.CreateNodes(ctx, newHostnames)
		if err != nil {
			return errors.WithMessage(err, "error creating nodes")
		}
		for _, model := range created {
			modelsByHostname[model.Hostname] = model
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, agent := range sortedAgents(newAgents) {
		// The agent may have been lost since the sync started.
		_, isOnline := m.newAgents[agent.AgentId]
		if isOnline {
			m.logger.Infof("Node %s online with new agent id %s", agent.Hostname, agent.AgentId)
		} else {
			m.logger.Warnf("Node %s received new agent id %s, but quickly went offline", agent.Hostname, agent.AgentId)
		}
		model := modelsByHostname[agent.Hostname]
		if node, ok := m.nodes[agent.Hostname]; ok {
			// A known node with a new agent. Its model was read before it came back online.
			if model != nil {
				model.IsActive = isOnline
			}
			delete(m.agents, node.AgentId())
			node.SetAgentId(agent.AgentId)
			m.setOnline(node, isOnline)
		} else if model != nil {
			node := NewNode(agent.AgentId, model, m.isSchedulerPaused)
			node.OfferReceived(now)
			m.nodes[agent.Hostname] = node
			m.setOnline(node, isOnline)
		}
		m.agents[agent.AgentId] = agent
		delete(m.newAgents, agent.AgentId)
	}

	for _, hostname := range sortedKeys(modelsByHostname) {
		model := modelsByHostname[hostname]
		node, ok := m.nodes[hostname]
		if !ok {
			m.logger.Infof("Active node %s registered from the database (currently offline)", hostname)
			node = NewNode("", model, m.isSchedulerPaused)
			m.setOnline(node, false)
			m.nodes[hostname] = node
			continue
		}
		if err := node.UpdateFromModel(model, m.isSchedulerPaused); err != nil {
			logging.WithStacktrace(m.logger, err).Errorf("Error occurred while updating node %s", hostname)
			continue
		}
		if !nodesRunningJobExes[node.Id()] && node.ShouldBeRemoved(now) {
			m.logger.Infof("Node %s removed due to being offline or not offering resources", hostname)
			m.setOnline(node, false)
			delete(m.nodes, hostname)
			delete(m.agents, node.AgentId())
		}
	}
	return nil
}

func (m *Manager) requeueActiveChanges(activeChanges map[int]bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for nodeId, isActive := range activeChanges {
		if _, ok := m.activeChanges[nodeId]; !ok {
			m.activeChanges[nodeId] = isActive
		}
	}
}

func (m *Manager) getNodeForAgent(agentId string) (*Node, bool) {
	agent, ok := m.agents[agentId]
	if !ok {
		return nil, false
	}
	node, ok := m.nodes[agent.Hostname]
	return node, ok
}

// setOnline also queues the matching change to the node's persisted active flag.
func (m *Manager) setOnline(node *Node, isOnline bool) {
	node.SetOnline(isOnline)
	m.activeChanges[node.Id()] = isOnline
}

func sortedAgents(agents map[string]Agent) []Agent {
	rv := maps.Values(agents)
	slices.SortFunc(rv, func(a, b Agent) bool {
		return a.AgentId < b.AgentId
	})
	return rv
}
