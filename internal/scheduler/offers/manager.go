package offers

import (
	"sync"
	"time"

	"github.com/hashicorp/go-memdb"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/ngageoint/scale/internal/common/logging"
	"github.com/ngageoint/scale/internal/scheduler/schedulerobjects"
	"github.com/ngageoint/scale/internal/scheduler/tasks"
)

const (
	// Offers held at least this long are allocated even if nothing needs them, so they're given back promptly.
	DefaultMaxOfferHoldDuration = 10 * time.Second
	// How often each agent's watermark is reset to the highest level seen recently.
	DefaultWatermarkResetPeriod = 5 * time.Minute
)

// Manager tracks the resources offered by every agent in the cluster.
// Offers may be added and rescinded from any goroutine; the remaining methods are called by the scheduling cycle.
type Manager struct {
	maxOfferHoldDuration time.Duration
	watermarkResetPeriod time.Duration
	offerDb              *OfferDb
	logger               *log.Entry

	// Protects the fields below.
	mu                 sync.Mutex
	agents             map[string]*agentResources
	lastWatermarkReset time.Time
}

func NewManager(maxOfferHoldDuration, watermarkResetPeriod time.Duration) (*Manager, error) {
	if maxOfferHoldDuration <= 0 {
		maxOfferHoldDuration = DefaultMaxOfferHoldDuration
	}
	if watermarkResetPeriod <= 0 {
		watermarkResetPeriod = DefaultWatermarkResetPeriod
	}
	offerDb, err := NewOfferDb()
	if err != nil {
		return nil, err
	}
	return &Manager{
		maxOfferHoldDuration: maxOfferHoldDuration,
		watermarkResetPeriod: watermarkResetPeriod,
		offerDb:              offerDb,
		logger:               logging.NewComponentLogger("offers"),
		agents:               make(map[string]*agentResources),
	}, nil
}

// AddNewOffers records offers received from the cluster. They become available at the next refresh.
func (m *Manager) AddNewOffers(offers []*schedulerobjects.ResourceOffer) error {
	return m.offerDb.AddNew(offers)
}

// RescindOffers removes offers the cluster has taken back.
func (m *Manager) RescindOffers(offerIds []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn := m.offerDb.WriteTxn()
	defer txn.Abort()
	removed, err := m.offerDb.Remove(txn, offerIds)
	if err != nil {
		return err
	}
	agentIds := make(map[string]bool)
	for _, offer := range removed {
		agentIds[offer.AgentId] = true
	}
	for agentId := range agentIds {
		if err := m.updateAgent(txn, agentId); err != nil {
			return err
		}
	}
	txn.Commit()
	return nil
}

// LostAgent forgets the agent and all of its offers.
func (m *Manager) LostAgent(agentId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn := m.offerDb.WriteTxn()
	defer txn.Abort()
	if err := m.offerDb.RemoveAgent(txn, agentId); err != nil {
		return err
	}
	txn.Commit()
	delete(m.agents, agentId)
	return nil
}

// SetAgentTotal records the total resources of an agent, used to cap its watermark.
func (m *Manager) SetAgentTotal(agentId string, total *schedulerobjects.NodeResources) {
	m.mu.Lock()
	defer m.mu.Unlock()
	agent := m.getOrCreateAgent(agentId)
	agent.total = total.DeepCopy()
}

// RefreshAgentResources makes new offers available, updates each agent with the tasks running on it, and returns a
// snapshot of every agent's resources.
func (m *Manager) RefreshAgentResources(runningTasks []*tasks.Task, now time.Time) map[string]*schedulerobjects.ResourceSet {
	m.mu.Lock()
	defer m.mu.Unlock()

	tasksByAgentId := make(map[string][]*tasks.Task)
	for _, task := range runningTasks {
		agentId := task.AgentId()
		tasksByAgentId[agentId] = append(tasksByAgentId[agentId], task)
	}

	txn := m.offerDb.WriteTxn()
	defer txn.Abort()
	newOffers, err := m.offerDb.TakeNew(txn)
	if err != nil {
		logging.WithStacktrace(m.logger, err).Error("Error occurred while reading new offers")
		return m.resourceSets()
	}
	for _, offer := range newOffers {
		m.getOrCreateAgent(offer.AgentId)
	}

	resetWatermarks := m.lastWatermarkReset.IsZero() || now.After(m.lastWatermarkReset.Add(m.watermarkResetPeriod))
	for agentId, agent := range m.agents {
		heldOffers, err := m.offerDb.GetHeldForAgent(txn, agentId)
		if err != nil {
			logging.WithStacktrace(m.logger, err).Errorf("Error occurred while reading offers of agent %s", agentId)
			return m.resourceSets()
		}
		agentTasks := tasksByAgentId[agentId]
		if agentTasks == nil {
			agentTasks = []*tasks.Task{}
		}
		agent.update(heldOffers, agentTasks)
		if resetWatermarks {
			agent.resetWatermark(heldOffers)
		}
	}
	if resetWatermarks {
		m.lastWatermarkReset = now
	}
	txn.Commit()
	return m.resourceSets()
}

// AllocateOffers hands out offers covering the requested resources of each agent, removing them from the manager.
// Offers held too long are always handed out, even for agents nothing was requested from.
// Agents may be given less than requested or be missing from the result.
func (m *Manager) AllocateOffers(requested map[string]*schedulerobjects.NodeResources, now time.Time) map[string][]*schedulerobjects.ResourceOffer {
	m.mu.Lock()
	defer m.mu.Unlock()

	isExpired := func(offer *schedulerobjects.ResourceOffer) bool {
		return now.Sub(offer.Received) >= m.maxOfferHoldDuration
	}
	txn := m.offerDb.WriteTxn()
	defer txn.Abort()
	rv := make(map[string][]*schedulerobjects.ResourceOffer)
	for agentId, agent := range m.agents {
		heldOffers, err := m.offerDb.GetHeldForAgent(txn, agentId)
		if err != nil {
			logging.WithStacktrace(m.logger, err).Errorf("Error occurred while reading offers of agent %s", agentId)
			return nil
		}
		resources, ok := requested[agentId]
		if !ok {
			resources = schedulerobjects.EmptyNodeResources()
		}
		allocated := allocate(heldOffers, resources, agent.offered, isExpired)
		if len(allocated) == 0 {
			continue
		}
		if err := m.offerDb.DeleteHeld(txn, allocated); err != nil {
			logging.WithStacktrace(m.logger, err).Errorf("Error occurred while allocating offers of agent %s", agentId)
			return nil
		}
		if err := m.updateAgent(txn, agentId); err != nil {
			logging.WithStacktrace(m.logger, err).Errorf("Error occurred while allocating offers of agent %s", agentId)
			return nil
		}
		rv[agentId] = allocated
	}
	txn.Commit()
	return rv
}

// DeclineOffers removes every held offer and returns them so that they can be given back to the cluster.
func (m *Manager) DeclineOffers() []*schedulerobjects.ResourceOffer {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn := m.offerDb.WriteTxn()
	defer txn.Abort()
	declined, err := m.offerDb.GetAllHeld(txn)
	if err == nil {
		err = m.offerDb.DeleteHeld(txn, declined)
	}
	if err != nil {
		logging.WithStacktrace(m.logger, err).Error("Error occurred while declining offers")
		return nil
	}
	for _, agent := range m.agents {
		agent.update(nil, nil)
	}
	txn.Commit()
	return declined
}

// SetAgentShortages records the resources each agent needs to run its waiting tasks.
// Agents missing from shortages no longer have a shortage.
func (m *Manager) SetAgentShortages(shortages map[string]*schedulerobjects.NodeResources) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for agentId, agent := range m.agents {
		shortage, ok := shortages[agentId]
		if !ok {
			agent.shortage = nil
			continue
		}
		agent.shortage = shortage.DeepCopy()
		agent.shortage.RoundValues()
	}
}

// GetAgentShortages returns a copy of every current agent shortage.
func (m *Manager) GetAgentShortages() map[string]*schedulerobjects.NodeResources {
	m.mu.Lock()
	defer m.mu.Unlock()
	rv := make(map[string]*schedulerobjects.NodeResources)
	for agentId, agent := range m.agents {
		if agent.shortage != nil {
			rv[agentId] = agent.shortage.DeepCopy()
		}
	}
	return rv
}

// MaxAvailableResources returns, for each resource, the most any single agent has.
func (m *Manager) MaxAvailableResources() *schedulerobjects.NodeResources {
	m.mu.Lock()
	defer m.mu.Unlock()
	rv := schedulerobjects.EmptyNodeResources()
	for _, agent := range m.agents {
		rv.IncreaseUpTo(agent.maxResources())
	}
	return rv
}

// AgentIds returns the ids of every known agent, sorted.
func (m *Manager) AgentIds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	rv := maps.Keys(m.agents)
	slices.Sort(rv)
	return rv
}

func (m *Manager) getOrCreateAgent(agentId string) *agentResources {
	agent, ok := m.agents[agentId]
	if !ok {
		agent = newAgentResources(agentId)
		m.agents[agentId] = agent
	}
	return agent
}

// updateAgent recalculates the agent's offered resources from its held offers.
func (m *Manager) updateAgent(txn *memdb.Txn, agentId string) error {
	agent, ok := m.agents[agentId]
	if !ok {
		return nil
	}
	heldOffers, err := m.offerDb.GetHeldForAgent(txn, agentId)
	if err != nil {
		return err
	}
	agent.update(heldOffers, nil)
	return nil
}

func (m *Manager) resourceSets() map[string]*schedulerobjects.ResourceSet {
	rv := make(map[string]*schedulerobjects.ResourceSet, len(m.agents))
	for agentId, agent := range m.agents {
		rv[agentId] = agent.resourceSet()
	}
	return rv
}
