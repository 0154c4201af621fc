package offers

import (
	"github.com/ngageoint/scale/internal/scheduler/schedulerobjects"
	"github.com/ngageoint/scale/internal/scheduler/tasks"
)

// agentResources tracks the resources of a single agent across scheduling cycles.
// Not safe for concurrent use; guarded by the Manager's mutex.
type agentResources struct {
	agentId string
	// Total of the agent's held offers.
	offered *schedulerobjects.NodeResources
	// Total of the tasks running on the agent.
	taskUsage *schedulerobjects.NodeResources
	// Highest level of offered plus task resources seen since the watermark was last reset.
	watermark *schedulerobjects.NodeResources
	// Highest level seen since the last reset, which becomes the watermark at the next reset.
	recentWatermark *schedulerobjects.NodeResources
	// Resources the agent needs to run its waiting tasks, or nil if it has none waiting.
	shortage *schedulerobjects.NodeResources
	// Total resources of the agent, or nil if not known.
	total *schedulerobjects.NodeResources
}

func newAgentResources(agentId string) *agentResources {
	return &agentResources{
		agentId:         agentId,
		offered:         schedulerobjects.EmptyNodeResources(),
		taskUsage:       schedulerobjects.EmptyNodeResources(),
		watermark:       schedulerobjects.EmptyNodeResources(),
		recentWatermark: schedulerobjects.EmptyNodeResources(),
	}
}

// update recalculates the agent's resources from its held offers and, if not nil, its running tasks.
func (a *agentResources) update(heldOffers []*schedulerobjects.ResourceOffer, runningTasks []*tasks.Task) {
	a.offered = schedulerobjects.SumOfferResources(heldOffers)
	if runningTasks != nil {
		a.taskUsage = schedulerobjects.EmptyNodeResources()
		for _, task := range runningTasks {
			a.taskUsage.Add(task.GetResources())
		}
	}

	available := a.offered.DeepCopy()
	available.Add(a.taskUsage)
	a.watermark.IncreaseUpTo(available)
	a.recentWatermark.IncreaseUpTo(available)

	// An agent can never have more than its total, so anything above it is stale.
	if a.total != nil && !a.total.IsSufficientToMeet(a.watermark) {
		a.watermark.LimitTo(a.total)
		a.recentWatermark.LimitTo(a.total)
		maxOffered := a.watermark.DeepCopy()
		maxOffered.Subtract(a.taskUsage)
		a.offered.LimitTo(maxOffered)
	}

	a.offered.RoundValues()
	a.taskUsage.RoundValues()
	a.watermark.RoundValues()
}

// resetWatermark replaces the watermark with the highest level seen since the previous reset,
// so that resources an agent no longer has eventually stop counting.
func (a *agentResources) resetWatermark(heldOffers []*schedulerobjects.ResourceOffer) {
	a.watermark = a.recentWatermark
	a.recentWatermark = schedulerobjects.EmptyNodeResources()
	a.update(heldOffers, nil)
}

func (a *agentResources) resourceSet() *schedulerobjects.ResourceSet {
	return schedulerobjects.NewResourceSet(a.offered, a.taskUsage, a.watermark)
}

// maxResources returns the agent's total if known, otherwise its watermark.
func (a *agentResources) maxResources() *schedulerobjects.NodeResources {
	if a.total != nil {
		return a.total
	}
	return a.watermark
}

// allocate chooses held offers covering resources. Offers held at least maxHoldDuration are always chosen.
// If the agent's offers can't cover resources, only the offers held too long are chosen.
func allocate(
	heldOffers []*schedulerobjects.ResourceOffer,
	resources *schedulerobjects.NodeResources,
	offered *schedulerobjects.NodeResources,
	isExpired func(offer *schedulerobjects.ResourceOffer) bool,
) []*schedulerobjects.ResourceOffer {
	var allocated, available []*schedulerobjects.ResourceOffer
	allocatedResources := schedulerobjects.EmptyNodeResources()
	for _, offer := range heldOffers {
		if isExpired(offer) {
			allocated = append(allocated, offer)
			allocatedResources.Add(offer.Resources)
		} else {
			available = append(available, offer)
		}
	}
	if offered.IsSufficientToMeet(resources) {
		for _, offer := range available {
			if allocatedResources.IsSufficientToMeet(resources) {
				break
			}
			allocated = append(allocated, offer)
			allocatedResources.Add(offer.Resources)
		}
	}
	return allocated
}
