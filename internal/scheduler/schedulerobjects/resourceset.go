package schedulerobjects

import "time"

// ResourceSet is a snapshot of the resources of a single agent.
type ResourceSet struct {
	// Resources currently offered by the cluster manager.
	Offered *NodeResources
	// Resources used by tasks running on the agent.
	TaskUsage *NodeResources
	// Highest level of offered plus task resources observed for the agent.
	// Used to estimate the total capacity of the agent when offers are partial.
	Watermark *NodeResources
}

func NewResourceSet(offered, taskUsage, watermark *NodeResources) *ResourceSet {
	return &ResourceSet{
		Offered:   offered.DeepCopy(),
		TaskUsage: taskUsage.DeepCopy(),
		Watermark: watermark.DeepCopy(),
	}
}

func EmptyResourceSet() *ResourceSet {
	return NewResourceSet(nil, nil, nil)
}

func (rs *ResourceSet) DeepCopy() *ResourceSet {
	if rs == nil {
		return EmptyResourceSet()
	}
	return NewResourceSet(rs.Offered, rs.TaskUsage, rs.Watermark)
}

// ResourceOffer is a time-bounded grant of resources on a specific agent.
type ResourceOffer struct {
	Id        string
	AgentId   string
	Resources *NodeResources
	// Time at which the scheduler received the offer.
	Received time.Time
}

func NewResourceOffer(id, agentId string, resources *NodeResources, received time.Time) *ResourceOffer {
	return &ResourceOffer{
		Id:        id,
		AgentId:   agentId,
		Resources: resources.DeepCopy(),
		Received:  received,
	}
}

// SumOfferResources returns the total resources across offers.
func SumOfferResources(offers []*ResourceOffer) *NodeResources {
	rv := EmptyNodeResources()
	for _, offer := range offers {
		rv.Add(offer.Resources)
	}
	return rv
}
