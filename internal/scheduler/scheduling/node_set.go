package scheduling

import (
	"golang.org/x/exp/slices"
)

// nodeSet is a set of scheduling nodes iterated in ascending node id order.
type nodeSet struct {
	byId map[int]*SchedulingNode
	ids  []int
}

func newNodeSet() *nodeSet {
	return &nodeSet{byId: make(map[int]*SchedulingNode)}
}

func (s *nodeSet) add(node *SchedulingNode) {
	if _, ok := s.byId[node.NodeId]; !ok {
		s.ids = append(s.ids, node.NodeId)
		slices.Sort(s.ids)
	}
	s.byId[node.NodeId] = node
}

func (s *nodeSet) get(id int) (*SchedulingNode, bool) {
	node, ok := s.byId[id]
	return node, ok
}

func (s *nodeSet) remove(id int) {
	if _, ok := s.byId[id]; !ok {
		return
	}
	delete(s.byId, id)
	if i := slices.Index(s.ids, id); i >= 0 {
		s.ids = slices.Delete(s.ids, i, i+1)
	}
}

func (s *nodeSet) len() int {
	return len(s.ids)
}

// list returns the nodes in ascending node id order.
func (s *nodeSet) list() []*SchedulingNode {
	rv := make([]*SchedulingNode, len(s.ids))
	for i, id := range s.ids {
		rv[i] = s.byId[id]
	}
	return rv
}
