package simulator

import "time"

// taskEnd is the simulated end of a running task.
type taskEnd struct {
	// Time at which the task ends.
	time time.Time
	// Each event is assigned a sequence number.
	// Events with equal time are ordered by their sequence number.
	sequenceNumber int
	taskId         string
	agentId        string
	// Maintained by the heap.Interface methods.
	index int
}

type eventLog []*taskEnd

func (el eventLog) Len() int { return len(el) }

func (el eventLog) Less(i, j int) bool {
	if el[i].time.Equal(el[j].time) {
		return el[i].sequenceNumber < el[j].sequenceNumber
	}
	return el[i].time.Before(el[j].time)
}

func (el eventLog) Swap(i, j int) {
	el[i], el[j] = el[j], el[i]
	el[i].index = i
	el[j].index = j
}

func (el *eventLog) Push(x any) {
	item := x.(*taskEnd)
	item.index = len(*el)
	*el = append(*el, item)
}

func (el *eventLog) Pop() any {
	old := *el
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	item.index = -1
	*el = old[0 : n-1]
	return item
}

// peek returns the earliest event without removing it.
func (el eventLog) peek() *taskEnd {
	if len(el) == 0 {
		return nil
	}
	return el[0]
}
