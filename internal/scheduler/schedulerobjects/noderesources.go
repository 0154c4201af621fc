package schedulerobjects

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"golang.org/x/exp/maps"
)

const (
	Cpus = "cpus"
	Mem  = "mem"
	Disk = "disk"
	Gpus = "gpus"
	// Shared memory is requested by some job types but never offered by agents.
	SharedMem = "sharedmem"
)

// Standard resources are always present in a NodeResources, possibly with a zero quantity.
var standardResources = []string{Cpus, Mem, Disk, Gpus}

// NodeResources is a set of scalar resources, e.g., "cpus", "mem" (MiB), "disk" (MiB), and "gpus".
// Resources not present are treated as zero.
type NodeResources struct {
	resources map[string]float64
}

func NewNodeResources(resources map[string]float64) *NodeResources {
	rv := &NodeResources{resources: make(map[string]float64, len(resources)+len(standardResources))}
	for _, name := range standardResources {
		rv.resources[name] = 0
	}
	for name, value := range resources {
		rv.resources[name] = value
	}
	return rv
}

func EmptyNodeResources() *NodeResources {
	return NewNodeResources(nil)
}

func (a *NodeResources) Get(name string) float64 {
	if a == nil {
		return 0
	}
	return a.resources[name]
}

func (a *NodeResources) Cpus() float64 { return a.Get(Cpus) }
func (a *NodeResources) Mem() float64  { return a.Get(Mem) }
func (a *NodeResources) Disk() float64 { return a.Get(Disk) }
func (a *NodeResources) Gpus() float64 { return a.Get(Gpus) }

// Names returns the resource names in sorted order.
func (a *NodeResources) Names() []string {
	if a == nil {
		return nil
	}
	names := maps.Keys(a.resources)
	sort.Strings(names)
	return names
}

// AsMap returns a copy of the underlying quantities.
func (a *NodeResources) AsMap() map[string]float64 {
	if a == nil {
		return map[string]float64{}
	}
	return maps.Clone(a.resources)
}

func (a *NodeResources) DeepCopy() *NodeResources {
	if a == nil {
		return EmptyNodeResources()
	}
	return NewNodeResources(a.resources)
}

func (a *NodeResources) Add(b *NodeResources) {
	if b == nil {
		return
	}
	a.initialise()
	for name, value := range b.resources {
		a.resources[name] += value
	}
}

// Subtract subtracts b from a. Resources in b not in a are ignored.
func (a *NodeResources) Subtract(b *NodeResources) {
	if b == nil {
		return
	}
	a.initialise()
	for name, value := range b.resources {
		if _, ok := a.resources[name]; ok {
			a.resources[name] -= value
		}
	}
}

// IncreaseUpTo raises each resource in a to the corresponding quantity in b, if b is larger.
func (a *NodeResources) IncreaseUpTo(b *NodeResources) {
	if b == nil {
		return
	}
	a.initialise()
	for name, value := range b.resources {
		if current, ok := a.resources[name]; !ok || current < value {
			a.resources[name] = value
		}
	}
}

// LimitTo caps each resource in a at the corresponding quantity in b.
// Non-standard resources missing from b are removed; standard ones are zeroed.
func (a *NodeResources) LimitTo(b *NodeResources) {
	if b == nil {
		b = EmptyNodeResources()
	}
	a.initialise()
	for name, value := range a.resources {
		limit, ok := b.resources[name]
		if !ok {
			a.remove(name)
		} else if value > limit {
			a.resources[name] = limit
		}
	}
}

// RoundValues rounds every quantity to two decimal places.
func (a *NodeResources) RoundValues() {
	for name, value := range a.resources {
		a.resources[name] = math.Round(value*100) / 100
	}
}

// IsSufficientToMeet returns true if every quantity required is at most the corresponding quantity in a.
func (a *NodeResources) IsSufficientToMeet(required *NodeResources) bool {
	if required == nil {
		return true
	}
	var have map[string]float64
	if a != nil {
		have = a.resources
	}
	for name, value := range required.resources {
		if quantity, ok := have[name]; ok {
			if quantity < value {
				return false
			}
		} else if value > 0 {
			return false
		}
	}
	return true
}

// IsEqual returns true if a and b contain the same resources with quantities equal to five decimal places.
func (a *NodeResources) IsEqual(b *NodeResources) bool {
	if a == nil || b == nil {
		return a == b
	}
	if len(a.resources) != len(b.resources) {
		return false
	}
	for name, value := range b.resources {
		have, ok := a.resources[name]
		if !ok {
			return false
		}
		if round5(have) != round5(value) {
			return false
		}
	}
	return true
}

func (a *NodeResources) IsZero() bool {
	for _, value := range a.resources {
		if value != 0 {
			return false
		}
	}
	return true
}

func (a *NodeResources) String() string {
	if a == nil {
		return "[]"
	}
	parts := make([]string, 0, len(a.resources))
	for _, name := range a.Names() {
		parts = append(parts, fmt.Sprintf("%.2f %s", a.resources[name], name))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func (a *NodeResources) remove(name string) {
	for _, standard := range standardResources {
		if name == standard {
			a.resources[name] = 0
			return
		}
	}
	delete(a.resources, name)
}

func (a *NodeResources) initialise() {
	if a.resources == nil {
		a.resources = make(map[string]float64, len(standardResources))
		for _, name := range standardResources {
			a.resources[name] = 0
		}
	}
}

func round5(v float64) float64 {
	return math.Round(v*1e5) / 1e5
}
