package mediaclient

import (
	"fmt"
)

// DefaultReserve is the headroom an engine must report above which it can take a new channel
const DefaultReserve = 2

// Selector picks the engine for a new channel
type Selector struct {
	registry *Registry
	reserve  int
}

// NewSelector creates a selector over registry. Instances need more than reserve available
// channels to qualify.
func NewSelector(registry *Registry, reserve int) *Selector {
	return &Selector{registry: registry, reserve: reserve}
}

// Select returns the instance for a new channel.
// With a related channel its instance is returned regardless of load so the two can be mixed.
// Otherwise the active (not draining) instance with the fewest active channels among those
// with spare capacity wins, ties going to the earliest registered. The answer is a point in
// time heuristic; counts may change before the open reaches the engine.
func (s *Selector) Select(related *Channel) (*Instance, error) {
	if related != nil {
		inst := related.Instance()
		if !s.registry.Contains(inst) {
			return nil, fmt.Errorf("related channel %s: %w", related.ID(), ErrInstanceDisconnected)
		}
		return inst, nil
	}

	s.registry.mu.RLock()
	defer s.registry.mu.RUnlock()

	var best *Instance
	for _, inst := range s.registry.ordered() {
		if inst.DrainState() != InstanceActive || inst.counts.Available <= s.reserve {
			continue
		}
		if best == nil || inst.counts.Active < best.counts.Active {
			best = inst
		}
	}

	if best == nil {
		return nil, ErrNoAvailableInstance
	}
	return best, nil
}
