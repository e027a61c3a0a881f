package mediaclient

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sebas/rtpcontrol/internal/events"
	"github.com/sebas/rtpcontrol/internal/message"
)

// DrainState represents the lifecycle state of an engine instance
type DrainState uint32

const (
	// InstanceActive - instance is accepting new channels
	InstanceActive DrainState = iota
	// InstanceDraining - instance keeps its channels but receives no new ones
	InstanceDraining
	// InstanceDisabled - instance is fully drained and out of rotation
	InstanceDisabled
)

// String returns the string representation of DrainState
func (s DrainState) String() string {
	switch s {
	case InstanceActive:
		return "active"
	case InstanceDraining:
		return "draining"
	case InstanceDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Sender delivers commands to one engine
type Sender interface {
	Send(msg message.Outbound) error
	RemoteAddr() string
}

// Capacity is a pair of channel counts
type Capacity struct {
	Available int
	Active    int
}

func capacityOf(status *message.Status) Capacity {
	if status == nil {
		return Capacity{}
	}
	return Capacity{Available: status.Channels.Available, Active: status.Channels.Active}
}

func (c Capacity) event() events.Capacity {
	return events.Capacity{Available: c.Available, Active: c.Active}
}

// Instance is one connected engine
type Instance struct {
	id          string
	sender      Sender
	seq         uint64 // registration order, breaks selection ties
	connectedAt time.Time
	drainState  atomic.Uint32 // DrainState

	// guarded by Registry.mu
	counts   Capacity
	channels map[string]struct{}
}

// ID returns the identifier the engine announced in its handshake
func (i *Instance) ID() string {
	return i.id
}

// Send writes a command to the engine
func (i *Instance) Send(msg message.Outbound) error {
	return i.sender.Send(msg)
}

// RemoteAddr returns the engine's network address
func (i *Instance) RemoteAddr() string {
	return i.sender.RemoteAddr()
}

// DrainState returns the current drain state
func (i *Instance) DrainState() DrainState {
	return DrainState(i.drainState.Load())
}

func (i *Instance) setDrainState(state DrainState) {
	i.drainState.Store(uint32(state))
}

// Registry tracks connected engines and keeps aggregate capacity totals.
// Totals always equal the sum of every registered instance's last reported counts.
type Registry struct {
	mu        sync.RWMutex
	instances map[string]*Instance
	totals    Capacity
	nextSeq   uint64

	publisher events.Publisher
	builder   *events.Builder
	metrics   *Metrics
}

// NewRegistry creates an empty registry. publisher and metrics may be nil.
func NewRegistry(publisher events.Publisher, builder *events.Builder, metrics *Metrics) *Registry {
	if publisher == nil {
		publisher = events.NewNoopPublisher()
	}
	if builder == nil {
		builder = events.NewBuilder("")
	}
	return &Registry{
		instances: make(map[string]*Instance),
		publisher: publisher,
		builder:   builder,
		metrics:   metrics,
	}
}

// Register adds an engine with its reported counts. A second handshake with an id that is
// already registered replaces the old entry after subtracting its counts.
func (r *Registry) Register(id string, sender Sender, status *message.Status) *Instance {
	inst := &Instance{
		id:          id,
		sender:      sender,
		connectedAt: time.Now(),
		counts:      capacityOf(status),
		channels:    make(map[string]struct{}),
	}

	r.mu.Lock()
	if old, ok := r.instances[id]; ok {
		r.subtract(old.counts)
		slog.Warn("[Registry] Replacing instance with duplicate id",
			"instance_id", id,
			"old_addr", old.RemoteAddr(),
			"new_addr", sender.RemoteAddr(),
		)
	}
	r.nextSeq++
	inst.seq = r.nextSeq
	r.instances[id] = inst
	r.add(inst.counts)
	totals := r.totals
	count := len(r.instances)
	r.mu.Unlock()

	r.metrics.setInstances(count, totals)
	slog.Info("[Registry] Instance connected",
		"instance_id", id,
		"address", sender.RemoteAddr(),
		"available", inst.counts.Available,
		"active", inst.counts.Active,
	)
	r.publisher.PublishAsync(r.builder.Instance(events.InstanceConnected, id, sender.RemoteAddr(), inst.counts.event(), totals.event()))
	return inst
}

// UpdateStatus replaces an instance's counts with a fresh report.
// It reports false when inst is no longer the registered entry for its id.
func (r *Registry) UpdateStatus(inst *Instance, status message.Status) bool {
	r.mu.Lock()
	if r.instances[inst.id] != inst {
		r.mu.Unlock()
		return false
	}
	r.subtract(inst.counts)
	inst.counts = capacityOf(&status)
	r.add(inst.counts)
	totals := r.totals
	count := len(r.instances)
	r.mu.Unlock()

	r.metrics.setInstances(count, totals)
	return true
}

// Remove unregisters inst and subtracts its last known counts.
// It reports false when inst had already been removed or replaced.
func (r *Registry) Remove(inst *Instance) bool {
	r.mu.Lock()
	if r.instances[inst.id] != inst {
		r.mu.Unlock()
		return false
	}
	delete(r.instances, inst.id)
	r.subtract(inst.counts)
	totals := r.totals
	count := len(r.instances)
	counts := inst.counts
	r.mu.Unlock()

	r.metrics.setInstances(count, totals)
	slog.Info("[Registry] Instance closed",
		"instance_id", inst.id,
		"address", inst.RemoteAddr(),
		"available", totals.Available,
		"active", totals.Active,
	)
	r.publisher.PublishAsync(r.builder.Instance(events.InstanceClosed, inst.id, inst.RemoteAddr(), counts.event(), totals.event()))
	return true
}

func (r *Registry) add(c Capacity) {
	r.totals.Available += c.Available
	r.totals.Active += c.Active
}

func (r *Registry) subtract(c Capacity) {
	r.totals.Available -= c.Available
	r.totals.Active -= c.Active
}

// Get returns the registered instance with this id
func (r *Registry) Get(id string) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[id]
	return inst, ok
}

// Contains reports whether inst is still the registered entry for its id
func (r *Registry) Contains(inst *Instance) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return inst != nil && r.instances[inst.id] == inst
}

// Instances returns registered instances in registration order
func (r *Registry) Instances() []*Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ordered()
}

// ordered requires r.mu held
func (r *Registry) ordered() []*Instance {
	out := make([]*Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Counts returns an instance's last reported counts
func (r *Registry) Counts(inst *Instance) Capacity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return inst.counts
}

// Totals returns the aggregate counts of all registered instances
func (r *Registry) Totals() Capacity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.totals
}

// Len returns the number of registered instances
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instances)
}

// bind records that a channel lives on inst
func (r *Registry) bind(inst *Instance, channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst.channels[channelID] = struct{}{}
}

// unbind removes channel tracking for inst
func (r *Registry) unbind(inst *Instance, channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(inst.channels, channelID)
}

// ChannelsOn returns the local ids of all channels bound to inst
func (r *Registry) ChannelsOn(inst *Instance) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]string, 0, len(inst.channels))
	for id := range inst.channels {
		result = append(result, id)
	}
	return result
}

// StartDrain stops new channels from landing on an instance
func (r *Registry) StartDrain(id string) error {
	inst, ok := r.Get(id)
	if !ok {
		return &InstanceNotFoundError{ID: id}
	}

	// Only allow transitioning from Active to Draining
	if inst.DrainState() != InstanceActive {
		return fmt.Errorf("instance %s is not in active state (current: %s)", id, inst.DrainState())
	}

	inst.setDrainState(InstanceDraining)
	slog.Info("[Registry] Instance drain started", "instance_id", id)
	return nil
}

// CompleteDrain marks a draining instance as fully drained (disabled)
func (r *Registry) CompleteDrain(id string) error {
	inst, ok := r.Get(id)
	if !ok {
		return &InstanceNotFoundError{ID: id}
	}

	if inst.DrainState() != InstanceDraining {
		return fmt.Errorf("instance %s is not in draining state (current: %s)", id, inst.DrainState())
	}

	inst.setDrainState(InstanceDisabled)
	slog.Info("[Registry] Instance drain completed", "instance_id", id)
	return nil
}

// CancelDrain returns a draining or disabled instance to rotation
func (r *Registry) CancelDrain(id string) error {
	inst, ok := r.Get(id)
	if !ok {
		return &InstanceNotFoundError{ID: id}
	}

	currentState := inst.DrainState()
	if currentState == InstanceActive {
		return fmt.Errorf("instance %s is already active", id)
	}

	inst.setDrainState(InstanceActive)
	if currentState == InstanceDraining {
		slog.Info("[Registry] Instance drain cancelled", "instance_id", id)
	} else {
		slog.Info("[Registry] Instance re-enabled", "instance_id", id)
	}
	return nil
}

// WaitDrained blocks until a draining instance has no channels left or ctx ends,
// then completes the drain.
func (r *Registry) WaitDrained(ctx context.Context, id string, poll time.Duration) error {
	inst, ok := r.Get(id)
	if !ok {
		return &InstanceNotFoundError{ID: id}
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		if inst.DrainState() != InstanceDraining {
			return fmt.Errorf("instance %s is not in draining state (current: %s)", id, inst.DrainState())
		}
		if len(r.ChannelsOn(inst)) == 0 {
			return r.CompleteDrain(id)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stats returns a point in time snapshot of the registry
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := RegistryStats{
		TotalInstances: len(r.instances),
		Totals:         r.totals,
		Instances:      make([]InstanceStats, 0, len(r.instances)),
	}

	for _, inst := range r.ordered() {
		is := InstanceStats{
			ID:           inst.id,
			Address:      inst.RemoteAddr(),
			Capacity:     inst.counts,
			DrainState:   inst.DrainState(),
			ChannelCount: len(inst.channels),
			ConnectedAt:  inst.connectedAt,
		}
		if is.DrainState == InstanceActive {
			stats.ActiveInstances++
		}
		stats.Channels += is.ChannelCount
		stats.Instances = append(stats.Instances, is)
	}

	return stats
}

// RegistryStats holds registry statistics
type RegistryStats struct {
	TotalInstances  int
	ActiveInstances int
	Channels        int
	Totals          Capacity
	Instances       []InstanceStats
}

// InstanceStats holds stats for a single instance
type InstanceStats struct {
	ID           string
	Address      string
	Capacity     Capacity
	DrainState   DrainState
	ChannelCount int
	ConnectedAt  time.Time
}
