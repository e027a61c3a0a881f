// Package mediaclient controls remote projectrtp media engines: it tracks the engines that
// connect, picks one for each new channel, and drives channel lifecycles over the framed JSON
// control protocol.
package mediaclient

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/sebas/rtpcontrol/internal/events"
	"github.com/sebas/rtpcontrol/internal/message"
	"github.com/sebas/rtpcontrol/internal/sdp"
)

// DefaultRequestTimeout bounds how long open and close wait for the engine
const DefaultRequestTimeout = 1500 * time.Millisecond

// Config holds Control settings
type Config struct {
	// RequestTimeout bounds open and close round trips
	RequestTimeout time.Duration
	// Reserve is the spare capacity an engine must keep to receive new channels.
	// Zero means DefaultReserve; use WithReserve to require no headroom at all.
	Reserve int
	// NodeID stamps published events
	NodeID string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		RequestTimeout: DefaultRequestTimeout,
		Reserve:        DefaultReserve,
	}
}

// Option configures a Control
type Option func(*Control)

// WithPublisher sets the event publisher
func WithPublisher(p events.Publisher) Option {
	return func(c *Control) {
		c.publisher = p
	}
}

// WithReserve sets the selection headroom explicitly, including zero
func WithReserve(n int) Option {
	return func(c *Control) {
		if n >= 0 {
			c.cfg.Reserve = n
		}
	}
}

// WithMetrics sets the Prometheus collectors
func WithMetrics(m *Metrics) Option {
	return func(c *Control) {
		c.metrics = m
	}
}

// Control owns the engine registry, the channel index, the listeners and every engine
// connection. It is the entry point for creating channels.
type Control struct {
	cfg       Config
	registry  *Registry
	selector  *Selector
	publisher events.Publisher
	builder   *events.Builder
	metrics   *Metrics

	mu        sync.Mutex
	byID      map[string]*Channel
	byUUID    map[string]*Channel
	conns     map[*engineConn]struct{}
	listeners map[net.Listener]struct{}
	closed    bool

	wg sync.WaitGroup
}

// New creates a Control. Zero config fields take their defaults, so a zero
// Reserve becomes DefaultReserve unless WithReserve says otherwise.
func New(cfg Config, opts ...Option) *Control {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Reserve <= 0 {
		cfg.Reserve = DefaultReserve
	}

	c := &Control{
		cfg:       cfg,
		publisher: events.NewNoopPublisher(),
		builder:   events.NewBuilder(cfg.NodeID),
		byID:      make(map[string]*Channel),
		byUUID:    make(map[string]*Channel),
		conns:     make(map[*engineConn]struct{}),
		listeners: make(map[net.Listener]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.registry = NewRegistry(c.publisher, c.builder, c.metrics)
	c.selector = NewSelector(c.registry, c.cfg.Reserve)
	return c
}

// Registry returns the engine registry
func (c *Control) Registry() *Registry {
	return c.registry
}

// NewChannel creates an idle channel on a selected engine. remote, when set, is the offered
// description whose audio becomes the channel's first target. related pins the new channel to
// the same engine as an existing one, so the two can be mixed.
func (c *Control) NewChannel(remote *sdp.Session, related *Channel) (*Channel, error) {
	if c.isClosed() {
		return nil, ErrControlClosed
	}
	inst, err := c.selector.Select(related)
	if err != nil {
		return nil, err
	}
	return newChannel(c, inst, remote), nil
}

// OpenChannel creates a channel and opens it
func (c *Control) OpenChannel(remote *sdp.Session, related *Channel) (*Channel, *Result, error) {
	ch, err := c.NewChannel(remote, related)
	if err != nil {
		return nil, nil, err
	}
	res, err := ch.Open()
	if err != nil {
		return nil, nil, err
	}
	return ch, res, nil
}

// Channel returns a registered channel by local id
func (c *Control) Channel(id string) (*Channel, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.byID[id]
	return ch, ok
}

// ChannelCount returns the number of registered (opening, open or closing) channels
func (c *Control) ChannelCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byID)
}

func (c *Control) track(ch *Channel, id string) {
	c.mu.Lock()
	c.byID[id] = ch
	c.mu.Unlock()
	c.registry.bind(ch.instance, id)
}

func (c *Control) indexUUID(ch *Channel, id, uuid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.byID[id] == ch {
		c.byUUID[uuid] = ch
	}
}

func (c *Control) untrack(ch *Channel, id, uuid string) {
	c.mu.Lock()
	if c.byID[id] == ch {
		delete(c.byID, id)
	}
	if uuid != "" && c.byUUID[uuid] == ch {
		delete(c.byUUID, uuid)
	}
	c.mu.Unlock()
	c.registry.unbind(ch.instance, id)
}

// lookup matches an inbound message to a channel by id, falling back to the engine uuid
func (c *Control) lookup(h message.Header) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h.ID != "" {
		if ch, ok := c.byID[h.ID]; ok {
			return ch
		}
	}
	if uuid := h.UUID(); uuid != "" {
		return c.byUUID[uuid]
	}
	return nil
}

// handleBody decodes and dispatches one inbound message. Messages from one connection are
// handled sequentially on its read goroutine.
func (c *Control) handleBody(ec *engineConn, body []byte) {
	in, err := message.Decode(body)
	if err != nil {
		slog.Warn("[Control] Dropping undecodable message", "address", ec.RemoteAddr(), "error", err)
		return
	}
	c.metrics.message("in", string(in.Action()))

	if m, ok := in.(*message.Connected); ok {
		c.handshake(ec, m)
		return
	}

	if status := in.StatusReport(); status != nil {
		if inst := ec.Instance(); inst != nil {
			c.registry.UpdateStatus(inst, *status)
		}
	}

	switch m := in.(type) {
	case *message.Opened:
		ch := c.lookup(message.Header{ID: m.ID})
		if ch == nil {
			c.reapOrphan(ec, m)
			return
		}
		ch.handleOpened(m)

	case *message.TelephoneEvent:
		ch := c.lookup(m.Header)
		if ch == nil {
			slog.Debug("[Control] Telephone event for unknown channel", "id", m.ID, "uuid", m.UUID())
			return
		}
		ch.handleTelephoneEvent(m)

	case *message.Closed:
		ch := c.lookup(m.Header)
		if ch == nil {
			slog.Debug("[Control] Close for unknown channel", "id", m.ID, "uuid", m.UUID())
			return
		}
		ch.handleClosed(m)

	case *message.Unknown:
		slog.Debug("[Control] Ignoring message", "action", m.Name, "address", ec.RemoteAddr())
	}
}

// handshake registers the engine behind ec. A repeated handshake on the same connection only
// refreshes its counts.
func (c *Control) handshake(ec *engineConn, m *message.Connected) {
	if inst := ec.Instance(); inst != nil {
		if m.Status != nil {
			c.registry.UpdateStatus(inst, *m.Status)
		}
		slog.Debug("[Control] Repeated handshake", "instance_id", inst.ID(), "announced", m.Instance)
		return
	}

	id := m.Instance
	if id == "" {
		id = ec.RemoteAddr()
	}
	ec.setInstance(c.registry.Register(id, ec, m.Status))
}

// reapOrphan closes an engine channel whose open arrived after the caller gave up on it
func (c *Control) reapOrphan(ec *engineConn, m *message.Opened) {
	uuid := m.UUID()
	slog.Warn("[Control] Open for unknown channel", "id", m.ID, "uuid", uuid, "address", ec.RemoteAddr())
	if uuid == "" {
		return
	}
	c.metrics.message("out", string(message.CommandClose))
	if err := ec.Send(message.Close(uuid)); err != nil {
		slog.Warn("[Control] Failed to close orphan channel", "uuid", uuid, "error", err)
	}
}

// failChannels force fails every channel bound to inst
func (c *Control) failChannels(inst *Instance) {
	ids := c.registry.ChannelsOn(inst)
	if len(ids) == 0 {
		return
	}
	slog.Warn("[Control] Failing channels of disconnected instance", "instance_id", inst.ID(), "channels", len(ids))

	err := fmt.Errorf("instance %s: %w", inst.ID(), ErrInstanceDisconnected)
	for _, id := range ids {
		if ch, ok := c.Channel(id); ok {
			ch.abort(eventDisconnect, err)
		}
	}
}

func (c *Control) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close stops every listener, drops every engine connection (failing their channels) and
// waits for the connection goroutines to exit.
func (c *Control) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	listeners := make([]net.Listener, 0, len(c.listeners))
	for ln := range c.listeners {
		listeners = append(listeners, ln)
	}
	conns := make([]*engineConn, 0, len(c.conns))
	for ec := range c.conns {
		conns = append(conns, ec)
	}
	c.mu.Unlock()

	for _, ln := range listeners {
		ln.Close()
	}
	for _, ec := range conns {
		ec.Close()
	}
	c.wg.Wait()

	slog.Info("[Control] Closed")
	return nil
}
