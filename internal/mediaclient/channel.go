package mediaclient

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"github.com/sebas/rtpcontrol/internal/events"
	"github.com/sebas/rtpcontrol/internal/message"
	"github.com/sebas/rtpcontrol/internal/sdp"
)

// Endpoint is the engine side media address of an open channel
type Endpoint struct {
	IP   string
	Port int
}

// Channel is one RTP endpoint on an engine. Commands are fire and forget; open and destroy
// return a Result completed by the engine's callback or by a timeout.
type Channel struct {
	control  *Control
	instance *Instance

	mu          sync.Mutex
	id          string
	uuid        string
	machine     *fsm.FSM
	local       Endpoint
	remote      *sdp.Session
	openResult  *Result
	closeResult *Result
	openSentAt  time.Time

	onOpen           []func(*Channel)
	onClose          []func(*Channel, error)
	onTelephoneEvent []func(*Channel, json.RawMessage)
}

func newChannel(control *Control, inst *Instance, remote *sdp.Session) *Channel {
	c := &Channel{
		control:  control,
		instance: inst,
		remote:   remote,
	}
	// runs inside machine.Event, with c.mu held by the caller
	c.machine = newChannelFSM(func(from, to ChannelState) {
		control.metrics.transition(from, to)
		slog.Debug("[Channel] State changed",
			"channel_id", c.id,
			"from", from,
			"to", to,
		)
	})
	return c
}

// newLocalID returns 32 lowercase hex characters
func newLocalID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ID returns the local id, empty until Open
func (c *Channel) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// UUID returns the engine's id for the channel, empty until the engine confirms the open
func (c *Channel) UUID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uuid
}

// State returns the current lifecycle state
func (c *Channel) State() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state()
}

// state requires c.mu held
func (c *Channel) state() ChannelState {
	return ChannelState(c.machine.Current())
}

// Instance returns the engine the channel is bound to
func (c *Channel) Instance() *Instance {
	return c.instance
}

// Local returns the engine side media address reported on open
func (c *Channel) Local() Endpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

// Remote returns the remote session description currently targeted, if any
func (c *Channel) Remote() *sdp.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

// OnOpen registers a handler run after the engine confirms the open
func (c *Channel) OnOpen(fn func(*Channel)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onOpen = append(c.onOpen, fn)
}

// OnClose registers a handler run when an opened channel ends. err is nil for a confirmed
// close and the failure otherwise.
func (c *Channel) OnClose(fn func(*Channel, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = append(c.onClose, fn)
}

// OnTelephoneEvent registers a handler for DTMF reported by the engine
func (c *Channel) OnTelephoneEvent(fn func(*Channel, json.RawMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTelephoneEvent = append(c.onTelephoneEvent, fn)
}

// Open asks the engine for the channel. The remote description, when present, becomes the
// initial target. The returned Result fails with ErrOperationTimeout if the engine does not
// confirm within the request timeout.
func (c *Channel) Open() (*Result, error) {
	if !c.control.registry.Contains(c.instance) {
		return nil, fmt.Errorf("open on %s: %w", c.instance.ID(), ErrInstanceDisconnected)
	}

	c.mu.Lock()
	if st := c.state(); st != StateIdle {
		c.mu.Unlock()
		return nil, &StateError{ChannelID: c.id, Op: "open", State: st, Err: ErrInvalidState}
	}

	var target *sdp.Remote
	if c.remote != nil {
		remote, ok := c.remote.AudioRemote()
		if !ok {
			c.mu.Unlock()
			return nil, ErrNoAudioMedia
		}
		target = &remote
	}

	c.id = newLocalID()
	id := c.id
	res := newResult()
	c.openResult = res
	c.openSentAt = time.Now()
	transition(c.machine, id, eventOpen)
	c.mu.Unlock()

	c.control.track(c, id)
	res.arm(c.control.cfg.RequestTimeout, func() { c.expire(res, "open") })

	slog.Debug("[Channel] Opening", "channel_id", id, "instance_id", c.instance.ID())
	if err := c.send(message.Open(id, target)); err != nil {
		err = fmt.Errorf("failed to send open: %w", err)
		c.abort(eventDisconnect, err)
		return nil, err
	}
	return res, nil
}

// Target points the channel at a new remote description
func (c *Channel) Target(remote *sdp.Session) error {
	target, ok := remote.AudioRemote()
	if !ok {
		return ErrNoAudioMedia
	}

	c.mu.Lock()
	uuid, err := c.openUUID("target")
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.remote = remote
	c.mu.Unlock()

	return c.send(message.Target(uuid, target))
}

// RFC2833 sets the payload type the engine uses for telephone events
func (c *Channel) RFC2833(pt int) error {
	return c.command("rfc2833", func(uuid string) message.Outbound {
		return message.RFC2833(uuid, pt)
	})
}

// Mix bridges this channel with other. Both must be open on the same engine.
func (c *Channel) Mix(other *Channel) error {
	if other.instance != c.instance {
		return fmt.Errorf("mix %s with %s: %w", c.ID(), other.ID(), ErrCrossInstanceMix)
	}
	otherUUID := other.UUID()
	if otherUUID == "" || other.State() != StateOpen {
		return &StateError{ChannelID: other.ID(), Op: "mix", State: other.State(), Err: ErrNotOpen}
	}
	return c.command("mix", func(uuid string) message.Outbound {
		return message.Mix(uuid, otherUUID)
	})
}

// Unmix removes the channel from any mix
func (c *Channel) Unmix() error {
	return c.command("unmix", message.Unmix)
}

// Play starts playback of soup, the engine's playlist description
func (c *Channel) Play(soup any) error {
	return c.command("play", func(uuid string) message.Outbound {
		return message.Play(uuid, soup)
	})
}

// Echo reflects received audio back to the remote
func (c *Channel) Echo() error {
	return c.command("echo", message.Echo)
}

func (c *Channel) command(op string, build func(uuid string) message.Outbound) error {
	c.mu.Lock()
	uuid, err := c.openUUID(op)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.send(build(uuid))
}

// openUUID requires c.mu held
func (c *Channel) openUUID(op string) (string, error) {
	if st := c.state(); st != StateOpen || c.uuid == "" {
		return "", &StateError{ChannelID: c.id, Op: op, State: st, Err: ErrNotOpen}
	}
	return c.uuid, nil
}

// Destroy closes the channel.
//   - idle: closed locally, no message is sent
//   - opening: ErrInvalidState, wait for the open to complete first
//   - open: close is sent and the Result completes on the engine's confirmation or timeout
//   - closing: the pending Result is returned
//   - closed or failed: ErrAlreadyClosed
func (c *Channel) Destroy() (*Result, error) {
	c.mu.Lock()
	switch st := c.state(); st {
	case StateClosed, StateFailed:
		c.mu.Unlock()
		return nil, ErrAlreadyClosed

	case StateIdle:
		transition(c.machine, c.id, eventDiscard)
		c.mu.Unlock()
		return resolvedResult(nil), nil

	case StateOpening:
		c.mu.Unlock()
		return nil, &StateError{ChannelID: c.id, Op: "destroy", State: st, Err: ErrInvalidState}

	case StateClosing:
		res := c.closeResult
		c.mu.Unlock()
		return res, nil
	}

	id, uuid := c.id, c.uuid
	res := newResult()
	c.closeResult = res
	transition(c.machine, id, eventClose)
	c.mu.Unlock()

	res.arm(c.control.cfg.RequestTimeout, func() { c.expire(res, "close") })

	slog.Debug("[Channel] Closing", "channel_id", id, "uuid", uuid)
	if err := c.send(message.Close(uuid)); err != nil {
		err = fmt.Errorf("failed to send close: %w", err)
		c.abort(eventDisconnect, err)
		return nil, err
	}
	return res, nil
}

// LocalSession builds the description to hand to the remote party: the given codecs offered
// at the engine's local address. The channel must be open.
func (c *Channel) LocalSession(codecs ...string) (*sdp.Session, error) {
	c.mu.Lock()
	_, err := c.openUUID("describe")
	local := c.local
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return sdp.New().AddCodecs(codecs...).SetEndpoint(local.IP, local.Port), nil
}

func (c *Channel) send(msg message.Outbound) error {
	c.control.metrics.message("out", string(msg.Channel))
	return c.instance.Send(msg)
}

// handleOpened completes a pending open
func (c *Channel) handleOpened(msg *message.Opened) {
	uuid := msg.UUID()

	c.mu.Lock()
	res := c.openResult
	if res == nil || c.state() != StateOpening || uuid == "" {
		st := c.state()
		c.mu.Unlock()
		slog.Warn("[Channel] Ignoring unexpected open", "channel_id", msg.ID, "uuid", uuid, "state", st)
		return
	}
	c.openResult = nil
	c.uuid = uuid
	if msg.Channel != nil {
		c.local = Endpoint{IP: msg.Channel.IP, Port: msg.Channel.Port}
	}
	transition(c.machine, c.id, eventOpened)
	id, local := c.id, c.local
	latency := time.Since(c.openSentAt)
	handlers := slices.Clone(c.onOpen)
	c.mu.Unlock()

	c.control.indexUUID(c, id, uuid)
	res.resolve(nil)
	c.control.metrics.openLatency(latency.Seconds())

	slog.Info("[Channel] Opened",
		"channel_id", id,
		"uuid", uuid,
		"instance_id", c.instance.ID(),
		"local", fmt.Sprintf("%s:%d", local.IP, local.Port),
	)
	c.publish(c.control.builder.Channel(events.ChannelOpen, id).
		UUID(uuid).
		Instance(c.instance.ID()).
		Local(local.IP, local.Port).
		Build())

	for _, h := range handlers {
		h(c)
	}
}

// handleClosed completes a pending close, or closes an open channel the engine released.
// A close that arrives before the open was confirmed fails the open.
func (c *Channel) handleClosed(msg *message.Closed) {
	c.mu.Lock()
	st := c.state()
	if st == StateOpening {
		finish := c.failLocked(eventRejected, fmt.Errorf("open channel %s: %w", c.id, ErrClosedByEngine))
		c.mu.Unlock()
		finish()
		return
	}
	if st != StateOpen && st != StateClosing {
		c.mu.Unlock()
		slog.Debug("[Channel] Ignoring close", "channel_id", msg.ID, "state", st)
		return
	}
	res := c.closeResult
	c.closeResult = nil
	transition(c.machine, c.id, eventClosed)
	id, uuid := c.id, c.uuid
	handlers := slices.Clone(c.onClose)
	c.mu.Unlock()

	c.control.untrack(c, id, uuid)

	reason := "requested"
	if res != nil {
		res.resolve(nil)
	} else {
		reason = "engine"
	}

	slog.Info("[Channel] Closed", "channel_id", id, "uuid", uuid, "reason", reason)
	c.publish(c.control.builder.Channel(events.ChannelClose, id).
		UUID(uuid).
		Instance(c.instance.ID()).
		Reason(reason).
		Build())

	for _, h := range handlers {
		h(c, nil)
	}
}

// handleTelephoneEvent forwards DTMF to handlers; no state changes
func (c *Channel) handleTelephoneEvent(msg *message.TelephoneEvent) {
	c.mu.Lock()
	id, uuid := c.id, c.uuid
	handlers := slices.Clone(c.onTelephoneEvent)
	c.mu.Unlock()

	slog.Debug("[Channel] Telephone event", "channel_id", id, "event", string(msg.Event))
	c.publish(c.control.builder.Channel(events.ChannelTelephoneEvent, id).
		UUID(uuid).
		Instance(c.instance.ID()).
		Payload(msg.Event).
		Build())

	for _, h := range handlers {
		h(c, msg.Event)
	}
}

// expire is the timer callback for a pending open or close
func (c *Channel) expire(res *Result, op string) {
	c.mu.Lock()
	if c.openResult != res && c.closeResult != res {
		c.mu.Unlock()
		return
	}
	id := c.id
	finish := c.failLocked(eventTimeout, fmt.Errorf("%s channel %s: %w", op, id, ErrOperationTimeout))
	c.mu.Unlock()

	c.control.metrics.timeout(op)
	slog.Warn("[Channel] Operation timed out",
		"channel_id", id,
		"operation", op,
		"instance_id", c.instance.ID(),
		"timeout", c.control.cfg.RequestTimeout,
	)
	finish()
}

// abort moves the channel to failed, resolving pending results with err
func (c *Channel) abort(event string, err error) {
	c.mu.Lock()
	finish := c.failLocked(event, err)
	c.mu.Unlock()
	finish()
}

// failLocked transitions to failed with c.mu held and returns the work to run once the
// lock is released. The returned func does nothing if the transition was refused.
func (c *Channel) failLocked(event string, err error) func() {
	from := c.state()
	if !transition(c.machine, c.id, event) {
		return func() {}
	}

	pending := []*Result{c.openResult, c.closeResult}
	c.openResult, c.closeResult = nil, nil
	id, uuid := c.id, c.uuid

	var handlers []func(*Channel, error)
	if from == StateOpen || from == StateClosing {
		handlers = slices.Clone(c.onClose)
	}

	return func() {
		c.control.untrack(c, id, uuid)
		for _, res := range pending {
			if res != nil {
				res.resolve(err)
			}
		}

		slog.Warn("[Channel] Failed", "channel_id", id, "uuid", uuid, "from", from, "error", err)
		c.publish(c.control.builder.Channel(events.ChannelFailed, id).
			UUID(uuid).
			Instance(c.instance.ID()).
			Reason(err.Error()).
			Build())

		for _, h := range handlers {
			h(c, err)
		}
	}
}

func (c *Channel) publish(ev events.Event) {
	c.control.publisher.PublishAsync(ev)
}
