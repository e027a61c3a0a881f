package mediaclient

import (
	"context"
	"log/slog"

	"github.com/looplab/fsm"
)

// ChannelState represents the lifecycle state of a channel.
type ChannelState string

const (
	// StateIdle indicates the channel was created but open has not been sent.
	StateIdle ChannelState = "idle"
	// StateOpening indicates open was sent and the engine has not confirmed it yet.
	StateOpening ChannelState = "opening"
	// StateOpen indicates the engine confirmed the channel and assigned a uuid.
	StateOpen ChannelState = "open"
	// StateClosing indicates close was sent and the engine has not confirmed it yet.
	StateClosing ChannelState = "closing"
	// StateClosed indicates the channel is closed.
	StateClosed ChannelState = "closed"
	// StateFailed indicates an open or close timed out, or the engine disconnected.
	StateFailed ChannelState = "failed"
)

// String returns the string representation of ChannelState.
func (s ChannelState) String() string {
	return string(s)
}

// IsTerminal returns true if the channel can no longer change state.
func (s ChannelState) IsTerminal() bool {
	return s == StateClosed || s == StateFailed
}

// channel fsm events
const (
	eventOpen       = "open"
	eventOpened     = "opened"
	eventClose      = "close"
	eventClosed     = "closed"
	eventDiscard    = "discard"
	eventTimeout    = "timeout"
	eventDisconnect = "disconnect"
	eventRejected   = "rejected"
)

// newChannelFSM builds the channel lifecycle machine. onChange runs after every transition
// with the source and destination states; it must not call back into the machine.
func newChannelFSM(onChange func(from, to ChannelState)) *fsm.FSM {
	return fsm.NewFSM(
		string(StateIdle),
		fsm.Events{
			{Name: eventOpen, Src: []string{string(StateIdle)}, Dst: string(StateOpening)},
			{Name: eventOpened, Src: []string{string(StateOpening)}, Dst: string(StateOpen)},
			{Name: eventClose, Src: []string{string(StateOpen)}, Dst: string(StateClosing)},
			// an engine may close a channel on its own, so open is a valid source too
			{Name: eventClosed, Src: []string{string(StateOpen), string(StateClosing)}, Dst: string(StateClosed)},
			{Name: eventDiscard, Src: []string{string(StateIdle)}, Dst: string(StateClosed)},
			{Name: eventTimeout, Src: []string{string(StateOpening), string(StateClosing)}, Dst: string(StateFailed)},
			{Name: eventDisconnect, Src: []string{string(StateOpening), string(StateOpen), string(StateClosing)}, Dst: string(StateFailed)},
			// the engine answered an open with a close
			{Name: eventRejected, Src: []string{string(StateOpening)}, Dst: string(StateFailed)},
		},
		fsm.Callbacks{
			"after_event": func(ctx context.Context, e *fsm.Event) {
				if onChange != nil {
					onChange(ChannelState(e.Src), ChannelState(e.Dst))
				}
			},
		},
	)
}

// transition fires event on m, logging refused transitions. Callers hold the channel lock.
func transition(m *fsm.FSM, channelID, event string) bool {
	if err := m.Event(context.Background(), event); err != nil {
		slog.Debug("[Channel] Transition refused",
			"channel_id", channelID,
			"event", event,
			"state", m.Current(),
			"error", err,
		)
		return false
	}
	return true
}
