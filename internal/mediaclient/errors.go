package mediaclient

import (
	"errors"
	"fmt"
)

// Sentinel errors for use with errors.Is.
var (
	// ErrOperationTimeout indicates the engine did not answer an open or close in time.
	ErrOperationTimeout = errors.New("operation timed out")

	// ErrAlreadyClosed indicates the channel is already closed or failed.
	ErrAlreadyClosed = errors.New("channel already closed")

	// ErrNoAvailableInstance indicates no connected engine has capacity for a new channel.
	ErrNoAvailableInstance = errors.New("no available media engine")

	// ErrInstanceDisconnected indicates the engine a channel is bound to went away.
	ErrInstanceDisconnected = errors.New("media engine disconnected")

	// ErrClosedByEngine indicates the engine closed a channel before confirming its open.
	ErrClosedByEngine = errors.New("engine closed channel")

	// ErrInvalidState indicates an invalid state for the operation.
	ErrInvalidState = errors.New("invalid state for operation")

	// ErrNotOpen indicates an operation that needs an open channel (one with an engine uuid).
	ErrNotOpen = errors.New("channel not open")

	// ErrCrossInstanceMix indicates a mix of channels living on different engines.
	ErrCrossInstanceMix = errors.New("channels are on different media engines")

	// ErrNoAudioMedia indicates a session description without an audio section.
	ErrNoAudioMedia = errors.New("no audio media in session")

	// ErrControlClosed indicates the Control has been shut down.
	ErrControlClosed = errors.New("control closed")
)

// StateError indicates an operation attempted in a state that does not allow it.
type StateError struct {
	ChannelID string
	Op        string
	State     ChannelState
	// Err is the sentinel the error unwraps to
	Err error
}

// Error returns the error message.
func (e *StateError) Error() string {
	return fmt.Sprintf("channel %s: cannot %s in state %s: %v", e.ChannelID, e.Op, e.State, e.Err)
}

// Unwrap returns the sentinel.
func (e *StateError) Unwrap() error {
	return e.Err
}

// InstanceNotFoundError indicates an unknown instance id.
type InstanceNotFoundError struct {
	ID string
}

func (e *InstanceNotFoundError) Error() string {
	return fmt.Sprintf("media engine not found: %s", e.ID)
}
