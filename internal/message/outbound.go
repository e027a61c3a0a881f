// Package message defines the JSON bodies carried in control frames between this service and
// the media engines.
package message

import (
	"encoding/json"
	"fmt"

	"github.com/sebas/rtpcontrol/internal/sdp"
)

// Command is the "channel" field of an outbound message
type Command string

const (
	CommandOpen    Command = "open"
	CommandTarget  Command = "target"
	CommandRFC2833 Command = "rfc2833"
	CommandMix     Command = "mix"
	CommandUnmix   Command = "unmix"
	CommandPlay    Command = "play"
	CommandEcho    Command = "echo"
	CommandClose   Command = "close"
)

// UUIDs holds the engine uuid(s) a command applies to.
// A single uuid is encoded as a plain string, a pair (mix) as an array.
type UUIDs []string

// MarshalJSON implements json.Marshaler
func (u UUIDs) MarshalJSON() ([]byte, error) {
	if len(u) == 1 {
		return json.Marshal(u[0])
	}
	return json.Marshal([]string(u))
}

// UnmarshalJSON implements json.Unmarshaler
func (u *UUIDs) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*u = UUIDs{single}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("uuid must be a string or a list of strings: %w", err)
	}
	*u = UUIDs(list)
	return nil
}

// Outbound is a command sent to an engine
type Outbound struct {
	Channel Command     `json:"channel"`
	ID      string      `json:"id,omitempty"`
	UUID    UUIDs       `json:"uuid,omitempty"`
	Target  *sdp.Remote `json:"target,omitempty"`
	PT      *int        `json:"pt,omitempty"`
	Soup    any         `json:"soup,omitempty"`
}

// Open asks the engine for a new channel. id correlates the reply, as no uuid exists yet.
func Open(id string, target *sdp.Remote) Outbound {
	return Outbound{Channel: CommandOpen, ID: id, Target: target}
}

// Target points an open channel at a new remote
func Target(uuid string, target sdp.Remote) Outbound {
	return Outbound{Channel: CommandTarget, UUID: UUIDs{uuid}, Target: &target}
}

// RFC2833 sets the payload type used for telephone events
func RFC2833(uuid string, pt int) Outbound {
	return Outbound{Channel: CommandRFC2833, UUID: UUIDs{uuid}, PT: &pt}
}

// Mix bridges two channels on the same engine
func Mix(uuid, other string) Outbound {
	return Outbound{Channel: CommandMix, UUID: UUIDs{uuid, other}}
}

// Unmix removes a channel from its mix
func Unmix(uuid string) Outbound {
	return Outbound{Channel: CommandUnmix, UUID: UUIDs{uuid}}
}

// Play starts playback described by soup (the engine's playlist format)
func Play(uuid string, soup any) Outbound {
	return Outbound{Channel: CommandPlay, UUID: UUIDs{uuid}, Soup: soup}
}

// Echo reflects received audio back to the sender
func Echo(uuid string) Outbound {
	return Outbound{Channel: CommandEcho, UUID: UUIDs{uuid}}
}

// Close releases a channel
func Close(uuid string) Outbound {
	return Outbound{Channel: CommandClose, UUID: UUIDs{uuid}}
}
