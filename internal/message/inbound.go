package message

import (
	"encoding/json"
	"fmt"
)

// Action is the "action" field of an inbound message
type Action string

const (
	ActionConnected      Action = "connected"
	ActionOpen           Action = "open"
	ActionTelephoneEvent Action = "telephone-event"
	ActionClose          Action = "close"
)

// Status is the capacity report engines attach to their messages
type Status struct {
	Channels ChannelCounts `json:"channels"`
}

// ChannelCounts is the available/active pair inside a Status
type ChannelCounts struct {
	Available int `json:"available"`
	Active    int `json:"active"`
}

// ChannelInfo identifies an engine channel and its local media address
type ChannelInfo struct {
	UUID string `json:"uuid"`
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

// Inbound is implemented by every message kind an engine can send.
// Use a type switch over *Connected, *Opened, *TelephoneEvent, *Closed and *Unknown.
type Inbound interface {
	Action() Action
	// StatusReport returns the capacity report carried by the message, if any
	StatusReport() *Status
}

// Header holds the fields shared by every inbound message
type Header struct {
	ID      string       `json:"id,omitempty"`
	Status  *Status      `json:"status,omitempty"`
	Channel *ChannelInfo `json:"channel,omitempty"`
}

// StatusReport implements Inbound
func (h Header) StatusReport() *Status {
	return h.Status
}

// UUID returns the engine uuid carried in the channel block, if any
func (h Header) UUID() string {
	if h.Channel == nil {
		return ""
	}
	return h.Channel.UUID
}

// Connected is the handshake an engine sends after connecting
type Connected struct {
	Header
	Instance string
}

func (*Connected) Action() Action { return ActionConnected }

// Opened confirms a channel open; ID is the id sent with the open command
type Opened struct {
	Header
}

func (*Opened) Action() Action { return ActionOpen }

// TelephoneEvent reports a DTMF event received on a channel
type TelephoneEvent struct {
	Header
	Event json.RawMessage
}

func (*TelephoneEvent) Action() Action { return ActionTelephoneEvent }

// Closed confirms (or announces) that a channel was closed
type Closed struct {
	Header
}

func (*Closed) Action() Action { return ActionClose }

// Unknown is any message with an action this service does not handle
type Unknown struct {
	Header
	Name string
	Raw  json.RawMessage
}

func (u *Unknown) Action() Action { return Action(u.Name) }

type wireInbound struct {
	Action   string          `json:"action"`
	Instance string          `json:"instance,omitempty"`
	Event    json.RawMessage `json:"event,omitempty"`
	Header
}

// Decode parses one frame body into its message kind
func Decode(body []byte) (Inbound, error) {
	var w wireInbound
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("invalid inbound message: %w", err)
	}

	switch Action(w.Action) {
	case ActionConnected:
		return &Connected{Header: w.Header, Instance: w.Instance}, nil
	case ActionOpen:
		return &Opened{Header: w.Header}, nil
	case ActionTelephoneEvent:
		return &TelephoneEvent{Header: w.Header, Event: w.Event}, nil
	case ActionClose:
		return &Closed{Header: w.Header}, nil
	default:
		return &Unknown{Header: w.Header, Name: w.Action, Raw: append(json.RawMessage(nil), body...)}, nil
	}
}

// Encode builds the wire form of an inbound message. Engines and test doubles use it.
func Encode(in Inbound) ([]byte, error) {
	w := wireInbound{Action: string(in.Action())}
	switch m := in.(type) {
	case *Connected:
		w.Header = m.Header
		w.Instance = m.Instance
	case *Opened:
		w.Header = m.Header
	case *TelephoneEvent:
		w.Header = m.Header
		w.Event = m.Event
	case *Closed:
		w.Header = m.Header
	case *Unknown:
		return m.Raw, nil
	default:
		return nil, fmt.Errorf("unsupported inbound message %T", in)
	}
	return json.Marshal(w)
}
