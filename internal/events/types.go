// Package events provides engine instance and channel lifecycle events and the publishers
// that deliver them. Events carry subjects so they can be routed by a message bus later
// without changing producers.
package events

import (
	"encoding/json"
	"time"
)

// EventType identifies the type of event
type EventType string

const (
	// InstanceConnected fires when an engine completes its handshake
	InstanceConnected EventType = "instance.connected"
	// InstanceClosed fires when an engine connection goes away
	InstanceClosed EventType = "instance.closed"

	// ChannelOpen fires when the engine confirms a channel open
	ChannelOpen EventType = "channel.open"
	// ChannelClose fires when a channel is closed (requested or not)
	ChannelClose EventType = "channel.close"
	// ChannelTelephoneEvent fires for every DTMF event the engine reports
	ChannelTelephoneEvent EventType = "channel.telephone-event"
	// ChannelFailed fires when an open or close times out, or the instance disconnects
	ChannelFailed EventType = "channel.failed"
)

// Event is the interface for all events
type Event interface {
	// Type returns the event type for routing/filtering
	Type() EventType
	// Subject returns the subject this event publishes to
	Subject() string
	// Timestamp returns when the event occurred
	Timestamp() time.Time
	// SourceID returns the instance or channel the event is about
	SourceID() string
}

// BaseEvent contains fields common to all events
type BaseEvent struct {
	// EventID is unique per event instance (for deduplication)
	EventID   string    `json:"event_id"`
	EventType EventType `json:"event_type"`
	EventTime time.Time `json:"event_time"`
	// NodeID identifies the rtpcontrol process
	NodeID string `json:"node_id,omitempty"`
}

func (e *BaseEvent) Type() EventType      { return e.EventType }
func (e *BaseEvent) Timestamp() time.Time { return e.EventTime }

// Capacity is an engine's last reported channel counts
type Capacity struct {
	Available int `json:"available"`
	Active    int `json:"active"`
}

// InstanceEvent covers instance.connected and instance.closed
type InstanceEvent struct {
	BaseEvent
	InstanceID string   `json:"instance_id"`
	RemoteAddr string   `json:"remote_addr,omitempty"`
	Capacity   Capacity `json:"capacity"`
	// Totals across every registered instance after this event was applied
	Totals Capacity `json:"totals"`
}

func (e *InstanceEvent) SourceID() string { return e.InstanceID }

// Subject format: projectrtp.instances.<instance_id>.<suffix>
func (e *InstanceEvent) Subject() string {
	return InstanceSubject(e.InstanceID, SubjectForEventType(e.EventType))
}

// ChannelEvent covers every channel.* event
type ChannelEvent struct {
	BaseEvent
	ChannelID  string `json:"channel_id"`
	UUID       string `json:"uuid,omitempty"`
	InstanceID string `json:"instance_id,omitempty"`
	LocalIP    string `json:"local_ip,omitempty"`
	LocalPort  int    `json:"local_port,omitempty"`
	// Reason is set on channel.close and channel.failed
	Reason string `json:"reason,omitempty"`
	// Payload is the engine's raw event body on channel.telephone-event
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (e *ChannelEvent) SourceID() string { return e.ChannelID }

// Subject format: projectrtp.channels.<channel_id>.<suffix>
func (e *ChannelEvent) Subject() string {
	return ChannelSubject(e.ChannelID, SubjectForEventType(e.EventType))
}

// MarshalEvent encodes any event to JSON
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}
