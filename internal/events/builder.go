package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Builder constructs events with consistent defaults.
type Builder struct {
	nodeID string
}

// NewBuilder creates an event builder stamping every event with nodeID.
func NewBuilder(nodeID string) *Builder {
	return &Builder{nodeID: nodeID}
}

func (b *Builder) newBase(eventType EventType) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		EventTime: time.Now().UTC(),
		NodeID:    b.nodeID,
	}
}

// Instance builds an instance.connected or instance.closed event.
func (b *Builder) Instance(t EventType, instanceID, remoteAddr string, capacity, totals Capacity) *InstanceEvent {
	return &InstanceEvent{
		BaseEvent:  b.newBase(t),
		InstanceID: instanceID,
		RemoteAddr: remoteAddr,
		Capacity:   capacity,
		Totals:     totals,
	}
}

// ChannelBuilder constructs a ChannelEvent.
type ChannelBuilder struct {
	event *ChannelEvent
}

// Channel starts building a channel event for the channel's local id.
func (b *Builder) Channel(t EventType, channelID string) *ChannelBuilder {
	return &ChannelBuilder{
		event: &ChannelEvent{
			BaseEvent: b.newBase(t),
			ChannelID: channelID,
		},
	}
}

func (cb *ChannelBuilder) UUID(uuid string) *ChannelBuilder {
	cb.event.UUID = uuid
	return cb
}

func (cb *ChannelBuilder) Instance(instanceID string) *ChannelBuilder {
	cb.event.InstanceID = instanceID
	return cb
}

func (cb *ChannelBuilder) Local(ip string, port int) *ChannelBuilder {
	cb.event.LocalIP = ip
	cb.event.LocalPort = port
	return cb
}

func (cb *ChannelBuilder) Reason(reason string) *ChannelBuilder {
	cb.event.Reason = reason
	return cb
}

func (cb *ChannelBuilder) Payload(raw json.RawMessage) *ChannelBuilder {
	cb.event.Payload = raw
	return cb
}

func (cb *ChannelBuilder) Build() *ChannelEvent {
	return cb.event
}
