package events

import "fmt"

// Subject naming conventions.
//
// Hierarchy:
//   projectrtp.instances.<instance_id>.<event_suffix>  - Engine connection events
//   projectrtp.channels.<channel_id>.<event_suffix>    - Per-channel events
//
// Wildcard subscriptions:
//   projectrtp.channels.>                              - All channel events
//   projectrtp.channels.*.telephone-event              - All DTMF
//   projectrtp.channels.<channel_id>.*                 - All events for one channel

const (
	// SubjectPrefix is the root of all subjects
	SubjectPrefix = "projectrtp"

	SubjectInstances = SubjectPrefix + ".instances"
	SubjectChannels  = SubjectPrefix + ".channels"

	SubjectConnected      = "connected"
	SubjectClosed         = "closed"
	SubjectOpen           = "open"
	SubjectClose          = "close"
	SubjectTelephoneEvent = "telephone-event"
	SubjectFailed         = "failed"
)

// InstanceSubject builds a subject for an engine instance event.
// Example: InstanceSubject("engine-1", "connected") => "projectrtp.instances.engine-1.connected"
func InstanceSubject(instanceID, eventSuffix string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectInstances, instanceID, eventSuffix)
}

// ChannelSubject builds a subject for a channel event.
// Example: ChannelSubject("9f0c...", "open") => "projectrtp.channels.9f0c....open"
func ChannelSubject(channelID, eventSuffix string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectChannels, channelID, eventSuffix)
}

var (
	PatternAllInstances = SubjectInstances + ".>"
	PatternAllChannels  = SubjectChannels + ".>"
	// PatternTelephoneEvents matches DTMF from every channel
	PatternTelephoneEvents = SubjectChannels + ".*." + SubjectTelephoneEvent
)

// SubjectForEventType returns the suffix used for a given event type.
func SubjectForEventType(t EventType) string {
	switch t {
	case InstanceConnected:
		return SubjectConnected
	case InstanceClosed:
		return SubjectClosed
	case ChannelOpen:
		return SubjectOpen
	case ChannelClose:
		return SubjectClose
	case ChannelTelephoneEvent:
		return SubjectTelephoneEvent
	case ChannelFailed:
		return SubjectFailed
	default:
		return "unknown"
	}
}
