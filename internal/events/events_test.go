package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestInstanceSubjectNaming(t *testing.T) {
	b := NewBuilder("test-node")

	ev := b.Instance(InstanceConnected, "engine-1", "127.0.0.1:51000", Capacity{Available: 10}, Capacity{Available: 10})
	if got, want := ev.Subject(), "projectrtp.instances.engine-1.connected"; got != want {
		t.Errorf("Subject() = %q, want %q", got, want)
	}

	ev = b.Instance(InstanceClosed, "engine-1", "", Capacity{}, Capacity{})
	if got, want := ev.Subject(), "projectrtp.instances.engine-1.closed"; got != want {
		t.Errorf("Subject() = %q, want %q", got, want)
	}
}

func TestChannelSubjectNaming(t *testing.T) {
	b := NewBuilder("test-node")

	tests := []struct {
		eventType EventType
		want      string
	}{
		{ChannelOpen, "projectrtp.channels.abc.open"},
		{ChannelClose, "projectrtp.channels.abc.close"},
		{ChannelTelephoneEvent, "projectrtp.channels.abc.telephone-event"},
		{ChannelFailed, "projectrtp.channels.abc.failed"},
		{EventType("channel.bogus"), "projectrtp.channels.abc.unknown"},
	}

	for _, tt := range tests {
		ev := b.Channel(tt.eventType, "abc").Build()
		if got := ev.Subject(); got != tt.want {
			t.Errorf("%s: Subject() = %q, want %q", tt.eventType, got, tt.want)
		}
	}
}

func TestChannelEventJSON(t *testing.T) {
	ev := NewBuilder("test-node").
		Channel(ChannelTelephoneEvent, "abc").
		UUID("u1").
		Instance("engine-1").
		Local("10.0.0.2", 10002).
		Payload(json.RawMessage(`"5"`)).
		Build()

	data, err := MarshalEvent(ev)
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}

	checks := map[string]interface{}{
		"event_type":  "channel.telephone-event",
		"channel_id":  "abc",
		"uuid":        "u1",
		"instance_id": "engine-1",
		"local_ip":    "10.0.0.2",
		"local_port":  float64(10002),
		"payload":     "5",
		"node_id":     "test-node",
	}
	for k, want := range checks {
		if got := m[k]; got != want {
			t.Errorf("m[%q] = %v, want %v", k, got, want)
		}
	}
	if _, ok := m["reason"]; ok {
		t.Error("empty reason should be omitted")
	}
	if id, _ := m["event_id"].(string); id == "" {
		t.Error("event_id should be set")
	}
}

func TestEventIDsUnique(t *testing.T) {
	b := NewBuilder("n")
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		ev := b.Channel(ChannelOpen, "abc").Build()
		if seen[ev.EventID] {
			t.Fatalf("duplicate event id %s", ev.EventID)
		}
		seen[ev.EventID] = true
	}
}

func TestChannelPublisher(t *testing.T) {
	pub := NewChannelPublisher(2)
	b := NewBuilder("n")

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := pub.Publish(ctx, b.Channel(ChannelOpen, "abc").Build()); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	pub.PublishAsync(b.Channel(ChannelClose, "abc").Build())

	if got := pub.DroppedCount(); got != 2 {
		t.Errorf("DroppedCount() = %d, want 2", got)
	}

	select {
	case ev := <-pub.Events():
		if ev.Type() != ChannelOpen {
			t.Errorf("Type() = %s, want %s", ev.Type(), ChannelOpen)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a buffered event")
	}

	if err := pub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// publishing after close is a no-op
	if err := pub.Publish(ctx, b.Channel(ChannelOpen, "abc").Build()); err != nil {
		t.Errorf("Publish after close: %v", err)
	}
	pub.PublishAsync(b.Channel(ChannelOpen, "abc").Build())
}

type failingPublisher struct {
	NoopPublisher
	err error
}

func (p *failingPublisher) Publish(ctx context.Context, event Event) error { return p.err }

func TestMultiPublisher(t *testing.T) {
	a := NewChannelPublisher(10)
	c := NewChannelPublisher(10)
	boom := errors.New("boom")

	multi := NewMultiPublisher(a, &failingPublisher{err: boom}, c, NewLoggingPublisher(nil), NewNoopPublisher())
	ev := NewBuilder("n").Instance(InstanceConnected, "engine-1", "", Capacity{}, Capacity{})

	err := multi.Publish(context.Background(), ev)
	if !errors.Is(err, boom) {
		t.Errorf("Publish error = %v, want %v", err, boom)
	}
	if len(a.Events()) != 1 || len(c.Events()) != 1 {
		t.Errorf("every publisher should receive the event: a=%d c=%d", len(a.Events()), len(c.Events()))
	}

	multi.PublishAsync(ev)
	if len(a.Events()) != 2 || len(c.Events()) != 2 {
		t.Errorf("async fan-out failed: a=%d c=%d", len(a.Events()), len(c.Events()))
	}

	if err := multi.Flush(context.Background()); err != nil {
		t.Errorf("Flush: %v", err)
	}
	if err := multi.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
