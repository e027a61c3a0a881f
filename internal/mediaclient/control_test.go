package mediaclient

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebas/rtpcontrol/internal/events"
	"github.com/sebas/rtpcontrol/internal/message"
	"github.com/sebas/rtpcontrol/internal/sdp"
)

func opened(id, uuid string, available, active int) *message.Opened {
	return &message.Opened{Header: message.Header{
		ID:      id,
		Status:  status(available, active),
		Channel: &message.ChannelInfo{UUID: uuid, IP: "127.0.0.1", Port: 10008},
	}}
}

func TestControlChannelLifecycle(t *testing.T) {
	c, pub := newTestControl(t, time.Second)
	addr := startControl(t, c)

	engine := dialEngine(t, addr, "engine-1", 100, 0)
	waitInstances(t, c, 1)
	assert.Equal(t, Capacity{Available: 100}, c.Registry().Totals())

	offer, err := sdp.Parse(offerPCMA)
	require.NoError(t, err)

	ch, res, err := c.OpenChannel(offer, nil)
	require.NoError(t, err)

	open := engine.expect(message.CommandOpen)
	assert.Equal(t, ch.ID(), open.ID)
	require.NotNil(t, open.Target)
	assert.Equal(t, 20000, open.Target.Port)

	engine.send(opened(open.ID, "u1", 99, 1))
	require.NoError(t, res.Wait(context.Background()))
	assert.Equal(t, "u1", ch.UUID())
	assert.Equal(t, Endpoint{IP: "127.0.0.1", Port: 10008}, ch.Local())
	assert.Equal(t, Capacity{Available: 99, Active: 1}, c.Registry().Totals(), "status piggybacked on open updates the registry")

	dtmf := make(chan json.RawMessage, 1)
	ch.OnTelephoneEvent(func(_ *Channel, ev json.RawMessage) { dtmf <- ev })

	// matched by uuid when the engine sends no id
	engine.send(&message.TelephoneEvent{
		Header: message.Header{Channel: &message.ChannelInfo{UUID: "u1"}},
		Event:  json.RawMessage(`"#"`),
	})
	select {
	case ev := <-dtmf:
		assert.JSONEq(t, `"#"`, string(ev))
	case <-time.After(2 * time.Second):
		t.Fatal("telephone event not delivered")
	}

	require.NoError(t, ch.Echo())
	engine.expect(message.CommandEcho)

	closeRes, err := ch.Destroy()
	require.NoError(t, err)
	closeMsg := engine.expect(message.CommandClose)
	assert.Equal(t, message.UUIDs{"u1"}, closeMsg.UUID)

	engine.send(&message.Closed{Header: message.Header{ID: ch.ID(), Status: status(100, 0)}})
	require.NoError(t, closeRes.Wait(context.Background()))
	assert.Equal(t, StateClosed, ch.State())
	assert.Equal(t, Capacity{Available: 100}, c.Registry().Totals())

	evs := drainEvents(pub, events.InstanceConnected, events.ChannelOpen, events.ChannelTelephoneEvent, events.ChannelClose)
	types := make([]events.EventType, len(evs))
	for i, ev := range evs {
		types[i] = ev.Type()
	}
	assert.Equal(t, []events.EventType{
		events.InstanceConnected,
		events.ChannelOpen,
		events.ChannelTelephoneEvent,
		events.ChannelClose,
	}, types)
}

func TestControlMessagesSplitAcrossWrites(t *testing.T) {
	c, _ := newTestControl(t, time.Second)
	addr := startControl(t, c)
	engine := dialEngine(t, addr, "engine-1", 100, 0)
	waitInstances(t, c, 1)

	ch, res, err := c.OpenChannel(nil, nil)
	require.NoError(t, err)
	open := engine.expect(message.CommandOpen)

	body, err := message.Encode(opened(open.ID, "u1", 99, 1))
	require.NoError(t, err)
	b, err := frameBytes(body)
	require.NoError(t, err)

	// header split across writes, then the body a byte at a time
	engine.write(b[:2])
	engine.write(b[2:5])
	for i := 5; i < len(b); i++ {
		engine.write(b[i : i+1])
	}

	require.NoError(t, res.Wait(context.Background()))
	assert.Equal(t, StateOpen, ch.State())
}

func TestControlDisconnectFailsChannels(t *testing.T) {
	c, pub := newTestControl(t, time.Second)
	addr := startControl(t, c)
	engine := dialEngine(t, addr, "engine-1", 100, 0)
	waitInstances(t, c, 1)

	ch, res, err := c.OpenChannel(nil, nil)
	require.NoError(t, err)
	open := engine.expect(message.CommandOpen)
	engine.send(opened(open.ID, "u1", 99, 1))
	require.NoError(t, res.Wait(context.Background()))

	pending, pendingRes, err := c.OpenChannel(nil, ch)
	require.NoError(t, err)
	engine.expect(message.CommandOpen)

	closed := make(chan error, 1)
	ch.OnClose(func(_ *Channel, err error) { closed <- err })

	engine.conn.Close()

	select {
	case err := <-closed:
		assert.ErrorIs(t, err, ErrInstanceDisconnected)
	case <-time.After(2 * time.Second):
		t.Fatal("open channel was not failed on disconnect")
	}
	assert.ErrorIs(t, pendingRes.Wait(context.Background()), ErrInstanceDisconnected)
	assert.Equal(t, StateFailed, ch.State())
	assert.Equal(t, StateFailed, pending.State())

	waitInstances(t, c, 0)
	assert.Equal(t, Capacity{}, c.Registry().Totals())
	assert.Equal(t, 0, c.ChannelCount())

	_, err = c.NewChannel(nil, ch)
	assert.ErrorIs(t, err, ErrInstanceDisconnected)

	evs := drainEvents(pub, events.InstanceClosed, events.ChannelFailed)
	assert.Len(t, evs, 3)
}

func TestControlReapsLateOpen(t *testing.T) {
	c, _ := newTestControl(t, 30*time.Millisecond)
	addr := startControl(t, c)
	engine := dialEngine(t, addr, "engine-1", 100, 0)
	waitInstances(t, c, 1)

	_, res, err := c.OpenChannel(nil, nil)
	require.NoError(t, err)
	open := engine.expect(message.CommandOpen)

	require.ErrorIs(t, res.Wait(context.Background()), ErrOperationTimeout)

	engine.send(opened(open.ID, "late", 99, 1))
	reap := engine.expect(message.CommandClose)
	assert.Equal(t, message.UUIDs{"late"}, reap.UUID)
}

func TestControlFramingErrorKeepsConnection(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	c := New(Config{RequestTimeout: time.Second}, WithMetrics(metrics))
	t.Cleanup(func() { c.Close() })

	addr := startControl(t, c)
	engine := dialEngine(t, addr, "engine-1", 100, 0)
	waitInstances(t, c, 1)

	engine.write([]byte{0x00, 0x00, 0x00, 0x00, 0x01, '{'})
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.FramingErrorsTotal) == 1
	}, 2*time.Second, 5*time.Millisecond)

	ch, res, err := c.OpenChannel(nil, nil)
	require.NoError(t, err)
	open := engine.expect(message.CommandOpen)
	engine.send(opened(open.ID, "u1", 99, 1))
	require.NoError(t, res.Wait(context.Background()))
	assert.Equal(t, StateOpen, ch.State())

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Instances))
	assert.Equal(t, float64(99), testutil.ToFloat64(metrics.ChannelsAvailable))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ChannelTransitionsTotal.WithLabelValues("opening", "open")))
}

func TestControlUndecodableMessageIgnored(t *testing.T) {
	c, _ := newTestControl(t, time.Second)
	addr := startControl(t, c)
	engine := dialEngine(t, addr, "engine-1", 100, 0)
	waitInstances(t, c, 1)

	b, err := frameBytes([]byte(`not json`))
	require.NoError(t, err)
	engine.write(b)
	engine.send(&message.Unknown{Name: "stats", Raw: json.RawMessage(`{"action":"stats"}`)})

	_, res, err := c.OpenChannel(nil, nil)
	require.NoError(t, err)
	open := engine.expect(message.CommandOpen)
	engine.send(opened(open.ID, "u1", 99, 1))
	require.NoError(t, res.Wait(context.Background()))
}

func TestControlSpreadsLoad(t *testing.T) {
	c, _ := newTestControl(t, time.Second)
	addr := startControl(t, c)

	busy := dialEngine(t, addr, "busy", 100, 5)
	waitInstances(t, c, 1)
	idle := dialEngine(t, addr, "idle", 100, 1)
	waitInstances(t, c, 2)

	first, _, err := c.OpenChannel(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "idle", first.Instance().ID())
	idle.expect(message.CommandOpen)

	// the related channel follows its partner even though idle is less loaded
	c.Registry().UpdateStatus(first.Instance(), *status(100, 10))
	second, _, err := c.OpenChannel(nil, first)
	require.NoError(t, err)
	assert.Equal(t, "idle", second.Instance().ID())
	idle.expect(message.CommandOpen)

	third, _, err := c.OpenChannel(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "busy", third.Instance().ID())
	busy.expect(message.CommandOpen)
}

func TestControlConnectDialsEngine(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	c, _ := newTestControl(t, time.Second)

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	require.NoError(t, c.Connect(context.Background(), ln.Addr().String()))

	var conn net.Conn
	select {
	case conn = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("control did not dial")
	}
	defer conn.Close()

	body, err := message.Encode(&message.Connected{Instance: "remote", Header: message.Header{Status: status(10, 0)}})
	require.NoError(t, err)
	b, err := frameBytes(body)
	require.NoError(t, err)
	_, err = conn.Write(b)
	require.NoError(t, err)

	waitInstances(t, c, 1)
	inst, ok := c.Registry().Get("remote")
	require.True(t, ok)
	assert.Equal(t, Capacity{Available: 10}, c.Registry().Counts(inst))
}

func TestControlClose(t *testing.T) {
	c, _ := newTestControl(t, time.Second)
	addr := startControl(t, c)
	engine := dialEngine(t, addr, "engine-1", 100, 0)
	waitInstances(t, c, 1)

	_, res, err := c.OpenChannel(nil, nil)
	require.NoError(t, err)
	engine.expect(message.CommandOpen)

	require.NoError(t, c.Close())
	assert.ErrorIs(t, res.Wait(context.Background()), ErrInstanceDisconnected)
	assert.Equal(t, 0, c.Registry().Len())

	_, err = c.NewChannel(nil, nil)
	assert.ErrorIs(t, err, ErrControlClosed)
	assert.NoError(t, c.Close(), "close is idempotent")
}
