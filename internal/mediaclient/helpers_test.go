package mediaclient

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sebas/rtpcontrol/internal/events"
	"github.com/sebas/rtpcontrol/internal/frame"
	"github.com/sebas/rtpcontrol/internal/message"
)

// fakeSender records outbound commands instead of writing them
type fakeSender struct {
	mu   sync.Mutex
	addr string
	sent []message.Outbound
	err  error
}

func (f *fakeSender) Send(msg message.Outbound) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) RemoteAddr() string {
	return f.addr
}

func (f *fakeSender) failWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeSender) messages() []message.Outbound {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]message.Outbound(nil), f.sent...)
}

func (f *fakeSender) last(t *testing.T) message.Outbound {
	t.Helper()
	msgs := f.messages()
	require.NotEmpty(t, msgs, "nothing was sent")
	return msgs[len(msgs)-1]
}

func status(available, active int) *message.Status {
	return &message.Status{Channels: message.ChannelCounts{Available: available, Active: active}}
}

func newTestControl(t *testing.T, timeout time.Duration) (*Control, *events.ChannelPublisher) {
	t.Helper()
	pub := events.NewChannelPublisher(256)
	c := New(Config{RequestTimeout: timeout, Reserve: DefaultReserve, NodeID: "test"}, WithPublisher(pub))
	t.Cleanup(func() { c.Close() })
	return c, pub
}

func addInstance(c *Control, id string, available, active int) (*Instance, *fakeSender) {
	s := &fakeSender{addr: "10.0.0.1:" + id}
	return c.registry.Register(id, s, status(available, active)), s
}

// openedFor builds the engine's confirmation for an open command
func openedFor(msg message.Outbound, uuid string) *message.Opened {
	return &message.Opened{Header: message.Header{
		ID:      msg.ID,
		Channel: &message.ChannelInfo{UUID: uuid, IP: "10.0.0.2", Port: 10000},
	}}
}

// openTestChannel opens a channel on the control's only instance and confirms it
func openTestChannel(t *testing.T, c *Control, s *fakeSender, uuid string) *Channel {
	t.Helper()
	ch, res, err := c.OpenChannel(nil, nil)
	require.NoError(t, err)

	ch.handleOpened(openedFor(s.last(t), uuid))
	require.NoError(t, res.Wait(context.Background()))
	require.Equal(t, StateOpen, ch.State())
	return ch
}

// drainEvents collects published events of the given types until none arrive for a moment
func drainEvents(pub *events.ChannelPublisher, types ...events.EventType) []events.Event {
	var out []events.Event
	for {
		select {
		case ev := <-pub.Events():
			for _, t := range types {
				if ev.Type() == t {
					out = append(out, ev)
				}
			}
		case <-time.After(50 * time.Millisecond):
			return out
		}
	}
}

// fakeEngine speaks the engine side of the control protocol over a real TCP connection
type fakeEngine struct {
	t        *testing.T
	conn     net.Conn
	received chan message.Outbound
	done     chan struct{}
}

func dialEngine(t *testing.T, addr, instanceID string, available, active int) *fakeEngine {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)

	e := &fakeEngine{
		t:        t,
		conn:     conn,
		received: make(chan message.Outbound, 64),
		done:     make(chan struct{}),
	}
	go e.readLoop()
	t.Cleanup(func() { e.conn.Close() })

	e.send(&message.Connected{Instance: instanceID, Header: message.Header{Status: status(available, active)}})
	return e
}

func (e *fakeEngine) readLoop() {
	defer close(e.done)
	dec := frame.NewDecoder()
	buf := make([]byte, 4096)
	for {
		n, err := e.conn.Read(buf)
		if n > 0 {
			bodies, _ := dec.Feed(buf[:n])
			for _, body := range bodies {
				var msg message.Outbound
				if json.Unmarshal(body, &msg) == nil {
					e.received <- msg
				}
			}
		}
		if err != nil {
			return
		}
	}
}

func frameBytes(body []byte) ([]byte, error) {
	return frame.EncodeRaw(body)
}

func (e *fakeEngine) send(in message.Inbound) {
	e.t.Helper()
	body, err := message.Encode(in)
	require.NoError(e.t, err)
	b, err := frameBytes(body)
	require.NoError(e.t, err)
	e.write(b)
}

func (e *fakeEngine) write(b []byte) {
	e.t.Helper()
	_, err := e.conn.Write(b)
	require.NoError(e.t, err)
}

func (e *fakeEngine) expect(command message.Command) message.Outbound {
	e.t.Helper()
	select {
	case msg := <-e.received:
		require.Equal(e.t, command, msg.Channel, "unexpected command %+v", msg)
		return msg
	case <-time.After(2 * time.Second):
		e.t.Fatalf("engine did not receive %s", command)
		return message.Outbound{}
	}
}

func startControl(t *testing.T, c *Control) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		if err := <-errCh; err != nil && !errors.Is(err, ErrControlClosed) {
			t.Errorf("Serve: %v", err)
		}
	})
	return ln.Addr().String()
}

func waitInstances(t *testing.T, c *Control, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return c.Registry().Len() == n }, 2*time.Second, 5*time.Millisecond)
}
