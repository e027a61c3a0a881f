package mediaclient

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/sebas/rtpcontrol/internal/frame"
	"github.com/sebas/rtpcontrol/internal/message"
)

const (
	readBufferSize = 64 * 1024
	writeTimeout   = 5 * time.Second
)

// engineConn is one TCP connection to an engine. It implements Sender.
type engineConn struct {
	nc      net.Conn
	metrics *Metrics

	writeMu sync.Mutex

	// decoder is only touched by the read loop
	decoder *frame.Decoder

	mu       sync.Mutex
	instance *Instance

	closeOnce sync.Once
	done      chan struct{} // closed when the read goroutine has finished
}

func newEngineConn(nc net.Conn, metrics *Metrics) *engineConn {
	return &engineConn{
		nc:      nc,
		metrics: metrics,
		decoder: frame.NewDecoder(),
		done:    make(chan struct{}),
	}
}

// Send frames msg and writes header and body in a single write
func (c *engineConn) Send(msg message.Outbound) error {
	b, err := frame.Encode(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", msg.Channel, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.nc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if _, err := c.nc.Write(b); err != nil {
		return fmt.Errorf("failed to write to %s: %w", c.RemoteAddr(), err)
	}
	return nil
}

// RemoteAddr returns the engine's address
func (c *engineConn) RemoteAddr() string {
	return c.nc.RemoteAddr().String()
}

// Close closes the socket; the read loop then exits
func (c *engineConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.nc.Close()
	})
	return err
}

func (c *engineConn) Instance() *Instance {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.instance
}

func (c *engineConn) setInstance(inst *Instance) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.instance = inst
}

// readLoop feeds socket reads through the decoder and hands every body to handle, in order.
// Framing faults are logged and absorbed. It returns nil when the peer or Close ends the
// connection.
func (c *engineConn) readLoop(handle func(body []byte)) error {
	buf := make([]byte, readBufferSize)
	for {
		n, err := c.nc.Read(buf)
		if n > 0 {
			bodies, ferr := c.decoder.Feed(buf[:n])
			for _, body := range bodies {
				handle(body)
			}
			if ferr != nil {
				c.metrics.framingError()
				slog.Warn("[Conn] Framing error, discarding buffered data",
					"address", c.RemoteAddr(),
					"error", ferr,
				)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read from %s: %w", c.RemoteAddr(), err)
		}
	}
}
