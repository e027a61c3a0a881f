package mediaclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// ListenAndServe listens on addr and serves engine connections until ctx ends or Close
func (c *Control) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return c.Serve(ctx, ln)
}

// Serve accepts engine connections on ln until ctx ends or Close. It returns nil on a clean
// shutdown.
func (c *Control) Serve(ctx context.Context, ln net.Listener) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		ln.Close()
		return ErrControlClosed
	}
	c.listeners[ln] = struct{}{}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.listeners, ln)
		c.mu.Unlock()
	}()

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	slog.Info("[Control] Listening for media engines", "address", ln.Addr().String())

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		c.startConn(nc)
	}
}

// Connect dials an engine that listens for control connections. It returns once the TCP
// connection is up; the engine registers when its handshake arrives.
func (c *Control) Connect(ctx context.Context, addr string) error {
	_, err := c.connect(ctx, addr)
	return err
}

func (c *Control) connect(ctx context.Context, addr string) (*engineConn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	ec := c.startConn(nc)
	if ec == nil {
		return nil, ErrControlClosed
	}
	return ec, nil
}

// KeepConnected dials addr and redials retry after every failure or disconnect, until ctx
// ends or Control closes.
func (c *Control) KeepConnected(ctx context.Context, addr string, retry time.Duration) {
	for {
		ec, err := c.connect(ctx, addr)
		if errors.Is(err, ErrControlClosed) {
			return
		}
		if err != nil {
			slog.Warn("[Control] Engine connect failed", "address", addr, "error", err, "retry", retry)
		} else {
			select {
			case <-ec.done:
				slog.Info("[Control] Engine connection lost", "address", addr)
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-time.After(retry):
		case <-ctx.Done():
			return
		}
	}
}

// startConn tracks nc and starts its read goroutine. It returns nil if Control is closed.
func (c *Control) startConn(nc net.Conn) *engineConn {
	ec := newEngineConn(nc, c.metrics)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		nc.Close()
		return nil
	}
	c.conns[ec] = struct{}{}
	c.wg.Add(1)
	c.mu.Unlock()

	go c.serveConn(ec)
	return ec
}

func (c *Control) serveConn(ec *engineConn) {
	defer c.wg.Done()
	defer close(ec.done)

	slog.Info("[Control] Media engine connected", "address", ec.RemoteAddr())

	err := ec.readLoop(func(body []byte) {
		c.handleBody(ec, body)
	})
	if err != nil {
		slog.Warn("[Control] Media engine connection error", "address", ec.RemoteAddr(), "error", err)
	}
	ec.Close()

	c.mu.Lock()
	delete(c.conns, ec)
	c.mu.Unlock()

	// the registry entry may already belong to a newer connection with the same id, but the
	// channels bound to this one are gone either way
	if inst := ec.Instance(); inst != nil {
		c.registry.Remove(inst)
		c.failChannels(inst)
	}

	slog.Info("[Control] Media engine disconnected", "address", ec.RemoteAddr())
}
