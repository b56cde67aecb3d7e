// Package server manages individual line clients, handling the outbound
// queue, the write pump, and lifecycle control for each connection.
package server

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/linechat/internal/transport"
)

// Client represents one accepted connection, logged in or not. It owns the
// transport, a buffered outbound queue drained by its write pump, and the
// connection's rate limiter.
type Client struct {
	id           string
	conn         transport.LineConn
	addr         string
	send         chan string
	mu           sync.Mutex
	closed       bool
	done         chan struct{}
	writeTimeout time.Duration
	rateLimiter  *rateLimiter
	logger       *slog.Logger
}

// NewClient creates a Client for conn using the queue size, write timeout,
// and rate limit from cfg. The write pump is not started.
func NewClient(conn transport.LineConn, cfg Config, logger *slog.Logger) *Client {
	cfg = sanitizeConfig(cfg)
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	addr := conn.RemoteAddr()

	return &Client{
		id:           id,
		conn:         conn,
		addr:         addr,
		send:         make(chan string, cfg.SendQueueSize),
		done:         make(chan struct{}),
		writeTimeout: cfg.WriteTimeout,
		rateLimiter:  newRateLimiter(cfg.RateLimit, nil),
		logger:       logger.With("conn", id, "addr", addr),
	}
}

// ID returns the connection's unique identifier.
func (c *Client) ID() string { return c.id }

// Addr returns the peer address.
func (c *Client) Addr() string { return c.addr }

// Done is closed once the write pump has exited and the transport is closed.
func (c *Client) Done() <-chan struct{} { return c.done }

// Send queues line for delivery without blocking. A client whose queue is
// full is treated as too slow to keep: it is closed and ErrSendQueueFull is
// returned.
func (c *Client) Send(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}

	select {
	case c.send <- line:
		return nil
	default:
		c.logger.Warn("closing client due to full send buffer", "queued", len(c.send))
		c.closeLocked()
		return ErrSendQueueFull
	}
}

// Close stops accepting lines. Lines already queued are still written,
// each bounded by the write timeout, before the transport is closed.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Kill closes the transport immediately, discarding queued lines.
func (c *Client) Kill() {
	c.Close()
	c.closeConnection()
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// readLine blocks for the next inbound line.
func (c *Client) readLine() (string, error) {
	return c.conn.ReadLine()
}

func (c *Client) writePump() {
	defer func() {
		c.closeConnection()
		close(c.done)
	}()

	for line := range c.send {
		if !c.writeLine(line) {
			c.Close()
			return
		}
	}
}

// writeLine writes one queued line and returns false if the pump should stop.
func (c *Client) writeLine(line string) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("error setting write deadline", "err", err)
		}
		return false
	}
	if err := c.conn.WriteLine(line); err != nil {
		if transport.IsDisconnect(err) || isExpectedCloseError(err) {
			c.logger.Debug("write to closed connection", "err", err)
		} else {
			c.logger.Warn("error writing line", "err", err)
		}
		return false
	}
	return true
}

// closeConnection safely closes the transport with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil {
		if !isExpectedCloseError(err) && !transport.IsDisconnect(err) {
			c.logger.Debug("error closing connection", "err", err)
		}
	}
}
