// Package agentclient is the agent-side counterpart of the server's agent
// channels. A remote decision-maker dials its slot, reads one state at a
// time and replies to the states that expect an action. Connection state
// changes are reported through a registered handler.
package agentclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cyberinferno/simarena/frame"
	"github.com/cyberinferno/simarena/logger"
	"github.com/cyberinferno/simarena/message"
	"github.com/cyberinferno/simarena/simerr"
)

// ConnectionState represents the current state of the connection to the server.
type ConnectionState int

const (
	Disconnected ConnectionState = iota // Not connected and not attempting to connect
	Connecting                          // Dial in progress (including retries)
	Connected                           // Connected to the agent slot
	Closed                              // Client has been closed and will not reconnect
)

// String returns a human-readable name for the connection state.
func (cs ConnectionState) String() string {
	switch cs {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// ConnectionStateEvent is emitted when the connection state changes.
type ConnectionStateEvent struct {
	State     ConnectionState // The new connection state
	Address   string          // The server slot address
	Timestamp time.Time       // When the state change occurred
	Error     error           // Non-nil if the change was caused by an error
}

// ConnectionStateHandler is called on state changes from its own goroutine.
type ConnectionStateHandler func(event ConnectionStateEvent)

// Handler decides the reply to one state. Returning a nil message sends
// nothing, which is how terminal states (no action expected) are consumed.
type Handler func(ctx context.Context, env message.Envelope) (message.Message, error)

// Config holds connection settings.
type Config struct {
	// Address is the "host:port" of the agent slot.
	Address string
	// ConnectionTimeout bounds a single dial attempt.
	ConnectionTimeout time.Duration
	// RetryInterval is the pause between dial attempts while the slot is not listening yet.
	RetryInterval time.Duration
	// MaxConnectAttempts limits dial attempts; 0 retries until the context ends.
	MaxConnectAttempts int
	// ReadTimeout bounds the wait for the next state; 0 means no deadline.
	ReadTimeout time.Duration
	// WriteTimeout bounds each reply; 0 means no deadline.
	WriteTimeout time.Duration
}

// DefaultConfig returns a Config for address with a 5s dial timeout, 200ms
// retry interval, unlimited attempts and no I/O deadlines.
func DefaultConfig(address string) Config {
	return Config{
		Address:           address,
		ConnectionTimeout: 5 * time.Second,
		RetryInterval:     200 * time.Millisecond,
	}
}

// Client is one agent's connection to its server slot. Next, Reply and Serve
// must be used from a single goroutine; Close may be called from any.
type Client struct {
	config Config
	log    logger.Logger

	mu                sync.RWMutex
	conn              net.Conn
	state             ConnectionState
	closed            bool
	onConnectionState ConnectionStateHandler
}

// New creates a disconnected client.
func New(config Config, log logger.Logger) *Client {
	if log == nil {
		log = logger.NewNop()
	}

	return &Client{
		config: config,
		log:    log.With(logger.F("server", config.Address)),
		state:  Disconnected,
	}
}

// OnConnectionState registers the state change handler, replacing any previous one.
func (c *Client) OnConnectionState(handler ConnectionStateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnectionState = handler
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Connect dials the slot, retrying while the server is not listening yet.
//
// Returns:
//   - nil once connected; ctx.Err() if the context ends; the last dial error
//     if MaxConnectAttempts is exhausted
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("client is closed")
	}
	if c.state == Connected || c.state == Connecting {
		c.mu.Unlock()
		return fmt.Errorf("already connected or connecting")
	}
	c.mu.Unlock()

	c.setState(Connecting, nil)

	dialer := net.Dialer{Timeout: c.config.ConnectionTimeout}
	var lastErr error
	for attempt := 1; c.config.MaxConnectAttempts == 0 || attempt <= c.config.MaxConnectAttempts; attempt++ {
		conn, err := dialer.DialContext(ctx, "tcp", c.config.Address)
		if err == nil {
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				_ = conn.Close()
				return fmt.Errorf("client is closed")
			}
			c.conn = conn
			c.mu.Unlock()

			c.setState(Connected, nil)
			c.log.Info("connected to agent slot", logger.F("attempt", attempt))
			return nil
		}

		lastErr = err
		c.log.Debug("dial failed, retrying", logger.F("attempt", attempt), logger.Err(err))

		select {
		case <-ctx.Done():
			c.setState(Disconnected, ctx.Err())
			return ctx.Err()
		case <-time.After(c.config.RetryInterval):
		}
	}

	c.setState(Disconnected, lastErr)
	return fmt.Errorf("connect to %s: %w", c.config.Address, lastErr)
}

func (c *Client) connection() (net.Conn, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.conn == nil {
		return nil, simerr.New(simerr.Transport, "use client", errors.New("not connected"))
	}

	return c.conn, nil
}

// Next reads the next state from the server.
func (c *Client) Next() (message.Envelope, error) {
	conn, err := c.connection()
	if err != nil {
		return message.Envelope{}, err
	}

	if c.config.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	}

	payload, err := frame.ReadFrame(conn)
	if err != nil {
		return message.Envelope{}, err
	}

	return message.Decode(payload)
}

// Reply answers req with msg, echoing req's sequence number.
func (c *Client) Reply(req message.Envelope, msg message.Message) error {
	conn, err := c.connection()
	if err != nil {
		return err
	}

	payload, err := message.Encode(req.Seq, msg)
	if err != nil {
		return err
	}

	if c.config.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	}

	return frame.WriteFrame(conn, payload)
}

// Serve reads states and answers them with h until the server closes the
// connection, ctx ends or h fails.
//
// Returns:
//   - nil when the server closed the connection or ctx ended
//   - the handler's or transport's error otherwise
func (c *Client) Serve(ctx context.Context, h Handler) error {
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	for {
		env, err := c.Next()
		if err != nil {
			if ctx.Err() != nil || simerr.IsExpectedClose(err) {
				c.setState(Disconnected, nil)
				return nil
			}

			c.setState(Disconnected, err)
			return err
		}

		reply, err := h(ctx, env)
		if err != nil {
			return fmt.Errorf("handle %s seq %d: %w", env.Kind, env.Seq, err)
		}

		if reply == nil {
			continue
		}

		if err := c.Reply(env, reply); err != nil {
			if ctx.Err() != nil || simerr.IsExpectedClose(err) {
				c.setState(Disconnected, nil)
				return nil
			}

			c.setState(Disconnected, err)
			return err
		}
	}
}

// Close closes the connection. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}

	c.closed = true
	var err error
	if c.conn != nil {
		err = c.conn.Close()
	}
	c.mu.Unlock()

	c.setState(Closed, nil)
	return err
}

func (c *Client) setState(state ConnectionState, err error) {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return
	}
	c.state = state
	handler := c.onConnectionState
	c.mu.Unlock()

	if handler != nil {
		go handler(ConnectionStateEvent{
			State:     state,
			Address:   c.config.Address,
			Timestamp: time.Now(),
			Error:     err,
		})
	}
}
