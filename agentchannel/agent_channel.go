// Package agentchannel owns the listening socket of one agent slot. It binds
// with a linear port probe, accepts exactly one peer on a background
// goroutine, and hands that connection to the first Send or Receive call.
// After the handoff all frame I/O runs on the caller's goroutine.
package agentchannel

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cyberinferno/simarena/frame"
	"github.com/cyberinferno/simarena/logger"
	"github.com/cyberinferno/simarena/simerr"
)

// DefaultBindAttempts is the number of consecutive ports tried before giving up.
const DefaultBindAttempts = 10

// ErrClosed is returned by Send and Receive once the channel has been closed.
var ErrClosed = errors.New("agent channel closed")

// Option configures an AgentChannel.
type Option func(*AgentChannel)

// WithLogger sets the logger; the channel derives a child tagged with its name.
func WithLogger(l logger.Logger) Option {
	return func(c *AgentChannel) {
		c.log = l
	}
}

// WithBindAttempts overrides the number of ports probed.
func WithBindAttempts(n int) Option {
	return func(c *AgentChannel) {
		if n > 0 {
			c.bindAttempts = n
		}
	}
}

// WithReadTimeout bounds every Receive. Zero means block until the peer replies.
func WithReadTimeout(d time.Duration) Option {
	return func(c *AgentChannel) {
		c.readTimeout = d
	}
}

// WithWriteTimeout bounds every Send. Zero means no deadline.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *AgentChannel) {
		c.writeTimeout = d
	}
}

// AgentChannel brokers exactly one peer connection for an agent slot.
// Send and Receive are meant to be called from a single goroutine (the
// simulation's); Close may be called from any goroutine and unblocks them.
type AgentChannel struct {
	name          string
	allowExternal bool
	bindAttempts  int
	readTimeout   time.Duration
	writeTimeout  time.Duration
	log           logger.Logger

	listener net.Listener
	port     int
	handoff  chan net.Conn
	done     chan struct{}
	wg       sync.WaitGroup

	mu     sync.Mutex
	closed bool
	conn   net.Conn
	broken error

	// ioMu serializes frame writes and reads so frames never interleave.
	ioMu sync.Mutex
}

// NewAgentChannel binds a listening socket for the named slot and starts the
// acceptor goroutine. It does not wait for a peer.
//
// Parameters:
//   - name: The slot name, used in logs and errors
//   - preferredPort: The first port to try; up to BindAttempts-1 following ports are probed
//   - allowExternal: Bind all interfaces instead of loopback only
//   - opts: Optional settings
//
// Returns:
//   - The channel, or a simerr.Setup error if no port in range could be bound
func NewAgentChannel(name string, preferredPort int, allowExternal bool, opts ...Option) (*AgentChannel, error) {
	c := &AgentChannel{
		name:          name,
		allowExternal: allowExternal,
		bindAttempts:  DefaultBindAttempts,
		log:           logger.NewNop(),
		handoff:       make(chan net.Conn, 1),
		done:          make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.log = c.log.With(logger.F("agent", name))

	ln, err := c.bind(preferredPort)
	if err != nil {
		c.log.Error("agent channel bind failed", logger.Err(err))
		return nil, err
	}

	c.listener = ln
	c.port = ln.Addr().(*net.TCPAddr).Port
	c.log = c.log.With(logger.F("port", c.port))
	c.log.Info("agent channel listening", logger.F("addr", ln.Addr().String()))

	c.wg.Add(1)
	go c.acceptLoop()

	return c, nil
}

// bind probes preferredPort, preferredPort+1, ... until one binds.
func (c *AgentChannel) bind(preferredPort int) (net.Listener, error) {
	host := "127.0.0.1"
	if c.allowExternal {
		host = ""
	}

	var lastErr error
	for attempt := 0; attempt < c.bindAttempts; attempt++ {
		port := preferredPort + attempt
		if port > 65535 {
			break
		}

		ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err == nil {
			return ln, nil
		}

		lastErr = err
		c.log.Warn("port unavailable, trying next", logger.F("port", port), logger.Err(err))
	}

	return nil, &simerr.Error{
		Kind:  simerr.Setup,
		Op:    fmt.Sprintf("bind ports %d..%d", preferredPort, preferredPort+c.bindAttempts-1),
		Agent: c.name,
		Err:   lastErr,
	}
}

// acceptLoop runs until one acceptable peer is handed off or the channel is
// closed. Loopback-only channels drop peers with external source addresses.
func (c *AgentChannel) acceptLoop() {
	defer c.wg.Done()

	for {
		conn, err := c.listener.Accept()
		if err != nil {
			if c.isClosed() || errors.Is(err, net.ErrClosed) {
				return
			}

			c.log.Error("accept error", logger.Err(err))
			continue
		}

		if !c.allowExternal && !IsLoopback(conn.RemoteAddr()) {
			c.log.Warn("rejected external peer", logger.F("remote", conn.RemoteAddr().String()))
			_ = conn.Close()
			continue
		}

		// One peer per slot: stop listening so later attempts are refused.
		_ = c.listener.Close()

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}

		c.handoff <- conn
		c.mu.Unlock()

		c.log.Info("agent peer accepted", logger.F("remote", conn.RemoteAddr().String()))
		return
	}
}

// connection returns the peer connection, waiting for the acceptor if needed.
func (c *AgentChannel) connection() (net.Conn, error) {
	c.mu.Lock()
	conn, broken, closed := c.conn, c.broken, c.closed
	c.mu.Unlock()

	if broken != nil {
		return nil, broken
	}

	if closed {
		return nil, c.closedError()
	}

	if conn != nil {
		return conn, nil
	}

	select {
	case conn = <-c.handoff:
	case <-c.done:
		return nil, c.closedError()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		_ = conn.Close()
		return nil, c.closedError()
	}

	c.conn = conn
	return conn, nil
}

// Send writes payload as one frame, waiting for the peer to connect first.
//
// Returns:
//   - A simerr.Transport error if the channel is closed or the write fails
func (c *AgentChannel) Send(payload []byte) error {
	c.ioMu.Lock()
	defer c.ioMu.Unlock()

	conn, err := c.connection()
	if err != nil {
		return err
	}

	if c.writeTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return c.fail(simerr.New(simerr.Transport, "set write deadline", err))
		}
	}

	if err := frame.WriteFrame(conn, payload); err != nil {
		return c.fail(err)
	}

	return nil
}

// Receive reads exactly one frame, waiting for the peer to connect first.
//
// Returns:
//   - The frame payload
//   - A simerr.Transport error if the channel is closed, the peer disconnects or the read fails
func (c *AgentChannel) Receive() ([]byte, error) {
	c.ioMu.Lock()
	defer c.ioMu.Unlock()

	conn, err := c.connection()
	if err != nil {
		return nil, err
	}

	if c.readTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return nil, c.fail(simerr.New(simerr.Transport, "set read deadline", err))
		}
	}

	payload, err := frame.ReadFrame(conn)
	if err != nil {
		return nil, c.fail(err)
	}

	return payload, nil
}

// fail marks the slot broken; a connection is never reused after an I/O error.
func (c *AgentChannel) fail(err error) error {
	err = simerr.WithAgent(err, c.name)

	c.mu.Lock()
	closed := c.closed
	if c.broken == nil {
		c.broken = err
	}
	c.mu.Unlock()

	if closed {
		c.log.Debug("agent i/o interrupted by close", logger.Err(err))
	} else if simerr.IsExpectedClose(err) {
		c.log.Warn("agent peer disconnected", logger.Err(err))
	} else {
		c.log.Error("agent i/o failed", logger.Err(err))
	}

	return err
}

func (c *AgentChannel) closedError() error {
	return &simerr.Error{Kind: simerr.Transport, Op: "use channel", Agent: c.name, Err: ErrClosed}
}

func (c *AgentChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close closes the listener and the peer connection, unblocking a pending
// Accept and any in-flight read or write. Safe to call multiple times and
// from any goroutine.
func (c *AgentChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}

	c.closed = true
	close(c.done)

	var err error
	if lnErr := c.listener.Close(); lnErr != nil && !errors.Is(lnErr, net.ErrClosed) {
		err = lnErr
	}

	if c.conn != nil {
		_ = c.conn.Close()
	}

	select {
	case pending := <-c.handoff:
		_ = pending.Close()
	default:
	}
	c.mu.Unlock()

	c.wg.Wait()
	c.log.Info("agent channel closed")

	return err
}

// Name returns the slot name.
func (c *AgentChannel) Name() string {
	return c.name
}

// Port returns the port actually bound, which may be above the preferred one.
func (c *AgentChannel) Port() int {
	return c.port
}

// Addr returns the listening address.
func (c *AgentChannel) Addr() net.Addr {
	return c.listener.Addr()
}

// Connected reports whether a peer has been handed to the owning side.
func (c *AgentChannel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && c.broken == nil && !c.closed
}

// IsLoopback reports whether addr is a TCP address on a loopback interface.
func IsLoopback(addr net.Addr) bool {
	tcp, ok := addr.(*net.TCPAddr)
	return ok && tcp.IP.IsLoopback()
}
