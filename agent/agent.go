// Package agent provides the simulation-facing handle to one remote
// decision-maker. A Handle wraps an agent channel, stamps outgoing messages
// with correlation sequence numbers and checks every reply against the kind
// and sequence the caller expects.
package agent

import (
	"fmt"
	"net"
	"sync"

	"github.com/cyberinferno/simarena/agentchannel"
	"github.com/cyberinferno/simarena/logger"
	"github.com/cyberinferno/simarena/message"
	"github.com/cyberinferno/simarena/sequence"
	"github.com/cyberinferno/simarena/simerr"
)

// Agent is the logical handle a Simulation uses to talk to one player.
type Agent interface {
	// Name returns the slot name, unique within a session.
	Name() string

	// Send delivers msg to the remote agent.
	Send(msg message.Message) error

	// Receive reads the reply to the latest Send and checks that it carries
	// the expected kind. A mismatch is a simerr.ProtocolDesync error.
	Receive(expected message.Kind) (message.Envelope, error)

	// Close releases the connection. Safe to call multiple times.
	Close() error
}

// Interrupter is implemented by agents whose blocked calls can be forced to
// return from another goroutine.
type Interrupter interface {
	Interrupt()
}

// transport is the subset of *agentchannel.AgentChannel a Handle needs.
type transport interface {
	Send(payload []byte) error
	Receive() ([]byte, error)
	Close() error
}

var _ transport = (*agentchannel.AgentChannel)(nil)

// Handle is the channel-backed Agent.
type Handle struct {
	name string
	addr net.Addr
	ch   transport
	log  logger.Logger

	seq sequence.Counter

	mu       sync.Mutex
	desynced error
}

var (
	_ Agent       = (*Handle)(nil)
	_ Interrupter = (*Handle)(nil)
)

// New wraps ch in a Handle.
//
// Parameters:
//   - ch: The agent channel owning the slot's socket
//   - log: Logger; nil means discard
//
// Returns:
//   - A new Handle
func New(ch *agentchannel.AgentChannel, log logger.Logger) *Handle {
	h := newHandle(ch.Name(), ch, log)
	h.addr = ch.Addr()
	return h
}

func newHandle(name string, ch transport, log logger.Logger) *Handle {
	if log == nil {
		log = logger.NewNop()
	}

	return &Handle{name: name, ch: ch, log: log.With(logger.F("agent", name))}
}

// Name implements Agent.
func (h *Handle) Name() string {
	return h.name
}

// Addr returns the address the slot listens on, or nil for handles not
// backed by an agent channel.
func (h *Handle) Addr() net.Addr {
	return h.addr
}

// Seq returns the sequence number of the latest Send attempt. Numbers are
// never reused, even when the write fails.
func (h *Handle) Seq() uint32 {
	return h.seq.Current()
}

// Send implements Agent.
func (h *Handle) Send(msg message.Message) error {
	if err := h.desyncError(); err != nil {
		return err
	}

	seq := h.seq.Next()
	payload, err := message.Encode(seq, msg)
	if err != nil {
		return &simerr.Error{Kind: simerr.Transport, Op: "encode message", Agent: h.name, Err: err}
	}

	if err := h.ch.Send(payload); err != nil {
		return simerr.WithAgent(err, h.name)
	}

	h.log.Debug("sent message", logger.F("kind", msg.MessageKind()), logger.F("seq", seq))
	return nil
}

// Receive implements Agent.
func (h *Handle) Receive(expected message.Kind) (message.Envelope, error) {
	if err := h.desyncError(); err != nil {
		return message.Envelope{}, err
	}

	payload, err := h.ch.Receive()
	if err != nil {
		return message.Envelope{}, simerr.WithAgent(err, h.name)
	}

	env, err := message.Decode(payload)
	if err != nil {
		return message.Envelope{}, h.desync(err)
	}

	if env.Kind != expected {
		return message.Envelope{}, h.desync(fmt.Errorf("expected %q reply, got %q", expected, env.Kind))
	}

	if want := h.seq.Current(); env.Seq != want {
		return message.Envelope{}, h.desync(fmt.Errorf("reply seq %d does not answer request seq %d", env.Seq, want))
	}

	h.log.Debug("received message", logger.F("kind", env.Kind), logger.F("seq", env.Seq))
	return env, nil
}

// desync records a protocol violation and closes the connection so no
// further frames are processed on it.
func (h *Handle) desync(cause error) error {
	err := &simerr.Error{Kind: simerr.ProtocolDesync, Op: "receive", Agent: h.name, Err: cause}

	h.mu.Lock()
	if h.desynced == nil {
		h.desynced = err
	}
	h.mu.Unlock()

	h.log.Error("protocol desync, dropping connection", logger.Err(cause))
	_ = h.ch.Close()
	return err
}

func (h *Handle) desyncError() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.desynced
}

// Interrupt closes the underlying sockets so a blocked Send or Receive
// returns with a transport error.
func (h *Handle) Interrupt() {
	_ = h.ch.Close()
}

// Close implements Agent.
func (h *Handle) Close() error {
	return h.ch.Close()
}

// ReceiveAs reads the next reply from a and decodes it into a T. The expected
// kind is taken from T, so callers never name it twice.
//
// Returns:
//   - The decoded reply
//   - A simerr.ProtocolDesync error if the kind or sequence is wrong or the body does not decode
//   - A simerr.Transport error if the read fails
func ReceiveAs[T message.Message](a Agent) (T, error) {
	var out T

	env, err := a.Receive(out.MessageKind())
	if err != nil {
		return out, err
	}

	if err := message.DecodeBody(env, &out); err != nil {
		if h, ok := a.(*Handle); ok {
			return out, h.desync(err)
		}

		return out, &simerr.Error{Kind: simerr.ProtocolDesync, Op: "decode reply", Agent: a.Name(), Err: err}
	}

	return out, nil
}
