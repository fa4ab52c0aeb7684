// Package simerr defines the failure taxonomy shared by the transport, the
// agent handles, the simulations and the runner. Every error that crosses a
// package boundary is a *Error carrying a Kind, so callers classify failures
// with KindOf, IsFatal and IsProcessFatal instead of matching strings.
package simerr

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// Kind classifies a failure by how far its damage reaches.
type Kind int

const (
	Transport      Kind = iota + 1 // socket bind/accept/read/write failure; fatal to the agent slot
	ProtocolDesync                 // reply does not match the request; fatal to the process
	IllegalAction                  // structurally nonsensical action; fatal to the run
	InvalidAction                  // action not legal in the current state; scoped to one episode
	Setup                          // resources could not be acquired before the run
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case Transport:
		return "transport"
	case ProtocolDesync:
		return "protocol desync"
	case IllegalAction:
		return "illegal action"
	case InvalidAction:
		return "invalid action"
	case Setup:
		return "setup"
	default:
		return "unknown"
	}
}

// Error is a classified failure. Op names the operation that failed (e.g.
// "read frame", "bind"), Agent the slot it concerns when there is one.
type Error struct {
	Kind  Kind
	Op    string
	Agent string
	Err   error
}

// Error implements error.
func (e *Error) Error() string {
	msg := e.Kind.String() + " error"
	if e.Agent != "" {
		msg += " [" + e.Agent + "]"
	}

	if e.Op != "" {
		msg += ": " + e.Op
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Timeout reports whether the failure was caused by an expired I/O deadline.
func (e *Error) Timeout() bool {
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// New builds a classified error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds a classified error with a formatted cause.
func Newf(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// WithAgent returns a copy of err tagged with the agent name. Errors that are
// not *Error are returned unchanged.
func WithAgent(err error, agent string) error {
	var e *Error
	if !errors.As(err, &e) {
		return err
	}

	tagged := *e
	tagged.Agent = agent
	return &tagged
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}

	return 0, false
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// IsFatal reports whether err must end the run. InvalidAction is handled
// inside a step and unclassified errors are only logged.
func IsFatal(err error) bool {
	k, ok := KindOf(err)
	if !ok {
		return false
	}

	return k != InvalidAction
}

// IsProcessFatal reports whether err must terminate the whole process rather
// than just the run.
func IsProcessFatal(err error) bool {
	return Is(err, ProtocolDesync)
}

// IsExpectedClose reports whether err is a normal connection termination:
// EOF, closed connection, broken pipe or connection reset.
func IsExpectedClose(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}

	return false
}
