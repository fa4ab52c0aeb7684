// Package message defines the payload carried inside each frame: a tagged
// envelope whose body is a game-specific record. Envelopes and bodies are
// encoded with CBOR Core Deterministic Encoding, so the same logical message
// always produces identical bytes.
//
// The envelope tag (Kind) replaces runtime type lookups: a receiver declares
// the kind it expects, compares tags, and only then decodes the body into a
// concrete Go type.
package message

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Kind tags the body of an envelope.
type Kind string

// Kinds shared by the bundled simulations. Games may define their own.
const (
	KindState  Kind = "state"
	KindAction Kind = "action"
)

// Message is a typed body that knows its own kind. Implementations should
// use value receivers so the zero value can report its kind.
type Message interface {
	MessageKind() Kind
}

// Envelope is the record carried by one frame. Seq correlates a reply with
// the request it answers.
type Envelope struct {
	Kind Kind            `cbor:"kind"`
	Seq  uint32          `cbor:"seq"`
	Body cbor.RawMessage `cbor:"body,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("message: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("message: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v with the package's deterministic CBOR mode.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Encode wraps msg in an envelope stamped with seq and returns the frame payload.
//
// Parameters:
//   - seq: The correlation sequence number
//   - msg: The typed body
//
// Returns:
//   - The encoded envelope
//   - An error if msg cannot be encoded
func Encode(seq uint32, msg Message) ([]byte, error) {
	body, err := encMode.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s body: %w", msg.MessageKind(), err)
	}

	data, err := encMode.Marshal(Envelope{Kind: msg.MessageKind(), Seq: seq, Body: body})
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", msg.MessageKind(), err)
	}

	return data, nil
}

// Decode parses a frame payload into an envelope without touching the body.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}

	if env.Kind == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing kind")
	}

	return env, nil
}

// DecodeBody decodes the envelope body into v.
func DecodeBody(env Envelope, v any) error {
	if len(env.Body) == 0 {
		return fmt.Errorf("decode %s body: empty body", env.Kind)
	}

	if err := decMode.Unmarshal(env.Body, v); err != nil {
		return fmt.Errorf("decode %s body: %w", env.Kind, err)
	}

	return nil
}

// As decodes the envelope body into a T after checking that the envelope
// carries T's kind.
func As[T Message](env Envelope) (T, error) {
	var out T
	if want := out.MessageKind(); env.Kind != want {
		return out, fmt.Errorf("expected %q, got %q", want, env.Kind)
	}

	err := DecodeBody(env, &out)
	return out, err
}
