// Package frame implements the wire framing used between the server and its
// agents: a 4-byte little-endian length prefix followed by that many payload
// bytes. The codec is stateless and never hands a partial frame to the caller.
package frame

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cyberinferno/simarena/simerr"
)

const (
	// HeaderSize is the size of the length prefix in bytes.
	HeaderSize = 4

	// MaxFrameSize is the largest payload accepted by ReadFrame and WriteFrame.
	MaxFrameSize = 16 * 1024 * 1024
)

// WriteFrame writes payload as a single frame. Header and payload go out in
// one Write call so a concurrent reader on the other end never observes a
// header without its body.
//
// Parameters:
//   - w: The stream to write to
//   - payload: The bytes to frame; may be empty
//
// Returns:
//   - A simerr.Transport error if the payload is too large or the write fails or is short
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return simerr.Newf(simerr.Transport, "write frame", "payload of %d bytes exceeds limit of %d", len(payload), MaxFrameSize)
	}

	buf := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[HeaderSize:], payload)

	n, err := w.Write(buf)
	if err != nil {
		return simerr.New(simerr.Transport, "write frame", err)
	}

	if n != len(buf) {
		return simerr.New(simerr.Transport, "write frame", io.ErrShortWrite)
	}

	return nil
}

// ReadFrame reads exactly one frame and returns its payload.
//
// Parameters:
//   - r: The stream to read from
//
// Returns:
//   - The payload bytes (non-nil, possibly empty)
//   - A simerr.Transport error on EOF, a closed stream or a malformed length prefix
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, simerr.New(simerr.Transport, "read frame header", err)
	}

	length := binary.LittleEndian.Uint32(header[:])
	if length > MaxFrameSize {
		return nil, simerr.New(simerr.Transport, "read frame header", fmt.Errorf("declared length %d exceeds limit of %d", length, MaxFrameSize))
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}

		return nil, simerr.New(simerr.Transport, "read frame payload", err)
	}

	return payload, nil
}
