package transport

import (
	"fmt"
	"io"

	"github.com/opd-ai/wasock/limits"
)

// FrameCodec reads and writes length-prefixed frames on a byte stream.
// The zero MaxPayload means limits.MaxFrameSize.
type FrameCodec struct {
	rw         io.ReadWriter
	MaxPayload int
	header     [limits.FrameHeaderSize]byte
}

// NewFrameCodec creates a codec over a duplex byte stream.
func NewFrameCodec(rw io.ReadWriter) *FrameCodec {
	return &FrameCodec{rw: rw, MaxPayload: limits.MaxFrameSize}
}

// WriteFrame writes the 3-byte big-endian length prefix followed by payload.
func (c *FrameCodec) WriteFrame(payload []byte) error {
	if err := limits.ValidateMessageSize(payload, c.MaxPayload); err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	// Header and payload go out in one write so stream adapters that map
	// writes to messages emit exactly one message per frame.
	n := len(payload)
	frame := make([]byte, limits.FrameHeaderSize+n)
	frame[0] = byte(n >> 16)
	frame[1] = byte(n >> 8)
	frame[2] = byte(n)
	copy(frame[limits.FrameHeaderSize:], payload)

	if _, err := c.rw.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame reads exactly one frame payload, buffering partial reads until
// the declared length is consumed. A declared length above MaxPayload
// returns ErrFrameTooLarge without consuming the payload; the stream is
// unusable afterwards and must be closed.
func (c *FrameCodec) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(c.rw, c.header[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, ErrShortFrame
		}
		return nil, err
	}

	n := int(c.header[0])<<16 | int(c.header[1])<<8 | int(c.header[2])
	if n > c.MaxPayload {
		return nil, fmt.Errorf("%w: declared %d, max %d", ErrFrameTooLarge, n, c.MaxPayload)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(c.rw, payload); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, ErrShortFrame
		}
		return nil, err
	}
	return payload, nil
}
