package transport

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// halfDuplex joins separate read and write ends into one ReadWriter.
type halfDuplex struct {
	io.Reader
	io.Writer
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	codec := NewFrameCodec(&halfDuplex{&buf, &buf})

	payloads := [][]byte{
		[]byte("a"),
		[]byte("hello, frame"),
		bytes.Repeat([]byte{0xAB}, 70000), // needs all three length bytes
	}

	for _, p := range payloads {
		require.NoError(t, codec.WriteFrame(p))
	}
	for _, p := range payloads {
		got, err := codec.ReadFrame()
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
}

func TestFrameHeaderEncoding(t *testing.T) {
	var buf bytes.Buffer
	codec := NewFrameCodec(&halfDuplex{&buf, &buf})

	require.NoError(t, codec.WriteFrame(bytes.Repeat([]byte{0x1}, 0x010203)))
	header := buf.Bytes()[:3]
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, header)
}

func TestReadFrameRejectsOversizedDeclaration(t *testing.T) {
	var buf bytes.Buffer
	// Declared length 0xFFFFFF, far beyond the 64-byte cap.
	buf.Write([]byte{0xFF, 0xFF, 0xFF})

	codec := NewFrameCodec(&halfDuplex{&buf, &buf})
	codec.MaxPayload = 64

	_, err := codec.ReadFrame()
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestWriteFrameRejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	codec := NewFrameCodec(&halfDuplex{&buf, &buf})
	codec.MaxPayload = 8

	err := codec.WriteFrame(bytes.Repeat([]byte{0x1}, 9))
	require.Error(t, err)
	assert.Zero(t, buf.Len(), "nothing should reach the wire")
}

func TestReadFramePartialDelivery(t *testing.T) {
	var wire bytes.Buffer
	writeCodec := NewFrameCodec(&halfDuplex{nil, &wire})
	require.NoError(t, writeCodec.WriteFrame([]byte("partial delivery payload")))

	// Deliver the wire bytes one at a time.
	readCodec := NewFrameCodec(&halfDuplex{iotest(wire.Bytes()), nil})
	got, err := readCodec.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte("partial delivery payload"), got)
}

func TestReadFrameTruncatedStream(t *testing.T) {
	var wire bytes.Buffer
	writeCodec := NewFrameCodec(&halfDuplex{nil, &wire})
	require.NoError(t, writeCodec.WriteFrame([]byte("will be cut short")))

	truncated := wire.Bytes()[:wire.Len()-4]
	readCodec := NewFrameCodec(&halfDuplex{bytes.NewReader(truncated), nil})

	_, err := readCodec.ReadFrame()
	assert.ErrorIs(t, err, ErrShortFrame)
}

// iotest returns a reader that yields one byte per Read call.
func iotest(data []byte) io.Reader {
	return &oneByteReader{data: data}
}

type oneByteReader struct {
	data []byte
}

func (r *oneByteReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	p[0] = r.data[0]
	r.data = r.data[1:]
	return 1, nil
}
