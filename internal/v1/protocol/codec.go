package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize is the allocation ceiling for a single frame body.
// Frames declaring a larger length are rejected as a protocol error.
const MaxFrameSize = 16 << 20

var (
	// ErrFrameTooLarge indicates a frame header declaring a body larger
	// than MaxFrameSize.
	ErrFrameTooLarge = errors.New("protocol: frame exceeds maximum size")

	// ErrTruncatedFrame indicates the stream ended mid-frame.
	ErrTruncatedFrame = errors.New("protocol: truncated frame")

	// ErrInvalidMessage indicates a frame whose JSON body violates the
	// message schema (unknown kind, priority out of range).
	ErrInvalidMessage = errors.New("protocol: invalid message")
)

// Encode serializes m into a single wire frame:
// a 4-byte big-endian length followed by the JSON body.
func Encode(m *Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	if len(body) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(body)))
	copy(frame[4:], body)
	return frame, nil
}

// WriteMessage encodes m and writes the frame to w in a single Write call,
// so callers serializing access to w never interleave frames.
func WriteMessage(w io.Writer, m *Message) error {
	frame, err := Encode(m)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadMessage reads exactly one frame from r and decodes its body.
//
// A clean end-of-stream at a frame boundary is reported as io.EOF. A stream
// that ends mid-header or mid-body is reported as ErrTruncatedFrame.
func ReadMessage(r io.Reader) (*Message, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTruncatedFrame
		}
		return nil, fmt.Errorf("read frame header: %w", err)
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTruncatedFrame
		}
		return nil, fmt.Errorf("read frame body: %w", err)
	}

	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if !m.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidMessage, m.Type)
	}
	if !m.Priority.Valid() {
		return nil, fmt.Errorf("%w: priority %d out of range", ErrInvalidMessage, m.Priority)
	}
	if m.Data == nil {
		m.Data = map[string]any{}
	}
	return &m, nil
}
