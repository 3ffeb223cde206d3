package transport

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/dnamessenger/core/limits"
)

// WriteFrame writes payload as a 4-byte big-endian length prefix
// followed by payload itself.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > limits.MaxFrameBytes {
		return fmt.Errorf("transport: frame of %d bytes exceeds %d byte limit", len(payload), limits.MaxFrameBytes)
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("transport: write frame length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("transport: write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads a 4-byte big-endian length prefix and then exactly that
// many bytes, rejecting a declared length over limits.MaxFrameBytes
// before allocating the buffer.
func ReadFrame(r io.Reader) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(prefix[:])
	if int(length) > limits.MaxFrameBytes {
		return nil, fmt.Errorf("transport: declared frame length %d exceeds %d byte limit", length, limits.MaxFrameBytes)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("transport: read frame payload: %w", err)
	}
	return payload, nil
}
