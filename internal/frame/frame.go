// Package frame implements the length-prefixed byte framing used on the
// loopback connection between a client and the daemon. Each frame is a
// 4-byte big-endian length prefix followed by exactly that many payload
// bytes. The payload itself is an opaque, codec-encoded message; frame
// knows nothing about HELLO/CALL/RESULT or any other message kind.
package frame

import (
	"encoding/binary"
	"fmt"
	"io"
)

// headerLength is the fixed size of a frame header: 4 bytes, big-endian
// payload length.
const headerLength = 4

// DefaultMaxBytes is used when a caller does not set an explicit limit.
const DefaultMaxBytes = 16 << 20

// Write writes payload to w as a single frame. It returns an error if
// payload exceeds maxBytes.
func Write(w io.Writer, payload []byte, maxBytes int) error {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if len(payload) > maxBytes {
		return fmt.Errorf("frame: payload length %d exceeds maximum %d", len(payload), maxBytes)
	}
	var header [headerLength]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("frame: write header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("frame: write payload: %w", err)
		}
	}
	return nil
}

// Read reads a single frame from r and returns its payload. It returns
// io.EOF only when the stream is closed before any byte of a new frame
// has been read; an EOF in the middle of a frame is reported as
// io.ErrUnexpectedEOF by io.ReadFull and wrapped here.
func Read(r io.Reader, maxBytes int) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	var header [headerLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("frame: read header: %w", err)
		}
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if int64(length) > int64(maxBytes) {
		return nil, fmt.Errorf("frame: payload length %d exceeds maximum %d", length, maxBytes)
	}
	if length == 0 {
		return []byte{}, nil
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("frame: read payload: %w", err)
	}
	return payload, nil
}
