package wire

import (
	"fmt"
	"io"

	"loopbackd/codec"
	"loopbackd/internal/frame"
)

// Send encodes payload, wraps it in an Envelope tagged kind, and writes
// the whole envelope as a single frame to w.
func Send(w io.Writer, c codec.Codec, maxBytes int, kind Kind, payload any) error {
	env, err := Encode(c, kind, payload)
	if err != nil {
		return err
	}
	envBytes, err := c.Marshal(env)
	if err != nil {
		return fmt.Errorf("wire: encode envelope: %w", err)
	}
	return frame.Write(w, envBytes, maxBytes)
}

// SendEnvelope frames an already-built Envelope, skipping the payload
// encode step in Send. Used when a caller needs to distinguish a
// payload-encoding failure (raised before anything touches the wire)
// from a transport failure while writing the frame.
func SendEnvelope(w io.Writer, c codec.Codec, maxBytes int, env Envelope) error {
	envBytes, err := c.Marshal(env)
	if err != nil {
		return fmt.Errorf("wire: encode envelope: %w", err)
	}
	return frame.Write(w, envBytes, maxBytes)
}

// Receive reads one frame from r and decodes it into an Envelope. The
// caller is responsible for decoding env.Payload into a kind-specific
// type once it has inspected env.Kind.
func Receive(r io.Reader, c codec.Codec, maxBytes int) (Envelope, error) {
	raw, err := frame.Read(r, maxBytes)
	if err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := c.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("wire: decode envelope: %w", err)
	}
	return env, nil
}
