// Package codec defines the wire-serialization boundary between a client
// and the daemon (C3). A Codec turns Go values into bytes and back; it
// has no knowledge of message kinds, frames, or transport. The daemon
// advertises its chosen codec ID in its metadata so a client can select
// a matching implementation before it ever opens a connection.
//
// Decoding is inherently untrusted input: a codec must never panic on
// malformed bytes, and must bound the work it is willing to do decoding
// them.
package codec

import "fmt"

// Codec encodes and decodes values exchanged between a client and the
// daemon. Implementations must be safe for concurrent use.
type Codec interface {
	// ID identifies this codec on the wire (e.g. "cbor", "json").
	ID() string
	// Marshal encodes v.
	Marshal(v any) ([]byte, error)
	// Unmarshal decodes data into v. Implementations must treat data as
	// untrusted and return an error rather than panic on malformed input.
	Unmarshal(data []byte, v any) error
}

var registry = map[string]Codec{}

// Register makes a Codec available for lookup by ID. Intended to be
// called from package init functions.
func Register(c Codec) {
	if c == nil {
		panic("codec: Register called with nil Codec")
	}
	registry[c.ID()] = c
}

// Lookup returns the registered Codec for id.
func Lookup(id string) (Codec, error) {
	c, ok := registry[id]
	if !ok {
		return nil, fmt.Errorf("codec: unknown codec id %q", id)
	}
	return c, nil
}

func init() {
	Register(CBOR{})
	Register(JSON{})
}
