package codec

import "encoding/json"

// JSON is an alternate wire codec, useful when a client-side process
// cannot easily link a CBOR library (scripting, debugging with a plain
// TCP tool) but can still speak the loopback protocol. No third-party
// JSON codec appears anywhere in the example corpus, so this
// implementation uses the standard library's encoding/json directly.
type JSON struct{}

// ID returns "json".
func (JSON) ID() string { return "json" }

// Marshal encodes v as JSON.
func (JSON) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal decodes data into v.
func (JSON) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
