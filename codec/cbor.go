package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// cborEncMode is configured with Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. The same logical value always produces
// identical bytes, which keeps CALL/RESULT frames reproducible in tests
// and logs.
var cborEncMode cbor.EncMode

// cborDecMode decodes any-typed targets (the args/result slots of a CALL
// or RESULT message) into map[string]any rather than CBOR's default
// map[interface{}]interface{}, so decoded values are directly usable
// with the rest of Go's ecosystem (encoding/json, reflection in
// internal/dispatch).
var cborDecMode cbor.DecMode

func init() {
	var err error

	cborEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	cborDecMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// CBOR is the default wire codec. It is the codec a daemon selects
// unless a caller explicitly configures a different CodecID.
type CBOR struct{}

// ID returns "cbor".
func (CBOR) ID() string { return "cbor" }

// Marshal encodes v using Core Deterministic Encoding.
func (CBOR) Marshal(v any) ([]byte, error) {
	return cborEncMode.Marshal(v)
}

// Unmarshal decodes data into v.
func (CBOR) Unmarshal(data []byte, v any) error {
	return cborDecMode.Unmarshal(data, v)
}
