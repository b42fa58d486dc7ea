package loopbackd

import "time"

// Metadata is the runtime metadata record published by a live daemon. Every
// field is present and internally consistent once published; a client that
// cannot parse a metadata file treats it as absent rather than fatal (see
// internal/runtimedir).
type Metadata struct {
	ProtocolVersion int       `json:"protocol_version"`
	PID             int       `json:"pid"`
	Host            string    `json:"host"`
	Port            int       `json:"port"`
	ServiceName     string    `json:"service_name"`
	CodecID         string    `json:"codec_id"`
	StartedAt       time.Time `json:"started_at"`
}

// Loopback is the literal host value every published Metadata carries;
// cross-host operation is explicitly out of scope.
const Loopback = "127.0.0.1"
