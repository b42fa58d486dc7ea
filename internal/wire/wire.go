// Package wire defines the session-protocol message envelope (C4): a
// closed set of message kinds exchanged between a client and the daemon
// over framed connections, and the encode/decode glue that binds them to
// a codec.Codec. The package knows nothing about sockets; Send,
// SendEnvelope and Receive carry envelopes as internal/frame frames over
// any io.Writer or io.Reader.
package wire

import (
	"fmt"
	"time"

	"loopbackd/codec"
)

// Kind discriminates the message envelope. The protocol is a closed
// tagged union: every Kind has exactly one corresponding payload type.
type Kind string

const (
	KindHello       Kind = "HELLO"
	KindHelloOK     Kind = "HELLO_OK"
	KindHelloErr    Kind = "HELLO_ERR"
	KindCall        Kind = "CALL"
	KindResult      Kind = "RESULT"
	KindRemoteError Kind = "REMOTE_ERROR"
	KindPing        Kind = "PING"
	KindPong        Kind = "PONG"
	KindClose       Kind = "CLOSE"
	KindShutdown    Kind = "SHUTDOWN"
)

// Envelope is the outer shape of every message on the wire: a kind tag
// and an opaque, codec-encoded payload carrying the kind-specific
// fields. Envelope itself is always encoded with the session's
// negotiated codec, the same as the payload.
type Envelope struct {
	Kind    Kind   `json:"kind" cbor:"kind"`
	Payload []byte `json:"payload" cbor:"payload"`
}

// Hello is the first frame a client sends. token is compared
// constant-time by the daemon; it is never logged.
type Hello struct {
	ProtocolVersion int    `json:"protocol_version" cbor:"protocol_version"`
	Token           []byte `json:"token" cbor:"token"`
	CodecID         string `json:"codec_id" cbor:"codec_id"`
}

// HelloOK is the daemon's successful handshake response.
type HelloOK struct {
	PID        int       `json:"pid" cbor:"pid"`
	StartedAt  time.Time `json:"started_at" cbor:"started_at"`
	ServerInfo string    `json:"server_info" cbor:"server_info"`
}

// HelloErrReason enumerates why a handshake was rejected.
type HelloErrReason string

const (
	ReasonProtocolMismatch HelloErrReason = "protocol_mismatch"
	ReasonAuthRejected     HelloErrReason = "auth_rejected"
)

// HelloErr is the daemon's rejection of a handshake.
type HelloErr struct {
	Reason HelloErrReason `json:"reason" cbor:"reason"`
}

// Call carries a method invocation request, client → daemon.
type Call struct {
	MethodName string         `json:"method_name" cbor:"method_name"`
	Args       []any          `json:"args" cbor:"args"`
	Kwargs     map[string]any `json:"kwargs" cbor:"kwargs"`
}

// Result carries a successful method return value, daemon → client.
type Result struct {
	Value any `json:"value" cbor:"value"`
}

// RemoteError carries a failure raised by the invoked method itself.
type RemoteError struct {
	KindTag       string `json:"kind_tag" cbor:"kind_tag"`
	Message       string `json:"message" cbor:"message"`
	TracebackText string `json:"traceback_text" cbor:"traceback_text"`
}

// Ping requests a liveness/status reply. It carries no fields.
type Ping struct{}

// Pong answers Ping with daemon status.
type Pong struct {
	PID             int    `json:"pid" cbor:"pid"`
	UptimeSeconds   int64  `json:"uptime_seconds" cbor:"uptime_seconds"`
	ActiveClients   int    `json:"active_clients" cbor:"active_clients"`
	CodecID         string `json:"codec_id" cbor:"codec_id"`
	ProtocolVersion int    `json:"protocol_version" cbor:"protocol_version"`
}

// Close is a polite hangup notification.
type Close struct{}

// Shutdown requests daemon termination. If Force is set the daemon
// skips waiting out the grace window for in-flight handlers.
type Shutdown struct {
	Force bool `json:"force" cbor:"force"`
}

// Encode builds an Envelope for payload, marshaled with c.
func Encode(c codec.Codec, kind Kind, payload any) (Envelope, error) {
	data, err := c.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("wire: encode %s payload: %w", kind, err)
	}
	return Envelope{Kind: kind, Payload: data}, nil
}

// Decode unmarshals env.Payload into out using c. The caller must know
// the expected Go type for env.Kind (typically by switching on it) and
// pass a matching pointer.
func Decode(c codec.Codec, env Envelope, out any) error {
	if err := c.Unmarshal(env.Payload, out); err != nil {
		return fmt.Errorf("wire: decode %s payload: %w", env.Kind, err)
	}
	return nil
}
