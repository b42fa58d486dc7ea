package loopbackd

import "fmt"

// Error is the root kind every error this package returns satisfies, so
// callers that only care about "something in loopbackd went wrong" can
// catch-all on it instead of enumerating every concrete type.
type Error interface {
	error
	loopbackdError()
}

// ConnectionFailedError reports a transport-level failure to reach a
// daemon: no listener at the recorded address, connection refused, or the
// attempt timed out.
type ConnectionFailedError struct {
	Name    string
	Address string
	Err     error
}

func (e *ConnectionFailedError) Error() string {
	if e.Address == "" {
		return fmt.Sprintf("loopbackd: connect to %q failed: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("loopbackd: connect to %q at %s failed: %v", e.Name, e.Address, e.Err)
}

func (e *ConnectionFailedError) Unwrap() error { return e.Err }
func (*ConnectionFailedError) loopbackdError() {}

// HandshakeErrorKind distinguishes the reasons a HELLO can be rejected.
type HandshakeErrorKind string

const (
	// ProtocolMismatch means the client and daemon disagree on wire
	// protocol version.
	ProtocolMismatch HandshakeErrorKind = "protocol_mismatch"
	// AuthRejected means the bearer token did not match the daemon's.
	AuthRejected HandshakeErrorKind = "auth_rejected"
)

// HandshakeError reports a reachable endpoint that refused the HELLO.
type HandshakeError struct {
	Name   string
	Kind   HandshakeErrorKind
	Reason string
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("loopbackd: handshake with %q rejected (%s): %s", e.Name, e.Kind, e.Reason)
}

func (*HandshakeError) loopbackdError() {}

// RemoteError carries a method invocation failure raised inside the
// daemon's executor. KindTag is a best-effort identifier for the error's
// Go type or category; Message and Trace are opaque diagnostic text.
type RemoteError struct {
	KindTag string
	Message string
	Trace   string
}

func (e *RemoteError) Error() string {
	if e.KindTag == "" {
		return "loopbackd: remote error: " + e.Message
	}
	return fmt.Sprintf("loopbackd: remote error (%s): %s", e.KindTag, e.Message)
}

func (*RemoteError) loopbackdError() {}

// SerializationError reports that a payload could not be encoded or
// decoded by the negotiated codec, on either side of the connection.
type SerializationError struct {
	CodecID string
	Err     error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("loopbackd: serialization error (codec %q): %v", e.CodecID, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }
func (*SerializationError) loopbackdError() {}

// ServerShuttingDownError reports that a request was aborted by the daemon
// before it ever reached the executor, because shutdown was already under
// way.
type ServerShuttingDownError struct {
	Name string
}

func (e *ServerShuttingDownError) Error() string {
	return fmt.Sprintf("loopbackd: %q is shutting down", e.Name)
}

func (*ServerShuttingDownError) loopbackdError() {}

// ServerCrashedError reports that the session was lost while a reply was
// still pending; the method invocation may or may not have completed on
// the daemon side. Per the at-most-once invocation policy, loopbackd never
// retries automatically.
type ServerCrashedError struct {
	Name string
	Err  error
}

func (e *ServerCrashedError) Error() string {
	return fmt.Sprintf("loopbackd: session to %q lost with a reply pending: %v", e.Name, e.Err)
}

func (e *ServerCrashedError) Unwrap() error { return e.Err }
func (*ServerCrashedError) loopbackdError() {}
