package client

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"loopbackd"
	"loopbackd/codec"
	"loopbackd/internal/wire"
)

// Session is one authenticated, framed connection to a daemon, from
// the client's side. A Session is used from one logical caller at a
// time; Call serializes access with an internal mutex so the proxy
// does not need to.
type Session struct {
	conn  net.Conn
	codec codec.Codec
	cfg   loopbackd.Config
	hello wire.HelloOK

	mu     sync.Mutex
	closed bool
}

func newSession(conn net.Conn, cod codec.Codec, cfg loopbackd.Config, hello wire.HelloOK) *Session {
	return &Session{conn: conn, codec: cod, cfg: cfg, hello: hello}
}

// PID returns the daemon's process ID as reported at handshake time.
func (s *Session) PID() int { return s.hello.PID }

// Call invokes methodName on the daemon's singleton object with args
// and blocks for the reply. Per the at-most-once invocation policy, a
// transport error here never triggers an automatic retry; the caller
// decides whether to reconnect and re-issue the call.
func (s *Session) Call(ctx context.Context, methodName string, args ...any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, &loopbackd.ServerCrashedError{Name: s.cfg.Name, Err: fmt.Errorf("session already closed")}
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetDeadline(deadline)
		defer s.conn.SetDeadline(time.Time{})
	}

	call := wire.Call{MethodName: methodName, Args: args, Kwargs: map[string]any{}}
	outEnv, encErr := wire.Encode(s.codec, wire.KindCall, call)
	if encErr != nil {
		return nil, &loopbackd.SerializationError{CodecID: s.codec.ID(), Err: encErr}
	}
	if err := wire.SendEnvelope(s.conn, s.codec, s.cfg.MaxFrameBytes, outEnv); err != nil {
		s.closeLocked()
		return nil, &loopbackd.ServerCrashedError{Name: s.cfg.Name, Err: err}
	}

	env, err := wire.Receive(s.conn, s.codec, s.cfg.MaxFrameBytes)
	if err != nil {
		s.closeLocked()
		return nil, &loopbackd.ServerCrashedError{Name: s.cfg.Name, Err: err}
	}

	switch env.Kind {
	case wire.KindResult:
		var result wire.Result
		if err := wire.Decode(s.codec, env, &result); err != nil {
			return nil, &loopbackd.SerializationError{CodecID: s.codec.ID(), Err: err}
		}
		return result.Value, nil
	case wire.KindRemoteError:
		var re wire.RemoteError
		if err := wire.Decode(s.codec, env, &re); err != nil {
			return nil, &loopbackd.SerializationError{CodecID: s.codec.ID(), Err: err}
		}
		return nil, &loopbackd.RemoteError{KindTag: re.KindTag, Message: re.Message, Trace: re.TracebackText}
	default:
		return nil, &loopbackd.ServerCrashedError{Name: s.cfg.Name, Err: fmt.Errorf("unexpected response kind %s", env.Kind)}
	}
}

// Ping asks the daemon for its current status.
func (s *Session) Ping(ctx context.Context) (wire.Pong, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return wire.Pong{}, &loopbackd.ServerCrashedError{Name: s.cfg.Name, Err: fmt.Errorf("session already closed")}
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetDeadline(deadline)
		defer s.conn.SetDeadline(time.Time{})
	}
	if err := wire.Send(s.conn, s.codec, s.cfg.MaxFrameBytes, wire.KindPing, wire.Ping{}); err != nil {
		s.closeLocked()
		return wire.Pong{}, &loopbackd.ServerCrashedError{Name: s.cfg.Name, Err: err}
	}
	env, err := wire.Receive(s.conn, s.codec, s.cfg.MaxFrameBytes)
	if err != nil {
		s.closeLocked()
		return wire.Pong{}, &loopbackd.ServerCrashedError{Name: s.cfg.Name, Err: err}
	}
	var pong wire.Pong
	if err := wire.Decode(s.codec, env, &pong); err != nil {
		return wire.Pong{}, &loopbackd.SerializationError{CodecID: s.codec.ID(), Err: err}
	}
	return pong, nil
}

// Shutdown sends a SHUTDOWN request and waits for the daemon's
// acknowledgement before the connection closes.
func (s *Session) Shutdown(ctx context.Context, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if err := wire.Send(s.conn, s.codec, s.cfg.MaxFrameBytes, wire.KindShutdown, wire.Shutdown{Force: force}); err != nil {
		s.closeLocked()
		return &loopbackd.ServerCrashedError{Name: s.cfg.Name, Err: err}
	}
	_, _ = wire.Receive(s.conn, s.codec, s.cfg.MaxFrameBytes)
	s.closeLocked()
	return nil
}

// Close sends a polite CLOSE and releases the connection. Safe to call
// more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	_ = wire.Send(s.conn, s.codec, s.cfg.MaxFrameBytes, wire.KindClose, wire.Close{})
	s.closeLocked()
	return nil
}

func (s *Session) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	s.conn.Close()
}
