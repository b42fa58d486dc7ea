package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"loopbackd"
	"loopbackd/internal/correlation"
	"loopbackd/internal/executor"
	"loopbackd/internal/uuidv7"
	"loopbackd/internal/wire"
)

// Session is the daemon's half of one authenticated connection (C4's
// server-side request loop). Exactly one Session exists per accepted
// TCP connection, from handshake through close/EOF/error.
type Session struct {
	daemon *Daemon
	conn   net.Conn
	id     string

	handshaken atomic.Bool
	inFlight   atomic.Bool
	closeOnce  sync.Once
}

func newSession(d *Daemon, conn net.Conn) *Session {
	return &Session{daemon: d, conn: conn, id: uuidv7.NewString()}
}

func (s *Session) closeNow() {
	s.closeOnce.Do(func() { s.conn.Close() })
}

// waitIdle blocks until no CALL is in flight on this session, then
// closes it. Used by graceful shutdown once accepting has stopped.
func (s *Session) waitIdle() {
	for s.inFlight.Load() {
		time.Sleep(5 * time.Millisecond)
	}
	s.closeNow()
}

func (s *Session) remoteAddr() string {
	if s.conn == nil {
		return ""
	}
	return s.conn.RemoteAddr().String()
}

func (s *Session) run(ctx context.Context) {
	defer s.closeNow()

	if s.daemon.guard != nil && s.daemon.guard.IsBlocked(s.remoteAddr()) {
		s.closeNow()
		return
	}

	if !s.handshake() {
		return
	}
	s.handshaken.Store(true)
	s.daemon.lifecycle.connectionOpened()
	defer s.daemon.lifecycle.connectionClosed()

	s.daemon.logger.Debug("session opened", "session_id", s.id, "remote", s.remoteAddr())
	defer s.daemon.logger.Debug("session closed", "session_id", s.id, "remote", s.remoteAddr())

	s.requestLoop(ctx)
}

func (s *Session) handshake() bool {
	maxBytes := s.daemon.cfg.MaxFrameBytes
	env, err := wire.Receive(s.conn, s.daemon.codec, maxBytes)
	if err != nil {
		return false
	}
	if env.Kind != wire.KindHello {
		s.sendHelloErr(wire.ReasonProtocolMismatch)
		return false
	}
	var hello wire.Hello
	if err := wire.Decode(s.daemon.codec, env, &hello); err != nil {
		s.sendHelloErr(wire.ReasonProtocolMismatch)
		return false
	}
	if hello.ProtocolVersion != loopbackd.ProtocolVersion {
		s.recordFailure("protocol_mismatch")
		s.sendHelloErr(wire.ReasonProtocolMismatch)
		return false
	}
	if !wire.TokensEqual(hello.Token, s.daemon.token) {
		s.recordFailure("auth_rejected")
		s.sendHelloErr(wire.ReasonAuthRejected)
		return false
	}

	ok := wire.HelloOK{
		PID:        int(processID()),
		StartedAt:  s.daemon.startedAt,
		ServerInfo: s.daemon.serverInfo,
	}
	if err := wire.Send(s.conn, s.daemon.codec, maxBytes, wire.KindHelloOK, ok); err != nil {
		return false
	}
	return true
}

func (s *Session) recordFailure(reason string) {
	if s.daemon.guard != nil {
		s.daemon.guard.RecordFailure(s.remoteAddr(), reason)
	}
}

func (s *Session) sendHelloErr(reason wire.HelloErrReason) {
	_ = wire.Send(s.conn, s.daemon.codec, s.daemon.cfg.MaxFrameBytes, wire.KindHelloErr, wire.HelloErr{Reason: reason})
}

func (s *Session) requestLoop(ctx context.Context) {
	maxBytes := s.daemon.cfg.MaxFrameBytes
	for {
		env, err := wire.Receive(s.conn, s.daemon.codec, maxBytes)
		if err != nil {
			return
		}
		switch env.Kind {
		case wire.KindCall:
			if !s.handleCall(ctx, env) {
				return
			}
		case wire.KindPing:
			if !s.handlePing() {
				return
			}
		case wire.KindClose:
			return
		case wire.KindShutdown:
			s.handleShutdown(env)
			return
		default:
			return
		}
	}
}

func (s *Session) handleCall(ctx context.Context, env wire.Envelope) bool {
	var call wire.Call
	if err := wire.Decode(s.daemon.codec, env, &call); err != nil {
		return s.sendRemoteError(&loopbackd.SerializationError{CodecID: s.daemon.codec.ID(), Err: err})
	}

	ctx = correlation.Set(correlation.Ensure(ctx), correlation.Generate())
	s.daemon.logger.Debug("call received", "method", call.MethodName, "correlation_id", correlation.ID(ctx), "session_id", s.id, "remote", s.remoteAddr())

	s.inFlight.Store(true)
	value, err := s.daemon.exec.Submit(ctx, call.MethodName, call.Args)
	s.inFlight.Store(false)

	if s.daemon.metrics != nil {
		s.daemon.metrics.QueueDepth.Set(float64(s.daemon.QueueDepth()))
	}

	if err != nil {
		s.recordCallOutcome("error")
		return s.sendRemoteError(classifyExecError(err, s.daemon.cfg.Name))
	}
	outEnv, encErr := wire.Encode(s.daemon.codec, wire.KindResult, wire.Result{Value: value})
	if encErr != nil {
		s.recordCallOutcome("error")
		return s.sendRemoteError(&loopbackd.SerializationError{CodecID: s.daemon.codec.ID(), Err: encErr})
	}
	s.recordCallOutcome("ok")
	if sendErr := wire.SendEnvelope(s.conn, s.daemon.codec, s.daemon.cfg.MaxFrameBytes, outEnv); sendErr != nil {
		return false
	}
	return true
}

func (s *Session) recordCallOutcome(outcome string) {
	if s.daemon.metrics == nil {
		return
	}
	s.daemon.metrics.CallsTotal.WithLabelValues(outcome).Inc()
}

func classifyExecError(err error, name string) error {
	if errors.Is(err, executor.ErrShuttingDown) {
		return &loopbackd.ServerShuttingDownError{Name: name}
	}
	return err
}

func (s *Session) sendRemoteError(err error) bool {
	re := &wire.RemoteError{
		KindTag:       fmt.Sprintf("%T", err),
		Message:       err.Error(),
		TracebackText: "",
	}
	sendErr := wire.Send(s.conn, s.daemon.codec, s.daemon.cfg.MaxFrameBytes, wire.KindRemoteError, re)
	return sendErr == nil
}

func (s *Session) handlePing() bool {
	pong := wire.Pong{
		PID:             int(processID()),
		UptimeSeconds:   int64(s.daemon.Uptime().Seconds()),
		ActiveClients:   s.daemon.ActiveConnections(),
		CodecID:         s.daemon.codec.ID(),
		ProtocolVersion: loopbackd.ProtocolVersion,
	}
	return wire.Send(s.conn, s.daemon.codec, s.daemon.cfg.MaxFrameBytes, wire.KindPong, pong) == nil
}

func (s *Session) handleShutdown(env wire.Envelope) {
	var shutdown wire.Shutdown
	_ = wire.Decode(s.daemon.codec, env, &shutdown)
	_ = wire.Send(s.conn, s.daemon.codec, s.daemon.cfg.MaxFrameBytes, wire.KindShutdown, wire.Shutdown{Force: shutdown.Force})
	s.daemon.lifecycle.requestShutdown(shutdown.Force)
}
