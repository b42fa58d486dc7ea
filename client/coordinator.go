// Package client implements the connect-or-spawn coordinator (C5): the
// client-side algorithm that converges on a connected, authenticated
// session or fails deterministically, spawning a daemon process on
// demand when none is running.
package client

import (
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"os"
	"os/exec"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"pkt.systems/pslog"

	"loopbackd"
	"loopbackd/codec"
	"loopbackd/internal/runtimedir"
	"loopbackd/internal/svcfields"
	"loopbackd/internal/wire"
)

// Spawner starts a detached daemon process for cfg with the given auth
// token path. It must not block waiting for the daemon to become
// ready; Coordinator.Connect handles polling separately. Tests inject a
// fake Spawner to avoid spawning real subprocesses.
type Spawner func(cfg loopbackd.Config, dir *runtimedir.Dir, tokenPath string) error

// Coordinator runs the connect-or-spawn algorithm against a single
// logical name.
type Coordinator struct {
	cfg    loopbackd.Config
	dir    *runtimedir.Dir
	spawn  Spawner
	logger pslog.Logger
}

// New constructs a Coordinator for cfg. spawn may be nil to use
// DefaultSpawner, which re-execs the current binary with daemon-mode
// flags (see cmd/loopbackd).
func New(cfg loopbackd.Config, spawn Spawner, logger pslog.Logger) (*Coordinator, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dir, err := runtimedir.Open(cfg.BaseDir, cfg.Name)
	if err != nil {
		return nil, err
	}
	if spawn == nil {
		spawn = DefaultSpawner
	}
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &Coordinator{cfg: cfg, dir: dir, spawn: spawn, logger: svcfields.WithSubsystem(logger, "client.coordinator")}, nil
}

// Connect runs the full seven-step algorithm from the design: try an
// existing daemon, and if none answers, take the lock, re-check, spawn,
// and poll until ready.
func (c *Coordinator) Connect(ctx context.Context) (*Session, error) {
	if md, ok := c.dir.ReadMetadata(); ok {
		if sess, err := c.tryConnect(ctx, md); err == nil {
			return sess, nil
		}
	}

	lock, err := c.dir.Acquire(c.cfg.StartTimeout)
	if err != nil {
		return nil, fmt.Errorf("client: acquire runtime lock: %w", err)
	}

	// The lock is held only for the spawn decision: re-checking for a
	// concurrent winner, clearing stale metadata, pre-writing the auth
	// token, and launching the daemon process. It must be released
	// before polling. The spawned daemon acquires this same lock itself
	// in daemon.Start before it can write the token and publish
	// metadata, so holding it through pollUntilReady would make the
	// coordinator and the daemon wait on each other until StartTimeout
	// every time.
	sess, spawned, err := func() (*Session, bool, error) {
		defer lock.Release()

		if md, ok := c.dir.ReadMetadata(); ok {
			if sess, err := c.tryConnect(ctx, md); err == nil {
				return sess, false, nil
			}
			c.logger.Info("stale metadata detected, clearing", "pid", md.PID, "port", md.Port)
			if err := c.dir.ClearMetadata(); err != nil {
				return nil, false, fmt.Errorf("client: clear stale metadata: %w", err)
			}
		}

		token := make([]byte, 32)
		if err := c.dir.WriteToken(randomToken(token)); err != nil {
			return nil, false, fmt.Errorf("client: pre-generate auth token: %w", err)
		}

		if err := c.spawn(c.cfg, c.dir, c.dir.AuthPath()); err != nil {
			return nil, false, &loopbackd.ConnectionFailedError{Name: c.cfg.Name, Err: fmt.Errorf("spawn daemon: %w", err)}
		}
		return nil, true, nil
	}()
	if err != nil {
		return nil, err
	}
	if !spawned {
		return sess, nil
	}

	return c.pollUntilReady(ctx)
}

func (c *Coordinator) pollUntilReady(ctx context.Context) (*Session, error) {
	deadline := time.Now().Add(c.cfg.StartTimeout)
	for attempt := 0; ; attempt++ {
		if md, ok := c.dir.ReadMetadata(); ok {
			if sess, err := c.tryConnect(ctx, md); err == nil {
				return sess, nil
			}
		}
		if time.Now().After(deadline) {
			return nil, &loopbackd.ConnectionFailedError{
				Name: c.cfg.Name,
				Err:  fmt.Errorf("daemon did not become ready within %s", c.cfg.StartTimeout),
			}
		}
		select {
		case <-time.After(loopbackd.Backoff(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *Coordinator) tryConnect(ctx context.Context, md loopbackd.Metadata) (*Session, error) {
	if !pidLooksAlive(md.PID) {
		return nil, &loopbackd.ConnectionFailedError{Name: c.cfg.Name, Err: fmt.Errorf("recorded pid %d is not alive", md.PID)}
	}

	addr := net.JoinHostPort(md.Host, fmt.Sprintf("%d", md.Port))
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, &loopbackd.ConnectionFailedError{Name: c.cfg.Name, Address: addr, Err: err}
	}

	cod, err := codec.Lookup(md.CodecID)
	if err != nil {
		conn.Close()
		return nil, &loopbackd.SerializationError{CodecID: md.CodecID, Err: err}
	}

	token, err := c.dir.ReadToken()
	if err != nil {
		conn.Close()
		return nil, &loopbackd.ConnectionFailedError{Name: c.cfg.Name, Address: addr, Err: err}
	}

	sess, err := handshake(conn, cod, c.cfg, token)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return sess, nil
}

func handshake(conn net.Conn, cod codec.Codec, cfg loopbackd.Config, token []byte) (*Session, error) {
	hello := wire.Hello{ProtocolVersion: loopbackd.ProtocolVersion, Token: token, CodecID: cod.ID()}
	if err := wire.Send(conn, cod, cfg.MaxFrameBytes, wire.KindHello, hello); err != nil {
		return nil, &loopbackd.ConnectionFailedError{Name: cfg.Name, Err: err}
	}
	env, err := wire.Receive(conn, cod, cfg.MaxFrameBytes)
	if err != nil {
		return nil, &loopbackd.ConnectionFailedError{Name: cfg.Name, Err: err}
	}
	switch env.Kind {
	case wire.KindHelloOK:
		var ok wire.HelloOK
		if err := wire.Decode(cod, env, &ok); err != nil {
			return nil, &loopbackd.SerializationError{CodecID: cod.ID(), Err: err}
		}
		return newSession(conn, cod, cfg, ok), nil
	case wire.KindHelloErr:
		var rej wire.HelloErr
		_ = wire.Decode(cod, env, &rej)
		kind := loopbackd.AuthRejected
		if rej.Reason == wire.ReasonProtocolMismatch {
			kind = loopbackd.ProtocolMismatch
		}
		return nil, &loopbackd.HandshakeError{Name: cfg.Name, Kind: kind, Reason: string(rej.Reason)}
	default:
		return nil, &loopbackd.HandshakeError{Name: cfg.Name, Kind: loopbackd.ProtocolMismatch, Reason: "unexpected response to HELLO"}
	}
}

func pidLooksAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	alive, err := process.PidExists(int32(pid))
	if err != nil {
		// Treat an inconclusive liveness check as "maybe alive" and let
		// the actual connect attempt be the arbiter.
		return true
	}
	return alive
}

func randomToken(buf []byte) []byte {
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing is effectively unrecoverable on any
		// supported platform; fall back to a weaker source rather than
		// returning an all-zero token.
		for i := range buf {
			buf[i] = byte(time.Now().UnixNano() >> (i % 8))
		}
	}
	return buf
}

// DefaultSpawner re-execs the current binary's serve subcommand with the
// coordination parameters passed as command-line flags and
// LOOPBACKD_DAEMON=1 added to its environment, then detaches it from the client's process group so it outlives the
// client and does not inherit the client's listening handles.
func DefaultSpawner(cfg loopbackd.Config, dir *runtimedir.Dir, tokenPath string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("client: resolve current executable: %w", err)
	}
	cmd := exec.Command(exe, "serve",
		"--name", cfg.Name,
		"--factory", cfg.Factory,
		"--runtime-dir", dir.Path(),
		"--codec", cfg.CodecID,
		"--idle-ttl", cfg.IdleTTL.String(),
		"--token-file", tokenPath,
	)
	cmd.Env = append(os.Environ(), "LOOPBACKD_DAEMON=1")
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	detachProcess(cmd)
	return cmd.Start()
}
