// Package daemon implements the accepting, session-handling, and
// lifecycle side of the loopback protocol: the Acceptor (C6), the
// per-connection session handler (C4's server half), and the idle-TTL
// lifecycle controller (C8).
package daemon

import (
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"pkt.systems/pslog"

	"loopbackd"
	"loopbackd/codec"
	"loopbackd/internal/connguard"
	"loopbackd/internal/executor"
	"loopbackd/internal/runtimedir"
	"loopbackd/internal/svcfields"
)

// Option configures a Daemon.
type Option func(*options)

type options struct {
	Logger      pslog.Logger
	Guard       *connguard.Guard
	MetricsAddr string
	ServerInfo  string
}

// WithLogger supplies a structured logger. Defaults to a no-op logger.
func WithLogger(l pslog.Logger) Option {
	return func(o *options) { o.Logger = l }
}

// WithHandshakeGuard supplies a guard that rejects handshakes from a
// remote address which has recently failed too many of them.
func WithHandshakeGuard(g *connguard.Guard) Option {
	return func(o *options) { o.Guard = g }
}

// WithMetricsListen exposes a Prometheus metrics endpoint at addr.
func WithMetricsListen(addr string) Option {
	return func(o *options) { o.MetricsAddr = addr }
}

// WithServerInfo sets the free-text string returned in HELLO_OK.
func WithServerInfo(info string) Option {
	return func(o *options) { o.ServerInfo = info }
}

// Daemon is a running instance of C6 (acceptor) plus C7 (executor),
// coordinated by C8 (lifecycle). It owns exactly one singleton object.
type Daemon struct {
	cfg    loopbackd.Config
	codec  codec.Codec
	token  []byte
	dir    *runtimedir.Dir
	logger pslog.Logger
	guard  *connguard.Guard

	listener  net.Listener
	exec      *executor.Executor
	lifecycle *Lifecycle
	metrics   *Metrics
	startedAt time.Time

	serverInfo string

	mu       sync.Mutex
	sessions map[*Session]struct{}
}

// Start binds the loopback listener, writes the auth token, publishes
// metadata, and begins accepting connections. obj is the singleton
// instance produced by the ObjectFactory collaborator. Start returns
// once the listener is bound and metadata is published; the accept loop
// and lifecycle controller run in background goroutines until Shutdown
// runs.
func Start(cfg loopbackd.Config, dir *runtimedir.Dir, obj any, opts ...Option) (*Daemon, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{Logger: pslog.NoopLogger(), ServerInfo: "loopbackd"}
	for _, opt := range opts {
		opt(&o)
	}

	c, err := codec.Lookup(cfg.CodecID)
	if err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(loopbackd.Loopback, "0"))
	if err != nil {
		return nil, &BindFailedError{Name: cfg.Name, Err: err}
	}

	lock, err := dir.Acquire(cfg.StartTimeout)
	if err != nil {
		ln.Close()
		return nil, fmt.Errorf("daemon: acquire runtime lock: %w", err)
	}
	defer lock.Release()

	// A coordinator that spawned this process already wrote a token to
	// hand the daemon before it had anything to authenticate; reuse it
	// so the spawning client's own handshake is guaranteed to match.
	// Only a bare start with no coordinator in front of it generates a
	// fresh one.
	token, err := dir.ReadToken()
	if err != nil || len(token) == 0 {
		token = make([]byte, 32)
		if _, err := rand.Read(token); err != nil {
			ln.Close()
			return nil, fmt.Errorf("daemon: generate auth token: %w", err)
		}
	}

	// Auth token is written before metadata is published, so no client
	// ever observes a metadata record without a corresponding token.
	if err := dir.WriteToken(token); err != nil {
		ln.Close()
		return nil, fmt.Errorf("daemon: write auth token: %w", err)
	}

	startedAt := time.Now().UTC()
	md := loopbackd.Metadata{
		ProtocolVersion: loopbackd.ProtocolVersion,
		PID:             os.Getpid(),
		Host:            loopbackd.Loopback,
		Port:            ln.Addr().(*net.TCPAddr).Port,
		ServiceName:     cfg.Name,
		CodecID:         cfg.CodecID,
		StartedAt:       startedAt,
	}
	if err := dir.PublishMetadata(md); err != nil {
		ln.Close()
		dir.ClearMetadata()
		return nil, &MetadataPublishFailedError{Name: cfg.Name, Err: err}
	}

	logger := svcfields.WithSubsystem(o.Logger, "daemon")
	d := &Daemon{
		cfg:        cfg,
		codec:      c,
		token:      token,
		dir:        dir,
		logger:     logger,
		guard:      o.Guard,
		listener:   ln,
		exec:       executor.New(obj, 0, o.Logger),
		startedAt:  startedAt,
		serverInfo: o.ServerInfo,
		sessions:   make(map[*Session]struct{}),
	}
	if o.MetricsAddr != "" {
		d.metrics = NewMetrics(o.MetricsAddr, o.Logger)
		d.metrics.Start()
	}
	d.lifecycle = NewLifecycle(d, cfg.IdleTTL, o.Logger)

	d.logger.Info("daemon started", "name", cfg.Name, "port", md.Port, "pid", md.PID)

	go d.acceptLoop()
	d.lifecycle.Start()

	return d, nil
}

func processID() int { return os.Getpid() }

// Addr returns the bound loopback address.
func (d *Daemon) Addr() net.Addr { return d.listener.Addr() }

// Exited closes once the lifecycle controller has finished an
// idle-timeout or externally requested shutdown. An entrypoint that
// runs this daemon in the foreground waits on this (or a cancelable
// context) to know when to return.
func (d *Daemon) Exited() <-chan struct{} { return d.lifecycle.Exited() }

// RequestShutdown begins the C8 teardown procedure through the
// lifecycle controller, the same path an in-band SHUTDOWN request
// takes. Safe to call more than once; only the first call has effect.
func (d *Daemon) RequestShutdown(force bool) { d.lifecycle.requestShutdown(force) }

func (d *Daemon) acceptLoop() {
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			if d.lifecycle.stopping() {
				return
			}
			d.logger.Warn("accept failed", "error", err)
			return
		}
		go d.handleConn(conn)
	}
}

func (d *Daemon) handleConn(conn net.Conn) {
	sess := newSession(d, conn)
	d.registerSession(sess)
	defer d.unregisterSession(sess)
	sess.run(context.Background())
}

func (d *Daemon) registerSession(s *Session) {
	d.mu.Lock()
	d.sessions[s] = struct{}{}
	d.mu.Unlock()
}

func (d *Daemon) unregisterSession(s *Session) {
	d.mu.Lock()
	delete(d.sessions, s)
	d.mu.Unlock()
}

// ActiveConnections reports the number of handshaken sessions currently
// open. Used by the lifecycle controller and by PONG.
func (d *Daemon) ActiveConnections() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for s := range d.sessions {
		if s.handshaken.Load() {
			n++
		}
	}
	return n
}

// QueueDepth reports the executor's current queue depth, for PONG.
func (d *Daemon) QueueDepth() int { return d.exec.QueueDepth() }

// Uptime reports elapsed time since the daemon started.
func (d *Daemon) Uptime() time.Duration { return time.Since(d.startedAt) }

// Shutdown runs the C8 teardown procedure: stop accepting, wait for
// in-flight handlers to finish their current reply (bounded by grace,
// forced immediately if force is set), drain the executor, unlink
// runtime files, and close the listener.
func (d *Daemon) Shutdown(ctx context.Context, force bool, grace time.Duration) error {
	d.logger.Info("daemon shutting down", "force", force)
	d.listener.Close()
	if d.metrics != nil {
		d.metrics.Stop()
	}

	d.closeSessions(force, grace)
	d.exec.Stop(&loopbackd.ServerShuttingDownError{Name: d.cfg.Name})

	lock, err := d.dir.Acquire(5 * time.Second)
	if err != nil {
		return fmt.Errorf("daemon: acquire runtime lock for teardown: %w", err)
	}
	defer lock.Release()
	if err := d.dir.ClearMetadata(); err != nil {
		return fmt.Errorf("daemon: clear metadata: %w", err)
	}
	d.logger.Info("daemon shutdown complete")
	return nil
}

func (d *Daemon) closeSessions(force bool, grace time.Duration) {
	d.mu.Lock()
	sessions := make([]*Session, 0, len(d.sessions))
	for s := range d.sessions {
		sessions = append(sessions, s)
	}
	d.mu.Unlock()

	if force {
		for _, s := range sessions {
			s.closeNow()
		}
		return
	}

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for _, s := range sessions {
			wg.Add(1)
			go func(s *Session) {
				defer wg.Done()
				s.waitIdle()
			}(s)
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		for _, s := range sessions {
			s.closeNow()
		}
	}
}

// BindFailedError reports that the loopback listener could not be
// bound to an ephemeral port.
type BindFailedError struct {
	Name string
	Err  error
}

func (e *BindFailedError) Error() string {
	return fmt.Sprintf("daemon: bind failed for %q: %v", e.Name, e.Err)
}
func (e *BindFailedError) Unwrap() error { return e.Err }

// MetadataPublishFailedError reports that the listener bound and the
// auth token was written, but the metadata record itself could not be
// published, leaving the runtime directory in a state a client would
// otherwise treat as a live daemon.
type MetadataPublishFailedError struct {
	Name string
	Err  error
}

func (e *MetadataPublishFailedError) Error() string {
	return fmt.Sprintf("daemon: publish metadata for %q failed: %v", e.Name, e.Err)
}
func (e *MetadataPublishFailedError) Unwrap() error { return e.Err }
