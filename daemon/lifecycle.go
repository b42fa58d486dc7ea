package daemon

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"pkt.systems/pslog"

	"loopbackd"
	"loopbackd/internal/svcfields"
)

// lifecycleState mirrors the states in the shutdown state machine:
// Starting, Serving/busy, Serving/idle, Stopping, Exited.
type lifecycleState int32

const (
	stateStarting lifecycleState = iota
	stateServingBusy
	stateServingIdle
	stateStopping
	stateExited
)

// Lifecycle drives the idle-TTL shutdown state machine (C8). It watches
// the daemon's active-connection count via connectionOpened/Closed edge
// signals and begins teardown either when the idle timer fires or when
// a SHUTDOWN message arrives.
type Lifecycle struct {
	daemon  *Daemon
	idleTTL time.Duration
	logger  pslog.Logger

	mu          sync.Mutex
	state       lifecycleState
	activeCount int
	timer       *time.Timer

	shutdownOnce sync.Once
	shuttingDown atomic.Bool
	exited       chan struct{}
}

// NewLifecycle constructs a Lifecycle bound to d.
func NewLifecycle(d *Daemon, idleTTL time.Duration, logger pslog.Logger) *Lifecycle {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &Lifecycle{
		daemon:  d,
		idleTTL: idleTTL,
		logger:  svcfields.WithSubsystem(logger, "daemon.lifecycle"),
		state:   stateStarting,
		exited:  make(chan struct{}),
	}
}

// Start transitions from Starting to Serving/idle and arms the idle
// timer, since a freshly started daemon has zero active connections
// until its first accepted session completes handshake.
func (l *Lifecycle) Start() {
	l.mu.Lock()
	l.state = stateServingIdle
	l.armTimer()
	l.mu.Unlock()
}

func (l *Lifecycle) stopping() bool {
	return l.shuttingDown.Load()
}

// Exited is closed once Shutdown's teardown procedure has completed.
func (l *Lifecycle) Exited() <-chan struct{} { return l.exited }

func (l *Lifecycle) connectionOpened() {
	l.mu.Lock()
	l.activeCount++
	becameNonzero := l.activeCount == 1
	if becameNonzero {
		l.state = stateServingBusy
		l.stopTimer()
	}
	l.mu.Unlock()
	l.reportActiveConnections()
	if becameNonzero {
		l.logger.Debug("active connections became nonzero")
	}
}

func (l *Lifecycle) connectionClosed() {
	l.mu.Lock()
	l.activeCount--
	becameZero := l.activeCount == 0
	if becameZero {
		l.state = stateServingIdle
		l.armTimer()
	}
	l.mu.Unlock()
	l.reportActiveConnections()
	if becameZero {
		l.logger.Debug("active connections became zero, idle timer armed", "idle_ttl", l.idleTTL)
	}
}

func (l *Lifecycle) reportActiveConnections() {
	if l.daemon.metrics == nil {
		return
	}
	l.daemon.metrics.ActiveConnections.Set(float64(l.daemon.ActiveConnections()))
}

// armTimer must be called with l.mu held.
func (l *Lifecycle) armTimer() {
	l.stopTimer()
	l.timer = time.AfterFunc(l.idleTTL, l.onIdleTimeout)
}

// stopTimer must be called with l.mu held.
func (l *Lifecycle) stopTimer() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

func (l *Lifecycle) onIdleTimeout() {
	l.mu.Lock()
	idle := l.state == stateServingIdle
	l.mu.Unlock()
	if !idle {
		return
	}
	l.logger.Info("idle ttl elapsed, shutting down")
	l.requestShutdown(false)
}

// requestShutdown begins teardown exactly once, regardless of how many
// triggers (idle timer, SHUTDOWN message, process signal) fire.
func (l *Lifecycle) requestShutdown(force bool) {
	l.shutdownOnce.Do(func() {
		l.shuttingDown.Store(true)
		l.mu.Lock()
		l.state = stateStopping
		l.stopTimer()
		l.mu.Unlock()

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = l.daemon.Shutdown(ctx, force, loopbackd.DefaultShutdownGrace)
			l.mu.Lock()
			l.state = stateExited
			l.mu.Unlock()
			close(l.exited)
		}()
	})
}
