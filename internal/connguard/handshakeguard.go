// Package connguard temporarily blocks remote addresses that repeatedly
// fail the HELLO handshake, so a misbehaving or hostile local process
// cannot turn the daemon into a token-guessing oracle. It does not touch
// connections that pass handshake.
package connguard

import (
	"net"
	"strings"
	"sync"
	"time"

	"pkt.systems/pslog"

	"loopbackd/internal/svcfields"
)

// Config controls handshake-failure tracking.
type Config struct {
	// Enabled toggles guard enforcement entirely.
	Enabled bool
	// FailureThreshold is the number of failed HELLOs before blocking.
	FailureThreshold int
	// FailureWindow bounds the period over which failures are counted.
	FailureWindow time.Duration
	// BlockDuration is how long a blocked remote stays blocked.
	BlockDuration time.Duration
}

type remoteState struct {
	failures     []time.Time
	blockedUntil time.Time
}

// Guard tracks per-remote-address HELLO failure state.
type Guard struct {
	cfg    Config
	logger pslog.Logger
	mu     sync.Mutex
	now    func() time.Time
	states map[string]*remoteState
}

// New constructs a Guard with the supplied config.
func New(cfg Config, logger pslog.Logger) *Guard {
	if cfg.FailureThreshold < 0 {
		cfg.FailureThreshold = 0
	}
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = time.Minute
	}
	if cfg.BlockDuration <= 0 {
		cfg.BlockDuration = 5 * time.Minute
	}
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &Guard{
		cfg:    cfg,
		logger: svcfields.WithSubsystem(logger, "daemon.connguard"),
		now:    time.Now,
		states: make(map[string]*remoteState),
	}
}

// IsBlocked reports whether remote is currently blocked from attempting a
// handshake. A session handler should check this before reading the HELLO
// frame.
func (g *Guard) IsBlocked(remote string) bool {
	if g == nil || !g.cfg.Enabled {
		return false
	}
	remote = normalizeRemoteAddr(remote)
	if remote == "" {
		return false
	}
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.states[remote]
	if st == nil || st.blockedUntil.IsZero() {
		return false
	}
	if st.blockedUntil.After(now) {
		return true
	}
	st.blockedUntil = time.Time{}
	g.logger.Warn("handshake block expired", "remote", remote)
	if len(st.failures) == 0 {
		delete(g.states, remote)
	}
	return false
}

// RecordFailure records a rejected HELLO (bad token or protocol mismatch)
// from remote and reports whether the remote is now blocked.
func (g *Guard) RecordFailure(remote, reason string) bool {
	if g == nil || !g.cfg.Enabled || g.cfg.FailureThreshold <= 0 {
		return false
	}
	remote = normalizeRemoteAddr(remote)
	if remote == "" {
		return false
	}
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.states[remote]
	if st == nil {
		st = &remoteState{}
		g.states[remote] = st
	}
	if !st.blockedUntil.IsZero() && st.blockedUntil.After(now) {
		return true
	}
	st.blockedUntil = time.Time{}

	cutoff := now.Add(-g.cfg.FailureWindow)
	for len(st.failures) > 0 && st.failures[0].Before(cutoff) {
		st.failures = st.failures[1:]
	}
	st.failures = append(st.failures, now)
	if len(st.failures) < g.cfg.FailureThreshold {
		g.logger.Warn("handshake failure", "remote", remote, "reason", reason, "count", len(st.failures))
		return false
	}

	st.blockedUntil = now.Add(g.cfg.BlockDuration)
	st.failures = nil
	g.logger.Warn("handshake blocked", "remote", remote, "reason", reason,
		"threshold", g.cfg.FailureThreshold, "duration", g.cfg.BlockDuration)
	return true
}

func normalizeRemoteAddr(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(raw)
	if err == nil {
		return host
	}
	return raw
}
