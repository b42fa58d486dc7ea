package client

import (
	"context"
	"sync"

	"pkt.systems/pslog"

	"loopbackd"
	"loopbackd/internal/svcfields"
)

// Proxy is the user-facing handle the coordination protocol exists to
// support: it hides connect-or-spawn, reconnection on a lost session,
// and the underlying wire calls behind a single Call method, mirroring
// the source system's attribute-forwarding sugar without attempting
// isinstance transparency (explicitly out of scope).
type Proxy struct {
	coord  *Coordinator
	logger pslog.Logger

	mu   sync.Mutex
	sess *Session
}

// NewProxy wraps a Coordinator in a Proxy. The first Call or Ping
// triggers the initial connect-or-spawn.
func NewProxy(coord *Coordinator, logger pslog.Logger) *Proxy {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &Proxy{coord: coord, logger: svcfields.WithSubsystem(logger, "client.proxy")}
}

func (p *Proxy) ensureSession(ctx context.Context) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sess != nil {
		return p.sess, nil
	}
	sess, err := p.coord.Connect(ctx)
	if err != nil {
		return nil, err
	}
	p.sess = sess
	return sess, nil
}

// Call invokes methodName on the remote singleton object with args. It
// does not retry: per the at-most-once policy, a ServerCrashedError
// means the caller decides whether to call again.
func (p *Proxy) Call(ctx context.Context, methodName string, args ...any) (any, error) {
	sess, err := p.ensureSession(ctx)
	if err != nil {
		return nil, err
	}
	value, err := sess.Call(ctx, methodName, args...)
	if _, crashed := err.(*loopbackd.ServerCrashedError); crashed {
		p.mu.Lock()
		if p.sess == sess {
			p.sess = nil
		}
		p.mu.Unlock()
	}
	return value, err
}

// Ping asks the daemon for its current status, connecting first if
// needed.
func (p *Proxy) Ping(ctx context.Context) (any, error) {
	sess, err := p.ensureSession(ctx)
	if err != nil {
		return nil, err
	}
	return sess.Ping(ctx)
}

// Close releases the underlying session, if any. A subsequent Call
// transparently reconnects.
func (p *Proxy) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sess == nil {
		return nil
	}
	err := p.sess.Close()
	p.sess = nil
	return err
}
