// Package inprocess wires a daemon and a client Session together inside
// a single process, for tests and embedders that want the wire
// protocol exercised end to end without a real subprocess spawn.
package inprocess

import (
	"context"
	"fmt"
	"os"
	"sync"

	"loopbackd"
	"loopbackd/client"
	"loopbackd/daemon"
	"loopbackd/internal/runtimedir"
	"loopbackd/internal/wire"
)

// Client bundles an in-process daemon with a connected Session behind
// the same Call/Ping surface client.Proxy exposes.
type Client struct {
	daemon *daemon.Daemon
	sess   *client.Session

	cleanup   func()
	closeOnce sync.Once
	closeErr  error
}

// New starts a daemon for obj in a freshly created temporary runtime
// directory and connects a Session to it. The connect-or-spawn
// algorithm never spawns here: the daemon this Client owns is already
// running by the time Connect runs, so it is always found on the
// first try.
func New(ctx context.Context, cfg loopbackd.Config, obj any, daemonOpts ...daemon.Option) (*Client, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	baseDir, err := os.MkdirTemp("", "loopbackd-inproc-")
	if err != nil {
		return nil, fmt.Errorf("inprocess: create temp runtime dir: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(baseDir) }
	cfg.BaseDir = baseDir

	dir, err := runtimedir.Open(baseDir, cfg.Name)
	if err != nil {
		cleanup()
		return nil, err
	}

	d, err := daemon.Start(cfg, dir, obj, daemonOpts...)
	if err != nil {
		cleanup()
		return nil, err
	}

	noSpawn := func(loopbackd.Config, *runtimedir.Dir, string) error {
		return fmt.Errorf("inprocess: spawn should never be invoked, the daemon is already running")
	}
	coord, err := client.New(cfg, noSpawn, nil)
	if err != nil {
		shutdownNow(d)
		cleanup()
		return nil, err
	}

	sess, err := coord.Connect(ctx)
	if err != nil {
		shutdownNow(d)
		cleanup()
		return nil, err
	}

	return &Client{daemon: d, sess: sess, cleanup: cleanup}, nil
}

func shutdownNow(d *daemon.Daemon) {
	_ = d.Shutdown(context.Background(), true, 0)
}

// Call invokes methodName on the embedded singleton.
func (c *Client) Call(ctx context.Context, methodName string, args ...any) (any, error) {
	return c.sess.Call(ctx, methodName, args...)
}

// Ping returns the embedded daemon's current status.
func (c *Client) Ping(ctx context.Context) (wire.Pong, error) {
	return c.sess.Ping(ctx)
}

// PID returns the embedded daemon's process ID (this process's own
// PID, since nothing is spawned).
func (c *Client) PID() int { return c.sess.PID() }

// Close tears down the session and the embedded daemon and removes the
// temporary runtime directory. Safe to call more than once.
func (c *Client) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		if ctx == nil {
			ctx = context.Background()
		}
		_ = c.sess.Close()
		if err := c.daemon.Shutdown(ctx, true, 0); err != nil {
			c.closeErr = err
		}
		c.cleanup()
	})
	return c.closeErr
}
