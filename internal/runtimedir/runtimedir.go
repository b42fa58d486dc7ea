// Package runtimedir implements the per-logical-name filesystem namespace
// (C1 in the design): the metadata record, the auth-token file, and the
// lock file that guards mutation of the first two.
package runtimedir

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/gofrs/flock"

	"loopbackd"
	"loopbackd/internal/pathutil"
)

const (
	metadataFile = "metadata"
	authFile     = "auth"
	lockFile     = "lock"
	runtimeSub   = "loopbackd"
)

// Dir is the runtime directory for one logical name.
type Dir struct {
	path string
}

// Open returns the runtime directory for name under base. An empty base
// selects the host's conventional per-user runtime location: XDG_RUNTIME_DIR
// (or ~/.cache as fallback) on Unix, %LOCALAPPDATA% on Windows.
func Open(base, name string) (*Dir, error) {
	if name == "" {
		return nil, fmt.Errorf("runtimedir: name is required")
	}
	if base == "" {
		base = defaultBase()
	}
	expanded, err := pathutil.ExpandUserAndEnv(base)
	if err != nil {
		return nil, fmt.Errorf("runtimedir: expand base dir: %w", err)
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return nil, fmt.Errorf("runtimedir: resolve base dir: %w", err)
	}
	return &Dir{path: filepath.Join(abs, runtimeSub, name)}, nil
}

// FromPath wraps an already-resolved runtime directory path directly,
// skipping the base+name join Open performs. Used when a path has
// already been resolved once by a parent process and handed down
// verbatim, such as the daemon spawned by the coordinator.
func FromPath(path string) *Dir {
	return &Dir{path: path}
}

func defaultBase() string {
	if runtime.GOOS == "windows" {
		if v := os.Getenv("LOCALAPPDATA"); v != "" {
			return v
		}
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, "AppData", "Local")
		}
		return os.TempDir()
	}
	if v := os.Getenv("XDG_RUNTIME_DIR"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err == nil {
		return filepath.Join(home, ".cache")
	}
	return os.TempDir()
}

// Path returns the runtime directory itself.
func (d *Dir) Path() string { return d.path }

// MetadataPath returns the metadata record's path.
func (d *Dir) MetadataPath() string { return filepath.Join(d.path, metadataFile) }

// AuthPath returns the auth-token file's path.
func (d *Dir) AuthPath() string { return filepath.Join(d.path, authFile) }

// LockPath returns the advisory-lock file's path.
func (d *Dir) LockPath() string { return filepath.Join(d.path, lockFile) }

func (d *Dir) ensure() error {
	return os.MkdirAll(d.path, 0o700)
}

// Lock is a scoped handle on the exclusive C1 lock. Release must be called
// exactly once, typically via defer, on every exit path including panics.
type Lock struct {
	fl *flock.Flock
}

// Acquire blocks until the exclusive lock is held or timeout elapses.
// Timeout <= 0 waits indefinitely.
func (d *Dir) Acquire(timeout time.Duration) (*Lock, error) {
	if err := d.ensure(); err != nil {
		return nil, fmt.Errorf("runtimedir: create %s: %w", d.path, err)
	}
	fl := flock.New(d.LockPath())
	if timeout <= 0 {
		if err := fl.Lock(); err != nil {
			return nil, fmt.Errorf("runtimedir: lock %s: %w", d.LockPath(), err)
		}
		return &Lock{fl: fl}, nil
	}
	deadline := time.Now().Add(timeout)
	for {
		locked, err := fl.TryLock()
		if err != nil {
			return nil, fmt.Errorf("runtimedir: lock %s: %w", d.LockPath(), err)
		}
		if locked {
			return &Lock{fl: fl}, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("runtimedir: lock %s: timed out after %s", d.LockPath(), timeout)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Release gives up the exclusive lock. Safe to call on a nil Lock.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}

// ReadMetadata returns the published record, or ok=false when the file is
// missing, unreadable, or does not parse — every such case is "stale", per
// spec, never a fatal error to the caller.
func (d *Dir) ReadMetadata() (md loopbackd.Metadata, ok bool) {
	data, err := os.ReadFile(d.MetadataPath())
	if err != nil {
		return loopbackd.Metadata{}, false
	}
	if err := json.Unmarshal(data, &md); err != nil {
		return loopbackd.Metadata{}, false
	}
	if md.Port <= 0 || md.PID <= 0 || md.ServiceName == "" {
		return loopbackd.Metadata{}, false
	}
	return md, true
}

// PublishMetadata atomically replaces the metadata record. Callers must
// hold the C1 lock.
func (d *Dir) PublishMetadata(md loopbackd.Metadata) error {
	if err := d.ensure(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return fmt.Errorf("runtimedir: marshal metadata: %w", err)
	}
	return writeAtomic(d.MetadataPath(), data, 0o600)
}

// ClearMetadata unlinks the metadata record and auth-token file. Callers
// must hold the C1 lock. Missing files are not an error.
func (d *Dir) ClearMetadata() error {
	for _, p := range []string{d.MetadataPath(), d.AuthPath()} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("runtimedir: remove %s: %w", p, err)
		}
	}
	return nil
}

// WriteToken stores the auth token with the most restrictive permissions
// the host supports. Callers must write the token before PublishMetadata,
// so no client ever observes a metadata record without a corresponding
// token on disk.
func (d *Dir) WriteToken(token []byte) error {
	if err := d.ensure(); err != nil {
		return err
	}
	return writeAtomic(d.AuthPath(), token, 0o600)
}

// ReadToken loads the auth token bytes.
func (d *Dir) ReadToken() ([]byte, error) {
	data, err := os.ReadFile(d.AuthPath())
	if err != nil {
		return nil, fmt.Errorf("runtimedir: read token: %w", err)
	}
	return data, nil
}

func writeAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("runtimedir: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if writeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("runtimedir: write %s: %w", tmpPath, writeErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("runtimedir: close %s: %w", tmpPath, closeErr)
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("runtimedir: chmod %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("runtimedir: rename %s -> %s: %w", tmpPath, path, err)
	}
	return nil
}
