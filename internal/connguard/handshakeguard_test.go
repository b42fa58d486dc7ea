package connguard

import (
	"testing"
	"time"

	"pkt.systems/pslog"
)

func TestGuardBlocksAfterThreshold(t *testing.T) {
	now := time.Now()
	g := New(Config{
		Enabled:          true,
		FailureThreshold: 3,
		FailureWindow:    time.Second,
		BlockDuration:    500 * time.Millisecond,
	}, pslog.NoopLogger())
	g.now = func() time.Time { return now }

	remote := "127.0.0.1:5555"
	if g.RecordFailure(remote, "bad_token") {
		t.Fatalf("first failure should not block")
	}
	now = now.Add(50 * time.Millisecond)
	if g.RecordFailure(remote, "bad_token") {
		t.Fatalf("second failure should not block")
	}
	now = now.Add(50 * time.Millisecond)
	if !g.RecordFailure(remote, "bad_token") {
		t.Fatalf("third failure should block")
	}

	if !g.IsBlocked(remote) {
		t.Fatalf("expected remote to be blocked")
	}

	now = now.Add(600 * time.Millisecond)
	if g.IsBlocked(remote) {
		t.Fatalf("expected block to expire")
	}

	if g.RecordFailure(remote, "bad_token") {
		t.Fatalf("post-expiry failure should not immediately re-block")
	}
}

func TestGuardFailuresOutsideWindowDoNotAccumulate(t *testing.T) {
	now := time.Now()
	g := New(Config{
		Enabled:          true,
		FailureThreshold: 2,
		FailureWindow:    100 * time.Millisecond,
		BlockDuration:    time.Second,
	}, pslog.NoopLogger())
	g.now = func() time.Time { return now }

	remote := "127.0.0.1:6666"
	if g.RecordFailure(remote, "bad_token") {
		t.Fatalf("first failure should not block")
	}
	now = now.Add(200 * time.Millisecond)
	if g.RecordFailure(remote, "bad_token") {
		t.Fatalf("failure outside window should reset count, not block")
	}
}

func TestGuardDisabledNeverBlocks(t *testing.T) {
	g := New(Config{Enabled: false, FailureThreshold: 1}, pslog.NoopLogger())
	remote := "127.0.0.1:7777"
	g.RecordFailure(remote, "bad_token")
	if g.IsBlocked(remote) {
		t.Fatalf("disabled guard should never report blocked")
	}
}

func TestGuardNilSafe(t *testing.T) {
	var g *Guard
	if g.IsBlocked("127.0.0.1:1") {
		t.Fatalf("nil guard should report not blocked")
	}
}
