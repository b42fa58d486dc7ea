package loopbackd_test

import (
	"testing"
	"time"

	"loopbackd"
)

func TestWithDefaultsFillsZeroValues(t *testing.T) {
	t.Parallel()

	cfg := loopbackd.Config{Name: "svc", Factory: "fixtures:thing"}.WithDefaults()
	if cfg.CodecID != loopbackd.DefaultCodecID {
		t.Fatalf("got codec %q, want %q", cfg.CodecID, loopbackd.DefaultCodecID)
	}
	if cfg.IdleTTL != loopbackd.DefaultIdleTTL {
		t.Fatalf("got idle ttl %v, want %v", cfg.IdleTTL, loopbackd.DefaultIdleTTL)
	}
	if cfg.MaxFrameBytes != loopbackd.DefaultMaxFrameBytes {
		t.Fatalf("got max frame bytes %d, want %d", cfg.MaxFrameBytes, loopbackd.DefaultMaxFrameBytes)
	}
}

func TestWithDefaultsPreservesExplicitValues(t *testing.T) {
	t.Parallel()

	cfg := loopbackd.Config{Name: "svc", Factory: "fixtures:thing", CodecID: "json", IdleTTL: 5 * time.Second}.WithDefaults()
	if cfg.CodecID != "json" {
		t.Fatalf("got codec %q, want json", cfg.CodecID)
	}
	if cfg.IdleTTL != 5*time.Second {
		t.Fatalf("got idle ttl %v, want 5s", cfg.IdleTTL)
	}
}

func TestValidateRequiresNameAndFactory(t *testing.T) {
	t.Parallel()

	cases := []loopbackd.Config{
		{},
		{Name: "svc"},
		{Factory: "fixtures:thing"},
	}
	for _, cfg := range cases {
		if err := cfg.Validate(); err == nil {
			t.Fatalf("expected error for %+v", cfg)
		}
	}
}

func TestValidateRejectsNegativeFields(t *testing.T) {
	t.Parallel()

	cfg := loopbackd.Config{Name: "svc", Factory: "fixtures:thing", MaxFrameBytes: -1}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for negative MaxFrameBytes")
	}
}

func TestBackoffIsBoundedExponential(t *testing.T) {
	t.Parallel()

	prev := time.Duration(0)
	for n := 0; n < 20; n++ {
		d := loopbackd.Backoff(n)
		if d < prev {
			t.Fatalf("backoff decreased at n=%d: %v < %v", n, d, prev)
		}
		if d > 100*time.Millisecond {
			t.Fatalf("backoff exceeded ceiling at n=%d: %v", n, d)
		}
		prev = d
	}
}
