package factory_test

import (
	"fmt"
	"testing"

	"loopbackd/factory"
)

type counter struct{ value int }

func TestBuildInvokesRegisteredConstructor(t *testing.T) {
	t.Parallel()

	r := factory.NewRegistry()
	r.Register("fixtures:counter", func(args ...any) (any, error) {
		return &counter{}, nil
	})

	obj, err := r.Build("fixtures:counter")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, ok := obj.(*counter); !ok {
		t.Fatalf("got %T, want *counter", obj)
	}
}

func TestBuildUnknownRefFails(t *testing.T) {
	t.Parallel()

	r := factory.NewRegistry()
	if _, err := r.Build("fixtures:missing"); err == nil {
		t.Fatal("expected error for unregistered ref")
	}
}

func TestBuildPropagatesConstructorError(t *testing.T) {
	t.Parallel()

	r := factory.NewRegistry()
	r.Register("fixtures:broken", func(args ...any) (any, error) {
		return nil, fmt.Errorf("boom")
	})
	if _, err := r.Build("fixtures:broken"); err == nil {
		t.Fatal("expected constructor error to propagate")
	}
}

func TestHasReflectsRegistration(t *testing.T) {
	t.Parallel()

	r := factory.NewRegistry()
	if r.Has("fixtures:counter") {
		t.Fatal("expected Has to report false before registration")
	}
	r.Register("fixtures:counter", func(args ...any) (any, error) { return &counter{}, nil })
	if !r.Has("fixtures:counter") {
		t.Fatal("expected Has to report true after registration")
	}
}
