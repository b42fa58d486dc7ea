// Package factory realizes the ObjectFactory collaborator (§6 of the
// daemon entrypoint contract): the daemon receives an opaque factory
// reference string and must produce a singleton instance from it. The
// source system resolves that string via a language-level dynamic
// import (module:qualname); Go has no equivalent at runtime, so the
// daemon entrypoint links a Registry that maps reference strings to
// constructor functions ahead of time, and the factory reference
// becomes a plain lookup key into that table.
package factory

import "fmt"

// Constructor builds a singleton instance. args are passed through
// verbatim from the daemon entrypoint's configuration.
type Constructor func(args ...any) (any, error)

// Registry maps factory reference strings to constructors.
type Registry struct {
	constructors map[string]Constructor
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Register associates ref with ctor. Registering the same ref twice
// replaces the previous constructor, mirroring a module being
// reimported with a redefined symbol.
func (r *Registry) Register(ref string, ctor Constructor) {
	r.constructors[ref] = ctor
}

// Build resolves ref and invokes its constructor with args.
func (r *Registry) Build(ref string, args ...any) (any, error) {
	ctor, ok := r.constructors[ref]
	if !ok {
		return nil, fmt.Errorf("factory: no constructor registered for %q", ref)
	}
	obj, err := ctor(args...)
	if err != nil {
		return nil, fmt.Errorf("factory: constructing %q: %w", ref, err)
	}
	return obj, nil
}

// Has reports whether ref has a registered constructor, without
// invoking it.
func (r *Registry) Has(ref string) bool {
	_, ok := r.constructors[ref]
	return ok
}
