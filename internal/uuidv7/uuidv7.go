// Package uuidv7 generates time-ordered UUIDs used as internal,
// never-wire identifiers: stable handles for correlating a session's
// log lines across its lifetime without exposing anything through the
// protocol itself.
package uuidv7

import "github.com/google/uuid"

// New returns a UUIDv7 value, or panics if the platform's random
// source is unavailable.
func New() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewString returns a string representation of a UUIDv7.
func NewString() string {
	return New().String()
}
