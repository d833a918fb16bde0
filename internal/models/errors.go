package models

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedInput matches any *MalformedInputError via errors.Is.
	ErrMalformedInput = errors.New("malformed input")

	// ErrConnectionDegraded is reported in state transitions, never returned from ingestion.
	ErrConnectionDegraded = errors.New("connection degraded")

	// ErrNotFound is returned by lookups for unknown ids.
	ErrNotFound = errors.New("not found")
)

// MalformedInputError describes a record missing a required field.
type MalformedInputError struct {
	Kind  string // "event" or "session"
	ID    string
	Field string
}

func (e *MalformedInputError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("malformed %s %s: missing %s", e.Kind, e.ID, e.Field)
	}
	return fmt.Sprintf("malformed %s: missing %s", e.Kind, e.Field)
}

func (e *MalformedInputError) Is(target error) bool {
	return target == ErrMalformedInput
}

// DerivationError wraps a failure computing one session's status.
type DerivationError struct {
	SessionID string
	Cause     error
}

func (e *DerivationError) Error() string {
	return fmt.Sprintf("derive status for session %s: %v", e.SessionID, e.Cause)
}

func (e *DerivationError) Unwrap() error {
	return e.Cause
}
