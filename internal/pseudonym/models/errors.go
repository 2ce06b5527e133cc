package models

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the pseudonym engine. Use errors.Is to classify.
var (
	// ErrInvalidConfiguration rejects a Population construction attempt:
	// wrong key length, empty word table, non-positive population size.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrBackendFailure wraps any failure of the persistence bridge.
	ErrBackendFailure = errors.New("backend failure")
	// ErrDecodeCorruption marks a stored record that failed validation on read.
	// Corrupt records are surfaced and never overwritten.
	ErrDecodeCorruption = errors.New("stored record corrupt")
)

// ResolveError describes a failed resolution. It only ever carries the
// digest of the identifier, never the identifier or the key.
type ResolveError struct {
	Op     string
	Digest Digest
	Kind   error
	Err    error
}

func (e *ResolveError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Digest.Short(), e.Kind)
	}
	return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Digest.Short(), e.Kind, e.Err)
}

// Is matches the error kind so callers can test errors.Is(err, ErrBackendFailure).
func (e *ResolveError) Is(target error) bool {
	return target == e.Kind
}

func (e *ResolveError) Unwrap() error {
	return e.Err
}
