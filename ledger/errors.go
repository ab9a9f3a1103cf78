/*
errors.go - Store-level error types

PURPOSE:
  Errors every Store implementation returns, so callers can classify
  failures with errors.Is / errors.As regardless of the backend.

  Store I/O failures are wrapped with %w and surfaced unchanged to the
  caller; retry is the caller's responsibility, there is no built-in
  backoff anywhere in the ledger.
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrEmptyUpdate is returned for a multi-path update with no writes.
	ErrEmptyUpdate = errors.New("empty multi-path update")

	// ErrInvalidPath is returned for paths the store cannot address.
	ErrInvalidPath = errors.New("invalid store path")

	// ErrOverlappingPaths is returned when one path of an update is an
	// ancestor of another. The hosted database rejects these, so every
	// backend does.
	ErrOverlappingPaths = errors.New("overlapping paths in multi-path update")

	// ErrStoreUnavailable is returned when the backend cannot be reached.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrDecode is returned when a stored node does not fit the destination.
	ErrDecode = errors.New("cannot decode stored value")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// OverlapError names the two conflicting paths of an update.
type OverlapError struct {
	Ancestor   string
	Descendant string
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("overlapping paths in multi-path update: %q contains %q", e.Ancestor, e.Descendant)
}

func (e *OverlapError) Unwrap() error {
	return ErrOverlappingPaths
}

// IsUnavailable reports whether err means the store could not be reached.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
