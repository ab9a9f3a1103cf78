/*
result.go - Typed outcomes of ledger mutations

ERROR TIERS:
  (a) Preconditions: unauthenticated actor, blank correction reason,
      already-voided transaction, offline for an online-only operation...
      These are NOT errors. They come back as Result.Failure so callers
      (and UI toggles) can branch on them without unwinding. Never retried.

  (b) Store I/O: returned as error, wrapped with %w. Retry is the caller's
      responsibility; there is no built-in backoff.

  (c) Partial orchestrations: a later step failed after an earlier one
      committed. Returned as *PartialError listing the committed steps.
      Nothing is rolled back; the steps are written so that re-running the
      operation converges (merges are idempotent, aggregates refold).
*/
package reception

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// RESULT - Tier (a) outcomes
// =============================================================================

// Failure is a precondition failure code. The zero value means success.
type Failure string

const (
	FailUnauthenticated  Failure = "unauthenticated"
	FailBlankReason      Failure = "blank_reason"
	FailAlreadyVoided    Failure = "already_voided"
	FailAlreadyCorrected Failure = "already_corrected"
	FailNotFound         Failure = "not_found"
	FailOffline          Failure = "no_network"
	FailConflict         Failure = "conflict"
	FailNoMatch          Failure = "no_match"
	FailInvalid          Failure = "invalid"
)

// Result is returned by every mutation alongside an error.
type Result struct {
	// ID of the record the mutation created or targeted.
	ID      string  `json:"id,omitempty"`
	Failure Failure `json:"failure,omitempty"`
	Message string  `json:"message,omitempty"`
	// Queued is set when the offline backend accepted the write for replay.
	Queued bool `json:"queued,omitempty"`
}

// OK reports whether the mutation passed its preconditions.
func (r Result) OK() bool { return r.Failure == "" }

func ok(id string) Result { return Result{ID: id} }

func fail(f Failure, format string, args ...any) Result {
	return Result{Failure: f, Message: fmt.Sprintf(format, args...)}
}

func unauthenticated() Result {
	return fail(FailUnauthenticated, "an authenticated user is required")
}

// =============================================================================
// PARTIAL ERROR - Tier (c)
// =============================================================================

// ErrPartialWrite classifies *PartialError with errors.Is.
var ErrPartialWrite = errors.New("partial write")

// PartialError reports an orchestration that stopped after committing some
// of its steps.
type PartialError struct {
	Op        string
	Completed []string
	Failed    string
	Err       error
}

func (e *PartialError) Error() string {
	done := "none"
	if len(e.Completed) > 0 {
		done = strings.Join(e.Completed, ", ")
	}
	return fmt.Sprintf("%s: step %q failed after [%s]: %v", e.Op, e.Failed, done, e.Err)
}

func (e *PartialError) Unwrap() []error {
	return []error{ErrPartialWrite, e.Err}
}

// steps tracks committed steps of a non-atomic orchestration.
type steps struct {
	op   string
	done []string
}

func (s *steps) commit(name string) { s.done = append(s.done, name) }

// fail wraps err. When nothing committed yet the plain error is returned,
// since the store is unchanged.
func (s *steps) fail(name string, err error) error {
	if len(s.done) == 0 {
		return fmt.Errorf("%s: %s: %w", s.op, name, err)
	}
	return &PartialError{Op: s.op, Completed: append([]string(nil), s.done...), Failed: name, Err: err}
}
