package core

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by stores when the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrExpired is returned when a working memory record exists but its TTL has
// passed; callers must treat the record as absent.
var ErrExpired = errors.New("working memory expired")

// PreconditionError reports a missing required input for a dispatch (e.g. the
// subject identifier for record-bound intents). It is surfaced directly to the
// user without invoking any task executor.
type PreconditionError struct {
	Missing string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition failed: missing %s", e.Missing)
}

// StoreError wraps a durable persistence failure. It is fatal for the current
// turn: the supervisor reports a generic failure without asserting anything
// succeeded.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }

func (e *StoreError) Unwrap() error { return e.Err }

// PendingConfirmationError signals that a proposed mutation requires explicit
// user confirmation before it may commit. It is a first-class outcome, not a
// failure; no mutation has occurred.
type PendingConfirmationError struct {
	Proposal *Proposal
}

func (e *PendingConfirmationError) Error() string {
	return fmt.Sprintf("mutation %s on %s requires confirmation", e.Proposal.Change.Action, e.Proposal.Change.ResourceKind)
}

// AsPendingConfirmation unwraps err into a PendingConfirmationError if present.
func AsPendingConfirmation(err error) (*PendingConfirmationError, bool) {
	var pc *PendingConfirmationError
	if errors.As(err, &pc) {
		return pc, true
	}
	return nil, false
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
