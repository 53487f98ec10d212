package posting

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrCollaboratorTimeout = errors.New("collaborator timeout")
	ErrCollaboratorError   = errors.New("collaborator error")
	ErrPersistenceConflict = errors.New("persistence conflict")
	ErrStoreUnavailable    = errors.New("store unavailable")
	ErrNotFound            = errors.New("not found")
	ErrRunLocked           = errors.New("another reconciliation run holds the lock")
)

// FieldProblem describes one rejected field of an incoming payload.
type FieldProblem struct {
	Field   string
	Message string
}

// ValidationError marks a malformed or incomplete incoming record. The record
// is skipped and the batch continues.
type ValidationError struct {
	SourceID string
	Problems []FieldProblem
	Err      error
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("invalid posting")
	if e.SourceID != "" {
		fmt.Fprintf(&b, " %q", e.SourceID)
	}
	if len(e.Problems) > 0 {
		parts := make([]string, 0, len(e.Problems))
		for _, p := range e.Problems {
			parts = append(parts, p.Field+": "+p.Message)
		}
		b.WriteString(": ")
		b.WriteString(strings.Join(parts, "; "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ReconciliationFailure is raised for a single record after its persistence
// retries are exhausted. It never aborts the batch.
type ReconciliationFailure struct {
	SourceKey string
	Attempts  int
	Err       error
}

func (e *ReconciliationFailure) Error() string {
	return fmt.Sprintf("reconcile %s failed after %d attempt(s): %v", e.SourceKey, e.Attempts, e.Err)
}

func (e *ReconciliationFailure) Unwrap() error {
	return e.Err
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsCollaboratorFailure reports whether err should degrade to a heuristic-only result.
func IsCollaboratorFailure(err error) bool {
	return errors.Is(err, ErrCollaboratorTimeout) || errors.Is(err, ErrCollaboratorError)
}
