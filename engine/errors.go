package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rustyeddy/cfdledger/risk"
)

// Sentinels for errors.Is. Every typed error below matches one of them.
var (
	ErrValidation         = errors.New("validation failed")
	ErrInsufficientMargin = errors.New("insufficient margin")
	ErrInvalidState       = errors.New("invalid state")
	ErrNotFound           = errors.New("not found")
	ErrConsistency        = errors.New("consistency check failed")
)

// ValidationError rejects a malformed or constraint violating request before
// anything is mutated.
type ValidationError struct {
	Field  string
	Reason string
	Codes  []string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return "validation [" + e.Field + "]: " + e.Reason
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// InsufficientMarginError is the ValidationError raised when the required
// margin does not fit in the free margin.
type InsufficientMarginError struct {
	Required  float64
	Available float64
}

func (e *InsufficientMarginError) Error() string {
	return fmt.Sprintf("insufficient margin: required %.2f, available %.2f", e.Required, e.Available)
}

func (e *InsufficientMarginError) Is(target error) bool {
	return target == ErrInsufficientMargin || target == ErrValidation
}

// InvalidStateError is an operation that is illegal for the entity's
// current state.
type InvalidStateError struct {
	Entity string
	ID     string
	State  string
	Op     string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s %s: cannot %s in state %s", e.Entity, e.ID, e.Op, e.State)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ConsistencyError means a full recompute from the log disagreed with the
// memoized aggregate. It is fatal for the account: later writes return it.
type ConsistencyError struct {
	AccountID string
	Field     string
	Memo      float64
	Replayed  float64
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("account %s: %s drifted: memo %.8f, replay %.8f (writes halted)",
		e.AccountID, e.Field, e.Memo, e.Replayed)
}

func (e *ConsistencyError) Unwrap() error { return ErrConsistency }

// decisionError turns a rejected risk decision into the matching error.
func decisionError(d risk.Decision) error {
	if d.Allowed {
		return nil
	}
	if len(d.Violations) == 1 && d.Violations[0].Code == risk.CodeInsufficientMargin {
		return &InsufficientMarginError{Required: d.RequiredMargin, Available: d.FreeMargin}
	}

	msgs := make([]string, 0, len(d.Violations))
	codes := make([]string, 0, len(d.Violations))
	for _, v := range d.Violations {
		msgs = append(msgs, v.Msg)
		codes = append(codes, v.Code)
	}
	return &ValidationError{Field: "order", Reason: strings.Join(msgs, "; "), Codes: codes}
}
