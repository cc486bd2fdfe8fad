package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidTransition indicates an illegal document status change.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrInsufficientStock indicates a consume exceeding available quantity.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrOverAllocation indicates an allocation exceeding a balance or the payment amount.
	ErrOverAllocation = errors.New("allocation exceeds balance")
	// ErrDuplicateNumber indicates a sequencer integrity violation.
	ErrDuplicateNumber = errors.New("duplicate document number")
	// ErrConcurrencyConflict indicates a lost per-aggregate lock or transaction race.
	// The only retryable kind in the taxonomy.
	ErrConcurrencyConflict = errors.New("concurrent update conflict")
)

// TransitionError carries document context for an illegal status change.
// Unwraps to ErrInvalidTransition.
type TransitionError struct {
	Doc    string
	ID     int64
	Status string
	Action string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s %d: cannot %s while %s", e.Doc, e.ID, e.Action, e.Status)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// NewTransitionError builds a TransitionError for the given document.
func NewTransitionError(doc string, id int64, status, action string) error {
	return &TransitionError{Doc: doc, ID: id, Status: status, Action: action}
}

// IsRetryable reports whether the caller may retry the operation automatically.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}
