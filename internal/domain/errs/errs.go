// Package errs defines the error taxonomy shared by the workflow engine and the batch processor.
// Every specific error wraps exactly one kind so callers classify with errors.Is.
package errs

import (
	"errors"
	"fmt"
)

// Error kinds
var (
	// ErrValidation marks malformed input rejected before any state mutation
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks an unknown workflow, step, batch, item or customer
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized marks a caller that is not the assigned approver or owner
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidTransition marks a transition the state machine does not permit
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrDownstream marks a failed appointment materialization. It is recorded on
	// the item and never returned from a request.
	ErrDownstream = errors.New("downstream failure")
)

// Workflow engine errors
var (
	ErrInvalidWorkflowRequest  = fmt.Errorf("%w: invalid workflow request", ErrValidation)
	ErrInvalidVerdict          = fmt.Errorf("%w: invalid verdict", ErrValidation)
	ErrWorkflowNotFound        = fmt.Errorf("%w: workflow", ErrNotFound)
	ErrStepNotFound            = fmt.Errorf("%w: step", ErrNotFound)
	ErrNotApprover             = fmt.Errorf("%w: caller is not the approver of this step", ErrUnauthorized)
	ErrNotRequester            = fmt.Errorf("%w: caller is not the requester of this workflow", ErrUnauthorized)
	ErrStepNotActive           = fmt.Errorf("%w: step is not the active step", ErrInvalidTransition)
	ErrStepAlreadyDecided      = fmt.Errorf("%w: step already decided", ErrInvalidTransition)
	ErrWorkflowAlreadyTerminal = fmt.Errorf("%w: workflow already terminal", ErrInvalidTransition)
)

// Batch processor errors
var (
	ErrInvalidBatchRequest  = fmt.Errorf("%w: invalid batch request", ErrValidation)
	ErrBatchNotFound        = fmt.Errorf("%w: batch", ErrNotFound)
	ErrItemNotFound         = fmt.Errorf("%w: batch item", ErrNotFound)
	ErrCustomerNotFound     = fmt.Errorf("%w: customer", ErrNotFound)
	ErrNotBatchOwner        = fmt.Errorf("%w: caller does not own this batch", ErrUnauthorized)
	ErrNotCustomerOwner     = fmt.Errorf("%w: customer does not belong to caller", ErrUnauthorized)
	ErrBatchAlreadyTerminal = fmt.Errorf("%w: batch already terminal", ErrInvalidTransition)
	ErrBatchBusy            = fmt.Errorf("%w: batch is still processing", ErrInvalidTransition)
	ErrNothingToRetry       = fmt.Errorf("%w: batch has no failed items", ErrInvalidTransition)
	ErrItemNotRetryable     = fmt.Errorf("%w: item is not failed", ErrInvalidTransition)
	ErrBatchNotCancellable  = fmt.Errorf("%w: batch cannot be cancelled", ErrInvalidTransition)
)

// ErrConcurrentModification is returned when an optimistic version check loses a race
var ErrConcurrentModification = fmt.Errorf("%w: entity was modified concurrently", ErrInvalidTransition)

// Kind is the classification of an error
type Kind string

const (
	KindValidation        Kind = "VALIDATION_ERROR"
	KindNotFound          Kind = "NOT_FOUND"
	KindUnauthorized      Kind = "UNAUTHORIZED"
	KindInvalidTransition Kind = "INVALID_TRANSITION"
	KindDownstream        Kind = "DOWNSTREAM_FAILURE"
	KindInternal          Kind = "INTERNAL"
)

// KindOf classifies err. Unclassified errors are internal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, ErrDownstream):
		return KindDownstream
	default:
		return KindInternal
	}
}

// Validationf returns a validation error wrapping base with a formatted detail
func Validationf(base error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", base, fmt.Sprintf(format, args...))
}
