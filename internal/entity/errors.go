package entity

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidPayload         = errors.New("invalid payload")
	ErrInvalidTransition      = errors.New("invalid transition")
	ErrOwnershipLost          = errors.New("ownership lost")
	ErrStoreUnavailable       = errors.New("store unavailable")
	ErrAttemptBudgetExhausted = errors.New("attempt budget exhausted")
	ErrNotFound               = errors.New("not found")
	ErrDuplicateJob           = errors.New("job already exists")
)

// TransitionError carries the rejected edge. It matches ErrInvalidTransition.
type TransitionError struct {
	From  JobStatus
	Event Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s on %s", e.Event, e.From)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// FailureError exposes a failed job's stored detail as an error value.
type FailureError struct {
	Sentinel error
	Detail   JobError
}

func (e *FailureError) Error() string {
	if e.Sentinel != nil {
		return fmt.Sprintf("%v: %s", e.Sentinel, e.Detail.Message)
	}
	return e.Detail.Message
}

func (e *FailureError) Unwrap() error { return e.Sentinel }

// Unavailable wraps a backend error so that it matches ErrStoreUnavailable.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func InvalidPayload(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidPayload, fmt.Sprintf(format, args...))
}
