package attendance

import (
	"errors"
	"fmt"
)

var (
	// ErrDetectionAbsent is returned by enrollment when the image contains no usable face.
	ErrDetectionAbsent = errors.New("face not detected in the image")

	// ErrIdentityNotFound is returned when an external UID has no enrolled identity.
	ErrIdentityNotFound = errors.New("identity not found")

	// ErrInvalidInput wraps every validation failure of a request.
	ErrInvalidInput = errors.New("invalid input")
)

// PersistenceError describes a failed write. During reconciliation these are
// logged and counted, never returned.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
