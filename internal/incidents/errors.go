package incidents

import (
	"errors"
	"fmt"
)

var (
	ErrMissingFields     = errors.New("missing fields")
	ErrSignatureMismatch = errors.New("signature mismatch")
	ErrSelfVerification  = errors.New("reporter cannot verify own incident")
	ErrInvalidStatus     = errors.New("invalid status")
	ErrNotVerified       = errors.New("incident is not verified")
	ErrNotFound          = errors.New("incident not found")
)

// InternalError marks a store or transport failure. The operation was not
// retried; the caller may resubmit.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

func internal(op string, err error) error {
	return &InternalError{Op: op, Err: err}
}

// IsBadRequest reports whether err was caused by the client.
func IsBadRequest(err error) bool {
	return errors.Is(err, ErrMissingFields) ||
		errors.Is(err, ErrSignatureMismatch) ||
		errors.Is(err, ErrSelfVerification) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrNotVerified)
}
