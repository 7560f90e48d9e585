package dispatch

import (
	"errors"
	"fmt"
)

// TransportError reports a failed dispatch: network failure, non-2xx status,
// or a backend answer with success=false. It is never retried by this package.
type TransportError struct {
	Action     Action
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("dispatch %s: %v", e.Action, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("dispatch %s: status %d: %s", e.Action, e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("dispatch %s: %s", e.Action, e.Message)
	}
}

// Unwrap returns the underlying cause, if any.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err is or wraps a TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
