package orchestration

import (
	"errors"
	"fmt"

	"evalgo.org/kiwi/models"
)

var (
	// ErrUnknownJob is returned for job ids that are neither watched nor in the ledger.
	ErrUnknownJob = errors.New("job not found")

	// ErrInvalidRequest wraps request problems found before any dispatch.
	ErrInvalidRequest = errors.New("invalid request")
)

// PreconditionError means the operation is not allowed in the current
// installation or mapping state. It is raised locally and never retried.
type PreconditionError struct {
	Op      string
	InfraID int
	Reason  string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s on infra %d not possible: %s", e.Op, e.InfraID, e.Reason)
}

// AuthMismatchError means a typed password differs from the password that
// would be dispatched for the same hop. Nothing was dispatched.
type AuthMismatchError struct {
	HopIndex int
	Host     string
}

func (e *AuthMismatchError) Error() string {
	return fmt.Sprintf("entered password for hop %d (%s) does not match the stored credential", e.HopIndex, e.Host)
}

// CredentialsRequiredError parks an operation until credentials are submitted
// with Continue. It is not a failure.
type CredentialsRequiredError struct {
	Session models.AuthSessionView
}

func (e *CredentialsRequiredError) Error() string {
	return fmt.Sprintf("credentials required for %s (session %s)", e.Session.Purpose, e.Session.ID)
}

// RemoteJobFailure is the outcome error of a job that ended Failed or
// PartiallyFailed on the backend.
type RemoteJobFailure struct {
	JobID   string
	Status  models.JobStatus
	Message string
}

func (e *RemoteJobFailure) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("job %s ended %s", e.JobID, e.Status)
	}
	return fmt.Sprintf("job %s ended %s: %s", e.JobID, e.Status, e.Message)
}

// IsPrecondition reports whether err is or wraps a PreconditionError.
func IsPrecondition(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}

// IsCredentialsRequired returns the parked session when err asks for credentials.
func IsCredentialsRequired(err error) (models.AuthSessionView, bool) {
	var ce *CredentialsRequiredError
	if errors.As(err, &ce) {
		return ce.Session, true
	}
	return models.AuthSessionView{}, false
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
