package iv

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds. Implementations wrap these with fmt.Errorf("%w: ...") so callers
// classify failures with errors.Is.
var (
	ErrConfiguration  = errors.New("configuration error")
	ErrIntegrity      = errors.New("integrity error")
	ErrTransientIO    = errors.New("transient i/o error")
	ErrAuthorization  = errors.New("authorization error")
	ErrQuota          = errors.New("quota exceeded")
	ErrAlreadyRunning = errors.New("job already running")
	ErrNotFound       = errors.New("not found")

	// ErrCancelled marks a run that stopped on request. It is a terminal
	// state, not a failure.
	ErrCancelled = errors.New("run cancelled")
)

// IsRetryable reports whether err may succeed on another attempt.
// Authorization and quota failures are never retried even when the
// underlying transport also flagged them as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuthorization) || errors.Is(err, ErrQuota) || errors.Is(err, ErrIntegrity) {
		return false
	}
	return errors.Is(err, ErrTransientIO) || errors.Is(err, context.DeadlineExceeded)
}

// PhaseError wraps the error that ended a run with the phase it happened in.
type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }
