package mailbox

import (
	"errors"
	"fmt"
)

var (
	// ErrMessageNotFound is returned when a message no longer exists.
	ErrMessageNotFound = errors.New("message not found")

	// ErrUnsupportedProvider is returned by the Router for accounts whose
	// provider has no backend.
	ErrUnsupportedProvider = errors.New("unsupported mailbox provider")
)

// TransientError is a failure that is expected to clear on its own, such as
// a network error or a rate limit. The next cycle retries with the cursor
// unchanged.
type TransientError struct {
	Op  string
	Err error
}

// Error returns the error message.
func (e *TransientError) Error() string {
	return fmt.Sprintf("transient %s failure: %v", e.Op, e.Err)
}

// Unwrap returns the wrapped error.
func (e *TransientError) Unwrap() error {
	return e.Err
}

// AuthError means the provider rejected the account's credentials. It does
// not clear until the operator reconnects the account.
type AuthError struct {
	Op  string
	Err error
}

// Error returns the error message.
func (e *AuthError) Error() string {
	return fmt.Sprintf("auth failure during %s: %v", e.Op, e.Err)
}

// Unwrap returns the wrapped error.
func (e *AuthError) Unwrap() error {
	return e.Err
}

// LabelApplyError is returned once labeling a message or running its action
// has failed on every attempt.
type LabelApplyError struct {
	MessageID string
	Label     string
	Attempts  int
	Err       error
}

// Error returns the error message.
func (e *LabelApplyError) Error() string {
	return fmt.Sprintf("apply %q to message %s failed after %d "+
		"attempt(s): %v", e.Label, e.MessageID, e.Attempts, e.Err)
}

// Unwrap returns the wrapped error.
func (e *LabelApplyError) Unwrap() error {
	return e.Err
}

// IsTransient returns true if err is or wraps a *TransientError.
func IsTransient(err error) bool {
	var tErr *TransientError
	return errors.As(err, &tErr)
}

// IsAuth returns true if err is or wraps an *AuthError.
func IsAuth(err error) bool {
	var aErr *AuthError
	return errors.As(err, &aErr)
}

// IsLabelApply returns true if err is or wraps a *LabelApplyError.
func IsLabelApply(err error) bool {
	var lErr *LabelApplyError
	return errors.As(err, &lErr)
}
