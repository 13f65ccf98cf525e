package scan

import "errors"

var (
	// ErrCycleCancelled is returned when a cycle stopped early because its
	// context was cancelled. The cursor is left where it was.
	ErrCycleCancelled = errors.New("scan cycle cancelled")

	// ErrAccountPaused is returned when a cycle is requested for a paused
	// account.
	ErrAccountPaused = errors.New("account is paused")

	// ErrFetchFailed wraps the mailbox error of a cycle whose message
	// listing failed.
	ErrFetchFailed = errors.New("message fetch failed")
)
