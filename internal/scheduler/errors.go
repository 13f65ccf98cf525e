package scheduler

import "errors"

var (
	// ErrUnknownAccount is returned when an account has no task.
	ErrUnknownAccount = errors.New("account is not scheduled")

	// ErrCycleInFlight is returned by RunNow when the account already has
	// a cycle running. The request counts as a skipped tick.
	ErrCycleInFlight = errors.New("scan cycle already in flight")

	// ErrNotStarted is returned when the scheduler is used before Start.
	ErrNotStarted = errors.New("scheduler not started")
)
