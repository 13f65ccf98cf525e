// Package classifier asks a language model whether a message satisfies a
// natural-language rule.
package classifier

import (
	"context"
	"errors"
	"fmt"
)

// Verdict is the model's answer for one message and rule.
type Verdict uint8

const (
	// NotMatched means the model denied the rule.
	NotMatched Verdict = iota

	// Matched means the model affirmed the rule.
	Matched
)

// String returns the verdict name.
func (v Verdict) String() string {
	if v == Matched {
		return "matched"
	}

	return "not_matched"
}

// Gateway is the classification capability the scan orchestrator depends
// on. A nil error always comes with a verdict. Any failure to get one is
// reported as a *ClassifierError.
type Gateway interface {
	Classify(ctx context.Context, emailText, promptText string) (Verdict,
		error)
}

// Reason classifies why no verdict was produced.
type Reason string

const (
	// ReasonTimeout means the call outlived its deadline.
	ReasonTimeout Reason = "timeout"

	// ReasonTransport means the model server could not be reached or
	// returned an error status.
	ReasonTransport Reason = "transport"

	// ReasonMalformed means the model answered with something that is
	// not a yes or no.
	ReasonMalformed Reason = "malformed"
)

// ClassifierError is returned when no verdict could be obtained. The pair
// is recorded as failed and retried on a later cycle.
type ClassifierError struct {
	Reason Reason
	Err    error
}

// Error returns the error message.
func (e *ClassifierError) Error() string {
	return fmt.Sprintf("classifier %s: %v", e.Reason, e.Err)
}

// Unwrap returns the wrapped error.
func (e *ClassifierError) Unwrap() error {
	return e.Err
}

// IsClassifierError returns true if err is or wraps a *ClassifierError.
func IsClassifierError(err error) bool {
	var clsErr *ClassifierError
	return errors.As(err, &clsErr)
}

// classifyErr maps a transport level error to a ClassifierError, telling a
// deadline apart from everything else.
func classifyErr(ctx context.Context, err error) *ClassifierError {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(ctx.Err(), context.DeadlineExceeded) {

		return &ClassifierError{Reason: ReasonTimeout, Err: err}
	}

	return &ClassifierError{Reason: ReasonTransport, Err: err}
}
