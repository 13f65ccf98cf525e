// Package ledger records which (account, message, rule) triples have been
// evaluated and with what outcome, along with each account's scan cursor.
// It is the source of truth for at-most-once classification.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// Outcome is the result of evaluating one message against one rule.
type Outcome string

const (
	// OutcomeMatched means the classifier affirmed the rule.
	OutcomeMatched Outcome = "matched"

	// OutcomeNotMatched means the classifier denied the rule.
	OutcomeNotMatched Outcome = "not_matched"

	// OutcomeFailed means no verdict was obtained. The pair is retried on
	// a later cycle.
	OutcomeFailed Outcome = "failed"
)

// IsTerminal reports whether the outcome may never be overwritten.
func (o Outcome) IsTerminal() bool {
	return o == OutcomeMatched || o == OutcomeNotMatched
}

// ParseOutcome converts a stored outcome string.
func ParseOutcome(s string) (Outcome, error) {
	switch o := Outcome(s); o {
	case OutcomeMatched, OutcomeNotMatched, OutcomeFailed:
		return o, nil
	default:
		return "", fmt.Errorf("unknown outcome %q", s)
	}
}

// Key identifies an evaluation.
type Key struct {
	AccountID int64
	MessageID string
	RuleID    int64
}

// String renders the key for logs.
func (k Key) String() string {
	return fmt.Sprintf("%d/%s/%d", k.AccountID, k.MessageID, k.RuleID)
}

// Record is the stored result for one Key.
type Record struct {
	Key

	Outcome Outcome

	// Attempts counts how many times the pair has been classified,
	// including the one that produced this record.
	Attempts int

	// FailureReason is set for failed outcomes.
	FailureReason string

	// ReceivedAt is when the mailbox received the message. Retries use it
	// to keep processing in arrival order.
	ReceivedAt time.Time

	EvaluatedAt time.Time
}

// Ledger is the durable store behind the scan orchestrator. Implementations
// must be safe for concurrent use by cycles of different accounts.
type Ledger interface {
	// Get returns the record for key, or None if the pair was never
	// evaluated.
	Get(ctx context.Context, key Key) (fn.Option[Record], error)

	// Put stores rec. An absent or failed record is replaced. Replacing
	// a terminal record fails with ErrTerminalRecord and leaves the stored
	// record unchanged.
	Put(ctx context.Context, rec Record) error

	// ListFailed returns the failed records of an account that have been
	// attempted fewer than maxAttempts times, oldest message first. A
	// maxAttempts of zero means no limit.
	ListFailed(ctx context.Context, accountID int64,
		maxAttempts int) ([]Record, error)

	// ListRecent returns the most recently evaluated records.
	ListRecent(ctx context.Context, accountID int64,
		limit int) ([]Record, error)

	// Counts returns the number of records per outcome.
	Counts(ctx context.Context, accountID int64) (map[Outcome]int64, error)

	// Cursor returns the account's watermark, or None before the first
	// successful cycle.
	Cursor(ctx context.Context, accountID int64) (fn.Option[time.Time],
		error)

	// AdvanceCursor moves the watermark forward to w. A w at or before
	// the stored watermark is ignored and reported as false.
	AdvanceCursor(ctx context.Context, accountID int64,
		w time.Time) (bool, error)

	// ResetCursor forgets the watermark so the next cycle starts from the
	// lookback window again.
	ResetCursor(ctx context.Context, accountID int64) error
}
