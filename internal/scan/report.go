package scan

import (
	"time"
)

// Trigger records what started a cycle.
type Trigger string

const (
	// TriggerScheduled cycles are started by the account's timer.
	TriggerScheduled Trigger = "scheduled"

	// TriggerManual cycles are started by an operator "run now".
	TriggerManual Trigger = "manual"
)

// Status is the final state of a cycle.
type Status string

const (
	// StatusCompleted means every pending pair was attempted and the
	// cursor was advanced.
	StatusCompleted Status = "completed"

	// StatusNoRules means the account had no active rules, so nothing
	// was fetched.
	StatusNoRules Status = "no_rules"

	// StatusFetchFailed means listing messages failed and nothing else
	// happened.
	StatusFetchFailed Status = "fetch_failed"

	// StatusCancelled means the cycle stopped early. Records written
	// before the stop stand, the cursor does not move.
	StatusCancelled Status = "cancelled"

	// StatusFailed means the cycle could not start, for example because
	// the rules could not be loaded.
	StatusFailed Status = "failed"
)

// CycleReport is the outcome of one scan cycle of one account.
type CycleReport struct {
	CycleID   string    `json:"cycle_id"`
	AccountID int64     `json:"account_id"`
	Trigger   Trigger   `json:"trigger"`
	Status    Status    `json:"status"`
	StartedAt time.Time `json:"started_at"`

	FinishedAt time.Time `json:"finished_at"`

	// Fetched is the number of messages listed in the fetch window.
	Fetched int `json:"fetched"`

	// Retried is the number of messages outside the window revisited for
	// earlier failed pairs.
	Retried int `json:"retried"`

	// Evaluated counts classifier calls, whatever their outcome.
	Evaluated int `json:"evaluated"`

	Matched int `json:"matched"`
	Failed  int `json:"failed"`

	// Skipped counts pairs already decided or out of retries.
	Skipped int `json:"skipped"`

	// LabelFailures counts matched pairs whose label or action could not
	// be applied.
	LabelFailures int `json:"label_failures"`

	// CursorAdvanced is set when the cycle moved the cursor to Cursor.
	CursorAdvanced bool      `json:"cursor_advanced"`
	Cursor         time.Time `json:"cursor,omitempty"`

	// NeedsAttention is set when this cycle's auth failure pushed the
	// account over the threshold.
	NeedsAttention bool `json:"needs_attention,omitempty"`

	Error string `json:"error,omitempty"`
}

// Duration is how long the cycle ran.
func (r CycleReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
