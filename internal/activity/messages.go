// Package activity keeps the operator-facing event log: labels applied,
// fetch errors, skipped ticks and similar per-account events.
package activity

import (
	"time"
)

// Type classifies an activity entry.
type Type string

const (
	// TypeLabelApplied records a label put on a message.
	TypeLabelApplied Type = "label_applied"

	// TypeActionApplied records an archive, spam or trash action.
	TypeActionApplied Type = "action_applied"

	// TypeLabelFailed records a label or action that could not be
	// applied after retries.
	TypeLabelFailed Type = "label_failed"

	// TypeFetchFailed records a cycle aborted by a mailbox error.
	TypeFetchFailed Type = "fetch_failed"

	// TypeNeedsAttention records an account taken off the schedule after
	// repeated auth failures.
	TypeNeedsAttention Type = "needs_attention"

	// TypeCycleSkipped records a tick dropped because a cycle was still
	// running.
	TypeCycleSkipped Type = "cycle_skipped"

	// TypeCycleCompleted records a finished cycle that did some work.
	TypeCycleCompleted Type = "cycle_completed"
)

// Request is the sealed interface for activity service requests.
type Request interface {
	isActivityRequest()
}

// Response is the sealed interface for activity service responses.
type Response interface {
	isActivityResponse()
}

// Activity is a single log entry.
type Activity struct {
	ID int64

	// AccountID is zero for entries not tied to an account.
	AccountID int64

	Type        Type
	Description string

	// Metadata is optional JSON.
	Metadata string

	CreatedAt time.Time
}

// RecordRequest appends an entry.
type RecordRequest struct {
	AccountID   int64
	Type        Type
	Description string
	Metadata    string
}

func (RecordRequest) isActivityRequest() {}

// RecordResponse is the response to a RecordRequest.
type RecordResponse struct {
	Error error
}

func (RecordResponse) isActivityResponse() {}

// ListRecentRequest lists the newest entries across all accounts.
type ListRecentRequest struct {
	// Limit is the maximum number of activities to return.
	Limit int
}

func (ListRecentRequest) isActivityRequest() {}

// ListRecentResponse is the response to a ListRecentRequest.
type ListRecentResponse struct {
	Activities []Activity
	Error      error
}

func (ListRecentResponse) isActivityResponse() {}

// ListByAccountRequest lists entries for one account.
type ListByAccountRequest struct {
	AccountID int64

	// Limit is the maximum number of activities to return.
	Limit int
}

func (ListByAccountRequest) isActivityRequest() {}

// ListByAccountResponse is the response to a ListByAccountRequest.
type ListByAccountResponse struct {
	Activities []Activity
	Error      error
}

func (ListByAccountResponse) isActivityResponse() {}

// CleanupRequest prunes entries older than OlderThan, then trims the log to
// at most MaxRows entries when MaxRows is positive.
type CleanupRequest struct {
	OlderThan time.Time
	MaxRows   int
}

func (CleanupRequest) isActivityRequest() {}

// CleanupResponse is the response to a CleanupRequest.
type CleanupResponse struct {
	Deleted int64
	Error   error
}

func (CleanupResponse) isActivityResponse() {}
