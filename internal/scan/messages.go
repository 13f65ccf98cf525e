package scan

import (
	"time"

	"github.com/roasbeef/labeler/internal/accounts"
	"github.com/roasbeef/labeler/internal/ledger"
)

// Request is the sealed interface for scan service requests.
type Request interface {
	isScanRequest()
}

// Response is the sealed interface for scan service responses.
type Response interface {
	isScanResponse()
}

// TaskState is the scheduler's view of an account.
type TaskState string

const (
	// TaskScheduled accounts are waiting for their next tick.
	TaskScheduled TaskState = "scheduled"

	// TaskRunning accounts have a cycle in flight.
	TaskRunning TaskState = "running"

	// TaskStopped accounts have no timer.
	TaskStopped TaskState = "stopped"
)

// TaskInfo describes the scheduler task of one account.
type TaskInfo struct {
	AccountID int64     `json:"account_id"`
	State     TaskState `json:"state"`

	Interval time.Duration `json:"interval"`
	NextRun  time.Time     `json:"next_run,omitempty"`
	LastRun  time.Time     `json:"last_run,omitempty"`

	// SkippedTicks counts ticks dropped because a cycle was still
	// running.
	SkippedTicks int `json:"skipped_ticks"`
}

// Runner is the scheduler surface the service needs.
type Runner interface {
	// RunNow starts a manual cycle in the background.
	RunNow(accountID int64) error

	// TaskInfo returns the task of an account, if it has one.
	TaskInfo(accountID int64) (TaskInfo, bool)
}

// AccountStatus is the operator's view of one account.
type AccountStatus struct {
	Account accounts.Account
	Health  accounts.HealthStatus
	Task    TaskInfo

	// Cursor is the zero time when the account was never scanned.
	Cursor time.Time

	Counts    map[ledger.Outcome]int64
	LastCycle *CycleReport
}

// AccountStatusRequest asks for the status of one account, or of every
// account when AccountID is zero.
type AccountStatusRequest struct {
	AccountID int64
}

func (AccountStatusRequest) isScanRequest() {}

// AccountStatusResponse is the response to an AccountStatusRequest.
type AccountStatusResponse struct {
	Statuses []AccountStatus
	Error    error
}

func (AccountStatusResponse) isScanResponse() {}

// CyclesRequest lists the recent cycles of an account.
type CyclesRequest struct {
	AccountID int64
	Limit     int
}

func (CyclesRequest) isScanRequest() {}

// CyclesResponse is the response to a CyclesRequest.
type CyclesResponse struct {
	Cycles []CycleReport
	Error  error
}

func (CyclesResponse) isScanResponse() {}

// RunNowRequest starts a manual cycle.
type RunNowRequest struct {
	AccountID int64
}

func (RunNowRequest) isScanRequest() {}

// RunNowResponse is the response to a RunNowRequest.
type RunNowResponse struct {
	Error error
}

func (RunNowResponse) isScanResponse() {}

// LedgerRequest lists recent ledger records of an account.
type LedgerRequest struct {
	AccountID int64
	Limit     int

	// FailedOnly restricts the listing to retryable records.
	FailedOnly bool
}

func (LedgerRequest) isScanRequest() {}

// LedgerResponse is the response to a LedgerRequest.
type LedgerResponse struct {
	Records []ledger.Record
	Error   error
}

func (LedgerResponse) isScanResponse() {}
