package scan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/roasbeef/labeler/internal/accounts"
	"github.com/roasbeef/labeler/internal/ledger"
	"github.com/roasbeef/labeler/internal/rules"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	runs  []int64
	err   error
	tasks map[int64]TaskInfo
}

func (f *fakeRunner) RunNow(accountID int64) error {
	if f.err != nil {
		return f.err
	}
	f.runs = append(f.runs, accountID)

	return nil
}

func (f *fakeRunner) TaskInfo(accountID int64) (TaskInfo, bool) {
	info, ok := f.tasks[accountID]
	return info, ok
}

// memHistory keeps reports in a slice, newest last.
type memHistory struct {
	reports []CycleReport
}

func (m *memHistory) Save(_ context.Context, r CycleReport) error {
	m.reports = append(m.reports, r)
	return nil
}

func (m *memHistory) List(_ context.Context, accountID int64,
	limit int) ([]CycleReport, error) {

	var out []CycleReport
	for i := len(m.reports) - 1; i >= 0; i-- {
		if m.reports[i].AccountID == accountID {
			out = append(out, m.reports[i])
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}

	return out, nil
}

func (m *memHistory) Prune(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func TestServiceAccountStatus(t *testing.T) {
	h := newHarness(DefaultConfig())
	hist := &memHistory{}
	h.orch.deps.History = hist

	h.rules.Add(rules.Rule{PromptText: "p", LabelName: "L"})
	h.deliver("m1", h.now.Add(-time.Minute))
	h.cls.decide = matchSubjects("m1")

	ctx := context.Background()
	_, err := h.orch.RunCycle(ctx, h.acct.ID, TriggerScheduled)
	require.NoError(t, err)

	runner := &fakeRunner{tasks: map[int64]TaskInfo{
		h.acct.ID: {
			AccountID: h.acct.ID, State: TaskScheduled,
			Interval: time.Minute,
		},
	}}
	svc := NewService(ServiceConfig{
		Accounts: h.accounts,
		Ledger:   h.ledger,
		History:  hist,
		Runner:   runner,
	}, nil)

	resp, err := svc.Receive(ctx, AccountStatusRequest{}).Unpack()
	require.NoError(t, err)
	status := resp.(AccountStatusResponse)
	require.NoError(t, status.Error)
	require.Len(t, status.Statuses, 1)

	st := status.Statuses[0]
	require.Equal(t, accounts.HealthOK, st.Health)
	require.Equal(t, TaskScheduled, st.Task.State)
	require.EqualValues(t, 1, st.Counts[ledger.OutcomeMatched])
	require.False(t, st.Cursor.IsZero())
	require.NotNil(t, st.LastCycle)
	require.Equal(t, 1, st.LastCycle.Matched)

	resp, err = svc.Receive(ctx, CyclesRequest{
		AccountID: h.acct.ID,
	}).Unpack()
	require.NoError(t, err)
	require.Len(t, resp.(CyclesResponse).Cycles, 1)

	resp, err = svc.Receive(ctx, LedgerRequest{
		AccountID: h.acct.ID,
	}).Unpack()
	require.NoError(t, err)
	require.Len(t, resp.(LedgerResponse).Records, 1)

	resp, err = svc.Receive(ctx, LedgerRequest{
		AccountID: h.acct.ID, FailedOnly: true,
	}).Unpack()
	require.NoError(t, err)
	require.Empty(t, resp.(LedgerResponse).Records)
}

func TestServiceRunNow(t *testing.T) {
	h := newHarness(DefaultConfig())
	runner := &fakeRunner{}
	svc := NewService(ServiceConfig{
		Accounts: h.accounts,
		Ledger:   h.ledger,
		Runner:   runner,
	}, nil)
	ctx := context.Background()

	resp, err := svc.Receive(ctx, RunNowRequest{AccountID: h.acct.ID}).Unpack()
	require.NoError(t, err)
	require.NoError(t, resp.(RunNowResponse).Error)
	require.Equal(t, []int64{h.acct.ID}, runner.runs)

	resp, err = svc.Receive(ctx, RunNowRequest{AccountID: 99}).Unpack()
	require.NoError(t, err)
	require.ErrorIs(t, resp.(RunNowResponse).Error,
		accounts.ErrAccountNotFound)

	busy := errors.New("busy")
	runner.err = busy
	resp, err = svc.Receive(ctx, RunNowRequest{AccountID: h.acct.ID}).Unpack()
	require.NoError(t, err)
	require.ErrorIs(t, resp.(RunNowResponse).Error, busy)

	// Accounts without a task report as stopped.
	resp, err = svc.Receive(ctx, AccountStatusRequest{
		AccountID: h.acct.ID,
	}).Unpack()
	require.NoError(t, err)
	require.Equal(t, TaskStopped,
		resp.(AccountStatusResponse).Statuses[0].Task.State)
}

type unknownRequest struct{}

func (unknownRequest) isScanRequest() {}

func TestServiceUnknownRequest(t *testing.T) {
	svc := NewService(ServiceConfig{}, nil)
	_, err := svc.Receive(context.Background(), unknownRequest{}).Unpack()
	require.Error(t, err)
}
