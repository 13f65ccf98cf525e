package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/roasbeef/labeler/internal/accounts"
	"github.com/roasbeef/labeler/internal/activity"
	"github.com/roasbeef/labeler/internal/scan"
	"github.com/stretchr/testify/require"
)

// fakeRunner records cycles and tracks how many run at once per account.
type fakeRunner struct {
	mu       sync.Mutex
	calls    map[int64]int
	inFlight map[int64]int
	maxSeen  map[int64]int
	triggers []scan.Trigger

	// release, when set, holds every cycle until closed or cancelled.
	release chan struct{}

	// cancelled counts cycles that saw their context cancelled.
	cancelled atomic.Int64

	report scan.CycleReport
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		calls:    make(map[int64]int),
		inFlight: make(map[int64]int),
		maxSeen:  make(map[int64]int),
	}
}

func (f *fakeRunner) RunCycle(ctx context.Context, accountID int64,
	trigger scan.Trigger) (scan.CycleReport, error) {

	f.mu.Lock()
	f.calls[accountID]++
	f.triggers = append(f.triggers, trigger)
	f.inFlight[accountID]++
	if f.inFlight[accountID] > f.maxSeen[accountID] {
		f.maxSeen[accountID] = f.inFlight[accountID]
	}
	release, report := f.release, f.report
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight[accountID]--
		f.mu.Unlock()
	}()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			f.cancelled.Add(1)
			return report, scan.ErrCycleCancelled
		}
	}

	report.AccountID = accountID

	return report, nil
}

func (f *fakeRunner) Calls(id int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls[id]
}

func (f *fakeRunner) MaxConcurrent(id int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.maxSeen[id]
}

type fakeSource struct {
	mu    sync.Mutex
	accts []accounts.Account
}

func (f *fakeSource) set(accts ...accounts.Account) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.accts = accts
}

func (f *fakeSource) ListActive(context.Context) ([]accounts.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]accounts.Account(nil), f.accts...), nil
}

type countingActivity struct {
	skips atomic.Int64
}

func (c *countingActivity) Record(_ context.Context, _ int64,
	typ activity.Type, _ string, _ ...any) {

	if typ == activity.TypeCycleSkipped {
		c.skips.Add(1)
	}
}

func account(id int64, interval time.Duration) accounts.Account {
	return accounts.Account{
		ID:           id,
		ExternalID:   "acct",
		Active:       true,
		PollInterval: interval,
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MinInterval = time.Millisecond
	cfg.ReconcileInterval = 0

	return cfg
}

func startScheduler(t *testing.T, runner *fakeRunner, src *fakeSource,
	act ActivityRecorder, cfg Config) *Scheduler {

	t.Helper()

	s := New(runner, src, act, cfg, nil)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Stop)

	return s
}

// TestNoOverlappingCycles keeps a cycle running across several ticks and
// checks the ticks are skipped and counted, not queued.
func TestNoOverlappingCycles(t *testing.T) {
	runner := newFakeRunner()
	runner.release = make(chan struct{})
	src := &fakeSource{}
	src.set(account(1, 5*time.Millisecond))
	act := &countingActivity{}

	s := startScheduler(t, runner, src, act, testConfig())

	require.Eventually(t, func() bool {
		info, ok := s.TaskInfo(1)
		return ok && info.SkippedTicks >= 3
	}, 5*time.Second, time.Millisecond)

	info, _ := s.TaskInfo(1)
	require.Equal(t, scan.TaskRunning, info.State)

	require.ErrorIs(t, s.RunNow(1), ErrCycleInFlight)
	require.Equal(t, 1, runner.Calls(1))
	require.GreaterOrEqual(t, act.skips.Load(), int64(3))

	close(runner.release)

	require.Eventually(t, func() bool {
		return runner.Calls(1) >= 3
	}, 5*time.Second, time.Millisecond)
	require.Equal(t, 1, runner.MaxConcurrent(1))
}

// TestAccountsIndependent checks a stuck account does not hold up another.
func TestAccountsIndependent(t *testing.T) {
	runner := newFakeRunner()
	src := &fakeSource{}
	src.set(account(1, time.Hour), account(2, 5*time.Millisecond))

	s := startScheduler(t, runner, src, nil, testConfig())

	require.Eventually(t, func() bool {
		return runner.Calls(2) >= 3
	}, 5*time.Second, time.Millisecond)

	// Account 1 ran once on start and is waiting for its hour.
	require.Equal(t, 1, runner.Calls(1))
	require.Len(t, s.Statuses(), 2)
}

func TestRunNow(t *testing.T) {
	runner := newFakeRunner()
	src := &fakeSource{}
	src.set(account(1, time.Hour))

	cfg := testConfig()
	cfg.RunOnStart = false
	s := startScheduler(t, runner, src, nil, cfg)

	require.NoError(t, s.RunNow(1))
	require.Eventually(t, func() bool {
		return runner.Calls(1) == 1
	}, 5*time.Second, time.Millisecond)

	runner.mu.Lock()
	require.Equal(t, []scan.Trigger{scan.TriggerManual}, runner.triggers)
	runner.mu.Unlock()

	require.ErrorIs(t, s.RunNow(42), ErrUnknownAccount)
}

func TestIntervalClamp(t *testing.T) {
	runner := newFakeRunner()
	src := &fakeSource{}
	src.set(account(1, time.Second))

	cfg := testConfig()
	cfg.MinInterval = MinInterval
	cfg.RunOnStart = false
	s := startScheduler(t, runner, src, nil, cfg)

	info, ok := s.TaskInfo(1)
	require.True(t, ok)
	require.Equal(t, MinInterval, info.Interval)

	require.NoError(t, s.SetInterval(1, time.Minute))
	info, _ = s.TaskInfo(1)
	require.Equal(t, time.Minute, info.Interval)

	require.ErrorIs(t, s.SetInterval(7, time.Minute), ErrUnknownAccount)
}

// TestReconcile checks paused, escalated and new accounts are picked up.
func TestReconcile(t *testing.T) {
	runner := newFakeRunner()
	src := &fakeSource{}

	stuck := account(2, time.Hour)
	stuck.ConsecutiveAuthFailures = accounts.DefaultAuthFailureThreshold
	src.set(account(1, time.Hour), stuck)

	cfg := testConfig()
	cfg.RunOnStart = false
	s := startScheduler(t, runner, src, nil, cfg)

	_, ok := s.TaskInfo(1)
	require.True(t, ok)
	_, ok = s.TaskInfo(2)
	require.False(t, ok, "account needing attention was scheduled")

	// Account 1 is paused, account 3 is added and 2 is reconnected.
	src.set(account(2, 2*time.Hour), account(3, time.Hour))
	require.NoError(t, s.Reconcile(context.Background()))

	_, ok = s.TaskInfo(1)
	require.False(t, ok)
	info, ok := s.TaskInfo(2)
	require.True(t, ok)
	require.Equal(t, 2*time.Hour, info.Interval)
	_, ok = s.TaskInfo(3)
	require.True(t, ok)

	// Interval changes land on the existing task.
	src.set(account(2, 3*time.Hour), account(3, time.Hour))
	require.NoError(t, s.Reconcile(context.Background()))
	info, _ = s.TaskInfo(2)
	require.Equal(t, 3*time.Hour, info.Interval)
}

// TestNeedsAttentionStopsTask checks an escalated account loses its timer.
func TestNeedsAttentionStopsTask(t *testing.T) {
	runner := newFakeRunner()
	runner.report = scan.CycleReport{NeedsAttention: true}
	src := &fakeSource{}
	src.set(account(1, 5*time.Millisecond))

	s := startScheduler(t, runner, src, nil, testConfig())

	require.Eventually(t, func() bool {
		_, ok := s.TaskInfo(1)
		return !ok
	}, 5*time.Second, time.Millisecond)

	// No further cycles run once the task is gone.
	calls := runner.Calls(1)
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, calls, runner.Calls(1))
}

// TestRemoveCancelsCycle checks removing an account cancels its running
// cycle and that a re-added account never overlaps the old cycle.
func TestRemoveCancelsCycle(t *testing.T) {
	runner := newFakeRunner()
	runner.release = make(chan struct{})
	src := &fakeSource{}
	src.set(account(1, time.Hour))

	s := startScheduler(t, runner, src, nil, testConfig())

	require.Eventually(t, func() bool {
		return runner.Calls(1) == 1
	}, 5*time.Second, time.Millisecond)

	require.NoError(t, s.RemoveAccount(1))
	require.ErrorIs(t, s.RemoveAccount(1), ErrUnknownAccount)

	require.Eventually(t, func() bool {
		return runner.cancelled.Load() == 1
	}, 5*time.Second, time.Millisecond)

	// The old cycle has to let go of the account before a new task can
	// run it.
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()

		return !s.flags[1].Load()
	}, 5*time.Second, time.Millisecond)

	require.NoError(t, s.AddAccount(account(1, time.Hour)))
	require.Eventually(t, func() bool {
		return runner.Calls(1) == 2
	}, 5*time.Second, time.Millisecond)
	require.Equal(t, 1, runner.MaxConcurrent(1))
}

// TestStopCancelsCycles checks Stop waits for cycles to observe the
// cancellation.
func TestStopCancelsCycles(t *testing.T) {
	runner := newFakeRunner()
	runner.release = make(chan struct{})
	src := &fakeSource{}
	src.set(account(1, time.Hour), account(2, time.Hour))

	s := New(runner, src, nil, testConfig(), nil)
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool {
		return runner.Calls(1) == 1 && runner.Calls(2) == 1
	}, 5*time.Second, time.Millisecond)

	s.Stop()
	require.EqualValues(t, 2, runner.cancelled.Load())
	require.Empty(t, s.Statuses())
	require.ErrorIs(t, s.AddAccount(account(3, time.Hour)), ErrNotStarted)

	// Stopping twice is harmless.
	s.Stop()
}
