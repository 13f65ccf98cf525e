// Package scheduler runs one timer per account and starts scan cycles on
// it, never two at once for the same account.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roasbeef/labeler/internal/accounts"
	"github.com/roasbeef/labeler/internal/activity"
	"github.com/roasbeef/labeler/internal/scan"
)

const (
	// MinInterval is the shortest poll interval an account may use.
	MinInterval = 10 * time.Second

	// DefaultReconcileInterval is how often the task set is compared
	// against the account store.
	DefaultReconcileInterval = 30 * time.Second
)

// CycleRunner runs one scan cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context, accountID int64,
		trigger scan.Trigger) (scan.CycleReport, error)
}

// AccountSource lists the accounts to schedule.
type AccountSource interface {
	ListActive(ctx context.Context) ([]accounts.Account, error)
}

// ActivityRecorder receives operator-facing events.
type ActivityRecorder interface {
	Record(ctx context.Context, accountID int64, typ activity.Type,
		format string, args ...any)
}

// Config holds the scheduler settings.
type Config struct {
	// MinInterval clamps account poll intervals from below.
	MinInterval time.Duration

	// ReconcileInterval is how often new, paused and changed accounts
	// are picked up. Zero disables the loop.
	ReconcileInterval time.Duration

	// RunOnStart runs a cycle as soon as a task starts instead of
	// waiting a full interval.
	RunOnStart bool

	Health *accounts.HealthConfig
}

// DefaultConfig returns the default scheduler settings.
func DefaultConfig() Config {
	return Config{
		MinInterval:       MinInterval,
		ReconcileInterval: DefaultReconcileInterval,
		RunOnStart:        true,
		Health:            accounts.DefaultHealthConfig(),
	}
}

// task is the handle of one account's timer.
type task struct {
	accountID int64

	// interval is re-read every time the timer is armed.
	interval atomic.Int64

	// running guards against overlapping cycles. It is shared by every
	// task the account ever had, so a cycle left over from a removed
	// task still blocks the next one.
	running *atomic.Bool

	skipped atomic.Int64

	mu      sync.Mutex
	nextRun time.Time
	lastRun time.Time

	// ctx is cancelled when the task is removed or the scheduler stops.
	ctx    context.Context
	cancel context.CancelFunc
}

func (t *task) info() scan.TaskInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	state := scan.TaskScheduled
	if t.running.Load() {
		state = scan.TaskRunning
	}

	return scan.TaskInfo{
		AccountID:    t.accountID,
		State:        state,
		Interval:     time.Duration(t.interval.Load()),
		NextRun:      t.nextRun,
		LastRun:      t.lastRun,
		SkippedTicks: int(t.skipped.Load()),
	}
}

// Scheduler owns the per-account tasks.
type Scheduler struct {
	runner   CycleRunner
	accts    AccountSource
	activity ActivityRecorder
	cfg      Config
	log      *slog.Logger

	mu    sync.Mutex
	tasks map[int64]*task
	flags map[int64]*atomic.Bool

	// ctx is the parent of every task and cycle. It is nil until Start.
	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
	wg      sync.WaitGroup
}

// New creates a scheduler. activity may be nil.
func New(runner CycleRunner, accts AccountSource, act ActivityRecorder,
	cfg Config, log *slog.Logger) *Scheduler {

	if log == nil {
		log = slog.Default()
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = MinInterval
	}
	if cfg.Health == nil {
		cfg.Health = accounts.DefaultHealthConfig()
	}

	return &Scheduler{
		runner:   runner,
		accts:    accts,
		activity: act,
		cfg:      cfg,
		log:      log.With("component", "scheduler"),
		tasks:    make(map[int64]*task),
		flags:    make(map[int64]*atomic.Bool),
	}
}

// Start schedules every active, schedulable account and starts the
// reconcile loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.ctx != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Unlock()

	if err := s.Reconcile(ctx); err != nil {
		return err
	}

	if s.cfg.ReconcileInterval > 0 {
		s.wg.Add(1)
		go s.reconcileLoop(s.ctx)
	}

	s.log.InfoContext(ctx, "Scheduler started", "tasks", len(s.Statuses()))

	return nil
}

// Stop cancels every task and waits for running cycles to wind down.
// Cycles stop between pairs and do not advance their cursor.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel == nil || s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.cancel()
	for id, t := range s.tasks {
		t.cancel()
		delete(s.tasks, id)
	}
	s.mu.Unlock()

	s.wg.Wait()

	s.log.Info("Scheduler stopped")
}

// AddAccount starts a task for the account, or updates the interval of its
// existing task.
func (s *Scheduler) AddAccount(acct accounts.Account) error {
	interval := s.clamp(acct.PollInterval)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx == nil || s.stopped {
		return ErrNotStarted
	}

	if t, ok := s.tasks[acct.ID]; ok {
		old := time.Duration(t.interval.Swap(int64(interval)))
		if old != interval {
			s.log.Info("Poll interval changed",
				"account_id", acct.ID, "old", old,
				"new", interval)
		}
		return nil
	}

	flag, ok := s.flags[acct.ID]
	if !ok {
		flag = &atomic.Bool{}
		s.flags[acct.ID] = flag
	}

	ctx, cancel := context.WithCancel(s.ctx)
	t := &task{
		accountID: acct.ID,
		running:   flag,
		ctx:       ctx,
		cancel:    cancel,
	}
	t.interval.Store(int64(interval))
	s.tasks[acct.ID] = t

	s.wg.Add(1)
	go s.loop(t)

	s.log.Info("Account scheduled", "account_id", acct.ID,
		"interval", interval)

	return nil
}

// RemoveAccount stops the account's task. A cycle in flight is cancelled
// and stops between pairs.
func (s *Scheduler) RemoveAccount(accountID int64) error {
	s.mu.Lock()
	t, ok := s.tasks[accountID]
	if ok {
		delete(s.tasks, accountID)
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownAccount, accountID)
	}

	t.cancel()

	s.log.Info("Account unscheduled", "account_id", accountID)

	return nil
}

// SetInterval changes an account's poll interval. It applies from the next
// time the timer is armed.
func (s *Scheduler) SetInterval(accountID int64, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[accountID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownAccount, accountID)
	}
	t.interval.Store(int64(s.clamp(d)))

	return nil
}

// RunNow starts a manual cycle for the account in the background. It
// returns ErrCycleInFlight, and counts a skip, when a cycle is already
// running.
func (s *Scheduler) RunNow(accountID int64) error {
	s.mu.Lock()
	t, ok := s.tasks[accountID]
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownAccount, accountID)
	}

	if !s.tryRun(t, scan.TriggerManual) {
		return ErrCycleInFlight
	}

	return nil
}

// TaskInfo returns the task of an account.
func (s *Scheduler) TaskInfo(accountID int64) (scan.TaskInfo, bool) {
	s.mu.Lock()
	t, ok := s.tasks[accountID]
	s.mu.Unlock()

	if !ok {
		return scan.TaskInfo{}, false
	}

	return t.info(), true
}

// Statuses returns every task, ordered by account id.
func (s *Scheduler) Statuses() []scan.TaskInfo {
	s.mu.Lock()
	tasks := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	infos := make([]scan.TaskInfo, 0, len(tasks))
	for _, t := range tasks {
		infos = append(infos, t.info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].AccountID < infos[j].AccountID
	})

	return infos
}

// Reconcile brings the task set in line with the account store: new or
// resumed accounts get a task, paused or escalated ones lose theirs and
// interval changes are picked up.
func (s *Scheduler) Reconcile(ctx context.Context) error {
	active, err := s.accts.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active accounts: %w", err)
	}

	want := make(map[int64]bool, len(active))
	for i := range active {
		acct := &active[i]
		if !s.cfg.Health.Schedulable(acct) {
			continue
		}
		want[acct.ID] = true

		if err := s.AddAccount(*acct); err != nil {
			return err
		}
	}

	s.mu.Lock()
	var stale []int64
	for id := range s.tasks {
		if !want[id] {
			stale = append(stale, id)
		}
	}
	s.mu.Unlock()

	for _, id := range stale {
		_ = s.RemoveAccount(id)
	}

	return nil
}

func (s *Scheduler) reconcileLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			err := s.Reconcile(ctx)
			if err != nil && ctx.Err() == nil &&
				!errors.Is(err, ErrNotStarted) {

				s.log.WarnContext(ctx, "Reconcile failed",
					"err", err)
			}
		}
	}
}

// loop is the timer of one account. It re-arms itself with the current
// interval after every tick.
func (s *Scheduler) loop(t *task) {
	defer s.wg.Done()

	delay := time.Duration(t.interval.Load())
	if s.cfg.RunOnStart {
		delay = 0
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		t.mu.Lock()
		t.nextRun = time.Now().Add(delay)
		t.mu.Unlock()

		select {
		case <-t.ctx.Done():
			return

		case <-timer.C:
			s.tryRun(t, scan.TriggerScheduled)
		}

		delay = time.Duration(t.interval.Load())
		timer.Reset(delay)
	}
}

// tryRun starts a cycle unless one is already running for the account, in
// which case the request is counted and dropped.
func (s *Scheduler) tryRun(t *task, trigger scan.Trigger) bool {
	if !t.running.CompareAndSwap(false, true) {
		skipped := t.skipped.Add(1)

		s.log.Info("Scan cycle still running, skipping tick",
			"account_id", t.accountID, "trigger", trigger,
			"skipped_total", skipped)
		if s.activity != nil {
			s.activity.Record(context.Background(), t.accountID,
				activity.TypeCycleSkipped,
				"Skipped a %s scan, previous cycle still running",
				trigger)
		}

		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer t.running.Store(false)

		s.runCycle(t, trigger)
	}()

	return true
}

func (s *Scheduler) runCycle(t *task, trigger scan.Trigger) {
	t.mu.Lock()
	t.lastRun = time.Now()
	t.mu.Unlock()

	report, err := s.runner.RunCycle(t.ctx, t.accountID, trigger)

	switch {
	case report.NeedsAttention:
		s.log.Warn("Account needs attention, stopping its timer",
			"account_id", t.accountID)
		s.removeTask(t)

	case errors.Is(err, scan.ErrAccountPaused),
		errors.Is(err, accounts.ErrAccountNotFound):

		s.removeTask(t)
	}
}

// removeTask stops t if it is still the account's current task.
func (s *Scheduler) removeTask(t *task) {
	s.mu.Lock()
	current, ok := s.tasks[t.accountID]
	if ok && current == t {
		delete(s.tasks, t.accountID)
	}
	s.mu.Unlock()

	t.cancel()
}

func (s *Scheduler) clamp(d time.Duration) time.Duration {
	if d < s.cfg.MinInterval {
		return s.cfg.MinInterval
	}

	return d
}
