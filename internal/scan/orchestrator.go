// Package scan runs scan cycles: for one account it lists new mail, works
// out which (message, rule) pairs have not been decided yet, asks the
// classifier about each, records every outcome and labels the matches.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/labeler/internal/accounts"
	"github.com/roasbeef/labeler/internal/activity"
	"github.com/roasbeef/labeler/internal/classifier"
	"github.com/roasbeef/labeler/internal/db"
	"github.com/roasbeef/labeler/internal/ledger"
	"github.com/roasbeef/labeler/internal/mailbox"
	"github.com/roasbeef/labeler/internal/rules"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	// DefaultLookback bounds the first fetch of an account with no
	// cursor.
	DefaultLookback = 24 * time.Hour

	// DefaultConcurrency is how many classifier calls a cycle runs at
	// once.
	DefaultConcurrency = 1

	// DefaultMaxFailedAttempts is how many times a failing pair is tried
	// before it is left alone.
	DefaultMaxFailedAttempts = 5

	// DefaultClassifyTimeout bounds a classifier call from the cycle's
	// side. The classifier applies its own, usually tighter, deadline.
	DefaultClassifyTimeout = 11 * time.Minute

	// DefaultMailboxTimeout bounds each mailbox call.
	DefaultMailboxTimeout = 2 * time.Minute
)

// Config tunes the orchestrator.
type Config struct {
	// MaxResults caps the messages newer than the cursor fetched per
	// cycle.
	MaxResults int

	// Lookback is the fetch window of an account without a cursor.
	Lookback time.Duration

	// MaxBodyChars caps the body text sent to the classifier.
	MaxBodyChars int

	// Concurrency bounds concurrent classifier calls within a cycle.
	Concurrency int

	// MaxFailedAttempts stops retrying a pair after that many failed
	// attempts. Zero retries forever.
	MaxFailedAttempts int

	ClassifyTimeout time.Duration
	MailboxTimeout  time.Duration

	// Health decides when auth failures escalate.
	Health *accounts.HealthConfig
}

// DefaultConfig returns the default orchestrator settings.
func DefaultConfig() Config {
	return Config{
		MaxResults:        mailbox.DefaultMaxResults,
		Lookback:          DefaultLookback,
		MaxBodyChars:      mailbox.DefaultMaxBodyChars,
		Concurrency:       DefaultConcurrency,
		MaxFailedAttempts: DefaultMaxFailedAttempts,
		ClassifyTimeout:   DefaultClassifyTimeout,
		MailboxTimeout:    DefaultMailboxTimeout,
		Health:            accounts.DefaultHealthConfig(),
	}
}

// AccountStore is the account access a cycle needs.
type AccountStore interface {
	Get(ctx context.Context, id int64) (accounts.Account, error)
	RecordScanSuccess(ctx context.Context, id int64, at time.Time) error
	RecordScanFailure(ctx context.Context, id int64, cause error,
		auth bool, at time.Time) (int, error)
}

// ActivityRecorder receives operator-facing events.
type ActivityRecorder interface {
	Record(ctx context.Context, accountID int64, typ activity.Type,
		format string, args ...any)
}

// Deps are the collaborators of an Orchestrator. History and Activity are
// optional.
type Deps struct {
	Accounts   AccountStore
	Rules      rules.Source
	Ledger     ledger.Ledger
	Mailbox    mailbox.Gateway
	Classifier classifier.Gateway
	History    History
	Activity   ActivityRecorder
}

// Orchestrator runs scan cycles. It holds no per-cycle state, so cycles of
// different accounts can run on it concurrently. Callers must not run two
// cycles of the same account at once; the scheduler guarantees that.
type Orchestrator struct {
	deps Deps
	cfg  Config
	log  *slog.Logger

	// now is swapped out by tests.
	now func() time.Time

	listenersMu sync.RWMutex
	listeners   []func(CycleReport)
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(deps Deps, cfg Config, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}

	def := DefaultConfig()
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = def.MaxResults
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = def.Lookback
	}
	if cfg.MaxBodyChars <= 0 {
		cfg.MaxBodyChars = def.MaxBodyChars
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.MaxFailedAttempts < 0 {
		cfg.MaxFailedAttempts = 0
	}
	if cfg.ClassifyTimeout <= 0 {
		cfg.ClassifyTimeout = def.ClassifyTimeout
	}
	if cfg.MailboxTimeout <= 0 {
		cfg.MailboxTimeout = def.MailboxTimeout
	}
	if cfg.Health == nil {
		cfg.Health = def.Health
	}

	return &Orchestrator{
		deps: deps,
		cfg:  cfg,
		log:  log.With("component", "scan"),
		now:  time.Now,
	}
}

// Subscribe registers notify to be called with every finished cycle report.
func (o *Orchestrator) Subscribe(notify func(CycleReport)) {
	o.listenersMu.Lock()
	defer o.listenersMu.Unlock()

	o.listeners = append(o.listeners, notify)
}

// pending is a message with the rules it still has to be checked against.
type pending struct {
	ref   mailbox.MessageRef
	rules []rules.Rule
}

// cycle carries the state of one running cycle.
type cycle struct {
	o      *Orchestrator
	acct   accounts.Account
	report CycleReport
	log    *slog.Logger

	mu     sync.Mutex
	labels map[string]mailbox.LabelID

	// gone holds ids of messages the mailbox reported as deleted.
	gone sync.Map
}

// RunCycle runs one scan cycle for the account. The returned report is
// always filled in, even alongside an error.
func (o *Orchestrator) RunCycle(ctx context.Context, accountID int64,
	trigger Trigger) (CycleReport, error) {

	c := &cycle{
		o: o,
		report: CycleReport{
			CycleID:   newCycleID(),
			AccountID: accountID,
			Trigger:   trigger,
			StartedAt: o.now(),
		},
		labels: make(map[string]mailbox.LabelID),
	}
	c.log = o.log.With(
		"account_id", accountID, "cycle_id", c.report.CycleID,
	)

	err := c.run(ctx)
	if err != nil && c.report.Error == "" {
		c.report.Error = err.Error()
	}
	c.report.FinishedAt = o.now()

	o.finish(ctx, c, err)

	return c.report, err
}

func (c *cycle) run(ctx context.Context) error {
	o := c.o

	if ctx.Err() != nil {
		c.report.Status = StatusCancelled
		return ErrCycleCancelled
	}

	acct, err := o.deps.Accounts.Get(ctx, c.report.AccountID)
	if err != nil {
		c.report.Status = StatusFailed
		return fmt.Errorf("load account: %w", err)
	}
	if !acct.Active {
		c.report.Status = StatusFailed
		return fmt.Errorf("%w: %s", ErrAccountPaused, acct.ExternalID)
	}
	c.acct = acct

	// The rule set is fixed for the whole cycle. Toggles made while it
	// runs apply to the next one.
	snapshot, err := o.deps.Rules.ActiveRules(ctx, acct.ID)
	if err != nil {
		c.report.Status = StatusFailed
		return fmt.Errorf("load rules: %w", err)
	}
	if len(snapshot) == 0 {
		c.report.Status = StatusNoRules
		c.log.DebugContext(ctx, "No active rules, skipping cycle")
		return nil
	}

	cursor, err := o.deps.Ledger.Cursor(ctx, acct.ID)
	if err != nil {
		c.report.Status = StatusFailed
		return fmt.Errorf("load cursor: %w", err)
	}
	since := cursor.UnwrapOr(c.report.StartedAt.Add(-o.cfg.Lookback))

	refs, err := c.fetch(ctx, since)
	if err != nil {
		return err
	}

	if ctx.Err() != nil {
		c.report.Status = StatusCancelled
		return ErrCycleCancelled
	}

	work, err := c.plan(ctx, refs, snapshot)
	if err != nil {
		c.report.Status = StatusFailed
		return err
	}

	if err := c.evaluate(ctx, work); err != nil {
		c.report.Status = StatusCancelled
		return err
	}

	c.report.Status = StatusCompleted
	c.advanceCursor(ctx, refs)
	c.recordSuccess(ctx)

	return nil
}

// recordSuccess stamps the account's last successful scan and clears its
// error state. Only completed cycles count.
func (c *cycle) recordSuccess(ctx context.Context) {
	storeCtx, cancel := db.DetachedContext(ctx)
	defer cancel()

	err := c.o.deps.Accounts.RecordScanSuccess(
		storeCtx, c.acct.ID, c.o.now(),
	)
	if err != nil {
		c.log.ErrorContext(ctx, "Unable to record scan success",
			"err", err)
	}
}

// fetch lists the window. A failure is recorded against the account.
func (c *cycle) fetch(ctx context.Context,
	since time.Time) ([]mailbox.MessageRef, error) {

	o := c.o

	callCtx, cancel := o.gatewayCtx(ctx, o.cfg.MailboxTimeout)
	refs, err := o.deps.Mailbox.ListRecentMessages(
		callCtx, c.acct, since, o.cfg.MaxResults,
	)
	cancel()

	// Bookkeeping must land even if the caller is shutting down.
	bgCtx, bgCancel := db.DetachedContext(ctx)
	defer bgCancel()
	now := o.now()

	if err != nil {
		c.report.Status = StatusFetchFailed

		auth := mailbox.IsAuth(err)
		streak, recErr := o.deps.Accounts.RecordScanFailure(
			bgCtx, c.acct.ID, err, auth, now,
		)
		if recErr != nil {
			c.log.ErrorContext(ctx, "Unable to record scan failure",
				"err", recErr)
		}

		c.log.WarnContext(ctx, "Message fetch failed", "auth", auth,
			"auth_streak", streak, "err", err)
		o.record(bgCtx, c.acct.ID, activity.TypeFetchFailed,
			"Fetching messages for %s failed: %v", c.acct.ExternalID,
			err)

		// Escalate once, on the failure that crosses the threshold.
		if auth && o.cfg.Health.NeedsAttention(streak) &&
			!o.cfg.Health.NeedsAttention(streak-1) {

			c.report.NeedsAttention = true
			c.log.ErrorContext(ctx, "Account needs attention after "+
				"repeated auth failures", "auth_streak", streak)
			o.record(bgCtx, c.acct.ID, activity.TypeNeedsAttention,
				"%s failed authentication %d times in a "+
					"row and was taken off the schedule; "+
					"reconnect and resume it",
				c.acct.ExternalID, streak)
		}

		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	c.report.Fetched = len(refs)

	return refs, nil
}

// plan diffs the fetched messages and earlier failures against the ledger
// and returns the pending pairs grouped by message, oldest message first.
func (c *cycle) plan(ctx context.Context, refs []mailbox.MessageRef,
	snapshot []rules.Rule) ([]pending, error) {

	o := c.o

	byID := make(map[string]*pending, len(refs))
	var order []*pending
	add := func(ref mailbox.MessageRef) *pending {
		if p, ok := byID[ref.ID]; ok {
			return p
		}
		p := &pending{ref: ref}
		byID[ref.ID] = p
		order = append(order, p)
		return p
	}

	for _, ref := range refs {
		if _, dup := byID[ref.ID]; dup {
			continue
		}

		p := add(ref)
		for _, rule := range snapshot {
			rec, err := o.deps.Ledger.Get(ctx, ledger.Key{
				AccountID: c.acct.ID,
				MessageID: ref.ID,
				RuleID:    rule.ID,
			})
			if err != nil {
				return nil, fmt.Errorf("ledger lookup: %w", err)
			}
			if !o.isPending(rec) {
				c.report.Skipped++
				continue
			}
			p.rules = append(p.rules, rule)
		}
	}

	// Failed pairs whose message has left the window still get another
	// try, as long as their rule is still active.
	failed, err := o.deps.Ledger.ListFailed(
		ctx, c.acct.ID, o.cfg.MaxFailedAttempts,
	)
	if err != nil {
		return nil, fmt.Errorf("list failed pairs: %w", err)
	}

	active := make(map[int64]rules.Rule, len(snapshot))
	for _, rule := range snapshot {
		active[rule.ID] = rule
	}

	inWindow := make(map[string]bool, len(refs))
	for _, ref := range refs {
		inWindow[ref.ID] = true
	}

	missing := make(map[string]bool)
	for _, rec := range failed {
		rule, ok := active[rec.RuleID]
		if !ok || inWindow[rec.MessageID] {
			continue
		}

		p, ok := byID[rec.MessageID]
		if !ok && !missing[rec.MessageID] {
			ref, err := c.lookup(ctx, rec)
			if err == nil {
				p = add(ref)
				c.report.Retried++
			} else {
				missing[rec.MessageID] = true
			}
		}
		if p == nil {
			// The message is unreachable. A message that is gone
			// still counts an attempt so the cap retires the pair.
			c.markGone(ctx, rec)
			continue
		}

		p.rules = append(p.rules, rule)
	}

	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i].ref, order[j].ref
		if !a.ReceivedAt.Equal(b.ReceivedAt) {
			return a.ReceivedAt.Before(b.ReceivedAt)
		}
		return a.ID < b.ID
	})

	work := make([]pending, 0, len(order))
	for _, p := range order {
		if len(p.rules) > 0 {
			work = append(work, *p)
		}
	}

	return work, nil
}

// lookup finds the message of a failed pair outside the window.
func (c *cycle) lookup(ctx context.Context,
	rec ledger.Record) (mailbox.MessageRef, error) {

	o := c.o

	callCtx, cancel := o.gatewayCtx(ctx, o.cfg.MailboxTimeout)
	defer cancel()

	ref, err := o.deps.Mailbox.GetMessage(callCtx, c.acct, rec.MessageID)
	if err != nil {
		c.log.DebugContext(ctx, "Unable to revisit failed pair",
			"message_id", rec.MessageID, "rule_id", rec.RuleID,
			"err", err)

		if errors.Is(err, mailbox.ErrMessageNotFound) {
			c.gone.Store(rec.MessageID, true)
		}

		return mailbox.MessageRef{}, err
	}

	return ref, nil
}

// markGone records another failed attempt for a pair whose message no
// longer exists.
func (c *cycle) markGone(ctx context.Context, rec ledger.Record) {
	if _, ok := c.gone.Load(rec.MessageID); !ok {
		return
	}

	c.put(ctx, ledger.Record{
		Key:           rec.Key,
		Outcome:       ledger.OutcomeFailed,
		FailureReason: "message not found",
		ReceivedAt:    rec.ReceivedAt,
	})
}

// isPending reports whether a pair still needs a classifier call.
func (o *Orchestrator) isPending(rec fn.Option[ledger.Record]) bool {
	if rec.IsNone() {
		return true
	}

	r := rec.UnwrapOr(ledger.Record{})
	if r.Outcome.IsTerminal() {
		return false
	}

	return o.cfg.MaxFailedAttempts == 0 ||
		r.Attempts < o.cfg.MaxFailedAttempts
}

// evaluate classifies every pending pair. A pair only starts once it holds
// a concurrency slot and ctx is still live. After cancellation the calls
// already running finish and ErrCycleCancelled is returned.
func (c *cycle) evaluate(ctx context.Context, work []pending) error {
	var (
		g   errgroup.Group
		sem = semaphore.NewWeighted(int64(c.o.cfg.Concurrency))
	)

	cancelled := false

schedule:
	for i := range work {
		p := &work[i]
		text := &messageText{}

		for _, rule := range p.rules {
			err := sem.Acquire(ctx, 1)
			if err == nil && ctx.Err() != nil {
				sem.Release(1)
				err = ctx.Err()
			}
			if err != nil {
				cancelled = true
				break schedule
			}

			g.Go(func() error {
				defer sem.Release(1)

				c.evaluatePair(ctx, p.ref, rule, text)
				return nil
			})
		}
	}

	_ = g.Wait()

	if cancelled {
		c.log.InfoContext(ctx, "Cycle cancelled, cursor left in place")
		return ErrCycleCancelled
	}

	return nil
}

// messageText fetches a message's text at most once per cycle.
type messageText struct {
	once sync.Once
	text string
	err  error
}

func (c *cycle) text(ctx context.Context, ref mailbox.MessageRef,
	t *messageText) (string, error) {

	t.once.Do(func() {
		callCtx, cancel := c.o.gatewayCtx(ctx, c.o.cfg.MailboxTimeout)
		defer cancel()

		msg, err := c.o.deps.Mailbox.FetchText(callCtx, c.acct, ref.ID)
		if err != nil {
			t.err = err
			return
		}
		if msg.Snippet == "" {
			msg.Snippet = ref.Snippet
		}
		t.text = mailbox.FormatText(msg, c.o.cfg.MaxBodyChars)
	})

	return t.text, t.err
}

// evaluatePair runs one classifier call and acts on the verdict. Nothing in
// here fails the cycle.
func (c *cycle) evaluatePair(ctx context.Context, ref mailbox.MessageRef,
	rule rules.Rule, t *messageText) {

	o := c.o
	key := ledger.Key{
		AccountID: c.acct.ID,
		MessageID: ref.ID,
		RuleID:    rule.ID,
	}
	rec := ledger.Record{Key: key, ReceivedAt: ref.ReceivedAt}

	text, err := c.text(ctx, ref, t)
	if err != nil {
		rec.Outcome = ledger.OutcomeFailed
		rec.FailureReason = "fetch text: " + err.Error()
		c.log.WarnContext(ctx, "Unable to read message",
			"message_id", ref.ID, "err", err)
		c.countFailed(c.put(ctx, rec))
		return
	}

	callCtx, cancel := o.gatewayCtx(ctx, o.cfg.ClassifyTimeout)
	verdict, err := o.deps.Classifier.Classify(
		callCtx, text, rule.PromptText,
	)
	cancel()

	c.mu.Lock()
	c.report.Evaluated++
	c.mu.Unlock()

	switch {
	case err != nil:
		rec.Outcome = ledger.OutcomeFailed
		rec.FailureReason = failureReason(err)
		c.log.WarnContext(ctx, "Classification failed",
			"message_id", ref.ID, "rule_id", rule.ID, "err", err)
		c.countFailed(c.put(ctx, rec))
		return

	case verdict == classifier.Matched:
		rec.Outcome = ledger.OutcomeMatched

	default:
		rec.Outcome = ledger.OutcomeNotMatched
	}

	// The record goes in before any labeling so a crash in between can
	// never lead to a second classifier call.
	if !c.put(ctx, rec) {
		return
	}
	if rec.Outcome != ledger.OutcomeMatched {
		return
	}

	c.mu.Lock()
	c.report.Matched++
	c.mu.Unlock()

	c.log.InfoContext(ctx, "Rule matched", "message_id", ref.ID,
		"rule_id", rule.ID, "label", rule.LabelName)

	c.applyLabel(ctx, ref, rule)
}

// applyLabel labels a matched message and runs the rule's action. Failures
// are reported but never undo the matched record.
func (c *cycle) applyLabel(ctx context.Context, ref mailbox.MessageRef,
	rule rules.Rule) {

	o := c.o
	bgCtx, bgCancel := db.DetachedContext(ctx)
	defer bgCancel()

	fail := func(what string, err error) {
		c.mu.Lock()
		c.report.LabelFailures++
		c.mu.Unlock()

		c.log.WarnContext(ctx, "Unable to "+what, "message_id", ref.ID,
			"rule_id", rule.ID, "label", rule.LabelName, "err", err)
		o.record(bgCtx, c.acct.ID, activity.TypeLabelFailed,
			"Could not %s on message %s: %v", what, ref.ID, err)
	}

	label, err := c.ensureLabel(ctx, rule.LabelName)
	if err != nil {
		fail("create label "+rule.LabelName, err)
		return
	}

	callCtx, cancel := o.gatewayCtx(ctx, o.cfg.MailboxTimeout)
	err = o.deps.Mailbox.ApplyLabel(callCtx, c.acct, ref.ID, label)
	cancel()
	if err != nil {
		fail("apply label "+rule.LabelName, err)
		return
	}

	o.record(bgCtx, c.acct.ID, activity.TypeLabelApplied,
		"Labeled message %s as %s (rule %q)", ref.ID, rule.LabelName,
		rule.Name)

	if rule.Action == "" || rule.Action == rules.ActionNone {
		return
	}

	callCtx, cancel = o.gatewayCtx(ctx, o.cfg.MailboxTimeout)
	err = o.deps.Mailbox.ApplyAction(callCtx, c.acct, ref.ID, rule.Action)
	cancel()
	if err != nil {
		fail(string(rule.Action)+" message", err)
		return
	}

	o.record(bgCtx, c.acct.ID, activity.TypeActionApplied,
		"Applied %s to message %s (rule %q)", rule.Action, ref.ID,
		rule.Name)
}

// ensureLabel resolves a label name once per cycle.
func (c *cycle) ensureLabel(ctx context.Context,
	name string) (mailbox.LabelID, error) {

	c.mu.Lock()
	id, ok := c.labels[name]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	callCtx, cancel := c.o.gatewayCtx(ctx, c.o.cfg.MailboxTimeout)
	defer cancel()

	id, err := c.o.deps.Mailbox.EnsureLabel(callCtx, c.acct, name)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.labels[name] = id
	c.mu.Unlock()

	return id, nil
}

// put writes a ledger record and reports whether it was stored.
func (c *cycle) put(ctx context.Context, rec ledger.Record) bool {
	storeCtx, cancel := db.DetachedContext(ctx)
	defer cancel()

	err := c.o.deps.Ledger.Put(storeCtx, rec)
	if err != nil {
		// The ledger already logged terminal overwrites loudly.
		if !errors.Is(err, ledger.ErrTerminalRecord) {
			c.log.ErrorContext(ctx, "Unable to record evaluation",
				"key", rec.Key.String(), "err", err)
		}
		return false
	}

	return true
}

func (c *cycle) countFailed(stored bool) {
	if !stored {
		return
	}

	c.mu.Lock()
	c.report.Failed++
	c.mu.Unlock()
}

// advanceCursor moves the cursor to the newest message of the window.
func (c *cycle) advanceCursor(ctx context.Context,
	refs []mailbox.MessageRef) {

	if len(refs) == 0 {
		return
	}

	newest := refs[0].ReceivedAt
	for _, ref := range refs[1:] {
		if ref.ReceivedAt.After(newest) {
			newest = ref.ReceivedAt
		}
	}

	storeCtx, cancel := db.DetachedContext(ctx)
	defer cancel()

	advanced, err := c.o.deps.Ledger.AdvanceCursor(
		storeCtx, c.acct.ID, newest,
	)
	if err != nil {
		c.log.ErrorContext(ctx, "Unable to advance cursor", "err", err)
		return
	}

	c.report.CursorAdvanced = advanced
	c.report.Cursor = newest
}

// finish persists and publishes the report.
func (o *Orchestrator) finish(ctx context.Context, c *cycle, err error) {
	bgCtx, bgCancel := db.DetachedContext(ctx)
	defer bgCancel()
	r := c.report

	if o.deps.History != nil {
		if hErr := o.deps.History.Save(bgCtx, r); hErr != nil {
			c.log.ErrorContext(ctx, "Unable to save cycle report",
				"err", hErr)
		}
	}

	attrs := []any{
		"trigger", r.Trigger, "status", r.Status,
		"fetched", r.Fetched, "retried", r.Retried,
		"evaluated", r.Evaluated, "matched", r.Matched,
		"failed", r.Failed, "skipped", r.Skipped,
		"label_failures", r.LabelFailures, "duration", r.Duration(),
	}
	switch {
	case err != nil && r.Status == StatusFailed:
		c.log.ErrorContext(ctx, "Scan cycle failed",
			append(attrs, "err", err)...)

	case err != nil:
		c.log.WarnContext(ctx, "Scan cycle ended early",
			append(attrs, "err", err)...)

	default:
		c.log.InfoContext(ctx, "Scan cycle finished", attrs...)
	}

	if r.Status == StatusCompleted && r.Evaluated > 0 {
		o.record(bgCtx, r.AccountID, activity.TypeCycleCompleted,
			"Scanned %d message(s): %d evaluated, %d matched, %d "+
				"failed", r.Fetched+r.Retried, r.Evaluated,
			r.Matched, r.Failed)
	}

	o.listenersMu.RLock()
	listeners := append([]func(CycleReport)(nil), o.listeners...)
	o.listenersMu.RUnlock()

	for _, notify := range listeners {
		notify(r)
	}
}

// gatewayCtx derives the context of a single gateway call. Calls are never
// interrupted by cycle cancellation, only by their own timeout.
func (o *Orchestrator) gatewayCtx(ctx context.Context,
	timeout time.Duration) (context.Context, context.CancelFunc) {

	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

func (o *Orchestrator) record(ctx context.Context, accountID int64,
	typ activity.Type, format string, args ...any) {

	if o.deps.Activity == nil {
		return
	}
	o.deps.Activity.Record(ctx, accountID, typ, format, args...)
}

// failureReason is the short reason stored with a failed record.
func failureReason(err error) string {
	var clsErr *classifier.ClassifierError
	if errors.As(err, &clsErr) {
		return string(clsErr.Reason) + ": " + clsErr.Err.Error()
	}

	return err.Error()
}

func newCycleID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}
