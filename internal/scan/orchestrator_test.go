package scan

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/roasbeef/labeler/internal/accounts"
	"github.com/roasbeef/labeler/internal/activity"
	"github.com/roasbeef/labeler/internal/classifier"
	"github.com/roasbeef/labeler/internal/db"
	"github.com/roasbeef/labeler/internal/ledger"
	"github.com/roasbeef/labeler/internal/mailbox"
	"github.com/roasbeef/labeler/internal/mailbox/mailboxtest"
	"github.com/roasbeef/labeler/internal/rules"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// fakeAccounts is an in-memory AccountStore.
type fakeAccounts struct {
	mu        sync.Mutex
	accts     map[int64]accounts.Account
	successes int
	failures  int
}

func newFakeAccounts(accts ...accounts.Account) *fakeAccounts {
	f := &fakeAccounts{accts: make(map[int64]accounts.Account)}
	for _, a := range accts {
		f.accts[a.ID] = a
	}

	return f
}

func (f *fakeAccounts) Get(_ context.Context,
	id int64) (accounts.Account, error) {

	f.mu.Lock()
	defer f.mu.Unlock()

	a, ok := f.accts[id]
	if !ok {
		return accounts.Account{}, accounts.ErrAccountNotFound
	}

	return a, nil
}

func (f *fakeAccounts) List(context.Context) ([]accounts.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []accounts.Account
	for _, a := range f.accts {
		out = append(out, a)
	}

	return out, nil
}

func (f *fakeAccounts) RecordScanSuccess(_ context.Context, id int64,
	at time.Time) error {

	f.mu.Lock()
	defer f.mu.Unlock()

	a := f.accts[id]
	a.ConsecutiveAuthFailures = 0
	a.LastError = ""
	f.accts[id] = a
	f.successes++

	return nil
}

func (f *fakeAccounts) RecordScanFailure(_ context.Context, id int64,
	cause error, auth bool, at time.Time) (int, error) {

	f.mu.Lock()
	defer f.mu.Unlock()

	a := f.accts[id]
	a.LastError = cause.Error()
	a.TotalFailures++
	if auth {
		a.ConsecutiveAuthFailures++
	}
	f.accts[id] = a
	f.failures++

	if !auth {
		return 0, nil
	}

	return a.ConsecutiveAuthFailures, nil
}

// fakeClassifier answers with decide and counts calls per (text, prompt).
type fakeClassifier struct {
	mu     sync.Mutex
	calls  map[string]int
	decide func(text, prompt string) (classifier.Verdict, error)

	// block, when set, is waited on before answering.
	block   chan struct{}
	started chan struct{}
}

func newFakeClassifier(decide func(text,
	prompt string) (classifier.Verdict, error)) *fakeClassifier {

	return &fakeClassifier{
		calls:  make(map[string]int),
		decide: decide,
	}
}

func (f *fakeClassifier) Classify(ctx context.Context, text,
	prompt string) (classifier.Verdict, error) {

	f.mu.Lock()
	f.calls[subjectOf(text)+"|"+prompt]++
	block, started := f.block, f.started
	f.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return classifier.NotMatched, ctx.Err()
		}
	}

	return f.decide(text, prompt)
}

func (f *fakeClassifier) Calls(subject, prompt string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls[subject+"|"+prompt]
}

func (f *fakeClassifier) Total() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	total := 0
	for _, n := range f.calls {
		total += n
	}

	return total
}

// subjectOf pulls the subject line out of a formatted message.
func subjectOf(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if s, ok := strings.CutPrefix(line, "Subject: "); ok {
			return s
		}
	}

	return ""
}

// matchSubjects matches messages whose subject is in the set.
func matchSubjects(subjects ...string) func(string,
	string) (classifier.Verdict, error) {

	set := make(map[string]bool, len(subjects))
	for _, s := range subjects {
		set[s] = true
	}

	return func(text, _ string) (classifier.Verdict, error) {
		if set[subjectOf(text)] {
			return classifier.Matched, nil
		}
		return classifier.NotMatched, nil
	}
}

// fakeActivity collects recorded activity types.
type fakeActivity struct {
	mu    sync.Mutex
	types []activity.Type
}

func (f *fakeActivity) Record(_ context.Context, _ int64, typ activity.Type,
	_ string, _ ...any) {

	f.mu.Lock()
	defer f.mu.Unlock()

	f.types = append(f.types, typ)
}

func (f *fakeActivity) Count(typ activity.Type) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, t := range f.types {
		if t == typ {
			n++
		}
	}

	return n
}

// harness wires an orchestrator to in-memory collaborators.
type harness struct {
	acct     accounts.Account
	accounts *fakeAccounts
	rules    *rules.MemSource
	ledger   *ledger.MemLedger
	mailbox  *mailboxtest.Mailbox
	cls      *fakeClassifier
	activity *fakeActivity
	orch     *Orchestrator

	now time.Time
}

func newHarness(cfg Config) *harness {
	h := &harness{
		acct: accounts.Account{
			ID:           1,
			ExternalID:   "alice@example.com",
			Provider:     accounts.ProviderGmail,
			PollInterval: time.Minute,
			Active:       true,
		},
		rules:    rules.NewMemSource(),
		ledger:   ledger.NewMemLedger(),
		mailbox:  mailboxtest.New(),
		cls:      newFakeClassifier(matchSubjects()),
		activity: &fakeActivity{},
		now:      time.UnixMilli(1_700_000_000_000),
	}
	h.accounts = newFakeAccounts(h.acct)

	h.orch = NewOrchestrator(Deps{
		Accounts:   h.accounts,
		Rules:      h.rules,
		Ledger:     h.ledger,
		Mailbox:    h.mailbox,
		Classifier: h.cls,
		Activity:   h.activity,
	}, cfg, nil)
	h.orch.now = func() time.Time { return h.now }

	return h
}

// deliver adds a message received at the given time.
func (h *harness) deliver(id string, at time.Time) {
	h.mailbox.AddMessage(h.acct.ID, mailbox.Message{
		MessageRef: mailbox.MessageRef{ID: id, ReceivedAt: at},
		From:       "sender@example.com",
		Subject:    id,
		Body:       "body of " + id,
	})
}

func (h *harness) record(t require.TestingT, msgID string,
	ruleID int64) ledger.Record {

	rec, err := h.ledger.Get(context.Background(), ledger.Key{
		AccountID: h.acct.ID, MessageID: msgID, RuleID: ruleID,
	})
	require.NoError(t, err)
	require.True(t, rec.IsSome(), "no record for %s/%d", msgID, ruleID)

	return rec.UnwrapOr(ledger.Record{})
}

func (h *harness) cursor(t require.TestingT) time.Time {
	cur, err := h.ledger.Cursor(context.Background(), h.acct.ID)
	require.NoError(t, err)

	return cur.UnwrapOr(time.Time{})
}

// TestCycleLabelsMatchOnly covers a cycle over three messages where only
// the middle one matches.
func TestCycleLabelsMatchOnly(t *testing.T) {
	h := newHarness(DefaultConfig())
	ctx := context.Background()

	rule := h.rules.Add(rules.Rule{
		Name: "invoices", PromptText: "Is this an invoice?",
		LabelName: "Finance",
	})

	t0 := h.now.Add(-time.Hour)
	_, err := h.ledger.AdvanceCursor(ctx, h.acct.ID, t0)
	require.NoError(t, err)

	t1, t2, t3 := t0.Add(time.Minute), t0.Add(2*time.Minute),
		t0.Add(3*time.Minute)
	h.deliver("m1", t1)
	h.deliver("m2", t2)
	h.deliver("m3", t3)
	h.cls.decide = matchSubjects("m2")

	report, err := h.orch.RunCycle(ctx, h.acct.ID, TriggerScheduled)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, report.Status)
	require.Equal(t, 3, report.Fetched)
	require.Equal(t, 3, report.Evaluated)
	require.Equal(t, 1, report.Matched)
	require.Zero(t, report.Failed)
	require.True(t, report.CursorAdvanced)

	require.Equal(t, ledger.OutcomeNotMatched,
		h.record(t, "m1", rule.ID).Outcome)
	require.Equal(t, ledger.OutcomeMatched,
		h.record(t, "m2", rule.ID).Outcome)
	require.Equal(t, ledger.OutcomeNotMatched,
		h.record(t, "m3", rule.ID).Outcome)

	require.Equal(t, []string{"Finance"}, h.mailbox.Labels(h.acct.ID, "m2"))
	require.Equal(t, 1, h.mailbox.ApplyCalls(h.acct.ID, "m2"))
	require.Empty(t, h.mailbox.Labels(h.acct.ID, "m1"))
	require.Empty(t, h.mailbox.Labels(h.acct.ID, "m3"))

	require.True(t, t3.Equal(h.cursor(t)))
	require.Equal(t, 1, h.activity.Count(activity.TypeLabelApplied))
	require.Equal(t, 1, h.activity.Count(activity.TypeCycleCompleted))

	// A second cycle lists m3 again, since it sits on the cursor, but
	// finds it decided and calls nothing.
	report, err = h.orch.RunCycle(ctx, h.acct.ID, TriggerScheduled)
	require.NoError(t, err)
	require.Equal(t, 1, report.Fetched)
	require.Equal(t, 1, report.Skipped)
	require.Zero(t, report.Evaluated)
	require.False(t, report.CursorAdvanced)
	require.Equal(t, 3, h.cls.Total())
}

// TestCycleRetriesTimedOutPair covers a classifier timeout on the middle
// message: the cursor still moves and only the failed pair is retried.
func TestCycleRetriesTimedOutPair(t *testing.T) {
	h := newHarness(DefaultConfig())
	ctx := context.Background()

	rule := h.rules.Add(rules.Rule{
		Name: "invoices", PromptText: "Is this an invoice?",
		LabelName: "Finance",
	})

	t0 := h.now.Add(-time.Hour)
	_, err := h.ledger.AdvanceCursor(ctx, h.acct.ID, t0)
	require.NoError(t, err)

	t3 := t0.Add(3 * time.Minute)
	h.deliver("m1", t0.Add(time.Minute))
	h.deliver("m2", t0.Add(2*time.Minute))
	h.deliver("m3", t3)

	h.cls.decide = func(text, _ string) (classifier.Verdict, error) {
		if subjectOf(text) == "m2" {
			return classifier.NotMatched, &classifier.ClassifierError{
				Reason: classifier.ReasonTimeout,
				Err:    context.DeadlineExceeded,
			}
		}
		return classifier.NotMatched, nil
	}

	report, err := h.orch.RunCycle(ctx, h.acct.ID, TriggerScheduled)
	require.NoError(t, err)
	require.Equal(t, 1, report.Failed)
	require.Zero(t, report.Matched)

	failed := h.record(t, "m2", rule.ID)
	require.Equal(t, ledger.OutcomeFailed, failed.Outcome)
	require.Contains(t, failed.FailureReason, "timeout")
	require.Empty(t, h.mailbox.Labels(h.acct.ID, "m2"))
	require.True(t, t3.Equal(h.cursor(t)))

	// The next cycle revisits only the failed pair, and this time the
	// model answers.
	h.cls.decide = matchSubjects("m2")

	report, err = h.orch.RunCycle(ctx, h.acct.ID, TriggerScheduled)
	require.NoError(t, err)
	require.Equal(t, 1, report.Fetched)
	require.Equal(t, 1, report.Retried)
	require.Equal(t, 1, report.Evaluated)
	require.Equal(t, 1, report.Matched)

	require.Equal(t, 1, h.cls.Calls("m1", rule.PromptText))
	require.Equal(t, 2, h.cls.Calls("m2", rule.PromptText))
	require.Equal(t, 1, h.cls.Calls("m3", rule.PromptText))

	retried := h.record(t, "m2", rule.ID)
	require.Equal(t, ledger.OutcomeMatched, retried.Outcome)
	require.Equal(t, 2, retried.Attempts)
	require.Equal(t, []string{"Finance"}, h.mailbox.Labels(h.acct.ID, "m2"))
	require.Equal(t, ledger.OutcomeNotMatched,
		h.record(t, "m1", rule.ID).Outcome)
}

func TestCycleNoRules(t *testing.T) {
	h := newHarness(DefaultConfig())
	h.deliver("m1", h.now.Add(-time.Minute))

	report, err := h.orch.RunCycle(
		context.Background(), h.acct.ID, TriggerScheduled,
	)
	require.NoError(t, err)
	require.Equal(t, StatusNoRules, report.Status)
	require.Zero(t, h.mailbox.ListCalls(h.acct.ID))
	require.True(t, h.cursor(t).IsZero())
}

func TestCyclePausedAccount(t *testing.T) {
	h := newHarness(DefaultConfig())
	h.acct.Active = false
	h.accounts.accts[h.acct.ID] = h.acct

	_, err := h.orch.RunCycle(
		context.Background(), h.acct.ID, TriggerManual,
	)
	require.ErrorIs(t, err, ErrAccountPaused)
}

// TestCycleLookback checks the first fetch of an account is bounded by the
// lookback window.
func TestCycleLookback(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Lookback = time.Hour
	h := newHarness(cfg)

	h.rules.Add(rules.Rule{PromptText: "p", LabelName: "L"})
	h.deliver("old", h.now.Add(-2*time.Hour))
	h.deliver("new", h.now.Add(-time.Minute))

	report, err := h.orch.RunCycle(
		context.Background(), h.acct.ID, TriggerScheduled,
	)
	require.NoError(t, err)
	require.Equal(t, 1, report.Fetched)
	require.Zero(t, h.cls.Calls("old", "p"))
	require.Equal(t, 1, h.cls.Calls("new", "p"))
}

// TestCycleFetchFailure checks a failed fetch leaves the cursor alone and
// that repeated auth failures escalate.
func TestCycleFetchFailure(t *testing.T) {
	h := newHarness(DefaultConfig())
	ctx := context.Background()

	h.rules.Add(rules.Rule{PromptText: "p", LabelName: "L"})

	start := h.now.Add(-time.Hour)
	_, err := h.ledger.AdvanceCursor(ctx, h.acct.ID, start)
	require.NoError(t, err)
	h.deliver("m1", h.now.Add(-time.Minute))

	h.mailbox.SetListError(h.acct.ID, &mailbox.TransientError{
		Op: "list", Err: errors.New("503"),
	})

	report, err := h.orch.RunCycle(ctx, h.acct.ID, TriggerScheduled)
	require.ErrorIs(t, err, ErrFetchFailed)
	require.Equal(t, StatusFetchFailed, report.Status)
	require.False(t, report.NeedsAttention)
	require.True(t, start.Equal(h.cursor(t)))
	require.Zero(t, h.cls.Total())
	require.Equal(t, 1, h.activity.Count(activity.TypeFetchFailed))

	h.mailbox.SetListError(h.acct.ID, &mailbox.AuthError{
		Op: "list", Err: errors.New("invalid_grant"),
	})

	threshold := accounts.DefaultAuthFailureThreshold
	for i := 1; i <= threshold; i++ {
		report, err = h.orch.RunCycle(ctx, h.acct.ID, TriggerScheduled)
		require.ErrorIs(t, err, ErrFetchFailed)
		require.Equal(t, i == threshold, report.NeedsAttention)
	}
	require.Equal(t, 1, h.activity.Count(activity.TypeNeedsAttention))
	require.True(t, start.Equal(h.cursor(t)))

	// Once the mailbox recovers the cycle proceeds normally.
	h.mailbox.SetListError(h.acct.ID, nil)
	report, err = h.orch.RunCycle(ctx, h.acct.ID, TriggerScheduled)
	require.NoError(t, err)
	require.Equal(t, 1, report.Evaluated)
	require.Equal(t, 1, h.accounts.successes)
}

// TestCycleSameInstantMessages checks mail sharing the cursor's instant is
// never lost: neither a message that arrives after the cycle that set the
// cursor, nor one the fetch cap cut off.
func TestCycleSameInstantMessages(t *testing.T) {
	h := newHarness(DefaultConfig())
	ctx := context.Background()

	rule := h.rules.Add(rules.Rule{PromptText: "p", LabelName: "L"})

	// IMAP dates have second resolution.
	sec := h.now.Add(-time.Minute).Truncate(time.Second)
	h.deliver("a", sec)

	report, err := h.orch.RunCycle(ctx, h.acct.ID, TriggerScheduled)
	require.NoError(t, err)
	require.Equal(t, 1, report.Evaluated)
	require.True(t, sec.Equal(h.cursor(t)))

	h.deliver("b", sec)

	report, err = h.orch.RunCycle(ctx, h.acct.ID, TriggerScheduled)
	require.NoError(t, err)
	require.Equal(t, 1, report.Evaluated)
	require.Equal(t, 1, report.Skipped)
	require.True(t, h.record(t, "b", rule.ID).Outcome.IsTerminal())
	require.Equal(t, 1, h.cls.Calls("a", "p"))
	require.Equal(t, 1, h.cls.Calls("b", "p"))
	require.True(t, sec.Equal(h.cursor(t)))
}

// TestCycleMaxResultsDrainsBacklog runs cycles with a fetch cap smaller than
// the backlog, including runs of messages sharing an instant, and checks
// every message ends with a terminal record, each classified once.
func TestCycleMaxResultsDrainsBacklog(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxResults = 2
	h := newHarness(cfg)
	ctx := context.Background()

	rule := h.rules.Add(rules.Rule{PromptText: "p", LabelName: "L"})

	base := h.now.Add(-time.Hour).Truncate(time.Second)
	backlog := []struct {
		id string
		at time.Time
	}{
		{"m1", base},
		{"m2", base.Add(time.Second)},
		{"m3", base.Add(time.Second)},
		{"m4", base.Add(time.Second)},
		{"m5", base.Add(2 * time.Second)},
		{"m6", base.Add(3 * time.Second)},
		{"m7", base.Add(3 * time.Second)},
	}
	for _, m := range backlog {
		h.deliver(m.id, m.at)
	}

	// Each cycle makes progress, so the backlog drains in a bounded
	// number of cycles.
	for i := 0; i < len(backlog); i++ {
		report, err := h.orch.RunCycle(
			ctx, h.acct.ID, TriggerScheduled,
		)
		require.NoError(t, err)
		require.Equal(t, StatusCompleted, report.Status)
	}

	for _, m := range backlog {
		require.True(t, h.record(t, m.id, rule.ID).Outcome.IsTerminal(),
			"message %s left undecided", m.id)
		require.Equal(t, 1, h.cls.Calls(m.id, "p"))
	}
	require.True(t, backlog[len(backlog)-1].at.Equal(h.cursor(t)))

	// A late message at the newest instant is still picked up.
	h.deliver("m8", backlog[len(backlog)-1].at)
	_, err := h.orch.RunCycle(ctx, h.acct.ID, TriggerScheduled)
	require.NoError(t, err)
	require.True(t, h.record(t, "m8", rule.ID).Outcome.IsTerminal())
}

// TestCycleLabelFailure checks a failed label application is reported but
// never undoes or repeats the classification.
func TestCycleLabelFailure(t *testing.T) {
	h := newHarness(DefaultConfig())
	ctx := context.Background()

	rule := h.rules.Add(rules.Rule{
		PromptText: "p", LabelName: "Finance",
		Action: rules.ActionArchive,
	})
	h.deliver("m1", h.now.Add(-time.Minute))
	h.cls.decide = matchSubjects("m1")
	h.mailbox.FailApplies(h.acct.ID, 1)

	report, err := h.orch.RunCycle(ctx, h.acct.ID, TriggerScheduled)
	require.NoError(t, err)
	require.Equal(t, 1, report.Matched)
	require.Equal(t, 1, report.LabelFailures)
	require.Equal(t, ledger.OutcomeMatched, h.record(t, "m1", rule.ID).Outcome)
	require.Empty(t, h.mailbox.Labels(h.acct.ID, "m1"))
	require.Empty(t, h.mailbox.Actions(h.acct.ID, "m1"))
	require.Equal(t, 1, h.activity.Count(activity.TypeLabelFailed))

	// Nothing is classified again.
	h.now = h.now.Add(time.Minute)
	_, err = h.orch.RunCycle(ctx, h.acct.ID, TriggerScheduled)
	require.NoError(t, err)
	require.Equal(t, 1, h.cls.Calls("m1", "p"))
}

func TestCycleAppliesAction(t *testing.T) {
	h := newHarness(DefaultConfig())

	h.rules.Add(rules.Rule{
		PromptText: "spam?", LabelName: "Junk", Action: rules.ActionSpam,
	})
	h.deliver("m1", h.now.Add(-time.Minute))
	h.cls.decide = matchSubjects("m1")

	_, err := h.orch.RunCycle(
		context.Background(), h.acct.ID, TriggerScheduled,
	)
	require.NoError(t, err)
	require.Equal(t, []string{"Junk"}, h.mailbox.Labels(h.acct.ID, "m1"))
	require.Equal(t, []rules.Action{rules.ActionSpam},
		h.mailbox.Actions(h.acct.ID, "m1"))
	require.Equal(t, 1, h.activity.Count(activity.TypeActionApplied))
}

// TestCycleFetchesTextOnce checks a message's text is fetched once no
// matter how many rules it is checked against.
func TestCycleFetchesTextOnce(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Concurrency = 4
	h := newHarness(cfg)

	for i := 0; i < 5; i++ {
		h.rules.Add(rules.Rule{
			PromptText: fmt.Sprintf("p%d", i), LabelName: "L",
		})
	}
	h.deliver("m1", h.now.Add(-time.Minute))

	report, err := h.orch.RunCycle(
		context.Background(), h.acct.ID, TriggerScheduled,
	)
	require.NoError(t, err)
	require.Equal(t, 5, report.Evaluated)
	require.Equal(t, 1, h.mailbox.TextCalls(h.acct.ID, "m1"))
}

// TestCycleTextFailure checks an unreadable message fails its pairs without
// a classifier call and is retried later.
func TestCycleTextFailure(t *testing.T) {
	h := newHarness(DefaultConfig())
	ctx := context.Background()

	rule := h.rules.Add(rules.Rule{PromptText: "p", LabelName: "L"})
	h.deliver("m1", h.now.Add(-2*time.Minute))
	h.deliver("m2", h.now.Add(-time.Minute))
	h.mailbox.SetTextError(h.acct.ID, "m1", &mailbox.TransientError{
		Op: "fetch", Err: errors.New("reset"),
	})

	report, err := h.orch.RunCycle(ctx, h.acct.ID, TriggerScheduled)
	require.NoError(t, err)
	require.Equal(t, 1, report.Failed)
	require.Equal(t, 1, report.Evaluated)
	require.Equal(t, ledger.OutcomeFailed, h.record(t, "m1", rule.ID).Outcome)
	require.Zero(t, h.cls.Calls("m1", "p"))

	h.mailbox.SetTextError(h.acct.ID, "m1", nil)
	report, err = h.orch.RunCycle(ctx, h.acct.ID, TriggerScheduled)
	require.NoError(t, err)
	require.Equal(t, 1, report.Retried)
	require.Equal(t, ledger.OutcomeNotMatched,
		h.record(t, "m1", rule.ID).Outcome)
}

// TestCycleRetryCap checks a pair that keeps failing is eventually left
// alone, and that a deleted message is retired the same way.
func TestCycleRetryCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxFailedAttempts = 2
	h := newHarness(cfg)
	ctx := context.Background()

	rule := h.rules.Add(rules.Rule{PromptText: "p", LabelName: "L"})
	h.deliver("m1", h.now.Add(-2*time.Minute))
	h.deliver("m2", h.now.Add(-time.Minute))
	h.cls.decide = func(string, string) (classifier.Verdict, error) {
		return classifier.NotMatched, &classifier.ClassifierError{
			Reason: classifier.ReasonMalformed,
			Err:    errors.New("garbage"),
		}
	}

	for i := 0; i < 4; i++ {
		_, err := h.orch.RunCycle(ctx, h.acct.ID, TriggerScheduled)
		require.NoError(t, err)
	}
	require.Equal(t, 2, h.cls.Calls("m1", "p"))
	require.Equal(t, 2, h.record(t, "m1", rule.ID).Attempts)

	// m2 disappears after its first failure: the lookup counts as an
	// attempt, so the pair is retired without another classifier call.
	cfg.MaxFailedAttempts = 3
	h2 := newHarness(cfg)
	rule2 := h2.rules.Add(rules.Rule{PromptText: "p", LabelName: "L"})
	h2.deliver("m2", h2.now.Add(-time.Minute))
	h2.cls.decide = h.cls.decide

	_, err := h2.orch.RunCycle(ctx, h2.acct.ID, TriggerScheduled)
	require.NoError(t, err)
	h2.mailbox.RemoveMessage(h2.acct.ID, "m2")

	for i := 0; i < 3; i++ {
		_, err = h2.orch.RunCycle(ctx, h2.acct.ID, TriggerScheduled)
		require.NoError(t, err)
	}

	gone := h2.record(t, "m2", rule2.ID)
	require.Equal(t, ledger.OutcomeFailed, gone.Outcome)
	require.Equal(t, 3, gone.Attempts)
	require.Equal(t, "message not found", gone.FailureReason)
	require.Equal(t, 1, h2.cls.Calls("m2", "p"))
}

// TestCycleCancellation cancels a cycle while a classifier call is in
// flight. The call finishes and is recorded, the remaining pairs are not
// started and the cursor stays put.
func TestCycleCancellation(t *testing.T) {
	h := newHarness(DefaultConfig())

	rule := h.rules.Add(rules.Rule{PromptText: "p", LabelName: "L"})
	h.deliver("m1", h.now.Add(-3*time.Minute))
	h.deliver("m2", h.now.Add(-2*time.Minute))
	h.deliver("m3", h.now.Add(-time.Minute))

	block := make(chan struct{})
	started := make(chan struct{}, 1)
	h.cls.block, h.cls.started = block, started

	ctx, cancel := context.WithCancel(context.Background())

	type result struct {
		report CycleReport
		err    error
	}
	done := make(chan result, 1)
	go func() {
		r, err := h.orch.RunCycle(ctx, h.acct.ID, TriggerScheduled)
		done <- result{r, err}
	}()

	<-started
	cancel()
	close(block)

	res := <-done
	require.ErrorIs(t, res.err, ErrCycleCancelled)
	require.Equal(t, StatusCancelled, res.report.Status)
	require.Equal(t, 1, res.report.Evaluated)
	require.False(t, res.report.CursorAdvanced)
	require.True(t, h.cursor(t).IsZero())

	// The fetch worked but the cycle did not finish, so the account's
	// last successful scan is not stamped.
	require.Zero(t, h.accounts.successes)

	require.Equal(t, ledger.OutcomeNotMatched,
		h.record(t, "m1", rule.ID).Outcome)
	rec, err := h.ledger.Get(context.Background(), ledger.Key{
		AccountID: h.acct.ID, MessageID: "m3", RuleID: rule.ID,
	})
	require.NoError(t, err)
	require.True(t, rec.IsNone())
}

// TestCycleRuleSnapshot checks rules toggled during a cycle only take
// effect on the next one.
func TestCycleRuleSnapshot(t *testing.T) {
	h := newHarness(DefaultConfig())
	ctx := context.Background()

	r1 := h.rules.Add(rules.Rule{PromptText: "p1", LabelName: "L1"})
	r2 := h.rules.Add(rules.Rule{PromptText: "p2", LabelName: "L2"})
	h.rules.SetActive(r2.ID, false)

	h.deliver("m1", h.now.Add(-time.Minute))

	h.cls.decide = func(_, prompt string) (classifier.Verdict, error) {
		// Turning r2 on mid-cycle must not change this cycle.
		h.rules.SetActive(r2.ID, true)
		return classifier.NotMatched, nil
	}

	report, err := h.orch.RunCycle(ctx, h.acct.ID, TriggerScheduled)
	require.NoError(t, err)
	require.Equal(t, 1, report.Evaluated)
	require.Equal(t, 1, h.cls.Calls("m1", "p1"))
	require.Zero(t, h.cls.Calls("m1", "p2"))
	require.Equal(t, ledger.OutcomeNotMatched,
		h.record(t, "m1", r1.ID).Outcome)
}

// TestCycleNotifiesListeners checks subscribers see every report.
func TestCycleNotifiesListeners(t *testing.T) {
	h := newHarness(DefaultConfig())
	h.rules.Add(rules.Rule{PromptText: "p", LabelName: "L"})

	var got []CycleReport
	h.orch.Subscribe(func(r CycleReport) {
		got = append(got, r)
	})

	report, err := h.orch.RunCycle(
		context.Background(), h.acct.ID, TriggerManual,
	)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, report.CycleID, got[0].CycleID)
	require.Equal(t, TriggerManual, got[0].Trigger)
}

// TestAtMostOnceEvaluation runs random sequences of cycles, deliveries,
// classifier failures and cancellations, and checks no pair is ever
// classified again once it has a terminal record, and that the cursor
// never moves backwards.
func TestAtMostOnceEvaluation(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		h := newHarness(DefaultConfig())

		numRules := rapid.IntRange(1, 3).Draw(rt, "rules")
		var ruleSet []rules.Rule
		for i := 0; i < numRules; i++ {
			ruleSet = append(ruleSet, h.rules.Add(rules.Rule{
				PromptText: fmt.Sprintf("p%d", i),
				LabelName:  fmt.Sprintf("L%d", i),
			}))
		}

		// terminalCalls counts classifier calls that produced a
		// terminal record per pair.
		var mu sync.Mutex
		terminal := make(map[string]int)
		failNext := false

		h.cls.decide = func(text,
			prompt string) (classifier.Verdict, error) {

			mu.Lock()
			defer mu.Unlock()

			if failNext {
				return classifier.NotMatched,
					&classifier.ClassifierError{
						Reason: classifier.ReasonTransport,
						Err:    errors.New("down"),
					}
			}

			key := subjectOf(text) + "|" + prompt
			terminal[key]++
			if len(text)%2 == 0 {
				return classifier.Matched, nil
			}
			return classifier.NotMatched, nil
		}

		var lastCursor time.Time
		msgs := 0
		steps := rapid.IntRange(1, 25).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			h.now = h.now.Add(time.Duration(
				rapid.IntRange(1, 120).Draw(rt, "advance"),
			) * time.Second)

			switch rapid.IntRange(0, 3).Draw(rt, "op") {
			case 0:
				msgs++
				id := fmt.Sprintf("m%d", msgs)
				back := rapid.IntRange(0, 90).Draw(rt, "age")
				h.deliver(id, h.now.Add(
					-time.Duration(back)*time.Second,
				))

			case 1:
				mu.Lock()
				failNext = rapid.Bool().Draw(rt, "fail")
				mu.Unlock()

			case 2:
				ctx, cancel := context.WithCancel(
					context.Background(),
				)
				if rapid.Bool().Draw(rt, "cancelled") {
					cancel()
				}
				_, err := h.orch.RunCycle(
					ctx, h.acct.ID, TriggerScheduled,
				)
				cancel()
				if err != nil {
					require.ErrorIs(rt, err,
						ErrCycleCancelled)
				}

			case 3:
				_, err := h.orch.RunCycle(
					context.Background(), h.acct.ID,
					TriggerManual,
				)
				require.NoError(rt, err)
			}

			cur := h.cursor(rt)
			require.False(rt, cur.Before(lastCursor))
			lastCursor = cur
		}

		mu.Lock()
		defer mu.Unlock()
		for key, n := range terminal {
			require.Equal(rt, 1, n, "pair %s classified twice", key)
		}

		for i := 1; i <= msgs; i++ {
			id := fmt.Sprintf("m%d", i)
			for _, rule := range ruleSet {
				rec, err := h.ledger.Get(context.Background(),
					ledger.Key{
						AccountID: h.acct.ID,
						MessageID: id,
						RuleID:    rule.ID,
					})
				require.NoError(rt, err)

				key := id + "|" + rule.PromptText
				if terminal[key] == 1 {
					require.True(rt, rec.IsSome())
					require.True(rt, rec.UnwrapOr(
						ledger.Record{},
					).Outcome.IsTerminal())
				}
			}
		}
	})
}

func TestSQLHistory(t *testing.T) {
	store, err := db.Open(filepath.Join(t.TempDir(), "hist.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
	})

	ctx := context.Background()
	acct, err := accounts.NewStore(store.Store, nil).Create(
		ctx, accounts.NewAccount{
			ExternalID: "hist@example.com",
			Provider:   accounts.ProviderGmail,
		},
	)
	require.NoError(t, err)

	hist := NewSQLHistory(store.Store)
	base := time.UnixMilli(1_700_000_000_000)
	for i := 0; i < 3; i++ {
		require.NoError(t, hist.Save(ctx, CycleReport{
			CycleID:    fmt.Sprintf("c%d", i),
			AccountID:  acct.ID,
			Trigger:    TriggerScheduled,
			Status:     StatusCompleted,
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
			FinishedAt: base.Add(time.Duration(i)*time.Minute + time.Second),
			Fetched:    i,
			Matched:    1,
		}))
	}

	cycles, err := hist.List(ctx, acct.ID, 2)
	require.NoError(t, err)
	require.Len(t, cycles, 2)
	require.Equal(t, "c2", cycles[0].CycleID)
	require.Equal(t, 2, cycles[0].Fetched)
	require.Equal(t, time.Second, cycles[0].Duration())

	n, err := hist.Prune(ctx, base.Add(90*time.Second))
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	cycles, err = hist.List(ctx, acct.ID, 10)
	require.NoError(t, err)
	require.Len(t, cycles, 1)
}
