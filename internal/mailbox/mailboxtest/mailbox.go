// Package mailboxtest provides an in-memory mailbox.Gateway for tests.
package mailboxtest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/roasbeef/labeler/internal/accounts"
	"github.com/roasbeef/labeler/internal/mailbox"
	"github.com/roasbeef/labeler/internal/rules"
)

// account is the state of one fake mailbox.
type account struct {
	messages map[string]mailbox.Message

	// labels maps lower-cased names to ids.
	labels map[string]mailbox.LabelID
	names  map[mailbox.LabelID]string

	// applied holds the labels each message carries.
	applied map[string]map[mailbox.LabelID]struct{}

	actions map[string][]rules.Action

	listErr    error
	textErrs   map[string]error
	applyFails int

	listCalls  int
	textCalls  map[string]int
	applyCalls map[string]int
}

// Mailbox is an in-memory Gateway. Accounts spring into existence on first
// use.
type Mailbox struct {
	mu       sync.Mutex
	accounts map[int64]*account
	nextID   int
}

// New returns an empty fake mailbox.
func New() *Mailbox {
	return &Mailbox{accounts: make(map[int64]*account)}
}

func (m *Mailbox) acct(id int64) *account {
	a, ok := m.accounts[id]
	if !ok {
		a = &account{
			messages:   make(map[string]mailbox.Message),
			labels:     make(map[string]mailbox.LabelID),
			names:      make(map[mailbox.LabelID]string),
			applied:    make(map[string]map[mailbox.LabelID]struct{}),
			actions:    make(map[string][]rules.Action),
			textErrs:   make(map[string]error),
			textCalls:  make(map[string]int),
			applyCalls: make(map[string]int),
		}
		m.accounts[id] = a
	}

	return a
}

// AddMessage delivers a message to an account.
func (m *Mailbox) AddMessage(accountID int64, msg mailbox.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.acct(accountID).messages[msg.ID] = msg
}

// RemoveMessage deletes a message, as if the user had expunged it.
func (m *Mailbox) RemoveMessage(accountID int64, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.acct(accountID).messages, id)
}

// SetListError makes ListRecentMessages fail with err until cleared with
// nil.
func (m *Mailbox) SetListError(accountID int64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.acct(accountID).listErr = err
}

// SetTextError makes FetchText fail for one message.
func (m *Mailbox) SetTextError(accountID int64, id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.acct(accountID).textErrs[id] = err
}

// FailApplies makes the next n ApplyLabel calls on the account fail with a
// transient error.
func (m *Mailbox) FailApplies(accountID int64, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.acct(accountID).applyFails = n
}

// Labels returns the names of the labels a message carries, sorted.
func (m *Mailbox) Labels(accountID int64, id string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := m.acct(accountID)

	var names []string
	for label := range a.applied[id] {
		names = append(names, a.names[label])
	}
	sort.Strings(names)

	return names
}

// Actions returns the actions applied to a message, in order.
func (m *Mailbox) Actions(accountID int64, id string) []rules.Action {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]rules.Action(nil), m.acct(accountID).actions[id]...)
}

// ListCalls returns how many times the account was listed.
func (m *Mailbox) ListCalls(accountID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.acct(accountID).listCalls
}

// TextCalls returns how many times a message's text was fetched.
func (m *Mailbox) TextCalls(accountID int64, id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.acct(accountID).textCalls[id]
}

// ApplyCalls returns how many ApplyLabel calls targeted a message.
func (m *Mailbox) ApplyCalls(accountID int64, id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.acct(accountID).applyCalls[id]
}

// ListRecentMessages implements mailbox.Gateway.
func (m *Mailbox) ListRecentMessages(ctx context.Context,
	acct accounts.Account, since time.Time,
	limit int) ([]mailbox.MessageRef, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	a := m.acct(acct.ID)
	a.listCalls++
	if a.listErr != nil {
		return nil, a.listErr
	}

	refs := make([]mailbox.MessageRef, 0, len(a.messages))
	for _, msg := range a.messages {
		refs = append(refs, msg.MessageRef)
	}
	sort.Slice(refs, func(i, j int) bool {
		if !refs[i].ReceivedAt.Equal(refs[j].ReceivedAt) {
			return refs[i].ReceivedAt.Before(refs[j].ReceivedAt)
		}
		return refs[i].ID < refs[j].ID
	})

	return mailbox.TrimWindow(refs, since, limit), nil
}

// GetMessage implements mailbox.Gateway.
func (m *Mailbox) GetMessage(_ context.Context, acct accounts.Account,
	id string) (mailbox.MessageRef, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.acct(acct.ID).messages[id]
	if !ok {
		return mailbox.MessageRef{}, fmt.Errorf("%w: %s",
			mailbox.ErrMessageNotFound, id)
	}

	return msg.MessageRef, nil
}

// FetchText implements mailbox.Gateway.
func (m *Mailbox) FetchText(_ context.Context, acct accounts.Account,
	id string) (mailbox.Message, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	a := m.acct(acct.ID)
	a.textCalls[id]++
	if err := a.textErrs[id]; err != nil {
		return mailbox.Message{}, err
	}

	msg, ok := a.messages[id]
	if !ok {
		return mailbox.Message{}, fmt.Errorf("%w: %s",
			mailbox.ErrMessageNotFound, id)
	}

	return msg, nil
}

// EnsureLabel implements mailbox.Gateway.
func (m *Mailbox) EnsureLabel(_ context.Context, acct accounts.Account,
	name string) (mailbox.LabelID, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	a := m.acct(acct.ID)
	key := strings.ToLower(name)
	if id, ok := a.labels[key]; ok {
		return id, nil
	}

	m.nextID++
	id := mailbox.LabelID(fmt.Sprintf("Label_%d", m.nextID))
	a.labels[key] = id
	a.names[id] = name

	return id, nil
}

// ApplyLabel implements mailbox.Gateway.
func (m *Mailbox) ApplyLabel(_ context.Context, acct accounts.Account,
	id string, label mailbox.LabelID) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	a := m.acct(acct.ID)
	a.applyCalls[id]++

	if a.applyFails > 0 {
		a.applyFails--
		return &mailbox.TransientError{
			Op: "apply label", Err: fmt.Errorf("injected failure"),
		}
	}
	if _, ok := a.messages[id]; !ok {
		return fmt.Errorf("%w: %s", mailbox.ErrMessageNotFound, id)
	}
	if _, ok := a.names[label]; !ok {
		return fmt.Errorf("unknown label %s", label)
	}

	if a.applied[id] == nil {
		a.applied[id] = make(map[mailbox.LabelID]struct{})
	}
	a.applied[id][label] = struct{}{}

	return nil
}

// ApplyAction implements mailbox.Gateway.
func (m *Mailbox) ApplyAction(_ context.Context, acct accounts.Account,
	id string, action rules.Action) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	a := m.acct(acct.ID)
	if _, ok := a.messages[id]; !ok {
		return fmt.Errorf("%w: %s", mailbox.ErrMessageNotFound, id)
	}
	a.actions[id] = append(a.actions[id], action)

	return nil
}

// Compile-time check that Mailbox satisfies mailbox.Gateway.
var _ mailbox.Gateway = (*Mailbox)(nil)
