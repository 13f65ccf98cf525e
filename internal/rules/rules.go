// Package rules holds the user-defined labeling rules. The scan pipeline
// only reads them.
package rules

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// ErrRuleNotFound is returned when no rule has the requested id.
	ErrRuleNotFound = errors.New("rule not found")

	// ErrInvalidRule is returned when a rule is missing its prompt or
	// label.
	ErrInvalidRule = errors.New("invalid rule")
)

// Action is an optional mailbox operation applied after the label.
type Action string

const (
	// ActionNone only labels.
	ActionNone Action = "none"

	// ActionArchive removes the message from the inbox.
	ActionArchive Action = "archive"

	// ActionSpam moves the message to spam.
	ActionSpam Action = "spam"

	// ActionTrash moves the message to the trash.
	ActionTrash Action = "trash"
)

// ParseAction converts user input into an Action. The empty string maps
// to ActionNone.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case "":
		return ActionNone, nil
	case ActionNone, ActionArchive, ActionSpam, ActionTrash:
		return a, nil
	default:
		return "", fmt.Errorf("%w: unknown action %q", ErrInvalidRule, s)
	}
}

// Rule pairs a natural-language prompt with the label applied when a
// message matches it.
type Rule struct {
	ID int64

	// AccountID scopes the rule to one account. None means the rule
	// applies to every account.
	AccountID fn.Option[int64]

	Name       string
	PromptText string
	LabelName  string
	Action     Action
	SortOrder  int
	Active     bool
	CreatedAt  time.Time
}

// IsGlobal reports whether the rule applies to every account.
func (r Rule) IsGlobal() bool {
	return r.AccountID.IsNone()
}

// NewRule is the input to Store.Create.
type NewRule struct {
	AccountID  fn.Option[int64]
	Name       string
	PromptText string
	LabelName  string
	Action     Action
	SortOrder  int
}

// Validate checks the required fields.
func (n NewRule) Validate() error {
	if strings.TrimSpace(n.PromptText) == "" {
		return fmt.Errorf("%w: prompt text is required", ErrInvalidRule)
	}
	if strings.TrimSpace(n.LabelName) == "" {
		return fmt.Errorf("%w: label name is required", ErrInvalidRule)
	}
	if _, err := ParseAction(string(n.Action)); err != nil {
		return err
	}

	return nil
}

// Source is the read side used by the scan orchestrator.
type Source interface {
	// ActiveRules returns the active rules that apply to the account,
	// global rules included, ordered by sort order then id.
	ActiveRules(ctx context.Context, accountID int64) ([]Rule, error)
}
