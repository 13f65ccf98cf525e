package rules

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/labeler/internal/db"
	"github.com/roasbeef/labeler/internal/db/sqlc"
)

// Store manages rules in the database.
type Store struct {
	store *db.Store
}

// NewStore creates a rule store on top of store.
func NewStore(store *db.Store) *Store {
	return &Store{store: store}
}

// Create validates and inserts a new active rule.
func (s *Store) Create(ctx context.Context, n NewRule) (Rule, error) {
	if err := n.Validate(); err != nil {
		return Rule{}, err
	}
	action, _ := ParseAction(string(n.Action))

	var accountID sql.NullInt64
	n.AccountID.WhenSome(func(id int64) {
		accountID = sql.NullInt64{Int64: id, Valid: true}
	})

	row, err := db.WithTxResult(ctx, s.store, func(ctx context.Context,
		q *sqlc.Queries) (sqlc.Rule, error) {

		return q.CreateRule(ctx, sqlc.CreateRuleParams{
			AccountID:  accountID,
			Name:       strings.TrimSpace(n.Name),
			PromptText: strings.TrimSpace(n.PromptText),
			LabelName:  strings.TrimSpace(n.LabelName),
			Action:     string(action),
			SortOrder:  int64(n.SortOrder),
			Active:     true,
			CreatedAt:  time.Now().Unix(),
		})
	})
	if err != nil {
		return Rule{}, fmt.Errorf("create rule: %w", err)
	}

	return fromRow(row), nil
}

// Get returns a rule by id.
func (s *Store) Get(ctx context.Context, id int64) (Rule, error) {
	row, err := s.store.Queries().GetRule(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Rule{}, fmt.Errorf("%w: %d", ErrRuleNotFound, id)
	}
	if err != nil {
		return Rule{}, fmt.Errorf("get rule: %w", err)
	}

	return fromRow(row), nil
}

// List returns every rule.
func (s *Store) List(ctx context.Context) ([]Rule, error) {
	rows, err := s.store.Queries().ListRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}

	return fromRows(rows), nil
}

// ListForAccount returns the account's rules and the global ones, active or
// not.
func (s *Store) ListForAccount(ctx context.Context,
	accountID int64) ([]Rule, error) {

	rows, err := s.store.Queries().ListRulesForAccount(
		ctx, sql.NullInt64{Int64: accountID, Valid: true},
	)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}

	return fromRows(rows), nil
}

// ActiveRules implements Source.
func (s *Store) ActiveRules(ctx context.Context,
	accountID int64) ([]Rule, error) {

	rows, err := s.store.Queries().ListActiveRulesForAccount(
		ctx, sql.NullInt64{Int64: accountID, Valid: true},
	)
	if err != nil {
		return nil, fmt.Errorf("list active rules: %w", err)
	}

	return fromRows(rows), nil
}

// SetActive toggles a rule. Cycles already running keep the snapshot they
// took at start.
func (s *Store) SetActive(ctx context.Context, id int64, active bool) error {
	n, err := db.WithTxResult(ctx, s.store, func(ctx context.Context,
		q *sqlc.Queries) (int64, error) {

		return q.SetRuleActive(ctx, sqlc.SetRuleActiveParams{
			Active: active,
			ID:     id,
		})
	})
	if err != nil {
		return fmt.Errorf("set rule active: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrRuleNotFound, id)
	}

	return nil
}

// Delete removes a rule along with its evaluation records.
func (s *Store) Delete(ctx context.Context, id int64) error {
	n, err := db.WithTxResult(ctx, s.store, func(ctx context.Context,
		q *sqlc.Queries) (int64, error) {

		return q.DeleteRule(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrRuleNotFound, id)
	}

	return nil
}

func fromRow(row sqlc.Rule) Rule {
	accountID := fn.None[int64]()
	if row.AccountID.Valid {
		accountID = fn.Some(row.AccountID.Int64)
	}

	return Rule{
		ID:         row.ID,
		AccountID:  accountID,
		Name:       row.Name,
		PromptText: row.PromptText,
		LabelName:  row.LabelName,
		Action:     Action(row.Action),
		SortOrder:  int(row.SortOrder),
		Active:     row.Active,
		CreatedAt:  time.Unix(row.CreatedAt, 0),
	}
}

func fromRows(rows []sqlc.Rule) []Rule {
	out := make([]Rule, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromRow(row))
	}

	return out
}

// Compile-time check that Store satisfies Source.
var _ Source = (*Store)(nil)
