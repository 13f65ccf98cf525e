package accounts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/labeler/internal/db"
	"github.com/roasbeef/labeler/internal/db/sqlc"
)

// DefaultPollInterval is used when an account is created without one.
const DefaultPollInterval = 5 * time.Minute

// Store manages accounts in the database.
type Store struct {
	store *db.Store
	log   *slog.Logger
}

// NewStore creates an account store on top of store.
func NewStore(store *db.Store, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}

	return &Store{
		store: store,
		log:   log.With("component", "accounts"),
	}
}

// Create inserts a new active account.
func (s *Store) Create(ctx context.Context, n NewAccount) (Account, error) {
	if strings.TrimSpace(n.ExternalID) == "" {
		return Account{}, fmt.Errorf("external id is required")
	}
	if _, err := ParseProvider(string(n.Provider)); err != nil {
		return Account{}, err
	}

	creds := n.Credentials
	if len(creds) == 0 {
		creds = json.RawMessage("{}")
	}
	interval := n.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	display := n.DisplayName
	if display == "" {
		display = n.ExternalID
	}

	row, err := db.WithTxResult(ctx, s.store, func(ctx context.Context,
		q *sqlc.Queries) (sqlc.Account, error) {

		return q.CreateAccount(ctx, sqlc.CreateAccountParams{
			ExternalID:       n.ExternalID,
			DisplayName:      display,
			Provider:         string(n.Provider),
			CredentialsJson:  string(creds),
			PollIntervalSecs: int64(interval / time.Second),
			Active:           true,
			CreatedAt:        time.Now().Unix(),
		})
	})
	if db.IsUniqueConstraintViolation(err) {
		return Account{}, fmt.Errorf("%w: %s", ErrAccountExists,
			n.ExternalID)
	}
	if err != nil {
		return Account{}, fmt.Errorf("create account: %w", err)
	}

	return fromRow(row), nil
}

// Get returns an account by id.
func (s *Store) Get(ctx context.Context, id int64) (Account, error) {
	row, err := s.store.Queries().GetAccount(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, fmt.Errorf("%w: %d", ErrAccountNotFound, id)
	}
	if err != nil {
		return Account{}, fmt.Errorf("get account: %w", err)
	}

	return fromRow(row), nil
}

// GetByExternalID returns an account by its external id.
func (s *Store) GetByExternalID(ctx context.Context,
	externalID string) (Account, error) {

	row, err := s.store.Queries().GetAccountByExternalID(ctx, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound,
			externalID)
	}
	if err != nil {
		return Account{}, fmt.Errorf("get account: %w", err)
	}

	return fromRow(row), nil
}

// List returns every account.
func (s *Store) List(ctx context.Context) ([]Account, error) {
	rows, err := s.store.Queries().ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	return fromRows(rows), nil
}

// ListActive returns the accounts that are not paused.
func (s *Store) ListActive(ctx context.Context) ([]Account, error) {
	rows, err := s.store.Queries().ListActiveAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active accounts: %w", err)
	}

	return fromRows(rows), nil
}

// SetActive pauses or resumes an account. Resuming also clears the auth
// failure streak, which is how a reconnected account leaves the needs
// attention state.
func (s *Store) SetActive(ctx context.Context, id int64, active bool) error {
	err := s.store.WithTx(ctx, func(ctx context.Context,
		q *sqlc.Queries) error {

		if _, err := q.GetAccount(ctx, id); err != nil {
			return err
		}

		err := q.SetAccountActive(ctx, sqlc.SetAccountActiveParams{
			Active: active,
			ID:     id,
		})
		if err != nil {
			return err
		}
		if active {
			return q.ResetAuthFailures(ctx, id)
		}

		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %d", ErrAccountNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("set account active: %w", err)
	}

	return nil
}

// UpdateCredentials replaces the stored credential document.
func (s *Store) UpdateCredentials(ctx context.Context, id int64,
	creds json.RawMessage) error {

	err := s.store.WithTx(ctx, func(ctx context.Context,
		q *sqlc.Queries) error {

		return q.UpdateAccountCredentials(
			ctx, sqlc.UpdateAccountCredentialsParams{
				CredentialsJson: string(creds),
				ID:              id,
			},
		)
	})
	if err != nil {
		return fmt.Errorf("update credentials: %w", err)
	}

	return nil
}

// UpdatePollInterval changes how often the account is scanned. The
// scheduler picks the new value up on its next tick.
func (s *Store) UpdatePollInterval(ctx context.Context, id int64,
	interval time.Duration) error {

	err := s.store.WithTx(ctx, func(ctx context.Context,
		q *sqlc.Queries) error {

		return q.UpdateAccountPollInterval(
			ctx, sqlc.UpdateAccountPollIntervalParams{
				PollIntervalSecs: int64(interval / time.Second),
				ID:               id,
			},
		)
	})
	if err != nil {
		return fmt.Errorf("update poll interval: %w", err)
	}

	return nil
}

// RecordScanSuccess notes a successful fetch and clears the error state.
func (s *Store) RecordScanSuccess(ctx context.Context, id int64,
	at time.Time) error {

	err := s.store.WithTx(ctx, func(ctx context.Context,
		q *sqlc.Queries) error {

		return q.RecordScanSuccess(ctx, sqlc.RecordScanSuccessParams{
			LastScanAt: sql.NullInt64{Int64: at.Unix(), Valid: true},
			ID:         id,
		})
	})
	if err != nil {
		return fmt.Errorf("record scan success: %w", err)
	}

	return nil
}

// RecordScanFailure notes a failed fetch. For auth failures it returns the
// new length of the consecutive auth failure streak, otherwise zero.
func (s *Store) RecordScanFailure(ctx context.Context, id int64,
	cause error, auth bool, at time.Time) (int, error) {

	lastErr := sql.NullString{String: cause.Error(), Valid: true}
	lastErrAt := sql.NullInt64{Int64: at.Unix(), Valid: true}

	streak, err := db.WithTxResult(ctx, s.store, func(ctx context.Context,
		q *sqlc.Queries) (int64, error) {

		if !auth {
			return 0, q.RecordScanFailure(
				ctx, sqlc.RecordScanFailureParams{
					LastError:   lastErr,
					LastErrorAt: lastErrAt,
					ID:          id,
				},
			)
		}

		return q.RecordAuthFailure(ctx, sqlc.RecordAuthFailureParams{
			LastError:   lastErr,
			LastErrorAt: lastErrAt,
			ID:          id,
		})
	})
	if err != nil {
		return 0, fmt.Errorf("record scan failure: %w", err)
	}

	return int(streak), nil
}

// Delete removes the account and everything recorded for it.
func (s *Store) Delete(ctx context.Context, id int64) error {
	n, err := db.WithTxResult(ctx, s.store, func(ctx context.Context,
		q *sqlc.Queries) (int64, error) {

		return q.DeleteAccount(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrAccountNotFound, id)
	}

	s.log.InfoContext(ctx, "Account deleted", "account_id", id)

	return nil
}

// TokenSaver returns a callback that persists refreshed credentials for the
// account. Mailbox backends call it when their token source rotates a
// token.
func (s *Store) TokenSaver(id int64) func(ctx context.Context,
	creds json.RawMessage) error {

	return func(ctx context.Context, creds json.RawMessage) error {
		if err := s.UpdateCredentials(ctx, id, creds); err != nil {
			s.log.WarnContext(ctx, "Failed to persist refreshed "+
				"credentials", "account_id", id, "err", err)

			return err
		}

		s.log.DebugContext(ctx, "Persisted refreshed credentials",
			"account_id", id)

		return nil
	}
}

func fromRow(row sqlc.Account) Account {
	optTime := func(v sql.NullInt64) fn.Option[time.Time] {
		if !v.Valid {
			return fn.None[time.Time]()
		}
		return fn.Some(time.Unix(v.Int64, 0))
	}

	interval := time.Duration(row.PollIntervalSecs) * time.Second

	return Account{
		ID:                      row.ID,
		ExternalID:              row.ExternalID,
		DisplayName:             row.DisplayName,
		Provider:                Provider(row.Provider),
		Credentials:             json.RawMessage(row.CredentialsJson),
		PollInterval:            interval,
		Active:                  row.Active,
		CreatedAt:               time.Unix(row.CreatedAt, 0),
		LastScanAt:              optTime(row.LastScanAt),
		LastError:               row.LastError.String,
		LastErrorAt:             optTime(row.LastErrorAt),
		ConsecutiveAuthFailures: int(row.ConsecutiveAuthFailures),
		TotalFailures:           int(row.TotalFailures),
	}
}

func fromRows(rows []sqlc.Account) []Account {
	out := make([]Account, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromRow(row))
	}

	return out
}
