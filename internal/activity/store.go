package activity

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roasbeef/labeler/internal/db"
	"github.com/roasbeef/labeler/internal/db/sqlc"
)

// Store persists activity entries.
type Store interface {
	CreateActivity(ctx context.Context, a Activity) error
	ListRecent(ctx context.Context, limit int) ([]Activity, error)
	ListByAccount(ctx context.Context, accountID int64,
		limit int) ([]Activity, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Trim(ctx context.Context, keep int) (int64, error)
}

// SQLStore is the Store backed by the activities table.
type SQLStore struct {
	store *db.Store
}

// NewSQLStore creates an activity store on top of store.
func NewSQLStore(store *db.Store) *SQLStore {
	return &SQLStore{store: store}
}

// CreateActivity implements Store.
func (s *SQLStore) CreateActivity(ctx context.Context, a Activity) error {
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	return s.store.WithTx(ctx, func(ctx context.Context,
		q *sqlc.Queries) error {

		return q.CreateActivity(ctx, sqlc.CreateActivityParams{
			AccountID: sql.NullInt64{
				Int64: a.AccountID, Valid: a.AccountID != 0,
			},
			ActivityType: string(a.Type),
			Description:  a.Description,
			Metadata: sql.NullString{
				String: a.Metadata, Valid: a.Metadata != "",
			},
			CreatedAt: createdAt.Unix(),
		})
	})
}

// ListRecent implements Store.
func (s *SQLStore) ListRecent(ctx context.Context,
	limit int) ([]Activity, error) {

	rows, err := s.store.Queries().ListRecentActivities(ctx, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}

	return fromRows(rows), nil
}

// ListByAccount implements Store.
func (s *SQLStore) ListByAccount(ctx context.Context, accountID int64,
	limit int) ([]Activity, error) {

	rows, err := s.store.Queries().ListActivitiesByAccount(
		ctx, sqlc.ListActivitiesByAccountParams{
			AccountID: sql.NullInt64{Int64: accountID, Valid: true},
			Limit:     int64(limit),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}

	return fromRows(rows), nil
}

// DeleteBefore implements Store.
func (s *SQLStore) DeleteBefore(ctx context.Context,
	cutoff time.Time) (int64, error) {

	return db.WithTxResult(ctx, s.store, func(ctx context.Context,
		q *sqlc.Queries) (int64, error) {

		return q.DeleteActivitiesBefore(ctx, cutoff.Unix())
	})
}

// Trim implements Store.
func (s *SQLStore) Trim(ctx context.Context, keep int) (int64, error) {
	return db.WithTxResult(ctx, s.store, func(ctx context.Context,
		q *sqlc.Queries) (int64, error) {

		return q.TrimActivities(ctx, int64(keep))
	})
}

func fromRows(rows []sqlc.Activity) []Activity {
	out := make([]Activity, len(rows))
	for i, r := range rows {
		out[i] = Activity{
			ID:          r.ID,
			AccountID:   r.AccountID.Int64,
			Type:        Type(r.ActivityType),
			Description: r.Description,
			Metadata:    r.Metadata.String,
			CreatedAt:   time.Unix(r.CreatedAt, 0),
		}
	}

	return out
}

// Compile-time check that SQLStore satisfies Store.
var _ Store = (*SQLStore)(nil)
