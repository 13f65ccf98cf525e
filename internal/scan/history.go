package scan

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roasbeef/labeler/internal/db"
	"github.com/roasbeef/labeler/internal/db/sqlc"
)

// History persists cycle reports for the operator surface.
type History interface {
	Save(ctx context.Context, r CycleReport) error
	List(ctx context.Context, accountID int64, limit int) ([]CycleReport,
		error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// SQLHistory stores cycle reports in the scan_cycles table.
type SQLHistory struct {
	store *db.Store
}

// NewSQLHistory creates a history on top of store.
func NewSQLHistory(store *db.Store) *SQLHistory {
	return &SQLHistory{store: store}
}

// Save implements History.
func (h *SQLHistory) Save(ctx context.Context, r CycleReport) error {
	errStr := sql.NullString{String: r.Error, Valid: r.Error != ""}

	err := h.store.WithTx(ctx, func(ctx context.Context,
		q *sqlc.Queries) error {

		return q.InsertScanCycle(ctx, sqlc.InsertScanCycleParams{
			CycleID:       r.CycleID,
			AccountID:     r.AccountID,
			TriggerKind:   string(r.Trigger),
			Status:        string(r.Status),
			StartedAt:     r.StartedAt.UnixMilli(),
			FinishedAt:    r.FinishedAt.UnixMilli(),
			Fetched:       int64(r.Fetched),
			Evaluated:     int64(r.Evaluated),
			Matched:       int64(r.Matched),
			Failed:        int64(r.Failed),
			LabelFailures: int64(r.LabelFailures),
			Error:         errStr,
		})
	})
	if err != nil {
		return fmt.Errorf("save cycle %s: %w", r.CycleID, err)
	}

	return nil
}

// List implements History. Newest cycles come first.
func (h *SQLHistory) List(ctx context.Context, accountID int64,
	limit int) ([]CycleReport, error) {

	if limit <= 0 {
		limit = 20
	}

	rows, err := h.store.Queries().ListScanCycles(
		ctx, sqlc.ListScanCyclesParams{
			AccountID: accountID,
			Limit:     int64(limit),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("list cycles: %w", err)
	}

	reports := make([]CycleReport, 0, len(rows))
	for _, row := range rows {
		reports = append(reports, CycleReport{
			CycleID:       row.CycleID,
			AccountID:     row.AccountID,
			Trigger:       Trigger(row.TriggerKind),
			Status:        Status(row.Status),
			StartedAt:     time.UnixMilli(row.StartedAt),
			FinishedAt:    time.UnixMilli(row.FinishedAt),
			Fetched:       int(row.Fetched),
			Evaluated:     int(row.Evaluated),
			Matched:       int(row.Matched),
			Failed:        int(row.Failed),
			LabelFailures: int(row.LabelFailures),
			Error:         row.Error.String,
		})
	}

	return reports, nil
}

// Prune implements History.
func (h *SQLHistory) Prune(ctx context.Context,
	before time.Time) (int64, error) {

	return db.WithTxResult(ctx, h.store, func(ctx context.Context,
		q *sqlc.Queries) (int64, error) {

		return q.DeleteScanCyclesBefore(ctx, before.UnixMilli())
	})
}

var _ History = (*SQLHistory)(nil)
