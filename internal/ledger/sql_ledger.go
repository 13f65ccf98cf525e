package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/labeler/internal/db"
	"github.com/roasbeef/labeler/internal/db/sqlc"
)

// SQLLedger is the Ledger backed by the evaluations and scan_cursors tables.
// Per-pair writes are single upserts guarded in SQL, so concurrent cycles
// for different accounts only contend on SQLite's own write lock.
type SQLLedger struct {
	store *db.Store
	log   *slog.Logger
}

// NewSQLLedger creates a ledger on top of store.
func NewSQLLedger(store *db.Store, log *slog.Logger) *SQLLedger {
	if log == nil {
		log = slog.Default()
	}

	return &SQLLedger{
		store: store,
		log:   log.With("component", "ledger"),
	}
}

// Get implements Ledger.
func (l *SQLLedger) Get(ctx context.Context, key Key) (fn.Option[Record],
	error) {

	row, err := l.store.Queries().GetEvaluation(
		ctx, sqlc.GetEvaluationParams{
			AccountID: key.AccountID,
			MessageID: key.MessageID,
			RuleID:    key.RuleID,
		},
	)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fn.None[Record](), nil

	case err != nil:
		return fn.None[Record](), fmt.Errorf("get evaluation %v: %w",
			key, err)
	}

	rec, err := recordFromRow(row)
	if err != nil {
		return fn.None[Record](), err
	}

	return fn.Some(rec), nil
}

// Put implements Ledger.
func (l *SQLLedger) Put(ctx context.Context, rec Record) error {
	if _, err := ParseOutcome(string(rec.Outcome)); err != nil {
		return err
	}

	evaluatedAt := rec.EvaluatedAt
	if evaluatedAt.IsZero() {
		evaluatedAt = time.Now()
	}

	var existing sqlc.Evaluation
	err := l.store.WithTx(ctx, func(ctx context.Context,
		q *sqlc.Queries) error {

		rows, err := q.UpsertEvaluation(ctx, sqlc.UpsertEvaluationParams{
			AccountID:     rec.AccountID,
			MessageID:     rec.MessageID,
			RuleID:        rec.RuleID,
			Outcome:       string(rec.Outcome),
			FailureReason: nullString(rec.FailureReason),
			ReceivedAtMs:  rec.ReceivedAt.UnixMilli(),
			EvaluatedAt:   evaluatedAt.Unix(),
		})
		if err != nil {
			return err
		}
		if rows > 0 {
			return nil
		}

		// The guard in the upsert refused the write, so a terminal
		// row is already in place. Fetch it for the log line.
		existing, err = q.GetEvaluation(ctx, sqlc.GetEvaluationParams{
			AccountID: rec.AccountID,
			MessageID: rec.MessageID,
			RuleID:    rec.RuleID,
		})
		if err != nil {
			return err
		}

		return ErrTerminalRecord
	})
	if errors.Is(err, ErrTerminalRecord) {
		l.log.ErrorContext(ctx, "Refusing to overwrite terminal "+
			"evaluation",
			"key", rec.Key.String(),
			"stored_outcome", existing.Outcome,
			"attempted_outcome", string(rec.Outcome),
		)

		return fmt.Errorf("%w: %v is %s", ErrTerminalRecord, rec.Key,
			existing.Outcome)
	}
	if err != nil {
		return fmt.Errorf("put evaluation %v: %w", rec.Key, err)
	}

	return nil
}

// ListFailed implements Ledger.
func (l *SQLLedger) ListFailed(ctx context.Context, accountID int64,
	maxAttempts int) ([]Record, error) {

	limit := int64(maxAttempts)
	if maxAttempts <= 0 {
		limit = math.MaxInt64
	}

	rows, err := l.store.Queries().ListFailedEvaluations(
		ctx, sqlc.ListFailedEvaluationsParams{
			AccountID:   accountID,
			MaxAttempts: limit,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("list failed evaluations: %w", err)
	}

	return recordsFromRows(rows)
}

// ListRecent implements Ledger.
func (l *SQLLedger) ListRecent(ctx context.Context, accountID int64,
	limit int) ([]Record, error) {

	if limit <= 0 {
		limit = 50
	}

	rows, err := l.store.Queries().ListRecentEvaluations(
		ctx, sqlc.ListRecentEvaluationsParams{
			AccountID: accountID,
			Limit:     int64(limit),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("list recent evaluations: %w", err)
	}

	return recordsFromRows(rows)
}

// Counts implements Ledger.
func (l *SQLLedger) Counts(ctx context.Context,
	accountID int64) (map[Outcome]int64, error) {

	rows, err := l.store.Queries().CountEvaluationsByOutcome(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("count evaluations: %w", err)
	}

	counts := make(map[Outcome]int64, len(rows))
	for _, row := range rows {
		counts[Outcome(row.Outcome)] = row.Total
	}

	return counts, nil
}

// Cursor implements Ledger.
func (l *SQLLedger) Cursor(ctx context.Context,
	accountID int64) (fn.Option[time.Time], error) {

	row, err := l.store.Queries().GetScanCursor(ctx, accountID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fn.None[time.Time](), nil

	case err != nil:
		return fn.None[time.Time](), fmt.Errorf("get cursor: %w", err)
	}

	return fn.Some(time.UnixMilli(row.WatermarkMs)), nil
}

// AdvanceCursor implements Ledger.
func (l *SQLLedger) AdvanceCursor(ctx context.Context, accountID int64,
	w time.Time) (bool, error) {

	var advanced bool
	err := l.store.WithTx(ctx, func(ctx context.Context,
		q *sqlc.Queries) error {

		rows, err := q.AdvanceScanCursor(ctx, sqlc.AdvanceScanCursorParams{
			AccountID:   accountID,
			WatermarkMs: w.UnixMilli(),
			UpdatedAt:   time.Now().Unix(),
		})
		advanced = rows > 0

		return err
	})
	if err != nil {
		return false, fmt.Errorf("advance cursor: %w", err)
	}

	if !advanced {
		l.log.DebugContext(ctx, "Ignored non-forward cursor move",
			"account_id", accountID, "watermark", w)
	}

	return advanced, nil
}

// ResetCursor implements Ledger.
func (l *SQLLedger) ResetCursor(ctx context.Context, accountID int64) error {
	err := l.store.WithTx(ctx, func(ctx context.Context,
		q *sqlc.Queries) error {

		return q.DeleteScanCursor(ctx, accountID)
	})
	if err != nil {
		return fmt.Errorf("reset cursor: %w", err)
	}

	l.log.InfoContext(ctx, "Scan cursor reset", "account_id", accountID)

	return nil
}

func recordFromRow(row sqlc.Evaluation) (Record, error) {
	outcome, err := ParseOutcome(row.Outcome)
	if err != nil {
		return Record{}, err
	}

	return Record{
		Key: Key{
			AccountID: row.AccountID,
			MessageID: row.MessageID,
			RuleID:    row.RuleID,
		},
		Outcome:       outcome,
		Attempts:      int(row.Attempts),
		FailureReason: row.FailureReason.String,
		ReceivedAt:    time.UnixMilli(row.ReceivedAtMs),
		EvaluatedAt:   time.Unix(row.EvaluatedAt, 0),
	}, nil
}

func recordsFromRows(rows []sqlc.Evaluation) ([]Record, error) {
	recs := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec, err := recordFromRow(row)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}

	return recs, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Compile-time check that SQLLedger satisfies Ledger.
var _ Ledger = (*SQLLedger)(nil)
