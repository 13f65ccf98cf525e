package db

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/roasbeef/labeler/internal/db/sqlc"
)

// Store wraps the sqlc Queries with retrying transaction support. It is the
// single handle the domain stores (ledger, accounts, rules, activity) build
// on.
type Store struct {
	db      *sql.DB
	queries *sqlc.Queries
	exec    *TransactionExecutor[*sqlc.Queries]
}

// NewStore creates a new Store instance wrapping the given database
// connection.
func NewStore(db *sql.DB, log *slog.Logger, opts ...TxExecutorOption) *Store {
	if log == nil {
		log = slog.Default()
	}

	base := newSQLQuerier(db)
	createQuery := func(tx *sql.Tx) *sqlc.Queries {
		return base.Queries.WithTx(tx)
	}

	return &Store{
		db:      db,
		queries: base.Queries,
		exec: NewTransactionExecutor(
			base, createQuery, log, opts...,
		),
	}
}

// Open opens the SQLite database at dbPath, applies migrations and returns
// the wrapping Store.
func Open(dbPath string, log *slog.Logger) (*SqliteStore, error) {
	return NewSqliteStore(&SqliteConfig{
		DatabaseFileName:      dbPath,
		SkipMigrationDbBackup: true,
	}, log)
}

// Queries returns the underlying sqlc Queries for direct access to generated
// query methods. Single-statement reads go through here rather than a
// transaction, since every transaction takes the write lock.
func (s *Store) Queries() *sqlc.Queries {
	return s.queries
}

// DB returns the underlying database connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// TxFunc is the function signature for transaction callbacks. The callback
// receives a Queries instance bound to the transaction.
type TxFunc func(ctx context.Context, q *sqlc.Queries) error

// WithTx runs fn in a write transaction, committing on a nil return and
// rolling back otherwise. Busy errors restart the transaction, so fn must
// be safe to run more than once.
func (s *Store) WithTx(ctx context.Context, fn TxFunc) error {
	return s.exec.ExecTx(ctx, WriteTxOption(), func(q *sqlc.Queries) error {
		return fn(ctx, q)
	})
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// TxFuncResult is the function signature for transaction callbacks that return
// a value. The callback receives a Queries instance bound to the transaction.
type TxFuncResult[T any] func(ctx context.Context, q *sqlc.Queries) (T, error)

// WithTxResult runs fn in a write transaction and returns its value once
// the transaction has committed.
func WithTxResult[T any](ctx context.Context, s *Store,
	fn TxFuncResult[T]) (T, error) {

	var result T
	err := s.WithTx(ctx, func(ctx context.Context, q *sqlc.Queries) error {
		var err error
		result, err = fn(ctx, q)
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}

	return result, nil
}
