package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/roasbeef/labeler/internal/db/sqlc"
)

// DefaultStoreTimeout bounds a bookkeeping write made on a detached
// context, such as the ledger records a scan cycle writes while it is
// being cancelled.
const DefaultStoreTimeout = 10 * time.Second

const (
	// DefaultNumTxRetries is how many times a transaction that hit a busy
	// or locked database is attempted.
	DefaultNumTxRetries = 10

	// DefaultInitialRetryDelay is the base delay before the first retry.
	// The actual delay is drawn from 50% to 150% of it and doubles per
	// attempt, so writers that collided do not collide again.
	DefaultInitialRetryDelay = 40 * time.Millisecond

	// DefaultMaxRetryDelay caps the delay between retries.
	DefaultMaxRetryDelay = 3 * time.Second
)

// DetachedContext returns a context that keeps the values of ctx but not its
// cancellation, and expires after DefaultStoreTimeout. Writes that must
// land after their caller gave up use it.
func DetachedContext(ctx context.Context) (context.Context,
	context.CancelFunc) {

	return context.WithTimeout(
		context.WithoutCancel(ctx), DefaultStoreTimeout,
	)
}

// TxOptions selects the kind of transaction ExecTx opens.
type TxOptions interface {
	// ReadOnly reports whether the transaction only reads.
	ReadOnly() bool
}

// writeTx is the only transaction kind the stores open. Every domain write
// goes through a transaction, reads use the plain queries.
type writeTx struct{}

// ReadOnly implements TxOptions.
func (writeTx) ReadOnly() bool {
	return false
}

// WriteTxOption returns the options of a read-write transaction.
func WriteTxOption() TxOptions {
	return writeTx{}
}

// QueryCreator binds a query set to an open transaction.
type QueryCreator[Q any] func(*sql.Tx) Q

// BatchedQuerier is a query set that can also open transactions.
type BatchedQuerier interface {
	sqlc.Querier

	// BeginTx opens a transaction with the given options.
	BeginTx(ctx context.Context, options TxOptions) (*sql.Tx, error)
}

// sqlQuerier adapts a *sql.DB to BatchedQuerier.
type sqlQuerier struct {
	*sqlc.Queries

	db *sql.DB
}

func newSQLQuerier(db *sql.DB) *sqlQuerier {
	return &sqlQuerier{
		Queries: sqlc.New(db),
		db:      db,
	}
}

// BeginTx implements BatchedQuerier.
func (s *sqlQuerier) BeginTx(ctx context.Context,
	opts TxOptions) (*sql.Tx, error) {

	return s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: opts.ReadOnly()})
}
