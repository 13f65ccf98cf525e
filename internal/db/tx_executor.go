package db

import (
	"context"
	"log/slog"
	"math"
	prand "math/rand"
	"time"
)

// txExecutorOptions holds the retry policy of a TransactionExecutor.
type txExecutorOptions struct {
	numRetries        int
	initialRetryDelay time.Duration
	maxRetryDelay     time.Duration
}

// defaultTxExecutorOptions returns the default options for the transaction
// executor.
func defaultTxExecutorOptions() *txExecutorOptions {
	return &txExecutorOptions{
		numRetries:        DefaultNumTxRetries,
		initialRetryDelay: DefaultInitialRetryDelay,
		maxRetryDelay:     DefaultMaxRetryDelay,
	}
}

// randRetryDelay returns a random retry delay between -50% and +50% of the
// configured delay that is doubled for each attempt and capped at a max value.
func (t *txExecutorOptions) randRetryDelay(attempt int) time.Duration {
	return JitteredBackoff(
		t.initialRetryDelay, t.maxRetryDelay, attempt,
	)
}

// JitteredBackoff returns a delay drawn from [50%, 150%) of initial, doubled
// once per attempt and capped at max.
func JitteredBackoff(initial, max time.Duration, attempt int) time.Duration {
	if initial <= 0 {
		return 0
	}

	halfDelay := initial / 2
	randDelay := prand.Int63n(int64(initial)) //nolint:gosec

	// 50% plus 0%-100% gives us the range of 50%-150%.
	delay := halfDelay + time.Duration(randDelay)
	if attempt == 0 {
		return delay
	}

	// Doubling n times is multiplying by 2^n. The power is capped at 32 to
	// stay clear of overflow.
	factor := time.Duration(math.Pow(2, math.Min(float64(attempt), 32)))
	//nolint:durationcheck
	delay *= factor

	if max > 0 && delay > max {
		return max
	}

	return delay
}

// TxExecutorOption is a functional option for NewTransactionExecutor.
type TxExecutorOption func(*txExecutorOptions)

// WithTxRetries sets how many times a transaction that failed with a
// retryable error is attempted.
func WithTxRetries(numRetries int) TxExecutorOption {
	return func(o *txExecutorOptions) {
		o.numRetries = numRetries
	}
}

// WithTxRetryDelay sets the initial delay between attempts.
func WithTxRetryDelay(delay time.Duration) TxExecutorOption {
	return func(o *txExecutorOptions) {
		o.initialRetryDelay = delay
	}
}

// TransactionExecutor runs a function against a Query value bound to a
// fresh database transaction, retrying the whole transaction when SQLite
// reports the database as busy or locked.
type TransactionExecutor[Query any] struct {
	BatchedQuerier

	createQuery QueryCreator[Query]

	opts *txExecutorOptions

	log *slog.Logger
}

// NewTransactionExecutor creates a new instance of a TransactionExecutor given
// a Querier query object and a concrete type for the type of transactions the
// Querier understands.
func NewTransactionExecutor[Querier any](db BatchedQuerier,
	createQuery QueryCreator[Querier], log *slog.Logger,
	opts ...TxExecutorOption,
) *TransactionExecutor[Querier] {

	txOpts := defaultTxExecutorOptions()
	for _, optFunc := range opts {
		optFunc(txOpts)
	}

	if log == nil {
		log = slog.Default()
	}

	return &TransactionExecutor[Querier]{
		BatchedQuerier: db,
		createQuery:    createQuery,
		opts:           txOpts,
		log:            log,
	}
}

// ExecTx runs txBody inside a single transaction and commits it. Busy and
// locked errors from begin, body or commit restart the transaction after a
// jittered delay, up to the configured number of attempts.
func (t *TransactionExecutor[Q]) ExecTx(ctx context.Context,
	txOptions TxOptions, txBody func(Q) error,
) error {

	for i := 0; i < t.opts.numRetries; i++ {
		err := t.attempt(ctx, txOptions, txBody)
		if err == nil {
			return nil
		}

		if !IsSerializationOrDeadlockError(err) {
			return err
		}

		retryDelay := t.opts.randRetryDelay(i)
		t.log.DebugContext(ctx, "Retrying busy transaction",
			"attempt_number", i, "delay", retryDelay, "err", err,
		)

		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return ErrRetriesExceeded
}

// attempt makes a single begin/body/commit pass. The returned error has
// already been through MapSQLError.
func (t *TransactionExecutor[Q]) attempt(ctx context.Context,
	txOptions TxOptions, txBody func(Q) error) error {

	tx, err := t.BeginTx(ctx, txOptions)
	if err != nil {
		return MapSQLError(err)
	}

	// Rollback after a successful commit is a no-op.
	defer func() {
		_ = tx.Rollback()
	}()

	if err := txBody(t.createQuery(tx)); err != nil {
		return MapSQLError(err)
	}

	return MapSQLError(tx.Commit())
}
