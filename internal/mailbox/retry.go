package mailbox

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/roasbeef/labeler/internal/accounts"
	"github.com/roasbeef/labeler/internal/db"
	"github.com/roasbeef/labeler/internal/rules"
)

// RetryConfig bounds the retries of labeling calls.
type RetryConfig struct {
	// Attempts is the total number of tries, including the first.
	Attempts int

	// InitialBackoff is the base delay before the second try.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between tries.
	MaxBackoff time.Duration
}

// DefaultRetryConfig returns the default labeling retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts:       3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
	}
}

// Retrying wraps a Gateway so that EnsureLabel, ApplyLabel and ApplyAction
// are retried with jittered backoff. Once every attempt has failed the call
// returns a *LabelApplyError. Reads pass straight through: a failed fetch
// is retried by the next cycle instead.
type Retrying struct {
	Gateway

	cfg RetryConfig
	log *slog.Logger
}

// NewRetrying wraps gw with the given retry policy.
func NewRetrying(gw Gateway, cfg RetryConfig, log *slog.Logger) *Retrying {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}

	return &Retrying{
		Gateway: gw,
		cfg:     cfg,
		log:     log.With("component", "mailbox_retry"),
	}
}

// EnsureLabel implements Gateway.
func (r *Retrying) EnsureLabel(ctx context.Context, acct accounts.Account,
	name string) (LabelID, error) {

	var id LabelID
	err := r.retry(ctx, "", name, func() error {
		var err error
		id, err = r.Gateway.EnsureLabel(ctx, acct, name)
		return err
	})

	return id, err
}

// ApplyLabel implements Gateway.
func (r *Retrying) ApplyLabel(ctx context.Context, acct accounts.Account,
	id string, label LabelID) error {

	return r.retry(ctx, id, string(label), func() error {
		return r.Gateway.ApplyLabel(ctx, acct, id, label)
	})
}

// ApplyAction implements Gateway.
func (r *Retrying) ApplyAction(ctx context.Context, acct accounts.Account,
	id string, action rules.Action) error {

	return r.retry(ctx, id, string(action), func() error {
		return r.Gateway.ApplyAction(ctx, acct, id, action)
	})
}

func (r *Retrying) retry(ctx context.Context, msgID, label string,
	call func() error) error {

	var (
		err      error
		attempts int
	)
	for attempts < r.cfg.Attempts {
		attempts++

		err = call()
		if err == nil || !retryable(err) {
			break
		}
		if attempts == r.cfg.Attempts {
			break
		}

		delay := db.JitteredBackoff(
			r.cfg.InitialBackoff, r.cfg.MaxBackoff, attempts-1,
		)
		r.log.DebugContext(ctx, "Retrying mailbox call",
			"message_id", msgID, "label", label,
			"attempt", attempts, "delay", delay, "err", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			err = errors.Join(err, ctx.Err())
			attempts = r.cfg.Attempts
		}
	}
	if err == nil {
		return nil
	}

	return &LabelApplyError{
		MessageID: msgID,
		Label:     label,
		Attempts:  attempts,
		Err:       err,
	}
}

// retryable reports whether another attempt could succeed.
func retryable(err error) bool {
	switch {
	case IsAuth(err):
		return false
	case errors.Is(err, ErrMessageNotFound):
		return false
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):

		return false
	default:
		return true
	}
}
