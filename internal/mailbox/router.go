package mailbox

import (
	"context"
	"fmt"
	"time"

	"github.com/roasbeef/labeler/internal/accounts"
	"github.com/roasbeef/labeler/internal/rules"
)

// Router dispatches each call to the backend for the account's provider.
type Router struct {
	backends map[accounts.Provider]Gateway
}

// NewRouter creates a router over the given backends.
func NewRouter(backends map[accounts.Provider]Gateway) *Router {
	r := &Router{backends: make(map[accounts.Provider]Gateway)}
	for p, gw := range backends {
		r.backends[p] = gw
	}

	return r
}

func (r *Router) backend(acct accounts.Account) (Gateway, error) {
	gw, ok := r.backends[acct.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider,
			acct.Provider)
	}

	return gw, nil
}

// ListRecentMessages implements Gateway.
func (r *Router) ListRecentMessages(ctx context.Context,
	acct accounts.Account, since time.Time, limit int) ([]MessageRef,
	error) {

	gw, err := r.backend(acct)
	if err != nil {
		return nil, err
	}

	return gw.ListRecentMessages(ctx, acct, since, limit)
}

// GetMessage implements Gateway.
func (r *Router) GetMessage(ctx context.Context, acct accounts.Account,
	id string) (MessageRef, error) {

	gw, err := r.backend(acct)
	if err != nil {
		return MessageRef{}, err
	}

	return gw.GetMessage(ctx, acct, id)
}

// FetchText implements Gateway.
func (r *Router) FetchText(ctx context.Context, acct accounts.Account,
	id string) (Message, error) {

	gw, err := r.backend(acct)
	if err != nil {
		return Message{}, err
	}

	return gw.FetchText(ctx, acct, id)
}

// EnsureLabel implements Gateway.
func (r *Router) EnsureLabel(ctx context.Context, acct accounts.Account,
	name string) (LabelID, error) {

	gw, err := r.backend(acct)
	if err != nil {
		return "", err
	}

	return gw.EnsureLabel(ctx, acct, name)
}

// ApplyLabel implements Gateway.
func (r *Router) ApplyLabel(ctx context.Context, acct accounts.Account,
	id string, label LabelID) error {

	gw, err := r.backend(acct)
	if err != nil {
		return err
	}

	return gw.ApplyLabel(ctx, acct, id, label)
}

// ApplyAction implements Gateway.
func (r *Router) ApplyAction(ctx context.Context, acct accounts.Account,
	id string, action rules.Action) error {

	gw, err := r.backend(acct)
	if err != nil {
		return err
	}

	return gw.ApplyAction(ctx, acct, id, action)
}

// Compile-time checks.
var (
	_ Gateway = (*Router)(nil)
	_ Gateway = (*Retrying)(nil)
)
