package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/roasbeef/labeler/internal/db"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	sqlStore, err := db.Open(filepath.Join(t.TempDir(), "acct.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlStore.Close()
	})

	return NewStore(sqlStore.Store, nil)
}

func TestCreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	acct, err := store.Create(ctx, NewAccount{
		ExternalID: "alice@example.com",
		Provider:   ProviderGmail,
	})
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", acct.DisplayName)
	require.Equal(t, DefaultPollInterval, acct.PollInterval)
	require.True(t, acct.Active)
	require.True(t, acct.LastScanAt.IsNone())

	got, err := store.GetByExternalID(ctx, "alice@example.com")
	require.NoError(t, err)
	require.Equal(t, acct.ID, got.ID)

	_, err = store.Create(ctx, NewAccount{
		ExternalID: "alice@example.com",
		Provider:   ProviderGmail,
	})
	require.ErrorIs(t, err, ErrAccountExists)

	_, err = store.Create(ctx, NewAccount{
		ExternalID: "bob@example.com",
		Provider:   "pop3",
	})
	require.Error(t, err)

	_, err = store.Get(ctx, 999)
	require.ErrorIs(t, err, ErrAccountNotFound)
}

func TestPauseResume(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	acct, err := store.Create(ctx, NewAccount{
		ExternalID: "carol@example.com",
		Provider:   ProviderIMAP,
	})
	require.NoError(t, err)

	require.NoError(t, store.SetActive(ctx, acct.ID, false))
	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	require.Empty(t, active)

	require.NoError(t, store.SetActive(ctx, acct.ID, true))
	active, err = store.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)

	require.ErrorIs(t, store.SetActive(ctx, 12345, true),
		ErrAccountNotFound)
}

func TestFailureAccounting(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	health := DefaultHealthConfig()

	acct, err := store.Create(ctx, NewAccount{
		ExternalID: "dave@example.com",
		Provider:   ProviderGmail,
	})
	require.NoError(t, err)
	require.Equal(t, HealthOK, health.ComputeHealth(&acct))

	now := time.Now()

	// A transient failure degrades without touching the auth streak.
	streak, err := store.RecordScanFailure(
		ctx, acct.ID, errors.New("503"), false, now,
	)
	require.NoError(t, err)
	require.Zero(t, streak)

	acct, err = store.Get(ctx, acct.ID)
	require.NoError(t, err)
	require.Equal(t, HealthDegraded, health.ComputeHealth(&acct))
	require.Equal(t, "503", acct.LastError)

	for i := 1; i <= DefaultAuthFailureThreshold; i++ {
		streak, err = store.RecordScanFailure(
			ctx, acct.ID, errors.New("invalid_grant"), true, now,
		)
		require.NoError(t, err)
		require.Equal(t, i, streak)
	}

	acct, err = store.Get(ctx, acct.ID)
	require.NoError(t, err)
	require.Equal(t, HealthNeedsAttention, health.ComputeHealth(&acct))
	require.False(t, health.Schedulable(&acct))
	require.Equal(t, DefaultAuthFailureThreshold+1, acct.TotalFailures)

	// Resuming after a reconnect clears the streak.
	require.NoError(t, store.SetActive(ctx, acct.ID, true))
	acct, err = store.Get(ctx, acct.ID)
	require.NoError(t, err)
	require.Zero(t, acct.ConsecutiveAuthFailures)
	require.True(t, health.Schedulable(&acct))

	// A success clears the error fields but keeps the lifetime count.
	require.NoError(t, store.RecordScanSuccess(ctx, acct.ID, now))
	acct, err = store.Get(ctx, acct.ID)
	require.NoError(t, err)
	require.Equal(t, HealthOK, health.ComputeHealth(&acct))
	require.True(t, acct.LastScanAt.IsSome())
	require.Equal(t, DefaultAuthFailureThreshold+1, acct.TotalFailures)
}

func TestTokenSaver(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	acct, err := store.Create(ctx, NewAccount{
		ExternalID: "erin@example.com",
		Provider:   ProviderGmail,
	})
	require.NoError(t, err)

	creds, err := json.Marshal(GmailCredentials{
		AccessToken:  "new-access",
		RefreshToken: "refresh",
	})
	require.NoError(t, err)

	require.NoError(t, store.TokenSaver(acct.ID)(ctx, creds))

	acct, err = store.Get(ctx, acct.ID)
	require.NoError(t, err)

	var got GmailCredentials
	require.NoError(t, json.Unmarshal(acct.Credentials, &got))
	require.Equal(t, "new-access", got.AccessToken)
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	acct, err := store.Create(ctx, NewAccount{
		ExternalID: "frank@example.com",
		Provider:   ProviderGmail,
	})
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, acct.ID))
	require.ErrorIs(t, store.Delete(ctx, acct.ID), ErrAccountNotFound)
}

func TestComputeHealthPaused(t *testing.T) {
	health := &HealthConfig{AuthFailureThreshold: 1}
	acct := &Account{Active: false, ConsecutiveAuthFailures: 5}
	require.Equal(t, HealthPaused, health.ComputeHealth(acct))

	acct.Active = true
	require.Equal(t, HealthNeedsAttention, health.ComputeHealth(acct))

	// A zero threshold disables escalation.
	health.AuthFailureThreshold = 0
	require.True(t, health.Schedulable(acct))
}
