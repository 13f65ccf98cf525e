package activity

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/labeler/internal/db"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *SQLStore) {
	t.Helper()

	sqlStore, err := db.Open(filepath.Join(t.TempDir(), "act.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlStore.Close()
	})

	store := NewSQLStore(sqlStore.Store)

	return NewService(store, DefaultConfig(), nil), store
}

// unwrap extracts the response from a Receive result.
func unwrap[T Response](t *testing.T, res fn.Result[Response]) T {
	t.Helper()

	resp, err := res.Unpack()
	require.NoError(t, err)

	typed, ok := resp.(T)
	require.True(t, ok, "unexpected response %T", resp)

	return typed
}

func TestRecordAndList(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	rec := unwrap[RecordResponse](t, svc.Receive(ctx, RecordRequest{
		Type:        TypeCycleSkipped,
		Description: "tick skipped",
	}))
	require.NoError(t, rec.Error)

	svc.Record(ctx, 0, TypeLabelApplied, "labeled %s as %s", "m1",
		"Finance")

	list := unwrap[ListRecentResponse](t, svc.Receive(
		ctx, ListRecentRequest{Limit: 10},
	))
	require.NoError(t, list.Error)
	require.Len(t, list.Activities, 2)
	require.Equal(t, "labeled m1 as Finance",
		list.Activities[0].Description)
	require.Equal(t, TypeLabelApplied, list.Activities[0].Type)
}

func TestCleanupRetentionAndCap(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	old := time.Now().Add(-40 * 24 * time.Hour)
	require.NoError(t, store.CreateActivity(ctx, Activity{
		Type: TypeFetchFailed, Description: "old", CreatedAt: old,
	}))
	for i := 0; i < 5; i++ {
		require.NoError(t, store.CreateActivity(ctx, Activity{
			Type: TypeCycleCompleted, Description: "new",
		}))
	}

	resp := unwrap[CleanupResponse](t, svc.Receive(ctx, CleanupRequest{
		OlderThan: time.Now().Add(-DefaultRetention),
		MaxRows:   3,
	}))
	require.NoError(t, resp.Error)
	require.EqualValues(t, 3, resp.Deleted)

	left, err := store.ListRecent(ctx, 100)
	require.NoError(t, err)
	require.Len(t, left, 3)
	for _, a := range left {
		require.Equal(t, "new", a.Description)
	}
}

type unknownRequest struct{}

func (unknownRequest) isActivityRequest() {}

func TestUnknownRequest(t *testing.T) {
	svc, _ := newTestService(t)

	res := svc.Receive(context.Background(), unknownRequest{})
	require.True(t, res.IsErr())
}
