package commands

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/roasbeef/labeler/internal/accounts"
	"github.com/roasbeef/labeler/internal/config"
	"github.com/roasbeef/labeler/internal/web"
	"github.com/stretchr/testify/require"
)

func clientFor(t *testing.T, h http.Handler) *daemonClient {
	t.Helper()

	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)

	cfg := config.DefaultConfig()
	cfg.Web.Addr = strings.TrimPrefix(ts.URL, "http://")

	return newDaemonClient(cfg)
}

func TestDaemonClientAccounts(t *testing.T) {
	c := clientFor(t, http.HandlerFunc(func(w http.ResponseWriter,
		r *http.Request) {

		require.Equal(t, "/api/v1/accounts", r.URL.Path)
		json.NewEncoder(w).Encode(web.APIResponse{
			Data: []web.AccountView{{
				ID:         3,
				ExternalID: "bob@example.com",
				Health:     accounts.HealthNeedsAttention,
			}},
		})
	}))

	views, err := c.accounts(context.Background())
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.Equal(t, accounts.HealthNeedsAttention, views[0].Health)
}

func TestDaemonClientRunNow(t *testing.T) {
	c := clientFor(t, http.HandlerFunc(func(w http.ResponseWriter,
		r *http.Request) {

		require.Equal(t, http.MethodPost, r.Method)

		status, code := http.StatusAccepted, ""
		switch r.URL.Path {
		case "/api/v1/accounts/2/scan":
			status, code = http.StatusConflict, "cycle_in_flight"
		case "/api/v1/accounts/3/scan":
			status, code = http.StatusNotFound, "not_found"
		}

		w.WriteHeader(status)
		if code != "" {
			json.NewEncoder(w).Encode(web.APIError{
				Error: web.APIErrorDetail{
					Code: code, Message: "account not found",
				},
			})
			return
		}
		json.NewEncoder(w).Encode(web.APIResponse{Data: "ok"})
	}))

	ctx := context.Background()
	require.NoError(t, c.runNow(ctx, 1))
	require.ErrorIs(t, c.runNow(ctx, 2), errCycleInFlight)
	require.ErrorContains(t, c.runNow(ctx, 3), "account not found")
}

func TestDaemonClientUnavailable(t *testing.T) {
	// Grab a free port and release it so nothing listens there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	cfg := config.DefaultConfig()
	cfg.Web.Addr = addr

	_, err = newDaemonClient(cfg).accounts(context.Background())
	require.ErrorIs(t, err, errDaemonUnavailable)

	// A disabled API is treated the same way.
	cfg.Web.Addr = ""
	require.Nil(t, newDaemonClient(cfg))
	err = newDaemonClient(cfg).runNow(context.Background(), 1)
	require.ErrorIs(t, err, errDaemonUnavailable)
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "a b", truncate("a\n  b", 10))
	require.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
