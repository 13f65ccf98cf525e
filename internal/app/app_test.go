package app

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/roasbeef/labeler/internal/accounts"
	"github.com/roasbeef/labeler/internal/build"
	"github.com/roasbeef/labeler/internal/config"
	"github.com/roasbeef/labeler/internal/rules"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.DB.Path = filepath.Join(cfg.DataDir, "labeler.db")
	cfg.Gmail.ClientID = "client"
	cfg.Gmail.ClientSecret = "secret"
	cfg.IMAP.ArchiveFolder = "Done"
	cfg.Scan.Concurrency = 3
	cfg.Scan.AuthFailureThreshold = 5
	require.NoError(t, cfg.Validate())

	return cfg
}

func TestOpen(t *testing.T) {
	logging, err := build.SetupLogging(build.LogConfig{
		Level: "info", Console: io.Discard,
	})
	require.NoError(t, err)

	a, err := Open(testConfig(t), logging)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, a.Close())
	})

	scanCfg := a.ScanConfig()
	require.Equal(t, 3, scanCfg.Concurrency)
	require.Equal(t, 24*time.Hour, scanCfg.Lookback)
	require.Equal(t, 11*time.Minute, scanCfg.ClassifyTimeout)
	require.Equal(t, 5, scanCfg.Health.AuthFailureThreshold)

	// The stores share one database.
	ctx := context.Background()
	acct, err := a.Accounts.Create(ctx, accounts.NewAccount{
		ExternalID: "ops@example.com",
		Provider:   accounts.ProviderIMAP,
	})
	require.NoError(t, err)

	_, err = a.Rules.Create(ctx, rules.NewRule{
		Name:       "invoices",
		PromptText: "Is this an invoice?",
		LabelName:  "Finance",
		Action:     rules.ActionNone,
	})
	require.NoError(t, err)

	active, err := a.Rules.ActiveRules(ctx, acct.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)

	cur, err := a.Ledger.Cursor(ctx, acct.ID)
	require.NoError(t, err)
	require.True(t, cur.IsNone())
}

func TestOAuthConfigMissingFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Gmail.CredentialsFile = filepath.Join(cfg.DataDir, "nope.json")

	logging, err := build.SetupLogging(build.LogConfig{
		Level: "info", Console: io.Discard,
	})
	require.NoError(t, err)

	_, err = Open(cfg, logging)
	require.Error(t, err)
}

func TestPreferFolder(t *testing.T) {
	require.Equal(t, []string{"a", "b"}, preferFolder("", []string{"a", "b"}))
	require.Equal(t, []string{"x", "a"}, preferFolder("x", []string{"a"}))
}
