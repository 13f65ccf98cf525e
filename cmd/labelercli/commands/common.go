package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/roasbeef/labeler/internal/accounts"
	"github.com/roasbeef/labeler/internal/app"
	"github.com/roasbeef/labeler/internal/config"
	"github.com/roasbeef/labeler/internal/scan"
)

// openApp loads the config and opens the database. CLI logging only goes
// to stderr at warn or above unless the config asks for more.
func openApp() (*app.App, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Log.Level == "info" {
		cfg.Log.Level = "warn"
	}

	logging, err := app.SetupLogging(cfg, os.Stderr, false)
	if err != nil {
		return nil, nil, err
	}

	a, err := app.Open(cfg, logging)
	if err != nil {
		return nil, nil, err
	}

	return a, func() {
		a.Close()
		logging.Close()
	}, nil
}

// localService is a scan service without a scheduler, for commands that
// run against the database directly.
func localService(a *app.App) *scan.Service {
	return scan.NewService(scan.ServiceConfig{
		Accounts:          a.Accounts,
		Ledger:            a.Ledger,
		History:           a.History,
		Health:            a.Health,
		MaxFailedAttempts: a.Cfg.Scan.MaxFailedAttempts,
	}, nil)
}

// resolveAccount accepts a numeric id or an external id such as an email
// address.
func resolveAccount(ctx context.Context, a *app.App,
	ref string) (accounts.Account, error) {

	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return a.Accounts.Get(ctx, id)
	}

	return a.Accounts.GetByExternalID(ctx, ref)
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", arg)
	}

	return id, nil
}

// outputJSON prints v as indented JSON.
func outputJSON(v any) error {
	return writeJSON(os.Stdout, v)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}

	return t.Local().Format(time.RFC3339)
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}

	return s[:n-3] + "..."
}
