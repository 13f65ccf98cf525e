// Package app assembles the labeler's components from a loaded Config. The
// daemon and the CLI share it so a one-off scan runs exactly the code the
// scheduler runs.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/roasbeef/labeler/internal/accounts"
	"github.com/roasbeef/labeler/internal/activity"
	"github.com/roasbeef/labeler/internal/build"
	"github.com/roasbeef/labeler/internal/classifier"
	"github.com/roasbeef/labeler/internal/config"
	"github.com/roasbeef/labeler/internal/db"
	"github.com/roasbeef/labeler/internal/ledger"
	"github.com/roasbeef/labeler/internal/mailbox"
	"github.com/roasbeef/labeler/internal/mailbox/gmail"
	"github.com/roasbeef/labeler/internal/mailbox/imap"
	"github.com/roasbeef/labeler/internal/rules"
	"github.com/roasbeef/labeler/internal/scan"
	"golang.org/x/oauth2"
)

// classifyGrace is added to the model timeout for the orchestrator's own
// deadline, so the classifier reports its timeout before the cycle does.
const classifyGrace = time.Minute

// App holds the stores and gateways built from a Config.
type App struct {
	Cfg     *config.Config
	Logging *build.Logging
	Health  *accounts.HealthConfig

	DB       *db.SqliteStore
	Accounts *accounts.Store
	Rules    *rules.Store
	Ledger   *ledger.SQLLedger
	History  *scan.SQLHistory
	Activity *activity.Service

	Gmail      *gmail.Backend
	Mailbox    mailbox.Gateway
	Classifier *classifier.OllamaClassifier

	Orchestrator *scan.Orchestrator

	log *slog.Logger
}

// Open opens the database and builds every component. Nothing talks to a
// mailbox or the model server until a cycle runs.
func Open(cfg *config.Config, logging *build.Logging) (*App, error) {
	log := logging.Logger(build.SubsystemDaemon)

	sqlStore, err := db.NewSqliteStore(&db.SqliteConfig{
		DatabaseFileName: cfg.DB.Path,
		MaxOpenConns:     cfg.DB.MaxOpenConns,
	}, logging.Logger(build.SubsystemDB))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	a := &App{
		Cfg:     cfg,
		Logging: logging,
		Health: &accounts.HealthConfig{
			AuthFailureThreshold: cfg.Scan.AuthFailureThreshold,
		},
		DB:  sqlStore,
		log: log,
	}

	store := sqlStore.Store
	a.Accounts = accounts.NewStore(store, log)
	a.Rules = rules.NewStore(store)
	a.Ledger = ledger.NewSQLLedger(
		store, logging.Logger(build.SubsystemLedger),
	)
	a.History = scan.NewSQLHistory(store)
	a.Activity = activity.NewService(
		activity.NewSQLStore(store), activity.Config{
			Retention:       cfg.Retention(),
			MaxRows:         cfg.Activity.MaxRows,
			CleanupInterval: activity.DefaultCleanupInterval,
		}, log,
	)

	if err := a.buildMailbox(); err != nil {
		sqlStore.Close()
		return nil, err
	}

	a.Classifier, err = classifier.NewOllamaClassifier(
		classifier.OllamaConfig{
			Host:        cfg.Ollama.Host,
			Model:       cfg.Ollama.Model,
			Timeout:     cfg.OllamaTimeout(),
			NumCtx:      cfg.Ollama.NumCtx,
			NumPredict:  cfg.Ollama.NumPredict,
			Temperature: cfg.Ollama.Temperature,
		}, logging.Logger(build.SubsystemClassify),
	)
	if err != nil {
		sqlStore.Close()
		return nil, err
	}

	a.Orchestrator = scan.NewOrchestrator(scan.Deps{
		Accounts:   a.Accounts,
		Rules:      a.Rules,
		Ledger:     a.Ledger,
		Mailbox:    a.Mailbox,
		Classifier: a.Classifier,
		History:    a.History,
		Activity:   a.Activity,
	}, a.ScanConfig(), logging.Logger(build.SubsystemScan))

	return a, nil
}

// ScanConfig maps the scan settings onto the orchestrator's.
func (a *App) ScanConfig() scan.Config {
	cfg := a.Cfg

	return scan.Config{
		MaxResults:        cfg.Scan.MaxResults,
		Lookback:          cfg.Lookback(),
		MaxBodyChars:      cfg.Scan.MaxBodyChars,
		Concurrency:       cfg.Scan.Concurrency,
		MaxFailedAttempts: cfg.Scan.MaxFailedAttempts,
		ClassifyTimeout:   cfg.OllamaTimeout() + classifyGrace,
		MailboxTimeout:    cfg.MailboxTimeout(),
		Health:            a.Health,
	}
}

func (a *App) buildMailbox() error {
	cfg := a.Cfg
	mboxLog := a.Logging.Logger(build.SubsystemMailbox)

	oauthCfg, err := a.OAuthConfig()
	if err != nil {
		return err
	}

	a.Gmail = gmail.New(gmail.Config{
		OAuth:        oauthCfg,
		MaxBodyBytes: cfg.Gmail.MaxBodyBytes,
	}, a.Accounts.TokenSaver, mboxLog)

	imapCfg := imap.DefaultConfig()
	imapCfg.DialTimeout = cfg.IMAPDialTimeout()
	imapCfg.ArchiveFolders = preferFolder(
		cfg.IMAP.ArchiveFolder, imapCfg.ArchiveFolders,
	)
	imapCfg.SpamFolders = preferFolder(
		cfg.IMAP.SpamFolder, imapCfg.SpamFolders,
	)
	imapCfg.TrashFolders = preferFolder(
		cfg.IMAP.TrashFolder, imapCfg.TrashFolders,
	)

	router := mailbox.NewRouter(map[accounts.Provider]mailbox.Gateway{
		accounts.ProviderGmail: a.Gmail,
		accounts.ProviderIMAP:  imap.New(imapCfg, mboxLog),
	})

	retryCfg := mailbox.DefaultRetryConfig()
	retryCfg.Attempts = cfg.Scan.LabelRetryAttempts
	a.Mailbox = mailbox.NewRetrying(router, retryCfg, mboxLog)

	return nil
}

// OAuthConfig returns the Gmail OAuth client from the secrets file or the
// configured id and secret.
func (a *App) OAuthConfig() (*oauth2.Config, error) {
	g := a.Cfg.Gmail
	if g.CredentialsFile != "" {
		data, err := os.ReadFile(g.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read gmail credentials file: %w",
				err)
		}

		return gmail.OAuthConfigFromFile(data)
	}

	if g.ClientID == "" {
		a.log.Warn("No Gmail OAuth client configured, Gmail " +
			"accounts cannot refresh tokens")
	}

	return gmail.OAuthConfig(g.ClientID, g.ClientSecret), nil
}

// PrepareModel pulls the model when configured to. A failure is logged,
// not returned: the model can still be pulled by hand.
func (a *App) PrepareModel(ctx context.Context) {
	if !a.Cfg.Ollama.PullOnStart {
		return
	}

	if err := a.Classifier.EnsureModel(ctx); err != nil {
		a.log.WarnContext(ctx, "Could not prepare model",
			"model", a.Cfg.Ollama.Model, "err", err)
	}
}

// RunHistoryPrune drops cycle reports older than the activity retention
// once a day until ctx is done.
func (a *App) RunHistoryPrune(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		n, err := a.History.Prune(ctx, time.Now().Add(-a.Cfg.Retention()))
		switch {
		case errors.Is(err, context.Canceled):
			return
		case err != nil:
			a.log.WarnContext(ctx, "Pruning cycle history failed",
				"err", err)
		case n > 0:
			a.log.DebugContext(ctx, "Pruned cycle history",
				"deleted", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Close closes the database.
func (a *App) Close() error {
	return a.DB.Close()
}

func preferFolder(folder string, fallbacks []string) []string {
	if folder == "" {
		return fallbacks
	}

	return append([]string{folder}, fallbacks...)
}

// SetupLogging builds the loggers from the log settings. The rotating file
// is only opened when withFile is set and log.max_files is not negative.
func SetupLogging(cfg *config.Config, console io.Writer,
	withFile bool) (*build.Logging, error) {

	logCfg := build.LogConfig{Level: cfg.Log.Level, Console: console}
	if withFile && cfg.Log.MaxFiles >= 0 {
		logCfg.File = &build.RotatorConfig{
			Dir:           cfg.Log.Dir,
			MaxFiles:      cfg.Log.MaxFiles,
			MaxFileSizeMB: cfg.Log.MaxFileSizeMB,
		}
	}

	return build.SetupLogging(logCfg)
}
