package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/roasbeef/labeler/internal/app"
	"github.com/roasbeef/labeler/internal/build"
	"github.com/roasbeef/labeler/internal/config"
	"github.com/roasbeef/labeler/internal/scan"
	"github.com/roasbeef/labeler/internal/scheduler"
	"github.com/roasbeef/labeler/internal/web"
	"github.com/spf13/cobra"
)

// shutdownTimeout bounds draining the HTTP server.
const shutdownTimeout = 10 * time.Second

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logging, err := app.SetupLogging(cfg, os.Stderr, true)
	if err != nil {
		return err
	}
	defer logging.Close()

	log := logging.Logger(build.SubsystemDaemon)
	log.Info("Starting labelerd", "version", build.Version(),
		"data_dir", cfg.DataDir, "model", cfg.Ollama.Model)

	a, err := app.Open(cfg, logging)
	if err != nil {
		log.Error("Startup failed", "err", err)
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	a.PrepareModel(ctx)

	minInterval := time.Duration(config.MinPollIntervalSecs) * time.Second
	sched := scheduler.New(
		a.Orchestrator, a.Accounts, a.Activity, scheduler.Config{
			MinInterval:       minInterval,
			ReconcileInterval: cfg.ReconcileInterval(),
			RunOnStart:        cfg.Scheduler.RunOnStart,
			Health:            a.Health,
		}, logging.Logger(build.SubsystemScheduler),
	)
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	svc := scan.NewService(scan.ServiceConfig{
		Accounts:          a.Accounts,
		Ledger:            a.Ledger,
		History:           a.History,
		Runner:            sched,
		Health:            a.Health,
		MaxFailedAttempts: cfg.Scan.MaxFailedAttempts,
	}, log)

	go a.Activity.RunCleanup(ctx)
	go a.RunHistoryPrune(ctx)

	webErr := make(chan error, 1)
	var srv *web.Server
	if cfg.Web.Addr != "" {
		srv, err = web.NewServer(&web.Config{
			Addr:     cfg.Web.Addr,
			Scan:     svc,
			Activity: a.Activity,
			Cycles:   a.Orchestrator,
		}, logging.Logger(build.SubsystemHTTP))
		if err != nil {
			return err
		}

		go func() {
			webErr <- srv.Start()
		}()
	}

	log.Info("labelerd running", "accounts", len(sched.Statuses()),
		"web", cfg.Web.Addr)

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Shutting down")

	case err := <-webErr:
		if err != nil {
			log.Error("Web server failed", "err", err)
			runErr = err
		}
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			log.Warn("Web server shutdown", "err", err)
		}
	}

	return runErr
}
