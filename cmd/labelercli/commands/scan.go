package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/roasbeef/labeler/internal/scan"
	"github.com/spf13/cobra"
)

var scanLocal bool

var scanCmd = &cobra.Command{
	Use:   "scan <account>",
	Short: "Run one scan cycle now",
	Long: `Asks the running daemon to scan the account now. When the daemon
is not running, or with --local, the cycle runs in this process and its
report is printed when it finishes. Do not use --local while the daemon
is running: the daemon cannot see an in-process cycle.`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	scanCmd.Flags().BoolVar(&scanLocal, "local", false,
		"Run the cycle in this process instead of the daemon")
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(
		cmd.Context(), os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	a, closeApp, err := openApp()
	if err != nil {
		return err
	}
	defer closeApp()

	acct, err := resolveAccount(ctx, a, args[0])
	if err != nil {
		return err
	}

	if !scanLocal {
		err := newDaemonClient(a.Cfg).runNow(ctx, acct.ID)
		switch {
		case err == nil:
			fmt.Printf("Scan of account #%d started by labelerd.\n",
				acct.ID)
			return nil

		case !errors.Is(err, errDaemonUnavailable):
			return err
		}
	}

	report, err := a.Orchestrator.RunCycle(ctx, acct.ID, scan.TriggerManual)
	if outputFormat == "json" {
		if jsonErr := outputJSON(report); jsonErr != nil {
			return jsonErr
		}
	} else {
		printReport(report)
	}

	if errors.Is(err, scan.ErrCycleCancelled) ||
		errors.Is(err, context.Canceled) {

		return nil
	}

	return err
}

func printReport(r scan.CycleReport) {
	fmt.Printf("Cycle %s of account #%d: %s in %s\n", r.CycleID,
		r.AccountID, r.Status, r.Duration().Round(time.Millisecond))
	fmt.Printf("  fetched %d, retried %d, evaluated %d\n", r.Fetched,
		r.Retried, r.Evaluated)
	fmt.Printf("  matched %d, failed %d, skipped %d, label failures %d\n",
		r.Matched, r.Failed, r.Skipped, r.LabelFailures)
	if r.CursorAdvanced {
		fmt.Printf("  cursor now %s\n", formatTime(r.Cursor))
	}
	if r.Error != "" {
		fmt.Printf("  error: %s\n", r.Error)
	}
}
