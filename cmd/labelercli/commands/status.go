package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/roasbeef/labeler/internal/app"
	"github.com/roasbeef/labeler/internal/ledger"
	"github.com/roasbeef/labeler/internal/scan"
	"github.com/roasbeef/labeler/internal/web"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show account health and scan progress",
	Long: `Shows every account's health, last scan, last error and ledger
counts. With the daemon running it also shows the scheduler state and
skipped ticks.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, closeApp, err := openApp()
	if err != nil {
		return err
	}
	defer closeApp()

	views, err := newDaemonClient(a.Cfg).accounts(ctx)
	live := err == nil
	switch {
	case errors.Is(err, errDaemonUnavailable):
		views, err = localStatus(ctx, a)
		if err != nil {
			return err
		}

	case err != nil:
		return err
	}

	if outputFormat == "json" {
		return outputJSON(views)
	}

	if !live {
		fmt.Println("labelerd is not running; scheduler state unknown.")
	}
	if len(views) == 0 {
		fmt.Println("No accounts.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tACCOUNT\tHEALTH\tTASK\tSKIPS\tLAST SCAN\t"+
		"MATCHED\tNO MATCH\tFAILED\tFAILURES\tLAST ERROR")
	for _, v := range views {
		lastScan := "never"
		if v.LastScanAt != nil {
			lastScan = formatTime(*v.LastScanAt)
		}

		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\t%d\t%d\t%d\t%d\t%s\n",
			v.ID, v.ExternalID, v.Health, v.Task.State,
			v.Task.SkippedTicks, lastScan,
			v.Counts[ledger.OutcomeMatched],
			v.Counts[ledger.OutcomeNotMatched],
			v.Counts[ledger.OutcomeFailed], v.TotalFailures,
			truncate(v.LastError, 40))
	}

	return w.Flush()
}

// localStatus answers from the database alone.
func localStatus(ctx context.Context, a *app.App) ([]web.AccountView,
	error) {

	res := localService(a).Receive(ctx, scan.AccountStatusRequest{})
	resp, err := res.Unpack()
	if err != nil {
		return nil, err
	}

	statusResp, ok := resp.(scan.AccountStatusResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected response %T", resp)
	}
	if statusResp.Error != nil {
		return nil, statusResp.Error
	}

	views := make([]web.AccountView, 0, len(statusResp.Statuses))
	for _, st := range statusResp.Statuses {
		views = append(views, web.NewAccountView(st))
	}

	return views, nil
}
