package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/roasbeef/labeler/internal/scan"
	"github.com/spf13/cobra"
)

var (
	ledgerLimit  int
	ledgerFailed bool
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger <account>",
	Short: "Show recent evaluation records of an account",
	Args:  cobra.ExactArgs(1),
	RunE:  runLedger,
}

func init() {
	ledgerCmd.Flags().IntVar(&ledgerLimit, "limit", 50,
		"Maximum number of records")
	ledgerCmd.Flags().BoolVar(&ledgerFailed, "failed", false,
		"Only show failed records still due a retry")
}

func runLedger(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, closeApp, err := openApp()
	if err != nil {
		return err
	}
	defer closeApp()

	acct, err := resolveAccount(ctx, a, args[0])
	if err != nil {
		return err
	}

	res := localService(a).Receive(ctx, scan.LedgerRequest{
		AccountID:  acct.ID,
		Limit:      ledgerLimit,
		FailedOnly: ledgerFailed,
	})
	resp, err := res.Unpack()
	if err != nil {
		return err
	}

	ledgerResp, ok := resp.(scan.LedgerResponse)
	if !ok {
		return fmt.Errorf("unexpected response %T", resp)
	}
	if ledgerResp.Error != nil {
		return ledgerResp.Error
	}

	if outputFormat == "json" {
		return outputJSON(ledgerResp.Records)
	}

	if len(ledgerResp.Records) == 0 {
		fmt.Println("No records.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MESSAGE\tRULE\tOUTCOME\tATTEMPTS\tRECEIVED\t"+
		"EVALUATED\tREASON")
	for _, r := range ledgerResp.Records {
		fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%s\t%s\t%s\n",
			truncate(r.MessageID, 24), r.RuleID, r.Outcome,
			r.Attempts, formatTime(r.ReceivedAt),
			formatTime(r.EvaluatedAt), truncate(r.FailureReason, 40))
	}

	return w.Flush()
}
