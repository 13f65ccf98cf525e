package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/roasbeef/labeler/internal/accounts"
	"github.com/roasbeef/labeler/internal/mailbox/gmail"
	"github.com/spf13/cobra"
)

var (
	acctDisplayName  string
	acctPollInterval time.Duration

	imapHost        string
	imapPort        int
	imapUser        string
	imapPasswordEnv string
	imapStartTLS    bool
	imapMailbox     string
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage mail accounts",
}

var accountAddGmailCmd = &cobra.Command{
	Use:   "add-gmail",
	Short: "Connect a Gmail account through Google's consent screen",
	Long: `Opens Google's consent flow on a loopback redirect and stores the
resulting refresh token. Connecting an account that already exists
refreshes its credentials and resumes it.`,
	Args: cobra.NoArgs,
	RunE: runAccountAddGmail,
}

var accountAddIMAPCmd = &cobra.Command{
	Use:   "add-imap",
	Short: "Add an IMAP account",
	Long: `Adds an IMAP account. The password is read from the environment
variable named by --password-env so it never lands in shell history.`,
	Args: cobra.NoArgs,
	RunE: runAccountAddIMAP,
}

var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts",
	Args:  cobra.NoArgs,
	RunE:  runAccountList,
}

var accountPauseCmd = &cobra.Command{
	Use:   "pause <account>",
	Short: "Stop scanning an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setAccountActive(cmd.Context(), args[0], false)
	},
}

var accountResumeCmd = &cobra.Command{
	Use:   "resume <account>",
	Short: "Resume scanning and clear the auth failure streak",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setAccountActive(cmd.Context(), args[0], true)
	},
}

var accountResetCmd = &cobra.Command{
	Use:   "reset <account>",
	Short: "Rewind the scan cursor to the lookback window",
	Long: `Drops the account's scan cursor so the next cycle fetches the
configured lookback window again. Pairs already decided are not
re-evaluated.`,
	Args: cobra.ExactArgs(1),
	RunE: runAccountReset,
}

var accountRemoveCmd = &cobra.Command{
	Use:   "remove <account>",
	Short: "Delete an account and everything recorded for it",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountRemove,
}

func init() {
	for _, c := range []*cobra.Command{accountAddGmailCmd, accountAddIMAPCmd} {
		c.Flags().StringVar(&acctDisplayName, "name", "",
			"Display name (default: the address)")
		c.Flags().DurationVar(&acctPollInterval, "poll-interval", 0,
			"Poll interval (default: scheduler.poll_interval_secs)")
	}

	accountAddIMAPCmd.Flags().StringVar(&imapHost, "host", "",
		"IMAP server host")
	accountAddIMAPCmd.Flags().IntVar(&imapPort, "port", 0,
		"IMAP server port (default: 993, or 143 with --starttls)")
	accountAddIMAPCmd.Flags().StringVar(&imapUser, "username", "",
		"Login name, usually the address")
	accountAddIMAPCmd.Flags().StringVar(&imapPasswordEnv, "password-env",
		"LABELER_IMAP_PASSWORD",
		"Environment variable holding the password")
	accountAddIMAPCmd.Flags().BoolVar(&imapStartTLS, "starttls", false,
		"Use STARTTLS instead of implicit TLS")
	accountAddIMAPCmd.Flags().StringVar(&imapMailbox, "mailbox", "",
		"Folder to scan (default: INBOX)")
	accountAddIMAPCmd.MarkFlagRequired("host")
	accountAddIMAPCmd.MarkFlagRequired("username")

	accountCmd.AddCommand(accountAddGmailCmd)
	accountCmd.AddCommand(accountAddIMAPCmd)
	accountCmd.AddCommand(accountListCmd)
	accountCmd.AddCommand(accountPauseCmd)
	accountCmd.AddCommand(accountResumeCmd)
	accountCmd.AddCommand(accountResetCmd)
	accountCmd.AddCommand(accountRemoveCmd)
}

func runAccountAddGmail(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, closeApp, err := openApp()
	if err != nil {
		return err
	}
	defer closeApp()

	oauthCfg, err := a.OAuthConfig()
	if err != nil {
		return err
	}

	authCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	auth, err := gmail.Authorize(authCtx, oauthCfg, func(url string) {
		fmt.Fprintf(os.Stderr, "Open this URL to grant access:\n\n"+
			"  %s\n\nWaiting for the redirect...\n", url)
	})
	if err != nil {
		return err
	}

	// Reconnecting an existing account replaces its tokens.
	existing, err := a.Accounts.GetByExternalID(ctx, auth.Email)
	switch {
	case err == nil:
		err := a.Accounts.UpdateCredentials(
			ctx, existing.ID, auth.Credentials,
		)
		if err != nil {
			return err
		}
		err = a.Accounts.SetActive(ctx, existing.ID, true)
		if err != nil {
			return err
		}
		fmt.Printf("Reconnected account #%d (%s)\n", existing.ID,
			auth.Email)

		return nil

	case !errors.Is(err, accounts.ErrAccountNotFound):
		return err
	}

	return createAccount(ctx, a.Accounts, accounts.NewAccount{
		ExternalID:  auth.Email,
		Provider:    accounts.ProviderGmail,
		Credentials: auth.Credentials,
	}, a.Cfg.PollInterval())
}

func runAccountAddIMAP(cmd *cobra.Command, args []string) error {
	password := os.Getenv(imapPasswordEnv)
	if password == "" {
		return fmt.Errorf("environment variable %s is empty",
			imapPasswordEnv)
	}

	creds, err := json.Marshal(accounts.IMAPCredentials{
		Host:     imapHost,
		Port:     imapPort,
		Username: imapUser,
		Password: password,
		StartTLS: imapStartTLS,
		Mailbox:  imapMailbox,
	})
	if err != nil {
		return err
	}

	a, closeApp, err := openApp()
	if err != nil {
		return err
	}
	defer closeApp()

	return createAccount(cmd.Context(), a.Accounts, accounts.NewAccount{
		ExternalID:  imapUser + "@" + imapHost,
		Provider:    accounts.ProviderIMAP,
		Credentials: creds,
	}, a.Cfg.PollInterval())
}

func createAccount(ctx context.Context, store *accounts.Store,
	n accounts.NewAccount, defaultInterval time.Duration) error {

	n.DisplayName = acctDisplayName
	n.PollInterval = acctPollInterval
	if n.PollInterval <= 0 {
		n.PollInterval = defaultInterval
	}

	acct, err := store.Create(ctx, n)
	if err != nil {
		return err
	}

	fmt.Printf("Added %s account #%d (%s), polled every %s\n",
		acct.Provider, acct.ID, acct.DisplayName, acct.PollInterval)

	return nil
}

func runAccountList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, closeApp, err := openApp()
	if err != nil {
		return err
	}
	defer closeApp()

	list, err := a.Accounts.List(ctx)
	if err != nil {
		return err
	}

	type row struct {
		ID       int64                 `json:"id"`
		Address  string                `json:"external_id"`
		Name     string                `json:"display_name"`
		Provider accounts.Provider     `json:"provider"`
		Health   accounts.HealthStatus `json:"health"`
		Interval string                `json:"poll_interval"`
	}
	rows := make([]row, 0, len(list))
	for i := range list {
		acct := &list[i]
		rows = append(rows, row{
			ID:       acct.ID,
			Address:  acct.ExternalID,
			Name:     acct.DisplayName,
			Provider: acct.Provider,
			Health:   a.Health.ComputeHealth(acct),
			Interval: acct.PollInterval.String(),
		})
	}

	if outputFormat == "json" {
		return outputJSON(rows)
	}

	if len(rows) == 0 {
		fmt.Println("No accounts.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tACCOUNT\tPROVIDER\tHEALTH\tINTERVAL")
	for _, r := range rows {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", r.ID, r.Address,
			r.Provider, r.Health, r.Interval)
	}

	return w.Flush()
}

func setAccountActive(ctx context.Context, ref string, active bool) error {
	a, closeApp, err := openApp()
	if err != nil {
		return err
	}
	defer closeApp()

	acct, err := resolveAccount(ctx, a, ref)
	if err != nil {
		return err
	}

	if err := a.Accounts.SetActive(ctx, acct.ID, active); err != nil {
		return err
	}

	state := "paused"
	if active {
		state = "resumed"
	}
	fmt.Printf("Account #%d %s. The daemon picks this up on its next "+
		"reconcile.\n", acct.ID, state)

	return nil
}

func runAccountReset(cmd *cobra.Command, args []string) error {
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

	if err := a.Ledger.ResetCursor(ctx, acct.ID); err != nil {
		return err
	}

	fmt.Printf("Scan cursor of account #%d reset.\n", acct.ID)

	return nil
}

func runAccountRemove(cmd *cobra.Command, args []string) error {
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

	if err := a.Accounts.Delete(ctx, acct.ID); err != nil {
		return err
	}

	fmt.Printf("Removed account #%d (%s).\n", acct.ID, acct.ExternalID)

	return nil
}
