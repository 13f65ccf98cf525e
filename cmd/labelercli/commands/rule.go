package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/labeler/internal/rules"
	"github.com/spf13/cobra"
)

var (
	ruleName    string
	rulePrompt  string
	ruleLabel   string
	ruleAction  string
	ruleAccount string
	ruleOrder   int
)

var ruleCmd = &cobra.Command{
	Use:   "rule",
	Short: "Manage labeling rules",
}

var ruleAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a rule",
	Long: `Adds a rule. The prompt is a yes/no question the model answers about
each message; a "yes" applies the label and then the action.

A rule without --account applies to every account. New rules only see
mail received after they are added; older messages are not relabeled.`,
	Args: cobra.NoArgs,
	RunE: runRuleAdd,
}

var ruleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rules in evaluation order",
	Args:  cobra.NoArgs,
	RunE:  runRuleList,
}

var ruleEnableCmd = &cobra.Command{
	Use:   "enable <rule-id>",
	Short: "Enable a rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setRuleActive(cmd, args[0], true)
	},
}

var ruleDisableCmd = &cobra.Command{
	Use:   "disable <rule-id>",
	Short: "Disable a rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setRuleActive(cmd, args[0], false)
	},
}

var ruleDeleteCmd = &cobra.Command{
	Use:   "delete <rule-id>",
	Short: "Delete a rule and its evaluation records",
	Args:  cobra.ExactArgs(1),
	RunE:  runRuleDelete,
}

func init() {
	ruleAddCmd.Flags().StringVar(&ruleName, "name", "", "Rule name")
	ruleAddCmd.Flags().StringVar(&rulePrompt, "prompt", "",
		"Question asked about each message")
	ruleAddCmd.Flags().StringVar(&ruleLabel, "label", "",
		"Label applied on a match")
	ruleAddCmd.Flags().StringVar(&ruleAction, "action", "none",
		"Action after labeling: none, archive, spam, trash")
	ruleAddCmd.Flags().StringVar(&ruleAccount, "account", "",
		"Restrict the rule to one account (id or address)")
	ruleAddCmd.Flags().IntVar(&ruleOrder, "order", 0,
		"Evaluation order, lowest first")
	ruleAddCmd.MarkFlagRequired("name")
	ruleAddCmd.MarkFlagRequired("prompt")
	ruleAddCmd.MarkFlagRequired("label")

	ruleCmd.AddCommand(ruleAddCmd)
	ruleCmd.AddCommand(ruleListCmd)
	ruleCmd.AddCommand(ruleEnableCmd)
	ruleCmd.AddCommand(ruleDisableCmd)
	ruleCmd.AddCommand(ruleDeleteCmd)
}

func runRuleAdd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	action, err := rules.ParseAction(ruleAction)
	if err != nil {
		return err
	}

	a, closeApp, err := openApp()
	if err != nil {
		return err
	}
	defer closeApp()

	n := rules.NewRule{
		Name:       ruleName,
		PromptText: rulePrompt,
		LabelName:  ruleLabel,
		Action:     action,
		SortOrder:  ruleOrder,
	}
	if ruleAccount != "" {
		acct, err := resolveAccount(ctx, a, ruleAccount)
		if err != nil {
			return err
		}
		n.AccountID = fn.Some(acct.ID)
	}

	rule, err := a.Rules.Create(ctx, n)
	if err != nil {
		return err
	}

	fmt.Printf("Added rule #%d %q: label %q, action %s\n", rule.ID,
		rule.Name, rule.LabelName, rule.Action)

	return nil
}

func runRuleList(cmd *cobra.Command, args []string) error {
	a, closeApp, err := openApp()
	if err != nil {
		return err
	}
	defer closeApp()

	list, err := a.Rules.List(cmd.Context())
	if err != nil {
		return err
	}

	type row struct {
		ID        int64        `json:"id"`
		SortOrder int          `json:"sort_order"`
		Name      string       `json:"name"`
		Label     string       `json:"label"`
		Action    rules.Action `json:"action"`
		AccountID int64        `json:"account_id,omitempty"`
		Active    bool         `json:"active"`
		Prompt    string       `json:"prompt"`
	}
	rows := make([]row, 0, len(list))
	for _, r := range list {
		rows = append(rows, row{
			ID:        r.ID,
			SortOrder: r.SortOrder,
			Name:      r.Name,
			Label:     r.LabelName,
			Action:    r.Action,
			AccountID: r.AccountID.UnwrapOr(0),
			Active:    r.Active,
			Prompt:    r.PromptText,
		})
	}

	if outputFormat == "json" {
		return outputJSON(rows)
	}

	if len(rows) == 0 {
		fmt.Println("No rules.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tORDER\tNAME\tLABEL\tACTION\tSCOPE\tACTIVE\tPROMPT")
	for _, r := range rows {
		scope := "all"
		if r.AccountID != 0 {
			scope = fmt.Sprintf("account #%d", r.AccountID)
		}

		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%s\t%t\t%s\n", r.ID,
			r.SortOrder, r.Name, r.Label, r.Action, scope,
			r.Active, truncate(r.Prompt, 50))
	}

	return w.Flush()
}

func setRuleActive(cmd *cobra.Command, arg string, active bool) error {
	id, err := parseID(arg)
	if err != nil {
		return err
	}

	a, closeApp, err := openApp()
	if err != nil {
		return err
	}
	defer closeApp()

	if err := a.Rules.SetActive(cmd.Context(), id, active); err != nil {
		return err
	}

	state := "disabled"
	if active {
		state = "enabled"
	}
	fmt.Printf("Rule #%d %s.\n", id, state)

	return nil
}

func runRuleDelete(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}

	a, closeApp, err := openApp()
	if err != nil {
		return err
	}
	defer closeApp()

	if err := a.Rules.Delete(cmd.Context(), id); err != nil {
		return err
	}

	fmt.Printf("Deleted rule #%d.\n", id)

	return nil
}
