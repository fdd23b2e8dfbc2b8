package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/pysugar/assistant/internal/client/accounts"
	"github.com/pysugar/assistant/internal/client/app"
	"github.com/spf13/cobra"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage saved accounts",
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved accounts, most recent first",
	Args:  cobra.NoArgs,
	RunE:  withApp(runAccountsList),
}

var accountsSwitchCmd = &cobra.Command{
	Use:   "switch <email>",
	Short: "Switch to a saved account",
	Long: `Switch to a saved account. Stored credentials are tried first; when they
are missing or rejected you are asked for the password.`,
	Args: cobra.ExactArgs(1),
	RunE: withApp(runAccountsSwitch),
}

var accountsForgetCmd = &cobra.Command{
	Use:   "forget <email>",
	Short: "Remove an account from the saved list",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(runAccountsForget),
}

func init() {
	accountsCmd.AddCommand(accountsListCmd, accountsSwitchCmd, accountsForgetCmd)
}

func runAccountsList(cmd *cobra.Command, args []string, a *app.App) error {
	list := a.Accounts().Accounts()
	if len(list) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No saved accounts. Use \"assistant login\" to add one.")
		return nil
	}
	current := ""
	if s := a.Auth().GetSession(); s != nil {
		current = s.User.Email
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\tEMAIL\tNAME\tLAST USED\tSTATUS")
	for _, acct := range list {
		marker := ""
		if acct.Email == current {
			marker = "*"
		}
		status := "ready"
		if !acct.CanRestore() {
			status = "password required"
		}
		lastUsed := "-"
		if !acct.LastUsedAt.IsZero() {
			lastUsed = acct.LastUsedAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", marker, acct.Email, acct.DisplayName, lastUsed, status)
	}
	return w.Flush()
}

func runAccountsSwitch(cmd *cobra.Command, args []string, a *app.App) error {
	target, ok := a.Accounts().Find(args[0])
	if !ok {
		return fmt.Errorf("no saved account for %s", args[0])
	}
	outcome, err := a.Accounts().SwitchTo(cmd.Context(), target)
	if err != nil {
		return err
	}
	switch outcome {
	case accounts.SwitchNoop:
		fmt.Fprintf(cmd.OutOrStdout(), "Already signed in as %s\n", target.Label())
	case accounts.SwitchActive:
		fmt.Fprintf(cmd.OutOrStdout(), "🔀 Switched to %s\n", target.Label())
	}
	return nil
}

func runAccountsForget(cmd *cobra.Command, args []string, a *app.App) error {
	if _, ok := a.Accounts().Find(args[0]); !ok {
		return fmt.Errorf("no saved account for %s", args[0])
	}
	if err := a.Accounts().Forget(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Forgot %s\n", args[0])
	return nil
}
