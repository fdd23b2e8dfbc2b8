package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pysugar/assistant/internal/client/app"
	"github.com/pysugar/assistant/internal/client/authclient"
	"github.com/spf13/cobra"
)

var (
	authEmail    string
	authPassword string
	authName     string
	confirmYes   bool
)

var signupCmd = &cobra.Command{
	Use:   "signup",
	Short: "Create an account and sign in",
	Args:  cobra.NoArgs,
	RunE:  withApp(runSignup),
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with email and password",
	Long: `Sign in with email and password. The account is remembered so later
"accounts switch" calls can restore it without a password.

When a previous switch needed a password, its email is offered here.`,
	Args: cobra.NoArgs,
	RunE: withApp(runLogin),
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out the current account",
	Long:  `Sign out and drop the stored credentials. The account stays in the saved list.`,
	Args:  cobra.NoArgs,
	RunE:  withApp(runLogout),
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in account",
	Args:  cobra.NoArgs,
	RunE:  withApp(runWhoami),
}

var deleteAccountCmd = &cobra.Command{
	Use:   "delete-account",
	Short: "Permanently delete the signed-in account and its data",
	Args:  cobra.NoArgs,
	RunE:  withApp(runDeleteAccount),
}

func init() {
	signupCmd.Flags().StringVarP(&authEmail, "email", "e", "", "Email address")
	signupCmd.Flags().StringVar(&authName, "name", "", "Display name")
	signupCmd.Flags().StringVar(&authPassword, "password", "", "Password (prefer ASSISTANT_PASSWORD or the prompt)")

	loginCmd.Flags().StringVarP(&authEmail, "email", "e", "", "Email address")
	loginCmd.Flags().StringVar(&authPassword, "password", "", "Password (prefer ASSISTANT_PASSWORD or the prompt)")

	deleteAccountCmd.Flags().BoolVar(&confirmYes, "yes", false, "Confirm deletion")
}

func promptEmail(cmd *cobra.Command, suggested string) (string, error) {
	if authEmail != "" {
		return authEmail, nil
	}
	prompt := "Email: "
	if suggested != "" {
		prompt = fmt.Sprintf("Email [%s]: ", suggested)
	}
	email, err := readLine(cmd.OutOrStdout(), prompt)
	if err != nil {
		return "", err
	}
	if email = strings.TrimSpace(email); email == "" {
		email = suggested
	}
	if email == "" {
		return "", errors.New("email is required")
	}
	return email, nil
}

func runSignup(cmd *cobra.Command, args []string, a *app.App) error {
	email, err := promptEmail(cmd, "")
	if err != nil {
		return err
	}
	password, err := readPassword(cmd.OutOrStdout(), authPassword)
	if err != nil {
		return err
	}
	s, err := a.Auth().SignUp(cmd.Context(), email, password, authName)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✅ Account created for %s\n", s.User.Email)
	return nil
}

func runLogin(cmd *cobra.Command, args []string, a *app.App) error {
	pending, _ := a.Accounts().ConsumePendingSwitch()
	email, err := promptEmail(cmd, pending)
	if err != nil {
		return err
	}
	password, err := readPassword(cmd.OutOrStdout(), authPassword)
	if err != nil {
		return err
	}
	acct, err := a.Accounts().AddAccount(cmd.Context(), email, password)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✅ Signed in as %s\n", acct.Label())
	return nil
}

func runLogout(cmd *cobra.Command, args []string, a *app.App) error {
	if a.Auth().GetSession() == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "Not signed in.")
		return nil
	}
	if err := a.Accounts().SignOutCurrent(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "👋 Signed out")
	return nil
}

func runWhoami(cmd *cobra.Command, args []string, a *app.App) error {
	s := a.Auth().GetSession()
	if s == nil {
		return authclient.ErrNotAuthenticated
	}
	out := cmd.OutOrStdout()
	name := s.User.DisplayName
	if profile, err := a.Backend().GetProfile(cmd.Context(), s.User.ID); err == nil && profile.DisplayName != "" {
		name = profile.DisplayName
	}
	fmt.Fprintf(out, "Email:   %s\n", s.User.Email)
	if name != "" {
		fmt.Fprintf(out, "Name:    %s\n", name)
	}
	fmt.Fprintf(out, "User ID: %s\n", s.User.ID)
	fmt.Fprintf(out, "Expires: %s\n", s.ExpiresAt.Local().Format("2006-01-02 15:04:05"))
	return nil
}

func runDeleteAccount(cmd *cobra.Command, args []string, a *app.App) error {
	if !confirmYes {
		return errors.New("refusing to delete without --yes")
	}
	if err := a.DeleteAccount(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "🗑️ Account deleted")
	return nil
}
