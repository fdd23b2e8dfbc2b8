package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pysugar/assistant/internal/client/app"
	"github.com/pysugar/assistant/internal/client/notice"
	"github.com/pysugar/assistant/internal/config"
	"github.com/pysugar/assistant/internal/logging"
	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
	cfg        config.Config
	stdin      = bufio.NewReader(os.Stdin)
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "assistant",
	Short: "Personal assistant: chat, tasks and voice",
	Long: `assistant runs the assistant server (serve) and is also its terminal client.

Client commands talk to the server at client.base_url and keep their session,
saved accounts and pending sign-in hints in client.state_path.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		opts := logging.Options{
			Level:      cfg.Log.Level,
			File:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Console:    cfg.Log.File == "",
		}
		// Client commands share the terminal with their output.
		if cmd.Name() != serveCmd.Name() && cfg.Log.File == "" {
			opts.Level = "warn"
		}
		if verbose {
			opts.Level = "debug"
		}
		_, err = logging.Init(opts)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: "+config.DefaultPath+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(signupCmd, loginCmd, logoutCmd, whoamiCmd, deleteAccountCmd)
	rootCmd.AddCommand(accountsCmd)
	rootCmd.AddCommand(chatCmd, conversationsCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(voiceCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "❌", describe(err))
		stop()
		os.Exit(1)
	}
}

// terminalSink prints notices to stderr.
type terminalSink struct {
	out io.Writer
}

func (s terminalSink) Notify(n notice.Notice) {
	icon := "⚠️"
	if n.Kind == notice.Info {
		icon = "ℹ️"
	}
	fmt.Fprintf(s.out, "%s  %s\n", icon, n.Message)
}

// terminalPrompter asks for a password when a switch needs one.
type terminalPrompter struct {
	app *app.App
	out io.Writer
}

func (p *terminalPrompter) PromptSignIn(ctx context.Context, email string) error {
	fmt.Fprintf(p.out, "Sign in to %s\n", email)
	password, err := readPassword(p.out, "")
	if err != nil {
		return err
	}
	a, err := p.app.Accounts().AddAccount(ctx, email, password)
	if err != nil {
		p.app.Sink().Notify(notice.FromError(err))
		return err
	}
	// The hint has been acted on.
	p.app.Accounts().ConsumePendingSwitch()
	fmt.Fprintf(p.out, "✅ Signed in as %s\n", a.Label())
	return nil
}

func openApp(cmd *cobra.Command) (*app.App, error) {
	prompter := &terminalPrompter{out: cmd.OutOrStdout()}
	a, err := app.New(cmd.Context(), cfg, terminalSink{out: cmd.ErrOrStderr()}, prompter)
	if err != nil {
		return nil, err
	}
	prompter.app = a
	return a, nil
}

// withApp runs fn against an opened App.
func withApp(fn func(cmd *cobra.Command, args []string, a *app.App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, args, a)
	}
}

// describe prefers the user-facing message for classified failures.
func describe(err error) string {
	var tagged *notice.Error
	if errors.As(err, &tagged) {
		return fmt.Sprintf("%s (%v)", notice.Message(tagged.Kind, err), err)
	}
	return err.Error()
}

func readLine(out io.Writer, prompt string) (string, error) {
	if prompt != "" {
		fmt.Fprint(out, prompt)
	}
	line, err := stdin.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readPassword prefers ASSISTANT_PASSWORD, then the given flag value, then stdin.
func readPassword(out io.Writer, flagValue string) (string, error) {
	if v := os.Getenv("ASSISTANT_PASSWORD"); v != "" {
		return v, nil
	}
	if flagValue != "" {
		return flagValue, nil
	}
	return readLine(out, "Password: ")
}
