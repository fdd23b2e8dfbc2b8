package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pysugar/assistant/internal/client/app"
	"github.com/pysugar/assistant/internal/client/notice"
	"github.com/spf13/cobra"
)

var chatConversation string

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Chat with the assistant",
	Long: `Chat with the assistant. With a message argument one turn is sent and the
command exits; otherwise an interactive prompt starts.

Prompt commands:
  /new    start a new conversation
  /quit   leave the prompt`,
	RunE: withApp(runChat),
}

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"conv"},
	Short:   "Manage conversations",
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations, most recently updated first",
	Args:  cobra.NoArgs,
	RunE:  withApp(runConversationsList),
}

var conversationsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a conversation and its messages",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(runConversationsDelete),
}

func init() {
	chatCmd.Flags().StringVar(&chatConversation, "conversation", "", "Continue an existing conversation")
	conversationsCmd.AddCommand(conversationsListCmd, conversationsDeleteCmd)
}

// replyPrinter echoes streamed fragments and remembers whether any arrived.
type replyPrinter struct {
	out      io.Writer
	streamed bool
}

func (p *replyPrinter) fragment(s string) {
	p.streamed = true
	fmt.Fprint(p.out, s)
}

func runChat(cmd *cobra.Command, args []string, a *app.App) error {
	out := cmd.OutOrStdout()
	printer := &replyPrinter{out: out}
	a.OnFragment(printer.fragment)
	if chatConversation != "" {
		if err := a.Chat().Open(cmd.Context(), chatConversation); err != nil {
			return err
		}
		for _, m := range a.Chat().Messages() {
			fmt.Fprintf(out, "%s: %s\n", m.Role, m.Content)
		}
	}

	if len(args) > 0 {
		return chatTurn(cmd, a, printer, strings.Join(args, " "))
	}

	for {
		line, err := readLine(out, "> ")
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/new":
			a.Chat().NewConversation()
			fmt.Fprintln(out, "✨ New conversation")
			continue
		}
		// Failures were already reported as notices; keep the prompt open.
		err = chatTurn(cmd, a, printer, line)
		if err != nil && (notice.KindOf(err) == notice.AuthenticationRequired || cmd.Context().Err() != nil) {
			return err
		}
	}
}

func chatTurn(cmd *cobra.Command, a *app.App, printer *replyPrinter, text string) error {
	session := a.Chat()
	printer.streamed = false
	err := session.Send(cmd.Context(), text)
	// Replies made only of tool calls never stream text.
	if msgs := session.Messages(); err == nil && !printer.streamed && len(msgs) > 0 && msgs[len(msgs)-1].Role == "assistant" {
		fmt.Fprint(printer.out, msgs[len(msgs)-1].Content)
	}
	fmt.Fprintln(printer.out)
	// Let the title request finish before the process exits.
	session.Wait()
	return err
}

func runConversationsList(cmd *cobra.Command, args []string, a *app.App) error {
	list, err := a.Backend().ListConversations(cmd.Context())
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No conversations yet.")
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tUPDATED")
	for _, c := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.ID, c.Title, c.UpdatedAt.Local().Format(time.DateTime))
	}
	return w.Flush()
}

func runConversationsDelete(cmd *cobra.Command, args []string, a *app.App) error {
	if err := a.Backend().DeleteConversation(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "🗑️ Deleted conversation %s\n", args[0])
	return nil
}
