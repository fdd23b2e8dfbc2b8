package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pysugar/assistant/internal/client/authclient"
	"github.com/pysugar/assistant/internal/client/clienttest"
	"github.com/pysugar/assistant/internal/config"
	"github.com/spf13/cobra"
)

func newTestCommand(t *testing.T) (*cobra.Command, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	return cmd, &out
}

func useServer(t *testing.T, srv *clienttest.Server) {
	t.Helper()
	t.Setenv("ASSISTANT_PASSWORD", "")
	prev := cfg
	cfg = config.Default()
	cfg.Client.BaseURL = srv.URL
	cfg.Client.StatePath = filepath.Join(t.TempDir(), "state.db")
	cfg.Voice = config.Voice{}
	t.Cleanup(func() {
		cfg = prev
		authEmail, authPassword, authName = "", "", ""
		taskDue, taskPriority, taskDescription = "", "medium", ""
		tasksAll, tasksNotify = false, false
		chatConversation = ""
	})
}

func TestParseSettingArgs(t *testing.T) {
	fields, err := parseSettingArgs([]string{"theme=dark", "auto_speak=true", "language= fr "})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if fields["theme"] != "dark" || fields["auto_speak"] != true || fields["language"] != "fr" {
		t.Fatalf("unexpected fields %v", fields)
	}

	for _, bad := range []string{"theme", "=dark", "colour=red", "auto_speak=maybe"} {
		if _, err := parseSettingArgs([]string{bad}); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestParseDueFlag(t *testing.T) {
	if due, err := parseDueFlag(""); err != nil || due != nil {
		t.Fatalf("empty due: %v %v", due, err)
	}
	due, err := parseDueFlag("2026-03-01T09:30:00Z")
	if err != nil || !due.Equal(time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)) {
		t.Fatalf("rfc3339: %v %v", due, err)
	}
	due, err = parseDueFlag("2026-03-01 18:00")
	if err != nil || due.Hour() != 18 || due.Location() != time.Local {
		t.Fatalf("local layout: %v %v", due, err)
	}
	if _, err := parseDueFlag("next tuesday"); err == nil {
		t.Fatal("expected error for free-form due time")
	}
}

func TestLoginTasksAndLogout(t *testing.T) {
	srv := clienttest.NewServer(t, clienttest.Options{})
	srv.CreateUser(t, "alice@example.com", "secret123", "Alice")
	useServer(t, srv)

	cmd, out := newTestCommand(t)
	authEmail, authPassword = "alice@example.com", "secret123"
	if err := withApp(runLogin)(cmd, nil); err != nil {
		t.Fatalf("login: %v", err)
	}
	if !strings.Contains(out.String(), "Signed in as Alice") {
		t.Fatalf("unexpected login output %q", out.String())
	}

	out.Reset()
	taskDue, taskPriority = "2026-03-01 18:00", "high"
	if err := withApp(runTasksAdd)(cmd, []string{"Call", "Mom"}); err != nil {
		t.Fatalf("tasks add: %v", err)
	}
	out.Reset()
	if err := withApp(runTasksList)(cmd, nil); err != nil {
		t.Fatalf("tasks list: %v", err)
	}
	if !strings.Contains(out.String(), "Call Mom") || !strings.Contains(out.String(), "high") {
		t.Fatalf("task missing from list %q", out.String())
	}

	out.Reset()
	if err := withApp(runSettingsSet)(cmd, []string{"auto_speak=true", "theme=dark"}); err != nil {
		t.Fatalf("settings set: %v", err)
	}
	out.Reset()
	if err := withApp(runSettingsGet)(cmd, nil); err != nil {
		t.Fatalf("settings get: %v", err)
	}
	if !strings.Contains(out.String(), "auto_speak=true") || !strings.Contains(out.String(), "theme=dark") {
		t.Fatalf("settings not saved %q", out.String())
	}

	out.Reset()
	if err := withApp(runAccountsList)(cmd, nil); err != nil {
		t.Fatalf("accounts list: %v", err)
	}
	if !strings.Contains(out.String(), "*") || !strings.Contains(out.String(), "alice@example.com") {
		t.Fatalf("current account not marked %q", out.String())
	}

	if err := withApp(runLogout)(cmd, nil); err != nil {
		t.Fatalf("logout: %v", err)
	}
	err := withApp(runWhoami)(cmd, nil)
	if !errors.Is(err, authclient.ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated after logout, got %v", err)
	}

	// The record survives sign-out but needs a password again.
	out.Reset()
	if err := withApp(runAccountsList)(cmd, nil); err != nil {
		t.Fatalf("accounts list: %v", err)
	}
	if !strings.Contains(out.String(), "password required") {
		t.Fatalf("expected signed-out account to need a password %q", out.String())
	}
}

func TestDeleteAccountRequiresConfirmation(t *testing.T) {
	srv := clienttest.NewServer(t, clienttest.Options{})
	useServer(t, srv)
	confirmYes = false

	cmd, _ := newTestCommand(t)
	if err := withApp(runDeleteAccount)(cmd, nil); err == nil {
		t.Fatal("expected delete-account to refuse without --yes")
	}
}

func fakeUpstream(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Stream bool `json:"stream"`
	}
	json.NewDecoder(r.Body).Decode(&req)
	if !req.Stream {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"Morning Stretch"}}]}`)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Stretch \"}}]}\n\n")
	fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"time noted.\"}}]}\n\n")
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func TestChatSingleTurnPrintsReply(t *testing.T) {
	srv := clienttest.NewServer(t, clienttest.Options{Upstream: fakeUpstream})
	srv.CreateUser(t, "bob@example.com", "secret123", "Bob")
	useServer(t, srv)

	cmd, out := newTestCommand(t)
	authEmail, authPassword = "bob@example.com", "secret123"
	if err := withApp(runLogin)(cmd, nil); err != nil {
		t.Fatalf("login: %v", err)
	}

	out.Reset()
	if err := withApp(runChat)(cmd, []string{"remind", "me", "to", "stretch"}); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if got := out.String(); !strings.Contains(got, "Stretch time noted.") {
		t.Fatalf("reply not printed: %q", got)
	}

	out.Reset()
	if err := withApp(runConversationsList)(cmd, nil); err != nil {
		t.Fatalf("conversations list: %v", err)
	}
	if !strings.Contains(out.String(), "Morning Stretch") {
		t.Fatalf("expected generated title in %q", out.String())
	}
}

func TestChatRequiresSignIn(t *testing.T) {
	srv := clienttest.NewServer(t, clienttest.Options{Upstream: fakeUpstream})
	useServer(t, srv)

	cmd, _ := newTestCommand(t)
	err := withApp(runChat)(cmd, []string{"hello"})
	if err == nil {
		t.Fatal("expected chat to fail without a session")
	}
}
