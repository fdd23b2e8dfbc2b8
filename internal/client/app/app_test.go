package app

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/pysugar/assistant/internal/client/accounts"
	"github.com/pysugar/assistant/internal/client/clienttest"
	"github.com/pysugar/assistant/internal/client/localstate"
	"github.com/pysugar/assistant/internal/client/notice"
	"github.com/pysugar/assistant/internal/config"
	"github.com/pysugar/assistant/internal/db/models"
)

func replyUpstream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Stretch time noted.\"}}]}\n\ndata: [DONE]\n\n")
}

func newTestApp(t *testing.T, srv *clienttest.Server, voiceCfg config.Voice) (*App, *notice.Recorder) {
	t.Helper()
	cfg := config.Default()
	cfg.Client.BaseURL = srv.URL
	cfg.Client.StatePath = filepath.Join(t.TempDir(), "state.db")
	cfg.Voice = voiceCfg
	rec := &notice.Recorder{}
	a, err := New(context.Background(), cfg, rec, nil)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a, rec
}

func TestAddAccountReloadsState(t *testing.T) {
	srv := clienttest.NewServer(t, clienttest.Options{})
	srv.CreateUser(t, "alice@example.com", "secret123", "Alice")
	a, _ := newTestApp(t, srv, config.Voice{})

	if _, err := a.Accounts().AddAccount(context.Background(), "alice@example.com", "secret123"); err != nil {
		t.Fatalf("add account: %v", err)
	}
	snap := a.Snapshot()
	if snap.Profile.DisplayName != "Alice" || snap.Settings.Language != "en" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	if err := a.Auth().SignOut(context.Background()); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if got := a.Snapshot(); got.Profile.ID != "" {
		t.Fatalf("expected snapshot cleared on sign-out, got %+v", got)
	}
}

func TestSwitchStartsFreshChat(t *testing.T) {
	srv := clienttest.NewServer(t, clienttest.Options{Upstream: replyUpstream})
	srv.CreateUser(t, "alice@example.com", "secret123", "Alice")
	srv.CreateUser(t, "bob@example.com", "secret456", "Bob")
	a, _ := newTestApp(t, srv, config.Voice{})
	ctx := context.Background()

	a.Accounts().AddAccount(ctx, "bob@example.com", "secret456")
	a.Accounts().AddAccount(ctx, "alice@example.com", "secret123")
	if err := a.Chat().Send(ctx, "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	before := a.Chat()

	bob, _ := a.Accounts().Find("bob@example.com")
	outcome, err := a.Accounts().SwitchTo(ctx, bob)
	if err != nil || outcome != accounts.SwitchActive {
		t.Fatalf("switch: %v %v", outcome, err)
	}
	if a.Chat() == before || len(a.Chat().Messages()) != 0 {
		t.Fatalf("expected a fresh chat session after switch")
	}
	if a.Snapshot().Profile.DisplayName != "Bob" || len(a.Snapshot().Conversations) != 0 {
		t.Fatalf("expected bob's state, got %+v", a.Snapshot())
	}
}

func TestDeleteAccountClearsLocalState(t *testing.T) {
	srv := clienttest.NewServer(t, clienttest.Options{})
	user := srv.CreateUser(t, "alice@example.com", "secret123", "Alice")
	a, _ := newTestApp(t, srv, config.Voice{})
	ctx := context.Background()
	a.Accounts().AddAccount(ctx, "alice@example.com", "secret123")

	if err := a.DeleteAccount(ctx); err != nil {
		t.Fatalf("delete account: %v", err)
	}
	if a.Auth().GetSession() != nil || len(a.Accounts().Accounts()) != 0 {
		t.Fatalf("expected local state cleared")
	}
	if _, ok, _ := a.state.Get(localstate.KeySavedAccounts); ok {
		t.Fatalf("expected saved accounts removed")
	}
	var count int64
	srv.DB.Model(&models.User{}).Where("id = ?", user.ID).Count(&count)
	if count != 0 {
		t.Fatalf("expected user removed on the server")
	}
}

func TestDueTasks(t *testing.T) {
	if _, err := exec.LookPath("true"); err != nil {
		t.Skip("true not available")
	}
	srv := clienttest.NewServer(t, clienttest.Options{})
	srv.CreateUser(t, "alice@example.com", "secret123", "Alice")
	a, rec := newTestApp(t, srv, config.Voice{NotifyCommand: "true"})
	ctx := context.Background()
	a.Accounts().AddAccount(ctx, "alice@example.com", "secret123")

	now := time.Now().UTC()
	past, future := now.Add(-time.Hour), now.Add(24*time.Hour)
	a.Backend().CreateTask(ctx, models.Task{Title: "Overdue", DueAt: &past})
	a.Backend().CreateTask(ctx, models.Task{Title: "Later", DueAt: &future})
	a.Backend().CreateTask(ctx, models.Task{Title: "Undated"})

	tasks, err := a.DueTasks(ctx, now, true)
	if err != nil {
		t.Fatalf("due tasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Title != "Overdue" {
		t.Fatalf("unexpected due tasks %+v", tasks)
	}
	if rec.Has(notice.PlatformUnsupported) {
		t.Fatalf("notifier is configured")
	}
}

func TestVoiceTurn(t *testing.T) {
	if _, err := exec.LookPath("echo"); err != nil {
		t.Skip("echo not available")
	}
	srv := clienttest.NewServer(t, clienttest.Options{Upstream: replyUpstream})
	srv.CreateUser(t, "alice@example.com", "secret123", "Alice")
	a, rec := newTestApp(t, srv, config.Voice{STTCommand: "echo remind me to stretch"})
	ctx := context.Background()
	a.Accounts().AddAccount(ctx, "alice@example.com", "secret123")

	transcript, reply, err := a.VoiceTurn(ctx, true)
	if err != nil {
		t.Fatalf("voice turn: %v", err)
	}
	if transcript != "remind me to stretch" || reply != "Stretch time noted." {
		t.Fatalf("unexpected turn %q -> %q", transcript, reply)
	}
	cmds, err := a.Backend().ListVoiceCommands(ctx, 10)
	if err != nil || len(cmds) != 1 || cmds[0].Response != reply {
		t.Fatalf("expected logged voice command, got %+v err=%v", cmds, err)
	}
	if !rec.Has(notice.PlatformUnsupported) {
		t.Fatalf("speaking without a speaker should surface a platform notice")
	}
}
