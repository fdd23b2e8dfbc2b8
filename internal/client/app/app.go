// Package app assembles the client: local state, auth, the account registry,
// the backend client, the chat session and the voice platform.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pysugar/assistant/internal/client/accounts"
	"github.com/pysugar/assistant/internal/client/authclient"
	"github.com/pysugar/assistant/internal/client/backend"
	"github.com/pysugar/assistant/internal/client/chat"
	"github.com/pysugar/assistant/internal/client/localstate"
	"github.com/pysugar/assistant/internal/client/notice"
	"github.com/pysugar/assistant/internal/client/voice"
	"github.com/pysugar/assistant/internal/config"
	"github.com/pysugar/assistant/internal/db/models"
	"github.com/pysugar/assistant/internal/logging"
	"go.uber.org/zap"
)

// Snapshot is the identity-scoped state loaded after each sign-in or switch.
type Snapshot struct {
	Profile       models.Profile
	Settings      models.Settings
	Conversations []models.Conversation
}

// App owns every client component and releases them on Close.
type App struct {
	cfg      config.Config
	sink     notice.Sink
	state    *localstate.Store
	auth     *authclient.Client
	backend  *backend.Client
	accounts *accounts.Registry
	voice    voice.Platform
	sub      *authclient.Subscription

	mu         sync.Mutex
	chat       *chat.Session
	snapshot   Snapshot
	onFragment func(string)
}

// New acquires the client's resources. The caller must Close the App.
func New(ctx context.Context, cfg config.Config, sink notice.Sink, prompter accounts.SignInPrompter) (*App, error) {
	if sink == nil {
		sink = notice.Discard
	}
	state, err := localstate.Open(cfg.Client.StatePath)
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}
	req := backend.NewRequester(cfg.Client.BaseURL, nil)
	auth := authclient.New(req, cfg.Client.ClientID, state)

	a := &App{
		cfg:     cfg,
		sink:    sink,
		state:   state,
		auth:    auth,
		backend: backend.New(req, auth),
		voice:   voice.Probe(cfg.Voice),
	}
	a.accounts = accounts.New(accounts.Options{
		Store:    state,
		Auth:     auth,
		Sink:     sink,
		Prompter: prompter,
		Reloader: a,
	})
	a.accounts.Load()
	a.accounts.Attach()
	a.chat = a.newChat()
	a.sub = auth.Subscribe(func(event authclient.Event, _ *authclient.Session) {
		if event == authclient.SignedOut {
			a.reset()
		}
	})
	logging.L().Debug("🚀 Client ready", zap.String("base_url", req.BaseURL()), zap.String("state", cfg.Client.StatePath))
	return a, nil
}

func (a *App) newChat() *chat.Session {
	return chat.NewSession(chat.Deps{
		Backend: a.backend,
		Auth:    a.auth,
		Sink:    a.sink,
		OnFragment: func(fragment string) {
			a.mu.Lock()
			fn := a.onFragment
			a.mu.Unlock()
			if fn != nil {
				fn(fragment)
			}
		},
	})
}

// Auth returns the auth client.
func (a *App) Auth() *authclient.Client { return a.auth }

// Accounts returns the account registry.
func (a *App) Accounts() *accounts.Registry { return a.accounts }

// Backend returns the row API client.
func (a *App) Backend() *backend.Client { return a.backend }

// Voice returns the probed voice platform.
func (a *App) Voice() voice.Platform { return a.voice }

// Sink returns the notice sink.
func (a *App) Sink() notice.Sink { return a.sink }

// Chat returns the current chat session. It is replaced on every reload.
func (a *App) Chat() *chat.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.chat
}

// Snapshot returns the last loaded identity-scoped state.
func (a *App) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.snapshot
	s.Conversations = append([]models.Conversation(nil), a.snapshot.Conversations...)
	return s
}

// OnFragment sets the callback receiving streamed assistant text.
func (a *App) OnFragment(fn func(string)) {
	a.mu.Lock()
	a.onFragment = fn
	a.mu.Unlock()
}

// Reload re-reads profile, settings and conversations for the signed-in
// identity and starts a fresh chat session.
func (a *App) Reload(ctx context.Context) error {
	s := a.auth.GetSession()
	if s == nil {
		a.reset()
		return notice.Wrap(notice.AuthenticationRequired, "reload", authclient.ErrNotAuthenticated)
	}
	profile, err := a.backend.GetProfile(ctx, s.User.ID)
	if err != nil {
		return err
	}
	settings, err := a.backend.GetSettings(ctx)
	if err != nil {
		return err
	}
	convs, err := a.backend.ListConversations(ctx)
	if err != nil {
		return err
	}

	a.Chat().Wait()
	a.mu.Lock()
	a.snapshot = Snapshot{Profile: profile, Settings: settings, Conversations: convs}
	a.chat = a.newChat()
	a.mu.Unlock()
	logging.L().Info("🔁 Reloaded account state", zap.String("email", s.User.Email), zap.Int("conversations", len(convs)))
	return nil
}

func (a *App) reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.snapshot = Snapshot{}
	a.chat = a.newChat()
}

// DeleteAccount deletes the account on the server, then every local trace
// of it.
func (a *App) DeleteAccount(ctx context.Context) error {
	s := a.auth.GetSession()
	if s == nil {
		return notice.Wrap(notice.AuthenticationRequired, "delete account", authclient.ErrNotAuthenticated)
	}
	if err := a.backend.DeleteAccount(ctx); err != nil {
		return err
	}
	a.Chat().Wait()
	a.auth.Forget()
	if err := a.accounts.Clear(); err != nil {
		return fmt.Errorf("clear local accounts: %w", err)
	}
	logging.L().Info("🗑️ Account deleted", zap.String("email", s.User.Email))
	return nil
}

// DueTasks lists open tasks due before now. With notify set, each one is
// also shown as a desktop notification.
func (a *App) DueTasks(ctx context.Context, now time.Time, notify bool) ([]models.Task, error) {
	open := false
	tasks, err := a.backend.ListTasks(ctx, &open, &now)
	if err != nil {
		return nil, err
	}
	if !notify {
		return tasks, nil
	}
	for _, t := range tasks {
		body := t.Title
		if t.Description != "" {
			body += ": " + t.Description
		}
		if err := a.voice.Notify(ctx, "Task due", body); err != nil {
			if notice.KindOf(err) == notice.PlatformUnsupported {
				a.sink.Notify(notice.FromError(err))
				break
			}
			logging.L().Warn("⚠️ Failed to show notification", zap.String("task", t.Title), zap.Error(err))
		}
	}
	return tasks, nil
}

// VoiceTurn listens for one utterance, sends it as a chat message, logs the
// exchange and optionally speaks the reply.
func (a *App) VoiceTurn(ctx context.Context, speak bool) (transcript, reply string, err error) {
	transcript, err = a.voice.Listen(ctx)
	if err != nil {
		if errors.Is(err, voice.ErrNoSpeech) {
			a.sink.Notify(notice.Notice{Kind: notice.Info, Message: "No speech detected."})
		} else {
			a.sink.Notify(notice.FromError(err))
		}
		return "", "", err
	}
	session := a.Chat()
	if err := session.Send(ctx, transcript); err != nil {
		return transcript, "", err
	}
	msgs := session.Messages()
	if n := len(msgs); n > 0 && msgs[n-1].Role == "assistant" {
		reply = msgs[n-1].Content
	}
	if _, err := a.backend.InsertVoiceCommand(ctx, transcript, reply); err != nil {
		logging.L().Warn("⚠️ Failed to log voice command", zap.Error(err))
	}
	if speak && strings.TrimSpace(reply) != "" {
		if err := a.voice.Speak(ctx, reply); err != nil {
			a.sink.Notify(notice.FromError(err))
		}
	}
	return transcript, reply, nil
}

// Close releases every resource acquired by New.
func (a *App) Close() error {
	a.sub.Unsubscribe()
	a.accounts.Close()
	a.Chat().Wait()
	if sp, ok := a.voice.Speaker.Get(); ok {
		sp.Stop()
	}
	return a.state.Close()
}
