package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pysugar/assistant/internal/client/authclient"
	"github.com/pysugar/assistant/internal/client/localstate"
	"github.com/pysugar/assistant/internal/client/notice"
	"github.com/pysugar/assistant/internal/db"
	"github.com/pysugar/assistant/internal/logging"
	"github.com/pysugar/assistant/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Auth is the part of the auth client the registry drives.
type Auth interface {
	GetSession() *authclient.Session
	SetSession(ctx context.Context, accessToken, refreshToken string) (*authclient.Session, error)
	RefreshSession(ctx context.Context, refreshToken string) (*authclient.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*authclient.Session, error)
	SignOut(ctx context.Context) error
	Subscribe(fn authclient.Listener) *authclient.Subscription
}

// Storage is the local key/value state. *localstate.Store satisfies it.
type Storage interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
	Take(key string) (string, bool, error)
}

// SignInPrompter hands control to the interactive sign-in flow, pre-filled
// with email.
type SignInPrompter interface {
	PromptSignIn(ctx context.Context, email string) error
}

// Reloader re-reads all identity-scoped application state.
type Reloader interface {
	Reload(ctx context.Context) error
}

// SwitchOutcome is the terminal state of a switch attempt.
type SwitchOutcome int

const (
	SwitchNoop SwitchOutcome = iota
	SwitchActive
	SwitchAwaitingPassword
)

func (o SwitchOutcome) String() string {
	switch o {
	case SwitchNoop:
		return "noop"
	case SwitchActive:
		return "active"
	case SwitchAwaitingPassword:
		return "awaiting_password"
	}
	return "unknown"
}

// Options configures a Registry.
type Options struct {
	Store    Storage
	Auth     Auth
	Sink     notice.Sink
	Prompter SignInPrompter
	Reloader Reloader
}

// Registry owns the persisted account list. All writes to it go through here.
type Registry struct {
	store    Storage
	auth     Auth
	sink     notice.Sink
	prompter SignInPrompter
	reloader Reloader
	now      func() time.Time

	mu       sync.Mutex
	accounts []Account
	sub      *authclient.Subscription
}

// New creates a registry. Call Load to read persisted records.
func New(opts Options) *Registry {
	sink := opts.Sink
	if sink == nil {
		sink = notice.Discard
	}
	return &Registry{
		store:    opts.Store,
		auth:     opts.Auth,
		sink:     sink,
		prompter: opts.Prompter,
		reloader: opts.Reloader,
		now:      time.Now,
	}
}

// SetReloader replaces the reload hook.
func (r *Registry) SetReloader(reloader Reloader) {
	r.mu.Lock()
	r.reloader = reloader
	r.mu.Unlock()
}

// Load reads the current store, upgrading the legacy store when the current
// one is empty. Unreadable data yields an empty list and a notice.
func (r *Registry) Load() []Account {
	list, err := r.readStores()
	if err != nil {
		logging.L().Warn("⚠️ Saved accounts are unreadable, starting empty", zap.Error(err))
		r.sink.Notify(notice.FromError(notice.Wrap(notice.StorageParseError, "load accounts", err)))
		list = nil
	}
	r.mu.Lock()
	r.accounts = list
	r.mu.Unlock()
	return r.Accounts()
}

func (r *Registry) readStores() ([]Account, error) {
	raw, ok, err := r.store.Get(localstate.KeySavedAccounts)
	if err != nil {
		return nil, err
	}
	if ok {
		list, err := parseCurrent(raw)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", localstate.KeySavedAccounts, err)
		}
		if len(list) > 0 {
			sortByRecency(list)
			return capList(dedupe(list)), nil
		}
	}

	raw, ok, err = r.store.Get(localstate.KeySavedAccountsLegacy)
	if err != nil || !ok {
		return nil, err
	}
	list, err := parseLegacy(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", localstate.KeySavedAccountsLegacy, err)
	}
	sortByRecency(list)
	list = capList(dedupe(list))
	if len(list) > 0 {
		if err := r.write(list); err != nil {
			return nil, err
		}
		logging.L().Info("📦 Migrated saved accounts", zap.Int("count", len(list)))
	}
	return list, nil
}

func capList(list []Account) []Account {
	if len(list) > MaxAccounts {
		return list[:MaxAccounts]
	}
	return list
}

func (r *Registry) write(list []Account) error {
	data, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return r.store.Set(localstate.KeySavedAccounts, string(data))
}

// Accounts returns every record, most recently used first.
func (r *Registry) Accounts() []Account {
	r.mu.Lock()
	list := make([]Account, len(r.accounts))
	for i, a := range r.accounts {
		list[i] = a.clone()
	}
	r.mu.Unlock()
	sortByRecency(list)
	return list
}

// Find returns the record for email.
func (r *Registry) Find(email string) (Account, bool) {
	email = normalizeEmail(email)
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.Email == email {
			return a.clone(), true
		}
	}
	return Account{}, false
}

// Others lists accounts other than currentUserID, most recently used first.
func (r *Registry) Others(currentUserID string) []Account {
	all := r.Accounts()
	out := all[:0]
	for _, a := range all {
		if currentUserID != "" && a.UserID == currentUserID {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Upsert merges a into the list keyed by email, moves it to the front and
// evicts the least recently used records beyond MaxAccounts.
func (r *Registry) Upsert(a Account) error {
	a = a.clone()
	a.Email = normalizeEmail(a.Email)
	if a.Email == "" {
		return errors.New("account email is required")
	}
	if a.LastUsedAt.IsZero() {
		a.LastUsedAt = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	rest := make([]Account, 0, len(r.accounts))
	for _, existing := range r.accounts {
		if existing.Email != a.Email {
			rest = append(rest, existing)
			continue
		}
		if a.DisplayName == "" {
			a.DisplayName = existing.DisplayName
		}
		if a.Username == "" {
			a.Username = existing.Username
		}
		if a.UserID == "" {
			a.UserID = existing.UserID
			a.Legacy = existing.Legacy
		}
	}
	if a.Username == "" {
		a.Username = db.LocalPart(a.Email)
	}
	sortByRecency(rest)
	list := capList(append([]Account{a}, rest...))
	if err := r.write(list); err != nil {
		return err
	}
	r.accounts = list
	return nil
}

func (r *Registry) upsertSession(s *authclient.Session) {
	if s == nil || s.User.Email == "" {
		return
	}
	if err := r.Upsert(fromSession(s, r.now())); err != nil {
		logging.L().Warn("⚠️ Failed to save account", zap.String("email", s.User.Email), zap.Error(err))
	}
}

// clearCredentials drops the cached credential pair but keeps the record.
func (r *Registry) clearCredentials(email string) error {
	email = normalizeEmail(email)
	r.mu.Lock()
	defer r.mu.Unlock()
	list := append([]Account(nil), r.accounts...)
	changed := false
	for i := range list {
		if list[i].Email == email && list[i].Credentials != nil {
			list[i].Credentials = nil
			changed = true
		}
	}
	if !changed {
		return nil
	}
	if err := r.write(list); err != nil {
		return err
	}
	r.accounts = list
	return nil
}

// SwitchTo makes target the active identity, restoring its cached session
// when possible and falling back to interactive sign-in otherwise.
func (r *Registry) SwitchTo(ctx context.Context, target Account) (SwitchOutcome, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "accounts.switch")
	defer span.End()

	outcome, err := r.switchTo(ctx, target)
	span.SetAttributes(attribute.String("switch.outcome", outcome.String()))
	telemetry.Count(ctx, "assistant.accounts.switches", 1, attribute.String("outcome", outcome.String()))
	return outcome, err
}

func (r *Registry) switchTo(ctx context.Context, target Account) (SwitchOutcome, error) {
	email := normalizeEmail(target.Email)
	if cur := r.auth.GetSession(); cur != nil && normalizeEmail(cur.User.Email) == email {
		return SwitchNoop, nil
	}
	if stored, ok := r.Find(email); ok {
		target = stored
	}
	if !target.CanRestore() {
		return r.awaitPassword(ctx, email)
	}

	creds := target.Credentials
	s, err := r.auth.SetSession(ctx, creds.AccessToken, creds.RefreshToken)
	if err != nil {
		logging.L().Debug("🔁 Stored session rejected, trying refresh", zap.String("email", email), zap.Error(err))
		s, err = r.auth.RefreshSession(ctx, creds.RefreshToken)
	}
	if err == nil && (s == nil || s.User.ID == "" || s.User.Email == "") {
		err = notice.Wrap(notice.CredentialExchangeFailed, "switch account", errors.New("session has no identity"))
	}
	if err != nil {
		logging.L().Warn("⚠️ Account switch failed, password required", zap.String("email", email), zap.Error(err))
		if authclient.IsPermanentRefreshError(err) {
			if cerr := r.clearCredentials(email); cerr != nil {
				logging.L().Warn("⚠️ Failed to clear credentials", zap.String("email", email), zap.Error(cerr))
			}
		}
		r.sink.Notify(notice.Notice{
			Kind:    notice.CredentialExchangeFailed,
			Message: notice.Message(notice.CredentialExchangeFailed, err),
		})
		return r.awaitPassword(ctx, email)
	}

	r.upsertSession(s)
	logging.L().Info("🔀 Switched account", zap.String("email", s.User.Email))
	r.reload(ctx)
	return SwitchActive, nil
}

func (r *Registry) awaitPassword(ctx context.Context, email string) (SwitchOutcome, error) {
	if err := r.store.Set(localstate.KeyPendingSwitchEmail, email); err != nil {
		logging.L().Warn("⚠️ Failed to save pending switch", zap.Error(err))
	}
	if r.prompter == nil {
		return SwitchAwaitingPassword, nil
	}
	return SwitchAwaitingPassword, r.prompter.PromptSignIn(ctx, email)
}

func (r *Registry) reload(ctx context.Context) {
	r.mu.Lock()
	reloader := r.reloader
	r.mu.Unlock()
	if reloader == nil {
		return
	}
	if err := reloader.Reload(ctx); err != nil {
		logging.L().Warn("⚠️ Reload after account change failed", zap.Error(err))
		r.sink.Notify(notice.FromError(err))
	}
}

// ConsumePendingSwitch returns the pending switch email once.
func (r *Registry) ConsumePendingSwitch() (string, bool) {
	email, ok, err := r.store.Take(localstate.KeyPendingSwitchEmail)
	if err != nil {
		logging.L().Warn("⚠️ Failed to read pending switch", zap.Error(err))
		return "", false
	}
	return email, ok && email != ""
}

// AddAccount signs in with a password and records the identity.
func (r *Registry) AddAccount(ctx context.Context, email, password string) (Account, error) {
	s, err := r.auth.SignInWithPassword(ctx, email, password)
	if err != nil {
		return Account{}, err
	}
	r.upsertSession(s)
	a, _ := r.Find(s.User.Email)
	r.reload(ctx)
	return a, nil
}

// SignOutCurrent ends the live session and drops that identity's cached
// credentials. The record itself stays in the list.
func (r *Registry) SignOutCurrent(ctx context.Context) error {
	cur := r.auth.GetSession()
	err := r.auth.SignOut(ctx)
	if cur != nil {
		if cerr := r.clearCredentials(cur.User.Email); cerr != nil {
			logging.L().Warn("⚠️ Failed to clear credentials", zap.String("email", cur.User.Email), zap.Error(cerr))
		}
	}
	return err
}

// Forget removes the record for email.
func (r *Registry) Forget(email string) error {
	email = normalizeEmail(email)
	r.mu.Lock()
	defer r.mu.Unlock()
	list := make([]Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		if a.Email != email {
			list = append(list, a)
		}
	}
	if len(list) == len(r.accounts) {
		return nil
	}
	if err := r.write(list); err != nil {
		return err
	}
	r.accounts = list
	return nil
}

// Clear removes every persisted account record and the pending switch hint.
func (r *Registry) Clear() error {
	r.mu.Lock()
	r.accounts = nil
	r.mu.Unlock()
	return errors.Join(
		r.store.Delete(localstate.KeySavedAccounts),
		r.store.Delete(localstate.KeySavedAccountsLegacy),
		r.store.Delete(localstate.KeyPendingSwitchEmail),
	)
}

// Attach records the identity on every sign-in, refresh and profile update.
func (r *Registry) Attach() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sub != nil {
		return
	}
	r.sub = r.auth.Subscribe(func(event authclient.Event, s *authclient.Session) {
		switch event {
		case authclient.SignedIn, authclient.TokenRefreshed, authclient.UserUpdated:
			r.upsertSession(s)
		}
	})
}

// Close stops listening to auth events.
func (r *Registry) Close() {
	r.mu.Lock()
	sub := r.sub
	r.sub = nil
	r.mu.Unlock()
	sub.Unsubscribe()
}
