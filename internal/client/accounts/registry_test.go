package accounts

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pysugar/assistant/internal/client/authclient"
	"github.com/pysugar/assistant/internal/client/clienttest"
	"github.com/pysugar/assistant/internal/client/localstate"
	"github.com/pysugar/assistant/internal/client/notice"
)

type fakePrompter struct {
	mu     sync.Mutex
	emails []string
}

func (p *fakePrompter) PromptSignIn(_ context.Context, email string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.emails = append(p.emails, email)
	return nil
}

func (p *fakePrompter) calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.emails...)
}

type countingReloader struct {
	mu sync.Mutex
	n  int
}

func (c *countingReloader) Reload(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return nil
}

func (c *countingReloader) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

type registryEnv struct {
	srv      *clienttest.Server
	store    *localstate.Store
	auth     *authclient.Client
	reg      *Registry
	prompter *fakePrompter
	reloader *countingReloader
	notices  *notice.Recorder
}

func newRegistryEnv(t *testing.T) *registryEnv {
	t.Helper()
	env := &registryEnv{
		srv:      clienttest.NewServer(t, clienttest.Options{}),
		store:    clienttest.NewState(t),
		prompter: &fakePrompter{},
		reloader: &countingReloader{},
		notices:  &notice.Recorder{},
	}
	env.auth = authclient.New(env.srv.Requester(), "assistant-cli", env.store)
	env.reg = New(Options{
		Store:    env.store,
		Auth:     env.auth,
		Sink:     env.notices,
		Prompter: env.prompter,
		Reloader: env.reloader,
	})
	env.reg.Load()
	env.reg.Attach()
	t.Cleanup(env.reg.Close)
	return env
}

func persisted(t *testing.T, store *localstate.Store) []Account {
	t.Helper()
	raw, ok, err := store.Get(localstate.KeySavedAccounts)
	if err != nil || !ok {
		t.Fatalf("expected persisted accounts, ok=%v err=%v", ok, err)
	}
	var list []Account
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		t.Fatalf("persisted accounts are not valid JSON: %v", err)
	}
	return list
}

func TestUpsert_CapsAndDedupes(t *testing.T) {
	store := clienttest.NewState(t)
	reg := New(Options{Store: store})
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	reg.now = func() time.Time { clock = clock.Add(time.Minute); return clock }

	emails := []string{"a@x.io", "b@x.io", "c@x.io", "a@x.io", "d@x.io", "e@x.io", "f@x.io", "B@X.io", "g@x.io"}
	for _, email := range emails {
		if err := reg.Upsert(Account{Email: email}); err != nil {
			t.Fatalf("upsert %s: %v", email, err)
		}
		list := persisted(t, store)
		if len(list) > MaxAccounts {
			t.Fatalf("persisted %d accounts, cap is %d", len(list), MaxAccounts)
		}
		if list[0].Email != normalizeEmail(email) {
			t.Fatalf("expected %s first, got %s", email, list[0].Email)
		}
		seen := map[string]bool{}
		for _, a := range list {
			if seen[a.Email] {
				t.Fatalf("duplicate email %s in %+v", a.Email, list)
			}
			seen[a.Email] = true
		}
	}

	got := reg.Accounts()
	want := []string{"g@x.io", "b@x.io", "f@x.io", "e@x.io", "d@x.io"}
	for i, email := range want {
		if got[i].Email != email {
			t.Fatalf("position %d: want %s, got %s", i, email, got[i].Email)
		}
		if got[i].Username == "" {
			t.Fatalf("expected username for %s", email)
		}
	}
}

func TestLoad_MigratesLegacyStore(t *testing.T) {
	store := clienttest.NewState(t)
	legacy := `[
		{"email":"Alice@Example.com","name":"Alice","lastUsed":1700000000000},
		{"email":"bob@example.com","lastUsed":1700000500000},
		{"id":"c-1","email":"carol@example.com","name":"Carol"}
	]`
	store.Set(localstate.KeySavedAccountsLegacy, legacy)

	reg := New(Options{Store: store})
	list := reg.Load()
	if len(list) != 3 {
		t.Fatalf("expected 3 migrated accounts, got %d", len(list))
	}
	for _, a := range list {
		if a.Username == "" {
			t.Fatalf("expected username for %s", a.Email)
		}
		if a.Credentials != nil || !a.Legacy || a.CanRestore() {
			t.Fatalf("migrated record must not carry credentials: %+v", a)
		}
	}
	if list[0].Email != "bob@example.com" || list[0].Username != "bob" {
		t.Fatalf("expected most recent first, got %+v", list[0])
	}
	if got := persisted(t, store); len(got) != 3 {
		t.Fatalf("expected migrated set written back, got %d", len(got))
	}
	if raw, ok, _ := store.Get(localstate.KeySavedAccountsLegacy); !ok || raw != legacy {
		t.Fatalf("legacy store must be preserved")
	}
}

func TestLoad_OverCapStoreKeepsMostRecent(t *testing.T) {
	store := clienttest.NewState(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	// Stored oldest first, with a stale copy of u6 ahead of its newest one.
	stored := []Account{{UserID: "stale", Email: "u6@x.io", DisplayName: "Old", LastUsedAt: base.Add(-time.Hour)}}
	for i := 0; i < 7; i++ {
		stored = append(stored, Account{
			UserID:     fmt.Sprintf("u%d", i),
			Email:      fmt.Sprintf("u%d@x.io", i),
			LastUsedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	data, err := json.Marshal(stored)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	store.Set(localstate.KeySavedAccounts, string(data))

	list := New(Options{Store: store}).Load()
	want := []string{"u6", "u5", "u4", "u3", "u2"}
	if len(list) != len(want) {
		t.Fatalf("expected %d accounts, got %+v", len(want), list)
	}
	for i, id := range want {
		if list[i].UserID != id {
			t.Fatalf("position %d: want %s, got %s", i, id, list[i].UserID)
		}
	}
}

func TestLoad_LegacyDuplicatesKeepNewest(t *testing.T) {
	store := clienttest.NewState(t)
	store.Set(localstate.KeySavedAccountsLegacy, `[
		{"email":"dana@example.com","name":"Old Dana","lastUsed":1700000000000},
		{"email":"Dana@example.com","name":"Dana","lastUsed":1700000900000}
	]`)

	list := New(Options{Store: store}).Load()
	if len(list) != 1 || list[0].DisplayName != "Dana" {
		t.Fatalf("expected the newest copy of dana, got %+v", list)
	}
}

func TestLoad_CorruptStoreFailsSoft(t *testing.T) {
	for _, key := range []string{localstate.KeySavedAccounts, localstate.KeySavedAccountsLegacy} {
		t.Run(key, func(t *testing.T) {
			store := clienttest.NewState(t)
			store.Set(key, `{"not":"a list"`)
			notices := &notice.Recorder{}
			reg := New(Options{Store: store, Sink: notices})
			if list := reg.Load(); len(list) != 0 {
				t.Fatalf("expected empty list, got %+v", list)
			}
			if !notices.Has(notice.StorageParseError) {
				t.Fatalf("expected storage parse notice, got %+v", notices.All())
			}
		})
	}
}

func TestAttach_RecordsSignIns(t *testing.T) {
	env := newRegistryEnv(t)
	user := env.srv.CreateUser(t, "alice@example.com", "secret123", "Alice")
	if _, err := env.auth.SignInWithPassword(context.Background(), "alice@example.com", "secret123"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	a, ok := env.reg.Find("alice@example.com")
	if !ok || a.UserID != user.ID || !a.CanRestore() || a.DisplayName != "Alice" {
		t.Fatalf("expected restorable record, got %+v", a)
	}
	if others := env.reg.Others(user.ID); len(others) != 0 {
		t.Fatalf("current identity must be excluded, got %+v", others)
	}
}

func signInBoth(t *testing.T, env *registryEnv) {
	t.Helper()
	env.srv.CreateUser(t, "alice@example.com", "secret123", "Alice")
	env.srv.CreateUser(t, "bob@example.com", "secret456", "Bob")
	ctx := context.Background()
	if _, err := env.reg.AddAccount(ctx, "bob@example.com", "secret456"); err != nil {
		t.Fatalf("add bob: %v", err)
	}
	if _, err := env.reg.AddAccount(ctx, "alice@example.com", "secret123"); err != nil {
		t.Fatalf("add alice: %v", err)
	}
}

func TestSwitchTo_FastPath(t *testing.T) {
	env := newRegistryEnv(t)
	signInBoth(t, env)
	reloads := env.reloader.count()

	bob, _ := env.reg.Find("bob@example.com")
	outcome, err := env.reg.SwitchTo(context.Background(), bob)
	if err != nil || outcome != SwitchActive {
		t.Fatalf("expected active switch, got %v %v", outcome, err)
	}
	if s := env.auth.GetSession(); s == nil || s.User.Email != "bob@example.com" {
		t.Fatalf("expected bob active, got %+v", s)
	}
	if len(env.prompter.calls()) != 0 {
		t.Fatalf("fast path must not prompt for a password")
	}
	if env.reloader.count() != reloads+1 {
		t.Fatalf("expected one reload")
	}
	if others := env.reg.Others(bob.UserID); len(others) != 1 || others[0].Email != "alice@example.com" {
		t.Fatalf("unexpected others %+v", others)
	}
}

func TestSwitchTo_FallsBackToRefresh(t *testing.T) {
	env := newRegistryEnv(t)
	signInBoth(t, env)
	bob, _ := env.reg.Find("bob@example.com")
	oldRefresh := bob.Credentials.RefreshToken
	bob.Credentials = &Credentials{AccessToken: "stale", RefreshToken: oldRefresh}
	env.reg.Upsert(bob)

	outcome, err := env.reg.SwitchTo(context.Background(), bob)
	if err != nil || outcome != SwitchActive {
		t.Fatalf("expected active switch, got %v %v", outcome, err)
	}
	updated, _ := env.reg.Find("bob@example.com")
	if updated.Credentials == nil || updated.Credentials.RefreshToken == oldRefresh {
		t.Fatalf("expected rotated credentials stored, got %+v", updated.Credentials)
	}
}

func TestSwitchTo_WithoutCredentialsPromptsForPassword(t *testing.T) {
	env := newRegistryEnv(t)
	env.reg.Upsert(Account{UserID: "u-9", Email: "zed@example.com"})

	target, _ := env.reg.Find("zed@example.com")
	outcome, err := env.reg.SwitchTo(context.Background(), target)
	if err != nil || outcome != SwitchAwaitingPassword {
		t.Fatalf("expected awaiting password, got %v %v", outcome, err)
	}
	if calls := env.prompter.calls(); len(calls) != 1 || calls[0] != "zed@example.com" {
		t.Fatalf("expected prompt for zed, got %v", calls)
	}
	if email, ok := env.reg.ConsumePendingSwitch(); !ok || email != "zed@example.com" {
		t.Fatalf("expected pending hint, got %q %v", email, ok)
	}
	if _, ok := env.reg.ConsumePendingSwitch(); ok {
		t.Fatalf("pending hint must be consumed once")
	}
}

func TestSwitchTo_LegacyRecordNeverTakesFastPath(t *testing.T) {
	env := newRegistryEnv(t)
	env.reg.Upsert(Account{
		Email:       "old@example.com",
		Legacy:      true,
		Credentials: &Credentials{AccessToken: "a", RefreshToken: "r"},
	})
	target, _ := env.reg.Find("old@example.com")
	outcome, _ := env.reg.SwitchTo(context.Background(), target)
	if outcome != SwitchAwaitingPassword {
		t.Fatalf("expected awaiting password, got %v", outcome)
	}
}

func TestSwitchTo_RevokedCredentialsAreCleared(t *testing.T) {
	env := newRegistryEnv(t)
	signInBoth(t, env)
	bob, _ := env.reg.Find("bob@example.com")
	if err := env.srv.Tokens.RevokeUser(bob.UserID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	bob.Credentials.AccessToken = "stale"
	env.reg.Upsert(bob)

	outcome, err := env.reg.SwitchTo(context.Background(), bob)
	if err != nil || outcome != SwitchAwaitingPassword {
		t.Fatalf("expected awaiting password, got %v %v", outcome, err)
	}
	if !env.notices.Has(notice.CredentialExchangeFailed) {
		t.Fatalf("expected credential exchange notice, got %+v", env.notices.All())
	}
	after, _ := env.reg.Find("bob@example.com")
	if after.Credentials != nil {
		t.Fatalf("expected credentials cleared, got %+v", after.Credentials)
	}
	if s := env.auth.GetSession(); s == nil || s.User.Email != "alice@example.com" {
		t.Fatalf("failed switch must keep alice active, got %+v", s)
	}
}

func TestSwitchTo_CurrentIsNoop(t *testing.T) {
	env := newRegistryEnv(t)
	signInBoth(t, env)
	alice, _ := env.reg.Find("alice@example.com")
	reloads := env.reloader.count()
	outcome, err := env.reg.SwitchTo(context.Background(), alice)
	if err != nil || outcome != SwitchNoop {
		t.Fatalf("expected noop, got %v %v", outcome, err)
	}
	if env.reloader.count() != reloads {
		t.Fatalf("noop must not reload")
	}
}

func TestSignOutCurrent_KeepsRecordDropsCredentials(t *testing.T) {
	env := newRegistryEnv(t)
	signInBoth(t, env)
	if err := env.reg.SignOutCurrent(context.Background()); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	alice, ok := env.reg.Find("alice@example.com")
	if !ok {
		t.Fatalf("record must survive sign-out")
	}
	if alice.Credentials != nil {
		t.Fatalf("expected credentials cleared, got %+v", alice.Credentials)
	}
	if bob, _ := env.reg.Find("bob@example.com"); !bob.CanRestore() {
		t.Fatalf("other identities keep their credentials")
	}
	if env.auth.GetSession() != nil {
		t.Fatalf("expected no live session")
	}
}

func TestForgetAndClear(t *testing.T) {
	store := clienttest.NewState(t)
	reg := New(Options{Store: store})
	for i := 0; i < 3; i++ {
		reg.Upsert(Account{Email: fmt.Sprintf("u%d@example.com", i)})
	}
	if err := reg.Forget("U1@example.com"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if _, ok := reg.Find("u1@example.com"); ok {
		t.Fatalf("expected u1 forgotten")
	}
	if got := persisted(t, store); len(got) != 2 {
		t.Fatalf("expected 2 persisted, got %d", len(got))
	}

	store.Set(localstate.KeyPendingSwitchEmail, "u0@example.com")
	if err := reg.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if len(reg.Accounts()) != 0 {
		t.Fatalf("expected empty registry")
	}
	for _, key := range []string{localstate.KeySavedAccounts, localstate.KeySavedAccountsLegacy, localstate.KeyPendingSwitchEmail} {
		if _, ok, _ := store.Get(key); ok {
			t.Fatalf("expected %s removed", key)
		}
	}
}
