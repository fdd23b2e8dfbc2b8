package authclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pysugar/assistant/internal/client/clienttest"
	"github.com/pysugar/assistant/internal/client/localstate"
	"github.com/pysugar/assistant/internal/client/notice"
	"golang.org/x/oauth2"
)

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(e Event, _ *Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) all() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func newTestClient(t *testing.T, opts clienttest.Options) (*Client, *clienttest.Server, *localstate.Store) {
	t.Helper()
	srv := clienttest.NewServer(t, opts)
	store := clienttest.NewState(t)
	return New(srv.Requester(), "assistant-cli", store), srv, store
}

func TestSignInWithPassword_PersistsAndEmits(t *testing.T) {
	c, srv, store := newTestClient(t, clienttest.Options{})
	user := srv.CreateUser(t, "alice@example.com", "secret123", "Alice")
	events := &eventLog{}
	sub := c.Subscribe(events.record)
	defer sub.Unsubscribe()

	s, err := c.SignInWithPassword(context.Background(), " Alice@Example.com ", "secret123")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if s.User.ID != user.ID || s.User.Email != "alice@example.com" || s.User.DisplayName != "Alice" {
		t.Fatalf("unexpected user %+v", s.User)
	}
	if s.RefreshToken == "" || s.ExpiresAt.IsZero() {
		t.Fatalf("expected full credential pair, got %+v", s)
	}
	if got := events.all(); len(got) != 1 || got[0] != SignedIn {
		t.Fatalf("expected one SignedIn event, got %v", got)
	}

	restored := New(srv.Requester(), "assistant-cli", store)
	if got := restored.GetSession(); got == nil || got.AccessToken != s.AccessToken {
		t.Fatalf("expected session restored from storage, got %+v", got)
	}
}

func TestSignInWithPassword_WrongPassword(t *testing.T) {
	c, srv, _ := newTestClient(t, clienttest.Options{})
	srv.CreateUser(t, "alice@example.com", "secret123", "Alice")

	_, err := c.SignInWithPassword(context.Background(), "alice@example.com", "nope-nope")
	if notice.KindOf(err) != notice.AuthenticationRequired {
		t.Fatalf("expected authentication required, got %v", err)
	}
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) || retrieveErr.ErrorCode != "invalid_grant" {
		t.Fatalf("expected invalid_grant retrieve error, got %v", err)
	}
	if c.GetSession() != nil {
		t.Fatalf("failed sign-in must not create a session")
	}
}

func TestSignUp(t *testing.T) {
	c, _, _ := newTestClient(t, clienttest.Options{})
	s, err := c.SignUp(context.Background(), "bob@example.com", "hunter22", "")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if s.User.Email != "bob@example.com" || s.User.DisplayName != "bob" {
		t.Fatalf("unexpected user %+v", s.User)
	}
	_, err = c.SignUp(context.Background(), "bob@example.com", "hunter22", "")
	if err == nil {
		t.Fatalf("expected conflict on duplicate sign-up")
	}
}

func TestSetSession_ValidatesAgainstServer(t *testing.T) {
	c, srv, _ := newTestClient(t, clienttest.Options{})
	user := srv.CreateUser(t, "alice@example.com", "secret123", "Alice")
	issued, err := srv.Tokens.IssueSession(user.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	s, err := c.SetSession(context.Background(), issued.AccessToken, issued.RefreshToken)
	if err != nil {
		t.Fatalf("set session: %v", err)
	}
	if s.User.Email != "alice@example.com" {
		t.Fatalf("unexpected user %+v", s.User)
	}
	if s.ExpiresAt.Unix() != issued.ExpiresAt.Unix() {
		t.Fatalf("expected expiry from token claims, got %v want %v", s.ExpiresAt, issued.ExpiresAt)
	}

	if _, err := c.SetSession(context.Background(), "garbage", issued.RefreshToken); notice.KindOf(err) != notice.AuthenticationRequired {
		t.Fatalf("expected rejected token, got %v", err)
	}
}

func TestSetSession_ExpiredTokenFailsLocally(t *testing.T) {
	c, srv, _ := newTestClient(t, clienttest.Options{})
	user := srv.CreateUser(t, "alice@example.com", "secret123", "Alice")
	issued, _ := srv.Tokens.IssueSession(user.ID)
	c.now = func() time.Time { return issued.ExpiresAt.Add(time.Second) }

	_, err := c.SetSession(context.Background(), issued.AccessToken, issued.RefreshToken)
	if notice.KindOf(err) != notice.CredentialExchangeFailed {
		t.Fatalf("expected credential exchange failure, got %v", err)
	}
}

func TestRefreshSession_RotatesAndRejectsReplay(t *testing.T) {
	c, srv, _ := newTestClient(t, clienttest.Options{})
	user := srv.CreateUser(t, "alice@example.com", "secret123", "Alice")
	issued, _ := srv.Tokens.IssueSession(user.ID)
	events := &eventLog{}
	c.Subscribe(events.record)

	s, err := c.RefreshSession(context.Background(), issued.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if s.RefreshToken == issued.RefreshToken || s.User.ID != user.ID || s.User.Email != "alice@example.com" {
		t.Fatalf("unexpected refreshed session %+v", s)
	}
	if got := events.all(); len(got) != 1 || got[0] != TokenRefreshed {
		t.Fatalf("expected TokenRefreshed, got %v", got)
	}

	_, err = c.RefreshSession(context.Background(), issued.RefreshToken)
	if err == nil || !IsPermanentRefreshError(err) {
		t.Fatalf("expected permanent error on replay, got %v", err)
	}
	if notice.KindOf(err) != notice.CredentialExchangeFailed {
		t.Fatalf("expected credential exchange failure, got %v", notice.KindOf(err))
	}
}

func TestAccessToken_RefreshesNearExpiry(t *testing.T) {
	c, srv, _ := newTestClient(t, clienttest.Options{AccessTTL: 30 * time.Second})
	srv.CreateUser(t, "alice@example.com", "secret123", "Alice")
	first, err := c.SignInWithPassword(context.Background(), "alice@example.com", "secret123")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	events := &eventLog{}
	c.Subscribe(events.record)

	tok, err := c.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("access token: %v", err)
	}
	if got := c.GetSession(); got.RefreshToken == first.RefreshToken || got.AccessToken != tok {
		t.Fatalf("expected rotated session, got %+v", got)
	}
	if got := events.all(); len(got) != 1 || got[0] != TokenRefreshed {
		t.Fatalf("expected TokenRefreshed, got %v", got)
	}
}

func TestAccessToken_RevokedRefreshSignsOut(t *testing.T) {
	c, srv, store := newTestClient(t, clienttest.Options{AccessTTL: 30 * time.Second})
	user := srv.CreateUser(t, "alice@example.com", "secret123", "Alice")
	if _, err := c.SignInWithPassword(context.Background(), "alice@example.com", "secret123"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if err := srv.Tokens.RevokeUser(user.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	events := &eventLog{}
	c.Subscribe(events.record)

	_, err := c.AccessToken(context.Background())
	if notice.KindOf(err) != notice.AuthenticationRequired {
		t.Fatalf("expected authentication required, got %v", err)
	}
	if c.GetSession() != nil {
		t.Fatalf("expected session cleared")
	}
	if _, ok, _ := store.Get(localstate.KeyAuthSession); ok {
		t.Fatalf("expected stored session removed")
	}
	if got := events.all(); len(got) != 1 || got[0] != SignedOut {
		t.Fatalf("expected SignedOut, got %v", got)
	}
}

func TestAccessToken_NoSession(t *testing.T) {
	c, _, _ := newTestClient(t, clienttest.Options{})
	if _, err := c.AccessToken(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestSignOut_RevokesRefreshToken(t *testing.T) {
	c, srv, _ := newTestClient(t, clienttest.Options{})
	srv.CreateUser(t, "alice@example.com", "secret123", "Alice")
	s, _ := c.SignInWithPassword(context.Background(), "alice@example.com", "secret123")
	events := &eventLog{}
	c.Subscribe(events.record)

	if err := c.SignOut(context.Background()); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if c.GetSession() != nil {
		t.Fatalf("expected no session after sign out")
	}
	if got := events.all(); len(got) != 1 || got[0] != SignedOut {
		t.Fatalf("expected SignedOut, got %v", got)
	}
	if _, err := srv.Tokens.RefreshGrant(s.RefreshToken); err == nil {
		t.Fatalf("expected refresh token revoked on the server")
	}
}

func TestUpdateUser(t *testing.T) {
	c, srv, _ := newTestClient(t, clienttest.Options{})
	srv.CreateUser(t, "alice@example.com", "secret123", "Alice")
	c.SignInWithPassword(context.Background(), "alice@example.com", "secret123")
	events := &eventLog{}
	c.Subscribe(events.record)

	s, err := c.UpdateUser(context.Background(), "Alice Liddell")
	if err != nil {
		t.Fatalf("update user: %v", err)
	}
	if s.User.DisplayName != "Alice Liddell" || c.GetSession().User.DisplayName != "Alice Liddell" {
		t.Fatalf("unexpected user %+v", s.User)
	}
	if got := events.all(); len(got) != 1 || got[0] != UserUpdated {
		t.Fatalf("expected UserUpdated, got %v", got)
	}
}

func TestSubscription_UnsubscribeIsIdempotent(t *testing.T) {
	c, _, _ := newTestClient(t, clienttest.Options{})
	events := &eventLog{}
	sub := c.Subscribe(events.record)
	sub.Unsubscribe()
	sub.Unsubscribe()

	c.setSession(SignedIn, &Session{AccessToken: "a", User: User{ID: "u", Email: "u@example.com"}})
	if got := events.all(); len(got) != 0 {
		t.Fatalf("expected no events after unsubscribe, got %v", got)
	}
}

func TestListenerMayCallBackIntoClient(t *testing.T) {
	c, _, _ := newTestClient(t, clienttest.Options{})
	var seen *Session
	c.Subscribe(func(e Event, s *Session) {
		seen = c.GetSession()
	})
	c.setSession(SignedIn, &Session{AccessToken: "a", User: User{ID: "u", Email: "u@example.com"}})
	if seen == nil || seen.AccessToken != "a" {
		t.Fatalf("listener should observe updated state, got %+v", seen)
	}
}

func TestCorruptStoredSessionIsDiscarded(t *testing.T) {
	srv := clienttest.NewServer(t, clienttest.Options{})
	store := clienttest.NewState(t)
	store.Set(localstate.KeyAuthSession, "{broken")

	c := New(srv.Requester(), "assistant-cli", store)
	if c.GetSession() != nil {
		t.Fatalf("expected no session")
	}
	if _, ok, _ := store.Get(localstate.KeyAuthSession); ok {
		t.Fatalf("expected corrupt session removed")
	}
}

func TestIsPermanentRefreshError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		permanent bool
	}{
		{name: "nil", err: nil, permanent: false},
		{name: "retrieve invalid_grant", err: &oauth2.RetrieveError{ErrorCode: "invalid_grant"}, permanent: true},
		{name: "wrapped text", err: fmt.Errorf("refresh: %w", errors.New(`oauth2: "invalid_client"`)), permanent: true},
		{name: "revoked", err: errors.New("Token has been expired or revoked."), permanent: true},
		{name: "server error", err: &oauth2.RetrieveError{ErrorCode: "server_error"}, permanent: false},
		{name: "network", err: errors.New("dial tcp: connection refused"), permanent: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPermanentRefreshError(tt.err); got != tt.permanent {
				t.Fatalf("IsPermanentRefreshError(%v) = %v, want %v", tt.err, got, tt.permanent)
			}
		})
	}
}
