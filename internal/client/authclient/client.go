package authclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pysugar/assistant/internal/client/backend"
	"github.com/pysugar/assistant/internal/client/localstate"
	"github.com/pysugar/assistant/internal/client/notice"
	"github.com/pysugar/assistant/internal/logging"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// ErrNotAuthenticated is returned when no session is available.
var ErrNotAuthenticated = errors.New("not authenticated")

// refreshSkew is how close to expiry AccessToken starts refreshing.
const refreshSkew = time.Minute

const grantTimeout = 30 * time.Second

// Storage persists the session between runs. *localstate.Store satisfies it.
type Storage interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
}

// Client is the auth/session collaborator.
type Client struct {
	req   *backend.Requester
	oauth *oauth2.Config
	store Storage
	now   func() time.Time

	mu        sync.Mutex
	session   *Session
	listeners map[uint64]Listener
	nextID    uint64

	// refreshMu serializes refresh grants so a rotated refresh token is
	// never presented twice.
	refreshMu sync.Mutex
}

// New creates a client for the server at req.BaseURL() and restores any
// persisted session. A corrupt stored session is dropped.
func New(req *backend.Requester, clientID string, store Storage) *Client {
	c := &Client{
		req: req,
		oauth: &oauth2.Config{
			ClientID: clientID,
			Endpoint: oauth2.Endpoint{
				TokenURL:  req.BaseURL() + "/auth/v1/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		store:     store,
		now:       time.Now,
		listeners: make(map[uint64]Listener),
	}
	c.session = c.loadSession()
	return c
}

func (c *Client) loadSession() *Session {
	if c.store == nil {
		return nil
	}
	raw, ok, err := c.store.Get(localstate.KeyAuthSession)
	if err != nil || !ok {
		if err != nil {
			logging.L().Warn("⚠️ Failed to read stored session", zap.Error(err))
		}
		return nil
	}
	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil || s.AccessToken == "" {
		logging.L().Warn("⚠️ Stored session is unreadable, discarding", zap.Error(err))
		c.store.Delete(localstate.KeyAuthSession)
		return nil
	}
	return &s
}

func (c *Client) persist(s *Session) {
	if c.store == nil {
		return
	}
	var err error
	if s == nil {
		err = c.store.Delete(localstate.KeyAuthSession)
	} else {
		data, _ := json.Marshal(s)
		err = c.store.Set(localstate.KeyAuthSession, string(data))
	}
	if err != nil {
		logging.L().Warn("⚠️ Failed to persist session", zap.Error(err))
	}
}

// GetSession returns a copy of the current session, or nil.
func (c *Client) GetSession() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.clone()
}

// Subscribe registers fn for auth-state events.
func (c *Client) Subscribe(fn Listener) *Subscription {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = fn
	c.mu.Unlock()
	return &Subscription{cancel: func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}}
}

// setSession stores s and notifies listeners after the lock is released.
func (c *Client) setSession(event Event, s *Session) {
	c.mu.Lock()
	c.session = s.clone()
	listeners := make([]Listener, 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	c.persist(s)
	for _, fn := range listeners {
		fn(event, s.clone())
	}
}

// oauthContext routes token grants through the requester's HTTP client.
func (c *Client) oauthContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, grantTimeout)
	return context.WithValue(ctx, oauth2.HTTPClient, c.req.HTTPClient()), cancel
}

// SignInWithPassword runs the password grant.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	octx, cancel := c.oauthContext(ctx)
	defer cancel()
	tok, err := c.oauth.PasswordCredentialsToken(octx, email, password)
	if err != nil {
		return nil, classifyGrantError("sign in", notice.AuthenticationRequired, err)
	}
	s, err := sessionFromToken(tok)
	if err != nil {
		return nil, notice.Wrap(notice.DecodeError, "sign in", err)
	}
	if s.User.Email == "" {
		s.User.Email = email
	}
	logging.L().Info("🔑 Signed in", zap.String("email", s.User.Email))
	c.setSession(SignedIn, s)
	return s.clone(), nil
}

// SignUp registers an account; the server signs it in immediately.
func (c *Client) SignUp(ctx context.Context, email, password, displayName string) (*Session, error) {
	var resp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresAt    int64  `json:"expires_at"`
		User         User   `json:"user"`
	}
	body := map[string]string{"email": email, "password": password, "display_name": displayName}
	if err := c.req.DoJSON(ctx, http.MethodPost, "/auth/v1/signup", "", body, &resp); err != nil {
		return nil, err
	}
	s := &Session{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    time.Unix(resp.ExpiresAt, 0),
		User:         resp.User,
	}
	logging.L().Info("👤 Signed up", zap.String("email", s.User.Email))
	c.setSession(SignedIn, s)
	return s.clone(), nil
}

// SetSession adopts an existing credential pair after checking the access
// token against the server.
func (c *Client) SetSession(ctx context.Context, accessToken, refreshToken string) (*Session, error) {
	if accessToken == "" {
		return nil, notice.Wrap(notice.CredentialExchangeFailed, "set session", errors.New("access token is empty"))
	}
	expiry := tokenExpiry(accessToken)
	if !expiry.IsZero() && !c.now().Before(expiry) {
		return nil, notice.Wrap(notice.CredentialExchangeFailed, "set session", errors.New("access token has expired"))
	}
	var user User
	if err := c.req.DoJSON(ctx, http.MethodGet, "/auth/v1/user", accessToken, nil, &user); err != nil {
		return nil, err
	}
	if user.ID == "" || user.Email == "" {
		return nil, notice.Wrap(notice.CredentialExchangeFailed, "set session", errors.New("server did not resolve an identity"))
	}
	s := &Session{AccessToken: accessToken, RefreshToken: refreshToken, ExpiresAt: expiry, User: user}
	c.setSession(SignedIn, s)
	return s.clone(), nil
}

// RefreshSession exchanges refreshToken for a new credential pair.
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	return c.refreshLocked(ctx, refreshToken)
}

func (c *Client) refreshLocked(ctx context.Context, refreshToken string) (*Session, error) {
	if refreshToken == "" {
		return nil, notice.Wrap(notice.CredentialExchangeFailed, "refresh session", errors.New("refresh token is empty"))
	}
	// An empty access token forces the token source to run the refresh grant.
	octx, cancel := c.oauthContext(ctx)
	defer cancel()
	tok, err := c.oauth.TokenSource(octx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, classifyGrantError("refresh session", notice.CredentialExchangeFailed, err)
	}
	s, err := sessionFromToken(tok)
	if err != nil {
		return nil, notice.Wrap(notice.DecodeError, "refresh session", err)
	}
	if s.User.Email == "" {
		if cur := c.GetSession(); cur != nil && cur.User.ID == s.User.ID {
			s.User = cur.User
		}
	}
	logging.L().Debug("🔄 Session refreshed", zap.String("user_id", s.User.ID), zap.Time("expires_at", s.ExpiresAt))
	c.setSession(TokenRefreshed, s)
	return s.clone(), nil
}

// AccessToken returns a live access token, refreshing it when it expires
// within a minute. A permanently rejected refresh ends the session.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	s := c.GetSession()
	if s == nil {
		return "", ErrNotAuthenticated
	}
	if !s.ExpiresWithin(c.now(), refreshSkew) {
		return s.AccessToken, nil
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	// Another caller may have refreshed while we waited.
	s = c.GetSession()
	if s == nil {
		return "", ErrNotAuthenticated
	}
	if !s.ExpiresWithin(c.now(), refreshSkew) {
		return s.AccessToken, nil
	}
	refreshed, err := c.refreshLocked(ctx, s.RefreshToken)
	if err != nil {
		if IsPermanentRefreshError(err) {
			logging.L().Warn("🔒 Refresh token rejected, signing out", zap.String("email", s.User.Email))
			c.setSession(SignedOut, nil)
			return "", notice.Wrap(notice.AuthenticationRequired, "access token", err)
		}
		return "", err
	}
	return refreshed.AccessToken, nil
}

// SignOut revokes the refresh token on the server and forgets the session
// locally. The local session is cleared even when the server call fails.
func (c *Client) SignOut(ctx context.Context) error {
	s := c.GetSession()
	if s == nil {
		return nil
	}
	body := map[string]string{"refresh_token": s.RefreshToken}
	err := c.req.DoJSON(ctx, http.MethodPost, "/auth/v1/logout", s.AccessToken, body, nil)
	if err != nil {
		if apiErr, ok := backend.AsAPIError(err); ok && apiErr.Status == http.StatusUnauthorized {
			err = nil
		} else {
			logging.L().Warn("⚠️ Server sign-out failed", zap.Error(err))
		}
	}
	logging.L().Info("👋 Signed out", zap.String("email", s.User.Email))
	c.setSession(SignedOut, nil)
	return err
}

// UpdateUser changes the display name of the signed-in user.
func (c *Client) UpdateUser(ctx context.Context, displayName string) (*Session, error) {
	tok, err := c.AccessToken(ctx)
	if err != nil {
		return nil, requireAuth("update user", err)
	}
	var user User
	body := map[string]string{"display_name": displayName}
	if err := c.req.DoJSON(ctx, http.MethodPut, "/auth/v1/user", tok, body, &user); err != nil {
		return nil, err
	}
	s := c.GetSession()
	if s == nil {
		return nil, ErrNotAuthenticated
	}
	s.User = user
	c.setSession(UserUpdated, s)
	return s.clone(), nil
}

// Forget drops the local session without contacting the server. Used after
// the account itself has been deleted.
func (c *Client) Forget() {
	if c.GetSession() == nil {
		return
	}
	c.setSession(SignedOut, nil)
}

func classifyGrantError(op string, rejected notice.Kind, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		switch status := retrieveErr.Response.StatusCode; {
		case status == http.StatusTooManyRequests:
			return notice.Wrap(notice.RateLimited, op, err)
		case status >= 400 && status < 500:
			return notice.Wrap(rejected, op, err)
		}
	}
	return notice.Wrap(notice.NetworkOrServerError, op, err)
}

// requireAuth tags untagged token failures as AuthenticationRequired.
func requireAuth(op string, err error) error {
	var tagged *notice.Error
	if errors.As(err, &tagged) {
		return err
	}
	return notice.Wrap(notice.AuthenticationRequired, op, err)
}
