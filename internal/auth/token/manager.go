// Package token issues and verifies user sessions: short-lived JWT access tokens
// paired with rotating opaque refresh tokens.
package token

import (
	"errors"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/pysugar/assistant/internal/auth/password"
	"github.com/pysugar/assistant/internal/db"
	"github.com/pysugar/assistant/internal/logging"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultAccessTTL  = time.Hour
	defaultRefreshTTL = 30 * 24 * time.Hour
	defaultLeeway     = 30 * time.Second
)

var (
	// ErrInvalidCredentials is returned for an unknown email or wrong password.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrInvalidAccessToken is returned when an access token fails verification.
	ErrInvalidAccessToken = errors.New("invalid access token")
)

// Claims are the access-token claims.
type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// UserInfo is the public identity attached to a session.
type UserInfo struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

// Session is the result of a successful grant.
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	User         UserInfo
}

// Options configures a Manager.
type Options struct {
	Secret     string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Store      RefreshStore
}

// Manager handles the session lifecycle.
type Manager struct {
	db         *gorm.DB
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	store      RefreshStore
	now        func() time.Time
}

// NewManager creates a session manager. A nil Store defaults to the gorm store.
func NewManager(database *gorm.DB, opts Options) *Manager {
	m := &Manager{
		db:         database,
		secret:     []byte(opts.Secret),
		issuer:     opts.Issuer,
		accessTTL:  opts.AccessTTL,
		refreshTTL: opts.RefreshTTL,
		store:      opts.Store,
		now:        time.Now,
	}
	if m.issuer == "" {
		m.issuer = "assistant"
	}
	if m.accessTTL <= 0 {
		m.accessTTL = defaultAccessTTL
	}
	if m.refreshTTL <= 0 {
		m.refreshTTL = defaultRefreshTTL
	}
	if m.store == nil {
		m.store = NewGormRefreshStore(database)
	}
	return m
}

// AccessTTL is the lifetime of issued access tokens.
func (m *Manager) AccessTTL() time.Duration {
	return m.accessTTL
}

// IssueSession creates a new session for an existing user.
func (m *Manager) IssueSession(userID string) (*Session, error) {
	info, err := m.userInfo(userID)
	if err != nil {
		return nil, err
	}
	refresh, err := m.store.NewToken(userID, m.refreshTTL)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}
	return m.sign(info, refresh)
}

// PasswordGrant authenticates email/password and issues a session.
func (m *Manager) PasswordGrant(email, pw string) (*Session, error) {
	user, err := db.FindUserByEmail(m.db, email)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !password.Check(pw, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	logging.L().Info("🔓 Password sign-in", zap.String("email", user.Email))
	return m.IssueSession(user.ID)
}

// RefreshGrant rotates a refresh token and issues a fresh session.
func (m *Manager) RefreshGrant(refreshToken string) (*Session, error) {
	userID, next, err := m.store.RotateToken(refreshToken, m.refreshTTL)
	if err != nil {
		return nil, err
	}
	info, err := m.userInfo(userID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			_ = m.store.DeleteUser(userID)
			return nil, ErrInvalidRefreshToken
		}
		return nil, err
	}
	session, err := m.sign(info, next)
	if err != nil {
		return nil, err
	}
	logging.L().Info("🔄 Refreshed session", zap.String("email", info.Email),
		zap.Time("expires", session.ExpiresAt))
	return session, nil
}

// Verify validates an access token and returns its claims.
func (m *Manager) Verify(accessToken string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(accessToken, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithLeeway(defaultLeeway),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAccessToken, err)
	}
	if claims.Subject == "" {
		return nil, ErrInvalidAccessToken
	}
	return claims, nil
}

// Revoke invalidates a single refresh token.
func (m *Manager) Revoke(refreshToken string) error {
	return m.store.DeleteToken(refreshToken)
}

// RevokeUser invalidates every refresh token of userID.
func (m *Manager) RevokeUser(userID string) error {
	return m.store.DeleteUser(userID)
}

// UserInfo returns the public identity of userID.
func (m *Manager) UserInfo(userID string) (UserInfo, error) {
	return m.userInfo(userID)
}

func (m *Manager) userInfo(userID string) (UserInfo, error) {
	user, err := db.FindUserByID(m.db, userID)
	if err != nil {
		return UserInfo{}, err
	}
	info := UserInfo{ID: user.ID, Email: user.Email, DisplayName: db.LocalPart(user.Email)}
	if profile, err := db.GetProfile(m.db, userID); err == nil && profile.DisplayName != "" {
		info.DisplayName = profile.DisplayName
	}
	return info, nil
}

func (m *Manager) sign(info UserInfo, refresh string) (*Session, error) {
	now := m.now()
	expires := now.Add(m.accessTTL)
	claims := Claims{
		Email: info.Email,
		Name:  info.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   info.ID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	return &Session{
		AccessToken:  signed,
		RefreshToken: refresh,
		ExpiresAt:    expires,
		User:         info,
	}, nil
}
