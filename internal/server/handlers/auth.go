package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pysugar/assistant/internal/auth/password"
	"github.com/pysugar/assistant/internal/auth/token"
	"github.com/pysugar/assistant/internal/db"
	"github.com/pysugar/assistant/internal/logging"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TokenResponse is the RFC 6749 token response with the signed-in user attached.
type TokenResponse struct {
	AccessToken  string         `json:"access_token"`
	TokenType    string         `json:"token_type"`
	ExpiresIn    int64          `json:"expires_in"`
	ExpiresAt    int64          `json:"expires_at"`
	RefreshToken string         `json:"refresh_token"`
	User         token.UserInfo `json:"user"`
}

func newTokenResponse(s *token.Session) TokenResponse {
	return TokenResponse{
		AccessToken:  s.AccessToken,
		TokenType:    "bearer",
		ExpiresIn:    int64(time.Until(s.ExpiresAt).Seconds()),
		ExpiresAt:    s.ExpiresAt.Unix(),
		RefreshToken: s.RefreshToken,
		User:         s.User,
	}
}

// SignupHandler registers a user and signs them in.
// POST /auth/v1/signup
func SignupHandler(database *gorm.DB, tokens *token.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email       string `json:"email"`
			Password    string `json:"password"`
			DisplayName string `json:"display_name"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		email := db.NormalizeEmail(req.Email)
		if !strings.Contains(email, "@") {
			writeError(w, "A valid email is required", http.StatusBadRequest)
			return
		}
		hash, err := password.Hash(req.Password)
		if err != nil {
			if errors.Is(err, password.ErrTooShort) {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			writeError(w, "Failed to hash password", http.StatusInternalServerError)
			return
		}
		user, err := db.CreateUser(database, email, hash, strings.TrimSpace(req.DisplayName))
		if err != nil {
			if errors.Is(err, db.ErrEmailTaken) {
				writeError(w, "User already registered", http.StatusConflict)
				return
			}
			writeStoreError(w, r, err)
			return
		}
		session, err := tokens.IssueSession(user.ID)
		if err != nil {
			writeStoreError(w, r, err)
			return
		}
		logging.FromContext(r.Context()).Info("👤 New user signed up", zap.String("email", user.Email))
		writeJSON(w, http.StatusOK, newTokenResponse(session))
	}
}

// TokenHandler serves the password and refresh_token grants.
// POST /auth/v1/token (application/x-www-form-urlencoded)
func TokenHandler(tokens *token.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeOAuthError(w, "invalid_request", "malformed form body", http.StatusBadRequest)
			return
		}
		var (
			session *token.Session
			err     error
		)
		switch grant := r.PostForm.Get("grant_type"); grant {
		case "password":
			session, err = tokens.PasswordGrant(r.PostForm.Get("username"), r.PostForm.Get("password"))
		case "refresh_token":
			refresh := strings.TrimSpace(r.PostForm.Get("refresh_token"))
			if refresh == "" {
				writeOAuthError(w, "invalid_request", "refresh_token is required", http.StatusBadRequest)
				return
			}
			session, err = tokens.RefreshGrant(refresh)
		default:
			writeOAuthError(w, "unsupported_grant_type", "unsupported grant_type "+grant, http.StatusBadRequest)
			return
		}
		switch {
		case err == nil:
		case errors.Is(err, token.ErrInvalidCredentials):
			writeOAuthError(w, "invalid_grant", "Invalid login credentials", http.StatusBadRequest)
			return
		case errors.Is(err, token.ErrRefreshTokenReplay):
			writeOAuthError(w, "invalid_grant", "Refresh token already used; all sessions revoked", http.StatusBadRequest)
			return
		case errors.Is(err, token.ErrInvalidRefreshToken):
			writeOAuthError(w, "invalid_grant", "Invalid or expired refresh token", http.StatusBadRequest)
			return
		default:
			logging.FromContext(r.Context()).Error("❌ Token grant failed", zap.Error(err))
			writeOAuthError(w, "server_error", "token grant failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, http.StatusOK, newTokenResponse(session))
	}
}

func writeOAuthError(w http.ResponseWriter, code, description string, status int) {
	writeJSON(w, status, map[string]string{
		"error":             code,
		"error_description": description,
	})
}

// GetUserHandler returns the authenticated user.
// GET /auth/v1/user
func GetUserHandler(tokens *token.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info, err := tokens.UserInfo(currentUser(r))
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				writeError(w, "User no longer exists", http.StatusUnauthorized)
				return
			}
			writeStoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, info)
	}
}

// UpdateUserHandler changes the authenticated user's display name.
// PUT /auth/v1/user
func UpdateUserHandler(database *gorm.DB, tokens *token.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var patch db.ProfilePatch
		if !decodeJSON(w, r, &patch) {
			return
		}
		userID := currentUser(r)
		if _, err := db.UpdateProfile(database, userID, patch); err != nil {
			writeStoreError(w, r, err)
			return
		}
		info, err := tokens.UserInfo(userID)
		if err != nil {
			writeStoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, info)
	}
}

// LogoutHandler revokes one refresh token, or every token with scope=global.
// POST /auth/v1/logout
func LogoutHandler(tokens *token.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RefreshToken string `json:"refresh_token"`
			Scope        string `json:"scope"`
		}
		body, _ := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if len(body) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				writeError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
				return
			}
		}
		if scope := r.URL.Query().Get("scope"); scope != "" {
			req.Scope = scope
		}

		userID := currentUser(r)
		var err error
		switch {
		case req.Scope == "global":
			err = tokens.RevokeUser(userID)
		case req.RefreshToken != "":
			err = tokens.Revoke(req.RefreshToken)
		}
		if err != nil {
			writeStoreError(w, r, err)
			return
		}
		logging.FromContext(r.Context()).Info("👋 Signed out", zap.String("user_id", userID), zap.String("scope", req.Scope))
		w.WriteHeader(http.StatusNoContent)
	}
}
