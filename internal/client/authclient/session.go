// Package authclient talks to the server's auth endpoints, keeps the current
// session on disk and publishes auth-state events.
package authclient

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// User identifies the signed-in account.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

// Session is a live credential pair plus the identity it belongs to.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         User      `json:"user"`
}

// ExpiresWithin reports whether the access token expires within d of now.
func (s *Session) ExpiresWithin(now time.Time, d time.Duration) bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(d).Before(s.ExpiresAt)
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}

// sessionFromToken converts a token endpoint response. The server embeds the
// user object next to the standard fields.
func sessionFromToken(tok *oauth2.Token) (*Session, error) {
	if tok == nil || tok.AccessToken == "" {
		return nil, errors.New("token response carried no access token")
	}
	s := &Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	if s.ExpiresAt.IsZero() {
		s.ExpiresAt = tokenExpiry(tok.AccessToken)
	}
	if raw := tok.Extra("user"); raw != nil {
		data, err := json.Marshal(raw)
		if err == nil {
			json.Unmarshal(data, &s.User)
		}
	}
	if s.User.ID == "" {
		s.User.ID = tokenSubject(tok.AccessToken)
	}
	return s, nil
}

func unverifiedClaims(accessToken string) *jwt.RegisteredClaims {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(accessToken), claims); err != nil {
		return nil
	}
	return claims
}

// tokenExpiry reads exp without verifying the signature; the server remains
// the authority on validity.
func tokenExpiry(accessToken string) time.Time {
	claims := unverifiedClaims(accessToken)
	if claims == nil || claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

func tokenSubject(accessToken string) string {
	claims := unverifiedClaims(accessToken)
	if claims == nil {
		return ""
	}
	return claims.Subject
}

// IsPermanentRefreshError reports whether err means the refresh credential was
// rejected for good, as opposed to a transient transport or server failure.
func IsPermanentRefreshError(err error) bool {
	if err == nil {
		return false
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.ErrorCode != "" {
		switch retrieveErr.ErrorCode {
		case "invalid_grant", "invalid_client", "unauthorized_client":
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	permanentMarkers := []string{
		"invalid_grant",
		"invalid_client",
		"unauthorized_client",
		"token has been expired or revoked",
		"revoked",
	}
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
