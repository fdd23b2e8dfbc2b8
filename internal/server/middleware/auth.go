// Package middleware holds the HTTP middleware of the assistant server.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pysugar/assistant/internal/auth/token"
	"github.com/pysugar/assistant/internal/logging"
	"go.uber.org/zap"
)

type contextKey string

const claimsKey contextKey = "claims"

// BearerAuth validates the access token in the Authorization header and stores
// its claims in the request context.
func BearerAuth(tokens *token.Manager) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if len(authHeader) < 7 || !strings.EqualFold(authHeader[:7], "bearer ") {
				writeUnauthorized(w, "Missing bearer token")
				return
			}
			claims, err := tokens.Verify(strings.TrimSpace(authHeader[7:]))
			if err != nil {
				logging.FromContext(r.Context()).Debug("🔒 Rejected access token", zap.Error(err))
				writeUnauthorized(w, "Invalid or expired access token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// WithClaims stores verified claims in ctx.
func WithClaims(ctx context.Context, claims *token.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// Claims returns the verified claims of the request, or nil.
func Claims(ctx context.Context) *token.Claims {
	claims, _ := ctx.Value(claimsKey).(*token.Claims)
	return claims
}

// UserID returns the subject of the verified access token.
func UserID(ctx context.Context) string {
	if claims := Claims(ctx); claims != nil {
		return claims.Subject
	}
	return ""
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="assistant"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    "authentication_error",
			"code":    http.StatusUnauthorized,
		},
	})
}
