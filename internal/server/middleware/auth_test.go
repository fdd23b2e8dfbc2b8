package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/pysugar/assistant/internal/auth/token"
	"github.com/pysugar/assistant/internal/db"
	"gorm.io/gorm"
)

func newTestManager(t *testing.T) (*token.Manager, string) {
	t.Helper()
	database, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := db.Migrate(database); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	user, err := db.CreateUser(database, "bob@example.com", "hash", "")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return token.NewManager(database, token.Options{Secret: "secret"}), user.ID
}

func TestBearerAuth(t *testing.T) {
	tokens, userID := newTestManager(t)
	session, err := tokens.IssueSession(userID)
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}

	var seen string
	handler := BearerAuth(tokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserID(r.Context())
	}))

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{name: "missing", header: "", wantStatus: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", wantStatus: http.StatusUnauthorized},
		{name: "garbage", header: "Bearer nope", wantStatus: http.StatusUnauthorized},
		{name: "valid", header: "Bearer " + session.AccessToken, wantStatus: http.StatusOK},
		{name: "lowercase scheme", header: "bearer " + session.AccessToken, wantStatus: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			if tt.wantStatus == http.StatusOK && seen != userID {
				t.Fatalf("expected subject %q in context, got %q", userID, seen)
			}
		})
	}
}
