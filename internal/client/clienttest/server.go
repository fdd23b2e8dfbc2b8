// Package clienttest runs an in-process assistant server for client package tests.
package clienttest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pysugar/assistant/internal/auth/password"
	"github.com/pysugar/assistant/internal/auth/token"
	"github.com/pysugar/assistant/internal/client/backend"
	"github.com/pysugar/assistant/internal/client/localstate"
	"github.com/pysugar/assistant/internal/db"
	"github.com/pysugar/assistant/internal/db/models"
	"github.com/pysugar/assistant/internal/ratelimit"
	"github.com/pysugar/assistant/internal/server"
	"github.com/pysugar/assistant/internal/upstream"
	"gorm.io/gorm"
)

var seq atomic.Int64

// Options tunes the test server.
type Options struct {
	AccessTTL time.Duration
	// Upstream serves the completion API; nil leaves chat unconfigured.
	Upstream http.HandlerFunc
	Limiter  ratelimit.Limiter
}

// Server is a running backend plus direct handles to its state.
type Server struct {
	URL    string
	DB     *gorm.DB
	Tokens *token.Manager
	HTTP   *httptest.Server
}

// NewServer starts a server backed by a private in-memory database.
func NewServer(t *testing.T, opts Options) *Server {
	t.Helper()
	dsn := fmt.Sprintf("file:clienttest%d?mode=memory&cache=shared", seq.Add(1))
	database, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := db.Migrate(database); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	client := upstream.NewClientWithHTTP("", "", "", nil)
	if opts.Upstream != nil {
		up := httptest.NewServer(opts.Upstream)
		t.Cleanup(up.Close)
		client = upstream.NewClientWithHTTP(up.URL+"/v1", "server-key", "test-model", up.Client())
	}
	tokens := token.NewManager(database, token.Options{Secret: "client-test-secret", AccessTTL: opts.AccessTTL})
	srv := httptest.NewServer(server.NewRouter(server.Deps{
		DB:       database,
		Tokens:   tokens,
		Upstream: client,
		Limiter:  opts.Limiter,
	}))
	t.Cleanup(srv.Close)
	return &Server{URL: srv.URL, DB: database, Tokens: tokens, HTTP: srv}
}

// CreateUser registers a user directly in the database.
func (s *Server) CreateUser(t *testing.T, email, pw, displayName string) models.User {
	t.Helper()
	hash, err := password.Hash(pw)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user, err := db.CreateUser(s.DB, email, hash, displayName)
	if err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	return user
}

// Requester returns a backend requester pointed at the server.
func (s *Server) Requester() *backend.Requester {
	return backend.NewRequester(s.URL, s.HTTP.Client())
}

// NewState opens a fresh client state database in a temp dir.
func NewState(t *testing.T) *localstate.Store {
	t.Helper()
	store, err := localstate.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open state: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}
