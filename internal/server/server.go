// Package server assembles the assistant backend: auth, row API and functions.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/pysugar/assistant/internal/auth/token"
	"github.com/pysugar/assistant/internal/config"
	"github.com/pysugar/assistant/internal/db"
	"github.com/pysugar/assistant/internal/logging"
	"github.com/pysugar/assistant/internal/ratelimit"
	"github.com/pysugar/assistant/internal/server/handlers"
	"github.com/pysugar/assistant/internal/server/middleware"
	"github.com/pysugar/assistant/internal/upstream"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Deps are the collaborators the HTTP routes need.
type Deps struct {
	DB       *gorm.DB
	Tokens   *token.Manager
	Upstream *upstream.Client
	Limiter  ratelimit.Limiter
}

// NewRouter builds the HTTP handler.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(logging.Middleware)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", handlers.HealthHandler(deps.DB))
	r.Get("/api/version", handlers.VersionHandler())

	bearer := middleware.BearerAuth(deps.Tokens)

	r.Route("/auth/v1", func(r chi.Router) {
		r.Post("/signup", handlers.SignupHandler(deps.DB, deps.Tokens))
		r.Post("/token", handlers.TokenHandler(deps.Tokens))
		r.Group(func(r chi.Router) {
			r.Use(bearer)
			r.Get("/user", handlers.GetUserHandler(deps.Tokens))
			r.Put("/user", handlers.UpdateUserHandler(deps.DB, deps.Tokens))
			r.Post("/logout", handlers.LogoutHandler(deps.Tokens))
		})
	})

	r.Route("/rest/v1", func(r chi.Router) {
		r.Use(bearer)
		r.Get("/profiles/{id}", handlers.GetProfileHandler(deps.DB))
		r.Patch("/profiles/{id}", handlers.UpdateProfileHandler(deps.DB))

		r.Get("/settings", handlers.GetSettingsHandler(deps.DB))
		r.Put("/settings", handlers.PutSettingsHandler(deps.DB))

		r.Get("/conversations", handlers.ListConversationsHandler(deps.DB))
		r.Post("/conversations", handlers.CreateConversationHandler(deps.DB))
		r.Patch("/conversations/{id}", handlers.UpdateConversationHandler(deps.DB))
		r.Delete("/conversations/{id}", handlers.DeleteConversationHandler(deps.DB))
		r.Get("/conversations/{id}/messages", handlers.ListMessagesHandler(deps.DB))
		r.Post("/conversations/{id}/messages", handlers.CreateMessageHandler(deps.DB))
		r.Delete("/conversations/{id}/messages", handlers.DeleteMessagesHandler(deps.DB))

		r.Get("/tasks", handlers.ListTasksHandler(deps.DB))
		r.Post("/tasks", handlers.CreateTaskHandler(deps.DB))
		r.Patch("/tasks/{id}", handlers.UpdateTaskHandler(deps.DB))
		r.Delete("/tasks/{id}", handlers.DeleteTaskHandler(deps.DB))

		r.Get("/voice-commands", handlers.ListVoiceCommandsHandler(deps.DB))
		r.Post("/voice-commands", handlers.CreateVoiceCommandHandler(deps.DB))
	})

	r.Route("/functions/v1", func(r chi.Router) {
		r.Use(bearer)
		r.Post("/chat", handlers.ChatHandler(deps.Upstream, deps.Limiter))
		r.Post("/generate-title", handlers.GenerateTitleHandler(deps.DB, deps.Upstream))
		r.Post("/delete-account", handlers.DeleteAccountHandler(deps.DB, deps.Tokens))
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.FromContext(r.Context()).Info("🌐 "+r.Method+" "+r.URL.Path,
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)))
	})
}

// Server owns the listener and the resources behind the routes.
type Server struct {
	cfg     config.Server
	handler http.Handler
	db      *gorm.DB
	closers []func() error
}

// New opens the database, selects the refresh store and rate limiter, and
// builds the router.
func New(cfg config.Config) (*Server, error) {
	database, err := db.InitDB(cfg.Server.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	s := &Server{cfg: cfg.Server, db: database}
	s.closers = append(s.closers, func() error { return db.Close(database) })

	secret, err := db.EnsureSigningKey(database, cfg.Server.JWTSecret)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("signing key: %w", err)
	}

	var store token.RefreshStore
	switch strings.ToLower(strings.TrimSpace(cfg.Server.RefreshStore)) {
	case "", "gorm":
		store = token.NewGormRefreshStore(database)
	case "redis":
		if cfg.Server.RedisAddr == "" {
			s.Close()
			return nil, errors.New("refresh_store redis requires server.redis_addr")
		}
		rs := token.NewRedisRefreshStore(cfg.Server.RedisAddr, cfg.Server.RedisPassword, "")
		s.closers = append(s.closers, rs.Close)
		store = rs
	default:
		s.Close()
		return nil, fmt.Errorf("unknown refresh_store %q", cfg.Server.RefreshStore)
	}

	tokens := token.NewManager(database, token.Options{
		Secret:     secret,
		Issuer:     cfg.Server.JWTIssuer,
		AccessTTL:  config.Duration(cfg.Server.AccessTokenTTL, time.Hour),
		RefreshTTL: config.Duration(cfg.Server.RefreshTokenTTL, 30*24*time.Hour),
		Store:      store,
	})

	var limiter ratelimit.Limiter
	if n := cfg.Server.ChatRateLimitPerMinute; n > 0 {
		var fl *ratelimit.FixedWindowLimiter
		if cfg.Server.RedisAddr != "" {
			fl, err = ratelimit.NewRedisFixedWindowLimiter(cfg.Server.RedisAddr, cfg.Server.RedisPassword, "", n, time.Minute)
		} else {
			fl, err = ratelimit.NewMemoryFixedWindowLimiter(n, time.Minute)
		}
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
		s.closers = append(s.closers, fl.Close)
		limiter = fl
	}

	client := upstream.NewClient(cfg.Upstream)
	if !client.IsEnabled() {
		logging.L().Warn("⚠️ Upstream completion endpoint not configured; /functions/v1/chat will answer 503")
	}

	s.handler = NewRouter(Deps{DB: database, Tokens: tokens, Upstream: client, Limiter: limiter})
	return s, nil
}

// Handler is the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logging.L().Info("🚀 Assistant server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logging.L().Info("🛑 Shutting down server")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close releases the database and Redis clients.
func (s *Server) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
