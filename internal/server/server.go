// Package server sets up the HTTP server, router, and all route definitions.
//
// This package is the composition root: it receives the store and the
// auth/chat/notification components built by main, builds the services and
// handlers on top of them, and maps URLs to handlers. Keeping it out of
// main.go lets tests build the full router over an in-memory store.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/juju/clock"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sakif/teamify/internal/auth"
	"github.com/sakif/teamify/internal/chat"
	"github.com/sakif/teamify/internal/handler"
	"github.com/sakif/teamify/internal/middleware"
	"github.com/sakif/teamify/internal/notify"
	"github.com/sakif/teamify/internal/repository"
	"github.com/sakif/teamify/internal/service"
)

// Config holds server configuration.
type Config struct {
	Port         int
	TokenTTL     time.Duration
	CookieSecure bool
	ServiceName  string // span name for otelhttp
}

// Deps are the long-lived components the server wires together. Store,
// Tokens, Passwords and Emitter are required; GitHub and Chat are nil when
// not configured.
type Deps struct {
	Store     repository.Store
	Tokens    *auth.TokenService
	Passwords *auth.PasswordService
	Emitter   *notify.Emitter
	GitHub    *auth.GitHubProvider
	Chat      *chat.TokenIssuer
	Clock     clock.Clock
}

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the store and the notification emitter. On shutdown the
// emitter is stopped first (its worker writes to the store), then the store
// is closed.
type Server struct {
	router  *chi.Mux
	handler http.Handler
	config  Config
	deps    Deps
	logger  *slog.Logger
}

// New wires services and handlers over deps.
func New(cfg Config, deps Deps, logger *slog.Logger) (*Server, error) {
	if deps.Store == nil || deps.Tokens == nil || deps.Passwords == nil || deps.Emitter == nil {
		return nil, errors.New("server: store, tokens, passwords and emitter are required")
	}
	if deps.Clock == nil {
		deps.Clock = clock.WallClock
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "teamify"
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		deps:   deps,
		logger: logger,
	}
	s.setupRoutes()

	// Outermost: every request gets a span named by method and path.
	s.handler = otelhttp.NewHandler(s.router, cfg.ServiceName,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
	return s, nil
}

// Handler returns the instrumented router. Tests drive it with httptest.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// setupRoutes configures all middleware and route handlers.
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID: unique id per request, also logged by Logger
// 2. RealIP: client IP from proxy headers
// 3. Logger: one structured line per request
// 4. Recoverer: a panic becomes a 500 instead of killing the process
//
// Authentication is per route group: RequireAuth rejects with 401,
// OptionalAuth only identifies the caller when a token is present.
func (s *Server) setupRoutes() {
	d := s.deps

	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	// === Services ===
	projectService := service.NewProjectService(d.Store, d.Emitter, d.Clock, s.logger)
	ratingService := service.NewRatingService(d.Store, d.Emitter, d.Clock, s.logger)
	notificationService := service.NewNotificationService(d.Store, s.logger)
	userService := service.NewUserService(d.Store, d.Tokens, d.Passwords, d.Emitter, d.Clock, s.logger)

	// === Handlers ===
	validator := handler.NewValidator()
	authHandler := handler.NewAuthHandler(userService, d.GitHub, validator, s.config.TokenTTL, s.config.CookieSecure, s.logger)
	projectHandler := handler.NewProjectHandler(projectService, validator, s.logger)
	ratingHandler := handler.NewRatingHandler(ratingService, validator, s.logger)
	notificationHandler := handler.NewNotificationHandler(notificationService, s.logger)
	userHandler := handler.NewUserHandler(userService, d.Chat, validator, s.logger)

	requireAuth := auth.RequireAuth(d.Tokens)
	optionalAuth := auth.OptionalAuth(d.Tokens)

	s.router.Get("/healthz", handler.HealthHandler(d.Store, s.logger))

	// === Auth ===
	s.router.Route("/auth", func(r chi.Router) {
		r.Post("/register", authHandler.HandleRegister)
		r.Post("/login", authHandler.HandleLogin)
		r.Post("/logout", authHandler.HandleLogout)
		r.Get("/security-question", authHandler.HandleSecurityQuestion)
		r.Post("/reset-password", authHandler.HandleResetPassword)
		r.With(requireAuth).Get("/me", authHandler.HandleMe)

		if d.GitHub != nil {
			r.Get("/github/login", authHandler.HandleGitHubLogin)
			r.Get("/github/callback", authHandler.HandleGitHubCallback)
		}
	})

	// === Projects (public listing + apply) ===
	s.router.Route("/project", func(r chi.Router) {
		r.With(optionalAuth).Get("/", projectHandler.HandleList)
		r.Get("/technologies", projectHandler.HandleTechnologies)
		r.Get("/{id}", projectHandler.HandleGet)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Post("/", projectHandler.HandleCreate)
			r.Post("/apply/{id}", projectHandler.HandleApply)
		})
	})

	// === Creator screens ===
	s.router.Route("/editProject", func(r chi.Router) {
		r.Use(requireAuth)
		r.Get("/", projectHandler.HandleListCreated)
		r.Put("/{id}", projectHandler.HandleUpdate)
		r.Delete("/{id}", projectHandler.HandleDelete)
		r.Patch("/toggle/{id}", projectHandler.HandleToggle)
		r.Patch("/status/{id}", projectHandler.HandleUpdateStatus)
		r.Post("/select-applicant", projectHandler.HandleSelect)
		r.Post("/remove-applicant", projectHandler.HandleRemove)
		r.Post("/{id}/ratings", ratingHandler.HandleSubmit)
		r.Get("/{id}/ratings", ratingHandler.HandleListMine)
	})

	// === Applicant screens ===
	s.router.Route("/appliedProjects", func(r chi.Router) {
		r.Use(requireAuth)
		r.Get("/", projectHandler.HandleListApplied)
		r.Post("/leave", projectHandler.HandleLeave)
		r.Post("/withdraw", projectHandler.HandleWithdraw)
	})

	// === Notifications ===
	s.router.Route("/notifications", func(r chi.Router) {
		r.Use(requireAuth)
		r.Get("/", notificationHandler.HandleList)
		r.Delete("/", notificationHandler.HandleDeleteAll)
		r.Patch("/read-all", notificationHandler.HandleMarkAllRead)
		r.Patch("/{id}/read", notificationHandler.HandleMarkRead)
		r.Delete("/{id}", notificationHandler.HandleDelete)
	})

	// === Users ===
	s.router.Route("/users", func(r chi.Router) {
		r.Get("/{id}", userHandler.HandleProfile)
		r.Get("/{id}/rating", ratingHandler.HandleSummary)
		r.Get("/{id}/connections", userHandler.HandleConnections)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Put("/me", userHandler.HandleUpdateProfile)
			r.Post("/{id}/connect", userHandler.HandleConnect)
			r.Delete("/{id}/connect", userHandler.HandleDisconnect)
		})
	})

	s.router.With(requireAuth).Get("/chat/token", userHandler.HandleChatToken)
}

// Start runs the HTTP server and the notification outbox until SIGINT or
// SIGTERM, then shuts down gracefully.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new HTTP connections
//  2. Wait for in-flight requests to finish (30s timeout)
//  3. Stop the outbox worker
//  4. Close the store
func (s *Server) Start() error {
	defer func() {
		if err := s.deps.Store.Close(); err != nil {
			s.logger.Error("closing store", slog.String("error", err.Error()))
		}
	}()

	s.deps.Emitter.Start()
	defer s.deps.Emitter.Stop()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.Bool("github", s.deps.GitHub != nil),
			slog.Bool("chat", s.deps.Chat != nil),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
