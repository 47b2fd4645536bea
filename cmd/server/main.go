// Package main is the entry point for the Teamify server.
//
// main only reads configuration, builds the long-lived components (logger,
// store, auth, chat, notification outbox, tracing) and hands them to
// internal/server. All behaviour lives in the internal packages.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/juju/clock"

	"github.com/sakif/teamify/internal/auth"
	"github.com/sakif/teamify/internal/chat"
	"github.com/sakif/teamify/internal/config"
	"github.com/sakif/teamify/internal/notify"
	"github.com/sakif/teamify/internal/repository"
	"github.com/sakif/teamify/internal/repository/mongodb"
	"github.com/sakif/teamify/internal/repository/sqlite"
	"github.com/sakif/teamify/internal/server"
	"github.com/sakif/teamify/internal/telemetry"
)

// chatTokenTTL bounds how long a chat session can be resumed without
// asking the API for a fresh token.
const chatTokenTTL = 24 * time.Hour

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	// === 1. CONFIGURATION + LOGGING ===
	cfg, err := config.Load(".env")
	if err != nil {
		return err
	}
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	// === 2. TRACING ===
	shutdownTracing, err := telemetry.Setup(context.Background(), cfg.OTelEndpoint, "teamify")
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("flushing traces", slog.String("error", err.Error()))
		}
	}()

	// === 3. STORE ===
	// The server closes the store on shutdown.
	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}

	// === 4. AUTH ===
	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL, clock.WallClock)
	if err != nil {
		store.Close()
		return err
	}

	var github *auth.GitHubProvider
	if cfg.GitHubEnabled() {
		github = auth.NewGitHubProvider(cfg.GitHubClientID, cfg.GitHubClientSecret, cfg.CallbackURL())
	} else {
		logger.Warn("GITHUB_CLIENT_ID/SECRET not set; GitHub login is disabled")
	}

	// === 5. CHAT ===
	chatIssuer := chat.NewTokenIssuer(cfg.StreamAPIKey, cfg.StreamAPISecret, chatTokenTTL, clock.WallClock)
	if chatIssuer == nil {
		logger.Warn("STREAM_API_KEY/SECRET not set; /chat/token will return 503")
	}

	// === 6. NOTIFICATION OUTBOX ===
	emitter := notify.NewEmitter(store, logger, notify.Options{
		RetryInterval: cfg.NotifyRetryInterval,
		MaxAttempts:   cfg.NotifyMaxAttempts,
		Clock:         clock.WallClock,
	})

	// === 7. SERVER ===
	srv, err := server.New(server.Config{
		Port:         cfg.Port,
		TokenTTL:     cfg.TokenTTL,
		CookieSecure: cfg.CookieSecure,
		ServiceName:  "teamify",
	}, server.Deps{
		Store:     store,
		Tokens:    tokens,
		Passwords: auth.NewPasswordService(),
		Emitter:   emitter,
		GitHub:    github,
		Chat:      chatIssuer,
		Clock:     clock.WallClock,
	}, logger)
	if err != nil {
		store.Close()
		return err
	}

	// Start blocks until SIGINT/SIGTERM.
	return srv.Start()
}

func openStore(cfg config.Config, logger *slog.Logger) (repository.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverMongo:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		store, err := mongodb.Open(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		logger.Info("using mongo store", slog.String("database", cfg.MongoDatabase))
		return store, nil

	default:
		// os.MkdirAll is `mkdir -p`: the data directory may not exist yet.
		dir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
		}
		store, err := sqlite.New(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		logger.Info("using sqlite store", slog.String("path", cfg.DBPath))
		return store, nil
	}
}
