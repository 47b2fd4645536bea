// Package config loads the server configuration from the environment.
//
// Values come from real environment variables. For local development a
// .env file in the working directory is loaded first if it exists; variables
// already set in the environment win over the file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Store drivers accepted in STORE_DRIVER.
const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
)

// Config is the full server configuration.
type Config struct {
	Port int `env:"PORT" envDefault:"8080"`

	StoreDriver   string `env:"STORE_DRIVER"   envDefault:"sqlite"`
	DBPath        string `env:"DB_PATH"        envDefault:"data/teamify.db"`
	MongoURI      string `env:"MONGO_URI"`
	MongoDatabase string `env:"MONGO_DATABASE" envDefault:"teamify"`

	JWTSecret    string        `env:"JWT_SECRET,required"`
	TokenTTL     time.Duration `env:"TOKEN_TTL"     envDefault:"24h"`
	CookieSecure bool          `env:"COOKIE_SECURE" envDefault:"false"`

	GitHubClientID     string `env:"GITHUB_CLIENT_ID"`
	GitHubClientSecret string `env:"GITHUB_CLIENT_SECRET"`
	GitHubCallbackURL  string `env:"GITHUB_CALLBACK_URL"`

	StreamAPIKey    string `env:"STREAM_API_KEY"`
	StreamAPISecret string `env:"STREAM_API_SECRET"`

	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	OTelEndpoint string `env:"OTEL_EXPORTER_ENDPOINT"`

	NotifyRetryInterval time.Duration `env:"NOTIFY_RETRY_INTERVAL" envDefault:"5s"`
	NotifyMaxAttempts   int           `env:"NOTIFY_MAX_ATTEMPTS"   envDefault:"8"`
}

// Load reads an optional .env file and then parses the environment.
func Load(dotEnvPath string) (Config, error) {
	if dotEnvPath != "" {
		if _, err := os.Stat(dotEnvPath); err == nil {
			if err := godotenv.Load(dotEnvPath); err != nil {
				return Config{}, fmt.Errorf("config: loading %s: %w", dotEnvPath, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("config: stat %s: %w", dotEnvPath, err)
		}
	}

	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseEnv loads configuration from environment variables into target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("config: parse env: %w", err)
	}
	return nil
}

// Validate checks the combinations env tags cannot express.
func (c Config) Validate() error {
	if len(c.JWTSecret) < 16 {
		return errors.New("config: JWT_SECRET must be at least 16 characters")
	}
	switch c.StoreDriver {
	case DriverSQLite:
		if c.DBPath == "" {
			return errors.New("config: DB_PATH is required for the sqlite store")
		}
	case DriverMongo:
		if c.MongoURI == "" {
			return errors.New("config: MONGO_URI is required for the mongo store")
		}
	default:
		return fmt.Errorf("config: unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.NotifyMaxAttempts < 1 {
		return errors.New("config: NOTIFY_MAX_ATTEMPTS must be at least 1")
	}
	if c.TokenTTL <= 0 {
		return errors.New("config: TOKEN_TTL must be positive")
	}
	return nil
}

// GitHubEnabled reports whether GitHub login is configured.
func (c Config) GitHubEnabled() bool {
	return c.GitHubClientID != "" && c.GitHubClientSecret != ""
}

// CallbackURL returns the GitHub callback, defaulting to localhost.
func (c Config) CallbackURL() string {
	if c.GitHubCallbackURL != "" {
		return c.GitHubCallbackURL
	}
	return fmt.Sprintf("http://localhost:%d/auth/github/callback", c.Port)
}

// ChatEnabled reports whether hosted chat credentials are configured.
func (c Config) ChatEnabled() bool {
	return c.StreamAPIKey != "" && c.StreamAPISecret != ""
}

// SlogLevel maps LOG_LEVEL to a slog level. Unknown values mean info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the process logger: JSON when LOG_FORMAT=json, text otherwise.
func (c Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
