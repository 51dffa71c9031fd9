package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	Env      string `env:"ENV" envDefault:"development"`
	RedisURL string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`

	// Transcript archive, at most one of the two is used (Postgres wins).
	DatabaseURL string `env:"DATABASE_URL"`
	SQLitePath  string `env:"SQLITE_PATH"`

	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"24h"`

	// Browser origins allowed to call the API with the session cookie. When
	// empty any origin may call, but without credentials.
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	// Rate limiting
	RateLimitWhitelist []string `env:"RATE_LIMIT_WHITELIST" envSeparator:","` // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled   bool     `env:"AUTO_BLOCK_ENABLED" envDefault:"false"`

	// Tracing is disabled when empty.
	OTelEndpoint string `env:"OTEL_ENDPOINT"`
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
func Load() (*Config, error) {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.RateLimitWhitelist = compact(cfg.RateLimitWhitelist)
	cfg.CORSAllowedOrigins = compact(cfg.CORSAllowedOrigins)
	for _, origin := range cfg.CORSAllowedOrigins {
		if origin == "*" {
			return nil, fmt.Errorf("CORS_ALLOWED_ORIGINS must list explicit origins, got %q", origin)
		}
	}

	if cfg.SessionTTL <= 0 {
		return nil, fmt.Errorf("SESSION_TTL must be positive, got %s", cfg.SessionTTL)
	}

	// In production, an archive must be configured
	if cfg.Env == "production" && cfg.DatabaseURL == "" && cfg.SQLitePath == "" {
		return nil, fmt.Errorf("DATABASE_URL or SQLITE_PATH is required in production")
	}

	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// compact trims list entries and drops empty ones.
func compact(list []string) []string {
	out := list[:0]
	for _, entry := range list {
		if entry = strings.TrimSpace(entry); entry != "" {
			out = append(out, entry)
		}
	}
	return out
}
