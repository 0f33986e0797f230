package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config captures runtime configuration sourced from VG_* environment
// variables. Per-community security policy lives in the settings table.
type Config struct {
	Environment  string        `env:"VG_ENV" envDefault:"development"`
	HTTPPort     string        `env:"VG_HTTP_PORT" envDefault:"8080"`
	DBDriver     string        `env:"VG_DB_DRIVER" envDefault:"sqlite"`
	DatabasePath string        `env:"VG_DB_PATH" envDefault:"data/vanguard.db"`
	DatabaseDSN  string        `env:"VG_DB_DSN"`
	LogDir       string        `env:"VG_LOG_DIR" envDefault:"data/logs"`
	Debug        bool          `env:"VG_DEBUG" envDefault:"false"`
	JWTSecret    string        `env:"VG_JWT_SECRET"`
	SessionTTL   time.Duration `env:"VG_SESSION_TTL" envDefault:"12h"`
	RedisURL     string        `env:"VG_REDIS_URL"`
	DashboardTTL time.Duration `env:"VG_DASHBOARD_TTL" envDefault:"10s"`
	// RateLimitPerMinute caps API calls per user; it needs VG_REDIS_URL.
	RateLimitPerMinute int `env:"VG_RATE_LIMIT_PER_MINUTE" envDefault:"120"`

	Security SecurityDefaults `envPrefix:"VG_SECURITY_"`
}

// SecurityDefaults seed communities that have not saved a policy yet.
type SecurityDefaults struct {
	Require2FA    bool `env:"REQUIRE_2FA_DEFAULT" envDefault:"true"`
	TwoPersonRule bool `env:"TWO_PERSON_DEFAULT" envDefault:"true"`
}

// IsProduction reports whether the server runs with production hardening.
func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	if cfg.DBDriver == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
			return Config{}, fmt.Errorf("ensure data directory: %w", err)
		}
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	switch c.DBDriver {
	case "sqlite":
	case "postgres":
		if c.DatabaseDSN == "" {
			return fmt.Errorf("VG_DB_DSN is required when VG_DB_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unsupported VG_DB_DRIVER %q", c.DBDriver)
	}
	if c.JWTSecret == "" {
		if c.IsProduction() {
			return fmt.Errorf("VG_JWT_SECRET is required in production")
		}
	} else if len(c.JWTSecret) < 32 && c.IsProduction() {
		return fmt.Errorf("VG_JWT_SECRET must be at least 32 characters in production")
	}
	if c.RateLimitPerMinute < 0 {
		return fmt.Errorf("VG_RATE_LIMIT_PER_MINUTE must not be negative")
	}
	if c.DashboardTTL < 0 {
		return fmt.Errorf("VG_DASHBOARD_TTL must not be negative")
	}
	return nil
}
