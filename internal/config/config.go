// Package config loads the server configuration. Values are layered:
// built-in defaults, then an optional YAML file, then a .env file, then the
// process environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/leafy-life/cafe/pkg/logger"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendSupabase = "supabase"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config is the complete server configuration.
type Config struct {
	Server    ServerConfig         `yaml:"server"`
	Store     StoreConfig          `yaml:"store"`
	Alerts    AlertsConfig         `yaml:"alerts"`
	Outbox    OutboxConfig         `yaml:"outbox"`
	Location  string               `yaml:"location" env:"LEAFY_TIMEZONE"`
	Logging   logger.LoggingConfig `yaml:"logging"`
	Auth      AuthConfig           `yaml:"auth"`
	RateLimit RateLimitConfig      `yaml:"rate_limit"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"LEAFY_ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"LEAFY_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"LEAFY_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"LEAFY_SHUTDOWN_TIMEOUT"`
}

// StoreConfig selects and configures the row store backend.
type StoreConfig struct {
	Backend         string         `yaml:"backend" env:"LEAFY_STORE_BACKEND"`
	DSN             string         `yaml:"dsn" env:"DATABASE_URL"`
	MaxOpenConns    int            `yaml:"max_open_conns" env:"LEAFY_DB_MAX_OPEN_CONNS"`
	MaxIdleConns    int            `yaml:"max_idle_conns" env:"LEAFY_DB_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration  `yaml:"conn_max_lifetime" env:"LEAFY_DB_CONN_MAX_LIFETIME"`
	Supabase        SupabaseConfig `yaml:"supabase"`
}

// SupabaseConfig points at a hosted Supabase project.
type SupabaseConfig struct {
	URL            string        `yaml:"url" env:"SUPABASE_URL"`
	APIKey         string        `yaml:"api_key" env:"SUPABASE_SERVICE_KEY"`
	Schema         string        `yaml:"schema" env:"SUPABASE_SCHEMA"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"SUPABASE_REQUEST_TIMEOUT"`
	MaxRetries     int           `yaml:"max_retries" env:"SUPABASE_MAX_RETRIES"`
}

// AlertsConfig controls the scheduled alert sweep.
type AlertsConfig struct {
	Enabled  bool   `yaml:"enabled" env:"LEAFY_ALERTS_ENABLED"`
	Schedule string `yaml:"schedule" env:"LEAFY_ALERT_SCHEDULE"`
}

// OutboxConfig controls replay of failed inventory deductions.
type OutboxConfig struct {
	Interval    time.Duration `yaml:"interval" env:"LEAFY_OUTBOX_INTERVAL"`
	MaxAttempts int           `yaml:"max_attempts" env:"LEAFY_OUTBOX_MAX_ATTEMPTS"`
}

// AuthConfig verifies Supabase access tokens. An empty JWTSecret disables
// auth.
type AuthConfig struct {
	JWTSecret  string   `yaml:"jwt_secret" env:"SUPABASE_JWT_SECRET"`
	Audience   string   `yaml:"audience" env:"LEAFY_JWT_AUDIENCE"`
	AdminRoles []string `yaml:"admin_roles" env:"LEAFY_ADMIN_ROLES"`
}

// RateLimitConfig bounds requests per client.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled" env:"LEAFY_RATE_LIMIT_ENABLED"`
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"LEAFY_RATE_LIMIT_RPS"`
	Burst             int     `yaml:"burst" env:"LEAFY_RATE_LIMIT_BURST"`
}

// New returns the default configuration.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 20 * time.Second,
		},
		Store: StoreConfig{
			Backend:         BackendMemory,
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			Supabase: SupabaseConfig{
				Schema:         "public",
				RequestTimeout: 30 * time.Second,
				MaxRetries:     3,
			},
		},
		Alerts: AlertsConfig{
			Enabled:  true,
			Schedule: "@every 15m",
		},
		Outbox: OutboxConfig{
			Interval:    time.Minute,
			MaxAttempts: 10,
		},
		Location: "Local",
		Auth: AuthConfig{
			Audience:   "authenticated",
			AdminRoles: []string{"admin", "owner"},
		},
		Logging: logger.LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 20,
			Burst:             40,
		},
	}
}

// Load builds the configuration. path names an optional YAML file; envFiles
// are dotenv files loaded into the environment (".env" when none are given).
// Missing dotenv files are ignored, a missing YAML file is not.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := New()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	// envdecode splits lists on semicolons; commas are accepted as well.
	var roles []string
	for _, r := range c.Auth.AdminRoles {
		for _, part := range strings.Split(r, ",") {
			if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
				roles = append(roles, part)
			}
		}
	}
	c.Auth.AdminRoles = roles
}

// Validate reports configuration that cannot start a server.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory:
	case BackendSupabase:
		if c.Store.Supabase.URL == "" {
			return fmt.Errorf("store.supabase.url is required for the supabase backend")
		}
		if c.Store.Supabase.APIKey == "" {
			return fmt.Errorf("store.supabase.api_key is required for the supabase backend")
		}
	case BackendSQLite, BackendPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the %s backend", c.Store.Backend)
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate_limit needs positive requests_per_second and burst")
	}
	if _, err := c.TimeLocation(); err != nil {
		return err
	}
	return nil
}

// TimeLocation resolves Location. Empty and "Local" mean the host zone.
func (c *Config) TimeLocation() (*time.Location, error) {
	if c.Location == "" || c.Location == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Location)
	if err != nil {
		return nil, fmt.Errorf("location %q: %w", c.Location, err)
	}
	return loc, nil
}
