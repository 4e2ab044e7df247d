// Package config loads runtime settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds runtime configuration for the server and the CLI.
type Config struct {
	Addr            string        `envconfig:"STAY_ADDR" default:":8080"`
	ReadTimeout     time.Duration `envconfig:"STAY_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"STAY_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"STAY_SHUTDOWN_TIMEOUT" default:"30s"`

	DBPath string `envconfig:"STAY_DB_PATH" default:"./data/stay.db"`

	// Empty disables the report cache.
	RedisAddr     string        `envconfig:"STAY_REDIS_ADDR"`
	RedisPassword string        `envconfig:"STAY_REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"STAY_REDIS_DB" default:"0"`
	ReportTTL     time.Duration `envconfig:"STAY_REPORT_TTL" default:"10m"`

	FixedCostPerStay int64 `envconfig:"STAY_FIXED_COST_PER_STAY" default:"10"`

	// API keys. When both lists are empty the API is open (development).
	AdminKeys  []string `envconfig:"STAY_ADMIN_KEYS"`
	ViewerKeys []string `envconfig:"STAY_VIEWER_KEYS"`

	AllowedOrigins []string `envconfig:"STAY_ALLOWED_ORIGINS" default:"http://localhost:5173,http://localhost:8080"`
	RateLimit      int      `envconfig:"STAY_RATE_LIMIT" default:"120"`

	OverdueCheckInterval time.Duration `envconfig:"STAY_OVERDUE_CHECK_INTERVAL" default:"1h"`

	Env       string `envconfig:"STAY_ENV" default:"development"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads a .env file when present, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.FixedCostPerStay < 0 {
		return errors.New("STAY_FIXED_COST_PER_STAY must not be negative")
	}
	if c.RateLimit <= 0 {
		return errors.New("STAY_RATE_LIMIT must be positive")
	}
	if c.OverdueCheckInterval <= 0 {
		return errors.New("STAY_OVERDUE_CHECK_INTERVAL must be positive")
	}
	for _, k := range c.AdminKeys {
		for _, v := range c.ViewerKeys {
			if k == v {
				return errors.New("a key cannot be both admin and viewer")
			}
		}
	}
	return nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.Env == "production"
}

// NewLogger returns a slog.Logger writing to w (stderr when nil), JSON when
// LogFormat is "json".
func NewLogger(cfg *Config, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: parseLevel(cfg)}
	if cfg != nil && cfg.LogFormat == "json" {
		opts.AddSource = true
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(cfg *Config) slog.Level {
	if cfg == nil {
		return slog.LevelInfo
	}
	switch strings.ToLower(cfg.LogLevel) {
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
