package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the full application configuration surface.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Cache      CacheConfig
	Processing ProcessingConfig
	Session    SessionConfig
	LogLevel   string
}

// ServerConfig holds HTTP server options.
type ServerConfig struct {
	Addr string
}

// DatabaseConfig locates the sqlite file and its migrations.
type DatabaseConfig struct {
	Path          string
	MigrationsDir string
}

// CacheConfig sizes the read-model cache.
type CacheConfig struct {
	TTL  time.Duration
	Size int
}

// ProcessingConfig holds batch lifecycle policy.
type ProcessingConfig struct {
	FinalizeRequiresDrying bool
	BatchCodeMaxAttempts   int
}

// SessionConfig controls login sessions and their cleanup.
type SessionConfig struct {
	TTL           time.Duration
	PurgeSchedule string
}

// Load reads environment variables, optionally from envFile first.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed loading env file %s: %w", envFile, err)
		}
	} else {
		// Missing .env is fine when configuration comes from the environment.
		_ = godotenv.Load()
	}

	cfg := &Config{
		Server: ServerConfig{
			Addr: getenv("APP_ADDR", ":8080"),
		},
		Database: DatabaseConfig{
			Path:          getenv("SQLITE_PATH", "curetrack.db"),
			MigrationsDir: os.Getenv("MIGRATIONS_DIR"),
		},
		LogLevel: getenv("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.Cache.TTL, err = getDuration("CACHE_TTL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.Cache.Size, err = getInt("CACHE_SIZE", 1024); err != nil {
		return nil, err
	}
	if cfg.Processing.FinalizeRequiresDrying, err = getBool("FINALIZE_REQUIRES_DRYING", false); err != nil {
		return nil, err
	}
	if cfg.Processing.BatchCodeMaxAttempts, err = getInt("BATCH_CODE_MAX_ATTEMPTS", 10); err != nil {
		return nil, err
	}
	if cfg.Session.TTL, err = getDuration("SESSION_TTL", 12*time.Hour); err != nil {
		return nil, err
	}
	cfg.Session.PurgeSchedule = getenv("SESSION_PURGE_SCHEDULE", "@hourly")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures that required configuration fields are populated.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	switch {
	case strings.TrimSpace(c.Server.Addr) == "":
		return errors.New("APP_ADDR must not be empty")
	case strings.TrimSpace(c.Database.Path) == "":
		return errors.New("SQLITE_PATH must not be empty")
	case c.Cache.TTL <= 0:
		return errors.New("CACHE_TTL must be positive")
	case c.Cache.Size <= 0:
		return errors.New("CACHE_SIZE must be positive")
	case c.Processing.BatchCodeMaxAttempts <= 0:
		return errors.New("BATCH_CODE_MAX_ATTEMPTS must be positive")
	case c.Session.TTL <= 0:
		return errors.New("SESSION_TTL must be positive")
	case strings.TrimSpace(c.Session.PurgeSchedule) == "":
		return errors.New("SESSION_PURGE_SCHEDULE must not be empty")
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
