package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the Faultline server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Ingest   IngestConfig
}

type ServerConfig struct {
	Port int
	Env  string
	// BaseURL is used to render DSNs for newly created project keys,
	// e.g. https://errors.example.com
	BaseURL string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type IngestConfig struct {
	// MaxEventBytes caps the size of a single event payload.
	MaxEventBytes int64
	// RateLimitCount/RateLimitWindow are the per-key defaults applied when
	// a project key carries no limits of its own.
	RateLimitCount  int
	RateLimitWindow time.Duration
	// ProjectKeyTTL bounds how long a resolved project key stays cached.
	ProjectKeyTTL time.Duration
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:    envInt("FAULTLINE_PORT", 8080),
			Env:     envString("FAULTLINE_ENV", "development"),
			BaseURL: os.Getenv("FAULTLINE_BASE_URL"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Ingest: IngestConfig{
			MaxEventBytes:   int64(envInt("INGEST_MAX_EVENT_BYTES", 1<<20)),
			RateLimitCount:  envInt("INGEST_RATE_LIMIT_COUNT", 300),
			RateLimitWindow: envDuration("INGEST_RATE_LIMIT_WINDOW", time.Minute),
			ProjectKeyTTL:   envDuration("INGEST_PROJECT_KEY_TTL", 5*time.Minute),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Server.BaseURL != "" &&
		!strings.HasPrefix(c.Server.BaseURL, "http://") && !strings.HasPrefix(c.Server.BaseURL, "https://") {
		return fmt.Errorf("FAULTLINE_BASE_URL must start with http:// or https://, got %q", c.Server.BaseURL)
	}

	if c.Ingest.MaxEventBytes <= 0 {
		return fmt.Errorf("INGEST_MAX_EVENT_BYTES must be positive")
	}
	if c.Ingest.RateLimitCount <= 0 {
		return fmt.Errorf("INGEST_RATE_LIMIT_COUNT must be positive")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
