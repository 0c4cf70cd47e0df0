// Package config provides application configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	CORSOrigins []string
	IdleAfter   time.Duration
	Database    DatabaseConfig
	Flow        FlowConfig
	RateLimit   RateLimitConfig
}

// DatabaseConfig holds Postgres connection and pool settings.
type DatabaseConfig struct {
	URL            string
	Host           string
	Port           string
	User           string
	Password       string
	Name           string
	SSLMode        string
	MaxConns       int
	MinConns       int
	AcquireTimeout time.Duration
	ConnLifetime   time.Duration
}

// FlowConfig holds the remote conversational flow settings.
type FlowConfig struct {
	BaseURL  string
	FlowID   string
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// RateLimitConfig controls per-visitor chat throttling.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	flowID := getEnv("FLOW_ID", "")

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "*")),
		IdleAfter:   getEnvDuration("IDLE_AFTER", 30*time.Minute),
		Database: DatabaseConfig{
			URL:            getEnv("DATABASE_URL", ""),
			Host:           getEnv("POSTGRES_HOST", "localhost"),
			Port:           getEnv("POSTGRES_PORT", "5432"),
			User:           getEnv("POSTGRES_USER", ""),
			Password:       getEnv("POSTGRES_PASSWORD", ""),
			Name:           getEnv("POSTGRES_DB", ""),
			SSLMode:        getEnv("POSTGRES_SSLMODE", "disable"),
			MaxConns:       getEnvInt("DB_MAX_CONNS", 20),
			MinConns:       getEnvInt("DB_MIN_CONNS", 1),
			AcquireTimeout: getEnvDuration("DB_ACQUIRE_TIMEOUT", 5*time.Second),
			ConnLifetime:   getEnvDuration("DB_CONN_LIFETIME", 30*time.Minute),
		},
		Flow: FlowConfig{
			BaseURL:  strings.TrimRight(getEnv("BASE_API_URL", ""), "/"),
			FlowID:   flowID,
			Endpoint: getEnv("ENDPOINT", flowID),
			APIKey:   getEnv("APPLICATION_TOKEN", ""),
			Timeout:  getEnvDuration("FLOW_TIMEOUT", 60*time.Second),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("CHAT_RATE_LIMIT", 10),
			WindowDuration:    time.Minute,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.Database.MinConns < 1 {
		return fmt.Errorf("DB_MIN_CONNS must be >= 1")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("DB_MAX_CONNS must be >= DB_MIN_CONNS")
	}
	if c.Database.AcquireTimeout <= 0 {
		return fmt.Errorf("DB_ACQUIRE_TIMEOUT must be > 0")
	}
	if c.Database.URL == "" && c.Database.Name == "" {
		return fmt.Errorf("DATABASE_URL or POSTGRES_DB must be set")
	}
	if c.Flow.Timeout <= 0 {
		return fmt.Errorf("FLOW_TIMEOUT must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("CHAT_RATE_LIMIT must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// FlowEnabled reports whether enough flow settings are present to call the remote flow.
func (c *Config) FlowEnabled() bool {
	return c.Flow.BaseURL != "" && c.Flow.Endpoint != ""
}

// DSN returns the Postgres connection string for the configured database.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return d.DSNFor(d.Name)
}

// DSNFor returns a connection string for another database on the same server.
func (d DatabaseConfig) DSNFor(dbName string) string {
	u := url.URL{
		Scheme:   "postgres",
		Host:     d.Host + ":" + d.Port,
		Path:     "/" + dbName,
		RawQuery: "sslmode=" + url.QueryEscape(d.SSLMode),
	}
	if d.User != "" {
		u.User = url.UserPassword(d.User, d.Password)
	}
	return u.String()
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
