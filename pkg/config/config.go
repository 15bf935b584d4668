// Package config loads application configuration from environment
// variables with sane defaults for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server ServerConfig
	Store  StoreConfig
	Auth   AuthConfig
	Mail   MailConfig

	LogLevel string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// StoreConfig holds the external store endpoints
type StoreConfig struct {
	PostgresURL string
	RedisURL    string
}

// AuthConfig holds credential lifecycle policy
type AuthConfig struct {
	SessionCookieName string
	SessionTTL        time.Duration
	ConfirmTTL        time.Duration
	ResetTTL          time.Duration
	ResetMaxAttempts  int

	// ResetKeySecret keys the HMAC used to derive reset-request store keys
	// from normalized emails.
	ResetKeySecret string

	// LoginRateLimit caps login attempts per client IP per window.
	LoginRateLimit  int
	LoginRateWindow time.Duration
}

// MailConfig holds outbound mail settings
type MailConfig struct {
	SMTPAddr string // host:port; empty selects the log-only sender
	From     string
	BaseURL  string // public base URL used in confirmation/reset links
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("COMMUNE_HOST", "0.0.0.0"),
			Port:            getEnv("COMMUNE_PORT", "8080"),
			ReadTimeout:     getEnvDuration("COMMUNE_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("COMMUNE_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("COMMUNE_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("COMMUNE_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Store: StoreConfig{
			PostgresURL: getEnv("COMMUNE_POSTGRES_URL", "postgres://localhost:5432/commune?sslmode=disable"),
			RedisURL:    getEnv("COMMUNE_REDIS_URL", "redis://localhost:6379/0"),
		},
		Auth: AuthConfig{
			SessionCookieName: getEnv("COMMUNE_SESSION_COOKIE", "commune_session"),
			SessionTTL:        getEnvDuration("COMMUNE_SESSION_TTL", 14*24*time.Hour),
			ConfirmTTL:        getEnvDuration("COMMUNE_CONFIRM_TTL", 48*time.Hour),
			ResetTTL:          getEnvDuration("COMMUNE_RESET_TTL", time.Hour),
			ResetMaxAttempts:  getEnvInt("COMMUNE_RESET_MAX_ATTEMPTS", 5),
			ResetKeySecret:    getEnv("COMMUNE_RESET_KEY_SECRET", ""),
			LoginRateLimit:    getEnvInt("COMMUNE_LOGIN_RATE_LIMIT", 30),
			LoginRateWindow:   getEnvDuration("COMMUNE_LOGIN_RATE_WINDOW", time.Minute),
		},
		Mail: MailConfig{
			SMTPAddr: getEnv("COMMUNE_SMTP_ADDR", ""),
			From:     getEnv("COMMUNE_MAIL_FROM", "no-reply@commune.local"),
			BaseURL:  getEnv("COMMUNE_BASE_URL", "http://localhost:8080"),
		},
		LogLevel: getEnv("COMMUNE_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration invariants
func (c *Config) Validate() error {
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}
	if c.Auth.ResetMaxAttempts <= 0 {
		return fmt.Errorf("reset max attempts must be positive")
	}
	if c.Auth.ResetKeySecret == "" {
		return fmt.Errorf("COMMUNE_RESET_KEY_SECRET is required")
	}
	if c.Store.PostgresURL == "" {
		return fmt.Errorf("COMMUNE_POSTGRES_URL is required")
	}
	if c.Store.RedisURL == "" {
		return fmt.Errorf("COMMUNE_REDIS_URL is required")
	}
	return nil
}

// getEnv returns an environment variable or a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
