package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string

	// Logging configuration
	LogLevel          string
	LogFile           string // empty logs to stdout
	LogRotationPeriod time.Duration

	// Node configuration
	NodeAddr         string
	NodePollInterval time.Duration
	NodeRPCScheme    string

	// Storage configuration. An empty DatabaseURL selects the in-memory store.
	DatabaseURL    string
	WalletPassword string

	// NATS configuration. An empty NATSURL keeps peer messages in-process and
	// disables the event relay.
	NATSURL    string
	WalletName string // tags relayed events

	// EventBufferSize bounds per-subscriber event queues (SSE, relay).
	EventBufferSize int
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")

	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.LogFile = os.Getenv("LOG_FILE")
	rotation, err := parseDuration("LOG_ROTATION_PERIOD", "3h")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.LogRotationPeriod = rotation
	}

	cfg.NodeAddr = os.Getenv("NODE_ADDR")
	if cfg.NodeAddr == "" {
		errs = append(errs, fmt.Errorf("NODE_ADDR is required"))
	}
	poll, err := parseDuration("NODE_POLL_INTERVAL", "30s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.NodePollInterval = poll
	}
	cfg.NodeRPCScheme = getEnvOrDefault("NODE_RPC_SCHEME", "https")

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.WalletPassword = os.Getenv("WALLET_PASSWORD")
	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.WalletName = getEnvOrDefault("WALLET_NAME", "beam")

	buffer, err := parseInt("EVENT_BUFFER_SIZE", 256)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.EventBufferSize = buffer
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.NodeAddr == "" {
		errs = append(errs, fmt.Errorf("NodeAddr is required"))
	}

	if c.NodeRPCScheme != "http" && c.NodeRPCScheme != "https" {
		errs = append(errs, fmt.Errorf("NodeRPCScheme must be http or https, got %q", c.NodeRPCScheme))
	}

	if c.NodePollInterval < time.Second {
		errs = append(errs, fmt.Errorf("NodePollInterval must be at least 1 second"))
	}

	if c.LogRotationPeriod < time.Minute {
		errs = append(errs, fmt.Errorf("LogRotationPeriod must be at least 1 minute"))
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	if c.EventBufferSize < 1 {
		errs = append(errs, fmt.Errorf("EventBufferSize must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// ParseLogLevel maps a LOG_LEVEL value to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}
