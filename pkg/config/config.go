// Package config provides configuration handling for the AIforBharat gateway.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Config represents the application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `json:"server"`

	// Storage configuration
	Storage StorageConfig `json:"storage"`

	// Auth configuration
	Auth AuthConfig `json:"auth"`

	// Engines configuration
	Engines EnginesConfig `json:"engines"`

	// Orchestrator configuration
	Orchestrator OrchestratorConfig `json:"orchestrator"`

	// Idempotency configuration
	Idempotency IdempotencyConfig `json:"idempotency"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	// Host to bind to
	Host string `json:"host"`

	// Port to listen on
	Port int `json:"port"`

	// TLS configuration
	TLS TLSConfig `json:"tls"`
}

// TLSConfig contains TLS settings
type TLSConfig struct {
	// Enabled indicates whether TLS is enabled
	Enabled bool `json:"enabled"`

	// CertFile is the path to the certificate file
	CertFile string `json:"cert_file"`

	// KeyFile is the path to the key file
	KeyFile string `json:"key_file"`
}

// StorageConfig contains storage settings
type StorageConfig struct {
	// Type of storage to use
	Type string `json:"type"` // "memory", "postgres"

	// PostgreSQL configuration
	Postgres PostgresConfig `json:"postgres"`
}

// PostgresConfig contains PostgreSQL settings
type PostgresConfig struct {
	// Host is the database host
	Host string `json:"host"`

	// Port is the database port
	Port int `json:"port"`

	// Database is the database name
	Database string `json:"database"`

	// User is the database user
	User string `json:"user"`

	// Password is the database password
	Password string `json:"password"`

	// SSLMode is the SSL mode
	SSLMode string `json:"ssl_mode"`
}

// AuthConfig contains authentication settings
type AuthConfig struct {
	// JWTSecret is the secret for signing JWT tokens
	JWTSecret string `json:"jwt_secret"`

	// TokenExpiration is the token expiration time in hours
	TokenExpiration int `json:"token_expiration"`

	// RateLimitPerMinute caps requests per client IP per minute
	RateLimitPerMinute int `json:"rate_limit_per_minute"`

	// RateLimitBurstPerSecond caps requests per client IP per second
	RateLimitBurstPerSecond int `json:"rate_limit_burst_per_second"`
}

// EnginesConfig contains downstream engine settings
type EnginesConfig struct {
	// BaseHost is the host all default engine URLs point at
	BaseHost string `json:"base_host"`

	// Overrides maps engine IDs to explicit base URLs
	Overrides map[string]string `json:"overrides,omitempty"`

	// ProbeSchedule is a cron expression for periodic health probes
	ProbeSchedule string `json:"probe_schedule"`

	// ProbeTimeoutSeconds is the per-probe timeout
	ProbeTimeoutSeconds int `json:"probe_timeout_seconds"`

	// DownAfterFailures is the consecutive-failure count that marks an engine DOWN
	DownAfterFailures int `json:"down_after_failures"`

	// CallTimeoutSeconds is the default per-call timeout
	CallTimeoutSeconds int `json:"call_timeout_seconds"`
}

// OrchestratorConfig contains flow execution settings
type OrchestratorConfig struct {
	// WorkerPoolSize bounds concurrently executing steps across all flows
	WorkerPoolSize int `json:"worker_pool_size"`

	// MaxAttempts is the attempt count for abort-policy steps
	MaxAttempts int `json:"max_attempts"`

	// RetryBackoffMS is the initial retry backoff in milliseconds
	RetryBackoffMS int `json:"retry_backoff_ms"`

	// ExecutionRetentionHours bounds how long finished executions are kept
	ExecutionRetentionHours int `json:"execution_retention_hours"`
}

// IdempotencyConfig contains idempotency guard settings
type IdempotencyConfig struct {
	// Backend selects the guard implementation
	Backend string `json:"backend"` // "memory", "redis"

	// RedisURL is the Redis connection URL for the redis backend
	RedisURL string `json:"redis_url"`

	// RetentionHours is how long idempotency records are kept
	RetentionHours int `json:"retention_hours"`
}

// LoadConfig loads the configuration from a file
func LoadConfig(path string) (*Config, error) {
	// Read the file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse the JSON
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)
	return &config, nil
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8000,
			TLS: TLSConfig{
				Enabled: false,
			},
		},
		Storage: StorageConfig{
			Type: "memory",
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "aiforbharat",
				User:     "aiforbharat",
				SSLMode:  "disable",
			},
		},
		Auth: AuthConfig{
			TokenExpiration:         24,
			RateLimitPerMinute:      100,
			RateLimitBurstPerSecond: 10,
		},
		Engines: EnginesConfig{
			BaseHost:            "http://localhost",
			ProbeSchedule:       "@every 30s",
			ProbeTimeoutSeconds: 5,
			DownAfterFailures:   3,
			CallTimeoutSeconds:  15,
		},
		Orchestrator: OrchestratorConfig{
			WorkerPoolSize:          32,
			MaxAttempts:             3,
			RetryBackoffMS:          100,
			ExecutionRetentionHours: 24,
		},
		Idempotency: IdempotencyConfig{
			Backend:        "memory",
			RedisURL:       "redis://localhost:6379/0",
			RetentionHours: 24,
		},
	}

	applyEnvOverrides(cfg)
	return cfg
}

// SaveConfig saves the configuration to a file
func SaveConfig(config *Config, path string) error {
	// Create the directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Marshal the JSON
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write the file
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// applyEnvOverrides lets deployment environments override the most commonly
// tuned settings without editing the config file
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GATEWAY_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Idempotency.RedisURL = v
	}
	if v := os.Getenv("ENGINE_BASE_HOST"); v != "" {
		cfg.Engines.BaseHost = v
	}
}
