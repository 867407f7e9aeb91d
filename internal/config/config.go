// Package config provides configuration loading for entityragd.
//
// Configuration is loaded from a YAML file and overridden by environment
// variables, with hardcoded defaults for anything left unset.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete entityragd configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Store         StoreConfig         `koanf:"store"`
	Embeddings    EmbeddingsConfig    `koanf:"embeddings"`
	Logging       LoggingConfig       `koanf:"logging"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// StoreConfig holds entity store configuration.
type StoreConfig struct {
	DataDir       string        `koanf:"data_dir"`
	Workers       int           `koanf:"workers"`
	AddTimeout    time.Duration `koanf:"add_timeout"`
	SearchTimeout time.Duration `koanf:"search_timeout"`
	CompressIndex bool          `koanf:"compress_index"`
}

// EmbeddingsConfig holds embedding provider configuration.
type EmbeddingsConfig struct {
	Provider  string `koanf:"provider"`
	Model     string `koanf:"model"`
	BaseURL   string `koanf:"base_url"`
	APIKey    Secret `koanf:"api_key"`
	Dimension int    `koanf:"dimension"`
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
	OTLPEndpoint    string `koanf:"otlp_endpoint"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9090
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	// Store defaults
	if cfg.Store.DataDir == "" {
		cfg.Store.DataDir = "data"
	}
	if cfg.Store.AddTimeout == 0 {
		cfg.Store.AddTimeout = 5 * time.Minute
	}
	if cfg.Store.SearchTimeout == 0 {
		cfg.Store.SearchTimeout = 30 * time.Second
	}

	// Embeddings defaults
	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "openai"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = defaultModelFor(cfg.Embeddings.Provider)
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	// Observability defaults
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "entityragd"
	}
}

// defaultModelFor returns the default embedding model for a provider.
func defaultModelFor(provider string) string {
	switch provider {
	case "tei":
		return "BAAI/bge-small-en-v1.5"
	default:
		return "text-embedding-3-small"
	}
}

// Validate validates the configuration.
//
// Returns an error if:
//   - Server port is not between 1 and 65535
//   - Shutdown timeout is not positive
//   - Store data directory is empty or workers negative
//   - Embedding provider is unknown
//   - Logging level or format is unrecognized
//   - Service name is empty when telemetry is enabled
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.Store.DataDir == "" {
		return errors.New("store data directory is required")
	}
	if c.Store.Workers < 0 {
		return fmt.Errorf("store workers must be non-negative, got %d", c.Store.Workers)
	}
	if c.Store.AddTimeout <= 0 || c.Store.SearchTimeout <= 0 {
		return errors.New("store timeouts must be positive")
	}

	switch c.Embeddings.Provider {
	case "openai", "tei", "hash":
	default:
		return fmt.Errorf("unknown embedding provider: %q", c.Embeddings.Provider)
	}
	if c.Embeddings.Dimension < 0 {
		return fmt.Errorf("embedding dimension must be non-negative, got %d", c.Embeddings.Dimension)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level: %q", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("log format must be 'json' or 'console', got %q", c.Logging.Format)
	}

	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}

	return nil
}
