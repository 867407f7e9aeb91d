// Package telemetry provides OpenTelemetry instrumentation for entityragd.
package telemetry

import (
	"fmt"
	"strings"
	"time"
)

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool   `koanf:"enabled"`
	Endpoint       string `koanf:"endpoint"`
	Protocol       string `koanf:"protocol"` // "grpc" (default) or "http/protobuf"
	ServiceName    string `koanf:"service_name"`
	ServiceVersion string `koanf:"service_version"`
	Insecure       bool   `koanf:"insecure"`

	SamplingRate    float64       `koanf:"sampling_rate"` // 0.0-1.0, default 1.0
	MetricsEnabled  bool          `koanf:"metrics_enabled"`
	ExportInterval  time.Duration `koanf:"export_interval"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// NewDefaultConfig returns production-ready telemetry defaults.
// Telemetry is disabled by default for installs without an OTEL collector.
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:         false,
		Endpoint:        "localhost:4317",
		Protocol:        "grpc",
		ServiceName:     "entityragd",
		ServiceVersion:  "0.1.0",
		Insecure:        true, // local collector default; set false for production TLS
		SamplingRate:    1.0,
		MetricsEnabled:  true,
		ExportInterval:  15 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when telemetry is enabled")
	}
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required when telemetry is enabled")
	}
	if c.Protocol != "" && c.Protocol != "grpc" && c.Protocol != "http/protobuf" {
		return fmt.Errorf("protocol must be 'grpc' or 'http/protobuf', got %q", c.Protocol)
	}

	// Refuse plaintext export to anything that is not a local collector
	if c.Insecure && !c.isLocalEndpoint() {
		return fmt.Errorf("insecure connections to remote endpoints are not allowed; set insecure=false for TLS or use a local endpoint")
	}

	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return fmt.Errorf("sampling_rate must be between 0 and 1, got %f", c.SamplingRate)
	}
	if c.MetricsEnabled && c.ExportInterval <= 0 {
		return fmt.Errorf("export_interval must be positive when metrics enabled")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}

	return nil
}

// isLocalEndpoint checks if the endpoint is a local address.
func (c *Config) isLocalEndpoint() bool {
	host := c.Endpoint

	// Handle bracketed IPv6 like [::1]:4317
	if strings.HasPrefix(host, "[") {
		if idx := strings.Index(host, "]:"); idx != -1 {
			host = host[1:idx]
		} else if strings.HasSuffix(host, "]") {
			host = host[1 : len(host)-1]
		}
	} else if strings.Count(host, ":") == 1 {
		if idx := strings.LastIndex(host, ":"); idx != -1 {
			host = host[:idx]
		}
	}

	return host == "localhost" ||
		host == "::1" ||
		strings.HasPrefix(host, "127.") ||
		strings.HasPrefix(c.Endpoint, "::1")
}
