package config

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// envPrefix namespaces entityragd environment variables so unrelated
	// process environment never leaks into the configuration.
	envPrefix = "ENTITYRAG_"
)

// Load loads configuration from an optional YAML file, then overrides with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (ENTITYRAG_SERVER_PORT, ENTITYRAG_STORE_DATA_DIR, ...)
//  2. YAML config file (path passed via flag; skipped when empty or missing)
//  3. Hardcoded defaults
//
// # Security Considerations
//
// File Permissions: the configuration file may carry API keys, so it must
// have 0600 or 0400 permissions. World- or group-readable files are rejected.
//
// File Size Limit: configuration files larger than 1MB are rejected.
//
// # Environment Variable Mapping
//
// Environment variables are uppercased with an ENTITYRAG_ prefix. The first
// underscore after the prefix separates the section from the field name:
//
//	ENTITYRAG_SERVER_PORT          -> server.port
//	ENTITYRAG_STORE_DATA_DIR       -> store.data_dir
//	ENTITYRAG_EMBEDDINGS_API_KEY   -> embeddings.api_key
//
// # Example
//
//	cfg, err := config.Load("")  // defaults plus environment only
//	if err != nil {
//	    log.Fatal(err)
//	}
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	// Load from YAML file if one was given and it exists
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			// Open once and validate through the file descriptor to avoid
			// a TOCTOU race between stat and read.
			f, err := os.Open(configPath)
			if err != nil {
				return nil, fmt.Errorf("failed to open config file: %w", err)
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return nil, fmt.Errorf("failed to stat config file: %w", err)
			}

			if err := validateConfigFileProperties(info); err != nil {
				return nil, fmt.Errorf("config file validation failed: %w", err)
			}

			content, err := io.ReadAll(f)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}

			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	// Override with environment variables
	if err := k.Load(env.Provider(envPrefix, ".", transformEnvKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// transformEnvKey maps an environment variable name to a koanf key.
//
// Strategy: strip the prefix, lowercase, then split on the first underscore
// only (section.field_name pattern). Underscores inside the field name are
// kept, so ENTITYRAG_STORE_DATA_DIR becomes store.data_dir.
func transformEnvKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// validateConfigFileProperties checks file permissions and size.
// Takes FileInfo from an already-opened file descriptor.
func validateConfigFileProperties(info os.FileInfo) error {
	// Check file permissions (must be 0600 or 0400).
	// Skip on Windows (different permission model).
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}

	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	return nil
}
