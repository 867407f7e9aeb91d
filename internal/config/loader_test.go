package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	return path
}

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "data", cfg.Store.DataDir)
	assert.Equal(t, "openai", cfg.Embeddings.Provider)
}

func TestLoad_FromYAML(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 8081
  shutdown_timeout: 30s
store:
  data_dir: /srv/entityrag
  workers: 4
  compress_index: true
embeddings:
  provider: tei
  base_url: http://localhost:8080
logging:
  level: debug
  format: console
`, 0600)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "/srv/entityrag", cfg.Store.DataDir)
	assert.Equal(t, 4, cfg.Store.Workers)
	assert.True(t, cfg.Store.CompressIndex)
	assert.Equal(t, "tei", cfg.Embeddings.Provider)
	assert.Equal(t, "http://localhost:8080", cfg.Embeddings.BaseURL)
	// Model default tracks the provider picked in the file
	assert.Equal(t, "BAAI/bge-small-en-v1.5", cfg.Embeddings.Model)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 8081
store:
  data_dir: /srv/entityrag
`, 0600)

	t.Setenv("ENTITYRAG_SERVER_PORT", "9999")
	t.Setenv("ENTITYRAG_STORE_DATA_DIR", "/tmp/override")
	t.Setenv("ENTITYRAG_EMBEDDINGS_API_KEY", "sk-from-env")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "/tmp/override", cfg.Store.DataDir)
	assert.Equal(t, "sk-from-env", cfg.Embeddings.APIKey.Value())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoad_RejectsWorldReadableFile(t *testing.T) {
	path := writeConfigFile(t, "server:\n  port: 8081\n", 0644)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoad_AllowsReadOnlyFile(t *testing.T) {
	path := writeConfigFile(t, "server:\n  port: 8081\n", 0400)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8081, cfg.Server.Port)
}

func TestLoad_RejectsOversizedFile(t *testing.T) {
	content := "# " + strings.Repeat("x", maxConfigFileSize) + "\n"
	path := writeConfigFile(t, content, 0600)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file too large")
}

func TestLoad_RejectsMalformedYAML(t *testing.T) {
	path := writeConfigFile(t, "server: [unclosed\n", 0600)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfigFile(t, "embeddings:\n  provider: carrier-pigeon\n", 0600)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
}

func TestTransformEnvKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ENTITYRAG_SERVER_PORT", "server.port"},
		{"ENTITYRAG_STORE_DATA_DIR", "store.data_dir"},
		{"ENTITYRAG_EMBEDDINGS_API_KEY", "embeddings.api_key"},
		{"ENTITYRAG_OBSERVABILITY_OTLP_ENDPOINT", "observability.otlp_endpoint"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, transformEnvKey(tt.in))
	}
}
