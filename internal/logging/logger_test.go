package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "json info", cfg: Config{Level: "info", Format: "json"}},
		{name: "console debug", cfg: Config{Level: "debug", Format: "console"}},
		{name: "with service name", cfg: Config{Level: "warn", Format: "json", ServiceName: "entityragd"}},
		{name: "invalid level", cfg: Config{Level: "chatty", Format: "json"}, wantErr: "invalid log level"},
		{name: "invalid format", cfg: Config{Level: "info", Format: "xml"}, wantErr: "log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, logger)
			logger.Info("hello")
		})
	}
}

func TestNew_LevelFiltering(t *testing.T) {
	logger, err := New(Config{Level: "warn", Format: "json"})
	require.NoError(t, err)

	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
}

func TestNewEncoder(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		enc, err := newEncoder(format)
		require.NoError(t, err)
		require.NotNil(t, enc)
	}

	_, err := newEncoder("logfmt")
	require.Error(t, err)
}
