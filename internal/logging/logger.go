// Package logging builds the structured zap logger used across entityragd.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds logger construction options.
type Config struct {
	// Level is the minimum level emitted: debug, info, warn or error.
	Level string
	// Format selects the encoder: "json" or "console".
	Format string
	// ServiceName, when set, is attached to every entry as a constant field.
	ServiceName string
}

// New creates a zap logger writing to stderr.
func New(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	encoder, err := newEncoder(cfg.Format)
	if err != nil {
		return nil, err
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level)

	logger := zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if cfg.ServiceName != "" {
		logger = logger.With(zap.String("service", cfg.ServiceName))
	}

	return logger, nil
}

// newEncoder creates a JSON or console encoder.
func newEncoder(format string) (zapcore.Encoder, error) {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	switch format {
	case "json":
		return zapcore.NewJSONEncoder(encoderCfg), nil
	case "console":
		encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewConsoleEncoder(encoderCfg), nil
	default:
		return nil, fmt.Errorf("log format must be 'json' or 'console', got %q", format)
	}
}
