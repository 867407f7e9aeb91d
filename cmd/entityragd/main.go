// Entityragd is a daemon for per-entity document indexing and retrieval.
//
// This binary starts the entityrag HTTP server with full service
// initialization: embeddings provider, sharded metadata storage, per-entity
// vector indexes, and observability.
//
// Configuration is loaded from a YAML file and environment variables. See
// internal/config for details.
//
// Usage:
//
//	# Start server with defaults
//	entityragd
//
//	# Configure via file or environment
//	entityragd --config /etc/entityrag/config.yaml
//	ENTITYRAG_SERVER_PORT=8081 entityragd
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/entityrag/internal/config"
	"github.com/fyrsmithlabs/entityrag/internal/embeddings"
	"github.com/fyrsmithlabs/entityrag/internal/entitystore"
	"github.com/fyrsmithlabs/entityrag/internal/http"
	"github.com/fyrsmithlabs/entityrag/internal/logging"
	"github.com/fyrsmithlabs/entityrag/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()
	args := flag.Args()

	// Handle subcommands
	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  entityragd           Start the entityrag daemon\n")
			fmt.Fprintf(os.Stderr, "  entityragd version   Show version information\n")
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("entityragd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the entityrag server and blocks until context is cancelled.
//
// This function initializes all dependencies:
//  1. Loads and validates configuration
//  2. Initializes logger and telemetry
//  3. Creates the embeddings provider
//  4. Creates the entity store manager
//  5. Starts the HTTP server
//  6. Performs graceful shutdown on context cancellation
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		ServiceName: cfg.Observability.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	logger.Info("Starting entityragd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("data_dir", cfg.Store.DataDir),
		zap.String("embedding_provider", cfg.Embeddings.Provider),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout))

	tel, err := initTelemetry(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	if health := tel.Health(); health.Degraded {
		logger.Warn("telemetry degraded", zap.String("reason", health.Reason))
	}

	provider, err := embeddings.NewProvider(embeddings.ProviderConfig{
		Provider:  cfg.Embeddings.Provider,
		Model:     cfg.Embeddings.Model,
		BaseURL:   cfg.Embeddings.BaseURL,
		APIKey:    cfg.Embeddings.APIKey.Value(),
		Dimension: cfg.Embeddings.Dimension,
	})
	if err != nil {
		return fmt.Errorf("failed to create embeddings provider: %w", err)
	}
	defer func() {
		_ = provider.Close()
	}()

	logger.Info("Embeddings provider initialized",
		zap.String("provider", cfg.Embeddings.Provider),
		zap.String("model", cfg.Embeddings.Model))

	manager, err := entitystore.NewManager(entitystore.Config{
		DataDir:       cfg.Store.DataDir,
		Workers:       cfg.Store.Workers,
		AddTimeout:    cfg.Store.AddTimeout,
		SearchTimeout: cfg.Store.SearchTimeout,
		CompressIndex: cfg.Store.CompressIndex,
	}, provider, entitystore.DefaultChunker(), logger)
	if err != nil {
		return fmt.Errorf("failed to create entity store manager: %w", err)
	}
	defer func() {
		if err := manager.Close(); err != nil {
			logger.Warn("manager close failed", zap.Error(err))
		}
	}()

	srv, err := http.NewServer(manager, logger, &http.Config{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	logger.Info("Server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://%s:%d/health", cfg.Server.Host, cfg.Server.Port)),
		zap.String("api_prefix", "/api/v1"),
		zap.String("metrics_endpoint", "/metrics"))

	// Start server and block until context cancellation
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// initTelemetry builds the telemetry stack from the daemon configuration.
func initTelemetry(ctx context.Context, cfg *config.Config) (*telemetry.Telemetry, error) {
	telCfg := telemetry.NewDefaultConfig()
	telCfg.Enabled = cfg.Observability.EnableTelemetry
	telCfg.ServiceName = cfg.Observability.ServiceName
	telCfg.ServiceVersion = version
	if cfg.Observability.OTLPEndpoint != "" {
		telCfg.Endpoint = cfg.Observability.OTLPEndpoint
	}
	return telemetry.New(ctx, telCfg)
}
