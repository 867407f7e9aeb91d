// Package http provides the HTTP API for entityragd.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/entityrag/internal/entitystore"
)

// Server provides HTTP endpoints over an entity store manager.
type Server struct {
	echo    *echo.Echo
	manager *entitystore.Manager
	logger  *zap.Logger
	config  *Config
	started time.Time
}

// Config holds HTTP server configuration.
type Config struct {
	Host    string
	Port    int
	Version string
}

// NewServer creates a new HTTP server.
func NewServer(manager *entitystore.Manager, logger *zap.Logger, cfg *Config) (*Server, error) {
	if manager == nil {
		return nil, fmt.Errorf("manager cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9090,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(logger).Middleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:    e,
		manager: manager,
		logger:  logger,
		config:  cfg,
		started: time.Now(),
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	// Health check and Prometheus metrics
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// API v1 routes
	v1 := s.echo.Group("/api/v1")
	v1.GET("/status", s.handleStatus)

	v1.POST("/entities/:entity/documents", s.handleAddDocument)
	v1.GET("/entities/:entity/documents", s.handleListDocuments)
	v1.DELETE("/entities/:entity/documents/:doc", s.handleDeleteDocument)
	v1.POST("/entities/:entity/documents/:doc/chunks", s.handleAddChunks)
	v1.GET("/entities/:entity/documents/:doc/chunks", s.handleGetDocumentChunks)
	v1.GET("/entities/:entity/documents/:doc/chunks/:index", s.handleGetChunk)
	v1.POST("/entities/:entity/search", s.handleSearch)
	v1.GET("/entities/:entity/stats", s.handleStats)

	// Cross-entity operations
	v1.POST("/documents/batch", s.handleBatchAdd)
	v1.POST("/search", s.handleMultiSearch)
}

// Echo exposes the underlying echo instance for route registration in tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleStatus reports daemon status and cached entity stores.
func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, StatusResponse{
		Status:         "ok",
		Version:        s.config.Version,
		UptimeSeconds:  int64(time.Since(s.started).Seconds()),
		CachedEntities: s.manager.CachedEntities(),
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
