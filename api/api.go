package api

import (
	"context"
	"log/slog"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/papercomputeco/memwal/pkg/logger"
)

// Server is the API server for ingesting interactions and inspecting the WAL.
type Server struct {
	config Config
	logger *slog.Logger
	app    *fiber.App
}

// NewServer creates a new API server. Dependencies are injected through
// config so the store can be shared with a worker running in-process.
func NewServer(config Config, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = logger.Nop()
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		// Route params are stored by the WAL; they must outlive the request.
		Immutable: true,
	})

	s := &Server{
		config: config,
		logger: log,
		app:    app,
	}

	app.Get("/ping", s.handlePing)

	if config.Health != nil {
		app.Get("/health", s.handleHealth)
	}
	if config.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(config.Gatherer, promhttp.HandlerOpts{})))
	}

	tenants := app.Group("/v1/tenants/:tenant")
	if config.Gateway != nil {
		tenants.Post("/interactions", s.handleIngest)
	}
	if config.Store != nil {
		tenants.Get("/wal/stats", s.handleStats)
		tenants.Get("/wal/pending", s.handlePending)
		tenants.Get("/wal/failed", s.handleFailed)
		tenants.Get("/wal/checkpoint", s.handleCheckpoint)
		tenants.Get("/wal/entries/:id", s.handleGetEntry)
	}

	return s, nil
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server", "listen", s.config.ListenAddr)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
