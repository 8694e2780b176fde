// Package server exposes the bridge's JSON API: request lifecycle operations
// for requesters and an operator surface under /api/admin, each behind its
// own key.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"tidebridge/internal/server/handler"
	"tidebridge/internal/server/middleware"
)

// Config holds the HTTP API server configuration.
type Config struct {
	Port     int
	APIKey   string // guards the public surface; empty disables auth
	AdminKey string // guards /api/admin; empty disables auth
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Requests  *handler.RequestHandler
	Escrow    *handler.EscrowHandler
	Positions *handler.PositionHandler
	Admin     *handler.AdminHandler
}

// Server is the bridge's HTTP API server.
type Server struct {
	httpServer *http.Server
	logger     zerolog.Logger
}

// NewServer registers all routes and builds the middleware chain. The public
// and admin route groups are authenticated with separate keys.
func NewServer(cfg Config, handlers Handlers, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()

	api := middleware.Auth(cfg.APIKey)
	admin := middleware.Auth(cfg.AdminKey)

	// Request lifecycle.
	mux.Handle("POST /api/requests", api(http.HandlerFunc(handlers.Requests.Submit)))
	mux.Handle("GET /api/requests", api(http.HandlerFunc(handlers.Requests.List)))
	mux.Handle("GET /api/requests/{id}", api(http.HandlerFunc(handlers.Requests.Get)))
	mux.Handle("DELETE /api/requests/{id}", api(http.HandlerFunc(handlers.Requests.Cancel)))

	// Read side.
	mux.Handle("GET /api/escrow", api(http.HandlerFunc(handlers.Escrow.Get)))
	mux.Handle("GET /api/positions", api(http.HandlerFunc(handlers.Positions.List)))

	// Operator surface.
	mux.Handle("POST /api/admin/requests/drop", admin(http.HandlerFunc(handlers.Admin.DropRequests)))
	mux.Handle("POST /api/admin/recover", admin(http.HandlerFunc(handlers.Admin.Recover)))
	mux.Handle("POST /api/admin/escrow/correct", admin(http.HandlerFunc(handlers.Admin.CorrectEscrow)))
	mux.Handle("PUT /api/admin/pending-cap", admin(http.HandlerFunc(handlers.Admin.SetPendingCap)))
	mux.Handle("PUT /api/admin/batch-limit", admin(http.HandlerFunc(handlers.Admin.SetBatchLimit)))
	mux.Handle("PUT /api/admin/min-deposit", admin(http.HandlerFunc(handlers.Admin.SetMinDeposit)))
	mux.Handle("PUT /api/admin/relay-address", admin(http.HandlerFunc(handlers.Admin.SetRelayAddress)))
	mux.Handle("PUT /api/admin/allowlist", admin(http.HandlerFunc(handlers.Admin.UpdateAllowlist)))
	mux.Handle("PUT /api/admin/blocklist", admin(http.HandlerFunc(handlers.Admin.UpdateBlocklist)))
	mux.Handle("GET /api/admin/settings", admin(http.HandlerFunc(handlers.Admin.Settings)))
	mux.Handle("GET /api/admin/status", admin(http.HandlerFunc(handlers.Admin.Status)))

	h := middleware.Logging(logger)(mux)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{httpServer: srv, logger: logger}
}

// Handler returns the fully wired HTTP handler, including middleware.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening. It blocks until the server errors or shuts down.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("api server starting")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("api server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	return nil
}
