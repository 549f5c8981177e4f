// Package server is the ledger's HTTP API. Tenant-scoped routes live under
// /api and require the X-Tenant-ID header; /api/health and /metrics do not.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/tradeledger/internal/domain"
	"github.com/alanyoungcy/tradeledger/internal/server/handler"
	"github.com/alanyoungcy/tradeledger/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimit is the number of requests per RateWindow allowed for one
	// tenant. Zero disables rate limiting.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health  *handler.HealthHandler
	Ledger  *handler.LedgerHandler
	Sync    *handler.SyncHandler
	Cache   *handler.CacheHandler
	Metrics http.Handler // optional
}

// Server is the headless HTTP API server of the ledger.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered. limiter may be nil.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      NewHandler(cfg, handlers, limiter, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler builds the routed, middleware-wrapped handler.
func NewHandler(cfg Config, handlers Handlers, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /api/positions", handlers.Ledger.ListPositions)
	api.HandleFunc("GET /api/trades", handlers.Ledger.ListTrades)
	api.HandleFunc("GET /api/pnl", handlers.Ledger.GetPnl)
	api.HandleFunc("GET /api/daily-stats", handlers.Ledger.GetDailyStat)
	api.HandleFunc("GET /api/audit", handlers.Ledger.ListAudit)

	api.HandleFunc("POST /api/sync", handlers.Sync.SyncAll)
	api.HandleFunc("POST /api/sync/positions", handlers.Sync.SyncPositions)
	api.HandleFunc("POST /api/sync/orders", handlers.Sync.SyncOrders)

	api.HandleFunc("GET /api/cache/stats", handlers.Cache.Stats)
	api.HandleFunc("DELETE /api/cache", handlers.Cache.Clear)

	var tenantScoped http.Handler = middleware.Tenant()(api)
	if limiter != nil && cfg.RateLimit > 0 {
		tenantScoped = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow)(tenantScoped)
	}
	tenantScoped = middleware.Auth(cfg.APIKey)(tenantScoped)

	root := http.NewServeMux()
	root.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	if handlers.Metrics != nil {
		root.Handle("GET /metrics", handlers.Metrics)
	}
	root.Handle("/api/", tenantScoped)

	var h http.Handler = root
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
