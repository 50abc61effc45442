// Package server exposes the prediction service over HTTP and websocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ChiefWoods/prediction/internal/cache/local"
	"github.com/ChiefWoods/prediction/internal/domain"
	"github.com/ChiefWoods/prediction/internal/metrics"
	"github.com/ChiefWoods/prediction/internal/server/handler"
	"github.com/ChiefWoods/prediction/internal/server/middleware"
	"github.com/ChiefWoods/prediction/internal/server/ws"
)

// Config holds the HTTP server settings.
type Config struct {
	Port        int
	CORSOrigins []string
	AuthMaxSkew time.Duration
	AdminAPIKey string
	RateLimit   int
	RateWindow  time.Duration
}

// Handlers aggregates the route handlers.
type Handlers struct {
	Health    *handler.HealthHandler
	Config    *handler.ConfigHandler
	Markets   *handler.MarketHandler
	Positions *handler.PositionHandler
	Accounts  *handler.AccountHandler
}

// Deps are the shared collaborators of the middleware chain. Limiter, Hub
// and Metrics are optional. Signatures defaults to an in-process lock
// manager.
type Deps struct {
	Limiter    domain.RateLimiter
	Signatures domain.LockManager
	Hub        *ws.Hub
	Metrics    *metrics.Metrics
	Clock      domain.Clock
}

// Server is the HTTP API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware chain.
func NewServer(cfg Config, h Handlers, deps Deps, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()

	if deps.Signatures == nil {
		deps.Signatures = local.NewLockManager()
	}
	signed := middleware.Signature(cfg.AuthMaxSkew, deps.Clock, deps.Signatures)
	admin := middleware.APIKey(cfg.AdminAPIKey)
	handle := func(pattern string, wrap func(http.Handler) http.Handler, fn http.HandlerFunc) {
		if wrap == nil {
			mux.Handle(pattern, fn)
			return
		}
		mux.Handle(pattern, wrap(fn))
	}

	handle("GET /health", nil, h.Health.HealthCheck)
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics.Handler())
	}

	handle("GET /api/config", nil, h.Config.GetConfig)
	handle("POST /api/config", signed, h.Config.Initialize)
	handle("PATCH /api/config/fee", signed, h.Config.UpdateFee)

	handle("GET /api/markets", nil, h.Markets.ListMarkets)
	handle("POST /api/markets", signed, h.Markets.CreateMarket)
	handle("GET /api/markets/{market}", nil, h.Markets.GetMarket)
	handle("POST /api/markets/{market}/settle", signed, h.Markets.SettleMarket)

	handle("POST /api/markets/{market}/positions", signed, h.Positions.OpenPosition)
	handle("GET /api/markets/{market}/positions/{owner}", nil, h.Positions.GetPosition)
	handle("POST /api/markets/{market}/trades", signed, h.Positions.Trade)
	handle("POST /api/markets/{market}/claim", signed, h.Positions.Claim)
	handle("GET /api/positions/{owner}", nil, h.Positions.ListPositions)

	handle("GET /api/accounts/{owner}", nil, h.Accounts.GetAccount)
	handle("GET /api/events", nil, h.Accounts.Events)
	handle("POST /api/admin/deposits", admin, h.Accounts.Deposit)
	handle("GET /api/admin/audit", admin, h.Accounts.AuditLog)

	if deps.Hub != nil {
		mux.HandleFunc("GET /ws", deps.Hub.HandleWS)
	}

	var chain http.Handler = mux
	chain = middleware.RateLimit(deps.Limiter, cfg.RateLimit, cfg.RateWindow, logger)(chain)
	chain = middleware.Logging(logger, deps.Metrics)(chain)
	chain = middleware.CORS(cfg.CORSOrigins)(chain)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           chain,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the root handler including middleware.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
