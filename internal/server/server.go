package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tradeforge/indexcore/internal/domain"
	"github.com/tradeforge/indexcore/internal/server/handler"
	"github.com/tradeforge/indexcore/internal/server/middleware"
	"github.com/tradeforge/indexcore/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// Per-client request limiting. Disabled when Limiter is nil or
	// RateLimit is zero.
	Limiter    domain.RateLimiter
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health      *handler.HealthHandler
	Book        *handler.BookHandler
	Orders      *handler.OrderHandler
	Commitments *handler.CommitmentHandler
	Settlements *handler.SettlementHandler
	Trades      *handler.TradeHandler
	Archives    *handler.ArchiveHandler // nil when the archiver is disabled
}

// Server is the HTTP + WebSocket API surface of the execution core.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth) and attaches the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// --- Register routes ---

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Order-book read endpoints.
	mux.HandleFunc("GET /api/book/{pair}", handlers.Book.GetSnapshot)

	// Order endpoints.
	mux.HandleFunc("GET /api/orders", handlers.Orders.ListOrders)
	mux.HandleFunc("POST /api/orders", handlers.Orders.SubmitOrder)
	mux.HandleFunc("GET /api/orders/{pair}/{id}", handlers.Orders.GetOrder)
	mux.HandleFunc("DELETE /api/orders/{pair}/{id}", handlers.Orders.CancelOrder)

	// Commit-reveal endpoints.
	mux.HandleFunc("POST /api/commitments", handlers.Commitments.Commit)
	mux.HandleFunc("POST /api/commitments/{id}/reveal", handlers.Commitments.Reveal)

	// Settlement status endpoint.
	mux.HandleFunc("GET /api/settlements/{id}", handlers.Settlements.GetStatus)

	// Trade history endpoint.
	mux.HandleFunc("GET /api/trades/{pair}", handlers.Trades.ListTrades)

	// Archive browse endpoints.
	if handlers.Archives != nil {
		mux.HandleFunc("GET /api/archives", handlers.Archives.ListKeys)
		mux.HandleFunc("GET /api/archives/{key...}", handlers.Archives.GetObject)
	}

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey)(h)

	// Apply per-client rate limiting when configured.
	if cfg.Limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(cfg.Limiter, cfg.RateLimit, cfg.RateWindow)(h)
	}

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply CORS middleware.
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
