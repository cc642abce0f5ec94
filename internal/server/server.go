package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/mockexchange/internal/domain"
	"github.com/alanyoungcy/mockexchange/internal/server/handler"
	"github.com/alanyoungcy/mockexchange/internal/server/middleware"
	"github.com/alanyoungcy/mockexchange/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port            int
	CORSOrigins     []string
	APIKey          string // if empty, authentication is disabled
	RateLimit       int
	RateLimitWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers. Archives is
// optional; the route is absent when object storage is not configured.
type Handlers struct {
	Health    *handler.HealthHandler
	Status    *handler.StatusHandler
	Book      *handler.BookHandler
	Markets   *handler.MarketHandler
	Selection *handler.SelectionHandler
	Trades    *handler.TradeHandler
	Archives  *handler.ArchiveHandler
}

// Server is the HTTP + WebSocket API behind the exchange terminal.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes and wraps them in the middleware chain:
// CORS, logging, rate limit, then auth.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	Routes(mux, handlers, wsHub)

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateLimitWindow, logger)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Routes registers every endpoint on mux.
func Routes(mux *http.ServeMux, h Handlers, wsHub *ws.Hub) {
	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", h.Status.GetStatus)

	mux.HandleFunc("GET /api/book", h.Book.GetBook)

	mux.HandleFunc("GET /api/markets", h.Markets.ListMarkets)
	mux.HandleFunc("GET /api/price", h.Markets.GetPrice)
	mux.HandleFunc("GET /api/candles", h.Markets.GetCandles)

	mux.HandleFunc("GET /api/selection", h.Selection.GetSelection)
	mux.HandleFunc("PUT /api/selection", h.Selection.PutSelection)
	mux.HandleFunc("POST /api/favorites/{id}", h.Selection.ToggleFavorite)

	mux.HandleFunc("GET /api/trades", h.Trades.ListTrades)
	mux.HandleFunc("POST /api/trades", h.Trades.PlaceTrade)
	mux.HandleFunc("GET /api/balance", h.Trades.GetBalance)

	if h.Archives != nil {
		mux.HandleFunc("GET /api/archives", h.Archives.ListArchives)
	}
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
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
