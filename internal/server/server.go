package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/encorelabs/arbiterd/internal/domain"
	"github.com/encorelabs/arbiterd/internal/server/handler"
	"github.com/encorelabs/arbiterd/internal/server/middleware"
	"github.com/encorelabs/arbiterd/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimiter, when set, applies per-client request limits across the API.
	RateLimiter     domain.RateLimiter
	RateLimit       int
	RateLimitWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Status   *handler.StatusHandler
	Disputes *handler.DisputeHandler
}

// Server is the headless HTTP + WebSocket API server for the arbitration
// service.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, rate limiting) and attaches the
// WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// --- Register routes ---

	// Health check and status (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	// Dispute lifecycle endpoints.
	mux.HandleFunc("POST /api/disputes", handlers.Disputes.FileDispute)
	mux.HandleFunc("GET /api/disputes/count", handlers.Disputes.DisputeCount)
	mux.HandleFunc("GET /api/disputes/{id}", handlers.Disputes.GetDispute)
	mux.HandleFunc("GET /api/disputes/{id}/evidence", handlers.Disputes.ListEvidence)
	mux.HandleFunc("POST /api/disputes/{id}/evidence", handlers.Disputes.SubmitEvidence)
	mux.HandleFunc("POST /api/disputes/{id}/evidence/complete", handlers.Disputes.CompleteEvidence)
	mux.HandleFunc("POST /api/disputes/{id}/decide", handlers.Disputes.DecideDispute)
	mux.HandleFunc("POST /api/disputes/{id}/appeal", handlers.Disputes.AppealDecision)
	mux.HandleFunc("POST /api/disputes/{id}/execute", handlers.Disputes.ExecuteResolution)
	mux.HandleFunc("GET /api/disputes/{id}/settlement", handlers.Disputes.GetSettlement)

	// Party views.
	mux.HandleFunc("GET /api/artists/{address}/disputes", handlers.Disputes.ListArtistDisputes)
	mux.HandleFunc("GET /api/venues/{address}/disputes", handlers.Disputes.ListVenueDisputes)

	// Settlement history.
	mux.HandleFunc("GET /api/settlements", handlers.Disputes.ListSettlements)

	// Admin endpoints.
	mux.HandleFunc("POST /api/admin/pause", handlers.Disputes.Pause)
	mux.HandleFunc("POST /api/admin/unpause", handlers.Disputes.Unpause)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey)(h)

	// Apply per-client rate limiting when a limiter is configured.
	if cfg.RateLimiter != nil && cfg.RateLimit > 0 && cfg.RateLimitWindow > 0 {
		h = middleware.RateLimit(cfg.RateLimiter, cfg.RateLimit, cfg.RateLimitWindow)(h)
	}

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply CORS middleware.
	h = corsMiddleware(cfg.CORSOrigins)(h)

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

// corsMiddleware returns middleware that sets CORS headers for the allowed
// origins. If no origins are specified, it defaults to allowing all origins.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" {
				allowed := len(allowedOrigins) == 0 // allow all if none specified
				for _, o := range allowedOrigins {
					if strings.EqualFold(o, "*") || strings.EqualFold(o, origin) {
						allowed = true
						break
					}
				}

				if allowed {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
					w.Header().Set("Access-Control-Max-Age", "86400")
				}
			}

			// Handle preflight requests.
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
