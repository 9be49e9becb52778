package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"codepulse/internal/api/health"
	"codepulse/internal/fanout"
	"codepulse/internal/gateway"
	"codepulse/internal/metrics"
	"codepulse/pkg/errors"
	"codepulse/pkg/logger"
)

// ServerConfig contains configuration for HTTP server
type ServerConfig struct {
	Port        int
	ServiceName string
	Version     string
}

// Server wraps HTTP server with lifecycle management
type Server struct {
	httpServer *http.Server
	log        *logger.Logger
}

// NewServer creates and configures HTTP server with all routes
func NewServer(
	cfg ServerConfig,
	healthHandler *health.Handler,
	submitHandler *gateway.HTTPHandler,
	streamHandler *gateway.StreamHandler,
	liveHandler *fanout.LiveHandler,
	statsHandler *StatsHandler,
) *Server {
	log := logger.Get().With("component", "http_server")
	mux := http.NewServeMux()

	// Health check endpoints (Kubernetes probes)
	mux.HandleFunc("/health", healthHandler.HandleHealth)
	mux.HandleFunc("/ready", healthHandler.HandleReadiness)
	mux.HandleFunc("/live", healthHandler.HandleLiveness)

	// Prometheus metrics endpoint
	mux.Handle("/metrics", metrics.Handler())

	// Ingestion: streaming transport plus the request fallback
	mux.HandleFunc("/ws", streamHandler.HandleStream)
	mux.HandleFunc("/api/v1/pulse", submitHandler.HandleSubmit)

	// Live fan-out feed
	mux.HandleFunc("/ws/live", liveHandler.HandleLive)

	// Read side
	mux.HandleFunc("/api/v1/stats/daily", statsHandler.HandleDailyStats)
	mux.HandleFunc("/api/v1/stats/languages", statsHandler.HandleTopLanguages)
	mux.HandleFunc("/api/v1/sessions/recent", statsHandler.HandleRecentSessions)
	mux.HandleFunc("/api/v1/leaderboard", statsHandler.HandleLeaderboard)
	mux.HandleFunc("/api/v1/presence", statsHandler.HandlePresence)

	// Root endpoint (service info)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"service":"%s","version":"%s","status":"running"}`,
			cfg.ServiceName, cfg.Version)
	})

	port := 8080
	if cfg.Port > 0 {
		port = cfg.Port
	}

	log.Infof("HTTP server configured on port %d", port)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
		// No WriteTimeout: /ws and /ws/live hold their connections open
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		log:        log,
	}
}

// Start begins listening for HTTP requests
// Blocks until server is stopped or encounters an error
func (s *Server) Start() error {
	s.log.Infof("Starting HTTP server on %s", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "http server failed")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
// Waits for active connections to complete within timeout
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Stopping HTTP server...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "http server shutdown failed")
	}

	s.log.Info("✓ HTTP server stopped")
	return nil
}
