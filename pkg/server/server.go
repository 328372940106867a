// Package server exposes the relayer over HTTP
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/speedrun-hq/speedrun-relayer/pkg/circuitbreaker"
	"github.com/speedrun-hq/speedrun-relayer/pkg/logger"
	"github.com/speedrun-hq/speedrun-relayer/pkg/relay"
)

const (
	maxBodyBytes   = 1 << 20
	queryTimeout   = 10 * time.Second
	shutdownPeriod = 15 * time.Second
)

// Config holds the HTTP surface settings
type Config struct {
	Port           string
	MetricsAPIKey  string
	NativeSymbol   string
	NativeDecimals int
}

// Pinger checks the ledger endpoint is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server serves the relay API, health checks and metrics
type Server struct {
	cfg     Config
	relayer *relay.Orchestrator
	ledger  Pinger
	breaker *circuitbreaker.Breaker
	logger  logger.Logger
	router  chi.Router
}

// New creates a server. breaker may be nil.
func New(cfg Config, relayer *relay.Orchestrator, ledger Pinger, breaker *circuitbreaker.Breaker, log logger.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		relayer: relayer,
		ledger:  ledger,
		breaker: breaker,
		logger:  log,
	}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler of the server
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// relay waits for settlement and is bounded by the settlement timeout instead
	r.Post("/api/relay-intent", s.handleRelayIntent)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(queryTimeout))
		r.Get("/api/status", s.handleStatus)
		r.Get("/health", s.handleHealth)
		r.Get("/ready", s.handleReady)
	})

	// operator endpoints share the metrics API key
	r.With(s.metricsAuthMiddleware).Post("/circuit/reset", s.handleCircuitReset)
	r.With(s.metricsAuthMiddleware).Handle("/metrics", promhttp.Handler())
	return r
}

// metricsAuthMiddleware is a middleware that checks for a valid API key on operator endpoints
func (s *Server) metricsAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip auth if no API key is configured
		if s.cfg.MetricsAPIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
			return
		}

		if parts[1] != s.cfg.MetricsAPIKey {
			http.Error(w, "Invalid API key", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting relayer API on port %s", s.cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down relayer API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownPeriod)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return nil
}
