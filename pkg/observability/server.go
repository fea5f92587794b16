package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Server provides HTTP endpoints for health checks and metrics
type Server struct {
	httpServer *http.Server
	port       int
}

// NewServer creates a new observability server probing the components of
// health.
func NewServer(port int, health *Registry) *Server {
	return &Server{
		port: port,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      Handler(health),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Handler returns the observability routes
func Handler(health *Registry) http.Handler {
	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("/health", health.HealthHandler())
	mux.HandleFunc("/health/live", health.LivenessHandler())
	mux.HandleFunc("/health/ready", health.ReadinessHandler())

	// Metrics endpoint
	mux.Handle("/metrics", MetricsHandler())
	return mux
}

// Start starts the observability server. It blocks until the server stops
// and returns nil after a graceful Shutdown.
func (s *Server) Start() error {
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
