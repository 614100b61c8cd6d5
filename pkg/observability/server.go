package observability

import (
	"context"
	"net/http"
	"time"
)

// Server exposes health and metrics endpoints over HTTP
type Server struct {
	httpServer *http.Server
	addr       string
}

// NewServer creates a new observability server listening on addr
// (e.g. ":9090" or "127.0.0.1:9090")
func NewServer(addr string) *Server {
	return &Server{
		addr: addr,
	}
}

// Handler returns the routing handler used by the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("/health", HealthHandler())
	mux.HandleFunc("/health/live", LivenessHandler())
	mux.HandleFunc("/health/ready", ReadinessHandler())

	// Metrics endpoint
	mux.Handle("/metrics", MetricsHandler())

	return mux
}

// Start starts the observability server and blocks until it stops
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
