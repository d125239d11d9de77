package prometheus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/facade"
)

// Server exposes the global registry on its own port.
//
// It serves:
//   - GET /metrics: Prometheus metrics in text format
//   - GET /: a small index page linking to /metrics
//
// Server implements adapter.Adapter, so DriveServer starts and stops it
// together with the API.
type Server struct {
	server       *http.Server
	port         int
	shutdownOnce sync.Once
}

// ServerConfig configures the metrics HTTP server.
type ServerConfig struct {
	// Port to listen on. Default: 9090
	Port int
}

func (c *ServerConfig) applyDefaults() {
	if c.Port <= 0 {
		c.Port = 9090
	}
}

// NewServer creates a metrics server in a stopped state.
func NewServer(config ServerConfig) *Server {
	config.applyDefaults()

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>DittoDrive Metrics</title></head>
<body>
    <h1>DittoDrive Metrics Server</h1>
    <p><strong>Metrics Endpoint:</strong> <a href="/metrics">/metrics</a></p>
    <p>Configure Prometheus to scrape <code>http://&lt;host&gt;:%d/metrics</code></p>
</body>
</html>`, config.Port)
	})

	return &Server{
		server: &http.Server{
			Addr:         net.JoinHostPort("", strconv.Itoa(config.Port)),
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		port: config.Port,
	}
}

// Serve listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("Metrics server listening on port %d", s.port)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Metrics server shutdown signal received")
		// ctx is already cancelled, so shutdown gets its own deadline
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("metrics server failed: %w", err)
	}
}

// SetDrive implements adapter.Adapter. Metrics are global, so the drive is
// not needed.
func (s *Server) SetDrive(*facade.Drive) {}

// Stop shuts the server down. Safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("metrics server shutdown error: %w", err)
			logger.Error("Metrics server shutdown error: %v", err)
		} else {
			logger.Info("Metrics server stopped gracefully")
		}
	})
	return shutdownErr
}

// Protocol implements adapter.Adapter.
func (s *Server) Protocol() string { return "metrics" }

// Port implements adapter.Adapter.
func (s *Server) Port() int { return s.port }
