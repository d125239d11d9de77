// Package api exposes a drive over HTTP.
//
// Routes:
//
//	GET    /health
//	GET    /api/v1/listing?location=&folder=&q=&sort=
//	GET    /api/v1/usage
//	POST   /api/v1/folders                    {name, parentId}
//	GET    /api/v1/folders/{id}/breadcrumbs
//	DELETE /api/v1/folders/{id}
//	POST   /api/v1/folders/{id}/files         {files: [descriptor...]}
//	POST   /api/v1/folders/{id}/uploads       multipart/form-data
//	DELETE /api/v1/files/{id}
//	POST   /api/v1/files/{id}/star
//	PUT    /api/v1/files/{id}/verified        {verified}
//	GET    /api/v1/files/{id}/content
//	GET    /metrics                           (when ServeMetrics is set)
//
// Errors are RFC 7807 problem documents.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/internal/ratelimiter"
	"github.com/marmos91/dittodrive/pkg/facade"
	"github.com/marmos91/dittodrive/pkg/metrics/prometheus"
	"github.com/rs/cors"
)

// Config configures the HTTP API.
type Config struct {
	// Host is the interface to bind. Empty binds all interfaces.
	Host string `mapstructure:"host" yaml:"host"`

	// Port to listen on. Default: 8080
	Port int `mapstructure:"port" yaml:"port" validate:"gte=0,lte=65535"`

	// ShutdownTimeout bounds graceful shutdown. Default: 10s
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	// ReadHeaderTimeout bounds reading request headers. Default: 10s
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`

	// IdleTimeout closes idle keep-alive connections. Default: 60s
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`

	// CORSOrigins lists allowed origins. Empty disables CORS handling.
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`

	// RateLimit limits requests per client IP
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`

	// MaxUploadBytes bounds one multipart upload request. Default: 1 GiB
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes" yaml:"max_upload_bytes" validate:"gte=0"`

	// ServeMetrics mounts the Prometheus endpoint at /metrics
	ServeMetrics bool `mapstructure:"serve_metrics" yaml:"serve_metrics"`
}

// RateLimitConfig configures per-client rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per client. Zero disables
	// limiting.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second" validate:"gte=0"`

	// Burst is the bucket size per client
	Burst int `mapstructure:"burst" yaml:"burst" validate:"gte=0"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.ReadHeaderTimeout == 0 {
		c.ReadHeaderTimeout = 10 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.MaxUploadBytes == 0 {
		c.MaxUploadBytes = 1 << 30
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = int(c.RateLimit.RequestsPerSecond * 2)
	}
}

// NewRouter builds the HTTP handler for d.
//
// Middleware order, outermost first: CORS, request id, real ip, request
// log, panic recovery, metrics, rate limit.
func NewRouter(d *facade.Drive, cfg Config) http.Handler {
	return newRouter(d, cfg, ratelimiter.New(ratelimiter.Config{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
	}))
}

func newRouter(d *facade.Drive, cfg Config, limiter *ratelimiter.Limiter) http.Handler {
	cfg.ApplyDefaults()
	h := &handlers{drive: d, maxUploadBytes: cfg.MaxUploadBytes}

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.RequestLogger(logFormatter{}),
		recoverer,
		prometheus.HTTPMiddleware(),
		limiter.Middleware(nil),
	)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondProblem(w, r, http.StatusNotFound, "no such route", "")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondProblem(w, r, http.StatusMethodNotAllowed, "method not allowed", "")
	})

	r.Get("/health", h.health)
	if cfg.ServeMetrics {
		r.Method(http.MethodGet, "/metrics", prometheus.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/listing", h.listing)
		r.Get("/usage", h.usage)

		r.Post("/folders", h.createFolder)
		r.Route("/folders/{id}", func(r chi.Router) {
			r.Delete("/", h.deleteFolder)
			r.Get("/breadcrumbs", h.breadcrumbs)
			r.Post("/files", h.ingest)
			r.Post("/uploads", h.upload)
		})

		r.Route("/files/{id}", func(r chi.Router) {
			r.Delete("/", h.deleteFile)
			r.Post("/star", h.toggleStar)
			r.Put("/verified", h.setVerified)
			r.Get("/content", h.content)
		})
	})

	if len(cfg.CORSOrigins) == 0 {
		return r
	}
	return cors.New(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Origin", "Content-Type", "Accept", "Range"},
		ExposedHeaders: []string{"Content-Disposition", "Content-Length", "Retry-After"},
	}).Handler(r)
}

// recoverer turns a handler panic into a 500 problem.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				if entry := middleware.GetLogEntry(r); entry != nil {
					entry.Panic(rec, nil)
				} else {
					logger.Error("Panic serving %s %s: %v", r.Method, r.URL.Path, rec)
				}
				respondProblem(w, r, http.StatusInternalServerError, "internal server error", "")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// logFormatter routes chi request logs through the package logger.
type logFormatter struct{}

var _ middleware.LogFormatter = logFormatter{}

func (logFormatter) NewLogEntry(r *http.Request) middleware.LogEntry {
	return logEntry{request: r}
}

type logEntry struct {
	request *http.Request
}

func (e logEntry) Write(status, bytes int, _ http.Header, elapsed time.Duration, _ any) {
	req := e.request
	logger.Debug("%s %s %s %d %dB %s [%s]",
		req.RemoteAddr, req.Method, req.RequestURI, status, bytes, elapsed, middleware.GetReqID(req.Context()))
}

func (e logEntry) Panic(v any, _ []byte) {
	logger.Error("Panic serving %s %s: %v", e.request.Method, e.request.URL.Path, v)
}

// ============================================================================
// Adapter
// ============================================================================

// Server serves the API. It implements adapter.Adapter.
type Server struct {
	config  Config
	limiter *ratelimiter.Limiter

	mu       sync.Mutex
	drive    *facade.Drive
	server   *http.Server
	listener net.Listener

	shutdownOnce sync.Once
	ready        chan struct{}
}

// New creates an API server in a stopped state. SetDrive must be called
// before Serve.
func New(config Config) *Server {
	config.ApplyDefaults()
	return &Server{
		config: config,
		limiter: ratelimiter.New(ratelimiter.Config{
			RequestsPerSecond: config.RateLimit.RequestsPerSecond,
			Burst:             config.RateLimit.Burst,
		}),
		ready: make(chan struct{}),
	}
}

// SetDrive implements adapter.Adapter.
func (s *Server) SetDrive(d *facade.Drive) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drive = d
}

// Serve listens on the configured address until ctx is cancelled, then
// shuts down gracefully within ShutdownTimeout.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.drive == nil {
		s.mu.Unlock()
		return errors.New("api: no drive set")
	}

	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("api: listen on %s: %w", addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           newRouter(s.drive, s.config, s.limiter),
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
		IdleTimeout:       s.config.IdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	srv := s.server
	s.mu.Unlock()
	close(s.ready)

	if !s.limiter.Unlimited() {
		go s.limiter.Run(ctx, time.Minute)
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("API listening on %s", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		// ctx is already cancelled, so shutdown gets its own deadline
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("api server failed: %w", err)
	}
}

// Addr returns the bound address once Serve has started listening, or nil.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Ready is closed once Serve is listening.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Stop shuts the server down. Safe to call more than once and before
// Serve.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := srv.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("api shutdown error: %w", err)
			logger.Error("API shutdown error: %v", err)
		} else {
			logger.Info("API stopped gracefully")
		}
	})
	return shutdownErr
}

// Protocol implements adapter.Adapter.
func (s *Server) Protocol() string { return "HTTP" }

// Port implements adapter.Adapter.
func (s *Server) Port() int { return s.config.Port }
