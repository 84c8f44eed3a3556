// Package server hosts the vidsentry HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/3leaps/vidsentry/internal/apperrors"
	"github.com/3leaps/vidsentry/internal/observability"
	"github.com/3leaps/vidsentry/internal/server/handlers"
	"github.com/3leaps/vidsentry/internal/server/middleware"
)

// Server is the HTTP front end.
type Server struct {
	host string
	port int

	router     chi.Router
	httpServer *http.Server
	logger     *zap.Logger

	api         *handlers.API
	metrics     *observability.JobMetrics
	rateLimit   float64
	rateBurst   int
	timeouts    Timeouts
	metricsPath string
	profiler    bool
}

// Timeouts bound the HTTP server.
type Timeouts struct {
	Read     time.Duration
	Write    time.Duration
	Idle     time.Duration
	Shutdown time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithAPI mounts the job API under /api.
func WithAPI(api *handlers.API) Option {
	return func(s *Server) { s.api = api }
}

// WithMetrics serves /metrics and counts requests.
func WithMetrics(m *observability.JobMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithRateLimit throttles job submissions per client.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Server) {
		s.rateLimit = perSecond
		s.rateBurst = burst
	}
}

// WithMetricsPath moves the metrics endpoint. An empty path keeps request
// counting but serves no endpoint, for deployments that expose metrics on a
// separate listener.
func WithMetricsPath(path string) Option {
	return func(s *Server) { s.metricsPath = path }
}

// WithProfiler mounts net/http/pprof under /debug.
func WithProfiler() Option {
	return func(s *Server) { s.profiler = true }
}

func WithTimeouts(t Timeouts) Option {
	return func(s *Server) { s.timeouts = t }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New builds a server for host:port.
func New(host string, port int, opts ...Option) *Server {
	s := &Server{
		host:        host,
		port:        port,
		logger:      observability.ServerLogger,
		metricsPath: "/metrics",
		timeouts: Timeouts{
			Read:     30 * time.Second,
			Write:    30 * time.Second,
			Idle:     120 * time.Second,
			Shutdown: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	var obs middleware.RequestObserver
	if s.metrics != nil {
		obs = s.metrics
	}
	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog(s.logger, obs))
	r.Use(middleware.Recovery)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apperrors.Write(w, r, http.StatusNotFound, apperrors.CodeNotFound, "resource not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		apperrors.Write(w, r, http.StatusMethodNotAllowed, apperrors.CodeMethodNotAllowed,
			"method not allowed", map[string]any{"method": r.Method})
	})

	r.Get("/health", handlers.HealthHandler)
	r.Get("/health/live", handlers.LivenessHandler)
	r.Get("/health/ready", handlers.ReadinessHandler)
	r.Get("/health/startup", handlers.StartupHandler)
	r.Get("/version", handlers.VersionHandler)

	if s.metrics != nil && s.metricsPath != "" {
		r.Method(http.MethodGet, s.metricsPath, s.metrics.Handler())
	}
	if s.profiler {
		r.Mount("/debug", chimw.Profiler())
	}

	if s.api != nil {
		var submit func(http.Handler) http.Handler
		if s.rateLimit > 0 {
			submit = middleware.NewRateLimiter(s.rateLimit, s.rateBurst).Middleware()
		}
		r.Route("/api", func(r chi.Router) {
			s.api.Routes(r, submit)
		})
	}
	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Addr returns host:port.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.timeouts.Read,
		WriteTimeout: s.timeouts.Write,
		IdleTimeout:  s.timeouts.Idle,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", ln.Addr().String()))
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.timeouts.Shutdown)
	defer cancel()
	s.logger.Info("Shutting down HTTP server", zap.Duration("timeout", s.timeouts.Shutdown))
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-serverErr
}
