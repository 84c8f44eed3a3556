package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/vidsentry/internal/config"
	"github.com/3leaps/vidsentry/internal/observability"
	"github.com/3leaps/vidsentry/internal/server"
	"github.com/3leaps/vidsentry/internal/server/handlers"
	"github.com/3leaps/vidsentry/pkg/job"
	"github.com/3leaps/vidsentry/pkg/resultstore"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the HTTP server that backs the dashboard.

The job API is mounted under /api. Health probes are served at /health,
/health/live, /health/ready and /health/startup. Prometheus metrics are
served at /metrics, on a separate listener when metrics.port differs from
server.port.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "", "Listen host (default: server.host)")
	serveCmd.Flags().Int("port", 0, "Listen port (default: server.port)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	overrides := map[string]any{}
	if cmd.Flags().Changed("host") {
		host, _ := cmd.Flags().GetString("host")
		overrides["server.host"] = host
	}
	if cmd.Flags().Changed("port") {
		port, _ := cmd.Flags().GetInt("port")
		overrides["server.port"] = port
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(ctx, overrides)
	if err != nil {
		return err
	}

	identity := GetAppIdentity()
	if identity == nil {
		id := config.DefaultIdentity
		identity = &id
	}
	if err := observability.InitServerLogger(identity.BinaryName, observability.LogOptions{
		Level:      cfg.Logging.Level,
		Profile:    cfg.Logging.Profile,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	}); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to initialize logger", err)
	}
	defer observability.Sync()
	logger := observability.ServerLogger

	rt, err := newJobRuntime(ctx, cfg, runtimeOptions{
		Logger:  logger,
		Metrics: cfg.Metrics.Enabled,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	if n := restoreJobs(rt, logger); n > 0 {
		logger.Info("Restored job records", zap.Int("jobs", n))
	}

	if cfg.Health.Enabled {
		hm := handlers.InitHealthManager(versionInfo.Version)
		hm.RegisterChecker("signals", signalHealthChecker{})
		hm.RegisterChecker("identity", identityHealthChecker{
			binaryName: identity.BinaryName,
			envPrefix:  identity.EnvPrefix,
			configName: identity.ConfigName,
		})
		hm.RegisterChecker("results_store", storeHealthChecker{store: rt.results})
	}

	opts := []server.Option{
		server.WithAPI(handlers.NewAPI(rt.manager, rt.results, rt.videos, logger)),
		server.WithRateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst),
		server.WithTimeouts(server.Timeouts{
			Read:     cfg.Server.ReadTimeout,
			Write:    cfg.Server.WriteTimeout,
			Idle:     cfg.Server.IdleTimeout,
			Shutdown: cfg.Server.ShutdownTimeout,
		}),
		server.WithLogger(logger),
	}

	separateMetrics := rt.metrics != nil && cfg.Metrics.Port > 0 && cfg.Metrics.Port != cfg.Server.Port
	if rt.metrics != nil {
		opts = append(opts, server.WithMetrics(rt.metrics))
		if separateMetrics {
			opts = append(opts, server.WithMetricsPath(""))
		}
	}
	if cfg.Debug.PprofEnabled {
		opts = append(opts, server.WithProfiler())
		logger.Warn("pprof endpoints enabled under /debug")
	}

	srv := server.New(cfg.Server.Host, cfg.Server.Port, opts...)

	errCh := make(chan error, 2)
	running := 1
	go func() { errCh <- srv.Run(ctx) }()

	if separateMetrics {
		running++
		addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Metrics.Port))
		go func() { errCh <- serveMetrics(ctx, addr, rt.metrics.Handler(), logger) }()
	}

	var firstErr error
	for i := 0; i < running; i++ {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
			stop()
		}
	}
	if firstErr != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Server failed", firstErr)
	}
	logger.Info("Server stopped")
	return nil
}

// restoreJobs loads finished and idle jobs from the registry so the API
// lists them after a restart.
func restoreJobs(rt *jobRuntime, logger *zap.Logger) int {
	recs, err := rt.registry.List()
	if err != nil {
		logger.Warn("Failed to read job registry", zap.Error(err))
		return 0
	}
	jobs := make([]job.Job, 0, len(recs))
	for _, rec := range recs {
		jobs = append(jobs, rec.Job())
	}
	return rt.manager.Restore(jobs)
}

func serveMetrics(ctx context.Context, addr string, h http.Handler, logger *zap.Logger) error {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", h)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	srv := &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Metrics listening", zap.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// signalHealthChecker reports healthy while the process is handling
// signals; shutdown takes the server down before it could report otherwise.
type signalHealthChecker struct{}

func (signalHealthChecker) CheckHealth(ctx context.Context) error {
	return nil
}

type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(ctx context.Context) error {
	switch {
	case c.binaryName == "":
		return errors.New("identity: missing binary name")
	case c.envPrefix == "":
		return errors.New("identity: missing env prefix")
	case c.configName == "":
		return errors.New("identity: missing config name")
	}
	return nil
}

type storeHealthChecker struct {
	store *resultstore.Store
}

func (c storeHealthChecker) CheckHealth(ctx context.Context) error {
	if c.store == nil {
		return errors.New("results store not initialized")
	}
	return c.store.Ping(ctx)
}
