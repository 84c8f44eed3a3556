package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"go.uber.org/zap"

	"github.com/3leaps/vidsentry/internal/config"
	"github.com/3leaps/vidsentry/internal/observability"
	"github.com/3leaps/vidsentry/pkg/job"
	"github.com/3leaps/vidsentry/pkg/jobregistry"
	"github.com/3leaps/vidsentry/pkg/jobrunner"
	"github.com/3leaps/vidsentry/pkg/provider"
	"github.com/3leaps/vidsentry/pkg/provider/file"
	"github.com/3leaps/vidsentry/pkg/provider/s3"
	"github.com/3leaps/vidsentry/pkg/resultstore"
	"github.com/3leaps/vidsentry/pkg/videostore"
)

// jobRuntime holds the backends a job-running command needs.
type jobRuntime struct {
	cfg      *config.Config
	objects  provider.ObjectStore
	videos   *videostore.Store
	results  *resultstore.Store
	registry *jobregistry.Store
	metrics  *observability.JobMetrics
	manager  *jobrunner.Manager
}

type runtimeOptions struct {
	Logger  *zap.Logger
	Manual  bool
	Metrics bool
}

func newJobRuntime(ctx context.Context, cfg *config.Config, opts runtimeOptions) (*jobRuntime, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	intervals, err := tickIntervals(cfg.Runner.Intervals)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid runner intervals", err)
	}

	rt := &jobRuntime{cfg: cfg}

	rt.objects, err = openObjectStore(ctx, cfg.Storage)
	if err != nil {
		return nil, exitError(foundry.ExitExternalServiceUnavailable, "Failed to open video storage", err)
	}
	rt.videos = videostore.New(rt.objects)

	rt.results, err = resultstore.OpenStore(ctx, resultstore.Config{
		Path:      cfg.Store.Path,
		URL:       cfg.Store.URL,
		AuthToken: cfg.Store.AuthToken,
	})
	if err != nil {
		_ = rt.objects.Close()
		return nil, exitError(foundry.ExitExternalServiceUnavailable, "Failed to open results store", err)
	}

	rt.registry = jobregistry.NewStore(cfg.Registry.Dir)

	var metrics jobrunner.Metrics
	if opts.Metrics {
		rt.metrics = observability.NewJobMetrics()
		metrics = rt.metrics
	}

	rt.manager = jobrunner.NewManager(jobrunner.Options{
		Synth:     job.NewRandomSynthesizer(cfg.Runner.Seed),
		Exclusive: cfg.Runner.Exclusive,
		Manual:    opts.Manual,
		Intervals: intervals,
		Registry:  rt.registry,
		Videos:    rt.videos,
		Recorder:  rt.results,
		Models:    rt.results,
		Events:    jobrunner.NewEventBus(cfg.Runner.MaxEvents),
		Metrics:   metrics,
		Logger:    opts.Logger,
	})
	return rt, nil
}

// Close stops running jobs and releases the backends.
func (rt *jobRuntime) Close() {
	if rt == nil {
		return
	}
	if rt.manager != nil {
		rt.manager.Close()
	}
	if rt.results != nil {
		_ = rt.results.Close()
	}
	if rt.objects != nil {
		_ = rt.objects.Close()
	}
}

func openObjectStore(ctx context.Context, cfg config.StorageConfig) (provider.ObjectStore, error) {
	kind, ok := provider.ParseProviderType(cfg.Provider)
	if !ok {
		return nil, fmt.Errorf("unsupported storage provider: %q", cfg.Provider)
	}
	switch kind {
	case provider.ProviderS3:
		return s3.New(ctx, s3.Config{
			Bucket:   cfg.S3.Bucket,
			Region:   cfg.S3.Region,
			Endpoint: cfg.S3.Endpoint,
			Profile:  cfg.S3.Profile,
			// S3-compatible services (MinIO, moto) need path-style URLs.
			ForcePathStyle: cfg.S3.ForcePathStyle || cfg.S3.Endpoint != "",
			RegionFromIMDS: cfg.S3.RegionFromIMDS,
		})
	default:
		if err := os.MkdirAll(cfg.BaseDir, 0755); err != nil {
			return nil, fmt.Errorf("create video dir: %w", err)
		}
		return file.New(file.Config{BaseDir: cfg.BaseDir})
	}
}

func tickIntervals(in map[string]time.Duration) (map[job.Kind]time.Duration, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[job.Kind]time.Duration, len(in))
	for name, d := range in {
		kind, err := job.ParseKind(name)
		if err != nil {
			return nil, err
		}
		out[kind] = d
	}
	return out, nil
}
