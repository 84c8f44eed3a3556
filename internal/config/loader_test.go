package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	ctx := context.Background()

	// Test basic config loading with defaults
	t.Run("LoadDefaults", func(t *testing.T) {
		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		// Verify server defaults
		assert.Equal(t, "localhost", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
		assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
		assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

		// Verify logging defaults
		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Equal(t, "STRUCTURED", cfg.Logging.Profile)

		// Verify metrics defaults
		assert.True(t, cfg.Metrics.Enabled)
		assert.Equal(t, 9090, cfg.Metrics.Port)

		assert.True(t, cfg.Health.Enabled)
		assert.False(t, cfg.Debug.Enabled)

		// Runner and storage defaults
		assert.True(t, cfg.Runner.Exclusive)
		assert.Equal(t, "file", cfg.Storage.Provider)
		assert.Equal(t, 168*time.Hour, cfg.Registry.MaxAge)
	})

	t.Run("DerivedPathsFollowDataDir", func(t *testing.T) {
		dir := t.TempDir()
		cfg, err := Load(ctx, map[string]any{"data_dir": dir})
		require.NoError(t, err)

		assert.Equal(t, filepath.Join(dir, "jobs"), cfg.Registry.Dir)
		assert.Equal(t, filepath.Join(dir, "results.db"), cfg.Store.Path)
		assert.Equal(t, filepath.Join(dir, "videos"), cfg.Storage.BaseDir)
	})

	t.Run("StoreURLSkipsDefaultPath", func(t *testing.T) {
		cfg, err := Load(ctx, map[string]any{"store": map[string]any{"url": "libsql://results.example.io"}})
		require.NoError(t, err)
		assert.Empty(t, cfg.Store.Path)
	})

	// Test runtime overrides
	t.Run("RuntimeOverrides", func(t *testing.T) {
		overrides := map[string]any{
			"server": map[string]any{
				"port": 9000,
				"host": "0.0.0.0",
			},
			"logging": map[string]any{
				"level": "debug",
			},
		}

		cfg, err := Load(ctx, overrides)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, "debug", cfg.Logging.Level)

		// Verify non-overridden values remain default
		assert.Equal(t, "STRUCTURED", cfg.Logging.Profile)
		assert.Equal(t, 9090, cfg.Metrics.Port)
	})

	// Test environment variable overrides
	t.Run("EnvOverrides", func(t *testing.T) {
		t.Setenv("VIDSENTRY_PORT", "3000")
		t.Setenv("VIDSENTRY_LOG_LEVEL", "warn")
		t.Setenv("VIDSENTRY_METRICS_ENABLED", "false")
		t.Setenv("VIDSENTRY_RUNNER_EXCLUSIVE", "false")

		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, 3000, cfg.Server.Port)
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.False(t, cfg.Metrics.Enabled)
		assert.False(t, cfg.Runner.Exclusive)
	})

	// Test config precedence: runtime > env > defaults
	t.Run("ConfigPrecedence", func(t *testing.T) {
		t.Setenv("VIDSENTRY_PORT", "4000")

		overrides := map[string]any{
			"server": map[string]any{
				"port": 5000,
			},
		}

		cfg, err := Load(ctx, overrides)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, 5000, cfg.Server.Port)
	})
}

func TestLoadConfigFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "vidsentry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 7070
storage:
  provider: s3
  s3:
    bucket: clips
    region: eu-central-1
runner:
  intervals:
    upload: 50ms
    training: 1s
`), 0o644))

	SetConfigFile(path)
	defer SetConfigFile("")

	t.Setenv("VIDSENTRY_S3_BUCKET", "clips-from-env")

	cfg, err := Load(ctx)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "s3", cfg.Storage.Provider)
	assert.Equal(t, "clips-from-env", cfg.Storage.S3.Bucket, "env beats file")
	assert.Equal(t, "eu-central-1", cfg.Storage.S3.Region)
	assert.Equal(t, 50*time.Millisecond, cfg.Runner.Intervals["upload"])
	assert.Equal(t, time.Second, cfg.Runner.Intervals["training"])
}

func TestLoadMissingExplicitConfigFile(t *testing.T) {
	SetConfigFile(filepath.Join(t.TempDir(), "absent.yaml"))
	defer SetConfigFile("")

	_, err := Load(context.Background())
	require.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		overrides map[string]any
		wantErr   string
	}{
		{
			name:      "bad level",
			overrides: map[string]any{"logging": map[string]any{"level": "loud"}},
			wantErr:   "logging.level",
		},
		{
			name:      "bad port",
			overrides: map[string]any{"server": map[string]any{"port": 70000}},
			wantErr:   "server.port",
		},
		{
			name:      "unknown provider",
			overrides: map[string]any{"storage": map[string]any{"provider": "gcs"}},
			wantErr:   "storage.provider",
		},
		{
			name:      "s3 without bucket",
			overrides: map[string]any{"storage": map[string]any{"provider": "s3"}},
			wantErr:   "storage.s3.bucket",
		},
		{
			name:      "negative rate limit",
			overrides: map[string]any{"server": map[string]any{"rate_limit": -1}},
			wantErr:   "rate_limit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(ctx, tt.overrides)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetConfig(t *testing.T) {
	ctx := context.Background()

	cfg, err := Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	t.Run("GetConfigReturnsLoadedConfig", func(t *testing.T) {
		retrieved := GetConfig()
		assert.NotNil(t, retrieved)
		assert.Equal(t, cfg.Server.Port, retrieved.Server.Port)
		assert.Equal(t, cfg.Logging.Level, retrieved.Logging.Level)
	})
}

func TestEnvSpecs(t *testing.T) {
	ctx := context.Background()
	_, err := Load(ctx)
	require.NoError(t, err)

	specs := getEnvSpecs()
	assert.NotEmpty(t, specs)

	envVarNames := make(map[string]bool)
	for _, spec := range specs {
		envVarNames[spec.Name] = true
	}

	assert.True(t, envVarNames["VIDSENTRY_LOG_LEVEL"], "LOG_LEVEL env var must be mapped")
	assert.True(t, envVarNames["VIDSENTRY_PORT"], "PORT env var must be mapped")
	assert.True(t, envVarNames["VIDSENTRY_HOST"], "HOST env var must be mapped")
	assert.True(t, envVarNames["VIDSENTRY_METRICS_PORT"], "METRICS_PORT env var must be mapped")
	assert.True(t, envVarNames["VIDSENTRY_S3_BUCKET"], "S3_BUCKET env var must be mapped")
}

func TestDurationParsing(t *testing.T) {
	ctx := context.Background()

	t.Run("DurationFromEnv", func(t *testing.T) {
		t.Setenv("VIDSENTRY_READ_TIMEOUT", "45s")
		t.Setenv("VIDSENTRY_SHUTDOWN_TIMEOUT", "5m")

		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 5*time.Minute, cfg.Server.ShutdownTimeout)
	})
}

func TestConfigReload(t *testing.T) {
	ctx := context.Background()

	cfg1, err := Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, cfg1)
	initialPort := cfg1.Server.Port

	overrides := map[string]any{
		"server": map[string]any{
			"port": initialPort + 1000,
		},
	}

	cfg2, err := Load(ctx, overrides)
	require.NoError(t, err)
	require.NotNil(t, cfg2)

	assert.Equal(t, initialPort+1000, cfg2.Server.Port)

	current := GetConfig()
	assert.Equal(t, cfg2.Server.Port, current.Server.Port)
}

// resetAppIdentity resets package state for isolated tests.
// Must only be used in tests.
func resetAppIdentity() {
	configMu.Lock()
	defer configMu.Unlock()
	appIdentity = nil
	appConfig = nil
}

func TestGetUserConfigPathsNilIdentity(t *testing.T) {
	resetAppIdentity()
	defer func() {
		_, _ = Load(context.Background())
	}()

	paths := getUserConfigPaths()
	assert.Empty(t, paths)
}

func TestGetEnvSpecsNilIdentity(t *testing.T) {
	resetAppIdentity()
	defer func() {
		_, _ = Load(context.Background())
	}()

	specs := getEnvSpecs()
	assert.Empty(t, specs)
}

func TestEnvSpecsPrefixHandling(t *testing.T) {
	ctx := context.Background()

	_, err := Load(ctx)
	require.NoError(t, err)

	specs := getEnvSpecs()
	require.NotEmpty(t, specs)

	for _, spec := range specs {
		assert.True(t, len(spec.Name) > 0, "env var name should not be empty")
		assert.Contains(t, spec.Name, "VIDSENTRY_", "all specs should have VIDSENTRY_ prefix")
		assert.NotEmpty(t, spec.Path, "env var %s should have a path", spec.Name)
	}
}

func TestLoadHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
