package cmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/3leaps/vidsentry/pkg/job"
	"github.com/3leaps/vidsentry/pkg/jobregistry"
	"github.com/3leaps/vidsentry/pkg/jobrunner"
	"github.com/3leaps/vidsentry/pkg/resultstore"
)

func TestSignalHealthChecker(t *testing.T) {
	checker := signalHealthChecker{}

	t.Run("always returns nil", func(t *testing.T) {
		err := checker.CheckHealth(context.Background())
		assert.NoError(t, err)
	})
}

func TestStoreHealthChecker(t *testing.T) {
	t.Run("returns error when store is missing", func(t *testing.T) {
		err := storeHealthChecker{}.CheckHealth(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "results store not initialized")
	})

	t.Run("pings open store", func(t *testing.T) {
		store, err := resultstore.OpenStore(context.Background(), resultstore.Config{Path: ":memory:"})
		require.NoError(t, err)
		defer func() { _ = store.Close() }()

		assert.NoError(t, storeHealthChecker{store: store}.CheckHealth(context.Background()))
	})
}

func TestIdentityHealthChecker(t *testing.T) {
	tests := []struct {
		name       string
		binaryName string
		envPrefix  string
		configName string
		wantErr    bool
		errContain string
	}{
		{
			name:       "all fields valid",
			binaryName: "vidsentry",
			envPrefix:  "VIDSENTRY_",
			configName: "config",
			wantErr:    false,
		},
		{
			name:       "missing binary name",
			binaryName: "",
			envPrefix:  "VIDSENTRY_",
			configName: "config",
			wantErr:    true,
			errContain: "missing binary name",
		},
		{
			name:       "missing env prefix",
			binaryName: "vidsentry",
			envPrefix:  "",
			configName: "config",
			wantErr:    true,
			errContain: "missing env prefix",
		},
		{
			name:       "missing config name",
			binaryName: "vidsentry",
			envPrefix:  "VIDSENTRY_",
			configName: "",
			wantErr:    true,
			errContain: "missing config name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := identityHealthChecker{
				binaryName: tt.binaryName,
				envPrefix:  tt.envPrefix,
				configName: tt.configName,
			}

			err := checker.CheckHealth(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContain)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRestoreJobs(t *testing.T) {
	registry := jobregistry.NewStore(t.TempDir())

	done := job.Job{ID: "job-done0001", Kind: job.KindDetection, Status: job.StatusComplete, Progress: 100}
	running := job.Job{ID: "job-run00001", Kind: job.KindUpload, Status: job.StatusRunning, Progress: 40}
	require.NoError(t, registry.SaveJob(done, 0))
	require.NoError(t, registry.SaveJob(running, 0))

	manager := jobrunner.NewManager(jobrunner.Options{Manual: true})
	defer manager.Close()

	rt := &jobRuntime{registry: registry, manager: manager}
	n := restoreJobs(rt, zap.NewNop())
	assert.Equal(t, 1, n)

	got, err := manager.Get(done.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusComplete, got.Status)

	_, err = manager.Get(running.ID)
	assert.Error(t, err)
}
