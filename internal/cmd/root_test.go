package cmd

import (
	"errors"
	"fmt"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetVersionInfo(t *testing.T) {
	origVersion := versionInfo.Version
	origCommit := versionInfo.Commit
	origBuildDate := versionInfo.BuildDate
	defer func() {
		SetVersionInfo(origVersion, origCommit, origBuildDate)
	}()

	tests := []struct {
		name      string
		version   string
		commit    string
		buildDate string
	}{
		{
			name:      "set all values",
			version:   "1.0.0",
			commit:    "abc123",
			buildDate: "2026-01-15",
		},
		{
			name:      "set dev version",
			version:   "dev",
			commit:    "HEAD",
			buildDate: "unknown",
		},
		{
			name:      "set empty values",
			version:   "",
			commit:    "",
			buildDate: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetVersionInfo(tt.version, tt.commit, tt.buildDate)

			assert.Equal(t, tt.version, versionInfo.Version)
			assert.Equal(t, tt.commit, versionInfo.Commit)
			assert.Equal(t, tt.buildDate, versionInfo.BuildDate)
		})
	}
}

func TestGetAppIdentity(t *testing.T) {
	t.Run("returns nil before init", func(t *testing.T) {
		orig := appIdentity
		appIdentity = nil
		defer func() { appIdentity = orig }()

		assert.Nil(t, GetAppIdentity())
	})

	t.Run("returns identity after set", func(t *testing.T) {
		if appIdentity != nil {
			result := GetAppIdentity()
			assert.NotNil(t, result)
			assert.Equal(t, appIdentity, result)
		}
	})
}

func TestExitError(t *testing.T) {
	cause := errors.New("store unreachable")
	err := exitError(foundry.ExitExternalServiceUnavailable, "Failed to open results store", cause)

	assert.Contains(t, err.Error(), "Failed to open results store")
	assert.Contains(t, err.Error(), "store unreachable")
	assert.Contains(t, err.Error(), fmt.Sprintf("exit code %d", foundry.ExitExternalServiceUnavailable))
	assert.ErrorIs(t, err, cause)
}

func TestExitCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{
			name: "exit error",
			err:  exitError(foundry.ExitInvalidArgument, "Invalid manifest", errors.New("bad kind")),
			want: foundry.ExitInvalidArgument,
		},
		{
			name: "wrapped exit error",
			err:  fmt.Errorf("run: %w", exitError(foundry.ExitSignalInt, "Job cancelled", errors.New("interrupted"))),
			want: foundry.ExitSignalInt,
		},
		{
			name: "plain error",
			err:  errors.New("boom"),
			want: exitFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCodeOf(tt.err))
		})
	}
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	want := []string{"run", "upload", "detect", "train", "jobs", "results", "models", "serve", "doctor", "version"}
	for _, name := range want {
		c, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, c.Name())
	}
}
