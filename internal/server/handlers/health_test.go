package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/vidsentry/internal/apperrors"
	"github.com/3leaps/vidsentry/pkg/resultstore"
)

func resultsChecker(t *testing.T) (HealthChecker, *resultstore.Store) {
	t.Helper()
	store, err := resultstore.OpenStore(context.Background(), resultstore.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return HealthCheckerFunc(store.Ping), store
}

func TestHealthHandler(t *testing.T) {
	blocked := HealthCheckerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	missingIdentity := HealthCheckerFunc(func(context.Context) error {
		return errors.New("identity: missing binary name")
	})

	tests := []struct {
		name       string
		checkers   map[string]HealthChecker
		closeStore bool
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "store reachable",
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
			wantChecks: map[string]string{"results_store": "healthy"},
		},
		{
			name:       "store closed",
			closeStore: true,
			wantCode:   http.StatusServiceUnavailable,
			wantChecks: map[string]string{"results_store": "unhealthy"},
		},
		{
			name:       "identity broken",
			checkers:   map[string]HealthChecker{"identity": missingIdentity},
			wantCode:   http.StatusServiceUnavailable,
			wantChecks: map[string]string{"results_store": "healthy", "identity": "unhealthy"},
		},
		{
			name:       "slow check degrades",
			checkers:   map[string]HealthChecker{"signals": blocked},
			wantCode:   http.StatusOK,
			wantStatus: "degraded",
			wantChecks: map[string]string{"results_store": "healthy", "signals": "timeout"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.wantStatus == "degraded" && testing.Short() {
				t.Skip("waits for the check timeout")
			}

			manager := NewHealthManager("0.4.0")
			checker, store := resultsChecker(t)
			manager.RegisterChecker("results_store", checker)
			for name, c := range tt.checkers {
				manager.RegisterChecker(name, c)
			}
			if tt.closeStore {
				require.NoError(t, store.Close())
			}

			rec := httptest.NewRecorder()
			manager.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			require.Equal(t, tt.wantCode, rec.Code)

			if tt.wantCode == http.StatusServiceUnavailable {
				var body apperrors.HTTPErrorResponse
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
				assert.Equal(t, apperrors.CodeServiceUnavailable, body.Error.Code)
				checks, ok := body.Error.Details["checks"].(map[string]any)
				require.True(t, ok, "details carry the check states")
				for name, want := range tt.wantChecks {
					assert.Equal(t, want, checks[name], name)
				}
				return
			}

			var resp HealthResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, "0.4.0", resp.Version)
			assert.Equal(t, tt.wantChecks, resp.Checks)
		})
	}
}

func TestDetermineOverallStatus(t *testing.T) {
	m := NewHealthManager("dev")
	tests := []struct {
		checks map[string]string
		want   string
	}{
		{checks: nil, want: "healthy"},
		{checks: map[string]string{"results_store": "healthy", "signals": "timeout"}, want: "degraded"},
		{checks: map[string]string{"results_store": "unhealthy", "signals": "timeout"}, want: "unhealthy"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, m.determineOverallStatus(tt.checks))
	}
}

func TestGlobalHandlers(t *testing.T) {
	globalMu.Lock()
	saved := globalHealthManager
	globalHealthManager = nil
	globalMu.Unlock()
	t.Cleanup(func() {
		globalMu.Lock()
		globalHealthManager = saved
		globalMu.Unlock()
	})

	handlers := map[string]http.HandlerFunc{
		"/health":         HealthHandler,
		"/health/live":    LivenessHandler,
		"/health/ready":   ReadinessHandler,
		"/health/startup": StartupHandler,
	}

	for path, h := range handlers {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}

	m := InitHealthManager("0.4.0")
	assert.Same(t, m, GetHealthManager())
	checker, _ := resultsChecker(t)
	m.RegisterChecker("results_store", checker)

	for path, h := range handlers {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)

		var resp HealthResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "healthy", resp.Status, path)
		assert.Equal(t, "0.4.0", resp.Version, path)
	}
}
