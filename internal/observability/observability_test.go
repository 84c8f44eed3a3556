package observability

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/vidsentry/pkg/job"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		opts    LogOptions
		wantErr bool
	}{
		{name: "defaults", opts: LogOptions{}},
		{name: "structured debug", opts: LogOptions{Level: "debug", Profile: "STRUCTURED"}},
		{name: "console", opts: LogOptions{Level: "warn", Profile: "console"}},
		{name: "bad level", opts: LogOptions{Level: "loud"}, wantErr: true},
		{name: "bad profile", opts: LogOptions{Profile: "xml"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger("test", tt.opts)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

func TestNewLoggerWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "vidsentry.log")
	logger, err := NewLogger("server", LogOptions{Level: "info", File: path, MaxSizeMB: 1})
	require.NoError(t, err)

	logger.Info("job started")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"job started"`)
	assert.Contains(t, string(data), `"logger":"server"`)
}

func TestInitCLILogger(t *testing.T) {
	orig := CLILogger
	defer func() { CLILogger = orig }()

	InitCLILogger("vidsentry", true)
	assert.True(t, CLILogger.Core().Enabled(-1), "verbose enables debug")

	InitCLILogger("vidsentry", false)
	assert.False(t, CLILogger.Core().Enabled(-1))
}

func scrape(t *testing.T, m *JobMetrics) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestJobMetrics(t *testing.T) {
	m := NewJobMetrics()

	m.JobStarted(job.KindDetection)
	m.JobStarted(job.KindUpload)
	m.Tick(job.KindDetection)
	m.Tick(job.KindDetection)
	m.JobFinished(job.KindDetection, job.StatusComplete, 6*time.Second)
	m.JobStopped(job.KindUpload)
	m.ValidationFailed(job.KindTraining)

	body := scrape(t, m)
	for _, line := range []string{
		`vidsentry_jobs_started_total{kind="detection"} 1`,
		`vidsentry_job_ticks_total{kind="detection"} 2`,
		`vidsentry_jobs_finished_total{kind="detection",status="complete"} 1`,
		`vidsentry_jobs_active{kind="detection"} 0`,
		`vidsentry_jobs_active{kind="upload"} 0`,
		`vidsentry_jobs_reset_total{kind="upload"} 1`,
		`vidsentry_job_validation_failures_total{kind="training"} 1`,
		`vidsentry_job_duration_seconds_count{kind="detection"} 1`,
	} {
		assert.Contains(t, body, line)
	}
}

func TestJobMetricsHandler(t *testing.T) {
	m := NewJobMetrics()
	m.JobStarted(job.KindTraining)
	m.HTTPRequest(http.MethodPost, "/api/jobs/{kind}", http.StatusAccepted)
	m.HTTPRequest(http.MethodGet, "", http.StatusNotFound)

	body := scrape(t, m)
	assert.True(t, strings.Contains(body, `vidsentry_jobs_started_total{kind="training"} 1`))
	assert.Contains(t, body, `route="/api/jobs/{kind}"`)
	assert.Contains(t, body, `route="unmatched"`)
	assert.Contains(t, body, "go_goroutines")
}
