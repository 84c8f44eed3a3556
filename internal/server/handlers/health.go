package handlers

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/3leaps/vidsentry/internal/apperrors"
)

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	statusTimeout   = "timeout"
	statusDegraded  = "degraded"

	checkTimeout = 2 * time.Second
)

// HealthChecker reports whether one dependency is usable.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// HealthCheckerFunc adapts a function to HealthChecker.
type HealthCheckerFunc func(ctx context.Context) error

func (f HealthCheckerFunc) CheckHealth(ctx context.Context) error { return f(ctx) }

// HealthResponse is the body of a health probe.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthManager runs registered checks for the health endpoints.
type HealthManager struct {
	version string

	mu       sync.RWMutex
	checkers map[string]HealthChecker
}

func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		version:  version,
		checkers: make(map[string]HealthChecker),
	}
}

// RegisterChecker adds or replaces a named check.
func (m *HealthManager) RegisterChecker(name string, checker HealthChecker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[name] = checker
}

func (m *HealthManager) runChecks(ctx context.Context) map[string]string {
	m.mu.RLock()
	names := make([]string, 0, len(m.checkers))
	for name := range m.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	checkers := make([]HealthChecker, len(names))
	for i, name := range names {
		checkers[i] = m.checkers[name]
	}
	m.mu.RUnlock()

	results := make(map[string]string, len(names))
	for i, name := range names {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := checkers[i].CheckHealth(cctx)
		cancel()
		switch {
		case err == nil:
			results[name] = statusHealthy
		case errors.Is(err, context.DeadlineExceeded):
			results[name] = statusTimeout
		default:
			results[name] = statusUnhealthy
		}
	}
	return results
}

func (m *HealthManager) determineOverallStatus(checks map[string]string) string {
	overall := statusHealthy
	for _, s := range checks {
		switch s {
		case statusUnhealthy:
			return statusUnhealthy
		case statusTimeout:
			overall = statusDegraded
		}
	}
	return overall
}

// HealthHandler runs every check. Unhealthy results produce a 503 error
// envelope listing the check states.
func (m *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	checks := m.runChecks(r.Context())
	status := m.determineOverallStatus(checks)

	if status == statusUnhealthy {
		apperrors.Write(w, r, http.StatusServiceUnavailable, apperrors.CodeServiceUnavailable,
			"one or more health checks failed", map[string]any{"checks": checks})
		return
	}
	m.write(w, status, checks)
}

// LivenessHandler reports that the process is serving requests.
func (m *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	m.write(w, statusHealthy, nil)
}

// ReadinessHandler reports whether dependencies are usable.
func (m *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	m.HealthHandler(w, r)
}

// StartupHandler reports that initialization finished.
func (m *HealthManager) StartupHandler(w http.ResponseWriter, r *http.Request) {
	m.write(w, statusHealthy, nil)
}

func (m *HealthManager) write(w http.ResponseWriter, status string, checks map[string]string) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Version:   m.version,
		Timestamp: time.Now().UTC(),
		Checks:    checks,
	})
}

var (
	globalMu            sync.RWMutex
	globalHealthManager *HealthManager
)

// InitHealthManager installs the process-wide manager used by the package
// level handlers.
func InitHealthManager(version string) *HealthManager {
	m := NewHealthManager(version)
	globalMu.Lock()
	globalHealthManager = m
	globalMu.Unlock()
	return m
}

// GetHealthManager returns the process-wide manager, or nil.
func GetHealthManager() *HealthManager {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalHealthManager
}

func withGlobal(fn func(*HealthManager, http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m := GetHealthManager()
		if m == nil {
			apperrors.Write(w, r, http.StatusServiceUnavailable, apperrors.CodeServiceUnavailable,
				"health manager not initialized", nil)
			return
		}
		fn(m, w, r)
	}
}

var (
	HealthHandler    = withGlobal((*HealthManager).HealthHandler)
	LivenessHandler  = withGlobal((*HealthManager).LivenessHandler)
	ReadinessHandler = withGlobal((*HealthManager).ReadinessHandler)
	StartupHandler   = withGlobal((*HealthManager).StartupHandler)
)
