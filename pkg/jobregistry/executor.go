package jobregistry

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/3leaps/vidsentry/pkg/job"
)

// Executor spawns and manages background jobs.
//
// A background job is a child process running `vidsentry run` in managed
// mode, with stdout/stderr captured to per-job log files.
type Executor struct {
	store *Store

	// Command overrides the executable and leading args (tests only).
	Command []string
}

func NewExecutor(root string) *Executor {
	return &Executor{store: NewStore(root)}
}

func (e *Executor) Store() *Store {
	return e.store
}

func (e *Executor) StdoutPath(jobID string) string {
	return filepath.Join(e.store.JobDir(jobID), "stdout.log")
}

func (e *Executor) StderrPath(jobID string) string {
	return filepath.Join(e.store.JobDir(jobID), "stderr.log")
}

type BackgroundOptions struct {
	Name string
	// Dedupe refuses to start when a job from the same manifest is running.
	Dedupe bool
}

// StartBackground spawns a managed child process running:
//
//	vidsentry run --job <manifest> --_managed-job-id <job_id>
//
// It returns after the child successfully starts.
func (e *Executor) StartBackground(manifestPath string, kind job.Kind, opts BackgroundOptions) (*JobRecord, error) {
	if e == nil || e.store == nil {
		return nil, fmt.Errorf("executor is not initialized")
	}

	absManifest, err := filepath.Abs(strings.TrimSpace(manifestPath))
	if err != nil {
		return nil, fmt.Errorf("resolve manifest path: %w", err)
	}
	if _, err := os.Stat(absManifest); err != nil {
		return nil, fmt.Errorf("manifest not found: %s", absManifest)
	}

	if opts.Dedupe {
		if existing, _ := e.store.List(); len(existing) > 0 {
			for _, j := range existing {
				if strings.TrimSpace(j.ManifestPath) == absManifest && j.Status == job.StatusRunning {
					return nil, fmt.Errorf("duplicate running job exists: %s", j.JobID)
				}
			}
		}
	}

	jobID := uuid.New().String()
	jobDir := e.store.JobDir(jobID)
	if err := os.MkdirAll(jobDir, 0755); err != nil {
		return nil, fmt.Errorf("create job dir: %w", err)
	}

	stdoutFile, err := os.Create(e.StdoutPath(jobID))
	if err != nil {
		return nil, fmt.Errorf("create stdout log: %w", err)
	}
	defer func() { _ = stdoutFile.Close() }()
	stderrFile, err := os.Create(e.StderrPath(jobID))
	if err != nil {
		return nil, fmt.Errorf("create stderr log: %w", err)
	}
	defer func() { _ = stderrFile.Close() }()

	argv := e.Command
	if len(argv) == 0 {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve executable: %w", err)
		}
		argv = []string{exe, "run"}
	}
	args := append(append([]string(nil), argv[1:]...), "--job", absManifest, "--_managed-job-id", jobID)

	cmd := exec.Command(argv[0], args...)
	cmd.Stdout = stdoutFile
	cmd.Stderr = stderrFile
	cmd.Env = os.Environ()

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start managed run: %w", err)
	}
	// The child owns the job from here; reap it so it does not linger.
	go func() { _ = cmd.Wait() }()

	now := time.Now().UTC()
	rec := &JobRecord{
		JobID:         jobID,
		Kind:          kind,
		Name:          strings.TrimSpace(opts.Name),
		Status:        job.StatusRunning,
		ManifestPath:  absManifest,
		PID:           cmd.Process.Pid,
		CreatedAt:     now,
		StartedAt:     &now,
		LastHeartbeat: func() *time.Time { t := now; return &t }(),
		StdoutPath:    e.StdoutPath(jobID),
		StderrPath:    e.StderrPath(jobID),
	}

	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	// The child may already have written its own snapshot.
	if existing, err := e.store.read(jobID); err == nil {
		existing.Name = rec.Name
		existing.ManifestPath = rec.ManifestPath
		existing.StdoutPath = rec.StdoutPath
		existing.StderrPath = rec.StderrPath
		if existing.PID == 0 {
			existing.PID = rec.PID
		}
		rec = existing
	}
	if err := e.store.Write(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Stop signals the process that owns a running job.
func (e *Executor) Stop(jobID string, sig os.Signal) (*JobRecord, error) {
	rec, err := e.store.Get(jobID)
	if err != nil {
		return nil, err
	}
	if rec.Status != job.StatusRunning {
		return rec, fmt.Errorf("job is not running (status=%s)", rec.Status)
	}
	if rec.PID <= 0 {
		return rec, fmt.Errorf("job has no owner pid")
	}
	if rec.PID == os.Getpid() {
		return rec, fmt.Errorf("job is owned by this process")
	}
	p, err := os.FindProcess(rec.PID)
	if err != nil {
		return rec, fmt.Errorf("find process: %w", err)
	}
	if err := p.Signal(sig); err != nil {
		return rec, fmt.Errorf("signal process: %w", err)
	}
	return rec, nil
}
