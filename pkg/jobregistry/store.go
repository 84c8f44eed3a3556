package jobregistry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/3leaps/vidsentry/pkg/job"
)

var (
	// ErrNotFound is returned when no record matches a job id.
	ErrNotFound = errors.New("job not found")

	// ErrAmbiguous is returned when a job id prefix matches several records.
	ErrAmbiguous = errors.New("job id prefix is ambiguous")
)

// Store persists and loads JobRecords from an on-disk directory.
//
// Directory layout:
//
//	<root>/<job_id>/job.json
//	<root>/<job_id>/stdout.log
//	<root>/<job_id>/stderr.log
//
// Root is expected to be under the app data dir.
type Store struct {
	root string
	mu   sync.Mutex
}

func NewStore(root string) *Store {
	return &Store{root: strings.TrimSpace(root)}
}

func (s *Store) RootDir() string {
	return s.root
}

func (s *Store) JobDir(jobID string) string {
	return filepath.Join(s.root, jobID)
}

func (s *Store) JobPath(jobID string) string {
	return filepath.Join(s.JobDir(jobID), "job.json")
}

func (s *Store) ensureRoot() error {
	if strings.TrimSpace(s.root) == "" {
		return fmt.Errorf("job registry root dir is empty")
	}
	return os.MkdirAll(s.root, 0755)
}

func (s *Store) Write(record *JobRecord) error {
	if record == nil {
		return fmt.Errorf("job record is nil")
	}
	jobID := strings.TrimSpace(record.JobID)
	if jobID == "" {
		return fmt.Errorf("job_id is required")
	}
	if err := s.ensureRoot(); err != nil {
		return err
	}

	jobDir := s.JobDir(jobID)
	if err := os.MkdirAll(jobDir, 0755); err != nil {
		return fmt.Errorf("create job dir: %w", err)
	}

	b, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal job record: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(jobDir, "job.json.tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp job file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp job file: %w", err)
	}

	if err := os.Rename(tmpName, s.JobPath(jobID)); err != nil {
		return fmt.Errorf("rename job file: %w", err)
	}
	return nil
}

// SaveJob writes the job snapshot, merging it into an existing record so
// operator fields survive.
func (s *Store) SaveJob(j job.Job, pid int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.read(j.ID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		rec = &JobRecord{}
	}
	rec.Apply(j, pid, time.Now())
	return s.Write(rec)
}

func (s *Store) read(jobID string) (*JobRecord, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, fmt.Errorf("job_id is required")
	}
	b, err := os.ReadFile(s.JobPath(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
		}
		return nil, err
	}

	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		return nil, fmt.Errorf("job.json is empty")
	}

	var record JobRecord
	if err := json.Unmarshal([]byte(trimmed), &record); err != nil {
		return nil, fmt.Errorf("parse job.json: %w", err)
	}
	return &record, nil
}

// Get loads one record.
//
// Zombie detection: if a job claims running but its owner pid is gone, the
// record is marked failed and rewritten.
func (s *Store) Get(jobID string) (*JobRecord, error) {
	record, err := s.read(jobID)
	if err != nil {
		return nil, err
	}

	if record.Status == job.StatusRunning && record.PID > 0 && !isProcessAlive(record.PID) {
		now := time.Now().UTC()
		record.Status = job.StatusFailed
		record.Error = ZombieError
		record.EndedAt = &now
		record.LastHeartbeat = &now
		_ = s.Write(record)
	}

	return record, nil
}

func (s *Store) List() ([]JobRecord, error) {
	if err := s.ensureRoot(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read jobs root: %w", err)
	}

	out := make([]JobRecord, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		r, err := s.Get(entry.Name())
		if err != nil {
			continue
		}
		out = append(out, *r)
	}

	sort.Slice(out, func(i, j int) bool {
		return jobSortTime(out[i]).After(jobSortTime(out[j]))
	})

	return out, nil
}

// Resolve maps a full job id or a unique prefix to a job id.
func (s *Store) Resolve(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("job_id is required")
	}

	// Exact match first.
	if _, err := s.read(input); err == nil {
		return input, nil
	}

	// Prefix match (allows table-friendly short IDs).
	jobs, err := s.List()
	if err != nil {
		return "", err
	}
	matches := make([]string, 0, 2)
	for _, j := range jobs {
		if strings.HasPrefix(j.JobID, input) {
			matches = append(matches, j.JobID)
		}
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNotFound, input)
	}
	if len(matches) > 1 {
		return "", fmt.Errorf("%w (%d matches); use the full job_id", ErrAmbiguous, len(matches))
	}
	return matches[0], nil
}

// Delete removes the job directory including logs.
func (s *Store) Delete(jobID string) error {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return fmt.Errorf("job_id is required")
	}
	if err := os.RemoveAll(s.JobDir(jobID)); err != nil {
		return fmt.Errorf("remove job dir: %w", err)
	}
	return nil
}

// GCOptions controls garbage collection.
type GCOptions struct {
	MaxAge time.Duration
	Now    time.Time
	DryRun bool
}

// GC deletes finished jobs that ended more than MaxAge ago and returns how
// many were (or would be) deleted.
func (s *Store) GC(opts GCOptions) (int, error) {
	if opts.MaxAge <= 0 {
		return 0, fmt.Errorf("max age must be > 0")
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	jobs, err := s.List()
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, j := range jobs {
		if !j.Terminal() {
			continue
		}
		ended := jobSortTime(j)
		if j.EndedAt != nil {
			ended = j.EndedAt.UTC()
		}
		if now.UTC().Sub(ended) <= opts.MaxAge {
			continue
		}
		if !opts.DryRun {
			if err := s.Delete(j.JobID); err != nil {
				return deleted, err
			}
		}
		deleted++
	}
	return deleted, nil
}

func jobSortTime(r JobRecord) time.Time {
	if r.StartedAt != nil {
		return r.StartedAt.UTC()
	}
	return r.CreatedAt.UTC()
}

func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// signal 0 is supported on unix; it checks for existence without sending a signal.
	if err := p.Signal(os.Signal(syscall.Signal(0))); err != nil {
		return false
	}
	return true
}
