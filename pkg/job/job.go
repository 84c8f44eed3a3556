// Package job models the simulated long-running jobs behind the video
// analysis dashboard: uploads, detection runs and training runs.
//
// A Job is a plain value. Every operation returns the next value instead of
// mutating shared state, so any scheduler (a real ticker, a test loop, or a
// poller against a real backend) can drive progress by calling Advance.
package job

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind identifies which flow a job belongs to.
type Kind string

const (
	KindUpload    Kind = "upload"
	KindDetection Kind = "detection"
	KindTraining  Kind = "training"
)

// Kinds lists every supported job kind in display order.
var Kinds = []Kind{KindUpload, KindDetection, KindTraining}

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// ParseKind converts user input into a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindUpload:
		return KindUpload, nil
	case KindDetection, "detect":
		return KindDetection, nil
	case KindTraining, "train":
		return KindTraining, nil
	default:
		return "", fmt.Errorf("unknown job kind: %q", s)
	}
}

// Status is the lifecycle state of a job.
//
// NOTE: These values are persisted in job records and results history.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Terminal reports whether no further ticks apply to the status.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// ErrNotIdle is returned when starting a job that has already been started.
var ErrNotIdle = errors.New("job is not idle")

// Job is one simulated long-running operation.
type Job struct {
	ID         string `json:"id"`
	Kind       Kind   `json:"kind"`
	Status     Status `json:"status"`
	Progress   int    `json:"progress"`
	Ticks      int    `json:"ticks"`
	TotalTicks int    `json:"total_ticks"`

	Params Params  `json:"params"`
	Result *Result `json:"result,omitempty"`
	Error  string  `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// New returns an idle job of the given kind with a fresh id.
func New(kind Kind, now time.Time) Job {
	return Job{
		ID:        uuid.New().String(),
		Kind:      kind,
		Status:    StatusIdle,
		CreatedAt: now.UTC(),
	}
}

// Start validates params and moves an idle job to running.
//
// On a validation failure the returned job is the receiver unchanged and the
// error is a *ValidationError carrying a user-facing message.
func (j Job) Start(params Params, now time.Time) (Job, error) {
	if j.Status != StatusIdle {
		return j, ErrNotIdle
	}

	params = params.WithDefaults(j.Kind)
	if err := Validate(j.Kind, params); err != nil {
		return j, err
	}

	started := now.UTC()
	next := j
	next.Params = params
	next.Status = StatusRunning
	next.Progress = 0
	next.Ticks = 0
	next.TotalTicks = PlanFor(j.Kind, params).TotalTicks
	next.Result = nil
	next.Error = ""
	next.StartedAt = &started
	next.CompletedAt = nil
	return next, nil
}

// Advance applies one tick to a running job.
//
// When progress reaches 100 the job completes and synth is invoked exactly
// once to produce the result payload. Jobs that are not running are returned
// unchanged.
func (j Job) Advance(synth Synthesizer, now time.Time) Job {
	if j.Status != StatusRunning {
		return j
	}
	if j.TotalTicks <= 0 {
		j.TotalTicks = 1
	}

	j.Ticks++
	progress := j.Ticks * 100 / j.TotalTicks
	if progress > 100 {
		progress = 100
	}
	if progress > j.Progress {
		j.Progress = progress
	}

	if j.Progress < 100 {
		return j
	}

	done := now.UTC()
	j.Progress = 100
	j.Status = StatusComplete
	j.CompletedAt = &done
	if synth != nil {
		j.Result = synth.Synthesize(j.Kind, j.Params)
	}
	return j
}

// Fail moves a running job to failed. Other states are returned unchanged.
func (j Job) Fail(err error, now time.Time) Job {
	if j.Status != StatusRunning {
		return j
	}
	ended := now.UTC()
	j.Status = StatusFailed
	j.CompletedAt = &ended
	if err != nil {
		j.Error = err.Error()
	} else {
		j.Error = "job failed"
	}
	return j
}

// AttachUpload records where a completed upload was stored.
func (j Job) AttachUpload(u UploadResult) Job {
	if j.Status != StatusComplete {
		return j
	}
	if j.Result == nil {
		j.Result = &Result{}
	} else {
		cp := *j.Result
		j.Result = &cp
	}
	j.Result.Upload = &u
	return j
}

// Reset returns the job to idle from any state.
//
// Params are kept so the same request can be started again; progress,
// result, error and timestamps are cleared.
func (j Job) Reset() Job {
	return Job{
		ID:        j.ID,
		Kind:      j.Kind,
		Status:    StatusIdle,
		Params:    j.Params,
		CreatedAt: j.CreatedAt,
	}
}

// Running reports whether the job is currently advancing.
func (j Job) Running() bool {
	return j.Status == StatusRunning
}
