package jobregistry

import (
	"time"

	"github.com/3leaps/vidsentry/pkg/job"
)

// ZombieError is recorded when a job claims running but its owner process is
// gone.
const ZombieError = "owner process exited before the job finished"

// JobRecord is the persistent record written to job.json.
//
// The schema is designed for backward-compatible extension (additive fields).
type JobRecord struct {
	JobID    string      `json:"job_id"`
	Kind     job.Kind    `json:"kind"`
	Name     string      `json:"name,omitempty"`
	Status   job.Status  `json:"status"`
	Progress int         `json:"progress"`
	Ticks    int         `json:"ticks,omitempty"`
	Total    int         `json:"total_ticks,omitempty"`
	Params   job.Params  `json:"params"`
	Result   *job.Result `json:"result,omitempty"`
	Error    string      `json:"error,omitempty"`

	ManifestPath string    `json:"manifest_path,omitempty"`
	PID          int       `json:"pid,omitempty"`
	CreatedAt    time.Time `json:"created_at"`

	StartedAt     *time.Time `json:"started_at,omitempty"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
	StdoutPath    string     `json:"stdout_path,omitempty"`
	StderrPath    string     `json:"stderr_path,omitempty"`
}

// Apply copies the job snapshot into the record. Operator fields (name,
// manifest path, log paths) are left untouched.
func (r *JobRecord) Apply(j job.Job, pid int, now time.Time) {
	r.JobID = j.ID
	r.Kind = j.Kind
	r.Status = j.Status
	r.Progress = j.Progress
	r.Ticks = j.Ticks
	r.Total = j.TotalTicks
	r.Params = j.Params
	r.Result = j.Result
	r.Error = j.Error
	r.CreatedAt = j.CreatedAt
	r.StartedAt = j.StartedAt
	r.EndedAt = j.CompletedAt
	if pid > 0 {
		r.PID = pid
	}
	hb := now.UTC()
	r.LastHeartbeat = &hb
}

// Job rebuilds the job value held by the record.
func (r JobRecord) Job() job.Job {
	return job.Job{
		ID:          r.JobID,
		Kind:        r.Kind,
		Status:      r.Status,
		Progress:    r.Progress,
		Ticks:       r.Ticks,
		TotalTicks:  r.Total,
		Params:      r.Params,
		Result:      r.Result,
		Error:       r.Error,
		CreatedAt:   r.CreatedAt,
		StartedAt:   r.StartedAt,
		CompletedAt: r.EndedAt,
	}
}

// Terminal reports whether the record can be garbage collected.
func (r JobRecord) Terminal() bool {
	return r.Status.Terminal() || r.Status == job.StatusIdle
}
