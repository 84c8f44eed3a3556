// Package output writes job activity as JSONL.
//
// Every line is a self-contained envelope with a typed payload, so a
// foreground run can be piped into jq or another process.
package output

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/3leaps/vidsentry/pkg/job"
)

// Record types follow the pattern vidsentry.<type>.v<version>.
const (
	TypeJob      = "vidsentry.job.v1"
	TypeProgress = "vidsentry.progress.v1"
	TypeResult   = "vidsentry.result.v1"
	TypeError    = "vidsentry.error.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	Type  string    `json:"type"`
	TS    time.Time `json:"ts"`
	JobID string    `json:"job_id"`
	Kind  job.Kind  `json:"kind"`

	// Data holds the type-specific payload.
	Data json.RawMessage `json:"data"`
}

// JobRecord reports a status change.
type JobRecord struct {
	Status   job.Status `json:"status"`
	Progress int        `json:"progress"`
	Name     string     `json:"name,omitempty"`
	Message  string     `json:"message,omitempty"`
}

// ProgressRecord reports one tick.
type ProgressRecord struct {
	Progress int `json:"progress"`
	Ticks    int `json:"ticks"`
	Total    int `json:"total_ticks"`
}

// ResultRecord carries the payload of a completed job.
type ResultRecord struct {
	Result  *job.Result   `json:"result"`
	Elapsed time.Duration `json:"elapsed_ns,omitempty"`
}

// ErrorRecord describes a failure. Field is set for validation errors.
type ErrorRecord struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// Error codes for ErrorRecord.
const (
	ErrCodeValidation = "VALIDATION_ERROR"
	ErrCodeConflict   = "CONFLICT"
	ErrCodeFailed     = "JOB_FAILED"
	ErrCodeInternal   = "INTERNAL"
)

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = errors.New("writer is closed")

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // marshal_data, marshal_record, or write
	Err error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
