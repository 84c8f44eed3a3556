package output

import (
	"context"
	"errors"

	"github.com/3leaps/vidsentry/pkg/job"
	"github.com/3leaps/vidsentry/pkg/jobrunner"
)

// WriteEvent renders a runner event as the matching record. snap is the
// job as it stood when the event was read and supplies tick counts.
func WriteEvent(ctx context.Context, w Writer, ev jobrunner.Event, snap job.Job) error {
	j := snap
	j.ID, j.Kind = ev.JobID, ev.Kind

	switch ev.Type {
	case jobrunner.EventTypeProgress:
		return w.WriteProgress(ctx, j, &ProgressRecord{Progress: ev.Progress, Ticks: snap.Ticks, Total: snap.TotalTicks})
	case jobrunner.EventTypeResult:
		rec := &ResultRecord{Result: ev.Result}
		if snap.StartedAt != nil && snap.CompletedAt != nil {
			rec.Elapsed = snap.CompletedAt.Sub(*snap.StartedAt)
		}
		return w.WriteResult(ctx, j, rec)
	case jobrunner.EventTypeError:
		return w.WriteError(ctx, j, &ErrorRecord{Code: ErrCodeFailed, Message: ev.Message})
	default:
		return w.WriteJob(ctx, j, &JobRecord{Status: ev.Status, Progress: ev.Progress, Message: ev.Message})
	}
}

// ErrorFor builds an ErrorRecord from a submission error.
func ErrorFor(err error) *ErrorRecord {
	var verr *job.ValidationError
	switch {
	case errors.As(err, &verr):
		return &ErrorRecord{Code: ErrCodeValidation, Message: verr.Message, Field: verr.Field}
	case errors.Is(err, jobrunner.ErrJobAlreadyRunning), errors.Is(err, job.ErrNotIdle):
		return &ErrorRecord{Code: ErrCodeConflict, Message: err.Error()}
	default:
		return &ErrorRecord{Code: ErrCodeInternal, Message: err.Error()}
	}
}
