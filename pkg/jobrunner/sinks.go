package jobrunner

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/3leaps/vidsentry/pkg/job"
)

// Payload is the uploaded video content held until an upload completes.
type Payload interface {
	Open() (io.ReadCloser, error)
	// Release frees resources once the payload is no longer needed.
	Release() error
}

// FilePayload reads the video from a local path. Temporary files are
// removed on Release.
type FilePayload struct {
	Path      string
	Temporary bool
}

func (p FilePayload) Open() (io.ReadCloser, error) {
	return os.Open(p.Path)
}

func (p FilePayload) Release() error {
	if !p.Temporary {
		return nil
	}
	if err := os.Remove(p.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// storedVideo reads a completed upload back from the video store, so a
// reset upload can run again after its spool is gone.
type storedVideo struct {
	videos VideoSink
	key    string
}

func (s storedVideo) Open() (io.ReadCloser, error) {
	return s.videos.OpenVideo(context.Background(), s.key)
}

func (storedVideo) Release() error { return nil }

// VideoSink stores the payload of a completed upload.
// payload is nil for URL uploads.
type VideoSink interface {
	StoreVideo(ctx context.Context, jobID string, src job.Source, payload io.Reader) (job.UploadResult, error)
	OpenVideo(ctx context.Context, key string) (io.ReadCloser, error)
}

// Recorder keeps the history of completed detection and training runs.
type Recorder interface {
	RecordDetection(ctx context.Context, j job.Job) error
	RecordTraining(ctx context.Context, j job.Job) error
}

// ModelChecker reports whether a detection model can be used.
type ModelChecker interface {
	ModelAvailable(ctx context.Context, modelID string) (bool, error)
}

// Registry persists job snapshots.
type Registry interface {
	SaveJob(j job.Job, pid int) error
}

// Metrics receives job lifecycle observations.
type Metrics interface {
	JobStarted(kind job.Kind)
	JobFinished(kind job.Kind, status job.Status, elapsed time.Duration)
	JobStopped(kind job.Kind)
	ValidationFailed(kind job.Kind)
	Tick(kind job.Kind)
}

type nopMetrics struct{}

func (nopMetrics) JobStarted(job.Kind)                             {}
func (nopMetrics) JobFinished(job.Kind, job.Status, time.Duration) {}
func (nopMetrics) JobStopped(job.Kind)                             {}
func (nopMetrics) ValidationFailed(job.Kind)                       {}
func (nopMetrics) Tick(job.Kind)                                   {}
