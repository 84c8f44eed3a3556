package output

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/3leaps/vidsentry/pkg/job"
)

// Writer emits job records. Implementations must be safe for concurrent
// use; each call writes one complete line.
type Writer interface {
	WriteJob(ctx context.Context, j job.Job, rec *JobRecord) error
	WriteProgress(ctx context.Context, j job.Job, rec *ProgressRecord) error
	WriteResult(ctx context.Context, j job.Job, rec *ResultRecord) error
	WriteError(ctx context.Context, j job.Job, rec *ErrorRecord) error
	Close() error
}

// JSONLWriter writes records as newline-delimited JSON to an io.Writer.
type JSONLWriter struct {
	w   io.Writer
	now func() time.Time

	mu     sync.Mutex
	closed bool
}

var _ Writer = (*JSONLWriter)(nil)

// NewJSONLWriter creates a JSONL writer over w.
func NewJSONLWriter(w io.Writer) *JSONLWriter {
	return &JSONLWriter{w: w, now: time.Now}
}

func (jw *JSONLWriter) WriteJob(ctx context.Context, j job.Job, rec *JobRecord) error {
	return jw.writeRecord(ctx, TypeJob, j, rec)
}

func (jw *JSONLWriter) WriteProgress(ctx context.Context, j job.Job, rec *ProgressRecord) error {
	return jw.writeRecord(ctx, TypeProgress, j, rec)
}

func (jw *JSONLWriter) WriteResult(ctx context.Context, j job.Job, rec *ResultRecord) error {
	return jw.writeRecord(ctx, TypeResult, j, rec)
}

func (jw *JSONLWriter) WriteError(ctx context.Context, j job.Job, rec *ErrorRecord) error {
	return jw.writeRecord(ctx, TypeError, j, rec)
}

// Close marks the writer closed. The underlying io.Writer is left open.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	jw.closed = true
	return nil
}

func (jw *JSONLWriter) writeRecord(ctx context.Context, recordType string, j job.Job, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dataBytes, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.closed {
		return ErrWriterClosed
	}

	line, err := json.Marshal(Record{
		Type:  recordType,
		TS:    jw.now().UTC(),
		JobID: j.ID,
		Kind:  j.Kind,
		Data:  dataBytes,
	})
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}

	if err := writeAll(jw.w, append(line, '\n')); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

// writeAll loops over short writes so JSONL lines are never truncated.
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}
