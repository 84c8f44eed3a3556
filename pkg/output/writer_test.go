package output

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/vidsentry/pkg/job"
	"github.com/3leaps/vidsentry/pkg/jobrunner"
)

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newTestWriter(buf *bytes.Buffer) *JSONLWriter {
	w := NewJSONLWriter(buf)
	w.now = func() time.Time { return testNow }
	return w
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []Record {
	t.Helper()
	var out []Record
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var r Record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		out = append(out, r)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestJSONLWriter_Envelopes(t *testing.T) {
	var buf bytes.Buffer
	w := newTestWriter(&buf)
	ctx := context.Background()
	j := job.Job{ID: "j1", Kind: job.KindDetection}

	require.NoError(t, w.WriteJob(ctx, j, &JobRecord{Status: job.StatusRunning}))
	require.NoError(t, w.WriteProgress(ctx, j, &ProgressRecord{Progress: 5, Ticks: 1, Total: 20}))
	require.NoError(t, w.WriteResult(ctx, j, &ResultRecord{Result: &job.Result{Detection: &job.DetectionResult{Triggered: true}}}))
	require.NoError(t, w.WriteError(ctx, j, &ErrorRecord{Code: ErrCodeFailed, Message: "boom"}))

	recs := decodeLines(t, &buf)
	require.Len(t, recs, 4)
	types := []string{TypeJob, TypeProgress, TypeResult, TypeError}
	for i, r := range recs {
		assert.Equal(t, types[i], r.Type)
		assert.Equal(t, "j1", r.JobID)
		assert.Equal(t, job.KindDetection, r.Kind)
		assert.Equal(t, testNow, r.TS)
	}

	var prog ProgressRecord
	require.NoError(t, json.Unmarshal(recs[1].Data, &prog))
	assert.Equal(t, ProgressRecord{Progress: 5, Ticks: 1, Total: 20}, prog)
}

func TestJSONLWriter_Close(t *testing.T) {
	var buf bytes.Buffer
	w := newTestWriter(&buf)
	require.NoError(t, w.Close())
	err := w.WriteJob(context.Background(), job.Job{}, &JobRecord{})
	assert.ErrorIs(t, err, ErrWriterClosed)
	assert.Zero(t, buf.Len())
}

func TestJSONLWriter_ContextCancellation(t *testing.T) {
	var buf bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := newTestWriter(&buf).WriteJob(ctx, job.Job{}, &JobRecord{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestJSONLWriter_ConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	w := newTestWriter(&buf)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			j := job.Job{ID: fmt.Sprintf("j%d", i), Kind: job.KindUpload}
			for k := 0; k < 10; k++ {
				_ = w.WriteProgress(ctx, j, &ProgressRecord{Progress: k * 10})
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, decodeLines(t, &buf), 200)
}

type failingWriter struct{ err error }

func (f *failingWriter) Write(p []byte) (int, error) { return 0, f.err }

type shortWriter struct{ buf bytes.Buffer }

func (s *shortWriter) Write(p []byte) (int, error) {
	if len(p) > 7 {
		p = p[:7]
	}
	return s.buf.Write(p)
}

type zeroWriter struct{}

func (zeroWriter) Write(p []byte) (int, error) { return 0, nil }

func TestJSONLWriter_WriteFailures(t *testing.T) {
	ctx := context.Background()

	boom := errors.New("disk full")
	err := NewJSONLWriter(&failingWriter{err: boom}).WriteJob(ctx, job.Job{}, &JobRecord{})
	var werr *WriteError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, "write", werr.Op)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "output: write: disk full", err.Error())

	err = NewJSONLWriter(zeroWriter{}).WriteJob(ctx, job.Job{}, &JobRecord{})
	assert.ErrorIs(t, err, io.ErrShortWrite)

	sw := &shortWriter{}
	require.NoError(t, NewJSONLWriter(sw).WriteJob(ctx, job.Job{ID: "j1"}, &JobRecord{Status: job.StatusComplete, Progress: 100}))
	var r Record
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(sw.buf.Bytes()), &r), "short writes are retried until the line is complete")
	assert.Equal(t, "j1", r.JobID)
}

func TestWriteEvent(t *testing.T) {
	var buf bytes.Buffer
	w := newTestWriter(&buf)
	ctx := context.Background()

	started := testNow
	done := testNow.Add(6 * time.Second)
	snap := job.Job{ID: "j9", Kind: job.KindTraining, Ticks: 3, TotalTicks: 10, StartedAt: &started, CompletedAt: &done}

	events := []jobrunner.Event{
		{JobID: "j9", Kind: job.KindTraining, Type: jobrunner.EventTypeStatus, Status: job.StatusRunning},
		{JobID: "j9", Kind: job.KindTraining, Type: jobrunner.EventTypeProgress, Progress: 30},
		{JobID: "j9", Kind: job.KindTraining, Type: jobrunner.EventTypeResult, Result: &job.Result{Training: &job.TrainingResult{ModelID: "model-abc12345"}}},
		{JobID: "j9", Kind: job.KindTraining, Type: jobrunner.EventTypeError, Message: "record training: db locked"},
	}
	for _, ev := range events {
		require.NoError(t, WriteEvent(ctx, w, ev, snap))
	}

	recs := decodeLines(t, &buf)
	require.Len(t, recs, 4)
	assert.Equal(t, TypeJob, recs[0].Type)
	assert.Equal(t, TypeProgress, recs[1].Type)

	var prog ProgressRecord
	require.NoError(t, json.Unmarshal(recs[1].Data, &prog))
	assert.Equal(t, 30, prog.Progress)
	assert.Equal(t, 3, prog.Ticks)
	assert.Equal(t, 10, prog.Total)

	var res ResultRecord
	require.NoError(t, json.Unmarshal(recs[2].Data, &res))
	assert.Equal(t, "model-abc12345", res.Result.Training.ModelID)
	assert.Equal(t, 6*time.Second, res.Elapsed)

	var er ErrorRecord
	require.NoError(t, json.Unmarshal(recs[3].Data, &er))
	assert.Equal(t, ErrCodeFailed, er.Code)
}

func TestErrorFor(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		code  string
		field string
	}{
		{"validation", job.NewValidationError("source", job.MsgMissingVideoSource), ErrCodeValidation, "source"},
		{"wrapped validation", fmt.Errorf("submit: %w", job.NewValidationError("training.epochs", job.MsgEpochsOutOfRange)), ErrCodeValidation, "training.epochs"},
		{"busy", jobrunner.ErrJobAlreadyRunning, ErrCodeConflict, ""},
		{"other", errors.New("boom"), ErrCodeInternal, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ErrorFor(tt.err)
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.field, rec.Field)
		})
	}
}
