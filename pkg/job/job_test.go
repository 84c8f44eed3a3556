package job

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func mp4Params() Params {
	return Params{Source: Source{FileName: "clip.mp4", ContentType: "video/mp4", Size: 1 << 20}}
}

func runToCompletion(t *testing.T, j Job, synth Synthesizer) Job {
	t.Helper()
	for i := 0; i < 1000 && j.Running(); i++ {
		j = j.Advance(synth, testNow)
	}
	require.Equal(t, StatusComplete, j.Status, "job did not complete")
	return j
}

func TestNewJobIsIdle(t *testing.T) {
	j := New(KindUpload, testNow)

	assert.NotEmpty(t, j.ID)
	assert.Equal(t, KindUpload, j.Kind)
	assert.Equal(t, StatusIdle, j.Status)
	assert.Zero(t, j.Progress)
	assert.Nil(t, j.Result)
}

func TestUploadScenario(t *testing.T) {
	j, err := New(KindUpload, testNow).Start(mp4Params(), testNow)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, j.Status)
	assert.Equal(t, 10, j.TotalTicks)
	require.NotNil(t, j.StartedAt)

	j = runToCompletion(t, j, NewRandomSynthesizer(1))

	assert.Equal(t, 100, j.Progress)
	assert.Equal(t, 10, j.Ticks)
	assert.Nil(t, j.Result, "uploads carry no synthesized payload")
	assert.NotNil(t, j.CompletedAt)
}

func TestDetectionMissingSourceStaysIdle(t *testing.T) {
	idle := New(KindDetection, testNow)

	got, err := idle.Start(Params{}, testNow)
	require.Error(t, err)
	assert.Equal(t, "missing video source", err.Error())
	assert.True(t, IsValidation(err))
	assert.Equal(t, idle, got)
}

func TestProgressMonotonicAndCompleteIffHundred(t *testing.T) {
	for _, kind := range Kinds {
		t.Run(kind.String(), func(t *testing.T) {
			params := mp4Params()
			params.Training = TrainingParams{ModelName: "m", DatasetPath: "/data/set", Epochs: 35}

			j, err := New(kind, testNow).Start(params, testNow)
			require.NoError(t, err)

			last := j.Progress
			for j.Running() {
				j = j.Advance(FixedSynthesizer{}, testNow)
				assert.GreaterOrEqual(t, j.Progress, last)
				assert.LessOrEqual(t, j.Progress, 100)
				assert.Equal(t, j.Progress == 100, j.Status == StatusComplete)
				last = j.Progress
			}
			assert.Equal(t, StatusComplete, j.Status)
		})
	}
}

type countingSynth struct {
	calls int
}

func (c *countingSynth) Synthesize(kind Kind, params Params) *Result {
	c.calls++
	return FixedSynthesizer{}.Synthesize(kind, params)
}

func TestSynthesizerCalledExactlyOnce(t *testing.T) {
	synth := &countingSynth{}
	j, err := New(KindDetection, testNow).Start(mp4Params(), testNow)
	require.NoError(t, err)

	j = runToCompletion(t, j, synth)
	for i := 0; i < 5; i++ {
		j = j.Advance(synth, testNow)
	}

	assert.Equal(t, 1, synth.calls)
	require.NotNil(t, j.Result)
	require.NotNil(t, j.Result.Detection)
	assert.Equal(t, DetectionViolence, j.Result.Detection.DetectionType)
}

func TestTrainingTicksDerivedFromEpochs(t *testing.T) {
	tests := []struct {
		epochs int
		ticks  int
	}{
		{10, 5},
		{50, 25},
		{55, 28},
		{100, 50},
	}

	for _, tt := range tests {
		params := Params{Training: TrainingParams{ModelName: "m", DatasetPath: "s3://bucket/ds", Epochs: tt.epochs}}
		j, err := New(KindTraining, testNow).Start(params, testNow)
		require.NoError(t, err)
		assert.Equal(t, tt.ticks, j.TotalTicks, "epochs=%d", tt.epochs)

		j = runToCompletion(t, j, FixedSynthesizer{})
		assert.Equal(t, tt.ticks, j.Ticks)
		require.NotNil(t, j.Result.Training)
		assert.Equal(t, tt.epochs, j.Result.Training.Epochs)
	}
}

func TestResetFromAnyStatus(t *testing.T) {
	idle := New(KindDetection, testNow)
	running, err := idle.Start(mp4Params(), testNow)
	require.NoError(t, err)
	running = running.Advance(FixedSynthesizer{}, testNow)
	complete := runToCompletion(t, running, FixedSynthesizer{})
	failed := running.Fail(assert.AnError, testNow)

	for name, j := range map[string]Job{"idle": idle, "running": running, "complete": complete, "failed": failed} {
		t.Run(name, func(t *testing.T) {
			r := j.Reset()
			assert.Equal(t, StatusIdle, r.Status)
			assert.Zero(t, r.Progress)
			assert.Zero(t, r.Ticks)
			assert.Nil(t, r.Result)
			assert.Empty(t, r.Error)
			assert.Nil(t, r.StartedAt)
			assert.Nil(t, r.CompletedAt)
			assert.Equal(t, j.ID, r.ID)
		})
	}
}

func TestResetJobCanStartAgain(t *testing.T) {
	j, err := New(KindUpload, testNow).Start(mp4Params(), testNow)
	require.NoError(t, err)
	j = runToCompletion(t, j, nil).Reset()

	j, err = j.Start(j.Params, testNow)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, j.Status)
	assert.Zero(t, j.Progress)
}

func TestStartRejectsNonIdle(t *testing.T) {
	j, err := New(KindUpload, testNow).Start(mp4Params(), testNow)
	require.NoError(t, err)

	_, err = j.Start(mp4Params(), testNow)
	assert.ErrorIs(t, err, ErrNotIdle)
}

func TestAdvanceIgnoresNonRunning(t *testing.T) {
	idle := New(KindUpload, testNow)
	assert.Equal(t, idle, idle.Advance(FixedSynthesizer{}, testNow))
}

func TestFailAndAttachUpload(t *testing.T) {
	j, err := New(KindUpload, testNow).Start(mp4Params(), testNow)
	require.NoError(t, err)

	failed := j.Fail(nil, testNow)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, "job failed", failed.Error)

	done := runToCompletion(t, j, nil).AttachUpload(UploadResult{StorageKey: "videos/x/clip.mp4", Bytes: 42})
	require.NotNil(t, done.Result)
	require.NotNil(t, done.Result.Upload)
	assert.Equal(t, "videos/x/clip.mp4", done.Result.Upload.StorageKey)

	// Attaching to a running job is ignored.
	assert.Nil(t, j.AttachUpload(UploadResult{}).Result)
}

func TestFailOnlyFromRunning(t *testing.T) {
	idle := New(KindDetection, testNow)
	assert.Equal(t, idle, idle.Fail(errors.New("boom"), testNow))

	running, err := idle.Start(mp4Params(), testNow)
	require.NoError(t, err)
	done := runToCompletion(t, running, FixedSynthesizer{})
	require.Equal(t, StatusComplete, done.Status)
	require.NotNil(t, done.Result)

	after := done.Fail(errors.New("boom"), testNow)
	assert.Equal(t, StatusComplete, after.Status)
	assert.Empty(t, after.Error)

	failed := running.Fail(errors.New("boom"), testNow)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, "boom", failed.Error)
	assert.Nil(t, failed.Result)
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{"upload": KindUpload, "Detect": KindDetection, " training ": KindTraining} {
		got, err := ParseKind(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseKind("transcode")
	assert.Error(t, err)
}
