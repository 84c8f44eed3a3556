package resultstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/vidsentry/pkg/job"
)

func completedTraining(t *testing.T, name string, epochs int) job.Job {
	t.Helper()
	j, err := job.New(job.KindTraining, testNow).Start(job.Params{
		Training: job.TrainingParams{ModelName: name, DatasetPath: "s3://datasets/fights", Epochs: epochs},
	}, testNow)
	require.NoError(t, err)
	for j.Running() {
		j = j.Advance(job.FixedSynthesizer{Training: job.TrainingResult{
			ModelID: "model-" + name, Accuracy: 0.83, TrainingTimeSec: 512,
		}}, testNow.Add(time.Minute))
	}
	return j
}

func TestRecordTrainingRegistersModel(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	j := completedTraining(t, "gym01", 30)
	require.NoError(t, s.RecordTraining(ctx, j))

	m, err := s.GetModel(ctx, "model-gym01")
	require.NoError(t, err)
	assert.Equal(t, "gym01", m.Name)
	assert.Equal(t, job.DetectionViolence, m.Type)
	assert.InDelta(t, 0.83, m.Accuracy, 1e-9)
	assert.Equal(t, ModelStatusActive, m.Status)
	assert.False(t, m.Builtin)
	assert.Equal(t, j.ID, m.SourceJobID)

	runs, err := s.ListTrainings(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 30, runs[0].Epochs)
	assert.Equal(t, "s3://datasets/fights", runs[0].Dataset)
	assert.Equal(t, 512, runs[0].TrainingTimeSec)

	sum, err := s.GetSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.TrainedModels)
}

func TestRecordTrainingRerunReplacesRun(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	j := completedTraining(t, "gym02", 20)
	require.NoError(t, s.RecordTraining(ctx, j))

	rerun := j
	tr := *j.Result.Training
	tr.ModelID = "model-gym02b"
	tr.Accuracy = 0.91
	rerun.Result = &job.Result{Training: &tr}
	require.NoError(t, s.RecordTraining(ctx, rerun))

	runs, err := s.ListTrainings(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, j.ID, runs[0].ID)
	assert.Equal(t, "model-gym02b", runs[0].ModelID)
	assert.InDelta(t, 0.91, runs[0].Accuracy, 1e-9)

	_, err = s.GetModel(ctx, "model-gym02b")
	require.NoError(t, err)
}

func TestModelAvailability(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	ok, err := s.ModelAvailable(ctx, job.DefaultDetectionModel)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ModelAvailable(ctx, "does-not-exist")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetModelStatus(ctx, "violence-detector-v1", ModelStatusInactive))
	ok, err = s.ModelAvailable(ctx, "violence-detector-v1")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, s.SetModelStatus(ctx, "does-not-exist", ModelStatusActive), ErrNotFound)
}

func TestListModelsFilters(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.SetModelStatus(ctx, "violence-detector-v1", ModelStatusInactive))

	got, err := s.ListModels(ctx, ModelFilter{Search: "PERSON"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "person-detector-v1", got[0].ID)

	got, err = s.ListModels(ctx, ModelFilter{Type: job.DetectionViolence, Status: ModelStatusActive})
	require.NoError(t, err)
	ids := make([]string, 0, len(got))
	for _, m := range got {
		ids = append(ids, m.ID)
	}
	assert.ElementsMatch(t, []string{"default-violence-model", "violence-detector-v2"}, ids)

	got, err = s.ListModels(ctx, ModelFilter{Search: "_"})
	require.NoError(t, err)
	assert.Empty(t, got, "underscore must not act as a wildcard")
}

func TestDeleteModel(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.RecordTraining(ctx, completedTraining(t, "tmp01", 10)))
	require.NoError(t, s.DeleteModel(ctx, "model-tmp01"))

	_, err := s.GetModel(ctx, "model-tmp01")
	assert.ErrorIs(t, err, ErrNotFound)
	runs, err := s.ListTrainings(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)

	assert.ErrorIs(t, s.DeleteModel(ctx, job.DefaultDetectionModel), ErrBuiltinModel)
	assert.ErrorIs(t, s.DeleteModel(ctx, "missing"), ErrNotFound)
}

func TestParseModelStatus(t *testing.T) {
	st, err := ParseModelStatus(" Active ")
	require.NoError(t, err)
	assert.Equal(t, ModelStatusActive, st)
	_, err = ParseModelStatus("archived")
	assert.Error(t, err)
}
