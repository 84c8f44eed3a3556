package resultstore

import (
	"context"
	"fmt"
	"time"

	"github.com/3leaps/vidsentry/pkg/job"
)

// TrainingRecord is one completed training run.
type TrainingRecord struct {
	ID              string            `json:"id"`
	ModelID         string            `json:"model_id"`
	ModelName       string            `json:"model_name"`
	ModelType       job.DetectionType `json:"model_type"`
	Dataset         string            `json:"dataset"`
	Epochs          int               `json:"epochs"`
	LearningRate    float64           `json:"learning_rate"`
	Accuracy        float64           `json:"accuracy"`
	TrainingTimeSec int               `json:"training_time_sec"`
	CreatedAt       time.Time         `json:"created_at"`
}

// RecordTraining stores a completed training job and registers the model it
// produced, in one transaction. A rerun of the same job replaces its row.
func (s *Store) RecordTraining(ctx context.Context, j job.Job) error {
	if j.Result == nil || j.Result.Training == nil {
		return fmt.Errorf("job %s has no training result", j.ID)
	}
	tr := j.Result.Training
	p := j.Params.Training

	created := s.now()
	if j.CompletedAt != nil {
		created = j.CompletedAt.UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := registerModel(ctx, tx, Model{
		ID:          tr.ModelID,
		Name:        p.ModelName,
		Type:        p.ModelType,
		Accuracy:    tr.Accuracy,
		Status:      ModelStatusActive,
		SourceJobID: j.ID,
		CreatedAt:   created,
	}, created); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO training_runs (
			run_id, model_id, model_name, model_type, dataset, epochs,
			learning_rate, accuracy, training_time_sec, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			model_id = excluded.model_id,
			model_name = excluded.model_name,
			model_type = excluded.model_type,
			dataset = excluded.dataset,
			epochs = excluded.epochs,
			learning_rate = excluded.learning_rate,
			accuracy = excluded.accuracy,
			training_time_sec = excluded.training_time_sec,
			created_at = excluded.created_at`,
		j.ID, tr.ModelID, p.ModelName, string(p.ModelType), p.DatasetSource(), tr.Epochs,
		p.LearningRate, tr.Accuracy, tr.TrainingTimeSec, formatTime(created),
	); err != nil {
		return fmt.Errorf("upsert training run: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit training run: %w", err)
	}
	return nil
}

// ListTrainings returns training runs, newest first. Zero limit means no
// limit.
func (s *Store) ListTrainings(ctx context.Context, limit int) ([]TrainingRecord, error) {
	query := `SELECT run_id, model_id, model_name, model_type, dataset, epochs,
		learning_rate, accuracy, training_time_sec, created_at
		FROM training_runs ORDER BY created_at DESC, run_id`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query training runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []TrainingRecord
	for rows.Next() {
		var (
			r         TrainingRecord
			createdAt string
		)
		if err := rows.Scan(&r.ID, &r.ModelID, &r.ModelName, &r.ModelType, &r.Dataset, &r.Epochs,
			&r.LearningRate, &r.Accuracy, &r.TrainingTimeSec, &createdAt); err != nil {
			return nil, fmt.Errorf("scan training run: %w", err)
		}
		r.CreatedAt = parseTime(createdAt)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate training runs: %w", err)
	}
	return out, nil
}
