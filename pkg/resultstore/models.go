package resultstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/3leaps/vidsentry/pkg/job"
)

// ModelStatus controls whether a model can be used for detection.
type ModelStatus string

const (
	ModelStatusActive   ModelStatus = "active"
	ModelStatusInactive ModelStatus = "inactive"
)

// ParseModelStatus validates a status string.
func ParseModelStatus(s string) (ModelStatus, error) {
	switch ModelStatus(strings.ToLower(strings.TrimSpace(s))) {
	case ModelStatusActive:
		return ModelStatusActive, nil
	case ModelStatusInactive:
		return ModelStatusInactive, nil
	default:
		return "", fmt.Errorf("invalid model status %q (expected active or inactive)", s)
	}
}

// Model is an entry in the model catalog.
type Model struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Type        job.DetectionType `json:"type"`
	Accuracy    float64           `json:"accuracy"`
	SizeMB      float64           `json:"size_mb"`
	Status      ModelStatus       `json:"status"`
	Builtin     bool              `json:"builtin"`
	SourceJobID string            `json:"source_job_id,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// ModelFilter narrows ListModels.
type ModelFilter struct {
	// Search matches id, name or type, case-insensitively.
	Search string
	Type   job.DetectionType
	Status ModelStatus
}

const modelColumns = `model_id, name, model_type, accuracy, size_mb, status, builtin, source_job_id, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanModel(row rowScanner) (Model, error) {
	var (
		m         Model
		builtin   int
		sourceJob sql.NullString
		createdAt string
	)
	if err := row.Scan(&m.ID, &m.Name, &m.Type, &m.Accuracy, &m.SizeMB, &m.Status, &builtin, &sourceJob, &createdAt); err != nil {
		return Model{}, err
	}
	m.Builtin = builtin != 0
	m.SourceJobID = sourceJob.String
	m.CreatedAt = parseTime(createdAt)
	return m, nil
}

// RegisterModel inserts or replaces a non built-in model.
func (s *Store) RegisterModel(ctx context.Context, m Model) error {
	return registerModel(ctx, s.db, m, s.now())
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func registerModel(ctx context.Context, db execer, m Model, now time.Time) error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("model id is required")
	}
	if m.Status == "" {
		m.Status = ModelStatusActive
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO models (`+modelColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(model_id) DO UPDATE SET
			name = excluded.name,
			model_type = excluded.model_type,
			accuracy = excluded.accuracy,
			size_mb = excluded.size_mb,
			status = excluded.status,
			source_job_id = excluded.source_job_id
		WHERE models.builtin = 0`,
		m.ID, m.Name, string(m.Type), m.Accuracy, m.SizeMB, string(m.Status),
		nullString(m.SourceJobID), formatTime(m.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("register model: %w", err)
	}
	return nil
}

// GetModel loads one model.
func (s *Store) GetModel(ctx context.Context, id string) (*Model, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+modelColumns+` FROM models WHERE model_id = ?`, strings.TrimSpace(id))
	m, err := scanModel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("model %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get model: %w", err)
	}
	return &m, nil
}

// ListModels returns models matching the filter, newest first.
func (s *Store) ListModels(ctx context.Context, f ModelFilter) ([]Model, error) {
	query := `SELECT ` + modelColumns + ` FROM models WHERE 1=1`
	var args []any

	if term := strings.ToLower(strings.TrimSpace(f.Search)); term != "" {
		like := containsPattern(term)
		query += ` AND (lower(model_id) LIKE ? ESCAPE '\' OR lower(name) LIKE ? ESCAPE '\' OR lower(model_type) LIKE ? ESCAPE '\')`
		args = append(args, like, like, like)
	}
	if f.Type != "" {
		query += ` AND model_type = ?`
		args = append(args, string(f.Type))
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	query += ` ORDER BY created_at DESC, model_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query models: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Model
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan model: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate models: %w", err)
	}
	return out, nil
}

// SetModelStatus activates or deactivates a model.
func (s *Store) SetModelStatus(ctx context.Context, id string, status ModelStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE models SET status = ? WHERE model_id = ?`, string(status), strings.TrimSpace(id))
	if err != nil {
		return fmt.Errorf("update model status: %w", err)
	}
	return requireAffected(res, "model "+id)
}

// DeleteModel removes a trained model and its training rows.
func (s *Store) DeleteModel(ctx context.Context, id string) error {
	m, err := s.GetModel(ctx, id)
	if err != nil {
		return err
	}
	if m.Builtin {
		return ErrBuiltinModel
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM training_runs WHERE model_id = ?`, m.ID); err != nil {
		return fmt.Errorf("delete training runs: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM models WHERE model_id = ?`, m.ID); err != nil {
		return fmt.Errorf("delete model: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

// ModelAvailable reports whether the model exists and is active.
func (s *Store) ModelAvailable(ctx context.Context, id string) (bool, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM models WHERE model_id = ?`, strings.TrimSpace(id)).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup model: %w", err)
	}
	return ModelStatus(status) == ModelStatusActive, nil
}

func requireAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func nullString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}
