package resultstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/3leaps/vidsentry/pkg/job"
)

// DetectionRecord is one row of detection history.
type DetectionRecord struct {
	ID               string            `json:"id"`
	VideoName        string            `json:"video_name"`
	VideoSource      string            `json:"video_source"`
	ModelID          string            `json:"model_id"`
	DetectionType    job.DetectionType `json:"detection_type"`
	Threshold        float64           `json:"threshold"`
	Triggered        bool              `json:"triggered"`
	ConfidenceScore  float64           `json:"confidence_score"`
	ProcessingTimeMs int               `json:"processing_time_ms"`
	PersonCount      int               `json:"person_count,omitempty"`
	Detections       []job.Detection   `json:"detections,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}

// DetectionFilter narrows ListDetections.
type DetectionFilter struct {
	// Search matches the video name or the result id, case-insensitively.
	Search string

	// Pattern is a doublestar glob matched against the video name.
	Pattern string

	Type job.DetectionType

	// TriggeredOnly keeps rows where the detector fired.
	TriggeredOnly bool

	// Since and Until bound created_at. Zero means unbounded.
	Since time.Time
	Until time.Time

	// Limit caps the number of results returned. Zero means no limit.
	Limit int
}

// RecordDetection stores the result of a completed detection job.
func (s *Store) RecordDetection(ctx context.Context, j job.Job) error {
	if j.Result == nil || j.Result.Detection == nil {
		return fmt.Errorf("job %s has no detection result", j.ID)
	}
	d := j.Result.Detection

	var detectionsJSON sql.NullString
	if len(d.Detections) > 0 {
		b, err := json.Marshal(d.Detections)
		if err != nil {
			return fmt.Errorf("marshal detections: %w", err)
		}
		detectionsJSON = sql.NullString{String: string(b), Valid: true}
	}

	created := s.now()
	if j.CompletedAt != nil {
		created = j.CompletedAt.UTC()
	}

	src := j.Params.Source
	source := src.URL
	if src.HasFile() {
		source = src.FileName
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO detection_results (
			result_id, video_name, video_source, model_id, detection_type, threshold,
			triggered, confidence_score, processing_time_ms, person_count, detections_json, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(result_id) DO UPDATE SET
			triggered = excluded.triggered,
			confidence_score = excluded.confidence_score,
			processing_time_ms = excluded.processing_time_ms,
			person_count = excluded.person_count,
			detections_json = excluded.detections_json,
			created_at = excluded.created_at`,
		j.ID, src.Name(), source, j.Params.Detection.Model, string(d.DetectionType), j.Params.Detection.Threshold,
		boolToInt(d.Triggered), d.ConfidenceScore, d.ProcessingTimeMs, d.PersonCount, detectionsJSON, formatTime(created),
	)
	if err != nil {
		return fmt.Errorf("insert detection result: %w", err)
	}
	return nil
}

const detectionColumns = `result_id, video_name, video_source, model_id, detection_type, threshold,
	triggered, confidence_score, processing_time_ms, person_count, detections_json, created_at`

func scanDetection(row rowScanner) (DetectionRecord, error) {
	var (
		r          DetectionRecord
		triggered  int
		detections sql.NullString
		createdAt  string
	)
	if err := row.Scan(&r.ID, &r.VideoName, &r.VideoSource, &r.ModelID, &r.DetectionType, &r.Threshold,
		&triggered, &r.ConfidenceScore, &r.ProcessingTimeMs, &r.PersonCount, &detections, &createdAt); err != nil {
		return DetectionRecord{}, err
	}
	r.Triggered = triggered != 0
	r.CreatedAt = parseTime(createdAt)
	if detections.Valid && detections.String != "" {
		if err := json.Unmarshal([]byte(detections.String), &r.Detections); err != nil {
			return DetectionRecord{}, fmt.Errorf("parse detections: %w", err)
		}
	}
	return r, nil
}

// GetDetection loads one detection result.
func (s *Store) GetDetection(ctx context.Context, id string) (*DetectionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+detectionColumns+` FROM detection_results WHERE result_id = ?`, strings.TrimSpace(id))
	r, err := scanDetection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("detection result %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get detection result: %w", err)
	}
	return &r, nil
}

// ListDetections returns detection history matching the filter, newest
// first.
//
// Pattern matching uses doublestar semantics and is applied client-side.
func (s *Store) ListDetections(ctx context.Context, f DetectionFilter) ([]DetectionRecord, error) {
	if f.Pattern != "" && !doublestar.ValidatePattern(f.Pattern) {
		return nil, fmt.Errorf("invalid glob pattern: %s", f.Pattern)
	}

	query := `SELECT ` + detectionColumns + ` FROM detection_results WHERE 1=1`
	var args []any

	if term := strings.ToLower(strings.TrimSpace(f.Search)); term != "" {
		like := containsPattern(term)
		query += ` AND (lower(video_name) LIKE ? ESCAPE '\' OR lower(result_id) LIKE ? ESCAPE '\')`
		args = append(args, like, like)
	}
	if f.Type != "" {
		query += ` AND detection_type = ?`
		args = append(args, string(f.Type))
	}
	if f.TriggeredOnly {
		query += ` AND triggered = 1`
	}
	if !f.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, formatTime(f.Since))
	}
	if !f.Until.IsZero() {
		query += ` AND created_at <= ?`
		args = append(args, formatTime(f.Until))
	}
	query += ` ORDER BY created_at DESC, result_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query detection results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []DetectionRecord
	for rows.Next() {
		r, err := scanDetection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan detection result: %w", err)
		}
		if f.Pattern != "" {
			matched, _ := doublestar.Match(f.Pattern, r.VideoName)
			if !matched {
				continue
			}
		}
		out = append(out, r)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate detection results: %w", err)
	}
	return out, nil
}

// DeleteDetection removes one detection result.
func (s *Store) DeleteDetection(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM detection_results WHERE result_id = ?`, strings.TrimSpace(id))
	if err != nil {
		return fmt.Errorf("delete detection result: %w", err)
	}
	return requireAffected(res, "detection result "+id)
}
