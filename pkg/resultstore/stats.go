package resultstore

import (
	"context"
	"fmt"
)

// Summary holds the dashboard counters.
type Summary struct {
	VideosProcessed    int64 `json:"videos_processed"`
	ViolenceDetections int64 `json:"violence_detections"`
	PersonsDetected    int64 `json:"persons_detected"`
	TrainedModels      int64 `json:"trained_models"`
	ActiveModels       int64 `json:"active_models"`
}

// GetSummary computes aggregate statistics over the history.
func (s *Store) GetSummary(ctx context.Context) (*Summary, error) {
	var sum Summary

	err := s.db.QueryRowContext(ctx,
		`SELECT
			COUNT(*) as total,
			COALESCE(SUM(CASE WHEN detection_type = 'violence' AND triggered = 1 THEN 1 ELSE 0 END), 0) as violence,
			COALESCE(SUM(person_count), 0) as persons
		 FROM detection_results`).Scan(
		&sum.VideosProcessed, &sum.ViolenceDetections, &sum.PersonsDetected)
	if err != nil {
		return nil, fmt.Errorf("get detection stats: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN builtin = 0 THEN 1 ELSE 0 END), 0) as trained,
			COALESCE(SUM(CASE WHEN status = 'active' THEN 1 ELSE 0 END), 0) as active
		 FROM models`).Scan(
		&sum.TrainedModels, &sum.ActiveModels)
	if err != nil {
		return nil, fmt.Errorf("get model stats: %w", err)
	}

	return &sum, nil
}
