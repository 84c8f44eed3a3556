package resultstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const SchemaVersion = 2

// builtinModels are always present in the catalog.
var builtinModels = []Model{
	{ID: "default-violence-model", Name: "Default violence model", Type: "violence", Accuracy: 0.85, SizeMB: 42.0},
	{ID: "violence-detector-v1", Name: "Violence Detector v1", Type: "violence", Accuracy: 0.87, SizeMB: 45.2},
	{ID: "violence-detector-v2", Name: "Violence Detector v2", Type: "violence", Accuracy: 0.91, SizeMB: 52.8},
	{ID: "person-detector-v1", Name: "Person Detector v1", Type: "person", Accuracy: 0.85, SizeMB: 65.3},
}

// Migrate creates (or upgrades) the results schema in-place and seeds the
// built-in models.
//
// v1: detection_results, training_runs, models.
// v2: person detection columns on detection_results.
func Migrate(ctx context.Context, db *sql.DB) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if db == nil {
		return fmt.Errorf("db is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL
		);`,
		`INSERT INTO schema_meta (id, schema_version)
			VALUES (1, 0)
			ON CONFLICT(id) DO NOTHING;`,

		`CREATE TABLE IF NOT EXISTS models (
			model_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			model_type TEXT NOT NULL,
			accuracy REAL NOT NULL,
			size_mb REAL NOT NULL DEFAULT 0,
			-- status is active or inactive; inactive models cannot run detections.
			status TEXT NOT NULL,
			builtin INTEGER NOT NULL DEFAULT 0,
			-- source_job_id is the training job that produced the model.
			source_job_id TEXT,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_models_type ON models(model_type);`,

		`CREATE TABLE IF NOT EXISTS detection_results (
			result_id TEXT PRIMARY KEY,
			video_name TEXT NOT NULL,
			video_source TEXT NOT NULL,
			model_id TEXT NOT NULL,
			detection_type TEXT NOT NULL,
			threshold REAL NOT NULL,
			triggered INTEGER NOT NULL,
			confidence_score REAL NOT NULL,
			processing_time_ms INTEGER NOT NULL,
			person_count INTEGER NOT NULL DEFAULT 0,
			detections_json TEXT,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_detection_results_created_at ON detection_results(created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_detection_results_type ON detection_results(detection_type);`,

		`CREATE TABLE IF NOT EXISTS training_runs (
			run_id TEXT PRIMARY KEY,
			model_id TEXT NOT NULL,
			model_name TEXT NOT NULL,
			model_type TEXT NOT NULL,
			dataset TEXT NOT NULL,
			epochs INTEGER NOT NULL,
			learning_rate REAL NOT NULL,
			accuracy REAL NOT NULL,
			training_time_sec INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			FOREIGN KEY(model_id) REFERENCES models(model_id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_training_runs_created_at ON training_runs(created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}

	var current int
	if err := tx.QueryRowContext(ctx, `SELECT schema_version FROM schema_meta WHERE id=1`).Scan(&current); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}

	// v2: person detection columns. Fresh databases already have them from
	// the CREATE TABLE above.
	if current < 2 {
		alters := []string{
			`ALTER TABLE detection_results ADD COLUMN person_count INTEGER NOT NULL DEFAULT 0;`,
			`ALTER TABLE detection_results ADD COLUMN detections_json TEXT;`,
		}
		for _, stmt := range alters {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				msg := err.Error()
				// SQLite/libsql report duplicate columns as an error; treat as idempotent.
				if strings.Contains(msg, "duplicate column name") || strings.Contains(msg, "already exists") {
					continue
				}
				return fmt.Errorf("exec migration statement: %w", err)
			}
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for _, m := range builtinModels {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO models (model_id, name, model_type, accuracy, size_mb, status, builtin, created_at)
			VALUES (?, ?, ?, ?, ?, ?, 1, ?)
			ON CONFLICT(model_id) DO NOTHING`,
			m.ID, m.Name, m.Type, m.Accuracy, m.SizeMB, ModelStatusActive, now,
		); err != nil {
			return fmt.Errorf("seed model %s: %w", m.ID, err)
		}
	}

	if current != SchemaVersion {
		if _, err := tx.ExecContext(ctx, `UPDATE schema_meta SET schema_version=? WHERE id=1`, SchemaVersion); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
