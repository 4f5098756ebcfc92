package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// RunRecord is the persisted status of one sweep run. Status holds the
// engine's JSON status snapshot.
type RunRecord struct {
	RunID       string          `json:"run_id"`
	DatasetID   string          `json:"dataset_id,omitempty"`
	Status      json.RawMessage `json:"status"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// SaveRun inserts or replaces the record of a run. A zero UpdatedAt is
// stamped with the current time.
func (db *DB) SaveRun(rec RunRecord) error {
	if rec.RunID == "" {
		return fmt.Errorf("run record needs an id")
	}
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := db.Exec(`
		INSERT INTO sweep_runs (run_id, dataset_id, status_json, started_at, completed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id) DO UPDATE SET
			dataset_id   = excluded.dataset_id,
			status_json  = excluded.status_json,
			started_at   = excluded.started_at,
			completed_at = excluded.completed_at,
			updated_at   = excluded.updated_at
	`,
		rec.RunID,
		nullStr(rec.DatasetID),
		string(rec.Status),
		nullTime(rec.StartedAt),
		nullTime(rec.CompletedAt),
		formatTime(updated),
	)
	if err != nil {
		return fmt.Errorf("saving run %s: %w", rec.RunID, err)
	}
	return nil
}

// GetRun returns the record of a run, or nil when there is none.
func (db *DB) GetRun(runID string) (*RunRecord, error) {
	row := db.QueryRow(`
		SELECT run_id, dataset_id, status_json, started_at, completed_at, updated_at
		FROM sweep_runs WHERE run_id = ?
	`, runID)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying run %s: %w", runID, err)
	}
	return rec, nil
}

// ListRuns returns run records, most recently updated first.
func (db *DB) ListRuns(limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT run_id, dataset_id, status_json, started_at, completed_at, updated_at
		FROM sweep_runs ORDER BY updated_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (*RunRecord, error) {
	var (
		rec                             RunRecord
		datasetID                       sql.NullString
		status                          string
		startedAt, completedAt, updated sql.NullString
	)
	if err := s.Scan(&rec.RunID, &datasetID, &status, &startedAt, &completedAt, &updated); err != nil {
		return nil, err
	}
	rec.DatasetID = datasetID.String
	rec.Status = json.RawMessage(status)
	if startedAt.Valid {
		t := parseTime(startedAt)
		rec.StartedAt = &t
	}
	if completedAt.Valid {
		t := parseTime(completedAt)
		rec.CompletedAt = &t
	}
	rec.UpdatedAt = parseTime(updated)
	return &rec, nil
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}
