package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/starford/yoloprep/internal/apperr"
)

// RunStore defines the catalog operations used by the service layer.
type RunStore interface {
	RecordRun(run Run, items []Item) (string, error)
	ListRuns(limit int) ([]Run, error)
	GetRun(id string) (*Run, error)
	RunItems(id string) ([]Item, error)
	Close() error
}

// Verify *DB satisfies RunStore at compile time.
var _ RunStore = (*DB)(nil)

// Run is one row of the runs table.
type Run struct {
	ID             string    `json:"id"`
	DatasetName    string    `json:"dataset_name"`
	SourceDir      string    `json:"source_dir"`
	TargetDir      string    `json:"target_dir"`
	Seed           int64     `json:"seed"`
	TrainRatio     float64   `json:"train_ratio"`
	StartedAt      time.Time `json:"started_at"`
	DurationMS     int64     `json:"duration_ms"`
	PairsFound     int       `json:"pairs_found"`
	PairsConverted int       `json:"pairs_converted"`
	TrainCount     int       `json:"train_count"`
	ValCount       int       `json:"val_count"`
	BoxesWritten   int       `json:"boxes_written"`
	BoxesDropped   int       `json:"boxes_dropped"`
	Cancelled      bool      `json:"cancelled"`
}

// Item is one emitted image/label pair of a run.
type Item struct {
	Stem          string `json:"stem"`
	Split         string `json:"split"`
	ImagePath     string `json:"image_path"`
	LabelChecksum string `json:"label_checksum"`
	Boxes         int    `json:"boxes"`
}

const runColumns = `id, dataset_name, source_dir, target_dir, seed, train_ratio, started_at,
	duration_ms, pairs_found, pairs_converted, train_count, val_count,
	boxes_written, boxes_dropped, cancelled`

// RecordRun inserts run and its items in one transaction. A new ID is
// generated when run.ID is empty; the stored ID is returned.
func (db *DB) RecordRun(run Run, items []Item) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return "", fmt.Errorf("catalog: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	_, err = tx.Exec(`INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.DatasetName, run.SourceDir, run.TargetDir, run.Seed, run.TrainRatio,
		run.StartedAt.UTC(), run.DurationMS, run.PairsFound, run.PairsConverted,
		run.TrainCount, run.ValCount, run.BoxesWritten, run.BoxesDropped, run.Cancelled)
	if err != nil {
		return "", fmt.Errorf("catalog: insert run: %w", err)
	}

	if len(items) > 0 {
		stmt, err := tx.Prepare(`INSERT INTO run_items (run_id, stem, split, image_path, label_checksum, boxes)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return "", fmt.Errorf("catalog: prepare item insert: %w", err)
		}
		defer stmt.Close()
		for _, it := range items {
			if _, err := stmt.Exec(run.ID, it.Stem, it.Split, it.ImagePath, it.LabelChecksum, it.Boxes); err != nil {
				return "", fmt.Errorf("catalog: insert item %s: %w", it.Stem, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("catalog: commit: %w", err)
	}
	return run.ID, nil
}

// ListRuns returns the most recent runs first. A non-positive limit means 50.
func (db *DB) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.conn.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("catalog: list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("catalog: scan run: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// GetRun returns the run with id or an error wrapping apperr.ErrNotFound.
func (db *DB) GetRun(id string) (*Run, error) {
	row := db.conn.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("catalog: run %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: get run: %w", err)
	}
	return r, nil
}

// RunItems returns the items of run id ordered by split then stem.
func (db *DB) RunItems(id string) ([]Item, error) {
	rows, err := db.conn.Query(`SELECT stem, split, image_path, label_checksum, boxes
		FROM run_items WHERE run_id = ? ORDER BY split, stem`, id)
	if err != nil {
		return nil, fmt.Errorf("catalog: run items: %w", err)
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.Stem, &it.Split, &it.ImagePath, &it.LabelChecksum, &it.Boxes); err != nil {
			return nil, fmt.Errorf("catalog: scan item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var r Run
	err := s.Scan(&r.ID, &r.DatasetName, &r.SourceDir, &r.TargetDir, &r.Seed, &r.TrainRatio,
		&r.StartedAt, &r.DurationMS, &r.PairsFound, &r.PairsConverted, &r.TrainCount,
		&r.ValCount, &r.BoxesWritten, &r.BoxesDropped, &r.Cancelled)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
