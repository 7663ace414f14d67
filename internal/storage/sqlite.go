package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/faqbot/internal/models"
)

// SQLiteLedger implements Ledger using SQLite.
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLiteLedger opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteLedger(dbPath string) (*SQLiteLedger, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteLedger{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS ingest_runs (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		pair_count INTEGER NOT NULL,
		stale_ids TEXT,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_finished_at ON ingest_runs(finished_at);

	CREATE TABLE IF NOT EXISTS ingest_pairs (
		run_id TEXT NOT NULL,
		point_id INTEGER NOT NULL,
		question TEXT NOT NULL,
		answer TEXT NOT NULL,
		PRIMARY KEY (run_id, point_id),
		FOREIGN KEY (run_id) REFERENCES ingest_runs(id) ON DELETE CASCADE
	);
	`
	_, err := db.Exec(schema)
	return err
}

// RecordRun inserts the run and its pairs in one transaction.
func (s *SQLiteLedger) RecordRun(ctx context.Context, run *models.IngestRun, pairs []models.QAPair) error {
	staleJSON, err := json.Marshal(run.StaleIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal stale ids: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO ingest_runs (id, source, fingerprint, pair_count, stale_ids, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Source, run.Fingerprint, run.PairCount, string(staleJSON), run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO ingest_pairs (run_id, point_id, question, answer) VALUES (?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, p := range pairs {
		if _, err := stmt.ExecContext(ctx, run.ID, i+1, p.Question, p.Answer); err != nil {
			return fmt.Errorf("failed to insert pair %d: %w", i+1, err)
		}
	}
	return tx.Commit()
}

const runColumns = `id, source, fingerprint, pair_count, stale_ids, started_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.IngestRun, error) {
	var run models.IngestRun
	var staleJSON sql.NullString
	if err := row.Scan(&run.ID, &run.Source, &run.Fingerprint, &run.PairCount, &staleJSON, &run.StartedAt, &run.FinishedAt); err != nil {
		return nil, err
	}
	if staleJSON.Valid && staleJSON.String != "" && staleJSON.String != "null" {
		if err := json.Unmarshal([]byte(staleJSON.String), &run.StaleIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stale ids: %w", err)
		}
	}
	return &run, nil
}

// LastRun returns the most recently finished run.
func (s *SQLiteLedger) LastRun(ctx context.Context) (*models.IngestRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM ingest_runs ORDER BY finished_at DESC, rowid DESC LIMIT 1`)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns up to limit runs, newest first.
func (s *SQLiteLedger) ListRuns(ctx context.Context, limit int) ([]*models.IngestRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM ingest_runs ORDER BY finished_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.IngestRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RunPairs returns the pairs written by runID.
func (s *SQLiteLedger) RunPairs(ctx context.Context, runID string) ([]models.QAPair, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT question, answer FROM ingest_pairs WHERE run_id = ? ORDER BY point_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []models.QAPair
	for rows.Next() {
		var p models.QAPair
		if err := rows.Scan(&p.Question, &p.Answer); err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

// MaxPointID returns the high-water mark of point ids across all runs.
func (s *SQLiteLedger) MaxPointID(ctx context.Context) (uint64, error) {
	var max sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(point_id) FROM ingest_pairs`).Scan(&max); err != nil {
		return 0, err
	}
	if !max.Valid {
		return 0, nil
	}
	return uint64(max.Int64), nil
}

// Close closes the database connection.
func (s *SQLiteLedger) Close() error {
	return s.db.Close()
}
