package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// MemoryDSN keeps the journal in process memory for the lifetime of the run
const MemoryDSN = "file::memory:?cache=shared"

// Database is the per-run episode journal
type Database struct {
	db *sql.DB
}

// EpisodeRecord is one closed presence episode
type EpisodeRecord struct {
	ID              string    `json:"id"`
	RunID           string    `json:"run_id"`
	Seq             int       `json:"seq"`
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at"`
	DurationSeconds float64   `json:"duration_seconds"`
	PeakCount       int       `json:"peak_count"`
	AverageSeconds  float64   `json:"average_seconds"`
}

// RunRecord describes one processing run
type RunRecord struct {
	ID         string
	Input      string
	Model      string
	Device     string
	StartedAt  time.Time
	LoadTimeMs float64
}

// New opens the journal. A single connection is used so that in-memory
// databases are shared by every caller.
func New(dsn string) (*Database, error) {
	if dsn == "" {
		dsn = MemoryDSN
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if !strings.Contains(dsn, ":memory:") {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &Database{db: db}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// Migrate creates the journal schema
func (d *Database) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			input TEXT NOT NULL,
			model TEXT NOT NULL,
			device TEXT,
			started_at DATETIME NOT NULL,
			load_time_ms REAL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS episodes (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			started_at DATETIME NOT NULL,
			ended_at DATETIME NOT NULL,
			duration_seconds REAL NOT NULL,
			peak_count INTEGER NOT NULL,
			average_seconds REAL NOT NULL,
			FOREIGN KEY (run_id) REFERENCES runs(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_episodes_run_seq ON episodes(run_id, seq DESC)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// SaveRun records the start of a run
func (d *Database) SaveRun(ctx context.Context, run *RunRecord) error {
	query := `INSERT INTO runs (id, input, model, device, started_at, load_time_ms)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET load_time_ms = excluded.load_time_ms`

	_, err := d.db.ExecContext(ctx, query, run.ID, run.Input, run.Model, run.Device,
		run.StartedAt.UTC(), run.LoadTimeMs)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID; nil if absent
func (d *Database) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	query := `SELECT id, input, model, device, started_at, load_time_ms FROM runs WHERE id = ?`

	var run RunRecord
	err := d.db.QueryRowContext(ctx, query, id).Scan(&run.ID, &run.Input, &run.Model,
		&run.Device, &run.StartedAt, &run.LoadTimeMs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

// SaveEpisode appends a closed episode
func (d *Database) SaveEpisode(ctx context.Context, ep *EpisodeRecord) error {
	query := `INSERT INTO episodes
		(id, run_id, seq, started_at, ended_at, duration_seconds, peak_count, average_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := d.db.ExecContext(ctx, query, ep.ID, ep.RunID, ep.Seq, ep.StartedAt.UTC(),
		ep.EndedAt.UTC(), ep.DurationSeconds, ep.PeakCount, ep.AverageSeconds)
	if err != nil {
		return fmt.Errorf("failed to save episode: %w", err)
	}
	return nil
}

// ListEpisodes returns a run's episodes, newest first. limit <= 0 returns all.
func (d *Database) ListEpisodes(ctx context.Context, runID string, limit int) ([]*EpisodeRecord, error) {
	query := `SELECT id, run_id, seq, started_at, ended_at, duration_seconds, peak_count, average_seconds
		FROM episodes WHERE run_id = ? ORDER BY seq DESC`
	args := []interface{}{runID}

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list episodes: %w", err)
	}
	defer rows.Close()

	episodes := []*EpisodeRecord{}
	for rows.Next() {
		var ep EpisodeRecord
		if err := rows.Scan(&ep.ID, &ep.RunID, &ep.Seq, &ep.StartedAt, &ep.EndedAt,
			&ep.DurationSeconds, &ep.PeakCount, &ep.AverageSeconds); err != nil {
			return nil, fmt.Errorf("failed to scan episode: %w", err)
		}
		episodes = append(episodes, &ep)
	}
	return episodes, rows.Err()
}

// CountEpisodes returns the number of episodes recorded for a run
func (d *Database) CountEpisodes(ctx context.Context, runID string) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM episodes WHERE run_id = ?", runID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count episodes: %w", err)
	}
	return n, nil
}
