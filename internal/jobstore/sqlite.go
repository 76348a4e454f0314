package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/maauso/videoforge-api/internal/job"
)

// Compile-time check that SQLite implements job.Store.
var _ job.Store = (*SQLite)(nil)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS render_jobs (
    id             TEXT PRIMARY KEY,
    status         TEXT NOT NULL,
    stage          TEXT NOT NULL,
    progress       INTEGER NOT NULL DEFAULT 0,
    progress_label TEXT NOT NULL DEFAULT '',
    video_url      TEXT NOT NULL DEFAULT '',
    error          TEXT NOT NULL DEFAULT '',
    origin_id      TEXT NOT NULL DEFAULT '',
    metadata_json  TEXT NOT NULL DEFAULT '{}',
    created_at     TEXT NOT NULL,
    updated_at     TEXT NOT NULL,
    completed_at   TEXT NOT NULL DEFAULT ''
)`

const sqliteColumns = `id, status, stage, progress, progress_label, video_url, error,
    origin_id, metadata_json, created_at, updated_at, completed_at`

// SQLite is a job.Store persisted in a single SQLite file.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time; read-modify-write updates rely on it.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLite{db: db, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Upsert creates the job on first write and merges the patch.
func (s *SQLite) Upsert(ctx context.Context, id string, p job.Patch) error {
	return s.modify(ctx, id, p, true)
}

// Update merges the patch into an existing job.
func (s *SQLite) Update(ctx context.Context, id string, p job.Patch) error {
	return s.modify(ctx, id, p, false)
}

// Get retrieves a job by its ID.
func (s *SQLite) Get(ctx context.Context, id string) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM render_jobs WHERE id = ?`, id)
	return scanSQLite(row)
}

func (s *SQLite) modify(ctx context.Context, id string, p job.Patch, create bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now()
	row := tx.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM render_jobs WHERE id = ?`, id)
	j, err := scanSQLite(row)
	switch {
	case errors.Is(err, job.ErrJobNotFound) && create:
		j = job.NewRecord(id, now)
	case err != nil:
		return err
	}
	j.Apply(p, now)

	metadata, err := encodeMetadata(j.Metadata)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO render_jobs (`+sqliteColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            status = excluded.status,
            stage = excluded.stage,
            progress = excluded.progress,
            progress_label = excluded.progress_label,
            video_url = excluded.video_url,
            error = excluded.error,
            origin_id = excluded.origin_id,
            metadata_json = excluded.metadata_json,
            updated_at = excluded.updated_at,
            completed_at = excluded.completed_at`,
		j.ID,
		string(j.Status),
		string(j.Stage),
		j.Progress,
		j.ProgressLabel,
		j.VideoURL,
		j.Error,
		j.OriginID,
		metadata,
		formatTime(j.CreatedAt),
		formatTime(j.UpdatedAt),
		formatTime(j.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("write job %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit job %s: %w", id, err)
	}
	return nil
}

func scanSQLite(row *sql.Row) (*job.Job, error) {
	var (
		j                              job.Job
		status, stage, metadata        string
		createdAt, updatedAt, complete string
	)
	err := row.Scan(
		&j.ID,
		&status,
		&stage,
		&j.Progress,
		&j.ProgressLabel,
		&j.VideoURL,
		&j.Error,
		&j.OriginID,
		&metadata,
		&createdAt,
		&updatedAt,
		&complete,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, job.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}

	j.Status = job.Status(status)
	j.Stage = job.Stage(stage)
	if j.Metadata, err = decodeMetadata(metadata); err != nil {
		return nil, err
	}
	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if j.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if j.CompletedAt, err = parseTime(complete); err != nil {
		return nil, err
	}
	return &j, nil
}
