package jobstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maauso/videoforge-api/internal/job"
)

// Compile-time checks.
var (
	_ job.Store        = (*Postgres)(nil)
	_ job.OriginLinker = (*Postgres)(nil)
)

// DefaultOriginTable is the table whose rows receive the published video URL.
const DefaultOriginTable = "analyses"

// ErrOriginNotFound is returned when LinkVideo matches no origin row.
var ErrOriginNotFound = errors.New("origin record not found")

const postgresSchema = `CREATE TABLE IF NOT EXISTS render_jobs (
    id             TEXT PRIMARY KEY,
    status         TEXT NOT NULL,
    stage          TEXT NOT NULL,
    progress       INTEGER NOT NULL DEFAULT 0,
    progress_label TEXT NOT NULL DEFAULT '',
    video_url      TEXT NOT NULL DEFAULT '',
    error          TEXT NOT NULL DEFAULT '',
    origin_id      TEXT NOT NULL DEFAULT '',
    metadata       JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at     TIMESTAMPTZ NOT NULL,
    updated_at     TIMESTAMPTZ NOT NULL,
    completed_at   TIMESTAMPTZ
)`

const postgresColumns = `id, status, stage, progress, progress_label, video_url, error,
    origin_id, metadata, created_at, updated_at, completed_at`

// pgDB is the subset of *pgxpool.Pool used by Postgres.
type pgDB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Postgres is a job.Store in PostgreSQL. It also links published videos to
// rows of the origin table.
type Postgres struct {
	db          pgDB
	pool        *pgxpool.Pool
	originTable string
	now         func() time.Time
}

// OpenPostgres connects to databaseURL and applies the schema.
func OpenPostgres(ctx context.Context, databaseURL, originTable string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	p := newPostgres(pool, originTable)
	p.pool = pool
	return p, nil
}

func newPostgres(db pgDB, originTable string) *Postgres {
	if originTable == "" {
		originTable = DefaultOriginTable
	}
	return &Postgres{db: db, originTable: originTable, now: time.Now}
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

// Upsert creates the job on first write and merges the patch.
func (p *Postgres) Upsert(ctx context.Context, id string, patch job.Patch) error {
	return p.modify(ctx, id, patch, true)
}

// Update merges the patch into an existing job.
func (p *Postgres) Update(ctx context.Context, id string, patch job.Patch) error {
	return p.modify(ctx, id, patch, false)
}

// Get retrieves a job by its ID.
func (p *Postgres) Get(ctx context.Context, id string) (*job.Job, error) {
	row := p.db.QueryRow(ctx, `SELECT `+postgresColumns+` FROM render_jobs WHERE id = $1`, id)
	return scanPostgres(row)
}

func (p *Postgres) modify(ctx context.Context, id string, patch job.Patch, create bool) error {
	return pgx.BeginFunc(ctx, p.db, func(tx pgx.Tx) error {
		now := p.now()
		row := tx.QueryRow(ctx, `SELECT `+postgresColumns+` FROM render_jobs WHERE id = $1 FOR UPDATE`, id)
		j, err := scanPostgres(row)
		switch {
		case errors.Is(err, job.ErrJobNotFound) && create:
			j = job.NewRecord(id, now)
		case err != nil:
			return err
		}
		j.Apply(patch, now)

		metadata, err := encodeMetadata(j.Metadata)
		if err != nil {
			return err
		}
		var completedAt *time.Time
		if !j.CompletedAt.IsZero() {
			completedAt = &j.CompletedAt
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO render_jobs (`+postgresColumns+`)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, $11, $12)
            ON CONFLICT (id) DO UPDATE SET
                status = excluded.status,
                stage = excluded.stage,
                progress = excluded.progress,
                progress_label = excluded.progress_label,
                video_url = excluded.video_url,
                error = excluded.error,
                origin_id = excluded.origin_id,
                metadata = excluded.metadata,
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
			j.CreatedAt,
			j.UpdatedAt,
			completedAt,
		)
		if err != nil {
			return fmt.Errorf("write job %s: %w", id, err)
		}
		return nil
	})
}

// LinkVideo sets video_url on the origin row identified by originID.
func (p *Postgres) LinkVideo(ctx context.Context, originID, videoURL string) error {
	tag, err := p.db.Exec(ctx, linkVideoSQL(p.originTable), videoURL, originID)
	if err != nil {
		return fmt.Errorf("link video to %s %s: %w", p.originTable, originID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s %s", ErrOriginNotFound, p.originTable, originID)
	}
	return nil
}

// linkVideoSQL quotes table, which may be schema-qualified.
func linkVideoSQL(table string) string {
	ident := pgx.Identifier(strings.Split(table, "."))
	return `UPDATE ` + ident.Sanitize() + ` SET video_url = $1 WHERE id = $2`
}

func scanPostgres(row pgx.Row) (*job.Job, error) {
	var (
		j             job.Job
		status, stage string
		metadata      []byte
		completedAt   *time.Time
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
		&j.CreatedAt,
		&j.UpdatedAt,
		&completedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, job.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}

	j.Status = job.Status(status)
	j.Stage = job.Stage(stage)
	if completedAt != nil {
		j.CompletedAt = *completedAt
	}
	if j.Metadata, err = decodeMetadata(string(metadata)); err != nil {
		return nil, err
	}
	return &j, nil
}
