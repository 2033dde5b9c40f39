// Package archive keeps a Postgres history of jobs that reached a
// terminal status, after their Redis records expire.
package archive

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/docqueue/internal/domain"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

const schema = `
CREATE TABLE IF NOT EXISTS job_history (
	job_id       TEXT PRIMARY KEY,
	owner_id     TEXT NOT NULL DEFAULT '',
	job_type     TEXT NOT NULL,
	status       TEXT NOT NULL,
	priority     SMALLINT NOT NULL,
	title        TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	retry_count  INTEGER NOT NULL DEFAULT 0,
	download_url TEXT NOT NULL DEFAULT '',
	cache_key    TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS job_history_keyset_idx ON job_history (completed_at DESC, job_id DESC);
CREATE INDEX IF NOT EXISTS job_history_owner_idx ON job_history (owner_id, completed_at DESC);
`

// Filter narrows a history listing
type Filter struct {
	OwnerID  string
	JobType  string
	Status   string
	PageSize int
	Cursor   *Cursor
}

// Page is one page of history, newest first
type Page struct {
	Records    []Record `json:"records"`
	NextCursor string   `json:"nextCursor,omitempty"`
}

// Store reads and writes the job_history table
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store
func NewStore(db *sqlx.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// EnsureSchema creates the history table and indexes if missing
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create job_history schema: %w", err)
	}
	return nil
}

// Upsert records a terminal job. Only terminal statuses are archived.
func (s *Store) Upsert(ctx context.Context, job *domain.Job) error {
	if !job.Status.IsTerminal() {
		return nil
	}

	query := `
		INSERT INTO job_history (
			job_id, owner_id, job_type, status, priority, title, error,
			retry_count, download_url, cache_key, created_at, completed_at
		) VALUES (
			:job_id, :owner_id, :job_type, :status, :priority, :title, :error,
			:retry_count, :download_url, :cache_key, :created_at, :completed_at
		)
		ON CONFLICT (job_id) DO UPDATE SET
			status = EXCLUDED.status,
			priority = EXCLUDED.priority,
			error = EXCLUDED.error,
			retry_count = EXCLUDED.retry_count,
			download_url = EXCLUDED.download_url,
			cache_key = EXCLUDED.cache_key,
			completed_at = EXCLUDED.completed_at
	`

	if _, err := s.db.NamedExecContext(ctx, query, FromJob(job)); err != nil {
		return fmt.Errorf("failed to archive job: %w", err)
	}
	return nil
}

// Get returns one archived job
func (s *Store) Get(ctx context.Context, jobID string) (*Record, error) {
	var rec Record
	query := `
		SELECT
			job_id, owner_id, job_type, status, priority, title, error,
			retry_count, download_url, cache_key, created_at, completed_at
		FROM job_history
		WHERE job_id = $1
	`
	if err := s.db.GetContext(ctx, &rec, query, jobID); err != nil {
		return nil, fmt.Errorf("failed to get archived job: %w", err)
	}
	return &rec, nil
}

// List returns a keyset-paginated page ordered by (completed_at, job_id) descending
func (s *Store) List(ctx context.Context, filter Filter) (*Page, error) {
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	query := `
		SELECT
			job_id, owner_id, job_type, status, priority, title, error,
			retry_count, download_url, cache_key, created_at, completed_at
		FROM job_history
		WHERE 1=1
	`
	args := []interface{}{}
	argIdx := 1

	if filter.OwnerID != "" {
		query += fmt.Sprintf(" AND owner_id = $%d", argIdx)
		args = append(args, filter.OwnerID)
		argIdx++
	}

	if filter.JobType != "" {
		query += fmt.Sprintf(" AND job_type = $%d", argIdx)
		args = append(args, filter.JobType)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (completed_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CompletedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY completed_at DESC, job_id DESC"

	// one extra row tells whether another page exists
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, pageSize+1)

	var records []Record
	if err := s.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list job history: %w", err)
	}

	page := &Page{Records: records}
	if len(records) > pageSize {
		page.Records = records[:pageSize]
		last := page.Records[pageSize-1]
		page.NextCursor = Cursor{CompletedAt: last.CompletedAt, JobID: last.JobID}.Encode()
	}
	if page.Records == nil {
		page.Records = []Record{}
	}
	return page, nil
}
