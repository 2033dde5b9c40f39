package archive

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/docqueue/internal/domain"
)

var recordColumns = []string{
	"job_id", "owner_id", "job_type", "status", "priority", "title", "error",
	"retry_count", "download_url", "cache_key", "created_at", "completed_at",
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewStore(sqlx.NewDb(db, "postgres"), slog.New(slog.NewTextHandler(io.Discard, nil))), mock
}

func completedJob() *domain.Job {
	created := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	completed := created.Add(time.Minute)
	return &domain.Job{
		ID:       "job-1",
		Type:     "markdown",
		Status:   domain.StatusCompleted,
		Priority: domain.PriorityHigh,
		OwnerID:  "user-1",
		Metadata: domain.Metadata{
			Title:       "Report",
			CompletedAt: &completed,
			RetryCount:  1,
			DownloadURL: "http://files/a.pdf",
			CacheKey:    "docs/markdown/a",
		},
		CreatedAt: created,
		UpdatedAt: completed,
	}
}

func TestStore_EnsureSchema(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS job_history")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Upsert(t *testing.T) {
	store, mock := newMockStore(t)
	job := completedJob()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO job_history")).
		WithArgs("job-1", "user-1", "markdown", "COMPLETED", 3, "Report", "",
			1, "http://files/a.pdf", "docs/markdown/a", job.CreatedAt, *job.Metadata.CompletedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Upsert(context.Background(), job))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Upsert_SkipsNonTerminal(t *testing.T) {
	store, mock := newMockStore(t)
	job := completedJob()
	job.Status = domain.StatusProcessing

	require.NoError(t, store.Upsert(context.Background(), job))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Upsert_Error(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO job_history")).
		WillReturnError(errors.New("connection refused"))

	err := store.Upsert(context.Background(), completedJob())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to archive job")
}

func TestFromJob_CancelledUsesUpdatedAt(t *testing.T) {
	job := completedJob()
	job.Status = domain.StatusCancelled
	job.Metadata.CompletedAt = nil

	rec := FromJob(job)
	assert.Equal(t, job.UpdatedAt, rec.CompletedAt)
	assert.Equal(t, "CANCELLED", rec.Status)
}

func TestStore_Get(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM job_history")).
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows(recordColumns).
			AddRow("job-1", "user-1", "markdown", "FAILED", 2, "T", "boom", 3, "", "", now, now))

	rec, err := store.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "FAILED", rec.Status)
	assert.Equal(t, "boom", rec.Error)
	assert.Equal(t, 3, rec.RetryCount)
}

func TestStore_List(t *testing.T) {
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name           string
		filter         Filter
		wantQuery      string
		wantArgs       []interface{}
		rows           int
		wantRecords    int
		wantNextCursor bool
	}{
		{
			name:           "first page with more results",
			filter:         Filter{PageSize: 2},
			wantQuery:      "FROM job_history\n\t\tWHERE 1=1\n\t ORDER BY completed_at DESC, job_id DESC LIMIT $1",
			wantArgs:       []interface{}{3},
			rows:           3,
			wantRecords:    2,
			wantNextCursor: true,
		},
		{
			name:        "filters and cursor",
			filter:      Filter{OwnerID: "user-1", Status: "FAILED", PageSize: 5, Cursor: &Cursor{CompletedAt: base, JobID: "job-9"}},
			wantQuery:   "AND owner_id = $1 AND status = $2 AND (completed_at, job_id) < ($3, $4) ORDER BY completed_at DESC, job_id DESC LIMIT $5",
			wantArgs:    []interface{}{"user-1", "FAILED", base, "job-9", 6},
			rows:        1,
			wantRecords: 1,
		},
		{
			name:        "page size is capped",
			filter:      Filter{JobType: "template", PageSize: 1000},
			wantQuery:   "AND job_type = $1 ORDER BY completed_at DESC, job_id DESC LIMIT $2",
			wantArgs:    []interface{}{"template", MaxPageSize + 1},
			wantRecords: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)

			rows := sqlmock.NewRows(recordColumns)
			for i := 0; i < tt.rows; i++ {
				at := base.Add(-time.Duration(i) * time.Minute)
				rows.AddRow("job-"+string(rune('a'+i)), "user-1", "markdown", "COMPLETED", 2, "T", "", 0, "u", "k", at, at)
			}

			args := make([]driver.Value, len(tt.wantArgs))
			for i, a := range tt.wantArgs {
				args[i] = a
			}
			mock.ExpectQuery(regexp.QuoteMeta(tt.wantQuery)).WithArgs(args...).WillReturnRows(rows)

			page, err := store.List(context.Background(), tt.filter)
			require.NoError(t, err)
			assert.Len(t, page.Records, tt.wantRecords)
			assert.NotNil(t, page.Records)

			if tt.wantNextCursor {
				require.NotEmpty(t, page.NextCursor)
				cursor, err := DecodeCursor(page.NextCursor)
				require.NoError(t, err)
				last := page.Records[len(page.Records)-1]
				assert.Equal(t, last.JobID, cursor.JobID)
				assert.True(t, last.CompletedAt.Equal(cursor.CompletedAt))
			} else {
				assert.Empty(t, page.NextCursor)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestCursor(t *testing.T) {
	at := time.Date(2026, 5, 1, 10, 0, 0, 123, time.UTC)
	encoded := Cursor{CompletedAt: at, JobID: "job|with|pipes"}.Encode()

	decoded, err := DecodeCursor(encoded)
	require.NoError(t, err)
	assert.True(t, at.Equal(decoded.CompletedAt))
	assert.Equal(t, "job|with|pipes", decoded.JobID)

	none, err := DecodeCursor("")
	require.NoError(t, err)
	assert.Nil(t, none)

	for _, bad := range []string{"%%%", "bm9waXBl", "YWJjfGpvYg=="} {
		_, err := DecodeCursor(bad)
		assert.ErrorIs(t, err, ErrInvalidCursor, bad)
	}
}
