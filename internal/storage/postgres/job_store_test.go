package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/lapforge/ingest/internal/timing"
)

func newTestJobStore(t *testing.T) (*JobStore, pgxmock.PgxPoolIface, time.Time) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	now := time.Unix(1700000000, 0).UTC()
	store, err := NewJobStore(mock, stubClock{now: now})
	require.NoError(t, err)
	return store, mock, now
}

func TestCreateJobInsertsJobAndItems(t *testing.T) {
	t.Parallel()

	store, mock, now := newTestJobStore(t)

	job := timing.ImportJob{
		ID:        "job-1",
		State:     timing.JobStateQueued,
		Submitted: now,
		Items: []timing.ImportJobItem{
			{ID: "item-1", JobID: "job-1", Kind: timing.ItemKindEvent,
				TargetURL: "https://host/results/spring-gp", State: timing.JobStateQueued},
		},
	}
	counts, err := json.Marshal(timing.SummaryCounts{})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO import_jobs").
		WithArgs("job-1", timing.JobStateQueued, 0, "", counts, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO import_job_items").
		WithArgs("item-1", "job-1", timing.ItemKindEvent, "https://host/results/spring-gp",
			timing.JobStateQueued, "", counts).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, store.CreateJob(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTakeNextQueuedJobClaimsAtomically(t *testing.T) {
	t.Parallel()

	store, mock, now := newTestJobStore(t)

	counts, err := json.Marshal(timing.SummaryCounts{})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
		WithArgs(timing.JobStateQueued).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "state", "progress_pct", "error_text", "counts", "submitted_at", "started_at", "finished_at",
		}).AddRow("job-1", timing.JobStateQueued, 0, "", counts, now, nil, nil))
	mock.ExpectExec("UPDATE import_jobs").
		WithArgs(timing.JobStateRunning, now, "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()
	mock.ExpectQuery("FROM import_job_items").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "job_id", "kind", "target_url", "state", "error_text", "counts",
		}).AddRow("item-1", "job-1", timing.ItemKindEvent, "https://host/results/spring-gp",
			timing.JobStateQueued, "", counts))

	job, ok, err := store.TakeNextQueuedJob(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, timing.JobStateRunning, job.State)
	require.NotNil(t, job.Started)
	require.Len(t, job.Items, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTakeNextQueuedJobEmptyQueue(t *testing.T) {
	t.Parallel()

	store, mock, _ := newTestJobStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
		WithArgs(timing.JobStateQueued).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "state", "progress_pct", "error_text", "counts", "submitted_at", "started_at", "finished_at",
		}))
	mock.ExpectRollback()

	_, ok, err := store.TakeNextQueuedJob(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListJobsOrdersBySubmissionDescending(t *testing.T) {
	t.Parallel()

	store, mock, now := newTestJobStore(t)

	counts, err := json.Marshal(timing.SummaryCounts{})
	require.NoError(t, err)

	mock.ExpectQuery("FROM import_jobs").
		WithArgs(50, 0).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "state", "progress_pct", "error_text", "counts", "submitted_at", "started_at", "finished_at",
		}).
			AddRow("job-2", timing.JobStateQueued, 0, "", counts, now, nil, nil).
			AddRow("job-1", timing.JobStateSucceeded, 100, "", counts, now.Add(-time.Hour), nil, nil))

	jobs, err := store.ListJobs(context.Background(), nil, 0, -1)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, "job-2", jobs[0].ID)
	require.Equal(t, timing.JobStateSucceeded, jobs[1].State)
	require.Empty(t, jobs[0].Items)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListJobsFiltersByState(t *testing.T) {
	t.Parallel()

	store, mock, now := newTestJobStore(t)

	counts, err := json.Marshal(timing.SummaryCounts{})
	require.NoError(t, err)

	failed := timing.JobStateFailed
	mock.ExpectQuery("WHERE state").
		WithArgs(failed, 10, 5).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "state", "progress_pct", "error_text", "counts", "submitted_at", "started_at", "finished_at",
		}).AddRow("job-9", failed, 40, "fetch failed", counts, now, nil, nil))

	jobs, err := store.ListJobs(context.Background(), &failed, 10, 5)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "fetch failed", jobs[0].ErrorText)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkJobSucceededPersistsCounts(t *testing.T) {
	t.Parallel()

	store, mock, now := newTestJobStore(t)

	counts := timing.SummaryCounts{SessionsImported: 2, ResultRowsImported: 4}
	payload, err := json.Marshal(counts)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE import_jobs").
		WithArgs(timing.JobStateSucceeded, payload, now, "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.MarkJobSucceeded(context.Background(), "job-1", counts))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkJobFailedUnknownJob(t *testing.T) {
	t.Parallel()

	store, mock, now := newTestJobStore(t)

	mock.ExpectExec("UPDATE import_jobs").
		WithArgs(timing.JobStateFailed, "boom", now, "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.MarkJobFailed(context.Background(), "missing", "boom")
	require.ErrorIs(t, err, timing.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
