package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/lapforge/ingest/internal/timing"
)

// JobStore persists import jobs and their items. It assumes a schema
// like:
// CREATE TABLE import_jobs (
//
//	id UUID PRIMARY KEY,
//	state TEXT NOT NULL,
//	progress_pct INT NOT NULL DEFAULT 0,
//	error_text TEXT NOT NULL DEFAULT '',
//	counts JSONB NOT NULL DEFAULT '{}',
//	submitted_at TIMESTAMPTZ NOT NULL,
//	started_at TIMESTAMPTZ,
//	finished_at TIMESTAMPTZ
//
// );
// CREATE TABLE import_job_items (
//
//	id UUID PRIMARY KEY,
//	job_id UUID NOT NULL REFERENCES import_jobs(id),
//	kind TEXT NOT NULL,
//	target_url TEXT NOT NULL,
//	state TEXT NOT NULL,
//	error_text TEXT NOT NULL DEFAULT '',
//	counts JSONB NOT NULL DEFAULT '{}'
//
// );
type JobStore struct {
	db    DB
	clock timing.Clock
}

// NewJobStore creates a JobStore over an existing pool.
func NewJobStore(db DB, clock timing.Clock) (*JobStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	return &JobStore{db: db, clock: clock}, nil
}

// CreateJob inserts the job and its items in one transaction.
func (s *JobStore) CreateJob(ctx context.Context, job timing.ImportJob) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	if job.State == "" {
		job.State = timing.JobStateQueued
	}
	counts, err := json.Marshal(job.Counts)
	if err != nil {
		return fmt.Errorf("marshal job counts: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create job: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO import_jobs (id, state, progress_pct, error_text, counts, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6);
	`, job.ID, job.State, job.ProgressPct, job.ErrorText, counts, job.Submitted)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	for _, item := range job.Items {
		itemCounts, err := json.Marshal(item.Counts)
		if err != nil {
			return fmt.Errorf("marshal item counts: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO import_job_items (id, job_id, kind, target_url, state, error_text, counts)
			VALUES ($1, $2, $3, $4, $5, $6, $7);
		`, item.ID, job.ID, item.Kind, item.TargetURL, item.State, item.ErrorText, itemCounts)
		if err != nil {
			return fmt.Errorf("insert job item: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create job: %w", err)
	}
	return nil
}

// GetJob fetches a job and its items.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (timing.ImportJob, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, state, progress_pct, error_text, counts, submitted_at, started_at, finished_at
		FROM import_jobs
		WHERE id = $1;
	`, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return timing.ImportJob{}, timing.ErrNotFound
		}
		return timing.ImportJob{}, fmt.Errorf("get job: %w", err)
	}

	items, err := s.loadItems(ctx, jobID)
	if err != nil {
		return timing.ImportJob{}, err
	}
	job.Items = items
	return job, nil
}

// ListJobs returns jobs ordered by submission time descending,
// optionally filtered by state. Items are not loaded for listings.
func (s *JobStore) ListJobs(ctx context.Context, state *timing.JobState, limit, offset int) ([]timing.ImportJob, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `
		SELECT id, state, progress_pct, error_text, counts, submitted_at, started_at, finished_at
		FROM import_jobs
	`
	args := []any{}
	if state != nil {
		query += ` WHERE state = $1 ORDER BY submitted_at DESC LIMIT $2 OFFSET $3;`
		args = append(args, *state, limit, offset)
	} else {
		query += ` ORDER BY submitted_at DESC LIMIT $1 OFFSET $2;`
		args = append(args, limit, offset)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []timing.ImportJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// TakeNextQueuedJob claims the oldest queued job using
// FOR UPDATE SKIP LOCKED so concurrent workers never double-claim.
func (s *JobStore) TakeNextQueuedJob(ctx context.Context) (timing.ImportJob, bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return timing.ImportJob{}, false, fmt.Errorf("begin claim: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		SELECT id, state, progress_pct, error_text, counts, submitted_at, started_at, finished_at
		FROM import_jobs
		WHERE state = $1
		ORDER BY submitted_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED;
	`, timing.JobStateQueued)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return timing.ImportJob{}, false, nil
		}
		return timing.ImportJob{}, false, fmt.Errorf("select queued job: %w", err)
	}

	started := s.clock.Now()
	_, err = tx.Exec(ctx, `
		UPDATE import_jobs SET state = $1, started_at = $2 WHERE id = $3;
	`, timing.JobStateRunning, started, job.ID)
	if err != nil {
		return timing.ImportJob{}, false, fmt.Errorf("mark job running: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return timing.ImportJob{}, false, fmt.Errorf("commit claim: %w", err)
	}

	job.State = timing.JobStateRunning
	job.Started = &started
	items, err := s.loadItems(ctx, job.ID)
	if err != nil {
		return timing.ImportJob{}, false, err
	}
	job.Items = items
	return job, true, nil
}

// MarkJobSucceeded moves a job to its terminal SUCCEEDED state.
func (s *JobStore) MarkJobSucceeded(ctx context.Context, jobID string, counts timing.SummaryCounts) error {
	payload, err := json.Marshal(counts)
	if err != nil {
		return fmt.Errorf("marshal job counts: %w", err)
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE import_jobs
		SET state = $1, progress_pct = 100, counts = $2, finished_at = $3
		WHERE id = $4;
	`, timing.JobStateSucceeded, payload, s.clock.Now(), jobID)
	if err != nil {
		return fmt.Errorf("mark job succeeded: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return timing.ErrNotFound
	}
	return nil
}

// MarkJobFailed moves a job to its terminal FAILED state.
func (s *JobStore) MarkJobFailed(ctx context.Context, jobID string, errText string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE import_jobs
		SET state = $1, error_text = $2, finished_at = $3
		WHERE id = $4;
	`, timing.JobStateFailed, errText, s.clock.Now(), jobID)
	if err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return timing.ErrNotFound
	}
	return nil
}

// UpdateJobProgress stores the job's progress percentage.
func (s *JobStore) UpdateJobProgress(ctx context.Context, jobID string, progressPct int) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE import_jobs SET progress_pct = $1 WHERE id = $2;
	`, progressPct, jobID)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return timing.ErrNotFound
	}
	return nil
}

// UpdateJobItem persists one item's state, error text and counts.
func (s *JobStore) UpdateJobItem(ctx context.Context, item timing.ImportJobItem) error {
	counts, err := json.Marshal(item.Counts)
	if err != nil {
		return fmt.Errorf("marshal item counts: %w", err)
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE import_job_items
		SET state = $1, error_text = $2, counts = $3
		WHERE id = $4 AND job_id = $5;
	`, item.State, item.ErrorText, counts, item.ID, item.JobID)
	if err != nil {
		return fmt.Errorf("update job item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return timing.ErrNotFound
	}
	return nil
}

func (s *JobStore) loadItems(ctx context.Context, jobID string) ([]timing.ImportJobItem, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, job_id, kind, target_url, state, error_text, counts
		FROM import_job_items
		WHERE job_id = $1
		ORDER BY id;
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list job items: %w", err)
	}
	defer rows.Close()

	var items []timing.ImportJobItem
	for rows.Next() {
		var item timing.ImportJobItem
		var counts []byte
		err := rows.Scan(&item.ID, &item.JobID, &item.Kind, &item.TargetURL, &item.State, &item.ErrorText, &counts)
		if err != nil {
			return nil, fmt.Errorf("scan job item: %w", err)
		}
		if len(counts) > 0 {
			if err := json.Unmarshal(counts, &item.Counts); err != nil {
				return nil, fmt.Errorf("unmarshal item counts: %w", err)
			}
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanJob(row pgx.Row) (timing.ImportJob, error) {
	var job timing.ImportJob
	var counts []byte
	err := row.Scan(
		&job.ID,
		&job.State,
		&job.ProgressPct,
		&job.ErrorText,
		&counts,
		&job.Submitted,
		&job.Started,
		&job.Finished,
	)
	if err != nil {
		return timing.ImportJob{}, err
	}
	if len(counts) > 0 {
		if err := json.Unmarshal(counts, &job.Counts); err != nil {
			return timing.ImportJob{}, fmt.Errorf("unmarshal job counts: %w", err)
		}
	}
	return job, nil
}
