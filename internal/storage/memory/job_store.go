package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/lapforge/ingest/internal/timing"
)

// JobStore provides an in-memory ImportJobRepository for development and
// testing. The claim in TakeNextQueuedJob is atomic under the store
// mutex, matching the postgres FOR UPDATE SKIP LOCKED semantics.
type JobStore struct {
	mu    sync.RWMutex
	jobs  map[string]timing.ImportJob
	clock timing.Clock
}

// NewJobStore constructs a JobStore.
func NewJobStore(clock timing.Clock) *JobStore {
	return &JobStore{jobs: make(map[string]timing.ImportJob), clock: clock}
}

// CreateJob stores a new job in queued state.
func (s *JobStore) CreateJob(_ context.Context, job timing.ImportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	if job.State == "" {
		job.State = timing.JobStateQueued
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// GetJob fetches a job by id.
func (s *JobStore) GetJob(_ context.Context, jobID string) (timing.ImportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return timing.ImportJob{}, timing.ErrNotFound
	}
	return cloneJob(job), nil
}

// ListJobs returns jobs ordered by submission time descending, optionally
// filtered by state.
func (s *JobStore) ListJobs(_ context.Context, state *timing.JobState, limit, offset int) ([]timing.ImportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var jobs []timing.ImportJob
	for _, job := range s.jobs {
		if state != nil && job.State != *state {
			continue
		}
		jobs = append(jobs, cloneJob(job))
	}
	sort.Slice(jobs, func(a, b int) bool {
		return jobs[a].Submitted.After(jobs[b].Submitted)
	})
	if offset >= len(jobs) {
		return nil, nil
	}
	jobs = jobs[offset:]
	if limit > 0 && limit < len(jobs) {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// TakeNextQueuedJob claims the oldest queued job, transitioning it to
// RUNNING. Returns false when nothing is queued.
func (s *JobStore) TakeNextQueuedJob(_ context.Context) (timing.ImportJob, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var queued []timing.ImportJob
	for _, job := range s.jobs {
		if job.State == timing.JobStateQueued {
			queued = append(queued, job)
		}
	}
	if len(queued) == 0 {
		return timing.ImportJob{}, false, nil
	}
	sort.Slice(queued, func(a, b int) bool {
		return queued[a].Submitted.Before(queued[b].Submitted)
	})

	job := queued[0]
	job.State = timing.JobStateRunning
	job.Started = pointerTime(s.now())
	s.jobs[job.ID] = cloneJob(job)
	return cloneJob(job), true, nil
}

// MarkJobSucceeded moves a job to its terminal SUCCEEDED state.
func (s *JobStore) MarkJobSucceeded(_ context.Context, jobID string, counts timing.SummaryCounts) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return timing.ErrNotFound
	}
	job.State = timing.JobStateSucceeded
	job.ProgressPct = 100
	job.Counts = counts
	job.Finished = pointerTime(s.now())
	s.jobs[jobID] = job
	return nil
}

// MarkJobFailed moves a job to its terminal FAILED state.
func (s *JobStore) MarkJobFailed(_ context.Context, jobID string, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return timing.ErrNotFound
	}
	job.State = timing.JobStateFailed
	job.ErrorText = errText
	job.Finished = pointerTime(s.now())
	s.jobs[jobID] = job
	return nil
}

// UpdateJobProgress stores the job's progress percentage.
func (s *JobStore) UpdateJobProgress(_ context.Context, jobID string, progressPct int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return timing.ErrNotFound
	}
	job.ProgressPct = progressPct
	s.jobs[jobID] = job
	return nil
}

// UpdateJobItem replaces one item within its job.
func (s *JobStore) UpdateJobItem(_ context.Context, item timing.ImportJobItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[item.JobID]
	if !ok {
		return timing.ErrNotFound
	}
	for idx := range job.Items {
		if job.Items[idx].ID == item.ID {
			job.Items[idx] = item
			s.jobs[item.JobID] = job
			return nil
		}
	}
	return timing.ErrNotFound
}

func (s *JobStore) now() time.Time {
	if s.clock != nil {
		return s.clock.Now()
	}
	return time.Now().UTC()
}

func cloneJob(job timing.ImportJob) timing.ImportJob {
	out := job
	out.Items = append([]timing.ImportJobItem(nil), job.Items...)
	return out
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
