// Package worker implements the import job execution loop.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lapforge/ingest/internal/timing"
)

// Config controls Worker behavior.
type Config struct {
	// PollInterval is how long the worker sleeps between empty polls.
	PollInterval time.Duration
	// ItemDelay is the pause between items of one job, keeping the
	// provider's servers out of trouble.
	ItemDelay time.Duration
	// CompletionTopic receives a message per finished job when set.
	CompletionTopic string
}

// Worker polls the job store for queued import jobs and runs them.
// Jobs fail fast: the first item error marks the whole job FAILED and
// remaining items are not attempted.
type Worker struct {
	jobs      timing.ImportJobRepository
	importer  timing.SummaryImporter
	publisher timing.Publisher
	telemetry timing.Telemetry
	clock     timing.Clock
	cfg       Config
	logger    *zap.Logger

	stopOnce sync.Once
	stopped  chan struct{}
}

// New constructs a Worker.
func New(
	jobs timing.ImportJobRepository,
	importer timing.SummaryImporter,
	publisher timing.Publisher,
	telemetry timing.Telemetry,
	clock timing.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Worker{
		jobs:      jobs,
		importer:  importer,
		publisher: publisher,
		telemetry: telemetry,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
		stopped:   make(chan struct{}),
	}
}

// Run blocks, polling for queued jobs until the context finishes or
// Stop is called.
func (w *Worker) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stopped:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if !w.RunOnce(ctx) {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// Stop halts future polls. The item in flight is not preempted.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopped) })
}

// RunOnce claims and processes at most one queued job. It reports
// whether a job was claimed, so callers can drain the queue.
func (w *Worker) RunOnce(ctx context.Context) bool {
	job, ok, err := w.jobs.TakeNextQueuedJob(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("claim queued job failed", zap.Error(err))
		}
		return false
	}
	if !ok {
		return false
	}
	w.logger.Debug("claimed job", zap.String("job_id", job.ID), zap.Int("items", len(job.Items)))
	w.processJob(ctx, job)
	return true
}

func (w *Worker) processJob(ctx context.Context, job timing.ImportJob) {
	totals := timing.SummaryCounts{}

	for idx, item := range job.Items {
		if idx > 0 && w.cfg.ItemDelay > 0 {
			select {
			case <-ctx.Done():
				w.failJob(ctx, job, totals, ctx.Err().Error())
				return
			case <-time.After(w.cfg.ItemDelay):
			}
		}

		item.State = timing.JobStateRunning
		if err := w.jobs.UpdateJobItem(ctx, item); err != nil {
			w.logger.Error("update job item failed",
				zap.String("job_id", job.ID), zap.String("item_id", item.ID), zap.Error(err))
		}

		counts, err := w.importer.IngestEventSummary(ctx, item.TargetURL)
		if err != nil {
			item.State = timing.JobStateFailed
			item.ErrorText = err.Error()
			if updateErr := w.jobs.UpdateJobItem(ctx, item); updateErr != nil {
				w.logger.Error("update failed item",
					zap.String("job_id", job.ID), zap.String("item_id", item.ID), zap.Error(updateErr))
			}
			w.telemetry.RecordEventIngestion("failure", failureReason(err), timing.SummaryCounts{})
			w.logger.Error("event import failed",
				zap.String("job_id", job.ID),
				zap.String("item_id", item.ID),
				zap.String("url", item.TargetURL),
				zap.Error(err))
			w.failJob(ctx, job, totals, err.Error())
			return
		}

		item.State = timing.JobStateSucceeded
		item.Counts = counts
		if err := w.jobs.UpdateJobItem(ctx, item); err != nil {
			w.logger.Error("update succeeded item",
				zap.String("job_id", job.ID), zap.String("item_id", item.ID), zap.Error(err))
		}
		totals.Add(counts)
		w.telemetry.RecordEventIngestion("success", "", counts)

		progress := (idx + 1) * 100 / len(job.Items)
		if err := w.jobs.UpdateJobProgress(ctx, job.ID, progress); err != nil {
			w.logger.Error("update job progress",
				zap.String("job_id", job.ID), zap.Error(err))
		}
	}

	if err := w.jobs.MarkJobSucceeded(ctx, job.ID, totals); err != nil {
		w.logger.Error("mark job succeeded", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	w.logger.Info("job succeeded",
		zap.String("job_id", job.ID),
		zap.Int("sessions_imported", totals.SessionsImported),
		zap.Int("result_rows_imported", totals.ResultRowsImported),
		zap.Int("laps_imported", totals.LapsImported))
	w.publishCompletion(ctx, job.ID, timing.JobStateSucceeded, totals, "")
}

func (w *Worker) failJob(ctx context.Context, job timing.ImportJob, totals timing.SummaryCounts, errText string) {
	if err := w.jobs.MarkJobFailed(ctx, job.ID, errText); err != nil {
		w.logger.Error("mark job failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	w.publishCompletion(ctx, job.ID, timing.JobStateFailed, totals, errText)
}

func (w *Worker) publishCompletion(
	ctx context.Context,
	jobID string,
	state timing.JobState,
	counts timing.SummaryCounts,
	errText string,
) {
	if w.cfg.CompletionTopic == "" || w.publisher == nil {
		return
	}
	payload := map[string]any{
		"job_id":    jobID,
		"state":     state,
		"counts":    counts,
		"timestamp": w.clock.Now().Format(time.RFC3339),
	}
	if errText != "" {
		payload["error"] = errText
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.CompletionTopic, payload); err != nil {
		w.logger.Warn("publish job completion", zap.String("job_id", jobID), zap.Error(err))
	}
}

func failureReason(err error) string {
	var clientErr *timing.ClientError
	if errors.As(err, &clientErr) {
		return string(clientErr.Code)
	}
	var urlErr *timing.URLParseError
	if errors.As(err, &urlErr) {
		return "BAD_URL"
	}
	var validationErr *timing.ValidationError
	if errors.As(err, &validationErr) {
		return "VALIDATION"
	}
	return "UNKNOWN"
}
