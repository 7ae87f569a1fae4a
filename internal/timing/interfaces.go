package timing

import (
	"context"
	"time"
)

// EventRepository persists events keyed by provider event id.
type EventRepository interface {
	UpsertBySource(ctx context.Context, event Event) (Event, error)
	FindBySource(ctx context.Context, providerEventID string) (Event, error)
}

// RaceClassRepository persists classes keyed by (event, class code).
type RaceClassRepository interface {
	UpsertBySource(ctx context.Context, class RaceClass) (RaceClass, error)
}

// SessionRepository persists sessions keyed by provider session id.
type SessionRepository interface {
	UpsertBySource(ctx context.Context, session Session) (Session, error)
	CountByEvent(ctx context.Context, eventID string) (int, error)
}

// DriverRepository persists driver identities. UpsertBySource keys on
// (provider, provider driver id); UpsertByDisplayName keys on the
// normalized display name and is only used when no provider id exists.
type DriverRepository interface {
	UpsertBySource(ctx context.Context, driver Driver) (Driver, error)
	UpsertByDisplayName(ctx context.Context, driver Driver) (Driver, error)
}

// EntrantRepository persists entrants keyed by
// (event, class, session, provider entrant id).
type EntrantRepository interface {
	UpsertBySource(ctx context.Context, entrant Entrant) (Entrant, error)
}

// LapRepository persists laps. ReplaceForEntrantSession swaps the whole
// lap set for one entrant+session so corrected upstream data never leaves
// stale rows behind.
type LapRepository interface {
	ReplaceForEntrantSession(ctx context.Context, entrantID, sessionID string, laps []Lap) error
}

// ResultRowRepository persists per-driver session aggregates.
type ResultRowRepository interface {
	UpsertBySource(ctx context.Context, row ResultRow) (ResultRow, error)
}

// ImportJobRepository persists jobs and items. TakeNextQueuedJob must
// atomically claim exactly one QUEUED job (QUEUED -> RUNNING) so
// concurrent workers never double-process.
type ImportJobRepository interface {
	CreateJob(ctx context.Context, job ImportJob) error
	GetJob(ctx context.Context, jobID string) (ImportJob, error)
	ListJobs(ctx context.Context, state *JobState, limit, offset int) ([]ImportJob, error)
	TakeNextQueuedJob(ctx context.Context) (ImportJob, bool, error)
	MarkJobSucceeded(ctx context.Context, jobID string, counts SummaryCounts) error
	MarkJobFailed(ctx context.Context, jobID string, errText string) error
	UpdateJobProgress(ctx context.Context, jobID string, progressPct int) error
	UpdateJobItem(ctx context.Context, item ImportJobItem) error
}

// ClubRepository resolves club ids to provider origins.
type ClubRepository interface {
	FindByID(ctx context.Context, clubID string) (Club, error)
}

// Telemetry records ingestion outcomes for dashboards and alerting.
type Telemetry interface {
	RecordPlanRequest(clubID string, candidates int)
	RecordApplyRequest(clubID string, selected int, accepted bool)
	RecordEventIngestion(outcome string, reason string, counts SummaryCounts)
	RecordSessionIngestion(outcome string, lapsImported, lapsSkipped int)
}

// SummaryImporter ingests one event end to end.
type SummaryImporter interface {
	IngestEventSummary(ctx context.Context, eventURL string) (SummaryCounts, error)
}

// BlobStore archives raw scraped payloads and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for archival keys and upload namespaces.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (injectable for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces entity and job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
