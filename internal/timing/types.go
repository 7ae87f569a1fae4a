// Package timing defines core types shared across the ingestion subsystems.
package timing

import "time"

// JobState represents the lifecycle state of an import job or job item.
type JobState string

// Job and item states persisted in the job store.
const (
	JobStateQueued    JobState = "QUEUED"
	JobStateRunning   JobState = "RUNNING"
	JobStateSucceeded JobState = "SUCCEEDED"
	JobStateFailed    JobState = "FAILED"
)

// ItemKind identifies the unit of work carried by a job item.
type ItemKind string

// ItemKindEvent imports one full event (overview, sessions, laps, results).
const ItemKindEvent ItemKind = "EVENT"

// Event is a provider-scoped race meeting, unique by ProviderEventID.
type Event struct {
	ID              string    `json:"id"`
	ProviderEventID string    `json:"provider_event_id"`
	Name            string    `json:"name"`
	SourceURL       string    `json:"source_url"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// RaceClass groups sessions within an event, unique by (EventID, ClassCode).
type RaceClass struct {
	ID        string `json:"id"`
	EventID   string `json:"event_id"`
	ClassCode string `json:"class_code"`
	Name      string `json:"name"`
}

// Session is one timed run of a class, unique by ProviderSessionID.
type Session struct {
	ID                string     `json:"id"`
	EventID           string     `json:"event_id"`
	RaceClassID       string     `json:"race_class_id"`
	ProviderSessionID string     `json:"provider_session_id"`
	Name              string     `json:"name"`
	ScheduledStart    *time.Time `json:"scheduled_start,omitempty"`
	SourceURL         string     `json:"source_url"`
}

// Driver is a person identity. ProviderDriverID is the dedup key when the
// provider assigned one; NormalizedName is the fallback key only.
type Driver struct {
	ID               string `json:"id"`
	Provider         string `json:"provider"`
	ProviderDriverID string `json:"provider_driver_id"`
	DisplayName      string `json:"display_name"`
	NormalizedName   string `json:"normalized_name"`
}

// Entrant is a driver's participation in one event+class+session.
type Entrant struct {
	ID                string `json:"id"`
	EventID           string `json:"event_id"`
	RaceClassID       string `json:"race_class_id"`
	SessionID         string `json:"session_id"`
	DriverID          string `json:"driver_id"`
	ProviderEntrantID string `json:"provider_entrant_id"`
	CarNumber         string `json:"car_number,omitempty"`
	Transponder       string `json:"transponder,omitempty"`
}

// Lap belongs to exactly one entrant+session. Lap sets are replaced
// wholesale per (EntrantID, SessionID) on each import pass.
type Lap struct {
	EntrantID      string  `json:"entrant_id"`
	SessionID      string  `json:"session_id"`
	Number         int     `json:"number"`
	TimeSeconds    float64 `json:"time_seconds"`
	PenaltySeconds float64 `json:"penalty_seconds,omitempty"`
}

// ResultRow carries aggregated per-driver statistics for one session,
// unique by (SessionID, DriverID). Statistics are provider passthrough.
type ResultRow struct {
	SessionID         string  `json:"session_id"`
	DriverID          string  `json:"driver_id"`
	Position          int     `json:"position"`
	LapsCompleted     int     `json:"laps_completed"`
	TotalTimeSeconds  float64 `json:"total_time_seconds"`
	BestLapSeconds    float64 `json:"best_lap_seconds"`
	AverageLapSeconds float64 `json:"average_lap_seconds"`
}

// SummaryCounts tracks what one event import accomplished.
type SummaryCounts struct {
	SessionsImported   int `json:"sessions_imported"`
	ResultRowsImported int `json:"result_rows_imported"`
	LapsImported       int `json:"laps_imported"`
	DriversWithLaps    int `json:"drivers_with_laps"`
	LapsSkipped        int `json:"laps_skipped"`
}

// Add accumulates another batch of counts.
func (c *SummaryCounts) Add(o SummaryCounts) {
	c.SessionsImported += o.SessionsImported
	c.ResultRowsImported += o.ResultRowsImported
	c.LapsImported += o.LapsImported
	c.DriversWithLaps += o.DriversWithLaps
	c.LapsSkipped += o.LapsSkipped
}

// ImportJobItem is one unit of work within a job, typically one event.
type ImportJobItem struct {
	ID        string        `json:"id"`
	JobID     string        `json:"job_id"`
	Kind      ItemKind      `json:"kind"`
	TargetURL string        `json:"target_url"`
	State     JobState      `json:"state"`
	ErrorText string        `json:"error_text,omitempty"`
	Counts    SummaryCounts `json:"counts"`
}

// ImportJob is the persisted record of one import request. Jobs are
// created QUEUED by the apply flow and mutated only by the worker; they
// are terminal once SUCCEEDED or FAILED.
type ImportJob struct {
	ID          string          `json:"id"`
	State       JobState        `json:"state"`
	ProgressPct int             `json:"progress_pct"`
	ErrorText   string          `json:"error_text,omitempty"`
	Counts      SummaryCounts   `json:"counts"`
	Items       []ImportJobItem `json:"items"`
	Submitted   time.Time       `json:"submitted_at"`
	Started     *time.Time      `json:"started_at,omitempty"`
	Finished    *time.Time      `json:"finished_at,omitempty"`
}

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	return s == JobStateSucceeded || s == JobStateFailed
}

// EventRef is a lightweight pointer to a not-yet-imported provider event,
// as returned by discovery.
type EventRef struct {
	ProviderEventID string    `json:"provider_event_id"`
	Title           string    `json:"title"`
	StartsAt        time.Time `json:"starts_at"`
	URL             string    `json:"url"`
}

// Club is a provider tenant with its own base origin.
type Club struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	BaseURL string `json:"base_url"`
}

// EntryRecord is a normalized entry-list row.
type EntryRecord struct {
	EntryID     string
	DisplayName string
	DriverID    string
	CarNumber   string
	Transponder string
}

// PenaltyRecord is a normalized penalty attached to a lap or result.
type PenaltyRecord struct {
	EntryID string
	Seconds float64
	Reason  string
}

// LapRecord is a normalized lap row from a race-result document.
type LapRecord struct {
	EntryID        string
	DriverName     string
	LapNumber      int
	LapTimeSeconds float64
	PenaltySeconds float64
}

// ResultRecord is a normalized per-entry aggregate from a race-result
// document.
type ResultRecord struct {
	EntryID           string
	DriverName        string
	DriverID          string
	Position          int
	LapsCompleted     int
	TotalTimeSeconds  float64
	BestLapSeconds    float64
	AverageLapSeconds float64
}

// RaceResultRecord is the normalized form of one race-result JSON
// document.
type RaceResultRecord struct {
	EventSlug   string
	ClassSlug   string
	RoundSlug   string
	RaceSlug    string
	EventName   string
	ClassName   string
	SessionID   string
	SessionName string
	StartTime   *time.Time
	Results     []ResultRecord
	Laps        []LapRecord
	Penalties   []PenaltyRecord
	// LapsDropped counts rows the normalizer discarded for missing
	// required fields; callers surface it as lapsSkipped.
	LapsDropped int
}

// MissingIdentifiers reports which provider identifiers a payload lacked,
// for observability of synthesized fallbacks.
type MissingIdentifiers struct {
	EventID bool `json:"event_id"`
	ClassID bool `json:"class_id"`
	RaceID  bool `json:"race_id"`
}

// UploadMeta describes a user-uploaded result file for which the provider
// assigned no identifiers.
type UploadMeta struct {
	FileName          string
	FileSize          int64
	ModifiedAt        *time.Time
	UploadedAt        *time.Time
	ContentHash       string
	NamespaceOverride string
}
