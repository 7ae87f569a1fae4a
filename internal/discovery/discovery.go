// Package discovery enumerates candidate provider events for a club and
// drives the plan/apply import workflow.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lapforge/ingest/internal/htmlx"
	"github.com/lapforge/ingest/internal/timing"
)

// maxSpanDays bounds the inclusive discovery date range.
const maxSpanDays = 7

// Candidate statuses assigned by Plan.
const (
	StatusNew      = "NEW"
	StatusPartial  = "PARTIAL"
	StatusExisting = "EXISTING"
)

// Lister fetches a club's events listing page.
type Lister interface {
	ClubListing(ctx context.Context, pageURL string) (string, error)
}

// Request is a discovery query for one club and date range.
type Request struct {
	ClubID    string    `json:"club_id"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	Limit     int       `json:"limit,omitempty"`
}

// Candidate is one discovered event classified against imported data.
type Candidate struct {
	timing.EventRef
	Status        string `json:"status"`
	EstimatedLaps int    `json:"estimated_laps"`
}

// ApplyRequest selects plan candidates for import.
type ApplyRequest struct {
	ClubID     string      `json:"club_id"`
	Candidates []Candidate `json:"candidates"`
}

// Config carries the apply guardrails.
type Config struct {
	// MaxSelectedEvents caps how many events one apply may enqueue.
	MaxSelectedEvents int
	// MaxEstimatedLaps caps the summed lap estimate of one apply.
	MaxEstimatedLaps int
	// LapsPerEventEstimate is the planning heuristic for events that
	// have not been imported yet.
	LapsPerEventEstimate int
}

// Service implements discovery and the plan/apply workflow.
type Service struct {
	clubs     timing.ClubRepository
	lister    Lister
	events    timing.EventRepository
	sessions  timing.SessionRepository
	jobs      timing.ImportJobRepository
	idGen     timing.IDGenerator
	clock     timing.Clock
	telemetry timing.Telemetry
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Service.
func New(
	clubs timing.ClubRepository,
	lister Lister,
	events timing.EventRepository,
	sessions timing.SessionRepository,
	jobs timing.ImportJobRepository,
	idGen timing.IDGenerator,
	clock timing.Clock,
	telemetry timing.Telemetry,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if cfg.MaxSelectedEvents <= 0 {
		cfg.MaxSelectedEvents = 10
	}
	if cfg.MaxEstimatedLaps <= 0 {
		cfg.MaxEstimatedLaps = 50000
	}
	if cfg.LapsPerEventEstimate <= 0 {
		cfg.LapsPerEventEstimate = 400
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		clubs:     clubs,
		lister:    lister,
		events:    events,
		sessions:  sessions,
		jobs:      jobs,
		idGen:     idGen,
		clock:     clock,
		telemetry: telemetry,
		cfg:       cfg,
		logger:    logger,
	}
}

// DiscoverByClubAndDateRange returns lightweight event references from
// the club's listing page. Validation happens before any network call.
func (s *Service) DiscoverByClubAndDateRange(ctx context.Context, req Request) ([]timing.EventRef, error) {
	club, err := s.validate(ctx, req)
	if err != nil {
		return nil, err
	}

	listURL := s.listingURL(club, req)
	html, err := s.lister.ClubListing(ctx, listURL)
	if err != nil {
		return nil, fmt.Errorf("fetch club listing: %w", err)
	}
	refs, err := htmlx.ClubEvents(html, listURL)
	if err != nil {
		return nil, fmt.Errorf("extract club events: %w", err)
	}

	refs = filterByDate(refs, req.StartDate, req.EndDate)
	if req.Limit > 0 && len(refs) > req.Limit {
		refs = refs[:req.Limit]
	}
	s.logger.Debug("discovered events",
		zap.String("club_id", req.ClubID),
		zap.Int("count", len(refs)))
	return refs, nil
}

// Plan classifies each discovered candidate against already-imported
// data and attaches a lap estimate. Nothing is persisted.
func (s *Service) Plan(ctx context.Context, req Request) ([]Candidate, error) {
	refs, err := s.DiscoverByClubAndDateRange(ctx, req)
	if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(refs))
	for _, ref := range refs {
		candidate := Candidate{EventRef: ref, Status: StatusNew, EstimatedLaps: s.cfg.LapsPerEventEstimate}

		event, err := s.events.FindBySource(ctx, ref.ProviderEventID)
		switch {
		case errors.Is(err, timing.ErrNotFound):
			// stays NEW
		case err != nil:
			return nil, fmt.Errorf("classify candidate %s: %w", ref.ProviderEventID, err)
		default:
			count, err := s.sessions.CountByEvent(ctx, event.ID)
			if err != nil {
				return nil, fmt.Errorf("count sessions for %s: %w", ref.ProviderEventID, err)
			}
			if count > 0 {
				candidate.Status = StatusExisting
				candidate.EstimatedLaps = 0
			} else {
				candidate.Status = StatusPartial
			}
		}
		candidates = append(candidates, candidate)
	}

	s.telemetry.RecordPlanRequest(req.ClubID, len(candidates))
	return candidates, nil
}

// Apply enforces the guardrails and enqueues one import job with an
// EVENT item per selected candidate. EXISTING candidates are rejected
// by the caller's selection, not silently skipped here.
func (s *Service) Apply(ctx context.Context, req ApplyRequest) (timing.ImportJob, error) {
	if req.ClubID == "" {
		return timing.ImportJob{}, &timing.ValidationError{Field: "club_id", Reason: "is required"}
	}
	if len(req.Candidates) == 0 {
		return timing.ImportJob{}, &timing.ValidationError{Field: "candidates", Reason: "at least one is required"}
	}
	if len(req.Candidates) > s.cfg.MaxSelectedEvents {
		s.telemetry.RecordApplyRequest(req.ClubID, len(req.Candidates), false)
		return timing.ImportJob{}, &timing.GuardrailError{
			Rule:    "MAX_EVENTS",
			Message: fmt.Sprintf("%d events selected, limit is %d", len(req.Candidates), s.cfg.MaxSelectedEvents),
		}
	}
	estimated := 0
	for _, c := range req.Candidates {
		estimated += c.EstimatedLaps
	}
	if estimated > s.cfg.MaxEstimatedLaps {
		s.telemetry.RecordApplyRequest(req.ClubID, len(req.Candidates), false)
		return timing.ImportJob{}, &timing.GuardrailError{
			Rule:    "MAX_ESTIMATED_LAPS",
			Message: fmt.Sprintf("estimated %d laps, limit is %d", estimated, s.cfg.MaxEstimatedLaps),
		}
	}

	jobID, err := s.idGen.NewID()
	if err != nil {
		return timing.ImportJob{}, fmt.Errorf("generate job id: %w", err)
	}
	job := timing.ImportJob{
		ID:        jobID,
		State:     timing.JobStateQueued,
		Submitted: s.clock.Now(),
	}
	for _, c := range req.Candidates {
		itemID, err := s.idGen.NewID()
		if err != nil {
			return timing.ImportJob{}, fmt.Errorf("generate item id: %w", err)
		}
		job.Items = append(job.Items, timing.ImportJobItem{
			ID:        itemID,
			JobID:     jobID,
			Kind:      timing.ItemKindEvent,
			TargetURL: c.URL,
			State:     timing.JobStateQueued,
		})
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return timing.ImportJob{}, fmt.Errorf("enqueue import job: %w", err)
	}

	s.telemetry.RecordApplyRequest(req.ClubID, len(req.Candidates), true)
	s.logger.Info("import job enqueued",
		zap.String("job_id", jobID),
		zap.String("club_id", req.ClubID),
		zap.Int("events", len(job.Items)),
		zap.Int("estimated_laps", estimated))
	return job, nil
}

func (s *Service) validate(ctx context.Context, req Request) (timing.Club, error) {
	if req.ClubID == "" {
		return timing.Club{}, &timing.ValidationError{Field: "club_id", Reason: "is required"}
	}
	if req.StartDate.IsZero() || req.EndDate.IsZero() {
		return timing.Club{}, &timing.ValidationError{Field: "date_range", Reason: "start and end dates are required"}
	}
	if req.EndDate.Before(req.StartDate) {
		return timing.Club{}, &timing.ValidationError{Field: "date_range", Reason: "start date is after end date"}
	}
	if spanDays(req.StartDate, req.EndDate) > maxSpanDays {
		return timing.Club{}, &timing.GuardrailError{
			Rule:    "DATE_SPAN",
			Message: fmt.Sprintf("inclusive span exceeds %d days", maxSpanDays),
		}
	}

	club, err := s.clubs.FindByID(ctx, req.ClubID)
	if err != nil {
		if errors.Is(err, timing.ErrNotFound) {
			return timing.Club{}, &timing.ValidationError{Field: "club_id", Reason: "unknown club"}
		}
		return timing.Club{}, fmt.Errorf("resolve club: %w", err)
	}
	return club, nil
}

func (s *Service) listingURL(club timing.Club, req Request) string {
	base := strings.TrimRight(club.BaseURL, "/")
	query := url.Values{}
	query.Set("from", req.StartDate.Format("2006-01-02"))
	query.Set("to", req.EndDate.Format("2006-01-02"))
	return base + "/events?" + query.Encode()
}

// spanDays counts calendar days in the inclusive range.
func spanDays(start, end time.Time) int {
	startDay := start.Truncate(24 * time.Hour)
	endDay := end.Truncate(24 * time.Hour)
	return int(endDay.Sub(startDay).Hours()/24) + 1
}

func filterByDate(refs []timing.EventRef, start, end time.Time) []timing.EventRef {
	out := make([]timing.EventRef, 0, len(refs))
	rangeEnd := end.Truncate(24 * time.Hour).Add(24 * time.Hour)
	for _, ref := range refs {
		if ref.StartsAt.IsZero() {
			// listing rows without a timestamp are kept; the listing
			// itself was already range-scoped
			out = append(out, ref)
			continue
		}
		if ref.StartsAt.Before(start.Truncate(24*time.Hour)) || !ref.StartsAt.Before(rangeEnd) {
			continue
		}
		out = append(out, ref)
	}
	return out
}
