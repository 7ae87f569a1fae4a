// Package importer orchestrates a full event import: overview page,
// session pages, companion JSON documents, and idempotent upserts across
// the entity graph.
package importer

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lapforge/ingest/internal/htmlx"
	"github.com/lapforge/ingest/internal/normalize"
	"github.com/lapforge/ingest/internal/timing"
)

// Scraper is the slice of the scraping client the importer needs.
type Scraper interface {
	EventOverview(ctx context.Context, url string) (string, error)
	SessionPage(ctx context.Context, url string) (string, error)
	FetchRawJSON(ctx context.Context, url string) (map[string]any, []byte, error)
	FetchEntryList(ctx context.Context, eventSlug, classSlug string) (map[string]any, error)
}

// Repositories bundles the entity ports the importer writes through.
type Repositories struct {
	Events   timing.EventRepository
	Classes  timing.RaceClassRepository
	Sessions timing.SessionRepository
	Drivers  timing.DriverRepository
	Entrants timing.EntrantRepository
	Laps     timing.LapRepository
	Results  timing.ResultRowRepository
}

// Config controls importer behavior.
type Config struct {
	// Provider names the upstream timing provider; it scopes driver
	// identities.
	Provider string
}

// Importer ingests one event end to end. All writes are idempotent
// upserts keyed by source identifiers, so repeated runs converge.
type Importer struct {
	scraper   Scraper
	repos     Repositories
	blobs     timing.BlobStore
	hasher    timing.Hasher
	telemetry timing.Telemetry
	cfg       Config
	logger    *zap.Logger
}

// New constructs an Importer.
func New(
	scraper Scraper,
	repos Repositories,
	blobs timing.BlobStore,
	hasher timing.Hasher,
	telemetry timing.Telemetry,
	cfg Config,
	logger *zap.Logger,
) *Importer {
	if cfg.Provider == "" {
		cfg.Provider = "liveres"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{
		scraper:   scraper,
		repos:     repos,
		blobs:     blobs,
		hasher:    hasher,
		telemetry: telemetry,
		cfg:       cfg,
		logger:    logger,
	}
}

// IngestEventSummary walks the event's overview page and imports every
// linked session. A failure at session granularity fails the whole
// import; per-lap defects are skipped and counted instead.
func (i *Importer) IngestEventSummary(ctx context.Context, eventURL string) (timing.SummaryCounts, error) {
	counts := timing.SummaryCounts{}

	overview, err := i.scraper.EventOverview(ctx, eventURL)
	if err != nil {
		return counts, fmt.Errorf("fetch overview: %w", err)
	}
	sessionURLs, err := htmlx.SessionLinks(overview, eventURL)
	if err != nil {
		return counts, fmt.Errorf("parse overview: %w", err)
	}
	i.logger.Debug("event overview parsed",
		zap.String("event_url", eventURL),
		zap.Int("sessions", len(sessionURLs)),
	)

	entryLists := map[string][]timing.EntryRecord{}
	for _, sessionURL := range sessionURLs {
		sessionCounts, err := i.ingestSession(ctx, eventURL, sessionURL, entryLists)
		counts.Add(sessionCounts)
		if err != nil {
			i.telemetry.RecordSessionIngestion("failure", sessionCounts.LapsImported, sessionCounts.LapsSkipped)
			return counts, fmt.Errorf("session %s: %w", sessionURL, err)
		}
		i.telemetry.RecordSessionIngestion("success", sessionCounts.LapsImported, sessionCounts.LapsSkipped)
	}

	return counts, nil
}

func (i *Importer) ingestSession(
	ctx context.Context,
	eventURL string,
	sessionURL string,
	entryLists map[string][]timing.EntryRecord,
) (timing.SummaryCounts, error) {
	counts := timing.SummaryCounts{}

	page, err := i.scraper.SessionPage(ctx, sessionURL)
	if err != nil {
		return counts, fmt.Errorf("fetch session page: %w", err)
	}
	jsonURL, err := htmlx.ResultJSONURL(page, sessionURL)
	if err != nil {
		return counts, fmt.Errorf("resolve result json: %w", err)
	}
	parsed, err := timing.ParseProviderURL(jsonURL)
	if err != nil {
		return counts, fmt.Errorf("resolve result json: %w", err)
	}

	raw, body, err := i.scraper.FetchRawJSON(ctx, parsed.JSONURL())
	if err != nil {
		return counts, fmt.Errorf("fetch result json: %w", err)
	}
	i.archive(ctx, parsed, body)

	rec := normalize.MapRaceResultResponse(raw, normalize.Context{
		Provider:  i.cfg.Provider,
		EventSlug: parsed.EventSlug,
		ClassSlug: parsed.ClassSlug,
		RoundSlug: parsed.RoundSlug,
		RaceSlug:  parsed.RaceSlug,
	})
	counts.LapsSkipped += rec.LapsDropped

	event, err := i.repos.Events.UpsertBySource(ctx, timing.Event{
		ProviderEventID: parsed.EventSlug,
		Name:            rec.EventName,
		SourceURL:       eventURL,
	})
	if err != nil {
		return counts, fmt.Errorf("upsert event: %w", err)
	}
	class, err := i.repos.Classes.UpsertBySource(ctx, timing.RaceClass{
		EventID:   event.ID,
		ClassCode: parsed.ClassSlug,
		Name:      rec.ClassName,
	})
	if err != nil {
		return counts, fmt.Errorf("upsert class: %w", err)
	}
	session, err := i.repos.Sessions.UpsertBySource(ctx, timing.Session{
		EventID:           event.ID,
		RaceClassID:       class.ID,
		ProviderSessionID: rec.SessionID,
		Name:              rec.SessionName,
		ScheduledStart:    rec.StartTime,
		SourceURL:         sessionURL,
	})
	if err != nil {
		return counts, fmt.Errorf("upsert session: %w", err)
	}
	counts.SessionsImported++

	entries := i.entryList(ctx, entryLists, parsed.EventSlug, parsed.ClassSlug)

	entrants, drivers, err := i.upsertEntrants(ctx, event, class, session, rec, entries)
	if err != nil {
		return counts, err
	}

	lapCounts, err := i.replaceLaps(ctx, session, rec, entrants)
	if err != nil {
		return counts, err
	}
	counts.Add(lapCounts)

	for _, res := range rec.Results {
		driver, ok := drivers[res.EntryID]
		if !ok {
			continue
		}
		if _, err := i.repos.Results.UpsertBySource(ctx, timing.ResultRow{
			SessionID:         session.ID,
			DriverID:          driver.ID,
			Position:          res.Position,
			LapsCompleted:     res.LapsCompleted,
			TotalTimeSeconds:  res.TotalTimeSeconds,
			BestLapSeconds:    res.BestLapSeconds,
			AverageLapSeconds: res.AverageLapSeconds,
		}); err != nil {
			return counts, fmt.Errorf("upsert result row: %w", err)
		}
		counts.ResultRowsImported++
	}

	return counts, nil
}

// entryList fetches the entry list once per event+class, tolerating its
// absence: older events have no entry document at all.
func (i *Importer) entryList(
	ctx context.Context,
	cache map[string][]timing.EntryRecord,
	eventSlug, classSlug string,
) map[string]timing.EntryRecord {
	key := eventSlug + "/" + classSlug
	entries, ok := cache[key]
	if !ok {
		raw, err := i.scraper.FetchEntryList(ctx, eventSlug, classSlug)
		if err != nil {
			i.logger.Debug("entry list unavailable",
				zap.String("event", eventSlug),
				zap.String("class", classSlug),
				zap.Error(err),
			)
		} else {
			entries = normalize.MapEntryListResponse(raw, normalize.Context{
				Provider:  i.cfg.Provider,
				EventSlug: eventSlug,
				ClassSlug: classSlug,
			})
		}
		cache[key] = entries
	}

	byEntry := make(map[string]timing.EntryRecord, len(entries))
	for _, e := range entries {
		byEntry[e.EntryID] = e
	}
	return byEntry
}

func (i *Importer) upsertEntrants(
	ctx context.Context,
	event timing.Event,
	class timing.RaceClass,
	session timing.Session,
	rec timing.RaceResultRecord,
	entries map[string]timing.EntryRecord,
) (map[string]timing.Entrant, map[string]timing.Driver, error) {
	entrants := make(map[string]timing.Entrant, len(rec.Results))
	drivers := make(map[string]timing.Driver, len(rec.Results))

	for _, res := range rec.Results {
		driver, err := i.resolveDriver(ctx, res)
		if err != nil {
			return nil, nil, fmt.Errorf("resolve driver %q: %w", res.DriverName, err)
		}
		drivers[res.EntryID] = driver

		entrant := timing.Entrant{
			EventID:           event.ID,
			RaceClassID:       class.ID,
			SessionID:         session.ID,
			DriverID:          driver.ID,
			ProviderEntrantID: res.EntryID,
		}
		if entry, ok := entries[res.EntryID]; ok {
			entrant.CarNumber = entry.CarNumber
			entrant.Transponder = entry.Transponder
		}
		stored, err := i.repos.Entrants.UpsertBySource(ctx, entrant)
		if err != nil {
			return nil, nil, fmt.Errorf("upsert entrant %s: %w", res.EntryID, err)
		}
		entrants[res.EntryID] = stored
	}
	return entrants, drivers, nil
}

// resolveDriver keys a driver by its provider driver id when one exists,
// falling back to an entry-scoped key, and only last to the normalized
// display name. Two entrants sharing a name but carrying distinct
// provider ids must never collapse into one driver.
func (i *Importer) resolveDriver(ctx context.Context, res timing.ResultRecord) (timing.Driver, error) {
	driver := timing.Driver{
		Provider:       i.cfg.Provider,
		DisplayName:    res.DriverName,
		NormalizedName: NormalizeName(res.DriverName),
	}
	switch {
	case res.DriverID != "":
		driver.ProviderDriverID = res.DriverID
		return i.repos.Drivers.UpsertBySource(ctx, driver)
	case res.EntryID != "":
		driver.ProviderDriverID = "entry/" + res.EntryID
		return i.repos.Drivers.UpsertBySource(ctx, driver)
	default:
		return i.repos.Drivers.UpsertByDisplayName(ctx, driver)
	}
}

func (i *Importer) replaceLaps(
	ctx context.Context,
	session timing.Session,
	rec timing.RaceResultRecord,
	entrants map[string]timing.Entrant,
) (timing.SummaryCounts, error) {
	counts := timing.SummaryCounts{}

	grouped := map[string][]timing.Lap{}
	for _, lap := range rec.Laps {
		entrant, ok := entrants[lap.EntryID]
		if !ok {
			// Orphan lap: the provider referenced an entry id absent from
			// the session's entrant set. Skip it, never persist it.
			counts.LapsSkipped++
			i.logger.Warn("orphan lap skipped",
				zap.String("session_id", session.ID),
				zap.String("entry_id", lap.EntryID),
				zap.Int("lap", lap.LapNumber),
			)
			continue
		}
		grouped[entrant.ID] = append(grouped[entrant.ID], timing.Lap{
			EntrantID:      entrant.ID,
			SessionID:      session.ID,
			Number:         lap.LapNumber,
			TimeSeconds:    lap.LapTimeSeconds,
			PenaltySeconds: lap.PenaltySeconds,
		})
	}

	for entrantID, laps := range grouped {
		if err := i.repos.Laps.ReplaceForEntrantSession(ctx, entrantID, session.ID, laps); err != nil {
			return counts, fmt.Errorf("replace laps for entrant %s: %w", entrantID, err)
		}
		counts.LapsImported += len(laps)
		counts.DriversWithLaps++
	}
	return counts, nil
}

// archive stores the raw result document keyed by content hash. Failures
// are logged and never fail the import.
func (i *Importer) archive(ctx context.Context, parsed timing.ParsedURL, body []byte) {
	if i.blobs == nil || i.hasher == nil {
		return
	}
	hash, err := i.hasher.Hash(body)
	if err != nil {
		i.logger.Warn("hash raw payload failed", zap.Error(err))
		return
	}
	path := fmt.Sprintf("raw/%s/%s/%s.json", parsed.EventSlug, parsed.ClassSlug, hash)
	if _, err := i.blobs.PutObject(ctx, path, "application/json", body); err != nil {
		i.logger.Warn("archive raw payload failed",
			zap.String("path", path),
			zap.Error(err),
		)
	}
}

// NormalizeName lowercases and collapses whitespace for fallback driver
// identity.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
