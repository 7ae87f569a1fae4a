package importer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lapforge/ingest/internal/hash/sha256"
	"github.com/lapforge/ingest/internal/storage/memory"
	"github.com/lapforge/ingest/internal/timing"
)

const (
	eventURL = "https://host/results/spring-gp"

	overviewHTML = `<html><body>
<table class="sessions">
  <tr><td><a href="/results/spring-gp/stock/round1/heat1">Heat 1</a></td></tr>
  <tr><td><a href="/results/spring-gp/stock/round1/heat2">Heat 2</a></td></tr>
</table>
</body></html>`

	sessionHTML = `<html><head>
<link rel="alternate" type="application/json" href="%s.json">
</head></html>`
)

func heat1Doc() map[string]any {
	return map[string]any{
		"event_name": "Spring GP",
		"class_name": "Stock",
		"race_id":    "spring-gp/stock/round1/heat1",
		"race_name":  "Heat 1",
		"results": []any{
			map[string]any{
				"entry_id": "e1", "display_name": "Alice Smith", "driver_id": "d-1",
				"position": 1, "laps_completed": 2,
				"total_time_seconds": 63.1, "best_lap_seconds": 31.0, "average_lap_seconds": 31.5,
			},
			map[string]any{
				"entry_id": "e2", "display_name": "alice  smith",
				"position": 2, "laps_completed": 1,
				"total_time_seconds": 33.0, "best_lap_seconds": 33.0, "average_lap_seconds": 33.0,
			},
		},
		"laps": []any{
			map[string]any{"entry_id": "e1", "display_name": "Alice Smith", "lap_number": 1, "lap_time_seconds": 31.0},
			map[string]any{"entry_id": "e1", "display_name": "Alice Smith", "lap_number": 2, "lap_time_seconds": 32.1},
			map[string]any{"entry_id": "e2", "display_name": "alice  smith", "lap_number": 1, "lap_time_seconds": 33.0},
			// references an entry id absent from the results
			map[string]any{"entry_id": "e9", "display_name": "Ghost", "lap_number": 1, "lap_time_seconds": 30.0},
			// missing lap time
			map[string]any{"entry_id": "e1", "display_name": "Alice Smith", "lap_number": 3},
		},
	}
}

func heat2Doc() map[string]any {
	return map[string]any{
		"event_name": "Spring GP",
		"class_name": "Stock",
		"race_id":    "spring-gp/stock/round1/heat2",
		"race_name":  "Heat 2",
		"results": []any{
			map[string]any{
				"entry_id": "e1", "display_name": "Alice Smith", "driver_id": "d-1",
				"position": 1, "laps_completed": 1,
				"total_time_seconds": 30.9, "best_lap_seconds": 30.9, "average_lap_seconds": 30.9,
			},
		},
		"laps": []any{
			map[string]any{"entry_id": "e1", "display_name": "Alice Smith", "lap_number": 1, "lap_time_seconds": 30.9},
		},
	}
}

type fakeScraper struct {
	mu             sync.Mutex
	overviews      map[string]string
	pages          map[string]string
	docs           map[string]map[string]any
	entries        map[string]map[string]any
	pageErrs       map[string]error
	entryListCalls int
}

func newFakeScraper() *fakeScraper {
	heat1 := "https://host/results/spring-gp/stock/round1/heat1"
	heat2 := "https://host/results/spring-gp/stock/round1/heat2"
	return &fakeScraper{
		overviews: map[string]string{eventURL: overviewHTML},
		pages: map[string]string{
			heat1: fmt.Sprintf(sessionHTML, "heat1"),
			heat2: fmt.Sprintf(sessionHTML, "heat2"),
		},
		docs: map[string]map[string]any{
			heat1 + ".json": heat1Doc(),
			heat2 + ".json": heat2Doc(),
		},
		entries: map[string]map[string]any{
			"spring-gp/stock": {
				"entries": []any{
					map[string]any{"entry_id": "e1", "display_name": "Alice Smith", "car_number": "5", "transponder_id": "T1"},
				},
			},
		},
		pageErrs: map[string]error{},
	}
}

func (f *fakeScraper) EventOverview(_ context.Context, url string) (string, error) {
	html, ok := f.overviews[url]
	if !ok {
		return "", fmt.Errorf("unexpected overview url %s", url)
	}
	return html, nil
}

func (f *fakeScraper) SessionPage(_ context.Context, url string) (string, error) {
	if err := f.pageErrs[url]; err != nil {
		return "", err
	}
	html, ok := f.pages[url]
	if !ok {
		return "", fmt.Errorf("unexpected session url %s", url)
	}
	return html, nil
}

func (f *fakeScraper) FetchRawJSON(_ context.Context, url string) (map[string]any, []byte, error) {
	doc, ok := f.docs[url]
	if !ok {
		return nil, nil, fmt.Errorf("unexpected json url %s", url)
	}
	return doc, []byte(url), nil
}

func (f *fakeScraper) FetchEntryList(_ context.Context, eventSlug, classSlug string) (map[string]any, error) {
	f.mu.Lock()
	f.entryListCalls++
	f.mu.Unlock()
	doc, ok := f.entries[eventSlug+"/"+classSlug]
	if !ok {
		return nil, errors.New("entry list not found")
	}
	return doc, nil
}

type sessionTelemetry struct {
	mu        sync.Mutex
	successes int
	failures  int
}

func (f *sessionTelemetry) RecordPlanRequest(string, int)                             {}
func (f *sessionTelemetry) RecordApplyRequest(string, int, bool)                      {}
func (f *sessionTelemetry) RecordEventIngestion(string, string, timing.SummaryCounts) {}

func (f *sessionTelemetry) RecordSessionIngestion(outcome string, _, _ int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if outcome == "success" {
		f.successes++
	} else {
		f.failures++
	}
}

type seqIDGen struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDGen) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%d", g.n), nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type fixture struct {
	importer *Importer
	scraper  *fakeScraper
	repos    *memory.Repos
	blobs    *memory.BlobStore
	tel      *sessionTelemetry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 4, 2, 10, 0, 0, 0, time.UTC)}
	repos := memory.NewRepos(&seqIDGen{}, clock)
	scraper := newFakeScraper()
	blobs := memory.NewBlobStore()
	tel := &sessionTelemetry{}
	imp := New(scraper, Repositories{
		Events:   repos.Events,
		Classes:  repos.Classes,
		Sessions: repos.Sessions,
		Drivers:  repos.Drivers,
		Entrants: repos.Entrants,
		Laps:     repos.Laps,
		Results:  repos.Results,
	}, blobs, sha256.New(), tel, Config{Provider: "liveres"}, zap.NewNop())
	return &fixture{importer: imp, scraper: scraper, repos: repos, blobs: blobs, tel: tel}
}

func TestIngestEventSummary_ImportsEverySession(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	counts, err := fix.importer.IngestEventSummary(context.Background(), eventURL)
	require.NoError(t, err)

	assert.Equal(t, 2, counts.SessionsImported)
	assert.Equal(t, 3, counts.ResultRowsImported)
	assert.Equal(t, 4, counts.LapsImported)
	assert.Equal(t, 3, counts.DriversWithLaps)
	assert.Equal(t, 2, counts.LapsSkipped)

	assert.Equal(t, 1, fix.repos.Events.Size())
	assert.Equal(t, 1, fix.repos.Classes.Size())
	assert.Equal(t, 2, fix.repos.Sessions.Size())
	assert.Equal(t, 3, fix.repos.Results.Size())
	assert.Equal(t, 4, fix.repos.Laps.Size())
	assert.Equal(t, 2, fix.tel.successes)
	assert.Equal(t, 0, fix.tel.failures)
}

func TestIngestEventSummary_Idempotent(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	ctx := context.Background()

	first, err := fix.importer.IngestEventSummary(ctx, eventURL)
	require.NoError(t, err)
	second, err := fix.importer.IngestEventSummary(ctx, eventURL)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, fix.repos.Events.Size())
	assert.Equal(t, 2, fix.repos.Sessions.Size())
	assert.Equal(t, 2, fix.repos.Drivers.Size())
	// entrants are session-scoped: e1+e2 in heat1, e1 in heat2
	assert.Equal(t, 3, fix.repos.Entrants.Size())
	assert.Equal(t, 4, fix.repos.Laps.Size())
	assert.Equal(t, 3, fix.repos.Results.Size())
}

func TestIngestEventSummary_DuplicateNamesStayDistinct(t *testing.T) {
	t.Parallel()

	// e1 carries a provider driver id, e2 only an entry id. Both display
	// names normalize identically but must never collapse into one driver.
	fix := newFixture(t)
	_, err := fix.importer.IngestEventSummary(context.Background(), eventURL)
	require.NoError(t, err)

	assert.Equal(t, 2, fix.repos.Drivers.Size())
}

func TestIngestEventSummary_EntryListFetchedOncePerClass(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	_, err := fix.importer.IngestEventSummary(context.Background(), eventURL)
	require.NoError(t, err)

	assert.Equal(t, 1, fix.scraper.entryListCalls)
}

func TestIngestEventSummary_ArchivesRawPayloads(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	_, err := fix.importer.IngestEventSummary(context.Background(), eventURL)
	require.NoError(t, err)

	assert.Equal(t, 2, fix.blobs.Len())
}

func TestIngestEventSummary_SessionFailureFailsImport(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	fix.scraper.pageErrs["https://host/results/spring-gp/stock/round1/heat2"] = &timing.ClientError{
		Code:   timing.ClientErrMaxRetries,
		Status: 503,
		URL:    "https://host/results/spring-gp/stock/round1/heat2",
	}

	counts, err := fix.importer.IngestEventSummary(context.Background(), eventURL)
	require.Error(t, err)

	var clientErr *timing.ClientError
	require.ErrorAs(t, err, &clientErr)
	assert.Equal(t, timing.ClientErrMaxRetries, clientErr.Code)

	// the first session landed before the failure
	assert.Equal(t, 1, counts.SessionsImported)
	assert.Equal(t, 1, fix.tel.successes)
	assert.Equal(t, 1, fix.tel.failures)
}

func TestIngestEventSummary_MissingEntryListTolerated(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	fix.scraper.entries = map[string]map[string]any{}

	counts, err := fix.importer.IngestEventSummary(context.Background(), eventURL)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.SessionsImported)
}

func TestNormalizeName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "alice smith", NormalizeName("  Alice   SMITH "))
	assert.Equal(t, "", NormalizeName("   "))
}
