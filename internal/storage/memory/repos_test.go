package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/lapforge/ingest/internal/timing"
)

type seqIDGen struct {
	n int
}

func (g *seqIDGen) NewID() (string, error) {
	g.n++
	return fmt.Sprintf("id-%d", g.n), nil
}

func TestEventRepoUpsertIdempotent(t *testing.T) {
	t.Parallel()

	repo := NewEventRepo(&seqIDGen{}, stubClock{now: time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)})
	ctx := context.Background()

	first, err := repo.UpsertBySource(ctx, timing.Event{
		ProviderEventID: "spring-gp",
		Name:            "Spring GP",
		SourceURL:       "https://host/results/spring-gp",
	})
	if err != nil {
		t.Fatalf("UpsertBySource() error = %v", err)
	}
	if first.ID == "" || first.CreatedAt.IsZero() {
		t.Fatalf("expected id and created time set, got %+v", first)
	}

	second, err := repo.UpsertBySource(ctx, timing.Event{
		ProviderEventID: "spring-gp",
		Name:            "Spring GP (rev)",
		SourceURL:       "https://host/results/spring-gp",
	})
	if err != nil {
		t.Fatalf("UpsertBySource() repeat error = %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected stable id, got %s vs %s", second.ID, first.ID)
	}
	if second.Name != "Spring GP (rev)" {
		t.Fatalf("expected name updated, got %s", second.Name)
	}
	if repo.Size() != 1 {
		t.Fatalf("expected one event, got %d", repo.Size())
	}

	found, err := repo.FindBySource(ctx, "spring-gp")
	if err != nil || found.ID != first.ID {
		t.Fatalf("FindBySource() = %+v, %v", found, err)
	}
	if _, err := repo.FindBySource(ctx, "missing"); err != timing.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDriverRepoDistinctIndexes(t *testing.T) {
	t.Parallel()

	repo := NewDriverRepo(&seqIDGen{})
	ctx := context.Background()

	byID, err := repo.UpsertBySource(ctx, timing.Driver{
		Provider:         "liveres",
		ProviderDriverID: "d-77",
		DisplayName:      "Sam Vee",
		NormalizedName:   "sam vee",
	})
	if err != nil {
		t.Fatalf("UpsertBySource() error = %v", err)
	}
	again, err := repo.UpsertBySource(ctx, timing.Driver{
		Provider:         "liveres",
		ProviderDriverID: "d-77",
		DisplayName:      "Samantha Vee",
		NormalizedName:   "samantha vee",
	})
	if err != nil || again.ID != byID.ID {
		t.Fatalf("expected stable source-keyed id, got %+v err=%v", again, err)
	}

	byName, err := repo.UpsertByDisplayName(ctx, timing.Driver{
		Provider:       "liveres",
		DisplayName:    "Sam Vee",
		NormalizedName: "sam vee",
	})
	if err != nil {
		t.Fatalf("UpsertByDisplayName() error = %v", err)
	}
	if byName.ID == byID.ID {
		t.Fatal("expected name index to be independent of source index")
	}
	if repo.Size() != 2 {
		t.Fatalf("expected two drivers, got %d", repo.Size())
	}
}

func TestLapRepoReplacesWholesale(t *testing.T) {
	t.Parallel()

	repo := NewLapRepo()
	ctx := context.Background()

	firstPass := []timing.Lap{
		{EntrantID: "e1", SessionID: "s1", Number: 1, TimeSeconds: 31.2},
		{EntrantID: "e1", SessionID: "s1", Number: 2, TimeSeconds: 30.8},
		{EntrantID: "e1", SessionID: "s1", Number: 3, TimeSeconds: 30.9},
	}
	if err := repo.ReplaceForEntrantSession(ctx, "e1", "s1", firstPass); err != nil {
		t.Fatalf("ReplaceForEntrantSession() error = %v", err)
	}
	secondPass := []timing.Lap{
		{EntrantID: "e1", SessionID: "s1", Number: 1, TimeSeconds: 31.2},
		{EntrantID: "e1", SessionID: "s1", Number: 2, TimeSeconds: 30.8},
	}
	if err := repo.ReplaceForEntrantSession(ctx, "e1", "s1", secondPass); err != nil {
		t.Fatalf("ReplaceForEntrantSession() repeat error = %v", err)
	}

	got := repo.ForEntrantSession("e1", "s1")
	if len(got) != 2 {
		t.Fatalf("expected wholesale replacement to 2 laps, got %d", len(got))
	}
	if repo.Size() != 2 {
		t.Fatalf("expected total lap count 2, got %d", repo.Size())
	}
}

func TestResultRowRepoUpsertBySessionDriver(t *testing.T) {
	t.Parallel()

	repo := NewResultRowRepo()
	ctx := context.Background()

	row := timing.ResultRow{SessionID: "s1", DriverID: "d1", Position: 3, LapsCompleted: 20}
	if _, err := repo.UpsertBySource(ctx, row); err != nil {
		t.Fatalf("UpsertBySource() error = %v", err)
	}
	row.Position = 2
	if _, err := repo.UpsertBySource(ctx, row); err != nil {
		t.Fatalf("UpsertBySource() repeat error = %v", err)
	}
	if repo.Size() != 1 {
		t.Fatalf("expected one row, got %d", repo.Size())
	}
}
