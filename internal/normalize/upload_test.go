package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lapforge/ingest/internal/timing"
)

func TestUploadNamespace_Deterministic(t *testing.T) {
	t.Parallel()

	modified := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	meta := timing.UploadMeta{FileName: "heat3.json", FileSize: 2048, ModifiedAt: &modified}

	first := UploadNamespace(meta)
	second := UploadNamespace(meta)
	require.Equal(t, first, second)
	require.Len(t, first, 12)

	other := meta
	other.FileSize = 4096
	require.NotEqual(t, first, UploadNamespace(other))
}

func TestUploadNamespace_Precedence(t *testing.T) {
	t.Parallel()

	modified := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	meta := timing.UploadMeta{
		NamespaceOverride: "Club Finals 26",
		ContentHash:       "abc123",
		FileName:          "x.json",
		ModifiedAt:        &modified,
	}
	require.Equal(t, "club-finals-26", UploadNamespace(meta))

	meta.NamespaceOverride = ""
	withHash := UploadNamespace(meta)
	meta.ContentHash = ""
	withFile := UploadNamespace(meta)
	require.NotEqual(t, withHash, withFile)
}

func TestParseRaceResultPayload_SynthesizesMissingIdentifiers(t *testing.T) {
	t.Parallel()

	raw := map[string]any{
		"laps": []any{
			map[string]any{
				"entry_id": "e1", "driver_name": "Alice",
				"lap_number": float64(1), "lap_time_seconds": 30.5,
			},
		},
	}
	meta := timing.UploadMeta{ContentHash: "deadbeef"}

	rec, missing := ParseRaceResultPayload(raw, meta)
	require.True(t, missing.EventID)
	require.True(t, missing.ClassID)
	require.True(t, missing.RaceID)

	ns := UploadNamespace(meta)
	require.Equal(t, "upload-"+ns, rec.EventSlug)
	require.Equal(t, "class-"+ns, rec.ClassSlug)
	require.Equal(t, "round-1", rec.RoundSlug)
	require.Equal(t, "race-"+ns, rec.RaceSlug)
	require.Len(t, rec.Laps, 1)

	// a second parse of the same payload resolves to the same slugs
	again, _ := ParseRaceResultPayload(raw, meta)
	require.Equal(t, rec.EventSlug, again.EventSlug)
	require.Equal(t, rec.SessionID, again.SessionID)
}

func TestParseRaceResultPayload_KeepsProviderIdentifiers(t *testing.T) {
	t.Parallel()

	raw := map[string]any{
		"event_id": "spring-gp",
		"class_id": "stock",
		"race_id":  "a-main",
	}
	rec, missing := ParseRaceResultPayload(raw, timing.UploadMeta{})
	require.False(t, missing.EventID)
	require.False(t, missing.ClassID)
	require.False(t, missing.RaceID)
	require.Equal(t, "spring-gp", rec.EventSlug)
	require.Equal(t, "a-main", rec.SessionID)
}
