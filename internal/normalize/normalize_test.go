package normalize

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, payload string) map[string]any {
	t.Helper()
	var raw map[string]any
	require.NoError(t, json.Unmarshal([]byte(payload), &raw))
	return raw
}

func TestMapEntryListResponse_AliasSpellings(t *testing.T) {
	t.Parallel()

	// Three generations of the entry-list format in one document.
	raw := decode(t, `{
		"entry_list": [
			{"entry_id": "e1", "display_name": "Alice Fast", "driver_id": 42, "car_number": "7"},
			{"entryId": "e2", "driverName": "Bob Quick", "transponder": "TX-9"},
			{"id": 3, "name": "Cara Swift"}
		]
	}`)

	entries := MapEntryListResponse(raw, Context{Provider: "liveres"})
	require.Len(t, entries, 3)
	require.Equal(t, "e1", entries[0].EntryID)
	require.Equal(t, "Alice Fast", entries[0].DisplayName)
	require.Equal(t, "42", entries[0].DriverID)
	require.Equal(t, "TX-9", entries[1].Transponder)
	require.Equal(t, "3", entries[2].EntryID)
}

func TestMapEntryListResponse_DropsIncompleteEntries(t *testing.T) {
	t.Parallel()

	raw := decode(t, `{
		"entries": [
			{"entry_id": "e1"},
			{"display_name": "No Id"},
			{"entry_id": "e2", "display_name": "  Kept Driver  "}
		]
	}`)

	entries := MapEntryListResponse(raw, Context{})
	require.Len(t, entries, 1)
	require.Equal(t, "Kept Driver", entries[0].DisplayName)
}

func TestMapRaceResultResponse(t *testing.T) {
	t.Parallel()

	raw := decode(t, `{
		"race_id": "r-100",
		"race_name": "A Main",
		"start_time": "2026-04-12T14:30:00Z",
		"results": [
			{"entry_id": "e1", "driver_name": "Alice", "position": 1, "laps_completed": 2,
			 "total_time_seconds": 61.2, "best_lap_seconds": 30.1, "average_lap_seconds": 30.6}
		],
		"laps": [
			{"entry_id": "e1", "driver_name": "Alice", "lap_number": 1, "lap_time_seconds": 31.1},
			{"entryId": "e1", "driverName": "Alice", "lap_num": 2, "lap_time": "30.1"},
			{"entry_id": "e1", "driver_name": "Alice", "lap_number": 3}
		],
		"penalties": [
			{"entry_id": "e1", "penalty_seconds": 5, "reason": "corner cut"}
		]
	}`)

	rec := MapRaceResultResponse(raw, Context{
		EventSlug: "spring-gp", ClassSlug: "stock", RoundSlug: "round2", RaceSlug: "a-main",
	})

	require.Equal(t, "r-100", rec.SessionID)
	require.Equal(t, "A Main", rec.SessionName)
	require.NotNil(t, rec.StartTime)
	require.Len(t, rec.Results, 1)
	require.Equal(t, 1, rec.Results[0].Position)

	// lap 3 is missing its time and must be dropped, not fatal
	require.Len(t, rec.Laps, 2)
	require.Equal(t, 1, rec.LapsDropped)
	require.InDelta(t, 30.1, rec.Laps[1].LapTimeSeconds, 0.0001)
	require.InDelta(t, 5, rec.Laps[0].PenaltySeconds, 0.0001)

	require.Len(t, rec.Penalties, 1)
	require.Equal(t, "corner cut", rec.Penalties[0].Reason)
}

func TestMapRaceResultResponse_SessionIDFallsBackToSlugs(t *testing.T) {
	t.Parallel()

	rec := MapRaceResultResponse(map[string]any{}, Context{
		EventSlug: "e", ClassSlug: "c", RoundSlug: "r", RaceSlug: "race",
	})
	require.Equal(t, "e/c/r/race", rec.SessionID)
	require.Equal(t, "race", rec.SessionName)
	require.Nil(t, rec.StartTime)
}

func TestMapRaceResultResponse_LapMissingEachRequiredField(t *testing.T) {
	t.Parallel()

	base := map[string]any{
		"entry_id": "e1", "driver_name": "Alice", "lap_number": float64(1), "lap_time_seconds": 30.5,
	}
	for _, missing := range []string{"entry_id", "driver_name", "lap_number", "lap_time_seconds"} {
		row := map[string]any{}
		for k, v := range base {
			if k != missing {
				row[k] = v
			}
		}
		rec := MapRaceResultResponse(map[string]any{"laps": []any{row}}, Context{})
		require.Empty(t, rec.Laps, "lap missing %s should be dropped", missing)
		require.Equal(t, 1, rec.LapsDropped)
	}
}

func TestMapRaceResultResponse_UnixStartTime(t *testing.T) {
	t.Parallel()

	rec := MapRaceResultResponse(map[string]any{"startTime": float64(1_760_000_000)}, Context{RaceSlug: "x"})
	require.NotNil(t, rec.StartTime)
	require.Equal(t, int64(1_760_000_000), rec.StartTime.Unix())
}
