// Package normalize converts loosely-typed scraped payloads into canonical
// records. The provider has shipped several generations of field naming;
// every field is resolved through an ordered list of known key aliases, and
// rows missing required fields are dropped rather than failing the batch.
// All functions here are pure: no I/O, no clock, no logging.
package normalize

import (
	"strconv"
	"strings"
	"time"

	"github.com/lapforge/ingest/internal/timing"
)

// Context carries the slugs and provider name the caller resolved from the
// document URL, used to fill gaps in the payload itself.
type Context struct {
	Provider  string
	EventSlug string
	ClassSlug string
	RoundSlug string
	RaceSlug  string
}

// Ordered key aliases per field, newest spelling first.
var (
	entriesKeys     = []string{"entries", "entry_list", "entryList", "drivers"}
	entryIDKeys     = []string{"entry_id", "entryId", "entryID", "id"}
	displayNameKeys = []string{"display_name", "displayName", "driver_name", "driverName", "name"}
	driverIDKeys    = []string{"driver_id", "driverId", "user_id", "userId"}
	carNumberKeys   = []string{"car_number", "carNumber", "car_no", "number"}
	transponderKeys = []string{"transponder_id", "transponderId", "transponder"}

	eventNameKeys = []string{"event_name", "eventName", "event_title", "eventTitle"}
	classNameKeys = []string{"class_name", "className", "class"}

	sessionIDKeys   = []string{"race_id", "raceId", "session_id", "sessionId"}
	sessionNameKeys = []string{"race_name", "raceName", "session_name", "sessionName", "title"}
	startTimeKeys   = []string{"start_time", "startTime", "scheduled_start", "scheduledStart"}

	resultsKeys   = []string{"results", "result_rows", "resultRows", "standings"}
	positionKeys  = []string{"position", "pos", "rank", "finish_position"}
	lapsCountKeys = []string{"laps_completed", "lapsCompleted", "laps", "lap_count"}
	totalTimeKeys = []string{"total_time_seconds", "totalTimeSeconds", "total_time", "totalTime"}
	bestLapKeys   = []string{"best_lap_seconds", "bestLapSeconds", "best_lap", "bestLap", "fast_lap"}
	avgLapKeys    = []string{"average_lap_seconds", "averageLapSeconds", "average_lap", "avg_lap"}

	lapsKeys      = []string{"laps", "lap_data", "lapData", "lap_times"}
	lapNumberKeys = []string{"lap_number", "lapNumber", "lap_num", "lap"}
	lapTimeKeys   = []string{"lap_time_seconds", "lapTimeSeconds", "lap_time", "lapTime", "seconds"}

	penaltiesKeys      = []string{"penalties", "penalty_data", "penaltyData"}
	penaltySecondsKeys = []string{"penalty_seconds", "penaltySeconds", "seconds"}
	penaltyReasonKeys  = []string{"reason", "description", "note"}
)

// MapEntryListResponse maps a scraped entry-list payload. Entries missing
// an entry id or display name are dropped from the result.
func MapEntryListResponse(raw map[string]any, ctx Context) []timing.EntryRecord {
	rows := listField(raw, entriesKeys)
	out := make([]timing.EntryRecord, 0, len(rows))
	for _, row := range rows {
		entryID, okID := stringField(row, entryIDKeys)
		name, okName := stringField(row, displayNameKeys)
		if !okID || !okName {
			continue
		}
		driverID, _ := stringField(row, driverIDKeys)
		carNumber, _ := stringField(row, carNumberKeys)
		transponder, _ := stringField(row, transponderKeys)
		out = append(out, timing.EntryRecord{
			EntryID:     entryID,
			DisplayName: strings.TrimSpace(name),
			DriverID:    driverID,
			CarNumber:   carNumber,
			Transponder: transponder,
		})
	}
	return out
}

// MapRaceResultResponse maps a scraped race-result document. Laps missing
// any required field are dropped and counted in LapsDropped; the caller
// reports them as skipped.
func MapRaceResultResponse(raw map[string]any, ctx Context) timing.RaceResultRecord {
	rec := timing.RaceResultRecord{
		EventSlug: ctx.EventSlug,
		ClassSlug: ctx.ClassSlug,
		RoundSlug: ctx.RoundSlug,
		RaceSlug:  ctx.RaceSlug,
	}

	if name, ok := stringField(raw, eventNameKeys); ok {
		rec.EventName = name
	} else {
		rec.EventName = ctx.EventSlug
	}
	if name, ok := stringField(raw, classNameKeys); ok {
		rec.ClassName = name
	} else {
		rec.ClassName = ctx.ClassSlug
	}

	if id, ok := stringField(raw, sessionIDKeys); ok {
		rec.SessionID = id
	} else {
		rec.SessionID = strings.Join([]string{ctx.EventSlug, ctx.ClassSlug, ctx.RoundSlug, ctx.RaceSlug}, "/")
	}
	if name, ok := stringField(raw, sessionNameKeys); ok {
		rec.SessionName = name
	} else {
		rec.SessionName = ctx.RaceSlug
	}
	rec.StartTime = timeField(raw, startTimeKeys)

	for _, row := range listField(raw, resultsKeys) {
		entryID, okID := stringField(row, entryIDKeys)
		name, okName := stringField(row, displayNameKeys)
		if !okID || !okName {
			continue
		}
		driverID, _ := stringField(row, driverIDKeys)
		position, _ := intField(row, positionKeys)
		lapsCompleted, _ := intField(row, lapsCountKeys)
		totalTime, _ := floatField(row, totalTimeKeys)
		bestLap, _ := floatField(row, bestLapKeys)
		avgLap, _ := floatField(row, avgLapKeys)
		rec.Results = append(rec.Results, timing.ResultRecord{
			EntryID:           entryID,
			DriverName:        strings.TrimSpace(name),
			DriverID:          driverID,
			Position:          position,
			LapsCompleted:     lapsCompleted,
			TotalTimeSeconds:  totalTime,
			BestLapSeconds:    bestLap,
			AverageLapSeconds: avgLap,
		})
	}

	penalties := mapPenalties(raw)
	rec.Penalties = penalties

	for _, row := range listField(raw, lapsKeys) {
		entryID, okID := stringField(row, entryIDKeys)
		name, okName := stringField(row, displayNameKeys)
		lapNumber, okNum := intField(row, lapNumberKeys)
		lapTime, okTime := floatField(row, lapTimeKeys)
		if !okID || !okName || !okNum || !okTime {
			rec.LapsDropped++
			continue
		}
		lap := timing.LapRecord{
			EntryID:        entryID,
			DriverName:     strings.TrimSpace(name),
			LapNumber:      lapNumber,
			LapTimeSeconds: lapTime,
		}
		for _, p := range penalties {
			if p.EntryID == entryID {
				lap.PenaltySeconds += p.Seconds
			}
		}
		rec.Laps = append(rec.Laps, lap)
	}

	return rec
}

func mapPenalties(raw map[string]any) []timing.PenaltyRecord {
	rows := listField(raw, penaltiesKeys)
	out := make([]timing.PenaltyRecord, 0, len(rows))
	for _, row := range rows {
		entryID, ok := stringField(row, entryIDKeys)
		if !ok {
			continue
		}
		seconds, ok := floatField(row, penaltySecondsKeys)
		if !ok {
			continue
		}
		reason, _ := stringField(row, penaltyReasonKeys)
		out = append(out, timing.PenaltyRecord{EntryID: entryID, Seconds: seconds, Reason: reason})
	}
	return out
}

// --- tolerant accessors ---

func lookup(raw map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func stringField(raw map[string]any, keys []string) (string, bool) {
	v, ok := lookup(raw, keys)
	if !ok {
		return "", false
	}
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		return s, s != ""
	case float64:
		// JSON numbers used as ids decode as float64.
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10), true
		}
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	}
	return "", false
}

func floatField(raw map[string]any, keys []string) (float64, bool) {
	v, ok := lookup(raw, keys)
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func intField(raw map[string]any, keys []string) (int, bool) {
	f, ok := floatField(raw, keys)
	if !ok || f != float64(int64(f)) {
		return 0, false
	}
	return int(f), true
}

func timeField(raw map[string]any, keys []string) *time.Time {
	v, ok := lookup(raw, keys)
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
			if ts, err := time.Parse(layout, strings.TrimSpace(t)); err == nil {
				ts = ts.UTC()
				return &ts
			}
		}
	case float64:
		ts := time.Unix(int64(t), 0).UTC()
		return &ts
	}
	return nil
}

func listField(raw map[string]any, keys []string) []map[string]any {
	v, ok := lookup(raw, keys)
	if !ok {
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
