package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/lapforge/ingest/internal/timing"
)

const namespaceLen = 12

// UploadNamespace derives a deterministic identifier for a payload that
// carries no provider-assigned ids. Precedence: explicit override, content
// hash, file name+size+modified timestamp, upload timestamp. The same
// upload always yields the same namespace, so re-imports stay idempotent.
func UploadNamespace(meta timing.UploadMeta) string {
	if ns := strings.TrimSpace(meta.NamespaceOverride); ns != "" {
		return sanitizeSlug(ns)
	}

	var seed string
	switch {
	case meta.ContentHash != "":
		seed = "hash:" + meta.ContentHash
	case meta.FileName != "" && meta.ModifiedAt != nil:
		seed = fmt.Sprintf("file:%s:%d:%d", meta.FileName, meta.FileSize, meta.ModifiedAt.UTC().Unix())
	case meta.FileName != "":
		seed = fmt.Sprintf("file:%s:%d", meta.FileName, meta.FileSize)
	case meta.UploadedAt != nil:
		seed = "uploaded:" + strconv.FormatInt(meta.UploadedAt.UTC().Unix(), 10)
	default:
		seed = "upload"
	}

	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])[:namespaceLen]
}

// ParseRaceResultPayload maps a race-result document that may lack
// provider identifiers (e.g. a user-uploaded file). Missing event/class/
// race ids are reported and replaced with stable slugs synthesized from
// the upload namespace so the import can proceed.
func ParseRaceResultPayload(raw map[string]any, meta timing.UploadMeta) (timing.RaceResultRecord, timing.MissingIdentifiers) {
	missing := timing.MissingIdentifiers{}

	eventSlug, ok := stringField(raw, []string{"event_id", "eventId", "event_slug", "eventSlug"})
	if !ok {
		missing.EventID = true
	}
	classSlug, ok := stringField(raw, []string{"class_id", "classId", "class_slug", "classSlug"})
	if !ok {
		missing.ClassID = true
	}
	raceSlug, ok := stringField(raw, []string{"race_id", "raceId", "race_slug", "raceSlug"})
	if !ok {
		missing.RaceID = true
	}

	if missing.EventID || missing.ClassID || missing.RaceID {
		ns := UploadNamespace(meta)
		if missing.EventID {
			eventSlug = "upload-" + ns
		}
		if missing.ClassID {
			classSlug = "class-" + ns
		}
		if missing.RaceID {
			raceSlug = "race-" + ns
		}
	}

	roundSlug, ok := stringField(raw, []string{"round_id", "roundId", "round_slug", "roundSlug"})
	if !ok {
		roundSlug = "round-1"
	}

	rec := MapRaceResultResponse(raw, Context{
		Provider:  "upload",
		EventSlug: eventSlug,
		ClassSlug: classSlug,
		RoundSlug: roundSlug,
		RaceSlug:  raceSlug,
	})
	return rec, missing
}

func sanitizeSlug(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		case r == ' ' || r == '_':
			b.WriteByte('-')
		}
	}
	return b.String()
}
