package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/lapforge/ingest/internal/timing"
)

const (
	defaultJobLimit = 50
	maxJobLimit     = 500
)

// listJobs handles GET /v1/jobs?state=&limit=&offset=. It returns a JSON
// object {"jobs": [...]} on success, 400 for invalid filters, or 500 if
// the repository call fails.
func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultJobLimit, maxJobLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stateParam := strings.TrimSpace(r.URL.Query().Get("state"))
	var state *timing.JobState
	if stateParam != "" {
		stateVal, parseErr := parseJobState(stateParam)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		state = &stateVal
	}
	jobs, err := s.jobs.ListJobs(r.Context(), state, limit, offset)
	if err != nil {
		s.logger.Error("list jobs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []timing.ImportJob{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseJobState(input string) (timing.JobState, error) {
	switch strings.ToUpper(input) {
	case string(timing.JobStateQueued):
		return timing.JobStateQueued, nil
	case string(timing.JobStateRunning):
		return timing.JobStateRunning, nil
	case string(timing.JobStateSucceeded):
		return timing.JobStateSucceeded, nil
	case string(timing.JobStateFailed):
		return timing.JobStateFailed, nil
	default:
		return "", errors.New("invalid state")
	}
}
