package daemon

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"lectern/internal/api"
	"lectern/internal/logs"
	"lectern/internal/services"
)

const (
	defaultLogLines = 100
	maxLogLines     = 2000
	maxLogWait      = 20 * time.Second
	currentLogName  = "lecternd.log"
)

// LogPath returns the pointer to the current daemon log.
func (d *Daemon) LogPath() string {
	return filepath.Join(d.cfg.Paths.LogDir, currentLogName)
}

// handleLogs serves GET /api/logs?offset=&limit=&wait=. offset defaults to
// -1 (the last limit lines); wait turns the request into a long poll.
func (s *apiServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	opts := logs.TailOptions{Offset: -1, Limit: defaultLogLines}

	if raw := strings.TrimSpace(query.Get("offset")); raw != "" {
		offset, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.writeFailure(w, r, services.Wrap(services.ErrValidation, "api", "parse query", "offset must be an integer", err))
			return
		}
		opts.Offset = offset
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 || limit > maxLogLines {
			s.writeFailure(w, r, services.Wrap(services.ErrValidation, "api", "parse query", "limit must be between 0 and "+strconv.Itoa(maxLogLines), err))
			return
		}
		opts.Limit = limit
	}
	if raw := strings.TrimSpace(query.Get("wait")); raw != "" {
		wait, err := time.ParseDuration(raw)
		if err != nil || wait < 0 {
			s.writeFailure(w, r, services.Wrap(services.ErrValidation, "api", "parse query", "wait must be a non-negative duration", err))
			return
		}
		opts.Follow = wait > 0
		opts.Wait = min(wait, maxLogWait)
	}

	result, err := logs.Tail(r.Context(), s.daemon.LogPath(), opts)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.writeFailure(w, r, err)
		return
	}
	lines := result.Lines
	if lines == nil {
		lines = []string{}
	}
	s.writeJSON(w, http.StatusOK, api.LogsResponse{Lines: lines, Offset: result.Offset})
}
