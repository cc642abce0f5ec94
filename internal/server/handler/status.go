package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/mockexchange/internal/live"
)

// StatsSource reports the live controller's counters.
type StatsSource interface {
	Stats() live.Stats
}

// StatusHandler serves the backend status for the terminal.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	live      StatsSource
}

// NewStatusHandler creates a StatusHandler. src is nil in server mode.
func NewStatusHandler(mode string, startedAt time.Time, src StatsSource) *StatusHandler {
	return &StatusHandler{mode: mode, startedAt: startedAt, live: src}
}

// GetStatus responds with the run mode, uptime and live book counters.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	}
	if h.live != nil {
		body["book"] = h.live.Stats()
	}
	writeJSON(w, http.StatusOK, body)
}
