package handler

import (
	"net/http"
	"time"
)

// StatusHandler serves the backend status (mode, pause state, uptime) for the
// dashboard.
type StatusHandler struct {
	Mode      string
	StartedAt time.Time
	paused    func() bool
}

// NewStatusHandler creates a StatusHandler. The paused callback reports the
// live pause state of the arbitration core; it may be nil.
func NewStatusHandler(mode string, startedAt time.Time, paused func() bool) *StatusHandler {
	return &StatusHandler{Mode: mode, StartedAt: startedAt, paused: paused}
}

// GetStatus responds with the current backend mode, pause state and uptime.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	paused := false
	if h.paused != nil {
		paused = h.paused()
	}

	uptime := int64(time.Since(h.StartedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"service":        "arbiterd",
		"mode":           h.Mode,
		"paused":         paused,
		"uptime_seconds": uptime,
	})
}
