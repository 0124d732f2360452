package handler

import (
	"net/http"
)

// ConnectionChecker reports whether a dependency is reachable.
type ConnectionChecker interface {
	IsConnected() bool
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	journal ConnectionChecker
}

// NewHealthHandler creates a new health handler. journal may be nil when
// journaling is disabled.
func NewHealthHandler(journal ConnectionChecker) *HealthHandler {
	return &HealthHandler{
		journal: journal,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.journal != nil && !h.journal.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "NATS not connected",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
