package handler

import (
	"net/http"
)

// Connectivity reports whether the message bus connection is up.
type Connectivity interface {
	IsConnected() bool
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	bus Connectivity
}

// NewHealthHandler creates a new health handler. A nil bus means the
// in-process bus is used, which is always ready.
func NewHealthHandler(bus Connectivity) *HealthHandler {
	return &HealthHandler{
		bus: bus,
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
	if h.bus != nil && !h.bus.IsConnected() {
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
