package handlers

import (
	"net/http"

	"github.com/ubatuba/eventtracker/internal/schema"
)

// Health reports pool reachability and schema state
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	state := h.initializer.State()
	body := map[string]any{
		"status":  "ok",
		"schema":  state.String(),
		"version": h.GetVersionInfo().Version,
	}

	if err := h.pool.Ping(r.Context()); err != nil {
		body["status"] = "unavailable"
		body["error"] = err.Error()
		h.jsonResponse(w, http.StatusServiceUnavailable, body)
		return
	}

	stats := h.pool.Stats()
	body["open_connections"] = stats.OpenConnections
	body["in_use"] = stats.InUse

	if state != schema.Ready {
		body["status"] = "degraded"
		if err := h.initializer.Err(); err != nil {
			body["error"] = err.Error()
		}
		h.jsonResponse(w, http.StatusServiceUnavailable, body)
		return
	}
	h.jsonResponse(w, http.StatusOK, body)
}

// Version returns build information
func (h *Handlers) Version(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, http.StatusOK, h.GetVersionInfo())
}
