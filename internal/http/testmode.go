package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/kjstillabower/meteo-pwa/internal/traffic"
)

func (h *Handler) offlineWindow() time.Duration {
	if hc := h.deps.HealthConfig; hc != nil && hc.OfflineWindow > 0 {
		return hc.OfflineWindow
	}
	return time.Minute
}

// GetTestStatus handles GET /test. Returns the simulated state feeding /health.
func (h *Handler) GetTestStatus(w http.ResponseWriter, r *http.Request) {
	window := h.offlineWindow()
	failures, total := traffic.ErrorRate(window)
	resp := map[string]interface{}{
		"state":                      h.computeHealthStatus().status,
		"requests_in_window":         traffic.RequestCount(window),
		"fetches_in_window":          total,
		"network_failures_in_window": failures,
		"denied_requests_in_window":  traffic.DenialCount(window),
		"window_length":              window.String(),
	}
	writeJSON(w, http.StatusOK, resp)
}

// PostTestAction handles POST /test/{action} for offline, reset, shutdown and release.
func (h *Handler) PostTestAction(w http.ResponseWriter, r *http.Request) {
	action := mux.Vars(r)["action"]
	switch action {
	case "offline":
		h.postTestOffline(w, r)
	case "reset":
		traffic.Reset()
		h.SetShuttingDown(false)
		h.writeTestResult(w, action, "All simulated state cleared")
	case "shutdown":
		h.SetShuttingDown(true)
		h.writeTestResult(w, action, "Shutting-down flag set")
	case "release":
		if err := h.deps.Registration.Release(r.Context()); err != nil {
			writeError(w, r, http.StatusInternalServerError, "RELEASE_FAILED", err.Error())
			return
		}
		h.writeTestResult(w, action, "Clients released; waiting worker activated")
	default:
		writeError(w, r, http.StatusNotFound, "UNKNOWN_ACTION", "unknown test action: "+action)
	}
}

// postTestOffline records count network failures so the health check reports offline.
func (h *Handler) postTestOffline(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Count <= 0 {
		body.Count = 10
	}
	for i := 0; i < body.Count; i++ {
		traffic.RecordError()
	}
	h.writeTestResult(w, "offline", "Recorded "+strconv.Itoa(body.Count)+" network failures")
}

func (h *Handler) writeTestResult(w http.ResponseWriter, action, msg string) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"action":  action,
		"message": msg,
		"state":   h.computeHealthStatus().status,
	})
}
