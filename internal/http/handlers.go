package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/meteo-pwa/internal/cache"
	"github.com/kjstillabower/meteo-pwa/internal/client"
	"github.com/kjstillabower/meteo-pwa/internal/delivery"
	"github.com/kjstillabower/meteo-pwa/internal/models"
	"github.com/kjstillabower/meteo-pwa/internal/notify"
	"github.com/kjstillabower/meteo-pwa/internal/observability"
	"github.com/kjstillabower/meteo-pwa/internal/traffic"
	"github.com/kjstillabower/meteo-pwa/internal/validation"
	"github.com/kjstillabower/meteo-pwa/internal/worker"
)

const maxMessageBytes = 64 << 10

// Looker resolves a city query into a weather report.
type Looker interface {
	Lookup(ctx context.Context, query string) (models.Report, error)
}

// AlertState exposes the persisted notification state.
type AlertState interface {
	State(ctx context.Context) notify.State
	Reset(ctx context.Context) error
}

// HealthConfig holds thresholds and dependency probes for the health handler.
type HealthConfig struct {
	OfflineWindow       time.Duration
	OfflineThresholdPct int
	// CachePing and StatePing, when set, probe the generation store and the
	// notification state store.
	CachePing func(ctx context.Context) error
	StatePing func(ctx context.Context) error
}

// Deps are the collaborators of a Handler. Registration and Weather are required.
type Deps struct {
	Weather      Looker
	Registration *worker.Registration
	Generations  cache.GenerationStore
	Tray         *delivery.Tray
	Permissions  *delivery.Permissions
	Alerts       AlertState
	// AssetOrigin is the origin asset requests are resolved against.
	AssetOrigin *url.URL
	// AssetClient fetches assets; its transport should route through the worker.
	AssetClient  *http.Client
	HealthConfig *HealthConfig
	Logger       *zap.Logger
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	deps             Deps
	logger           *zap.Logger
	shuttingDown     atomic.Bool
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(deps Deps) *Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.AssetClient == nil {
		deps.AssetClient = &http.Client{Transport: &worker.Transport{Registration: deps.Registration}}
	}
	return &Handler{deps: deps, logger: deps.Logger}
}

// SetShuttingDown flips the draining flag; /health reports shutting-down while it is set.
func (h *Handler) SetShuttingDown(v bool) {
	h.shuttingDown.Store(v)
}

// IsShuttingDown reports whether the process is draining.
func (h *Handler) IsShuttingDown() bool {
	return h.shuttingDown.Load()
}

// GetWeather handles GET /api/weather/{city}.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	report, err := h.deps.Weather.Lookup(r.Context(), mux.Vars(r)["city"])
	if err != nil {
		writeLookupError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func writeLookupError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, validation.ErrInvalidCity):
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", err.Error())
	case errors.Is(err, client.ErrCityNotFound):
		writeError(w, r, http.StatusNotFound, "CITY_NOT_FOUND", err.Error())
	case errors.Is(err, client.ErrOffline):
		writeError(w, r, http.StatusServiceUnavailable, "OFFLINE", worker.OfflineDataMessage)
	default:
		writeServiceError(w, r, err)
	}
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"network": "healthy"}
	if result.status == "offline" {
		checks["network"] = "unhealthy"
	}
	if hc := h.deps.HealthConfig; hc != nil {
		if hc.CachePing != nil {
			checks["cache"] = probe(r.Context(), hc.CachePing)
		}
		if hc.StatePing != nil {
			checks["notificationState"] = probe(r.Context(), hc.StatePing)
		}
	}
	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "meteo-pwa",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if ctrl := h.deps.Registration.Controller(); ctrl != nil {
		resp["version"] = ctrl.Version()
	}
	writeJSON(w, result.statusCode, resp)
}

func probe(ctx context.Context, ping func(context.Context) error) string {
	if ping(ctx) != nil {
		return "unhealthy"
	}
	return "healthy"
}

// computeHealthStatus evaluates, in order: shutting-down, no controlling worker,
// offline (network failure share above threshold), healthy.
func (h *Handler) computeHealthStatus() healthResult {
	if h.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.deps.Registration.Controller() == nil {
		return healthResult{"starting", http.StatusServiceUnavailable, "no_controller"}
	}
	if hc := h.deps.HealthConfig; hc != nil && hc.OfflineWindow > 0 && hc.OfflineThresholdPct > 0 {
		if traffic.Offline(hc.OfflineWindow, hc.OfflineThresholdPct) {
			return healthResult{"offline", http.StatusServiceUnavailable, "network_failures"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

type workerView struct {
	Version  string   `json:"version"`
	Phase    string   `json:"phase"`
	BasePath string   `json:"basePath"`
	Manifest []string `json:"manifest,omitempty"`
}

func viewOf(w *worker.Worker, withManifest bool) *workerView {
	if w == nil {
		return nil
	}
	v := &workerView{Version: w.Version(), Phase: string(w.Phase()), BasePath: w.BasePath()}
	if withManifest {
		v.Manifest = w.Manifest()
	}
	return v
}

// GetWorker handles GET /api/worker: the registration slots and the stored cache generations.
func (h *Handler) GetWorker(w http.ResponseWriter, r *http.Request) {
	reg := h.deps.Registration
	resp := map[string]interface{}{
		"installing":  viewOf(reg.Installing(), false),
		"waiting":     viewOf(reg.Waiting(), false),
		"active":      viewOf(reg.Active(), true),
		"controller":  viewOf(reg.Controller(), false),
		"generations": []string{},
	}
	if h.deps.Generations != nil {
		gens, err := h.deps.Generations.Generations(r.Context())
		if err != nil {
			observability.LoggerFromContext(r.Context(), h.logger).Warn("list cache generations failed", zap.Error(err))
		} else if gens != nil {
			resp["generations"] = gens
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// PostWorkerMessage handles POST /api/worker/messages.
func (h *Handler) PostWorkerMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBytes))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_MESSAGE", "unreadable body")
		return
	}
	msg, err := worker.ParseMessage(body)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_MESSAGE", err.Error())
		return
	}
	if err := h.deps.Registration.Message(r.Context(), msg); err != nil {
		switch {
		case errors.Is(err, worker.ErrUnknownMessage):
			writeError(w, r, http.StatusBadRequest, "INVALID_MESSAGE", err.Error())
		case errors.Is(err, worker.ErrNoActiveWorker):
			writeError(w, r, http.StatusConflict, "NO_ACTIVE_WORKER", err.Error())
		default:
			observability.LoggerFromContext(r.Context(), h.logger).Warn("worker message failed", zap.String("type", string(msg.Type)), zap.Error(err))
			writeError(w, r, http.StatusInternalServerError, "MESSAGE_FAILED", "message could not be processed")
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"ok": true, "type": msg.Type})
}

// GetNotifications handles GET /api/notifications: permission, displayed notifications and alert state.
func (h *Handler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{}
	if h.deps.Permissions != nil {
		resp["permission"] = h.deps.Permissions.Get()
	}
	if h.deps.Tray != nil {
		resp["displayed"] = h.deps.Tray.List()
	}
	if h.deps.Alerts != nil {
		resp["state"] = h.deps.Alerts.State(r.Context())
	}
	writeJSON(w, http.StatusOK, resp)
}

// DeleteNotifications handles DELETE /api/notifications: clears the displayed notifications.
func (h *Handler) DeleteNotifications(w http.ResponseWriter, r *http.Request) {
	if h.deps.Tray != nil {
		h.deps.Tray.Clear()
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteNotificationState handles DELETE /api/notifications/state: forgets sent alerts.
func (h *Handler) DeleteNotificationState(w http.ResponseWriter, r *http.Request) {
	if h.deps.Alerts == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := h.deps.Alerts.Reset(r.Context()); err != nil {
		observability.LoggerFromContext(r.Context(), h.logger).Warn("reset notification state failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "STATE_RESET_FAILED", "notification state could not be cleared")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PutPermission handles PUT /api/notifications/permission with body {"permission": "granted"}.
func (h *Handler) PutPermission(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Permission string `json:"permission"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxMessageBytes)).Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_PERMISSION", "body must be {\"permission\": \"default|granted|denied\"}")
		return
	}
	p, err := delivery.ParsePermission(body.Permission)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_PERMISSION", err.Error())
		return
	}
	if h.deps.Permissions == nil {
		writeError(w, r, http.StatusNotImplemented, "NOTIFICATIONS_DISABLED", "notifications are not configured")
		return
	}
	h.deps.Permissions.Set(p)
	observability.LoggerFromContext(r.Context(), h.logger).Info("notification permission changed", zap.String("permission", string(p)))
	writeJSON(w, http.StatusOK, map[string]interface{}{"permission": p})
}

// ServeAsset answers any other GET by resolving the path against the asset origin
// and fetching it through the worker, so cached shell assets keep working offline.
func (h *Handler) ServeAsset(w http.ResponseWriter, r *http.Request) {
	if h.deps.AssetOrigin == nil {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "no asset origin configured")
		return
	}
	target := h.deps.AssetOrigin.ResolveReference(&url.URL{Path: r.URL.Path, RawQuery: r.URL.RawQuery})
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target.String(), nil)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_PATH", err.Error())
		return
	}
	if accept := r.Header.Get("Accept"); accept != "" {
		req.Header.Set("Accept", accept)
	}
	if corrID := observability.CorrelationIDFromContext(r.Context()); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := h.deps.AssetClient.Do(req)
	if err != nil {
		traffic.RecordError()
		observability.LoggerFromContext(r.Context(), h.logger).Debug("asset fetch failed", zap.String("url", target.String()), zap.Error(err))
		writeError(w, r, http.StatusBadGateway, "ASSET_UNAVAILABLE", "asset could not be fetched")
		return
	}
	defer resp.Body.Close()

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationIDFromContext(r.Context()),
		},
	})
}

// writeServiceError writes a 503 for upstream failures and logs the cause at DEBUG.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to fetch weather data")
	observability.LoggerFromContext(r.Context(), zap.NewNop()).Debug("upstream error",
		zap.Error(err),
		zap.String("category", string(client.CategorizeError(err))))
}
