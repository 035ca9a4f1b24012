package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/meteo-pwa/internal/observability"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	// Limiter guards /api/weather; nil disables rate limiting.
	Limiter        *rate.Limiter
	RequestTimeout time.Duration
	// TestingMode exposes /test endpoints that simulate failures.
	TestingMode bool
	Logger      *zap.Logger
}

// NewRouter wires every route of the service onto a gorilla/mux router.
func NewRouter(h *Handler, cfg RouterConfig) *mux.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	weather := api.PathPrefix("/weather").Subrouter()
	weather.Use(RateLimitMiddleware(cfg.Limiter))
	if cfg.RequestTimeout > 0 {
		weather.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}
	weather.HandleFunc("/{city}", h.GetWeather).Methods(http.MethodGet)

	api.HandleFunc("/worker", h.GetWorker).Methods(http.MethodGet)
	api.HandleFunc("/worker/messages", h.PostWorkerMessage).Methods(http.MethodPost)
	api.HandleFunc("/notifications", h.GetNotifications).Methods(http.MethodGet)
	api.HandleFunc("/notifications", h.DeleteNotifications).Methods(http.MethodDelete)
	api.HandleFunc("/notifications/state", h.DeleteNotificationState).Methods(http.MethodDelete)
	api.HandleFunc("/notifications/permission", h.PutPermission).Methods(http.MethodPut)

	if cfg.TestingMode {
		logger.Warn("Testing mode enabled; /test endpoint exposed")
		router.HandleFunc("/test", h.GetTestStatus).Methods(http.MethodGet)
		router.HandleFunc("/test/{action}", h.PostTestAction).Methods(http.MethodPost)
	}

	router.PathPrefix("/").HandlerFunc(h.ServeAsset).Methods(http.MethodGet)
	return router
}
