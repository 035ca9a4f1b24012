package observability

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kjstillabower/meteo-pwa/internal/traffic"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight.
	HTTPRequestsInFlight prometheus.Gauge

	// Open-Meteo call rate per endpoint (geocoding, forecast). Watch for: error vs success ratio.
	WeatherAPICallsTotal *prometheus.CounterVec

	// Open-Meteo latency per request.
	WeatherAPIDuration *prometheus.HistogramVec

	// Retry attempts for Open-Meteo calls. Watch for: high retries = unstable upstream.
	WeatherAPIRetriesTotal prometheus.Counter

	// Worker fetch decisions. outcome: cache_hit, network, stored, offline_fallback, offline_error, passthrough.
	WorkerFetchTotal *prometheus.CounterVec

	// Worker phase transitions (installing, waiting, active, redundant).
	WorkerTransitionsTotal *prometheus.CounterVec

	// Install-time precache attempts by result.
	CacheInstallTotal *prometheus.CounterVec

	CacheInstallDurationSeconds prometheus.Histogram

	// Stale generations removed on activation. Watch for: steady growth means repeated deployments.
	CacheGenerationsDeletedTotal prometheus.Counter

	// Alert evaluations. result: evaluated, duplicate_forecast, empty_forecast.
	NotificationChecksTotal *prometheus.CounterVec

	NotificationsDispatchedTotal *prometheus.CounterVec

	// Alerts that held but were inside their cooldown.
	NotificationsSuppressedTotal *prometheus.CounterVec

	NotificationDeliveryErrorsTotal *prometheus.CounterVec

	// Total weather lookups.
	WeatherQueriesTotal prometheus.Counter

	// Per-city lookup count (allow-list; others go to "other").
	WeatherQueriesByCityTotal *prometheus.CounterVec

	// Lookups that joined an in-flight request for the same city instead of calling upstream.
	LookupsCoalescedTotal prometheus.Counter

	// Scheduled tracked-city refreshes by result (success, error).
	ScheduledLookupsTotal *prometheus.CounterVec

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	CircuitBreakerState *prometheus.GaugeVec

	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	trackedCitiesMu sync.RWMutex
	trackedCities   map[string]struct{}

	trafficGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	WeatherAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiCallsTotal",
			Help: "Total number of Open-Meteo API calls",
		},
		[]string{"endpoint", "status"},
	)
	WeatherAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weatherApiDurationSeconds",
			Help:    "Open-Meteo API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint", "status"},
	)
	WeatherAPIRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weatherApiRetriesTotal",
			Help: "Total number of retry attempts for Open-Meteo calls",
		},
	)
	WorkerFetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workerFetchTotal",
			Help: "Requests handled by the offline worker by strategy and outcome",
		},
		[]string{"strategy", "outcome"},
	)
	WorkerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workerTransitionsTotal",
			Help: "Worker lifecycle phase transitions",
		},
		[]string{"from", "to"},
	)
	CacheInstallTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheInstallTotal",
			Help: "Precache installs by result",
		},
		[]string{"result"},
	)
	CacheInstallDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheInstallDurationSeconds",
			Help:    "Time to fetch and store the precache manifest",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)
	CacheGenerationsDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheGenerationsDeletedTotal",
			Help: "Cache generations deleted during activation",
		},
	)
	NotificationChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notificationChecksTotal",
			Help: "Forecast alert checks by result",
		},
		[]string{"result"},
	)
	NotificationsDispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notificationsDispatchedTotal",
			Help: "Alerts delivered by kind and channel",
		},
		[]string{"kind", "channel"},
	)
	NotificationsSuppressedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notificationsSuppressedTotal",
			Help: "Alerts whose condition held but were still in cooldown",
		},
		[]string{"kind"},
	)
	NotificationDeliveryErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notificationDeliveryErrorsTotal",
			Help: "Notification delivery failures by channel",
		},
		[]string{"channel"},
	)
	WeatherQueriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weatherQueriesTotal",
			Help: "Total number of weather lookups",
		},
	)
	WeatherQueriesByCityTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherQueriesByCityTotal",
			Help: "Weather lookups by city (allow-list; others use city=other)",
		},
		[]string{"city"},
	)
	LookupsCoalescedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lookupsCoalescedTotal",
			Help: "Lookups served by joining an in-flight request",
		},
	)
	ScheduledLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduledLookupsTotal",
			Help: "Scheduled tracked-city lookups by result",
		},
		[]string{"result"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half_open)",
		},
		[]string{"component"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		WeatherAPICallsTotal, WeatherAPIDuration, WeatherAPIRetriesTotal,
		WorkerFetchTotal, WorkerTransitionsTotal,
		CacheInstallTotal, CacheInstallDurationSeconds, CacheGenerationsDeletedTotal,
		NotificationChecksTotal, NotificationsDispatchedTotal, NotificationsSuppressedTotal,
		NotificationDeliveryErrorsTotal,
		WeatherQueriesTotal, WeatherQueriesByCityTotal,
		LookupsCoalescedTotal, ScheduledLookupsTotal,
		RateLimitDeniedTotal,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
	)
}

// RegisterTrafficGauges registers sliding-window gauges backed by the traffic tracker.
// Call from main after config load; window matches the offline health check.
func RegisterTrafficGauges(window time.Duration) {
	trafficGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "networkFailuresInWindow",
					Help: "Upstream network failures seen by the worker in the sliding window",
				},
				func() float64 {
					failures, _ := traffic.ErrorRate(window)
					return float64(failures)
				},
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in sliding window; are we rejecting requests",
				},
				func() float64 { return float64(traffic.DenialCount(window)) },
			),
		)
	})
}

// RecordCircuitBreakerTransition records a breaker state change for component.
func RecordCircuitBreakerTransition(component, from, to string, toValue int) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
	CircuitBreakerState.WithLabelValues(component).Set(float64(toValue))
}

// SetTrackedCities sets the allow-list for city metrics. Non-tracked cities increment "other".
func SetTrackedCities(cities []string) {
	trackedCitiesMu.Lock()
	defer trackedCitiesMu.Unlock()
	trackedCities = make(map[string]struct{}, len(cities))
	for _, c := range cities {
		trackedCities[normalizeCityForMetrics(c)] = struct{}{}
	}
}

// RecordWeatherQuery records a weather lookup for the given city.
func RecordWeatherQuery(city string) {
	WeatherQueriesTotal.Inc()
	WeatherQueriesByCityTotal.WithLabelValues(MetricCityLabel(city)).Inc()
}

// MetricCityLabel returns the normalized city if tracked, otherwise "other".
func MetricCityLabel(city string) string {
	c := normalizeCityForMetrics(city)
	trackedCitiesMu.RLock()
	_, ok := trackedCities[c] // nil map read is safe in Go
	trackedCitiesMu.RUnlock()
	if ok {
		return c
	}
	return "other"
}

func normalizeCityForMetrics(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
