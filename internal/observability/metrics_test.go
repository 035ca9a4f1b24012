package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// TestMetrics_Usable verifies that label dimensions match their use in the
// client, worker, notify, delivery and http packages.
func TestMetrics_Usable(t *testing.T) {
	HTTPRequestsTotal.WithLabelValues("GET", "/api/weather/{city}", "2xx").Inc()
	HTTPRequestDuration.WithLabelValues("GET", "/api/weather/{city}").Observe(0.01)
	WeatherAPICallsTotal.WithLabelValues("forecast", "success").Inc()
	WeatherAPIDuration.WithLabelValues("geocoding", "error").Observe(0.1)
	WorkerFetchTotal.WithLabelValues("cache_first", "cache_hit").Inc()
	WorkerTransitionsTotal.WithLabelValues("installing", "waiting").Inc()
	CacheInstallTotal.WithLabelValues("success").Inc()
	NotificationChecksTotal.WithLabelValues("evaluated").Inc()
	NotificationsDispatchedTotal.WithLabelValues("rain", "background").Inc()
	NotificationsSuppressedTotal.WithLabelValues("temperature").Inc()
	NotificationDeliveryErrorsTotal.WithLabelValues("direct").Inc()
	ScheduledLookupsTotal.WithLabelValues("success").Inc()
	RecordCircuitBreakerTransition("weather_api", "closed", "open", 1)
}

func TestSetTrackedCities_and_MetricCityLabel(t *testing.T) {
	SetTrackedCities([]string{"paris", " Lyon "})
	defer SetTrackedCities(nil)

	if got := MetricCityLabel("Paris"); got != "paris" {
		t.Errorf("MetricCityLabel(Paris) = %q, want paris", got)
	}
	if got := MetricCityLabel("lyon"); got != "lyon" {
		t.Errorf("MetricCityLabel(lyon) = %q, want lyon", got)
	}
	if got := MetricCityLabel("Tokyo"); got != "other" {
		t.Errorf("MetricCityLabel(Tokyo) = %q, want other", got)
	}
	RecordWeatherQuery("Paris")
}

func TestMetricsHandler_ServesPrometheusFormat(t *testing.T) {
	RegisterTrafficGauges(time.Minute)
	HTTPRequestsTotal.WithLabelValues("GET", "/health", "2xx").Inc()
	handler := MetricsHandler()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("MetricsHandler status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	for _, name := range []string{"httpRequestsTotal", "networkFailuresInWindow"} {
		if !strings.Contains(body, name) {
			t.Errorf("MetricsHandler response missing %s", name)
		}
	}
}
