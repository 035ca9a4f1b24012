//go:build integration
// +build integration

package testhelpers

import (
	"os"
	"testing"
)

// RedisAddr returns the redis address for integration tests (REDIS_ADDR, default localhost:6379).
func RedisAddr() string {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		return addr
	}
	return "localhost:6379"
}

// MemcachedAddr returns the memcached address list for integration tests
// (MEMCACHED_ADDRS, default localhost:11211).
func MemcachedAddr() string {
	if addr := os.Getenv("MEMCACHED_ADDRS"); addr != "" {
		return addr
	}
	return "localhost:11211"
}

// RequireLiveAPI skips the test unless METEO_LIVE_API=1, and returns the
// geocoding and forecast URLs to use.
func RequireLiveAPI(t *testing.T) (geocodingURL, forecastURL string) {
	t.Helper()
	if os.Getenv("METEO_LIVE_API") != "1" {
		t.Skip("METEO_LIVE_API not set, skipping live Open-Meteo test")
	}
	geocodingURL = os.Getenv("GEOCODING_URL")
	if geocodingURL == "" {
		geocodingURL = "https://geocoding-api.open-meteo.com/v1/search"
	}
	forecastURL = os.Getenv("FORECAST_URL")
	if forecastURL == "" {
		forecastURL = "https://api.open-meteo.com/v1/forecast"
	}
	return geocodingURL, forecastURL
}
