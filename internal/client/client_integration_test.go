//go:build integration
// +build integration

package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kjstillabower/meteo-pwa/internal/testhelpers"
)

func liveClient(t *testing.T) *OpenMeteoClient {
	t.Helper()
	geo, forecast := testhelpers.RequireLiveAPI(t)
	c, err := NewOpenMeteoClient(Config{GeocodingURL: geo, ForecastURL: forecast, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewOpenMeteoClient() error = %v", err)
	}
	return c
}

func TestOpenMeteoClient_Lookup_Integration(t *testing.T) {
	c := liveClient(t)
	ctx := context.Background()

	loc, err := c.Geocode(ctx, "Paris")
	if err != nil {
		t.Fatalf("Geocode() error = %v", err)
	}
	if loc.Latitude == 0 || loc.Longitude == 0 {
		t.Fatalf("Geocode() returned no coordinates: %+v", loc)
	}

	fc, err := c.Forecast(ctx, loc)
	if err != nil {
		t.Fatalf("Forecast() error = %v", err)
	}
	if got := len(fc.Hourly.Samples(0)); got != 24 {
		t.Errorf("hourly samples = %d, want 24", got)
	}
}

func TestOpenMeteoClient_UnknownCity_Integration(t *testing.T) {
	c := liveClient(t)
	_, err := c.Geocode(context.Background(), "Zzzxqqvillenexistepas")
	if !errors.Is(err, ErrCityNotFound) {
		t.Errorf("Geocode() error = %v, want ErrCityNotFound", err)
	}
}
