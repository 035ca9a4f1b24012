package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kjstillabower/meteo-pwa/internal/models"
	"github.com/kjstillabower/meteo-pwa/internal/observability"
	"github.com/kjstillabower/meteo-pwa/internal/worker"
)

// WeatherClient resolves city names and fetches forecasts.
type WeatherClient interface {
	Geocode(ctx context.Context, query string) (models.Location, error)
	Forecast(ctx context.Context, loc models.Location) (models.Forecast, error)
}

var (
	ErrCityNotFound     = errors.New("city not found")
	ErrOffline          = errors.New("no network connection")
	ErrUpstreamFailure  = errors.New("upstream failure")
	ErrRateLimited      = errors.New("rate limited")
	// ErrUnexpectedStatus covers non-2xx responses that retrying will not fix.
	ErrUnexpectedStatus = errors.New("unexpected upstream status")
)

// CityNotFoundError carries the query that matched no location. It matches ErrCityNotFound.
type CityNotFoundError struct {
	Query string
}

func (e *CityNotFoundError) Error() string {
	return fmt.Sprintf("Ville \"%s\" non trouvée. Vérifiez l'orthographe.", e.Query)
}

func (e *CityNotFoundError) Unwrap() error { return ErrCityNotFound }

const (
	endpointGeocoding = "geocoding"
	endpointForecast  = "forecast"
)

// Config configures an OpenMeteoClient.
type Config struct {
	GeocodingURL   string
	ForecastURL    string
	Language       string
	Timeout        time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	// HTTPClient is used for every call; route it through the worker transport to get
	// offline responses. Defaults to a plain client with Timeout.
	HTTPClient *http.Client
}

// OpenMeteoClient talks to the Open-Meteo geocoding and forecast APIs.
type OpenMeteoClient struct {
	geocodingURL   *url.URL
	forecastURL    *url.URL
	language       string
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
}

func NewOpenMeteoClient(cfg Config) (*OpenMeteoClient, error) {
	geo, err := parseEndpoint(cfg.GeocodingURL)
	if err != nil {
		return nil, fmt.Errorf("geocoding url: %w", err)
	}
	fc, err := parseEndpoint(cfg.ForecastURL)
	if err != nil {
		return nil, fmt.Errorf("forecast url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 100 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 2 * time.Second
	}
	if cfg.Language == "" {
		cfg.Language = "fr"
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &OpenMeteoClient{
		geocodingURL:   geo,
		forecastURL:    fc,
		language:       cfg.Language,
		timeout:        cfg.Timeout,
		client:         hc,
		retryAttempts:  cfg.RetryAttempts,
		retryBaseDelay: cfg.RetryBaseDelay,
		retryMaxDelay:  cfg.RetryMaxDelay,
	}, nil
}

func parseEndpoint(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%q is not an absolute URL", raw)
	}
	return u, nil
}

type geocodingResponse struct {
	Results []models.Location `json:"results"`
}

// Geocode returns the best match for query. No match is a *CityNotFoundError.
func (c *OpenMeteoClient) Geocode(ctx context.Context, query string) (models.Location, error) {
	params := url.Values{}
	params.Set("name", query)
	params.Set("count", "1")
	params.Set("language", c.language)
	params.Set("format", "json")

	var resp geocodingResponse
	if err := c.getWithRetry(ctx, endpointGeocoding, c.geocodingURL, params, &resp); err != nil {
		return models.Location{}, err
	}
	if len(resp.Results) == 0 {
		return models.Location{}, &CityNotFoundError{Query: query}
	}
	return resp.Results[0], nil
}

// Forecast returns current conditions and today's hourly series for loc.
func (c *OpenMeteoClient) Forecast(ctx context.Context, loc models.Location) (models.Forecast, error) {
	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(loc.Latitude, 'f', -1, 64))
	params.Set("longitude", strconv.FormatFloat(loc.Longitude, 'f', -1, 64))
	params.Set("current", "temperature_2m,relative_humidity_2m,apparent_temperature,weather_code,wind_speed_10m")
	params.Set("hourly", "temperature_2m,weather_code,precipitation_probability")
	params.Set("timezone", "auto")
	params.Set("forecast_days", "1")

	var fc models.Forecast
	if err := c.getWithRetry(ctx, endpointForecast, c.forecastURL, params, &fc); err != nil {
		return models.Forecast{}, err
	}
	return fc, nil
}

func (c *OpenMeteoClient) getWithRetry(ctx context.Context, endpoint string, base *url.URL, params url.Values, out any) error {
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.WeatherAPIRetriesTotal.Inc()
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := c.callAPI(ctx, endpoint, base, params, out)
		if err == nil {
			return nil
		}

		lastErr = err
		if !c.isRetryable(ctx, err) {
			return err
		}
	}

	return fmt.Errorf("exhausted retries: %w", lastErr)
}

func (c *OpenMeteoClient) callAPI(ctx context.Context, endpoint string, base *url.URL, params url.Values, out any) error {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := *base
	u.RawQuery = params.Encode()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if corrID := observability.CorrelationIDFromContext(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.WeatherAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
		observability.WeatherAPIDuration.WithLabelValues(endpoint, "error").Observe(duration)

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("request timeout: %w", err)
		}
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp)
	observability.WeatherAPICallsTotal.WithLabelValues(endpoint, status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(endpoint, status).Observe(duration)

	if err := handleErrorResponse(resp); err != nil {
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse %s response: %w", endpoint, err)
	}
	return nil
}

// isRetryable reports whether a failed attempt may be repeated. Offline responses
// and a finished parent context are final.
func (c *OpenMeteoClient) isRetryable(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	if errors.Is(err, ErrOffline) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamFailure) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (c *OpenMeteoClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func handleErrorResponse(resp *http.Response) error {
	if resp.Header.Get(worker.SynthesizedHeader) != "" {
		return ErrOffline
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	return nil
}

func statusLabel(resp *http.Response) string {
	if resp.Header.Get(worker.SynthesizedHeader) != "" {
		return "offline"
	}
	code := resp.StatusCode
	if code >= 200 && code < 300 {
		return "success"
	}
	if code == http.StatusTooManyRequests {
		return "rate_limited"
	}
	if code >= 400 && code < 500 {
		return "client_error"
	}
	if code >= 500 {
		return "server_error"
	}
	return "error"
}
