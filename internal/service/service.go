package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/meteo-pwa/internal/client"
	"github.com/kjstillabower/meteo-pwa/internal/models"
	"github.com/kjstillabower/meteo-pwa/internal/notify"
	"github.com/kjstillabower/meteo-pwa/internal/observability"
	"github.com/kjstillabower/meteo-pwa/internal/validation"
)

// DisplayHours is the number of hourly samples returned in a Report.
const DisplayHours = 12

// AlertChecker runs the notification policy on a forecast window.
type AlertChecker interface {
	Check(ctx context.Context, city string, samples []models.HourlySample) notify.Result
}

// Config configures a WeatherService.
type Config struct {
	Client client.WeatherClient
	// Alerts is optional; without it lookups never trigger alert checks.
	Alerts AlertChecker
	// DebounceDelay postpones the alert check after a lookup. A newer lookup replaces a
	// pending check. Zero runs the check synchronously inside Lookup.
	DebounceDelay   time.Duration
	CoalesceTimeout time.Duration
	Logger          *zap.Logger
}

// WeatherService resolves a free-text city into a Report and feeds the forecast to the
// alert engine.
type WeatherService struct {
	client    client.WeatherClient
	alerts    AlertChecker
	debounce  time.Duration
	coalescer *requestCoalescer // nil if disabled
	logger    *zap.Logger

	mu sync.Mutex
	// pending holds at most one debounced check per city.
	pending map[string]*time.Timer
	closed  bool
	running sync.WaitGroup
}

func NewWeatherService(cfg Config) *WeatherService {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	var coalescer *requestCoalescer
	if cfg.CoalesceTimeout > 0 {
		coalescer = newRequestCoalescer(cfg.CoalesceTimeout)
	}
	return &WeatherService{
		client:    cfg.Client,
		alerts:    cfg.Alerts,
		debounce:  cfg.DebounceDelay,
		coalescer: coalescer,
		logger:    cfg.Logger,
	}
}

// Lookup validates query, geocodes it and fetches today's forecast. On success an alert
// check for the location is scheduled.
func (s *WeatherService) Lookup(ctx context.Context, query string) (models.Report, error) {
	city, err := validation.ValidateCity(query, validation.MinCityLen, validation.MaxCityLen)
	if err != nil {
		return models.Report{}, err
	}
	key := validation.NormalizeCity(city)
	start := time.Now()
	logger := observability.LoggerFromContext(ctx, s.logger)

	var report models.Report
	if s.coalescer != nil {
		report, err = s.coalescer.GetOrDo(ctx, key, func() (models.Report, error) {
			return s.fetch(context.WithoutCancel(ctx), city)
		})
	} else {
		report, err = s.fetch(ctx, city)
	}
	if err != nil {
		return models.Report{}, err
	}
	observability.RecordWeatherQuery(report.Location.Name)
	logger.Debug("weather served", zap.String("city", report.Location.Name), zap.Duration("duration", time.Since(start)))

	s.scheduleAlertCheck(report.Location.Name, report.Hours)
	return report, nil
}

func (s *WeatherService) fetch(ctx context.Context, city string) (models.Report, error) {
	loc, err := s.client.Geocode(ctx, city)
	if err != nil {
		if errors.Is(err, client.ErrCityNotFound) {
			return models.Report{}, err
		}
		return models.Report{}, fmt.Errorf("geocode %s: %w", city, err)
	}
	fc, err := s.client.Forecast(ctx, loc)
	if err != nil {
		return models.Report{}, fmt.Errorf("forecast for %s: %w", loc.Name, err)
	}
	return models.Report{
		Location: loc,
		Current:  fc.Current,
		Hours:    fc.Hourly.Samples(DisplayHours),
		Forecast: fc,
	}, nil
}

func (s *WeatherService) scheduleAlertCheck(city string, hours []models.HourlySample) {
	if s.alerts == nil {
		return
	}
	samples := hours
	if len(samples) > notify.AlertWindow {
		samples = samples[:notify.AlertWindow]
	}
	samples = append([]models.HourlySample(nil), samples...)

	if s.debounce <= 0 {
		s.runAlertCheck(city, samples)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	key := validation.NormalizeCity(city)
	if t, ok := s.pending[key]; ok && t.Stop() {
		s.running.Done()
		s.logger.Debug("pending alert check superseded", zap.String("city", city))
	}
	if s.pending == nil {
		s.pending = make(map[string]*time.Timer)
	}
	s.running.Add(1)
	var t *time.Timer
	t = time.AfterFunc(s.debounce, func() {
		defer s.running.Done()
		s.mu.Lock()
		if s.pending[key] == t {
			delete(s.pending, key)
		}
		s.mu.Unlock()
		s.runAlertCheck(city, samples)
	})
	s.pending[key] = t
}

func (s *WeatherService) runAlertCheck(city string, samples []models.HourlySample) {
	res := s.alerts.Check(context.Background(), city, samples)
	if len(res.Dispatched) > 0 || len(res.Suppressed) > 0 {
		s.logger.Debug("alert check finished",
			zap.String("city", city),
			zap.Bool("skipped", res.Skipped),
			zap.Int("dispatched", len(res.Dispatched)),
			zap.Int("suppressed", len(res.Suppressed)))
	}
}

// Close cancels pending alert checks and waits for running ones to finish.
func (s *WeatherService) Close() {
	s.mu.Lock()
	s.closed = true
	for _, t := range s.pending {
		if t.Stop() {
			s.running.Done()
		}
	}
	s.pending = nil
	s.mu.Unlock()
	s.running.Wait()
}
