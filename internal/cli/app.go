package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/meteo-pwa/internal/cache"
	"github.com/kjstillabower/meteo-pwa/internal/circuitbreaker"
	"github.com/kjstillabower/meteo-pwa/internal/client"
	"github.com/kjstillabower/meteo-pwa/internal/config"
	"github.com/kjstillabower/meteo-pwa/internal/delivery"
	"github.com/kjstillabower/meteo-pwa/internal/notify"
	"github.com/kjstillabower/meteo-pwa/internal/observability"
	"github.com/kjstillabower/meteo-pwa/internal/service"
	"github.com/kjstillabower/meteo-pwa/internal/worker"
)

const storePingTimeout = 5 * time.Second

// app holds the wired components of a running service.
type app struct {
	generations  cache.GenerationStore
	registration *worker.Registration
	worker       *worker.Worker
	tray         *delivery.Tray
	permissions  *delivery.Permissions
	engine       *notify.Engine
	weather      *service.WeatherService
	cachePing    func(ctx context.Context) error
	statePing    func(ctx context.Context) error
	closers      map[string]io.Closer
}

// buildApp wires stores, the worker and its registration, delivery, the alert engine
// and the lookup service. A worker that fails to install is logged; the service then
// runs uncontrolled until a later registration succeeds.
func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{closers: make(map[string]io.Closer)}

	switch cfg.CacheBackend {
	case "redis":
		rs := cache.NewRedisStore(cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB), cfg.RedisKeyPrefix)
		pingCtx, cancel := context.WithTimeout(ctx, storePingTimeout)
		err := rs.Ping(pingCtx)
		cancel()
		if err != nil {
			_ = rs.Close()
			return nil, fmt.Errorf("redis generation store: %w", err)
		}
		a.generations = rs
		a.cachePing = rs.Ping
		a.closers["redis"] = rs
		logger.Info("generation store: redis", zap.String("addr", cfg.RedisAddr))
	default:
		a.generations = cache.NewInMemoryStore()
		logger.Info("generation store: in_memory")
	}

	var breaker *circuitbreaker.CircuitBreaker
	if cfg.CircuitBreakerEnabled {
		breaker = circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreakerFailureThreshold,
			SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
			Timeout:          cfg.CircuitBreakerTimeout,
			OnStateChange: func(from, to circuitbreaker.State) {
				observability.RecordCircuitBreakerTransition("weather_api", from.String(), to.String(), int(to))
				logger.Warn("circuit breaker transition", zap.String("from", from.String()), zap.String("to", to.String()))
			},
		})
		observability.CircuitBreakerState.WithLabelValues("weather_api").Set(0)
		logger.Info("circuit breaker enabled", zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold), zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	a.tray = delivery.NewTray(nil)
	var display delivery.Display = a.tray
	if cfg.WebhookURL != "" {
		display = delivery.Fanout{a.tray, delivery.NewWebhook(cfg.WebhookURL, cfg.WebhookAPIKey, cfg.WebhookTimeout)}
		logger.Info("webhook display enabled", zap.String("url", cfg.WebhookURL))
	}

	workerLogger := observability.Named(logger, "worker")
	a.registration = worker.NewRegistration(cfg.WorkerSkipWaitingOnInstall, workerLogger)
	w, err := worker.New(worker.Options{
		Version:   cfg.WorkerVersion,
		ScriptURL: cfg.WorkerScriptURL,
		DataHosts: cfg.WorkerDataHosts,
		Manifest:  cfg.WorkerManifest,
		Network:   &http.Client{Timeout: cfg.WeatherAPITimeout},
		Store:     a.generations,
		Breaker:   breaker,
		Display:   display,
		Logger:    workerLogger,
	})
	if err != nil {
		a.closeStores(logger)
		return nil, fmt.Errorf("worker: %w", err)
	}
	a.worker = w
	installCtx, cancel := context.WithTimeout(ctx, cfg.WorkerInstallTimeout)
	if err := a.registration.Register(installCtx, w); err != nil {
		logger.Warn("worker registration failed; serving uncontrolled", zap.String("version", w.Version()), zap.Error(err))
	}
	cancel()

	perm, err := delivery.ParsePermission(cfg.NotifyPermission)
	if err != nil {
		a.closeStores(logger)
		return nil, err
	}
	a.permissions = delivery.NewPermissions(perm)
	selector := delivery.NewSelector(a.permissions, a.registration, display, cfg.ControllerWait, observability.Named(logger, "delivery"))

	store, closer, ping := newStateStore(cfg, logger)
	if closer != nil {
		a.closers[cfg.NotifyStore] = closer
	}
	a.statePing = ping
	a.engine = notify.NewEngine(notify.Config{
		Store:      store,
		Dispatcher: selector,
		BasePath:   w.BasePath(),
		Logger:     observability.Named(logger, "notify"),
	})

	weatherClient, err := newClient(cfg, &worker.Transport{Registration: a.registration})
	if err != nil {
		a.closeStores(logger)
		return nil, err
	}
	a.weather = service.NewWeatherService(service.Config{
		Client:          weatherClient,
		Alerts:          a.engine,
		DebounceDelay:   cfg.DebounceDelay,
		CoalesceTimeout: cfg.CoalesceTimeout,
		Logger:          observability.Named(logger, "service"),
	})
	return a, nil
}

// close stops pending alert checks, then closes the external stores and flushes logs.
func (a *app) close(ctx context.Context, logger *zap.Logger) error {
	a.weather.Close()
	return observability.FlushTelemetry(ctx, logger, a.closers)
}

func (a *app) closeStores(logger *zap.Logger) {
	for name, c := range a.closers {
		if err := c.Close(); err != nil {
			logger.Error("close backend", zap.String("backend", name), zap.Error(err))
		}
	}
}

// newStateStore returns the notification state store named by cfg, with its closer
// and health probe when the store is external.
func newStateStore(cfg *config.Config, logger *zap.Logger) (notify.Store, io.Closer, func(ctx context.Context) error) {
	switch cfg.NotifyStore {
	case "memcached":
		mc := notify.NewMemcachedStore(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		logger.Info("notification store: memcached", zap.String("addrs", cfg.MemcachedAddrs))
		return mc, mc, func(context.Context) error { return mc.Ping() }
	case "file":
		logger.Info("notification store: file", zap.String("path", cfg.NotifyFilePath))
		return notify.NewFileStore(cfg.NotifyFilePath), nil, nil
	default:
		logger.Info("notification store: in_memory")
		return notify.NewMemoryStore(), nil, nil
	}
}

// newClient builds the Open-Meteo client. transport may be nil for direct access.
func newClient(cfg *config.Config, transport http.RoundTripper) (*client.OpenMeteoClient, error) {
	c, err := client.NewOpenMeteoClient(client.Config{
		GeocodingURL:   cfg.GeocodingURL,
		ForecastURL:    cfg.ForecastURL,
		Language:       cfg.WeatherLanguage,
		Timeout:        cfg.WeatherAPITimeout,
		RetryAttempts:  cfg.RetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
		HTTPClient:     &http.Client{Timeout: cfg.WeatherAPITimeout, Transport: transport},
	})
	if err != nil {
		return nil, fmt.Errorf("weather client: %w", err)
	}
	return c, nil
}
