package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/meteo-pwa/internal/config"
	httphandler "github.com/kjstillabower/meteo-pwa/internal/http"
	"github.com/kjstillabower/meteo-pwa/internal/observability"
	"github.com/kjstillabower/meteo-pwa/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP service",
	Long:  `Installs the offline worker, serves the app and weather API through it and re-evaluates alerts for tracked cities on a schedule.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := observability.NewLogger()
		if err != nil {
			return fmt.Errorf("logger: %w", err)
		}
		cfg, err := config.Load()
		if err != nil {
			logger.Error("config", zap.Error(err))
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// serve runs the service until ctx is done or the listener fails, then shuts down
// gracefully: stop accepting, drain in-flight requests, stop the scheduler and
// pending alert checks, close backends.
func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup", zap.Error(err))
		return err
	}

	observability.RegisterTrafficGauges(cfg.OfflineWindow)
	if len(cfg.TrackedCities) > 0 {
		observability.SetTrackedCities(cfg.TrackedCities)
	}

	sched, err := scheduler.New(scheduler.Config{
		Spec:       cfg.Schedule,
		Cities:     cfg.TrackedCities,
		Looker:     a.weather,
		JobTimeout: cfg.RequestTimeout,
		Logger:     observability.Named(logger, "scheduler"),
	})
	if err != nil {
		_ = a.close(context.Background(), logger)
		return err
	}

	healthConfig := &httphandler.HealthConfig{
		OfflineWindow:       cfg.OfflineWindow,
		OfflineThresholdPct: cfg.OfflineThresholdPct,
		CachePing:           a.cachePing,
		StatePing:           a.statePing,
	}
	handler := httphandler.NewHandler(httphandler.Deps{
		Weather:      a.weather,
		Registration: a.registration,
		Generations:  a.generations,
		Tray:         a.tray,
		Permissions:  a.permissions,
		Alerts:       a.engine,
		AssetOrigin:  a.worker.Origin(),
		HealthConfig: healthConfig,
		Logger:       logger,
	})

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		Limiter:        limiter,
		RequestTimeout: cfg.RequestTimeout,
		TestingMode:    cfg.TestingMode,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("worker_version", a.worker.Version()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	sched.Start()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("graceful shutdown triggered")
	case err := <-serveErr:
		logger.Error("server", zap.Error(err))
		runErr = err
	}

	handler.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Warn("scheduler stop", zap.Error(err))
	}
	logger.Info("shutdown complete")
	if err := a.close(shutdownCtx, logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	return runErr
}
