package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/kjstillabower/meteo-pwa/internal/models"
	"github.com/kjstillabower/meteo-pwa/internal/observability"
)

// DefaultSpec refreshes tracked cities every 15 minutes.
const DefaultSpec = "*/15 * * * *"

// Looker runs a city lookup; a successful lookup re-evaluates alerts for that city.
type Looker interface {
	Lookup(ctx context.Context, query string) (models.Report, error)
}

// Config configures a Scheduler.
type Config struct {
	Spec       string
	Cities     []string
	Looker     Looker
	JobTimeout time.Duration
	Logger     *zap.Logger
}

// Scheduler periodically looks up the tracked cities so alerts are re-evaluated
// without a user query. Overlapping runs are skipped.
type Scheduler struct {
	cron       *cron.Cron
	spec       string
	cities     []string
	looker     Looker
	jobTimeout time.Duration
	logger     *zap.Logger
}

func New(cfg Config) (*Scheduler, error) {
	if cfg.Looker == nil {
		return nil, errors.New("scheduler: looker is required")
	}
	if cfg.Spec == "" {
		cfg.Spec = DefaultSpec
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	cl := cronLogger{sugar: cfg.Logger.Sugar()}
	s := &Scheduler{
		cron:       cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		spec:       cfg.Spec,
		cities:     append([]string(nil), cfg.Cities...),
		looker:     cfg.Looker,
		jobTimeout: cfg.JobTimeout,
		logger:     cfg.Logger,
	}
	if _, err := s.cron.AddFunc(s.spec, func() { s.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("scheduler: parse spec %q: %w", s.spec, err)
	}
	return s, nil
}

// Start runs the cron loop in the background. Without tracked cities it does nothing.
func (s *Scheduler) Start() {
	if len(s.cities) == 0 {
		s.logger.Info("no tracked cities, scheduler idle")
		return
	}
	s.cron.Start()
	s.logger.Info("scheduler started", zap.String("spec", s.spec), zap.Strings("cities", s.cities))
}

// Stop halts the cron loop and waits for a running job, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce looks up every tracked city, each under its own timeout. Failures are logged
// and counted; one city failing does not stop the others.
func (s *Scheduler) RunOnce(ctx context.Context) (failed int) {
	for _, city := range s.cities {
		if ctx.Err() != nil {
			return failed
		}
		jobCtx, cancel := context.WithTimeout(ctx, s.jobTimeout)
		report, err := s.looker.Lookup(jobCtx, city)
		cancel()
		if err != nil {
			failed++
			observability.ScheduledLookupsTotal.WithLabelValues("error").Inc()
			s.logger.Warn("scheduled lookup failed", zap.String("city", city), zap.Error(err))
			continue
		}
		observability.ScheduledLookupsTotal.WithLabelValues("success").Inc()
		s.logger.Debug("scheduled lookup done", zap.String("city", report.Location.Name))
	}
	return failed
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
