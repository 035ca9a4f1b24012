package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/meteo-pwa/internal/delivery"
	"github.com/kjstillabower/meteo-pwa/internal/models"
	"github.com/kjstillabower/meteo-pwa/internal/observability"
)

// Dispatcher delivers a notification and reports the channel used.
// delivery.Selector satisfies it.
type Dispatcher interface {
	Deliver(ctx context.Context, n models.Notification) (delivery.Channel, error)
}

// Decision is the outcome for one alert kind whose condition holds.
type Decision struct {
	Kind         Kind                `json:"kind"`
	Notification models.Notification `json:"notification"`
	// Send is false when an active record suppresses the alert.
	Send bool `json:"send"`
}

// Decide returns a decision for each alert condition that holds in ev, given the
// persisted state. It performs no I/O.
func Decide(state State, ev Evaluation, city string, now time.Time, basePath string) []Decision {
	var out []Decision
	if ev.Rain {
		out = append(out, Decision{
			Kind:         KindRain,
			Notification: RainNotification(city, ev.RainIndex, basePath),
			Send:         !state.Rain.Active(now, city, nil),
		})
	}
	if ev.Temperature {
		maxTemp := ev.MaxTemp
		out = append(out, Decision{
			Kind:         KindTemperature,
			Notification: TemperatureNotification(city, maxTemp, basePath),
			Send:         !state.Temperature.Active(now, city, &maxTemp),
		})
	}
	return out
}

// Result summarises one Check.
type Result struct {
	Evaluation Evaluation `json:"evaluation"`
	// Skipped is set when the same forecast was already evaluated for the city.
	Skipped    bool   `json:"skipped"`
	Dispatched []Kind `json:"dispatched,omitempty"`
	Suppressed []Kind `json:"suppressed,omitempty"`
}

// Config configures an Engine.
type Config struct {
	Store      Store
	Dispatcher Dispatcher
	BasePath   string
	Now        func() time.Time
	Logger     *zap.Logger
}

// Engine evaluates forecasts, deduplicates alerts against the persisted state and
// dispatches them. Checks are serialized.
type Engine struct {
	store      Store
	dispatcher Dispatcher
	basePath   string
	now        func() time.Time
	logger     *zap.Logger

	mu      sync.Mutex
	lastKey string
}

func NewEngine(cfg Config) *Engine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.BasePath == "" {
		cfg.BasePath = "/"
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	return &Engine{
		store:      cfg.Store,
		dispatcher: cfg.Dispatcher,
		basePath:   cfg.BasePath,
		now:        cfg.Now,
		logger:     cfg.Logger,
	}
}

// Check evaluates samples for city and dispatches the alerts that are not suppressed.
// A record is marked sent only when a channel displayed the alert. Delivery and
// storage failures are logged, never returned.
func (e *Engine) Check(ctx context.Context, city string, samples []models.HourlySample) Result {
	if len(samples) == 0 {
		observability.NotificationChecksTotal.WithLabelValues("empty_forecast").Inc()
		return Result{Evaluation: Evaluation{RainIndex: -1}, Skipped: true}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	key := city + "|" + samples[0].Time
	if key == e.lastKey {
		observability.NotificationChecksTotal.WithLabelValues("duplicate_forecast").Inc()
		e.logger.Debug("forecast already evaluated", zap.String("city", city), zap.String("first_hour", samples[0].Time))
		return Result{Evaluation: Evaluate(samples), Skipped: true}
	}
	e.lastKey = key
	observability.NotificationChecksTotal.WithLabelValues("evaluated").Inc()

	ev := Evaluate(samples)
	res := Result{Evaluation: ev}
	if !ev.Rain && !ev.Temperature {
		return res
	}

	state := e.load(ctx)
	now := e.now()
	changed := false
	for _, d := range Decide(state, ev, city, now, e.basePath) {
		if !d.Send {
			observability.NotificationsSuppressedTotal.WithLabelValues(string(d.Kind)).Inc()
			res.Suppressed = append(res.Suppressed, d.Kind)
			continue
		}
		ch, err := e.dispatch(ctx, d.Notification)
		if err != nil {
			e.logger.Warn("notification dispatch failed", zap.String("kind", string(d.Kind)), zap.String("city", city), zap.Error(err))
			continue
		}
		if ch == delivery.ChannelNone {
			continue
		}
		observability.NotificationsDispatchedTotal.WithLabelValues(string(d.Kind), string(ch)).Inc()
		e.logger.Info("notification dispatched", zap.String("kind", string(d.Kind)), zap.String("city", city), zap.String("channel", string(ch)))
		rec := Record{Sent: true, Timestamp: now.UnixMilli(), City: city}
		if d.Kind == KindTemperature {
			maxTemp := ev.MaxTemp
			rec.MaxTemp = &maxTemp
		}
		state.set(d.Kind, rec)
		res.Dispatched = append(res.Dispatched, d.Kind)
		changed = true
	}
	if changed {
		if err := e.store.Save(ctx, state); err != nil {
			e.logger.Warn("save notification state failed", zap.Error(err))
		}
	}
	return res
}

// Preview returns the decisions Check would take for samples, without dispatching,
// mutating state or touching the re-entrancy guard.
func (e *Engine) Preview(ctx context.Context, city string, samples []models.HourlySample) (Evaluation, []Decision) {
	ev := Evaluate(samples)
	if !ev.Rain && !ev.Temperature {
		return ev, nil
	}
	return ev, Decide(e.load(ctx), ev, city, e.now(), e.basePath)
}

// State returns the persisted state; a storage failure yields empty state.
func (e *Engine) State(ctx context.Context) State {
	return e.load(ctx)
}

// Reset clears the persisted records and the re-entrancy guard.
func (e *Engine) Reset(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastKey = ""
	return e.store.Clear(ctx)
}

func (e *Engine) load(ctx context.Context) State {
	s, err := e.store.Load(ctx)
	if err != nil {
		e.logger.Warn("load notification state failed, using empty state", zap.Error(err))
		return State{}
	}
	return s
}

func (e *Engine) dispatch(ctx context.Context, n models.Notification) (delivery.Channel, error) {
	if e.dispatcher == nil {
		return delivery.ChannelNone, nil
	}
	return e.dispatcher.Deliver(ctx, n)
}
