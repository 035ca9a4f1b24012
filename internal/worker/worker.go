package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/meteo-pwa/internal/cache"
	"github.com/kjstillabower/meteo-pwa/internal/circuitbreaker"
	"github.com/kjstillabower/meteo-pwa/internal/models"
	"github.com/kjstillabower/meteo-pwa/internal/observability"
	"github.com/kjstillabower/meteo-pwa/internal/traffic"
)

// SynthesizedHeader marks responses produced by the worker instead of the network.
const SynthesizedHeader = "X-Meteo-Synthesized"

// Offline bodies served when the network is unreachable.
const (
	OfflineDataMessage  = "Pas de connexion internet"
	OfflineAssetMessage = "Contenu non disponible hors-ligne"
)

// Doer performs network round trips. *http.Client satisfies it. It must not route
// back through a Transport that targets the same worker.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Display shows a notification on behalf of the worker.
type Display interface {
	Show(ctx context.Context, n models.Notification) error
}

// Options configures a Worker.
type Options struct {
	Version   string
	ScriptURL string
	DataHosts []string
	Manifest  []string
	Network   Doer
	Store     cache.GenerationStore
	Breaker   *circuitbreaker.CircuitBreaker // optional, guards data fetches
	Display   Display                        // optional, used for SHOW_NOTIFICATION
	Logger    *zap.Logger
	Now       func() time.Time
}

// Worker is one version of the offline worker. It owns one cache generation named
// by its version and answers intercepted requests once it controls the page.
type Worker struct {
	version   string
	origin    *url.URL
	basePath  string
	dataHosts []string
	manifest  []string
	shellKey  string

	network Doer
	store   cache.GenerationStore
	breaker *circuitbreaker.CircuitBreaker
	display Display
	logger  *zap.Logger
	now     func() time.Time

	mu    sync.Mutex
	phase Phase
}

// New creates a worker in the installing phase.
func New(opts Options) (*Worker, error) {
	if opts.Version == "" {
		return nil, errors.New("worker: version is required")
	}
	if opts.Network == nil || opts.Store == nil {
		return nil, errors.New("worker: network and store are required")
	}
	script, err := url.Parse(opts.ScriptURL)
	if err != nil || script.Scheme == "" || script.Host == "" {
		return nil, fmt.Errorf("worker: script url %q is not absolute", opts.ScriptURL)
	}
	base, err := BasePath(opts.ScriptURL)
	if err != nil {
		return nil, err
	}
	manifest, err := ResolveManifest(opts.ScriptURL, opts.Manifest)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	origin := &url.URL{Scheme: script.Scheme, Host: script.Host}
	return &Worker{
		version:   opts.Version,
		origin:    origin,
		basePath:  base,
		dataHosts: append([]string(nil), opts.DataHosts...),
		manifest:  manifest,
		shellKey:  CacheKey(&url.URL{Scheme: origin.Scheme, Host: origin.Host, Path: base + "index.html"}),
		network:   opts.Network,
		store:     opts.Store,
		breaker:   opts.Breaker,
		display:   opts.Display,
		logger:    logger.With(zap.String("worker_version", opts.Version)),
		now:       now,
		phase:     PhaseInstalling,
	}, nil
}

func (w *Worker) Version() string  { return w.version }
func (w *Worker) BasePath() string { return w.basePath }

// Origin returns the scheme and host the worker was registered from.
func (w *Worker) Origin() *url.URL {
	u := *w.origin
	return &u
}

// Manifest returns the resolved precache URLs.
func (w *Worker) Manifest() []string {
	return append([]string(nil), w.manifest...)
}

func (w *Worker) Phase() Phase {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.phase
}

func (w *Worker) apply(e Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	next, err := Transition(w.phase, e)
	if err != nil {
		return err
	}
	if next != w.phase {
		observability.WorkerTransitionsTotal.WithLabelValues(string(w.phase), string(next)).Inc()
		w.logger.Info("worker phase changed", zap.String("from", string(w.phase)), zap.String("to", string(next)))
	}
	w.phase = next
	return nil
}

// Install precaches the manifest into the worker's generation. On failure nothing is
// written, the worker becomes redundant and the error is returned.
func (w *Worker) Install(ctx context.Context) error {
	if p := w.Phase(); p != PhaseInstalling {
		return fmt.Errorf("%w: install in %s", ErrInvalidTransition, p)
	}
	warmer := cache.NewWarmer(w, w.store, w.logger)
	if err := warmer.Warm(ctx, w.version, w.manifest); err != nil {
		w.logger.Error("worker install failed", zap.Error(err))
		_ = w.apply(EventInstallFailed)
		return fmt.Errorf("install %s: %w", w.version, err)
	}
	return w.apply(EventInstalled)
}

// Activate deletes every generation not named by this worker's version and moves the
// worker to active. Calling it again on an active worker repeats the cleanup only.
func (w *Worker) Activate(ctx context.Context) error {
	switch p := w.Phase(); p {
	case PhaseWaiting, PhaseActive:
	default:
		return fmt.Errorf("%w: activate in %s", ErrInvalidTransition, p)
	}
	names, err := w.store.Generations(ctx)
	if err != nil {
		return fmt.Errorf("activate %s: list generations: %w", w.version, err)
	}
	for _, name := range names {
		if name == w.version {
			continue
		}
		if err := w.store.Delete(ctx, name); err != nil {
			return fmt.Errorf("activate %s: delete generation %s: %w", w.version, name, err)
		}
		observability.CacheGenerationsDeletedTotal.Inc()
		w.logger.Info("deleted stale cache generation", zap.String("generation", name))
	}
	return w.apply(EventActivated)
}

// markReplaced retires a worker superseded by a newer version.
func (w *Worker) markReplaced() {
	if err := w.apply(EventReplaced); err != nil {
		w.logger.Debug("replace ignored", zap.Error(err))
	}
}

// Fetch implements cache.Fetcher for precaching.
func (w *Worker) Fetch(ctx context.Context, rawURL string) (cache.Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return cache.Entry{}, err
	}
	resp, err := w.network.Do(req)
	if err != nil {
		return cache.Entry{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return cache.Entry{}, fmt.Errorf("read body: %w", err)
	}
	return cache.Entry{
		URL:      rawURL,
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		StoredAt: w.now(),
	}, nil
}

// Handle answers an intercepted request. handled is false for ignored requests,
// which the caller must send to the network itself. A handled request never
// returns a transport error: failures become synthesized responses.
func (w *Worker) Handle(ctx context.Context, req *http.Request) (resp *http.Response, handled bool) {
	strategy := SelectStrategy(Classify(req.Method, req.URL, w.dataHosts))
	switch strategy {
	case StrategyNetworkOnly:
		return w.networkOnly(ctx, req), true
	case StrategyCacheFirst:
		return w.cacheFirst(ctx, req), true
	}
	observability.WorkerFetchTotal.WithLabelValues(strategy.String(), "passthrough").Inc()
	return nil, false
}

func (w *Worker) networkOnly(ctx context.Context, req *http.Request) *http.Response {
	resp, err := w.roundTrip(ctx, req, w.breaker)
	if err != nil {
		observability.WorkerFetchTotal.WithLabelValues(StrategyNetworkOnly.String(), "offline_error").Inc()
		w.logger.Warn("data fetch failed", zap.String("url", req.URL.Redacted()), zap.Error(err))
		return synthesize(req, "application/json", `{"error":"`+OfflineDataMessage+`"}`)
	}
	observability.WorkerFetchTotal.WithLabelValues(StrategyNetworkOnly.String(), "network").Inc()
	return resp
}

func (w *Worker) cacheFirst(ctx context.Context, req *http.Request) *http.Response {
	label := StrategyCacheFirst.String()
	key := CacheKey(req.URL)
	if e, ok := w.lookup(ctx, key); ok {
		observability.WorkerFetchTotal.WithLabelValues(label, "cache_hit").Inc()
		return entryResponse(req, e)
	}

	resp, err := w.roundTrip(ctx, req, nil)
	if err != nil {
		w.logger.Warn("asset fetch failed", zap.String("url", req.URL.Redacted()), zap.Error(err))
		if AcceptsHTML(req.Header.Get("Accept")) {
			if e, ok := w.lookup(ctx, w.shellKey); ok {
				observability.WorkerFetchTotal.WithLabelValues(label, "offline_fallback").Inc()
				return entryResponse(req, e)
			}
		}
		observability.WorkerFetchTotal.WithLabelValues(label, "offline_error").Inc()
		return synthesize(req, "text/plain; charset=utf-8", OfflineAssetMessage)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		observability.WorkerFetchTotal.WithLabelValues(label, "network").Inc()
		return resp
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		w.logger.Warn("asset body read failed", zap.String("url", req.URL.Redacted()), zap.Error(err))
		observability.WorkerFetchTotal.WithLabelValues(label, "offline_error").Inc()
		return synthesize(req, "text/plain; charset=utf-8", OfflineAssetMessage)
	}
	e := cache.Entry{
		URL:      key,
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		StoredAt: w.now(),
	}
	if err := w.store.Put(ctx, w.version, key, e); err != nil {
		w.logger.Warn("asset store failed", zap.String("url", key), zap.Error(err))
		observability.WorkerFetchTotal.WithLabelValues(label, "network").Inc()
	} else {
		observability.WorkerFetchTotal.WithLabelValues(label, "stored").Inc()
	}
	return entryResponse(req, e)
}

func (w *Worker) lookup(ctx context.Context, key string) (cache.Entry, bool) {
	e, ok, err := w.store.Get(ctx, w.version, key)
	if err != nil {
		w.logger.Warn("cache lookup failed", zap.String("url", key), zap.Error(err))
		return cache.Entry{}, false
	}
	return e, ok
}

func (w *Worker) roundTrip(ctx context.Context, req *http.Request, cb *circuitbreaker.CircuitBreaker) (*http.Response, error) {
	out := req.Clone(ctx)
	out.RequestURI = ""
	var resp *http.Response
	do := func() error {
		var err error
		resp, err = w.network.Do(out)
		return err
	}
	var err error
	if cb != nil {
		err = cb.Call(ctx, do)
	} else {
		err = do()
	}
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		traffic.RecordError()
		return nil, err
	}
	traffic.RecordSuccess()
	return resp, nil
}

// ShowNotification handles a SHOW_NOTIFICATION message.
func (w *Worker) ShowNotification(ctx context.Context, m Message) error {
	if w.display == nil {
		return errors.New("worker: no display configured")
	}
	return w.display.Show(ctx, notification(m, w.basePath))
}

func entryResponse(req *http.Request, e cache.Entry) *http.Response {
	h := e.Header.Clone()
	if h == nil {
		h = http.Header{}
	}
	return &http.Response{
		Status:        strconv.Itoa(e.Status) + " " + http.StatusText(e.Status),
		StatusCode:    e.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}

func synthesize(req *http.Request, contentType, body string) *http.Response {
	h := http.Header{}
	h.Set("Content-Type", contentType)
	h.Set(SynthesizedHeader, "1")
	return entryResponse(req, cache.Entry{Status: http.StatusServiceUnavailable, Header: h, Body: []byte(body)})
}
