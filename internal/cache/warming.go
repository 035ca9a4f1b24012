package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/meteo-pwa/internal/observability"
)

// Fetcher retrieves a response snapshot for an absolute URL.
// Implemented by the worker so the cache package stays free of worker types.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Entry, error)
}

// Warmer precaches a manifest of URLs into a generation.
type Warmer struct {
	fetcher Fetcher
	store   GenerationStore
	logger  *zap.Logger
}

// NewWarmer creates a Warmer that fetches through fetcher and writes to store.
func NewWarmer(fetcher Fetcher, store GenerationStore, logger *zap.Logger) *Warmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Warmer{fetcher: fetcher, store: store, logger: logger}
}

// Warm fetches every URL concurrently and, only if all of them return 2xx, writes
// them to the generation with a single PutAll. Any failure leaves the store untouched
// and returns the aggregated errors.
func (w *Warmer) Warm(ctx context.Context, generation string, urls []string) error {
	start := time.Now()
	w.logger.Info("precaching generation", zap.String("generation", generation), zap.Int("entries", len(urls)))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		entries = make(map[string]Entry, len(urls))
		errs    []error
	)
	for _, u := range urls {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			e, err := w.fetcher.Fetch(ctx, u)
			if err == nil && (e.Status < 200 || e.Status > 299) {
				err = fmt.Errorf("status %d", e.Status)
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("precache %s: %w", u, err))
				return
			}
			entries[u] = e
		}(u)
	}
	wg.Wait()

	duration := time.Since(start).Seconds()
	observability.CacheInstallDurationSeconds.Observe(duration)
	if len(errs) > 0 {
		observability.CacheInstallTotal.WithLabelValues("failure").Inc()
		err := errors.Join(errs...)
		w.logger.Warn("precache failed, generation not written",
			zap.String("generation", generation),
			zap.Int("errors", len(errs)),
			zap.Float64("duration_seconds", duration),
			zap.Error(err))
		return err
	}
	if err := w.store.PutAll(ctx, generation, entries); err != nil {
		observability.CacheInstallTotal.WithLabelValues("failure").Inc()
		return fmt.Errorf("precache write: %w", err)
	}
	observability.CacheInstallTotal.WithLabelValues("success").Inc()
	w.logger.Info("precache complete",
		zap.String("generation", generation),
		zap.Int("entries", len(entries)),
		zap.Float64("duration_seconds", duration))
	return nil
}
