package service

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/meteo-pwa/internal/models"
	"github.com/kjstillabower/meteo-pwa/internal/observability"
)

// call is one upstream lookup that several requests may be waiting for.
type call struct {
	done   chan struct{}
	report models.Report
	err    error
}

// requestCoalescer shares one upstream lookup between concurrent requests for the same city.
type requestCoalescer struct {
	mu       sync.Mutex
	inFlight map[string]*call
	timeout  time.Duration
}

func newRequestCoalescer(timeout time.Duration) *requestCoalescer {
	return &requestCoalescer{
		inFlight: make(map[string]*call),
		timeout:  timeout,
	}
}

// GetOrDo joins the in-flight lookup for key, or starts fn when there is none.
// fn runs on its own goroutine so a caller giving up does not abort the lookup for
// the others. Waiting is bounded by ctx and the coalescer timeout.
func (rc *requestCoalescer) GetOrDo(ctx context.Context, key string, fn func() (models.Report, error)) (models.Report, error) {
	rc.mu.Lock()
	c, joined := rc.inFlight[key]
	if !joined {
		c = &call{done: make(chan struct{})}
		rc.inFlight[key] = c
		go rc.run(key, c, fn)
	}
	rc.mu.Unlock()

	if joined {
		observability.LookupsCoalescedTotal.Inc()
	}

	waitCtx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()
	select {
	case <-c.done:
		if c.err != nil {
			return models.Report{}, c.err
		}
		return c.report, nil
	case <-waitCtx.Done():
		return models.Report{}, waitCtx.Err()
	}
}

func (rc *requestCoalescer) run(key string, c *call, fn func() (models.Report, error)) {
	c.report, c.err = fn()

	rc.mu.Lock()
	delete(rc.inFlight, key)
	rc.mu.Unlock()
	close(c.done)
}
