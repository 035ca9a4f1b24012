package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// TestInFlightTracker_Drain verifies that WaitForZero returns once the last request
// finishes and fails with the context error while requests remain.
func TestInFlightTracker_Drain(t *testing.T) {
	var tr InFlightTracker
	tr.Increment()
	tr.Increment()
	tr.Decrement()
	if got := tr.Count(); got != 1 {
		t.Fatalf("Count() = %d, want 1", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := tr.WaitForZero(ctx, time.Millisecond); !errors.Is(err, context.Canceled) {
		t.Errorf("WaitForZero with pending request = %v, want context.Canceled", err)
	}

	done := make(chan error, 1)
	go func() { done <- tr.WaitForZero(context.Background(), 2*time.Millisecond) }()
	time.Sleep(5 * time.Millisecond)
	tr.Decrement()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("WaitForZero error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitForZero did not return after drain")
	}
}

// TestMetricsMiddleware_TracksInFlight verifies that a request being served counts
// toward the shutdown drain until its handler returns.
func TestMetricsMiddleware_TracksInFlight(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	h := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		w.WriteHeader(http.StatusNoContent)
	}))

	base := InFlightCount()
	served := make(chan struct{})
	go func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/worker", nil))
		close(served)
	}()
	<-entered
	if got := InFlightCount(); got != base+1 {
		t.Errorf("InFlightCount() during request = %d, want %d", got, base+1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := WaitForInFlight(ctx, time.Millisecond); err == nil {
		t.Error("WaitForInFlight returned nil with a request in flight")
	}

	close(release)
	<-served
	if got := InFlightCount(); got != base {
		t.Errorf("InFlightCount() after request = %d, want %d", got, base)
	}
}
