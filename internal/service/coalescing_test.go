package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjstillabower/meteo-pwa/internal/models"
)

func parisReport() models.Report {
	return models.Report{Location: models.Location{Name: "Paris"}}
}

// TestRequestCoalescer_GetOrDo_ConcurrentRequests verifies that concurrent lookups of one key share one call.
func TestRequestCoalescer_GetOrDo_ConcurrentRequests(t *testing.T) {
	coalescer := newRequestCoalescer(5 * time.Second)
	var calls atomic.Int32
	release := make(chan struct{})

	fn := func() (models.Report, error) {
		calls.Add(1)
		<-release
		return parisReport(), nil
	}

	var wg sync.WaitGroup
	results := make([]models.Report, 10)
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx], errs[idx] = coalescer.GetOrDo(context.Background(), "paris", fn)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, result := range results {
		if errs[i] != nil {
			t.Errorf("request %d error = %v, want nil", i, errs[i])
		}
		if result.Location.Name != "Paris" {
			t.Errorf("request %d location = %q, want Paris", i, result.Location.Name)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("fn call count = %d, want 1", got)
	}
}

// TestRequestCoalescer_GetOrDo_ErrorPropagation verifies that every waiter receives the shared error.
func TestRequestCoalescer_GetOrDo_ErrorPropagation(t *testing.T) {
	coalescer := newRequestCoalescer(5 * time.Second)
	wantErr := errors.New("api failure")
	release := make(chan struct{})

	fn := func() (models.Report, error) {
		<-release
		return models.Report{}, wantErr
	}

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, errs[idx] = coalescer.GetOrDo(context.Background(), "paris", fn)
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, wantErr) {
			t.Errorf("request %d error = %v, want %v", i, err, wantErr)
		}
	}
}

// TestRequestCoalescer_GetOrDo_Timeout verifies that a caller stops waiting when its context ends.
func TestRequestCoalescer_GetOrDo_Timeout(t *testing.T) {
	coalescer := newRequestCoalescer(100 * time.Millisecond)

	fn := func() (models.Report, error) {
		time.Sleep(200 * time.Millisecond)
		return parisReport(), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := coalescer.GetOrDo(ctx, "paris", fn)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("GetOrDo() error = %v, want context deadline exceeded", err)
	}
}

// TestRequestCoalescer_GetOrDo_DifferentKeys verifies that distinct keys never share a call.
func TestRequestCoalescer_GetOrDo_DifferentKeys(t *testing.T) {
	coalescer := newRequestCoalescer(5 * time.Second)
	var calls atomic.Int32

	fn := func() (models.Report, error) {
		calls.Add(1)
		return parisReport(), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			_, _ = coalescer.GetOrDo(context.Background(), key, fn)
		}("key" + string(rune('a'+i)))
	}
	wg.Wait()

	if got := calls.Load(); got != 5 {
		t.Errorf("fn call count = %d, want 5", got)
	}
}

// TestRequestCoalescer_KeyReleasedAfterCompletion verifies that a finished call does not serve later lookups.
func TestRequestCoalescer_KeyReleasedAfterCompletion(t *testing.T) {
	coalescer := newRequestCoalescer(time.Second)
	var calls atomic.Int32
	fn := func() (models.Report, error) {
		calls.Add(1)
		return parisReport(), nil
	}

	for i := 0; i < 2; i++ {
		if _, err := coalescer.GetOrDo(context.Background(), "paris", fn); err != nil {
			t.Fatalf("GetOrDo() error = %v", err)
		}
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("fn call count = %d, want 2", got)
	}
}
