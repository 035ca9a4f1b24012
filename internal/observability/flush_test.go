package observability

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestFlushTelemetry_ClosesBackends(t *testing.T) {
	var closed []string
	closers := map[string]io.Closer{
		"redis":     closerFunc(func() error { closed = append(closed, "redis"); return nil }),
		"memcached": closerFunc(func() error { closed = append(closed, "memcached"); return errors.New("boom") }),
		"nil":       nil,
	}

	err := FlushTelemetry(context.Background(), nil, closers)
	if len(closed) != 2 {
		t.Errorf("closed %v, want both backends closed", closed)
	}
	if err == nil || !strings.Contains(err.Error(), "close memcached: boom") {
		t.Errorf("FlushTelemetry() error = %v, want close memcached error", err)
	}
}

func TestFlushTelemetry_NoBackends(t *testing.T) {
	if err := FlushTelemetry(context.Background(), nil, nil); err != nil {
		t.Errorf("FlushTelemetry() error = %v, want nil", err)
	}
}
