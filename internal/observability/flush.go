package observability

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// FlushTelemetry closes the given backends and flushes log buffers before process exit.
// Close errors are logged and joined into the returned error; logs are synced last.
// Call during graceful shutdown after in-flight requests have drained.
func FlushTelemetry(ctx context.Context, logger *zap.Logger, closers map[string]io.Closer) error {
	var errs []error
	for name, c := range closers {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			if logger != nil {
				logger.Error("close backend", zap.String("backend", name), zap.Error(err))
			}
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	if logger != nil {
		if err := logger.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("flush logs: %w", err))
		}
	}
	return errors.Join(errs...)
}
