package harvest

import (
	"context"
	"time"

	"follow-harvester/internal/types"
)

// retry runs op up to retries+1 times, each attempt under its own timeout.
// The parent context ending stops retrying and returns the context error.
func retry(ctx context.Context, name string, retries int, timeout time.Duration, logger types.Logger, op func(ctx context.Context) error) error {
	var lastErr error
	attempts := 0

	for attempt := 0; attempt <= retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		attempts++

		opCtx, cancel := context.WithTimeout(ctx, timeout)
		err := op(opCtx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = err
		logger.Debugf("%s failed (attempt %d/%d): %v", name, attempt+1, retries+1, err)
	}

	return &TransportFailure{Op: name, Attempts: attempts, Err: lastErr}
}
