package ingest

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/ragkit/ragkit/internal/ai"
)

// retryWithBackoff retries an operation with exponential backoff, doubling
// baseDelay after every failed attempt. Throttled provider errors wait one
// extra doubling before the next attempt. The error from the last attempt is
// returned when every attempt fails.
func retryWithBackoff(ctx context.Context, operation func() error, maxAttempts int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		lastErr = operation()
		if lastErr == nil {
			if attempt > 1 {
				logutil.GetLogger(ctx).Debug("operation succeeded after retry", zap.Int("attempt", attempt))
			}
			return nil
		}
		if attempt == maxAttempts {
			break
		}

		delay := baseDelay
		for i := 1; i < attempt; i++ {
			delay *= 2
		}
		if ai.IsThrottled(lastErr) {
			delay *= 2
		}
		logutil.GetLogger(ctx).Debug("operation failed, will retry",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Duration("delay", delay),
			zap.Error(lastErr))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}
