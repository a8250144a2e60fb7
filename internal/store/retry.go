package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dicetables-db/internal/resilience"
)

// retryPolicy bounds how hard Open tries to reach a network backend.
type retryPolicy struct {
	retries int
	base    time.Duration
}

// connectWithRetry runs connect up to retries+1 times, backing off between
// attempts. Only transient network errors are retried; ctx bounds the whole
// loop.
func connectWithRetry[T any](
	ctx context.Context,
	logger *zap.Logger,
	backend string,
	policy retryPolicy,
	connect func(ctx context.Context) (T, error),
) (T, error) {
	var (
		zero    T
		lastErr error
	)
	maxAttempts := max(policy.retries+1, 1)
	schedule := resilience.NewBackOff(policy.base)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		start := time.Now()
		conn, err := connect(ctx)
		logger.Debug("store connect",
			zap.String("backend", backend),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", maxAttempts),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		if err == nil {
			return conn, nil
		}
		if !resilience.IsTransient(err) {
			return zero, err
		}
		lastErr = err

		if attempt == maxAttempts-1 {
			break
		}

		backoff := schedule.NextBackOff()
		logger.Info("store unreachable, backing off",
			zap.String("backend", backend),
			zap.Duration("backoff", backoff),
			zap.Int("next_attempt", attempt+2),
			zap.Error(err),
		)
		if err := resilience.Sleep(ctx, backoff); err != nil {
			return zero, err
		}
	}

	logger.Warn("store connect exhausted all retries",
		zap.String("backend", backend),
		zap.Int("attempts", maxAttempts),
		zap.Error(lastErr),
	)
	return zero, fmt.Errorf("store: connect to %s failed after %d attempts: %w", backend, maxAttempts, lastErr)
}
