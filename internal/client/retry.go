package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"dicetables-db/internal/resilience"
)

// doWithRetry sends a request built by do up to MaxRetries+1 times. Failed
// attempts are retried when the network error is transient or the status
// passes shouldRetryStatus; a Retry-After header replaces the backoff.
func (c *Client) doWithRetry(
	ctx context.Context,
	body []byte,
	do func(ctx context.Context, body []byte) (*http.Response, error),
) (*http.Response, error) {
	var lastErr error
	maxAttempts := max(c.cfg.MaxRetries+1, 1)
	schedule := resilience.NewBackOff(c.cfg.BaseBackoff)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start := time.Now()
		resp, err := do(ctx, body)
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		c.logger.Debug("server request",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", maxAttempts),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)

		var wait time.Duration
		switch {
		case err != nil:
			if !resilience.IsTransient(err) {
				return nil, err
			}
			lastErr = err
		case !shouldRetryStatus(status):
			return resp, nil
		default:
			lastErr = fmt.Errorf("server status %d", status)
			wait = parseRetryAfter(resp)
			// drain so the connection can be reused
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
			resp.Body.Close()
		}

		if attempt == maxAttempts-1 {
			break
		}
		if wait > 0 {
			c.logger.Info("honoring Retry-After header", zap.Duration("wait", wait), zap.Int("status", status))
		} else {
			wait = schedule.NextBackOff()
		}
		if err := resilience.Sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	c.logger.Warn("server request exhausted all retries",
		zap.Int("attempts", maxAttempts),
		zap.Error(lastErr),
	)
	if lastErr == nil {
		lastErr = errors.New("unknown server error")
	}
	return nil, fmt.Errorf("dicetables: max retries (%d) exceeded: %w", maxAttempts, lastErr)
}

// shouldRetryStatus reports whether a response status is worth another try.
// 504 is left alone: the server already spent its whole request budget.
func shouldRetryStatus(status int) bool {
	switch {
	case status == 0:
		return true
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		return true
	case status == http.StatusGatewayTimeout, status == http.StatusNotImplemented:
		return false
	case status >= 500 && status <= 599:
		return true
	default:
		return false
	}
}

// parseRetryAfter reads a Retry-After header given in seconds or as an HTTP
// date, capped at five minutes. Returns 0 if missing or invalid.
func parseRetryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	retryAfter := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if retryAfter == "" {
		return 0
	}

	const maxRetryAfter = 5 * time.Minute
	if seconds, err := strconv.Atoi(retryAfter); err == nil {
		if seconds <= 0 {
			return 0
		}
		return min(time.Duration(seconds)*time.Second, maxRetryAfter)
	}
	if t, err := http.ParseTime(retryAfter); err == nil {
		if d := time.Until(t); d > 0 {
			return min(d, maxRetryAfter)
		}
	}
	return 0
}
