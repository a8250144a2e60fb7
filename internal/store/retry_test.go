package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestConnectWithRetryHonorsCancel(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := connectWithRetry(ctx, logger, "test", retryPolicy{retries: 5, base: time.Hour},
		func(context.Context) (int, error) {
			calls++
			cancel()
			return 0, errors.New("dial tcp: connection refused")
		})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestConnectWithRetryRecovers(t *testing.T) {
	logger := zaptest.NewLogger(t)
	calls := 0
	got, err := connectWithRetry(context.Background(), logger, "test", retryPolicy{retries: 3, base: time.Millisecond},
		func(context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", errors.New("dial tcp: connection refused")
			}
			return "connected", nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "connected" || calls != 3 {
		t.Fatalf("got %q after %d calls", got, calls)
	}
}

func TestConnectWithRetryStopsOnPermanentError(t *testing.T) {
	logger := zaptest.NewLogger(t)
	calls := 0
	_, err := connectWithRetry(context.Background(), logger, "test", retryPolicy{retries: 5, base: time.Millisecond},
		func(context.Context) (int, error) {
			calls++
			return 0, ErrIncompatibleSchema
		})
	if !errors.Is(err, ErrIncompatibleSchema) {
		t.Fatalf("expected schema error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestConnectWithRetryExhausts(t *testing.T) {
	logger := zaptest.NewLogger(t)
	calls := 0
	_, err := connectWithRetry(context.Background(), logger, "test", retryPolicy{retries: 2, base: time.Millisecond},
		func(context.Context) (int, error) {
			calls++
			return 0, errors.New("connection reset by peer")
		})
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}
