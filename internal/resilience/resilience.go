// Package resilience holds the backoff and error classification shared by
// the store connect loop and the HTTP client.
package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	// DefaultBase is used when a caller passes a non-positive base delay.
	DefaultBase = 100 * time.Millisecond
	// MaxDelay caps the un-jittered interval.
	MaxDelay = 30 * time.Second
	// Jitter spreads each wait over [1-Jitter, 1+Jitter] of the interval.
	Jitter = 0.5
)

// transientPatterns match errors that drivers and net/http wrap beyond the
// reach of errors.As.
var transientPatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"temporary failure",
	"i/o timeout",
	"server selection",
	"the database system is starting up",
}

// NewBackOff returns a fresh exponential schedule: intervals start at base,
// double each call, stop growing at MaxDelay and are jittered by Jitter.
// One schedule serves one retry loop.
func NewBackOff(base time.Duration) backoff.BackOff {
	if base <= 0 {
		base = DefaultBase
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 2
	b.RandomizationFactor = Jitter
	b.MaxInterval = MaxDelay
	b.Reset()
	return b
}

// IsTransient reports whether err is a network failure worth another try.
// Context cancellation and deadlines are never transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTimeout || dnsErr.IsTemporary
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial", "read", "write":
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
