// Package retry holds the backoff rules shared by the ERCOT API client and the archive lister.
package retry

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Policy describes how many attempts a request gets and how long to wait between them.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRequestPolicy mirrors the downloader defaults: six attempts, 1.5s linear base.
func DefaultRequestPolicy() Policy {
	return Policy{MaxAttempts: 6, BaseDelay: 1500 * time.Millisecond}
}

// ShouldRetry decides whether a transport error on the given 1-based attempt is worth another try.
func (p Policy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.MaxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// Linear returns BaseDelay*attempt, raised to retryAfter when the server asked for longer.
func (p Policy) Linear(attempt int, retryAfter time.Duration) time.Duration {
	delay := p.BaseDelay * time.Duration(attempt)
	return p.cap(max(delay, retryAfter))
}

// Exponential returns BaseDelay*2^attempt, raised to retryAfter when the server asked for longer.
func (p Policy) Exponential(attempt int, retryAfter time.Duration) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(math.MaxInt64) {
		delay = float64(math.MaxInt64)
	}
	return p.cap(max(time.Duration(delay), retryAfter))
}

func (p Policy) cap(d time.Duration) time.Duration {
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// RetryableStatus reports whether an HTTP status is a transient server-side condition.
func RetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// ParseRetryAfter reads a Retry-After header as fractional seconds.
// Missing, malformed or negative values yield zero.
func ParseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(secs) || math.IsInf(secs, 0) || secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}
