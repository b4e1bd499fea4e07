package resilience

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"
)

// RetryConfig configures [Retry]'s backoff schedule and transient-error
// classification.
type RetryConfig struct {
	// Name labels log messages.
	Name string

	// MaxRetries is the number of additional attempts made after the first,
	// while errors keep classifying as transient. Total calls to fn are at
	// most MaxRetries+1. Zero means no retries. Callers sourcing this from
	// [internal/config.ResilienceConfig] get spec §4.1's default of 3
	// applied at load time; Retry itself takes the value as given.
	MaxRetries int

	// BaseDelay is the backoff before the first retry; each subsequent
	// retry doubles the previous delay (BaseDelay, 2×BaseDelay,
	// 4×BaseDelay, ...). Default: 1s, giving the 1s/2s/4s schedule spec
	// §4.1 specifies for the Embedder's 3 retries.
	BaseDelay time.Duration

	// IsTransient reports whether err is worth retrying. Defaults to
	// [IsTransientError].
	IsTransient func(error) bool
}

// IsTransientError is the default transient-error classifier used by
// [Retry]: context deadlines, and any error reporting itself as a timeout
// or temporary condition via the standard net.Error interface, are
// retried. Everything else — malformed requests, auth failures, anything
// a provider returns that isn't rate-limiting/timeout/5xx shaped — is
// treated as permanent and surfaces immediately, per spec §4.1.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	var temp interface{ Temporary() bool }
	if errors.As(err, &temp) {
		return temp.Temporary()
	}
	return false
}

// Retry calls fn, retrying up to cfg.MaxRetries additional times while
// cfg.IsTransient(err) holds, sleeping an exponentially increasing delay
// before each retry. It returns immediately — without sleeping or
// retrying — on the first non-transient error, and returns ctx.Err() if
// ctx is cancelled while waiting out a backoff.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	baseDelay := cfg.BaseDelay
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	isTransient := cfg.IsTransient
	if isTransient == nil {
		isTransient = IsTransientError
	}

	delay := baseDelay
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == maxRetries || !isTransient(lastErr) {
			return lastErr
		}

		slog.Warn("retrying after transient error",
			"name", cfg.Name, "attempt", attempt+1, "delay", delay, "error", lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return lastErr
}
