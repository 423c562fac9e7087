package rpc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/goran-ethernal/ContractSync/pkg/config"
)

// transientMarkers are lowercase fragments of error messages worth retrying:
// timeouts, rate limiting, temporary gateway failures and exhausted connection pools.
var transientMarkers = []string{
	"timeout",
	"deadline exceeded",
	"429",
	"too many requests",
	"rate limit",
	"502",
	"503",
	"504",
	"bad gateway",
	"service unavailable",
	"connection pool",
	"no available connection",
}

// retryableError checks if an error should trigger a retry.
func retryableError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}

	return false
}

// errorType classifies err for the error metric label.
func errorType(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "context"
	case retryableError(errors.Unwrap(err)), retryableError(err):
		return "transient"
	default:
		return "permanent"
	}
}

// calculateBackoff computes the backoff duration before the given attempt, with ±25% jitter.
// The first attempt is never delayed.
func calculateBackoff(attempt int, cfg *config.RetryConfig) time.Duration {
	if attempt <= 1 {
		return 0
	}

	backoff := float64(cfg.InitialBackoff.Duration) * math.Pow(cfg.BackoffMultiplier, float64(attempt-2))
	backoff = math.Min(backoff, float64(cfg.MaxBackoff.Duration))

	jitterRange := backoff * 0.25 //nolint:mnd
	backoff += (rand.Float64() * 2 * jitterRange) - jitterRange //nolint:gosec

	return time.Duration(math.Max(backoff, 0))
}

// retryWithBackoff executes fn until it succeeds, fails with a non-retryable error,
// or cfg.MaxAttempts is reached. It respects context cancellation and deadlines.
// A nil cfg executes fn once.
func retryWithBackoff(ctx context.Context, cfg *config.RetryConfig, operation string, fn func() error) error {
	if cfg == nil {
		return fn()
	}

	var lastErr error
	start := time.Now()

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if backoff := calculateBackoff(attempt, cfg); backoff > 0 {
			RPCRetryInc(operation)

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return fmt.Errorf("context cancelled during backoff (attempt %d/%d): %w",
					attempt, cfg.MaxAttempts, ctx.Err())
			}
		}

		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context cancelled before attempt %d: %w", attempt, err)
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if !retryableError(lastErr) {
			return fmt.Errorf("non-retryable error on attempt %d/%d: %w", attempt, cfg.MaxAttempts, lastErr)
		}
	}

	return fmt.Errorf("all %d attempts failed after %v (last error: %w)",
		cfg.MaxAttempts, time.Since(start), lastErr)
}
