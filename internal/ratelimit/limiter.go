// Package ratelimit bounds abusive command volume with fixed-window counters
// scoped to (tenant, envelope, operation). Fixed windows keep storage O(1)
// per scope; the bound exists to stop gross abuse, not to provide precise
// fairness.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"signet/internal/platform/metrics"
	"signet/pkg/requestcontext"

	dErrors "signet/pkg/domain-errors"
)

// Store persists fixed-window counters.
// Error Contract:
// - Increment returns the count within the window containing now, after
//   adding one; a fresh window starts at now with count 1.
// - Purge removes windows that closed before the cutoff.
type Store interface {
	Increment(ctx context.Context, key string, window time.Duration, now time.Time) (count int, windowStart time.Time, err error)
	Purge(ctx context.Context, cutoff time.Time) (removed int, err error)
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Limiter) {
		l.metrics = m
	}
}

// Limiter enforces fixed-window limits. Thread-safe for concurrent use.
type Limiter struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a limiter backed by the given store.
func New(store Store, opts ...Option) *Limiter {
	l := &Limiter{store: store}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// IncrementAndCheck counts one attempt against the scope and reports whether
// it fit the limit. A rejected attempt returns a CodeRateLimited error; the
// Result is valid either way and carries the reset interval.
func (l *Limiter) IncrementAndCheck(ctx context.Context, key Key, maxRequests int, window time.Duration) (*Result, error) {
	if maxRequests <= 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "max requests must be positive")
	}
	if window <= 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "window must be positive")
	}

	now := requestcontext.Now(ctx)
	count, windowStart, err := l.store.Increment(ctx, key.String(), window, now)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to increment rate limit counter")
	}

	result := &Result{
		Allowed: count <= maxRequests,
		Count:   count,
		Limit:   maxRequests,
		ResetIn: windowStart.Add(window).Sub(now),
	}

	if !result.Allowed {
		if l.metrics != nil {
			l.metrics.RateLimitExceeded.WithLabelValues(key.Operation).Inc()
		}
		if l.logger != nil {
			l.logger.WarnContext(ctx, "rate_limit_exceeded",
				"tenant_id", key.Tenant.String(),
				"envelope_id", key.Envelope.String(),
				"operation", key.Operation,
				"count", count,
				"limit", maxRequests,
				"reset_in_seconds", result.ResetInSeconds(),
			)
		}
		return result, dErrors.New(dErrors.CodeRateLimited,
			fmt.Sprintf("rate limit exceeded for %s, retry in %ds", key.Operation, result.ResetInSeconds()))
	}

	return result, nil
}
