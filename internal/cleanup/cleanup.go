// Package cleanup runs the periodic purge of expired idempotency records and
// closed rate-limit windows. Neither table grows unbounded while the worker
// is healthy; both stores tolerate missed runs.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"signet/internal/platform/metrics"
	"signet/pkg/requestcontext"
)

// Result summarizes one purge run.
type Result struct {
	IdempotencyPurged int
	WindowsPurged     int
	Duration          time.Duration
}

// IdempotencyPurger removes idempotency records whose retention window closed.
type IdempotencyPurger interface {
	PurgeExpired(ctx context.Context) (int, error)
}

// WindowPurger removes rate-limit windows that closed before the cutoff.
type WindowPurger interface {
	Purge(ctx context.Context, cutoff time.Time) (removed int, err error)
}

type Option func(*Worker)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

// WithWindowRetention sets how far behind now closed rate-limit windows are
// kept before the purge removes them.
func WithWindowRetention(retention time.Duration) Option {
	return func(w *Worker) {
		if retention > 0 {
			w.windowRetention = retention
		}
	}
}

type Worker struct {
	guard           IdempotencyPurger
	windows         WindowPurger
	logger          *slog.Logger
	interval        time.Duration
	windowRetention time.Duration
	metrics         *metrics.Metrics
}

func New(guard IdempotencyPurger, windows WindowPurger, opts ...Option) *Worker {
	worker := &Worker{
		guard:           guard,
		windows:         windows,
		logger:          slog.Default(),
		interval:        15 * time.Minute,
		windowRetention: time.Hour,
	}
	for _, opt := range opts {
		opt(worker)
	}
	return worker
}

// Start blocks until ctx is cancelled, purging on every tick.
func (w *Worker) Start(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			startTime := time.Now()
			res, err := w.RunOnce(ctx)
			duration := time.Since(startTime)

			if err != nil {
				w.logger.Error("cleanup_run_failed",
					"error", err,
					"duration_ms", duration.Milliseconds(),
				)
				if w.metrics != nil {
					w.metrics.CleanupRuns.WithLabelValues("error").Inc()
				}
				continue
			}
			res.Duration = duration

			w.logger.Info("cleanup_run_completed",
				"idempotency_purged", res.IdempotencyPurged,
				"windows_purged", res.WindowsPurged,
				"duration_ms", duration.Milliseconds(),
			)
			if w.metrics != nil {
				w.metrics.CleanupRuns.WithLabelValues("success").Inc()
				w.metrics.CleanupRecordsPurged.WithLabelValues("idempotency").Add(float64(res.IdempotencyPurged))
				w.metrics.CleanupRecordsPurged.WithLabelValues("rate_limit_window").Add(float64(res.WindowsPurged))
			}

		case <-ctx.Done():
			w.logger.Info("cleanup worker stopping", "reason", ctx.Err())
			return ctx.Err()
		}
	}
}

// RunOnce executes a single purge. Logging is handled by the caller (Start).
func (w *Worker) RunOnce(ctx context.Context) (*Result, error) {
	idempotencyPurged, err := w.guard.PurgeExpired(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := requestcontext.Now(ctx).Add(-w.windowRetention)
	windowsPurged, err := w.windows.Purge(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	return &Result{IdempotencyPurged: idempotencyPurged, WindowsPurged: windowsPurged}, nil
}
