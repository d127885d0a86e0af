// Package requestcontext provides request-scoped time. All operations within a
// single command use the same "now" timestamp, which keeps aggregate
// timestamps, audit events, and expiry checks consistent and lets tests pin
// the clock without global state.
package requestcontext

import (
	"context"
	"time"
)

type contextKeyTime struct{}

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() for non-HTTP contexts like workers, CLI, tests.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(contextKeyTime{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context. Useful for service unit
// tests that don't run the middleware chain, and for workers that need a
// consistent time within one batch.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, contextKeyTime{}, t)
}
