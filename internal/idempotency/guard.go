// Package idempotency deduplicates re-submitted commands. A deterministic
// fingerprint over a command's semantic content (or a client-supplied key)
// reserves a slot on first acceptance; retries within the TTL replay the
// recorded response instead of re-executing side effects.
package idempotency

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"signet/internal/platform/metrics"
	"signet/internal/sentinel"
	"signet/pkg/canonical"
	id "signet/pkg/domain"
	dErrors "signet/pkg/domain-errors"
	"signet/pkg/requestcontext"
)

// Store persists idempotency reservations.
// Error Contract:
// - Reserve returns sentinel.ErrDuplicate when the (scope, key) already exists
// - Get returns sentinel.ErrNotFound when no record exists
// - Purge removes records expired before the cutoff
type Store interface {
	Reserve(ctx context.Context, rec Record) error
	Get(ctx context.Context, scope, key string) (*Record, error)
	Complete(ctx context.Context, scope, key string, result []byte) error
	Delete(ctx context.Context, scope, key string) error
	Purge(ctx context.Context, cutoff time.Time) (removed int, err error)
}

// Option configures a Guard.
type Option func(*Guard)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) { g.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Guard) { g.metrics = m }
}

// WithTTL overrides the default reservation window.
func WithTTL(ttl time.Duration) Option {
	return func(g *Guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

const defaultTTL = 24 * time.Hour

// Guard coordinates reservations against the store.
type Guard struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	ttl     time.Duration
}

// NewGuard creates a guard with the given store.
func NewGuard(store Store, opts ...Option) *Guard {
	g := &Guard{store: store, ttl: defaultTTL}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Fingerprint derives the deterministic deduplication key for a command.
// Structurally equal commands always produce the same key regardless of the
// field order of the payload.
func Fingerprint(operation string, tenant id.TenantID, actor string, payload any) (string, error) {
	digest, err := canonical.Digest(map[string]any{
		"operation": operation,
		"tenant":    tenant.String(),
		"actor":     actor,
		"payload":   payload,
	})
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to fingerprint command")
	}
	return digest, nil
}

// PayloadHash digests just the payload, used to detect client-key collisions.
func PayloadHash(payload any) (string, error) {
	digest, err := canonical.Digest(payload)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash payload")
	}
	return digest, nil
}

// CheckAndReserve reserves the key for this caller or reports the duplicate.
// A duplicate whose payload hash differs from the reservation's is a client
// error (CodeIdempotencyMismatch), never treated as a retry.
func (g *Guard) CheckAndReserve(ctx context.Context, scope, key, payloadHash string) (*Outcome, error) {
	now := requestcontext.Now(ctx)
	rec := Record{
		Scope:       scope,
		Key:         key,
		PayloadHash: payloadHash,
		CreatedAt:   now,
		ExpiresAt:   now.Add(g.ttl),
	}

	err := g.store.Reserve(ctx, rec)
	if err == nil {
		return &Outcome{Fresh: true}, nil
	}
	if !errors.Is(err, sentinel.ErrDuplicate) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to reserve idempotency key")
	}

	existing, err := g.store.Get(ctx, scope, key)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			// Reservation vanished between Reserve and Get (TTL reap); take it.
			if err := g.store.Reserve(ctx, rec); err == nil {
				return &Outcome{Fresh: true}, nil
			}
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read idempotency record")
	}

	if existing.Expired(now) {
		if err := g.store.Delete(ctx, scope, key); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to expire idempotency record")
		}
		if err := g.store.Reserve(ctx, rec); err == nil {
			return &Outcome{Fresh: true}, nil
		}
		// Lost the race for the expired slot; fall through as duplicate.
		existing, err = g.store.Get(ctx, scope, key)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to re-read idempotency record")
		}
	}

	if existing.PayloadHash != payloadHash {
		if g.metrics != nil {
			g.metrics.IdempotencyMismatches.Inc()
		}
		if g.logger != nil {
			g.logger.WarnContext(ctx, "idempotency_key_collision",
				"scope", scope,
				"key", key,
			)
		}
		return nil, dErrors.New(dErrors.CodeIdempotencyMismatch,
			"idempotency key reused with a different payload")
	}

	if g.metrics != nil {
		g.metrics.IdempotentReplays.Inc()
	}
	if !existing.Completed {
		return &Outcome{InFlight: true}, nil
	}
	return &Outcome{PriorResult: existing.Result}, nil
}

// RecordResult stores the response snapshot for replay by later duplicates.
func (g *Guard) RecordResult(ctx context.Context, scope, key string, result []byte) error {
	if err := g.store.Complete(ctx, scope, key, result); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record idempotency result")
	}
	return nil
}

// Release frees a reservation after a failed execution so a client retry can
// run the command again.
func (g *Guard) Release(ctx context.Context, scope, key string) {
	if err := g.store.Delete(ctx, scope, key); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		if g.logger != nil {
			g.logger.ErrorContext(ctx, "failed to release idempotency reservation",
				"scope", scope,
				"key", key,
				"error", err,
			)
		}
	}
}

// PurgeExpired removes records whose window closed before now. Called by the
// cleanup worker.
func (g *Guard) PurgeExpired(ctx context.Context) (int, error) {
	removed, err := g.store.Purge(ctx, requestcontext.Now(ctx))
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to purge idempotency records")
	}
	return removed, nil
}
