package signing

import (
	"context"
	"log/slog"
	"time"

	"signet/internal/platform/metrics"
	"signet/internal/retry"
	"signet/internal/tracer"
	dErrors "signet/pkg/domain-errors"
	"signet/pkg/requestcontext"
)

// Provider is the external signing port. Implementations must be safe for
// concurrent use.
type Provider interface {
	Sign(ctx context.Context, req Request) (*Result, error)
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t tracer.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// WithAttemptTimeout bounds each individual provider call.
func WithAttemptTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.attemptTimeout = d
		}
	}
}

// WithSleeper overrides the inter-attempt sleep. Tests inject a recorder so
// backoff timing is observable without waiting.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Service) { s.sleep = sleep }
}

const defaultAttemptTimeout = 10 * time.Second

// Service calls the signing provider with bounded, jittered retries.
// Each attempt runs under its own timeout; when the attempt budget is spent
// the caller gets a signing_provider error and nothing else changes.
type Service struct {
	provider       Provider
	policy         retry.Policy
	attemptTimeout time.Duration
	sleep          func(ctx context.Context, d time.Duration) error
	logger         *slog.Logger
	metrics        *metrics.Metrics
	tracer         tracer.Tracer
}

// NewService wraps a provider with the given retry policy.
func NewService(provider Provider, policy retry.Policy, opts ...Option) *Service {
	svc := &Service{
		provider:       provider,
		policy:         policy,
		attemptTimeout: defaultAttemptTimeout,
		sleep:          sleepContext,
		tracer:         tracer.NewNoop(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Sign requests a signature for the digest, retrying transient failures
// until the policy's attempt budget is exhausted.
func (s *Service) Sign(ctx context.Context, req Request) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanSigningCall,
		tracer.String("algorithm", req.Algorithm),
	)
	var lastErr error
	defer func() { span.End(lastErr) }()

	for attempt := 0; ; attempt++ {
		result, err := s.attempt(ctx, req)
		if err == nil {
			if s.metrics != nil {
				s.metrics.SigningProviderCalls.WithLabelValues("success").Inc()
			}
			lastErr = nil
			return result, nil
		}
		lastErr = err
		if s.metrics != nil {
			s.metrics.SigningProviderCalls.WithLabelValues("failure").Inc()
		}
		if s.logger != nil {
			s.logger.WarnContext(ctx, "signing provider call failed",
				"attempt", attempt+1,
				"error", err,
			)
		}

		if !s.policy.ShouldRetry(attempt, err, IsRetryable) {
			break
		}
		delay, derr := s.policy.ComputeDelay(attempt)
		if derr != nil {
			lastErr = derr
			break
		}
		if serr := s.sleep(ctx, delay); serr != nil {
			lastErr = serr
			break
		}
	}
	return nil, dErrors.Wrap(lastErr, dErrors.CodeSigningProvider, "signing provider unavailable")
}

func (s *Service) attempt(ctx context.Context, req Request) (*Result, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, s.attemptTimeout)
	defer cancel()

	start := time.Now()
	result, err := s.provider.Sign(attemptCtx, req)
	if s.metrics != nil {
		s.metrics.SigningProviderLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, err
	}
	if result.SignedAt.IsZero() {
		result.SignedAt = requestcontext.Now(ctx)
	}
	return result, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
