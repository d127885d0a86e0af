// Package notification dispatches lifecycle notifications to envelope
// parties. Dispatch is fire-and-forget: delivery failures are logged and
// counted but never surface to the command that triggered them.
package notification

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"signet/internal/platform/metrics"
	"signet/internal/tracer"
	id "signet/pkg/domain"
)

// Kind identifies what a notification is about.
type Kind string

const (
	KindInvitation        Kind = "invitation"
	KindSignatureRequest  Kind = "signature_request"
	KindReminder          Kind = "reminder"
	KindEnvelopeCompleted Kind = "envelope_completed"
	KindEnvelopeDeclined  Kind = "envelope_declined"
	KindEnvelopeCancelled Kind = "envelope_cancelled"
	KindEnvelopeExpired   Kind = "envelope_expired"
)

// Recipient is one party to deliver to.
type Recipient struct {
	SignerID id.SignerID
	Email    string
}

// Message is a notification addressed to one or more recipients.
type Message struct {
	Kind       Kind
	EnvelopeID id.EnvelopeID
	Recipients []Recipient
	Payload    map[string]any
}

// Sink delivers to a single recipient. Implementations must be safe for
// concurrent use.
type Sink interface {
	Deliver(ctx context.Context, kind Kind, recipient Recipient, payload map[string]any) error
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t tracer.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = t }
}

// Dispatcher fans a message out to its recipients in parallel.
type Dispatcher struct {
	sink    Sink
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  tracer.Tracer
	wg      sync.WaitGroup
}

// NewDispatcher constructs a dispatcher delivering through the given sink.
func NewDispatcher(sink Sink, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sink:   sink,
		tracer: tracer.NewNoop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify dispatches asynchronously and returns immediately. The delivery
// outlives the triggering request's context.
func (d *Dispatcher) Notify(ctx context.Context, msg Message) {
	detached := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.Dispatch(detached, msg)
	}()
}

// Dispatch delivers to every recipient in parallel and waits for all of
// them. Per-recipient failures are logged; the message as a whole never
// fails.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) {
	if len(msg.Recipients) == 0 {
		return
	}
	ctx, span := d.tracer.Start(ctx, tracer.SpanNotifyDispatch,
		tracer.String("kind", string(msg.Kind)),
		tracer.Int64("recipients", int64(len(msg.Recipients))),
	)
	defer span.End(nil)

	g, gctx := errgroup.WithContext(ctx)
	for _, recipient := range msg.Recipients {
		g.Go(func() error {
			err := d.sink.Deliver(gctx, msg.Kind, recipient, msg.Payload)
			outcome := "delivered"
			if err != nil {
				outcome = "failed"
				if d.logger != nil {
					d.logger.WarnContext(gctx, "notification delivery failed",
						"kind", string(msg.Kind),
						"envelope_id", msg.EnvelopeID.String(),
						"signer_id", recipient.SignerID.String(),
						"error", err,
					)
				}
			}
			if d.metrics != nil {
				d.metrics.NotificationsDispatched.WithLabelValues(string(msg.Kind), outcome).Inc()
			}
			// Sibling deliveries proceed regardless of this one.
			return nil
		})
	}
	_ = g.Wait()
}

// Drain blocks until all in-flight asynchronous dispatches finish. Called
// during shutdown.
func (d *Dispatcher) Drain() {
	d.wg.Wait()
}

// LogSink writes deliveries to the log instead of a real channel. It is the
// default sink in development.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink constructs a sink logging through the given logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Deliver(ctx context.Context, kind Kind, recipient Recipient, payload map[string]any) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "notification delivered",
			"kind", string(kind),
			"signer_id", recipient.SignerID.String(),
			"email", recipient.Email,
			"payload_keys", len(payload),
		)
	}
	return nil
}
