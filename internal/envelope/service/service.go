// Package service coordinates the envelope lifecycle: every command is
// deduplicated, rate limited where counted, validated against the loaded
// aggregate, committed through a version-checked write, recorded in the
// audit chain, and only then allowed to touch the outside world.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"signet/internal/audit"
	"signet/internal/consent"
	"signet/internal/envelope/models"
	"signet/internal/envelope/store"
	"signet/internal/idempotency"
	"signet/internal/notification"
	"signet/internal/platform/metrics"
	"signet/internal/ratelimit"
	"signet/internal/sentinel"
	"signet/internal/signing"
	"signet/internal/token"
	"signet/internal/tracer"
	id "signet/pkg/domain"
	dErrors "signet/pkg/domain-errors"
	"signet/pkg/requestcontext"
)

const (
	defaultSaveRetries     = 3
	defaultMaxPartyActions = 25
	defaultPartyWindow     = time.Minute
	defaultSigningKeyRef   = "signet-envelope"
)

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

// WithSigner sets the external signing provider service. Without one,
// signatures are recorded without provider material.
func WithSigner(signer *signing.Service) Option {
	return func(s *Service) { s.signer = signer }
}

// WithNotifier sets the notification dispatcher.
func WithNotifier(notifier *notification.Dispatcher) Option {
	return func(s *Service) { s.notifier = notifier }
}

// WithTokens sets the invitation token issuer. Without one, invitations go
// out without bearer links.
func WithTokens(tokens *token.Service) Option {
	return func(s *Service) { s.tokens = tokens }
}

// WithSaveRetries bounds reload-and-retry attempts after version conflicts.
func WithSaveRetries(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.saveRetries = n
		}
	}
}

// WithRosterPolicy selects how roster changes after sending are handled.
func WithRosterPolicy(policy models.RosterPolicy) Option {
	return func(s *Service) {
		if policy.IsValid() {
			s.rosterPolicy = policy
		}
	}
}

// WithPartyLimit bounds party-directed commands per envelope per window.
func WithPartyLimit(maxActions int, window time.Duration) Option {
	return func(s *Service) {
		if maxActions > 0 {
			s.maxPartyActions = maxActions
		}
		if window > 0 {
			s.partyWindow = window
		}
	}
}

// WithSigningKeyRef names the provider key used for envelope signatures.
func WithSigningKeyRef(keyRef string) Option {
	return func(s *Service) {
		if keyRef != "" {
			s.signingKeyRef = keyRef
		}
	}
}

// Service executes lifecycle commands against the envelope aggregate.
type Service struct {
	store    store.Store
	ledger   *audit.Ledger
	guard    *idempotency.Guard
	limiter  *ratelimit.Limiter
	consents *consent.Service

	signer   *signing.Service
	notifier *notification.Dispatcher
	tokens   *token.Service

	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  tracer.Tracer

	saveRetries     int
	rosterPolicy    models.RosterPolicy
	maxPartyActions int
	partyWindow     time.Duration
	signingKeyRef   string
}

// NewService wires the lifecycle with its collaborators.
func NewService(st store.Store, ledger *audit.Ledger, guard *idempotency.Guard, limiter *ratelimit.Limiter, consents *consent.Service, opts ...Option) *Service {
	svc := &Service{
		store:           st,
		ledger:          ledger,
		guard:           guard,
		limiter:         limiter,
		consents:        consents,
		tracer:          tracer.NewNoop(),
		saveRetries:     defaultSaveRetries,
		rosterPolicy:    models.RosterReject,
		maxPartyActions: defaultMaxPartyActions,
		partyWindow:     defaultPartyWindow,
		signingKeyRef:   defaultSigningKeyRef,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Result is the observable outcome of a command. It is also the snapshot
// replayed to duplicates within the idempotency window.
type Result struct {
	EnvelopeID   string              `json:"envelope_id"`
	Status       models.Status       `json:"status"`
	Version      int64               `json:"version"`
	SignerID     string              `json:"signer_id,omitempty"`
	SignerStatus models.SignerStatus `json:"signer_status,omitempty"`
	Events       []string            `json:"events,omitempty"`
	// Replayed marks a duplicate served from the idempotency record.
	Replayed bool `json:"-"`
}

func resultFrom(envelope *models.Envelope, signerID id.SignerID, events []audit.Event) *Result {
	r := &Result{
		EnvelopeID: envelope.ID.String(),
		Status:     envelope.Status,
		Version:    envelope.Version,
	}
	if !signerID.IsZero() {
		r.SignerID = signerID.String()
		if signer := envelope.SignerByID(signerID); signer != nil {
			r.SignerStatus = signer.Status
		}
	}
	for _, event := range events {
		r.Events = append(r.Events, string(event.Type))
	}
	return r
}

// command carries the fields shared by every lifecycle command.
type command struct {
	op             string
	envelopeID     id.EnvelopeID
	tenantID       id.TenantID
	actor          audit.Actor
	idempotencyKey string
	payload        any
	rateLimited    bool
	signerID       id.SignerID
}

// execute runs the shared command pipeline: idempotency, rate limiting,
// load, lazy expiry, transition, conditional write with bounded retry,
// audit append. apply computes the transition from a freshly loaded
// aggregate and must be safe to call more than once.
func (s *Service) execute(ctx context.Context, cmd command, apply func(ctx context.Context, envelope *models.Envelope) (*models.Transition, error)) (*Result, error) {
	if cmd.envelopeID.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "envelope ID required")
	}
	if cmd.tenantID.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "tenant ID required")
	}
	if cmd.actor.ID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "actor required")
	}

	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.CommandLatency.WithLabelValues(cmd.op).Observe(time.Since(start).Seconds())
		}
	}()

	ctx, span := s.tracer.Start(ctx, tracer.SpanCommand,
		tracer.String(tracer.AttrCommand, cmd.op),
		tracer.String(tracer.AttrEnvelopeID, cmd.envelopeID.String()),
	)
	var spanErr error
	defer func() { span.End(spanErr) }()

	scope := idempotency.Scope(cmd.tenantID, cmd.envelopeID)
	key := cmd.idempotencyKey
	if key == "" {
		fingerprint, err := idempotency.Fingerprint(cmd.op, cmd.tenantID, cmd.actor.ID, cmd.payload)
		if err != nil {
			spanErr = err
			return nil, err
		}
		key = fingerprint
	}
	payloadHash, err := idempotency.PayloadHash(cmd.payload)
	if err != nil {
		spanErr = err
		return nil, err
	}

	outcome, err := s.guard.CheckAndReserve(ctx, scope, key, payloadHash)
	if err != nil {
		spanErr = err
		return nil, err
	}
	if outcome.InFlight {
		spanErr = dErrors.New(dErrors.CodeStateConflict, "an identical command is still in flight")
		return nil, spanErr
	}
	if !outcome.Fresh {
		span.AddEvent(tracer.EventIdempotentHit)
		var replay Result
		if err := json.Unmarshal(outcome.PriorResult, &replay); err != nil {
			spanErr = dErrors.Wrap(err, dErrors.CodeInternal, "failed to decode recorded result")
			return nil, spanErr
		}
		replay.Replayed = true
		return &replay, nil
	}

	if cmd.rateLimited && s.limiter != nil {
		limitKey := ratelimit.Key{Tenant: cmd.tenantID, Envelope: cmd.envelopeID, Operation: cmd.op}
		if _, err := s.limiter.IncrementAndCheck(ctx, limitKey, s.maxPartyActions, s.partyWindow); err != nil {
			s.guard.Release(ctx, scope, key)
			spanErr = err
			return nil, err
		}
	}

	tr, err := s.commit(ctx, span, cmd, apply)
	if err != nil {
		s.guard.Release(ctx, scope, key)
		spanErr = err
		return nil, err
	}

	result := resultFrom(tr.Envelope, cmd.signerID, tr.Events)
	snapshot, err := json.Marshal(result)
	if err != nil {
		spanErr = dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode result")
		return nil, spanErr
	}
	if err := s.guard.RecordResult(ctx, scope, key, snapshot); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "failed to record idempotency result",
			"operation", cmd.op,
			"envelope_id", cmd.envelopeID.String(),
			"error", err,
		)
	}
	s.observe(cmd.op, tr)
	return result, nil
}

// commit is the load/transition/conditional-write loop. The first write
// whose version matches wins; losers reload and recompute, so an already
// applied command degrades into a no-op instead of a failure.
func (s *Service) commit(ctx context.Context, span tracer.Span, cmd command, apply func(ctx context.Context, envelope *models.Envelope) (*models.Transition, error)) (*models.Transition, error) {
	now := requestcontext.Now(ctx)

	for attempt := 0; attempt < s.saveRetries; attempt++ {
		span.SetAttributes(tracer.Int64(tracer.AttrSaveAttempt, int64(attempt)))

		envelope, err := s.store.Load(ctx, cmd.envelopeID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return nil, dErrors.New(dErrors.CodeNotFound, "envelope not found")
			}
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load envelope")
		}

		envelope, err = s.applyExpiry(ctx, envelope, now)
		if err != nil {
			if errors.Is(err, sentinel.ErrVersionConflict) {
				s.conflict(ctx, span, cmd.op)
				continue
			}
			return nil, err
		}

		tr, err := apply(ctx, envelope)
		if err != nil {
			return nil, err
		}
		if !tr.Changed {
			return tr, nil
		}

		err = s.save(ctx, tr.Envelope, envelope.Version)
		if err == nil {
			if err := s.append(ctx, tr.Events); err != nil {
				return nil, err
			}
			return tr, nil
		}
		if errors.Is(err, sentinel.ErrVersionConflict) {
			s.conflict(ctx, span, cmd.op)
			continue
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save envelope")
	}
	return nil, dErrors.New(dErrors.CodeStateConflict, "envelope was updated concurrently too many times")
}

// applyExpiry lazily commits the deadline transition before the command is
// validated, so commands against an overdue envelope see EXPIRED.
func (s *Service) applyExpiry(ctx context.Context, envelope *models.Envelope, now time.Time) (*models.Envelope, error) {
	tr, err := models.Expire(envelope, now)
	if err != nil || !tr.Changed {
		return envelope, err
	}
	if err := s.save(ctx, tr.Envelope, envelope.Version); err != nil {
		return nil, err
	}
	if err := s.append(ctx, tr.Events); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.EnvelopesExpired.Inc()
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "envelope expired",
			"envelope_id", envelope.ID.String(),
		)
	}
	return tr.Envelope, nil
}

func (s *Service) save(ctx context.Context, envelope *models.Envelope, expectedVersion int64) error {
	ctx, span := s.tracer.Start(ctx, tracer.SpanAggregateSave,
		tracer.String(tracer.AttrEnvelopeID, envelope.ID.String()),
		tracer.String(tracer.AttrStatus, string(envelope.Status)),
	)
	err := s.store.Save(ctx, envelope, expectedVersion)
	span.End(err)
	return err
}

func (s *Service) append(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}
	ctx, span := s.tracer.Start(ctx, tracer.SpanAuditAppend,
		tracer.Int64(tracer.AttrEventCount, int64(len(events))),
	)
	_, err := s.ledger.Append(ctx, events[0].EnvelopeID, events)
	span.End(err)
	if err != nil {
		// Pure append contention is retriable by the caller and must not be
		// escalated. Anything else means the trail is at risk: the aggregate
		// write already landed, so losing the events is an integrity problem.
		if dErrors.HasCode(err, dErrors.CodeStateConflict) {
			return err
		}
		return dErrors.Wrap(err, dErrors.CodeAuditIntegrity, "failed to append audit events")
	}
	return nil
}

func (s *Service) conflict(ctx context.Context, span tracer.Span, op string) {
	span.AddEvent(tracer.EventVersionConflict)
	if s.metrics != nil {
		s.metrics.SaveRetries.Inc()
		s.metrics.CommandConflicts.WithLabelValues(op).Inc()
	}
	if s.logger != nil {
		s.logger.DebugContext(ctx, "version conflict, reloading", "operation", op)
	}
}

func (s *Service) observe(op string, tr *models.Transition) {
	if s.metrics == nil || !tr.Changed {
		return
	}
	for _, event := range tr.Events {
		switch event.Type {
		case audit.EventEnvelopeSent:
			s.metrics.EnvelopesSent.Inc()
		case audit.EventEnvelopeCompleted:
			s.metrics.EnvelopesCompleted.Inc()
		case audit.EventEnvelopeDeclined:
			s.metrics.EnvelopesDeclined.Inc()
		case audit.EventEnvelopeCancelled:
			s.metrics.EnvelopesCancelled.Inc()
		case audit.EventSignerSigned:
			s.metrics.SignaturesRecorded.WithLabelValues(string(tr.Envelope.SigningOrder)).Inc()
		}
	}
}

func (s *Service) notify(ctx context.Context, msg notification.Message) {
	if s.notifier == nil || len(msg.Recipients) == 0 {
		return
	}
	s.notifier.Notify(ctx, msg)
}

func recipients(envelope *models.Envelope, filter func(models.Signer) bool) []notification.Recipient {
	var out []notification.Recipient
	for _, signer := range envelope.Signers {
		if filter == nil || filter(signer) {
			out = append(out, notification.Recipient{SignerID: signer.ID, Email: signer.Email})
		}
	}
	return out
}
