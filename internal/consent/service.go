// Package consent persists proof that a signer agreed to sign electronically.
// A valid consent is the precondition for every SIGN command.
package consent

import (
	"context"
	"errors"
	"log/slog"

	"signet/internal/audit"
	"signet/internal/sentinel"
	id "signet/pkg/domain"
	dErrors "signet/pkg/domain-errors"
	"signet/pkg/requestcontext"
)

// Store defines the persistence interface for consent records.
// Error Contract:
// - FindBySigner returns sentinel.ErrNotFound when no record exists
// - Save is an insert; a second active record for the same signer is replaced
type Store interface {
	Save(ctx context.Context, record *Record) error
	FindBySigner(ctx context.Context, envelopeID id.EnvelopeID, signerID id.SignerID) (*Record, error)
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// Service records and checks signer consent, writing each acceptance to the
// envelope's audit chain.
type Service struct {
	store  Store
	ledger *audit.Ledger
	logger *slog.Logger
}

// NewService creates a consent service.
func NewService(store Store, ledger *audit.Ledger, opts ...Option) *Service {
	svc := &Service{store: store, ledger: ledger}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Record stores a signer's consent. Re-recording an existing consent is
// idempotent and returns the active record unchanged.
func (s *Service) Record(ctx context.Context, envelopeID id.EnvelopeID, signerID id.SignerID, origin Origin) (*Record, error) {
	if envelopeID.IsZero() || signerID.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "envelope and signer IDs are required")
	}

	existing, err := s.store.FindBySigner(ctx, envelopeID, signerID)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read consent")
	}
	if existing != nil {
		return existing, nil
	}

	now := requestcontext.Now(ctx)
	record := &Record{
		ID:         id.NewConsentID(),
		EnvelopeID: envelopeID,
		SignerID:   signerID,
		GivenAt:    now,
		Origin:     origin,
	}
	if err := s.store.Save(ctx, record); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save consent")
	}

	s.append(ctx, envelopeID, audit.Event{
		ID:        id.NewEventID(),
		Type:      audit.EventConsentRecorded,
		Actor:     audit.Actor{ID: signerID.String(), Kind: "signer"},
		Timestamp: now,
		Metadata: map[string]any{
			"consent_id": record.ID.String(),
			"channel":    origin.Channel,
		},
	})
	return record, nil
}

// Delegate records consent for a new signer based on an existing consent of
// the delegating signer. The original record is never mutated; the new record
// links back via DelegatedFrom.
func (s *Service) Delegate(ctx context.Context, envelopeID id.EnvelopeID, fromSigner, toSigner id.SignerID, origin Origin) (*Record, error) {
	if fromSigner == toSigner {
		return nil, dErrors.New(dErrors.CodeValidation, "cannot delegate consent to the same signer")
	}

	source, err := s.store.FindBySigner(ctx, envelopeID, fromSigner)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeMissingConsent, "delegating signer has not consented")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read delegating consent")
	}

	now := requestcontext.Now(ctx)
	record := &Record{
		ID:            id.NewConsentID(),
		EnvelopeID:    envelopeID,
		SignerID:      toSigner,
		GivenAt:       now,
		Origin:        origin,
		DelegatedFrom: &source.ID,
	}
	if err := s.store.Save(ctx, record); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save delegated consent")
	}

	s.append(ctx, envelopeID, audit.Event{
		ID:        id.NewEventID(),
		Type:      audit.EventConsentDelegated,
		Actor:     audit.Actor{ID: fromSigner.String(), Kind: "signer"},
		Timestamp: now,
		Metadata: map[string]any{
			"consent_id":        record.ID.String(),
			"delegated_from":    source.ID.String(),
			"delegate_signer":   toSigner.String(),
			"delegating_signer": fromSigner.String(),
		},
	})
	return record, nil
}

// Require fails with CodeMissingConsent unless the signer holds an active
// consent for the envelope.
func (s *Service) Require(ctx context.Context, envelopeID id.EnvelopeID, signerID id.SignerID) (*Record, error) {
	record, err := s.store.FindBySigner(ctx, envelopeID, signerID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			if s.logger != nil {
				s.logger.WarnContext(ctx, "consent_check_failed",
					"envelope_id", envelopeID.String(),
					"signer_id", signerID.String(),
				)
			}
			return nil, dErrors.New(dErrors.CodeMissingConsent, "signer has not consented to sign electronically")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read consent")
	}
	return record, nil
}

func (s *Service) append(ctx context.Context, envelopeID id.EnvelopeID, event audit.Event) {
	if s.ledger == nil {
		return
	}
	if _, err := s.ledger.Append(ctx, envelopeID, []audit.Event{event}); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "failed to append consent audit event",
			"envelope_id", envelopeID.String(),
			"event_type", string(event.Type),
			"error", err,
		)
	}
}
