package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"signet/internal/audit"
	"signet/internal/consent"
	"signet/internal/envelope/models"
	"signet/internal/notification"
	"signet/internal/sentinel"
	"signet/internal/signing"
	id "signet/pkg/domain"
	dErrors "signet/pkg/domain-errors"
	"signet/pkg/canonical"
	"signet/pkg/requestcontext"
)

// PartyInput describes one roster entry at envelope creation.
type PartyInput struct {
	Email       string
	DisplayName string
	Role        models.SignerRole
	OrderIndex  int
	IsOwner     bool
}

// CreateCommand builds a draft envelope with its initial roster.
type CreateCommand struct {
	TenantID     id.TenantID
	Title        string
	SigningOrder models.SigningOrder
	CreatorID    id.ActorID
	ExpiresAt    *time.Time
	Parties      []PartyInput
}

// Create stores a new draft envelope. Drafts are not audited; the chain
// starts when the envelope is sent.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*models.Envelope, error) {
	now := requestcontext.Now(ctx)
	envelope, err := models.NewEnvelope(id.NewEnvelopeID(), cmd.TenantID, cmd.Title, cmd.SigningOrder, cmd.CreatorID, now)
	if err != nil {
		return nil, err
	}
	if cmd.ExpiresAt != nil {
		if !cmd.ExpiresAt.After(now) {
			return nil, dErrors.New(dErrors.CodeValidation, "expiry must be in the future")
		}
		envelope.ExpiresAt = cmd.ExpiresAt
	}
	for _, party := range cmd.Parties {
		if party.Email == "" {
			return nil, dErrors.New(dErrors.CodeValidation, "party email required")
		}
		role := party.Role
		if role == "" {
			role = models.RoleSigner
		}
		if !role.IsValid() {
			return nil, dErrors.New(dErrors.CodeValidation, "invalid party role: "+string(party.Role))
		}
		envelope.Signers = append(envelope.Signers, models.Signer{
			ID:          id.NewSignerID(),
			EnvelopeID:  envelope.ID,
			Email:       party.Email,
			DisplayName: party.DisplayName,
			Role:        role,
			OrderIndex:  party.OrderIndex,
			Status:      models.SignerPending,
			IsOwner:     party.IsOwner,
		})
	}
	if err := s.store.Create(ctx, envelope); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create envelope")
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "envelope created",
			"envelope_id", envelope.ID.String(),
			"tenant_id", envelope.TenantID.String(),
			"signing_order", string(envelope.SigningOrder),
		)
	}
	return envelope, nil
}

// Get returns the envelope with the lazy deadline transition applied.
func (s *Service) Get(ctx context.Context, envelopeID id.EnvelopeID) (*models.Envelope, error) {
	envelope, err := s.store.Load(ctx, envelopeID)
	if err != nil {
		return nil, translateLoad(err)
	}
	return s.applyExpiry(ctx, envelope, requestcontext.Now(ctx))
}

// List returns a tenant's envelopes without applying expiry.
func (s *Service) List(ctx context.Context, tenantID id.TenantID) ([]*models.Envelope, error) {
	envelopes, err := s.store.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list envelopes")
	}
	return envelopes, nil
}

// InviteCommand invites parties to sign; from DRAFT it sends the envelope.
type InviteCommand struct {
	EnvelopeID     id.EnvelopeID
	TenantID       id.TenantID
	PartyIDs       []id.SignerID
	Actor          audit.Actor
	IdempotencyKey string
}

// Invite executes the invite command and dispatches invitation links to the
// newly invited parties.
func (s *Service) Invite(ctx context.Context, cmd InviteCommand) (*Result, error) {
	party := make([]string, 0, len(cmd.PartyIDs))
	for _, p := range cmd.PartyIDs {
		party = append(party, p.String())
	}
	var tr *models.Transition
	result, err := s.execute(ctx, command{
		op:             "invite",
		envelopeID:     cmd.EnvelopeID,
		tenantID:       cmd.TenantID,
		actor:          cmd.Actor,
		idempotencyKey: cmd.IdempotencyKey,
		payload:        map[string]any{"party_ids": party},
		rateLimited:    true,
	}, func(ctx context.Context, envelope *models.Envelope) (*models.Transition, error) {
		var err error
		tr, err = models.Invite(envelope, cmd.PartyIDs, cmd.Actor, requestcontext.Now(ctx))
		return tr, err
	})
	if err != nil {
		return nil, err
	}
	if !result.Replayed && tr != nil && tr.Changed {
		s.dispatchInvitations(ctx, tr)
	}
	return result, nil
}

// dispatchInvitations issues a scoped bearer token per newly invited party
// and hands delivery to the notifier. Failures never reach the caller.
func (s *Service) dispatchInvitations(ctx context.Context, tr *models.Transition) {
	if s.notifier == nil {
		return
	}
	for _, event := range tr.Events {
		if event.Type != audit.EventSignerInvited {
			continue
		}
		rawID, _ := event.Metadata["signer_id"].(string)
		signerID, err := id.ParseSignerID(rawID)
		if err != nil {
			continue
		}
		signer := tr.Envelope.SignerByID(signerID)
		if signer == nil {
			continue
		}
		payload := map[string]any{"envelope_title": tr.Envelope.Title}
		if s.tokens != nil {
			bearer, err := s.tokens.Issue(ctx, tr.Envelope.ID, signer.ID)
			if err != nil {
				if s.logger != nil {
					s.logger.WarnContext(ctx, "failed to issue invitation token",
						"envelope_id", tr.Envelope.ID.String(),
						"signer_id", signer.ID.String(),
						"error", err,
					)
				}
			} else {
				payload["invitation_token"] = bearer
			}
		}
		s.notify(ctx, notification.Message{
			Kind:       notification.KindInvitation,
			EnvelopeID: tr.Envelope.ID,
			Recipients: []notification.Recipient{{SignerID: signer.ID, Email: signer.Email}},
			Payload:    payload,
		})
	}
}

// RequestSignatureCommand asks one party directly for a signature.
type RequestSignatureCommand struct {
	EnvelopeID     id.EnvelopeID
	TenantID       id.TenantID
	PartyID        id.SignerID
	Message        string
	Actor          audit.Actor
	IdempotencyKey string
}

func (s *Service) RequestSignature(ctx context.Context, cmd RequestSignatureCommand) (*Result, error) {
	var tr *models.Transition
	result, err := s.execute(ctx, command{
		op:             "request_signature",
		envelopeID:     cmd.EnvelopeID,
		tenantID:       cmd.TenantID,
		actor:          cmd.Actor,
		idempotencyKey: cmd.IdempotencyKey,
		payload:        map[string]any{"party_id": cmd.PartyID.String(), "message": cmd.Message},
		rateLimited:    true,
		signerID:       cmd.PartyID,
	}, func(ctx context.Context, envelope *models.Envelope) (*models.Transition, error) {
		var err error
		tr, err = models.RequestSignature(envelope, cmd.PartyID, cmd.Message, cmd.Actor, requestcontext.Now(ctx))
		return tr, err
	})
	if err != nil {
		return nil, err
	}
	if !result.Replayed && tr != nil && tr.Changed {
		s.notify(ctx, notification.Message{
			Kind:       notification.KindSignatureRequest,
			EnvelopeID: cmd.EnvelopeID,
			Recipients: recipients(tr.Envelope, func(signer models.Signer) bool { return signer.ID == cmd.PartyID }),
			Payload:    map[string]any{"message": cmd.Message},
		})
	}
	return result, nil
}

// RemindCommand nudges outstanding parties.
type RemindCommand struct {
	EnvelopeID     id.EnvelopeID
	TenantID       id.TenantID
	PartyIDs       []id.SignerID
	Message        string
	Actor          audit.Actor
	IdempotencyKey string
}

func (s *Service) RemindParties(ctx context.Context, cmd RemindCommand) (*Result, error) {
	party := make([]string, 0, len(cmd.PartyIDs))
	for _, p := range cmd.PartyIDs {
		party = append(party, p.String())
	}
	var tr *models.Transition
	result, err := s.execute(ctx, command{
		op:             "remind_parties",
		envelopeID:     cmd.EnvelopeID,
		tenantID:       cmd.TenantID,
		actor:          cmd.Actor,
		idempotencyKey: cmd.IdempotencyKey,
		payload:        map[string]any{"party_ids": party, "message": cmd.Message},
		rateLimited:    true,
	}, func(ctx context.Context, envelope *models.Envelope) (*models.Transition, error) {
		var err error
		tr, err = models.Remind(envelope, cmd.PartyIDs, cmd.Message, cmd.Actor, requestcontext.Now(ctx))
		return tr, err
	})
	if err != nil {
		return nil, err
	}
	if !result.Replayed && tr != nil && tr.Changed {
		targets := make(map[string]bool)
		if ids, ok := tr.Events[0].Metadata["party_ids"].([]string); ok {
			for _, raw := range ids {
				targets[raw] = true
			}
		}
		s.notify(ctx, notification.Message{
			Kind:       notification.KindReminder,
			EnvelopeID: cmd.EnvelopeID,
			Recipients: recipients(tr.Envelope, func(signer models.Signer) bool { return targets[signer.ID.String()] }),
			Payload:    map[string]any{"message": cmd.Message},
		})
	}
	return result, nil
}

// SignCommand records one party's signature. Consent carries the origin
// evidence when the party consents in the same request.
type SignCommand struct {
	EnvelopeID     id.EnvelopeID
	TenantID       id.TenantID
	SignerID       id.SignerID
	Consent        *consent.Origin
	Actor          audit.Actor
	IdempotencyKey string
}

func (s *Service) Sign(ctx context.Context, cmd SignCommand) (*Result, error) {
	if cmd.SignerID.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "signer ID required")
	}
	if cmd.Consent != nil && s.consents != nil {
		if _, err := s.consents.Record(ctx, cmd.EnvelopeID, cmd.SignerID, *cmd.Consent); err != nil {
			return nil, err
		}
	}

	// The provider is called at most once per command, after validation and
	// before the write; a version-conflict retry reuses its result.
	var providerResult *signing.Result
	var tr *models.Transition
	result, err := s.execute(ctx, command{
		op:             "sign",
		envelopeID:     cmd.EnvelopeID,
		tenantID:       cmd.TenantID,
		actor:          cmd.Actor,
		idempotencyKey: cmd.IdempotencyKey,
		payload:        map[string]any{"signer_id": cmd.SignerID.String()},
		signerID:       cmd.SignerID,
	}, func(ctx context.Context, envelope *models.Envelope) (*models.Transition, error) {
		if err := s.reflectConsent(ctx, envelope, cmd.SignerID); err != nil {
			return nil, err
		}
		var err error
		tr, err = models.Sign(envelope, cmd.SignerID, cmd.Actor, requestcontext.Now(ctx))
		if err != nil || !tr.Changed {
			return tr, err
		}
		if s.signer != nil {
			if providerResult == nil {
				res, err := s.signer.Sign(ctx, signing.Request{
					KeyRef:    s.signingKeyRef,
					Algorithm: signing.AlgorithmHMACSHA256,
					Digest:    signingDigest(envelope, cmd.SignerID),
				})
				if err != nil {
					// The signer keeps its pre-sign status.
					return nil, err
				}
				providerResult = res
			}
			tr.Events[0].Metadata["algorithm"] = providerResult.Algorithm
			tr.Events[0].Metadata["signature"] = hex.EncodeToString(providerResult.Signature)
		}
		return tr, nil
	})
	if err != nil {
		return nil, err
	}
	if !result.Replayed && tr != nil && tr.Changed && tr.Completed {
		s.notify(ctx, notification.Message{
			Kind:       notification.KindEnvelopeCompleted,
			EnvelopeID: cmd.EnvelopeID,
			Recipients: recipients(tr.Envelope, nil),
			Payload:    map[string]any{"envelope_title": tr.Envelope.Title},
		})
	}
	return result, nil
}

// reflectConsent mirrors a stored consent record onto a freshly loaded
// aggregate, so a version-conflict retry sees consent given earlier in the
// same command or in a previous one.
func (s *Service) reflectConsent(ctx context.Context, envelope *models.Envelope, signerID id.SignerID) error {
	signer := envelope.SignerByID(signerID)
	if signer == nil || signer.ConsentGiven || s.consents == nil {
		return nil
	}
	record, err := s.consents.Require(ctx, envelope.ID, signerID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeMissingConsent) {
			return nil // models.Sign reports the precondition failure
		}
		return err
	}
	signer.ConsentGiven = true
	givenAt := record.GivenAt
	signer.ConsentAt = &givenAt
	return nil
}

// signingDigest is the stable digest the provider signs: the envelope and
// signer identity plus the title, canonically encoded.
func signingDigest(envelope *models.Envelope, signerID id.SignerID) []byte {
	encoded, err := canonical.Encode(map[string]any{
		"envelope_id": envelope.ID.String(),
		"signer_id":   signerID.String(),
		"title":       envelope.Title,
	})
	if err != nil {
		// The projection above always encodes.
		encoded = []byte(envelope.ID.String() + ":" + signerID.String())
	}
	sum := sha256.Sum256(encoded)
	return sum[:]
}

// DeclineCommand records one party's refusal to sign.
type DeclineCommand struct {
	EnvelopeID     id.EnvelopeID
	TenantID       id.TenantID
	SignerID       id.SignerID
	Reason         string
	Actor          audit.Actor
	IdempotencyKey string
}

func (s *Service) Decline(ctx context.Context, cmd DeclineCommand) (*Result, error) {
	if cmd.SignerID.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "signer ID required")
	}
	var tr *models.Transition
	result, err := s.execute(ctx, command{
		op:             "decline",
		envelopeID:     cmd.EnvelopeID,
		tenantID:       cmd.TenantID,
		actor:          cmd.Actor,
		idempotencyKey: cmd.IdempotencyKey,
		payload:        map[string]any{"signer_id": cmd.SignerID.String(), "reason": cmd.Reason},
		signerID:       cmd.SignerID,
	}, func(ctx context.Context, envelope *models.Envelope) (*models.Transition, error) {
		var err error
		tr, err = models.Decline(envelope, cmd.SignerID, cmd.Reason, cmd.Actor, requestcontext.Now(ctx))
		return tr, err
	})
	if err != nil {
		return nil, err
	}
	if !result.Replayed && tr != nil && tr.Changed {
		s.notify(ctx, notification.Message{
			Kind:       notification.KindEnvelopeDeclined,
			EnvelopeID: cmd.EnvelopeID,
			Recipients: recipients(tr.Envelope, func(signer models.Signer) bool { return signer.ID != cmd.SignerID }),
			Payload:    map[string]any{"reason": cmd.Reason},
		})
	}
	return result, nil
}

// CancelCommand withdraws the envelope. Owner only.
type CancelCommand struct {
	EnvelopeID     id.EnvelopeID
	TenantID       id.TenantID
	Reason         string
	Actor          audit.Actor
	IdempotencyKey string
}

func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (*Result, error) {
	var tr *models.Transition
	result, err := s.execute(ctx, command{
		op:             "cancel",
		envelopeID:     cmd.EnvelopeID,
		tenantID:       cmd.TenantID,
		actor:          cmd.Actor,
		idempotencyKey: cmd.IdempotencyKey,
		payload:        map[string]any{"reason": cmd.Reason},
	}, func(ctx context.Context, envelope *models.Envelope) (*models.Transition, error) {
		if envelope.CreatorID.String() != cmd.Actor.ID {
			return nil, dErrors.New(dErrors.CodeForbidden, "only the envelope owner can cancel")
		}
		var err error
		tr, err = models.Cancel(envelope, cmd.Reason, cmd.Actor, requestcontext.Now(ctx))
		return tr, err
	})
	if err != nil {
		return nil, err
	}
	if !result.Replayed && tr != nil && tr.Changed {
		s.notify(ctx, notification.Message{
			Kind:       notification.KindEnvelopeCancelled,
			EnvelopeID: cmd.EnvelopeID,
			Recipients: recipients(tr.Envelope, nil),
			Payload:    map[string]any{"reason": cmd.Reason},
		})
	}
	return result, nil
}

// FinalizeCommand seals a fully signed envelope after verifying its trail.
type FinalizeCommand struct {
	EnvelopeID     id.EnvelopeID
	TenantID       id.TenantID
	Message        string
	Actor          audit.Actor
	IdempotencyKey string
}

// Finalize verifies the envelope's audit chain and appends the sealing
// event. A broken chain halts the envelope for manual investigation.
func (s *Service) Finalize(ctx context.Context, cmd FinalizeCommand) (*Result, error) {
	ok, _, err := s.ledger.Verify(ctx, cmd.EnvelopeID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, dErrors.New(dErrors.CodeAuditIntegrity,
			"audit chain verification failed; envelope requires manual investigation")
	}

	return s.execute(ctx, command{
		op:             "finalize",
		envelopeID:     cmd.EnvelopeID,
		tenantID:       cmd.TenantID,
		actor:          cmd.Actor,
		idempotencyKey: cmd.IdempotencyKey,
		payload:        map[string]any{"message": cmd.Message},
	}, func(ctx context.Context, envelope *models.Envelope) (*models.Transition, error) {
		return models.Finalize(envelope, cmd.Message, cmd.Actor, requestcontext.Now(ctx))
	})
}

// AddSignerCommand appends a party to the roster mid-flow.
type AddSignerCommand struct {
	EnvelopeID     id.EnvelopeID
	TenantID       id.TenantID
	Party          PartyInput
	Actor          audit.Actor
	IdempotencyKey string
}

func (s *Service) AddSigner(ctx context.Context, cmd AddSignerCommand) (*Result, error) {
	role := cmd.Party.Role
	if role == "" {
		role = models.RoleSigner
	}
	signer := models.Signer{
		ID:          id.NewSignerID(),
		Email:       cmd.Party.Email,
		DisplayName: cmd.Party.DisplayName,
		Role:        role,
		OrderIndex:  cmd.Party.OrderIndex,
		IsOwner:     cmd.Party.IsOwner,
	}
	return s.execute(ctx, command{
		op:             "add_signer",
		envelopeID:     cmd.EnvelopeID,
		tenantID:       cmd.TenantID,
		actor:          cmd.Actor,
		idempotencyKey: cmd.IdempotencyKey,
		payload:        map[string]any{"email": cmd.Party.Email, "order_index": cmd.Party.OrderIndex},
		signerID:       signer.ID,
	}, func(ctx context.Context, envelope *models.Envelope) (*models.Transition, error) {
		return models.AddSigner(envelope, signer, s.rosterPolicy, cmd.Actor, requestcontext.Now(ctx))
	})
}

// RemoveSignerCommand drops a party from the roster mid-flow.
type RemoveSignerCommand struct {
	EnvelopeID     id.EnvelopeID
	TenantID       id.TenantID
	SignerID       id.SignerID
	Actor          audit.Actor
	IdempotencyKey string
}

func (s *Service) RemoveSigner(ctx context.Context, cmd RemoveSignerCommand) (*Result, error) {
	if cmd.SignerID.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "signer ID required")
	}
	return s.execute(ctx, command{
		op:             "remove_signer",
		envelopeID:     cmd.EnvelopeID,
		tenantID:       cmd.TenantID,
		actor:          cmd.Actor,
		idempotencyKey: cmd.IdempotencyKey,
		payload:        map[string]any{"signer_id": cmd.SignerID.String()},
		signerID:       cmd.SignerID,
	}, func(ctx context.Context, envelope *models.Envelope) (*models.Transition, error) {
		return models.RemoveSigner(envelope, cmd.SignerID, s.rosterPolicy, cmd.Actor, requestcontext.Now(ctx))
	})
}

// AuditTrail lists the envelope's chained events in sequence order.
func (s *Service) AuditTrail(ctx context.Context, envelopeID id.EnvelopeID) ([]audit.Event, error) {
	if _, err := s.store.Load(ctx, envelopeID); err != nil {
		return nil, translateLoad(err)
	}
	return s.ledger.List(ctx, envelopeID)
}

// VerifyTrail recomputes the envelope's hash chain.
func (s *Service) VerifyTrail(ctx context.Context, envelopeID id.EnvelopeID) (bool, int64, error) {
	if _, err := s.store.Load(ctx, envelopeID); err != nil {
		return false, 0, translateLoad(err)
	}
	return s.ledger.Verify(ctx, envelopeID)
}

func translateLoad(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "envelope not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load envelope")
}
