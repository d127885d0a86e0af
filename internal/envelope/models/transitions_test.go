package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"signet/internal/audit"
	id "signet/pkg/domain"
	dErrors "signet/pkg/domain-errors"
)

type TransitionsSuite struct {
	suite.Suite
	now   time.Time
	actor audit.Actor
}

func (s *TransitionsSuite) SetupTest() {
	s.now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s.actor = audit.Actor{ID: "owner-1", Kind: "owner"}
}

// build returns an envelope with an owner and n invitees, all consented and
// invited, in the given state.
func (s *TransitionsSuite) build(order SigningOrder, status Status, invitees int) *Envelope {
	env, err := NewEnvelope(id.NewEnvelopeID(), id.NewTenantID(), "Master Service Agreement", order, id.NewActorID(), s.now)
	s.Require().NoError(err)
	env.Status = status

	signerStatus := SignerInvited
	if status == StatusDraft {
		signerStatus = SignerPending
	}
	consentAt := s.now.Add(-time.Minute)
	owner := Signer{
		ID: id.NewSignerID(), EnvelopeID: env.ID, Email: "owner@example.com",
		DisplayName: "Owner", Role: RoleSigner, OrderIndex: 1,
		Status: signerStatus, IsOwner: true, ConsentGiven: true, ConsentAt: &consentAt,
	}
	env.Signers = append(env.Signers, owner)
	for i := 0; i < invitees; i++ {
		env.Signers = append(env.Signers, Signer{
			ID: id.NewSignerID(), EnvelopeID: env.ID,
			Email: "invitee@example.com", DisplayName: "Invitee",
			Role: RoleSigner, OrderIndex: i + 2,
			Status: signerStatus, ConsentGiven: true, ConsentAt: &consentAt,
		})
	}
	return env
}

func (s *TransitionsSuite) TestInviteSendsDraft() {
	env := s.build(OrderParallel, StatusDraft, 1)

	tr, err := Invite(env, nil, s.actor, s.now)
	s.Require().NoError(err)
	s.True(tr.Changed)
	s.Equal(StatusSent, tr.Envelope.Status)
	for _, signer := range tr.Envelope.Signers {
		s.Equal(SignerInvited, signer.Status)
	}
	s.Equal(audit.EventEnvelopeSent, tr.Events[0].Type)
	s.Len(tr.Events, 3) // sent + two invitations

	// Input untouched.
	s.Equal(StatusDraft, env.Status)
	s.Equal(SignerPending, env.Signers[0].Status)
}

func (s *TransitionsSuite) TestInviteRequiresParties() {
	env, err := NewEnvelope(id.NewEnvelopeID(), id.NewTenantID(), "Empty", OrderParallel, id.NewActorID(), s.now)
	s.Require().NoError(err)

	_, err = Invite(env, nil, s.actor, s.now)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *TransitionsSuite) TestInviteRequiresWellDefinedOrder() {
	env := s.build(OrderOwnerFirst, StatusDraft, 1)
	env.Signers[1].OrderIndex = env.Signers[0].OrderIndex

	_, err := Invite(env, nil, s.actor, s.now)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	// Parallel order tolerates duplicate indices.
	env.SigningOrder = OrderParallel
	_, err = Invite(env, nil, s.actor, s.now)
	s.Require().NoError(err)
}

func (s *TransitionsSuite) TestInviteTerminalConflicts() {
	for _, status := range []Status{StatusCompleted, StatusDeclined, StatusCancelled, StatusExpired} {
		env := s.build(OrderParallel, status, 1)
		_, err := Invite(env, nil, s.actor, s.now)
		s.Require().Error(err, string(status))
		s.True(dErrors.HasCode(err, dErrors.CodeStateConflict))
	}
}

func (s *TransitionsSuite) TestSignMovesToInProgress() {
	env := s.build(OrderParallel, StatusSent, 1)

	tr, err := Sign(env, env.Signers[1].ID, s.actor, s.now)
	s.Require().NoError(err)
	s.True(tr.Changed)
	s.False(tr.Completed)
	s.Equal(StatusInProgress, tr.Envelope.Status)
	s.Equal(SignerSigned, tr.Envelope.Signers[1].Status)
	s.Require().NotNil(tr.Envelope.Signers[1].SignedAt)
	s.Equal(s.now, *tr.Envelope.Signers[1].SignedAt)
	s.Len(tr.Events, 1)
	s.Equal(audit.EventSignerSigned, tr.Events[0].Type)
}

func (s *TransitionsSuite) TestLastSignatureCompletes() {
	env := s.build(OrderParallel, StatusInProgress, 1)
	signedAt := s.now.Add(-time.Hour)
	env.Signers[1].Status = SignerSigned
	env.Signers[1].SignedAt = &signedAt

	tr, err := Sign(env, env.Signers[0].ID, s.actor, s.now)
	s.Require().NoError(err)
	s.True(tr.Completed)
	s.Equal(StatusCompleted, tr.Envelope.Status)
	s.Len(tr.Events, 2)
	s.Equal(audit.EventSignerSigned, tr.Events[0].Type)
	s.Equal(audit.EventEnvelopeCompleted, tr.Events[1].Type)
}

func (s *TransitionsSuite) TestSignAlreadySignedIsNoop() {
	env := s.build(OrderParallel, StatusInProgress, 1)
	signedAt := s.now.Add(-time.Hour)
	env.Signers[1].Status = SignerSigned
	env.Signers[1].SignedAt = &signedAt

	tr, err := Sign(env, env.Signers[1].ID, s.actor, s.now)
	s.Require().NoError(err)
	s.False(tr.Changed)
	s.Empty(tr.Events)
}

func (s *TransitionsSuite) TestSignRequiresConsent() {
	env := s.build(OrderParallel, StatusSent, 1)
	env.Signers[1].ConsentGiven = false

	_, err := Sign(env, env.Signers[1].ID, s.actor, s.now)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeMissingConsent))
}

func (s *TransitionsSuite) TestSignDraftConflicts() {
	env := s.build(OrderParallel, StatusDraft, 1)
	_, err := Sign(env, env.Signers[0].ID, s.actor, s.now)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeStateConflict))
}

func (s *TransitionsSuite) TestOwnerFirstBlocksInvitee() {
	env := s.build(OrderOwnerFirst, StatusSent, 1)
	owner, invitee := env.Signers[0].ID, env.Signers[1].ID

	// Premature invitee turn is a conflict, not a validation failure.
	_, err := Sign(env, invitee, s.actor, s.now)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeStateConflict))

	tr, err := Sign(env, owner, s.actor, s.now)
	s.Require().NoError(err)
	s.Equal(StatusInProgress, tr.Envelope.Status)

	tr, err = Sign(tr.Envelope, invitee, s.actor, s.now)
	s.Require().NoError(err)
	s.True(tr.Completed)
	s.Equal(StatusCompleted, tr.Envelope.Status)
	s.Equal(audit.EventSignerSigned, tr.Events[0].Type)
	s.Equal(audit.EventEnvelopeCompleted, tr.Events[1].Type)
}

func (s *TransitionsSuite) TestInviteesFirstBlocksOwner() {
	env := s.build(OrderInviteesFirst, StatusSent, 2)
	owner := env.Signers[0].ID

	_, err := Sign(env, owner, s.actor, s.now)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeStateConflict))

	tr, err := Sign(env, env.Signers[1].ID, s.actor, s.now)
	s.Require().NoError(err)
	tr, err = Sign(tr.Envelope, tr.Envelope.Signers[2].ID, s.actor, s.now)
	s.Require().NoError(err)

	tr, err = Sign(tr.Envelope, owner, s.actor, s.now)
	s.Require().NoError(err)
	s.True(tr.Completed)
}

func (s *TransitionsSuite) TestDeclineRemovesRemainingParties() {
	env := s.build(OrderParallel, StatusInProgress, 2)

	tr, err := Decline(env, env.Signers[1].ID, "terms unacceptable", s.actor, s.now)
	s.Require().NoError(err)
	s.Equal(StatusDeclined, tr.Envelope.Status)
	s.Equal(SignerDeclined, tr.Envelope.Signers[1].Status)
	s.Equal("terms unacceptable", tr.Envelope.Signers[1].DeclineReason)
	s.Equal(SignerRemoved, tr.Envelope.Signers[0].Status)
	s.Equal(SignerRemoved, tr.Envelope.Signers[2].Status)

	types := make([]audit.EventType, 0, len(tr.Events))
	for _, event := range tr.Events {
		types = append(types, event.Type)
	}
	s.Equal([]audit.EventType{
		audit.EventSignerDeclined,
		audit.EventSignerRemoved,
		audit.EventSignerRemoved,
		audit.EventEnvelopeDeclined,
	}, types)
}

func (s *TransitionsSuite) TestDeclineRequiresReason() {
	env := s.build(OrderParallel, StatusSent, 1)
	_, err := Decline(env, env.Signers[1].ID, "", s.actor, s.now)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *TransitionsSuite) TestCancelFromAnyNonTerminal() {
	for _, status := range []Status{StatusDraft, StatusSent, StatusInProgress} {
		env := s.build(OrderParallel, status, 1)
		tr, err := Cancel(env, "superseded", s.actor, s.now)
		s.Require().NoError(err, string(status))
		s.Equal(StatusCancelled, tr.Envelope.Status)
	}

	env := s.build(OrderParallel, StatusCompleted, 1)
	_, err := Cancel(env, "", s.actor, s.now)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeStateConflict))
}

func (s *TransitionsSuite) TestExpireAppliesLazily() {
	env := s.build(OrderParallel, StatusSent, 1)
	deadline := s.now.Add(-time.Hour)
	env.ExpiresAt = &deadline

	tr, err := Expire(env, s.now)
	s.Require().NoError(err)
	s.True(tr.Changed)
	s.Equal(StatusExpired, tr.Envelope.Status)
	s.Equal(audit.EventEnvelopeExpired, tr.Events[0].Type)
	s.Equal("system", tr.Events[0].Actor.Kind)
}

func (s *TransitionsSuite) TestExpireBeforeDeadlineIsNoop() {
	env := s.build(OrderParallel, StatusSent, 1)
	deadline := s.now.Add(time.Hour)
	env.ExpiresAt = &deadline

	tr, err := Expire(env, s.now)
	s.Require().NoError(err)
	s.False(tr.Changed)
}

func (s *TransitionsSuite) TestExpireDoesNotTouchDraftOrTerminal() {
	deadline := s.now.Add(-time.Hour)
	for _, status := range []Status{StatusDraft, StatusCompleted, StatusCancelled} {
		env := s.build(OrderParallel, status, 1)
		env.ExpiresAt = &deadline
		tr, err := Expire(env, s.now)
		s.Require().NoError(err, string(status))
		s.False(tr.Changed)
	}
}

func (s *TransitionsSuite) TestFinalizeCompletedEnvelope() {
	env := s.build(OrderParallel, StatusCompleted, 1)

	tr, err := Finalize(env, "sealed", s.actor, s.now)
	s.Require().NoError(err)
	s.Len(tr.Events, 1)
	s.Equal(audit.EventEnvelopeFinalized, tr.Events[0].Type)
}

func (s *TransitionsSuite) TestFinalizeWithOutstandingPartiesConflicts() {
	env := s.build(OrderParallel, StatusInProgress, 1)
	_, err := Finalize(env, "", s.actor, s.now)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeStateConflict))
}

func (s *TransitionsSuite) TestAddSignerFrozenInProgress() {
	env := s.build(OrderOwnerFirst, StatusInProgress, 1)
	extra := Signer{ID: id.NewSignerID(), Email: "late@example.com", Role: RoleSigner, OrderIndex: 3}

	_, err := AddSigner(env, extra, RosterReject, s.actor, s.now)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeStateConflict))

	tr, err := AddSigner(env, extra, RosterRenumber, s.actor, s.now)
	s.Require().NoError(err)
	s.Len(tr.Envelope.Signers, 3)
}

func (s *TransitionsSuite) TestRemoveSignerRenumbersRemaining() {
	env := s.build(OrderOwnerFirst, StatusSent, 3)
	signedAt := s.now
	env.Signers[0].Status = SignerSigned
	env.Signers[0].SignedAt = &signedAt
	env.Status = StatusInProgress

	tr, err := RemoveSigner(env, env.Signers[2].ID, RosterRenumber, s.actor, s.now)
	s.Require().NoError(err)
	s.Equal(SignerRemoved, tr.Envelope.Signers[2].Status)

	// Remaining invitees follow the signed owner in a dense run.
	s.Equal(2, tr.Envelope.Signers[1].OrderIndex)
	s.Equal(3, tr.Envelope.Signers[3].OrderIndex)

	var hasRenumbered bool
	for _, event := range tr.Events {
		if event.Type == audit.EventRosterRenumbered {
			hasRenumbered = true
		}
	}
	s.True(hasRenumbered)
}

func (s *TransitionsSuite) TestRemoveLastOutstandingSignerCompletes() {
	env := s.build(OrderParallel, StatusInProgress, 1)
	signedAt := s.now
	env.Signers[0].Status = SignerSigned
	env.Signers[0].SignedAt = &signedAt

	tr, err := RemoveSigner(env, env.Signers[1].ID, RosterRenumber, s.actor, s.now)
	s.Require().NoError(err)
	s.True(tr.Completed)
	s.Equal(StatusCompleted, tr.Envelope.Status)
}

func TestTransitionsSuite(t *testing.T) {
	suite.Run(t, new(TransitionsSuite))
}
