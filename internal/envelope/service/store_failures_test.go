package service

//go:generate mockgen -source=../store/store.go -destination=../store/mocks/mocks.go -package=mocks Store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"signet/internal/audit"
	"signet/internal/consent"
	"signet/internal/envelope/models"
	"signet/internal/envelope/store/mocks"
	"signet/internal/idempotency"
	"signet/internal/ratelimit"
	"signet/internal/sentinel"
	id "signet/pkg/domain"
	dErrors "signet/pkg/domain-errors"
	"signet/pkg/requestcontext"
)

// StoreFailureSuite drives the service against a mocked store to reach the
// failure paths the in-memory store cannot produce.
type StoreFailureSuite struct {
	suite.Suite
	ctx     context.Context
	ctrl    *gomock.Controller
	store   *mocks.MockStore
	service *Service
	tenant  id.TenantID
	owner   audit.Actor
}

func TestStoreFailureSuite(t *testing.T) {
	suite.Run(t, new(StoreFailureSuite))
}

func (s *StoreFailureSuite) SetupTest() {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), now)
	s.ctrl = gomock.NewController(s.T())
	s.store = mocks.NewMockStore(s.ctrl)
	s.tenant = id.NewTenantID()
	s.owner = audit.Actor{ID: id.NewActorID().String(), Kind: "owner"}

	ledger := audit.NewLedger(audit.NewInMemoryStore())
	guard := idempotency.NewGuard(idempotency.NewInMemoryStore())
	limiter := ratelimit.New(ratelimit.NewInMemoryStore())
	consents := consent.NewService(consent.NewInMemoryStore(), ledger)

	s.service = NewService(s.store, ledger, guard, limiter, consents, WithSaveRetries(3))
}

// draft returns a fresh one-party draft so every mocked Load hands the
// commit loop an unmodified aggregate.
func (s *StoreFailureSuite) draft(envelopeID id.EnvelopeID) func(context.Context, id.EnvelopeID) (*models.Envelope, error) {
	return func(context.Context, id.EnvelopeID) (*models.Envelope, error) {
		envelope, err := models.NewEnvelope(envelopeID, s.tenant, "Mocked", models.OrderParallel, id.NewActorID(), time.Now().UTC())
		s.Require().NoError(err)
		envelope.Version = 1
		envelope.Signers = []models.Signer{{
			ID:         id.NewSignerID(),
			Email:      "owner@example.com",
			Role:       models.RoleSigner,
			OrderIndex: 1,
			Status:     models.SignerPending,
			IsOwner:    true,
		}}
		return envelope, nil
	}
}

func (s *StoreFailureSuite) TestPersistentVersionConflictExhaustsRetries() {
	envelopeID := id.NewEnvelopeID()
	s.store.EXPECT().Load(gomock.Any(), envelopeID).DoAndReturn(s.draft(envelopeID)).Times(3)
	s.store.EXPECT().Save(gomock.Any(), gomock.Any(), int64(1)).Return(sentinel.ErrVersionConflict).Times(3)

	_, err := s.service.Invite(s.ctx, InviteCommand{
		EnvelopeID: envelopeID, TenantID: s.tenant, Actor: s.owner,
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeStateConflict))
}

func (s *StoreFailureSuite) TestLoadFailureSurfacesAsInternal() {
	envelopeID := id.NewEnvelopeID()
	s.store.EXPECT().Load(gomock.Any(), envelopeID).Return(nil, errors.New("connection reset"))

	_, err := s.service.Invite(s.ctx, InviteCommand{
		EnvelopeID: envelopeID, TenantID: s.tenant, Actor: s.owner,
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}

func (s *StoreFailureSuite) TestUnknownEnvelopeIsNotFound() {
	envelopeID := id.NewEnvelopeID()
	s.store.EXPECT().Load(gomock.Any(), envelopeID).Return(nil, sentinel.ErrNotFound)

	_, err := s.service.Get(s.ctx, envelopeID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *StoreFailureSuite) TestReleasedReservationAllowsRetryAfterFailure() {
	envelopeID := id.NewEnvelopeID()
	s.store.EXPECT().Load(gomock.Any(), envelopeID).Return(nil, errors.New("connection reset"))

	cmd := InviteCommand{
		EnvelopeID: envelopeID, TenantID: s.tenant, Actor: s.owner,
		IdempotencyKey: "retry-me",
	}
	_, err := s.service.Invite(s.ctx, cmd)
	s.Require().Error(err)

	// The failed attempt must not leave the key reserved.
	s.store.EXPECT().Load(gomock.Any(), envelopeID).DoAndReturn(s.draft(envelopeID))
	s.store.EXPECT().Save(gomock.Any(), gomock.Any(), int64(1)).Return(nil)

	result, err := s.service.Invite(s.ctx, cmd)
	s.Require().NoError(err)
	s.Equal(models.StatusSent, result.Status)
}
