package consent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"signet/internal/audit"
	id "signet/pkg/domain"
	dErrors "signet/pkg/domain-errors"
	"signet/pkg/requestcontext"
)

type ConsentSuite struct {
	suite.Suite
	auditStore *audit.InMemoryStore
	service    *Service
	envelopeID id.EnvelopeID
	signerID   id.SignerID
	ctx        context.Context
}

func (s *ConsentSuite) SetupTest() {
	s.auditStore = audit.NewInMemoryStore()
	s.service = NewService(NewInMemoryStore(), audit.NewLedger(s.auditStore))
	s.envelopeID = id.NewEnvelopeID()
	s.signerID = id.NewSignerID()
	s.ctx = requestcontext.WithTime(context.Background(),
		time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
}

func TestConsentSuite(t *testing.T) {
	suite.Run(t, new(ConsentSuite))
}

func (s *ConsentSuite) TestRecordAndRequire() {
	origin := NewOrigin("203.0.113.47", "Mozilla/5.0 (Macintosh) Chrome/120.0", "web")

	record, err := s.service.Record(s.ctx, s.envelopeID, s.signerID, origin)
	s.Require().NoError(err)
	s.Equal("203.0.113.0", record.Origin.IP)
	s.NotEmpty(record.Origin.DeviceFingerprint)

	got, err := s.service.Require(s.ctx, s.envelopeID, s.signerID)
	s.Require().NoError(err)
	s.Equal(record.ID, got.ID)

	events, err := s.auditStore.ListByEnvelope(s.ctx, s.envelopeID)
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(audit.EventConsentRecorded, events[0].Type)
}

func (s *ConsentSuite) TestRecordIsIdempotent() {
	origin := NewOrigin("203.0.113.47", "", "api")

	first, err := s.service.Record(s.ctx, s.envelopeID, s.signerID, origin)
	s.Require().NoError(err)
	second, err := s.service.Record(s.ctx, s.envelopeID, s.signerID, origin)
	s.Require().NoError(err)
	s.Equal(first.ID, second.ID)

	events, err := s.auditStore.ListByEnvelope(s.ctx, s.envelopeID)
	s.Require().NoError(err)
	s.Len(events, 1)
}

func (s *ConsentSuite) TestRequireWithoutConsent() {
	_, err := s.service.Require(s.ctx, s.envelopeID, s.signerID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeMissingConsent))
}

func (s *ConsentSuite) TestDelegateCreatesLinkedRecord() {
	delegate := id.NewSignerID()
	origin := NewOrigin("203.0.113.47", "", "web")

	source, err := s.service.Record(s.ctx, s.envelopeID, s.signerID, origin)
	s.Require().NoError(err)

	record, err := s.service.Delegate(s.ctx, s.envelopeID, s.signerID, delegate, origin)
	s.Require().NoError(err)
	s.Require().NotNil(record.DelegatedFrom)
	s.Equal(source.ID, *record.DelegatedFrom)
	s.Equal(delegate, record.SignerID)

	// The original record is untouched.
	got, err := s.service.Require(s.ctx, s.envelopeID, s.signerID)
	s.Require().NoError(err)
	s.Nil(got.DelegatedFrom)
}

func (s *ConsentSuite) TestDelegateWithoutSourceConsent() {
	_, err := s.service.Delegate(s.ctx, s.envelopeID, s.signerID, id.NewSignerID(), Origin{})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeMissingConsent))
}

func (s *ConsentSuite) TestDelegateToSelf() {
	_, err := s.service.Delegate(s.ctx, s.envelopeID, s.signerID, s.signerID, Origin{})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}
