package token

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	dErrors "signet/pkg/domain-errors"
	id "signet/pkg/domain"
	"signet/pkg/requestcontext"
)

type TokenServiceSuite struct {
	suite.Suite
	ctx     context.Context
	now     time.Time
	store   *InMemoryStore
	service *Service
}

func (s *TokenServiceSuite) SetupTest() {
	s.now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.store = NewInMemoryStore()
	s.service = NewService(s.store, "test-signing-key")
}

func (s *TokenServiceSuite) at(t time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), t)
}

func (s *TokenServiceSuite) TestIssueAndValidate() {
	envelopeID := id.NewEnvelopeID()
	signerID := id.NewSignerID()

	bearer, err := s.service.Issue(s.ctx, envelopeID, signerID)
	s.Require().NoError(err)
	s.Require().NotEmpty(bearer)

	grant, err := s.service.Validate(s.ctx, bearer)
	s.Require().NoError(err)
	s.Equal(envelopeID, grant.EnvelopeID)
	s.Equal(signerID, grant.SignerID)

	// Validation does not consume; the token stays usable for reads.
	_, err = s.service.Validate(s.ctx, bearer)
	s.Require().NoError(err)
}

func (s *TokenServiceSuite) TestIssueRequiresScope() {
	_, err := s.service.Issue(s.ctx, id.EnvelopeID{}, id.NewSignerID())
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *TokenServiceSuite) TestConsumeIsSingleUse() {
	bearer, err := s.service.Issue(s.ctx, id.NewEnvelopeID(), id.NewSignerID())
	s.Require().NoError(err)

	grant, err := s.service.Validate(s.ctx, bearer)
	s.Require().NoError(err)
	s.Require().NoError(s.service.Consume(s.ctx, grant.TokenID))

	err = s.service.Consume(s.ctx, grant.TokenID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))

	// A consumed token no longer validates for reads either.
	_, err = s.service.Validate(s.ctx, bearer)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func (s *TokenServiceSuite) TestExpiredTokenRejected() {
	svc := NewService(s.store, "test-signing-key", WithTTL(time.Hour))
	bearer, err := svc.Issue(s.ctx, id.NewEnvelopeID(), id.NewSignerID())
	s.Require().NoError(err)

	later := s.at(s.now.Add(2 * time.Hour))
	_, err = svc.Validate(later, bearer)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func (s *TokenServiceSuite) TestTamperedBearerRejected() {
	bearer, err := s.service.Issue(s.ctx, id.NewEnvelopeID(), id.NewSignerID())
	s.Require().NoError(err)

	parts := strings.Split(bearer, ".")
	s.Require().Len(parts, 3)
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

	_, err = s.service.Validate(s.ctx, tampered)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func (s *TokenServiceSuite) TestForeignKeyRejected() {
	other := NewService(NewInMemoryStore(), "other-signing-key")
	bearer, err := other.Issue(s.ctx, id.NewEnvelopeID(), id.NewSignerID())
	s.Require().NoError(err)

	_, err = s.service.Validate(s.ctx, bearer)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func (s *TokenServiceSuite) TestUnknownTokenRejected() {
	// Signed with the right key but never saved, as after a store purge.
	bearer, err := NewService(NewInMemoryStore(), "test-signing-key").Issue(s.ctx, id.NewEnvelopeID(), id.NewSignerID())
	s.Require().NoError(err)

	_, err = s.service.Validate(s.ctx, bearer)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestTokenServiceSuite(t *testing.T) {
	suite.Run(t, new(TokenServiceSuite))
}
