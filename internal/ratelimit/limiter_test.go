package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	id "signet/pkg/domain"
	dErrors "signet/pkg/domain-errors"
	"signet/pkg/requestcontext"
)

type LimiterSuite struct {
	suite.Suite
	limiter *Limiter
	key     Key
	base    time.Time
}

func (s *LimiterSuite) SetupTest() {
	s.limiter = New(NewInMemoryStore())
	s.key = Key{
		Tenant:    id.NewTenantID(),
		Envelope:  id.NewEnvelopeID(),
		Operation: "invite",
	}
	s.base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestLimiterSuite(t *testing.T) {
	suite.Run(t, new(LimiterSuite))
}

func (s *LimiterSuite) at(offset time.Duration) context.Context {
	return requestcontext.WithTime(context.Background(), s.base.Add(offset))
}

func (s *LimiterSuite) TestFourthInviteRejectedWithinWindow() {
	for i := 0; i < 3; i++ {
		res, err := s.limiter.IncrementAndCheck(s.at(time.Duration(i)*time.Second), s.key, 3, 60*time.Second)
		s.Require().NoError(err)
		s.True(res.Allowed)
		s.Equal(i+1, res.Count)
	}

	res, err := s.limiter.IncrementAndCheck(s.at(3*time.Second), s.key, 3, 60*time.Second)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeRateLimited))
	s.False(res.Allowed)
	s.LessOrEqual(res.ResetInSeconds(), 60)
	s.Greater(res.ResetInSeconds(), 0)
}

func (s *LimiterSuite) TestWindowResetAllowsAgain() {
	for i := 0; i < 3; i++ {
		_, err := s.limiter.IncrementAndCheck(s.at(0), s.key, 3, time.Minute)
		s.Require().NoError(err)
	}
	_, err := s.limiter.IncrementAndCheck(s.at(0), s.key, 3, time.Minute)
	s.Require().Error(err)

	// A new window starts once the old one elapses.
	res, err := s.limiter.IncrementAndCheck(s.at(61*time.Second), s.key, 3, time.Minute)
	s.Require().NoError(err)
	s.True(res.Allowed)
	s.Equal(1, res.Count)
}

func (s *LimiterSuite) TestScopesAreIndependent() {
	other := s.key
	other.Operation = "remind"

	for i := 0; i < 3; i++ {
		_, err := s.limiter.IncrementAndCheck(s.at(0), s.key, 3, time.Minute)
		s.Require().NoError(err)
	}
	res, err := s.limiter.IncrementAndCheck(s.at(0), other, 3, time.Minute)
	s.Require().NoError(err)
	s.Equal(1, res.Count)
}

func (s *LimiterSuite) TestInvalidArguments() {
	_, err := s.limiter.IncrementAndCheck(s.at(0), s.key, 0, time.Minute)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = s.limiter.IncrementAndCheck(s.at(0), s.key, 3, 0)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *LimiterSuite) TestPurgeRemovesClosedWindows() {
	store := NewInMemoryStore()
	limiter := New(store)

	_, err := limiter.IncrementAndCheck(s.at(0), s.key, 3, time.Minute)
	s.Require().NoError(err)

	removed, err := store.Purge(context.Background(), s.base.Add(2*time.Minute))
	s.Require().NoError(err)
	s.Equal(1, removed)
}
