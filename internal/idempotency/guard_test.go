package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	id "signet/pkg/domain"
	dErrors "signet/pkg/domain-errors"
	"signet/pkg/requestcontext"
)

type GuardSuite struct {
	suite.Suite
	guard *Guard
	scope string
	base  time.Time
}

func (s *GuardSuite) SetupTest() {
	s.guard = NewGuard(NewInMemoryStore(), WithTTL(time.Hour))
	s.scope = Scope(id.NewTenantID(), id.NewEnvelopeID())
	s.base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestGuardSuite(t *testing.T) {
	suite.Run(t, new(GuardSuite))
}

func (s *GuardSuite) at(offset time.Duration) context.Context {
	return requestcontext.WithTime(context.Background(), s.base.Add(offset))
}

func (s *GuardSuite) TestFingerprintIsOrderIndependent() {
	tenant := id.NewTenantID()

	a, err := Fingerprint("sign", tenant, "signer@example.com", map[string]any{"signer": "x", "consent": true})
	s.Require().NoError(err)
	b, err := Fingerprint("sign", tenant, "signer@example.com", map[string]any{"consent": true, "signer": "x"})
	s.Require().NoError(err)
	s.Equal(a, b)

	c, err := Fingerprint("decline", tenant, "signer@example.com", map[string]any{"signer": "x", "consent": true})
	s.Require().NoError(err)
	s.NotEqual(a, c)
}

func (s *GuardSuite) TestFirstCallerIsFresh() {
	out, err := s.guard.CheckAndReserve(s.at(0), s.scope, "key-1", "hash-1")
	s.Require().NoError(err)
	s.True(out.Fresh)
}

func (s *GuardSuite) TestDuplicateReplaysRecordedResult() {
	out, err := s.guard.CheckAndReserve(s.at(0), s.scope, "key-1", "hash-1")
	s.Require().NoError(err)
	s.Require().True(out.Fresh)

	s.Require().NoError(s.guard.RecordResult(s.at(0), s.scope, "key-1", []byte(`{"status":"SENT"}`)))

	for i := 0; i < 3; i++ {
		out, err = s.guard.CheckAndReserve(s.at(time.Minute), s.scope, "key-1", "hash-1")
		s.Require().NoError(err)
		s.False(out.Fresh)
		s.False(out.InFlight)
		s.JSONEq(`{"status":"SENT"}`, string(out.PriorResult))
	}
}

func (s *GuardSuite) TestDuplicateInFlight() {
	_, err := s.guard.CheckAndReserve(s.at(0), s.scope, "key-1", "hash-1")
	s.Require().NoError(err)

	out, err := s.guard.CheckAndReserve(s.at(time.Second), s.scope, "key-1", "hash-1")
	s.Require().NoError(err)
	s.False(out.Fresh)
	s.True(out.InFlight)
}

func (s *GuardSuite) TestKeyCollisionWithDifferentPayload() {
	_, err := s.guard.CheckAndReserve(s.at(0), s.scope, "client-key", "hash-1")
	s.Require().NoError(err)

	_, err = s.guard.CheckAndReserve(s.at(time.Second), s.scope, "client-key", "hash-2")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeIdempotencyMismatch))
}

func (s *GuardSuite) TestExpiredReservationIsReclaimed() {
	_, err := s.guard.CheckAndReserve(s.at(0), s.scope, "key-1", "hash-1")
	s.Require().NoError(err)

	out, err := s.guard.CheckAndReserve(s.at(2*time.Hour), s.scope, "key-1", "hash-2")
	s.Require().NoError(err)
	s.True(out.Fresh)
}

func (s *GuardSuite) TestReleaseAllowsRetryAfterFailure() {
	_, err := s.guard.CheckAndReserve(s.at(0), s.scope, "key-1", "hash-1")
	s.Require().NoError(err)

	s.guard.Release(s.at(0), s.scope, "key-1")

	out, err := s.guard.CheckAndReserve(s.at(time.Second), s.scope, "key-1", "hash-1")
	s.Require().NoError(err)
	s.True(out.Fresh)
}

func (s *GuardSuite) TestPurgeExpired() {
	_, err := s.guard.CheckAndReserve(s.at(0), s.scope, "key-1", "hash-1")
	s.Require().NoError(err)
	_, err = s.guard.CheckAndReserve(s.at(0), s.scope, "key-2", "hash-2")
	s.Require().NoError(err)

	removed, err := s.guard.PurgeExpired(s.at(3 * time.Hour))
	s.Require().NoError(err)
	s.Equal(2, removed)
}
