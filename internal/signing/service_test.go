package signing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"signet/internal/retry"
	dErrors "signet/pkg/domain-errors"
)

type scriptedProvider struct {
	calls   int
	outcome []error
	result  *Result
}

func (p *scriptedProvider) Sign(_ context.Context, _ Request) (*Result, error) {
	idx := p.calls
	p.calls++
	if idx < len(p.outcome) && p.outcome[idx] != nil {
		return nil, p.outcome[idx]
	}
	return p.result, nil
}

type SigningServiceSuite struct {
	suite.Suite
	slept []time.Duration
}

func (s *SigningServiceSuite) SetupTest() {
	s.slept = nil
}

func (s *SigningServiceSuite) newService(p Provider, maxAttempts int) *Service {
	policy := retry.Policy{
		Base:        10 * time.Millisecond,
		Cap:         time.Second,
		MaxAttempts: maxAttempts,
		Strategy:    retry.JitterNone,
	}
	return NewService(p, policy, WithSleeper(func(_ context.Context, d time.Duration) error {
		s.slept = append(s.slept, d)
		return nil
	}))
}

func (s *SigningServiceSuite) TestSucceedsFirstAttempt() {
	provider := &scriptedProvider{result: &Result{Signature: []byte("sig"), SignedAt: time.Now()}}
	svc := s.newService(provider, 4)

	result, err := svc.Sign(context.Background(), Request{KeyRef: "k1", Algorithm: AlgorithmHMACSHA256, Digest: []byte("d")})
	s.Require().NoError(err)
	s.Equal([]byte("sig"), result.Signature)
	s.Equal(1, provider.calls)
	s.Empty(s.slept)
}

func (s *SigningServiceSuite) TestRetriesTransientThenSucceeds() {
	transient := &ProviderError{StatusCode: 503, Message: "unavailable", Retryable: true}
	provider := &scriptedProvider{
		outcome: []error{transient, transient},
		result:  &Result{Signature: []byte("sig"), SignedAt: time.Now()},
	}
	svc := s.newService(provider, 4)

	_, err := svc.Sign(context.Background(), Request{KeyRef: "k1", Digest: []byte("d")})
	s.Require().NoError(err)
	s.Equal(3, provider.calls)
	// Deterministic doubling under JitterNone.
	s.Equal([]time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, s.slept)
}

func (s *SigningServiceSuite) TestExhaustsBudget() {
	transient := &ProviderError{StatusCode: 500, Message: "boom", Retryable: true}
	provider := &scriptedProvider{outcome: []error{transient, transient, transient, transient}}
	svc := s.newService(provider, 3)

	_, err := svc.Sign(context.Background(), Request{KeyRef: "k1", Digest: []byte("d")})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeSigningProvider))
	s.Equal(3, provider.calls)
}

func (s *SigningServiceSuite) TestNonRetryableFailsFast() {
	permanent := &ProviderError{StatusCode: 400, Message: "bad digest"}
	provider := &scriptedProvider{outcome: []error{permanent}}
	svc := s.newService(provider, 4)

	_, err := svc.Sign(context.Background(), Request{KeyRef: "k1", Digest: []byte("d")})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeSigningProvider))
	s.Equal(1, provider.calls)
	s.Empty(s.slept)
}

func (s *SigningServiceSuite) TestLocalProviderSignsDeterministically() {
	key := []byte("local-key")
	provider := NewLocalProvider(key)

	digest := sha256.Sum256([]byte("document"))
	result, err := provider.Sign(context.Background(), Request{KeyRef: "local", Digest: digest[:]})
	s.Require().NoError(err)

	mac := hmac.New(sha256.New, key)
	mac.Write(digest[:])
	s.Equal(mac.Sum(nil), result.Signature)
	s.Equal(AlgorithmHMACSHA256, result.Algorithm)
}

func (s *SigningServiceSuite) TestLocalProviderRejectsEmptyDigest() {
	_, err := NewLocalProvider([]byte("k")).Sign(context.Background(), Request{KeyRef: "local"})
	s.Require().Error(err)
	s.False(IsRetryable(err))
}

func TestSigningServiceSuite(t *testing.T) {
	suite.Run(t, new(SigningServiceSuite))
}
