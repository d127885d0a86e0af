package domainerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"
)

// DomainErrorsSuite tests the domain error primitives.
//
// These are the error primitives crossed at every service boundary, so the
// invariants "wrapped domain errors preserve the original code" and
// "errors.Is matches by code" get their own unit coverage.
type DomainErrorsSuite struct {
	suite.Suite
}

func TestDomainErrorsSuite(t *testing.T) {
	suite.Run(t, new(DomainErrorsSuite))
}

func (s *DomainErrorsSuite) TestErrorInterface() {
	s.Run("returns message when present", func() {
		err := &Error{Code: CodeStateConflict, Message: "envelope already completed"}
		s.Equal("envelope already completed", err.Error())
	})

	s.Run("returns code when message is empty", func() {
		err := &Error{Code: CodeStateConflict}
		s.Equal("state_conflict", err.Error())
	})
}

func (s *DomainErrorsSuite) TestUnwrap() {
	s.Run("returns wrapped error", func() {
		inner := errors.New("connection refused")
		err := &Error{Code: CodeInternal, Message: "store failure", Err: inner}
		s.Equal(inner, errors.Unwrap(err))
	})

	s.Run("returns nil when nothing wrapped", func() {
		err := &Error{Code: CodeNotFound}
		s.Nil(errors.Unwrap(err))
	})
}

func (s *DomainErrorsSuite) TestIsMatching() {
	s.Run("matches by code only", func() {
		err1 := &Error{Code: CodeNotFound, Message: "envelope not found"}
		err2 := &Error{Code: CodeNotFound, Message: "signer not found"}
		s.True(errors.Is(err1, err2))
	})

	s.Run("does not match different codes", func() {
		s.False(errors.Is(&Error{Code: CodeNotFound}, &Error{Code: CodeInternal}))
	})

	s.Run("finds inner code through a chain", func() {
		inner := &Error{Code: CodeRateLimited, Message: "too many invites"}
		wrapped := &Error{Code: CodeInternal, Message: "command failed", Err: inner}
		s.True(errors.Is(wrapped, &Error{Code: CodeRateLimited}))
	})
}

func (s *DomainErrorsSuite) TestWrap() {
	s.Run("preserves original domain code", func() {
		original := New(CodeStateConflict, "not this signer's turn")
		wrapped := Wrap(original, CodeInternal, "sign command failed")

		var domainErr *Error
		s.Require().True(errors.As(wrapped, &domainErr))
		s.Equal(CodeStateConflict, domainErr.Code)
		s.Equal("sign command failed", domainErr.Message)
	})

	s.Run("uses provided code for non-domain errors", func() {
		wrapped := Wrap(errors.New("timeout"), CodeSigningProvider, "provider call failed")

		var domainErr *Error
		s.Require().True(errors.As(wrapped, &domainErr))
		s.Equal(CodeSigningProvider, domainErr.Code)
	})
}

func (s *DomainErrorsSuite) TestHasCode() {
	err := New(CodeIdempotencyMismatch, "key reused with different payload")
	s.True(HasCode(err, CodeIdempotencyMismatch))
	s.False(HasCode(err, CodeValidation))
	s.False(HasCode(errors.New("plain"), CodeValidation))
}
