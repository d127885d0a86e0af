// Package token issues and validates invitation tokens: bearer credentials
// that scope an external, unauthenticated signer to exactly one
// envelope/signer pair. Tokens are reusable for reads and single-use for the
// terminal sign/decline action.
package token

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"signet/internal/sentinel"
	id "signet/pkg/domain"
	dErrors "signet/pkg/domain-errors"
	"signet/pkg/requestcontext"
	"signet/pkg/secrets"
)

// Store persists token records.
// Error Contract:
// - Find returns sentinel.ErrNotFound when the token ID is unknown
// - Consume returns sentinel.ErrAlreadyUsed when the token was consumed before
type Store interface {
	Save(ctx context.Context, rec Record) error
	Find(ctx context.Context, tokenID id.TokenID) (*Record, error)
	Consume(ctx context.Context, tokenID id.TokenID) error
}

type claims struct {
	jwt.RegisteredClaims
	EnvelopeID string `json:"env"`
	SignerID   string `json:"sgn"`
	Secret     string `json:"sec"`
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithTTL overrides the default token lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

const defaultTTL = 7 * 24 * time.Hour

// Service issues, validates, and consumes invitation tokens.
type Service struct {
	store      Store
	signingKey []byte
	logger     *slog.Logger
	ttl        time.Duration
}

// NewService creates a token service signing with the given key.
func NewService(store Store, signingKey string, opts ...Option) *Service {
	svc := &Service{
		store:      store,
		signingKey: []byte(signingKey),
		ttl:        defaultTTL,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Issue creates a token granting access to one envelope/signer pair and
// returns the signed bearer string.
func (s *Service) Issue(ctx context.Context, envelopeID id.EnvelopeID, signerID id.SignerID) (string, error) {
	if envelopeID.IsZero() || signerID.IsZero() {
		return "", dErrors.New(dErrors.CodeValidation, "envelope and signer IDs are required")
	}

	secret, err := secrets.Generate()
	if err != nil {
		return "", err
	}
	secretHash, err := secrets.Hash(secret)
	if err != nil {
		return "", err
	}

	now := requestcontext.Now(ctx)
	tokenID := id.NewTokenID()
	rec := Record{
		ID:         tokenID,
		EnvelopeID: envelopeID,
		SignerID:   signerID,
		SecretHash: secretHash,
		IssuedAt:   now,
		ExpiresAt:  now.Add(s.ttl),
	}
	if err := s.store.Save(ctx, rec); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to save invitation token")
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(rec.ExpiresAt),
			Issuer:    "signet",
		},
		EnvelopeID: envelopeID.String(),
		SignerID:   signerID.String(),
		Secret:     secret,
	})
	signed, err := t.SignedString(s.signingKey)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign invitation token")
	}
	return signed, nil
}

// Validate checks a bearer string and returns the grant it confers.
// A consumed token no longer validates.
func (s *Service) Validate(ctx context.Context, bearer string) (*Grant, error) {
	c, rec, err := s.parse(ctx, bearer)
	if err != nil {
		return nil, err
	}
	if rec.Consumed {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invitation token already used")
	}
	return s.grant(c, rec)
}

// Consume marks a token used. Callers invoke it only after the terminal
// action it authorized has committed; a rejected command leaves the token
// live. Exactly one caller wins a consume race.
func (s *Service) Consume(ctx context.Context, tokenID id.TokenID) error {
	if err := s.store.Consume(ctx, tokenID); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return dErrors.New(dErrors.CodeUnauthorized, "invitation token already used")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to consume invitation token")
	}
	return nil
}

func (s *Service) parse(ctx context.Context, bearer string) (*claims, *Record, error) {
	if bearer == "" {
		return nil, nil, dErrors.New(dErrors.CodeUnauthorized, "missing invitation token")
	}

	var c claims
	parsed, err := jwt.ParseWithClaims(bearer, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.signingKey, nil
	}, jwt.WithTimeFunc(func() time.Time { return requestcontext.Now(ctx) }))
	if err != nil || !parsed.Valid {
		return nil, nil, dErrors.New(dErrors.CodeUnauthorized, "invalid invitation token")
	}

	tokenID, err := id.ParseTokenID(c.RegisteredClaims.ID)
	if err != nil {
		return nil, nil, dErrors.New(dErrors.CodeUnauthorized, "invalid invitation token")
	}
	rec, err := s.store.Find(ctx, tokenID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil, dErrors.New(dErrors.CodeUnauthorized, "unknown invitation token")
		}
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load invitation token")
	}
	if !rec.ExpiresAt.After(requestcontext.Now(ctx)) {
		return nil, nil, dErrors.New(dErrors.CodeUnauthorized, "invitation token expired")
	}
	if err := secrets.Verify(c.Secret, rec.SecretHash); err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "invitation token secret mismatch",
				"token_id", tokenID.String(),
			)
		}
		return nil, nil, dErrors.New(dErrors.CodeUnauthorized, "invalid invitation token")
	}
	return &c, rec, nil
}

func (s *Service) grant(c *claims, rec *Record) (*Grant, error) {
	// The record is authoritative; claims only locate it.
	if c.EnvelopeID != rec.EnvelopeID.String() || c.SignerID != rec.SignerID.String() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invitation token scope mismatch")
	}
	return &Grant{
		TokenID:    rec.ID,
		EnvelopeID: rec.EnvelopeID,
		SignerID:   rec.SignerID,
	}, nil
}
