package token

import (
	"time"

	id "signet/pkg/domain"
)

// Record is the stored side of an issued invitation token. The bearer JWT
// carries a random secret; only its bcrypt hash is stored, so a leaked table
// cannot be replayed as live tokens.
type Record struct {
	ID         id.TokenID
	EnvelopeID id.EnvelopeID
	SignerID   id.SignerID
	SecretHash string
	Consumed   bool
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// Grant is the validated scope a token confers: access to exactly one
// envelope/signer pair.
type Grant struct {
	TokenID    id.TokenID
	EnvelopeID id.EnvelopeID
	SignerID   id.SignerID
}
