// Package domain provides type-safe identifiers to prevent mixing up IDs at compile time.
package domain

import (
	"github.com/google/uuid"

	dErrors "signet/pkg/domain-errors"
)

// Distinct ID types - compiler prevents passing SignerID where EnvelopeID is expected.
type (
	EnvelopeID uuid.UUID
	SignerID   uuid.UUID
	TenantID   uuid.UUID
	ConsentID  uuid.UUID
	EventID    uuid.UUID
	TokenID    uuid.UUID
	ActorID    uuid.UUID
)

// Parse functions - use at trust boundaries (handlers, API inputs).

func ParseEnvelopeID(s string) (EnvelopeID, error) {
	id, err := parseUUID(s, "envelope ID")
	return EnvelopeID(id), err
}

func ParseSignerID(s string) (SignerID, error) {
	id, err := parseUUID(s, "signer ID")
	return SignerID(id), err
}

func ParseTenantID(s string) (TenantID, error) {
	id, err := parseUUID(s, "tenant ID")
	return TenantID(id), err
}

func ParseConsentID(s string) (ConsentID, error) {
	id, err := parseUUID(s, "consent ID")
	return ConsentID(id), err
}

func ParseEventID(s string) (EventID, error) {
	id, err := parseUUID(s, "event ID")
	return EventID(id), err
}

func ParseTokenID(s string) (TokenID, error) {
	id, err := parseUUID(s, "token ID")
	return TokenID(id), err
}

func ParseActorID(s string) (ActorID, error) {
	id, err := parseUUID(s, "actor ID")
	return ActorID(id), err
}

// New functions - generate fresh identifiers.

func NewEnvelopeID() EnvelopeID { return EnvelopeID(uuid.New()) }
func NewSignerID() SignerID     { return SignerID(uuid.New()) }
func NewTenantID() TenantID     { return TenantID(uuid.New()) }
func NewConsentID() ConsentID   { return ConsentID(uuid.New()) }
func NewEventID() EventID       { return EventID(uuid.New()) }
func NewTokenID() TokenID       { return TokenID(uuid.New()) }
func NewActorID() ActorID       { return ActorID(uuid.New()) }

// String methods - for logging and persistence.

func (id EnvelopeID) String() string { return uuid.UUID(id).String() }
func (id SignerID) String() string   { return uuid.UUID(id).String() }
func (id TenantID) String() string   { return uuid.UUID(id).String() }
func (id ConsentID) String() string  { return uuid.UUID(id).String() }
func (id EventID) String() string    { return uuid.UUID(id).String() }
func (id TokenID) String() string    { return uuid.UUID(id).String() }
func (id ActorID) String() string    { return uuid.UUID(id).String() }

// IsZero methods - detect unset identifiers.

func (id EnvelopeID) IsZero() bool { return uuid.UUID(id) == uuid.Nil }
func (id SignerID) IsZero() bool   { return uuid.UUID(id) == uuid.Nil }
func (id TenantID) IsZero() bool   { return uuid.UUID(id) == uuid.Nil }
func (id ConsentID) IsZero() bool  { return uuid.UUID(id) == uuid.Nil }
func (id EventID) IsZero() bool    { return uuid.UUID(id) == uuid.Nil }
func (id TokenID) IsZero() bool    { return uuid.UUID(id) == uuid.Nil }
func (id ActorID) IsZero() bool    { return uuid.UUID(id) == uuid.Nil }

func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeValidation, label+" cannot be empty")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeValidation, "invalid "+label)
	}
	return id, nil
}
