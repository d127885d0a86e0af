package models

import (
	"time"

	id "signet/pkg/domain"
	dErrors "signet/pkg/domain-errors"
)

// Signer is one party on an envelope's roster.
//
// A SIGNED or DECLINED signer is immutable; further commands touching it are
// state conflicts, not validation errors.
type Signer struct {
	ID            id.SignerID
	EnvelopeID    id.EnvelopeID
	Email         string
	DisplayName   string
	Role          SignerRole
	OrderIndex    int
	Status        SignerStatus
	IsOwner       bool
	ConsentGiven  bool
	ConsentAt     *time.Time
	SignedAt      *time.Time
	DeclineReason string
}

// Active reports whether the signer still has an action outstanding.
// Viewers never block completion.
func (s Signer) Active() bool {
	return s.Role != RoleViewer && !s.Status.IsTerminal()
}

// Envelope is the signable unit: a document package routed through its
// roster under a signing-order policy. Version is the optimistic token
// checked by every conditional write; it never moves except through Save.
type Envelope struct {
	ID           id.EnvelopeID
	TenantID     id.TenantID
	Title        string
	Status       Status
	SigningOrder SigningOrder
	CreatorID    id.ActorID
	ExpiresAt    *time.Time
	Version      int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Signers      []Signer
}

// NewEnvelope creates a draft envelope with domain invariant checks.
func NewEnvelope(envelopeID id.EnvelopeID, tenantID id.TenantID, title string, order SigningOrder, creator id.ActorID, now time.Time) (*Envelope, error) {
	if envelopeID.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "envelope ID required")
	}
	if tenantID.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "tenant ID required")
	}
	if title == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "title required")
	}
	if !order.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "invalid signing order: "+string(order))
	}
	if creator.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "creator ID required")
	}
	return &Envelope{
		ID:           envelopeID,
		TenantID:     tenantID,
		Title:        title,
		Status:       StatusDraft,
		SigningOrder: order,
		CreatorID:    creator,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Clone returns a deep copy. Transitions operate on copies so a failed
// conditional write can re-run from a fresh load without double-mutation.
func (e *Envelope) Clone() *Envelope {
	clone := *e
	clone.Signers = make([]Signer, len(e.Signers))
	copy(clone.Signers, e.Signers)
	if e.ExpiresAt != nil {
		t := *e.ExpiresAt
		clone.ExpiresAt = &t
	}
	for i := range clone.Signers {
		if s := e.Signers[i].ConsentAt; s != nil {
			t := *s
			clone.Signers[i].ConsentAt = &t
		}
		if s := e.Signers[i].SignedAt; s != nil {
			t := *s
			clone.Signers[i].SignedAt = &t
		}
	}
	return &clone
}

// SignerByID returns a pointer into the envelope's roster, or nil.
func (e *Envelope) SignerByID(signerID id.SignerID) *Signer {
	for i := range e.Signers {
		if e.Signers[i].ID == signerID {
			return &e.Signers[i]
		}
	}
	return nil
}

// Owner returns the roster entry marked as the envelope owner, or nil.
func (e *Envelope) Owner() *Signer {
	for i := range e.Signers {
		if e.Signers[i].IsOwner {
			return &e.Signers[i]
		}
	}
	return nil
}

// ActiveSigners returns the parties that still have an action outstanding.
func (e *Envelope) ActiveSigners() []Signer {
	var active []Signer
	for _, s := range e.Signers {
		if s.Active() {
			active = append(active, s)
		}
	}
	return active
}

// AllSigned reports whether every non-viewer party has signed. Removed
// parties no longer count toward completion.
func (e *Envelope) AllSigned() bool {
	signed := 0
	for _, s := range e.Signers {
		if s.Role == RoleViewer || s.Status == SignerRemoved {
			continue
		}
		if s.Status != SignerSigned {
			return false
		}
		signed++
	}
	return signed > 0
}

// PastExpiry reports whether the envelope's deadline has elapsed.
func (e *Envelope) PastExpiry(now time.Time) bool {
	return e.ExpiresAt != nil && now.After(*e.ExpiresAt)
}

// OrderWellDefined reports whether order indices are unique across
// non-viewer parties. Required before sending unless the order is parallel.
func (e *Envelope) OrderWellDefined() bool {
	seen := make(map[int]bool, len(e.Signers))
	for _, s := range e.Signers {
		if s.Role == RoleViewer {
			continue
		}
		if seen[s.OrderIndex] {
			return false
		}
		seen[s.OrderIndex] = true
	}
	return true
}
