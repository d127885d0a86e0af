package audit

import (
	"time"

	id "signet/pkg/domain"
)

// GenesisHash is the well-known previous-hash for the first event of every
// envelope's chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// EventType enumerates the state changes recorded in the ledger.
type EventType string

const (
	EventEnvelopeSent       EventType = "envelope_sent"
	EventEnvelopeCompleted  EventType = "envelope_completed"
	EventEnvelopeDeclined   EventType = "envelope_declined"
	EventEnvelopeCancelled  EventType = "envelope_cancelled"
	EventEnvelopeExpired    EventType = "envelope_expired"
	EventEnvelopeFinalized  EventType = "envelope_finalized"
	EventSignerInvited      EventType = "signer_invited"
	EventSignatureRequested EventType = "signature_requested"
	EventPartiesReminded    EventType = "parties_reminded"
	EventConsentRecorded    EventType = "consent_recorded"
	EventConsentDelegated   EventType = "consent_delegated"
	EventSignerSigned       EventType = "signer_signed"
	EventSignerDeclined     EventType = "signer_declined"
	EventSignerRemoved      EventType = "signer_removed"
	EventRosterRenumbered   EventType = "roster_renumbered"
)

// Actor describes who caused an event.
type Actor struct {
	ID    string `json:"id"`
	Kind  string `json:"kind"` // owner, signer, system
	Email string `json:"email,omitempty"`
}

// Event is one immutable fact in an envelope's hash chain. Sequence, PrevHash
// and Hash are assigned by the ledger on append; callers provide the rest.
type Event struct {
	ID         id.EventID
	EnvelopeID id.EnvelopeID
	Sequence   int64
	Type       EventType
	Actor      Actor
	Timestamp  time.Time
	Metadata   map[string]any
	PrevHash   string
	Hash       string
}

// chainBody is the canonical projection hashed into the chain. PrevHash is
// committed via the hash prefix, not the body, and Hash is the output.
type chainBody struct {
	ID         string         `json:"id"`
	EnvelopeID string         `json:"envelope_id"`
	Sequence   int64          `json:"sequence"`
	Type       string         `json:"type"`
	Actor      Actor          `json:"actor"`
	Timestamp  string         `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func (e Event) body() chainBody {
	// occurred_at is a TIMESTAMPTZ, which holds microseconds. The hash must
	// commit to the precision the store can round-trip, or rehydrated events
	// would no longer verify.
	return chainBody{
		ID:         e.ID.String(),
		EnvelopeID: e.EnvelopeID.String(),
		Sequence:   e.Sequence,
		Type:       string(e.Type),
		Actor:      e.Actor,
		Timestamp:  e.Timestamp.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano),
		Metadata:   e.Metadata,
	}
}
