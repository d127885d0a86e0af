package audit

import (
	"context"

	id "signet/pkg/domain"
)

// Store persists chained audit events.
// Error Contract:
// - Append writes all events atomically and returns sentinel.ErrSequenceConflict
//   when any (envelope, sequence) slot is already taken by a concurrent append
// - Latest returns sentinel.ErrNotFound for an envelope with no events
// - ListByEnvelope returns events in ascending sequence order from a snapshot
// - Exists reports whether an event ID is already present for the envelope
type Store interface {
	Append(ctx context.Context, events []Event) error
	Latest(ctx context.Context, envelopeID id.EnvelopeID) (*Event, error)
	ListByEnvelope(ctx context.Context, envelopeID id.EnvelopeID) ([]Event, error)
	Exists(ctx context.Context, envelopeID id.EnvelopeID, eventID id.EventID) (bool, error)
}
