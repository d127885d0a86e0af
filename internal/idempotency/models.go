package idempotency

import (
	"time"

	id "signet/pkg/domain"
)

// Record is the stored reservation for one logical command.
// The fingerprint (or client-supplied key) is unique within its scope; the
// payload hash detects a reused client key carrying a different command.
type Record struct {
	Scope       string
	Key         string
	PayloadHash string
	Result      []byte
	Completed   bool
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the reservation's window has closed.
func (r Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// Scope builds the deduplication scope for an envelope's commands. Records
// for different tenants or envelopes never collide.
func Scope(tenant id.TenantID, envelope id.EnvelopeID) string {
	return "idem:" + tenant.String() + ":" + envelope.String()
}

// Outcome reports the result of a reservation attempt.
type Outcome struct {
	// Fresh means this caller holds the reservation and must execute the
	// command, then record its result or release the reservation.
	Fresh bool
	// PriorResult is the recorded response snapshot for a duplicate whose
	// original execution completed.
	PriorResult []byte
	// InFlight marks a duplicate whose original execution has not yet
	// recorded a result.
	InFlight bool
}
