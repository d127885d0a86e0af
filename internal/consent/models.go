package consent

import (
	"time"

	id "signet/pkg/domain"
)

// Origin captures where a consent came from. The IP is anonymized and the
// user agent reduced to a coarse device fingerprint before storage; consent
// evidence must not become a PII store.
type Origin struct {
	IP                string `json:"ip"`
	DeviceFingerprint string `json:"device_fingerprint,omitempty"`
	Channel           string `json:"channel"` // web, api, invitation_link
}

// Record is proof a signer agreed to sign electronically. One active record
// exists per (envelope, signer); delegation creates a new record linked to
// its source rather than mutating the original.
type Record struct {
	ID            id.ConsentID
	EnvelopeID    id.EnvelopeID
	SignerID      id.SignerID
	GivenAt       time.Time
	Origin        Origin
	DelegatedFrom *id.ConsentID
}
