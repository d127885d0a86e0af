package ratelimit

import (
	"fmt"
	"time"

	id "signet/pkg/domain"
)

// Key scopes a counter to (tenant, envelope, operation).
type Key struct {
	Tenant    id.TenantID
	Envelope  id.EnvelopeID
	Operation string
}

// String renders the storage key. The format is part of the store contract;
// changing it discards live counters.
func (k Key) String() string {
	return fmt.Sprintf("rl:%s:%s:%s", k.Tenant, k.Envelope, k.Operation)
}

// Result reports the counter state after an increment attempt.
type Result struct {
	Allowed bool
	Count   int
	Limit   int
	ResetIn time.Duration
}

// ResetInSeconds rounds the reset interval up to whole seconds for transport
// headers and error payloads.
func (r Result) ResetInSeconds() int {
	secs := int((r.ResetIn + time.Second - 1) / time.Second)
	if secs < 0 {
		return 0
	}
	return secs
}
