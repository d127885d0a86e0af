// Package signing defines the port to the external signing provider and
// adapters for it. The service layer adds bounded retries with jitter and a
// per-attempt timeout; cryptographic signing itself happens on the other
// side of the port.
package signing

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// AlgorithmHMACSHA256 is the algorithm used by the local test signer.
const AlgorithmHMACSHA256 = "HMAC-SHA256"

// Request asks the provider to sign a precomputed digest.
type Request struct {
	KeyRef    string
	Algorithm string
	Digest    []byte
}

// Result is a completed signature from the provider.
type Result struct {
	Signature []byte
	KeyRef    string
	Algorithm string
	SignedAt  time.Time
}

// ProviderError classifies a failed provider call. Retryable errors are
// transient (timeouts, 5xx, throttling); non-retryable ones indicate the
// request itself is bad and repeating it cannot help.
type ProviderError struct {
	StatusCode int
	Message    string
	Retryable  bool
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("signing provider: %s (status %d)", e.Message, e.StatusCode)
	}
	return "signing provider: " + e.Message
}

// IsRetryable reports whether the error is worth another attempt. Timeouts
// of a single attempt count as retryable; exhaustion of the parent context
// is checked by the retry loop itself.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return errors.Is(err, context.DeadlineExceeded)
}
