// Package retry implements bounded exponential backoff with jitter for calls
// to external collaborators. Jitter randomness comes from a cryptographically
// sound source with rejection sampling; biased backoff timing under load is a
// correctness problem, not a cosmetic one.
package retry

import (
	"crypto/rand"
	"encoding/binary"
	"math"
	"time"

	dErrors "signet/pkg/domain-errors"
)

// JitterStrategy selects how the exponential delay is randomized.
type JitterStrategy string

const (
	// JitterNone returns the deterministic exponential delay.
	JitterNone JitterStrategy = "none"
	// JitterFull draws uniformly from [0, exp].
	JitterFull JitterStrategy = "full"
	// JitterDecorrelated draws uniformly from [base, min(cap, exp*3)].
	JitterDecorrelated JitterStrategy = "decorrelated"
)

// RandomSource yields uniform integers in [0, max). Injectable for
// deterministic tests.
type RandomSource interface {
	Uint64n(max uint64) (uint64, error)
}

// CryptoSource draws from crypto/rand with rejection sampling to avoid
// modulo bias.
type CryptoSource struct{}

// Uint64n returns a uniform value in [0, max).
func (CryptoSource) Uint64n(max uint64) (uint64, error) {
	if max == 0 {
		return 0, dErrors.New(dErrors.CodeValidation, "max must be positive")
	}
	// Largest multiple of max that fits in a uint64. Values at or above it
	// would wrap unevenly under modulo, so they are rejected and redrawn.
	limit := math.MaxUint64 - (math.MaxUint64 % max)
	var buf [8]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, dErrors.Wrap(err, dErrors.CodeInternal, "could not read random bytes")
		}
		v := binary.BigEndian.Uint64(buf[:])
		if v < limit {
			return v % max, nil
		}
	}
}

// Policy computes delays and gates retry attempts.
type Policy struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
	Strategy    JitterStrategy
	Source      RandomSource
}

// NewPolicy returns a policy with the crypto-backed random source.
func NewPolicy(base, cap time.Duration, maxAttempts int, strategy JitterStrategy) Policy {
	return Policy{
		Base:        base,
		Cap:         cap,
		MaxAttempts: maxAttempts,
		Strategy:    strategy,
		Source:      CryptoSource{},
	}
}

// ComputeDelay returns the backoff delay before the given attempt.
// Attempt numbering starts at 0 for the first retry.
func (p Policy) ComputeDelay(attempt int) (time.Duration, error) {
	if attempt < 0 {
		return 0, dErrors.New(dErrors.CodeValidation, "attempt must not be negative")
	}
	exp := p.exponential(attempt)

	switch p.Strategy {
	case JitterNone, "":
		return exp, nil
	case JitterFull:
		if exp <= 0 {
			return 0, nil
		}
		n, err := p.source().Uint64n(uint64(exp) + 1)
		if err != nil {
			return 0, err
		}
		return time.Duration(n), nil
	case JitterDecorrelated:
		upper := exp * 3
		if upper > p.Cap || upper < 0 {
			upper = p.Cap
		}
		if upper <= p.Base {
			return p.Base, nil
		}
		span := uint64(upper-p.Base) + 1
		n, err := p.source().Uint64n(span)
		if err != nil {
			return 0, err
		}
		return p.Base + time.Duration(n), nil
	default:
		return 0, dErrors.New(dErrors.CodeValidation, "unknown jitter strategy: "+string(p.Strategy))
	}
}

// ShouldRetry reports whether another attempt is allowed: the attempt budget
// must not be exhausted and the error must be classified retryable.
func (p Policy) ShouldRetry(attempt int, err error, retryable func(error) bool) bool {
	if err == nil {
		return false
	}
	if attempt+1 >= p.MaxAttempts {
		return false
	}
	if retryable == nil {
		return false
	}
	return retryable(err)
}

// exponential returns min(cap, base * 2^attempt), guarding overflow.
func (p Policy) exponential(attempt int) time.Duration {
	if p.Base <= 0 {
		return 0
	}
	// base * 2^attempt overflows quickly; cap the shift before multiplying.
	if attempt > 62 {
		return p.Cap
	}
	d := p.Base << uint(attempt)
	if d <= 0 || d > p.Cap {
		return p.Cap
	}
	return d
}

func (p Policy) source() RandomSource {
	if p.Source != nil {
		return p.Source
	}
	return CryptoSource{}
}
