package retry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubSource returns scripted values and records the max bounds it was asked for.
type stubSource struct {
	values []uint64
	maxes  []uint64
}

func (s *stubSource) Uint64n(max uint64) (uint64, error) {
	s.maxes = append(s.maxes, max)
	if len(s.values) == 0 {
		return 0, nil
	}
	v := s.values[0]
	s.values = s.values[1:]
	return v % max, nil
}

func TestComputeDelayNone(t *testing.T) {
	p := NewPolicy(100*time.Millisecond, 2*time.Second, 5, JitterNone)

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{4, 1600 * time.Millisecond},
		{5, 2 * time.Second},   // capped
		{100, 2 * time.Second}, // shift guard
	}
	for _, tc := range cases {
		got, err := p.ComputeDelay(tc.attempt)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "attempt %d", tc.attempt)
	}
}

func TestComputeDelayNegativeAttempt(t *testing.T) {
	p := NewPolicy(time.Millisecond, time.Second, 3, JitterNone)
	_, err := p.ComputeDelay(-1)
	require.Error(t, err)
}

func TestComputeDelayFullJitter(t *testing.T) {
	src := &stubSource{values: []uint64{12345}}
	p := Policy{Base: 100 * time.Millisecond, Cap: time.Second, MaxAttempts: 3, Strategy: JitterFull, Source: src}

	got, err := p.ComputeDelay(1)
	require.NoError(t, err)

	// Draw range is [0, exp] inclusive, so the source bound is exp+1.
	require.Len(t, src.maxes, 1)
	assert.Equal(t, uint64(200*time.Millisecond)+1, src.maxes[0])
	assert.GreaterOrEqual(t, got, time.Duration(0))
	assert.LessOrEqual(t, got, 200*time.Millisecond)
}

func TestComputeDelayFullJitterBounds(t *testing.T) {
	p := NewPolicy(50*time.Millisecond, time.Second, 5, JitterFull)
	for attempt := 0; attempt < 5; attempt++ {
		for i := 0; i < 25; i++ {
			d, err := p.ComputeDelay(attempt)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, d, time.Duration(0))
			assert.LessOrEqual(t, d, p.exponential(attempt))
		}
	}
}

func TestComputeDelayDecorrelated(t *testing.T) {
	src := &stubSource{values: []uint64{0}}
	p := Policy{Base: 100 * time.Millisecond, Cap: 10 * time.Second, MaxAttempts: 3, Strategy: JitterDecorrelated, Source: src}

	got, err := p.ComputeDelay(0)
	require.NoError(t, err)
	// Lower bound of the draw is always base.
	assert.Equal(t, 100*time.Millisecond, got)

	// Upper bound is min(cap, exp*3): exp(2)=400ms, so span covers [100ms, 1200ms].
	require.Len(t, src.maxes, 1)
	assert.Equal(t, uint64(200*time.Millisecond)+1, src.maxes[0])
}

func TestComputeDelayDecorrelatedCapped(t *testing.T) {
	p := NewPolicy(100*time.Millisecond, 500*time.Millisecond, 5, JitterDecorrelated)
	for i := 0; i < 25; i++ {
		d, err := p.ComputeDelay(4)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 500*time.Millisecond)
	}
}

func TestShouldRetry(t *testing.T) {
	p := NewPolicy(time.Millisecond, time.Second, 3, JitterNone)
	transient := errors.New("transient")
	isTransient := func(err error) bool { return errors.Is(err, transient) }

	t.Run("retryable error within budget", func(t *testing.T) {
		assert.True(t, p.ShouldRetry(0, transient, isTransient))
		assert.True(t, p.ShouldRetry(1, transient, isTransient))
	})

	t.Run("budget exhausted", func(t *testing.T) {
		assert.False(t, p.ShouldRetry(2, transient, isTransient))
	})

	t.Run("terminal error", func(t *testing.T) {
		assert.False(t, p.ShouldRetry(0, errors.New("terminal"), isTransient))
	})

	t.Run("nil error", func(t *testing.T) {
		assert.False(t, p.ShouldRetry(0, nil, isTransient))
	})
}

func TestCryptoSourceUniformRange(t *testing.T) {
	var src CryptoSource
	for i := 0; i < 100; i++ {
		v, err := src.Uint64n(7)
		require.NoError(t, err)
		assert.Less(t, v, uint64(7))
	}
	_, err := src.Uint64n(0)
	require.Error(t, err)
}
