package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigestDeterministicForSameState(t *testing.T) {
	a := map[string]any{
		"b": 2,
		"a": map[string]any{"y": 2, "x": 1},
	}
	b := map[string]any{
		"a": map[string]any{"x": 1, "y": 2},
		"b": 2,
	}

	ha, err := Digest(a)
	require.NoError(t, err)
	hb, err := Digest(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestDigestChangesWhenStateChanges(t *testing.T) {
	ha, err := Digest(map[string]any{"a": 1})
	require.NoError(t, err)
	hb, err := Digest(map[string]any{"a": 2})
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb)
}

func TestDigestStructAndMapAgree(t *testing.T) {
	type payload struct {
		Op     string `json:"op"`
		Tenant string `json:"tenant"`
	}
	hs, err := Digest(payload{Op: "sign", Tenant: "t1"})
	require.NoError(t, err)
	hm, err := Digest(map[string]any{"tenant": "t1", "op": "sign"})
	require.NoError(t, err)
	assert.Equal(t, hs, hm)
}

func TestEncodePreservesNumberLiterals(t *testing.T) {
	// Large integers must not pass through float64 and lose precision.
	out, err := Encode(map[string]any{"seq": int64(9007199254740993)})
	require.NoError(t, err)
	assert.Equal(t, `{"seq":9007199254740993}`, string(out))
}

func TestChainDigestCommitsToPredecessor(t *testing.T) {
	event := map[string]any{"type": "envelope_sent"}

	h1, err := ChainDigest("aaaa", event)
	require.NoError(t, err)
	h2, err := ChainDigest("bbbb", event)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)

	again, err := ChainDigest("aaaa", event)
	require.NoError(t, err)
	assert.Equal(t, h1, again)
}
