// Package canonical produces a byte-stable JSON encoding and SHA-256 digests
// over it. Two structurally equal values always encode to the same bytes
// regardless of map iteration order or the field order of the source struct,
// which makes the encoding safe to hash for idempotency fingerprints and
// audit chain links.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	dErrors "signet/pkg/domain-errors"
)

// Encode returns the canonical JSON bytes for v.
//
// The value is first marshalled with encoding/json, then rebuilt through a
// generic representation and marshalled again. The round trip collapses
// struct-field ordering into the JSON-tag key order and lets encoding/json's
// sorted map-key output apply uniformly. Numbers pass through as raw
// json.Number literals so no float re-formatting occurs.
func Encode(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "canonical encode failed")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "canonical normalize failed")
	}

	out, err := json.Marshal(generic)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "canonical re-encode failed")
	}
	return out, nil
}

// Digest returns the lowercase hex SHA-256 of the canonical encoding of v.
func Digest(v any) (string, error) {
	b, err := Encode(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// ChainDigest hashes the canonical encoding of v linked to a previous hex
// digest: hex(sha256(prevHex || canonical(v))). It is the single place that
// defines how audit chain links commit to their predecessor.
func ChainDigest(prevHex string, v any) (string, error) {
	b, err := Encode(v)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(prevHex))
	h.Write(b)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DigestBytes returns the lowercase hex SHA-256 of raw bytes. Used where the
// caller already holds a stable byte representation.
func DigestBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
