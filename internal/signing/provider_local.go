package signing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"

	"signet/pkg/requestcontext"
)

// LocalProvider signs digests with an in-process HMAC key. It stands in for
// the real provider in development and tests.
type LocalProvider struct {
	key []byte
}

// NewLocalProvider constructs a local HMAC signer.
func NewLocalProvider(key []byte) *LocalProvider {
	return &LocalProvider{key: key}
}

func (p *LocalProvider) Sign(ctx context.Context, req Request) (*Result, error) {
	if len(req.Digest) == 0 {
		return nil, &ProviderError{Message: "empty digest"}
	}
	mac := hmac.New(sha256.New, p.key)
	mac.Write(req.Digest)
	return &Result{
		Signature: mac.Sum(nil),
		KeyRef:    req.KeyRef,
		Algorithm: AlgorithmHMACSHA256,
		SignedAt:  requestcontext.Now(ctx),
	}, nil
}
