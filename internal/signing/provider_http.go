package signing

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	contract "signet/contracts/signing"
)

// HTTPProvider calls a remote signing service over JSON/HTTP.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

// NewHTTPProvider constructs a provider for the given base URL. A nil client
// falls back to a default with a conservative timeout.
func NewHTTPProvider(baseURL string, client *http.Client) *HTTPProvider {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPProvider{baseURL: baseURL, client: client}
}

func (p *HTTPProvider) Sign(ctx context.Context, req Request) (*Result, error) {
	body, err := json.Marshal(contract.SignRequest{
		KeyRef:    req.KeyRef,
		Algorithm: req.Algorithm,
		Digest:    base64.StdEncoding.EncodeToString(req.Digest),
	})
	if err != nil {
		return nil, &ProviderError{Message: fmt.Sprintf("encode request: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/sign", bytes.NewReader(body))
	if err != nil {
		return nil, &ProviderError{Message: fmt.Sprintf("build request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		// Connection failures and timeouts are transient.
		return nil, &ProviderError{Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{
			StatusCode: resp.StatusCode,
			Message:    "unexpected status",
			Retryable:  resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
		}
	}

	var out contract.SignResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &ProviderError{Message: fmt.Sprintf("decode response: %v", err), Retryable: true}
	}
	sig, err := base64.StdEncoding.DecodeString(out.Signature)
	if err != nil {
		return nil, &ProviderError{Message: "malformed signature in response"}
	}
	return &Result{
		Signature: sig,
		KeyRef:    out.KeyRef,
		Algorithm: out.Algorithm,
		SignedAt:  out.SignedAt,
	}, nil
}
