package signing

import "time"

// ContractVersion identifies the signing provider wire schema shared between
// the service and provider implementations.
const ContractVersion = "v0.1.0"

// SignRequest is the body POSTed to the provider's /sign endpoint.
// Digest is standard base64.
type SignRequest struct {
	KeyRef    string `json:"key_ref"`
	Algorithm string `json:"algorithm"`
	Digest    string `json:"digest"`
}

// SignResponse is the provider's reply on success. Signature is standard
// base64.
type SignResponse struct {
	Signature string    `json:"signature"`
	KeyRef    string    `json:"key_ref"`
	Algorithm string    `json:"algorithm"`
	SignedAt  time.Time `json:"signed_at"`
}
