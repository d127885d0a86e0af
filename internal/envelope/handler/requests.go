package handler

import (
	"signet/internal/envelope/models"
)

type partyRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
	Role        string `json:"role,omitempty"`
	OrderIndex  int    `json:"order_index"`
	IsOwner     bool   `json:"is_owner,omitempty"`
}

type createRequest struct {
	Title        string         `json:"title"`
	SigningOrder string         `json:"signing_order"`
	ExpiresAt    string         `json:"expires_at,omitempty"`
	Parties      []partyRequest `json:"parties"`
}

type inviteRequest struct {
	PartyIDs []string `json:"party_ids,omitempty"`
}

type requestSignatureRequest struct {
	PartyID string `json:"party_id"`
	Message string `json:"message,omitempty"`
}

type remindRequest struct {
	PartyIDs []string `json:"party_ids,omitempty"`
	Message  string   `json:"message,omitempty"`
}

type consentRequest struct {
	Given   bool   `json:"given"`
	Channel string `json:"channel,omitempty"`
}

type signRequest struct {
	SignerID string          `json:"signer_id,omitempty"`
	Consent  *consentRequest `json:"consent,omitempty"`
}

type declineRequest struct {
	SignerID string `json:"signer_id,omitempty"`
	Reason   string `json:"reason"`
}

type cancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

type finalizeRequest struct {
	Message string `json:"message,omitempty"`
}

type addSignerRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
	Role        string `json:"role,omitempty"`
	OrderIndex  int    `json:"order_index"`
}

func (r partyRequest) role() models.SignerRole {
	if r.Role == "" {
		return models.RoleSigner
	}
	return models.SignerRole(r.Role)
}
