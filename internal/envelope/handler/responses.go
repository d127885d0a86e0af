package handler

import (
	"time"

	"signet/internal/audit"
	"signet/internal/envelope/models"
	"signet/internal/envelope/service"
)

type signerResponse struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	DisplayName   string     `json:"display_name,omitempty"`
	Role          string     `json:"role"`
	OrderIndex    int        `json:"order_index"`
	Status        string     `json:"status"`
	IsOwner       bool       `json:"is_owner,omitempty"`
	ConsentGiven  bool       `json:"consent_given"`
	SignedAt      *time.Time `json:"signed_at,omitempty"`
	DeclineReason string     `json:"decline_reason,omitempty"`
}

type envelopeResponse struct {
	ID           string           `json:"id"`
	TenantID     string           `json:"tenant_id"`
	Title        string           `json:"title"`
	Status       string           `json:"status"`
	SigningOrder string           `json:"signing_order"`
	CreatorID    string           `json:"creator_id"`
	ExpiresAt    *time.Time       `json:"expires_at,omitempty"`
	Version      int64            `json:"version"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
	Signers      []signerResponse `json:"signers"`
}

func toEnvelopeResponse(envelope *models.Envelope) envelopeResponse {
	resp := envelopeResponse{
		ID:           envelope.ID.String(),
		TenantID:     envelope.TenantID.String(),
		Title:        envelope.Title,
		Status:       string(envelope.Status),
		SigningOrder: string(envelope.SigningOrder),
		CreatorID:    envelope.CreatorID.String(),
		ExpiresAt:    envelope.ExpiresAt,
		Version:      envelope.Version,
		CreatedAt:    envelope.CreatedAt,
		UpdatedAt:    envelope.UpdatedAt,
	}
	for _, signer := range envelope.Signers {
		resp.Signers = append(resp.Signers, signerResponse{
			ID:            signer.ID.String(),
			Email:         signer.Email,
			DisplayName:   signer.DisplayName,
			Role:          string(signer.Role),
			OrderIndex:    signer.OrderIndex,
			Status:        string(signer.Status),
			IsOwner:       signer.IsOwner,
			ConsentGiven:  signer.ConsentGiven,
			SignedAt:      signer.SignedAt,
			DeclineReason: signer.DeclineReason,
		})
	}
	return resp
}

type commandResponse struct {
	EnvelopeID   string   `json:"envelope_id"`
	Status       string   `json:"status"`
	Version      int64    `json:"version"`
	SignerID     string   `json:"signer_id,omitempty"`
	SignerStatus string   `json:"signer_status,omitempty"`
	Events       []string `json:"events,omitempty"`
	Replayed     bool     `json:"replayed,omitempty"`
}

func toCommandResponse(result *service.Result) commandResponse {
	return commandResponse{
		EnvelopeID:   result.EnvelopeID,
		Status:       string(result.Status),
		Version:      result.Version,
		SignerID:     result.SignerID,
		SignerStatus: string(result.SignerStatus),
		Events:       result.Events,
		Replayed:     result.Replayed,
	}
}

type auditEventResponse struct {
	ID         string         `json:"id"`
	Sequence   int64          `json:"sequence"`
	Type       string         `json:"type"`
	Actor      audit.Actor    `json:"actor"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	PrevHash   string         `json:"prev_hash"`
	Hash       string         `json:"hash"`
}

func toAuditResponse(events []audit.Event) []auditEventResponse {
	out := make([]auditEventResponse, 0, len(events))
	for _, event := range events {
		out = append(out, auditEventResponse{
			ID:        event.ID.String(),
			Sequence:  event.Sequence,
			Type:      string(event.Type),
			Actor:     event.Actor,
			Timestamp: event.Timestamp,
			Metadata:  event.Metadata,
			PrevHash:  event.PrevHash,
			Hash:      event.Hash,
		})
	}
	return out
}

type verifyResponse struct {
	Valid            bool  `json:"valid"`
	FirstBadSequence int64 `json:"first_bad_sequence,omitempty"`
}
