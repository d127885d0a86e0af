// Package handler is the thin HTTP layer over the envelope lifecycle. It
// decodes requests, resolves the acting party (header identity or a scoped
// invitation token), and delegates to the service without embedding any
// business logic.
package handler

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"signet/internal/audit"
	"signet/internal/consent"
	"signet/internal/envelope/models"
	"signet/internal/envelope/service"
	"signet/internal/token"
	"signet/internal/transport/http/shared"
	sharedjson "signet/internal/transport/http/shared/json"
	id "signet/pkg/domain"
	dErrors "signet/pkg/domain-errors"
)

const (
	headerTenantID       = "X-Tenant-ID"
	headerActorID        = "X-Actor-ID"
	headerActorEmail     = "X-Actor-Email"
	headerIdempotencyKey = "Idempotency-Key"
)

// Handler exposes the envelope lifecycle over HTTP.
type Handler struct {
	service *service.Service
	tokens  *token.Service
	logger  *slog.Logger
}

// New constructs the envelope handler. tokens may be nil when external
// signer access is disabled.
func New(svc *service.Service, tokens *token.Service, logger *slog.Logger) *Handler {
	return &Handler{service: svc, tokens: tokens, logger: logger}
}

// Mount registers the envelope routes on the router.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/envelopes", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/", h.handleList)
		r.Route("/{envelopeID}", func(r chi.Router) {
			r.Get("/", h.handleGet)
			r.Post("/invite", h.handleInvite)
			r.Post("/request-signature", h.handleRequestSignature)
			r.Post("/remind", h.handleRemind)
			r.Post("/sign", h.handleSign)
			r.Post("/decline", h.handleDecline)
			r.Post("/cancel", h.handleCancel)
			r.Post("/finalize", h.handleFinalize)
			r.Post("/signers", h.handleAddSigner)
			r.Delete("/signers/{signerID}", h.handleRemoveSigner)
			r.Get("/audit", h.handleAuditTrail)
			r.Get("/audit/verify", h.handleAuditVerify)
		})
	})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	creatorID, err := id.ParseActorID(r.Header.Get(headerActorID))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing actor identity"))
		return
	}

	order := models.SigningOrder(req.SigningOrder)
	if req.SigningOrder == "" {
		order = models.OrderParallel
	}
	cmd := service.CreateCommand{
		TenantID:     tenantID,
		Title:        req.Title,
		SigningOrder: order,
		CreatorID:    creatorID,
	}
	if req.ExpiresAt != "" {
		expiresAt, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			shared.WriteError(w, dErrors.New(dErrors.CodeValidation, "expires_at must be RFC 3339"))
			return
		}
		cmd.ExpiresAt = &expiresAt
	}
	for _, party := range req.Parties {
		cmd.Parties = append(cmd.Parties, service.PartyInput{
			Email:       party.Email,
			DisplayName: party.DisplayName,
			Role:        party.role(),
			OrderIndex:  party.OrderIndex,
			IsOwner:     party.IsOwner,
		})
	}

	envelope, err := h.service.Create(r.Context(), cmd)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	sharedjson.WriteJSON(w, http.StatusCreated, toEnvelopeResponse(envelope))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	envelopes, err := h.service.List(r.Context(), tenantID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	out := make([]envelopeResponse, 0, len(envelopes))
	for _, envelope := range envelopes {
		out = append(out, toEnvelopeResponse(envelope))
	}
	sharedjson.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	envelopeID, err := envelopeFrom(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	envelope, err := h.service.Get(r.Context(), envelopeID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	sharedjson.WriteJSON(w, http.StatusOK, toEnvelopeResponse(envelope))
}

func (h *Handler) handleInvite(w http.ResponseWriter, r *http.Request) {
	ctxReq, err := h.commandContext(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req inviteRequest
	if err := decodeOptional(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	partyIDs, err := parseSignerIDs(req.PartyIDs)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	result, err := h.service.Invite(r.Context(), service.InviteCommand{
		EnvelopeID:     ctxReq.envelopeID,
		TenantID:       ctxReq.tenantID,
		PartyIDs:       partyIDs,
		Actor:          ctxReq.actor,
		IdempotencyKey: ctxReq.idempotencyKey,
	})
	h.respond(w, result, err)
}

func (h *Handler) handleRequestSignature(w http.ResponseWriter, r *http.Request) {
	ctxReq, err := h.commandContext(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req requestSignatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	partyID, err := id.ParseSignerID(req.PartyID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	result, err := h.service.RequestSignature(r.Context(), service.RequestSignatureCommand{
		EnvelopeID:     ctxReq.envelopeID,
		TenantID:       ctxReq.tenantID,
		PartyID:        partyID,
		Message:        req.Message,
		Actor:          ctxReq.actor,
		IdempotencyKey: ctxReq.idempotencyKey,
	})
	h.respond(w, result, err)
}

func (h *Handler) handleRemind(w http.ResponseWriter, r *http.Request) {
	ctxReq, err := h.commandContext(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req remindRequest
	if err := decodeOptional(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	partyIDs, err := parseSignerIDs(req.PartyIDs)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	result, err := h.service.RemindParties(r.Context(), service.RemindCommand{
		EnvelopeID:     ctxReq.envelopeID,
		TenantID:       ctxReq.tenantID,
		PartyIDs:       partyIDs,
		Message:        req.Message,
		Actor:          ctxReq.actor,
		IdempotencyKey: ctxReq.idempotencyKey,
	})
	h.respond(w, result, err)
}

// handleSign accepts either an internal caller naming the signer or an
// external signer presenting an invitation token. The token stays live until
// the command commits; a rejected attempt must not cost the signer their
// credential.
func (h *Handler) handleSign(w http.ResponseWriter, r *http.Request) {
	ctxReq, err := h.commandContext(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req signRequest
	if err := decodeOptional(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	signerID, actor, grant, err := h.resolveSigner(r, ctxReq, req.SignerID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	var origin *consent.Origin
	if req.Consent != nil && req.Consent.Given {
		o := consent.NewOrigin(clientIP(r), r.UserAgent(), req.Consent.Channel)
		origin = &o
	}

	result, err := h.service.Sign(r.Context(), service.SignCommand{
		EnvelopeID:     ctxReq.envelopeID,
		TenantID:       ctxReq.tenantID,
		SignerID:       signerID,
		Consent:        origin,
		Actor:          actor,
		IdempotencyKey: ctxReq.idempotencyKey,
	})
	if err == nil {
		h.consumeGrant(r, grant)
	}
	h.respond(w, result, err)
}

func (h *Handler) handleDecline(w http.ResponseWriter, r *http.Request) {
	ctxReq, err := h.commandContext(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req declineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	signerID, actor, grant, err := h.resolveSigner(r, ctxReq, req.SignerID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	result, err := h.service.Decline(r.Context(), service.DeclineCommand{
		EnvelopeID:     ctxReq.envelopeID,
		TenantID:       ctxReq.tenantID,
		SignerID:       signerID,
		Reason:         req.Reason,
		Actor:          actor,
		IdempotencyKey: ctxReq.idempotencyKey,
	})
	if err == nil {
		h.consumeGrant(r, grant)
	}
	h.respond(w, result, err)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctxReq, err := h.commandContext(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req cancelRequest
	if err := decodeOptional(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	result, err := h.service.Cancel(r.Context(), service.CancelCommand{
		EnvelopeID:     ctxReq.envelopeID,
		TenantID:       ctxReq.tenantID,
		Reason:         req.Reason,
		Actor:          ctxReq.actor,
		IdempotencyKey: ctxReq.idempotencyKey,
	})
	h.respond(w, result, err)
}

func (h *Handler) handleFinalize(w http.ResponseWriter, r *http.Request) {
	ctxReq, err := h.commandContext(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req finalizeRequest
	if err := decodeOptional(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	result, err := h.service.Finalize(r.Context(), service.FinalizeCommand{
		EnvelopeID:     ctxReq.envelopeID,
		TenantID:       ctxReq.tenantID,
		Message:        req.Message,
		Actor:          ctxReq.actor,
		IdempotencyKey: ctxReq.idempotencyKey,
	})
	h.respond(w, result, err)
}

func (h *Handler) handleAddSigner(w http.ResponseWriter, r *http.Request) {
	ctxReq, err := h.commandContext(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req addSignerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	role := models.SignerRole(req.Role)
	if req.Role == "" {
		role = models.RoleSigner
	}
	result, err := h.service.AddSigner(r.Context(), service.AddSignerCommand{
		EnvelopeID: ctxReq.envelopeID,
		TenantID:   ctxReq.tenantID,
		Party: service.PartyInput{
			Email:       req.Email,
			DisplayName: req.DisplayName,
			Role:        role,
			OrderIndex:  req.OrderIndex,
		},
		Actor:          ctxReq.actor,
		IdempotencyKey: ctxReq.idempotencyKey,
	})
	h.respond(w, result, err)
}

func (h *Handler) handleRemoveSigner(w http.ResponseWriter, r *http.Request) {
	ctxReq, err := h.commandContext(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	signerID, err := id.ParseSignerID(chi.URLParam(r, "signerID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	result, err := h.service.RemoveSigner(r.Context(), service.RemoveSignerCommand{
		EnvelopeID:     ctxReq.envelopeID,
		TenantID:       ctxReq.tenantID,
		SignerID:       signerID,
		Actor:          ctxReq.actor,
		IdempotencyKey: ctxReq.idempotencyKey,
	})
	h.respond(w, result, err)
}

func (h *Handler) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	envelopeID, err := envelopeFrom(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	events, err := h.service.AuditTrail(r.Context(), envelopeID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	sharedjson.WriteJSON(w, http.StatusOK, toAuditResponse(events))
}

func (h *Handler) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	envelopeID, err := envelopeFrom(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	valid, firstBad, err := h.service.VerifyTrail(r.Context(), envelopeID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	resp := verifyResponse{Valid: valid}
	if !valid {
		resp.FirstBadSequence = firstBad
	}
	sharedjson.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) respond(w http.ResponseWriter, result *service.Result, err error) {
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	sharedjson.WriteJSON(w, http.StatusOK, toCommandResponse(result))
}

// commandRequest is the per-request context shared by every command route.
type commandRequest struct {
	envelopeID     id.EnvelopeID
	tenantID       id.TenantID
	actor          audit.Actor
	idempotencyKey string
}

func (h *Handler) commandContext(r *http.Request) (*commandRequest, error) {
	envelopeID, err := envelopeFrom(r)
	if err != nil {
		return nil, err
	}
	tenantID, err := tenantFrom(r)
	if err != nil {
		return nil, err
	}
	actor := audit.Actor{
		ID:    r.Header.Get(headerActorID),
		Kind:  "owner",
		Email: r.Header.Get(headerActorEmail),
	}
	return &commandRequest{
		envelopeID:     envelopeID,
		tenantID:       tenantID,
		actor:          actor,
		idempotencyKey: r.Header.Get(headerIdempotencyKey),
	}, nil
}

// resolveSigner determines who is acting. A bearer invitation token scopes
// the action to its envelope/signer pair and overrides any body-supplied
// signer. The returned grant, if any, is consumed by the caller once the
// terminal command commits.
func (h *Handler) resolveSigner(r *http.Request, ctxReq *commandRequest, bodySignerID string) (id.SignerID, audit.Actor, *token.Grant, error) {
	bearer := bearerToken(r)
	if bearer != "" && h.tokens != nil {
		grant, err := h.tokens.Validate(r.Context(), bearer)
		if err != nil {
			return id.SignerID{}, audit.Actor{}, nil, err
		}
		if grant.EnvelopeID != ctxReq.envelopeID {
			return id.SignerID{}, audit.Actor{}, nil, dErrors.New(dErrors.CodeForbidden, "token is not valid for this envelope")
		}
		return grant.SignerID, audit.Actor{ID: grant.SignerID.String(), Kind: "signer"}, grant, nil
	}

	if ctxReq.actor.ID == "" {
		return id.SignerID{}, audit.Actor{}, nil, dErrors.New(dErrors.CodeUnauthorized, "missing actor identity or invitation token")
	}
	signerID, err := id.ParseSignerID(bodySignerID)
	if err != nil {
		return id.SignerID{}, audit.Actor{}, nil, err
	}
	actor := ctxReq.actor
	actor.Kind = "signer"
	return signerID, actor, nil, nil
}

// consumeGrant retires an invitation token once the terminal command it
// authorized has committed. A lost consume race means a concurrent request
// already retired it; the command outcome stands either way.
func (h *Handler) consumeGrant(r *http.Request, grant *token.Grant) {
	if grant == nil {
		return
	}
	if err := h.tokens.Consume(r.Context(), grant.TokenID); err != nil && h.logger != nil {
		h.logger.WarnContext(r.Context(), "invitation token consume failed",
			"token_id", grant.TokenID.String(),
			"error", err,
		)
	}
}

func envelopeFrom(r *http.Request) (id.EnvelopeID, error) {
	return id.ParseEnvelopeID(chi.URLParam(r, "envelopeID"))
}

func tenantFrom(r *http.Request) (id.TenantID, error) {
	raw := r.Header.Get(headerTenantID)
	if raw == "" {
		return id.TenantID{}, dErrors.New(dErrors.CodeUnauthorized, "missing tenant identity")
	}
	return id.ParseTenantID(raw)
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func parseSignerIDs(raw []string) ([]id.SignerID, error) {
	out := make([]id.SignerID, 0, len(raw))
	for _, value := range raw {
		signerID, err := id.ParseSignerID(value)
		if err != nil {
			return nil, err
		}
		out = append(out, signerID)
	}
	return out, nil
}

// decodeOptional parses a body that may legitimately be empty.
func decodeOptional(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return dErrors.New(dErrors.CodeBadRequest, "invalid request body")
	}
	return nil
}
