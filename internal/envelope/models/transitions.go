package models

import (
	"fmt"
	"time"

	"signet/internal/audit"
	id "signet/pkg/domain"
	dErrors "signet/pkg/domain-errors"
)

// Transition is the computed effect of one command: the next aggregate
// snapshot plus the audit events that record the change. Transitions never
// mutate their input, so a failed conditional write can recompute from a
// fresh load.
type Transition struct {
	Envelope *Envelope
	Events   []audit.Event
	// Changed is false when the command was already reflected in the
	// aggregate. Nothing is written or appended for such a transition.
	Changed bool
	// Completed marks the transition that moved the envelope to COMPLETED.
	Completed bool
}

func noop(e *Envelope) *Transition {
	return &Transition{Envelope: e}
}

// NewEvent builds an audit event for this envelope. Sequence and hashes are
// assigned by the ledger on append.
func NewEvent(envelopeID id.EnvelopeID, eventType audit.EventType, actor audit.Actor, ts time.Time, metadata map[string]any) audit.Event {
	return audit.Event{
		ID:         id.NewEventID(),
		EnvelopeID: envelopeID,
		Type:       eventType,
		Actor:      actor,
		Timestamp:  ts,
		Metadata:   metadata,
	}
}

func stateConflict(format string, args ...any) error {
	return dErrors.New(dErrors.CodeStateConflict, fmt.Sprintf(format, args...))
}

// Invite moves invited parties to INVITED and, from DRAFT, sends the
// envelope. An empty party list invites every pending party.
func Invite(e *Envelope, partyIDs []id.SignerID, actor audit.Actor, now time.Time) (*Transition, error) {
	switch e.Status {
	case StatusDraft, StatusSent, StatusInProgress:
	default:
		return nil, stateConflict("cannot invite parties on a %s envelope", e.Status)
	}

	next := e.Clone()
	var events []audit.Event

	if next.Status == StatusDraft {
		if len(next.ActiveSigners()) == 0 {
			return nil, dErrors.New(dErrors.CodeValidation, "envelope has no signing parties")
		}
		if next.SigningOrder != OrderParallel && !next.OrderWellDefined() {
			return nil, dErrors.New(dErrors.CodeValidation, "signing order requires unique order indices")
		}
		next.Status = StatusSent
		events = append(events, NewEvent(next.ID, audit.EventEnvelopeSent, actor, now, map[string]any{
			"signing_order": string(next.SigningOrder),
			"party_count":   len(next.ActiveSigners()),
		}))
	}

	targets := partyIDs
	if len(targets) == 0 {
		for _, s := range next.Signers {
			if s.Status == SignerPending {
				targets = append(targets, s.ID)
			}
		}
	}
	for _, partyID := range targets {
		signer := next.SignerByID(partyID)
		if signer == nil {
			return nil, dErrors.New(dErrors.CodeNotFound, "party not on envelope roster: "+partyID.String())
		}
		switch signer.Status {
		case SignerPending:
			signer.Status = SignerInvited
			events = append(events, NewEvent(next.ID, audit.EventSignerInvited, actor, now, map[string]any{
				"signer_id":    signer.ID.String(),
				"signer_email": signer.Email,
				"order_index":  signer.OrderIndex,
			}))
		case SignerInvited:
			// Re-invite is a no-op for this party.
		default:
			return nil, stateConflict("party %s is %s and cannot be invited", signer.ID, signer.Status)
		}
	}

	if len(events) == 0 {
		return noop(e), nil
	}
	next.UpdatedAt = now
	return &Transition{Envelope: next, Events: events, Changed: true}, nil
}

// RequestSignature asks one party directly for a signature. From DRAFT it
// also sends the envelope.
func RequestSignature(e *Envelope, signerID id.SignerID, message string, actor audit.Actor, now time.Time) (*Transition, error) {
	switch e.Status {
	case StatusDraft, StatusSent, StatusInProgress:
	default:
		return nil, stateConflict("cannot request a signature on a %s envelope", e.Status)
	}
	signer := e.SignerByID(signerID)
	if signer == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "party not on envelope roster: "+signerID.String())
	}
	if signer.Status.IsTerminal() {
		return nil, stateConflict("party %s is %s", signer.ID, signer.Status)
	}

	next := e.Clone()
	var events []audit.Event
	if next.Status == StatusDraft {
		if next.SigningOrder != OrderParallel && !next.OrderWellDefined() {
			return nil, dErrors.New(dErrors.CodeValidation, "signing order requires unique order indices")
		}
		next.Status = StatusSent
		events = append(events, NewEvent(next.ID, audit.EventEnvelopeSent, actor, now, map[string]any{
			"signing_order": string(next.SigningOrder),
			"party_count":   len(next.ActiveSigners()),
		}))
	}
	target := next.SignerByID(signerID)
	if target.Status == SignerPending {
		target.Status = SignerInvited
	}
	metadata := map[string]any{"signer_id": signerID.String()}
	if message != "" {
		metadata["message"] = message
	}
	events = append(events, NewEvent(next.ID, audit.EventSignatureRequested, actor, now, metadata))
	next.UpdatedAt = now
	return &Transition{Envelope: next, Events: events, Changed: true}, nil
}

// Remind records a reminder to outstanding parties. Nothing about the roster
// changes; the reminder itself is the audited fact.
func Remind(e *Envelope, partyIDs []id.SignerID, message string, actor audit.Actor, now time.Time) (*Transition, error) {
	switch e.Status {
	case StatusSent, StatusInProgress:
	default:
		return nil, stateConflict("cannot remind parties on a %s envelope", e.Status)
	}

	var reminded []string
	if len(partyIDs) == 0 {
		for _, s := range e.ActiveSigners() {
			reminded = append(reminded, s.ID.String())
		}
	} else {
		for _, partyID := range partyIDs {
			signer := e.SignerByID(partyID)
			if signer == nil {
				return nil, dErrors.New(dErrors.CodeNotFound, "party not on envelope roster: "+partyID.String())
			}
			if !signer.Active() {
				return nil, stateConflict("party %s is %s and cannot be reminded", signer.ID, signer.Status)
			}
			reminded = append(reminded, signer.ID.String())
		}
	}
	if len(reminded) == 0 {
		return nil, stateConflict("no outstanding parties to remind")
	}

	metadata := map[string]any{"party_ids": reminded}
	if message != "" {
		metadata["message"] = message
	}
	next := e.Clone()
	next.UpdatedAt = now
	return &Transition{
		Envelope: next,
		Events:   []audit.Event{NewEvent(next.ID, audit.EventPartiesReminded, actor, now, metadata)},
		Changed:  true,
	}, nil
}

// Sign records one party's signature. When the last outstanding party signs,
// the same transition completes the envelope.
func Sign(e *Envelope, signerID id.SignerID, actor audit.Actor, now time.Time) (*Transition, error) {
	switch e.Status {
	case StatusSent, StatusInProgress:
	case StatusDraft:
		return nil, stateConflict("envelope has not been sent")
	default:
		return nil, stateConflict("cannot sign a %s envelope", e.Status)
	}

	signer := e.SignerByID(signerID)
	if signer == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "party not on envelope roster: "+signerID.String())
	}
	switch signer.Status {
	case SignerSigned:
		// Already reflected; the caller re-derives its response from here.
		return noop(e), nil
	case SignerInvited:
	case SignerPending:
		return nil, stateConflict("party %s has not been invited", signer.ID)
	default:
		return nil, stateConflict("party %s is %s and cannot sign", signer.ID, signer.Status)
	}
	if signer.Role == RoleViewer {
		return nil, stateConflict("viewers cannot sign")
	}
	if !signer.ConsentGiven {
		return nil, dErrors.New(dErrors.CodeMissingConsent, "party has not consented to sign electronically")
	}
	if err := turnReady(e, signer); err != nil {
		return nil, err
	}

	next := e.Clone()
	target := next.SignerByID(signerID)
	target.Status = SignerSigned
	signedAt := now
	target.SignedAt = &signedAt

	events := []audit.Event{NewEvent(next.ID, audit.EventSignerSigned, actor, now, map[string]any{
		"signer_id":    target.ID.String(),
		"signer_email": target.Email,
	})}

	completed := next.AllSigned()
	if completed {
		next.Status = StatusCompleted
		events = append(events, NewEvent(next.ID, audit.EventEnvelopeCompleted, actor, now, map[string]any{
			"party_count": len(next.Signers),
		}))
	} else {
		next.Status = StatusInProgress
	}
	next.UpdatedAt = now
	return &Transition{Envelope: next, Events: events, Changed: true, Completed: completed}, nil
}

// turnReady enforces the signing-order policy. A premature turn is a state
// conflict: the command is well-formed, just early.
func turnReady(e *Envelope, signer *Signer) error {
	switch e.SigningOrder {
	case OrderParallel:
		return nil
	case OrderOwnerFirst:
		if signer.IsOwner {
			return nil
		}
		owner := e.Owner()
		if owner != nil && owner.Active() && owner.Status != SignerSigned {
			return stateConflict("the envelope owner must sign first")
		}
		return nil
	case OrderInviteesFirst:
		if !signer.IsOwner {
			return nil
		}
		for _, s := range e.Signers {
			if !s.IsOwner && s.Active() {
				return stateConflict("all invitees must sign before the owner")
			}
		}
		return nil
	default:
		return dErrors.New(dErrors.CodeValidation, "invalid signing order: "+string(e.SigningOrder))
	}
}

// Decline records one party's refusal. The envelope is declined as a whole
// and every other outstanding party is removed in the same update.
func Decline(e *Envelope, signerID id.SignerID, reason string, actor audit.Actor, now time.Time) (*Transition, error) {
	switch e.Status {
	case StatusSent, StatusInProgress:
	case StatusDraft:
		return nil, stateConflict("envelope has not been sent")
	case StatusDeclined:
		if s := e.SignerByID(signerID); s != nil && s.Status == SignerDeclined {
			return noop(e), nil
		}
		return nil, stateConflict("envelope is already declined")
	default:
		return nil, stateConflict("cannot decline a %s envelope", e.Status)
	}

	signer := e.SignerByID(signerID)
	if signer == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "party not on envelope roster: "+signerID.String())
	}
	if signer.Status.IsTerminal() {
		return nil, stateConflict("party %s is %s and cannot decline", signer.ID, signer.Status)
	}
	if reason == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "decline reason required")
	}

	next := e.Clone()
	target := next.SignerByID(signerID)
	target.Status = SignerDeclined
	target.DeclineReason = reason

	events := []audit.Event{NewEvent(next.ID, audit.EventSignerDeclined, actor, now, map[string]any{
		"signer_id": target.ID.String(),
		"reason":    reason,
	})}
	for i := range next.Signers {
		s := &next.Signers[i]
		if s.ID == signerID || !s.Active() {
			continue
		}
		s.Status = SignerRemoved
		events = append(events, NewEvent(next.ID, audit.EventSignerRemoved, actor, now, map[string]any{
			"signer_id": s.ID.String(),
			"reason":    "envelope_declined",
		}))
	}
	next.Status = StatusDeclined
	next.UpdatedAt = now
	events = append(events, NewEvent(next.ID, audit.EventEnvelopeDeclined, actor, now, map[string]any{
		"declined_by": target.ID.String(),
		"reason":      reason,
	}))
	return &Transition{Envelope: next, Events: events, Changed: true}, nil
}

// Cancel withdraws the envelope. Only the service authorizes the actor; the
// transition itself accepts any non-terminal state.
func Cancel(e *Envelope, reason string, actor audit.Actor, now time.Time) (*Transition, error) {
	if e.Status == StatusCancelled {
		return noop(e), nil
	}
	if e.Status.IsTerminal() {
		return nil, stateConflict("cannot cancel a %s envelope", e.Status)
	}

	next := e.Clone()
	for i := range next.Signers {
		if next.Signers[i].Active() {
			next.Signers[i].Status = SignerRemoved
		}
	}
	next.Status = StatusCancelled
	next.UpdatedAt = now
	metadata := map[string]any{}
	if reason != "" {
		metadata["reason"] = reason
	}
	return &Transition{
		Envelope: next,
		Events:   []audit.Event{NewEvent(next.ID, audit.EventEnvelopeCancelled, actor, now, metadata)},
		Changed:  true,
	}, nil
}

// Expire applies the lazy deadline transition. It returns a no-op when the
// deadline has not elapsed or the state does not expire.
func Expire(e *Envelope, now time.Time) (*Transition, error) {
	if !e.PastExpiry(now) {
		return noop(e), nil
	}
	switch e.Status {
	case StatusSent, StatusInProgress:
	default:
		return noop(e), nil
	}

	next := e.Clone()
	next.Status = StatusExpired
	next.UpdatedAt = now
	actor := audit.Actor{ID: "system", Kind: "system"}
	return &Transition{
		Envelope: next,
		Events: []audit.Event{NewEvent(next.ID, audit.EventEnvelopeExpired, actor, now, map[string]any{
			"expired_at": e.ExpiresAt.UTC().Format(time.RFC3339Nano),
		})},
		Changed: true,
	}, nil
}

// Finalize seals a fully signed envelope. A SENT or IN_PROGRESS envelope
// whose roster has in fact fully signed is completed here as well; that
// state is only reachable when a racing completion lost its write.
func Finalize(e *Envelope, message string, actor audit.Actor, now time.Time) (*Transition, error) {
	next := e.Clone()
	var events []audit.Event

	switch next.Status {
	case StatusCompleted:
	case StatusSent, StatusInProgress:
		if !next.AllSigned() {
			return nil, stateConflict("envelope has outstanding parties and cannot be finalized")
		}
		next.Status = StatusCompleted
		events = append(events, NewEvent(next.ID, audit.EventEnvelopeCompleted, actor, now, map[string]any{
			"party_count": len(next.Signers),
		}))
	default:
		return nil, stateConflict("cannot finalize a %s envelope", next.Status)
	}

	metadata := map[string]any{}
	if message != "" {
		metadata["message"] = message
	}
	events = append(events, NewEvent(next.ID, audit.EventEnvelopeFinalized, actor, now, metadata))
	next.UpdatedAt = now
	return &Transition{Envelope: next, Events: events, Changed: true}, nil
}

// AddSigner appends a party to the roster. After sending, the roster policy
// decides whether the change is accepted, and a non-parallel order is
// renumbered so remaining indices stay well defined.
func AddSigner(e *Envelope, signer Signer, policy RosterPolicy, actor audit.Actor, now time.Time) (*Transition, error) {
	if e.Status.IsTerminal() {
		return nil, stateConflict("cannot change the roster of a %s envelope", e.Status)
	}
	if signer.ID.IsZero() || signer.Email == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "signer ID and email required")
	}
	if !signer.Role.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "invalid signer role: "+string(signer.Role))
	}
	if e.SignerByID(signer.ID) != nil {
		return noop(e), nil
	}
	if e.Status == StatusInProgress && policy == RosterReject {
		return nil, stateConflict("roster is frozen while signing is in progress")
	}

	next := e.Clone()
	signer.EnvelopeID = next.ID
	signer.Status = SignerPending
	next.Signers = append(next.Signers, signer)

	events := []audit.Event{NewEvent(next.ID, audit.EventSignerInvited, actor, now, map[string]any{
		"signer_id":    signer.ID.String(),
		"signer_email": signer.Email,
		"order_index":  signer.OrderIndex,
		"added":        true,
	})}
	if next.Status != StatusDraft && next.SigningOrder != OrderParallel {
		if renumbered := renumber(next); renumbered {
			events = append(events, rosterEvent(next, actor, now))
		}
	}
	next.UpdatedAt = now
	return &Transition{Envelope: next, Events: events, Changed: true}, nil
}

// RemoveSigner drops a party from the workflow. Removing the last
// outstanding party completes the envelope when everyone else has signed.
func RemoveSigner(e *Envelope, signerID id.SignerID, policy RosterPolicy, actor audit.Actor, now time.Time) (*Transition, error) {
	if e.Status.IsTerminal() {
		return nil, stateConflict("cannot change the roster of a %s envelope", e.Status)
	}
	signer := e.SignerByID(signerID)
	if signer == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "party not on envelope roster: "+signerID.String())
	}
	if signer.Status == SignerRemoved {
		return noop(e), nil
	}
	if signer.Status.IsTerminal() {
		return nil, stateConflict("party %s is %s and cannot be removed", signer.ID, signer.Status)
	}
	if e.Status == StatusInProgress && policy == RosterReject {
		return nil, stateConflict("roster is frozen while signing is in progress")
	}

	next := e.Clone()
	target := next.SignerByID(signerID)
	target.Status = SignerRemoved

	events := []audit.Event{NewEvent(next.ID, audit.EventSignerRemoved, actor, now, map[string]any{
		"signer_id": target.ID.String(),
		"reason":    "removed_by_owner",
	})}
	if next.Status != StatusDraft && next.SigningOrder != OrderParallel {
		if renumbered := renumber(next); renumbered {
			events = append(events, rosterEvent(next, actor, now))
		}
	}

	completed := false
	if next.Status != StatusDraft && next.AllSigned() {
		next.Status = StatusCompleted
		completed = true
		events = append(events, NewEvent(next.ID, audit.EventEnvelopeCompleted, actor, now, map[string]any{
			"party_count": len(next.Signers),
		}))
	}
	next.UpdatedAt = now
	return &Transition{Envelope: next, Events: events, Changed: true, Completed: completed}, nil
}

// renumber reassigns order indices of outstanding parties into a dense
// ascending run after the last actioned party, preserving relative order.
// Signed and declined parties keep their index; removed parties vacate
// their slot. Reports whether anything moved.
func renumber(e *Envelope) bool {
	maxTerminal := 0
	for _, s := range e.Signers {
		if s.Status == SignerRemoved {
			continue
		}
		if s.Status.IsTerminal() && s.OrderIndex > maxTerminal {
			maxTerminal = s.OrderIndex
		}
	}
	idx := make([]int, 0, len(e.Signers))
	for i, s := range e.Signers {
		if s.Active() {
			idx = append(idx, i)
		}
	}
	for a := 1; a < len(idx); a++ {
		for b := a; b > 0 && e.Signers[idx[b]].OrderIndex < e.Signers[idx[b-1]].OrderIndex; b-- {
			idx[b], idx[b-1] = idx[b-1], idx[b]
		}
	}
	changed := false
	nextIndex := maxTerminal + 1
	for _, i := range idx {
		if e.Signers[i].OrderIndex != nextIndex {
			e.Signers[i].OrderIndex = nextIndex
			changed = true
		}
		nextIndex++
	}
	return changed
}

func rosterEvent(e *Envelope, actor audit.Actor, now time.Time) audit.Event {
	order := make(map[string]any, len(e.Signers))
	for _, s := range e.Signers {
		if s.Active() {
			order[s.ID.String()] = s.OrderIndex
		}
	}
	return NewEvent(e.ID, audit.EventRosterRenumbered, actor, now, map[string]any{
		"order": order,
	})
}
