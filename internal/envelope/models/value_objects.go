package models

// Status represents the lifecycle state of an envelope.
type Status string

const (
	StatusDraft      Status = "DRAFT"
	StatusSent       Status = "SENT"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusDeclined   Status = "DECLINED"
	StatusCancelled  Status = "CANCELLED"
	StatusExpired    Status = "EXPIRED"
)

// ValidStatuses is the single source of truth for envelope states.
var ValidStatuses = map[Status]bool{
	StatusDraft:      true,
	StatusSent:       true,
	StatusInProgress: true,
	StatusCompleted:  true,
	StatusDeclined:   true,
	StatusCancelled:  true,
	StatusExpired:    true,
}

// IsValid checks if the status is one of the supported enum values.
func (s Status) IsValid() bool {
	return ValidStatuses[s]
}

// IsTerminal reports whether the envelope accepts no further mutation.
// Terminal envelopes remain readable and auditable.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusDeclined, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

// SignerStatus represents the lifecycle state of one signing party.
type SignerStatus string

const (
	SignerPending  SignerStatus = "PENDING"
	SignerInvited  SignerStatus = "INVITED"
	SignerSigned   SignerStatus = "SIGNED"
	SignerDeclined SignerStatus = "DECLINED"
	SignerRemoved  SignerStatus = "REMOVED"
)

// IsValid checks if the signer status is one of the supported enum values.
func (s SignerStatus) IsValid() bool {
	switch s {
	case SignerPending, SignerInvited, SignerSigned, SignerDeclined, SignerRemoved:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the signer record is immutable.
func (s SignerStatus) IsTerminal() bool {
	switch s {
	case SignerSigned, SignerDeclined, SignerRemoved:
		return true
	default:
		return false
	}
}

// SigningOrder constrains which party may act next.
type SigningOrder string

const (
	// OrderOwnerFirst blocks every invitee until the owner has signed.
	OrderOwnerFirst SigningOrder = "OWNER_FIRST"
	// OrderInviteesFirst makes the owner the last required signature.
	OrderInviteesFirst SigningOrder = "INVITEES_FIRST"
	// OrderParallel lets parties sign in any order; indices are advisory.
	OrderParallel SigningOrder = "PARALLEL"
)

// IsValid checks if the signing order is one of the supported enum values.
func (o SigningOrder) IsValid() bool {
	return o == OrderOwnerFirst || o == OrderInviteesFirst || o == OrderParallel
}

// SignerRole describes what a party is expected to do.
type SignerRole string

const (
	RoleSigner   SignerRole = "signer"
	RoleViewer   SignerRole = "viewer"
	RoleDelegate SignerRole = "delegate"
)

// IsValid checks if the role is one of the supported enum values.
func (r SignerRole) IsValid() bool {
	return r == RoleSigner || r == RoleViewer || r == RoleDelegate
}

// RosterPolicy decides how roster changes after sending are handled.
type RosterPolicy string

const (
	// RosterReject refuses roster changes once signing is underway.
	RosterReject RosterPolicy = "reject"
	// RosterRenumber accepts the change and renumbers remaining parties.
	RosterRenumber RosterPolicy = "renumber"
)

// IsValid checks if the roster policy is one of the supported enum values.
func (p RosterPolicy) IsValid() bool {
	return p == RosterReject || p == RosterRenumber
}
