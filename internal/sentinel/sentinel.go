package sentinel

import "errors"

// Sentinel dependency errors. Stores should return these (optionally wrapped)
// so services can translate them into domain errors exactly once.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrExpired      = errors.New("expired")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")

	// ErrVersionConflict is returned by aggregate stores when a conditional
	// write loses the compare-and-swap on the version token.
	ErrVersionConflict = errors.New("version conflict")

	// ErrSequenceConflict is returned by the audit store when a concurrent
	// append already claimed the sequence number being written.
	ErrSequenceConflict = errors.New("sequence conflict")

	// ErrDuplicate is returned by insert-if-absent stores when the key is
	// already reserved.
	ErrDuplicate = errors.New("duplicate")
)
