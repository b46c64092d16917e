package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers
// return these (optionally wrapped) so services can translate them into domain
// errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store
// - ErrExpired: code/credential/escalation has expired
// - ErrLocked: verification refused until the lockout window elapses
// - ErrAlreadyUsed: resource (one-time code) already consumed
// - ErrInvalidState: entity in wrong state for requested operation
// - ErrConflict: a conditional write lost a race
// - ErrUnavailable: store or dispatcher temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors.
var (
	ErrNotFound     = errors.New("not found")
	ErrExpired      = errors.New("expired")
	ErrLocked       = errors.New("locked")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrConflict     = errors.New("conflict")
	ErrUnavailable  = errors.New("unavailable")
)
