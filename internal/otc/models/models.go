package models

import (
	"time"

	"trustgate/pkg/domain"
)

// Record is a single pending verification challenge. The plaintext code is
// never stored; only its keyed digest.
type Record struct {
	SubjectID      string
	ChallengeID    string
	CodeHash       string
	Role           domain.Role
	CreatedAt      time.Time
	ExpiresAt      time.Time
	Attempts       int
	LockedUntil    time.Time
	DeliveryMethod domain.DeliveryChannel
}

// ExpiredAt reports whether the code is past its expiry at the given time.
// The store's own TTL removal is advisory only; this check is authoritative.
func (r *Record) ExpiredAt(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// LockedAt reports whether verification is refused at the given time, even
// with a correct code.
func (r *Record) LockedAt(now time.Time) bool {
	return !r.LockedUntil.IsZero() && now.Before(r.LockedUntil)
}
