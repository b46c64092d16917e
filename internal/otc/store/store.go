// Package store persists one-time code records. The consume and fail-attempt
// operations are the two atomic check-then-mutate points of the OTC
// lifecycle; implementations must express them as single storage operations,
// never as a read followed by a separate write.
package store

import (
	"context"
	"time"

	"trustgate/internal/otc/models"
)

// Store is the persistence abstraction over one-time codes.
//
// Error Contract:
// - Return ErrNotFound when the requested record does not exist
// - Return nil for successful operations
// - Return wrapped errors with context for infrastructure failures
type Store interface {
	// Create writes a new challenge record.
	Create(ctx context.Context, rec *models.Record) error

	// FindActive returns the most recently created non-expired record for
	// the subject, locked or not. ErrNotFound when none exists.
	FindActive(ctx context.Context, subjectID string, now time.Time) (*models.Record, error)

	// Consume deletes the challenge only if its stored hash still equals
	// codeHash. ErrNotFound when the record is gone or the hash differs:
	// under concurrent correct submissions exactly one caller succeeds.
	Consume(ctx context.Context, subjectID, challengeID, codeHash string) error

	// RecordFailure atomically increments the attempt counter; when the
	// counter reaches maxAttempts it sets the lockout deadline in the same
	// operation. Returns the updated record.
	RecordFailure(ctx context.Context, subjectID, challengeID string, now time.Time, maxAttempts int, lockout time.Duration) (*models.Record, error)

	// DeleteExpired removes records whose expiry and lockout have both
	// passed. Backstop for stores without native TTL.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
