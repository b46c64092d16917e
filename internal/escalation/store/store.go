// Package store persists escalation records. The status transition is the
// atomic check-then-mutate point of the approval workflow; implementations
// must express it as a single conditional write so at most one decision ever
// commits per escalation.
package store

import (
	"context"
	"time"

	"trustgate/internal/escalation/models"
)

// Transition captures a conditional state change applied only while the
// stored status is still PENDING.
type Transition struct {
	To            models.Status
	DecidedBy     string
	DecisionNotes string
	At            time.Time
}

// Store is the persistence abstraction over escalations.
//
// Error Contract:
// - Return ErrNotFound when the requested record does not exist
// - Return ErrConflict when the conditional transition finds the stored
//   status no longer PENDING (a concurrent decision or sweep won the race)
// - Return nil for successful operations
// - Return wrapped errors with context for infrastructure failures
type Store interface {
	Create(ctx context.Context, esc *models.Escalation) error
	FindByID(ctx context.Context, escalationID string) (*models.Escalation, error)

	// ListPending returns the tenant's PENDING escalations, newest first.
	ListPending(ctx context.Context, tenantID string) ([]*models.Escalation, error)

	// ListByTenant returns all of the tenant's escalations, newest first.
	ListByTenant(ctx context.Context, tenantID string) ([]*models.Escalation, error)

	// ListExpiredPending returns ids of PENDING escalations whose expiry
	// has passed.
	ListExpiredPending(ctx context.Context, now time.Time) ([]string, error)

	// TransitionIfPending applies the transition only if the stored status
	// is still PENDING at write time, returning the updated record.
	TransitionIfPending(ctx context.Context, escalationID string, tr Transition) (*models.Escalation, error)
}
