package audit

import "context"

// Store persists audit events. Append-only: no update or delete exists by
// design.
//
// Error Contract:
// - Return nil for successful operations
// - Return wrapped errors with context for infrastructure failures
type Store interface {
	Append(ctx context.Context, event Event) error
	Query(ctx context.Context, filter Filter, limit int) ([]Event, error)
}
