// Package directory resolves principals. Registration is an upstream
// concern; this service only needs to look subjects up before issuing codes.
package directory

import (
	"context"
	"fmt"
	"sync"

	"trustgate/pkg/domain"
	"trustgate/pkg/sentinel"
)

// Principal is a human or business actor known to the marketplace.
type Principal struct {
	SubjectID      string
	Role           domain.Role
	TenantID       string
	ContactChannel string
}

// Store looks up principals by subject.
//
// Error Contract:
// - Return ErrNotFound when the subject does not exist
// - Return wrapped errors with context for infrastructure failures
type Store interface {
	FindBySubject(ctx context.Context, subjectID string) (*Principal, error)
}

// InMemoryStore holds principals in memory for tests/dev.
type InMemoryStore struct {
	mu         sync.RWMutex
	principals map[string]*Principal
}

// NewInMemoryStore constructs an empty in-memory directory.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{principals: make(map[string]*Principal)}
}

// Seed registers a principal, overwriting any existing entry.
func (s *InMemoryStore) Seed(p Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := p
	s.principals[p.SubjectID] = &cp
}

func (s *InMemoryStore) FindBySubject(_ context.Context, subjectID string) (*Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.principals[subjectID]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, fmt.Errorf("principal %q: %w", subjectID, sentinel.ErrNotFound)
}
