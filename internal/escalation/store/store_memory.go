package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"trustgate/internal/escalation/models"
	"trustgate/pkg/sentinel"
)

// InMemoryStore keeps escalations in memory for tests/dev. A single mutex
// serializes the conditional transition, which loses cross-process safety;
// acceptable only for single-instance deployments.
type InMemoryStore struct {
	mu          sync.RWMutex
	escalations map[string]*models.Escalation
}

// NewInMemoryStore constructs an empty in-memory escalation store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{escalations: make(map[string]*models.Escalation)}
}

func (s *InMemoryStore) Create(_ context.Context, esc *models.Escalation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *esc
	s.escalations[esc.EscalationID] = &cp
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, escalationID string) (*models.Escalation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if esc, ok := s.escalations[escalationID]; ok {
		cp := *esc
		return &cp, nil
	}
	return nil, fmt.Errorf("escalation %q: %w", escalationID, sentinel.ErrNotFound)
}

func (s *InMemoryStore) ListPending(_ context.Context, tenantID string) ([]*models.Escalation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Escalation
	for _, esc := range s.escalations {
		if esc.TenantID == tenantID && esc.Status == models.StatusPending {
			cp := *esc
			out = append(out, &cp)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *InMemoryStore) ListByTenant(_ context.Context, tenantID string) ([]*models.Escalation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Escalation
	for _, esc := range s.escalations {
		if esc.TenantID == tenantID {
			cp := *esc
			out = append(out, &cp)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *InMemoryStore) ListExpiredPending(_ context.Context, now time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, esc := range s.escalations {
		if esc.Status == models.StatusPending && esc.ExpiredAt(now) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// TransitionIfPending applies the transition under the store mutex, so the
// status check and the mutation are one atomic step.
func (s *InMemoryStore) TransitionIfPending(_ context.Context, escalationID string, tr Transition) (*models.Escalation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	esc, ok := s.escalations[escalationID]
	if !ok {
		return nil, fmt.Errorf("escalation %q: %w", escalationID, sentinel.ErrNotFound)
	}
	if esc.Status != models.StatusPending {
		return nil, fmt.Errorf("escalation %q already %s: %w", escalationID, esc.Status, sentinel.ErrConflict)
	}

	esc.Status = tr.To
	esc.DecidedBy = tr.DecidedBy
	esc.DecisionNotes = tr.DecisionNotes
	esc.UpdatedAt = tr.At

	cp := *esc
	return &cp, nil
}

func sortNewestFirst(escs []*models.Escalation) {
	sort.SliceStable(escs, func(i, j int) bool {
		return escs[i].CreatedAt.After(escs[j].CreatedAt)
	})
}
