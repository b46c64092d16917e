package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"trustgate/internal/otc/models"
	"trustgate/pkg/sentinel"
)

// InMemoryStore keeps one-time code records in memory for tests/dev. A single
// mutex serializes the check-then-mutate sequences, which loses cross-process
// safety; acceptable only for single-instance deployments.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*models.Record // keyed by challenge id
}

// NewInMemoryStore constructs an empty in-memory OTC store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]*models.Record)}
}

func (s *InMemoryStore) Create(_ context.Context, rec *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.records[rec.ChallengeID] = &cp
	return nil
}

// FindActive returns the most recently created non-expired record for the
// subject. Multiple outstanding challenges may coexist; the newest wins.
func (s *InMemoryStore) FindActive(_ context.Context, subjectID string, now time.Time) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *models.Record
	for _, rec := range s.records {
		if rec.SubjectID != subjectID {
			continue
		}
		if rec.ExpiredAt(now) {
			continue
		}
		if best == nil || rec.CreatedAt.After(best.CreatedAt) {
			best = rec
		}
	}
	if best == nil {
		return nil, fmt.Errorf("one-time code for subject not found: %w", sentinel.ErrNotFound)
	}
	cp := *best
	return &cp, nil
}

func (s *InMemoryStore) Consume(_ context.Context, subjectID, challengeID, codeHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[challengeID]
	if !ok || rec.SubjectID != subjectID {
		return fmt.Errorf("one-time code not found: %w", sentinel.ErrNotFound)
	}
	if rec.CodeHash != codeHash {
		// Stale caller: the record was reissued or the precondition no
		// longer holds. Same outcome as a lost race.
		return fmt.Errorf("one-time code hash mismatch: %w", sentinel.ErrNotFound)
	}
	delete(s.records, challengeID)
	return nil
}

func (s *InMemoryStore) RecordFailure(_ context.Context, subjectID, challengeID string, now time.Time, maxAttempts int, lockout time.Duration) (*models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[challengeID]
	if !ok || rec.SubjectID != subjectID {
		return nil, fmt.Errorf("one-time code not found: %w", sentinel.ErrNotFound)
	}
	rec.Attempts++
	if rec.Attempts >= maxAttempts && rec.LockedUntil.IsZero() {
		rec.LockedUntil = now.Add(lockout)
	}
	cp := *rec
	return &cp, nil
}

func (s *InMemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, rec := range s.records {
		if rec.ExpiredAt(now) && !rec.LockedAt(now) {
			delete(s.records, id)
			deleted++
		}
	}
	return deleted, nil
}
