package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"trustgate/internal/otc/models"
	"trustgate/pkg/domain"
	"trustgate/pkg/sentinel"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	now   time.Time
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.now = time.Now()
}

func (s *InMemoryStoreSuite) record(subjectID string, createdAt time.Time) *models.Record {
	return &models.Record{
		SubjectID:   subjectID,
		ChallengeID: uuid.NewString(),
		CodeHash:    "hash-" + uuid.NewString(),
		Role:        domain.RoleBuyer,
		CreatedAt:   createdAt,
		ExpiresAt:   createdAt.Add(5 * time.Minute),
	}
}

func (s *InMemoryStoreSuite) TestCreateAndFindActive() {
	rec := s.record("u1", s.now)
	require.NoError(s.T(), s.store.Create(context.Background(), rec))

	found, err := s.store.FindActive(context.Background(), "u1", s.now)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), rec, found)
}

func (s *InMemoryStoreSuite) TestFindActiveNotFound() {
	_, err := s.store.FindActive(context.Background(), "nobody", s.now)
	assert.ErrorIs(s.T(), err, sentinel.ErrNotFound)
}

func (s *InMemoryStoreSuite) TestFindActiveMostRecentWins() {
	older := s.record("u1", s.now.Add(-time.Minute))
	newer := s.record("u1", s.now)
	require.NoError(s.T(), s.store.Create(context.Background(), older))
	require.NoError(s.T(), s.store.Create(context.Background(), newer))

	found, err := s.store.FindActive(context.Background(), "u1", s.now)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), newer.ChallengeID, found.ChallengeID)
}

func (s *InMemoryStoreSuite) TestFindActiveSkipsExpired() {
	expired := s.record("u1", s.now.Add(-10*time.Minute))
	require.NoError(s.T(), s.store.Create(context.Background(), expired))

	_, err := s.store.FindActive(context.Background(), "u1", s.now)
	assert.ErrorIs(s.T(), err, sentinel.ErrNotFound)
}

func (s *InMemoryStoreSuite) TestConsumeDeletes() {
	rec := s.record("u1", s.now)
	require.NoError(s.T(), s.store.Create(context.Background(), rec))

	require.NoError(s.T(), s.store.Consume(context.Background(), "u1", rec.ChallengeID, rec.CodeHash))

	_, err := s.store.FindActive(context.Background(), "u1", s.now)
	assert.ErrorIs(s.T(), err, sentinel.ErrNotFound)
}

func (s *InMemoryStoreSuite) TestConsumeHashMismatch() {
	rec := s.record("u1", s.now)
	require.NoError(s.T(), s.store.Create(context.Background(), rec))

	err := s.store.Consume(context.Background(), "u1", rec.ChallengeID, "some-other-hash")
	assert.ErrorIs(s.T(), err, sentinel.ErrNotFound)

	// The record survives a mismatched consume attempt.
	_, err = s.store.FindActive(context.Background(), "u1", s.now)
	require.NoError(s.T(), err)
}

func (s *InMemoryStoreSuite) TestConsumeExactlyOnce() {
	rec := s.record("u1", s.now)
	require.NoError(s.T(), s.store.Create(context.Background(), rec))

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = s.store.Consume(context.Background(), "u1", rec.ChallengeID, rec.CodeHash)
		}()
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(s.T(), err, sentinel.ErrNotFound)
		}
	}
	assert.Equal(s.T(), 1, successes, "exactly one concurrent consume must win")
}

func (s *InMemoryStoreSuite) TestRecordFailureLocksAtThreshold() {
	rec := s.record("u1", s.now)
	require.NoError(s.T(), s.store.Create(context.Background(), rec))

	for i := 1; i <= 4; i++ {
		updated, err := s.store.RecordFailure(context.Background(), "u1", rec.ChallengeID, s.now, 5, 15*time.Minute)
		require.NoError(s.T(), err)
		assert.Equal(s.T(), i, updated.Attempts)
		assert.True(s.T(), updated.LockedUntil.IsZero())
	}

	updated, err := s.store.RecordFailure(context.Background(), "u1", rec.ChallengeID, s.now, 5, 15*time.Minute)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 5, updated.Attempts)
	assert.Equal(s.T(), s.now.Add(15*time.Minute), updated.LockedUntil)
}

func (s *InMemoryStoreSuite) TestDeleteExpired() {
	live := s.record("u1", s.now)
	stale := s.record("u2", s.now.Add(-30*time.Minute))
	require.NoError(s.T(), s.store.Create(context.Background(), live))
	require.NoError(s.T(), s.store.Create(context.Background(), stale))

	deleted, err := s.store.DeleteExpired(context.Background(), s.now)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 1, deleted)

	_, err = s.store.FindActive(context.Background(), "u1", s.now)
	require.NoError(s.T(), err)
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}
