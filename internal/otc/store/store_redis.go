package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"trustgate/internal/otc/models"
	"trustgate/pkg/domain"
	"trustgate/pkg/sentinel"
)

const (
	challengeKeyPrefix = "otc:challenge:"
	subjectKeyPrefix   = "otc:subject:"
)

// consumeScript deletes the challenge only if its stored hash still equals
// the submitted digest. Running server-side makes match-and-delete a single
// atomic operation: two racing correct submissions yield exactly one success.
var consumeScript = redis.NewScript(`
local hash = redis.call('HGET', KEYS[1], 'code_hash')
if not hash or hash ~= ARGV[1] then
	return 0
end
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[2])
return 1
`)

// failScript increments the attempt counter and applies the lockout deadline
// in the same server-side operation once the threshold is reached.
var failScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return {-1, '0'}
end
local attempts = redis.call('HINCRBY', KEYS[1], 'attempts', 1)
local locked = redis.call('HGET', KEYS[1], 'locked_until')
if attempts >= tonumber(ARGV[1]) and (not locked or locked == '0') then
	redis.call('HSET', KEYS[1], 'locked_until', ARGV[2])
	locked = ARGV[2]
end
if not locked then
	locked = '0'
end
return {attempts, locked}
`)

// RedisStore is the production OTC store for distributed deployments. Redis
// key TTL is the belt; the verifier's active expiry check is the suspenders.
type RedisStore struct {
	client redis.Cmdable
	// retention past expiry keeps locked records visible for the full
	// lockout window even after the code itself has expired.
	lockoutRetention time.Duration
}

// NewRedisStore constructs a Redis-backed OTC store.
func NewRedisStore(client redis.Cmdable, lockoutRetention time.Duration) *RedisStore {
	return &RedisStore{client: client, lockoutRetention: lockoutRetention}
}

func challengeKey(id string) string    { return challengeKeyPrefix + id }
func subjectKey(subject string) string { return subjectKeyPrefix + subject }

func (s *RedisStore) Create(ctx context.Context, rec *models.Record) error {
	ttl := rec.ExpiresAt.Add(s.lockoutRetention).Sub(rec.CreatedAt)
	if ttl <= 0 {
		return fmt.Errorf("record already expired at creation: %w", sentinel.ErrInvalidState)
	}

	fields := map[string]any{
		"subject_id":   rec.SubjectID,
		"code_hash":    rec.CodeHash,
		"role":         string(rec.Role),
		"created_at":   rec.CreatedAt.UnixNano(),
		"expires_at":   rec.ExpiresAt.UnixNano(),
		"attempts":     rec.Attempts,
		"locked_until": lockedUntilField(rec.LockedUntil),
		"delivery":     string(rec.DeliveryMethod),
	}

	pipe := s.client.TxPipeline()
	key := challengeKey(rec.ChallengeID)
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, ttl)
	pipe.ZAdd(ctx, subjectKey(rec.SubjectID), redis.Z{
		Score:  float64(rec.CreatedAt.UnixNano()),
		Member: rec.ChallengeID,
	})
	pipe.Expire(ctx, subjectKey(rec.SubjectID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("create otc record: %w: %w", sentinel.ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) FindActive(ctx context.Context, subjectID string, now time.Time) (*models.Record, error) {
	ids, err := s.client.ZRevRange(ctx, subjectKey(subjectID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list subject challenges: %w: %w", sentinel.ErrUnavailable, err)
	}

	for _, id := range ids {
		rec, err := s.load(ctx, id)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				// Challenge expired out from under the index; clean up lazily.
				s.client.ZRem(ctx, subjectKey(subjectID), id)
				continue
			}
			return nil, err
		}
		if rec.SubjectID != subjectID || rec.ExpiredAt(now) {
			continue
		}
		return rec, nil
	}
	return nil, fmt.Errorf("one-time code for subject not found: %w", sentinel.ErrNotFound)
}

func (s *RedisStore) Consume(ctx context.Context, subjectID, challengeID, codeHash string) error {
	keys := []string{challengeKey(challengeID), subjectKey(subjectID)}
	n, err := consumeScript.Run(ctx, s.client, keys, codeHash, challengeID).Int()
	if err != nil {
		return fmt.Errorf("consume otc record: %w: %w", sentinel.ErrUnavailable, err)
	}
	if n == 0 {
		return fmt.Errorf("one-time code not found: %w", sentinel.ErrNotFound)
	}
	return nil
}

func (s *RedisStore) RecordFailure(ctx context.Context, subjectID, challengeID string, now time.Time, maxAttempts int, lockout time.Duration) (*models.Record, error) {
	keys := []string{challengeKey(challengeID)}
	lockedUntil := now.Add(lockout).UnixNano()
	res, err := failScript.Run(ctx, s.client, keys, maxAttempts, strconv.FormatInt(lockedUntil, 10)).Slice()
	if err != nil {
		return nil, fmt.Errorf("record otc failure: %w: %w", sentinel.ErrUnavailable, err)
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("one-time code not found: %w", sentinel.ErrNotFound)
	}
	attempts, ok := res[0].(int64)
	if !ok || attempts < 0 {
		return nil, fmt.Errorf("one-time code not found: %w", sentinel.ErrNotFound)
	}
	return s.load(ctx, challengeID)
}

// DeleteExpired is a no-op for Redis: key TTL already reaps records.
func (s *RedisStore) DeleteExpired(_ context.Context, _ time.Time) (int, error) {
	return 0, nil
}

func (s *RedisStore) load(ctx context.Context, challengeID string) (*models.Record, error) {
	fields, err := s.client.HGetAll(ctx, challengeKey(challengeID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load otc record: %w: %w", sentinel.ErrUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("one-time code not found: %w", sentinel.ErrNotFound)
	}

	rec := &models.Record{
		SubjectID:      fields["subject_id"],
		ChallengeID:    challengeID,
		CodeHash:       fields["code_hash"],
		Role:           domain.Role(fields["role"]),
		DeliveryMethod: domain.DeliveryChannel(fields["delivery"]),
	}
	rec.CreatedAt = nanoTime(fields["created_at"])
	rec.ExpiresAt = nanoTime(fields["expires_at"])
	rec.LockedUntil = nanoTime(fields["locked_until"])
	if n, err := strconv.Atoi(fields["attempts"]); err == nil {
		rec.Attempts = n
	}
	return rec, nil
}

func lockedUntilField(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func nanoTime(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
