// Package verifier checks submitted one-time codes and consumes them on
// success. Consumption is exactly-once: the hash comparison and the delete
// happen as a single conditional operation against the store.
package verifier

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"trustgate/internal/audit"
	"trustgate/internal/otc/codes"
	otcstore "trustgate/internal/otc/store"
	"trustgate/internal/platform/config"
	"trustgate/internal/platform/metrics"
	"trustgate/pkg/domain"
	dErrors "trustgate/pkg/domain-errors"
	"trustgate/pkg/requestcontext"
	"trustgate/pkg/sentinel"
)

// genericMessage is returned for every code-related failure so callers
// cannot distinguish absence from expiry or lockout (enumeration oracle).
const genericMessage = "invalid or expired code"

// Result reports a successful verification.
type Result struct {
	SubjectID   string
	Role        domain.Role
	ChallengeID string
}

// Service verifies one-time codes.
type Service struct {
	store   otcstore.Store
	hasher  *codes.Hasher
	ledger  *audit.Ledger
	logger  *slog.Logger
	metrics *metrics.Metrics
	config  config.OTCConfig
}

// Option configures the Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithConfig(cfg config.OTCConfig) Option {
	return func(s *Service) { s.config = cfg }
}

// New constructs the verifier.
func New(store otcstore.Store, hasher *codes.Hasher, ledger *audit.Ledger, opts ...Option) (*Service, error) {
	if store == nil || hasher == nil || ledger == nil {
		return nil, errors.New("store, hasher, and ledger are required")
	}
	svc := &Service{
		store:  store,
		hasher: hasher,
		ledger: ledger,
		logger: slog.Default(),
		config: config.OTCConfig{
			TTL:             300 * time.Second,
			MaxAttempts:     5,
			LockoutDuration: 15 * time.Minute,
		},
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Verify checks the submitted code against the subject's authoritative
// challenge (most recent non-expired). On success the record is consumed
// atomically; on mismatch the attempt counter is incremented and, at the
// configured maximum, the lockout deadline is set.
func (s *Service) Verify(ctx context.Context, subjectID, submittedCode string) (*Result, error) {
	if subjectID == "" || submittedCode == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "subject_id and code are required")
	}

	now := requestcontext.Now(ctx)
	rec, err := s.store.FindActive(ctx, subjectID, now)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.fail(ctx, subjectID, "", "no_active_code")
			return nil, dErrors.New(dErrors.CodeNotFound, genericMessage)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "could not load code")
	}

	// Belt-and-suspenders: the store filters expired records, but a store
	// with lagging TTL could still hand one back.
	if rec.ExpiredAt(now) {
		s.fail(ctx, subjectID, rec.ChallengeID, "expired")
		return nil, dErrors.New(dErrors.CodeExpired, genericMessage)
	}
	if rec.LockedAt(now) {
		s.fail(ctx, subjectID, rec.ChallengeID, "locked")
		return nil, dErrors.New(dErrors.CodeLocked, genericMessage)
	}

	if !codes.Equal(s.hasher.Sum(submittedCode), rec.CodeHash) {
		return nil, s.handleMismatch(ctx, rec.SubjectID, rec.ChallengeID, now)
	}

	// Match. Consume conditionally on the hash still being in place: under
	// concurrent correct submissions exactly one caller gets here first.
	if err := s.store.Consume(ctx, subjectID, rec.ChallengeID, rec.CodeHash); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.fail(ctx, subjectID, rec.ChallengeID, "already_consumed")
			return nil, dErrors.New(dErrors.CodeNotFound, genericMessage)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "could not consume code")
	}

	if s.metrics != nil {
		s.metrics.CodeVerifications.WithLabelValues("success").Inc()
	}
	s.ledger.Record(ctx, audit.Event{
		ActorSubjectID: subjectID,
		Action:         audit.ActionOTCVerify,
		ResourceType:   "otc",
		ResourceID:     rec.ChallengeID,
		Status:         audit.StatusSuccess,
		Details:        map[string]string{"role": string(rec.Role)},
	})
	return &Result{SubjectID: subjectID, Role: rec.Role, ChallengeID: rec.ChallengeID}, nil
}

func (s *Service) handleMismatch(ctx context.Context, subjectID, challengeID string, now time.Time) error {
	updated, err := s.store.RecordFailure(ctx, subjectID, challengeID, now, s.config.MaxAttempts, s.config.LockoutDuration)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			// The record vanished between read and failure write; same
			// outcome for the caller either way.
			s.fail(ctx, subjectID, challengeID, "invalid_code")
			return dErrors.New(dErrors.CodeInvalidCode, genericMessage)
		}
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "could not record failed attempt")
	}

	if updated.LockedAt(now) && updated.Attempts == s.config.MaxAttempts {
		if s.metrics != nil {
			s.metrics.LockoutsTriggered.Inc()
		}
		s.logger.WarnContext(ctx, "verification lockout triggered",
			"subject_id", subjectID,
			"challenge_id", challengeID,
			"locked_until", updated.LockedUntil,
		)
		s.fail(ctx, subjectID, challengeID, "lockout_triggered")
		return dErrors.New(dErrors.CodeLocked, genericMessage)
	}

	s.fail(ctx, subjectID, challengeID, "invalid_code")
	return dErrors.New(dErrors.CodeInvalidCode, genericMessage)
}

// fail records a FAILED audit event. The reason names the failure kind, never
// the code value.
func (s *Service) fail(ctx context.Context, subjectID, challengeID, reason string) {
	if s.metrics != nil {
		s.metrics.CodeVerifications.WithLabelValues(reason).Inc()
	}
	s.ledger.Record(ctx, audit.Event{
		ActorSubjectID: subjectID,
		Action:         audit.ActionOTCVerify,
		ResourceType:   "otc",
		ResourceID:     challengeID,
		Status:         audit.StatusFailed,
		Details:        map[string]string{"reason": reason},
	})
}
