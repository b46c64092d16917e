// Package issuer creates one-time codes and hands them to the notification
// dispatcher. Dispatch is best-effort: a delivery failure never rolls back an
// already-committed issuance.
package issuer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"trustgate/internal/audit"
	"trustgate/internal/directory"
	"trustgate/internal/notify"
	"trustgate/internal/otc/codes"
	"trustgate/internal/otc/models"
	otcstore "trustgate/internal/otc/store"
	"trustgate/internal/platform/config"
	"trustgate/internal/platform/metrics"
	"trustgate/pkg/domain"
	dErrors "trustgate/pkg/domain-errors"
	"trustgate/pkg/requestcontext"
	"trustgate/pkg/sentinel"
)

const dispatchTimeout = 5 * time.Second

// Service issues one-time codes.
type Service struct {
	directory  directory.Store
	store      otcstore.Store
	hasher     *codes.Hasher
	dispatcher notify.Dispatcher
	ledger     *audit.Ledger
	logger     *slog.Logger
	metrics    *metrics.Metrics
	config     config.OTCConfig
}

// Option configures the Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithDispatcher(dispatcher notify.Dispatcher) Option {
	return func(s *Service) { s.dispatcher = dispatcher }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithConfig(cfg config.OTCConfig) Option {
	return func(s *Service) { s.config = cfg }
}

// New constructs the issuer. Directory, store, hasher, and ledger are
// required; the dispatcher is optional (degraded delivery).
func New(dir directory.Store, store otcstore.Store, hasher *codes.Hasher, ledger *audit.Ledger, opts ...Option) (*Service, error) {
	if dir == nil || store == nil || hasher == nil || ledger == nil {
		return nil, errors.New("directory, store, hasher, and ledger are required")
	}
	svc := &Service{
		directory: dir,
		store:     store,
		hasher:    hasher,
		ledger:    ledger,
		logger:    slog.Default(),
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

// Issue generates a role-shaped code, stores its digest, and dispatches the
// plaintext. Returns the challenge id. The plaintext is handed to the
// dispatcher and discarded; it is never persisted or logged.
func (s *Service) Issue(ctx context.Context, subjectID string, role domain.Role, channel domain.DeliveryChannel) (string, error) {
	if subjectID == "" {
		return "", dErrors.New(dErrors.CodeBadRequest, "subject_id is required")
	}
	if !role.Valid() {
		return "", dErrors.New(dErrors.CodeBadRequest, "unknown role")
	}

	principal, err := s.directory.FindBySubject(ctx, subjectID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.audit(ctx, subjectID, "", audit.StatusFailed, map[string]string{"reason": "unknown_subject"})
			return "", dErrors.Wrap(err, dErrors.CodeNotFound, "unknown subject")
		}
		return "", dErrors.Wrap(err, dErrors.CodeUnavailable, "directory lookup failed")
	}

	plaintext, err := codes.Generate(role)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "could not generate code")
	}

	now := requestcontext.Now(ctx)
	rec := &models.Record{
		SubjectID:      subjectID,
		ChallengeID:    uuid.NewString(),
		CodeHash:       s.hasher.Sum(plaintext),
		Role:           role,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.config.TTL),
		DeliveryMethod: channel,
	}
	if err := s.store.Create(ctx, rec); err != nil {
		s.audit(ctx, subjectID, rec.ChallengeID, audit.StatusError, map[string]string{"reason": "store_failure"})
		return "", dErrors.Wrap(err, dErrors.CodeUnavailable, "could not persist code")
	}

	details := map[string]string{"role": string(role), "channel": string(channel)}
	switch {
	case s.dispatcher == nil, principal.ContactChannel == "":
		// Issuance still proceeds; the code stays valid and reachable
		// through a resend or dev-mode echo.
		s.logger.WarnContext(ctx, "delivery not configured, code issued undelivered",
			"subject_id", subjectID,
			"challenge_id", rec.ChallengeID,
		)
		details["delivery_degraded"] = "true"
	default:
		s.dispatch(ctx, channel, principal.ContactChannel, plaintext, rec.ChallengeID)
	}

	if s.metrics != nil {
		s.metrics.CodesIssued.WithLabelValues(string(role)).Inc()
	}
	s.audit(ctx, subjectID, rec.ChallengeID, audit.StatusSuccess, details)
	return rec.ChallengeID, nil
}

// dispatch sends the plaintext asynchronously. Failure is logged, never
// propagated: the issuance is already committed.
func (s *Service) dispatch(ctx context.Context, channel domain.DeliveryChannel, recipient, plaintext, challengeID string) {
	requestID := requestcontext.RequestID(ctx)
	go func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()
		sendCtx = requestcontext.WithRequestID(sendCtx, requestID)

		res := s.dispatcher.Send(sendCtx, channel, recipient, notify.Payload{
			Subject: "Your verification code",
			Body:    plaintext,
		})
		if !res.Success {
			s.logger.Warn("code dispatch failed",
				"channel", channel,
				"challenge_id", challengeID,
				"error", res.Err,
			)
		}
	}()
}

func (s *Service) audit(ctx context.Context, subjectID, challengeID string, status audit.Status, details map[string]string) {
	s.ledger.Record(ctx, audit.Event{
		ActorSubjectID: subjectID,
		Action:         audit.ActionOTCRequest,
		ResourceType:   "otc",
		ResourceID:     challengeID,
		Status:         status,
		Details:        details,
	})
}
