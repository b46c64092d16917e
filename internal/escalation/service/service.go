// Package service implements the CEO-approval workflow. A decision requires
// fresh one-time-code re-authentication, and the state transition itself is a
// conditional write: at most one decision ever commits per escalation.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"trustgate/internal/audit"
	"trustgate/internal/escalation/models"
	escstore "trustgate/internal/escalation/store"
	"trustgate/internal/notify"
	verifierpkg "trustgate/internal/otc/verifier"
	"trustgate/internal/platform/config"
	"trustgate/internal/platform/metrics"
	"trustgate/pkg/domain"
	dErrors "trustgate/pkg/domain-errors"
	"trustgate/pkg/requestcontext"
	"trustgate/pkg/sentinel"
)

const alertTimeout = 5 * time.Second

// Verifier is the re-authentication gate for decisions.
type Verifier interface {
	Verify(ctx context.Context, subjectID, submittedCode string) (*verifierpkg.Result, error)
}

// CreateRequest carries everything needed to flag a transaction.
type CreateRequest struct {
	TransactionRef string
	TenantID       string
	VendorID       string
	BuyerID        string
	AmountMinor    int64
	Reason         models.Reason
	FlaggedBy      string
}

// DecideRequest carries a CEO decision plus the fresh one-time code.
type DecideRequest struct {
	EscalationID  string
	NewStatus     models.Status
	DecidedBy     string
	DecisionNotes string
	OTCCode       string
}

// Service is the escalation engine.
type Service struct {
	store      escstore.Store
	verifier   Verifier
	ledger     *audit.Ledger
	dispatcher notify.Dispatcher
	logger     *slog.Logger
	metrics    *metrics.Metrics
	config     config.EscalationConfig
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

func WithConfig(cfg config.EscalationConfig) Option {
	return func(s *Service) { s.config = cfg }
}

// New constructs the engine. Store, verifier, and ledger are required.
func New(store escstore.Store, verifier Verifier, ledger *audit.Ledger, opts ...Option) (*Service, error) {
	if store == nil || verifier == nil || ledger == nil {
		return nil, errors.New("store, verifier, and ledger are required")
	}
	svc := &Service{
		store:    store,
		verifier: verifier,
		ledger:   ledger,
		logger:   slog.Default(),
		config: config.EscalationConfig{
			PendingTTL: 24 * time.Hour,
		},
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Create flags a transaction for CEO review. Always starts PENDING. The CEO
// alert is best-effort; its failure does not block creation.
func (s *Service) Create(ctx context.Context, req CreateRequest) (string, error) {
	if req.TransactionRef == "" || req.TenantID == "" {
		return "", dErrors.New(dErrors.CodeBadRequest, "transaction_ref and tenant_id are required")
	}
	if !req.Reason.Valid() {
		return "", dErrors.New(dErrors.CodeBadRequest, "unknown escalation reason")
	}
	if req.AmountMinor < 0 {
		return "", dErrors.New(dErrors.CodeBadRequest, "amount must not be negative")
	}

	now := requestcontext.Now(ctx)
	esc := &models.Escalation{
		EscalationID:   uuid.NewString(),
		TenantID:       req.TenantID,
		TransactionRef: req.TransactionRef,
		VendorID:       req.VendorID,
		BuyerID:        req.BuyerID,
		AmountMinor:    req.AmountMinor,
		Reason:         req.Reason,
		Status:         models.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(s.config.PendingTTL),
		FlaggedBy:      req.FlaggedBy,
	}
	if err := s.store.Create(ctx, esc); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeUnavailable, "could not persist escalation")
	}

	if s.metrics != nil {
		s.metrics.EscalationsCreated.WithLabelValues(string(req.Reason)).Inc()
	}
	s.ledger.Record(ctx, audit.Event{
		ActorSubjectID: req.FlaggedBy,
		Action:         audit.ActionEscalationCreated,
		ResourceType:   "escalation",
		ResourceID:     esc.EscalationID,
		Status:         audit.StatusSuccess,
		TenantID:       req.TenantID,
		Details: map[string]string{
			"reason":          string(req.Reason),
			"transaction_ref": req.TransactionRef,
		},
	})
	s.alert(ctx, req.TenantID, "Escalation pending review: "+req.TransactionRef)
	return esc.EscalationID, nil
}

// ListPending returns the tenant's PENDING escalations, newest first.
func (s *Service) ListPending(ctx context.Context, tenantID string) ([]*models.Escalation, error) {
	if tenantID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "tenant_id is required")
	}
	escs, err := s.store.ListPending(ctx, tenantID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "could not list escalations")
	}
	return escs, nil
}

// Decide applies a CEO decision. The one-time code is verified first: a
// decision without valid re-authentication fails before any state is read.
func (s *Service) Decide(ctx context.Context, req DecideRequest) (*models.Escalation, error) {
	if req.EscalationID == "" || req.DecidedBy == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "escalation_id and decided_by are required")
	}
	if !req.NewStatus.Decision() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "decision must be APPROVED or REJECTED")
	}

	verified, err := s.verifier.Verify(ctx, req.DecidedBy, req.OTCCode)
	if err != nil {
		s.auditDecision(ctx, req, "", audit.StatusFailed, "reauthentication_failed")
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "re-authentication required")
	}
	if verified.Role != domain.RoleCEO {
		s.auditDecision(ctx, req, "", audit.StatusFailed, "not_ceo")
		return nil, dErrors.New(dErrors.CodeUnauthorized, "decision requires CEO role")
	}

	current, err := s.store.FindByID(ctx, req.EscalationID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "escalation not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "could not load escalation")
	}
	if current.TenantID != req.DecidedBy {
		s.auditDecision(ctx, req, current.TenantID, audit.StatusFailed, "wrong_tenant")
		return nil, dErrors.New(dErrors.CodeUnauthorized, "escalation belongs to another tenant")
	}
	if current.Status != models.StatusPending {
		return nil, dErrors.New(dErrors.CodeInvalidState, "escalation already "+string(current.Status))
	}

	updated, err := s.store.TransitionIfPending(ctx, req.EscalationID, escstore.Transition{
		To:            req.NewStatus,
		DecidedBy:     req.DecidedBy,
		DecisionNotes: req.DecisionNotes,
		At:            requestcontext.Now(ctx),
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			// Another decision (or the expiry sweep) raced ahead. Surface
			// it; the caller decides whether that is acceptable.
			s.auditDecision(ctx, req, current.TenantID, audit.StatusFailed, "lost_race")
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "escalation was decided concurrently")
		}
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "escalation not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "could not apply decision")
	}

	if s.metrics != nil {
		s.metrics.EscalationsDecided.WithLabelValues(string(req.NewStatus)).Inc()
	}
	s.ledger.Record(ctx, audit.Event{
		ActorSubjectID: req.DecidedBy,
		Action:         decisionAction(req.NewStatus),
		ResourceType:   "escalation",
		ResourceID:     req.EscalationID,
		Status:         audit.StatusSuccess,
		TenantID:       updated.TenantID,
		Details: map[string]string{
			"decision":        string(req.NewStatus),
			"transaction_ref": updated.TransactionRef,
		},
	})
	s.alert(ctx, updated.TenantID, "Escalation "+string(req.NewStatus)+": "+updated.TransactionRef)
	return updated, nil
}

// ExpireStale transitions PENDING escalations past their expiry to EXPIRED,
// via the same conditional-write discipline as Decide. Safe to run
// concurrently with decisions: only one of sweeper or CEO wins per record.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	now := requestcontext.Now(ctx)
	ids, err := s.store.ListExpiredPending(ctx, now)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeUnavailable, "could not list stale escalations")
	}

	expired := 0
	for _, id := range ids {
		updated, err := s.store.TransitionIfPending(ctx, id, escstore.Transition{
			To: models.StatusExpired,
			At: now,
		})
		if err != nil {
			// Lost to a decision or already swept; either way the record
			// is terminal now.
			if errors.Is(err, sentinel.ErrConflict) || errors.Is(err, sentinel.ErrNotFound) {
				continue
			}
			return expired, dErrors.Wrap(err, dErrors.CodeUnavailable, "could not expire escalation")
		}
		expired++
		if s.metrics != nil {
			s.metrics.EscalationsExpired.Inc()
		}
		s.ledger.Record(ctx, audit.Event{
			Action:       audit.ActionEscalationExpired,
			ResourceType: "escalation",
			ResourceID:   id,
			Status:       audit.StatusSuccess,
			TenantID:     updated.TenantID,
		})
	}
	return expired, nil
}

// Summary aggregates a tenant's escalations. Empty result sets yield zero
// values.
func (s *Service) Summary(ctx context.Context, tenantID string) (*models.Summary, error) {
	if tenantID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "tenant_id is required")
	}
	escs, err := s.store.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "could not list escalations")
	}

	summary := &models.Summary{Counts: make(map[models.Status]int)}
	for _, esc := range escs {
		summary.Counts[esc.Status]++
		if esc.Status == models.StatusPending {
			summary.PendingCount++
			summary.PendingTotalMinor += esc.AmountMinor
		}
	}
	if summary.PendingCount > 0 {
		summary.PendingAvgMinor = summary.PendingTotalMinor / int64(summary.PendingCount)
	}
	return summary, nil
}

// alert sends a best-effort notification; failure is logged and swallowed.
func (s *Service) alert(ctx context.Context, tenantID, message string) {
	if s.dispatcher == nil {
		return
	}
	requestID := requestcontext.RequestID(ctx)
	go func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), alertTimeout)
		defer cancel()
		sendCtx = requestcontext.WithRequestID(sendCtx, requestID)

		res := s.dispatcher.Send(sendCtx, domain.ChannelPush, tenantID, notify.Payload{
			Subject: "Escalation update",
			Body:    message,
		})
		if !res.Success {
			s.logger.Warn("escalation alert failed",
				"tenant_id", tenantID,
				"error", res.Err,
			)
		}
	}()
}

func (s *Service) auditDecision(ctx context.Context, req DecideRequest, tenantID string, status audit.Status, reason string) {
	s.ledger.Record(ctx, audit.Event{
		ActorSubjectID: req.DecidedBy,
		Action:         decisionAction(req.NewStatus),
		ResourceType:   "escalation",
		ResourceID:     req.EscalationID,
		Status:         status,
		TenantID:       tenantID,
		Details:        map[string]string{"reason": reason},
	})
}

func decisionAction(status models.Status) audit.Action {
	if status == models.StatusRejected {
		return audit.ActionEscalationRejected
	}
	return audit.ActionEscalationApproved
}
