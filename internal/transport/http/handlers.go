// Package http is the thin transport layer. Handlers decode requests,
// delegate to domain services, and map typed errors onto status codes;
// business logic stays out.
package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"trustgate/internal/audit"
	escmodels "trustgate/internal/escalation/models"
	escalation "trustgate/internal/escalation/service"
	"trustgate/internal/otc/issuer"
	"trustgate/internal/otc/verifier"
	"trustgate/internal/session"
	"trustgate/pkg/domain"
	dErrors "trustgate/pkg/domain-errors"
	"trustgate/pkg/requestcontext"
)

// Handler bundles the domain services behind the router.
type Handler struct {
	issuer      *issuer.Service
	verifier    *verifier.Service
	sessions    *session.Issuer
	escalations *escalation.Service
	ledger      *audit.Ledger
	logger      *slog.Logger
}

// NewHandler constructs the transport handler.
func NewHandler(
	iss *issuer.Service,
	ver *verifier.Service,
	sessions *session.Issuer,
	escalations *escalation.Service,
	ledger *audit.Ledger,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		issuer:      iss,
		verifier:    ver,
		sessions:    sessions,
		escalations: escalations,
		ledger:      ledger,
		logger:      logger,
	}
}

type otcRequestBody struct {
	SubjectID string `json:"subject_id"`
	Role      string `json:"role"`
	Channel   string `json:"channel"`
}

func (h *Handler) handleOTCRequest(w http.ResponseWriter, r *http.Request) {
	var body otcRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	challengeID, err := h.issuer.Issue(r.Context(), body.SubjectID, domain.Role(body.Role), domain.DeliveryChannel(body.Channel))
	if err != nil {
		writeCodeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"challenge_id": challengeID})
}

type otcVerifyBody struct {
	SubjectID string `json:"subject_id"`
	Code      string `json:"code"`
}

// handleOTCVerify verifies the code and, on success, mints a session
// credential in the same request.
func (h *Handler) handleOTCVerify(w http.ResponseWriter, r *http.Request) {
	var body otcVerifyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	result, err := h.verifier.Verify(r.Context(), body.SubjectID, body.Code)
	if err != nil {
		writeCodeFailure(w, err)
		return
	}

	tenantID := ""
	if result.Role == domain.RoleCEO {
		tenantID = result.SubjectID
	}
	token, err := h.sessions.Issue(r.Context(), result.SubjectID, result.Role, tenantID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token": token,
		"role":  string(result.Role),
	})
}

type escalationCreateBody struct {
	TransactionRef string `json:"transaction_ref"`
	TenantID       string `json:"tenant_id"`
	VendorID       string `json:"vendor_id"`
	BuyerID        string `json:"buyer_id"`
	AmountMinor    int64  `json:"amount_minor"`
	Reason         string `json:"reason"`
}

func (h *Handler) handleEscalationCreate(w http.ResponseWriter, r *http.Request) {
	var body escalationCreateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	escalationID, err := h.escalations.Create(r.Context(), escalation.CreateRequest{
		TransactionRef: body.TransactionRef,
		TenantID:       body.TenantID,
		VendorID:       body.VendorID,
		BuyerID:        body.BuyerID,
		AmountMinor:    body.AmountMinor,
		Reason:         escmodels.Reason(body.Reason),
		FlaggedBy:      requestcontext.SubjectID(r.Context()),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"escalation_id": escalationID})
}

func (h *Handler) handleEscalationList(w http.ResponseWriter, r *http.Request) {
	cred := CredentialFrom(r.Context())
	if cred == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing credential")
		return
	}

	escs, err := h.escalations.ListPending(r.Context(), cred.TenantID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"escalations": escalationViews(escs)})
}

func (h *Handler) handleEscalationSummary(w http.ResponseWriter, r *http.Request) {
	cred := CredentialFrom(r.Context())
	if cred == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing credential")
		return
	}

	summary, err := h.escalations.Summary(r.Context(), cred.TenantID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	counts := make(map[string]int, len(summary.Counts))
	for status, n := range summary.Counts {
		counts[string(status)] = n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"counts":              counts,
		"pending_total_minor": summary.PendingTotalMinor,
		"pending_avg_minor":   summary.PendingAvgMinor,
		"pending_count":       summary.PendingCount,
	})
}

type escalationDecideBody struct {
	Decision string `json:"decision"`
	Notes    string `json:"notes"`
	OTCCode  string `json:"otc_code"`
}

func (h *Handler) handleEscalationDecide(w http.ResponseWriter, r *http.Request, escalationID string) {
	cred := CredentialFrom(r.Context())
	if cred == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing credential")
		return
	}

	var body escalationDecideBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	updated, err := h.escalations.Decide(r.Context(), escalation.DecideRequest{
		EscalationID:  escalationID,
		NewStatus:     escmodels.Status(body.Decision),
		DecidedBy:     cred.SubjectID,
		DecisionNotes: body.Notes,
		OTCCode:       body.OTCCode,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, escalationView(updated))
}

func (h *Handler) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	cred := CredentialFrom(r.Context())
	if cred == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing credential")
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	filter := audit.Filter{
		TenantID:       cred.TenantID,
		Action:         audit.Action(r.URL.Query().Get("action")),
		ActorSubjectID: r.URL.Query().Get("actor"),
	}
	events, err := h.ledger.Query(r.Context(), filter, limit)
	if err != nil {
		writeDomainError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "could not query audit events"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": eventViews(events)})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// view types keep wire shapes stable and independent of domain structs.

type escalationViewBody struct {
	EscalationID   string `json:"escalation_id"`
	TenantID       string `json:"tenant_id"`
	TransactionRef string `json:"transaction_ref"`
	VendorID       string `json:"vendor_id"`
	BuyerID        string `json:"buyer_id"`
	AmountMinor    int64  `json:"amount_minor"`
	Reason         string `json:"reason"`
	Status         string `json:"status"`
	CreatedAt      string `json:"created_at"`
	ExpiresAt      string `json:"expires_at"`
	DecidedBy      string `json:"decided_by,omitempty"`
	DecisionNotes  string `json:"decision_notes,omitempty"`
}

func escalationView(esc *escmodels.Escalation) escalationViewBody {
	return escalationViewBody{
		EscalationID:   esc.EscalationID,
		TenantID:       esc.TenantID,
		TransactionRef: esc.TransactionRef,
		VendorID:       esc.VendorID,
		BuyerID:        esc.BuyerID,
		AmountMinor:    esc.AmountMinor,
		Reason:         string(esc.Reason),
		Status:         string(esc.Status),
		CreatedAt:      esc.CreatedAt.UTC().Format(timeFormat),
		ExpiresAt:      esc.ExpiresAt.UTC().Format(timeFormat),
		DecidedBy:      esc.DecidedBy,
		DecisionNotes:  esc.DecisionNotes,
	}
}

func escalationViews(escs []*escmodels.Escalation) []escalationViewBody {
	out := make([]escalationViewBody, 0, len(escs))
	for _, esc := range escs {
		out = append(out, escalationView(esc))
	}
	return out
}

type eventViewBody struct {
	EventID      string            `json:"event_id"`
	Actor        string            `json:"actor,omitempty"`
	Action       string            `json:"action"`
	ResourceType string            `json:"resource_type"`
	ResourceID   string            `json:"resource_id,omitempty"`
	Status       string            `json:"status"`
	Timestamp    string            `json:"timestamp"`
	Details      map[string]string `json:"details,omitempty"`
}

func eventViews(events []audit.Event) []eventViewBody {
	out := make([]eventViewBody, 0, len(events))
	for _, e := range events {
		out = append(out, eventViewBody{
			EventID:      e.EventID,
			Actor:        e.ActorSubjectID,
			Action:       string(e.Action),
			ResourceType: e.ResourceType,
			ResourceID:   e.ResourceID,
			Status:       string(e.Status),
			Timestamp:    e.Timestamp.UTC().Format(timeFormat),
			Details:      e.Details,
		})
	}
	return out
}

const timeFormat = time.RFC3339
