package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trustgate/pkg/domain"
)

// NewRouter wires all public endpoints. Escalation and audit routes require
// a valid session; decisions additionally require the CEO role (and fresh
// re-authentication inside the service).
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestMeta)

	r.Get("/healthz", h.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/otc/request", h.handleOTCRequest)
	r.Post("/otc/verify", h.handleOTCVerify)

	r.Group(func(r chi.Router) {
		r.Use(RequireSession(h.sessions, h.logger))
		r.Post("/escalations", h.handleEscalationCreate)
		r.Get("/audit/events", h.handleAuditQuery)
	})

	r.Group(func(r chi.Router) {
		r.Use(RequireSession(h.sessions, h.logger, domain.RoleCEO))
		r.Get("/escalations", h.handleEscalationList)
		r.Get("/escalations/summary", h.handleEscalationSummary)
		r.Post("/escalations/{escalationID}/decision", func(w http.ResponseWriter, req *http.Request) {
			h.handleEscalationDecide(w, req, chi.URLParam(req, "escalationID"))
		})
	})

	return r
}
