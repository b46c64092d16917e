package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	CodesIssued        *prometheus.CounterVec
	CodeVerifications  *prometheus.CounterVec
	LockoutsTriggered  prometheus.Counter
	SessionsIssued     prometheus.Counter
	EscalationsCreated *prometheus.CounterVec
	EscalationsDecided *prometheus.CounterVec
	EscalationsExpired prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		CodesIssued: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "trustgate_otc_issued_total",
			Help: "Total number of one-time codes issued, by role",
		}, []string{"role"}),
		CodeVerifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "trustgate_otc_verifications_total",
			Help: "Total number of verification attempts, by outcome",
		}, []string{"outcome"}),
		LockoutsTriggered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "trustgate_otc_lockouts_total",
			Help: "Total number of lockouts triggered by repeated failures",
		}),
		SessionsIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "trustgate_sessions_issued_total",
			Help: "Total number of session credentials minted",
		}),
		EscalationsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "trustgate_escalations_created_total",
			Help: "Total number of escalations created, by reason",
		}, []string{"reason"}),
		EscalationsDecided: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "trustgate_escalations_decided_total",
			Help: "Total number of escalation decisions committed, by status",
		}, []string{"status"}),
		EscalationsExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "trustgate_escalations_expired_total",
			Help: "Total number of pending escalations expired by the sweeper",
		}),
	}
}
