package audit

import "time"

// Status records the outcome of the audited action.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
	StatusError   Status = "ERROR"
)

// Action is drawn from a controlled vocabulary so downstream consumers can
// rely on a contract instead of free-form strings.
type Action string

const (
	ActionOTCRequest         Action = "OTC_REQUEST"
	ActionOTCVerify          Action = "OTC_VERIFY"
	ActionSessionIssued      Action = "SESSION_ISSUED"
	ActionEscalationCreated  Action = "ESCALATION_CREATED"
	ActionEscalationApproved Action = "ESCALATION_APPROVED"
	ActionEscalationRejected Action = "ESCALATION_REJECTED"
	ActionEscalationExpired  Action = "ESCALATION_EXPIRED"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
//
// Details is a structured key/value bag with a documented key set per action
// (e.g. "reason", "delivery_degraded", "decision"). Code plaintext must never
// appear in Details.
type Event struct {
	EventID        string
	ActorSubjectID string
	Action         Action
	ResourceType   string
	ResourceID     string
	Status         Status
	Timestamp      time.Time
	TenantID       string
	RequestID      string
	Details        map[string]string
}

// Filter narrows a ledger query. Zero-valued fields match everything.
type Filter struct {
	ActorSubjectID string
	Action         Action
	TenantID       string
	ResourceType   string
	ResourceID     string
}

// Matches reports whether the event satisfies every set field of the filter.
func (f Filter) Matches(e Event) bool {
	if f.ActorSubjectID != "" && e.ActorSubjectID != f.ActorSubjectID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.TenantID != "" && e.TenantID != f.TenantID {
		return false
	}
	if f.ResourceType != "" && e.ResourceType != f.ResourceType {
		return false
	}
	if f.ResourceID != "" && e.ResourceID != f.ResourceID {
		return false
	}
	return true
}
