package models

import "time"

// Status is the escalation state. PENDING is the only initial state;
// APPROVED, REJECTED, and EXPIRED are terminal.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
	StatusExpired  Status = "EXPIRED"
)

// Terminal reports whether no further transition is permitted.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusExpired
}

// Decision reports whether s is a status a CEO may transition to.
func (s Status) Decision() bool {
	return s == StatusApproved || s == StatusRejected
}

// Reason records why the transaction was flagged for review.
type Reason string

const (
	ReasonHighValue             Reason = "HIGH_VALUE"
	ReasonCounterpartyFlagged   Reason = "COUNTERPARTY_FLAGGED"
	ReasonLowConfidenceEvidence Reason = "LOW_CONFIDENCE_EVIDENCE"
)

// Valid reports whether r is a known flag reason.
func (r Reason) Valid() bool {
	switch r {
	case ReasonHighValue, ReasonCounterpartyFlagged, ReasonLowConfidenceEvidence:
		return true
	}
	return false
}

// Escalation is a transaction pending CEO review. Amount is minor currency
// units to avoid floating-point drift. Records are never deleted; terminal
// rows form the audit trail.
type Escalation struct {
	EscalationID   string
	TenantID       string
	TransactionRef string
	VendorID       string
	BuyerID        string
	AmountMinor    int64
	Reason         Reason
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ExpiresAt      time.Time
	DecidedBy      string
	DecisionNotes  string
	FlaggedBy      string
}

// ExpiredAt reports whether the pending window has elapsed.
func (e *Escalation) ExpiredAt(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Summary aggregates a tenant's escalations. Zero-valued on empty result
// sets.
type Summary struct {
	Counts            map[Status]int
	PendingTotalMinor int64
	PendingAvgMinor   int64
	PendingCount      int
}
