package model

import "time"

// CallStatus is the normalized state of an outbound confirmation call.
type CallStatus string

const (
	CallStatusInitiated CallStatus = "initiated"
	CallStatusRinging   CallStatus = "ringing"
	CallStatusAnswered  CallStatus = "answered"
	CallStatusCompleted CallStatus = "completed"
	CallStatusFailed    CallStatus = "failed"
)

// Rank orders call statuses so a late or redelivered event never moves a call
// backwards. Completed and failed share the terminal rank.
func (s CallStatus) Rank() int {
	switch s {
	case CallStatusInitiated:
		return 1
	case CallStatusRinging:
		return 2
	case CallStatusAnswered:
		return 3
	case CallStatusCompleted, CallStatusFailed:
		return 4
	default:
		return 0
	}
}

// CallLog is the latest known state of a call, one row per provider call id.
type CallLog struct {
	CallID       string     `json:"call_id"`
	TenantID     string     `json:"tenant_id"`
	LeadID       string     `json:"lead_id"`
	Status       CallStatus `json:"status"`
	Transcript   string     `json:"transcript,omitempty"`
	RecordingURL string     `json:"recording_url,omitempty"`
	Consent      bool       `json:"consent"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// StatusUpdate is an append-only record of a lead status change.
type StatusUpdate struct {
	ID        string     `json:"id"`
	LeadID    string     `json:"lead_id"`
	TenantID  string     `json:"tenant_id"`
	From      LeadStatus `json:"from"`
	To        LeadStatus `json:"to"`
	Reason    string     `json:"reason,omitempty"`
	CallID    string     `json:"call_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// CallOutcome is a normalized call event ready to be persisted.
type CallOutcome struct {
	CallID       string
	TenantID     string
	LeadID       string
	Status       CallStatus
	Transcript   string
	RecordingURL string
	Consent      bool
	// LeadStatus is the target lead status, empty when the event moves no lead.
	LeadStatus LeadStatus
	Reason     string
}

// CallOutcomeResult reports what persisting a CallOutcome changed.
type CallOutcomeResult struct {
	Duplicate   bool       `json:"duplicate"`
	LeadUpdated bool       `json:"lead_updated"`
	From        LeadStatus `json:"from,omitempty"`
	To          LeadStatus `json:"to,omitempty"`
}
