package model

import "time"

// QueueStatus is the state of a queue item.
type QueueStatus string

const (
	QueueStatusQueued     QueueStatus = "queued"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusCompleted  QueueStatus = "completed"
	QueueStatusFailed     QueueStatus = "failed"
)

// IsTerminal reports whether no further automatic transition happens.
func (s QueueStatus) IsTerminal() bool {
	return s == QueueStatusCompleted || s == QueueStatusFailed
}

// QueueItem is a unit of pending portal entry work. There is at most one per lead.
type QueueItem struct {
	ID            string      `json:"id"`
	LeadID        string      `json:"lead_id"`
	TenantID      string      `json:"tenant_id"`
	Priority      int         `json:"priority"`
	Status        QueueStatus `json:"status"`
	AttemptCount  int         `json:"attempt_count"`
	MaxAttempts   int         `json:"max_attempts"`
	NextAttemptAt *time.Time  `json:"next_attempt_at,omitempty"`
	LastError     string      `json:"last_error,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}
