package model

import "time"

// AttemptStatus is the state of a single automation attempt.
type AttemptStatus string

const (
	AttemptInProgress AttemptStatus = "in_progress"
	AttemptSucceeded  AttemptStatus = "succeeded"
	AttemptFailed     AttemptStatus = "failed"
)

// Portal response messages recorded on completed attempts.
const (
	PortalMessageSuccess     = "SUCCESS"
	PortalMessageUnconfirmed = "UNCONFIRMED"
	PortalMessageError       = "ERROR"
)

// AutomationLogEntry is the audit record of one submission attempt.
type AutomationLogEntry struct {
	ID             string        `json:"id"`
	LeadID         string        `json:"lead_id"`
	TenantID       string        `json:"tenant_id"`
	PortalConfigID string        `json:"portal_config_id,omitempty"`
	AttemptNumber  int           `json:"attempt_number"`
	Status         AttemptStatus `json:"status"`
	ConstructedURL string        `json:"constructed_url,omitempty"`
	Success        bool          `json:"success"`
	ProcessingMS   int64         `json:"processing_ms"`
	PortalStatus   int           `json:"portal_status,omitempty"`
	PortalMessage  string        `json:"portal_message,omitempty"`
	ErrorMessage   string        `json:"error_message,omitempty"`
	ScreenshotPath string        `json:"screenshot_path,omitempty"`
	FinalURL       string        `json:"final_url,omitempty"`
	QueuedAt       time.Time     `json:"queued_at"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
}

// AttemptResult carries the fields written when an attempt completes.
type AttemptResult struct {
	Success        bool
	ProcessingMS   int64
	PortalStatus   int
	PortalMessage  string
	ErrorMessage   string
	ScreenshotPath string
	FinalURL       string
}
