package model

import "time"

// AutomationStats summarizes queue and submission activity for a tenant.
type AutomationStats struct {
	TenantID string    `json:"tenant_id,omitempty"`
	Since    time.Time `json:"since"`

	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`

	// Lead counts across the entry part of the lifecycle.
	LeadsConfirmed       int `json:"leads_confirmed"`
	LeadsEntryInProgress int `json:"leads_entry_in_progress"`
	LeadsEntered         int `json:"leads_entered"`
	LeadsEntryFailed     int `json:"leads_entry_failed"`

	// Attempts finished inside the window.
	Attempts        int     `json:"attempts"`
	Succeeded       int     `json:"succeeded"`
	AttemptsFailed  int     `json:"attempts_failed"`
	SuccessRate     float64 `json:"success_rate"`
	AvgProcessingMS float64 `json:"avg_processing_ms"`

	RecentActivity []AutomationLogEntry `json:"recent_activity,omitempty"`
}
