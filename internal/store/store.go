package store

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-entry/internal/model"
)

// ErrNotFound is wrapped by lookups and updates that match no row.
var ErrNotFound = eris.New("not found")

// ErrAlreadyProcessing is returned when a manual requeue targets a queue item
// that is currently claimed by a processing pass.
var ErrAlreadyProcessing = eris.New("queue item is currently processing")

// LogFilter specifies criteria for listing automation log entries.
type LogFilter struct {
	TenantID string    `json:"tenant_id,omitempty"`
	LeadID   string    `json:"lead_id,omitempty"`
	Since    time.Time `json:"since,omitempty"`
	Limit    int       `json:"limit,omitempty"`
}

// Store defines the persistence interface for the lead automation pipeline.
type Store interface {
	// Leads
	CreateLead(ctx context.Context, lead *model.Lead) error
	GetLead(ctx context.Context, tenantID, leadID string) (*model.Lead, error)
	ListLeadsAwaitingAdmission(ctx context.Context, limit int) ([]model.Lead, error)
	TransitionLeadStatus(ctx context.Context, leadID string, from, to model.LeadStatus, reason string) (bool, error)
	ListStatusUpdates(ctx context.Context, leadID string) ([]model.StatusUpdate, error)

	// Portal configuration
	UpsertPortalConfig(ctx context.Context, cfg *model.PortalConfig) (*model.PortalConfig, error)
	GetActivePortalConfig(ctx context.Context, tenantID string) (*model.PortalConfig, error)
	ListPortalConfigs(ctx context.Context, tenantID string) ([]model.PortalConfig, error)
	DeactivatePortalConfig(ctx context.Context, tenantID, configID string) error

	// Queue
	EnqueueLead(ctx context.Context, item model.QueueItem) (*model.QueueItem, bool, error)
	ForceEnqueueLead(ctx context.Context, item model.QueueItem) (*model.QueueItem, error)
	GetQueueItemByLead(ctx context.Context, leadID string) (*model.QueueItem, error)
	ClaimNextQueueItem(ctx context.Context, now time.Time) (*model.QueueItem, error)
	RetryQueueItem(ctx context.Context, itemID string, attemptCount int, nextAttemptAt time.Time, lastErr string) error
	CompleteQueueItem(ctx context.Context, itemID, leadID string) error
	FailQueueItem(ctx context.Context, itemID, leadID string, attemptCount int, lastErr string) error
	ReclaimStaleQueueItems(ctx context.Context, claimedBefore time.Time) (int, error)

	// Automation log
	CreateAutomationLog(ctx context.Context, entry *model.AutomationLogEntry) error
	CompleteAutomationLog(ctx context.Context, id string, res model.AttemptResult, completedAt time.Time) error
	ListAutomationLogs(ctx context.Context, filter LogFilter) ([]model.AutomationLogEntry, error)

	// Calls
	RecordCallOutcome(ctx context.Context, outcome model.CallOutcome) (*model.CallOutcomeResult, error)
	GetCallLog(ctx context.Context, callID string) (*model.CallLog, error)

	// Stats
	AutomationStats(ctx context.Context, tenantID string, since time.Time) (*model.AutomationStats, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

const recentActivityLimit = 20

// finishStats derives the rate fields once the raw counters are loaded.
func finishStats(st *model.AutomationStats, avgMS float64) {
	if st.Attempts > 0 {
		rate := float64(st.Succeeded) / float64(st.Attempts) * 100
		st.SuccessRate = math.Round(rate*100) / 100
	}
	st.AvgProcessingMS = math.Round(avgMS)
}

// callEventDuplicate reports whether an event adds nothing to the stored call.
// A same-rank event still counts when it brings the transcript the stored row
// is missing, as when an end-of-call report follows a bare "ended" update.
func callEventDuplicate(existing model.CallStatus, existingTranscript string, outcome model.CallOutcome) bool {
	switch rank, prev := outcome.Status.Rank(), existing.Rank(); {
	case rank < prev:
		return true
	case rank == prev:
		return existingTranscript != "" || outcome.Transcript == ""
	}
	return false
}

// callLeadUpdate decides whether a call outcome may move a lead from its
// current status.
func callLeadUpdate(current model.LeadStatus, outcome model.CallOutcome) bool {
	if outcome.LeadStatus == "" || !current.IsCallStage() {
		return false
	}
	return current != outcome.LeadStatus
}
