package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-entry/internal/model"
)

// MetricsSnapshot holds a point-in-time view of automation health.
type MetricsSnapshot struct {
	// Queue depth by status. Not windowed.
	QueueQueued     int `json:"queue_queued"`
	QueueProcessing int `json:"queue_processing"`
	QueueCompleted  int `json:"queue_completed"`
	QueueFailed     int `json:"queue_failed"`

	// Submission attempts finished within the lookback window.
	Attempts        int     `json:"attempts"`
	Succeeded       int     `json:"succeeded"`
	AttemptsFailed  int     `json:"attempts_failed"`
	FailureRate     float64 `json:"failure_rate"`
	AvgProcessingMS float64 `json:"avg_processing_ms"`

	LeadsEntryFailed int `json:"leads_entry_failed"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// StatsQuerier is the slice of the store the collector reads.
type StatsQuerier interface {
	AutomationStats(ctx context.Context, tenantID string, since time.Time) (*model.AutomationStats, error)
}

// Collector gathers metrics across all tenants.
type Collector struct {
	stats StatsQuerier
	now   func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(st StatsQuerier) *Collector {
	return &Collector{stats: st, now: time.Now}
}

// Collect gathers a snapshot of automation metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)
	st, err := c.stats.AutomationStats(ctx, "", cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: automation stats")
	}

	snap.QueueQueued = st.Queued
	snap.QueueProcessing = st.Processing
	snap.QueueCompleted = st.Completed
	snap.QueueFailed = st.Failed
	snap.Attempts = st.Attempts
	snap.Succeeded = st.Succeeded
	snap.AttemptsFailed = st.AttemptsFailed
	snap.AvgProcessingMS = st.AvgProcessingMS
	snap.LeadsEntryFailed = st.LeadsEntryFailed

	if finished := snap.Succeeded + snap.AttemptsFailed; finished > 0 {
		snap.FailureRate = float64(snap.AttemptsFailed) / float64(finished)
	}
	return snap, nil
}
