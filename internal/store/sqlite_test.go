package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-entry/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedLead(t *testing.T, st *SQLiteStore, id string, status model.LeadStatus) *model.Lead {
	t.Helper()
	lead := &model.Lead{
		ID:         id,
		TenantID:   "tenant-1",
		FirstName:  "Jane",
		LastName:   "Doe",
		Email:      "jane@x.com",
		Phone:      "5550001111",
		Status:     status,
		CustomData: map[string]string{"dateOfBirth": "1990-04-01"},
	}
	require.NoError(t, st.CreateLead(context.Background(), lead))
	return lead
}

func queueItem(leadID string, priority int) model.QueueItem {
	return model.QueueItem{LeadID: leadID, TenantID: "tenant-1", Priority: priority, MaxAttempts: 3}
}

// --- Leads ---

func TestSQLite_Lead_CreateAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedLead(t, st, "lead-1", model.LeadStatusConfirmed)

	got, err := st.GetLead(ctx, "tenant-1", "lead-1")
	require.NoError(t, err)
	assert.Equal(t, "Jane", got.FirstName)
	assert.Equal(t, model.LeadStatusConfirmed, got.Status)
	assert.Equal(t, "1990-04-01", got.CustomData["dateOfBirth"])
	assert.Nil(t, got.LastCallAt)

	_, err = st.GetLead(ctx, "tenant-2", "lead-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_TransitionLeadStatus(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedLead(t, st, "lead-1", model.LeadStatusNew)

	moved, err := st.TransitionLeadStatus(ctx, "lead-1", model.LeadStatusNew, model.LeadStatusCalling, "dialing")
	require.NoError(t, err)
	assert.True(t, moved)

	// Stale from-status is a no-op.
	moved, err = st.TransitionLeadStatus(ctx, "lead-1", model.LeadStatusNew, model.LeadStatusConfirmed, "late")
	require.NoError(t, err)
	assert.False(t, moved)

	updates, err := st.ListStatusUpdates(ctx, "lead-1")
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, model.LeadStatusNew, updates[0].From)
	assert.Equal(t, model.LeadStatusCalling, updates[0].To)

	_, err = st.TransitionLeadStatus(ctx, "missing", model.LeadStatusNew, model.LeadStatusCalling, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_ListLeadsAwaitingAdmission(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedLead(t, st, "lead-1", model.LeadStatusConfirmed)
	seedLead(t, st, "lead-2", model.LeadStatusConfirmed)
	seedLead(t, st, "lead-3", model.LeadStatusNew)

	_, _, err := st.EnqueueLead(ctx, queueItem("lead-2", 5))
	require.NoError(t, err)

	leads, err := st.ListLeadsAwaitingAdmission(ctx, 10)
	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.Equal(t, "lead-1", leads[0].ID)
}

// --- Portal configs ---

func TestSQLite_PortalConfig_UpsertAndDeactivate(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	cfg := &model.PortalConfig{
		TenantID:          "tenant-1",
		PortalID:          "edu-portal",
		PortalURL:         "https://portal.example.com/submit",
		FieldMapping:      model.FieldMapping{"firstName": "firstname"},
		DefaultValues:     map[string]string{"us_citizen": "yes"},
		AutoSubmit:        true,
		RetryAttempts:     3,
		RetryDelayMinutes: 5,
	}
	saved, err := st.UpsertPortalConfig(ctx, cfg)
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.True(t, saved.IsActive)

	active, err := st.GetActivePortalConfig(ctx, "tenant-1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "firstname", active.FieldMapping["firstName"])
	assert.Equal(t, "yes", active.DefaultValues["us_citizen"])

	require.NoError(t, st.DeactivatePortalConfig(ctx, "tenant-1", saved.ID))
	active, err = st.GetActivePortalConfig(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Nil(t, active)

	// Re-applying the same portal keeps its id and reactivates it.
	cfg.PortalURL = "https://portal.example.com/v2"
	again, err := st.UpsertPortalConfig(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, saved.ID, again.ID)
	assert.True(t, again.IsActive)
	assert.Equal(t, "https://portal.example.com/v2", again.PortalURL)

	all, err := st.ListPortalConfigs(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	assert.ErrorIs(t, st.DeactivatePortalConfig(ctx, "tenant-2", saved.ID), ErrNotFound)
}

// --- Queue ---

func TestSQLite_EnqueueLead_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedLead(t, st, "lead-1", model.LeadStatusConfirmed)

	first, created, err := st.EnqueueLead(ctx, queueItem("lead-1", 5))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, model.QueueStatusQueued, first.Status)

	second, created, err := st.EnqueueLead(ctx, queueItem("lead-1", 1))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 5, second.Priority)
}

func TestSQLite_ClaimNext_PriorityOrder(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedLead(t, st, "lead-low", model.LeadStatusConfirmed)
	seedLead(t, st, "lead-high", model.LeadStatusConfirmed)

	_, _, err := st.EnqueueLead(ctx, queueItem("lead-low", 5))
	require.NoError(t, err)
	_, _, err = st.EnqueueLead(ctx, queueItem("lead-high", 1))
	require.NoError(t, err)

	item, err := st.ClaimNextQueueItem(ctx, time.Now())
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "lead-high", item.LeadID)
	assert.Equal(t, model.QueueStatusProcessing, item.Status)

	item, err = st.ClaimNextQueueItem(ctx, time.Now())
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "lead-low", item.LeadID)

	item, err = st.ClaimNextQueueItem(ctx, time.Now())
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestSQLite_ClaimNext_Concurrent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedLead(t, st, "lead-1", model.LeadStatusConfirmed)
	_, _, err := st.EnqueueLead(ctx, queueItem("lead-1", 5))
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			item, err := st.ClaimNextQueueItem(ctx, time.Now())
			assert.NoError(t, err)
			if item != nil {
				mu.Lock()
				claimed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, claimed)
}

func TestSQLite_RetryQueueItem_Backoff(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedLead(t, st, "lead-1", model.LeadStatusConfirmed)
	_, _, err := st.EnqueueLead(ctx, queueItem("lead-1", 5))
	require.NoError(t, err)

	now := time.Now().UTC()
	item, err := st.ClaimNextQueueItem(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, item)

	next := now.Add(10 * time.Minute)
	require.NoError(t, st.RetryQueueItem(ctx, item.ID, 1, next, "portal timeout"))

	// Not due yet.
	claimed, err := st.ClaimNextQueueItem(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Nil(t, claimed)

	claimed, err = st.ClaimNextQueueItem(ctx, next.Add(time.Second))
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, 1, claimed.AttemptCount)
	assert.Equal(t, "portal timeout", claimed.LastError)

	assert.ErrorIs(t, st.RetryQueueItem(ctx, "missing", 1, next, ""), ErrNotFound)
}

func TestSQLite_CompleteQueueItem_MarksLeadEntered(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedLead(t, st, "lead-1", model.LeadStatusEntryInProgress)
	_, _, err := st.EnqueueLead(ctx, queueItem("lead-1", 5))
	require.NoError(t, err)
	item, err := st.ClaimNextQueueItem(ctx, time.Now())
	require.NoError(t, err)

	require.NoError(t, st.CompleteQueueItem(ctx, item.ID, "lead-1"))

	got, err := st.GetQueueItemByLead(ctx, "lead-1")
	require.NoError(t, err)
	assert.Equal(t, model.QueueStatusCompleted, got.Status)

	lead, err := st.GetLead(ctx, "tenant-1", "lead-1")
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusEntered, lead.Status)

	updates, err := st.ListStatusUpdates(ctx, "lead-1")
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, model.LeadStatusEntered, updates[0].To)
}

func TestSQLite_FailQueueItem_MarksLeadFailed(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedLead(t, st, "lead-1", model.LeadStatusEntryInProgress)
	_, _, err := st.EnqueueLead(ctx, queueItem("lead-1", 5))
	require.NoError(t, err)
	item, err := st.ClaimNextQueueItem(ctx, time.Now())
	require.NoError(t, err)

	require.NoError(t, st.FailQueueItem(ctx, item.ID, "lead-1", 3, "captcha"))

	got, err := st.GetQueueItemByLead(ctx, "lead-1")
	require.NoError(t, err)
	assert.Equal(t, model.QueueStatusFailed, got.Status)
	assert.Equal(t, 3, got.AttemptCount)
	assert.Equal(t, "captcha", got.LastError)

	lead, err := st.GetLead(ctx, "tenant-1", "lead-1")
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusEntryFailed, lead.Status)
}

func TestSQLite_ForceEnqueueLead(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedLead(t, st, "lead-1", model.LeadStatusConfirmed)
	_, _, err := st.EnqueueLead(ctx, queueItem("lead-1", 5))
	require.NoError(t, err)
	item, err := st.ClaimNextQueueItem(ctx, time.Now())
	require.NoError(t, err)

	_, err = st.ForceEnqueueLead(ctx, queueItem("lead-1", 1))
	assert.ErrorIs(t, err, ErrAlreadyProcessing)

	require.NoError(t, st.FailQueueItem(ctx, item.ID, "lead-1", 3, "boom"))

	requeued, err := st.ForceEnqueueLead(ctx, queueItem("lead-1", 1))
	require.NoError(t, err)
	assert.Equal(t, item.ID, requeued.ID)
	assert.Equal(t, model.QueueStatusQueued, requeued.Status)
	assert.Equal(t, 1, requeued.Priority)
	assert.Zero(t, requeued.AttemptCount)
	assert.Empty(t, requeued.LastError)

	lead, err := st.GetLead(ctx, "tenant-1", "lead-1")
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusEntryInProgress, lead.Status)
}

func TestSQLite_ReclaimStaleQueueItems(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedLead(t, st, "lead-1", model.LeadStatusConfirmed)
	_, _, err := st.EnqueueLead(ctx, queueItem("lead-1", 5))
	require.NoError(t, err)
	_, err = st.ClaimNextQueueItem(ctx, time.Now())
	require.NoError(t, err)

	n, err := st.ReclaimStaleQueueItems(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = st.ReclaimStaleQueueItems(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := st.GetQueueItemByLead(ctx, "lead-1")
	require.NoError(t, err)
	assert.Equal(t, model.QueueStatusQueued, got.Status)
}

// --- Automation log ---

func TestSQLite_AutomationLog_Lifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedLead(t, st, "lead-1", model.LeadStatusEntryInProgress)

	entry := &model.AutomationLogEntry{
		LeadID:         "lead-1",
		TenantID:       "tenant-1",
		AttemptNumber:  1,
		ConstructedURL: "https://portal.example.com/submit?email=REDACTED",
	}
	require.NoError(t, st.CreateAutomationLog(ctx, entry))
	assert.NotEmpty(t, entry.ID)

	done := time.Now().UTC()
	res := model.AttemptResult{Success: true, ProcessingMS: 1200, PortalStatus: 200, PortalMessage: model.PortalMessageSuccess}
	require.NoError(t, st.CompleteAutomationLog(ctx, entry.ID, res, done))

	// Completed entries are immutable.
	assert.ErrorIs(t, st.CompleteAutomationLog(ctx, entry.ID, res, done), ErrNotFound)

	entries, err := st.ListAutomationLogs(ctx, LogFilter{LeadID: "lead-1"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.AttemptSucceeded, entries[0].Status)
	assert.True(t, entries[0].Success)
	assert.Equal(t, int64(1200), entries[0].ProcessingMS)
	require.NotNil(t, entries[0].CompletedAt)
}

func TestSQLite_AutomationStats(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedLead(t, st, "lead-1", model.LeadStatusEntered)
	seedLead(t, st, "lead-2", model.LeadStatusEntryFailed)
	seedLead(t, st, "lead-3", model.LeadStatusConfirmed)
	_, _, err := st.EnqueueLead(ctx, queueItem("lead-3", 5))
	require.NoError(t, err)

	since := time.Now().UTC().Add(-time.Hour)
	for i, ok := range []bool{true, false, true, true} {
		e := &model.AutomationLogEntry{LeadID: "lead-1", TenantID: "tenant-1", AttemptNumber: i + 1}
		require.NoError(t, st.CreateAutomationLog(ctx, e))
		require.NoError(t, st.CompleteAutomationLog(ctx, e.ID,
			model.AttemptResult{Success: ok, ProcessingMS: 1000}, time.Now().UTC()))
	}

	stats, err := st.AutomationStats(ctx, "tenant-1", since)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Queued)
	assert.Equal(t, 1, stats.LeadsEntered)
	assert.Equal(t, 1, stats.LeadsEntryFailed)
	assert.Equal(t, 1, stats.LeadsConfirmed)
	assert.Equal(t, 4, stats.Attempts)
	assert.Equal(t, 3, stats.Succeeded)
	assert.Equal(t, 1, stats.AttemptsFailed)
	assert.InDelta(t, 75.0, stats.SuccessRate, 0.001)
	assert.InDelta(t, 1000.0, stats.AvgProcessingMS, 0.001)
	assert.Len(t, stats.RecentActivity, 4)

	empty, err := st.AutomationStats(ctx, "tenant-9", since)
	require.NoError(t, err)
	assert.Zero(t, empty.Attempts)
	assert.Zero(t, empty.SuccessRate)
}

// --- Calls ---

func TestSQLite_RecordCallOutcome_StateMachine(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedLead(t, st, "lead-1", model.LeadStatusNew)

	res, err := st.RecordCallOutcome(ctx, model.CallOutcome{
		CallID: "call-1", TenantID: "tenant-1", LeadID: "lead-1",
		Status: model.CallStatusInitiated, LeadStatus: model.LeadStatusCalling, Reason: "call initiated",
	})
	require.NoError(t, err)
	assert.True(t, res.LeadUpdated)
	assert.Equal(t, model.LeadStatusNew, res.From)

	res, err = st.RecordCallOutcome(ctx, model.CallOutcome{
		CallID: "call-1", TenantID: "tenant-1", LeadID: "lead-1",
		Status: model.CallStatusCompleted, Transcript: "yes, you may contact me",
		RecordingURL: "https://rec.example.com/1", Consent: true,
		LeadStatus: model.LeadStatusConfirmed, Reason: "consent captured",
	})
	require.NoError(t, err)
	assert.True(t, res.LeadUpdated)
	assert.Equal(t, model.LeadStatusCalling, res.From)
	assert.Equal(t, model.LeadStatusConfirmed, res.To)

	lead, err := st.GetLead(ctx, "tenant-1", "lead-1")
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusConfirmed, lead.Status)
	assert.True(t, lead.TCPAConsent)
	assert.Equal(t, "https://rec.example.com/1", lead.ConsentRecordingURL)
	assert.Equal(t, 1, lead.CallAttempts)
	assert.NotNil(t, lead.LastCallAt)

	// A redelivered or late event never regresses the call.
	res, err = st.RecordCallOutcome(ctx, model.CallOutcome{
		CallID: "call-1", TenantID: "tenant-1", LeadID: "lead-1",
		Status: model.CallStatusRinging, LeadStatus: model.LeadStatusCalling,
	})
	require.NoError(t, err)
	assert.True(t, res.Duplicate)

	call, err := st.GetCallLog(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, model.CallStatusCompleted, call.Status)
	assert.Equal(t, "yes, you may contact me", call.Transcript)

	updates, err := st.ListStatusUpdates(ctx, "lead-1")
	require.NoError(t, err)
	require.Len(t, updates, 2)
	assert.Equal(t, "call-1", updates[1].CallID)
}

func TestSQLite_RecordCallOutcome_LeavesEntryStagesAlone(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedLead(t, st, "lead-1", model.LeadStatusEntered)

	res, err := st.RecordCallOutcome(ctx, model.CallOutcome{
		CallID: "call-2", TenantID: "tenant-1", LeadID: "lead-1",
		Status: model.CallStatusFailed, LeadStatus: model.LeadStatusCallFailed,
	})
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.False(t, res.LeadUpdated)

	lead, err := st.GetLead(ctx, "tenant-1", "lead-1")
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusEntered, lead.Status)
}

func TestSQLite_RecordCallOutcome_FailedCallRecoversOnTranscript(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedLead(t, st, "lead-1", model.LeadStatusCalling)

	res, err := st.RecordCallOutcome(ctx, model.CallOutcome{
		CallID: "call-1", TenantID: "tenant-1", LeadID: "lead-1",
		Status: model.CallStatusFailed, LeadStatus: model.LeadStatusCallFailed, Reason: "call failed",
	})
	require.NoError(t, err)
	assert.True(t, res.LeadUpdated)

	res, err = st.RecordCallOutcome(ctx, model.CallOutcome{
		CallID: "call-1", TenantID: "tenant-1", LeadID: "lead-1",
		Status: model.CallStatusCompleted, Transcript: "User: yes, I consent", Consent: true,
		LeadStatus: model.LeadStatusConfirmed, Reason: "call completed with consent",
	})
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.True(t, res.LeadUpdated)
	assert.Equal(t, model.LeadStatusCallFailed, res.From)
	assert.Equal(t, model.LeadStatusConfirmed, res.To)

	// Same rank with nothing new is still a duplicate.
	res, err = st.RecordCallOutcome(ctx, model.CallOutcome{
		CallID: "call-1", TenantID: "tenant-1", LeadID: "lead-1",
		Status: model.CallStatusFailed, LeadStatus: model.LeadStatusCallFailed,
	})
	require.NoError(t, err)
	assert.True(t, res.Duplicate)

	lead, err := st.GetLead(ctx, "tenant-1", "lead-1")
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusConfirmed, lead.Status)
	assert.True(t, lead.TCPAConsent)
}

func TestSQLite_RecordCallOutcome_UnknownLead(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.RecordCallOutcome(context.Background(), model.CallOutcome{
		CallID: "call-3", TenantID: "tenant-1", LeadID: "ghost", Status: model.CallStatusInitiated,
	})
	assert.ErrorIs(t, err, ErrNotFound)

	call, err := st.GetCallLog(context.Background(), "call-3")
	require.NoError(t, err)
	assert.Nil(t, call)
}
