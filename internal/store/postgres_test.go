package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-entry/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

var queueCols = []string{"id", "lead_id", "tenant_id", "priority", "status", "attempt_count", "max_attempts",
	"next_attempt_at", "last_error", "created_at", "updated_at"}

func TestPostgresStore_GetLead_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, tenant_id, .* FROM leads WHERE id = \$1 AND tenant_id = \$2`).
		WithArgs("missing", "tenant-1").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetLead(context.Background(), "tenant-1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetActivePortalConfig_None(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`get_active_portal_config`).
		WithArgs("tenant-1").
		WillReturnError(pgx.ErrNoRows)

	cfg, err := s.GetActivePortalConfig(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Nil(t, cfg)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetActivePortalConfig(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`get_active_portal_config`).
		WithArgs("tenant-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "tenant_id", "portal_id", "portal_url", "field_mapping",
			"default_values", "auto_submit", "retry_attempts", "retry_delay_minutes", "is_active", "created_at", "updated_at"}).
			AddRow("cfg-1", "tenant-1", "edu", "https://portal.example.com/submit",
				[]byte(`{"firstName":"firstname"}`), []byte(nil), true, 3, 5, true, now, now))

	cfg, err := s.GetActivePortalConfig(context.Background(), "tenant-1")
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "firstname", cfg.FieldMapping["firstName"])
	assert.Nil(t, cfg.DefaultValues)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeactivatePortalConfig_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE portal_configs SET is_active = false`).
		WithArgs(pgxmock.AnyArg(), "cfg-9", "tenant-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.DeactivatePortalConfig(context.Background(), "tenant-1", "cfg-9")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EnqueueLead_Existing(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectExec(`INSERT INTO automation_queue .* ON CONFLICT \(lead_id\) DO NOTHING`).
		WithArgs(pgxmock.AnyArg(), "lead-1", "tenant-1", 5, "queued", 3, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery(`get_queue_item_by_lead`).
		WithArgs("lead-1").
		WillReturnRows(pgxmock.NewRows(queueCols).
			AddRow("q-1", "lead-1", "tenant-1", 5, model.QueueStatusProcessing, 1, 3, (*time.Time)(nil), (*string)(nil), now, now))

	item, created, err := s.EnqueueLead(context.Background(), model.QueueItem{
		LeadID: "lead-1", TenantID: "tenant-1", Priority: 5, MaxAttempts: 3,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "q-1", item.ID)
	assert.Equal(t, model.QueueStatusProcessing, item.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClaimNextQueueItem_SkipLocked(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`UPDATE automation_queue SET status = \$1.*FOR UPDATE SKIP LOCKED.*RETURNING`).
		WithArgs("processing", now, "queued").
		WillReturnRows(pgxmock.NewRows(queueCols).
			AddRow("q-1", "lead-1", "tenant-1", 1, model.QueueStatusProcessing, 0, 3, (*time.Time)(nil), (*string)(nil), now, now))

	item, err := s.ClaimNextQueueItem(context.Background(), now)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "lead-1", item.LeadID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClaimNextQueueItem_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`UPDATE automation_queue SET status`).
		WillReturnError(pgx.ErrNoRows)

	item, err := s.ClaimNextQueueItem(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Nil(t, item)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ForceEnqueueLead_Processing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`ON CONFLICT \(lead_id\) DO UPDATE SET .* WHERE automation_queue.status <> 'processing'`).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := s.ForceEnqueueLead(context.Background(), model.QueueItem{LeadID: "lead-1", TenantID: "tenant-1", Priority: 1})
	assert.ErrorIs(t, err, ErrAlreadyProcessing)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteQueueItem(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE automation_queue SET status = \$1`).
		WithArgs("completed", pgxmock.AnyArg(), "q-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery(`SELECT status, tenant_id FROM leads WHERE id = \$1 FOR UPDATE`).
		WithArgs("lead-1").
		WillReturnRows(pgxmock.NewRows([]string{"status", "tenant_id"}).AddRow("entry_in_progress", "tenant-1"))
	mock.ExpectExec(`UPDATE leads SET status = \$1`).
		WithArgs("entered", pgxmock.AnyArg(), "lead-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO lead_status_updates`).
		WithArgs(pgxmock.AnyArg(), "lead-1", "tenant-1", "entry_in_progress", "entered",
			"portal submission succeeded", "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, s.CompleteQueueItem(context.Background(), "q-1", "lead-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FailQueueItem_RollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE automation_queue`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery(`SELECT status, tenant_id FROM leads`).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := s.FailQueueItem(context.Background(), "q-1", "lead-1", 3, "captcha")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fail queue item q-1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordCallOutcome_Duplicate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`get_call_state`).
		WithArgs("call-1").
		WillReturnRows(pgxmock.NewRows([]string{"status", "transcript"}).AddRow("completed", "no thanks"))
	mock.ExpectCommit()

	res, err := s.RecordCallOutcome(context.Background(), model.CallOutcome{
		CallID: "call-1", TenantID: "tenant-1", LeadID: "lead-1", Status: model.CallStatusAnswered,
	})
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordCallOutcome_Confirms(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`get_call_state`).
		WithArgs("call-1").
		WillReturnRows(pgxmock.NewRows([]string{"status", "transcript"}).AddRow("answered", ""))
	mock.ExpectQuery(`SELECT status FROM leads WHERE id = \$1 AND tenant_id = \$2 FOR UPDATE`).
		WithArgs("lead-1", "tenant-1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("calling"))
	mock.ExpectExec(`INSERT INTO call_logs`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE leads SET status = \$1, last_call_at = \$2, updated_at = \$2, tcpa_consent = true, consent_recording_url = \$3 WHERE id = \$4 AND status = \$5`).
		WithArgs("confirmed", pgxmock.AnyArg(), "https://rec.example.com/1", "lead-1", "calling").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO lead_status_updates`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	res, err := s.RecordCallOutcome(context.Background(), model.CallOutcome{
		CallID: "call-1", TenantID: "tenant-1", LeadID: "lead-1",
		Status: model.CallStatusCompleted, Consent: true, RecordingURL: "https://rec.example.com/1",
		LeadStatus: model.LeadStatusConfirmed,
	})
	require.NoError(t, err)
	assert.True(t, res.LeadUpdated)
	assert.Equal(t, model.LeadStatusCalling, res.From)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordCallOutcome_TranscriptAfterBareEnd(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`get_call_state`).
		WithArgs("call-1").
		WillReturnRows(pgxmock.NewRows([]string{"status", "transcript"}).AddRow("completed", ""))
	mock.ExpectQuery(`SELECT status FROM leads WHERE id = \$1 AND tenant_id = \$2 FOR UPDATE`).
		WithArgs("lead-1", "tenant-1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("calling"))
	mock.ExpectExec(`INSERT INTO call_logs`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE leads SET status = \$1`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO lead_status_updates`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	res, err := s.RecordCallOutcome(context.Background(), model.CallOutcome{
		CallID: "call-1", TenantID: "tenant-1", LeadID: "lead-1",
		Status: model.CallStatusCompleted, Transcript: "User: yes, I consent", Consent: true,
		LeadStatus: model.LeadStatusConfirmed,
	})
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.True(t, res.LeadUpdated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListAutomationLogs_Filters(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	since := time.Now().UTC().Add(-time.Hour)

	mock.ExpectQuery(`FROM automation_logs WHERE true AND tenant_id = \$1 AND lead_id = \$2 AND queued_at >= \$3 ORDER BY queued_at DESC LIMIT \$4`).
		WithArgs("tenant-1", "lead-1", since, 20).
		WillReturnRows(pgxmock.NewRows([]string{"id", "lead_id", "tenant_id", "portal_config_id", "attempt_number",
			"status", "constructed_url", "success", "processing_ms", "portal_status", "portal_message",
			"error_message", "screenshot_path", "final_url", "queued_at", "completed_at"}))

	entries, err := s.ListAutomationLogs(context.Background(), LogFilter{
		TenantID: "tenant-1", LeadID: "lead-1", Since: since, Limit: 20,
	})
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS leads`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
