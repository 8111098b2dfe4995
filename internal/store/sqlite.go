package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/lead-entry/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// A single connection serializes writers, which the queue claim relies on.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id                    TEXT PRIMARY KEY,
	tenant_id             TEXT NOT NULL,
	first_name            TEXT NOT NULL DEFAULT '',
	last_name             TEXT NOT NULL DEFAULT '',
	email                 TEXT NOT NULL DEFAULT '',
	phone                 TEXT NOT NULL DEFAULT '',
	alternate_phone       TEXT NOT NULL DEFAULT '',
	company               TEXT NOT NULL DEFAULT '',
	job_title             TEXT NOT NULL DEFAULT '',
	address               TEXT NOT NULL DEFAULT '',
	city                  TEXT NOT NULL DEFAULT '',
	state                 TEXT NOT NULL DEFAULT '',
	zip_code              TEXT NOT NULL DEFAULT '',
	country               TEXT NOT NULL DEFAULT '',
	area_of_study         TEXT NOT NULL DEFAULT '',
	source                TEXT NOT NULL DEFAULT '',
	custom_data           TEXT,
	status                TEXT NOT NULL DEFAULT 'new',
	tcpa_consent          INTEGER NOT NULL DEFAULT 0,
	consent_recording_url TEXT NOT NULL DEFAULT '',
	call_attempts         INTEGER NOT NULL DEFAULT 0,
	last_call_at          DATETIME,
	created_at            DATETIME NOT NULL,
	updated_at            DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS portal_configs (
	id                  TEXT PRIMARY KEY,
	tenant_id           TEXT NOT NULL,
	portal_id           TEXT NOT NULL,
	portal_url          TEXT NOT NULL,
	field_mapping       TEXT NOT NULL,
	default_values      TEXT,
	auto_submit         INTEGER NOT NULL DEFAULT 1,
	retry_attempts      INTEGER NOT NULL DEFAULT 3,
	retry_delay_minutes INTEGER NOT NULL DEFAULT 5,
	is_active           INTEGER NOT NULL DEFAULT 1,
	created_at          DATETIME NOT NULL,
	updated_at          DATETIME NOT NULL,
	UNIQUE (tenant_id, portal_id)
);

CREATE TABLE IF NOT EXISTS automation_queue (
	id              TEXT PRIMARY KEY,
	lead_id         TEXT NOT NULL UNIQUE REFERENCES leads(id),
	tenant_id       TEXT NOT NULL,
	priority        INTEGER NOT NULL DEFAULT 5,
	status          TEXT NOT NULL DEFAULT 'queued',
	attempt_count   INTEGER NOT NULL DEFAULT 0,
	max_attempts    INTEGER NOT NULL DEFAULT 3,
	next_attempt_at DATETIME,
	last_error      TEXT,
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS automation_logs (
	id               TEXT PRIMARY KEY,
	lead_id          TEXT NOT NULL REFERENCES leads(id),
	tenant_id        TEXT NOT NULL,
	portal_config_id TEXT,
	attempt_number   INTEGER NOT NULL,
	status           TEXT NOT NULL,
	constructed_url  TEXT NOT NULL DEFAULT '',
	success          INTEGER NOT NULL DEFAULT 0,
	processing_ms    INTEGER NOT NULL DEFAULT 0,
	portal_status    INTEGER NOT NULL DEFAULT 0,
	portal_message   TEXT NOT NULL DEFAULT '',
	error_message    TEXT NOT NULL DEFAULT '',
	screenshot_path  TEXT NOT NULL DEFAULT '',
	final_url        TEXT NOT NULL DEFAULT '',
	queued_at        DATETIME NOT NULL,
	completed_at     DATETIME
);

CREATE TABLE IF NOT EXISTS call_logs (
	call_id       TEXT PRIMARY KEY,
	tenant_id     TEXT NOT NULL,
	lead_id       TEXT NOT NULL,
	status        TEXT NOT NULL,
	transcript    TEXT NOT NULL DEFAULT '',
	recording_url TEXT NOT NULL DEFAULT '',
	consent       INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS lead_status_updates (
	id          TEXT PRIMARY KEY,
	lead_id     TEXT NOT NULL,
	tenant_id   TEXT NOT NULL,
	from_status TEXT NOT NULL,
	to_status   TEXT NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	call_id     TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_leads_status ON leads(status);
CREATE INDEX IF NOT EXISTS idx_leads_tenant ON leads(tenant_id);
CREATE INDEX IF NOT EXISTS idx_portal_configs_tenant ON portal_configs(tenant_id, is_active);
CREATE INDEX IF NOT EXISTS idx_queue_claim ON automation_queue(status, priority, created_at);
CREATE INDEX IF NOT EXISTS idx_automation_logs_lead ON automation_logs(lead_id);
CREATE INDEX IF NOT EXISTS idx_automation_logs_completed ON automation_logs(completed_at);
CREATE INDEX IF NOT EXISTS idx_status_updates_lead ON lead_status_updates(lead_id);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Leads

const leadColumns = `id, tenant_id, first_name, last_name, email, phone, alternate_phone, company, job_title,
	address, city, state, zip_code, country, area_of_study, source, custom_data, status,
	tcpa_consent, consent_recording_url, call_attempts, last_call_at, created_at, updated_at`

func (s *SQLiteStore) CreateLead(ctx context.Context, lead *model.Lead) error {
	if lead.ID == "" {
		lead.ID = uuid.New().String()
	}
	if lead.Status == "" {
		lead.Status = model.LeadStatusNew
	}
	now := time.Now().UTC()
	lead.CreatedAt, lead.UpdatedAt = now, now

	custom, err := marshalNullable(lead.CustomData)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal custom data")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO leads (`+leadColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lead.ID, lead.TenantID, lead.FirstName, lead.LastName, lead.Email, lead.Phone, lead.AlternatePhone,
		lead.Company, lead.JobTitle, lead.Address, lead.City, lead.State, lead.ZipCode, lead.Country,
		lead.AreaOfStudy, lead.Source, custom, string(lead.Status), lead.TCPAConsent, lead.ConsentRecordingURL,
		lead.CallAttempts, lead.LastCallAt, now, now,
	)
	return eris.Wrapf(err, "sqlite: insert lead %s", lead.ID)
}

func (s *SQLiteStore) GetLead(ctx context.Context, tenantID, leadID string) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE id = ? AND tenant_id = ?`, leadID, tenantID)
	lead, err := scanLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "lead %s", leadID)
	}
	return lead, eris.Wrap(err, "sqlite: get lead")
}

func (s *SQLiteStore) ListLeadsAwaitingAdmission(ctx context.Context, limit int) ([]model.Lead, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+leadColumns+` FROM leads
		 WHERE status = ? AND NOT EXISTS (SELECT 1 FROM automation_queue q WHERE q.lead_id = leads.id)
		 ORDER BY updated_at ASC LIMIT ?`,
		string(model.LeadStatusConfirmed), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list leads awaiting admission")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead")
		}
		leads = append(leads, *lead)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: list leads iterate")
}

func (s *SQLiteStore) TransitionLeadStatus(ctx context.Context, leadID string, from, to model.LeadStatus, reason string) (bool, error) {
	var moved bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var tenantID string
		err := tx.QueryRowContext(ctx, `SELECT tenant_id FROM leads WHERE id = ?`, leadID).Scan(&tenantID)
		if errors.Is(err, sql.ErrNoRows) {
			return eris.Wrapf(ErrNotFound, "lead %s", leadID)
		}
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx,
			`UPDATE leads SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			string(to), now, leadID, string(from),
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil || n == 0 {
			return err
		}
		moved = true
		return sqliteInsertStatusUpdate(ctx, tx, leadID, tenantID, from, to, reason, "", now)
	})
	return moved, eris.Wrapf(err, "sqlite: transition lead %s", leadID)
}

func (s *SQLiteStore) ListStatusUpdates(ctx context.Context, leadID string) ([]model.StatusUpdate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, lead_id, tenant_id, from_status, to_status, reason, call_id, created_at
		 FROM lead_status_updates WHERE lead_id = ? ORDER BY created_at ASC`, leadID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list status updates")
	}
	defer rows.Close()

	var updates []model.StatusUpdate
	for rows.Next() {
		var u model.StatusUpdate
		if err := rows.Scan(&u.ID, &u.LeadID, &u.TenantID, &u.From, &u.To, &u.Reason, &u.CallID, &u.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan status update")
		}
		updates = append(updates, u)
	}
	return updates, eris.Wrap(rows.Err(), "sqlite: list status updates iterate")
}

// Portal configuration

const portalColumns = `id, tenant_id, portal_id, portal_url, field_mapping, default_values, auto_submit,
	retry_attempts, retry_delay_minutes, is_active, created_at, updated_at`

func (s *SQLiteStore) UpsertPortalConfig(ctx context.Context, cfg *model.PortalConfig) (*model.PortalConfig, error) {
	mappingJSON, err := json.Marshal(cfg.FieldMapping)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal field mapping")
	}
	defaults, err := marshalNullable(cfg.DefaultValues)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal default values")
	}

	now := time.Now().UTC()
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO portal_configs (`+portalColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		 ON CONFLICT (tenant_id, portal_id) DO UPDATE SET
		   portal_url = excluded.portal_url,
		   field_mapping = excluded.field_mapping,
		   default_values = excluded.default_values,
		   auto_submit = excluded.auto_submit,
		   retry_attempts = excluded.retry_attempts,
		   retry_delay_minutes = excluded.retry_delay_minutes,
		   is_active = 1,
		   updated_at = excluded.updated_at
		 RETURNING `+portalColumns,
		uuid.New().String(), cfg.TenantID, cfg.PortalID, cfg.PortalURL, string(mappingJSON), defaults,
		cfg.AutoSubmit, cfg.RetryAttempts, cfg.RetryDelayMinutes, now, now,
	)
	saved, err := scanPortalConfig(row)
	return saved, eris.Wrap(err, "sqlite: upsert portal config")
}

func (s *SQLiteStore) GetActivePortalConfig(ctx context.Context, tenantID string) (*model.PortalConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+portalColumns+` FROM portal_configs
		 WHERE tenant_id = ? AND is_active = 1 ORDER BY updated_at DESC LIMIT 1`, tenantID)
	cfg, err := scanPortalConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return cfg, eris.Wrap(err, "sqlite: get active portal config")
}

func (s *SQLiteStore) ListPortalConfigs(ctx context.Context, tenantID string) ([]model.PortalConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+portalColumns+` FROM portal_configs WHERE tenant_id = ? ORDER BY created_at ASC`, tenantID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list portal configs")
	}
	defer rows.Close()

	var cfgs []model.PortalConfig
	for rows.Next() {
		cfg, err := scanPortalConfig(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan portal config")
		}
		cfgs = append(cfgs, *cfg)
	}
	return cfgs, eris.Wrap(rows.Err(), "sqlite: list portal configs iterate")
}

func (s *SQLiteStore) DeactivatePortalConfig(ctx context.Context, tenantID, configID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE portal_configs SET is_active = 0, updated_at = ? WHERE id = ? AND tenant_id = ?`,
		time.Now().UTC(), configID, tenantID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: deactivate portal config %s", configID)
	}
	return checkRowsAffected(res, "portal config", configID)
}

// Queue

const queueColumns = `id, lead_id, tenant_id, priority, status, attempt_count, max_attempts,
	next_attempt_at, last_error, created_at, updated_at`

func (s *SQLiteStore) EnqueueLead(ctx context.Context, item model.QueueItem) (*model.QueueItem, bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO automation_queue (id, lead_id, tenant_id, priority, status, attempt_count, max_attempts, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)
		 ON CONFLICT (lead_id) DO NOTHING`,
		uuid.New().String(), item.LeadID, item.TenantID, item.Priority,
		string(model.QueueStatusQueued), item.MaxAttempts, now, now,
	)
	if err != nil {
		return nil, false, eris.Wrapf(err, "sqlite: enqueue lead %s", item.LeadID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: rows affected")
	}

	saved, err := s.GetQueueItemByLead(ctx, item.LeadID)
	if err != nil {
		return nil, false, err
	}
	if saved == nil {
		return nil, false, eris.Errorf("sqlite: queue item for lead %s vanished after enqueue", item.LeadID)
	}
	return saved, n == 1, nil
}

func (s *SQLiteStore) ForceEnqueueLead(ctx context.Context, item model.QueueItem) (*model.QueueItem, error) {
	var saved *model.QueueItem
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		row := tx.QueryRowContext(ctx,
			`INSERT INTO automation_queue (id, lead_id, tenant_id, priority, status, attempt_count, max_attempts, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)
			 ON CONFLICT (lead_id) DO UPDATE SET
			   status = excluded.status,
			   priority = excluded.priority,
			   attempt_count = 0,
			   max_attempts = excluded.max_attempts,
			   next_attempt_at = NULL,
			   last_error = NULL,
			   updated_at = excluded.updated_at
			 WHERE automation_queue.status <> 'processing'
			 RETURNING `+queueColumns,
			uuid.New().String(), item.LeadID, item.TenantID, item.Priority,
			string(model.QueueStatusQueued), item.MaxAttempts, now, now,
		)
		var err error
		saved, err = scanQueueItem(row)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrAlreadyProcessing
		}
		if err != nil {
			return err
		}
		return sqliteSetLeadStatus(ctx, tx, item.LeadID, model.LeadStatusEntryInProgress, "manual processing requested", now)
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyProcessing) {
			return nil, err
		}
		return nil, eris.Wrapf(err, "sqlite: force enqueue lead %s", item.LeadID)
	}
	return saved, nil
}

func (s *SQLiteStore) GetQueueItemByLead(ctx context.Context, leadID string) (*model.QueueItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+queueColumns+` FROM automation_queue WHERE lead_id = ?`, leadID)
	item, err := scanQueueItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return item, eris.Wrap(err, "sqlite: get queue item")
}

func (s *SQLiteStore) ClaimNextQueueItem(ctx context.Context, now time.Time) (*model.QueueItem, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE automation_queue SET status = ?, updated_at = ?
		 WHERE id = (
		   SELECT id FROM automation_queue
		   WHERE status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		   ORDER BY priority ASC, created_at ASC
		   LIMIT 1
		 ) AND status = ?
		 RETURNING `+queueColumns,
		string(model.QueueStatusProcessing), now.UTC(),
		string(model.QueueStatusQueued), now.UTC(), string(model.QueueStatusQueued),
	)
	item, err := scanQueueItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return item, eris.Wrap(err, "sqlite: claim queue item")
}

func (s *SQLiteStore) RetryQueueItem(ctx context.Context, itemID string, attemptCount int, nextAttemptAt time.Time, lastErr string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE automation_queue
		 SET status = ?, attempt_count = ?, next_attempt_at = ?, last_error = ?, updated_at = ?
		 WHERE id = ?`,
		string(model.QueueStatusQueued), attemptCount, nextAttemptAt.UTC(), lastErr, time.Now().UTC(), itemID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: retry queue item %s", itemID)
	}
	return checkRowsAffected(res, "queue item", itemID)
}

func (s *SQLiteStore) CompleteQueueItem(ctx context.Context, itemID, leadID string) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx,
			`UPDATE automation_queue SET status = ?, next_attempt_at = NULL, last_error = NULL, updated_at = ? WHERE id = ?`,
			string(model.QueueStatusCompleted), now, itemID,
		)
		if err != nil {
			return err
		}
		if err := checkRowsAffected(res, "queue item", itemID); err != nil {
			return err
		}
		return sqliteSetLeadStatus(ctx, tx, leadID, model.LeadStatusEntered, "portal submission succeeded", now)
	})
	return eris.Wrapf(err, "sqlite: complete queue item %s", itemID)
}

func (s *SQLiteStore) FailQueueItem(ctx context.Context, itemID, leadID string, attemptCount int, lastErr string) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx,
			`UPDATE automation_queue
			 SET status = ?, attempt_count = ?, next_attempt_at = NULL, last_error = ?, updated_at = ?
			 WHERE id = ?`,
			string(model.QueueStatusFailed), attemptCount, lastErr, now, itemID,
		)
		if err != nil {
			return err
		}
		if err := checkRowsAffected(res, "queue item", itemID); err != nil {
			return err
		}
		return sqliteSetLeadStatus(ctx, tx, leadID, model.LeadStatusEntryFailed, lastErr, now)
	})
	return eris.Wrapf(err, "sqlite: fail queue item %s", itemID)
}

func (s *SQLiteStore) ReclaimStaleQueueItems(ctx context.Context, claimedBefore time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE automation_queue SET status = ?, last_error = ?, updated_at = ?
		 WHERE status = ? AND updated_at < ?`,
		string(model.QueueStatusQueued), "reclaimed after stale processing claim", time.Now().UTC(),
		string(model.QueueStatusProcessing), claimedBefore.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: reclaim stale queue items")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// Automation log

const logColumns = `id, lead_id, tenant_id, portal_config_id, attempt_number, status, constructed_url, success,
	processing_ms, portal_status, portal_message, error_message, screenshot_path, final_url, queued_at, completed_at`

func (s *SQLiteStore) CreateAutomationLog(ctx context.Context, entry *model.AutomationLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Status == "" {
		entry.Status = model.AttemptInProgress
	}
	if entry.QueuedAt.IsZero() {
		entry.QueuedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO automation_logs (id, lead_id, tenant_id, portal_config_id, attempt_number, status, constructed_url, queued_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.LeadID, entry.TenantID, nullString(entry.PortalConfigID), entry.AttemptNumber,
		string(entry.Status), entry.ConstructedURL, entry.QueuedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: insert automation log")
}

func (s *SQLiteStore) CompleteAutomationLog(ctx context.Context, id string, r model.AttemptResult, completedAt time.Time) error {
	status := model.AttemptFailed
	if r.Success {
		status = model.AttemptSucceeded
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE automation_logs
		 SET status = ?, success = ?, processing_ms = ?, portal_status = ?, portal_message = ?,
		     error_message = ?, screenshot_path = ?, final_url = ?, completed_at = ?
		 WHERE id = ? AND completed_at IS NULL`,
		string(status), r.Success, r.ProcessingMS, r.PortalStatus, r.PortalMessage,
		r.ErrorMessage, r.ScreenshotPath, r.FinalURL, completedAt.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete automation log %s", id)
	}
	return checkRowsAffected(res, "open automation log", id)
}

func (s *SQLiteStore) ListAutomationLogs(ctx context.Context, filter LogFilter) ([]model.AutomationLogEntry, error) {
	query := `SELECT ` + logColumns + ` FROM automation_logs WHERE 1=1`
	var args []any

	if filter.TenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, filter.TenantID)
	}
	if filter.LeadID != "" {
		query += ` AND lead_id = ?`
		args = append(args, filter.LeadID)
	}
	if !filter.Since.IsZero() {
		query += ` AND queued_at >= ?`
		args = append(args, filter.Since.UTC())
	}
	query += ` ORDER BY queued_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list automation logs")
	}
	defer rows.Close()

	var entries []model.AutomationLogEntry
	for rows.Next() {
		e, err := scanLogEntry(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan automation log")
		}
		entries = append(entries, *e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list automation logs iterate")
}

// Calls

func (s *SQLiteStore) RecordCallOutcome(ctx context.Context, outcome model.CallOutcome) (*model.CallOutcomeResult, error) {
	result := &model.CallOutcomeResult{}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var existing, transcript string
		err := tx.QueryRowContext(ctx,
			`SELECT status, transcript FROM call_logs WHERE call_id = ?`, outcome.CallID,
		).Scan(&existing, &transcript)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return err
		default:
			if callEventDuplicate(model.CallStatus(existing), transcript, outcome) {
				result.Duplicate = true
				return nil
			}
		}

		var current string
		err = tx.QueryRowContext(ctx,
			`SELECT status FROM leads WHERE id = ? AND tenant_id = ?`, outcome.LeadID, outcome.TenantID,
		).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return eris.Wrapf(ErrNotFound, "lead %s", outcome.LeadID)
		}
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		_, err = tx.ExecContext(ctx,
			`INSERT INTO call_logs (call_id, tenant_id, lead_id, status, transcript, recording_url, consent, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (call_id) DO UPDATE SET
			   status = excluded.status,
			   transcript = CASE WHEN excluded.transcript <> '' THEN excluded.transcript ELSE call_logs.transcript END,
			   recording_url = CASE WHEN excluded.recording_url <> '' THEN excluded.recording_url ELSE call_logs.recording_url END,
			   consent = excluded.consent,
			   updated_at = excluded.updated_at`,
			outcome.CallID, outcome.TenantID, outcome.LeadID, string(outcome.Status), outcome.Transcript,
			outcome.RecordingURL, outcome.Consent, now, now,
		)
		if err != nil {
			return err
		}

		from := model.LeadStatus(current)
		if !callLeadUpdate(from, outcome) {
			return nil
		}

		query := `UPDATE leads SET status = ?, last_call_at = ?, updated_at = ?`
		args := []any{string(outcome.LeadStatus), now, now}
		if outcome.LeadStatus == model.LeadStatusCalling {
			query += `, call_attempts = call_attempts + 1`
		}
		if outcome.Consent {
			query += `, tcpa_consent = 1, consent_recording_url = ?`
			args = append(args, outcome.RecordingURL)
		}
		query += ` WHERE id = ? AND status = ?`
		args = append(args, outcome.LeadID, current)

		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil || n == 0 {
			return err
		}

		result.LeadUpdated, result.From, result.To = true, from, outcome.LeadStatus
		return sqliteInsertStatusUpdate(ctx, tx, outcome.LeadID, outcome.TenantID, from, outcome.LeadStatus,
			outcome.Reason, outcome.CallID, now)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: record call outcome %s", outcome.CallID)
	}
	return result, nil
}

func (s *SQLiteStore) GetCallLog(ctx context.Context, callID string) (*model.CallLog, error) {
	var c model.CallLog
	err := s.db.QueryRowContext(ctx,
		`SELECT call_id, tenant_id, lead_id, status, transcript, recording_url, consent, created_at, updated_at
		 FROM call_logs WHERE call_id = ?`, callID,
	).Scan(&c.CallID, &c.TenantID, &c.LeadID, &c.Status, &c.Transcript, &c.RecordingURL, &c.Consent, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get call log")
	}
	return &c, nil
}

// Stats

func (s *SQLiteStore) AutomationStats(ctx context.Context, tenantID string, since time.Time) (*model.AutomationStats, error) {
	st := &model.AutomationStats{TenantID: tenantID, Since: since.UTC()}

	tenantClause := ""
	var tenantArgs []any
	if tenantID != "" {
		tenantClause = ` AND tenant_id = ?`
		tenantArgs = []any{tenantID}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM automation_queue WHERE 1=1`+tenantClause+` GROUP BY status`, tenantArgs...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: queue counts")
	}
	if err := scanCounts(rows, func(status string, n int) {
		switch model.QueueStatus(status) {
		case model.QueueStatusQueued:
			st.Queued = n
		case model.QueueStatusProcessing:
			st.Processing = n
		case model.QueueStatusCompleted:
			st.Completed = n
		case model.QueueStatusFailed:
			st.Failed = n
		}
	}); err != nil {
		return nil, eris.Wrap(err, "sqlite: scan queue counts")
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM leads WHERE status IN (?, ?, ?, ?)`+tenantClause+` GROUP BY status`,
		append([]any{
			string(model.LeadStatusConfirmed), string(model.LeadStatusEntryInProgress),
			string(model.LeadStatusEntered), string(model.LeadStatusEntryFailed),
		}, tenantArgs...)...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: lead counts")
	}
	if err := scanCounts(rows, func(status string, n int) { applyLeadCount(st, status, n) }); err != nil {
		return nil, eris.Wrap(err, "sqlite: scan lead counts")
	}

	var succeeded sql.NullInt64
	var avgMS sql.NullFloat64
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), SUM(success), AVG(processing_ms) FROM automation_logs
		 WHERE completed_at IS NOT NULL AND completed_at >= ?`+tenantClause,
		append([]any{since.UTC()}, tenantArgs...)...,
	).Scan(&st.Attempts, &succeeded, &avgMS)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: attempt totals")
	}
	st.Succeeded = int(succeeded.Int64)
	st.AttemptsFailed = st.Attempts - st.Succeeded
	finishStats(st, avgMS.Float64)

	recent, err := s.ListAutomationLogs(ctx, LogFilter{TenantID: tenantID, Since: since, Limit: recentActivityLimit})
	if err != nil {
		return nil, err
	}
	st.RecentActivity = recent
	return st, nil
}

// helpers

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "begin tx")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return eris.Wrap(tx.Commit(), "commit tx")
}

// sqliteSetLeadStatus moves a lead unconditionally and records the change.
func sqliteSetLeadStatus(ctx context.Context, tx *sql.Tx, leadID string, to model.LeadStatus, reason string, now time.Time) error {
	var from, tenantID string
	err := tx.QueryRowContext(ctx, `SELECT status, tenant_id FROM leads WHERE id = ?`, leadID).Scan(&from, &tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "lead %s", leadID)
	}
	if err != nil {
		return err
	}
	if model.LeadStatus(from) == to {
		return nil
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE leads SET status = ?, updated_at = ? WHERE id = ?`, string(to), now, leadID,
	); err != nil {
		return err
	}
	return sqliteInsertStatusUpdate(ctx, tx, leadID, tenantID, model.LeadStatus(from), to, reason, "", now)
}

func sqliteInsertStatusUpdate(ctx context.Context, tx *sql.Tx, leadID, tenantID string, from, to model.LeadStatus, reason, callID string, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO lead_status_updates (id, lead_id, tenant_id, from_status, to_status, reason, call_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), leadID, tenantID, string(from), string(to), reason, callID, now,
	)
	return err
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanLead(row scannable) (*model.Lead, error) {
	var l model.Lead
	var custom sql.NullString
	var lastCall sql.NullTime
	err := row.Scan(&l.ID, &l.TenantID, &l.FirstName, &l.LastName, &l.Email, &l.Phone, &l.AlternatePhone,
		&l.Company, &l.JobTitle, &l.Address, &l.City, &l.State, &l.ZipCode, &l.Country, &l.AreaOfStudy,
		&l.Source, &custom, &l.Status, &l.TCPAConsent, &l.ConsentRecordingURL, &l.CallAttempts, &lastCall,
		&l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if custom.Valid && custom.String != "" {
		if err := json.Unmarshal([]byte(custom.String), &l.CustomData); err != nil {
			return nil, eris.Wrap(err, "unmarshal custom data")
		}
	}
	if lastCall.Valid {
		t := lastCall.Time
		l.LastCallAt = &t
	}
	return &l, nil
}

func scanPortalConfig(row scannable) (*model.PortalConfig, error) {
	var p model.PortalConfig
	var mappingJSON string
	var defaults sql.NullString
	err := row.Scan(&p.ID, &p.TenantID, &p.PortalID, &p.PortalURL, &mappingJSON, &defaults, &p.AutoSubmit,
		&p.RetryAttempts, &p.RetryDelayMinutes, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(mappingJSON), &p.FieldMapping); err != nil {
		return nil, eris.Wrap(err, "unmarshal field mapping")
	}
	if defaults.Valid && defaults.String != "" {
		if err := json.Unmarshal([]byte(defaults.String), &p.DefaultValues); err != nil {
			return nil, eris.Wrap(err, "unmarshal default values")
		}
	}
	return &p, nil
}

func scanQueueItem(row scannable) (*model.QueueItem, error) {
	var q model.QueueItem
	var next sql.NullTime
	var lastErr sql.NullString
	err := row.Scan(&q.ID, &q.LeadID, &q.TenantID, &q.Priority, &q.Status, &q.AttemptCount, &q.MaxAttempts,
		&next, &lastErr, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if next.Valid {
		t := next.Time
		q.NextAttemptAt = &t
	}
	q.LastError = lastErr.String
	return &q, nil
}

func scanLogEntry(row scannable) (*model.AutomationLogEntry, error) {
	var e model.AutomationLogEntry
	var configID sql.NullString
	var completed sql.NullTime
	err := row.Scan(&e.ID, &e.LeadID, &e.TenantID, &configID, &e.AttemptNumber, &e.Status, &e.ConstructedURL,
		&e.Success, &e.ProcessingMS, &e.PortalStatus, &e.PortalMessage, &e.ErrorMessage, &e.ScreenshotPath,
		&e.FinalURL, &e.QueuedAt, &completed)
	if err != nil {
		return nil, err
	}
	e.PortalConfigID = configID.String
	if completed.Valid {
		t := completed.Time
		e.CompletedAt = &t
	}
	return &e, nil
}

func scanCounts(rows *sql.Rows, apply func(status string, n int)) error {
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return err
		}
		apply(status, n)
	}
	return rows.Err()
}

func applyLeadCount(st *model.AutomationStats, status string, n int) {
	switch model.LeadStatus(status) {
	case model.LeadStatusConfirmed:
		st.LeadsConfirmed = n
	case model.LeadStatusEntryInProgress:
		st.LeadsEntryInProgress = n
	case model.LeadStatusEntered:
		st.LeadsEntered = n
	case model.LeadStatusEntryFailed:
		st.LeadsEntryFailed = n
	}
}

// marshalNullable encodes a map as JSON, or nil for an empty map.
func marshalNullable(m map[string]string) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
