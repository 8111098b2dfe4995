package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-entry/internal/db"
	"github.com/sells-group/lead-entry/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists the hot-path queries of the processing loop,
// prepared on each new connection.
var preparedStatements = map[string]string{
	"get_active_portal_config": `SELECT ` + pgPortalColumns + ` FROM portal_configs WHERE tenant_id = $1 AND is_active ORDER BY updated_at DESC LIMIT 1`,
	"get_queue_item_by_lead":   `SELECT ` + queueColumns + ` FROM automation_queue WHERE lead_id = $1`,
	"get_call_state":           `SELECT status, transcript FROM call_logs WHERE call_id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id                    TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
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
	custom_data           JSONB,
	status                TEXT NOT NULL DEFAULT 'new',
	tcpa_consent          BOOLEAN NOT NULL DEFAULT false,
	consent_recording_url TEXT NOT NULL DEFAULT '',
	call_attempts         INTEGER NOT NULL DEFAULT 0,
	last_call_at          TIMESTAMPTZ,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS portal_configs (
	id                  TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	tenant_id           TEXT NOT NULL,
	portal_id           TEXT NOT NULL,
	portal_url          TEXT NOT NULL,
	field_mapping       JSONB NOT NULL,
	default_values      JSONB,
	auto_submit         BOOLEAN NOT NULL DEFAULT true,
	retry_attempts      INTEGER NOT NULL DEFAULT 3,
	retry_delay_minutes INTEGER NOT NULL DEFAULT 5,
	is_active           BOOLEAN NOT NULL DEFAULT true,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (tenant_id, portal_id)
);

CREATE TABLE IF NOT EXISTS automation_queue (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	lead_id         TEXT NOT NULL UNIQUE REFERENCES leads(id),
	tenant_id       TEXT NOT NULL,
	priority        INTEGER NOT NULL DEFAULT 5,
	status          TEXT NOT NULL DEFAULT 'queued',
	attempt_count   INTEGER NOT NULL DEFAULT 0,
	max_attempts    INTEGER NOT NULL DEFAULT 3,
	next_attempt_at TIMESTAMPTZ,
	last_error      TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS automation_logs (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	lead_id          TEXT NOT NULL REFERENCES leads(id),
	tenant_id        TEXT NOT NULL,
	portal_config_id TEXT,
	attempt_number   INTEGER NOT NULL,
	status           TEXT NOT NULL,
	constructed_url  TEXT NOT NULL DEFAULT '',
	success          BOOLEAN NOT NULL DEFAULT false,
	processing_ms    BIGINT NOT NULL DEFAULT 0,
	portal_status    INTEGER NOT NULL DEFAULT 0,
	portal_message   TEXT NOT NULL DEFAULT '',
	error_message    TEXT NOT NULL DEFAULT '',
	screenshot_path  TEXT NOT NULL DEFAULT '',
	final_url        TEXT NOT NULL DEFAULT '',
	queued_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at     TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS call_logs (
	call_id       TEXT PRIMARY KEY,
	tenant_id     TEXT NOT NULL,
	lead_id       TEXT NOT NULL,
	status        TEXT NOT NULL,
	transcript    TEXT NOT NULL DEFAULT '',
	recording_url TEXT NOT NULL DEFAULT '',
	consent       BOOLEAN NOT NULL DEFAULT false,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS lead_status_updates (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	lead_id     TEXT NOT NULL,
	tenant_id   TEXT NOT NULL,
	from_status TEXT NOT NULL,
	to_status   TEXT NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	call_id     TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_leads_status ON leads(status);
CREATE INDEX IF NOT EXISTS idx_leads_tenant ON leads(tenant_id);
CREATE INDEX IF NOT EXISTS idx_portal_configs_tenant ON portal_configs(tenant_id, is_active);
CREATE INDEX IF NOT EXISTS idx_queue_claim ON automation_queue(status, priority, created_at);
CREATE INDEX IF NOT EXISTS idx_automation_logs_lead ON automation_logs(lead_id);
CREATE INDEX IF NOT EXISTS idx_automation_logs_completed ON automation_logs(completed_at);
CREATE INDEX IF NOT EXISTS idx_status_updates_lead ON lead_status_updates(lead_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Leads

func (s *PostgresStore) CreateLead(ctx context.Context, lead *model.Lead) error {
	if lead.ID == "" {
		lead.ID = uuid.New().String()
	}
	if lead.Status == "" {
		lead.Status = model.LeadStatusNew
	}
	now := time.Now().UTC()
	lead.CreatedAt, lead.UpdatedAt = now, now

	custom, err := marshalJSONB(lead.CustomData)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal custom data")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO leads (`+leadColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)`,
		lead.ID, lead.TenantID, lead.FirstName, lead.LastName, lead.Email, lead.Phone, lead.AlternatePhone,
		lead.Company, lead.JobTitle, lead.Address, lead.City, lead.State, lead.ZipCode, lead.Country,
		lead.AreaOfStudy, lead.Source, custom, string(lead.Status), lead.TCPAConsent, lead.ConsentRecordingURL,
		lead.CallAttempts, lead.LastCallAt, now, now,
	)
	return eris.Wrapf(err, "postgres: insert lead %s", lead.ID)
}

func (s *PostgresStore) GetLead(ctx context.Context, tenantID, leadID string) (*model.Lead, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE id = $1 AND tenant_id = $2`, leadID, tenantID)
	lead, err := pgScanLead(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "lead %s", leadID)
	}
	return lead, eris.Wrap(err, "postgres: get lead")
}

func (s *PostgresStore) ListLeadsAwaitingAdmission(ctx context.Context, limit int) ([]model.Lead, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+leadColumns+` FROM leads
		 WHERE status = $1 AND NOT EXISTS (SELECT 1 FROM automation_queue q WHERE q.lead_id = leads.id)
		 ORDER BY updated_at ASC LIMIT $2`,
		string(model.LeadStatusConfirmed), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list leads awaiting admission")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		lead, err := pgScanLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead")
		}
		leads = append(leads, *lead)
	}
	return leads, eris.Wrap(rows.Err(), "postgres: list leads iterate")
}

func (s *PostgresStore) TransitionLeadStatus(ctx context.Context, leadID string, from, to model.LeadStatus, reason string) (bool, error) {
	var moved bool
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		now := time.Now().UTC()
		var tenantID string
		err := tx.QueryRow(ctx,
			`UPDATE leads SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4 RETURNING tenant_id`,
			string(to), now, leadID, string(from),
		).Scan(&tenantID)
		if errors.Is(err, pgx.ErrNoRows) {
			return pgLeadExists(ctx, tx, leadID)
		}
		if err != nil {
			return err
		}
		moved = true
		return pgInsertStatusUpdate(ctx, tx, leadID, tenantID, from, to, reason, "", now)
	})
	return moved, eris.Wrapf(err, "postgres: transition lead %s", leadID)
}

func (s *PostgresStore) ListStatusUpdates(ctx context.Context, leadID string) ([]model.StatusUpdate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, lead_id, tenant_id, from_status, to_status, reason, call_id, created_at
		 FROM lead_status_updates WHERE lead_id = $1 ORDER BY created_at ASC`, leadID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list status updates")
	}
	defer rows.Close()

	var updates []model.StatusUpdate
	for rows.Next() {
		var u model.StatusUpdate
		if err := rows.Scan(&u.ID, &u.LeadID, &u.TenantID, &u.From, &u.To, &u.Reason, &u.CallID, &u.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan status update")
		}
		updates = append(updates, u)
	}
	return updates, eris.Wrap(rows.Err(), "postgres: list status updates iterate")
}

// Portal configuration

const pgPortalColumns = portalColumns

func (s *PostgresStore) UpsertPortalConfig(ctx context.Context, cfg *model.PortalConfig) (*model.PortalConfig, error) {
	mappingJSON, err := json.Marshal(cfg.FieldMapping)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal field mapping")
	}
	defaults, err := marshalJSONB(cfg.DefaultValues)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal default values")
	}

	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx,
		`INSERT INTO portal_configs (`+pgPortalColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, true, $10, $10)
		 ON CONFLICT (tenant_id, portal_id) DO UPDATE SET
		   portal_url = EXCLUDED.portal_url,
		   field_mapping = EXCLUDED.field_mapping,
		   default_values = EXCLUDED.default_values,
		   auto_submit = EXCLUDED.auto_submit,
		   retry_attempts = EXCLUDED.retry_attempts,
		   retry_delay_minutes = EXCLUDED.retry_delay_minutes,
		   is_active = true,
		   updated_at = EXCLUDED.updated_at
		 RETURNING `+pgPortalColumns,
		uuid.New().String(), cfg.TenantID, cfg.PortalID, cfg.PortalURL, mappingJSON, defaults,
		cfg.AutoSubmit, cfg.RetryAttempts, cfg.RetryDelayMinutes, now,
	)
	saved, err := pgScanPortalConfig(row)
	return saved, eris.Wrap(err, "postgres: upsert portal config")
}

func (s *PostgresStore) GetActivePortalConfig(ctx context.Context, tenantID string) (*model.PortalConfig, error) {
	cfg, err := pgScanPortalConfig(s.pool.QueryRow(ctx, "get_active_portal_config", tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return cfg, eris.Wrap(err, "postgres: get active portal config")
}

func (s *PostgresStore) ListPortalConfigs(ctx context.Context, tenantID string) ([]model.PortalConfig, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgPortalColumns+` FROM portal_configs WHERE tenant_id = $1 ORDER BY created_at ASC`, tenantID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list portal configs")
	}
	defer rows.Close()

	var cfgs []model.PortalConfig
	for rows.Next() {
		cfg, err := pgScanPortalConfig(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan portal config")
		}
		cfgs = append(cfgs, *cfg)
	}
	return cfgs, eris.Wrap(rows.Err(), "postgres: list portal configs iterate")
}

func (s *PostgresStore) DeactivatePortalConfig(ctx context.Context, tenantID, configID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE portal_configs SET is_active = false, updated_at = $1 WHERE id = $2 AND tenant_id = $3`,
		time.Now().UTC(), configID, tenantID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: deactivate portal config %s", configID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "portal config %s", configID)
	}
	return nil
}

// Queue

func (s *PostgresStore) EnqueueLead(ctx context.Context, item model.QueueItem) (*model.QueueItem, bool, error) {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO automation_queue (id, lead_id, tenant_id, priority, status, attempt_count, max_attempts, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $7)
		 ON CONFLICT (lead_id) DO NOTHING`,
		uuid.New().String(), item.LeadID, item.TenantID, item.Priority,
		string(model.QueueStatusQueued), item.MaxAttempts, now,
	)
	if err != nil {
		return nil, false, eris.Wrapf(err, "postgres: enqueue lead %s", item.LeadID)
	}

	saved, err := s.GetQueueItemByLead(ctx, item.LeadID)
	if err != nil {
		return nil, false, err
	}
	if saved == nil {
		return nil, false, eris.Errorf("postgres: queue item for lead %s vanished after enqueue", item.LeadID)
	}
	return saved, tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ForceEnqueueLead(ctx context.Context, item model.QueueItem) (*model.QueueItem, error) {
	var saved *model.QueueItem
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		now := time.Now().UTC()
		row := tx.QueryRow(ctx,
			`INSERT INTO automation_queue (id, lead_id, tenant_id, priority, status, attempt_count, max_attempts, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $7)
			 ON CONFLICT (lead_id) DO UPDATE SET
			   status = EXCLUDED.status,
			   priority = EXCLUDED.priority,
			   attempt_count = 0,
			   max_attempts = EXCLUDED.max_attempts,
			   next_attempt_at = NULL,
			   last_error = NULL,
			   updated_at = EXCLUDED.updated_at
			 WHERE automation_queue.status <> 'processing'
			 RETURNING `+queueColumns,
			uuid.New().String(), item.LeadID, item.TenantID, item.Priority,
			string(model.QueueStatusQueued), item.MaxAttempts, now,
		)
		var err error
		saved, err = pgScanQueueItem(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAlreadyProcessing
		}
		if err != nil {
			return err
		}
		return pgSetLeadStatus(ctx, tx, item.LeadID, model.LeadStatusEntryInProgress, "manual processing requested", now)
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyProcessing) {
			return nil, err
		}
		return nil, eris.Wrapf(err, "postgres: force enqueue lead %s", item.LeadID)
	}
	return saved, nil
}

func (s *PostgresStore) GetQueueItemByLead(ctx context.Context, leadID string) (*model.QueueItem, error) {
	item, err := pgScanQueueItem(s.pool.QueryRow(ctx, "get_queue_item_by_lead", leadID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return item, eris.Wrap(err, "postgres: get queue item")
}

// ClaimNextQueueItem claims one due item. SKIP LOCKED lets concurrent
// processors pass over a row another transaction is claiming.
func (s *PostgresStore) ClaimNextQueueItem(ctx context.Context, now time.Time) (*model.QueueItem, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE automation_queue SET status = $1, updated_at = $2
		 WHERE id = (
		   SELECT id FROM automation_queue
		   WHERE status = $3 AND (next_attempt_at IS NULL OR next_attempt_at <= $2)
		   ORDER BY priority ASC, created_at ASC
		   LIMIT 1
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+queueColumns,
		string(model.QueueStatusProcessing), now.UTC(), string(model.QueueStatusQueued),
	)
	item, err := pgScanQueueItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return item, eris.Wrap(err, "postgres: claim queue item")
}

func (s *PostgresStore) RetryQueueItem(ctx context.Context, itemID string, attemptCount int, nextAttemptAt time.Time, lastErr string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE automation_queue
		 SET status = $1, attempt_count = $2, next_attempt_at = $3, last_error = $4, updated_at = $5
		 WHERE id = $6`,
		string(model.QueueStatusQueued), attemptCount, nextAttemptAt.UTC(), lastErr, time.Now().UTC(), itemID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: retry queue item %s", itemID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "queue item %s", itemID)
	}
	return nil
}

func (s *PostgresStore) CompleteQueueItem(ctx context.Context, itemID, leadID string) error {
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		now := time.Now().UTC()
		tag, err := tx.Exec(ctx,
			`UPDATE automation_queue SET status = $1, next_attempt_at = NULL, last_error = NULL, updated_at = $2 WHERE id = $3`,
			string(model.QueueStatusCompleted), now, itemID,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return eris.Wrapf(ErrNotFound, "queue item %s", itemID)
		}
		return pgSetLeadStatus(ctx, tx, leadID, model.LeadStatusEntered, "portal submission succeeded", now)
	})
	return eris.Wrapf(err, "postgres: complete queue item %s", itemID)
}

func (s *PostgresStore) FailQueueItem(ctx context.Context, itemID, leadID string, attemptCount int, lastErr string) error {
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		now := time.Now().UTC()
		tag, err := tx.Exec(ctx,
			`UPDATE automation_queue
			 SET status = $1, attempt_count = $2, next_attempt_at = NULL, last_error = $3, updated_at = $4
			 WHERE id = $5`,
			string(model.QueueStatusFailed), attemptCount, lastErr, now, itemID,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return eris.Wrapf(ErrNotFound, "queue item %s", itemID)
		}
		return pgSetLeadStatus(ctx, tx, leadID, model.LeadStatusEntryFailed, lastErr, now)
	})
	return eris.Wrapf(err, "postgres: fail queue item %s", itemID)
}

func (s *PostgresStore) ReclaimStaleQueueItems(ctx context.Context, claimedBefore time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE automation_queue SET status = $1, last_error = $2, updated_at = $3
		 WHERE status = $4 AND updated_at < $5`,
		string(model.QueueStatusQueued), "reclaimed after stale processing claim", time.Now().UTC(),
		string(model.QueueStatusProcessing), claimedBefore.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: reclaim stale queue items")
	}
	return int(tag.RowsAffected()), nil
}

// Automation log

func (s *PostgresStore) CreateAutomationLog(ctx context.Context, entry *model.AutomationLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Status == "" {
		entry.Status = model.AttemptInProgress
	}
	if entry.QueuedAt.IsZero() {
		entry.QueuedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO automation_logs (id, lead_id, tenant_id, portal_config_id, attempt_number, status, constructed_url, queued_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.LeadID, entry.TenantID, nullString(entry.PortalConfigID), entry.AttemptNumber,
		string(entry.Status), entry.ConstructedURL, entry.QueuedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: insert automation log")
}

func (s *PostgresStore) CompleteAutomationLog(ctx context.Context, id string, r model.AttemptResult, completedAt time.Time) error {
	status := model.AttemptFailed
	if r.Success {
		status = model.AttemptSucceeded
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE automation_logs
		 SET status = $1, success = $2, processing_ms = $3, portal_status = $4, portal_message = $5,
		     error_message = $6, screenshot_path = $7, final_url = $8, completed_at = $9
		 WHERE id = $10 AND completed_at IS NULL`,
		string(status), r.Success, r.ProcessingMS, r.PortalStatus, r.PortalMessage,
		r.ErrorMessage, r.ScreenshotPath, r.FinalURL, completedAt.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete automation log %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "open automation log %s", id)
	}
	return nil
}

func (s *PostgresStore) ListAutomationLogs(ctx context.Context, filter LogFilter) ([]model.AutomationLogEntry, error) {
	query := `SELECT ` + logColumns + ` FROM automation_logs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.TenantID != "" {
		query += fmt.Sprintf(` AND tenant_id = $%d`, argIdx)
		args = append(args, filter.TenantID)
		argIdx++
	}
	if filter.LeadID != "" {
		query += fmt.Sprintf(` AND lead_id = $%d`, argIdx)
		args = append(args, filter.LeadID)
		argIdx++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND queued_at >= $%d`, argIdx)
		args = append(args, filter.Since.UTC())
		argIdx++
	}
	query += ` ORDER BY queued_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list automation logs")
	}
	defer rows.Close()

	var entries []model.AutomationLogEntry
	for rows.Next() {
		e, err := pgScanLogEntry(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan automation log")
		}
		entries = append(entries, *e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list automation logs iterate")
}

// Calls

func (s *PostgresStore) RecordCallOutcome(ctx context.Context, outcome model.CallOutcome) (*model.CallOutcomeResult, error) {
	result := &model.CallOutcomeResult{}
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		var existing, transcript string
		err := tx.QueryRow(ctx, "get_call_state", outcome.CallID).Scan(&existing, &transcript)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			return err
		default:
			if callEventDuplicate(model.CallStatus(existing), transcript, outcome) {
				result.Duplicate = true
				return nil
			}
		}

		var current string
		err = tx.QueryRow(ctx,
			`SELECT status FROM leads WHERE id = $1 AND tenant_id = $2 FOR UPDATE`, outcome.LeadID, outcome.TenantID,
		).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return eris.Wrapf(ErrNotFound, "lead %s", outcome.LeadID)
		}
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		_, err = tx.Exec(ctx,
			`INSERT INTO call_logs (call_id, tenant_id, lead_id, status, transcript, recording_url, consent, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
			 ON CONFLICT (call_id) DO UPDATE SET
			   status = EXCLUDED.status,
			   transcript = COALESCE(NULLIF(EXCLUDED.transcript, ''), call_logs.transcript),
			   recording_url = COALESCE(NULLIF(EXCLUDED.recording_url, ''), call_logs.recording_url),
			   consent = EXCLUDED.consent,
			   updated_at = EXCLUDED.updated_at`,
			outcome.CallID, outcome.TenantID, outcome.LeadID, string(outcome.Status), outcome.Transcript,
			outcome.RecordingURL, outcome.Consent, now,
		)
		if err != nil {
			return err
		}

		from := model.LeadStatus(current)
		if !callLeadUpdate(from, outcome) {
			return nil
		}

		query := `UPDATE leads SET status = $1, last_call_at = $2, updated_at = $2`
		args := []any{string(outcome.LeadStatus), now}
		argIdx := 3
		if outcome.LeadStatus == model.LeadStatusCalling {
			query += `, call_attempts = call_attempts + 1`
		}
		if outcome.Consent {
			query += fmt.Sprintf(`, tcpa_consent = true, consent_recording_url = $%d`, argIdx)
			args = append(args, outcome.RecordingURL)
			argIdx++
		}
		query += fmt.Sprintf(` WHERE id = $%d AND status = $%d`, argIdx, argIdx+1)
		args = append(args, outcome.LeadID, current)

		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		result.LeadUpdated, result.From, result.To = true, from, outcome.LeadStatus
		return pgInsertStatusUpdate(ctx, tx, outcome.LeadID, outcome.TenantID, from, outcome.LeadStatus,
			outcome.Reason, outcome.CallID, now)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: record call outcome %s", outcome.CallID)
	}
	return result, nil
}

func (s *PostgresStore) GetCallLog(ctx context.Context, callID string) (*model.CallLog, error) {
	var c model.CallLog
	err := s.pool.QueryRow(ctx,
		`SELECT call_id, tenant_id, lead_id, status, transcript, recording_url, consent, created_at, updated_at
		 FROM call_logs WHERE call_id = $1`, callID,
	).Scan(&c.CallID, &c.TenantID, &c.LeadID, &c.Status, &c.Transcript, &c.RecordingURL, &c.Consent, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get call log")
	}
	return &c, nil
}

// Stats

func (s *PostgresStore) AutomationStats(ctx context.Context, tenantID string, since time.Time) (*model.AutomationStats, error) {
	st := &model.AutomationStats{TenantID: tenantID, Since: since.UTC()}

	// $1 is the tenant, empty meaning all tenants.
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM automation_queue
		 WHERE ($1 = '' OR tenant_id = $1) GROUP BY status`, tenantID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: queue counts")
	}
	if err := pgScanCounts(rows, func(status string, n int) {
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
		return nil, eris.Wrap(err, "postgres: scan queue counts")
	}

	rows, err = s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM leads
		 WHERE ($1 = '' OR tenant_id = $1) AND status IN ($2, $3, $4, $5) GROUP BY status`,
		tenantID, string(model.LeadStatusConfirmed), string(model.LeadStatusEntryInProgress),
		string(model.LeadStatusEntered), string(model.LeadStatusEntryFailed))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: lead counts")
	}
	if err := pgScanCounts(rows, func(status string, n int) { applyLeadCount(st, status, n) }); err != nil {
		return nil, eris.Wrap(err, "postgres: scan lead counts")
	}

	var avgMS *float64
	err = s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE success), AVG(processing_ms)::float8 FROM automation_logs
		 WHERE ($1 = '' OR tenant_id = $1) AND completed_at IS NOT NULL AND completed_at >= $2`,
		tenantID, since.UTC(),
	).Scan(&st.Attempts, &st.Succeeded, &avgMS)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: attempt totals")
	}
	st.AttemptsFailed = st.Attempts - st.Succeeded
	var avg float64
	if avgMS != nil {
		avg = *avgMS
	}
	finishStats(st, avg)

	recent, err := s.ListAutomationLogs(ctx, LogFilter{TenantID: tenantID, Since: since, Limit: recentActivityLimit})
	if err != nil {
		return nil, err
	}
	st.RecentActivity = recent
	return st, nil
}

// helpers

func pgLeadExists(ctx context.Context, q db.Querier, leadID string) error {
	var one int
	err := q.QueryRow(ctx, `SELECT 1 FROM leads WHERE id = $1`, leadID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "lead %s", leadID)
	}
	return err
}

// pgSetLeadStatus moves a lead unconditionally and records the change.
func pgSetLeadStatus(ctx context.Context, q db.Querier, leadID string, to model.LeadStatus, reason string, now time.Time) error {
	var from, tenantID string
	err := q.QueryRow(ctx, `SELECT status, tenant_id FROM leads WHERE id = $1 FOR UPDATE`, leadID).Scan(&from, &tenantID)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "lead %s", leadID)
	}
	if err != nil {
		return err
	}
	if model.LeadStatus(from) == to {
		return nil
	}
	if _, err := q.Exec(ctx, `UPDATE leads SET status = $1, updated_at = $2 WHERE id = $3`, string(to), now, leadID); err != nil {
		return err
	}
	return pgInsertStatusUpdate(ctx, q, leadID, tenantID, model.LeadStatus(from), to, reason, "", now)
}

func pgInsertStatusUpdate(ctx context.Context, q db.Querier, leadID, tenantID string, from, to model.LeadStatus, reason, callID string, now time.Time) error {
	_, err := q.Exec(ctx,
		`INSERT INTO lead_status_updates (id, lead_id, tenant_id, from_status, to_status, reason, call_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.New().String(), leadID, tenantID, string(from), string(to), reason, callID, now,
	)
	return err
}

func pgScanLead(row scannable) (*model.Lead, error) {
	var l model.Lead
	var custom []byte
	err := row.Scan(&l.ID, &l.TenantID, &l.FirstName, &l.LastName, &l.Email, &l.Phone, &l.AlternatePhone,
		&l.Company, &l.JobTitle, &l.Address, &l.City, &l.State, &l.ZipCode, &l.Country, &l.AreaOfStudy,
		&l.Source, &custom, &l.Status, &l.TCPAConsent, &l.ConsentRecordingURL, &l.CallAttempts, &l.LastCallAt,
		&l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(custom) > 0 {
		if err := json.Unmarshal(custom, &l.CustomData); err != nil {
			return nil, eris.Wrap(err, "unmarshal custom data")
		}
	}
	return &l, nil
}

func pgScanPortalConfig(row scannable) (*model.PortalConfig, error) {
	var p model.PortalConfig
	var mappingJSON, defaults []byte
	err := row.Scan(&p.ID, &p.TenantID, &p.PortalID, &p.PortalURL, &mappingJSON, &defaults, &p.AutoSubmit,
		&p.RetryAttempts, &p.RetryDelayMinutes, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(mappingJSON, &p.FieldMapping); err != nil {
		return nil, eris.Wrap(err, "unmarshal field mapping")
	}
	if len(defaults) > 0 {
		if err := json.Unmarshal(defaults, &p.DefaultValues); err != nil {
			return nil, eris.Wrap(err, "unmarshal default values")
		}
	}
	return &p, nil
}

func pgScanQueueItem(row scannable) (*model.QueueItem, error) {
	var q model.QueueItem
	var lastErr *string
	err := row.Scan(&q.ID, &q.LeadID, &q.TenantID, &q.Priority, &q.Status, &q.AttemptCount, &q.MaxAttempts,
		&q.NextAttemptAt, &lastErr, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastErr != nil {
		q.LastError = *lastErr
	}
	return &q, nil
}

func pgScanLogEntry(row scannable) (*model.AutomationLogEntry, error) {
	var e model.AutomationLogEntry
	var configID *string
	err := row.Scan(&e.ID, &e.LeadID, &e.TenantID, &configID, &e.AttemptNumber, &e.Status, &e.ConstructedURL,
		&e.Success, &e.ProcessingMS, &e.PortalStatus, &e.PortalMessage, &e.ErrorMessage, &e.ScreenshotPath,
		&e.FinalURL, &e.QueuedAt, &e.CompletedAt)
	if err != nil {
		return nil, err
	}
	if configID != nil {
		e.PortalConfigID = *configID
	}
	return &e, nil
}

func pgScanCounts(rows pgx.Rows, apply func(status string, n int)) error {
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

// marshalJSONB encodes a map for a JSONB column, or nil for an empty map.
func marshalJSONB(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}
