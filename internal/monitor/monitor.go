// Package monitor moves confirmed leads into the automation queue and drives
// queued items through the submission engine.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-entry/internal/mapping"
	"github.com/sells-group/lead-entry/internal/model"
	"github.com/sells-group/lead-entry/internal/queue"
	"github.com/sells-group/lead-entry/internal/store"
	"github.com/sells-group/lead-entry/internal/submit"
)

// ErrNoPortalConfig is returned when a tenant has no active portal
// configuration.
var ErrNoPortalConfig = eris.New("no active portal configuration")

// Submitter performs portal submissions.
type Submitter interface {
	Start(ctx context.Context) error
	Ready() bool
	Submit(ctx context.Context, req submit.Request) submit.Outcome
	CleanupScreenshots(retention time.Duration) (int, error)
	Close() error
}

// Config controls the monitor passes.
type Config struct {
	AdmissionInterval   time.Duration
	ProcessingInterval  time.Duration
	MaintenanceInterval time.Duration
	Jitter              float64
	BatchSize           int
	ManualPriority      int
	ScreenshotRetention time.Duration
	// RedactParams are masked in the constructed URL written to the log.
	RedactParams []string
}

// Monitor owns the admission, processing, and maintenance passes.
type Monitor struct {
	store     store.Store
	queue     *queue.Queue
	resolver  *mapping.Resolver
	submitter Submitter
	cfg       Config
	log       *zap.Logger
	now       func() time.Time

	// processing keeps at most one processing pass in flight.
	processing sync.Mutex
}

// New creates a Monitor.
func New(st store.Store, q *queue.Queue, resolver *mapping.Resolver, sub Submitter, cfg Config) *Monitor {
	if cfg.AdmissionInterval <= 0 {
		cfg.AdmissionInterval = 30 * time.Second
	}
	if cfg.ProcessingInterval <= 0 {
		cfg.ProcessingInterval = 10 * time.Second
	}
	if cfg.MaintenanceInterval <= 0 {
		cfg.MaintenanceInterval = 24 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.ManualPriority <= 0 {
		cfg.ManualPriority = 1
	}
	if cfg.ScreenshotRetention <= 0 {
		cfg.ScreenshotRetention = 7 * 24 * time.Hour
	}
	return &Monitor{
		store:     st,
		queue:     q,
		resolver:  resolver,
		submitter: sub,
		cfg:       cfg,
		log:       zap.L().With(zap.String("component", "monitor")),
		now:       time.Now,
	}
}

// Run acquires the browser, runs the passes until ctx ends, then releases
// the browser.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.submitter.Start(ctx); err != nil {
		return eris.Wrap(err, "monitor: start submitter")
	}
	defer func() {
		if err := m.submitter.Close(); err != nil {
			m.log.Warn("close submitter", zap.Error(err))
		}
	}()

	m.log.Info("lead monitor started",
		zap.Duration("admission_interval", m.cfg.AdmissionInterval),
		zap.Duration("processing_interval", m.cfg.ProcessingInterval))

	err := NewScheduler(
		Task{Name: "admission", Interval: m.cfg.AdmissionInterval, Jitter: m.cfg.Jitter, RunAtStart: true,
			Run: func(ctx context.Context) error { _, err := m.Admit(ctx); return err }},
		Task{Name: "processing", Interval: m.cfg.ProcessingInterval, Jitter: m.cfg.Jitter,
			Run: func(ctx context.Context) error { _, err := m.ProcessNext(ctx); return err }},
		Task{Name: "maintenance", Interval: m.cfg.MaintenanceInterval, Jitter: m.cfg.Jitter,
			Run: func(ctx context.Context) error { _, err := m.Maintain(ctx); return err }},
	).Run(ctx)

	m.log.Info("lead monitor stopped")
	return err
}

// Admit queues confirmed leads that have no queue item yet and hands stale
// processing claims back to the queue. It returns the number of leads queued.
func (m *Monitor) Admit(ctx context.Context) (int, error) {
	if _, err := m.queue.ReclaimStale(ctx); err != nil {
		m.log.Error("reclaim stale claims", zap.Error(err))
	}

	leads, err := m.store.ListLeadsAwaitingAdmission(ctx, m.cfg.BatchSize)
	if err != nil {
		return 0, eris.Wrap(err, "monitor: list leads")
	}

	admitted := 0
	for i := range leads {
		if ctx.Err() != nil {
			break
		}
		ok, err := m.admitLead(ctx, &leads[i])
		if err != nil {
			m.log.Error("admit lead", zap.String("lead_id", leads[i].ID), zap.Error(err))
			continue
		}
		if ok {
			admitted++
		}
	}
	if admitted > 0 {
		m.log.Info("admission pass complete", zap.Int("found", len(leads)), zap.Int("queued", admitted))
	}
	return admitted, nil
}

func (m *Monitor) admitLead(ctx context.Context, lead *model.Lead) (bool, error) {
	log := m.log.With(zap.String("lead_id", lead.ID), zap.String("tenant_id", lead.TenantID))

	cfg, err := m.store.GetActivePortalConfig(ctx, lead.TenantID)
	if err != nil {
		return false, err
	}
	if cfg == nil {
		log.Warn("no active portal configuration, lead left confirmed")
		return false, nil
	}
	if !cfg.AutoSubmit {
		log.Debug("auto-submit disabled for tenant")
		return false, nil
	}

	moved, err := m.store.TransitionLeadStatus(ctx, lead.ID,
		model.LeadStatusConfirmed, model.LeadStatusEntryInProgress, "queued for portal entry")
	if err != nil {
		return false, err
	}
	if !moved {
		return false, nil
	}

	if _, _, err := m.queue.Enqueue(ctx, lead, 0, cfg.RetryAttempts); err != nil {
		if _, rbErr := m.store.TransitionLeadStatus(context.WithoutCancel(ctx), lead.ID,
			model.LeadStatusEntryInProgress, model.LeadStatusConfirmed, "enqueue failed"); rbErr != nil {
			log.Error("roll back lead status", zap.Error(rbErr))
		}
		return false, err
	}
	return true, nil
}

// ProcessNext claims one due queue item and submits it. It returns false when
// another pass is in flight, the browser is unavailable, or nothing is due.
func (m *Monitor) ProcessNext(ctx context.Context) (bool, error) {
	if !m.processing.TryLock() {
		m.log.Debug("processing pass already running")
		return false, nil
	}
	defer m.processing.Unlock()

	if !m.submitter.Ready() {
		m.log.Warn("browser unavailable, processing pass skipped")
		return false, nil
	}

	item, err := m.queue.Claim(ctx)
	if err != nil || item == nil {
		return false, err
	}
	return true, m.process(ctx, item)
}

// process runs one claimed item. Validation failures are terminal: the lead
// goes straight to ENTRY_FAILED without a retry.
func (m *Monitor) process(ctx context.Context, item *model.QueueItem) error {
	log := m.log.With(zap.String("lead_id", item.LeadID), zap.String("tenant_id", item.TenantID),
		zap.Int("attempt", item.AttemptCount+1))

	lead, err := m.store.GetLead(ctx, item.TenantID, item.LeadID)
	if errors.Is(err, store.ErrNotFound) {
		return m.fail(ctx, item, queue.Failure{Message: "lead not found", Permanent: true})
	}
	if err != nil {
		return m.fail(ctx, item, queue.Failure{Message: err.Error()})
	}

	cfg, err := m.store.GetActivePortalConfig(ctx, item.TenantID)
	if err != nil {
		return m.fail(ctx, item, queue.Failure{Message: err.Error()})
	}
	if cfg == nil {
		return m.fail(ctx, item, queue.Failure{Message: ErrNoPortalConfig.Error(), Permanent: true})
	}

	entry := &model.AutomationLogEntry{
		LeadID:         lead.ID,
		TenantID:       lead.TenantID,
		PortalConfigID: cfg.ID,
		AttemptNumber:  item.AttemptCount + 1,
		QueuedAt:       item.CreatedAt,
	}

	sub, verrs := m.resolver.BuildSubmission(cfg.PortalURL, lead, cfg.FieldMapping, cfg.DefaultValues, m.now())
	if len(verrs) > 0 {
		msg := "validation failed: " + mapping.JoinErrors(verrs)
		log.Warn("lead failed validation", zap.String("errors", msg))
		if err := m.store.CreateAutomationLog(ctx, entry); err != nil {
			return eris.Wrap(err, "monitor: create automation log")
		}
		m.completeLog(ctx, entry.ID, model.AttemptResult{ErrorMessage: msg})
		return m.fail(ctx, item, queue.Failure{Message: msg, Permanent: true})
	}

	entry.ConstructedURL = mapping.Redact(sub.URL, m.cfg.RedactParams)
	if err := m.store.CreateAutomationLog(ctx, entry); err != nil {
		return eris.Wrap(err, "monitor: create automation log")
	}

	out := m.submitter.Submit(ctx, submit.Request{Lead: lead, URL: sub.URL})
	m.completeLog(ctx, entry.ID, model.AttemptResult{
		Success:        out.Success,
		ProcessingMS:   out.DurationMS,
		PortalStatus:   out.HTTPStatus,
		PortalMessage:  out.PortalMessage,
		ErrorMessage:   out.ErrorMessage,
		ScreenshotPath: out.ScreenshotPath,
		FinalURL:       out.FinalURL,
	})

	if out.Success {
		log.Info("lead entered", zap.Int64("duration_ms", out.DurationMS), zap.String("portal_message", out.PortalMessage))
		return m.queue.Succeed(ctx, item)
	}
	return m.fail(ctx, item, queue.Failure{
		Message:    out.ErrorMessage,
		Permanent:  out.Permanent,
		RetryDelay: cfg.RetryDelay(),
	})
}

func (m *Monitor) fail(ctx context.Context, item *model.QueueItem, f queue.Failure) error {
	// Record the failure even if shutdown interrupted the attempt.
	_, err := m.queue.Fail(context.WithoutCancel(ctx), item, f)
	return err
}

func (m *Monitor) completeLog(ctx context.Context, id string, res model.AttemptResult) {
	if err := m.store.CompleteAutomationLog(context.WithoutCancel(ctx), id, res, m.now()); err != nil {
		m.log.Error("complete automation log", zap.String("log_id", id), zap.Error(err))
	}
}

// Maintain deletes screenshots past retention.
func (m *Monitor) Maintain(_ context.Context) (int, error) {
	n, err := m.submitter.CleanupScreenshots(m.cfg.ScreenshotRetention)
	if err != nil {
		return 0, eris.Wrap(err, "monitor: cleanup screenshots")
	}
	m.log.Info("maintenance pass complete", zap.Int("screenshots_removed", n))
	return n, nil
}

// ProcessLead is the manual "process now" path. It resets the lead's queue
// item so the next processing pass picks it up.
func (m *Monitor) ProcessLead(ctx context.Context, tenantID, leadID string, priority int) (*model.QueueItem, error) {
	lead, err := m.store.GetLead(ctx, tenantID, leadID)
	if err != nil {
		return nil, err
	}
	cfg, err := m.store.GetActivePortalConfig(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, ErrNoPortalConfig
	}
	if priority <= 0 {
		priority = m.cfg.ManualPriority
	}
	return m.queue.Requeue(ctx, lead, priority, cfg.RetryAttempts)
}

// Stats summarizes automation activity for a tenant over window. An empty
// tenant covers every tenant.
func (m *Monitor) Stats(ctx context.Context, tenantID string, window time.Duration) (*model.AutomationStats, error) {
	st, err := m.store.AutomationStats(ctx, tenantID, m.now().Add(-window))
	return st, eris.Wrap(err, "monitor: stats")
}

// Timeframes accepted by ParseTimeframe.
var timeframes = map[string]time.Duration{
	"1h":  time.Hour,
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
}

// ParseTimeframe converts 1h, 24h, 7d or 30d into a window. Empty means 24h.
func ParseTimeframe(s string) (time.Duration, error) {
	if s == "" {
		return 24 * time.Hour, nil
	}
	d, ok := timeframes[s]
	if !ok {
		return 0, eris.Errorf("invalid timeframe %q (want 1h, 24h, 7d or 30d)", s)
	}
	return d, nil
}
