// Package queue applies the automation queue's retry and terminal-state
// policy on top of the store.
package queue

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-entry/internal/model"
	"github.com/sells-group/lead-entry/internal/resilience"
	"github.com/sells-group/lead-entry/internal/store"
)

// Defaults.
const (
	DefaultPriority   = 5
	DefaultRetryDelay = 5 * time.Minute
	DefaultLease      = 15 * time.Minute
)

// Config controls queue policy.
type Config struct {
	DefaultPriority int
	// RetryDelay is the backoff base when a tenant config does not set one.
	RetryDelay time.Duration
	// Lease is how long a PROCESSING claim may sit untouched before it is
	// handed back to the queue.
	Lease time.Duration
}

// Queue wraps the store's queue operations with the failure policy.
type Queue struct {
	store store.Store
	cfg   Config
	log   *zap.Logger
	now   func() time.Time
}

// New creates a Queue. Zero config values take the defaults.
func New(st store.Store, cfg Config) *Queue {
	if cfg.DefaultPriority <= 0 {
		cfg.DefaultPriority = DefaultPriority
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.Lease <= 0 {
		cfg.Lease = DefaultLease
	}
	return &Queue{
		store: st,
		cfg:   cfg,
		log:   zap.L().With(zap.String("component", "queue")),
		now:   time.Now,
	}
}

// Priority returns p, or the default priority when p is not positive.
func (q *Queue) Priority(p int) int {
	if p <= 0 {
		return q.cfg.DefaultPriority
	}
	return p
}

// Enqueue admits a lead. It is idempotent per lead: the existing item is
// returned with created=false when the lead already has one.
func (q *Queue) Enqueue(ctx context.Context, lead *model.Lead, priority, maxAttempts int) (*model.QueueItem, bool, error) {
	item, created, err := q.store.EnqueueLead(ctx, model.QueueItem{
		LeadID:      lead.ID,
		TenantID:    lead.TenantID,
		Priority:    q.Priority(priority),
		MaxAttempts: maxAttempts,
	})
	if err != nil {
		return nil, false, eris.Wrapf(err, "queue: enqueue lead %s", lead.ID)
	}
	if created {
		q.log.Info("lead queued",
			zap.String("lead_id", lead.ID),
			zap.String("tenant_id", lead.TenantID),
			zap.Int("priority", item.Priority))
	}
	return item, created, nil
}

// Requeue is the manual "process now" path. It resets the lead's queue item
// and fails with store.ErrAlreadyProcessing while a pass holds the item.
func (q *Queue) Requeue(ctx context.Context, lead *model.Lead, priority, maxAttempts int) (*model.QueueItem, error) {
	item, err := q.store.ForceEnqueueLead(ctx, model.QueueItem{
		LeadID:      lead.ID,
		TenantID:    lead.TenantID,
		Priority:    q.Priority(priority),
		MaxAttempts: maxAttempts,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "queue: requeue lead %s", lead.ID)
	}
	q.log.Info("lead requeued manually", zap.String("lead_id", lead.ID), zap.Int("priority", item.Priority))
	return item, nil
}

// Claim takes the next due item, or returns nil when nothing is due.
func (q *Queue) Claim(ctx context.Context) (*model.QueueItem, error) {
	item, err := q.store.ClaimNextQueueItem(ctx, q.now())
	return item, eris.Wrap(err, "queue: claim")
}

// Succeed marks the item COMPLETED and the lead ENTERED.
func (q *Queue) Succeed(ctx context.Context, item *model.QueueItem) error {
	return eris.Wrap(q.store.CompleteQueueItem(ctx, item.ID, item.LeadID), "queue: succeed")
}

// Failure describes a failed attempt.
type Failure struct {
	Message   string
	Permanent bool
	// RetryDelay is the tenant's backoff base. Zero uses the queue default.
	RetryDelay time.Duration
}

// Disposition reports what Fail did with the item.
type Disposition struct {
	Retrying      bool
	AttemptCount  int
	NextAttemptAt time.Time
}

// Fail records a failed attempt. Retryable failures go back to QUEUED with
// exponential backoff while the item's attempt count is below its maximum;
// otherwise the item becomes FAILED and the lead ENTRY_FAILED.
func (q *Queue) Fail(ctx context.Context, item *model.QueueItem, f Failure) (Disposition, error) {
	prior := item.AttemptCount
	d := Disposition{AttemptCount: prior + 1}

	if !f.Permanent && prior < item.MaxAttempts {
		base := f.RetryDelay
		if base <= 0 {
			base = q.cfg.RetryDelay
		}
		d.Retrying = true
		d.NextAttemptAt = q.now().Add(resilience.Backoff(prior, base))
		if err := q.store.RetryQueueItem(ctx, item.ID, d.AttemptCount, d.NextAttemptAt, f.Message); err != nil {
			return d, eris.Wrap(err, "queue: schedule retry")
		}
		q.log.Warn("submission failed, retry scheduled",
			zap.String("lead_id", item.LeadID),
			zap.Int("attempt", d.AttemptCount),
			zap.Time("next_attempt_at", d.NextAttemptAt),
			zap.String("error", f.Message))
		return d, nil
	}

	if err := q.store.FailQueueItem(ctx, item.ID, item.LeadID, d.AttemptCount, f.Message); err != nil {
		return d, eris.Wrap(err, "queue: fail")
	}
	q.log.Error("submission failed permanently",
		zap.String("lead_id", item.LeadID),
		zap.Int("attempt", d.AttemptCount),
		zap.Bool("permanent", f.Permanent),
		zap.String("error", f.Message))
	return d, nil
}

// ReclaimStale hands PROCESSING items older than the lease back to the queue.
func (q *Queue) ReclaimStale(ctx context.Context) (int, error) {
	n, err := q.store.ReclaimStaleQueueItems(ctx, q.now().Add(-q.cfg.Lease))
	if err != nil {
		return 0, eris.Wrap(err, "queue: reclaim stale")
	}
	if n > 0 {
		q.log.Warn("reclaimed stale queue claims", zap.Int("count", n))
	}
	return n, nil
}
