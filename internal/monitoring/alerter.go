package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-entry/internal/config"
	"github.com/sells-group/lead-entry/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertSubmissionFailureRate AlertType = "submission_failure_rate"
	AlertQueueBacklog          AlertType = "queue_backlog"
)

// minFinishedForRate keeps a couple of early failures from paging anyone.
const minFinishedForRate = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	retry  resilience.RetryConfig
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	retry := resilience.FromRetryConfig(3, time.Second)
	retry.OnRetry = resilience.RetryLogger("monitoring", "send alert")
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry:  retry,
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	finished := snap.Succeeded + snap.AttemptsFailed
	if finished >= minFinishedForRate && snap.FailureRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertSubmissionFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Submission failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.FailureRate*100, a.cfg.FailureRateThreshold*100,
				snap.AttemptsFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.FailureRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.AttemptsFailed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if a.cfg.QueueBacklogThreshold > 0 && snap.QueueQueued > a.cfg.QueueBacklogThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertQueueBacklog,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d leads waiting in the automation queue (threshold %d)",
				snap.QueueQueued, a.cfg.QueueBacklogThreshold,
			),
			Details: map[string]any{
				"queued":     snap.QueueQueued,
				"processing": snap.QueueProcessing,
				"threshold":  a.cfg.QueueBacklogThreshold,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// alertBatch is the webhook body. One check posts one batch.
type alertBatch struct {
	Source string    `json:"source"`
	SentAt time.Time `json:"sent_at"`
	Alerts []Alert   `json:"alerts"`
}

// SendAlerts posts alerts to the configured webhook as a single batch and
// returns how many were delivered: all of them or none.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	body, err := json.Marshal(alertBatch{Source: "lead-entry", SentAt: time.Now().UTC(), Alerts: alerts})
	if err != nil {
		zap.L().Error("monitoring: encode alerts", zap.Error(err))
		return 0
	}

	err = resilience.Do(ctx, a.retry, func(ctx context.Context) error {
		return a.post(ctx, body)
	})
	if err != nil {
		zap.L().Error("monitoring: alert delivery failed", zap.Int("alerts", len(alerts)), zap.Error(err))
		return 0
	}

	for _, alert := range alerts {
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)), zap.String("severity", alert.Severity))
	}
	return len(alerts)
}

// post delivers one encoded batch. Error statuses that are not transient
// fail without retry.
func (a *Alerter) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return resilience.Permanent(eris.Wrap(err, "monitoring: build webhook request"))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return resilience.NewTransientError(eris.Wrap(err, "monitoring: post alerts"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	switch code := resp.StatusCode; {
	case code < 400:
		return nil
	case resilience.IsTransientHTTPStatus(code):
		return resilience.NewTransientError(eris.Errorf("monitoring: webhook status %d", code), code)
	default:
		return resilience.Permanent(eris.Errorf("monitoring: webhook rejected alerts with status %d", code))
	}
}
