package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/lead-entry/internal/config"
	"github.com/sells-group/lead-entry/internal/monitor"
)

const (
	defaultLookbackHours = 24
	defaultCheckInterval = 5 * time.Minute
)

// Checker evaluates alert thresholds on an interval.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	lookback  int
	log       *zap.Logger
}

// NewChecker creates a background alert checker. Zero settings take the
// defaults: a five minute interval over a 24 hour window.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	c := &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  time.Duration(cfg.CheckIntervalSecs) * time.Second,
		lookback:  cfg.LookbackWindowHours,
		log:       zap.L().With(zap.String("component", "monitoring.checker")),
	}
	if c.interval <= 0 {
		c.interval = defaultCheckInterval
	}
	if c.lookback <= 0 {
		c.lookback = defaultLookbackHours
	}
	return c
}

// Run checks on every tick until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	c.log.Info("alert checker started",
		zap.Duration("interval", c.interval), zap.Int("lookback_hours", c.lookback))

	err := monitor.NewScheduler(monitor.Task{
		Name:     "alert-check",
		Interval: c.interval,
		Run: func(ctx context.Context) error {
			c.Check(ctx)
			return nil
		},
	}).Run(ctx)
	if err != nil {
		c.log.Error("alert checker exited", zap.Error(err))
		return
	}
	c.log.Info("alert checker stopped")
}

// Check collects one snapshot, sends the alerts it triggers, and returns them.
func (c *Checker) Check(ctx context.Context) []Alert {
	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		c.log.Error("collect metrics", zap.Error(err))
		return nil
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		c.log.Debug("no alerts",
			zap.Int("queued", snap.QueueQueued), zap.Float64("failure_rate", snap.FailureRate))
		return nil
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	c.log.Info("alert check complete", zap.Int("triggered", len(alerts)), zap.Int("sent", sent))
	return alerts
}
