package main

import (
	"time"

	"github.com/sells-group/lead-entry/internal/browser"
	"github.com/sells-group/lead-entry/internal/calls"
	"github.com/sells-group/lead-entry/internal/mapping"
	"github.com/sells-group/lead-entry/internal/monitor"
	"github.com/sells-group/lead-entry/internal/queue"
	"github.com/sells-group/lead-entry/internal/store"
	"github.com/sells-group/lead-entry/internal/submit"
)

// automationEnv holds the pieces the serve, process, stats, and cleanup
// commands share.
type automationEnv struct {
	Store   store.Store
	Queue   *queue.Queue
	Engine  *submit.Engine
	Monitor *monitor.Monitor
	Calls   *calls.Processor
}

// Close releases the store. The browser is owned by Monitor.Run.
func (e *automationEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// buildAutomation wires the queue, submission engine, and monitor around st.
// The browser is not launched until the monitor runs.
func buildAutomation(st store.Store) (*automationEnv, error) {
	classifier, err := submit.NewClassifier(
		cfg.Submit.Classifier,
		cfg.Submit.ConfirmationSelector,
		time.Duration(cfg.Submit.SettleMillis)*time.Millisecond,
		time.Duration(cfg.Submit.SubmitWaitSecs)*time.Second,
	)
	if err != nil {
		return nil, err
	}

	driver := browser.NewChrome(browser.Config{
		Headless:          cfg.Browser.Headless,
		ExecPath:          cfg.Browser.ExecPath,
		UserAgent:         cfg.Browser.UserAgent,
		WindowWidth:       cfg.Browser.WindowWidth,
		WindowHeight:      cfg.Browser.WindowHeight,
		NavigationTimeout: time.Duration(cfg.Browser.NavigationTimeoutSecs) * time.Second,
		PageReadyTimeout:  time.Duration(cfg.Browser.PageReadyTimeoutSecs) * time.Second,
		LaunchRetries:     cfg.Browser.LaunchRetries,
	})

	engine := submit.NewEngine(driver, classifier, submit.Config{
		ScreenshotDir:           cfg.Submit.ScreenshotDir,
		MaxPerMinute:            cfg.Submit.MaxPerMinute,
		CircuitFailureThreshold: cfg.Submit.CircuitFailureThreshold,
		CircuitResetSecs:        cfg.Submit.CircuitResetSecs,
	})

	q := queue.New(st, queue.Config{
		DefaultPriority: cfg.Monitor.DefaultPriority,
		RetryDelay:      time.Duration(cfg.Portal.RetryDelayMinutes) * time.Minute,
		Lease:           time.Duration(cfg.Monitor.StaleProcessingMins) * time.Minute,
	})

	resolver := mapping.NewResolver(mapping.Policy{RequiredFields: cfg.Portal.RequiredFields}, cfg.Submit.SourceTag)

	mon := monitor.New(st, q, resolver, engine, monitor.Config{
		AdmissionInterval:   time.Duration(cfg.Monitor.AdmissionIntervalSecs) * time.Second,
		ProcessingInterval:  time.Duration(cfg.Monitor.ProcessingIntervalSecs) * time.Second,
		MaintenanceInterval: time.Duration(cfg.Monitor.MaintenanceIntervalHours) * time.Hour,
		Jitter:              cfg.Monitor.JitterFraction,
		BatchSize:           cfg.Monitor.AdmissionBatchSize,
		ManualPriority:      cfg.Monitor.ManualPriority,
		ScreenshotRetention: time.Duration(cfg.Submit.ScreenshotRetentionDays) * 24 * time.Hour,
		RedactParams:        cfg.Submit.RedactParams,
	})

	return &automationEnv{
		Store:   st,
		Queue:   q,
		Engine:  engine,
		Monitor: mon,
		Calls:   calls.NewProcessor(st, cfg.Calls.ConsentPhrases),
	}, nil
}
