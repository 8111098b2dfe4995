// Package submit drives portal submissions through the shared browser and
// classifies what the portal answered.
package submit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/lead-entry/internal/browser"
	"github.com/sells-group/lead-entry/internal/model"
	"github.com/sells-group/lead-entry/internal/resilience"
)

// Screenshot stages.
const (
	StageInitial = "initial"
	StageFinal   = "final"
	StageError   = "error"
)

const restartTimeout = 2 * time.Minute

// Request is one submission of a lead to a constructed portal URL.
type Request struct {
	Lead *model.Lead
	URL  string
}

// Outcome is the structured result of a submission. Submit never returns an
// error; every failure is described here.
type Outcome struct {
	Success bool
	// Permanent failures are not retried.
	Permanent      bool
	DurationMS     int64
	HTTPStatus     int
	ScreenshotPath string
	ErrorMessage   string
	PortalMessage  string
	FinalURL       string
	// Infrastructure marks failures of the browser rather than the portal.
	Infrastructure bool
}

// Config controls engine behaviour.
type Config struct {
	ScreenshotDir           string
	MaxPerMinute            int
	CircuitFailureThreshold int
	CircuitResetSecs        int
}

// Engine submits leads to portals. It is safe for concurrent use, although the
// processing pass only ever runs one submission at a time.
type Engine struct {
	driver     browser.Driver
	classifier OutcomeClassifier
	limiter    *rate.Limiter
	breaker    *resilience.CircuitBreaker
	dir        string
	log        *zap.Logger
	now        func() time.Time

	restarting atomic.Bool
}

// NewEngine wires an engine around a browser driver.
func NewEngine(driver browser.Driver, classifier OutcomeClassifier, cfg Config) *Engine {
	if classifier == nil {
		classifier = KeywordClassifier{Settle: 2 * time.Second, SubmitWait: 15 * time.Second}
	}
	limit := rate.Inf
	if cfg.MaxPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.MaxPerMinute))
	}

	e := &Engine{
		driver:     driver,
		classifier: classifier,
		limiter:    rate.NewLimiter(limit, 1),
		dir:        cfg.ScreenshotDir,
		log:        zap.L().With(zap.String("component", "submit")),
		now:        time.Now,
	}

	cbCfg := resilience.FromCircuitConfig("browser", cfg.CircuitFailureThreshold, cfg.CircuitResetSecs)
	cbCfg.OnStateChange = func(from, to resilience.CircuitState) {
		e.log.Warn("browser circuit state change",
			zap.String("from", from.String()), zap.String("to", to.String()))
		if to == resilience.CircuitOpen {
			go e.restartBrowser()
		}
	}
	e.breaker = resilience.NewCircuitBreaker(cbCfg)
	return e
}

// Start acquires the shared browser.
func (e *Engine) Start(ctx context.Context) error {
	return eris.Wrap(e.driver.Start(ctx), "submit: start browser")
}

// Close releases the shared browser.
func (e *Engine) Close() error {
	return e.driver.Close()
}

// BreakerState reports the browser circuit state.
func (e *Engine) BreakerState() resilience.CircuitState {
	return e.breaker.State()
}

// Ready reports whether submissions would reach the browser. It is false
// while the browser circuit is open.
func (e *Engine) Ready() bool {
	return e.breaker.State() != resilience.CircuitOpen
}

// BreakerStatus reports the browser circuit for health output.
func (e *Engine) BreakerStatus() resilience.BreakerStatus {
	return e.breaker.Status()
}

func (e *Engine) restartBrowser() {
	if !e.restarting.CompareAndSwap(false, true) {
		return
	}
	defer e.restarting.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), restartTimeout)
	defer cancel()
	if err := e.driver.Restart(ctx); err != nil {
		e.log.Error("browser restart failed", zap.Error(err))
		return
	}
	e.log.Info("browser restarted after repeated failures")
	e.breaker.Reset()
}

// Submit navigates to req.URL in a fresh page and classifies the result.
func (e *Engine) Submit(ctx context.Context, req Request) (out Outcome) {
	start := e.now()
	defer func() {
		out.DurationMS = e.now().Sub(start).Milliseconds()
	}()

	log := e.log.With(zap.String("lead_id", req.Lead.ID), zap.String("tenant_id", req.Lead.TenantID))

	if err := e.limiter.Wait(ctx); err != nil {
		out.ErrorMessage = "rate limit wait: " + err.Error()
		return out
	}

	err := e.breaker.Execute(ctx, func(ctx context.Context) error {
		return e.driver.WithPage(ctx, func(ctx context.Context, p browser.Page) error {
			return e.run(ctx, p, req, &out)
		})
	})
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		out.Success = false
		out.Infrastructure = true
		out.ErrorMessage = "browser unavailable: " + err.Error()
	case err != nil:
		out.Success = false
		out.Infrastructure = true
		if out.ErrorMessage == "" {
			out.ErrorMessage = err.Error()
		}
	}

	if out.Success {
		log.Info("portal submission succeeded",
			zap.Int("http_status", out.HTTPStatus),
			zap.String("portal_message", out.PortalMessage))
	} else {
		log.Warn("portal submission failed",
			zap.Int("http_status", out.HTTPStatus),
			zap.Bool("permanent", out.Permanent),
			zap.Bool("infrastructure", out.Infrastructure),
			zap.String("error", out.ErrorMessage))
	}
	return out
}

// run performs the page work. It returns an error only for browser-level
// failures, which count against the circuit breaker; portal verdicts and
// portal-side navigation failures are written to out.
func (e *Engine) run(ctx context.Context, p browser.Page, req Request, out *Outcome) (err error) {
	defer func() {
		if r := recover(); r != nil {
			out.Success = false
			out.ErrorMessage = fmt.Sprintf("panic during submission: %v", r)
			err = eris.New(out.ErrorMessage)
		}
	}()

	resp, err := p.Navigate(ctx, req.URL)
	if err != nil {
		out.ErrorMessage = err.Error()
		e.keepScreenshot(ctx, p, req.Lead, StageError, out)
		if errors.Is(err, browser.ErrNavigation) {
			out.PortalMessage = model.PortalMessageError
			return nil
		}
		return err
	}
	out.HTTPStatus = resp.Status
	out.FinalURL = resp.URL
	e.keepScreenshot(ctx, p, req.Lead, StageInitial, out)

	text, err := p.Text(ctx)
	if err != nil {
		out.ErrorMessage = err.Error()
		e.keepScreenshot(ctx, p, req.Lead, StageError, out)
		return err
	}
	if block := DetectBlock(resp, text); block != BlockNone {
		out.PortalMessage = model.PortalMessageError
		out.ErrorMessage = fmt.Sprintf("portal served an anti-bot %s page", block)
		e.keepScreenshot(ctx, p, req.Lead, StageError, out)
		return nil
	}

	if resp.Status >= 400 {
		out.PortalMessage = model.PortalMessageError
		out.ErrorMessage = fmt.Sprintf("portal returned error status: %d", resp.Status)
		out.Permanent = resp.Status < 500 && !resilience.IsTransientHTTPStatus(resp.Status)
		e.keepScreenshot(ctx, p, req.Lead, StageError, out)
		return nil
	}

	verdict, err := e.classifier.Classify(ctx, p, Snapshot{Response: resp, SubmittedURL: req.URL})
	if err != nil {
		out.ErrorMessage = err.Error()
		e.keepScreenshot(ctx, p, req.Lead, StageError, out)
		return err
	}

	out.Success = verdict.Success
	switch {
	case verdict.Success && verdict.Ambiguous:
		out.PortalMessage = model.PortalMessageUnconfirmed
	case verdict.Success:
		out.PortalMessage = model.PortalMessageSuccess
	default:
		out.PortalMessage = model.PortalMessageError
		out.ErrorMessage = verdict.Reason
	}

	stage := StageFinal
	if !out.Success {
		stage = StageError
	}
	e.keepScreenshot(ctx, p, req.Lead, stage, out)
	if loc, err := p.URL(ctx); err == nil && loc != "" {
		out.FinalURL = loc
	}
	return nil
}

// keepScreenshot captures the page and records the path on out. Capture
// failures are logged and otherwise ignored.
func (e *Engine) keepScreenshot(ctx context.Context, p browser.Page, lead *model.Lead, stage string, out *Outcome) {
	if path := e.screenshot(ctx, p, lead.ID, stage); path != "" {
		out.ScreenshotPath = path
	}
}

func (e *Engine) screenshot(ctx context.Context, p browser.Page, leadID, stage string) string {
	if e.dir == "" {
		return ""
	}
	png, err := p.Screenshot(ctx)
	if err != nil {
		e.log.Warn("screenshot failed", zap.String("lead_id", leadID), zap.String("stage", stage), zap.Error(err))
		return ""
	}
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		e.log.Warn("screenshot dir", zap.String("dir", e.dir), zap.Error(err))
		return ""
	}
	path := filepath.Join(e.dir, ScreenshotName(leadID, e.now(), stage))
	if err := os.WriteFile(path, png, 0o644); err != nil {
		e.log.Warn("screenshot write failed", zap.String("path", path), zap.Error(err))
		return ""
	}
	return path
}

// ScreenshotName returns lead_<id>_<unix ms>_<stage>.png.
func ScreenshotName(leadID string, at time.Time, stage string) string {
	return fmt.Sprintf("lead_%s_%d_%s.png", leadID, at.UnixMilli(), stage)
}

// CleanupScreenshots removes screenshots older than retention and returns how
// many were deleted. Individual delete failures are logged and skipped.
func (e *Engine) CleanupScreenshots(retention time.Duration) (int, error) {
	if e.dir == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(e.dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, eris.Wrapf(err, "submit: read screenshot dir %s", e.dir)
	}

	cutoff := e.now().Add(-retention)
	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "lead_") || !strings.HasSuffix(name, ".png") {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(e.dir, name)); err != nil {
			e.log.Warn("screenshot cleanup", zap.String("file", name), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}
