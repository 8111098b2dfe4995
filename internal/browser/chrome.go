package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-entry/internal/resilience"
)

// ErrNotStarted is returned by WithPage before Start or after Close.
var ErrNotStarted = eris.New("browser: not started")

// ErrNavigation marks a page load that failed while the tab stayed healthy:
// timeouts, DNS and connection errors from the portal side.
var ErrNavigation = eris.New("browser: navigation failed")

// blockedResources are never loaded by submission pages.
var blockedResources = []network.ResourceType{
	network.ResourceTypeImage,
	network.ResourceTypeFont,
	network.ResourceTypeMedia,
}

// Chrome is a Driver backed by a single headless Chrome process.
type Chrome struct {
	cfg Config
	log *zap.Logger

	mu          sync.RWMutex
	allocCancel context.CancelFunc
	browserCtx  context.Context
	cancel      context.CancelFunc
}

// NewChrome returns an unstarted Chrome driver.
func NewChrome(cfg Config) *Chrome {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 30 * time.Second
	}
	if cfg.PageReadyTimeout <= 0 {
		cfg.PageReadyTimeout = 10 * time.Second
	}
	if cfg.WindowWidth <= 0 || cfg.WindowHeight <= 0 {
		cfg.WindowWidth, cfg.WindowHeight = 1366, 768
	}
	return &Chrome{cfg: cfg, log: zap.L().With(zap.String("component", "browser"))}
}

// Start launches the browser process. Launch failures are retried.
func (c *Chrome) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.browserCtx != nil {
		return nil
	}
	return c.launch(ctx)
}

// Restart tears down the browser process and launches a new one. Pages open
// on the old process fail.
func (c *Chrome) Restart(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shutdown()
	c.log.Warn("restarting browser")
	return c.launch(ctx)
}

// Close terminates the browser process.
func (c *Chrome) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shutdown()
	return nil
}

// launch must be called with mu held.
func (c *Chrome) launch(ctx context.Context) error {
	retry := resilience.FromRetryConfig(c.cfg.LaunchRetries, time.Second)
	retry.ShouldRetry = func(error) bool { return true }
	retry.OnRetry = resilience.RetryLogger("browser", "launch")

	return resilience.Do(ctx, retry, func(ctx context.Context) error {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", c.cfg.Headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.WindowSize(c.cfg.WindowWidth, c.cfg.WindowHeight),
		)
		if c.cfg.UserAgent != "" {
			opts = append(opts, chromedp.UserAgent(c.cfg.UserAgent))
		}
		if c.cfg.ExecPath != "" {
			opts = append(opts, chromedp.ExecPath(c.cfg.ExecPath))
		}

		// The browser outlives the launching request.
		allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
		browserCtx, cancel := chromedp.NewContext(allocCtx)

		launchCtx, launchCancel := context.WithTimeout(browserCtx, c.cfg.NavigationTimeout)
		defer launchCancel()
		stop := context.AfterFunc(ctx, launchCancel)
		defer stop()

		// An empty Run starts the process and its first target.
		if err := chromedp.Run(launchCtx); err != nil {
			cancel()
			allocCancel()
			return eris.Wrap(err, "browser: launch")
		}

		c.allocCancel, c.browserCtx, c.cancel = allocCancel, browserCtx, cancel
		c.log.Info("browser started", zap.Bool("headless", c.cfg.Headless))
		return nil
	})
}

// shutdown must be called with mu held.
func (c *Chrome) shutdown() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.allocCancel != nil {
		c.allocCancel()
	}
	c.allocCancel, c.browserCtx, c.cancel = nil, nil, nil
}

// WithPage opens a new tab, runs fn, and closes the tab whatever fn does.
func (c *Chrome) WithPage(ctx context.Context, fn func(ctx context.Context, p Page) error) error {
	c.mu.RLock()
	browserCtx := c.browserCtx
	c.mu.RUnlock()
	if browserCtx == nil {
		return ErrNotStarted
	}

	tabCtx, cancel := chromedp.NewContext(browserCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(tabCtx, blockResources(tabCtx)); err != nil {
		return eris.Wrap(err, "browser: open page")
	}

	return fn(ctx, &chromePage{tab: tabCtx, cfg: c.cfg})
}

// blockResources pauses image, font, and media requests through the Fetch
// domain and fails them.
func blockResources(tabCtx context.Context) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		chromedp.ListenTarget(tabCtx, func(ev any) {
			e, ok := ev.(*fetch.EventRequestPaused)
			if !ok {
				return
			}
			// Handlers must not block the event loop.
			go func() {
				c := chromedp.FromContext(tabCtx)
				if c == nil || c.Target == nil {
					return
				}
				execCtx := cdp.WithExecutor(tabCtx, c.Target)
				_ = fetch.FailRequest(e.RequestID, network.ErrorReasonBlockedByClient).Do(execCtx)
			}()
		})

		patterns := make([]*fetch.RequestPattern, 0, len(blockedResources))
		for _, rt := range blockedResources {
			patterns = append(patterns, &fetch.RequestPattern{URLPattern: "*", ResourceType: rt})
		}
		return fetch.Enable().WithPatterns(patterns).Do(ctx)
	})
}

type chromePage struct {
	tab context.Context
	cfg Config
}

// run executes actions on the tab, bounded by timeout and by the caller's ctx.
func (p *chromePage) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(p.tab, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (p *chromePage) Navigate(ctx context.Context, url string) (*Response, error) {
	runCtx, cancel := context.WithTimeout(p.tab, p.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	resp, err := chromedp.RunResponse(runCtx, chromedp.Navigate(url))
	if err != nil {
		return nil, p.navigationErr(ctx, err, fmt.Sprintf("navigate (timeout %s)", p.cfg.NavigationTimeout))
	}

	if err := p.run(ctx, p.cfg.PageReadyTimeout, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return nil, p.navigationErr(ctx, err, fmt.Sprintf("page not ready (timeout %s)", p.cfg.PageReadyTimeout))
	}

	out := &Response{Header: http.Header{}, URL: url}
	if resp != nil {
		out.Status = int(resp.Status)
		out.URL = resp.URL
		for k, v := range resp.Headers {
			out.Header.Set(k, fmt.Sprint(v))
		}
	}
	return out, nil
}

// navigationErr wraps err with ErrNavigation unless the tab or the caller's
// context is gone, in which case the browser itself is at fault.
func (p *chromePage) navigationErr(ctx context.Context, err error, what string) error {
	if p.tab.Err() != nil || ctx.Err() != nil {
		return eris.Wrapf(err, "browser: %s", what)
	}
	return eris.Wrapf(ErrNavigation, "%s: %v", what, err)
}

func (p *chromePage) Text(ctx context.Context) (string, error) {
	var text string
	err := p.run(ctx, p.cfg.PageReadyTimeout,
		chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &text))
	return text, eris.Wrap(err, "browser: read text")
}

func (p *chromePage) HTML(ctx context.Context) (string, error) {
	var html string
	err := p.run(ctx, p.cfg.PageReadyTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, eris.Wrap(err, "browser: read html")
}

func (p *chromePage) URL(ctx context.Context) (string, error) {
	var loc string
	err := p.run(ctx, p.cfg.PageReadyTimeout, chromedp.Location(&loc))
	return loc, eris.Wrap(err, "browser: read location")
}

func (p *chromePage) FormCount(ctx context.Context) (int, error) {
	var n int
	err := p.run(ctx, p.cfg.PageReadyTimeout, chromedp.Evaluate(`document.forms.length`, &n))
	return n, eris.Wrap(err, "browser: count forms")
}

const clickSubmitJS = `(() => {
	let el = document.querySelector('input[type="submit"], button[type="submit"]');
	if (!el) {
		el = Array.from(document.querySelectorAll('button'))
			.find(b => (b.innerText || '').toLowerCase().includes('submit'));
	}
	if (!el) return false;
	el.click();
	return true;
})()`

func (p *chromePage) ClickSubmit(ctx context.Context) (bool, error) {
	var clicked bool
	err := p.run(ctx, p.cfg.PageReadyTimeout, chromedp.Evaluate(clickSubmitJS, &clicked))
	return clicked, eris.Wrap(err, "browser: click submit")
}

func (p *chromePage) Exists(ctx context.Context, selector string) (bool, error) {
	quoted, err := json.Marshal(selector)
	if err != nil {
		return false, eris.Wrap(err, "browser: quote selector")
	}
	var found bool
	err = p.run(ctx, p.cfg.PageReadyTimeout,
		chromedp.Evaluate(fmt.Sprintf(`document.querySelector(%s) !== null`, quoted), &found))
	return found, eris.Wrapf(err, "browser: query %s", selector)
}

// WaitIdle waits until the document has finished loading or d elapses. Hitting
// d is not an error; slow portals are judged on whatever has rendered.
func (p *chromePage) WaitIdle(ctx context.Context, d time.Duration) error {
	var ready bool
	err := p.run(ctx, d, chromedp.Poll(`document.readyState === "complete"`, &ready,
		chromedp.WithPollingInterval(250*time.Millisecond)))
	if err != nil && ctx.Err() == nil && p.tab.Err() == nil {
		return nil
	}
	return eris.Wrap(err, "browser: wait idle")
}

func (p *chromePage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := p.run(ctx, p.cfg.PageReadyTimeout, chromedp.FullScreenshot(&buf, 100))
	return buf, eris.Wrap(err, "browser: screenshot")
}
