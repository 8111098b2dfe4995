// Package browser owns the long-lived headless browser used for portal
// submissions and hands out isolated pages to callers.
package browser

import (
	"context"
	"net/http"
	"time"
)

// Response describes the main-document response of a navigation.
type Response struct {
	Status int
	Header http.Header
	URL    string
}

// Page is a single isolated browser tab.
type Page interface {
	// Navigate loads url and waits for the document to be ready.
	Navigate(ctx context.Context, url string) (*Response, error)
	Text(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)
	FormCount(ctx context.Context) (int, error)
	// ClickSubmit clicks the first submit control on the page and reports
	// whether one was found.
	ClickSubmit(ctx context.Context) (bool, error)
	// Exists reports whether a CSS selector matches any element.
	Exists(ctx context.Context, selector string) (bool, error)
	// WaitIdle waits for in-flight navigation to settle, up to d.
	WaitIdle(ctx context.Context, d time.Duration) error
	// Screenshot returns a full-page PNG.
	Screenshot(ctx context.Context) ([]byte, error)
}

// Driver is the shared browser handle. WithPage opens a fresh tab for fn and
// closes it on every exit path.
type Driver interface {
	Start(ctx context.Context) error
	WithPage(ctx context.Context, fn func(ctx context.Context, p Page) error) error
	Restart(ctx context.Context) error
	Close() error
}

// Config controls how the browser is launched.
type Config struct {
	Headless          bool
	ExecPath          string
	UserAgent         string
	WindowWidth       int
	WindowHeight      int
	NavigationTimeout time.Duration
	PageReadyTimeout  time.Duration
	LaunchRetries     int
}
