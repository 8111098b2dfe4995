package submit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/sells-group/lead-entry/internal/browser"
)

// fakePage is a scripted browser.Page.
type fakePage struct {
	resp        *browser.Response
	navErr      error
	text        string
	afterSubmit string
	html        string
	url         string
	forms       int
	hasSubmit   bool
	selectors   map[string]bool
	shotErr     error
	panicOnText bool

	clicked bool
	shots   int
}

func (p *fakePage) Navigate(context.Context, string) (*browser.Response, error) {
	if p.navErr != nil {
		return nil, p.navErr
	}
	if p.resp == nil {
		return &browser.Response{Status: 200, Header: http.Header{}, URL: p.url}, nil
	}
	return p.resp, nil
}

func (p *fakePage) Text(context.Context) (string, error) {
	if p.panicOnText {
		panic("renderer crashed")
	}
	if p.clicked && p.afterSubmit != "" {
		return p.afterSubmit, nil
	}
	return p.text, nil
}

func (p *fakePage) HTML(context.Context) (string, error) { return p.html, nil }
func (p *fakePage) URL(context.Context) (string, error)  { return p.url, nil }
func (p *fakePage) FormCount(context.Context) (int, error) {
	return p.forms, nil
}

func (p *fakePage) ClickSubmit(context.Context) (bool, error) {
	if !p.hasSubmit {
		return false, nil
	}
	p.clicked = true
	return true, nil
}

func (p *fakePage) Exists(_ context.Context, selector string) (bool, error) {
	if p.clicked {
		return p.selectors[selector+":after"], nil
	}
	return p.selectors[selector], nil
}

func (p *fakePage) WaitIdle(context.Context, time.Duration) error { return nil }

func (p *fakePage) Screenshot(context.Context) ([]byte, error) {
	if p.shotErr != nil {
		return nil, p.shotErr
	}
	p.shots++
	return []byte("\x89PNG"), nil
}

// fakeDriver hands out one page and counts lifecycle calls.
type fakeDriver struct {
	mu       sync.Mutex
	page     *fakePage
	pageErr  error
	opened   int
	released int
	restarts int
	// restartGate, when set, holds Restart until closed.
	restartGate chan struct{}
}

func (d *fakeDriver) Start(context.Context) error { return nil }
func (d *fakeDriver) Close() error                { return nil }

func (d *fakeDriver) Restart(context.Context) error {
	if d.restartGate != nil {
		<-d.restartGate
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.restarts++
	return nil
}

func (d *fakeDriver) WithPage(ctx context.Context, fn func(ctx context.Context, p browser.Page) error) error {
	if d.pageErr != nil {
		return d.pageErr
	}
	d.mu.Lock()
	d.opened++
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.released++
		d.mu.Unlock()
	}()
	return fn(ctx, d.page)
}

func (d *fakeDriver) restartCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.restarts
}
