package submit

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-entry/internal/browser"
)

// Verdict is a classifier's judgement of a submitted page.
type Verdict struct {
	Success bool
	// Ambiguous marks a success that no positive signal confirmed.
	Ambiguous bool
	Reason    string
}

// Snapshot is what the engine knows about the page before classification.
type Snapshot struct {
	Response *browser.Response
	// SubmittedURL is the constructed portal URL that was navigated to.
	SubmittedURL string
}

// OutcomeClassifier decides whether a portal accepted a submission.
type OutcomeClassifier interface {
	Classify(ctx context.Context, page browser.Page, snap Snapshot) (Verdict, error)
}

var (
	successKeywords = []string{"success", "thank you", "submitted", "complete", "confirmed", "received", "processed"}
	errorKeywords   = []string{"error", "failed", "invalid", "required"}
)

// KeywordClassifier scans rendered page text for success and error keywords.
// A page that shows neither, and offers no submit control, counts as an
// unconfirmed success.
type KeywordClassifier struct {
	// Settle is how long to let portal scripts run before reading the page.
	Settle time.Duration
	// SubmitWait bounds the wait after clicking a submit control.
	SubmitWait time.Duration
}

func (k KeywordClassifier) Classify(ctx context.Context, page browser.Page, snap Snapshot) (Verdict, error) {
	forms, err := page.FormCount(ctx)
	if err != nil {
		return Verdict{}, err
	}

	if forms == 0 || hasQuery(snap.SubmittedURL) {
		if err := sleep(ctx, k.Settle); err != nil {
			return Verdict{}, err
		}
		return k.judgeText(ctx, page)
	}

	clicked, err := page.ClickSubmit(ctx)
	if err != nil {
		return Verdict{}, err
	}
	if !clicked {
		return Verdict{Success: true, Ambiguous: true, Reason: "no submit control found"}, nil
	}
	if err := page.WaitIdle(ctx, k.SubmitWait); err != nil {
		return Verdict{}, err
	}
	return k.judgeText(ctx, page)
}

func (k KeywordClassifier) judgeText(ctx context.Context, page browser.Page) (Verdict, error) {
	text, err := page.Text(ctx)
	if err != nil {
		return Verdict{}, err
	}
	html, err := page.HTML(ctx)
	if err != nil {
		return Verdict{}, err
	}
	lowerText := strings.ToLower(text)
	lowerHTML := strings.ToLower(html)

	for _, kw := range successKeywords {
		if strings.Contains(lowerText, kw) || strings.Contains(lowerHTML, kw) {
			return Verdict{Success: true, Reason: "page shows " + kw}, nil
		}
	}
	for _, kw := range errorKeywords {
		if strings.Contains(lowerText, kw) {
			return Verdict{Reason: "portal indicates submission errors (" + kw + ")"}, nil
		}
	}
	return Verdict{Success: true, Ambiguous: true, Reason: "no success or error indicator"}, nil
}

// SelectorClassifier requires an explicit confirmation element. Pages with a
// form get their submit control clicked first.
type SelectorClassifier struct {
	Selector   string
	SubmitWait time.Duration
}

func (s SelectorClassifier) Classify(ctx context.Context, page browser.Page, snap Snapshot) (Verdict, error) {
	if s.Selector == "" {
		return Verdict{}, eris.New("selector classifier: confirmation selector is empty")
	}

	found, err := page.Exists(ctx, s.Selector)
	if err != nil {
		return Verdict{}, err
	}
	if found {
		return Verdict{Success: true, Reason: "confirmation element present"}, nil
	}

	forms, err := page.FormCount(ctx)
	if err != nil {
		return Verdict{}, err
	}
	if forms > 0 {
		clicked, err := page.ClickSubmit(ctx)
		if err != nil {
			return Verdict{}, err
		}
		if clicked {
			if err := page.WaitIdle(ctx, s.SubmitWait); err != nil {
				return Verdict{}, err
			}
			if found, err = page.Exists(ctx, s.Selector); err != nil {
				return Verdict{}, err
			}
			if found {
				return Verdict{Success: true, Reason: "confirmation element present after submit"}, nil
			}
		}
	}
	return Verdict{Reason: "confirmation element " + s.Selector + " not found"}, nil
}

// NewClassifier builds the classifier named by kind ("keyword" or "selector").
func NewClassifier(kind, selector string, settle, submitWait time.Duration) (OutcomeClassifier, error) {
	switch kind {
	case "", "keyword":
		return KeywordClassifier{Settle: settle, SubmitWait: submitWait}, nil
	case "selector":
		if selector == "" {
			return nil, eris.New("selector classifier requires a confirmation selector")
		}
		return SelectorClassifier{Selector: selector, SubmitWait: submitWait}, nil
	default:
		return nil, eris.Errorf("unknown classifier %q", kind)
	}
}

func hasQuery(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.RawQuery != ""
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
