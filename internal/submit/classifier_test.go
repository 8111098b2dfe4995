package submit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const formURL = "https://portal.example.com/apply"

func TestKeywordClassifier(t *testing.T) {
	tests := []struct {
		name      string
		page      *fakePage
		url       string
		success   bool
		ambiguous bool
		clicked   bool
	}{
		{
			name:    "success text on parameter-only submission",
			page:    &fakePage{text: "Your request has been received"},
			url:     portalURL,
			success: true,
		},
		{
			name:    "success keyword only in markup",
			page:    &fakePage{text: "Done", html: `<div class="alert-success">Done</div>`},
			url:     portalURL,
			success: true,
		},
		{
			name: "error keyword",
			page: &fakePage{text: "This field is required"},
			url:  portalURL,
		},
		{
			name:    "success beats error keyword",
			page:    &fakePage{text: "Submitted. No errors found."},
			url:     portalURL,
			success: true,
		},
		{
			name:      "neither keyword",
			page:      &fakePage{text: "Welcome"},
			url:       portalURL,
			success:   true,
			ambiguous: true,
		},
		{
			name:      "form without submit control",
			page:      &fakePage{forms: 1, text: "Fill in the form"},
			url:       formURL,
			success:   true,
			ambiguous: true,
		},
		{
			name:    "form submitted then confirmed",
			page:    &fakePage{forms: 1, hasSubmit: true, text: "Apply now", afterSubmit: "Thank you"},
			url:     formURL,
			success: true,
			clicked: true,
		},
		{
			name:    "form submitted then rejected",
			page:    &fakePage{forms: 1, hasSubmit: true, text: "Apply now", afterSubmit: "Invalid email"},
			url:     formURL,
			clicked: true,
		},
		{
			name:    "form on parameter url is not clicked",
			page:    &fakePage{forms: 1, hasSubmit: true, text: "Thank you"},
			url:     portalURL,
			success: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := KeywordClassifier{}.Classify(context.Background(), tt.page, Snapshot{SubmittedURL: tt.url})
			require.NoError(t, err)
			assert.Equal(t, tt.success, v.Success)
			assert.Equal(t, tt.ambiguous, v.Ambiguous)
			assert.Equal(t, tt.clicked, tt.page.clicked)
			if !tt.success {
				assert.Contains(t, v.Reason, "portal indicates submission errors")
			}
		})
	}
}

func TestKeywordClassifier_SettleHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := KeywordClassifier{Settle: time.Hour}.Classify(ctx, &fakePage{}, Snapshot{SubmittedURL: portalURL})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSelectorClassifier(t *testing.T) {
	c := SelectorClassifier{Selector: "#confirmation"}

	v, err := c.Classify(context.Background(), &fakePage{selectors: map[string]bool{"#confirmation": true}}, Snapshot{})
	require.NoError(t, err)
	assert.True(t, v.Success)

	page := &fakePage{forms: 1, hasSubmit: true, selectors: map[string]bool{"#confirmation:after": true}}
	v, err = c.Classify(context.Background(), page, Snapshot{})
	require.NoError(t, err)
	assert.True(t, v.Success)
	assert.True(t, page.clicked)

	// Success keywords alone do not satisfy the strict classifier.
	v, err = c.Classify(context.Background(), &fakePage{text: "Thank you"}, Snapshot{})
	require.NoError(t, err)
	assert.False(t, v.Success)
	assert.Contains(t, v.Reason, "#confirmation")
}

func TestNewClassifier(t *testing.T) {
	c, err := NewClassifier("", "", time.Second, time.Second)
	require.NoError(t, err)
	assert.IsType(t, KeywordClassifier{}, c)

	c, err = NewClassifier("selector", ".done", 0, time.Second)
	require.NoError(t, err)
	assert.Equal(t, SelectorClassifier{Selector: ".done", SubmitWait: time.Second}, c)

	_, err = NewClassifier("selector", "", 0, 0)
	assert.Error(t, err)

	_, err = NewClassifier("llm", "", 0, 0)
	assert.Error(t, err)
}
