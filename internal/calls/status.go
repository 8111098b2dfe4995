// Package calls turns voice-provider call events into call log rows and lead
// status changes.
package calls

import (
	"strings"

	"github.com/sells-group/lead-entry/internal/model"
)

// DefaultConsentPhrases are matched case-insensitively against transcripts.
var DefaultConsentPhrases = []string{
	"yes, i consent",
	"i agree",
	"yes, i agree",
	"i give my consent",
	"yes to receive calls",
	"yes, that's fine",
	"i authorize",
	"i permit",
}

// MapProviderStatus normalizes a provider call status. Unknown values map to
// initiated.
func MapProviderStatus(raw string) model.CallStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "queued", "ringing":
		return model.CallStatusRinging
	case "in-progress", "answered":
		return model.CallStatusAnswered
	case "completed", "ended":
		return model.CallStatusCompleted
	case "failed", "busy", "no-answer", "canceled", "cancelled":
		return model.CallStatusFailed
	default:
		return model.CallStatusInitiated
	}
}

// DetectConsent reports whether transcript contains any of phrases.
func DetectConsent(transcript string, phrases []string) bool {
	if transcript == "" {
		return false
	}
	lower := strings.ToLower(transcript)
	// Providers render apostrophes as typographic quotes.
	lower = strings.ReplaceAll(lower, "’", "'")
	for _, p := range phrases {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// LeadTransition returns the lead status a call status implies, or "" when
// the event leaves the lead alone.
func LeadTransition(status model.CallStatus, consent bool) (model.LeadStatus, string) {
	switch status {
	case model.CallStatusRinging, model.CallStatusAnswered:
		return model.LeadStatusCalling, "call " + string(status)
	case model.CallStatusCompleted:
		if consent {
			return model.LeadStatusConfirmed, "call completed with consent"
		}
		return model.LeadStatusCallFailed, "call completed without consent"
	case model.CallStatusFailed:
		return model.LeadStatusCallFailed, "call failed"
	default:
		return "", ""
	}
}
