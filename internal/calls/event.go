package calls

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// Payload errors. Both map to 400 at the webhook.
var (
	ErrInvalidPayload = eris.New("invalid call event payload")
	ErrMissingTenant  = eris.New("call event has no tenant id")
)

// Event is a call event in either accepted wire shape, reduced to what the
// state machine needs. Status is the raw provider value.
type Event struct {
	CallID       string
	TenantID     string
	LeadID       string
	Status       string
	Transcript   string
	RecordingURL string
}

type flatEvent struct {
	CallID       string `json:"callId"`
	TenantID     string `json:"tenantId"`
	LeadID       string `json:"leadId"`
	Status       string `json:"status"`
	Transcript   string `json:"transcript"`
	RecordingRef string `json:"recordingRef"`
}

type providerMetadata struct {
	TenantID string `json:"tenantId"`
	ClientID string `json:"clientId"`
	LeadID   string `json:"leadId"`
}

type providerCall struct {
	ID           string           `json:"id"`
	Status       string           `json:"status"`
	Transcript   string           `json:"transcript"`
	RecordingURL string           `json:"recordingUrl"`
	Metadata     providerMetadata `json:"metadata"`
}

type providerMessage struct {
	Type         string        `json:"type"`
	Status       string        `json:"status"`
	Call         *providerCall `json:"call"`
	Transcript   string        `json:"transcript"`
	RecordingURL string        `json:"recordingUrl"`
}

type envelope struct {
	Message *providerMessage `json:"message"`
	Call    *providerCall    `json:"call"`
	flatEvent
}

// ParseEvent decodes a webhook body. It accepts the flat contract
// {callId, tenantId, leadId, status, transcript, recordingRef} and the
// provider envelope {message:{type, call:{id, status, metadata}, ...}} or
// {call:{...}}.
func ParseEvent(body []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Event{}, eris.Wrap(ErrInvalidPayload, err.Error())
	}

	var ev Event
	switch {
	case env.Message != nil && env.Message.Call != nil:
		ev = fromCall(env.Message.Call)
		ev.Status = first(env.Message.Call.Status, env.Message.Status, statusForType(env.Message.Type))
		ev.Transcript = first(env.Message.Transcript, ev.Transcript)
		ev.RecordingURL = first(env.Message.RecordingURL, ev.RecordingURL)
	case env.Call != nil:
		ev = fromCall(env.Call)
	default:
		f := env.flatEvent
		ev = Event{
			CallID:       f.CallID,
			TenantID:     f.TenantID,
			LeadID:       f.LeadID,
			Status:       f.Status,
			Transcript:   f.Transcript,
			RecordingURL: f.RecordingRef,
		}
	}

	ev.CallID = strings.TrimSpace(ev.CallID)
	ev.TenantID = strings.TrimSpace(ev.TenantID)
	ev.LeadID = strings.TrimSpace(ev.LeadID)

	if ev.TenantID == "" {
		return Event{}, ErrMissingTenant
	}
	if ev.CallID == "" || ev.LeadID == "" {
		return Event{}, eris.Wrap(ErrInvalidPayload, "callId and leadId are required")
	}
	return ev, nil
}

func fromCall(c *providerCall) Event {
	return Event{
		CallID:       c.ID,
		TenantID:     first(c.Metadata.TenantID, c.Metadata.ClientID),
		LeadID:       c.Metadata.LeadID,
		Status:       c.Status,
		Transcript:   c.Transcript,
		RecordingURL: c.RecordingURL,
	}
}

// statusForType infers a status from message types that carry none.
func statusForType(t string) string {
	if t == "end-of-call-report" {
		return "ended"
	}
	return ""
}

func first(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
