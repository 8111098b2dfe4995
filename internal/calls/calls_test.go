package calls

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-entry/internal/model"
	"github.com/sells-group/lead-entry/internal/store"
)

func TestMapProviderStatus(t *testing.T) {
	tests := map[string]model.CallStatus{
		"queued":      model.CallStatusRinging,
		"ringing":     model.CallStatusRinging,
		"in-progress": model.CallStatusAnswered,
		"completed":   model.CallStatusCompleted,
		"ended":       model.CallStatusCompleted,
		"failed":      model.CallStatusFailed,
		"busy":        model.CallStatusFailed,
		"no-answer":   model.CallStatusFailed,
		"canceled":    model.CallStatusFailed,
		"Completed ":  model.CallStatusCompleted,
		"forwarding":  model.CallStatusInitiated,
		"":            model.CallStatusInitiated,
	}
	for raw, want := range tests {
		assert.Equal(t, want, MapProviderStatus(raw), raw)
	}
}

func TestDetectConsent(t *testing.T) {
	assert.True(t, DetectConsent("Agent: may we contact you?\nUser: Yes, I consent.", DefaultConsentPhrases))
	assert.True(t, DetectConsent("User: yes, that’s fine", DefaultConsentPhrases))
	assert.True(t, DetectConsent("I AUTHORIZE the school to call me", DefaultConsentPhrases))
	assert.False(t, DetectConsent("User: no thanks, please don't call", DefaultConsentPhrases))
	assert.False(t, DetectConsent("", DefaultConsentPhrases))
	assert.True(t, DetectConsent("sure thing", []string{"Sure Thing"}))
}

func TestLeadTransition(t *testing.T) {
	tests := []struct {
		status  model.CallStatus
		consent bool
		want    model.LeadStatus
	}{
		{model.CallStatusInitiated, false, ""},
		{model.CallStatusRinging, false, model.LeadStatusCalling},
		{model.CallStatusAnswered, false, model.LeadStatusCalling},
		{model.CallStatusCompleted, true, model.LeadStatusConfirmed},
		{model.CallStatusCompleted, false, model.LeadStatusCallFailed},
		{model.CallStatusFailed, false, model.LeadStatusCallFailed},
	}
	for _, tt := range tests {
		got, _ := LeadTransition(tt.status, tt.consent)
		assert.Equal(t, tt.want, got, "%s consent=%v", tt.status, tt.consent)
	}
}

func TestParseEvent_Flat(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"callId":"c1","tenantId":"t1","leadId":"l1","status":"completed",
		"transcript":"i agree","recordingRef":"https://rec/1.mp3"}`))
	require.NoError(t, err)
	assert.Equal(t, Event{CallID: "c1", TenantID: "t1", LeadID: "l1", Status: "completed",
		Transcript: "i agree", RecordingURL: "https://rec/1.mp3"}, ev)
}

func TestParseEvent_ProviderEnvelope(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"message":{"type":"status-update",
		"call":{"id":"c1","status":"in-progress","metadata":{"clientId":"t1","leadId":"l1"}}}}`))
	require.NoError(t, err)
	assert.Equal(t, "c1", ev.CallID)
	assert.Equal(t, "t1", ev.TenantID)
	assert.Equal(t, "l1", ev.LeadID)
	assert.Equal(t, "in-progress", ev.Status)
}

func TestParseEvent_EndOfCallReport(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"message":{"type":"end-of-call-report","transcript":"yes, i agree",
		"recordingUrl":"https://rec/2.mp3","call":{"id":"c2","metadata":{"tenantId":"t1","leadId":"l1"}}}}`))
	require.NoError(t, err)
	assert.Equal(t, "ended", ev.Status)
	assert.Equal(t, "yes, i agree", ev.Transcript)
	assert.Equal(t, "https://rec/2.mp3", ev.RecordingURL)
}

func TestParseEvent_BareCall(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"call":{"id":"c3","status":"busy","metadata":{"clientId":"t1","leadId":"l1"}}}`))
	require.NoError(t, err)
	assert.Equal(t, "busy", ev.Status)
	assert.Equal(t, "t1", ev.TenantID)
}

func TestParseEvent_Errors(t *testing.T) {
	_, err := ParseEvent([]byte(`{not json`))
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = ParseEvent([]byte(`{"callId":"c1","leadId":"l1","status":"completed"}`))
	assert.ErrorIs(t, err, ErrMissingTenant)

	_, err = ParseEvent([]byte(`{"tenantId":"t1","status":"completed"}`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func newTestProcessor(t *testing.T) (*Processor, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "calls.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	require.NoError(t, st.CreateLead(context.Background(), &model.Lead{
		ID: "l1", TenantID: "t1", FirstName: "Jane", LastName: "Doe", Status: model.LeadStatusNew,
	}))
	return NewProcessor(st, nil), st
}

func event(callID, status, transcript string) Event {
	return Event{CallID: callID, TenantID: "t1", LeadID: "l1", Status: status, Transcript: transcript,
		RecordingURL: "https://rec/" + callID + ".mp3"}
}

func TestHandle_ConsentConfirmsLead(t *testing.T) {
	p, st := newTestProcessor(t)
	ctx := context.Background()

	res, err := p.Handle(ctx, event("c1", "ringing", ""))
	require.NoError(t, err)
	assert.True(t, res.LeadUpdated)
	assert.Equal(t, model.LeadStatusCalling, res.To)

	// Answered keeps the lead in CALLING without another history row.
	res, err = p.Handle(ctx, event("c1", "in-progress", ""))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.False(t, res.LeadUpdated)

	res, err = p.Handle(ctx, event("c1", "completed", "Yes, I agree to be contacted"))
	require.NoError(t, err)
	assert.True(t, res.LeadUpdated)
	assert.Equal(t, model.LeadStatusCalling, res.From)
	assert.Equal(t, model.LeadStatusConfirmed, res.To)

	lead, err := st.GetLead(ctx, "t1", "l1")
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusConfirmed, lead.Status)
	assert.True(t, lead.TCPAConsent)
	assert.Equal(t, "https://rec/c1.mp3", lead.ConsentRecordingURL)
	assert.Equal(t, 1, lead.CallAttempts)

	call, err := st.GetCallLog(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, model.CallStatusCompleted, call.Status)
	assert.True(t, call.Consent)

	history, err := st.ListStatusUpdates(ctx, "l1")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestHandle_RedeliveryIsIdempotent(t *testing.T) {
	p, st := newTestProcessor(t)
	ctx := context.Background()

	_, err := p.Handle(ctx, event("c1", "completed", "no thank you"))
	require.NoError(t, err)

	res, err := p.Handle(ctx, event("c1", "completed", "no thank you"))
	require.NoError(t, err)
	assert.True(t, res.Duplicate)

	// A late ringing event never regresses the call.
	res, err = p.Handle(ctx, event("c1", "ringing", ""))
	require.NoError(t, err)
	assert.True(t, res.Duplicate)

	lead, err := st.GetLead(ctx, "t1", "l1")
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusCallFailed, lead.Status)

	history, err := st.ListStatusUpdates(ctx, "l1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestHandle_EntryStageLeadUntouched(t *testing.T) {
	p, st := newTestProcessor(t)
	ctx := context.Background()
	require.NoError(t, st.CreateLead(ctx, &model.Lead{ID: "l2", TenantID: "t1", Status: model.LeadStatusEntered}))

	ev := event("c9", "failed", "")
	ev.LeadID = "l2"
	res, err := p.Handle(ctx, ev)
	require.NoError(t, err)
	assert.False(t, res.LeadUpdated)

	lead, err := st.GetLead(ctx, "t1", "l2")
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusEntered, lead.Status)
}

func TestHandle_UnknownLead(t *testing.T) {
	p, _ := newTestProcessor(t)
	ev := event("c1", "ringing", "")
	ev.LeadID = "nope"
	_, err := p.Handle(context.Background(), ev)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestOutcome_ConsentOnlyOnCompletion(t *testing.T) {
	p := NewProcessor(nil, nil)
	out := p.Outcome(event("c1", "in-progress", "i agree"))
	assert.False(t, out.Consent)
	assert.Equal(t, model.LeadStatusCalling, out.LeadStatus)
}

func TestHandle_EndedThenReportConfirms(t *testing.T) {
	p, st := newTestProcessor(t)
	ctx := context.Background()

	_, err := p.Handle(ctx, event("c1", "ringing", ""))
	require.NoError(t, err)

	ended, err := ParseEvent([]byte(`{"message":{"type":"status-update","status":"ended",
		"call":{"id":"c1","metadata":{"tenantId":"t1","leadId":"l1"}}}}`))
	require.NoError(t, err)
	res, err := p.Handle(ctx, ended)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.False(t, res.LeadUpdated)

	lead, err := st.GetLead(ctx, "t1", "l1")
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusCalling, lead.Status)

	report, err := ParseEvent([]byte(`{"message":{"type":"end-of-call-report","transcript":"User: yes, I consent",
		"recordingUrl":"https://rec/c1.mp3","call":{"id":"c1","metadata":{"tenantId":"t1","leadId":"l1"}}}}`))
	require.NoError(t, err)
	res, err = p.Handle(ctx, report)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.True(t, res.LeadUpdated)
	assert.Equal(t, model.LeadStatusConfirmed, res.To)

	lead, err = st.GetLead(ctx, "t1", "l1")
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusConfirmed, lead.Status)
	assert.True(t, lead.TCPAConsent)
	assert.Equal(t, "https://rec/c1.mp3", lead.ConsentRecordingURL)

	call, err := st.GetCallLog(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "User: yes, I consent", call.Transcript)

	// Redelivering the report changes nothing.
	res, err = p.Handle(ctx, report)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
}

func TestOutcome_CompletedWithoutTranscriptIsPending(t *testing.T) {
	p := NewProcessor(nil, nil)
	out := p.Outcome(event("c1", "ended", ""))
	assert.Equal(t, model.CallStatusCompleted, out.Status)
	assert.Empty(t, out.LeadStatus)
	assert.False(t, out.Consent)
}
