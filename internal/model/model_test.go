package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeadField(t *testing.T) {
	t.Parallel()

	lead := &Lead{
		FirstName:   "Jane",
		LastName:    "Doe",
		Email:       "jane@x.com",
		Phone:       "555-000-1111",
		ZipCode:     "30301",
		CustomData:  map[string]string{"dateOfBirth": "1990-01-01", "areaOfStudy": "nursing"},
		AreaOfStudy: "",
	}

	tests := []struct {
		key  string
		want string
	}{
		{FieldFirstName, "Jane"},
		{FieldLastName, "Doe"},
		{FieldEmail, "jane@x.com"},
		{FieldPhone, "555-000-1111"},
		{FieldZipCode, "30301"},
		{"dateOfBirth", "1990-01-01"},
		{FieldAreaOfStudy, "nursing"},
		{"unknown", ""},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, lead.Field(tt.key))
		})
	}
}

func TestLeadField_NilCustomData(t *testing.T) {
	t.Parallel()
	lead := &Lead{}
	assert.Empty(t, lead.Field("age"))
}

func TestLeadStatus_IsCallStage(t *testing.T) {
	t.Parallel()
	assert.True(t, LeadStatusNew.IsCallStage())
	assert.True(t, LeadStatusCalling.IsCallStage())
	assert.True(t, LeadStatusCallFailed.IsCallStage())
	assert.False(t, LeadStatusConfirmed.IsCallStage())
	assert.False(t, LeadStatusEntryInProgress.IsCallStage())
	assert.False(t, LeadStatusEntered.IsCallStage())
}

func TestQueueStatus_IsTerminal(t *testing.T) {
	t.Parallel()
	assert.False(t, QueueStatusQueued.IsTerminal())
	assert.False(t, QueueStatusProcessing.IsTerminal())
	assert.True(t, QueueStatusCompleted.IsTerminal())
	assert.True(t, QueueStatusFailed.IsTerminal())
}

func TestCallStatus_Rank(t *testing.T) {
	t.Parallel()
	assert.Less(t, CallStatusInitiated.Rank(), CallStatusRinging.Rank())
	assert.Less(t, CallStatusRinging.Rank(), CallStatusAnswered.Rank())
	assert.Less(t, CallStatusAnswered.Rank(), CallStatusCompleted.Rank())
	assert.Equal(t, CallStatusCompleted.Rank(), CallStatusFailed.Rank())
	assert.Zero(t, CallStatus("bogus").Rank())
}

func TestPortalConfigValidate(t *testing.T) {
	t.Parallel()

	valid := func() PortalConfig {
		return PortalConfig{
			TenantID:          "t1",
			PortalID:          "leadhoop",
			PortalURL:         "https://portal.example.com/ingest",
			RetryAttempts:     3,
			RetryDelayMinutes: 5,
		}
	}

	p := valid()
	require.NoError(t, p.Validate())

	tests := []struct {
		name   string
		mutate func(*PortalConfig)
		errSub string
	}{
		{"missing tenant", func(p *PortalConfig) { p.TenantID = "" }, "tenant_id"},
		{"missing portal id", func(p *PortalConfig) { p.PortalID = " " }, "portal_id"},
		{"missing url", func(p *PortalConfig) { p.PortalURL = "" }, "portal_url is required"},
		{"relative url", func(p *PortalConfig) { p.PortalURL = "/ingest" }, "absolute"},
		{"ftp url", func(p *PortalConfig) { p.PortalURL = "ftp://x.com/a" }, "absolute"},
		{"negative retries", func(p *PortalConfig) { p.RetryAttempts = -1 }, "retry_attempts"},
		{"zero delay", func(p *PortalConfig) { p.RetryDelayMinutes = 0 }, "retry_delay_minutes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := valid()
			tt.mutate(&p)
			err := p.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSub)
		})
	}
}
