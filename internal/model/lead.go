package model

import (
	"strings"
	"time"
)

// LeadStatus is the position of a lead in the call and entry lifecycle.
type LeadStatus string

const (
	LeadStatusNew             LeadStatus = "new"
	LeadStatusCalling         LeadStatus = "calling"
	LeadStatusConfirmed       LeadStatus = "confirmed"
	LeadStatusEntryInProgress LeadStatus = "entry_in_progress"
	LeadStatusEntered         LeadStatus = "entered"
	LeadStatusEntryFailed     LeadStatus = "entry_failed"
	LeadStatusCallFailed      LeadStatus = "call_failed"
)

// IsCallStage reports whether the lead is still in the voice-call part of the
// lifecycle, the only part call-outcome events may move.
func (s LeadStatus) IsCallStage() bool {
	switch s {
	case LeadStatusNew, LeadStatusCalling, LeadStatusCallFailed:
		return true
	}
	return false
}

// Lead is a prospective contact owned by a tenant.
type Lead struct {
	ID                  string            `json:"id"`
	TenantID            string            `json:"tenant_id"`
	FirstName           string            `json:"first_name"`
	LastName            string            `json:"last_name"`
	Email               string            `json:"email,omitempty"`
	Phone               string            `json:"phone,omitempty"`
	AlternatePhone      string            `json:"alternate_phone,omitempty"`
	Company             string            `json:"company,omitempty"`
	JobTitle            string            `json:"job_title,omitempty"`
	Address             string            `json:"address,omitempty"`
	City                string            `json:"city,omitempty"`
	State               string            `json:"state,omitempty"`
	ZipCode             string            `json:"zip_code,omitempty"`
	Country             string            `json:"country,omitempty"`
	AreaOfStudy         string            `json:"area_of_study,omitempty"`
	Source              string            `json:"source,omitempty"`
	CustomData          map[string]string `json:"custom_data,omitempty"`
	Status              LeadStatus        `json:"status"`
	TCPAConsent         bool              `json:"tcpa_consent"`
	ConsentRecordingURL string            `json:"consent_recording_url,omitempty"`
	CallAttempts        int               `json:"call_attempts"`
	LastCallAt          *time.Time        `json:"last_call_at,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// Internal field keys accepted in a portal field mapping. Keys not listed here
// are looked up in CustomData.
const (
	FieldFirstName      = "firstName"
	FieldLastName       = "lastName"
	FieldEmail          = "email"
	FieldPhone          = "phone"
	FieldAlternatePhone = "alternatePhone"
	FieldCompany        = "company"
	FieldJobTitle       = "jobTitle"
	FieldAddress        = "address"
	FieldCity           = "city"
	FieldState          = "state"
	FieldZipCode        = "zipCode"
	FieldCountry        = "country"
	FieldAreaOfStudy    = "areaOfStudy"
)

// Field returns the value of an internal field key, falling back to custom data.
func (l *Lead) Field(key string) string {
	switch key {
	case FieldFirstName:
		return l.FirstName
	case FieldLastName:
		return l.LastName
	case FieldEmail:
		return l.Email
	case FieldPhone:
		return l.Phone
	case FieldAlternatePhone:
		return l.AlternatePhone
	case FieldCompany:
		return l.Company
	case FieldJobTitle:
		return l.JobTitle
	case FieldAddress:
		return l.Address
	case FieldCity:
		return l.City
	case FieldState:
		return l.State
	case FieldZipCode:
		return l.ZipCode
	case FieldCountry:
		return l.Country
	case FieldAreaOfStudy:
		if l.AreaOfStudy != "" {
			return l.AreaOfStudy
		}
	}
	if l.CustomData == nil {
		return ""
	}
	return l.CustomData[key]
}

// FullName joins first and last name.
func (l *Lead) FullName() string {
	return strings.TrimSpace(l.FirstName + " " + l.LastName)
}
