package model

import (
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Defaults applied to a portal configuration when the admin leaves them unset.
const (
	DefaultRetryAttempts     = 3
	DefaultRetryDelayMinutes = 5
)

// FieldMapping maps an internal lead field key to the portal's parameter name.
type FieldMapping map[string]string

// PortalConfig is a tenant's configuration for one external entry portal.
type PortalConfig struct {
	ID                string            `json:"id" yaml:"id,omitempty"`
	TenantID          string            `json:"tenant_id" yaml:"tenant_id"`
	PortalID          string            `json:"portal_id" yaml:"portal_id"`
	PortalURL         string            `json:"portal_url" yaml:"portal_url"`
	FieldMapping      FieldMapping      `json:"field_mapping" yaml:"field_mapping"`
	DefaultValues     map[string]string `json:"default_values,omitempty" yaml:"default_values,omitempty"`
	AutoSubmit        bool              `json:"auto_submit" yaml:"auto_submit"`
	RetryAttempts     int               `json:"retry_attempts" yaml:"retry_attempts"`
	RetryDelayMinutes int               `json:"retry_delay_minutes" yaml:"retry_delay_minutes"`
	IsActive          bool              `json:"is_active" yaml:"is_active"`
	CreatedAt         time.Time         `json:"created_at" yaml:"-"`
	UpdatedAt         time.Time         `json:"updated_at" yaml:"-"`
}

// RetryDelay returns the configured backoff base as a duration.
func (p *PortalConfig) RetryDelay() time.Duration {
	return time.Duration(p.RetryDelayMinutes) * time.Minute
}

// Validate checks the fields an admin must supply.
func (p *PortalConfig) Validate() error {
	if strings.TrimSpace(p.TenantID) == "" {
		return eris.New("portal config: tenant_id is required")
	}
	if strings.TrimSpace(p.PortalID) == "" {
		return eris.New("portal config: portal_id is required")
	}
	if strings.TrimSpace(p.PortalURL) == "" {
		return eris.New("portal config: portal_url is required")
	}
	u, err := url.Parse(p.PortalURL)
	if err != nil {
		return eris.Wrap(err, "portal config: invalid portal_url")
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return eris.Errorf("portal config: portal_url must be an absolute http(s) URL: %s", p.PortalURL)
	}
	if p.RetryAttempts < 0 {
		return eris.New("portal config: retry_attempts must not be negative")
	}
	if p.RetryDelayMinutes < 1 {
		return eris.New("portal config: retry_delay_minutes must be at least 1")
	}
	return nil
}
