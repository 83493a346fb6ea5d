package entities

import (
	"strings"
	"time"
)

// AuthType is the authentication scheme a partner API expects
type AuthType string

const (
	AuthTypeAPIKey AuthType = "api_key"
	AuthTypeBearer AuthType = "bearer"
	AuthTypeBasic  AuthType = "basic"
	AuthTypeOAuth  AuthType = "oauth"
)

// IntegrationStatus tracks the health of a partner integration
type IntegrationStatus string

const (
	IntegrationStatusPending  IntegrationStatus = "pending"
	IntegrationStatusActive   IntegrationStatus = "active"
	IntegrationStatusError    IntegrationStatus = "error"
	IntegrationStatusDisabled IntegrationStatus = "disabled"
)

// AuthConfig declares how to authenticate against a partner API
type AuthConfig struct {
	Type        AuthType          `json:"type"`
	Credentials map[string]string `json:"credentials,omitempty"`
}

// Provider is a telemedicine partner we pull consultations, prescriptions
// and medical records from
type Provider struct {
	ID                string            `json:"id" db:"id"`
	Name              string            `json:"name" db:"name"`
	APIURL            string            `json:"api_url" db:"api_url"`
	AuthConfig        AuthConfig        `json:"auth_config" db:"auth_config"`
	CredentialsConfig map[string]string `json:"credentials_config,omitempty" db:"credentials_config"`
	IsActive          bool              `json:"is_active" db:"is_active"`
	IntegrationStatus IntegrationStatus `json:"integration_status" db:"integration_status"`
	LastSyncAt        *time.Time        `json:"last_sync_at,omitempty" db:"last_sync_at"`
	CreatedAt         time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at" db:"updated_at"`
}

// NeverSynced reports whether the provider has never completed a sync,
// which makes it eligible for a first-run backfill
func (p *Provider) NeverSynced() bool {
	return p.LastSyncAt == nil
}

// IsConfigured reports whether a client can be built for this provider
func (p *Provider) IsConfigured() bool {
	return p.IsActive && strings.TrimSpace(p.APIURL) != "" && p.IntegrationStatus != IntegrationStatusDisabled
}

// Credential looks a key up in the auth credentials first, then in the
// separate credentials config
func (p *Provider) Credential(key string) string {
	if v, ok := p.AuthConfig.Credentials[key]; ok && v != "" {
		return v
	}
	return p.CredentialsConfig[key]
}

// AllCredentials merges both credential maps; auth credentials win.
func (p *Provider) AllCredentials() map[string]string {
	out := make(map[string]string, len(p.CredentialsConfig)+len(p.AuthConfig.Credentials))
	for k, v := range p.CredentialsConfig {
		out[k] = v
	}
	for k, v := range p.AuthConfig.Credentials {
		out[k] = v
	}
	return out
}
