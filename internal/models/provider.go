package models

import (
	"time"

	"github.com/google/uuid"
)

// ProviderType enumerates the AI vendors an organization can connect.
type ProviderType string

const (
	ProviderTypeOpenAI    ProviderType = "openai"
	ProviderTypeAnthropic ProviderType = "anthropic"
	ProviderTypeGoogle    ProviderType = "google"
	ProviderTypeXAI       ProviderType = "xai"
)

// SupportedProviderTypes is the allow-list of vendor types, in no particular order.
var SupportedProviderTypes = []ProviderType{
	ProviderTypeOpenAI,
	ProviderTypeAnthropic,
	ProviderTypeGoogle,
	ProviderTypeXAI,
}

var displayNames = map[ProviderType]string{
	ProviderTypeOpenAI:    "ChatGPT",
	ProviderTypeAnthropic: "Claude",
	ProviderTypeGoogle:    "Gemini",
	ProviderTypeXAI:       "Grok",
}

// IsSupported reports whether t is on the allow-list.
func (t ProviderType) IsSupported() bool {
	_, ok := displayNames[t]
	return ok
}

// DisplayName returns the product name users know the vendor by.
// Unknown types fall back to the raw identifier.
func (t ProviderType) DisplayName() string {
	if name, ok := displayNames[t]; ok {
		return name
	}
	return string(t)
}

// ParseProviderType validates a raw identifier against the allow-list.
func ParseProviderType(s string) (ProviderType, bool) {
	t := ProviderType(s)
	return t, t.IsSupported()
}

// ProviderConfig is one organization's connection to one AI vendor.
// The API key is only ever held encrypted.
type ProviderConfig struct {
	ID              uuid.UUID    `db:"id" json:"id"`
	OrganizationID  string       `db:"organization_id" json:"organization_id"`
	ProviderType    ProviderType `db:"provider_type" json:"provider_type"`
	DisplayName     string       `db:"display_name" json:"display_name"`
	Model           string       `db:"model" json:"model,omitempty"`
	APIKeyEncrypted string       `db:"api_key_encrypted" json:"-"`
	Active          bool         `db:"active" json:"active"`
	CreatedAt       time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at" json:"updated_at"`
}

// Label is the name shown in user-facing messages.
func (p ProviderConfig) Label() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.ProviderType.DisplayName()
}
