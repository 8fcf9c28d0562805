package models

import (
	"testing"
)

func TestProviderType_Constants(t *testing.T) {
	tests := []struct {
		name     string
		provider ProviderType
		expected string
		display  string
	}{
		{"OpenAI", ProviderTypeOpenAI, "openai", "ChatGPT"},
		{"Anthropic", ProviderTypeAnthropic, "anthropic", "Claude"},
		{"Google", ProviderTypeGoogle, "google", "Gemini"},
		{"XAI", ProviderTypeXAI, "xai", "Grok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if string(tt.provider) != tt.expected {
				t.Errorf("ProviderType = %s, want %s", tt.provider, tt.expected)
			}
			if tt.provider.DisplayName() != tt.display {
				t.Errorf("DisplayName() = %s, want %s", tt.provider.DisplayName(), tt.display)
			}
			if !tt.provider.IsSupported() {
				t.Errorf("%s should be supported", tt.provider)
			}
		})
	}
}

func TestParseProviderType(t *testing.T) {
	if _, ok := ParseProviderType("mistral"); ok {
		t.Error("mistral should not be on the allow-list")
	}
	if pt, ok := ParseProviderType("xai"); !ok || pt != ProviderTypeXAI {
		t.Errorf("ParseProviderType(xai) = %s, %v", pt, ok)
	}
	if got := ProviderType("mistral").DisplayName(); got != "mistral" {
		t.Errorf("unknown DisplayName() = %s, want raw id", got)
	}
}

func TestProviderConfig_Label(t *testing.T) {
	p := ProviderConfig{ProviderType: ProviderTypeAnthropic}
	if p.Label() != "Claude" {
		t.Errorf("Label() = %s, want Claude", p.Label())
	}

	p.DisplayName = "Claude (sales team)"
	if p.Label() != "Claude (sales team)" {
		t.Errorf("Label() = %s, want custom display name", p.Label())
	}
}
