package fallback

import (
	"fmt"
	"strings"
)

// NoProvidersConnectedError means the organization has no usable provider.
// Callers show a "connect a provider" prompt, not a failure.
type NoProvidersConnectedError struct {
	Feature string
}

func (e *NoProvidersConnectedError) Error() string {
	return fmt.Sprintf("no AI providers connected for %s", e.Feature)
}

// UserMessage is safe to show to the end user.
func (e *NoProvidersConnectedError) UserMessage() string {
	return "No AI provider is connected yet. Connect ChatGPT, Claude, Gemini or Grok in Settings to use this feature."
}

// AllProvidersFailedError means every connected provider was tried and none
// produced a result.
type AllProvidersFailedError struct {
	Feature  string
	Attempts []Attempt

	// Providers are the display names tried, in order.
	Providers []string
}

func (e *AllProvidersFailedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %s", a.Provider, a.ErrorKind))
	}
	return fmt.Sprintf("all %d AI providers failed for %s (%s)", len(e.Providers), e.Feature, strings.Join(parts, "; "))
}

// UserMessage is safe to show to the end user.
func (e *AllProvidersFailedError) UserMessage() string {
	return fmt.Sprintf(
		"I tried all available AI providers (%s) but none could respond. Please try again in a few minutes.",
		strings.Join(e.Providers, ", "),
	)
}

// ProviderLookupError means the organization's providers could not be
// loaded, which is different from having none.
type ProviderLookupError struct {
	Message string
	Err     error
}

func (e *ProviderLookupError) Error() string {
	return fmt.Sprintf("provider lookup failed: %v", e.Err)
}

func (e *ProviderLookupError) Unwrap() error { return e.Err }

// UserMessage is safe to show to the end user.
func (e *ProviderLookupError) UserMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return "Could not load your AI provider settings. Please try again."
}
