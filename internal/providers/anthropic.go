package providers

import (
	"context"
	"errors"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"crm_backend/internal/models"
)

const (
	anthropicDefaultBaseURL = "https://api.anthropic.com/"
	anthropicDefaultModel   = "claude-3-5-haiku-latest"
)

// AnthropicAdapter calls the Anthropic Messages API.
type AnthropicAdapter struct {
	cfg AdapterConfig
}

// NewAnthropicAdapter creates the Anthropic (Claude) adapter.
func NewAnthropicAdapter(cfg AdapterConfig) *AnthropicAdapter {
	return &AnthropicAdapter{cfg: cfg.withDefaults(anthropicDefaultBaseURL, anthropicDefaultModel)}
}

// Type returns the vendor this adapter calls.
func (a *AnthropicAdapter) Type() models.ProviderType {
	return models.ProviderTypeAnthropic
}

// Call sends prompt as a single user message. SDK retries are off: one Call
// is one HTTP request, and moving on is the orchestrator's job.
func (a *AnthropicAdapter) Call(ctx context.Context, apiKey, prompt, model string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	client := sdk.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(a.cfg.BaseURL),
		option.WithHTTPClient(a.cfg.HTTPClient),
		option.WithMaxRetries(0),
	)

	msg, err := client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(a.cfg.model(model)),
		MaxTokens: int64(a.cfg.MaxTokens),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		var apiErr *sdk.Error
		if errors.As(err, &apiErr) {
			return "", httpStatusError(models.ProviderTypeAnthropic, apiErr.StatusCode, apiErr.RawJSON())
		}
		return "", transportError(models.ProviderTypeAnthropic, err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", invalidResponseError(models.ProviderTypeAnthropic, "response has no text content")
	}
	return b.String(), nil
}
