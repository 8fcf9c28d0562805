package providers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"crm_backend/internal/models"
)

const (
	openAIDefaultBaseURL = "https://api.openai.com/v1"
	openAIDefaultModel   = "gpt-4o-mini"

	xAIDefaultBaseURL = "https://api.x.ai/v1"
	xAIDefaultModel   = "grok-2-latest"

	maxCapturedBody = 64 << 10
)

// ChatCompletionAdapter calls any vendor that speaks the OpenAI chat
// completions API. OpenAI and xAI both do.
type ChatCompletionAdapter struct {
	providerType models.ProviderType
	cfg          AdapterConfig
}

// NewOpenAIAdapter creates the OpenAI adapter.
func NewOpenAIAdapter(cfg AdapterConfig) *ChatCompletionAdapter {
	return &ChatCompletionAdapter{
		providerType: models.ProviderTypeOpenAI,
		cfg:          cfg.withDefaults(openAIDefaultBaseURL, openAIDefaultModel),
	}
}

// NewXAIAdapter creates the xAI (Grok) adapter.
func NewXAIAdapter(cfg AdapterConfig) *ChatCompletionAdapter {
	return &ChatCompletionAdapter{
		providerType: models.ProviderTypeXAI,
		cfg:          cfg.withDefaults(xAIDefaultBaseURL, xAIDefaultModel),
	}
}

// Type returns the vendor this adapter calls.
func (a *ChatCompletionAdapter) Type() models.ProviderType {
	return a.providerType
}

// Call sends prompt as a single user message.
func (a *ChatCompletionAdapter) Call(ctx context.Context, apiKey, prompt, model string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	capture := &errorBodyCapture{base: a.cfg.HTTPClient.Transport}
	httpClient := *a.cfg.HTTPClient
	httpClient.Transport = capture

	clientCfg := openai.DefaultConfig(apiKey)
	clientCfg.BaseURL = a.cfg.BaseURL
	clientCfg.HTTPClient = &httpClient
	client := openai.NewClientWithConfig(clientCfg)

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     a.cfg.model(model),
		MaxTokens: a.cfg.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", a.mapError(err, string(capture.body))
	}

	if len(resp.Choices) == 0 {
		return "", invalidResponseError(a.providerType, "response has no choices")
	}
	text := resp.Choices[0].Message.Content
	if strings.TrimSpace(text) == "" {
		return "", invalidResponseError(a.providerType, "response has no message content")
	}
	return text, nil
}

// mapError prefers the raw vendor body over the message go-openai parsed out
// of it, so type, code and request_id survive.
func (a *ChatCompletionAdapter) mapError(err error, rawBody string) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		if rawBody == "" {
			rawBody = apiErr.Message
		}
		return httpStatusError(a.providerType, apiErr.HTTPStatusCode, rawBody)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		if rawBody == "" && reqErr.Err != nil {
			rawBody = reqErr.Err.Error()
		}
		return httpStatusError(a.providerType, reqErr.HTTPStatusCode, rawBody)
	}

	return transportError(a.providerType, err)
}

// errorBodyCapture keeps a copy of a non-2xx response body. One instance
// serves one call.
type errorBodyCapture struct {
	base http.RoundTripper
	body []byte
}

func (c *errorBodyCapture) RoundTrip(req *http.Request) (*http.Response, error) {
	base := c.base
	if base == nil {
		base = http.DefaultTransport
	}
	resp, err := base.RoundTrip(req)
	if err != nil || (resp.StatusCode >= 200 && resp.StatusCode < 300) {
		return resp, err
	}

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxCapturedBody))
	resp.Body.Close()
	c.body = raw
	resp.Body = io.NopCloser(bytes.NewReader(raw))
	if readErr != nil {
		return nil, readErr
	}
	return resp, nil
}
