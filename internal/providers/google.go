package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"

	"crm_backend/internal/models"
)

const (
	googleDefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	googleDefaultModel   = "gemini-1.5-flash"

	maxResponseBody = 4 << 20
)

// GoogleAdapter calls the Gemini generateContent endpoint.
type GoogleAdapter struct {
	cfg AdapterConfig
}

// NewGoogleAdapter creates the Google (Gemini) adapter.
func NewGoogleAdapter(cfg AdapterConfig) *GoogleAdapter {
	return &GoogleAdapter{cfg: cfg.withDefaults(googleDefaultBaseURL, googleDefaultModel)}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      *geminiContent `json:"content"`
		FinishReason string         `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// Type returns the vendor this adapter calls.
func (a *GoogleAdapter) Type() models.ProviderType {
	return models.ProviderTypeGoogle
}

// Call sends prompt as a single user turn. The key travels in a header so it
// never shows up in URLs or error strings.
func (a *GoogleAdapter) Call(ctx context.Context, apiKey, prompt, model string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: prompt}},
		}},
		GenerationConfig: &geminiGenerationConfig{MaxOutputTokens: a.cfg.MaxTokens},
	})
	if err != nil {
		return "", eris.Wrap(err, "failed to marshal request")
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent",
		strings.TrimRight(a.cfg.BaseURL, "/"), url.PathEscape(a.cfg.model(model)))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", eris.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", apiKey)

	resp, err := a.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", transportError(models.ProviderTypeGoogle, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return "", transportError(models.ProviderTypeGoogle, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", httpStatusError(models.ProviderTypeGoogle, resp.StatusCode, string(respBody))
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", &AdapterError{Provider: models.ProviderTypeGoogle, Kind: KindInvalidResponse, Err: err}
	}

	if len(parsed.Candidates) == 0 || parsed.Candidates[0].Content == nil {
		reason := "response has no candidates"
		if parsed.PromptFeedback != nil && parsed.PromptFeedback.BlockReason != "" {
			reason = "prompt blocked: " + parsed.PromptFeedback.BlockReason
		}
		return "", invalidResponseError(models.ProviderTypeGoogle, reason)
	}

	var b strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", invalidResponseError(models.ProviderTypeGoogle, "response has no text")
	}
	return b.String(), nil
}
