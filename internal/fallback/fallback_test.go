package fallback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm_backend/internal/metrics"
	"crm_backend/internal/models"
	"crm_backend/internal/providers"
	"crm_backend/internal/vault"
)

func cfg(pt models.ProviderType) models.ProviderConfig {
	return models.ProviderConfig{OrganizationID: "org-1", ProviderType: pt}
}

func TestRunWithFallback_EmptyListShortCircuits(t *testing.T) {
	called := false
	res, err := RunWithFallback(context.Background(), NewRunner(nil, nil), "deal-insights", nil,
		func(ctx context.Context, p models.ProviderConfig) (string, error) {
			called = true
			return "", nil
		})

	var noneErr *NoProvidersConnectedError
	require.True(t, errors.As(err, &noneErr))
	assert.Equal(t, "deal-insights", noneErr.Feature)
	assert.False(t, called)
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Empty(t, res.Errors)
}

func TestRunWithFallback_FirstSuccessWins(t *testing.T) {
	var invoked []models.ProviderType
	list := []models.ProviderConfig{
		cfg(models.ProviderTypeAnthropic),
		cfg(models.ProviderTypeOpenAI),
		cfg(models.ProviderTypeGoogle),
	}

	res, err := RunWithFallback(context.Background(), NewRunner(nil, nil), "email-draft", list,
		func(ctx context.Context, p models.ProviderConfig) (string, error) {
			invoked = append(invoked, p.ProviderType)
			if p.ProviderType == models.ProviderTypeAnthropic {
				return "", &providers.AdapterError{Provider: p.ProviderType, Kind: providers.KindHTTPStatus, StatusCode: 529}
			}
			return "draft from " + string(p.ProviderType), nil
		})

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, models.ProviderTypeOpenAI, res.ProviderUsed)
	assert.Equal(t, "draft from openai", res.Value)
	assert.Equal(t, []models.ProviderType{models.ProviderTypeAnthropic, models.ProviderTypeOpenAI}, invoked)

	require.Len(t, res.Errors, 1)
	assert.Equal(t, models.ProviderTypeAnthropic, res.Errors[0].Provider)
	assert.Equal(t, providers.KindHTTPStatus, res.Errors[0].ErrorKind)
	assert.Equal(t, 529, res.Errors[0].StatusCode)

	require.Len(t, res.Attempts, 2)
	assert.Equal(t, OutcomeSuccess, res.Attempts[1].Outcome)
}

func TestRunWithFallback_AllFailAggregatesInOrder(t *testing.T) {
	list := []models.ProviderConfig{cfg(models.ProviderTypeOpenAI), cfg(models.ProviderTypeAnthropic)}

	res, err := RunWithFallback(context.Background(), NewRunner(nil, nil), "pipeline-summary", list,
		func(ctx context.Context, p models.ProviderConfig) (string, error) {
			if p.ProviderType == models.ProviderTypeOpenAI {
				return "", &providers.AdapterError{Provider: p.ProviderType, Kind: providers.KindTimeout}
			}
			return "", &providers.AdapterError{Provider: p.ProviderType, Kind: providers.KindInvalidResponse}
		})

	var allErr *AllProvidersFailedError
	require.True(t, errors.As(err, &allErr))
	assert.False(t, res.Success)

	require.Len(t, res.Errors, 2)
	assert.Equal(t, models.ProviderTypeOpenAI, res.Errors[0].Provider)
	assert.Equal(t, providers.KindTimeout, res.Errors[0].ErrorKind)
	assert.Equal(t, models.ProviderTypeAnthropic, res.Errors[1].Provider)
	assert.Equal(t, providers.KindInvalidResponse, res.Errors[1].ErrorKind)

	assert.Equal(t, []string{"ChatGPT", "Claude"}, allErr.Providers)
	assert.Equal(t, res.Errors, allErr.Attempts)
	assert.Equal(t,
		"I tried all available AI providers (ChatGPT, Claude) but none could respond. Please try again in a few minutes.",
		allErr.UserMessage())
}

func TestRunWithFallback_SkipsUnsupported(t *testing.T) {
	list := []models.ProviderConfig{cfg("mistral"), cfg(models.ProviderTypeXAI)}

	res, err := RunWithFallback(context.Background(), NewRunner(nil, nil), "next-best-action", list,
		func(ctx context.Context, p models.ProviderConfig) (string, error) {
			if p.ProviderType == "mistral" {
				return "", providers.ErrUnsupportedProvider
			}
			return "call the champion", nil
		})

	require.NoError(t, err)
	assert.Equal(t, models.ProviderTypeXAI, res.ProviderUsed)
	assert.Empty(t, res.Errors)
	assert.Len(t, res.Attempts, 1)
}

func TestRunWithFallback_OnlyUnsupported(t *testing.T) {
	list := []models.ProviderConfig{cfg("mistral")}

	_, err := RunWithFallback(context.Background(), NewRunner(nil, nil), "email-draft", list,
		func(ctx context.Context, p models.ProviderConfig) (string, error) {
			return "", providers.ErrUnsupportedProvider
		})

	var noneErr *NoProvidersConnectedError
	assert.True(t, errors.As(err, &noneErr))
}

func TestRunWithFallback_StopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	list := []models.ProviderConfig{cfg(models.ProviderTypeOpenAI), cfg(models.ProviderTypeGoogle)}

	_, err := RunWithFallback(ctx, NewRunner(nil, nil), "email-draft", list,
		func(ctx context.Context, p models.ProviderConfig) (string, error) {
			calls++
			cancel()
			return "", ctx.Err()
		})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRunWithFallback_NonStringResult(t *testing.T) {
	list := []models.ProviderConfig{cfg(models.ProviderTypeOpenAI)}

	res, err := RunWithFallback(context.Background(), NewRunner(nil, metrics.NewPrometheus()), "deal-insights", list,
		func(ctx context.Context, p models.ProviderConfig) (int, error) {
			return 42, nil
		})
	require.NoError(t, err)
	assert.Equal(t, 42, res.Value)
}

func TestClassify(t *testing.T) {
	latency := 10 * time.Millisecond

	tests := []struct {
		name string
		err  error
		kind providers.ErrorKind
	}{
		{"adapter", &providers.AdapterError{Kind: providers.KindNetwork}, providers.KindNetwork},
		{"decryption", &vault.DecryptionError{Reason: "authentication failed"}, KindDecryption},
		{"deadline", context.DeadlineExceeded, providers.KindTimeout},
		{"canceled", context.Canceled, KindCanceled},
		{"other", errors.New("boom"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := classify(models.ProviderTypeOpenAI, tt.err, latency)
			assert.Equal(t, tt.kind, a.ErrorKind)
			assert.Equal(t, OutcomeError, a.Outcome)
			assert.Equal(t, latency, a.Latency)
			assert.NotEmpty(t, a.Message)
		})
	}
}

func TestErrorMessages(t *testing.T) {
	none := &NoProvidersConnectedError{Feature: "email-draft"}
	assert.Contains(t, none.Error(), "email-draft")
	assert.Contains(t, none.UserMessage(), "Connect")

	lookup := &ProviderLookupError{Err: errors.New("db down")}
	assert.ErrorContains(t, lookup, "db down")
	assert.NotEmpty(t, lookup.UserMessage())
	assert.NotContains(t, lookup.UserMessage(), "db down")
}
