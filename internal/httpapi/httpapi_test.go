package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm_backend/internal/auth"
	"crm_backend/internal/fallback"
	"crm_backend/internal/models"
	"crm_backend/internal/providers"
	"crm_backend/internal/ratelimit"
	"crm_backend/internal/registry"
	"crm_backend/internal/storage"
	"crm_backend/internal/vault"
)

var testSecret = []byte("httpapi-test-secret")

type fakeOrgs struct {
	members map[string]bool
	plan    string
	planErr error
}

func (f *fakeOrgs) IsMember(ctx context.Context, orgID, userID string) (bool, error) {
	return f.members[orgID+"/"+userID], nil
}

func (f *fakeOrgs) PlanFor(ctx context.Context, orgID string) (string, error) {
	return f.plan, f.planErr
}

type fakeGenerator struct {
	res  *fallback.Result[string]
	err  error
	last fallback.GenerateRequest
}

func (f *fakeGenerator) Generate(ctx context.Context, req fallback.GenerateRequest) (*fallback.Result[string], error) {
	f.last = req
	if f.res == nil {
		f.res = &fallback.Result[string]{}
	}
	return f.res, f.err
}

type fakeProviders struct {
	result    registry.Result
	saved     []string
	removeErr error
	lastOpts  registry.Options
}

func (f *fakeProviders) GetConnectedProviders(ctx context.Context, orgID string, opts registry.Options) registry.Result {
	f.lastOpts = opts
	return f.result
}

func (f *fakeProviders) SaveProvider(ctx context.Context, orgID string, pt models.ProviderType, displayName, model, apiKey string) (*models.ProviderConfig, error) {
	if apiKey == "" {
		return nil, registry.ErrEmptyAPIKey
	}
	f.saved = append(f.saved, apiKey)
	return &models.ProviderConfig{
		ID:              uuid.New(),
		OrganizationID:  orgID,
		ProviderType:    pt,
		DisplayName:     displayName,
		Model:           model,
		APIKeyEncrypted: "iv:tag:ct",
		Active:          true,
	}, nil
}

func (f *fakeProviders) RemoveProvider(ctx context.Context, orgID string, pt models.ProviderType) error {
	return f.removeErr
}

type fakeGuard struct {
	decision ratelimit.Decision
	err      error
	buckets  []ratelimit.Bucket
}

func (f *fakeGuard) CheckRateLimits(ctx context.Context, userID, orgID string, buckets []ratelimit.Bucket) (ratelimit.Decision, error) {
	f.buckets = buckets
	return f.decision, f.err
}

type testEnv struct {
	orgs      *fakeOrgs
	ai        *fakeGenerator
	providers *fakeProviders
	guard     *fakeGuard
	handler   http.Handler
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		orgs:      &fakeOrgs{members: map[string]bool{"org-1/user-1": true}, plan: "pro"},
		ai:        &fakeGenerator{},
		providers: &fakeProviders{},
		guard:     &fakeGuard{decision: ratelimit.Decision{Allowed: true}},
	}
	env.handler = NewRouter(&Dependencies{
		Organizations: env.orgs,
		AI:            env.ai,
		Providers:     env.providers,
		Guard:         env.guard,
		SessionSecret: testSecret,
		HealthChecks: map[string]HealthCheck{
			"database": func(ctx context.Context) error { return nil },
		},
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body, user string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	if user != "" {
		token, _, err := auth.GenerateSessionToken(user, "", testSecret, time.Hour)
		require.NoError(t, err)
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestFeature_Success(t *testing.T) {
	env := newEnv(t)
	env.ai.res = &fallback.Result[string]{
		Success:      true,
		Value:        "Follow up on Tuesday.",
		ProviderUsed: models.ProviderTypeOpenAI,
		Attempts:     []fallback.Attempt{{}, {}},
	}

	w := env.do(t, http.MethodPost, "/api/orgs/org-1/ai/next-best-action", `{"prompt":"Acme deal stalled"}`, "user-1")

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "openai", body["provider"])
	assert.Equal(t, "ChatGPT", body["provider_name"])
	assert.Equal(t, "Follow up on Tuesday.", body["content"])
	assert.Equal(t, float64(2), body["attempts"])

	assert.Equal(t, "next-best-action", env.ai.last.Feature)
	assert.Equal(t, "org-1", env.ai.last.OrganizationID)
	assert.Equal(t, "user-1", env.ai.last.UserID)
	assert.True(t, strings.HasSuffix(env.ai.last.Prompt, "Acme deal stalled"))

	require.Len(t, env.guard.buckets, 2)
	assert.Equal(t, 30, env.guard.buckets[0].Limit)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestFeature_NoProviders(t *testing.T) {
	env := newEnv(t)
	env.ai.err = &fallback.NoProvidersConnectedError{Feature: "email-draft"}

	w := env.do(t, http.MethodPost, "/api/orgs/org-1/ai/email-draft", `{"prompt":"hi"}`, "user-1")

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "no_providers", body["code"])
	assert.Contains(t, body["message"], "Connect")
}

func TestFeature_AllProvidersFailed(t *testing.T) {
	env := newEnv(t)
	env.ai.err = &fallback.AllProvidersFailedError{
		Feature: "email-draft",
		Attempts: []fallback.Attempt{
			{Provider: models.ProviderTypeAnthropic, ErrorKind: providers.KindHTTPStatus, StatusCode: 529, Message: "overloaded"},
			{Provider: models.ProviderTypeOpenAI, ErrorKind: providers.KindTimeout},
		},
		Providers: []string{"Claude", "ChatGPT"},
	}

	w := env.do(t, http.MethodPost, "/api/orgs/org-1/ai/email-draft", `{"prompt":"hi"}`, "user-1")

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	var body UnavailableResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ai_unavailable", body.Code)
	assert.Contains(t, body.Message, "Claude, ChatGPT")
	require.Len(t, body.Attempts, 2)
	assert.Equal(t, "anthropic", body.Attempts[0].Provider)
	assert.Equal(t, 529, body.Attempts[0].StatusCode)
	assert.Equal(t, "timeout", body.Attempts[1].ErrorKind)
}

func TestFeature_LookupFailure(t *testing.T) {
	env := newEnv(t)
	env.ai.err = &fallback.ProviderLookupError{Err: errors.New("db down")}

	w := env.do(t, http.MethodPost, "/api/orgs/org-1/ai/deal-insights", `{"prompt":"hi"}`, "user-1")

	require.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode(t, w)
	assert.Equal(t, "provider_lookup_failed", body["code"])
	assert.NotContains(t, w.Body.String(), "db down")
}

func TestFeature_RateLimited(t *testing.T) {
	env := newEnv(t)
	env.guard.decision = ratelimit.Decision{Exceeded: &ratelimit.ExceededBucket{
		Name: "ai_user_per_minute", Limit: 30, Window: time.Minute, RetryAfterSeconds: 17,
	}}

	w := env.do(t, http.MethodPost, "/api/orgs/org-1/ai/email-draft", `{"prompt":"hi"}`, "user-1")

	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "17", w.Header().Get("Retry-After"))
	body := decode(t, w)
	assert.Equal(t, "rate_limited", body["code"])
	assert.Equal(t, "ai_user_per_minute", body["bucket"])
	assert.Equal(t, float64(17), body["retry_after_seconds"])
	assert.Empty(t, env.ai.last.Feature, "generator must not run")
}

func TestFeature_GuardErrorFailsOpen(t *testing.T) {
	env := newEnv(t)
	env.guard.err = errors.New("redis down")
	env.ai.res = &fallback.Result[string]{Success: true, Value: "ok", ProviderUsed: models.ProviderTypeGoogle}

	w := env.do(t, http.MethodPost, "/api/orgs/org-1/ai/email-draft", `{"prompt":"hi"}`, "user-1")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestFeature_RequestValidation(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   string
		user   string
		status int
	}{
		{"no session", "/api/orgs/org-1/ai/email-draft", `{"prompt":"hi"}`, "", http.StatusUnauthorized},
		{"not a member", "/api/orgs/org-2/ai/email-draft", `{"prompt":"hi"}`, "user-1", http.StatusForbidden},
		{"unknown feature", "/api/orgs/org-1/ai/write-poem", `{"prompt":"hi"}`, "user-1", http.StatusNotFound},
		{"empty prompt", "/api/orgs/org-1/ai/email-draft", `{"prompt":"  "}`, "user-1", http.StatusBadRequest},
		{"bad json", "/api/orgs/org-1/ai/email-draft", `{"prompt":`, "user-1", http.StatusBadRequest},
		{"too long", "/api/orgs/org-1/ai/email-draft", `{"prompt":"` + strings.Repeat("a", MaxPromptChars+1) + `"}`, "user-1", http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newEnv(t)
			w := env.do(t, http.MethodPost, tt.path, tt.body, tt.user)
			assert.Equal(t, tt.status, w.Code)
			assert.Empty(t, env.ai.last.Feature)
		})
	}
}

func TestFeature_UnknownOrganization(t *testing.T) {
	env := newEnv(t)
	env.orgs.planErr = storage.ErrOrganizationNotFound

	w := env.do(t, http.MethodPost, "/api/orgs/org-1/ai/email-draft", `{"prompt":"hi"}`, "user-1")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListProviders(t *testing.T) {
	env := newEnv(t)
	env.providers.result = registry.Result{Providers: []models.ProviderConfig{
		{ID: uuid.New(), ProviderType: models.ProviderTypeAnthropic, APIKeyEncrypted: "secret-ct", Active: true},
		{ID: uuid.New(), ProviderType: models.ProviderTypeXAI, DisplayName: "Grok (ops)", Active: true},
	}}

	w := env.do(t, http.MethodGet, "/api/orgs/org-1/ai/providers", "", "user-1")

	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, env.providers.lastOpts.UseCache)
	assert.NotContains(t, w.Body.String(), "secret-ct")

	var body struct {
		Providers []ProviderResponse `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Providers, 2)
	assert.Equal(t, "Claude", body.Providers[0].DisplayName)
	assert.Equal(t, "Grok (ops)", body.Providers[1].DisplayName)
}

func TestListProviders_LookupFailure(t *testing.T) {
	env := newEnv(t)
	env.providers.result = registry.Result{FetchError: errors.New("timeout"), ErrorMessage: "Could not load"}

	w := env.do(t, http.MethodGet, "/api/orgs/org-1/ai/providers", "", "user-1")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestSaveProvider(t *testing.T) {
	env := newEnv(t)

	w := env.do(t, http.MethodPut, "/api/orgs/org-1/ai/providers/anthropic",
		`{"api_key":" sk-ant-123 ","display_name":"Claude (sales)"}`, "user-1")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"sk-ant-123"}, env.providers.saved)
	assert.NotContains(t, w.Body.String(), "sk-ant-123")
	assert.NotContains(t, w.Body.String(), "iv:tag:ct")

	var body ProviderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "anthropic", body.ProviderType)
	assert.Equal(t, "Claude (sales)", body.DisplayName)
}

func TestSaveProvider_Validation(t *testing.T) {
	env := newEnv(t)

	w := env.do(t, http.MethodPut, "/api/orgs/org-1/ai/providers/mistral", `{"api_key":"x"}`, "user-1")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPut, "/api/orgs/org-1/ai/providers/openai", `{"api_key":""}`, "user-1")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Empty(t, env.providers.saved)
}

func TestRemoveProvider(t *testing.T) {
	env := newEnv(t)

	w := env.do(t, http.MethodDelete, "/api/orgs/org-1/ai/providers/google", "", "user-1")
	assert.Equal(t, http.StatusNoContent, w.Code)

	env.providers.removeErr = storage.ErrProviderNotFound
	w = env.do(t, http.MethodDelete, "/api/orgs/org-1/ai/providers/google", "", "user-1")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealth(t *testing.T) {
	env := newEnv(t)
	w := env.do(t, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])

	degraded := NewRouter(&Dependencies{
		HealthChecks: map[string]HealthCheck{
			"redis": func(ctx context.Context) error { return errors.New("connection refused") },
		},
	})
	w = httptest.NewRecorder()
	degraded.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.NotContains(t, w.Body.String(), "connection refused")
}

type stubAdapter struct {
	pt  models.ProviderType
	out string
	err error
}

func (s stubAdapter) Type() models.ProviderType { return s.pt }
func (s stubAdapter) Call(ctx context.Context, apiKey, prompt, model string) (string, error) {
	return s.out, s.err
}

type staticSource struct{ providers []models.ProviderConfig }

func (s staticSource) GetConnectedProviders(ctx context.Context, orgID string, opts registry.Options) registry.Result {
	return registry.Result{Providers: s.providers}
}

// Runs the real orchestrator and in-memory guard behind the router.
func TestFeature_EndToEndWithOrchestrator(t *testing.T) {
	v, err := vault.NewFromHex("000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	require.NoError(t, err)
	seal := func(pt models.ProviderType) models.ProviderConfig {
		ct, err := v.Encrypt("key-" + string(pt))
		require.NoError(t, err)
		return models.ProviderConfig{ProviderType: pt, APIKeyEncrypted: ct, Active: true}
	}

	set := providers.NewEmptySet()
	set.Register(stubAdapter{pt: models.ProviderTypeAnthropic, err: &providers.AdapterError{
		Provider: models.ProviderTypeAnthropic, Kind: providers.KindHTTPStatus, StatusCode: 529,
	}})
	set.Register(stubAdapter{pt: models.ProviderTypeOpenAI, out: "Deal looks healthy."})

	orch := fallback.New(fallback.Dependencies{
		Providers: staticSource{providers: []models.ProviderConfig{
			seal(models.ProviderTypeAnthropic), seal(models.ProviderTypeOpenAI),
		}},
		Vault:    v,
		Adapters: set,
	})

	handler := NewRouter(&Dependencies{
		Organizations: &fakeOrgs{members: map[string]bool{"org-1/user-1": true}, plan: "free"},
		AI:            orch,
		Providers:     &fakeProviders{},
		Guard:         ratelimit.NewMemoryGuard(),
		SessionSecret: testSecret,
	})
	env := &testEnv{handler: handler}

	w := env.do(t, http.MethodPost, "/api/orgs/org-1/ai/deal-insights", `{"prompt":"Acme renewal"}`, "user-1")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "openai", body["provider"])
	assert.Equal(t, "Deal looks healthy.", body["content"])
	assert.Equal(t, float64(2), body["attempts"])

	// free tier allows 10 per minute per user
	for i := 0; i < 9; i++ {
		w = env.do(t, http.MethodPost, "/api/orgs/org-1/ai/deal-insights", `{"prompt":"again"}`, "user-1")
		require.Equal(t, http.StatusOK, w.Code)
	}
	w = env.do(t, http.MethodPost, "/api/orgs/org-1/ai/deal-insights", `{"prompt":"again"}`, "user-1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestCORS(t *testing.T) {
	handler := NewRouter(&Dependencies{CORSOrigins: []string{"https://app.example.com"}})

	preflight := func(origin string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodOptions, "/api/orgs/org-1/ai/email-draft", nil)
		r.Header.Set("Origin", origin)
		r.Header.Set("Access-Control-Request-Method", http.MethodPost)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w
	}

	assert.Equal(t, "https://app.example.com", preflight("https://app.example.com").Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, preflight("https://evil.example.com").Header().Get("Access-Control-Allow-Origin"))

	closed := NewRouter(&Dependencies{})
	r := httptest.NewRequest(http.MethodOptions, "/health", nil)
	r.Header.Set("Origin", "https://app.example.com")
	r.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()
	closed.ServeHTTP(w, r)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
