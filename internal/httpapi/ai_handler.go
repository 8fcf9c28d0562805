package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"crm_backend/internal/fallback"
	"crm_backend/internal/logging"
	"crm_backend/internal/plans"
	"crm_backend/internal/storage"
	"crm_backend/internal/utils"
)

// MaxPromptChars caps the user part of a prompt.
const MaxPromptChars = 20000

// Instructions prepended to the user's prompt per feature.
var featureInstructions = map[string]string{
	"deal-insights": "You are a sales assistant inside a CRM. Analyze the deal below and list the main risks, " +
		"the likelihood to close and what would move it forward. Be concise.",
	"email-draft": "You are a sales assistant inside a CRM. Write a short, friendly follow-up email " +
		"based on the context below. Return only the email body.",
	"pipeline-summary": "You are a sales assistant inside a CRM. Summarize the pipeline below for a sales manager: " +
		"totals by stage, deals at risk and notable changes.",
	"next-best-action": "You are a sales assistant inside a CRM. Given the contact and deal history below, " +
		"recommend the single next action the rep should take and why.",
}

// FeatureRequest is the body of POST /api/orgs/{orgID}/ai/{feature}.
type FeatureRequest struct {
	Prompt string `json:"prompt"`
}

// FeatureResponse is returned on success.
type FeatureResponse struct {
	Success      bool   `json:"success"`
	Feature      string `json:"feature"`
	Provider     string `json:"provider"`
	ProviderName string `json:"provider_name"`
	Content      string `json:"content"`
	Attempts     int    `json:"attempts"`
}

// NoProvidersResponse tells the client to show the "connect a provider" prompt.
type NoProvidersResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AttemptResponse is one failed provider attempt, without secrets.
type AttemptResponse struct {
	Provider   string `json:"provider"`
	ErrorKind  string `json:"error_kind"`
	StatusCode int    `json:"status_code,omitempty"`
	LatencyMS  int64  `json:"latency_ms"`
}

// UnavailableResponse is returned when every provider failed.
type UnavailableResponse struct {
	Success  bool              `json:"success"`
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Attempts []AttemptResponse `json:"attempts"`
}

// RateLimitedResponse is returned with 429.
type RateLimitedResponse struct {
	Error             string `json:"error"`
	Code              string `json:"code"`
	Bucket            string `json:"bucket"`
	Limit             int    `json:"limit"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
}

func (d *Dependencies) handleFeature(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)
	vars := mux.Vars(r)
	orgID, feature := vars["orgID"], vars["feature"]

	instructions, ok := featureInstructions[feature]
	if !ok {
		utils.RespondWithError(w, http.StatusNotFound, "Unknown AI feature")
		return
	}

	var req FeatureRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "Prompt is required")
		return
	}
	if len([]rune(req.Prompt)) > MaxPromptChars {
		utils.RespondWithError(w, http.StatusRequestEntityTooLarge, "Prompt is too long")
		return
	}

	plan, err := d.Organizations.PlanFor(ctx, orgID)
	if errors.Is(err, storage.ErrOrganizationNotFound) {
		utils.RespondWithError(w, http.StatusNotFound, "Organization not found")
		return
	}
	if err != nil {
		logger.Error("Plan lookup failed", zap.String("organization_id", orgID), zap.Error(err))
		utils.RespondWithError(w, http.StatusInternalServerError, "Could not load organization plan")
		return
	}

	user := userID(ctx)
	decision, err := d.Guard.CheckRateLimits(ctx, user, orgID, plans.BucketsFor(plans.ParseTier(plan)))
	if err != nil {
		// Fail open when the limiter store is unreachable.
		logger.Warn("Rate limit check failed, allowing request", zap.Error(err))
	} else if !decision.Allowed && decision.Exceeded != nil {
		ex := decision.Exceeded
		d.Metrics.ObserveRateLimited(ex.Name)
		w.Header().Set("Retry-After", strconv.Itoa(ex.RetryAfterSeconds))
		respondJSON(w, http.StatusTooManyRequests, RateLimitedResponse{
			Error:             "Too many AI requests. Please wait before trying again.",
			Code:              "rate_limited",
			Bucket:            ex.Name,
			Limit:             ex.Limit,
			RetryAfterSeconds: ex.RetryAfterSeconds,
		})
		return
	}

	res, err := d.AI.Generate(ctx, fallback.GenerateRequest{
		Feature:        feature,
		OrganizationID: orgID,
		UserID:         user,
		Prompt:         instructions + "\n\n" + req.Prompt,
	})
	if err != nil {
		d.respondGenerateError(w, r, feature, err)
		return
	}

	respondJSON(w, http.StatusOK, FeatureResponse{
		Success:      true,
		Feature:      feature,
		Provider:     string(res.ProviderUsed),
		ProviderName: res.ProviderUsed.DisplayName(),
		Content:      res.Value,
		Attempts:     len(res.Attempts),
	})
}

func (d *Dependencies) respondGenerateError(w http.ResponseWriter, r *http.Request, feature string, err error) {
	logger := logging.FromContext(r.Context())

	var noneErr *fallback.NoProvidersConnectedError
	var allErr *fallback.AllProvidersFailedError
	var lookupErr *fallback.ProviderLookupError

	switch {
	case errors.As(err, &noneErr):
		respondJSON(w, http.StatusOK, NoProvidersResponse{
			Success: false,
			Code:    "no_providers",
			Message: noneErr.UserMessage(),
		})

	case errors.As(err, &allErr):
		attempts := make([]AttemptResponse, 0, len(allErr.Attempts))
		for _, a := range allErr.Attempts {
			attempts = append(attempts, AttemptResponse{
				Provider:   string(a.Provider),
				ErrorKind:  string(a.ErrorKind),
				StatusCode: a.StatusCode,
				LatencyMS:  a.Latency.Milliseconds(),
			})
		}
		logger.Warn("All AI providers failed", zap.String("feature", feature), zap.Int("attempts", len(attempts)))
		respondJSON(w, http.StatusServiceUnavailable, UnavailableResponse{
			Success:  false,
			Code:     "ai_unavailable",
			Message:  allErr.UserMessage(),
			Attempts: attempts,
		})

	case errors.As(err, &lookupErr):
		logger.Error("Provider lookup failed", zap.String("feature", feature), zap.Error(err))
		utils.RespondWithErrorCode(w, http.StatusInternalServerError, "provider_lookup_failed", lookupErr.UserMessage())

	case r.Context().Err() != nil:
		logger.Info("Client went away during AI request", zap.String("feature", feature))

	default:
		logger.Error("AI request failed", zap.String("feature", feature), zap.Error(err))
		utils.RespondWithError(w, http.StatusInternalServerError, "AI request failed")
	}
}
