package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"crm_backend/internal/logging"
	"crm_backend/internal/models"
	"crm_backend/internal/registry"
	"crm_backend/internal/storage"
	"crm_backend/internal/utils"
)

// SaveProviderRequest is the body of PUT /api/orgs/{orgID}/ai/providers/{type}.
type SaveProviderRequest struct {
	APIKey      string `json:"api_key"`
	DisplayName string `json:"display_name"`
	Model       string `json:"model"`
}

// ProviderResponse represents a provider connection (without credentials)
type ProviderResponse struct {
	ID           string `json:"id"`
	ProviderType string `json:"provider_type"`
	DisplayName  string `json:"display_name"`
	Model        string `json:"model,omitempty"`
	Active       bool   `json:"active"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

func toProviderResponse(p models.ProviderConfig) ProviderResponse {
	return ProviderResponse{
		ID:           p.ID.String(),
		ProviderType: string(p.ProviderType),
		DisplayName:  p.Label(),
		Model:        p.Model,
		Active:       p.Active,
		CreatedAt:    p.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    p.UpdatedAt.Format(time.RFC3339),
	}
}

// handleListProviders handles GET /api/orgs/{orgID}/ai/providers
func (d *Dependencies) handleListProviders(w http.ResponseWriter, r *http.Request) {
	orgID := mux.Vars(r)["orgID"]

	res := d.Providers.GetConnectedProviders(r.Context(), orgID, registry.Options{UseCache: false})
	if res.FetchError != nil {
		logging.FromContext(r.Context()).Error("Failed to list providers",
			zap.String("organization_id", orgID),
			zap.Error(res.FetchError),
		)
		utils.RespondWithErrorCode(w, http.StatusInternalServerError, "provider_lookup_failed", res.ErrorMessage)
		return
	}

	out := make([]ProviderResponse, 0, len(res.Providers))
	for _, p := range res.Providers {
		out = append(out, toProviderResponse(p))
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"providers": out})
}

// handleSaveProvider handles PUT /api/orgs/{orgID}/ai/providers/{type}
func (d *Dependencies) handleSaveProvider(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	orgID := vars["orgID"]

	providerType, ok := models.ParseProviderType(vars["type"])
	if !ok {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid provider type")
		return
	}

	var req SaveProviderRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	p, err := d.Providers.SaveProvider(r.Context(), orgID, providerType,
		strings.TrimSpace(req.DisplayName), strings.TrimSpace(req.Model), strings.TrimSpace(req.APIKey))
	switch {
	case errors.Is(err, registry.ErrEmptyAPIKey):
		utils.RespondWithError(w, http.StatusBadRequest, "API key is required")
		return
	case errors.Is(err, registry.ErrUnsupportedProvider):
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid provider type")
		return
	case err != nil:
		logging.FromContext(r.Context()).Error("Failed to save provider",
			zap.String("organization_id", orgID),
			zap.String("provider_type", string(providerType)),
			zap.Error(err),
		)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to save provider")
		return
	}

	respondJSON(w, http.StatusOK, toProviderResponse(*p))
}

// handleRemoveProvider handles DELETE /api/orgs/{orgID}/ai/providers/{type}
func (d *Dependencies) handleRemoveProvider(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	orgID := vars["orgID"]

	providerType, ok := models.ParseProviderType(vars["type"])
	if !ok {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid provider type")
		return
	}

	err := d.Providers.RemoveProvider(r.Context(), orgID, providerType)
	if errors.Is(err, storage.ErrProviderNotFound) {
		utils.RespondWithError(w, http.StatusNotFound, "Provider not connected")
		return
	}
	if err != nil {
		logging.FromContext(r.Context()).Error("Failed to remove provider",
			zap.String("organization_id", orgID),
			zap.String("provider_type", string(providerType)),
			zap.Error(err),
		)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to remove provider")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
