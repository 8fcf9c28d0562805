package httpapi

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"crm_backend/internal/logging"
	"crm_backend/internal/middleware"
	"crm_backend/internal/utils"
)

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	if err := utils.RespondWithJSON(w, status, payload); err != nil {
		zap.L().Warn("Failed to write response", zap.Error(err))
	}
}

// requireMember rejects callers that do not belong to the organization in
// the path.
func (d *Dependencies) requireMember(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.GetUserID(r.Context())
		if !ok {
			utils.RespondWithError(w, http.StatusUnauthorized, "Missing session")
			return
		}
		orgID := mux.Vars(r)["orgID"]

		member, err := d.Organizations.IsMember(r.Context(), orgID, userID)
		if err != nil {
			logging.FromContext(r.Context()).Error("Membership check failed",
				zap.String("organization_id", orgID),
				zap.Error(err),
			)
			utils.RespondWithError(w, http.StatusInternalServerError, "Could not verify organization access")
			return
		}
		if !member {
			utils.RespondWithError(w, http.StatusForbidden, "You are not a member of this organization")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userID(ctx context.Context) string {
	id, _ := middleware.GetUserID(ctx)
	return id
}
