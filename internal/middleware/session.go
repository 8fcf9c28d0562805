package middleware

import (
	"context"
	"net/http"
	"strings"

	"crm_backend/internal/auth"
	"crm_backend/internal/logging"
	"crm_backend/internal/utils"
)

// ContextKey defines the type for context keys to avoid conflicts
type ContextKey string

const (
	SessionClaimsKey ContextKey = "sessionClaims"
	UserIDKey        ContextKey = "userID"
)

// SessionCookieName is the cookie the frontend stores the session token in.
const SessionCookieName = "session"

// Session requires a valid session token from the session cookie or an
// "Authorization: Bearer" header and puts the user into the request context.
func Session(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := bearerToken(r)
			if tokenString == "" {
				if c, err := r.Cookie(SessionCookieName); err == nil {
					tokenString = c.Value
				}
			}
			if tokenString == "" {
				utils.RespondWithError(w, http.StatusUnauthorized, "Missing session token")
				return
			}

			claims, err := auth.ParseSessionToken(tokenString, secret)
			if err != nil {
				logging.FromContext(r.Context()).Debug("Rejected session token")
				utils.RespondWithError(w, http.StatusUnauthorized, "Invalid or expired session")
				return
			}

			ctx := context.WithValue(r.Context(), SessionClaimsKey, claims)
			ctx = context.WithValue(ctx, UserIDKey, claims.UserID())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}

// GetSessionClaims retrieves the session claims from the request context
func GetSessionClaims(ctx context.Context) (*auth.SessionClaims, bool) {
	claims, ok := ctx.Value(SessionClaimsKey).(*auth.SessionClaims)
	return claims, ok
}

// GetUserID retrieves the signed-in user id from the request context
func GetUserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(UserIDKey).(string)
	return id, ok && id != ""
}
