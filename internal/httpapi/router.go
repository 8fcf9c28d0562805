package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"crm_backend/internal/fallback"
	"crm_backend/internal/metrics"
	"crm_backend/internal/middleware"
	"crm_backend/internal/models"
	"crm_backend/internal/ratelimit"
	"crm_backend/internal/registry"
)

// Organizations answers membership and plan questions.
type Organizations interface {
	IsMember(ctx context.Context, orgID, userID string) (bool, error)
	PlanFor(ctx context.Context, orgID string) (string, error)
}

// Generator runs a text feature through the organization's providers.
type Generator interface {
	Generate(ctx context.Context, req fallback.GenerateRequest) (*fallback.Result[string], error)
}

// ProviderManager lists and edits provider connections.
type ProviderManager interface {
	GetConnectedProviders(ctx context.Context, orgID string, opts registry.Options) registry.Result
	SaveProvider(ctx context.Context, orgID string, providerType models.ProviderType, displayName, model, apiKey string) (*models.ProviderConfig, error)
	RemoveProvider(ctx context.Context, orgID string, providerType models.ProviderType) error
}

// HealthCheck reports whether one backing service is reachable.
type HealthCheck func(ctx context.Context) error

// Dependencies aggregates all services the HTTP layer needs.
type Dependencies struct {
	Organizations Organizations
	AI            Generator
	Providers     ProviderManager
	Guard         ratelimit.Guard
	Metrics       metrics.Recorder

	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler
	HealthChecks   map[string]HealthCheck

	SessionSecret []byte
	CORSOrigins   []string
	Logger        *zap.Logger
}

func (d *Dependencies) withDefaults() *Dependencies {
	out := *d
	if out.Guard == nil {
		out.Guard = ratelimit.NoopGuard{}
	}
	if out.Metrics == nil {
		out.Metrics = metrics.Noop{}
	}
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}
	return &out
}

// NewRouter builds the HTTP handler with all routes and middleware.
func NewRouter(deps *Dependencies) http.Handler {
	d := deps.withDefaults()

	r := mux.NewRouter()
	r.Use(middleware.RequestID(d.Logger), middleware.Metrics(d.Metrics), middleware.AccessLog)

	// Public endpoints
	r.HandleFunc("/health", d.handleHealth).Methods(http.MethodGet)
	if d.MetricsHandler != nil {
		r.Handle("/metrics", d.MetricsHandler).Methods(http.MethodGet)
	}

	// Session-protected, organization-scoped endpoints
	org := r.PathPrefix("/api/orgs/{orgID}").Subrouter()
	org.Use(middleware.Session(d.SessionSecret), d.requireMember)

	org.HandleFunc("/ai/providers", d.handleListProviders).Methods(http.MethodGet)
	org.HandleFunc("/ai/providers/{type}", d.handleSaveProvider).Methods(http.MethodPut)
	org.HandleFunc("/ai/providers/{type}", d.handleRemoveProvider).Methods(http.MethodDelete)
	org.HandleFunc("/ai/{feature}", d.handleFeature).Methods(http.MethodPost)

	opts := cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader, "Retry-After"},
		AllowCredentials: true,
	}
	if len(d.CORSOrigins) == 0 {
		// rs/cors treats an empty list as "*"; no origins means same-origin only.
		opts.AllowOriginFunc = func(string) bool { return false }
	}
	return cors.New(opts).Handler(r)
}

func (d *Dependencies) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(d.HealthChecks))
	for name, check := range d.HealthChecks {
		if err := check(ctx); err != nil {
			d.Logger.Warn("Health check failed", zap.String("check", name), zap.Error(err))
			checks[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	body := map[string]interface{}{"status": "ok", "checks": checks}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	respondJSON(w, status, body)
}
