package fallback

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"crm_backend/internal/metrics"
	"crm_backend/internal/models"
	"crm_backend/internal/providers"
	"crm_backend/internal/registry"
)

// ProviderSource lists an organization's connected providers.
type ProviderSource interface {
	GetConnectedProviders(ctx context.Context, orgID string, opts registry.Options) registry.Result
}

// Decrypter opens stored API keys.
type Decrypter interface {
	Decrypt(ciphertext string) (string, error)
}

// UsageTracker records successful runs without blocking the caller.
type UsageTracker interface {
	Track(ctx context.Context, event models.UsageEvent)
}

// Dependencies wires an Orchestrator.
type Dependencies struct {
	Providers ProviderSource
	Vault     Decrypter
	Adapters  *providers.Set
	Usage     UsageTracker
	Metrics   metrics.Recorder
	Logger    *zap.Logger
}

// Orchestrator runs features against an organization's providers.
type Orchestrator struct {
	runner    *Runner
	providers ProviderSource
	vault     Decrypter
	adapters  *providers.Set
	usage     UsageTracker
	logger    *zap.Logger
}

// New creates an orchestrator.
func New(deps Dependencies) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		runner:    NewRunner(logger, deps.Metrics),
		providers: deps.Providers,
		vault:     deps.Vault,
		adapters:  deps.Adapters,
		usage:     deps.Usage,
		logger:    logger.Named("orchestrator"),
	}
}

type runOptions struct {
	useCache bool
	supports func(models.ProviderConfig) bool
}

// RunOption tweaks a RunWithConnectedProviders call.
type RunOption func(*runOptions)

// WithoutCache forces a fresh provider lookup.
func WithoutCache() RunOption {
	return func(o *runOptions) { o.useCache = false }
}

// WithSupport skips providers the caller cannot serve before their key is
// decrypted. Skipped providers are logged, not recorded as attempts.
func WithSupport(supports func(models.ProviderConfig) bool) RunOption {
	return func(o *runOptions) { o.supports = supports }
}

// KeyedInvoker performs the feature against one provider with its decrypted key.
type KeyedInvoker[R any] func(ctx context.Context, p models.ProviderConfig, apiKey string) (R, error)

// RunWithConnectedProviders looks up the organization's providers, decrypts
// each key just before its attempt and runs the fallback loop. A key that
// cannot be decrypted fails only that provider's attempt. A failed lookup
// returns *ProviderLookupError without attempting anything.
func RunWithConnectedProviders[R any](ctx context.Context, o *Orchestrator, feature, orgID string, invoke KeyedInvoker[R], opts ...RunOption) (*Result[R], error) {
	ro := runOptions{useCache: true}
	for _, opt := range opts {
		opt(&ro)
	}

	lookup := o.providers.GetConnectedProviders(ctx, orgID, registry.Options{UseCache: ro.useCache})
	if lookup.FetchError != nil {
		o.runner.metrics.ObserveRun(feature, "lookup_failed")
		return &Result[R]{}, &ProviderLookupError{Message: lookup.ErrorMessage, Err: lookup.FetchError}
	}

	return RunWithFallback(ctx, o.runner, feature, lookup.Providers, func(ctx context.Context, p models.ProviderConfig) (R, error) {
		var zero R
		if ro.supports != nil && !ro.supports(p) {
			return zero, eris.Wrapf(providers.ErrUnsupportedProvider, "%s", p.ProviderType)
		}
		apiKey, err := o.vault.Decrypt(p.APIKeyEncrypted)
		if err != nil {
			return zero, err
		}
		return invoke(ctx, p, apiKey)
	})
}

func (o *Orchestrator) hasAdapter(p models.ProviderConfig) bool {
	_, ok := o.adapters.Get(p.ProviderType)
	return ok
}

// GenerateRequest is one text-generation call for a CRM feature.
type GenerateRequest struct {
	Feature        string
	OrganizationID string
	UserID         string
	Prompt         string
}

// Generate sends the prompt through the organization's providers using the
// registered adapters. A successful run is tracked in the background.
func (o *Orchestrator) Generate(ctx context.Context, req GenerateRequest) (*Result[string], error) {
	start := time.Now()
	var model string

	res, err := RunWithConnectedProviders(ctx, o, req.Feature, req.OrganizationID,
		func(ctx context.Context, p models.ProviderConfig, apiKey string) (string, error) {
			adapter, ok := o.adapters.Get(p.ProviderType)
			if !ok {
				return "", eris.Wrapf(providers.ErrUnsupportedProvider, "%s", p.ProviderType)
			}
			model = p.Model
			return adapter.Call(ctx, apiKey, req.Prompt, p.Model)
		}, WithSupport(o.hasAdapter))
	if err != nil {
		return res, err
	}

	if o.usage != nil {
		o.usage.Track(ctx, models.UsageEvent{
			OrganizationID: req.OrganizationID,
			UserID:         req.UserID,
			Feature:        req.Feature,
			ProviderType:   res.ProviderUsed,
			Model:          model,
			AttemptCount:   len(res.Attempts),
			LatencyMS:      time.Since(start).Milliseconds(),
			PromptChars:    len(req.Prompt),
			ResponseChars:  len(res.Value),
		})
	}
	return res, nil
}
