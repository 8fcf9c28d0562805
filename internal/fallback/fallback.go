// Package fallback runs an AI feature against an organization's connected
// providers one at a time, in connection order, until one succeeds.
package fallback

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"crm_backend/internal/metrics"
	"crm_backend/internal/models"
	"crm_backend/internal/providers"
	"crm_backend/internal/vault"
)

// Outcome of a single attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
)

// Error kinds that do not come from an adapter.
const (
	KindDecryption providers.ErrorKind = "decryption"
	KindCanceled   providers.ErrorKind = "canceled"
	KindUnknown    providers.ErrorKind = "unknown"
)

// Attempt is one provider invocation within a run. It is diagnostic only
// and never persisted.
type Attempt struct {
	Provider   models.ProviderType
	Outcome    Outcome
	ErrorKind  providers.ErrorKind
	StatusCode int
	Message    string
	Latency    time.Duration
}

// Result of a run. Errors holds the failed attempts in invocation order;
// Attempts additionally holds the winning one.
type Result[R any] struct {
	Success      bool
	Value        R
	ProviderUsed models.ProviderType
	Errors       []Attempt
	Attempts     []Attempt
}

// Invoker performs the feature against one provider.
type Invoker[R any] func(ctx context.Context, p models.ProviderConfig) (R, error)

// Runner carries the logging and metrics a run reports to.
type Runner struct {
	logger  *zap.Logger
	metrics metrics.Recorder
	now     func() time.Time
}

// NewRunner creates a runner. Nil arguments select no-op implementations.
func NewRunner(logger *zap.Logger, rec metrics.Recorder) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rec == nil {
		rec = metrics.Noop{}
	}
	return &Runner{logger: logger.Named("fallback"), metrics: rec, now: time.Now}
}

// RunWithFallback invokes providers strictly in order and returns on the
// first success. Each provider is tried at most once. An invoker error
// wrapping providers.ErrUnsupportedProvider skips that provider without
// recording an attempt.
//
// Errors: *NoProvidersConnectedError when the list is empty (or only holds
// unsupported providers), *AllProvidersFailedError when every attempt
// failed, or the context error when ctx ends between attempts. The returned
// Result is never nil.
func RunWithFallback[R any](ctx context.Context, r *Runner, feature string, list []models.ProviderConfig, invoke Invoker[R]) (*Result[R], error) {
	res := &Result[R]{}
	if len(list) == 0 {
		r.metrics.ObserveRun(feature, "no_providers")
		return res, &NoProvidersConnectedError{Feature: feature}
	}

	tried := make([]string, 0, len(list))
	for _, p := range list {
		if err := ctx.Err(); err != nil {
			r.metrics.ObserveRun(feature, "canceled")
			return res, eris.Wrap(err, "fallback run interrupted")
		}

		start := r.now()
		value, err := invoke(ctx, p)
		latency := r.now().Sub(start)

		if errors.Is(err, providers.ErrUnsupportedProvider) {
			r.logger.Warn("Skipping provider without adapter",
				zap.String("feature", feature),
				zap.String("provider", string(p.ProviderType)),
			)
			continue
		}

		tried = append(tried, p.ProviderType.DisplayName())

		if err == nil {
			attempt := Attempt{Provider: p.ProviderType, Outcome: OutcomeSuccess, Latency: latency}
			res.Attempts = append(res.Attempts, attempt)
			res.Success = true
			res.Value = value
			res.ProviderUsed = p.ProviderType

			r.metrics.ObserveAttempt(feature, string(p.ProviderType), string(OutcomeSuccess), "", latency)
			r.metrics.ObserveRun(feature, "success")
			r.logger.Info("Provider attempt succeeded",
				zap.String("feature", feature),
				zap.String("provider", string(p.ProviderType)),
				zap.Int("failed_before", len(res.Errors)),
				zap.Duration("latency", latency),
			)
			return res, nil
		}

		attempt := classify(p.ProviderType, err, latency)
		res.Attempts = append(res.Attempts, attempt)
		res.Errors = append(res.Errors, attempt)

		r.metrics.ObserveAttempt(feature, string(p.ProviderType), string(OutcomeError), string(attempt.ErrorKind), latency)
		r.logger.Warn("Provider attempt failed",
			zap.String("feature", feature),
			zap.String("provider", string(p.ProviderType)),
			zap.String("error_kind", string(attempt.ErrorKind)),
			zap.Int("status_code", attempt.StatusCode),
			zap.String("error", attempt.Message),
			zap.Duration("latency", latency),
		)
	}

	if len(tried) == 0 {
		r.metrics.ObserveRun(feature, "no_providers")
		return res, &NoProvidersConnectedError{Feature: feature}
	}

	r.metrics.ObserveRun(feature, "all_failed")
	return res, &AllProvidersFailedError{
		Feature:   feature,
		Attempts:  res.Errors,
		Providers: tried,
	}
}

func classify(pt models.ProviderType, err error, latency time.Duration) Attempt {
	a := Attempt{
		Provider: pt,
		Outcome:  OutcomeError,
		Latency:  latency,
		Message:  err.Error(),
	}

	var adapterErr *providers.AdapterError
	var decErr *vault.DecryptionError
	switch {
	case errors.As(err, &adapterErr):
		a.ErrorKind = adapterErr.Kind
		a.StatusCode = adapterErr.StatusCode
	case errors.As(err, &decErr):
		a.ErrorKind = KindDecryption
		a.Message = "stored API key could not be decrypted"
	case errors.Is(err, context.DeadlineExceeded):
		a.ErrorKind = providers.KindTimeout
	case errors.Is(err, context.Canceled):
		a.ErrorKind = KindCanceled
	default:
		a.ErrorKind = KindUnknown
	}
	return a
}
