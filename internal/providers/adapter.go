// Package providers calls the AI vendors an organization can connect. Every
// vendor is an Adapter with the same call shape and the same error taxonomy,
// registered in a Set keyed by vendor type.
package providers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"crm_backend/internal/models"
)

// DefaultTimeout bounds every vendor call unless Options.Timeout overrides it.
const DefaultTimeout = 30 * time.Second

const defaultMaxTokens = 1024

// Adapter turns one prompt into one completion using a caller-supplied key.
// An empty model selects the adapter's default.
type Adapter interface {
	Type() models.ProviderType
	Call(ctx context.Context, apiKey, prompt, model string) (string, error)
}

// Options configure the adapters built by NewSet.
type Options struct {
	Timeout    time.Duration
	MaxTokens  int
	HTTPClient *http.Client

	// BaseURLs overrides vendor endpoints, mostly for tests and proxies.
	BaseURLs map[models.ProviderType]string

	// Models overrides vendor default models.
	Models map[models.ProviderType]string
}

// AdapterConfig is the per-adapter view of Options.
type AdapterConfig struct {
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration
	MaxTokens    int
	HTTPClient   *http.Client
}

func (c AdapterConfig) withDefaults(baseURL, model string) AdapterConfig {
	if c.BaseURL == "" {
		c.BaseURL = baseURL
	}
	if c.DefaultModel == "" {
		c.DefaultModel = model
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaultMaxTokens
	}
	if c.HTTPClient == nil {
		c.HTTPClient = newHTTPClient()
	}
	return c
}

func (c AdapterConfig) model(requested string) string {
	if requested != "" {
		return requested
	}
	return c.DefaultModel
}

// newHTTPClient has no client-level timeout; each call carries a context
// deadline instead.
func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// Set is the dispatch table from vendor type to adapter.
type Set struct {
	adapters map[models.ProviderType]Adapter
}

// NewSet registers an adapter for every supported vendor.
func NewSet(opts Options) *Set {
	if opts.HTTPClient == nil {
		opts.HTTPClient = newHTTPClient()
	}

	cfg := func(t models.ProviderType) AdapterConfig {
		return AdapterConfig{
			BaseURL:      opts.BaseURLs[t],
			DefaultModel: opts.Models[t],
			Timeout:      opts.Timeout,
			MaxTokens:    opts.MaxTokens,
			HTTPClient:   opts.HTTPClient,
		}
	}

	s := NewEmptySet()
	s.Register(NewOpenAIAdapter(cfg(models.ProviderTypeOpenAI)))
	s.Register(NewXAIAdapter(cfg(models.ProviderTypeXAI)))
	s.Register(NewAnthropicAdapter(cfg(models.ProviderTypeAnthropic)))
	s.Register(NewGoogleAdapter(cfg(models.ProviderTypeGoogle)))
	return s
}

// NewEmptySet returns a Set with no adapters.
func NewEmptySet() *Set {
	return &Set{adapters: make(map[models.ProviderType]Adapter)}
}

// Register adds or replaces the adapter for a.Type(). Not safe to call
// concurrently with Get.
func (s *Set) Register(a Adapter) {
	s.adapters[a.Type()] = a
}

// Get returns the adapter for t.
func (s *Set) Get(t models.ProviderType) (Adapter, bool) {
	a, ok := s.adapters[t]
	return a, ok
}

// Types lists the registered vendor types, sorted.
func (s *Set) Types() []models.ProviderType {
	types := make([]models.ProviderType, 0, len(s.adapters))
	for t := range s.adapters {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
