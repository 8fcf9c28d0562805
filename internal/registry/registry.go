// Package registry answers "which AI vendors has this organization
// connected, in what order" and manages those connections.
package registry

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"crm_backend/internal/models"
	"crm_backend/internal/storage"
)

var (
	// ErrDuplicateActiveProvider flags two active rows for one (organization, vendor).
	ErrDuplicateActiveProvider = eris.New("more than one active provider of the same type")

	// ErrUnsupportedProvider is returned when saving a vendor not on the allow-list.
	ErrUnsupportedProvider = eris.New("unsupported provider type")

	// ErrEmptyAPIKey is returned when saving a blank key.
	ErrEmptyAPIKey = eris.New("api key is required")
)

// Store is the persistence the registry needs.
type Store interface {
	ListActiveByOrganization(ctx context.Context, orgID string) ([]models.ProviderConfig, error)
	Upsert(ctx context.Context, p *models.ProviderConfig) error
	Deactivate(ctx context.Context, orgID string, providerType models.ProviderType) error
}

// Encrypter seals API keys before they are stored.
type Encrypter interface {
	Encrypt(plaintext string) (string, error)
}

// Options control a single lookup.
type Options struct {
	// UseCache allows a recent lookup to be served from memory. Flows that
	// must see a just-saved key pass false.
	UseCache bool
}

// Result is the outcome of a lookup. Failures are reported in FetchError,
// never by panicking, so callers can tell "none connected" from "couldn't
// look".
type Result struct {
	Providers    []models.ProviderConfig
	FetchError   error
	ErrorMessage string
}

// Config holds cache settings.
type Config struct {
	CacheSize int
	CacheTTL  time.Duration
}

// DefaultConfig returns default registry configuration
func DefaultConfig() Config {
	return Config{CacheSize: 1000, CacheTTL: time.Minute}
}

// Registry looks up and manages an organization's provider connections.
type Registry struct {
	store  Store
	vault  Encrypter
	cache  *storage.TTLCache[[]models.ProviderConfig]
	logger *zap.Logger
}

// New creates a registry.
func New(store Store, vault Encrypter, cfg Config, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		store:  store,
		vault:  vault,
		cache:  storage.NewTTLCache[[]models.ProviderConfig](cfg.CacheSize, cfg.CacheTTL),
		logger: logger.Named("registry"),
	}
}

// GetConnectedProviders returns the organization's active, supported
// providers in connection order.
func (r *Registry) GetConnectedProviders(ctx context.Context, orgID string, opts Options) Result {
	if opts.UseCache {
		if cached, ok := r.cache.Get(orgID); ok {
			return Result{Providers: clone(cached)}
		}
	}

	rows, err := r.store.ListActiveByOrganization(ctx, orgID)
	if err != nil {
		r.logger.Error("Failed to load providers",
			zap.String("organization_id", orgID),
			zap.Error(err),
		)
		return Result{
			FetchError:   err,
			ErrorMessage: "Could not load your AI provider settings. Please try again.",
		}
	}

	providers := make([]models.ProviderConfig, 0, len(rows))
	seen := make(map[models.ProviderType]bool, len(rows))
	for _, p := range rows {
		if !p.ProviderType.IsSupported() {
			r.logger.Warn("Ignoring unsupported provider type",
				zap.String("organization_id", orgID),
				zap.String("provider_type", string(p.ProviderType)),
			)
			continue
		}
		if seen[p.ProviderType] {
			r.logger.Error("Duplicate active provider",
				zap.String("organization_id", orgID),
				zap.String("provider_type", string(p.ProviderType)),
			)
			return Result{
				FetchError:   eris.Wrapf(ErrDuplicateActiveProvider, "organization %s, type %s", orgID, p.ProviderType),
				ErrorMessage: "Your AI provider settings are inconsistent. Please reconnect the affected provider.",
			}
		}
		seen[p.ProviderType] = true
		providers = append(providers, p)
	}

	r.cache.Set(orgID, clone(providers))
	return Result{Providers: providers}
}

// SaveProvider encrypts apiKey and connects (or reconnects) the vendor.
func (r *Registry) SaveProvider(ctx context.Context, orgID string, providerType models.ProviderType, displayName, model, apiKey string) (*models.ProviderConfig, error) {
	if !providerType.IsSupported() {
		return nil, eris.Wrapf(ErrUnsupportedProvider, "%q", providerType)
	}
	if apiKey == "" {
		return nil, ErrEmptyAPIKey
	}

	ciphertext, err := r.vault.Encrypt(apiKey)
	if err != nil {
		return nil, eris.Wrap(err, "failed to encrypt api key")
	}

	p := &models.ProviderConfig{
		OrganizationID:  orgID,
		ProviderType:    providerType,
		DisplayName:     displayName,
		Model:           model,
		APIKeyEncrypted: ciphertext,
	}
	if err := r.store.Upsert(ctx, p); err != nil {
		return nil, err
	}

	r.Invalidate(orgID)
	r.logger.Info("Provider connected",
		zap.String("organization_id", orgID),
		zap.String("provider_type", string(providerType)),
	)
	return p, nil
}

// RemoveProvider disconnects a vendor. The row is kept, inactive.
func (r *Registry) RemoveProvider(ctx context.Context, orgID string, providerType models.ProviderType) error {
	if err := r.store.Deactivate(ctx, orgID, providerType); err != nil {
		return err
	}

	r.Invalidate(orgID)
	r.logger.Info("Provider disconnected",
		zap.String("organization_id", orgID),
		zap.String("provider_type", string(providerType)),
	)
	return nil
}

// Invalidate drops any cached lookup for the organization. Writes through the
// registry call it themselves.
func (r *Registry) Invalidate(orgID string) {
	r.cache.Delete(orgID)
}

func clone(in []models.ProviderConfig) []models.ProviderConfig {
	out := make([]models.ProviderConfig, len(in))
	copy(out, in)
	return out
}
