package storage

import (
	"context"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"crm_backend/internal/models"
)

const providerColumns = `
	id, organization_id, provider_type, COALESCE(display_name, '') AS display_name,
	COALESCE(model, '') AS model, api_key_encrypted, active, created_at, updated_at`

// ProviderRepository handles ai_providers rows.
type ProviderRepository struct {
	db *DB
}

// NewProviderRepository creates a new provider repository
func NewProviderRepository(db *DB) *ProviderRepository {
	return &ProviderRepository{db: db}
}

// ListActiveByOrganization returns an organization's active providers in
// connection order.
func (r *ProviderRepository) ListActiveByOrganization(ctx context.Context, orgID string) ([]models.ProviderConfig, error) {
	query := `SELECT` + providerColumns + `
		FROM ai_providers
		WHERE organization_id = $1 AND active = TRUE
		ORDER BY created_at ASC, id ASC`

	providers := []models.ProviderConfig{}
	if err := r.db.conn.SelectContext(ctx, &providers, query, orgID); err != nil {
		return nil, eris.Wrap(err, "failed to list providers")
	}
	return providers, nil
}

// Upsert stores the organization's key for a vendor, reactivating a removed
// connection. The original created_at, and with it the connection order, is
// kept on update.
func (r *ProviderRepository) Upsert(ctx context.Context, p *models.ProviderConfig) error {
	query := `
		INSERT INTO ai_providers (id, organization_id, provider_type, display_name,
		                          model, api_key_encrypted, active)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE)
		ON CONFLICT (organization_id, provider_type) DO UPDATE
		SET display_name = EXCLUDED.display_name,
		    model = EXCLUDED.model,
		    api_key_encrypted = EXCLUDED.api_key_encrypted,
		    active = TRUE,
		    updated_at = NOW()
		RETURNING id, active, created_at, updated_at`

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	err := r.db.conn.QueryRowxContext(
		ctx, query,
		p.ID, p.OrganizationID, p.ProviderType, p.DisplayName, p.Model, p.APIKeyEncrypted,
	).Scan(&p.ID, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return eris.Wrap(err, "failed to upsert provider")
	}
	return nil
}

// Deactivate soft-deletes an organization's connection to a vendor.
func (r *ProviderRepository) Deactivate(ctx context.Context, orgID string, providerType models.ProviderType) error {
	query := `
		UPDATE ai_providers
		SET active = FALSE, updated_at = NOW()
		WHERE organization_id = $1 AND provider_type = $2 AND active = TRUE`

	result, err := r.db.conn.ExecContext(ctx, query, orgID, providerType)
	if err != nil {
		return eris.Wrap(err, "failed to deactivate provider")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return ErrProviderNotFound
	}
	return nil
}

// ListAll returns every row, active or not. Used by key migrations.
func (r *ProviderRepository) ListAll(ctx context.Context) ([]models.ProviderConfig, error) {
	query := `SELECT` + providerColumns + `
		FROM ai_providers
		ORDER BY created_at ASC, id ASC`

	providers := []models.ProviderConfig{}
	if err := r.db.conn.SelectContext(ctx, &providers, query); err != nil {
		return nil, eris.Wrap(err, "failed to list providers")
	}
	return providers, nil
}

// UpdateCiphertext swaps a row's encrypted key, but only while the row still
// holds oldCiphertext. A key saved in the meantime is left alone and
// ErrCiphertextChanged is returned.
func (r *ProviderRepository) UpdateCiphertext(ctx context.Context, id uuid.UUID, oldCiphertext, newCiphertext string) error {
	query := `
		UPDATE ai_providers
		SET api_key_encrypted = $2, updated_at = NOW()
		WHERE id = $1 AND api_key_encrypted = $3`

	result, err := r.db.conn.ExecContext(ctx, query, id, newCiphertext, oldCiphertext)
	if err != nil {
		return eris.Wrap(err, "failed to update provider key")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return ErrCiphertextChanged
	}
	return nil
}
