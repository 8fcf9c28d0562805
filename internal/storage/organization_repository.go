package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rotisserie/eris"
)

// OrganizationRepository answers membership and plan questions.
type OrganizationRepository struct {
	db *DB
}

// NewOrganizationRepository creates a new organization repository
func NewOrganizationRepository(db *DB) *OrganizationRepository {
	return &OrganizationRepository{db: db}
}

// IsMember reports whether userID belongs to orgID.
func (r *OrganizationRepository) IsMember(ctx context.Context, orgID, userID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM organization_members
			WHERE organization_id = $1 AND user_id = $2
		)`

	var ok bool
	if err := r.db.conn.GetContext(ctx, &ok, query, orgID, userID); err != nil {
		return false, eris.Wrap(err, "failed to check membership")
	}
	return ok, nil
}

// PlanFor returns the raw plan identifier of an organization.
func (r *OrganizationRepository) PlanFor(ctx context.Context, orgID string) (string, error) {
	query := `SELECT COALESCE(plan, '') FROM organizations WHERE id = $1`

	var plan string
	err := r.db.conn.GetContext(ctx, &plan, query, orgID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrOrganizationNotFound
	}
	if err != nil {
		return "", eris.Wrap(err, "failed to get organization plan")
	}
	return plan, nil
}
