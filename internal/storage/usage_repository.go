package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"crm_backend/internal/models"
)

const insertUsageEvent = `
	INSERT INTO ai_usage_events (id, organization_id, user_id, feature, provider_type,
	                             model, attempt_count, latency_ms, prompt_chars,
	                             response_chars, created_at)
	VALUES (:id, :organization_id, :user_id, :feature, :provider_type,
	        :model, :attempt_count, :latency_ms, :prompt_chars,
	        :response_chars, :created_at)`

// UsageRepository writes ai_usage_events rows.
type UsageRepository struct {
	db *DB
}

// NewUsageRepository creates a new usage repository
func NewUsageRepository(db *DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// InsertBatch writes events in a single transaction.
func (r *UsageRepository) InsertBatch(ctx context.Context, events []models.UsageEvent) error {
	if len(events) == 0 {
		return nil
	}

	for i := range events {
		if events[i].ID == uuid.Nil {
			events[i].ID = uuid.New()
		}
		if events[i].CreatedAt.IsZero() {
			events[i].CreatedAt = time.Now().UTC()
		}
	}

	tx, err := r.db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.NamedExecContext(ctx, insertUsageEvent, events); err != nil {
		return eris.Wrap(err, "failed to insert usage events")
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "failed to commit transaction")
	}
	return nil
}
