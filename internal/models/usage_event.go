package models

import (
	"time"

	"github.com/google/uuid"
)

// UsageEvent records one AI feature invocation that produced a result.
type UsageEvent struct {
	ID             uuid.UUID    `db:"id" json:"id"`
	OrganizationID string       `db:"organization_id" json:"organization_id"`
	UserID         string       `db:"user_id" json:"user_id"`
	Feature        string       `db:"feature" json:"feature"`
	ProviderType   ProviderType `db:"provider_type" json:"provider_type"`
	Model          string       `db:"model" json:"model"`
	AttemptCount   int          `db:"attempt_count" json:"attempt_count"`
	LatencyMS      int64        `db:"latency_ms" json:"latency_ms"`
	PromptChars    int          `db:"prompt_chars" json:"prompt_chars"`
	ResponseChars  int          `db:"response_chars" json:"response_chars"`
	CreatedAt      time.Time    `db:"created_at" json:"created_at"`
}
