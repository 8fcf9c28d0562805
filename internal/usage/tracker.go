// Package usage records successful AI feature calls off the request path.
//
// Tracker hands events to a queue from a detached goroutine so the caller
// never waits on it, and Worker drains that queue into the database in
// batches, parking events that keep failing in a dead letter queue.
package usage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"crm_backend/internal/models"
	"crm_backend/internal/queue"
)

const defaultEnqueueTimeout = 5 * time.Second

// Tracker enqueues usage events in the background.
type Tracker struct {
	queue   queue.Queue[models.UsageEvent]
	logger  *zap.Logger
	timeout time.Duration
	now     func() time.Time
	wg      sync.WaitGroup
}

// NewTracker creates a tracker writing to q.
func NewTracker(q queue.Queue[models.UsageEvent], logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		queue:   q,
		logger:  logger.Named("usage-tracker"),
		timeout: defaultEnqueueTimeout,
		now:     time.Now,
	}
}

// Track returns immediately. The event is enqueued even if ctx is canceled
// afterwards; failures are logged and dropped.
func (t *Tracker) Track(ctx context.Context, event models.UsageEvent) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = t.now().UTC()
	}

	detached := context.WithoutCancel(ctx)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		ctx, cancel := context.WithTimeout(detached, t.timeout)
		defer cancel()

		if err := t.queue.Enqueue(ctx, event); err != nil {
			t.logger.Warn("Failed to enqueue usage event",
				zap.String("organization_id", event.OrganizationID),
				zap.String("feature", event.Feature),
				zap.Error(err),
			)
		}
	}()
}

// Wait blocks until every pending Track call has finished.
func (t *Tracker) Wait() {
	t.wg.Wait()
}
