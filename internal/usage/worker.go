package usage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"crm_backend/internal/models"
	"crm_backend/internal/queue"
)

// Writer persists usage events.
type Writer interface {
	InsertBatch(ctx context.Context, events []models.UsageEvent) error
}

// ErrNoDeadLetterQueue is returned by dead letter operations on a worker
// built without one.
var ErrNoDeadLetterQueue = eris.New("dead letter queue not configured")

// Worker moves usage events from the queue to the database.
type Worker struct {
	queue  queue.Queue[models.UsageEvent]
	dlq    queue.DeadLetterQueue[models.UsageEvent]
	writer Writer
	config queue.Config
	logger *zap.Logger

	startOnce   sync.Once
	stopOnce    sync.Once
	started     atomic.Bool
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewWorker creates a usage worker. dlq may be nil, in which case events
// that exhaust their retries are dropped.
func NewWorker(q queue.Queue[models.UsageEvent], dlq queue.DeadLetterQueue[models.UsageEvent], w Writer, cfg queue.Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:       q,
		dlq:         dlq,
		writer:      w,
		config:      cfg,
		logger:      logger.Named("usage-worker"),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start starts the worker goroutine. Later calls are no-ops.
func (w *Worker) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		w.started.Store(true)
		go w.run(ctx)
	})
}

// Stop flushes whatever is still queued and waits for the worker to exit.
// It is safe to call more than once, and returns at once if Start never ran.
func (w *Worker) Stop() error {
	w.stopOnce.Do(func() { close(w.stopChan) })
	if w.started.Load() {
		<-w.stoppedChan
	}
	return nil
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.stoppedChan)

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Usage worker stopping")
			w.flush(context.WithoutCancel(ctx))
			return
		case <-ctx.Done():
			w.logger.Info("Usage worker context cancelled")
			return
		default:
			if !w.processBatch(ctx, w.config.BatchTimeout) {
				return
			}
		}
	}
}

// flush drains the queue without waiting for new events.
func (w *Worker) flush(ctx context.Context) {
	for {
		n, err := w.queue.Length(ctx)
		if err != nil || n == 0 {
			return
		}
		if !w.processBatch(ctx, 10*time.Millisecond) {
			return
		}
	}
}

// processBatch handles one batch and reports whether the loop should go on.
func (w *Worker) processBatch(ctx context.Context, wait time.Duration) bool {
	events, err := w.queue.DequeueWithTimeout(ctx, w.config.BatchSize, wait)
	if err != nil {
		if errors.Is(err, queue.ErrQueueClosed) {
			w.logger.Info("Usage queue closed")
			return false
		}
		if ctx.Err() != nil {
			return true
		}
		w.logger.Error("Failed to dequeue usage events", zap.Error(err))
		w.sleep(ctx, time.Second)
		return true
	}
	if len(events) == 0 {
		return true
	}

	if err := w.writer.InsertBatch(ctx, events); err != nil {
		w.logger.Warn("Batch insert failed, retrying events one by one",
			zap.Int("count", len(events)),
			zap.Error(err),
		)
		for _, ev := range events {
			w.processItem(ctx, ev)
		}
		return true
	}

	w.logger.Debug("Inserted usage batch", zap.Int("count", len(events)))
	return true
}

// processItem retries a single event with exponential backoff, then parks it
// in the dead letter queue.
func (w *Worker) processItem(ctx context.Context, ev models.UsageEvent) {
	var lastErr error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := w.config.RetryBackoff * time.Duration(1<<uint(attempt-1))
			if !w.sleep(ctx, backoff) {
				lastErr = ctx.Err()
				break
			}
		}

		if lastErr = w.writer.InsertBatch(ctx, []models.UsageEvent{ev}); lastErr == nil {
			return
		}
		w.logger.Debug("Usage insert failed",
			zap.String("event_id", ev.ID.String()),
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)
	}

	if w.dlq == nil {
		w.logger.Error("Dropping usage event", zap.String("event_id", ev.ID.String()), zap.Error(lastErr))
		return
	}
	if err := w.dlq.Add(context.WithoutCancel(ctx), ev, lastErr); err != nil {
		w.logger.Error("Failed to add to dead letter queue", zap.Error(err))
		return
	}
	w.logger.Warn("Usage event moved to DLQ", zap.String("event_id", ev.ID.String()), zap.Error(lastErr))
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// QueueLength returns the number of events waiting to be written.
func (w *Worker) QueueLength(ctx context.Context) (int, error) {
	return w.queue.Length(ctx)
}

// DeadLetters lists parked events, oldest first. maxItems <= 0 lists all.
func (w *Worker) DeadLetters(ctx context.Context, maxItems int) ([]queue.DeadLetterItem[models.UsageEvent], error) {
	if w.dlq == nil {
		return nil, ErrNoDeadLetterQueue
	}
	return w.dlq.List(ctx, maxItems)
}

// RetryDeadLetter puts a parked event back on the queue.
func (w *Worker) RetryDeadLetter(ctx context.Context, id string) error {
	if w.dlq == nil {
		return ErrNoDeadLetterQueue
	}

	items, err := w.dlq.List(ctx, 0)
	if err != nil {
		return eris.Wrap(err, "failed to list dead letter items")
	}
	for _, item := range items {
		if item.ID != id {
			continue
		}
		if err := w.queue.Enqueue(ctx, item.Item); err != nil {
			return eris.Wrap(err, "failed to re-enqueue usage event")
		}
		if err := w.dlq.Remove(ctx, id); err != nil {
			return eris.Wrap(err, "failed to remove from DLQ")
		}
		return nil
	}
	return eris.Wrapf(queue.ErrItemNotFound, "dead letter %s", id)
}
