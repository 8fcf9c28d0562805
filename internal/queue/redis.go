package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// RedisQueue implements Queue on a Redis list of JSON documents.
type RedisQueue[T any] struct {
	client *redis.Client
	qKey   string
}

// NewRedisQueue creates a queue stored under "queue:<name>". The client is
// owned by the caller.
func NewRedisQueue[T any](client *redis.Client, cfg Config) *RedisQueue[T] {
	return &RedisQueue[T]{
		client: client,
		qKey:   "queue:" + cfg.Name,
	}
}

// Enqueue adds an item to the queue
func (q *RedisQueue[T]) Enqueue(ctx context.Context, item T) error {
	data, err := json.Marshal(item)
	if err != nil {
		return eris.Wrap(err, "failed to marshal item")
	}

	if err := q.client.RPush(ctx, q.qKey, data).Err(); err != nil {
		return eris.Wrap(err, "failed to push to Redis")
	}
	return nil
}

// Dequeue blocks until an item is available.
func (q *RedisQueue[T]) Dequeue(ctx context.Context, maxItems int) ([]T, error) {
	return q.DequeueWithTimeout(ctx, maxItems, 0)
}

// DequeueWithTimeout retrieves items with a timeout. A zero timeout blocks
// until an item arrives or ctx ends.
func (q *RedisQueue[T]) DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]T, error) {
	result, err := q.client.BLPop(ctx, timeout, q.qKey).Result()
	if errors.Is(err, redis.Nil) {
		return []T{}, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "failed to pop from Redis")
	}

	// result[0] is the key, result[1] is the value
	raw := []string{result[1]}
	for len(raw) < maxItems {
		next, err := q.client.LPop(ctx, q.qKey).Result()
		if err != nil {
			// redis.Nil means drained; anything else, keep what we have
			break
		}
		raw = append(raw, next)
	}

	items := make([]T, 0, len(raw))
	for _, r := range raw {
		var item T
		if err := json.Unmarshal([]byte(r), &item); err != nil {
			return items, eris.Wrap(err, "failed to unmarshal item")
		}
		items = append(items, item)
	}
	return items, nil
}

// Length returns the current queue length
func (q *RedisQueue[T]) Length(ctx context.Context) (int, error) {
	length, err := q.client.LLen(ctx, q.qKey).Result()
	if err != nil {
		return 0, eris.Wrap(err, "failed to get queue length")
	}
	return int(length), nil
}

// Close is a no-op; the shared client is closed by its owner.
func (q *RedisQueue[T]) Close() error {
	return nil
}

// RedisDeadLetterQueue implements DeadLetterQueue on a Redis hash.
type RedisDeadLetterQueue[T any] struct {
	client *redis.Client
	dlKey  string
}

// NewRedisDeadLetterQueue stores parked items under "dlq:<name>".
func NewRedisDeadLetterQueue[T any](client *redis.Client, cfg Config) *RedisDeadLetterQueue[T] {
	return &RedisDeadLetterQueue[T]{
		client: client,
		dlKey:  "dlq:" + cfg.Name,
	}
}

// Add parks a failed item.
func (q *RedisDeadLetterQueue[T]) Add(ctx context.Context, item T, err error) error {
	dlItem := newDeadLetterItem(item, err)

	data, marshalErr := json.Marshal(dlItem)
	if marshalErr != nil {
		return eris.Wrap(marshalErr, "failed to marshal dead letter item")
	}

	if err := q.client.HSet(ctx, q.dlKey, dlItem.ID, data).Err(); err != nil {
		return eris.Wrap(err, "failed to add to dead letter queue")
	}
	return nil
}

// List returns up to maxItems parked items, oldest first. maxItems <= 0 means all.
func (q *RedisDeadLetterQueue[T]) List(ctx context.Context, maxItems int) ([]DeadLetterItem[T], error) {
	results, err := q.client.HGetAll(ctx, q.dlKey).Result()
	if err != nil {
		return nil, eris.Wrap(err, "failed to list dead letter items")
	}

	items := make([]DeadLetterItem[T], 0, len(results))
	for _, data := range results {
		var dlItem DeadLetterItem[T]
		if err := json.Unmarshal([]byte(data), &dlItem); err != nil {
			continue
		}
		items = append(items, dlItem)
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].Timestamp.Before(items[j].Timestamp)
	})
	if maxItems > 0 && len(items) > maxItems {
		items = items[:maxItems]
	}
	return items, nil
}

// Remove removes an item from the dead letter queue
func (q *RedisDeadLetterQueue[T]) Remove(ctx context.Context, id string) error {
	n, err := q.client.HDel(ctx, q.dlKey, id).Result()
	if err != nil {
		return eris.Wrap(err, "failed to remove from dead letter queue")
	}
	if n == 0 {
		return ErrItemNotFound
	}
	return nil
}

// Close is a no-op; the shared client is closed by its owner.
func (q *RedisDeadLetterQueue[T]) Close() error {
	return nil
}
