// Package queue buffers work for background workers.
//
// Two backends are available: MemoryQueue keeps items in a buffered channel
// and loses them on restart; RedisQueue stores JSON-encoded items in a Redis
// list so several server instances can share one worker pool. Items that keep
// failing are parked in a DeadLetterQueue.
package queue

import (
	"context"
	"time"
)

// Queue is a FIFO of T.
type Queue[T any] interface {
	// Enqueue adds an item to the queue
	Enqueue(ctx context.Context, item T) error

	// Dequeue blocks until at least one item is available and returns up to
	// maxItems.
	Dequeue(ctx context.Context, maxItems int) ([]T, error)

	// DequeueWithTimeout returns up to maxItems, or an empty slice when
	// nothing arrived before timeout.
	DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]T, error)

	// Length returns the current queue length
	Length(ctx context.Context) (int, error)

	// Close shuts down the queue
	Close() error
}

// DeadLetterQueue parks items whose processing failed for good.
type DeadLetterQueue[T any] interface {
	Add(ctx context.Context, item T, err error) error
	List(ctx context.Context, maxItems int) ([]DeadLetterItem[T], error)
	Remove(ctx context.Context, id string) error
	Close() error
}

// DeadLetterItem is a failed item plus the last error seen for it.
type DeadLetterItem[T any] struct {
	ID        string    `json:"id"`
	Item      T         `json:"item"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Config holds worker batching and retry settings.
type Config struct {
	// Name is the key suffix for Redis-backed queues
	Name string

	// BatchSize is the maximum number of items processed together
	BatchSize int

	// BatchTimeout is how long to wait before processing a partial batch
	BatchTimeout time.Duration

	// MaxRetries is the number of retries after the first failure
	MaxRetries int

	// RetryBackoff is the initial backoff, doubled per retry
	RetryBackoff time.Duration
}

// DefaultConfig returns default queue configuration
func DefaultConfig(name string) Config {
	return Config{
		Name:         name,
		BatchSize:    100,
		BatchTimeout: 5 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 1 * time.Second,
	}
}
