package queue

import "github.com/rotisserie/eris"

var (
	// ErrQueueClosed is returned when operating on a closed queue
	ErrQueueClosed = eris.New("queue is closed")

	// ErrItemNotFound is returned when a dead letter item does not exist
	ErrItemNotFound = eris.New("item not found")
)
