package journal

import "context"

// Handler processes one entry ID taken from the confirmation queue. A
// non-nil error requeues the ID for a later attempt.
type Handler func(ctx context.Context, entryID string) error

// Producer enqueues entry IDs awaiting confirmation.
type Producer interface {
	Publish(ctx context.Context, entryID string) error
	Close() error
}

// Consumer drains the confirmation queue with a pool of workers.
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue combines both ends.
type Queue interface {
	Producer
	Consumer
}
