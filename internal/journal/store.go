package journal

import "context"

// Store persists journal entries.
type Store interface {
	Create(ctx context.Context, entry *Entry) error
	Get(ctx context.Context, id string) (*Entry, error)
	// Claim reserves an entry for one confirmation check, incrementing its
	// attempt counter. Terminal entries return ErrEntryFinal; entries past
	// their attempt budget are marked failed and return
	// ErrAttemptsExhausted.
	Claim(ctx context.Context, id string) (*Entry, error)
	MarkConfirmed(ctx context.Context, id string, blockNumber, gasUsed uint64) error
	MarkFailed(ctx context.Context, id, errorCode, lastError string) error
	List(ctx context.Context, opts ListOptions) ([]*Entry, error)
	Stats(ctx context.Context, opts ListOptions) (Stats, error)
	Close() error
}

// Stats summarises the entries matching a filter.
type Stats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Confirmed int `json:"confirmed"`
	Failed    int `json:"failed"`
}
