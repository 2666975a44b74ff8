package journal

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "AAFuel/internal/errors"
)

// MemoryStore keeps entries in memory. It backs tests and single-process
// demo runs.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry)}
}

// Create implements Store.
func (m *MemoryStore) Create(_ context.Context, entry *Entry) error {
	if entry == nil {
		return xerrors.New(xerrors.CodeValidation, "entry must not be nil")
	}
	if entry.ID == "" {
		return xerrors.New(xerrors.CodeValidation, "entry id must not be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[entry.ID]; ok {
		return ErrEntryConflict
	}
	now := time.Now().Unix()
	if entry.CreatedAt == 0 {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now
	if entry.MaxAttempts <= 0 {
		entry.MaxAttempts = DefaultMaxAttempts
	}
	m.entries[entry.ID] = cloneEntry(entry)
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, id string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[id]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return cloneEntry(entry), nil
}

// Claim implements Store.
func (m *MemoryStore) Claim(_ context.Context, id string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[id]
	if !ok {
		return nil, ErrEntryNotFound
	}
	if entry.Status != StatusPending {
		return cloneEntry(entry), ErrEntryFinal
	}
	if entry.Attempts >= entry.MaxAttempts {
		entry.Status = StatusFailed
		entry.ErrorCode = string(CodeEntryExhausted)
		entry.LastError = "confirmation attempts exhausted"
		entry.UpdatedAt = time.Now().Unix()
		return cloneEntry(entry), ErrAttemptsExhausted
	}
	entry.Attempts++
	entry.UpdatedAt = time.Now().Unix()
	return cloneEntry(entry), nil
}

// MarkConfirmed implements Store.
func (m *MemoryStore) MarkConfirmed(_ context.Context, id string, blockNumber, gasUsed uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[id]
	if !ok {
		return ErrEntryNotFound
	}
	entry.Status = StatusConfirmed
	entry.BlockNumber = blockNumber
	entry.GasUsed = gasUsed
	entry.LastError = ""
	entry.ErrorCode = ""
	entry.UpdatedAt = time.Now().Unix()
	return nil
}

// MarkFailed implements Store.
func (m *MemoryStore) MarkFailed(_ context.Context, id, errorCode, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[id]
	if !ok {
		return ErrEntryNotFound
	}
	entry.Status = StatusFailed
	entry.ErrorCode = errorCode
	entry.LastError = lastError
	entry.UpdatedAt = time.Now().Unix()
	return nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	results := make([]*Entry, 0, len(m.entries))
	for _, entry := range m.entries {
		if opts.matches(entry) {
			results = append(results, cloneEntry(entry))
		}
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if opts.Order == SortByUpdatedAsc {
			a, b = b, a
		}
		if a.UpdatedAt != b.UpdatedAt {
			return a.UpdatedAt > b.UpdatedAt
		}
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt > b.CreatedAt
		}
		return a.ID > b.ID
	})

	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Stats implements Store.
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	stats := Stats{}
	for _, entry := range m.entries {
		if !opts.matches(entry) {
			continue
		}
		stats.Total++
		switch entry.Status {
		case StatusPending:
			stats.Pending++
		case StatusConfirmed:
			stats.Confirmed++
		case StatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// Close implements Store; a no-op for the memory store.
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
