package credstore

import (
	"context"
	"sync"
)

// MemoryStore keeps the pair in process memory. Nothing survives a restart.
type MemoryStore struct {
	mu   sync.RWMutex
	pair Pair
}

// Compile-time check to ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(ctx context.Context) (Pair, error) {
	if err := ctx.Err(); err != nil {
		return Pair{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.pair.IsZero() {
		return Pair{}, ErrNotFound
	}
	return m.pair, nil
}

func (m *MemoryStore) Save(ctx context.Context, pair Pair) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := pair.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	m.pair = pair
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.pair = Pair{}
	m.mu.Unlock()
	return nil
}
