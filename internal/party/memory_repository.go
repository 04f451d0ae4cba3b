package party

import (
	"context"
	"sync"
)

type memoryRepository struct {
	mu      sync.RWMutex
	byPhone map[string]Party
	byID    map[string]Party
}

// NewMemoryRepository builds an in-memory party store for tests and dev runs.
func NewMemoryRepository() Repository {
	return &memoryRepository{byPhone: make(map[string]Party), byID: make(map[string]Party)}
}

func (r *memoryRepository) Create(_ context.Context, p Party) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byPhone[p.Phone]; exists {
		return ErrPhoneTaken
	}
	r.byPhone[p.Phone] = p
	r.byID[p.ID] = p
	return nil
}

func (r *memoryRepository) FindByID(_ context.Context, id string) (Party, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	if !ok {
		return Party{}, ErrNotFound
	}
	return p, nil
}

func (r *memoryRepository) FindByPhone(_ context.Context, phone string) (Party, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byPhone[phone]
	if !ok {
		return Party{}, ErrNotFound
	}
	return p, nil
}
