package account

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ompay/ompay/internal/ledger"
)

type memoryRepository struct {
	mu      sync.RWMutex
	storage map[string]ledger.Account
}

// NewMemoryRepository constructs an in-memory repository for tests and dev runs.
func NewMemoryRepository() Repository {
	return &memoryRepository{storage: make(map[string]ledger.Account)}
}

func (r *memoryRepository) Create(_ context.Context, a ledger.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.storage {
		if existing.ID == a.ID || existing.Number == a.Number ||
			(a.MerchantCode != "" && existing.MerchantCode == a.MerchantCode) {
			return ErrDuplicateCode
		}
	}
	r.storage[a.ID] = a
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (ledger.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.storage[id]
	if !ok || a.Status == ledger.StatusClosed {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	return a, nil
}

func (r *memoryRepository) ListByOwner(_ context.Context, ownerID string) ([]ledger.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ledger.Account
	for _, a := range r.storage {
		if a.OwnerID == ownerID && a.Status != ledger.StatusClosed {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *memoryRepository) GetByMerchantCode(_ context.Context, code string) (ledger.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.storage {
		if a.MerchantCode == code && a.Status != ledger.StatusClosed {
			return a, nil
		}
	}
	return ledger.Account{}, ledger.ErrAccountNotFound
}

func (r *memoryRepository) ActiveIDs(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, a := range r.storage {
		if a.Status == ledger.StatusActive {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *memoryRepository) UpdateStatus(_ context.Context, id string, status ledger.AccountStatus, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.storage[id]
	if !ok || a.Status == ledger.StatusClosed {
		return ledger.ErrAccountNotFound
	}
	a.Status = status
	a.BlockReason = reason
	r.storage[id] = a
	return nil
}

func (r *memoryRepository) Close(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.storage[id]
	if !ok || a.Status == ledger.StatusClosed {
		return ledger.ErrAccountNotFound
	}
	closedAt := at.UTC()
	a.Status = ledger.StatusClosed
	a.ClosedAt = &closedAt
	r.storage[id] = a
	return nil
}
