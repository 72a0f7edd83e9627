package account

import (
	"context"
	"sync"
)

type memoryRepository struct {
	mu      sync.RWMutex
	nextID  int64
	storage map[string]Account
}

// NewMemoryRepository constructs an in-memory repository for development and tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{storage: make(map[string]Account)}
}

func (r *memoryRepository) Create(_ context.Context, acct Account) (Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.storage[acct.Number]; exists {
		return Account{}, ErrExists
	}
	if acct.ID == 0 {
		r.nextID++
		acct.ID = r.nextID
	} else if acct.ID > r.nextID {
		r.nextID = acct.ID
	}
	r.storage[acct.Number] = acct
	return acct, nil
}

func (r *memoryRepository) GetByNumber(_ context.Context, number string) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	acct, ok := r.storage[number]
	if !ok {
		return Account{}, ErrNotFound
	}
	return acct, nil
}

func (r *memoryRepository) PrimaryForOwner(_ context.Context, ownerID string) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var fallback *Account
	for _, acct := range r.storage {
		if acct.OwnerID != ownerID || !acct.Active() {
			continue
		}
		if acct.Primary {
			return acct, nil
		}
		if fallback == nil || acct.ID < fallback.ID {
			a := acct
			fallback = &a
		}
	}
	if fallback == nil {
		return Account{}, ErrNoPrimaryAccount
	}
	return *fallback, nil
}

func (r *memoryRepository) SetStatus(_ context.Context, number, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	acct, ok := r.storage[number]
	if !ok {
		return ErrNotFound
	}
	acct.Status = status
	r.storage[number] = acct
	return nil
}
