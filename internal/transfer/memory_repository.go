package transfer

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryRepository struct {
	mu        sync.RWMutex
	transfers map[string]Transfer
	now       func() time.Time
}

// NewMemoryRepository builds an in-memory transfer store for development and tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		transfers: make(map[string]Transfer),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (r *memoryRepository) Create(_ context.Context, t Transfer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.transfers[t.ID]; exists {
		return ErrExists
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = r.now()
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	r.transfers[t.ID] = t
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (Transfer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transfers[id]
	if !ok {
		return Transfer{}, ErrNotFound
	}
	return t, nil
}

func (r *memoryRepository) Transition(_ context.Context, id string, from []Status, update Update) (Transfer, error) {
	if !validTransition(from, update.Status) {
		return Transfer{}, ErrIllegalTransition
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.transfers[id]
	if !ok {
		return Transfer{}, ErrNotFound
	}
	if !containsStatus(from, t.Status) {
		return t, ErrStatusConflict
	}
	t.Status = update.Status
	if update.BankTransactionID != nil {
		t.BankTransactionID = update.BankTransactionID
	}
	if update.FailureReason != nil {
		t.FailureReason = update.FailureReason
	}
	if update.ProcessedAt != nil {
		t.ProcessedAt = update.ProcessedAt
	}
	t.UpdatedAt = r.now()
	r.transfers[id] = t
	return t, nil
}

func (r *memoryRepository) ListReconcilable(_ context.Context, criteria Criteria) ([]Transfer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Transfer, 0)
	for _, t := range r.transfers {
		if criteria.matches(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if criteria.Limit > 0 && len(out) > criteria.Limit {
		out = out[:criteria.Limit]
	}
	return out, nil
}

func (r *memoryRepository) Claim(_ context.Context, id string, until, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.transfers[id]
	if !ok {
		return ErrNotFound
	}
	if !t.Status.Reconcilable() {
		return ErrNotReconcilable
	}
	if t.ClaimedUntil != nil && t.ClaimedUntil.After(now) {
		return ErrClaimed
	}
	t.ClaimedUntil = &until
	r.transfers[id] = t
	return nil
}

func (r *memoryRepository) Release(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.transfers[id]
	if !ok {
		return ErrNotFound
	}
	t.ClaimedUntil = nil
	r.transfers[id] = t
	return nil
}

// Backdate rewrites the timestamps of a stored transfer when using the
// in-memory repository. It exists for tests that exercise grace windows.
func Backdate(repo Repository, id string, createdAt, updatedAt time.Time) {
	mem, ok := repo.(*memoryRepository)
	if !ok {
		return
	}
	mem.mu.Lock()
	defer mem.mu.Unlock()
	if t, ok := mem.transfers[id]; ok {
		t.CreatedAt = createdAt
		t.UpdatedAt = updatedAt
		mem.transfers[id] = t
	}
}
