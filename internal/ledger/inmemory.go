package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type inMemoryStore struct {
	mu       sync.RWMutex
	balances map[string]decimal.Decimal
	entries  []Entry
	applied  map[string]ChangeResult
	now      func() time.Time
}

// NewInMemory creates a concurrency-safe in-memory balance store useful for
// development and unit tests.
func NewInMemory() Store {
	return &inMemoryStore{
		balances: make(map[string]decimal.Decimal),
		applied:  make(map[string]ChangeResult),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *inMemoryStore) Balance(_ context.Context, accountNumber string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	balance, ok := s.balances[accountNumber]
	if !ok {
		return decimal.Zero, ErrAccountNotFound
	}
	return balance, nil
}

func (s *inMemoryStore) HasSufficientBalance(_ context.Context, accountNumber string, amount decimal.Decimal) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	balance, ok := s.balances[accountNumber]
	if !ok {
		return false, nil
	}
	return balance.GreaterThanOrEqual(amount), nil
}

func (s *inMemoryStore) Increase(ctx context.Context, change Change) (ChangeResult, error) {
	if err := change.validate(); err != nil {
		return ChangeResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return ChangeResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if res, ok := s.duplicate(change); ok {
		return res, ErrDuplicateReference
	}

	before := s.balances[change.AccountNumber]
	return s.apply(change, before, before.Add(change.Amount)), nil
}

func (s *inMemoryStore) Decrease(ctx context.Context, change Change) (ChangeResult, error) {
	if err := change.validate(); err != nil {
		return ChangeResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return ChangeResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if res, ok := s.duplicate(change); ok {
		return res, ErrDuplicateReference
	}

	before, ok := s.balances[change.AccountNumber]
	if !ok {
		return ChangeResult{}, ErrAccountNotFound
	}
	after := before.Sub(change.Amount)
	if after.IsNegative() {
		return ChangeResult{}, &InsufficientBalanceError{
			AccountNumber: change.AccountNumber,
			Balance:       before,
			Requested:     change.Amount,
		}
	}
	return s.apply(change, before, after), nil
}

func (s *inMemoryStore) Entries(_ context.Context, accountNumber string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.balances[accountNumber]; !ok {
		return nil, ErrAccountNotFound
	}
	var out []Entry
	for _, e := range s.entries {
		if e.AccountNumber == accountNumber {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *inMemoryStore) EntriesByReference(_ context.Context, referenceID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, e := range s.entries {
		if e.ReferenceID == referenceID {
			out = append(out, e)
		}
	}
	return out, nil
}

// duplicate must be called with mu held.
func (s *inMemoryStore) duplicate(change Change) (ChangeResult, bool) {
	if change.ReferenceID == "" {
		return ChangeResult{}, false
	}
	res, ok := s.applied[dedupKey(change.AccountNumber, change.ReferenceID, change.Type)]
	return res, ok
}

// apply must be called with mu held.
func (s *inMemoryStore) apply(change Change, before, after decimal.Decimal) ChangeResult {
	entry := Entry{
		ID:            uuid.NewString(),
		AccountNumber: change.AccountNumber,
		Type:          change.Type,
		Amount:        change.Amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Description:   change.Description,
		ReferenceID:   change.ReferenceID,
		ActorID:       change.ActorID,
		Status:        EntryStatusPosted,
		CreatedAt:     s.now(),
	}
	s.balances[change.AccountNumber] = after
	s.entries = append(s.entries, entry)

	res := ChangeResult{
		AccountNumber: change.AccountNumber,
		EntryID:       entry.ID,
		Before:        before,
		After:         after,
	}
	if change.ReferenceID != "" {
		s.applied[dedupKey(change.AccountNumber, change.ReferenceID, change.Type)] = res
	}
	return res
}
