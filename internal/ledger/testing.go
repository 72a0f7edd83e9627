package ledger

import "github.com/shopspring/decimal"

// SeedBalance is a test helper that sets the balance for an account when using
// the in-memory store. It writes no ledger entry.
func SeedBalance(s Store, accountNumber string, amount decimal.Decimal) {
	if n, ok := s.(*notifyingStore); ok {
		s = n.next
	}
	if mem, ok := s.(*inMemoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		mem.balances[accountNumber] = amount
	}
}
