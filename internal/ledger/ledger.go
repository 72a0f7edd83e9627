package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrAccountNotFound occurs when no balance record exists for an account number.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInsufficientBalance occurs when a decrease would drive a balance negative.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrDuplicateReference indicates the reference id was already applied to the
	// account for the same entry type. The returned ChangeResult describes the
	// original mutation.
	ErrDuplicateReference = errors.New("duplicate reference")

	// ErrInvalidAmount is returned for zero or negative mutation amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
)

// InsufficientBalanceError carries the balance context of a rejected decrease.
type InsufficientBalanceError struct {
	AccountNumber string
	Balance       decimal.Decimal
	Requested     decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance on %s: balance %s, requested %s",
		e.AccountNumber, e.Balance.String(), e.Requested.String())
}

// Is lets errors.Is match the ErrInsufficientBalance sentinel.
func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

// EntryType classifies a ledger entry.
type EntryType string

const (
	EntryWithdrawal          EntryType = "withdrawal"
	EntryDeposit             EntryType = "deposit"
	EntryTransferOut         EntryType = "transfer_out"
	EntryTransferIn          EntryType = "transfer_in"
	EntryExternalTransferOut EntryType = "external_transfer_out"
	EntryReversal            EntryType = "reversal"
)

// EntryStatusPosted is the status of every entry written by a successful mutation.
const EntryStatusPosted = "posted"

// Entry is an immutable record of one balance mutation.
type Entry struct {
	ID            string
	AccountNumber string
	Type          EntryType
	Amount        decimal.Decimal
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	Description   string
	ReferenceID   string
	ActorID       string
	Status        string
	CreatedAt     time.Time
}

// Change describes a requested mutation.
type Change struct {
	AccountNumber string
	Amount        decimal.Decimal
	Type          EntryType
	Description   string
	ReferenceID   string
	ActorID       string
}

func (c Change) validate() error {
	if c.AccountNumber == "" {
		return fmt.Errorf("account number is required")
	}
	if !c.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// ChangeResult is the before/after snapshot of a mutation.
type ChangeResult struct {
	AccountNumber string
	EntryID       string
	Before        decimal.Decimal
	After         decimal.Decimal
}

// Store owns balances and the append-only transaction history.
type Store interface {
	Balance(ctx context.Context, accountNumber string) (decimal.Decimal, error)
	Increase(ctx context.Context, change Change) (ChangeResult, error)
	Decrease(ctx context.Context, change Change) (ChangeResult, error)
	HasSufficientBalance(ctx context.Context, accountNumber string, amount decimal.Decimal) (bool, error)
	Entries(ctx context.Context, accountNumber string) ([]Entry, error)
	EntriesByReference(ctx context.Context, referenceID string) ([]Entry, error)
}

func dedupKey(accountNumber, referenceID string, entryType EntryType) string {
	return accountNumber + "|" + string(entryType) + "|" + referenceID
}
