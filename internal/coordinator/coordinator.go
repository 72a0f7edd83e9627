// Package coordinator moves funds between accounts under per-account locks
// acquired in a global order, re-verifying the balance once the locks are held.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/fundsflow/internal/ledger"
)

var (
	// ErrSameAccount is returned when both parties resolve to the same account.
	ErrSameAccount = errors.New("sender and receiver are the same account")
	// ErrInvalidParty is returned for a party without identity or number.
	ErrInvalidParty = errors.New("party requires account id and number")
)

// Party identifies an account taking part in a movement.
type Party struct {
	AccountID     int64
	AccountNumber string
}

func (p Party) valid() bool {
	return p.AccountID > 0 && p.AccountNumber != ""
}

// Movement describes an internal debit+credit pair sharing one reference id.
type Movement struct {
	From        Party
	To          Party
	Amount      decimal.Decimal
	ReferenceID string
	Description string
	ActorID     string
}

// Outcome is the before/after view of both legs.
type Outcome struct {
	Debit  ledger.ChangeResult
	Credit ledger.ChangeResult
	// Replayed is set when the reference id had already been applied.
	Replayed bool
}

// Coordinator serialises money movement per account.
type Coordinator struct {
	ledger ledger.Store
	locks  *accountLocks
	logger *slog.Logger
}

// New builds a coordinator over the balance store.
func New(store ledger.Store, logger *slog.Logger) *Coordinator {
	return &Coordinator{ledger: store, locks: newAccountLocks(), logger: logger}
}

// Transfer moves m.Amount from m.From to m.To as one unit. Both account locks
// are taken lowest identity first; the sender balance is re-checked under the
// locks and the movement aborts with ledger.ErrInsufficientBalance without any
// write when it no longer covers the amount.
func (c *Coordinator) Transfer(ctx context.Context, m Movement) (Outcome, error) {
	if !m.From.valid() || !m.To.valid() {
		return Outcome{}, ErrInvalidParty
	}
	if m.From.AccountID == m.To.AccountID || m.From.AccountNumber == m.To.AccountNumber {
		return Outcome{}, ErrSameAccount
	}
	if !m.Amount.IsPositive() {
		return Outcome{}, ledger.ErrInvalidAmount
	}

	unlock := c.locks.lockPair(m.From.AccountID, m.To.AccountID)
	defer unlock()

	debit, replayed, err := c.debitLocked(ctx, m.From, m.Amount, ledger.EntryTransferOut, m.ReferenceID, m.Description, m.ActorID)
	if err != nil {
		return Outcome{}, err
	}

	credit, err := c.ledger.Increase(ctx, ledger.Change{
		AccountNumber: m.To.AccountNumber,
		Amount:        m.Amount,
		Type:          ledger.EntryTransferIn,
		Description:   m.Description,
		ReferenceID:   m.ReferenceID,
		ActorID:       m.ActorID,
	})
	if err != nil && !errors.Is(err, ledger.ErrDuplicateReference) {
		c.compensate(ctx, m, err)
		return Outcome{}, fmt.Errorf("credit %s: %w", m.To.AccountNumber, err)
	}

	return Outcome{Debit: debit, Credit: credit, Replayed: replayed}, nil
}

// Debit takes amount from a single account under its lock, with the same
// re-verification as Transfer. It is used when the counterparty is outside the
// system.
func (c *Coordinator) Debit(ctx context.Context, from Party, amount decimal.Decimal, entryType ledger.EntryType, referenceID, description, actorID string) (ledger.ChangeResult, bool, error) {
	if !from.valid() {
		return ledger.ChangeResult{}, false, ErrInvalidParty
	}
	if !amount.IsPositive() {
		return ledger.ChangeResult{}, false, ledger.ErrInvalidAmount
	}

	unlock := c.locks.lockOne(from.AccountID)
	defer unlock()

	return c.debitLocked(ctx, from, amount, entryType, referenceID, description, actorID)
}

// debitLocked must be called with the sender lock held. A reference id that
// was already applied counts as success and skips the balance check.
func (c *Coordinator) debitLocked(ctx context.Context, from Party, amount decimal.Decimal, entryType ledger.EntryType, referenceID, description, actorID string) (ledger.ChangeResult, bool, error) {
	change := ledger.Change{
		AccountNumber: from.AccountNumber,
		Amount:        amount,
		Type:          entryType,
		Description:   description,
		ReferenceID:   referenceID,
		ActorID:       actorID,
	}

	if referenceID != "" {
		prior, found, err := c.priorEntry(ctx, change)
		if err != nil {
			return ledger.ChangeResult{}, false, err
		}
		if found {
			return ledger.ChangeResult{
				AccountNumber: prior.AccountNumber,
				EntryID:       prior.ID,
				Before:        prior.BalanceBefore,
				After:         prior.BalanceAfter,
			}, true, nil
		}
	}

	ok, err := c.ledger.HasSufficientBalance(ctx, from.AccountNumber, amount)
	if err != nil {
		return ledger.ChangeResult{}, false, err
	}
	if !ok {
		balance, balErr := c.ledger.Balance(ctx, from.AccountNumber)
		if balErr != nil && !errors.Is(balErr, ledger.ErrAccountNotFound) {
			return ledger.ChangeResult{}, false, balErr
		}
		return ledger.ChangeResult{}, false, &ledger.InsufficientBalanceError{
			AccountNumber: from.AccountNumber,
			Balance:       balance,
			Requested:     amount,
		}
	}

	res, err := c.ledger.Decrease(ctx, change)
	if errors.Is(err, ledger.ErrDuplicateReference) {
		return res, true, nil
	}
	return res, false, err
}

func (c *Coordinator) priorEntry(ctx context.Context, change ledger.Change) (ledger.Entry, bool, error) {
	entries, err := c.ledger.EntriesByReference(ctx, change.ReferenceID)
	if err != nil {
		return ledger.Entry{}, false, err
	}
	for _, e := range entries {
		if e.AccountNumber == change.AccountNumber && e.Type == change.Type {
			return e, true, nil
		}
	}
	return ledger.Entry{}, false, nil
}

func (c *Coordinator) compensate(ctx context.Context, m Movement, cause error) {
	_, err := c.ledger.Increase(context.WithoutCancel(ctx), ledger.Change{
		AccountNumber: m.From.AccountNumber,
		Amount:        m.Amount,
		Type:          ledger.EntryReversal,
		Description:   "reversal: " + m.Description,
		ReferenceID:   m.ReferenceID + ":reversal",
		ActorID:       m.ActorID,
	})
	if c.logger == nil {
		return
	}
	if err != nil {
		c.logger.Error("transfer compensation failed",
			slog.String("reference_id", m.ReferenceID),
			slog.String("account_number", m.From.AccountNumber),
			slog.Any("cause", cause),
			slog.Any("error", err))
		return
	}
	c.logger.Warn("transfer credit failed, debit reversed",
		slog.String("reference_id", m.ReferenceID),
		slog.Any("cause", cause))
}
