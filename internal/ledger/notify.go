package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/fundsflow/internal/notification"
)

// OwnerLookup resolves the user owning an account number.
type OwnerLookup interface {
	OwnerOf(ctx context.Context, accountNumber string) (string, error)
}

type notifyingStore struct {
	next     Store
	notifier notification.Notifier
	owners   OwnerLookup
	logger   *slog.Logger
}

// WithNotifications decorates a Store so that every successful mutation emits a
// balance-changed event and every rejected decrease emits an
// insufficient-balance event. Delivery failures never fail the mutation.
func WithNotifications(next Store, notifier notification.Notifier, owners OwnerLookup, logger *slog.Logger) Store {
	if notifier == nil {
		return next
	}
	return &notifyingStore{next: next, notifier: notifier, owners: owners, logger: logger}
}

func (s *notifyingStore) Balance(ctx context.Context, accountNumber string) (decimal.Decimal, error) {
	return s.next.Balance(ctx, accountNumber)
}

func (s *notifyingStore) HasSufficientBalance(ctx context.Context, accountNumber string, amount decimal.Decimal) (bool, error) {
	return s.next.HasSufficientBalance(ctx, accountNumber, amount)
}

func (s *notifyingStore) Entries(ctx context.Context, accountNumber string) ([]Entry, error) {
	return s.next.Entries(ctx, accountNumber)
}

func (s *notifyingStore) EntriesByReference(ctx context.Context, referenceID string) ([]Entry, error) {
	return s.next.EntriesByReference(ctx, referenceID)
}

func (s *notifyingStore) Increase(ctx context.Context, change Change) (ChangeResult, error) {
	res, err := s.next.Increase(ctx, change)
	if err == nil {
		s.send(ctx, change, notification.KindBalanceChanged,
			fmt.Sprintf("%s: +%s, balance %s", change.Type, change.Amount.String(), res.After.String()))
	}
	return res, err
}

func (s *notifyingStore) Decrease(ctx context.Context, change Change) (ChangeResult, error) {
	res, err := s.next.Decrease(ctx, change)
	switch {
	case err == nil:
		s.send(ctx, change, notification.KindBalanceChanged,
			fmt.Sprintf("%s: -%s, balance %s", change.Type, change.Amount.String(), res.After.String()))
	case errors.Is(err, ErrInsufficientBalance):
		body := fmt.Sprintf("insufficient balance for %s of %s", change.Type, change.Amount.String())
		var ib *InsufficientBalanceError
		if errors.As(err, &ib) {
			body = fmt.Sprintf("%s (available %s)", body, ib.Balance.String())
		}
		s.send(ctx, change, notification.KindInsufficientBalance, body)
	}
	return res, err
}

func (s *notifyingStore) send(ctx context.Context, change Change, kind, body string) {
	destination := change.ActorID
	if s.owners != nil {
		if owner, err := s.owners.OwnerOf(ctx, change.AccountNumber); err == nil && owner != "" {
			destination = owner
		}
	}
	if destination == "" {
		return
	}
	if err := s.notifier.Send(ctx, notification.Message{Kind: kind, Destination: destination, Body: body}); err != nil && s.logger != nil {
		s.logger.Warn("balance notification failed",
			slog.String("account_number", change.AccountNumber),
			slog.String("kind", kind),
			slog.Any("error", err))
	}
}
