package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/congo-pay/fundsflow/internal/account"
	"github.com/congo-pay/fundsflow/internal/coordinator"
	"github.com/congo-pay/fundsflow/internal/ledger"
	"github.com/congo-pay/fundsflow/internal/notification"
	"github.com/congo-pay/fundsflow/internal/transfer"
)

// InternalTransfer moves funds between two accounts held by this system.
type InternalTransfer struct {
	core
}

// NewInternalTransfer builds an internal transfer action.
func NewInternalTransfer(deps Deps, cmd Command) *InternalTransfer {
	return &InternalTransfer{core: newCore(deps, cmd, transfer.KindInternal)}
}

// Validate checks input, both accounts and the sender balance as of now.
func (a *InternalTransfer) Validate(ctx context.Context) error {
	if err := a.validateBasics(); err != nil {
		return err
	}
	if err := a.resolveSender(ctx); err != nil {
		return err
	}
	receiver, err := a.deps.Accounts.Get(ctx, a.cmd.ReceiverAccountNumber)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return invalidWrap(CodeAccountNotFound, "receiver account not found", err)
		}
		return err
	}
	if receiver.Number == a.sender.Number || receiver.ID == a.sender.ID {
		return invalidWrap(CodeSelfTransfer, "cannot transfer to the same account", coordinator.ErrSameAccount)
	}
	if !receiver.Active() {
		return invalid(CodeAccountInactive, "receiver account is inactive")
	}
	if receiver.Currency != "" && receiver.Currency != a.cmd.Currency {
		return invalid(CodeValidation, fmt.Sprintf("receiver account currency is %s", receiver.Currency))
	}
	a.receiver = receiver
	return a.checkFunds(ctx)
}

// SavePending persists the REQUESTED record.
func (a *InternalTransfer) SavePending(ctx context.Context) (transfer.Transfer, error) {
	owner := a.receiver.OwnerID
	return a.savePending(ctx, &owner)
}

// Execute performs the debit and credit through the coordinator, which
// re-verifies the balance under both account locks.
func (a *InternalTransfer) Execute(ctx context.Context) Result {
	if err := a.begin(ctx); err != nil {
		return failure(CodeSystemError, err.Error())
	}
	out, err := a.deps.Coordinator.Transfer(ctx, coordinator.Movement{
		From:        coordinator.Party{AccountID: a.sender.ID, AccountNumber: a.sender.Number},
		To:          coordinator.Party{AccountID: a.receiver.ID, AccountNumber: a.receiver.Number},
		Amount:      a.cmd.Amount,
		ReferenceID: a.record.ID,
		Description: describe(a.cmd.Memo, "transfer to "+a.receiver.Number),
		ActorID:     a.cmd.SenderUserID,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			return failure(CodeInsufficientBalance, err.Error())
		}
		return failureFrom(err)
	}
	return Result{
		Outcome:         OutcomeSuccess,
		SenderBalance:   out.Debit.After,
		ReceiverBalance: out.Credit.After,
	}
}

// UpdateFromResult finalises the record. Balances were already moved by Execute.
func (a *InternalTransfer) UpdateFromResult(ctx context.Context, result Result) (transfer.Transfer, error) {
	if t, skipped, err := a.skipped(ctx, result); skipped {
		return t, err
	}
	amount := a.cmd.Amount.StringFixed(2) + " " + a.cmd.Currency
	if result.Succeeded() {
		t, err := a.finish(ctx, transfer.Update{Status: transfer.StatusCompleted})
		a.deps.Audit.LogSuccess(ctx, a.event("internal transfer completed", result))
		a.notify(ctx, a.cmd.SenderUserID, notification.KindTransferSent,
			fmt.Sprintf("You sent %s to %s", amount, a.receiver.Number))
		a.notify(ctx, a.receiver.OwnerID, notification.KindTransferReceived,
			fmt.Sprintf("You received %s from %s", amount, a.sender.Number))
		return t, err
	}

	t, err := a.finish(ctx, transfer.Update{Status: transfer.StatusFailed, FailureReason: transfer.Reason(reason(result))})
	a.deps.Audit.LogFailure(ctx, a.event("internal transfer failed", result))
	a.notifyFailure(ctx, result)
	return t, err
}

func describe(memo, fallback string) string {
	if memo != "" {
		return memo
	}
	return fallback
}

func reason(r Result) string {
	if r.Code == "" {
		return r.Message
	}
	if r.Message == "" {
		return r.Code
	}
	return r.Code + ": " + r.Message
}
