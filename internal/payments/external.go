package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/fundsflow/internal/coordinator"
	"github.com/congo-pay/fundsflow/internal/gateway"
	"github.com/congo-pay/fundsflow/internal/ledger"
	"github.com/congo-pay/fundsflow/internal/notification"
	"github.com/congo-pay/fundsflow/internal/transfer"
)

// ExternalTransfer sends funds to an account at another bank. The sender is
// debited only after the gateway confirms success; every other answer leaves
// the balance untouched.
type ExternalTransfer struct {
	core
	// shortfall is set when the bank confirmed but the debit was refused.
	shortfall bool
}

// NewExternalTransfer builds an external transfer action.
func NewExternalTransfer(deps Deps, cmd Command) *ExternalTransfer {
	return &ExternalTransfer{core: newCore(deps, cmd, transfer.KindExternal)}
}

// Validate checks input, the receiving bank and the sender balance as of now.
func (a *ExternalTransfer) Validate(ctx context.Context) error {
	if err := a.validateBasics(); err != nil {
		return err
	}
	if a.cmd.ReceiverBankCode == "" {
		return invalid(CodeValidation, "receiver bank code is required")
	}
	if a.deps.BankCode != "" && a.cmd.ReceiverBankCode == a.deps.BankCode {
		return invalid(CodeValidation, "receiver banks with us; use an internal transfer")
	}
	if !a.deps.Banks.Empty() {
		if _, ok := a.deps.Banks.Lookup(a.cmd.ReceiverBankCode); !ok {
			return invalid(CodeValidation, fmt.Sprintf("unknown bank code %s", a.cmd.ReceiverBankCode))
		}
	}
	if a.deps.Gateway == nil {
		return ErrUnavailable
	}
	if err := a.resolveSender(ctx); err != nil {
		return err
	}
	return a.checkFunds(ctx)
}

// SavePending persists the REQUESTED record without an internal receiver.
func (a *ExternalTransfer) SavePending(ctx context.Context) (transfer.Transfer, error) {
	return a.savePending(ctx, nil)
}

// Execute calls the gateway without holding any account lock.
func (a *ExternalTransfer) Execute(ctx context.Context) Result {
	if err := a.begin(ctx); err != nil {
		return failure(CodeSystemError, err.Error())
	}
	if err := a.checkFunds(ctx); err != nil {
		return failureFrom(err)
	}

	resp, err := a.deps.Gateway.ProcessTransfer(ctx, gateway.Request{
		TransactionID:   a.record.ID,
		SenderAccount:   a.sender.Number,
		SenderBankCode:  a.deps.BankCode,
		ReceiverAccount: a.cmd.ReceiverAccountNumber,
		ReceiverBank:    a.cmd.ReceiverBankCode,
		Amount:          a.cmd.Amount,
		Currency:        a.cmd.Currency,
		Memo:            a.cmd.Memo,
	})
	if err != nil {
		// The request may have reached the bank.
		a.deps.Logger.Warn("gateway call failed",
			slog.String("transaction_id", a.record.ID),
			slog.Any("error", err))
		return Result{Outcome: OutcomeUnknown, Code: CodeExternalUnknown, Message: err.Error()}
	}

	switch resp.Status {
	case gateway.StatusSuccess:
		return a.settle(ctx, resp)
	case gateway.StatusTimeout:
		return Result{Outcome: OutcomeTimeout, Code: CodeExternalTimeout, Message: gatewayMessage(resp, "gateway timeout")}
	case gateway.StatusUnknown:
		return Result{Outcome: OutcomeUnknown, Code: CodeExternalUnknown, Message: gatewayMessage(resp, "gateway status unknown"), BankTransactionID: resp.BankTransactionID}
	case gateway.StatusPending:
		return Result{Outcome: OutcomePending, Message: gatewayMessage(resp, "pending at bank"), BankTransactionID: resp.BankTransactionID}
	default:
		return Result{Outcome: OutcomeFailure, Code: CodeExternalFailed, Message: gatewayMessage(resp, "rejected by bank"), BankTransactionID: resp.BankTransactionID}
	}
}

// settle debits the sender after a confirmed success.
func (a *ExternalTransfer) settle(ctx context.Context, resp gateway.Response) Result {
	result := debitConfirmed(ctx, a.deps, debitRequest{
		party:       coordinator.Party{AccountID: a.sender.ID, AccountNumber: a.sender.Number},
		amount:      a.cmd.Amount,
		referenceID: a.record.ID,
		description: describe(a.cmd.Memo, fmt.Sprintf("transfer to %s/%s", a.cmd.ReceiverBankCode, a.cmd.ReceiverAccountNumber)),
		actorID:     a.cmd.SenderUserID,
		bankTxID:    resp.BankTransactionID,
	})
	a.shortfall = result.Code == CodeInsufficientBalance
	return result
}

// UpdateFromResult records the gateway outcome on the transfer.
func (a *ExternalTransfer) UpdateFromResult(ctx context.Context, result Result) (transfer.Transfer, error) {
	if t, skipped, err := a.skipped(ctx, result); skipped {
		return t, err
	}
	amount := a.cmd.Amount.StringFixed(2) + " " + a.cmd.Currency
	bankTx := optional(result.BankTransactionID)

	switch result.Outcome {
	case OutcomeSuccess:
		t, err := a.finish(ctx, transfer.Update{Status: transfer.StatusCompleted, BankTransactionID: bankTx})
		a.deps.Audit.LogSuccess(ctx, a.event("external transfer completed", result))
		a.notify(ctx, a.cmd.SenderUserID, notification.KindTransferSent,
			fmt.Sprintf("You sent %s to %s at %s", amount, a.cmd.ReceiverAccountNumber, a.cmd.ReceiverBankCode))
		return t, err
	case OutcomeTimeout, OutcomeUnknown:
		status := transfer.StatusTimeout
		if result.Outcome == OutcomeUnknown {
			status = transfer.StatusUnknown
		}
		t, err := a.finish(ctx, transfer.Update{Status: status, BankTransactionID: bankTx, FailureReason: transfer.Reason(reason(result))})
		a.deps.Audit.LogWarning(ctx, a.event("external transfer outcome unconfirmed", result))
		a.notify(ctx, a.cmd.SenderUserID, notification.KindTransferPending,
			fmt.Sprintf("Transfer of %s is being confirmed with the bank", amount))
		return t, err
	case OutcomePending:
		a.notify(ctx, a.cmd.SenderUserID, notification.KindTransferPending,
			fmt.Sprintf("Transfer of %s is pending at the bank", amount))
		return a.record, nil
	default:
		t, err := a.finish(ctx, transfer.Update{Status: transfer.StatusFailed, BankTransactionID: bankTx, FailureReason: transfer.Reason(reason(result))})
		a.deps.Audit.LogFailure(ctx, a.event("external transfer failed", result))
		a.notifyFailure(ctx, result)
		if a.shortfall {
			a.alertOps(ctx, fmt.Sprintf("bank confirmed transfer %s but sender %s could not be debited", a.record.ID, a.sender.Number))
		}
		return t, err
	}
}

type debitRequest struct {
	party       coordinator.Party
	amount      decimal.Decimal
	referenceID string
	description string
	actorID     string
	bankTxID    string
}

// debitConfirmed debits a sender after the bank confirmed the transfer. The
// coordinator re-checks the balance under the account lock; a shortfall is
// reported as a failure rather than forcing the balance negative.
func debitConfirmed(ctx context.Context, deps Deps, req debitRequest) Result {
	res, _, err := deps.Coordinator.Debit(ctx, req.party, req.amount, ledger.EntryExternalTransferOut,
		req.referenceID, req.description, req.actorID)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			return Result{Outcome: OutcomeFailure, Code: CodeInsufficientBalance, Message: err.Error(), BankTransactionID: req.bankTxID}
		}
		return Result{Outcome: OutcomeUnknown, Code: CodeSystemError, Message: err.Error(), BankTransactionID: req.bankTxID}
	}
	return Result{Outcome: OutcomeSuccess, BankTransactionID: req.bankTxID, SenderBalance: res.After}
}

func gatewayMessage(resp gateway.Response, fallback string) string {
	switch {
	case resp.ErrorCode != "" && resp.ErrorMessage != "":
		return fmt.Sprintf("%s %s: %s", resp.Status, resp.ErrorCode, resp.ErrorMessage)
	case resp.ErrorMessage != "":
		return fmt.Sprintf("%s: %s", resp.Status, resp.ErrorMessage)
	case resp.ErrorCode != "":
		return fmt.Sprintf("%s: %s", resp.Status, resp.ErrorCode)
	}
	return fallback
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
