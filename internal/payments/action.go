// Package payments implements the transfer actions. Every variant follows the
// same lifecycle: validate, save a pending record, execute the money movement
// and finalise the record from the result.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/fundsflow/internal/account"
	"github.com/congo-pay/fundsflow/internal/audit"
	"github.com/congo-pay/fundsflow/internal/coordinator"
	"github.com/congo-pay/fundsflow/internal/gateway"
	"github.com/congo-pay/fundsflow/internal/ledger"
	"github.com/congo-pay/fundsflow/internal/notification"
	"github.com/congo-pay/fundsflow/internal/pin"
	"github.com/congo-pay/fundsflow/internal/transfer"
)

// Outcome classifies an execution result.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeTimeout Outcome = "timeout"
	OutcomeUnknown Outcome = "unknown"
	OutcomePending Outcome = "pending"
)

// Result is what Execute reports back to UpdateFromResult.
type Result struct {
	Outcome           Outcome
	Code              string
	Message           string
	BankTransactionID string
	SenderBalance     decimal.Decimal
	ReceiverBalance   decimal.Decimal
}

// Succeeded reports whether money moved.
func (r Result) Succeeded() bool { return r.Outcome == OutcomeSuccess }

func failure(code, message string) Result {
	return Result{Outcome: OutcomeFailure, Code: code, Message: message}
}

func failureFrom(err error) Result {
	return failure(ErrorCode(err), err.Error())
}

// Action is one transfer command.
type Action interface {
	Validate(ctx context.Context) error
	SavePending(ctx context.Context) (transfer.Transfer, error)
	Execute(ctx context.Context) Result
	UpdateFromResult(ctx context.Context, result Result) (transfer.Transfer, error)
}

// Command carries caller input for every variant.
type Command struct {
	TransactionID         string
	SenderUserID          string
	SenderAccountNumber   string
	ReceiverAccountNumber string
	ReceiverBankCode      string
	Amount                decimal.Decimal
	Currency              string
	Memo                  string
	// PINToken and External are read by secure transfers only.
	PINToken string
	External bool
}

// Accounts resolves internal accounts.
type Accounts interface {
	account.Lookup
	account.PrimaryAccountResolver
}

// PINSessions verifies PIN sessions for secure transfers.
type PINSessions interface {
	IsSessionValid(ctx context.Context, token, purpose string) bool
	Lookup(ctx context.Context, token string) (pin.Session, error)
	Redeem(ctx context.Context, token, purpose string) (pin.Session, error)
}

// Deps are the collaborators shared by all actions.
type Deps struct {
	Accounts    Accounts
	Ledger      ledger.Store
	Coordinator *coordinator.Coordinator
	Transfers   transfer.Repository
	Gateway     gateway.Client
	Banks       gateway.Directory
	PIN         PINSessions
	Audit       audit.Sink
	Notifier    notification.Notifier
	// BankCode is this institution's code, sent as the sender bank.
	BankCode string
	Currency string
	// OpsRecipient receives operational alerts.
	OpsRecipient string
	Logger       *slog.Logger
	Now          func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Audit == nil {
		d.Audit = audit.Discard{}
	}
	if d.Notifier == nil {
		d.Notifier = notification.Discard{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	if d.Currency == "" {
		d.Currency = "XAF"
	}
	if d.OpsRecipient == "" {
		d.OpsRecipient = "ops"
	}
	return d
}

// Run drives an action through its lifecycle. A validation error returns
// before anything is persisted.
func Run(ctx context.Context, a Action) (transfer.Transfer, Result, error) {
	if err := a.Validate(ctx); err != nil {
		return transfer.Transfer{}, failureFrom(err), err
	}
	t, err := a.SavePending(ctx)
	if err != nil {
		return transfer.Transfer{}, failure(CodeSystemError, err.Error()), err
	}
	result := a.Execute(ctx)
	final, err := a.UpdateFromResult(ctx, result)
	if final.ID == "" {
		final = t
	}
	return final, result, err
}

// core is the state shared by the internal and external variants.
type core struct {
	deps   Deps
	cmd    Command
	action string
	kind   transfer.Kind

	sender   account.Account
	receiver account.Account
	record   transfer.Transfer
}

func newCore(deps Deps, cmd Command, kind transfer.Kind) core {
	deps = deps.withDefaults()
	cmd.SenderAccountNumber = strings.TrimSpace(cmd.SenderAccountNumber)
	cmd.ReceiverAccountNumber = strings.TrimSpace(cmd.ReceiverAccountNumber)
	cmd.ReceiverBankCode = strings.ToUpper(strings.TrimSpace(cmd.ReceiverBankCode))
	cmd.Currency = strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if cmd.Currency == "" {
		cmd.Currency = deps.Currency
	}
	return core{deps: deps, cmd: cmd, kind: kind, action: "transfer." + string(kind)}
}

func (c *core) validateBasics() error {
	if strings.TrimSpace(c.cmd.SenderUserID) == "" {
		return invalid(CodeValidation, "sender is required")
	}
	if !c.cmd.Amount.IsPositive() {
		return invalidWrap(CodeValidation, "invalid amount", ledger.ErrInvalidAmount)
	}
	if c.cmd.Amount.Exponent() < -2 {
		return invalid(CodeValidation, "amount supports at most two decimal places")
	}
	if c.cmd.ReceiverAccountNumber == "" {
		return invalid(CodeValidation, "receiver account is required")
	}
	return nil
}

// resolveSender loads the sending account, defaulting to the caller's
// primary account.
func (c *core) resolveSender(ctx context.Context) error {
	var (
		acct account.Account
		err  error
	)
	if c.cmd.SenderAccountNumber == "" {
		acct, err = c.deps.Accounts.PrimaryAccount(ctx, c.cmd.SenderUserID)
		if err != nil {
			if errors.Is(err, account.ErrNotFound) || errors.Is(err, account.ErrNoPrimaryAccount) {
				return invalidWrap(CodeMemberNotFound, "sender has no active account", err)
			}
			return err
		}
	} else {
		acct, err = c.deps.Accounts.Get(ctx, c.cmd.SenderAccountNumber)
		if err != nil {
			if errors.Is(err, account.ErrNotFound) {
				return invalidWrap(CodeAccountNotFound, "sender account not found", err)
			}
			return err
		}
		if acct.OwnerID != c.cmd.SenderUserID {
			return invalid(CodeValidation, "sender does not own the account")
		}
	}
	if !acct.Active() {
		return invalid(CodeAccountInactive, "sender account is inactive")
	}
	if acct.Currency != "" && acct.Currency != c.cmd.Currency {
		return invalid(CodeValidation, fmt.Sprintf("account currency is %s", acct.Currency))
	}
	c.sender = acct
	c.cmd.SenderAccountNumber = acct.Number
	return nil
}

func (c *core) checkFunds(ctx context.Context) error {
	ok, err := c.deps.Ledger.HasSufficientBalance(ctx, c.sender.Number, c.cmd.Amount)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	balance, err := c.deps.Ledger.Balance(ctx, c.sender.Number)
	if err != nil && !errors.Is(err, ledger.ErrAccountNotFound) {
		return err
	}
	return &ledger.InsufficientBalanceError{AccountNumber: c.sender.Number, Balance: balance, Requested: c.cmd.Amount}
}

func (c *core) savePending(ctx context.Context, receiverUserID *string) (transfer.Transfer, error) {
	if c.cmd.TransactionID == "" {
		c.cmd.TransactionID = uuid.NewString()
	}
	now := c.deps.Now()
	t := transfer.Transfer{
		ID:                    c.cmd.TransactionID,
		Kind:                  c.kind,
		SenderUserID:          c.cmd.SenderUserID,
		SenderAccountNumber:   c.sender.Number,
		ReceiverUserID:        receiverUserID,
		ReceiverAccountNumber: c.cmd.ReceiverAccountNumber,
		ReceiverBankCode:      c.cmd.ReceiverBankCode,
		Amount:                c.cmd.Amount,
		Currency:              c.cmd.Currency,
		Memo:                  c.cmd.Memo,
		Status:                transfer.StatusRequested,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := c.deps.Transfers.Create(ctx, t); err != nil {
		return transfer.Transfer{}, err
	}
	c.record = t
	return t, nil
}

// begin moves the record to PROCESSING. Losing the race means another caller
// cancelled or already executed it.
func (c *core) begin(ctx context.Context) error {
	t, err := c.deps.Transfers.Transition(ctx, c.record.ID, []transfer.Status{transfer.StatusRequested},
		transfer.Update{Status: transfer.StatusProcessing})
	if err != nil {
		return fmt.Errorf("start transfer %s: %w", c.record.ID, err)
	}
	c.record = t
	return nil
}

// skipped reports whether Execute never moved the record to PROCESSING, in
// which case the record belongs to whoever won the race.
func (c *core) skipped(ctx context.Context, result Result) (transfer.Transfer, bool, error) {
	if c.record.Status == transfer.StatusProcessing {
		return transfer.Transfer{}, false, nil
	}
	current, err := c.deps.Transfers.Get(ctx, c.record.ID)
	if err != nil {
		return c.record, true, err
	}
	return current, true, fmt.Errorf("%s: %w", result.Message, transfer.ErrStatusConflict)
}

func (c *core) finish(ctx context.Context, update transfer.Update) (transfer.Transfer, error) {
	if update.Status.Terminal() {
		now := c.deps.Now()
		update.ProcessedAt = &now
	}
	t, err := c.deps.Transfers.Transition(ctx, c.record.ID, []transfer.Status{transfer.StatusProcessing}, update)
	if err != nil {
		c.deps.Logger.Error("transfer finalisation failed",
			slog.String("transaction_id", c.record.ID),
			slog.String("status", string(update.Status)),
			slog.Any("error", err))
		if t.ID == "" {
			t = c.record
		}
		return t, err
	}
	c.record = t
	return t, nil
}

func (c *core) event(description string, result Result) audit.Event {
	return audit.Event{
		ActorID:     c.cmd.SenderUserID,
		Action:      c.action,
		ResourceID:  c.record.ID,
		Description: description,
		Request: map[string]string{
			"sender_account":   c.cmd.SenderAccountNumber,
			"receiver_account": c.cmd.ReceiverAccountNumber,
			"receiver_bank":    c.cmd.ReceiverBankCode,
			"amount":           c.cmd.Amount.String(),
			"currency":         c.cmd.Currency,
		},
		Response: map[string]string{
			"outcome":             string(result.Outcome),
			"code":                result.Code,
			"message":             result.Message,
			"bank_transaction_id": result.BankTransactionID,
		},
	}
}

func (c *core) notify(ctx context.Context, destination, kind, body string) {
	if destination == "" {
		return
	}
	if err := c.deps.Notifier.Send(ctx, notification.Message{Kind: kind, Destination: destination, Body: body}); err != nil {
		c.deps.Logger.Warn("transfer notification failed",
			slog.String("transaction_id", c.record.ID),
			slog.String("kind", kind),
			slog.Any("error", err))
	}
}

func (c *core) notifyFailure(ctx context.Context, result Result) {
	c.notify(ctx, c.cmd.SenderUserID, notification.KindTransferFailed,
		fmt.Sprintf("Transfer %s of %s %s failed: %s", c.record.ID, c.cmd.Amount.StringFixed(2), c.cmd.Currency, result.Message))
	if result.Code == CodeInsufficientBalance {
		c.notify(ctx, c.cmd.SenderUserID, notification.KindInsufficientBalance,
			fmt.Sprintf("Insufficient balance on %s for %s %s", c.sender.Number, c.cmd.Amount.StringFixed(2), c.cmd.Currency))
	}
}

func (c *core) alertOps(ctx context.Context, body string) {
	c.deps.Logger.Error("operations alert", slog.String("transaction_id", c.record.ID), slog.String("alert", body))
	c.notify(ctx, c.deps.OpsRecipient, notification.KindOpsAlert, body)
}

// notifyRejected informs the sender about a validation-time balance shortfall.
func notifyRejected(ctx context.Context, deps Deps, cmd Command, err error) {
	if ErrorCode(err) != CodeInsufficientBalance {
		return
	}
	deps = deps.withDefaults()
	if sendErr := deps.Notifier.Send(ctx, notification.Message{
		Kind:        notification.KindInsufficientBalance,
		Destination: cmd.SenderUserID,
		Body:        fmt.Sprintf("Insufficient balance for transfer of %s: %v", cmd.Amount.StringFixed(2), err),
	}); sendErr != nil {
		deps.Logger.Warn("insufficient balance notification failed", slog.Any("error", sendErr))
	}
}
