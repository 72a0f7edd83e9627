package payments

import (
	"context"
	"log/slog"

	"github.com/congo-pay/fundsflow/internal/audit"
	"github.com/congo-pay/fundsflow/internal/pin"
	"github.com/congo-pay/fundsflow/internal/transfer"
)

// SecureTransfer gates an internal or external transfer behind a PIN session.
// It never moves money itself: once the session is redeemed it runs the full
// lifecycle of its delegate.
type SecureTransfer struct {
	deps     Deps
	cmd      Command
	delegate Action

	record transfer.Transfer
	err    error
}

// NewSecureTransfer builds a secure transfer; cmd.External selects the delegate.
func NewSecureTransfer(deps Deps, cmd Command) *SecureTransfer {
	deps = deps.withDefaults()
	var delegate Action
	if cmd.External {
		delegate = NewExternalTransfer(deps, cmd)
	} else {
		delegate = NewInternalTransfer(deps, cmd)
	}
	return &SecureTransfer{deps: deps, cmd: cmd, delegate: delegate}
}

// Validate checks the PIN session and then the delegate's own rules.
func (a *SecureTransfer) Validate(ctx context.Context) error {
	if err := a.checkSession(ctx); err != nil {
		return err
	}
	return a.delegate.Validate(ctx)
}

func (a *SecureTransfer) checkSession(ctx context.Context) error {
	if a.deps.PIN == nil {
		return ErrUnavailable
	}
	if a.cmd.PINToken == "" || !a.deps.PIN.IsSessionValid(ctx, a.cmd.PINToken, pin.PurposeTransfer) {
		return ErrInvalidPINSession
	}
	session, err := a.deps.PIN.Lookup(ctx, a.cmd.PINToken)
	if err != nil || session.UserID != a.cmd.SenderUserID {
		return ErrInvalidPINSession
	}
	return nil
}

// SavePending is a no-op; the delegate persists its own record.
func (a *SecureTransfer) SavePending(context.Context) (transfer.Transfer, error) {
	return transfer.Transfer{}, nil
}

// Execute redeems the PIN session, which fails for a token that was already
// used or expired since validation, and then runs the delegate.
func (a *SecureTransfer) Execute(ctx context.Context) Result {
	session, err := a.deps.PIN.Redeem(ctx, a.cmd.PINToken, pin.PurposeTransfer)
	if err != nil || session.UserID != a.cmd.SenderUserID {
		a.err = ErrInvalidPINSession
		a.deps.Audit.LogWarning(ctx, audit.Event{
			ActorID:     a.cmd.SenderUserID,
			Action:      "transfer.secure",
			ResourceID:  a.cmd.TransactionID,
			Description: "PIN session rejected at execution",
		})
		return failure(CodeInvalidPINSession, ErrInvalidPINSession.Error())
	}

	record, result, err := Run(ctx, a.delegate)
	a.record, a.err = record, err
	if err != nil {
		a.deps.Logger.Info("secure transfer delegate returned error",
			slog.String("transaction_id", record.ID),
			slog.String("code", ErrorCode(err)),
			slog.Any("error", err))
	}
	return result
}

// UpdateFromResult returns what the delegate recorded.
func (a *SecureTransfer) UpdateFromResult(context.Context, Result) (transfer.Transfer, error) {
	return a.record, a.err
}
