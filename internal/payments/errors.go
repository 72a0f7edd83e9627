package payments

import (
	"errors"
	"fmt"

	"github.com/congo-pay/fundsflow/internal/account"
	"github.com/congo-pay/fundsflow/internal/coordinator"
	"github.com/congo-pay/fundsflow/internal/ledger"
)

// Stable result codes reported to callers.
const (
	CodeValidation          = "VALIDATION_ERROR"
	CodeSelfTransfer        = "SELF_TRANSFER"
	CodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	CodeAccountNotFound     = "ACCOUNT_NOT_FOUND"
	CodeMemberNotFound      = "MEMBER_NOT_FOUND"
	CodeAccountInactive     = "ACCOUNT_INACTIVE"
	CodeInvalidPINSession   = "INVALID_PIN_SESSION"
	CodeExternalTimeout     = "EXTERNAL_TIMEOUT"
	CodeExternalUnknown     = "EXTERNAL_UNKNOWN"
	CodeExternalFailed      = "EXTERNAL_FAILED"
	CodeSystemError         = "SYSTEM_ERROR"
)

var (
	// ErrInvalidPINSession is returned when a secure transfer presents a
	// missing, expired, foreign or already used PIN session.
	ErrInvalidPINSession = errors.New("invalid or expired PIN session")
	// ErrNotParticipant is returned when the caller is neither sender nor receiver.
	ErrNotParticipant = errors.New("caller is not a party to the transfer")
	// ErrNotCancellable is returned once a transfer has left REQUESTED.
	ErrNotCancellable = errors.New("transfer can no longer be cancelled")
	// ErrUnavailable is returned when a required collaborator is not configured.
	ErrUnavailable = errors.New("operation unavailable")
)

// ValidationError is a terminal input error with a stable code.
type ValidationError struct {
	Code    string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(code, message string) error {
	return &ValidationError{Code: code, Message: message}
}

func invalidWrap(code, message string, err error) error {
	return &ValidationError{Code: code, Message: message, Err: err}
}

// ErrorCode maps any error raised by the transfer lifecycle to a stable code.
func ErrorCode(err error) string {
	var ve *ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return ve.Code
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return CodeInsufficientBalance
	case errors.Is(err, coordinator.ErrSameAccount):
		return CodeSelfTransfer
	case errors.Is(err, account.ErrNotFound), errors.Is(err, ledger.ErrAccountNotFound):
		return CodeAccountNotFound
	case errors.Is(err, account.ErrNoPrimaryAccount):
		return CodeMemberNotFound
	case errors.Is(err, ErrInvalidPINSession):
		return CodeInvalidPINSession
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, coordinator.ErrInvalidParty):
		return CodeValidation
	default:
		return CodeSystemError
	}
}
