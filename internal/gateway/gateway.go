// Package gateway talks to the external banking gateway that settles transfers
// leaving the system.
package gateway

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// Status is the gateway's view of a transfer.
type Status string

const (
	StatusSuccess             Status = "SUCCESS"
	StatusFailed              Status = "FAILED"
	StatusTimeout             Status = "TIMEOUT"
	StatusUnknown             Status = "UNKNOWN"
	StatusPending             Status = "PENDING"
	StatusInsufficientBalance Status = "INSUFFICIENT_BALANCE"
	StatusInvalidAccount      Status = "INVALID_ACCOUNT"
	StatusSystemError         Status = "SYSTEM_ERROR"
)

// Definite reports whether the status is a final negative answer.
func (s Status) Definite() bool {
	switch s {
	case StatusFailed, StatusSystemError, StatusInsufficientBalance, StatusInvalidAccount:
		return true
	}
	return false
}

// Ambiguous reports whether the outcome is not yet known.
func (s Status) Ambiguous() bool {
	switch s {
	case StatusTimeout, StatusUnknown, StatusPending:
		return true
	}
	return false
}

// ErrCircuitOpen is returned by status queries while the breaker rejects calls.
var ErrCircuitOpen = errors.New("gateway circuit open")

// Request is the payload sent to settle an outbound transfer.
type Request struct {
	TransactionID   string          `json:"transaction_id"`
	SenderAccount   string          `json:"sender_account"`
	SenderBankCode  string          `json:"sender_bank_code"`
	ReceiverAccount string          `json:"receiver_account"`
	ReceiverBank    string          `json:"receiver_bank_code"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Memo            string          `json:"memo,omitempty"`
}

// Response is the gateway answer for both processing and status queries.
type Response struct {
	Status            Status `json:"status"`
	BankTransactionID string `json:"bank_transaction_id,omitempty"`
	ErrorCode         string `json:"error_code,omitempty"`
	ErrorMessage      string `json:"error_message,omitempty"`
}

// Client settles transfers with the external bank.
type Client interface {
	ProcessTransfer(ctx context.Context, req Request) (Response, error)
	GetTransferStatus(ctx context.Context, transactionID string) (Response, error)
}
