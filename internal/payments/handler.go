package payments

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/fundsflow/internal/transfer"
)

// Handler exposes transfer endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a transfer handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type transferRequest struct {
	TransactionID    string          `json:"transaction_id"`
	SenderAccount    string          `json:"sender_account"`
	ReceiverAccount  string          `json:"receiver_account"`
	ReceiverBankCode string          `json:"receiver_bank_code"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Memo             string          `json:"memo"`
	PINToken         string          `json:"pin_token"`
	External         bool            `json:"external"`
}

func (r transferRequest) command(userID string) Command {
	return Command{
		TransactionID:         r.TransactionID,
		SenderUserID:          userID,
		SenderAccountNumber:   r.SenderAccount,
		ReceiverAccountNumber: r.ReceiverAccount,
		ReceiverBankCode:      r.ReceiverBankCode,
		Amount:                r.Amount,
		Currency:              r.Currency,
		Memo:                  r.Memo,
		PINToken:              r.PINToken,
		External:              r.External,
	}
}

// Internal handles POST /transfers/internal.
func (h *Handler) Internal(c *fiber.Ctx) error {
	return h.submit(c, h.service.Internal)
}

// External handles POST /transfers/external.
func (h *Handler) External(c *fiber.Ctx) error {
	return h.submit(c, h.service.External)
}

// Secure handles POST /transfers/secure.
func (h *Handler) Secure(c *fiber.Ctx) error {
	return h.submit(c, h.service.Secure)
}

func (h *Handler) submit(c *fiber.Ctx, fn func(context.Context, Command) (Receipt, error)) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	uid, ok := caller(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "missing caller identity")
	}

	receipt, err := fn(c.UserContext(), req.command(uid))
	if err != nil && receipt.Transfer.ID == "" {
		return writeError(c, err)
	}

	status := http.StatusCreated
	switch receipt.Result.Outcome {
	case OutcomeTimeout, OutcomeUnknown, OutcomePending:
		status = http.StatusAccepted
	case OutcomeFailure:
		status = http.StatusUnprocessableEntity
	}
	body := transferView(receipt.Transfer)
	body["outcome"] = receipt.Result.Outcome
	if receipt.Result.Code != "" {
		body["code"] = receipt.Result.Code
		body["message"] = receipt.Result.Message
	}
	if receipt.Result.Succeeded() {
		body["sender_balance"] = receipt.Result.SenderBalance.StringFixed(2)
	}
	return c.Status(status).JSON(body)
}

// Get handles GET /transfers/:id.
func (h *Handler) Get(c *fiber.Ctx) error {
	uid, ok := caller(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "missing caller identity")
	}
	t, err := h.service.Get(c.UserContext(), c.Params("id"), uid)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(http.StatusOK).JSON(transferView(t))
}

// Cancel handles POST /transfers/:id/cancel.
func (h *Handler) Cancel(c *fiber.Ctx) error {
	uid, ok := caller(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "missing caller identity")
	}
	t, err := h.service.Cancel(c.UserContext(), c.Params("id"), uid)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(http.StatusOK).JSON(transferView(t))
}

func caller(c *fiber.Ctx) (string, bool) {
	uid, _ := c.Locals("user_id").(string)
	return uid, uid != ""
}

func writeError(c *fiber.Ctx, err error) error {
	code := ErrorCode(err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, transfer.ErrNotFound):
		status, code = http.StatusNotFound, "TRANSFER_NOT_FOUND"
	case errors.Is(err, transfer.ErrExists):
		status, code = http.StatusConflict, "DUPLICATE_TRANSACTION"
	case errors.Is(err, ErrNotParticipant):
		status, code = http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, ErrNotCancellable):
		status, code = http.StatusConflict, "NOT_CANCELLABLE"
	case errors.Is(err, ErrUnavailable):
		status = http.StatusServiceUnavailable
	case code == CodeAccountNotFound || code == CodeMemberNotFound:
		status = http.StatusNotFound
	case code == CodeInvalidPINSession:
		status = http.StatusForbidden
	case code != CodeSystemError:
		status = http.StatusBadRequest
	}
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	return c.Status(status).JSON(fiber.Map{"code": code, "error": message})
}

func transferView(t transfer.Transfer) fiber.Map {
	view := fiber.Map{
		"transaction_id":   t.ID,
		"kind":             t.Kind,
		"status":           t.Status,
		"sender_account":   t.SenderAccountNumber,
		"receiver_account": t.ReceiverAccountNumber,
		"amount":           t.Amount.StringFixed(2),
		"currency":         t.Currency,
		"memo":             t.Memo,
		"created_at":       t.CreatedAt.Format(time.RFC3339Nano),
	}
	if t.ReceiverBankCode != "" {
		view["receiver_bank_code"] = t.ReceiverBankCode
	}
	if t.BankTransactionID != nil {
		view["bank_transaction_id"] = *t.BankTransactionID
	}
	if t.FailureReason != nil {
		view["failure_reason"] = *t.FailureReason
	}
	if t.ProcessedAt != nil {
		view["processed_at"] = t.ProcessedAt.Format(time.RFC3339Nano)
	}
	return view
}
