package account

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes account HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds an account HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Balance returns the ledger balance of an account owned by the caller.
func (h *Handler) Balance(c *fiber.Ctx) error {
	number := c.Params("number")
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return fiber.NewError(http.StatusUnauthorized, "missing caller identity")
	}

	acct, err := h.service.Get(c.UserContext(), number)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fiber.NewError(http.StatusNotFound, err.Error())
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	if acct.OwnerID != uid {
		return fiber.NewError(http.StatusForbidden, "not owner of account")
	}

	balance, err := h.service.Balance(c.UserContext(), number)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"account_number": balance.AccountNumber,
		"balance":        balance.Amount.StringFixed(2),
		"currency":       acct.Currency,
		"timestamp":      balance.AsOf,
	})
}

type openRequest struct {
	Number   string `json:"number"`
	Currency string `json:"currency"`
	Primary  bool   `json:"primary"`
}

// Open registers an account for the caller.
func (h *Handler) Open(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return fiber.NewError(http.StatusUnauthorized, "missing caller identity")
	}
	var req openRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	acct, err := h.service.Open(c.UserContext(), OpenInput{
		OwnerID:  uid,
		Number:   req.Number,
		Currency: req.Currency,
		Primary:  req.Primary,
	})
	if err != nil {
		if errors.Is(err, ErrExists) {
			return fiber.NewError(http.StatusConflict, err.Error())
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"account_number": acct.Number,
		"currency":       acct.Currency,
		"primary":        acct.Primary,
		"status":         acct.Status,
	})
}
