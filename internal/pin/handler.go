package pin

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes PIN session issuance.
type Handler struct {
	store *SessionStore
}

// NewHandler builds a PIN handler. A nil store answers 503.
func NewHandler(store *SessionStore) *Handler {
	return &Handler{store: store}
}

type issueRequest struct {
	PIN     string `json:"pin"`
	Purpose string `json:"purpose"`
}

// Issue handles POST /pin/sessions.
func (h *Handler) Issue(c *fiber.Ctx) error {
	if h.store == nil {
		return fiber.NewError(http.StatusServiceUnavailable, "pin sessions unavailable")
	}
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return fiber.NewError(http.StatusUnauthorized, "missing caller identity")
	}
	var req issueRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.PIN == "" {
		return fiber.NewError(http.StatusBadRequest, "pin is required")
	}
	if req.Purpose == "" {
		req.Purpose = PurposeTransfer
	}
	if req.Purpose != PurposeTransfer {
		return fiber.NewError(http.StatusBadRequest, "unsupported purpose")
	}

	session, err := h.store.Issue(c.UserContext(), uid, req.PIN, req.Purpose)
	switch {
	case errors.Is(err, ErrInvalidPIN):
		return fiber.NewError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrTooManyAttempts):
		return fiber.NewError(http.StatusTooManyRequests, err.Error())
	case errors.Is(err, ErrUserNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case err != nil:
		return fiber.NewError(http.StatusInternalServerError, "could not issue pin session")
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"pin_token":  session.Token,
		"purpose":    session.Purpose,
		"expires_at": session.ExpiresAt.Format(time.RFC3339),
	})
}
