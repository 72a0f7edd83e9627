package reconcile

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes a manual reconciliation trigger for operators.
type Handler struct {
	scheduler *Scheduler
}

// NewHandler constructs a reconciliation handler.
func NewHandler(scheduler *Scheduler) *Handler {
	return &Handler{scheduler: scheduler}
}

// Trigger handles POST /admin/reconcile.
func (h *Handler) Trigger(c *fiber.Ctx) error {
	report, err := h.scheduler.RunOnce(c.UserContext())
	if errors.Is(err, ErrBusy) {
		return fiber.NewError(http.StatusConflict, err.Error())
	}
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, "reconciliation failed")
	}
	return c.Status(http.StatusOK).JSON(report)
}
