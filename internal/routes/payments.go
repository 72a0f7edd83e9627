package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/fundsflow/internal/account"
	"github.com/congo-pay/fundsflow/internal/payments"
	"github.com/congo-pay/fundsflow/internal/pin"
	"github.com/congo-pay/fundsflow/internal/reconcile"
)

// RegisterTransferRoutes wires transfer endpoints.
func RegisterTransferRoutes(r fiber.Router, h *payments.Handler) {
	r.Post("/internal", h.Internal)
	r.Post("/external", h.External)
	r.Post("/secure", h.Secure)
	r.Get("/:id", h.Get)
	r.Post("/:id/cancel", h.Cancel)
}

// RegisterAccountRoutes wires account endpoints.
func RegisterAccountRoutes(r fiber.Router, h *account.Handler) {
	r.Post("/accounts", h.Open)
	r.Get("/accounts/:number/balance", h.Balance)
}

// RegisterPINRoutes wires PIN session issuance behind the rate limiter.
func RegisterPINRoutes(r fiber.Router, h *pin.Handler, limiter fiber.Handler) {
	r.Post("/pin/sessions", limiter, h.Issue)
}

// RegisterAdminRoutes wires operator endpoints behind the operator check.
func RegisterAdminRoutes(r fiber.Router, h *reconcile.Handler, operators fiber.Handler) {
	r.Post("/admin/reconcile", operators, h.Trigger)
}
