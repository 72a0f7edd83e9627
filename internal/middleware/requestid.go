package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/google/uuid"

	"github.com/congo-pay/fundsflow/internal/logging"
)

const requestIDHeader = "X-Request-ID"

// RequestID ensures each request carries an identifier, echoes it on the
// response and passes it to handlers through the user context.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqID := utils.CopyString(c.Get(requestIDHeader))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Set(requestIDHeader, reqID)
		c.Locals(requestIDHeader, reqID)
		c.SetUserContext(logging.WithRequestID(c.UserContext(), reqID))
		return c.Next()
	}
}
