package middleware

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
)

const (
	actorHeader = "X-User-ID"
	// ActorKey is the fiber.Ctx local holding the authenticated caller id.
	ActorKey = "user_id"
)

// Actor copies the caller identity asserted by the upstream gateway into the
// request locals. Requests without it are rejected. The value is detached
// from the request buffer since it outlives the request as a stored owner id.
func Actor() fiber.Handler {
	return func(c *fiber.Ctx) error {
		uid := utils.CopyString(strings.TrimSpace(c.Get(actorHeader)))
		if uid == "" {
			return fiber.NewError(http.StatusUnauthorized, "missing caller identity")
		}
		c.Locals(ActorKey, uid)
		return c.Next()
	}
}
