package middleware

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Operators admits only callers listed in ids. It must run after Actor. With
// no ids configured every caller is refused.
func Operators(ids []string) fiber.Handler {
	allowed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		allowed[id] = struct{}{}
	}
	return func(c *fiber.Ctx) error {
		uid, _ := c.Locals(ActorKey).(string)
		if _, ok := allowed[uid]; !ok {
			return fiber.NewError(http.StatusForbidden, "operator access required")
		}
		return c.Next()
	}
}
