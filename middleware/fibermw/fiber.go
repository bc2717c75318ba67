// Package fibermw provides Fiber middleware running the admission check.
//
//	app := fiber.New()
//	app.Use(fibermw.RateLimit(ev))
package fibermw

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/gatekit/redislimit/middleware"
)

// RateLimit creates Fiber middleware from an admission evaluator.
func RateLimit(ev *middleware.Evaluator) fiber.Handler {
	if ev == nil {
		panic("fibermw: Evaluator is required")
	}
	return func(c *fiber.Ctx) error {
		remoteAddr := ""
		if addr := c.Context().RemoteAddr(); addr != nil {
			remoteAddr = addr.String()
		}
		decision := ev.Evaluate(c.UserContext(), c.Path(), remoteAddr, func(name string) string {
			return c.Get(name)
		})
		if decision.Action == middleware.Done {
			c.Set(middleware.HeaderLimit, strconv.Itoa(decision.Limit))
			c.Set(middleware.HeaderRemaining, "0")
			c.Set(middleware.HeaderAlgorithm, decision.Algorithm)
			c.Set(fiber.HeaderContentType, middleware.RejectionContentType)
			return c.Status(fiber.StatusForbidden).SendString(middleware.RejectionBody)
		}
		return c.Next()
	}
}
