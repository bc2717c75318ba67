// Package echomw provides Echo middleware running the admission check.
//
//	e := echo.New()
//	e.Use(echomw.RateLimit(ev))
package echomw

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/gatekit/redislimit/middleware"
)

// RateLimit creates Echo middleware from an admission evaluator.
func RateLimit(ev *middleware.Evaluator) echo.MiddlewareFunc {
	if ev == nil {
		panic("echomw: Evaluator is required")
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			decision := ev.Evaluate(req.Context(), req.URL.Path, req.RemoteAddr, req.Header.Get)
			if decision.Action == middleware.Done {
				h := c.Response().Header()
				h.Set(middleware.HeaderLimit, strconv.Itoa(decision.Limit))
				h.Set(middleware.HeaderRemaining, "0")
				h.Set(middleware.HeaderAlgorithm, decision.Algorithm)
				return c.Blob(http.StatusForbidden, middleware.RejectionContentType, []byte(middleware.RejectionBody))
			}
			return next(c)
		}
	}
}
